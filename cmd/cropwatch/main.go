package main

import (
	"context"
	"errors"
	"fmt"
	"os"

	"cropwatch/internal/cycle"
)

// exitBusy follows sysexits EX_TEMPFAIL so wrappers can retry a poll that
// lost the cycle lock.
const exitBusy = 75

func main() {
	os.Exit(run(newRootCommand().Execute()))
}

func run(err error) int {
	switch {
	case err == nil:
		return 0
	case errors.Is(err, context.Canceled):
		return 1
	case errors.Is(err, cycle.ErrBusy):
		fmt.Fprintln(os.Stderr, err)
		return exitBusy
	default:
		fmt.Fprintln(os.Stderr, err)
		return 1
	}
}
