package main

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"cropwatch/internal/cycle"
)

func TestRunExitCodes(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"success", nil, 0},
		{"failure", errors.New("load config: boom"), 1},
		{"interrupted", context.Canceled, 1},
		{"cycle lock held", fmt.Errorf("poll: %w", cycle.ErrBusy), exitBusy},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := run(tt.err); got != tt.want {
				t.Fatalf("run(%v) = %d, want %d", tt.err, got, tt.want)
			}
		})
	}
}
