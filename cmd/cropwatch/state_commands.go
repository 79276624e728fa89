package main

import (
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/spf13/cobra"

	"cropwatch/internal/cluster"
	"cropwatch/internal/event"
	"cropwatch/internal/reconcile"
)

func newStateCommand(ctx *commandContext) *cobra.Command {
	stateCmd := &cobra.Command{
		Use:   "state",
		Short: "Inspect and repair tracked notification state",
	}
	stateCmd.AddCommand(newStateListCommand(ctx))
	stateCmd.AddCommand(newStateClearCommand(ctx))
	stateCmd.AddCommand(newStateResetCommand(ctx))
	return stateCmd
}

func newStateListCommand(ctx *commandContext) *cobra.Command {
	var (
		prefix     string
		jsonOutput bool
	)

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List stored state keys",
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := ctx.openStore(cmd.Context(), ctx.cliLogger())
			if err != nil {
				return err
			}
			defer store.Close()

			entries, err := store.List(cmd.Context(), prefix)
			if err != nil {
				return fmt.Errorf("list state: %w", err)
			}
			if jsonOutput {
				type entryView struct {
					Key       string    `json:"key"`
					Value     string    `json:"value"`
					UpdatedAt time.Time `json:"updatedAt"`
				}
				views := make([]entryView, 0, len(entries))
				for _, e := range entries {
					views = append(views, entryView{Key: e.Key, Value: string(e.Value), UpdatedAt: e.UpdatedAt})
				}
				return writeJSON(cmd, views)
			}
			if len(entries) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "No state stored")
				return nil
			}
			rows := make([][]string, 0, len(entries))
			for _, e := range entries {
				rows = append(rows, []string{e.Key, truncate(string(e.Value), 60), e.UpdatedAt.Local().Format(time.DateTime)})
			}
			fmt.Fprintln(cmd.OutOrStdout(), renderTable([]string{"Key", "Value", "Updated"}, rows, nil))
			return nil
		},
	}
	cmd.Flags().StringVar(&prefix, "prefix", "", "Only list keys with this prefix")
	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Print entries as JSON")
	return cmd
}

func newStateClearCommand(ctx *commandContext) *cobra.Command {
	var reason string

	cmd := &cobra.Command{
		Use:   "clear <category> <identity>",
		Short: "Re-arm a transition alert so it can fire again",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			category := event.ParseCategory(args[0])
			engine := cluster.NewEngine(cluster.DefaultTable(), nil)
			if engine.Table().Handling(category) != cluster.HandlingTransition {
				return fmt.Errorf("category %q is not transition tracked", category)
			}

			logger := ctx.cliLogger()
			store, err := ctx.openStore(cmd.Context(), logger)
			if err != nil {
				return err
			}
			defer store.Close()

			rec := reconcile.New(engine, store, cfg, logger)
			cleared, err := rec.ClearTransition(cmd.Context(), category, strings.TrimSpace(args[1]), reason)
			if err != nil {
				return err
			}
			if cleared {
				fmt.Fprintf(cmd.OutOrStdout(), "Cleared %s/%s\n", category, args[1])
			} else {
				fmt.Fprintf(cmd.OutOrStdout(), "%s/%s was not active\n", category, args[1])
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&reason, "reason", "manual", "Reason recorded with the clear")
	return cmd
}

func newStateResetCommand(ctx *commandContext) *cobra.Command {
	var (
		prefix  string
		confirm bool
	)

	cmd := &cobra.Command{
		Use:   "reset",
		Short: "Delete stored state",
		Long: "Delete stored state.\n\n" +
			"Without --prefix every key is removed, including the delivery ledger,\n" +
			"so pending notifications may be sent again.",
		RunE: func(cmd *cobra.Command, args []string) error {
			if !confirm {
				return errors.New("refusing to reset state without --yes")
			}
			store, err := ctx.openStore(cmd.Context(), ctx.cliLogger())
			if err != nil {
				return err
			}
			defer store.Close()

			removed, err := store.DeletePrefix(cmd.Context(), prefix)
			if err != nil {
				return fmt.Errorf("reset state: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Removed %d key(s)\n", removed)
			return nil
		},
	}
	cmd.Flags().StringVar(&prefix, "prefix", "", "Only delete keys with this prefix")
	cmd.Flags().BoolVar(&confirm, "yes", false, "Confirm the reset")
	return cmd
}

func truncate(value string, limit int) string {
	if utf8.RuneCountInString(value) <= limit {
		return value
	}
	runes := []rune(value)
	return string(runes[:limit-1]) + "…"
}
