package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"cropwatch/internal/logging"
	"cropwatch/internal/logs"
)

func newLogsCommand(ctx *commandContext) *cobra.Command {
	var (
		lines    int
		follow   bool
		cycleID  string
		category string
	)

	cmd := &cobra.Command{
		Use:   "logs",
		Short: "Show daemon logs",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			query := logs.Query{
				Offset: -1,
				Limit:  lines,
				Fields: map[string]string{
					logging.FieldCorrelationID: cycleID,
					logging.FieldCategory:      category,
				},
			}
			out := cmd.OutOrStdout()
			path := cfg.LogFilePath()
			for {
				page, err := logs.Read(cmd.Context(), path, query)
				if err != nil {
					if cmd.Context().Err() != nil {
						return nil
					}
					return err
				}
				for _, line := range page.Lines {
					fmt.Fprintln(out, line)
				}
				if !follow {
					return nil
				}
				query.Offset = page.Offset
				query.Limit = 0
				query.Follow = true
				query.Wait = 5 * time.Second
			}
		},
	}
	cmd.Flags().IntVarP(&lines, "lines", "n", 50, "Number of lines to show")
	cmd.Flags().BoolVarP(&follow, "follow", "f", false, "Keep printing new lines")
	cmd.Flags().StringVar(&cycleID, "cycle", "", "Only show lines for this poll cycle correlation ID")
	cmd.Flags().StringVar(&category, "category", "", "Only show lines for this category")
	return cmd
}
