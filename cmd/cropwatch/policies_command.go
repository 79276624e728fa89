package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"cropwatch/internal/cluster"
)

func newPoliciesCommand() *cobra.Command {
	var jsonOutput bool

	cmd := &cobra.Command{
		Use:         "policies",
		Short:       "Show the clustering policy of every category",
		Annotations: map[string]string{"skipConfigLoad": "true"},
		RunE: func(cmd *cobra.Command, args []string) error {
			rows := cluster.DefaultTable().Rows()
			if jsonOutput {
				return writeJSON(cmd, rows)
			}
			out := make([][]string, 0, len(rows))
			for _, row := range rows {
				individual := "-"
				if row.Individual != nil {
					individual = describePolicy(*row.Individual)
				}
				out = append(out, []string{
					string(row.Category),
					string(row.Handling),
					describePolicy(row.Policy),
					individual,
				})
			}
			fmt.Fprintln(cmd.OutOrStdout(), renderTable(
				[]string{"Category", "Handling", "Grouped", "Individual"},
				out,
				nil,
			))
			return nil
		},
	}
	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Print policies as JSON")
	return cmd
}

func describePolicy(p cluster.Policy) string {
	window := ""
	if p.Strategy != cluster.StrategyNone {
		window = " " + (time.Duration(p.WindowMs) * time.Millisecond).String()
	}
	return fmt.Sprintf("%s%s by %s, %s, %s", p.Strategy, window, p.GroupBy, p.Aggregation, p.Anchor)
}
