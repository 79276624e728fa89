package main

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"cropwatch/internal/cluster"
	"cropwatch/internal/cycle"
	"cropwatch/internal/reconcile"
	"cropwatch/internal/schedule"
	"cropwatch/internal/source"
	"cropwatch/internal/state"
)

func newPollCommand(ctx *commandContext) *cobra.Command {
	var (
		snapshotPath string
		dryRun       bool
		jsonOutput   bool
	)

	cmd := &cobra.Command{
		Use:   "poll",
		Short: "Run one poll cycle and print the resulting plan",
		Long: "Run one poll cycle and print the resulting plan.\n\n" +
			"Tracked state is updated unless --dry-run is given; groups produced by\n" +
			"transition and delta categories are queued for the daemon to deliver.",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			logger := ctx.cliLogger()

			var store state.Store
			if dryRun {
				store = state.NewMemoryStore()
			} else {
				store, err = ctx.openStore(cmd.Context(), logger)
				if err != nil {
					return err
				}
			}
			defer store.Close()

			engine := cluster.NewEngine(cluster.DefaultTable(), logger)
			var src source.Source
			if path := strings.TrimSpace(snapshotPath); path != "" {
				src = source.NewFileSource(path, source.Options{FutureOnly: engine.Table().FutureOnly, Logger: logger})
			} else if src, err = source.New(cfg, engine.Table(), logger); err != nil {
				return err
			}

			opts := cycle.Options{LockTimeout: cfg.LockTimeout()}
			if !dryRun {
				opts.LockPath = cfg.CycleLockPath()
			}
			recorder := &schedule.Recorder{}
			runner := cycle.New(cycle.Deps{
				Source:     src,
				Reconciler: reconcile.New(engine, store, cfg, logger),
				Scheduler:  recorder,
			}, opts, logger)

			report, err := runner.RunOnce(cmd.Context())
			if err != nil {
				return err
			}
			if jsonOutput {
				return writeJSON(cmd, report)
			}
			renderPlan(cmd, report)
			return nil
		},
	}

	cmd.Flags().StringVar(&snapshotPath, "file", "", "Read the snapshot from this file instead of the configured source")
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "Use throwaway state so nothing is persisted")
	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Print the cycle report as JSON")
	return cmd
}

func renderPlan(cmd *cobra.Command, report cycle.Report) {
	out := cmd.OutOrStdout()
	now := time.Now()
	fmt.Fprintf(out, "Cycle %s: %d events, %d dropped, %d clears\n",
		report.CorrelationID, report.Events, report.Dropped, report.Clears)

	if len(report.Plan.Groups) == 0 {
		fmt.Fprintln(out, "No notifications planned")
	} else {
		rows := make([][]string, 0, len(report.Plan.Groups))
		for _, g := range report.Plan.Groups {
			rows = append(rows, []string{
				formatWhen(g.NotifyAt, now),
				string(g.Category),
				g.Name,
				strconv.FormatFloat(g.Quantity, 'f', -1, 64),
				strconv.Itoa(g.Count),
				shortID(g.GroupID),
			})
		}
		fmt.Fprintln(out, renderTable(
			[]string{"Notify At", "Category", "Name", "Qty", "Items", "Group"},
			rows,
			[]columnAlignment{alignLeft, alignLeft, alignLeft, alignRight, alignRight, alignLeft},
		))
	}

	var notes []string
	for _, res := range report.Plan.Categories {
		switch {
		case res.Skipped:
			notes = append(notes, fmt.Sprintf("%s: disabled", res.Category))
		case res.Err != "":
			notes = append(notes, fmt.Sprintf("%s: %s", res.Category, res.Err))
		case res.Decision != "":
			notes = append(notes, fmt.Sprintf("%s: %s", res.Category, res.Decision))
		}
	}
	if report.Plan.Carried > 0 {
		notes = append(notes, fmt.Sprintf("%d queued group(s) carried from earlier polls", report.Plan.Carried))
	}
	for _, note := range notes {
		fmt.Fprintln(out, "  "+note)
	}
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
