package daemon

import (
	"context"
	"fmt"
	"log/slog"

	"cropwatch/internal/cluster"
	"cropwatch/internal/config"
	"cropwatch/internal/cycle"
	"cropwatch/internal/logging"
	"cropwatch/internal/notifications"
	"cropwatch/internal/reconcile"
	"cropwatch/internal/schedule"
	"cropwatch/internal/source"
	"cropwatch/internal/state"
)

// Build opens the state store and wires every daemon service from cfg.
func Build(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Daemon, error) {
	if err := cfg.EnsureDirectories(); err != nil {
		return nil, fmt.Errorf("ensure directories: %w", err)
	}
	store, err := state.Open(ctx, cfg, logger)
	if err != nil {
		return nil, fmt.Errorf("open state: %w", err)
	}

	deps, err := Wire(cfg, store, logger)
	if err != nil {
		_ = store.Close()
		return nil, err
	}
	d, err := New(cfg, deps, logger)
	if err != nil {
		_ = deps.Scheduler.Close()
		_ = store.Close()
		return nil, err
	}
	return d, nil
}

// Wire assembles the services over an open store.
func Wire(cfg *config.Config, store state.Store, logger *slog.Logger) (Deps, error) {
	engine := cluster.NewEngine(cluster.DefaultTable(), logger)
	src, err := source.New(cfg, engine.Table(), logger)
	if err != nil {
		return Deps{}, fmt.Errorf("snapshot source: %w", err)
	}
	reconciler := reconcile.New(engine, store, cfg, logger)
	notifier := notifications.NewService(cfg)
	metrics := cycle.NewMetrics()
	ledger := schedule.NewLedger(store, nil)

	scheduler := schedule.NewTimerScheduler(context.Background(), notifier, ledger, logger,
		schedule.WithOnDelivered(settleDelivery(metrics, reconciler, logger)),
	)

	runner := cycle.New(cycle.Deps{
		Source:     src,
		Reconciler: reconciler,
		Scheduler:  scheduler,
		Ledger:     ledger,
		Metrics:    metrics,
	}, cycle.Options{
		LockPath:        cfg.CycleLockPath(),
		LockTimeout:     cfg.LockTimeout(),
		Interval:        cfg.PollInterval(),
		LedgerRetention: cfg.LedgerRetention(),
	}, logger)

	return Deps{
		Store:      store,
		Runner:     runner,
		Reconciler: reconciler,
		Scheduler:  scheduler,
		Notifier:   notifier,
		Metrics:    metrics,
	}, nil
}

// settleDelivery acknowledges settled deliveries so the outbox stops carrying
// them. Only groups actually sent are counted.
func settleDelivery(metrics *cycle.Metrics, reconciler *reconcile.Reconciler, logger *slog.Logger) func(context.Context, cluster.Group, bool) {
	ackLogger := logging.NewComponentLogger(logger, "scheduler")
	return func(ctx context.Context, g cluster.Group, sent bool) {
		if sent {
			metrics.Delivered(string(g.Category))
		}
		if err := reconciler.Acknowledge(ctx, g); err != nil {
			logging.WarnWithContext(ackLogger, "acknowledge delivery failed", "ack_failed",
				logging.String(logging.FieldGroupID, g.GroupID),
				logging.Error(err),
				logging.String(logging.FieldImpact, "the ledger suppresses the repeat"),
			)
		}
	}
}
