package daemon

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"sync/atomic"
	"time"

	"github.com/gofrs/flock"

	"cropwatch/internal/config"
	"cropwatch/internal/cycle"
	"cropwatch/internal/event"
	"cropwatch/internal/logging"
	"cropwatch/internal/logs"
	"cropwatch/internal/notifications"
	"cropwatch/internal/preflight"
	"cropwatch/internal/reconcile"
	"cropwatch/internal/schedule"
	"cropwatch/internal/state"
)

// Deps are the services a daemon coordinates.
type Deps struct {
	Store      state.Store
	Runner     *cycle.Runner
	Reconciler *reconcile.Reconciler
	Scheduler  *schedule.TimerScheduler
	Notifier   notifications.Service
	Metrics    *cycle.Metrics
}

// Daemon coordinates the poll loop and enforces single-instance execution.
type Daemon struct {
	cfg    *config.Config
	logger *slog.Logger
	deps   Deps
	api    *apiServer

	lockPath string
	lock     *flock.Flock

	running   atomic.Bool
	startedAt atomic.Int64
	cancel    context.CancelFunc
}

// Status represents daemon runtime information.
type Status struct {
	Running      bool          `json:"running"`
	PID          int           `json:"pid"`
	StartedAt    time.Time     `json:"startedAt,omitzero"`
	StateBackend string        `json:"stateBackend"`
	LockFilePath string        `json:"lockFilePath"`
	Pending      int           `json:"pending"`
	LastCycle    *cycle.Report `json:"lastCycle,omitempty"`
}

// New constructs a daemon with initialized dependencies.
func New(cfg *config.Config, deps Deps, logger *slog.Logger) (*Daemon, error) {
	if cfg == nil || deps.Store == nil || deps.Runner == nil || deps.Reconciler == nil {
		return nil, errors.New("daemon requires config, store, runner, and reconciler")
	}
	if deps.Notifier == nil {
		deps.Notifier = notifications.NewService(cfg)
	}
	lockPath := cfg.DaemonLockPath()
	d := &Daemon{
		cfg:      cfg,
		logger:   logging.NewComponentLogger(logger, "daemon"),
		deps:     deps,
		lockPath: lockPath,
		lock:     flock.New(lockPath),
	}
	api, err := newAPIServer(cfg, d, logger)
	if err != nil {
		return nil, err
	}
	d.api = api
	return d, nil
}

// Start acquires the daemon lock, then launches the poll loop and API.
func (d *Daemon) Start(ctx context.Context) error {
	if d.running.Load() {
		return errors.New("daemon already running")
	}
	if check := preflight.CheckDirectoryAccess("State directory", d.cfg.Paths.StateDir); !check.Passed {
		return fmt.Errorf("state directory unusable: %s", check.Detail)
	}

	ok, err := d.lock.TryLock()
	if err != nil {
		return fmt.Errorf("acquire lock: %w", err)
	}
	if !ok {
		return errors.New("another cropwatch daemon instance is already running")
	}

	runCtx, cancel := context.WithCancel(ctx)
	if err := d.deps.Runner.Start(runCtx); err != nil {
		cancel()
		_ = d.lock.Unlock()
		return fmt.Errorf("start poll loop: %w", err)
	}
	if err := d.api.start(runCtx); err != nil {
		d.deps.Runner.Stop()
		cancel()
		_ = d.lock.Unlock()
		return err
	}

	d.cancel = cancel
	d.startedAt.Store(time.Now().UnixMilli())
	d.running.Store(true)
	d.logger.Info("cropwatch daemon started",
		logging.String("lock", d.lockPath),
		logging.String("state_backend", d.cfg.State.Backend),
	)
	return nil
}

// Stop stops the poll loop and pending deliveries and releases the lock.
func (d *Daemon) Stop() {
	if !d.running.Load() {
		return
	}
	d.api.stop()
	d.deps.Runner.Stop()
	if d.deps.Scheduler != nil {
		_ = d.deps.Scheduler.CancelAll(context.Background())
	}
	if d.cancel != nil {
		d.cancel()
		d.cancel = nil
	}
	if err := d.lock.Unlock(); err != nil {
		logging.WarnWithContext(d.logger, "failed to release daemon lock", "lock_release_failed",
			logging.Error(err),
			logging.String(logging.FieldImpact, "next start may report another instance"),
		)
	}
	d.running.Store(false)
	d.logger.Info("cropwatch daemon stopped")
}

// Close releases resources held by the daemon.
func (d *Daemon) Close() error {
	d.Stop()
	if d.deps.Scheduler != nil {
		_ = d.deps.Scheduler.Close()
	}
	if d.deps.Store != nil {
		return d.deps.Store.Close()
	}
	return nil
}

// Status returns the current daemon status.
func (d *Daemon) Status(context.Context) Status {
	status := Status{
		Running:      d.running.Load(),
		PID:          os.Getpid(),
		StateBackend: d.cfg.State.Backend,
		LockFilePath: d.lockPath,
	}
	if started := d.startedAt.Load(); started > 0 && status.Running {
		status.StartedAt = time.UnixMilli(started)
	}
	if d.deps.Scheduler != nil {
		status.Pending = len(d.deps.Scheduler.Pending())
	}
	if report, ok := d.deps.Runner.LastReport(); ok {
		status.LastCycle = &report
	}
	return status
}

// RunCycle runs one poll cycle immediately.
func (d *Daemon) RunCycle(ctx context.Context) (cycle.Report, error) {
	return d.deps.Runner.RunOnce(ctx)
}

// Scheduled returns the pending deliveries.
func (d *Daemon) Scheduled() []schedule.Entry {
	if d.deps.Scheduler == nil {
		return nil
	}
	return d.deps.Scheduler.Pending()
}

// ClearTransition re-arms a transition tracked identity.
func (d *Daemon) ClearTransition(ctx context.Context, category, identity, reason string) (bool, error) {
	return d.deps.Reconciler.ClearTransition(ctx, event.ParseCategory(category), strings.TrimSpace(identity), reason)
}

// Transitions lists tracked transition state.
func (d *Daemon) Transitions(ctx context.Context) ([]reconcile.TrackedState, error) {
	return d.deps.Reconciler.Transitions(ctx)
}

// ListState returns raw state entries under prefix.
func (d *Daemon) ListState(ctx context.Context, prefix string) ([]state.Entry, error) {
	return d.deps.Store.List(ctx, prefix)
}

// TestNotification sends a test notification using the current configuration.
func (d *Daemon) TestNotification(ctx context.Context) (bool, string, error) {
	if strings.TrimSpace(d.cfg.Notifications.NtfyTopic) == "" {
		return false, "ntfy topic not configured", nil
	}
	if err := d.deps.Notifier.Test(ctx); err != nil {
		return false, "failed to send notification", err
	}
	return true, "test notification sent", nil
}

// Logs reads the daemon log file.
func (d *Daemon) Logs(ctx context.Context, query logs.Query) (logs.Page, error) {
	return logs.Read(ctx, d.cfg.LogFilePath(), query)
}
