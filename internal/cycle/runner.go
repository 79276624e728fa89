package cycle

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/gofrs/flock"
	"github.com/google/uuid"

	"cropwatch/internal/logging"
	"cropwatch/internal/reconcile"
	"cropwatch/internal/schedule"
	"cropwatch/internal/source"
)

// ErrBusy is returned when another cycle holds the cycle lock.
var ErrBusy = errors.New("another poll cycle is running")

const lockRetryDelay = 100 * time.Millisecond

// Report summarizes one poll cycle.
type Report struct {
	CorrelationID string         `json:"correlationId"`
	StartedAt     time.Time      `json:"startedAt"`
	FinishedAt    time.Time      `json:"finishedAt"`
	Duration      time.Duration  `json:"duration"`
	Events        int            `json:"events"`
	Dropped       int            `json:"dropped"`
	Clears        int            `json:"clears"`
	Scheduled     int            `json:"scheduled"`
	Plan          reconcile.Plan `json:"plan"`
	Err           string         `json:"error,omitempty"`
}

// Deps are the collaborators of a Runner.
type Deps struct {
	Source     source.Source
	Reconciler *reconcile.Reconciler
	Scheduler  schedule.Scheduler
	// Ledger, when set, is pruned after each successful cycle.
	Ledger  *schedule.Ledger
	Metrics *Metrics
}

// Options tune a Runner.
type Options struct {
	// LockPath is the cross-process cycle lock. Empty disables it.
	LockPath        string
	LockTimeout     time.Duration
	Interval        time.Duration
	LedgerRetention time.Duration
	Now             func() time.Time
}

// Runner executes poll cycles on demand or on an interval.
type Runner struct {
	deps   Deps
	opts   Options
	logger *slog.Logger

	cycleMu sync.Mutex

	mu      sync.RWMutex
	running bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	last    *Report
}

// New builds a runner.
func New(deps Deps, opts Options, logger *slog.Logger) *Runner {
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Interval <= 0 {
		opts.Interval = time.Minute
	}
	if opts.LockTimeout <= 0 {
		opts.LockTimeout = 30 * time.Second
	}
	return &Runner{deps: deps, opts: opts, logger: logging.NewComponentLogger(logger, "cycle")}
}

// RunOnce runs one full cycle. The report is returned even on failure.
func (r *Runner) RunOnce(ctx context.Context) (Report, error) {
	r.cycleMu.Lock()
	defer r.cycleMu.Unlock()

	unlock, err := r.acquire(ctx)
	if err != nil {
		return Report{}, err
	}
	defer unlock()

	report := Report{CorrelationID: uuid.NewString(), StartedAt: r.opts.Now()}
	ctx = logging.WithCorrelationID(ctx, report.CorrelationID)
	logger := logging.WithContext(ctx, r.logger)

	err = r.run(ctx, logger, &report)
	report.FinishedAt = r.opts.Now()
	report.Duration = report.FinishedAt.Sub(report.StartedAt)
	if err != nil {
		report.Err = err.Error()
		logging.ErrorWithContext(logger, "poll cycle failed", "cycle_failed",
			logging.Error(err),
			logging.String(logging.FieldErrorHint, "check the snapshot source and state backend"),
		)
	} else {
		logger.Info("poll cycle complete",
			logging.Int("events", report.Events),
			logging.Int("scheduled", report.Scheduled),
			logging.Int("carried", report.Plan.Carried),
			logging.Duration("duration", report.Duration),
		)
	}

	r.deps.Metrics.observeCycle(report)
	r.mu.Lock()
	r.last = &report
	r.mu.Unlock()
	return report, err
}

func (r *Runner) run(ctx context.Context, logger *slog.Logger, report *Report) error {
	batch, err := r.deps.Source.Fetch(ctx)
	if err != nil {
		return fmt.Errorf("fetch snapshot: %w", err)
	}
	report.Events = batch.Size()
	report.Dropped = batch.Dropped
	report.Clears = len(batch.Clears)
	if batch.Dropped > 0 {
		logging.WarnWithContext(logger, "snapshot contained malformed records", "snapshot_partial",
			logging.Int("dropped", batch.Dropped),
			logging.String(logging.FieldImpact, "dropped records are not notified"),
		)
	}

	plan, err := r.deps.Reconciler.Reconcile(ctx, batch)
	if err != nil {
		return fmt.Errorf("reconcile: %w", err)
	}
	report.Plan = plan

	if r.deps.Scheduler != nil {
		if err := r.deps.Scheduler.CancelAll(ctx); err != nil {
			// Leftover deliveries are still fenced by the ledger.
			logging.WarnWithContext(logger, "cancel pending deliveries failed", "schedule_cancel_failed",
				logging.Error(err),
				logging.String(logging.FieldImpact, "stale notifications may still fire"),
			)
		}
		if err := r.deps.Scheduler.ScheduleAll(ctx, plan.Groups); err != nil {
			return fmt.Errorf("schedule: %w", err)
		}
	}
	report.Scheduled = len(plan.Groups)

	if r.deps.Ledger != nil && r.opts.LedgerRetention > 0 {
		cutoff := r.opts.Now().Add(-r.opts.LedgerRetention)
		if removed, err := r.deps.Ledger.Prune(ctx, cutoff); err != nil {
			logger.Debug("ledger prune failed", logging.Error(err))
		} else if removed > 0 {
			logger.Debug("ledger pruned", logging.Int("removed", removed))
		}
	}
	return nil
}

func (r *Runner) acquire(ctx context.Context) (func(), error) {
	if r.opts.LockPath == "" {
		return func() {}, nil
	}
	lock := flock.New(r.opts.LockPath)
	lockCtx, cancel := context.WithTimeout(ctx, r.opts.LockTimeout)
	defer cancel()
	ok, err := lock.TryLockContext(lockCtx, lockRetryDelay)
	if err != nil && !errors.Is(err, context.DeadlineExceeded) {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("acquire cycle lock: %w", err)
	}
	if !ok {
		return nil, ErrBusy
	}
	return func() { _ = lock.Unlock() }, nil
}

// LastReport returns the most recent cycle report.
func (r *Runner) LastReport() (Report, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.last == nil {
		return Report{}, false
	}
	return *r.last, true
}

// Running reports whether the background loop is active.
func (r *Runner) Running() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.running
}

// Start begins polling in the background. The first cycle runs immediately.
func (r *Runner) Start(ctx context.Context) error {
	r.mu.Lock()
	if r.running {
		r.mu.Unlock()
		return errors.New("poll loop already running")
	}
	runCtx, cancel := context.WithCancel(ctx)
	r.cancel = cancel
	r.running = true
	r.wg.Add(1)
	r.mu.Unlock()

	go r.loop(runCtx)
	return nil
}

// Stop terminates the loop and waits for the current cycle.
func (r *Runner) Stop() {
	r.mu.Lock()
	if !r.running {
		r.mu.Unlock()
		return
	}
	cancel := r.cancel
	r.running = false
	r.cancel = nil
	r.mu.Unlock()

	cancel()
	r.wg.Wait()
}

func (r *Runner) loop(ctx context.Context) {
	defer r.wg.Done()
	for {
		if _, err := r.RunOnce(ctx); err != nil {
			if errors.Is(err, context.Canceled) {
				return
			}
			if errors.Is(err, ErrBusy) {
				r.logger.Info("skipping poll; another cycle holds the lock")
			}
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(r.opts.Interval):
		}
	}
}
