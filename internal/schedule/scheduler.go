package schedule

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"cropwatch/internal/cluster"
	"cropwatch/internal/logging"
)

// Scheduler holds the deliveries of the current plan. CancelAll followed by
// ScheduleAll replaces the plan.
type Scheduler interface {
	CancelAll(ctx context.Context) error
	ScheduleAll(ctx context.Context, groups []cluster.Group) error
}

// Deliverer sends one group to the user.
type Deliverer interface {
	Notify(ctx context.Context, group cluster.Group) error
}

// Entry is one pending delivery.
type Entry struct {
	Group   cluster.Group `json:"group"`
	FiresAt time.Time     `json:"firesAt"`
}

// TimerScheduler delivers groups from in-process timers.
type TimerScheduler struct {
	deliverer   Deliverer
	ledger      *Ledger
	logger      *slog.Logger
	now         func() time.Time
	onDelivered func(ctx context.Context, g cluster.Group, sent bool)

	ctx    context.Context
	cancel context.CancelFunc

	mu         sync.Mutex
	generation uint64
	timers     map[string]*time.Timer
	pending    map[string]cluster.Group
	inflight   sync.WaitGroup
}

// TimerOption configures a TimerScheduler.
type TimerOption func(*TimerScheduler)

// WithOnDelivered registers a hook run once a delivery is settled. sent is
// false when the ledger showed the delivery was already made.
func WithOnDelivered(fn func(ctx context.Context, g cluster.Group, sent bool)) TimerOption {
	return func(s *TimerScheduler) { s.onDelivered = fn }
}

// WithNow overrides the scheduler clock.
func WithNow(now func() time.Time) TimerOption {
	return func(s *TimerScheduler) {
		if now != nil {
			s.now = now
		}
	}
}

// NewTimerScheduler builds a scheduler. Deliveries run under ctx; Close
// cancels them.
func NewTimerScheduler(ctx context.Context, deliverer Deliverer, ledger *Ledger, logger *slog.Logger, opts ...TimerOption) *TimerScheduler {
	if ctx == nil {
		ctx = context.Background()
	}
	runCtx, cancel := context.WithCancel(ctx)
	s := &TimerScheduler{
		deliverer: deliverer,
		ledger:    ledger,
		logger:    logging.NewComponentLogger(logger, "scheduler"),
		now:       time.Now,
		ctx:       runCtx,
		cancel:    cancel,
		timers:    make(map[string]*time.Timer),
		pending:   make(map[string]cluster.Group),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// CancelAll stops every pending delivery. Deliveries already sending finish.
func (s *TimerScheduler) CancelAll(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.generation++
	for key, timer := range s.timers {
		timer.Stop()
		delete(s.timers, key)
	}
	clear(s.pending)
	return nil
}

// ScheduleAll arms a timer per group. Groups already due fire immediately.
func (s *TimerScheduler) ScheduleAll(ctx context.Context, groups []cluster.Group) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	now := s.now()
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ctx.Err() != nil {
		return s.ctx.Err()
	}
	gen := s.generation
	for _, g := range groups {
		key := g.DeliveryKey()
		if _, dup := s.timers[key]; dup {
			continue
		}
		delay := g.NotifyTime().Sub(now)
		if delay < 0 {
			delay = 0
		}
		group := g
		s.pending[key] = group
		s.timers[key] = time.AfterFunc(delay, func() { s.fire(gen, key, group) })
	}
	s.logger.Debug("deliveries scheduled", logging.Int("groups", len(groups)))
	return nil
}

// Pending lists scheduled deliveries ordered by fire time.
func (s *TimerScheduler) Pending() []Entry {
	s.mu.Lock()
	groups := make([]cluster.Group, 0, len(s.pending))
	for _, g := range s.pending {
		groups = append(groups, g)
	}
	s.mu.Unlock()
	cluster.SortGroups(groups)
	out := make([]Entry, 0, len(groups))
	for _, g := range groups {
		out = append(out, Entry{Group: g, FiresAt: g.NotifyTime()})
	}
	return out
}

// Close cancels pending timers and waits for in-flight deliveries.
func (s *TimerScheduler) Close() error {
	_ = s.CancelAll(context.Background())
	s.cancel()
	s.inflight.Wait()
	return nil
}

func (s *TimerScheduler) fire(gen uint64, key string, g cluster.Group) {
	s.mu.Lock()
	if gen != s.generation || s.ctx.Err() != nil {
		s.mu.Unlock()
		return
	}
	delete(s.timers, key)
	delete(s.pending, key)
	s.inflight.Add(1)
	s.mu.Unlock()
	defer s.inflight.Done()

	s.deliver(s.ctx, g)
}

func (s *TimerScheduler) deliver(ctx context.Context, g cluster.Group) {
	logger := s.logger.With(
		logging.String(logging.FieldCategory, string(g.Category)),
		logging.String(logging.FieldGroupID, g.GroupID),
	)
	if s.ledger != nil {
		claimed, err := s.ledger.Claim(ctx, g)
		if err != nil {
			logging.WarnWithContext(logger, "delivery ledger unavailable; sending anyway", "ledger_claim_failed",
				logging.Error(err),
				logging.String(logging.FieldErrorHint, "check the state backend"),
				logging.String(logging.FieldImpact, "this notification may be sent twice"),
			)
		} else if !claimed {
			logger.Debug("delivery already claimed; skipping")
			if s.onDelivered != nil {
				s.onDelivered(ctx, g, false)
			}
			return
		}
	}

	if err := s.deliverer.Notify(ctx, g); err != nil {
		if s.ledger != nil {
			if relErr := s.ledger.Release(context.WithoutCancel(ctx), g); relErr != nil {
				logger.Debug("release delivery claim failed", logging.Error(relErr))
			}
		}
		logging.WarnWithContext(logger, "notification delivery failed", "delivery_failed",
			logging.Error(err),
			logging.String(logging.FieldErrorHint, "check ntfy topic and network"),
			logging.String(logging.FieldImpact, "retried when the next poll reschedules it"),
		)
		return
	}
	logger.Info("notification delivered",
		logging.Int64("notify_at", g.NotifyAt),
		logging.Int("count", g.Count),
	)
	if s.onDelivered != nil {
		s.onDelivered(ctx, g, true)
	}
}

// Recorder is a Scheduler that only remembers the last plan. It backs dry
// runs and tests.
type Recorder struct {
	mu      sync.Mutex
	groups  []cluster.Group
	cancels int
}

func (r *Recorder) CancelAll(context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.groups = nil
	r.cancels++
	return nil
}

func (r *Recorder) ScheduleAll(_ context.Context, groups []cluster.Group) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.groups = append(r.groups, groups...)
	return nil
}

// Groups returns the recorded plan.
func (r *Recorder) Groups() []cluster.Group {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]cluster.Group(nil), r.groups...)
}

// Cancels counts CancelAll calls.
func (r *Recorder) Cancels() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.cancels
}
