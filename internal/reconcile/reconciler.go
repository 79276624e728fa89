package reconcile

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"cropwatch/internal/cluster"
	"cropwatch/internal/event"
	"cropwatch/internal/logging"
	"cropwatch/internal/state"
)

// DefaultOutboxMaxAge bounds how long an undelivered edge-triggered group is
// re-offered to the scheduler.
const DefaultOutboxMaxAge = 24 * time.Hour

// Settings exposes the per-category toggles the reconciler honours.
type Settings interface {
	CategoryEnabled(category string) bool
	CategoryMode(category string) string
}

// CategoryResult summarizes one category of a reconcile pass.
type CategoryResult struct {
	Category event.Category   `json:"category"`
	Handling cluster.Handling `json:"handling"`
	Events   int              `json:"events"`
	Groups   int              `json:"groups"`
	// Emitted counts groups newly produced by edge-triggered handling.
	Emitted  int          `json:"emitted,omitempty"`
	Decision NextDecision `json:"decision,omitempty"`
	Skipped  bool         `json:"skipped,omitempty"`
	Err      string       `json:"error,omitempty"`
}

// Plan is the complete set of groups that should be scheduled after a poll.
type Plan struct {
	GeneratedAt time.Time        `json:"generatedAt"`
	Groups      []cluster.Group  `json:"groups"`
	Categories  []CategoryResult `json:"categories"`
	// Carried counts outbox groups re-offered from earlier polls.
	Carried int `json:"carried"`
}

// Reconciler turns a poll batch into the plan of groups to schedule,
// consulting and updating tracked state for edge-triggered categories.
type Reconciler struct {
	engine     *cluster.Engine
	store      state.Store
	settings   Settings
	logger     *slog.Logger
	now        func() time.Time
	outboxAge  time.Duration
	transition *TransitionTracker
	delta      *DeltaTracker
	next       *NextOnlyTracker
	outbox     *Outbox
}

// Option configures a Reconciler.
type Option func(*Reconciler)

// WithClock overrides the reconciler clock.
func WithClock(now func() time.Time) Option {
	return func(r *Reconciler) {
		if now != nil {
			r.now = now
		}
	}
}

// WithOutboxMaxAge overrides DefaultOutboxMaxAge.
func WithOutboxMaxAge(age time.Duration) Option {
	return func(r *Reconciler) {
		if age > 0 {
			r.outboxAge = age
		}
	}
}

// New builds a reconciler. A nil settings enables every category in grouped mode.
func New(engine *cluster.Engine, store state.Store, settings Settings, logger *slog.Logger, opts ...Option) *Reconciler {
	if engine == nil {
		engine = cluster.NewEngine(nil, logger)
	}
	r := &Reconciler{
		engine:    engine,
		store:     store,
		settings:  settings,
		logger:    logging.NewComponentLogger(logger, "reconcile"),
		now:       time.Now,
		outboxAge: DefaultOutboxMaxAge,
	}
	for _, opt := range opts {
		opt(r)
	}
	r.transition = NewTransitionTracker(store, logger, r.now)
	r.delta = NewDeltaTracker(store, logger, r.now)
	r.next = NewNextOnlyTracker(store, engine, logger, r.now)
	r.outbox = NewOutbox(store, logger, r.now)
	return r
}

// Engine returns the clustering engine in use.
func (r *Reconciler) Engine() *cluster.Engine {
	return r.engine
}

// Reconcile applies batch clears, then computes the groups of every enabled
// category. The result replaces whatever was scheduled before.
func (r *Reconciler) Reconcile(ctx context.Context, batch event.Batch) (Plan, error) {
	if err := ctx.Err(); err != nil {
		return Plan{}, err
	}
	now := r.now()
	plan := Plan{GeneratedAt: now}

	for _, clr := range batch.Clears {
		if _, err := r.ClearTransition(ctx, clr.Category, clr.Identity, clr.Reason); err != nil {
			logging.WarnWithContext(r.logger, "transition clear failed", "transition_clear_failed",
				logging.String(logging.FieldCategory, string(clr.Category)),
				logging.String(logging.FieldIdentity, clr.Identity),
				logging.Error(err),
				logging.String(logging.FieldImpact, "identity stays armed until the next clear"),
			)
		}
	}

	seen := make(map[string]struct{})
	add := func(g cluster.Group) bool {
		key := g.DeliveryKey()
		if _, dup := seen[key]; dup {
			return false
		}
		seen[key] = struct{}{}
		plan.Groups = append(plan.Groups, g)
		return true
	}

	for _, category := range batch.Categories() {
		events := batch.Events[category]
		result := CategoryResult{
			Category: category,
			Handling: r.engine.Table().Handling(category),
			Events:   len(events),
		}
		if !r.enabled(category) {
			result.Skipped = true
			plan.Categories = append(plan.Categories, result)
			continue
		}

		groups, err := r.reconcileCategory(ctx, category, result.Handling, events, now, &result)
		if err != nil {
			result.Err = err.Error()
			logging.WarnWithContext(r.logger, "category reconcile failed", "category_reconcile_failed",
				logging.String(logging.FieldCategory, string(category)),
				logging.Error(err),
				logging.String(logging.FieldImpact, "category notifications may be delayed"),
			)
		}
		for _, g := range groups {
			if add(g) {
				result.Groups++
			}
		}
		plan.Categories = append(plan.Categories, result)
	}

	pending, err := r.outbox.Pending(ctx)
	if err != nil {
		logging.WarnWithContext(r.logger, "outbox read failed", "outbox_read_failed",
			logging.Error(err),
			logging.String(logging.FieldImpact, "earlier transition notifications may not be rescheduled"),
		)
	}
	for _, g := range pending {
		if !r.enabled(g.Category) {
			continue
		}
		if add(g) {
			plan.Carried++
		}
	}
	if _, err := r.outbox.Prune(ctx, r.outboxAge); err != nil {
		logging.WarnWithContext(r.logger, "outbox prune failed", "outbox_prune_failed", logging.Error(err))
	}

	cluster.SortGroups(plan.Groups)
	r.logger.Debug("reconcile complete",
		logging.Int("categories", len(plan.Categories)),
		logging.Int("groups", len(plan.Groups)),
		logging.Int("carried", plan.Carried),
	)
	return plan, nil
}

func (r *Reconciler) reconcileCategory(ctx context.Context, category event.Category, handling cluster.Handling, events []event.ReadyEvent, now time.Time, result *CategoryResult) ([]cluster.Group, error) {
	switch handling {
	case cluster.HandlingTransition, cluster.HandlingDelta:
		var emitted []event.ReadyEvent
		if handling == cluster.HandlingTransition {
			emitted = r.transition.Observe(ctx, category, events)
		} else {
			emitted = r.delta.Observe(ctx, category, events)
		}
		group, ok := combine(r.engine, category, emitted, now.UnixMilli())
		if !ok {
			return nil, nil
		}
		result.Emitted = 1
		if err := r.outbox.Put(ctx, group); err != nil {
			// Still scheduled this poll; only carry-forward is lost.
			return []cluster.Group{group}, fmt.Errorf("queue group: %w", err)
		}
		return []cluster.Group{group}, nil
	case cluster.HandlingNextOnly:
		res := r.next.Observe(ctx, category, events)
		result.Decision = res.Decision
		if res.Group == nil {
			return nil, nil
		}
		return []cluster.Group{*res.Group}, nil
	default:
		return r.engine.Cluster(category, events, r.mode(category)), nil
	}
}

// ClearTransition re-arms a transition tracked identity.
func (r *Reconciler) ClearTransition(ctx context.Context, category event.Category, identity, reason string) (bool, error) {
	if category == "" || identity == "" {
		return false, fmt.Errorf("clear transition: category and identity are required")
	}
	return r.transition.Clear(ctx, category, identity, reason)
}

// Acknowledge records that a group was delivered so it is no longer carried
// forward. Groups of recomputed categories need no acknowledgement.
func (r *Reconciler) Acknowledge(ctx context.Context, g cluster.Group) error {
	switch r.engine.Table().Handling(g.Category) {
	case cluster.HandlingTransition, cluster.HandlingDelta:
		return r.outbox.Ack(ctx, g)
	default:
		return nil
	}
}

// Transitions lists every tracked transition state.
func (r *Reconciler) Transitions(ctx context.Context) ([]TrackedState, error) {
	entries, err := r.store.List(ctx, PrefixTransition)
	if err != nil {
		return nil, err
	}
	out := make([]TrackedState, 0, len(entries))
	for _, entry := range entries {
		var rec TrackedState
		if !decodeRecord(entry.Value, &rec) {
			warnCorrupt(r.logger, entry.Key)
			continue
		}
		if rec.Identity == "" {
			_, rec.Identity, _ = ParseTransitionKey(entry.Key)
		}
		out = append(out, rec)
	}
	return out, nil
}

func (r *Reconciler) enabled(category event.Category) bool {
	return r.settings == nil || r.settings.CategoryEnabled(string(category))
}

func (r *Reconciler) mode(category event.Category) cluster.Mode {
	if r.settings == nil {
		return cluster.ModeGrouped
	}
	if cluster.Mode(r.settings.CategoryMode(string(category))) == cluster.ModeIndividual {
		return cluster.ModeIndividual
	}
	return cluster.ModeGrouped
}
