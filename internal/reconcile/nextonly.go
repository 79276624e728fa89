package reconcile

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"cropwatch/internal/cluster"
	"cropwatch/internal/event"
	"cropwatch/internal/logging"
	"cropwatch/internal/state"
)

// NextDecision describes what a next-only observation did.
type NextDecision string

const (
	// NextScheduled: nothing was tracked and the earliest item is now tracked.
	NextScheduled NextDecision = "scheduled"
	// NextUnchanged: the tracked item is still the earliest and not yet due.
	NextUnchanged NextDecision = "unchanged"
	// NextRescheduled: the tracked item came due or moved; it was re-evaluated.
	NextRescheduled NextDecision = "rescheduled"
	// NextReplaced: a different item is now the earliest.
	NextReplaced NextDecision = "replaced"
	// NextIdle: no future item exists.
	NextIdle NextDecision = "idle"
)

// NextResult is the outcome of one next-only observation. Group is set when a
// delivery should exist after this poll, including the carried-forward group
// of an unchanged observation.
type NextResult struct {
	Decision NextDecision
	Group    *cluster.Group
}

// NextOnlyTracker keeps only the nearest future item of a sequence scheduled.
type NextOnlyTracker struct {
	store  state.Store
	engine *cluster.Engine
	logger *slog.Logger
	now    func() time.Time
}

// NewNextOnlyTracker builds a tracker over store.
func NewNextOnlyTracker(store state.Store, engine *cluster.Engine, logger *slog.Logger, now func() time.Time) *NextOnlyTracker {
	if now == nil {
		now = time.Now
	}
	return &NextOnlyTracker{store: store, engine: engine, logger: logging.NewComponentLogger(logger, "next_only"), now: now}
}

// Earliest returns the event with the smallest readyAt after nowMs, ties
// broken by identity.
func Earliest(events []event.ReadyEvent, nowMs int64) (event.ReadyEvent, bool) {
	var (
		best  event.ReadyEvent
		found bool
	)
	for _, e := range events {
		if e.ReadyAt <= nowMs {
			continue
		}
		if !found || e.ReadyAt < best.ReadyAt || (e.ReadyAt == best.ReadyAt && e.ID < best.ID) {
			best, found = e, true
		}
	}
	return best, found
}

// Observe compares the earliest future event against the tracked one.
func (n *NextOnlyTracker) Observe(ctx context.Context, category event.Category, events []event.ReadyEvent) NextResult {
	nowMs := n.now().UnixMilli()
	selected, found := Earliest(events, nowMs)
	key := nextKey(category)

	var (
		result  NextResult
		corrupt bool
	)
	err := n.store.Update(ctx, key, func(raw []byte) ([]byte, error) {
		var prev nextRecord
		corrupt = !decodeRecord(raw, &prev)
		tracked := !corrupt && prev.Identity != ""

		if !found {
			result = NextResult{Decision: NextIdle}
			if !tracked {
				return nil, state.ErrNoChange
			}
			return nil, nil
		}

		if tracked && prev.Identity == selected.ID && prev.ReadyAt == selected.ReadyAt && nowMs < prev.ReadyAt {
			group := prev.Group
			result = NextResult{Decision: NextUnchanged, Group: &group}
			return nil, state.ErrNoChange
		}

		switch {
		case !tracked:
			result.Decision = NextScheduled
		case prev.Identity == selected.ID:
			result.Decision = NextRescheduled
		default:
			result.Decision = NextReplaced
		}
		group, _ := n.engine.Combine(category, []event.ReadyEvent{selected},
			cluster.IdentityGroupID(category, []string{selected.ID}, selected.ReadyAt))
		result.Group = &group
		return json.Marshal(nextRecord{Identity: selected.ID, ReadyAt: selected.ReadyAt, Group: group, ScheduledAt: nowMs})
	})
	if corrupt {
		warnCorrupt(n.logger, key)
	}
	if err != nil {
		warnStateRead(n.logger, key, err)
		if !found {
			return NextResult{Decision: NextIdle}
		}
		group, _ := n.engine.Combine(category, []event.ReadyEvent{selected},
			cluster.IdentityGroupID(category, []string{selected.ID}, selected.ReadyAt))
		return NextResult{Decision: NextScheduled, Group: &group}
	}

	if result.Decision != NextUnchanged {
		attrs := []logging.Attr{
			logging.String(logging.FieldCategory, string(category)),
			logging.String("decision", string(result.Decision)),
		}
		if result.Group != nil {
			attrs = append(attrs,
				logging.String(logging.FieldIdentity, selected.ID),
				logging.Int64("ready_at", selected.ReadyAt),
			)
		}
		n.logger.Info("next-only schedule updated", logging.Args(attrs...)...)
	}
	return result
}
