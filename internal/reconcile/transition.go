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

// TransitionTracker notifies once per false to true edge of a per-identity
// condition. An identity stays armed until Clear is called for it; the
// condition disappearing from a later poll does not re-arm it.
type TransitionTracker struct {
	store  state.Store
	logger *slog.Logger
	now    func() time.Time
}

// NewTransitionTracker builds a tracker over store.
func NewTransitionTracker(store state.Store, logger *slog.Logger, now func() time.Time) *TransitionTracker {
	if now == nil {
		now = time.Now
	}
	return &TransitionTracker{store: store, logger: logging.NewComponentLogger(logger, "transition"), now: now}
}

// Observe records that the condition currently holds for every event's
// identity and returns the events whose identity just rose.
func (t *TransitionTracker) Observe(ctx context.Context, category event.Category, events []event.ReadyEvent) []event.ReadyEvent {
	nowMs := t.now().UnixMilli()
	seen := make(map[string]struct{}, len(events))
	var risen []event.ReadyEvent
	for _, e := range events {
		if _, dup := seen[e.ID]; dup {
			continue
		}
		seen[e.ID] = struct{}{}

		rose, err := t.arm(ctx, category, e.ID, nowMs)
		if err != nil {
			// Without state the edge cannot be proven; a repeat beats a miss.
			logging.WarnWithContext(t.logger, "transition state update failed; notifying", "transition_state_failed",
				logging.String(logging.FieldCategory, string(category)),
				logging.String(logging.FieldIdentity, e.ID),
				logging.Error(err),
				logging.String(logging.FieldErrorHint, "check the state backend"),
				logging.String(logging.FieldImpact, "this identity may notify again next poll"),
			)
			rose = true
		}
		if rose {
			risen = append(risen, e)
		}
	}
	if len(risen) > 0 {
		t.logger.Info("transition detected",
			logging.String(logging.FieldCategory, string(category)),
			logging.Int("identities", len(risen)),
		)
	}
	return risen
}

func (t *TransitionTracker) arm(ctx context.Context, category event.Category, identity string, nowMs int64) (bool, error) {
	key := TransitionKey(category, identity)
	var rose, corrupt bool
	err := t.store.Update(ctx, key, func(current []byte) ([]byte, error) {
		var rec TrackedState
		corrupt = !decodeRecord(current, &rec)
		if rec.Status {
			rose = false
			return nil, state.ErrNoChange
		}
		rose = true
		return json.Marshal(TrackedState{Identity: identity, Status: true, LastTransitionAt: nowMs})
	})
	if corrupt {
		warnCorrupt(t.logger, key)
	}
	return rose, err
}

// Clear re-arms an identity after an explicit domain event. It reports
// whether the identity was armed.
func (t *TransitionTracker) Clear(ctx context.Context, category event.Category, identity, reason string) (bool, error) {
	nowMs := t.now().UnixMilli()
	var cleared bool
	err := t.store.Update(ctx, TransitionKey(category, identity), func(current []byte) ([]byte, error) {
		var rec TrackedState
		if !decodeRecord(current, &rec) || !rec.Status {
			cleared = false
			return nil, state.ErrNoChange
		}
		cleared = true
		return json.Marshal(TrackedState{Identity: identity, Status: false, LastTransitionAt: nowMs, ClearReason: reason})
	})
	if err != nil {
		return false, err
	}
	if cleared {
		t.logger.Info("transition cleared",
			logging.String(logging.FieldCategory, string(category)),
			logging.String(logging.FieldIdentity, identity),
			logging.String("reason", reason),
		)
	}
	return cleared, nil
}

// State returns the tracked state for an identity; ok is false when absent or unreadable.
func (t *TransitionTracker) State(ctx context.Context, category event.Category, identity string) (TrackedState, bool) {
	var rec TrackedState
	ok := loadRecord(ctx, t.store, t.logger, TransitionKey(category, identity), &rec)
	return rec, ok
}

// combine builds the single notification group for identities that rose
// together. Its ID derives from the identity set and the transition time.
func combine(engine *cluster.Engine, category event.Category, events []event.ReadyEvent, atMs int64) (cluster.Group, bool) {
	ids := make([]string, 0, len(events))
	for _, e := range events {
		ids = append(ids, e.ID)
	}
	return engine.Combine(category, events, cluster.IdentityGroupID(category, ids, atMs))
}
