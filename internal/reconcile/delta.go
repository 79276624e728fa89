package reconcile

import (
	"context"
	"encoding/json"
	"log/slog"
	"sort"
	"time"

	"cropwatch/internal/event"
	"cropwatch/internal/logging"
	"cropwatch/internal/state"
)

// DeltaTracker emits identities present now but absent from the previous
// observation. The previous set is replaced on every observation, whether or
// not anything was emitted.
type DeltaTracker struct {
	store  state.Store
	logger *slog.Logger
	now    func() time.Time
}

// NewDeltaTracker builds a tracker over store.
func NewDeltaTracker(store state.Store, logger *slog.Logger, now func() time.Time) *DeltaTracker {
	if now == nil {
		now = time.Now
	}
	return &DeltaTracker{store: store, logger: logging.NewComponentLogger(logger, "delta"), now: now}
}

// Observe returns the events whose identity is newly present.
func (d *DeltaTracker) Observe(ctx context.Context, category event.Category, events []event.ReadyEvent) []event.ReadyEvent {
	current := make([]string, 0, len(events))
	byID := make(map[string]event.ReadyEvent, len(events))
	for _, e := range events {
		if _, dup := byID[e.ID]; dup {
			continue
		}
		byID[e.ID] = e
		current = append(current, e.ID)
	}
	sort.Strings(current)

	key := deltaKey(category)
	var (
		previous map[string]struct{}
		corrupt  bool
	)
	err := d.store.Update(ctx, key, func(raw []byte) ([]byte, error) {
		var rec deltaRecord
		corrupt = !decodeRecord(raw, &rec)
		previous = make(map[string]struct{}, len(rec.Identities))
		for _, id := range rec.Identities {
			previous[id] = struct{}{}
		}
		return json.Marshal(deltaRecord{Identities: current, ObservedAt: d.now().UnixMilli()})
	})
	if corrupt {
		warnCorrupt(d.logger, key)
	}
	if err != nil {
		warnStateRead(d.logger, key, err)
		previous = nil
	}

	var newly []event.ReadyEvent
	for _, id := range current {
		if _, ok := previous[id]; !ok {
			newly = append(newly, byID[id])
		}
	}
	if len(newly) > 0 {
		d.logger.Info("new identities observed",
			logging.String(logging.FieldCategory, string(category)),
			logging.Int("new", len(newly)),
			logging.Int("current", len(current)),
		)
	}
	return newly
}

// Previous returns the identity set recorded by the last observation.
func (d *DeltaTracker) Previous(ctx context.Context, category event.Category) []string {
	var rec deltaRecord
	loadRecord(ctx, d.store, d.logger, deltaKey(category), &rec)
	return rec.Identities
}
