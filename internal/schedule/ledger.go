package schedule

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"cropwatch/internal/cluster"
	"cropwatch/internal/event"
	"cropwatch/internal/state"
)

// PrefixDelivered is the state key prefix of ledger entries.
const PrefixDelivered = "delivered/"

// LedgerEntry records one claimed delivery.
type LedgerEntry struct {
	GroupID   string         `json:"groupId"`
	Category  event.Category `json:"category"`
	NotifyAt  int64          `json:"notifyAt"`
	ClaimedAt int64          `json:"claimedAt"`
}

// Ledger is the exactly-once guard of deliveries.
type Ledger struct {
	store state.Store
	now   func() time.Time
}

// NewLedger builds a ledger over store.
func NewLedger(store state.Store, now func() time.Time) *Ledger {
	if now == nil {
		now = time.Now
	}
	return &Ledger{store: store, now: now}
}

func ledgerKey(g cluster.Group) string {
	return PrefixDelivered + g.DeliveryKey()
}

// Claim reserves the delivery of g. It returns false when the delivery was
// already claimed, by this process or another one sharing the store.
func (l *Ledger) Claim(ctx context.Context, g cluster.Group) (bool, error) {
	claimedAt := l.now().UnixMilli()
	var claimed bool
	err := l.store.Update(ctx, ledgerKey(g), func(current []byte) ([]byte, error) {
		if current != nil {
			claimed = false
			return nil, state.ErrNoChange
		}
		claimed = true
		return json.Marshal(LedgerEntry{GroupID: g.GroupID, Category: g.Category, NotifyAt: g.NotifyAt, ClaimedAt: claimedAt})
	})
	if err != nil {
		return false, fmt.Errorf("claim delivery %s: %w", g.DeliveryKey(), err)
	}
	return claimed, nil
}

// Release forgets a claim so the delivery can be retried.
func (l *Ledger) Release(ctx context.Context, g cluster.Group) error {
	return l.store.Delete(ctx, ledgerKey(g))
}

// Delivered reports whether g has a claim.
func (l *Ledger) Delivered(ctx context.Context, g cluster.Group) (bool, error) {
	_, err := l.store.Get(ctx, ledgerKey(g))
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, state.ErrNotFound):
		return false, nil
	default:
		return false, err
	}
}

// Prune removes entries whose notification time is before cutoff. Groups
// that old are never rescheduled, so their claims are no longer needed.
func (l *Ledger) Prune(ctx context.Context, cutoff time.Time) (int, error) {
	entries, err := l.store.List(ctx, PrefixDelivered)
	if err != nil {
		return 0, fmt.Errorf("list ledger: %w", err)
	}
	limit := cutoff.UnixMilli()
	removed := 0
	for _, entry := range entries {
		var rec LedgerEntry
		if err := json.Unmarshal(entry.Value, &rec); err == nil && rec.NotifyAt >= limit {
			continue
		}
		if err := l.store.Delete(ctx, entry.Key); err != nil {
			return removed, err
		}
		removed++
	}
	return removed, nil
}
