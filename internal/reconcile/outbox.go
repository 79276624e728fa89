package reconcile

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"cropwatch/internal/cluster"
	"cropwatch/internal/logging"
	"cropwatch/internal/state"
)

// Outbox holds edge-triggered groups until they are delivered. Such groups
// are produced once, so every later poll must re-offer them to the scheduler
// after its cancel-all.
type Outbox struct {
	store  state.Store
	logger *slog.Logger
	now    func() time.Time
}

// NewOutbox builds an outbox over store.
func NewOutbox(store state.Store, logger *slog.Logger, now func() time.Time) *Outbox {
	if now == nil {
		now = time.Now
	}
	return &Outbox{store: store, logger: logging.NewComponentLogger(logger, "outbox"), now: now}
}

// Put queues a group. Re-queuing the same delivery is a no-op.
func (o *Outbox) Put(ctx context.Context, g cluster.Group) error {
	queuedAt := o.now().UnixMilli()
	return o.store.Update(ctx, outboxKey(g), func(current []byte) ([]byte, error) {
		if current != nil {
			return nil, state.ErrNoChange
		}
		return json.Marshal(outboxRecord{Group: g, QueuedAt: queuedAt})
	})
}

// Pending returns every queued group. Corrupt records are dropped.
func (o *Outbox) Pending(ctx context.Context) ([]cluster.Group, error) {
	records, err := o.records(ctx)
	if err != nil {
		return nil, err
	}
	groups := make([]cluster.Group, 0, len(records))
	for _, rec := range records {
		groups = append(groups, rec.Group)
	}
	return groups, nil
}

func (o *Outbox) records(ctx context.Context) ([]outboxRecord, error) {
	entries, err := o.store.List(ctx, PrefixOutbox)
	if err != nil {
		return nil, fmt.Errorf("list outbox: %w", err)
	}
	records := make([]outboxRecord, 0, len(entries))
	for _, entry := range entries {
		var rec outboxRecord
		if !decodeRecord(entry.Value, &rec) || rec.Group.GroupID == "" {
			warnCorrupt(o.logger, entry.Key)
			if err := o.store.Delete(ctx, entry.Key); err != nil {
				logging.WarnWithContext(o.logger, "corrupt outbox record not removed", "outbox_cleanup_failed",
					logging.String("key", entry.Key),
					logging.Error(err),
					logging.String(logging.FieldImpact, "the record is skipped again next poll"),
				)
			}
			continue
		}
		records = append(records, rec)
	}
	return records, nil
}

// Ack removes a delivered group.
func (o *Outbox) Ack(ctx context.Context, g cluster.Group) error {
	return o.store.Delete(ctx, outboxKey(g))
}

// Prune drops groups queued longer than maxAge ago, so a group that can
// never be delivered does not linger forever.
func (o *Outbox) Prune(ctx context.Context, maxAge time.Duration) (int, error) {
	records, err := o.records(ctx)
	if err != nil {
		return 0, err
	}
	cutoff := o.now().Add(-maxAge).UnixMilli()
	pruned := 0
	for _, rec := range records {
		if rec.QueuedAt >= cutoff {
			continue
		}
		if err := o.Ack(ctx, rec.Group); err != nil {
			return pruned, err
		}
		pruned++
		logging.WarnWithContext(o.logger, "undelivered group expired", "outbox_expired",
			logging.String(logging.FieldCategory, string(rec.Group.Category)),
			logging.String(logging.FieldGroupID, rec.Group.GroupID),
			logging.String(logging.FieldErrorHint, "check notification delivery errors"),
			logging.String(logging.FieldImpact, "notification was never shown"),
		)
	}
	return pruned, nil
}
