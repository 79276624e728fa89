package reconcile

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"

	"cropwatch/internal/cluster"
	"cropwatch/internal/logging"
	"cropwatch/internal/state"
)

// TrackedState is the persisted flag of one transition tracked identity.
type TrackedState struct {
	Identity         string `json:"identity"`
	Status           bool   `json:"status"`
	LastTransitionAt int64  `json:"lastTransitionAt"`
	ClearReason      string `json:"clearReason,omitempty"`
}

type deltaRecord struct {
	Identities []string `json:"identities"`
	ObservedAt int64    `json:"observedAt"`
}

type nextRecord struct {
	Identity    string        `json:"identity"`
	ReadyAt     int64         `json:"readyAt"`
	Group       cluster.Group `json:"group"`
	ScheduledAt int64         `json:"scheduledAt"`
}

type outboxRecord struct {
	Group    cluster.Group `json:"group"`
	QueuedAt int64         `json:"queuedAt"`
}

// decodeRecord unmarshals raw into v. Corrupt records decode as empty and
// report false so callers can log them.
func decodeRecord(raw []byte, v any) bool {
	if len(raw) == 0 {
		return true
	}
	return json.Unmarshal(raw, v) == nil
}

// loadRecord reads key into v. Missing keys, read failures, and corrupt
// records all leave v empty; only the last two are logged.
func loadRecord(ctx context.Context, store state.Store, logger *slog.Logger, key string, v any) bool {
	raw, err := store.Get(ctx, key)
	if errors.Is(err, state.ErrNotFound) {
		return false
	}
	if err != nil {
		warnStateRead(logger, key, err)
		return false
	}
	if !decodeRecord(raw, v) {
		warnCorrupt(logger, key)
		return false
	}
	return true
}

func warnStateRead(logger *slog.Logger, key string, err error) {
	logging.WarnWithContext(logger, "state read failed; treating as empty", "state_read_failed",
		logging.String("key", key),
		logging.Error(err),
		logging.String(logging.FieldErrorHint, "check the state backend"),
		logging.String(logging.FieldImpact, "a notification may repeat once"),
	)
}

func warnCorrupt(logger *slog.Logger, key string) {
	logging.WarnWithContext(logger, "state record corrupt; treating as empty", "state_corrupt",
		logging.String("key", key),
		logging.String(logging.FieldErrorHint, "the next successful write repairs the record"),
		logging.String(logging.FieldImpact, "a notification may repeat once"),
	)
}
