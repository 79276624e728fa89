package source

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"cropwatch/internal/event"
	"cropwatch/internal/logging"
)

// Snapshot is the wire form of one poll.
type Snapshot struct {
	FetchedAt  int64                                `json:"fetchedAt"`
	Categories map[event.Category][]json.RawMessage `json:"categories"`
	Clears     []event.Clear                        `json:"clears"`
}

// Options controls event extraction.
type Options struct {
	// FutureOnly reports whether past-due events of a category are dropped.
	FutureOnly func(event.Category) bool
	Now        func() time.Time
	Logger     *slog.Logger
}

// Decode parses a snapshot document into a batch.
func Decode(data []byte, opts Options) (event.Batch, error) {
	var snap Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return event.Batch{}, fmt.Errorf("decode snapshot: %w", err)
	}
	return Extract(snap, opts), nil
}

// Extract converts a parsed snapshot into a batch. Every listed category is
// present in the batch even when empty, so trackers observe disappearance.
func Extract(snap Snapshot, opts Options) event.Batch {
	now := time.Now
	if opts.Now != nil {
		now = opts.Now
	}
	logger := logging.NewComponentLogger(opts.Logger, "source")
	nowMs := now().UnixMilli()

	batch := event.Batch{
		FetchedAt: now(),
		Events:    make(map[event.Category][]event.ReadyEvent, len(snap.Categories)),
	}
	if snap.FetchedAt > 0 {
		batch.FetchedAt = time.UnixMilli(snap.FetchedAt)
	}

	for rawCategory, records := range snap.Categories {
		category := event.ParseCategory(string(rawCategory))
		futureOnly := opts.FutureOnly != nil && opts.FutureOnly(category)
		events := batch.Events[category]
		if events == nil {
			events = make([]event.ReadyEvent, 0, len(records))
		}
		for i, raw := range records {
			var e event.ReadyEvent
			if err := json.Unmarshal(raw, &e); err != nil {
				batch.Dropped++
				warnMalformed(logger, category, i, err)
				continue
			}
			e.Category = category
			if err := e.Validate(); err != nil {
				batch.Dropped++
				warnMalformed(logger, category, i, err)
				continue
			}
			if futureOnly && e.ReadyAt <= nowMs {
				continue
			}
			events = append(events, e)
		}
		batch.Events[category] = events
	}

	for _, clr := range snap.Clears {
		clr.Category = event.ParseCategory(string(clr.Category))
		if clr.Category == "" || clr.Identity == "" {
			batch.Dropped++
			continue
		}
		batch.Clears = append(batch.Clears, clr)
	}
	return batch
}

func warnMalformed(logger *slog.Logger, category event.Category, index int, err error) {
	logging.WarnWithContext(logger, "dropping malformed record", "record_malformed",
		logging.String(logging.FieldCategory, string(category)),
		logging.Int("index", index),
		logging.Error(err),
		logging.String(logging.FieldErrorHint, "check the snapshot exporter"),
		logging.String(logging.FieldImpact, "this record is not notified"),
	)
}
