package testsupport

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"cropwatch/internal/event"
)

// Snapshot builds snapshot documents for tests.
type Snapshot struct {
	FetchedAt  int64                                 `json:"fetchedAt"`
	Categories map[event.Category][]event.ReadyEvent `json:"categories"`
	Clears     []event.Clear                         `json:"clears,omitempty"`
}

// NewSnapshot starts an empty snapshot fetched now.
func NewSnapshot() *Snapshot {
	return &Snapshot{
		FetchedAt:  time.Now().UnixMilli(),
		Categories: make(map[event.Category][]event.ReadyEvent),
	}
}

// Ready appends a ready event readyIn from now.
func (s *Snapshot) Ready(category event.Category, id, name string, quantity float64, readyIn time.Duration) *Snapshot {
	s.Categories[category] = append(s.Categories[category], event.ReadyEvent{
		ID:       id,
		Name:     name,
		Quantity: quantity,
		ReadyAt:  time.Now().Add(readyIn).UnixMilli(),
	})
	return s
}

// Clear appends a clear event.
func (s *Snapshot) Clear(category event.Category, identity, reason string) *Snapshot {
	s.Clears = append(s.Clears, event.Clear{Category: category, Identity: identity, Reason: reason})
	return s
}

// JSON renders the snapshot.
func (s *Snapshot) JSON(t testing.TB) string {
	t.Helper()
	data, err := json.Marshal(s)
	if err != nil {
		t.Fatalf("marshal snapshot: %v", err)
	}
	return string(data)
}

// WriteTo writes the snapshot to path, creating parent directories.
func (s *Snapshot) WriteTo(t testing.TB, path string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("mkdir for %s: %v", path, err)
	}
	if err := os.WriteFile(path, []byte(s.JSON(t)), 0o644); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
}
