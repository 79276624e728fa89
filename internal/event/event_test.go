package event_test

import (
	"errors"
	"testing"

	"cropwatch/internal/event"
)

func TestValidate(t *testing.T) {
	valid := event.ReadyEvent{ID: "plot-1", Category: event.CategoryCrops, Name: "Sunflower", Quantity: 1, ReadyAt: 1000}
	if err := valid.Validate(); err != nil {
		t.Fatalf("expected valid event, got %v", err)
	}

	tests := map[string]func(*event.ReadyEvent){
		"missing id":        func(e *event.ReadyEvent) { e.ID = " " },
		"missing category":  func(e *event.ReadyEvent) { e.Category = "" },
		"missing name":      func(e *event.ReadyEvent) { e.Name = "" },
		"missing readyAt":   func(e *event.ReadyEvent) { e.ReadyAt = 0 },
		"negative quantity": func(e *event.ReadyEvent) { e.Quantity = -1 },
	}
	for name, mutate := range tests {
		t.Run(name, func(t *testing.T) {
			e := valid
			mutate(&e)
			if err := e.Validate(); !errors.Is(err, event.ErrMalformed) {
				t.Fatalf("expected ErrMalformed, got %v", err)
			}
		})
	}
}

func TestSortByReadyAtBreaksTiesByID(t *testing.T) {
	events := []event.ReadyEvent{
		{ID: "b", ReadyAt: 10},
		{ID: "c", ReadyAt: 5},
		{ID: "a", ReadyAt: 10},
	}
	event.SortByReadyAt(events)
	got := events[0].ID + events[1].ID + events[2].ID
	if got != "cab" {
		t.Fatalf("unexpected order %q", got)
	}
}

func TestBatchCategoriesSorted(t *testing.T) {
	var b event.Batch
	b.Add(event.ReadyEvent{ID: "1", Category: event.CategoryTrees})
	b.Add(event.ReadyEvent{ID: "2", Category: event.CategoryCrops})
	b.Add(event.ReadyEvent{ID: "3", Category: event.CategoryCrops})
	cats := b.Categories()
	if len(cats) != 2 || cats[0] != event.CategoryCrops || cats[1] != event.CategoryTrees {
		t.Fatalf("unexpected categories %v", cats)
	}
	if b.Size() != 3 {
		t.Fatalf("unexpected size %d", b.Size())
	}
}
