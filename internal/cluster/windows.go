package cluster

import (
	"cropwatch/internal/event"
)

// window is one temporal cluster. start is the anchor (anchored), the bucket
// origin (fixed grid), or zero (no windowing).
type window struct {
	start  int64
	events []event.ReadyEvent
}

// splitWindows partitions events, already sorted by readyAt, per strategy.
func splitWindows(events []event.ReadyEvent, p Policy) []window {
	if len(events) == 0 {
		return nil
	}
	switch p.Strategy {
	case StrategyAnchored:
		return anchoredWindows(events, p.WindowMs)
	case StrategyFixedGrid:
		return gridWindows(events, p.WindowMs)
	default:
		return []window{{start: 0, events: events}}
	}
}

func anchoredWindows(events []event.ReadyEvent, windowMs int64) []window {
	var out []window
	current := window{start: events[0].ReadyAt}
	for _, e := range events {
		if e.ReadyAt-current.start > windowMs {
			out = append(out, current)
			current = window{start: e.ReadyAt}
		}
		current.events = append(current.events, e)
	}
	return append(out, current)
}

func gridWindows(events []event.ReadyEvent, windowMs int64) []window {
	var out []window
	index := make(map[int64]int)
	for _, e := range events {
		bucket := Bucket(e.ReadyAt, windowMs)
		i, ok := index[bucket]
		if !ok {
			i = len(out)
			index[bucket] = i
			out = append(out, window{start: bucket})
		}
		out[i].events = append(out[i].events, e)
	}
	return out
}

// Bucket returns the fixed-grid bucket origin for readyAt.
func Bucket(readyAt, windowMs int64) int64 {
	if windowMs <= 0 {
		return readyAt
	}
	bucket := readyAt / windowMs
	if readyAt < 0 && readyAt%windowMs != 0 {
		bucket--
	}
	return bucket * windowMs
}
