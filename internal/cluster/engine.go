package cluster

import (
	"log/slog"
	"sort"

	"cropwatch/internal/event"
	"cropwatch/internal/logging"
)

// Engine applies table policies to ready events.
type Engine struct {
	table  *Table
	logger *slog.Logger
}

// NewEngine builds an engine over table. A nil table uses DefaultTable.
func NewEngine(table *Table, logger *slog.Logger) *Engine {
	if table == nil {
		table = DefaultTable()
	}
	return &Engine{table: table, logger: logging.NewComponentLogger(logger, "cluster")}
}

// Table exposes the policy table the engine was built with.
func (e *Engine) Table() *Table {
	return e.table
}

// Cluster groups same-category events using the policy selected by mode.
// Unknown categories fall back to DefaultPolicy.
func (e *Engine) Cluster(category event.Category, events []event.ReadyEvent, mode Mode) []Group {
	policy, ok := e.table.Policy(category, mode)
	if !ok && len(events) > 0 {
		e.logger.Debug("no policy for category; using default",
			logging.String(logging.FieldCategory, string(category)),
			logging.String("policy", policy.String()),
		)
	}
	return Apply(category, policy, events)
}

// Combine merges every event into a single group whose ID derives from seed
// rather than from the events' names and times. It is used for groups whose
// identity comes from tracked state, such as "3 hives swarming".
func (e *Engine) Combine(category event.Category, events []event.ReadyEvent, seed string) (Group, bool) {
	if len(events) == 0 {
		return Group{}, false
	}
	policy, _ := e.table.Policy(category, ModeGrouped)
	sorted := append([]event.ReadyEvent(nil), events...)
	event.SortByReadyAt(sorted)
	return build(category, policy, seed, sorted), true
}

// Apply is the pure clustering function: it sorts events by readyAt, splits
// them by grouping key, windows each key per strategy, and aggregates each
// window into a group. Empty input yields nil.
func Apply(category event.Category, policy Policy, events []event.ReadyEvent) []Group {
	if len(events) == 0 {
		return nil
	}
	p := policy.effective()

	sorted := append([]event.ReadyEvent(nil), events...)
	event.SortByReadyAt(sorted)

	byKey := make(map[string][]event.ReadyEvent)
	for _, e := range sorted {
		key := groupKey(e, p.GroupBy)
		byKey[key] = append(byKey[key], e)
	}
	keys := make([]string, 0, len(byKey))
	for key := range byKey {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	groups := make([]Group, 0, len(keys))
	for _, key := range keys {
		for _, w := range splitWindows(byKey[key], p) {
			groups = append(groups, build(category, p, GroupID(category, key, w.start), w.events))
		}
	}
	SortGroups(groups)
	return groups
}
