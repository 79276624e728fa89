package cluster

import (
	"fmt"
	"sort"
	"time"

	"cropwatch/internal/event"
)

// Mode is the aggregation-mode toggle consumed from configuration.
type Mode string

const (
	ModeGrouped    Mode = "grouped"
	ModeIndividual Mode = "individual"
)

// Handling selects which reconciliation path a category takes.
type Handling string

const (
	// HandlingClustered categories are fully recomputed every poll.
	HandlingClustered Handling = "clustered"
	// HandlingTransition categories notify on a tracked false to true edge.
	HandlingTransition Handling = "transition"
	// HandlingDelta categories notify on identities absent from the previous poll.
	HandlingDelta Handling = "delta"
	// HandlingNextOnly categories track only the nearest future event.
	HandlingNextOnly Handling = "next_only"
)

// FutureOnly reports whether the source should drop past-due events for this
// handling. Transition and delta events describe current conditions.
func (h Handling) FutureOnly() bool {
	return h == HandlingClustered || h == HandlingNextOnly
}

// Row is one category entry of the policy table.
type Row struct {
	Category event.Category
	Handling Handling
	Policy   Policy
	// Individual replaces Policy when the category runs in ModeIndividual.
	Individual *Policy
}

// Table maps categories to clustering rows.
type Table struct {
	rows map[event.Category]Row
}

// NewTable validates rows and builds a table. Duplicate categories are rejected.
func NewTable(rows ...Row) (*Table, error) {
	t := &Table{rows: make(map[event.Category]Row, len(rows))}
	for _, row := range rows {
		if row.Category == "" {
			return nil, fmt.Errorf("policy row missing category")
		}
		if _, dup := t.rows[row.Category]; dup {
			return nil, fmt.Errorf("duplicate policy row for %s", row.Category)
		}
		if row.Handling == "" {
			row.Handling = HandlingClustered
		}
		if err := row.Policy.Validate(); err != nil {
			return nil, fmt.Errorf("policy %s: %w", row.Category, err)
		}
		if row.Individual != nil {
			if err := row.Individual.Validate(); err != nil {
				return nil, fmt.Errorf("policy %s (individual): %w", row.Category, err)
			}
		}
		t.rows[row.Category] = row
	}
	return t, nil
}

// Row returns the row for a category.
func (t *Table) Row(category event.Category) (Row, bool) {
	row, ok := t.rows[category]
	return row, ok
}

// Policy returns the policy for category under mode. The second result is
// false when the category is unknown and DefaultPolicy was returned.
func (t *Table) Policy(category event.Category, mode Mode) (Policy, bool) {
	row, ok := t.rows[category]
	if !ok {
		return DefaultPolicy(), false
	}
	if mode == ModeIndividual && row.Individual != nil {
		return *row.Individual, true
	}
	return row.Policy, true
}

// Handling returns how a category is reconciled; unknown categories are clustered.
func (t *Table) Handling(category event.Category) Handling {
	if row, ok := t.rows[category]; ok {
		return row.Handling
	}
	return HandlingClustered
}

// FutureOnly reports whether past-due events of category should be dropped at the source.
func (t *Table) FutureOnly(category event.Category) bool {
	return t.Handling(category).FutureOnly()
}

// Rows returns every row ordered by category.
func (t *Table) Rows() []Row {
	out := make([]Row, 0, len(t.rows))
	for _, row := range t.rows {
		out = append(out, row)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Category < out[j].Category })
	return out
}

const (
	harvestWindow = 5 * time.Minute
	batchGrid     = time.Minute
)

func harvestRow(category event.Category) Row {
	return Row{
		Category: category,
		Handling: HandlingClustered,
		Policy: Policy{
			Strategy:    StrategyAnchored,
			WindowMs:    harvestWindow.Milliseconds(),
			GroupBy:     GroupByName,
			Aggregation: AggregateSum,
			Anchor:      AnchorEarliest,
		},
		Individual: &Policy{
			Strategy:    StrategyAnchored,
			WindowMs:    harvestWindow.Milliseconds(),
			GroupBy:     GroupByNameBuilding,
			Aggregation: AggregateSum,
			Anchor:      AnchorEarliest,
		},
	}
}

func buildingRow(category event.Category) Row {
	return Row{
		Category: category,
		Handling: HandlingClustered,
		Policy: Policy{
			Strategy:    StrategyFixedGrid,
			WindowMs:    batchGrid.Milliseconds(),
			GroupBy:     GroupByNameBuilding,
			Aggregation: AggregateCount,
			Anchor:      AnchorLatest,
		},
		// Zero-width anchored windows keep every distinct ready time apart.
		Individual: &Policy{
			Strategy:    StrategyAnchored,
			WindowMs:    0,
			GroupBy:     GroupByNameBuilding,
			Aggregation: AggregateCount,
			Anchor:      AnchorEarliest,
		},
	}
}

func trackedRow(category event.Category, handling Handling) Row {
	return Row{
		Category: category,
		Handling: handling,
		Policy: Policy{
			Strategy:    StrategyNone,
			GroupBy:     GroupByName,
			Aggregation: AggregateCount,
			Anchor:      AnchorEarliest,
		},
	}
}

// DefaultTable returns the built-in category policies.
func DefaultTable() *Table {
	rows := []Row{
		harvestRow(event.CategoryCrops),
		harvestRow(event.CategoryGreenhouseCrops),
		harvestRow(event.CategoryFruits),
		harvestRow(event.CategoryFlowers),
		harvestRow(event.CategoryTrees),
		harvestRow(event.CategoryStones),
		harvestRow(event.CategoryIron),
		harvestRow(event.CategoryGold),
		harvestRow(event.CategoryCrimstones),
		harvestRow(event.CategoryOil),
		harvestRow(event.CategoryMushrooms),
		harvestRow(event.CategoryHoney),
		harvestRow(event.CategoryAnimals),
		buildingRow(event.CategoryCooking),
		buildingRow(event.CategoryComposters),
		buildingRow(event.CategoryCrafting),
		{
			Category: event.CategoryMarketSales,
			Handling: HandlingClustered,
			Policy: Policy{
				Strategy:    StrategyNone,
				GroupBy:     GroupByNone,
				Aggregation: AggregateSum,
				Anchor:      AnchorEarliest,
			},
		},
		trackedRow(event.CategoryBeehiveSwarm, HandlingTransition),
		trackedRow(event.CategorySickAnimals, HandlingDelta),
		trackedRow(event.CategoryAuctions, HandlingNextOnly),
	}
	t, err := NewTable(rows...)
	if err != nil {
		panic(fmt.Sprintf("invalid built-in policy table: %v", err))
	}
	return t
}
