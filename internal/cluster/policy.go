package cluster

import (
	"fmt"
	"time"
)

// Strategy selects how events are split along the time axis.
type Strategy string

const (
	// StrategyAnchored starts a cluster at the earliest unclustered event and
	// admits later events while readyAt - anchor <= window. The anchor never moves.
	StrategyAnchored Strategy = "anchored"
	// StrategyFixedGrid assigns events to floor(readyAt/window)*window buckets.
	StrategyFixedGrid Strategy = "fixed_grid"
	// StrategyNone disables temporal windowing.
	StrategyNone Strategy = "none"
)

// GroupBy selects the key events must share to cluster together.
type GroupBy string

const (
	GroupByName         GroupBy = "name"
	GroupByNameBuilding GroupBy = "name_building"
	// GroupByNone bypasses windowing and aggregates by name across the batch.
	GroupByNone GroupBy = "none"
)

// Aggregation selects how a cluster's quantity is computed.
type Aggregation string

const (
	AggregateCount Aggregation = "count"
	AggregateSum   Aggregation = "sum"
)

// AnchorSelection selects which constituent readyAt becomes notifyAt.
type AnchorSelection string

const (
	AnchorEarliest AnchorSelection = "earliest"
	AnchorLatest   AnchorSelection = "latest"
)

// Policy is the clustering configuration for one category.
type Policy struct {
	Strategy    Strategy        `json:"strategy"`
	WindowMs    int64           `json:"windowMs"`
	GroupBy     GroupBy         `json:"groupBy"`
	Aggregation Aggregation     `json:"aggregation"`
	Anchor      AnchorSelection `json:"anchor"`
}

// DefaultPolicy applies to categories missing from the table: name-only
// grouping, no time window, earliest readyAt.
func DefaultPolicy() Policy {
	return Policy{
		Strategy:    StrategyNone,
		GroupBy:     GroupByName,
		Aggregation: AggregateSum,
		Anchor:      AnchorEarliest,
	}
}

// Window returns the window as a duration.
func (p Policy) Window() time.Duration {
	return time.Duration(p.WindowMs) * time.Millisecond
}

// Validate rejects policies the engine cannot apply.
func (p Policy) Validate() error {
	switch p.Strategy {
	case StrategyAnchored:
		if p.WindowMs < 0 {
			return fmt.Errorf("anchored window must not be negative, got %d", p.WindowMs)
		}
	case StrategyFixedGrid:
		if p.WindowMs <= 0 {
			return fmt.Errorf("fixed grid window must be positive, got %d", p.WindowMs)
		}
	case StrategyNone:
	default:
		return fmt.Errorf("unknown strategy %q", p.Strategy)
	}
	switch p.GroupBy {
	case GroupByName, GroupByNameBuilding, GroupByNone:
	default:
		return fmt.Errorf("unknown group by %q", p.GroupBy)
	}
	switch p.Aggregation {
	case AggregateCount, AggregateSum:
	default:
		return fmt.Errorf("unknown aggregation %q", p.Aggregation)
	}
	switch p.Anchor {
	case AnchorEarliest, AnchorLatest:
	default:
		return fmt.Errorf("unknown anchor selection %q", p.Anchor)
	}
	return nil
}

// effective resolves combinations that collapse to a simpler strategy.
func (p Policy) effective() Policy {
	if p.GroupBy == GroupByNone {
		p.Strategy = StrategyNone
	}
	if p.Strategy == StrategyFixedGrid && p.WindowMs <= 0 {
		p.Strategy = StrategyNone
	}
	if p.Strategy == StrategyAnchored && p.WindowMs < 0 {
		p.WindowMs = 0
	}
	return p
}

func (p Policy) String() string {
	window := "-"
	if p.Strategy != StrategyNone && p.GroupBy != GroupByNone {
		window = p.Window().String()
	}
	return fmt.Sprintf("%s/%s by %s, %s, %s", p.Strategy, window, p.GroupBy, p.Aggregation, p.Anchor)
}
