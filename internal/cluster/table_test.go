package cluster_test

import (
	"testing"

	"cropwatch/internal/cluster"
	"cropwatch/internal/event"
)

func TestDefaultTableRows(t *testing.T) {
	table := cluster.DefaultTable()

	crops, ok := table.Policy(event.CategoryCrops, cluster.ModeGrouped)
	if !ok || crops.Strategy != cluster.StrategyAnchored || crops.WindowMs != 300_000 {
		t.Fatalf("unexpected crops policy %+v", crops)
	}
	individual, _ := table.Policy(event.CategoryCrops, cluster.ModeIndividual)
	if individual.GroupBy != cluster.GroupByNameBuilding {
		t.Fatalf("expected individual crops to group by building, got %+v", individual)
	}
	cooking, _ := table.Policy(event.CategoryCooking, cluster.ModeGrouped)
	if cooking.Strategy != cluster.StrategyFixedGrid || cooking.Anchor != cluster.AnchorLatest {
		t.Fatalf("unexpected cooking policy %+v", cooking)
	}
	market, _ := table.Policy(event.CategoryMarketSales, cluster.ModeIndividual)
	if market.GroupBy != cluster.GroupByNone {
		t.Fatalf("expected market sales without alternate row to keep primary policy, got %+v", market)
	}

	for category, want := range map[event.Category]cluster.Handling{
		event.CategoryBeehiveSwarm: cluster.HandlingTransition,
		event.CategorySickAnimals:  cluster.HandlingDelta,
		event.CategoryAuctions:     cluster.HandlingNextOnly,
		event.CategoryCrops:        cluster.HandlingClustered,
		"unknown":                  cluster.HandlingClustered,
	} {
		if got := table.Handling(category); got != want {
			t.Fatalf("%s: handling got %s want %s", category, got, want)
		}
	}
	if table.FutureOnly(event.CategorySickAnimals) {
		t.Fatal("delta categories describe current conditions and must not be future filtered")
	}
	if !table.FutureOnly(event.CategoryAuctions) {
		t.Fatal("next-only categories must be future filtered")
	}
}

func TestNewTableRejectsInvalidRows(t *testing.T) {
	if _, err := cluster.NewTable(cluster.Row{Category: "x", Policy: cluster.Policy{Strategy: cluster.StrategyFixedGrid, GroupBy: cluster.GroupByName, Aggregation: cluster.AggregateSum, Anchor: cluster.AnchorEarliest}}); err == nil {
		t.Fatal("expected zero-width grid to be rejected")
	}
	row := cluster.Row{Category: "x", Policy: cluster.DefaultPolicy()}
	if _, err := cluster.NewTable(row, row); err == nil {
		t.Fatal("expected duplicate rows to be rejected")
	}
}

func TestBucket(t *testing.T) {
	for _, tc := range []struct{ readyAt, window, want int64 }{
		{59_000, 60_000, 0},
		{61_000, 60_000, 60_000},
		{120_000, 60_000, 120_000},
	} {
		if got := cluster.Bucket(tc.readyAt, tc.window); got != tc.want {
			t.Fatalf("Bucket(%d, %d) = %d want %d", tc.readyAt, tc.window, got, tc.want)
		}
	}
}
