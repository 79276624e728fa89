package reconcile_test

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"strings"
	"testing"
	"time"

	"cropwatch/internal/cluster"
	"cropwatch/internal/event"
	"cropwatch/internal/reconcile"
	"cropwatch/internal/state"
)

type fakeClock struct{ now time.Time }

func (c *fakeClock) Now() time.Time { return c.now }

func (c *fakeClock) Advance(d time.Duration) { c.now = c.now.Add(d) }

type fakeSettings struct {
	disabled map[string]bool
	modes    map[string]string
}

func (s fakeSettings) CategoryEnabled(category string) bool { return !s.disabled[category] }

func (s fakeSettings) CategoryMode(category string) string {
	if mode, ok := s.modes[category]; ok {
		return mode
	}
	return "grouped"
}

func newReconciler(t *testing.T, store state.Store, settings reconcile.Settings) (*reconcile.Reconciler, *fakeClock) {
	t.Helper()
	clock := &fakeClock{now: time.UnixMilli(1_700_000_000_000)}
	r := reconcile.New(cluster.NewEngine(nil, nil), store, settings, nil, reconcile.WithClock(clock.Now))
	return r, clock
}

func swarm(id string, at int64) event.ReadyEvent {
	return event.ReadyEvent{ID: id, Category: event.CategoryBeehiveSwarm, Name: "Beehive", Quantity: 1, ReadyAt: at}
}

func batchOf(events ...event.ReadyEvent) event.Batch {
	var b event.Batch
	for _, e := range events {
		b.Add(e)
	}
	return b
}

func emptyBatch(category event.Category) event.Batch {
	return event.Batch{Events: map[event.Category][]event.ReadyEvent{category: {}}}
}

func resultFor(t *testing.T, plan reconcile.Plan, category event.Category) reconcile.CategoryResult {
	t.Helper()
	for _, res := range plan.Categories {
		if res.Category == category {
			return res
		}
	}
	t.Fatalf("no result for %s in %+v", category, plan.Categories)
	return reconcile.CategoryResult{}
}

func TestTransitionNotifiesOncePerEdge(t *testing.T) {
	ctx := context.Background()
	r, clock := newReconciler(t, state.NewMemoryStore(), nil)

	emitted := 0
	var firstKey string
	for i := 0; i < 3; i++ {
		plan, err := r.Reconcile(ctx, batchOf(swarm("hive-1", clock.now.UnixMilli())))
		if err != nil {
			t.Fatalf("Reconcile: %v", err)
		}
		emitted += resultFor(t, plan, event.CategoryBeehiveSwarm).Emitted
		if len(plan.Groups) != 1 {
			t.Fatalf("poll %d: expected the swarm group to stay scheduled, got %d groups", i, len(plan.Groups))
		}
		if i == 0 {
			firstKey = plan.Groups[0].DeliveryKey()
		} else if plan.Groups[0].DeliveryKey() != firstKey {
			t.Fatalf("poll %d: carried group changed identity: %s vs %s", i, plan.Groups[0].DeliveryKey(), firstKey)
		}
		clock.Advance(time.Minute)
	}
	if emitted != 1 {
		t.Fatalf("expected exactly one emission, got %d", emitted)
	}
}

func TestTransitionRearmsAfterClear(t *testing.T) {
	ctx := context.Background()
	r, clock := newReconciler(t, state.NewMemoryStore(), nil)

	first, err := r.Reconcile(ctx, batchOf(swarm("hive-1", clock.now.UnixMilli())))
	if err != nil {
		t.Fatalf("Reconcile: %v", err)
	}
	if err := r.Acknowledge(ctx, first.Groups[0]); err != nil {
		t.Fatalf("Acknowledge: %v", err)
	}

	clock.Advance(time.Minute)
	cleared := event.Batch{Clears: []event.Clear{{Category: event.CategoryBeehiveSwarm, Identity: "hive-1", Reason: "collected"}}}
	if _, err := r.Reconcile(ctx, cleared); err != nil {
		t.Fatalf("Reconcile clear: %v", err)
	}

	clock.Advance(time.Minute)
	second, err := r.Reconcile(ctx, batchOf(swarm("hive-1", clock.now.UnixMilli())))
	if err != nil {
		t.Fatalf("Reconcile: %v", err)
	}
	if got := resultFor(t, second, event.CategoryBeehiveSwarm).Emitted; got != 1 {
		t.Fatalf("expected a second emission after clear, got %d", got)
	}
	if second.Groups[0].GroupID == first.Groups[0].GroupID {
		t.Fatalf("expected a new group ID for the new edge")
	}
}

func TestTransitionMergesIdentitiesRisingTogether(t *testing.T) {
	ctx := context.Background()
	r, clock := newReconciler(t, state.NewMemoryStore(), nil)
	at := clock.now.UnixMilli()

	plan, err := r.Reconcile(ctx, batchOf(swarm("hive-1", at), swarm("hive-2", at+10), swarm("hive-3", at+20)))
	if err != nil {
		t.Fatalf("Reconcile: %v", err)
	}
	if len(plan.Groups) != 1 {
		t.Fatalf("expected one merged group, got %d", len(plan.Groups))
	}
	g := plan.Groups[0]
	if g.Count != 3 || len(g.Members) != 3 {
		t.Fatalf("expected 3 members, got count=%d members=%v", g.Count, g.Members)
	}
	if g.NotifyAt != at {
		t.Fatalf("expected notifyAt %d, got %d", at, g.NotifyAt)
	}
}

func TestTransitionCorruptStateTreatedAsEmpty(t *testing.T) {
	ctx := context.Background()
	store := state.NewMemoryStore()
	key := reconcile.TransitionKey(event.CategoryBeehiveSwarm, "hive-1")
	if err := store.Update(ctx, key, func([]byte) ([]byte, error) { return []byte("{not json"), nil }); err != nil {
		t.Fatalf("seed: %v", err)
	}
	r, clock := newReconciler(t, store, nil)

	plan, err := r.Reconcile(ctx, batchOf(swarm("hive-1", clock.now.UnixMilli())))
	if err != nil {
		t.Fatalf("Reconcile: %v", err)
	}
	if got := resultFor(t, plan, event.CategoryBeehiveSwarm).Emitted; got != 1 {
		t.Fatalf("expected corrupt state to behave as unset, emitted=%d", got)
	}
	states, err := r.Transitions(ctx)
	if err != nil {
		t.Fatalf("Transitions: %v", err)
	}
	if len(states) != 1 || !states[0].Status || states[0].Identity != "hive-1" {
		t.Fatalf("expected repaired armed state, got %+v", states)
	}
}

func sick(id string, at int64) event.ReadyEvent {
	return event.ReadyEvent{ID: id, Category: event.CategorySickAnimals, Name: "Sick animal", Quantity: 1, ReadyAt: at}
}

func TestDeltaEmitsOnlyNewIdentities(t *testing.T) {
	ctx := context.Background()
	store := state.NewMemoryStore()
	r, clock := newReconciler(t, store, nil)
	at := clock.now.UnixMilli()

	first, err := r.Reconcile(ctx, batchOf(sick("A", at), sick("B", at)))
	if err != nil {
		t.Fatalf("Reconcile: %v", err)
	}
	for _, g := range first.Groups {
		if err := r.Acknowledge(ctx, g); err != nil {
			t.Fatalf("Acknowledge: %v", err)
		}
	}

	clock.Advance(time.Minute)
	second, err := r.Reconcile(ctx, batchOf(sick("A", at), sick("B", at), sick("C", at)))
	if err != nil {
		t.Fatalf("Reconcile: %v", err)
	}
	if len(second.Groups) != 1 {
		t.Fatalf("expected one group for the new identity, got %d", len(second.Groups))
	}
	if members := second.Groups[0].Members; len(members) != 1 || members[0] != "C" {
		t.Fatalf("expected only C, got %v", members)
	}
	if err := r.Acknowledge(ctx, second.Groups[0]); err != nil {
		t.Fatalf("Acknowledge: %v", err)
	}

	clock.Advance(time.Minute)
	third, err := r.Reconcile(ctx, batchOf(sick("A", at), sick("B", at), sick("C", at)))
	if err != nil {
		t.Fatalf("Reconcile: %v", err)
	}
	if len(third.Groups) != 0 {
		t.Fatalf("expected nothing new, got %+v", third.Groups)
	}

	// Previous set is overwritten even when nothing is emitted.
	clock.Advance(time.Minute)
	if _, err := r.Reconcile(ctx, emptyBatch(event.CategorySickAnimals)); err != nil {
		t.Fatalf("Reconcile: %v", err)
	}
	delta := reconcile.NewDeltaTracker(store, nil, clock.Now)
	if prev := delta.Previous(ctx, event.CategorySickAnimals); len(prev) != 0 {
		t.Fatalf("expected empty previous set, got %v", prev)
	}
}

func auction(id string, at int64) event.ReadyEvent {
	return event.ReadyEvent{ID: id, Category: event.CategoryAuctions, Name: "Auction", Quantity: 1, ReadyAt: at}
}

func TestNextOnlyLifecycle(t *testing.T) {
	ctx := context.Background()
	store := state.NewMemoryStore()
	clock := &fakeClock{now: time.UnixMilli(1_000_000)}
	tracker := reconcile.NewNextOnlyTracker(store, cluster.NewEngine(nil, nil), nil, clock.Now)
	cat := event.CategoryAuctions

	res := tracker.Observe(ctx, cat, []event.ReadyEvent{auction("id2", 1_009_000), auction("id1", 1_005_000)})
	if res.Decision != reconcile.NextScheduled || res.Group == nil {
		t.Fatalf("expected scheduled, got %+v", res)
	}
	wantID := cluster.IdentityGroupID(cat, []string{"id1"}, 1_005_000)
	if res.Group.GroupID != wantID || res.Group.NotifyAt != 1_005_000 {
		t.Fatalf("expected id1 group, got %+v", res.Group)
	}

	res = tracker.Observe(ctx, cat, []event.ReadyEvent{auction("id1", 1_005_000), auction("id2", 1_009_000)})
	if res.Decision != reconcile.NextUnchanged || res.Group == nil || res.Group.GroupID != wantID {
		t.Fatalf("expected unchanged carry-forward of id1, got %+v", res)
	}

	clock.now = time.UnixMilli(1_006_000)
	res = tracker.Observe(ctx, cat, []event.ReadyEvent{auction("id1", 1_005_000), auction("id2", 1_009_000)})
	if res.Decision != reconcile.NextReplaced || res.Group == nil || res.Group.Members[0] != "id2" {
		t.Fatalf("expected id2 to replace id1, got %+v", res)
	}

	res = tracker.Observe(ctx, cat, []event.ReadyEvent{auction("id2", 1_012_000)})
	if res.Decision != reconcile.NextRescheduled || res.Group == nil || res.Group.NotifyAt != 1_012_000 {
		t.Fatalf("expected id2 rescheduled to 1012000, got %+v", res)
	}

	res = tracker.Observe(ctx, cat, nil)
	if res.Decision != reconcile.NextIdle || res.Group != nil {
		t.Fatalf("expected idle, got %+v", res)
	}
	if _, err := store.Get(ctx, reconcile.PrefixNext+string(cat)); err != state.ErrNotFound {
		t.Fatalf("expected next record removed, got %v", err)
	}
}

func TestEarliestBreaksTiesByID(t *testing.T) {
	got, ok := reconcile.Earliest([]event.ReadyEvent{auction("b", 50), auction("a", 50), auction("c", 10)}, 20)
	if !ok || got.ID != "a" {
		t.Fatalf("expected a, got %+v ok=%v", got, ok)
	}
	if _, ok := reconcile.Earliest([]event.ReadyEvent{auction("c", 10)}, 20); ok {
		t.Fatalf("expected no future event")
	}
}

func TestClusteredCategoriesRecomputeEveryPoll(t *testing.T) {
	ctx := context.Background()
	r, clock := newReconciler(t, state.NewMemoryStore(), nil)
	at := clock.now.Add(time.Hour).UnixMilli()
	crops := func() event.Batch {
		return batchOf(
			event.ReadyEvent{ID: "p1", Category: event.CategoryCrops, Name: "Sunflower", Quantity: 2, ReadyAt: at},
			event.ReadyEvent{ID: "p2", Category: event.CategoryCrops, Name: "Sunflower", Quantity: 3, ReadyAt: at + 30_000},
		)
	}

	first, err := r.Reconcile(ctx, crops())
	if err != nil {
		t.Fatalf("Reconcile: %v", err)
	}
	second, err := r.Reconcile(ctx, crops())
	if err != nil {
		t.Fatalf("Reconcile: %v", err)
	}
	if len(first.Groups) != 1 || len(second.Groups) != 1 {
		t.Fatalf("expected one group each poll, got %d and %d", len(first.Groups), len(second.Groups))
	}
	if first.Groups[0].DeliveryKey() != second.Groups[0].DeliveryKey() {
		t.Fatalf("expected identical group across polls")
	}
	if first.Groups[0].Quantity != 5 {
		t.Fatalf("expected quantity 5, got %v", first.Groups[0].Quantity)
	}
}

func TestDisabledCategorySkipped(t *testing.T) {
	ctx := context.Background()
	settings := fakeSettings{disabled: map[string]bool{"beehive_swarm": true}}
	r, clock := newReconciler(t, state.NewMemoryStore(), settings)

	plan, err := r.Reconcile(ctx, batchOf(swarm("hive-1", clock.now.UnixMilli())))
	if err != nil {
		t.Fatalf("Reconcile: %v", err)
	}
	if len(plan.Groups) != 0 {
		t.Fatalf("expected no groups, got %+v", plan.Groups)
	}
	if !resultFor(t, plan, event.CategoryBeehiveSwarm).Skipped {
		t.Fatalf("expected category marked skipped")
	}
	states, err := r.Transitions(ctx)
	if err != nil {
		t.Fatalf("Transitions: %v", err)
	}
	if len(states) != 0 {
		t.Fatalf("disabled category must not arm state, got %+v", states)
	}
}

func TestIndividualModeSplitsByBuilding(t *testing.T) {
	ctx := context.Background()
	settings := fakeSettings{modes: map[string]string{"crops": "individual"}}
	r, clock := newReconciler(t, state.NewMemoryStore(), settings)
	at := clock.now.Add(time.Hour).UnixMilli()

	plan, err := r.Reconcile(ctx, batchOf(
		event.ReadyEvent{ID: "p1", Category: event.CategoryCrops, Name: "Kale", GroupingKey: "plot-a", Quantity: 1, ReadyAt: at},
		event.ReadyEvent{ID: "p2", Category: event.CategoryCrops, Name: "Kale", GroupingKey: "plot-b", Quantity: 1, ReadyAt: at},
	))
	if err != nil {
		t.Fatalf("Reconcile: %v", err)
	}
	if len(plan.Groups) != 2 {
		t.Fatalf("expected two groups in individual mode, got %d", len(plan.Groups))
	}
}

func TestOutboxPruneExpiresStaleGroups(t *testing.T) {
	ctx := context.Background()
	store := state.NewMemoryStore()
	clock := &fakeClock{now: time.UnixMilli(10_000_000)}
	outbox := reconcile.NewOutbox(store, nil, clock.Now)

	g := cluster.Group{GroupID: "g1", Category: event.CategoryBeehiveSwarm, NotifyAt: 10_000_000}
	if err := outbox.Put(ctx, g); err != nil {
		t.Fatalf("Put: %v", err)
	}
	if err := outbox.Put(ctx, g); err != nil {
		t.Fatalf("Put again: %v", err)
	}
	pending, err := outbox.Pending(ctx)
	if err != nil || len(pending) != 1 {
		t.Fatalf("expected one pending group, got %v err=%v", pending, err)
	}

	clock.Advance(2 * time.Hour)
	pruned, err := outbox.Prune(ctx, time.Hour)
	if err != nil {
		t.Fatalf("Prune: %v", err)
	}
	if pruned != 1 {
		t.Fatalf("expected one pruned group, got %d", pruned)
	}
	if pending, _ := outbox.Pending(ctx); len(pending) != 0 {
		t.Fatalf("expected empty outbox, got %v", pending)
	}
}

func closedStore(t *testing.T) state.Store {
	t.Helper()
	store := state.NewMemoryStore()
	if err := store.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	return store
}

func TestDeltaStoreFailureEmitsWholeSet(t *testing.T) {
	ctx := context.Background()
	r, clock := newReconciler(t, closedStore(t), nil)
	at := clock.now.UnixMilli()

	plan, err := r.Reconcile(ctx, batchOf(sick("A", at), sick("B", at)))
	if err != nil {
		t.Fatalf("Reconcile: %v", err)
	}
	if len(plan.Groups) != 1 {
		t.Fatalf("expected one group, got %+v", plan.Groups)
	}
	if members := plan.Groups[0].Members; len(members) != 2 || members[0] != "A" || members[1] != "B" {
		t.Fatalf("expected the whole set A,B, got %v", members)
	}
	res := resultFor(t, plan, event.CategorySickAnimals)
	if res.Emitted != 1 {
		t.Fatalf("expected one emission, got %d", res.Emitted)
	}
	if !strings.Contains(res.Err, "queue group") {
		t.Fatalf("expected outbox failure recorded, got %q", res.Err)
	}
}

func TestNextOnlyStoreFailureStillSchedules(t *testing.T) {
	ctx := context.Background()
	clock := &fakeClock{now: time.UnixMilli(1_000_000)}
	tracker := reconcile.NewNextOnlyTracker(closedStore(t), cluster.NewEngine(nil, nil), nil, clock.Now)

	res := tracker.Observe(ctx, event.CategoryAuctions, []event.ReadyEvent{auction("id2", 1_009_000), auction("id1", 1_005_000)})
	if res.Decision != reconcile.NextScheduled || res.Group == nil {
		t.Fatalf("expected scheduled despite the store failure, got %+v", res)
	}
	if res.Group.NotifyAt != 1_005_000 || res.Group.Members[0] != "id1" {
		t.Fatalf("expected the earliest auction, got %+v", res.Group)
	}

	if res := tracker.Observe(ctx, event.CategoryAuctions, nil); res.Decision != reconcile.NextIdle || res.Group != nil {
		t.Fatalf("expected idle without future events, got %+v", res)
	}

	r, rclock := newReconciler(t, closedStore(t), nil)
	at := rclock.now.Add(time.Hour).UnixMilli()
	plan, err := r.Reconcile(ctx, batchOf(auction("id1", at)))
	if err != nil {
		t.Fatalf("Reconcile: %v", err)
	}
	if len(plan.Groups) != 1 || plan.Groups[0].NotifyAt != at {
		t.Fatalf("expected the auction scheduled, got %+v", plan.Groups)
	}
	if got := resultFor(t, plan, event.CategoryAuctions); got.Decision != reconcile.NextScheduled || got.Err != "" {
		t.Fatalf("unexpected result %+v", got)
	}
}

type undeletableStore struct {
	state.Store
}

func (undeletableStore) Delete(context.Context, string) error {
	return errors.New("read-only replica")
}

func TestOutboxLogsFailedCorruptCleanup(t *testing.T) {
	ctx := context.Background()
	inner := state.NewMemoryStore()
	key := reconcile.PrefixOutbox + "beehive_swarm/broken@1"
	if err := inner.Update(ctx, key, func([]byte) ([]byte, error) { return []byte("{not json"), nil }); err != nil {
		t.Fatalf("seed: %v", err)
	}

	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, nil))
	outbox := reconcile.NewOutbox(undeletableStore{inner}, logger, nil)

	pending, err := outbox.Pending(ctx)
	if err != nil {
		t.Fatalf("Pending: %v", err)
	}
	if len(pending) != 0 {
		t.Fatalf("expected corrupt record skipped, got %+v", pending)
	}
	out := buf.String()
	if !strings.Contains(out, "event_type=outbox_cleanup_failed") || !strings.Contains(out, "read-only replica") {
		t.Fatalf("expected cleanup failure logged, got %q", out)
	}
}
