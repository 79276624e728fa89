package schedule_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"cropwatch/internal/cluster"
	"cropwatch/internal/event"
	"cropwatch/internal/schedule"
	"cropwatch/internal/state"
)

type recordingDeliverer struct {
	mu        sync.Mutex
	delivered []cluster.Group
	failNext  int
	done      chan cluster.Group
}

func newDeliverer() *recordingDeliverer {
	return &recordingDeliverer{done: make(chan cluster.Group, 16)}
}

func (d *recordingDeliverer) Notify(_ context.Context, g cluster.Group) error {
	d.mu.Lock()
	if d.failNext > 0 {
		d.failNext--
		d.mu.Unlock()
		d.done <- cluster.Group{}
		return errors.New("ntfy unavailable")
	}
	d.delivered = append(d.delivered, g)
	d.mu.Unlock()
	d.done <- g
	return nil
}

func (d *recordingDeliverer) count() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.delivered)
}

func waitAttempt(t *testing.T, d *recordingDeliverer) cluster.Group {
	t.Helper()
	select {
	case g := <-d.done:
		return g
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for delivery")
		return cluster.Group{}
	}
}

func dueGroup(id string) cluster.Group {
	return cluster.Group{
		GroupID:  id,
		Category: event.CategoryCrops,
		Name:     "Wheat",
		Quantity: 3,
		Count:    3,
		NotifyAt: time.Now().Add(-time.Second).UnixMilli(),
	}
}

func TestScheduleAllDeliversDueGroupsOnce(t *testing.T) {
	ctx := context.Background()
	deliverer := newDeliverer()
	ledger := schedule.NewLedger(state.NewMemoryStore(), nil)
	var acked []string
	var ackMu sync.Mutex
	s := schedule.NewTimerScheduler(ctx, deliverer, ledger, nil, schedule.WithOnDelivered(func(_ context.Context, g cluster.Group, _ bool) {
		ackMu.Lock()
		acked = append(acked, g.GroupID)
		ackMu.Unlock()
	}))
	t.Cleanup(func() { _ = s.Close() })

	g := dueGroup("g1")
	if err := s.ScheduleAll(ctx, []cluster.Group{g}); err != nil {
		t.Fatalf("ScheduleAll: %v", err)
	}
	if got := waitAttempt(t, deliverer); got.GroupID != "g1" {
		t.Fatalf("unexpected delivery %+v", got)
	}

	// A later poll re-offers the same delivery.
	if err := s.CancelAll(ctx); err != nil {
		t.Fatalf("CancelAll: %v", err)
	}
	if err := s.ScheduleAll(ctx, []cluster.Group{g}); err != nil {
		t.Fatalf("ScheduleAll: %v", err)
	}
	_ = s.Close()

	if deliverer.count() != 1 {
		t.Fatalf("expected exactly one delivery, got %d", deliverer.count())
	}
	ackMu.Lock()
	defer ackMu.Unlock()
	if len(acked) == 0 || acked[0] != "g1" {
		t.Fatalf("expected delivery hook for g1, got %v", acked)
	}
}

func TestAlreadyClaimedDeliverySettlesWithoutSending(t *testing.T) {
	ctx := context.Background()
	deliverer := newDeliverer()
	ledger := schedule.NewLedger(state.NewMemoryStore(), nil)
	g := dueGroup("dup")
	if claimed, err := ledger.Claim(ctx, g); err != nil || !claimed {
		t.Fatalf("Claim: claimed=%v err=%v", claimed, err)
	}

	settled := make(chan bool, 1)
	s := schedule.NewTimerScheduler(ctx, deliverer, ledger, nil, schedule.WithOnDelivered(func(_ context.Context, _ cluster.Group, sent bool) {
		settled <- sent
	}))
	t.Cleanup(func() { _ = s.Close() })

	if err := s.ScheduleAll(ctx, []cluster.Group{g}); err != nil {
		t.Fatalf("ScheduleAll: %v", err)
	}
	select {
	case sent := <-settled:
		if sent {
			t.Fatal("expected the hook to report a suppressed delivery")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for the delivery hook")
	}
	if deliverer.count() != 0 {
		t.Fatalf("already claimed group was sent %d time(s)", deliverer.count())
	}
}

func TestCancelAllStopsPendingDeliveries(t *testing.T) {
	ctx := context.Background()
	deliverer := newDeliverer()
	s := schedule.NewTimerScheduler(ctx, deliverer, nil, nil)
	t.Cleanup(func() { _ = s.Close() })

	g := dueGroup("later")
	g.NotifyAt = time.Now().Add(100 * time.Millisecond).UnixMilli()
	if err := s.ScheduleAll(ctx, []cluster.Group{g}); err != nil {
		t.Fatalf("ScheduleAll: %v", err)
	}
	if pending := s.Pending(); len(pending) != 1 || pending[0].Group.GroupID != "later" {
		t.Fatalf("expected one pending entry, got %+v", pending)
	}
	if err := s.CancelAll(ctx); err != nil {
		t.Fatalf("CancelAll: %v", err)
	}
	if pending := s.Pending(); len(pending) != 0 {
		t.Fatalf("expected no pending entries, got %+v", pending)
	}

	time.Sleep(250 * time.Millisecond)
	if deliverer.count() != 0 {
		t.Fatalf("cancelled group was delivered")
	}
}

func TestFailedDeliveryReleasesClaim(t *testing.T) {
	ctx := context.Background()
	deliverer := newDeliverer()
	deliverer.failNext = 1
	ledger := schedule.NewLedger(state.NewMemoryStore(), nil)
	s := schedule.NewTimerScheduler(ctx, deliverer, ledger, nil)
	t.Cleanup(func() { _ = s.Close() })

	g := dueGroup("retry")
	if err := s.ScheduleAll(ctx, []cluster.Group{g}); err != nil {
		t.Fatalf("ScheduleAll: %v", err)
	}
	waitAttempt(t, deliverer)

	deadline := time.Now().Add(2 * time.Second)
	for {
		delivered, err := ledger.Delivered(ctx, g)
		if err != nil {
			t.Fatalf("Delivered: %v", err)
		}
		if !delivered {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("claim was not released after failure")
		}
		time.Sleep(10 * time.Millisecond)
	}

	_ = s.CancelAll(ctx)
	if err := s.ScheduleAll(ctx, []cluster.Group{g}); err != nil {
		t.Fatalf("ScheduleAll: %v", err)
	}
	if got := waitAttempt(t, deliverer); got.GroupID != "retry" {
		t.Fatalf("expected retry delivery, got %+v", got)
	}
}

func TestLedgerClaimAndPrune(t *testing.T) {
	ctx := context.Background()
	now := time.UnixMilli(1_700_000_000_000)
	ledger := schedule.NewLedger(state.NewMemoryStore(), func() time.Time { return now })

	old := cluster.Group{GroupID: "old", Category: event.CategoryCrops, NotifyAt: now.Add(-96 * time.Hour).UnixMilli()}
	fresh := cluster.Group{GroupID: "fresh", Category: event.CategoryCrops, NotifyAt: now.UnixMilli()}
	for _, g := range []cluster.Group{old, fresh} {
		claimed, err := ledger.Claim(ctx, g)
		if err != nil || !claimed {
			t.Fatalf("Claim %s: claimed=%v err=%v", g.GroupID, claimed, err)
		}
	}
	if claimed, err := ledger.Claim(ctx, fresh); err != nil || claimed {
		t.Fatalf("second claim must fail: claimed=%v err=%v", claimed, err)
	}

	moved := fresh
	moved.NotifyAt += 60_000
	if claimed, err := ledger.Claim(ctx, moved); err != nil || !claimed {
		t.Fatalf("rescheduled delivery is a new claim: claimed=%v err=%v", claimed, err)
	}

	removed, err := ledger.Prune(ctx, now.Add(-72*time.Hour))
	if err != nil {
		t.Fatalf("Prune: %v", err)
	}
	if removed != 1 {
		t.Fatalf("expected one pruned entry, got %d", removed)
	}
	if delivered, _ := ledger.Delivered(ctx, old); delivered {
		t.Fatal("old entry survived prune")
	}
	if delivered, _ := ledger.Delivered(ctx, fresh); !delivered {
		t.Fatal("fresh entry was pruned")
	}
}

func TestRecorderKeepsLastPlan(t *testing.T) {
	ctx := context.Background()
	var r schedule.Recorder
	_ = r.ScheduleAll(ctx, []cluster.Group{dueGroup("a")})
	_ = r.CancelAll(ctx)
	_ = r.ScheduleAll(ctx, []cluster.Group{dueGroup("b")})
	if groups := r.Groups(); len(groups) != 1 || groups[0].GroupID != "b" {
		t.Fatalf("unexpected plan %+v", groups)
	}
	if r.Cancels() != 1 {
		t.Fatalf("expected one cancel, got %d", r.Cancels())
	}
}
