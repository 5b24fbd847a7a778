package events

import (
	"context"
	"testing"
	"time"

	"github.com/infraprint/infraprintd/internal/lifecycle"
	"github.com/infraprint/infraprintd/internal/store"
)

func newSub(t *testing.T, s *store.Store, mask store.EventMask, printerID int) *store.Subscription {
	t.Helper()
	id := s.Subscriptions.AllocateID()
	lease, err := lifecycle.NewLease(time.Now(), 0, false)
	if err != nil {
		t.Fatalf("NewLease: %v", err)
	}
	sub := store.NewSubscription(id, "urn:uuid:sub", mask, "alice", lease)
	sub.PrinterID = printerID
	s.Subscriptions.Add(sub)
	return sub
}

func TestEmitAppendsToMatchingSubscription(t *testing.T) {
	s := store.New()
	eng := NewEngine(s)

	sub := newSub(t, s, store.EventJobCompleted, 1)
	other := newSub(t, s, store.EventPrinterStateChanged, 1)

	eng.Emit(store.EventJobCompleted, 1, 5, 0, map[string]string{"job-id": "5"})

	sub.RLock()
	if len(sub.Queue) != 1 || sub.Queue[0].Sequence != 1 {
		t.Fatalf("expected one queued event with sequence 1, got %+v", sub.Queue)
	}
	sub.RUnlock()

	other.RLock()
	if len(other.Queue) != 0 {
		t.Fatalf("expected non-matching subscription queue empty, got %+v", other.Queue)
	}
	other.RUnlock()
}

func TestEmitScopesToPrinter(t *testing.T) {
	s := store.New()
	eng := NewEngine(s)

	sub := newSub(t, s, store.EventJobCompleted, 2)
	eng.Emit(store.EventJobCompleted, 1, 5, 0, nil)

	sub.RLock()
	defer sub.RUnlock()
	if len(sub.Queue) != 0 {
		t.Fatalf("expected printer-scoped subscription to ignore other printer's event, got %+v", sub.Queue)
	}
}

func TestAppendTrimsToCapacity(t *testing.T) {
	s := store.New()
	eng := NewEngine(s)
	eng.capacity = 3

	sub := newSub(t, s, store.EventJobStateChanged, 0)
	for i := 0; i < 5; i++ {
		eng.Emit(store.EventJobStateChanged, 0, 0, 0, nil)
	}

	sub.RLock()
	defer sub.RUnlock()
	if len(sub.Queue) != 3 {
		t.Fatalf("expected queue trimmed to capacity 3, got %d", len(sub.Queue))
	}
	if sub.FirstSequence != sub.Queue[0].Sequence {
		t.Fatalf("expected FirstSequence to track the oldest retained event, got %d vs %d",
			sub.FirstSequence, sub.Queue[0].Sequence)
	}
	if sub.LastSequence != 5 {
		t.Fatalf("expected LastSequence 5, got %d", sub.LastSequence)
	}
}

func TestGetNotificationsCollectsWithoutWaiting(t *testing.T) {
	s := store.New()
	eng := NewEngine(s)

	sub := newSub(t, s, store.EventJobCreated, 0)
	eng.Emit(store.EventJobCreated, 0, 1, 0, nil)
	eng.Emit(store.EventJobCreated, 0, 2, 0, nil)

	out, err := eng.GetNotifications(context.Background(), []int{sub.ID}, []int{0}, false)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(out[sub.ID]) != 2 {
		t.Fatalf("expected 2 events, got %d", len(out[sub.ID]))
	}
}

func TestGetNotificationsHonorsRequestedSequence(t *testing.T) {
	s := store.New()
	eng := NewEngine(s)

	sub := newSub(t, s, store.EventJobCreated, 0)
	eng.Emit(store.EventJobCreated, 0, 1, 0, nil)
	eng.Emit(store.EventJobCreated, 0, 2, 0, nil)

	out, err := eng.GetNotifications(context.Background(), []int{sub.ID}, []int{2}, false)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(out[sub.ID]) != 1 || out[sub.ID][0].Sequence != 2 {
		t.Fatalf("expected only sequence 2 onward, got %+v", out[sub.ID])
	}
}

func TestGetNotificationsWaitsThenWakes(t *testing.T) {
	s := store.New()
	eng := NewEngine(s)
	sub := newSub(t, s, store.EventJobCreated, 0)

	done := make(chan map[int][]store.Event, 1)
	go func() {
		out, err := eng.GetNotifications(context.Background(), []int{sub.ID}, []int{0}, true)
		if err != nil {
			t.Error(err)
		}
		done <- out
	}()

	time.Sleep(20 * time.Millisecond)
	eng.Emit(store.EventJobCreated, 0, 9, 0, nil)

	select {
	case out := <-done:
		if len(out[sub.ID]) != 1 {
			t.Fatalf("expected woken call to observe the new event, got %+v", out)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for GetNotifications to return")
	}
}

func TestSweepExpiredLeasesRemovesOnlyExpired(t *testing.T) {
	s := store.New()
	eng := NewEngine(s)

	past, _ := lifecycle.NewLease(time.Now().Add(-time.Hour), 1, false)
	live, _ := lifecycle.NewLease(time.Now(), 0, false)

	expiredSub := store.NewSubscription(s.Subscriptions.AllocateID(), "u1", store.EventJobCreated, "alice", past)
	liveSub := store.NewSubscription(s.Subscriptions.AllocateID(), "u2", store.EventJobCreated, "alice", live)
	s.Subscriptions.Add(expiredSub)
	s.Subscriptions.Add(liveSub)

	removed := eng.SweepExpiredLeases(time.Now())
	if len(removed) != 1 || removed[0] != expiredSub.ID {
		t.Fatalf("expected only expired subscription swept, got %v", removed)
	}
	if _, ok := s.Subscriptions.ByID(liveSub.ID); !ok {
		t.Fatal("expected live subscription to remain")
	}
	if _, ok := s.Subscriptions.ByID(expiredSub.ID); ok {
		t.Fatal("expected expired subscription removed")
	}
}

func TestDeferPrinterDeletionPushesLeaseOut(t *testing.T) {
	s := store.New()
	eng := NewEngine(s)

	live, _ := lifecycle.NewLease(time.Now(), 0, false)
	sub := store.NewSubscription(s.Subscriptions.AllocateID(), "u1", store.EventPrinterShutdown, "alice", live)
	sub.PrinterID = 7
	s.Subscriptions.Add(sub)

	now := time.Now()
	eng.DeferPrinterDeletion(7, now)

	sub.RLock()
	defer sub.RUnlock()
	if sub.Lease.Expired(now) {
		t.Fatal("lease should not be expired immediately")
	}
	if !sub.Lease.Expired(now.Add(31 * time.Second)) {
		t.Fatal("lease should expire within ~30s of printer deletion")
	}
}

func TestCategoryForJobState(t *testing.T) {
	if CategoryForJobState(lifecycle.JobCompleted) != store.EventJobCompleted {
		t.Fatal("expected completed job state to map to EventJobCompleted")
	}
	if CategoryForJobState(lifecycle.JobStopped) != store.EventJobStopped {
		t.Fatal("expected stopped job state to map to EventJobStopped")
	}
	if CategoryForJobState(lifecycle.JobProcessing) != store.EventJobStateChanged {
		t.Fatal("expected processing job state to map to generic EventJobStateChanged")
	}
}
