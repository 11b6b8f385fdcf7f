package queue

import (
	"testing"
	"time"

	"postpilot/internal/post"
)

func newItem(t *testing.T, id string, at time.Time, targets ...string) *post.Item {
	t.Helper()
	if len(targets) == 0 {
		targets = []string{"t1"}
	}
	it, err := post.New(id, post.Content{Text: "x"}, targets, at, at)
	if err != nil {
		t.Fatalf("post.New(%s): %v", id, err)
	}
	return it
}

func TestEnqueueDuplicate(t *testing.T) {
	q := New()
	now := time.Now()
	if err := q.Enqueue(newItem(t, "a", now)); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	if err := q.Enqueue(newItem(t, "a", now)); err != ErrDuplicateID {
		t.Fatalf("duplicate Enqueue: err = %v, want ErrDuplicateID", err)
	}
}

func TestPopDueNeverReturnsFutureItems(t *testing.T) {
	q := New()
	now := time.Now()
	_ = q.Enqueue(newItem(t, "past", now.Add(-time.Minute)))
	_ = q.Enqueue(newItem(t, "now", now))
	_ = q.Enqueue(newItem(t, "future", now.Add(time.Minute)))

	due := q.PopDue(now)
	if len(due) != 2 {
		t.Fatalf("PopDue returned %d items, want 2", len(due))
	}
	for _, it := range due {
		if it.ID == "future" {
			t.Fatal("PopDue returned a future item")
		}
	}
	if q.Pending() != 1 {
		t.Fatalf("Pending = %d, want 1", q.Pending())
	}
}

func TestPopDueFIFOForEqualTimes(t *testing.T) {
	q := New()
	now := time.Now()
	_ = q.Enqueue(newItem(t, "first", now))
	_ = q.Enqueue(newItem(t, "second", now))
	_ = q.Enqueue(newItem(t, "third", now))

	due := q.PopDue(now)
	want := []string{"first", "second", "third"}
	for i, it := range due {
		if it.ID != want[i] {
			t.Fatalf("PopDue order = %v at %d, want %v", it.ID, i, want[i])
		}
	}
}

func TestRescheduleSupersedesOldEntry(t *testing.T) {
	q := New()
	now := time.Now()
	_ = q.Enqueue(newItem(t, "a", now))
	if err := q.Reschedule("a", now.Add(time.Hour)); err != nil {
		t.Fatalf("Reschedule: %v", err)
	}

	if due := q.PopDue(now); len(due) != 0 {
		t.Fatalf("PopDue returned %d items after reschedule to the future, want 0", len(due))
	}
	due := q.PopDue(now.Add(time.Hour))
	if len(due) != 1 || due[0].ID != "a" {
		t.Fatalf("PopDue at new time = %v, want [a]", due)
	}
}

func TestCancel(t *testing.T) {
	q := New()
	now := time.Now()
	_ = q.Enqueue(newItem(t, "a", now.Add(time.Hour)))

	state, ok, err := q.Cancel("a", now)
	if err != nil || !ok || state != post.StateCancelled {
		t.Fatalf("Cancel = (%v, %v, %v), want (cancelled, true, nil)", state, ok, err)
	}
	if due := q.PopDue(now.Add(2 * time.Hour)); len(due) != 0 {
		t.Fatal("cancelled item still popped")
	}

	// Second cancel reports the terminal state without acting.
	state, ok, err = q.Cancel("a", now)
	if err != nil || ok || state != post.StateCancelled {
		t.Fatalf("repeat Cancel = (%v, %v, %v), want (cancelled, false, nil)", state, ok, err)
	}

	if _, _, err := q.Cancel("missing", now); err != ErrNotFound {
		t.Fatalf("Cancel(missing): err = %v, want ErrNotFound", err)
	}
}

func TestCancelRefusesRunning(t *testing.T) {
	q := New()
	now := time.Now()
	_ = q.Enqueue(newItem(t, "a", now))
	_ = q.Mutate("a", func(it *post.Item) { _ = it.Advance(post.StateRunning) })

	state, ok, err := q.Cancel("a", now)
	if err != nil || ok || state != post.StateRunning {
		t.Fatalf("Cancel(running) = (%v, %v, %v), want (running, false, nil)", state, ok, err)
	}
}

func TestStatusCounts(t *testing.T) {
	q := New()
	now := time.Now()
	_ = q.Enqueue(newItem(t, "a", now))
	_ = q.Enqueue(newItem(t, "b", now))
	if _, _, err := q.Cancel("b", now); err != nil {
		t.Fatalf("Cancel: %v", err)
	}

	counts := q.StatusCounts()
	if counts[post.StatePending] != 1 || counts[post.StateCancelled] != 1 {
		t.Fatalf("StatusCounts = %v", counts)
	}
}

func TestSweepDropsOldTerminalItems(t *testing.T) {
	q := New()
	now := time.Now()
	_ = q.Enqueue(newItem(t, "old", now))
	_ = q.Enqueue(newItem(t, "fresh", now))
	_ = q.Enqueue(newItem(t, "live", now))

	_, _, _ = q.Cancel("old", now.Add(-48*time.Hour))
	_, _, _ = q.Cancel("fresh", now)

	removed := q.Sweep(now, 24*time.Hour)
	if removed != 1 {
		t.Fatalf("Sweep removed %d, want 1", removed)
	}
	if q.Len() != 2 {
		t.Fatalf("Len after sweep = %d, want 2", q.Len())
	}
}

func TestCheckpointRoundTrip(t *testing.T) {
	q := New()
	now := time.Now().Truncate(time.Second)
	_ = q.Enqueue(newItem(t, "pending", now.Add(time.Hour)))

	running := newItem(t, "running", now, "t1", "t2")
	_ = q.Enqueue(running)
	_ = q.Mutate("running", func(it *post.Item) {
		_ = it.Advance(post.StateRunning)
		it.Status["t1"].State = post.TargetRunning
		it.Status["t2"].State = post.TargetSucceeded
	})

	done := newItem(t, "done", now)
	_ = q.Enqueue(done)
	_ = q.Mutate("done", func(it *post.Item) {
		_ = it.Advance(post.StateRunning)
		it.Status["t1"].State = post.TargetSucceeded
		_ = it.Resolve(now)
	})

	data, err := q.MarshalState()
	if err != nil {
		t.Fatalf("MarshalState: %v", err)
	}

	q2 := New()
	if err := q2.RestoreState(data); err != nil {
		t.Fatalf("RestoreState: %v", err)
	}

	// Terminal items are not checkpointed.
	if q2.Len() != 2 {
		t.Fatalf("restored Len = %d, want 2", q2.Len())
	}

	// Running state demotes to pending so the item re-dispatches.
	err = q2.View("running", func(it *post.Item) {
		if it.State != post.StatePending {
			t.Errorf("restored item state = %v, want pending", it.State)
		}
		if it.Status["t1"].State != post.TargetPending {
			t.Errorf("restored t1 state = %v, want pending", it.Status["t1"].State)
		}
		if it.Status["t2"].State != post.TargetSucceeded {
			t.Errorf("restored t2 state = %v, want succeeded (preserved)", it.Status["t2"].State)
		}
	})
	if err != nil {
		t.Fatalf("View(running): %v", err)
	}

	// The pending item keeps its future due time.
	if due := q2.PopDue(now); len(due) != 1 || due[0].ID != "running" {
		t.Fatalf("PopDue(now) = %v, want [running]", ids(due))
	}
	if due := q2.PopDue(now.Add(2 * time.Hour)); len(due) != 1 || due[0].ID != "pending" {
		t.Fatalf("PopDue(+2h) = %v, want [pending]", ids(due))
	}
}

func TestDemoteRunningReindexesItems(t *testing.T) {
	q := New()
	now := time.Now()

	// Popped and dispatched: running, no longer indexed.
	inflight := newItem(t, "inflight", now.Add(-time.Minute), "t1", "t2")
	_ = q.Enqueue(inflight)
	_ = q.PopDue(now)
	_ = q.Mutate("inflight", func(it *post.Item) {
		_ = it.Advance(post.StateRunning)
		it.Status["t1"].State = post.TargetRunning
		it.Status["t2"].State = post.TargetSucceeded
	})

	waiting := newItem(t, "waiting", now.Add(time.Hour))
	_ = q.Enqueue(waiting)

	done := newItem(t, "done", now)
	_ = q.Enqueue(done)
	_ = q.Mutate("done", func(it *post.Item) {
		it.Status["t1"].State = post.TargetSucceeded
		_ = it.Resolve(now)
	})

	if n := q.DemoteRunning(now); n != 1 {
		t.Fatalf("DemoteRunning = %d, want 1", n)
	}

	err := q.View("inflight", func(it *post.Item) {
		if it.State != post.StatePending {
			t.Errorf("item state = %v, want pending", it.State)
		}
		if it.Status["t1"].State != post.TargetPending {
			t.Errorf("t1 state = %v, want pending", it.Status["t1"].State)
		}
		if it.Status["t2"].State != post.TargetSucceeded {
			t.Errorf("t2 state = %v, want succeeded (preserved)", it.Status["t2"].State)
		}
	})
	if err != nil {
		t.Fatalf("View(inflight): %v", err)
	}

	// Demoted item is due again; untouched items keep their slots.
	if due := q.PopDue(now); len(due) != 1 || due[0].ID != "inflight" {
		t.Fatalf("PopDue(now) = %v, want [inflight]", ids(due))
	}
	if due := q.PopDue(now.Add(2 * time.Hour)); len(due) != 1 || due[0].ID != "waiting" {
		t.Fatalf("PopDue(+2h) = %v, want [waiting]", ids(due))
	}
}

func ids(items []*post.Item) []string {
	out := make([]string, len(items))
	for i, it := range items {
		out[i] = it.ID
	}
	return out
}
