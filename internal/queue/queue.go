// Package queue is the ordered store of pending publish items, keyed by due
// time with stable FIFO order for equal times.
//
// One lock guards the ordered index and all item state mutation: producers
// enqueue concurrently, the scheduler's drain loop pops and reschedules, and
// Cancel may race with a drain. Mutations from other packages go through
// Mutate/View so every item read and write happens under that lock.
package queue

import (
	"container/heap"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"postpilot/internal/post"
)

var (
	ErrDuplicateID = errors.New("queue: duplicate item id")
	ErrNotFound    = errors.New("queue: item not found")
)

type entry struct {
	item *post.Item
	due  time.Time
	seq  uint64
	idx  int
	// stale marks superseded heap entries after a reschedule; they are
	// discarded when popped.
	stale bool
}

type entryHeap []*entry

func (h entryHeap) Len() int { return len(h) }
func (h entryHeap) Less(i, j int) bool {
	if h[i].due.Equal(h[j].due) {
		return h[i].seq < h[j].seq
	}
	return h[i].due.Before(h[j].due)
}
func (h entryHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].idx = i
	h[j].idx = j
}
func (h *entryHeap) Push(x any) {
	e := x.(*entry)
	e.idx = len(*h)
	*h = append(*h, e)
}
func (h *entryHeap) Pop() any {
	old := *h
	n := len(old)
	e := old[n-1]
	old[n-1] = nil
	*h = old[:n-1]
	return e
}

// Queue is the pending index plus the item registry. Terminal items stay in
// the registry (for status queries) until Sweep removes them.
type Queue struct {
	mu      sync.Mutex
	heap    entryHeap
	byID    map[string]*post.Item
	pending map[string]*entry
	seq     uint64
}

func New() *Queue {
	return &Queue{byID: map[string]*post.Item{}, pending: map[string]*entry{}}
}

// Enqueue registers the item and indexes it at its scheduled time. The
// scheduled time may be in the past. Items without targets are rejected at
// construction (post.New), but guard anyway.
func (q *Queue) Enqueue(it *post.Item) error {
	if len(it.Targets) == 0 {
		return post.ErrNoTargets
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	if _, ok := q.byID[it.ID]; ok {
		return ErrDuplicateID
	}
	q.byID[it.ID] = it
	q.pushLocked(it, it.ScheduledAt)
	return nil
}

func (q *Queue) pushLocked(it *post.Item, due time.Time) {
	if prev, ok := q.pending[it.ID]; ok {
		prev.stale = true
	}
	q.seq++
	e := &entry{item: it, due: due, seq: q.seq}
	q.pending[it.ID] = e
	heap.Push(&q.heap, e)
}

// PopDue removes and returns every indexed item due at now, in due-time then
// insertion order. Cancelled and terminal items are dropped from the pending
// index silently; the caller re-indexes survivors via Reschedule.
func (q *Queue) PopDue(now time.Time) []*post.Item {
	q.mu.Lock()
	defer q.mu.Unlock()
	var due []*post.Item
	for len(q.heap) > 0 && !q.heap[0].due.After(now) {
		e := heap.Pop(&q.heap).(*entry)
		if e.stale {
			continue
		}
		delete(q.pending, e.item.ID)
		if e.item.State.Terminal() {
			continue
		}
		due = append(due, e.item)
	}
	return due
}

// Reschedule re-indexes an item at a new due time, preserving identity and
// accumulated per-target state.
func (q *Queue) Reschedule(id string, at time.Time) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	it, ok := q.byID[id]
	if !ok {
		return ErrNotFound
	}
	if it.State.Terminal() {
		return nil
	}
	q.pushLocked(it, at)
	return nil
}

// Cancel marks the item cancelled unless it is already running or terminal.
// It returns the state observed under the lock, and ok=true only if this
// call performed the cancellation.
func (q *Queue) Cancel(id string, now time.Time) (post.State, bool, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	it, ok := q.byID[id]
	if !ok {
		return "", false, ErrNotFound
	}
	if it.State == post.StateRunning || it.State.Terminal() {
		return it.State, false, nil
	}
	_ = it.Advance(post.StateCancelled)
	it.CompletedAt = now
	if e, ok := q.pending[id]; ok {
		e.stale = true
		delete(q.pending, id)
	}
	return it.State, true, nil
}

// Mutate runs fn on the item under the queue lock. All post-dispatch state
// transitions go through here.
func (q *Queue) Mutate(id string, fn func(*post.Item)) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	it, ok := q.byID[id]
	if !ok {
		return ErrNotFound
	}
	fn(it)
	return nil
}

// View is Mutate for readers; fn must not retain or modify the item.
func (q *Queue) View(id string, fn func(*post.Item)) error {
	return q.Mutate(id, fn)
}

// StatusCounts tallies registered items by state.
func (q *Queue) StatusCounts() map[post.State]int {
	q.mu.Lock()
	defer q.mu.Unlock()
	counts := map[post.State]int{}
	for _, it := range q.byID {
		counts[it.State]++
	}
	return counts
}

// Len reports registered items; Pending reports indexed (not yet due) items.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.byID)
}

func (q *Queue) Pending() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.pending)
}

// NextDue returns the earliest indexed due time, if any.
func (q *Queue) NextDue() (time.Time, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	for len(q.heap) > 0 && q.heap[0].stale {
		heap.Pop(&q.heap)
	}
	if len(q.heap) == 0 {
		return time.Time{}, false
	}
	return q.heap[0].due, true
}

// Sweep drops terminal items whose completion time is older than horizon.
// Returns the number removed.
func (q *Queue) Sweep(now time.Time, horizon time.Duration) int {
	cut := now.Add(-horizon)
	q.mu.Lock()
	defer q.mu.Unlock()
	removed := 0
	for id, it := range q.byID {
		if it.State.Terminal() && !it.CompletedAt.IsZero() && it.CompletedAt.Before(cut) {
			delete(q.byID, id)
			if e, ok := q.pending[id]; ok {
				e.stale = true
				delete(q.pending, id)
			}
			removed++
		}
	}
	return removed
}

// DemoteRunning demotes running sub-statuses (and their items) back to
// pending and re-indexes the affected items at now. This is the live-queue
// analog of RestoreState's demotion, used when in-flight dispatch outcomes
// are abandoned at shutdown. Returns the number of demoted sub-statuses.
func (q *Queue) DemoteRunning(now time.Time) int {
	q.mu.Lock()
	defer q.mu.Unlock()
	demoted := 0
	for _, it := range q.byID {
		if it.State.Terminal() {
			continue
		}
		changed := false
		for _, st := range it.Status {
			if st.State == post.TargetRunning {
				st.State = post.TargetPending
				st.NextAttempt = time.Time{}
				demoted++
				changed = true
			}
		}
		if changed {
			if it.State == post.StateRunning {
				it.State = post.StatePending
			}
			q.pushLocked(it, now)
		}
	}
	return demoted
}

// checkpoint is the serialized queue state.
type checkpoint struct {
	Items []checkpointItem `json:"items"`
}

type checkpointItem struct {
	Item *post.Item `json:"item"`
	Due  time.Time  `json:"due"`
}

// MarshalState serializes all non-terminal items with their current due
// times for the durable store.
func (q *Queue) MarshalState() ([]byte, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	cp := checkpoint{}
	for id, it := range q.byID {
		if it.State.Terminal() {
			continue
		}
		ci := checkpointItem{Item: it, Due: it.ScheduledAt}
		if e, ok := q.pending[id]; ok {
			ci.Due = e.due
		}
		cp.Items = append(cp.Items, ci)
	}
	return json.Marshal(cp)
}

// RestoreState reloads a checkpoint produced by MarshalState. In-flight
// (running) states are demoted to pending so restored items re-dispatch.
func (q *Queue) RestoreState(data []byte) error {
	var cp checkpoint
	if err := json.Unmarshal(data, &cp); err != nil {
		return err
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	for _, ci := range cp.Items {
		it := ci.Item
		if it == nil || it.ID == "" {
			continue
		}
		if _, ok := q.byID[it.ID]; ok {
			continue
		}
		if it.State == post.StateRunning {
			it.State = post.StatePending
		}
		for _, st := range it.Status {
			if st.State == post.TargetRunning {
				st.State = post.TargetPending
			}
		}
		q.byID[it.ID] = it
		q.pushLocked(it, ci.Due)
	}
	return nil
}
