// Package eventbus is a small in-memory fanout for publish lifecycle events,
// consumed by operator tooling (log tailers, the daemon's event log).
//
// Contract:
//   - Publish MUST be non-blocking.
//   - Subscribers MUST use buffered channels.
//   - Slow subscribers may drop events (bounded backpressure).
package eventbus

import (
	"sync"
	"sync/atomic"
	"time"
)

// Event types emitted by the scheduler.
const (
	TypeDispatched  = "post.dispatched"
	TypeSucceeded   = "post.succeeded"
	TypeFailed      = "post.failed"
	TypeRetry       = "post.retry"
	TypeRateLimited = "post.rate_limited"
	TypeNeedsReview = "post.needs_review"
	TypeItemDone    = "item.done"
)

// Event describes one publish lifecycle transition.
type Event struct {
	Type     string        `json:"type"`
	Time     time.Time     `json:"time"`
	ItemID   string        `json:"item_id,omitempty"`
	Target   string        `json:"target,omitempty"`
	State    string        `json:"state,omitempty"`
	Kind     string        `json:"kind,omitempty"`
	Error    string        `json:"error,omitempty"`
	Attempts int           `json:"attempts,omitempty"`
	Wait     time.Duration `json:"wait,omitempty"`
}

type Bus interface {
	Publish(e Event)
	Subscribe(buffer int) (ch <-chan Event, unsubscribe func())
}

// New returns a simple in-memory fanout bus. It owns no background
// goroutines.
func New() Bus {
	return &memBus{subs: map[uint64]chan Event{}}
}

type memBus struct {
	mu   sync.RWMutex
	subs map[uint64]chan Event
	seq  atomic.Uint64
}

func (b *memBus) Publish(e Event) {
	if e.Time.IsZero() {
		e.Time = time.Now()
	}
	// Snapshot subscribers so Publish doesn't hold locks while sending.
	b.mu.RLock()
	chs := make([]chan Event, 0, len(b.subs))
	for _, ch := range b.subs {
		chs = append(chs, ch)
	}
	b.mu.RUnlock()

	for _, ch := range chs {
		// Non-blocking delivery; a concurrently closed channel would panic,
		// so recover and move on.
		func() {
			defer func() { _ = recover() }()
			select {
			case ch <- e:
			default:
			}
		}()
	}
}

func (b *memBus) Subscribe(buffer int) (<-chan Event, func()) {
	if buffer <= 0 {
		buffer = 8
	}
	ch := make(chan Event, buffer)
	id := b.seq.Add(1)

	b.mu.Lock()
	b.subs[id] = ch
	b.mu.Unlock()

	var once sync.Once
	unsub := func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.subs, id)
			b.mu.Unlock()
			close(ch)
		})
	}
	return ch, unsub
}
