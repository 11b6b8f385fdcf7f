package post

import (
	"errors"
	"time"
)

// State is the overall lifecycle state of an item.
type State string

const (
	StatePending     State = "pending"
	StateRateLimited State = "rate_limited"
	StateRunning     State = "running"
	StatePartial     State = "partial"
	StateCompleted   State = "completed"
	StateFailed      State = "failed"
	StateCancelled   State = "cancelled"
)

// Terminal reports whether no further transitions are possible.
func (s State) Terminal() bool {
	switch s {
	case StatePartial, StateCompleted, StateFailed, StateCancelled:
		return true
	}
	return false
}

// rank orders the non-terminal progression. Transitions never move backward
// except the rate-limited <-> pending loop, which is modeled as equal rank.
func (s State) rank() int {
	switch s {
	case StatePending, StateRateLimited:
		return 0
	case StateRunning:
		return 1
	default:
		return 2
	}
}

// TargetState is the per-(item,target) sub-status.
type TargetState string

const (
	TargetPending        TargetState = "pending"
	TargetRunning        TargetState = "running"
	TargetSucceeded      TargetState = "succeeded"
	TargetFailed         TargetState = "failed"
	TargetRetryScheduled TargetState = "retry_scheduled"
)

func (s TargetState) Terminal() bool {
	return s == TargetSucceeded || s == TargetFailed
}

// TargetStatus tracks one target's progress for an item.
//
// Attempts counts publish attempts that consumed a retry budget; non-retryable
// failures do not increment it. NextAttempt is the due time while the state is
// retry_scheduled or while waiting out a rate-limit window.
type TargetStatus struct {
	State         TargetState `json:"state"`
	Attempts      int         `json:"attempts"`
	LastError     string      `json:"last_error,omitempty"`
	LastErrorKind string      `json:"last_error_kind,omitempty"`
	NextAttempt   time.Time   `json:"next_attempt,omitempty"`
	UnknownCount  int         `json:"unknown_count,omitempty"`
}

var (
	ErrNoTargets    = errors.New("item has no targets")
	ErrInvalidState = errors.New("invalid state transition")
)

// Item is one piece of content scheduled for publication to one or more
// targets. Fields are exported for checkpoint serialization; all mutation
// happens under the owning queue's lock.
type Item struct {
	ID          string                   `json:"id"`
	Content     Content                  `json:"content"`
	Targets     []string                 `json:"targets"`
	ScheduledAt time.Time                `json:"scheduled_at"`
	State       State                    `json:"state"`
	Status      map[string]*TargetStatus `json:"status"`
	CreatedAt   time.Time                `json:"created_at"`
	CompletedAt time.Time                `json:"completed_at,omitempty"`
}

// New builds a pending item. The scheduled time may be in the past (due
// immediately). An empty target set is rejected.
func New(id string, content Content, targets []string, at, now time.Time) (*Item, error) {
	if len(targets) == 0 {
		return nil, ErrNoTargets
	}
	st := make(map[string]*TargetStatus, len(targets))
	for _, t := range targets {
		st[t] = &TargetStatus{State: TargetPending}
	}
	return &Item{
		ID:          id,
		Content:     content,
		Targets:     targets,
		ScheduledAt: at,
		State:       StatePending,
		Status:      st,
		CreatedAt:   now,
	}, nil
}

// Advance moves the item forward to s. Backward moves (other than the
// pending/rate_limited loop) and transitions out of a terminal state are
// rejected.
func (it *Item) Advance(s State) error {
	if it.State == s {
		return nil
	}
	if it.State.Terminal() {
		return ErrInvalidState
	}
	if s == StateCancelled {
		it.State = StateCancelled
		return nil
	}
	if s.rank() < it.State.rank() {
		return ErrInvalidState
	}
	it.State = s
	return nil
}

// Resolved reports whether every target sub-status is terminal.
func (it *Item) Resolved() bool {
	for _, st := range it.Status {
		if !st.State.Terminal() {
			return false
		}
	}
	return true
}

// Resolve computes the terminal item state from the sub-statuses: completed
// iff all targets succeeded, failed iff all failed, partial otherwise. It is
// a no-op unless every sub-status is terminal.
func (it *Item) Resolve(now time.Time) State {
	if it.State.Terminal() || !it.Resolved() {
		return it.State
	}
	succeeded, failed := 0, 0
	for _, st := range it.Status {
		switch st.State {
		case TargetSucceeded:
			succeeded++
		case TargetFailed:
			failed++
		}
	}
	switch {
	case failed == 0:
		it.State = StateCompleted
	case succeeded == 0:
		it.State = StateFailed
	default:
		it.State = StatePartial
	}
	it.CompletedAt = now
	return it.State
}

// DueTargets returns the targets eligible for dispatch at now: pending
// sub-statuses, and retry-scheduled ones whose next attempt time has passed.
func (it *Item) DueTargets(now time.Time) []string {
	var due []string
	for _, t := range it.Targets {
		st := it.Status[t]
		if st == nil {
			continue
		}
		switch st.State {
		case TargetPending:
			if st.NextAttempt.IsZero() || !now.Before(st.NextAttempt) {
				due = append(due, t)
			}
		case TargetRetryScheduled:
			if !now.Before(st.NextAttempt) {
				due = append(due, t)
			}
		}
	}
	return due
}
