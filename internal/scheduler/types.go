package scheduler

import (
	"errors"
	"sync"
	"time"

	"postpilot/internal/post"
	"postpilot/internal/publish"
	"postpilot/internal/ratewindow"
	"postpilot/internal/retry"
)

// Config controls the scheduling engine.
type Config struct {
	Enabled bool
	// Workers bounds concurrent publish operations. Default 3.
	Workers int
	// QueueSize is the dispatch channel buffer. Default 64.
	QueueSize int
	// DrainInterval is how often the loop polls for due items. Default 1s.
	DrainInterval time.Duration
	// DispatchPerSec smooths dispatches across all targets on top of the
	// per-target windows. Default 5.
	DispatchPerSec int
	// LoginTimeout and PublishTimeout bound the external calls. Defaults
	// 30s each.
	LoginTimeout   time.Duration
	PublishTimeout time.Duration
	// SessionTTL is the cached-session lifetime. Default 1h.
	SessionTTL time.Duration
	// CleanupHorizon is how long terminal items are retained. Default 24h.
	CleanupHorizon time.Duration
	// CleanupEvery and CheckpointEvery drive the housekeeping cron.
	// Defaults 10m and 30s.
	CleanupEvery    time.Duration
	CheckpointEvery time.Duration

	Retry retry.Policy
	Rate  ratewindow.Config
}

func (c Config) withDefaults() Config {
	if c.Workers <= 0 {
		c.Workers = 3
	}
	if c.QueueSize <= 0 {
		c.QueueSize = 64
	}
	if c.DrainInterval <= 0 {
		c.DrainInterval = time.Second
	}
	if c.DispatchPerSec <= 0 {
		c.DispatchPerSec = 5
	}
	if c.LoginTimeout <= 0 {
		c.LoginTimeout = 30 * time.Second
	}
	if c.PublishTimeout <= 0 {
		c.PublishTimeout = 30 * time.Second
	}
	if c.SessionTTL <= 0 {
		c.SessionTTL = time.Hour
	}
	if c.CleanupHorizon <= 0 {
		c.CleanupHorizon = 24 * time.Hour
	}
	if c.CleanupEvery <= 0 {
		c.CleanupEvery = 10 * time.Minute
	}
	if c.CheckpointEvery <= 0 {
		c.CheckpointEvery = 30 * time.Second
	}
	return c
}

var (
	ErrDisabled      = errors.New("scheduler disabled")
	ErrStopped       = errors.New("scheduler stopped")
	ErrUnknownTarget = errors.New("unknown target")
)

// targetBinding couples a registered target with its publish capability and
// an in-flight gate. The gate serializes dispatches per target, which makes
// the cap check and the eventual rate-window record one atomic step relative
// to other dispatch attempts for that target.
type targetBinding struct {
	name  string
	pub   publish.Publisher
	creds publish.Credentials
	gate  inflightGate
}

type inflightGate struct {
	mu   sync.Mutex
	busy bool
}

func (g *inflightGate) tryAcquire() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.busy {
		return false
	}
	g.busy = true
	return true
}

func (g *inflightGate) release() {
	g.mu.Lock()
	g.busy = false
	g.mu.Unlock()
}

// dispatchJob is handed to a pool worker: everything needed to publish one
// (item, target) pair without touching item state.
type dispatchJob struct {
	itemID  string
	target  string
	binding *targetBinding
	req     publish.Request
}

// dispatchResult is the worker's completion report, applied by the loop.
type dispatchResult struct {
	job      dispatchJob
	receipt  publish.Receipt
	err      error
	started  time.Time
	finished time.Time
}

// QueueStatus is the counts-by-state view for get_queue_status.
type QueueStatus struct {
	Pending     int `json:"pending"`
	RateLimited int `json:"rate_limited"`
	Running     int `json:"running"`
	Partial     int `json:"partial"`
	Completed   int `json:"completed"`
	Failed      int `json:"failed"`
	Cancelled   int `json:"cancelled"`
	Total       int `json:"total"`
}

func statusFromCounts(counts map[post.State]int) QueueStatus {
	st := QueueStatus{
		Pending:     counts[post.StatePending],
		RateLimited: counts[post.StateRateLimited],
		Running:     counts[post.StateRunning],
		Partial:     counts[post.StatePartial],
		Completed:   counts[post.StateCompleted],
		Failed:      counts[post.StateFailed],
		Cancelled:   counts[post.StateCancelled],
	}
	for _, n := range counts {
		st.Total += n
	}
	return st
}

// Snapshot is a lightweight diagnostics view.
type Snapshot struct {
	Enabled        bool          `json:"enabled"`
	Workers        int           `json:"workers"`
	Targets        []string      `json:"targets"`
	QueueLen       int           `json:"queue_len"`
	PendingIndexed int           `json:"pending_indexed"`
	SessionsCached int           `json:"sessions_cached"`
	Dispatched     uint64        `json:"dispatched"`
	DroppedFull    uint64        `json:"dropped_full"`
	DrainInterval  time.Duration `json:"drain_interval"`
}
