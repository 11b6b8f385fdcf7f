// Package monitor aggregates publish outcomes into success-rate, per-target,
// and health metrics, and exposes them both as queryable values and as
// Prometheus instruments.
package monitor

import (
	"sort"
	"sync"
	"time"

	"postpilot/internal/retry"
)

// Config holds the health thresholds.
type Config struct {
	// FailureRateMax is the trailing-hour failure-rate ceiling (0..1) above
	// which the engine reports unhealthy. Default 0.5.
	FailureRateMax float64
	// FailedItemsMax is the ceiling on terminally failed items within the
	// horizon. Default 10.
	FailedItemsMax int
	// Horizon bounds how long failed-item records are retained. Default 24h.
	Horizon time.Duration
	// DurationSamples bounds the per-target attempt-duration ring used for
	// percentiles. Default 512.
	DurationSamples int
}

func (c Config) withDefaults() Config {
	if c.FailureRateMax <= 0 {
		c.FailureRateMax = 0.5
	}
	if c.FailedItemsMax <= 0 {
		c.FailedItemsMax = 10
	}
	if c.Horizon <= 0 {
		c.Horizon = 24 * time.Hour
	}
	if c.DurationSamples <= 0 {
		c.DurationSamples = 512
	}
	return c
}

// FailedJob is one terminally failed (item, target) record, with enough
// detail to diagnose without inspecting internal state.
type FailedJob struct {
	ItemID    string     `json:"item_id"`
	Target    string     `json:"target"`
	Kind      retry.Kind `json:"kind"`
	LastError string     `json:"last_error"`
	Attempts  int        `json:"attempts"`
	FailedAt  time.Time  `json:"failed_at"`
}

// TargetStats is the per-target aggregate view.
type TargetStats struct {
	Target    string        `json:"target"`
	Attempts  uint64        `json:"attempts"`
	Successes uint64        `json:"successes"`
	Failures  uint64        `json:"failures"`
	P95       time.Duration `json:"p95"`
}

// JobMetrics is the global aggregate view.
type JobMetrics struct {
	Attempts    uint64        `json:"attempts"`
	Successes   uint64        `json:"successes"`
	Failures    uint64        `json:"failures"`
	SuccessRate float64       `json:"success_rate"`
	Targets     []TargetStats `json:"targets"`
}

// Health is the answer to get_health_status.
type Health struct {
	Healthy         bool    `json:"healthy"`
	HourAttempts    uint64  `json:"hour_attempts"`
	HourFailures    uint64  `json:"hour_failures"`
	HourFailureRate float64 `json:"hour_failure_rate"`
	FailedItems     int     `json:"failed_items"`
}

type targetStats struct {
	attempts  uint64
	successes uint64
	failures  uint64
	durations []time.Duration // ring, bounded by cfg.DurationSamples
	durPos    int
	durFull   bool
}

// minuteBucket aggregates attempts/failures at minute resolution; sixty of
// them make up the trailing-hour view.
type minuteBucket struct {
	minute   int64 // unix minute
	attempts uint64
	failures uint64
}

// Monitor is safe for concurrent use; a single mutex suffices since updates
// are tiny counter bumps.
type Monitor struct {
	mu  sync.Mutex
	cfg Config

	global  targetStats
	targets map[string]*targetStats
	hour    [60]minuteBucket

	failedJobs  []FailedJob
	failedItems []failedItem

	inst *Instruments
}

type failedItem struct {
	itemID string
	at     time.Time
}

func New(cfg Config) *Monitor {
	return &Monitor{cfg: cfg.withDefaults(), targets: map[string]*targetStats{}}
}

// SetInstruments attaches Prometheus instruments; nil detaches them.
func (m *Monitor) SetInstruments(inst *Instruments) {
	m.mu.Lock()
	m.inst = inst
	m.mu.Unlock()
}

// Apply swaps the health thresholds at runtime.
func (m *Monitor) Apply(cfg Config) {
	m.mu.Lock()
	m.cfg = cfg.withDefaults()
	m.mu.Unlock()
}

func (m *Monitor) targetFor(name string) *targetStats {
	ts := m.targets[name]
	if ts == nil {
		ts = &targetStats{}
		m.targets[name] = ts
	}
	return ts
}

func (ts *targetStats) observe(d time.Duration, max int) {
	if len(ts.durations) < max {
		ts.durations = append(ts.durations, d)
		return
	}
	ts.durations[ts.durPos] = d
	ts.durPos = (ts.durPos + 1) % max
	ts.durFull = true
}

func (m *Monitor) bucketFor(now time.Time) *minuteBucket {
	min := now.Unix() / 60
	b := &m.hour[min%60]
	if b.minute != min {
		*b = minuteBucket{minute: min}
	}
	return b
}

// RecordSuccess records a successful publish attempt for target.
func (m *Monitor) RecordSuccess(target string, d time.Duration, now time.Time) {
	m.mu.Lock()
	ts := m.targetFor(target)
	ts.attempts++
	ts.successes++
	ts.observe(d, m.cfg.DurationSamples)
	m.global.attempts++
	m.global.successes++
	b := m.bucketFor(now)
	b.attempts++
	inst := m.inst
	m.mu.Unlock()

	if inst != nil {
		inst.observeSuccess(target, d)
	}
}

// RecordFailure records a failed publish attempt for target. Terminal
// per-target failures additionally go through RecordFailedJob.
func (m *Monitor) RecordFailure(target string, kind retry.Kind, d time.Duration, now time.Time) {
	m.mu.Lock()
	ts := m.targetFor(target)
	ts.attempts++
	ts.failures++
	ts.observe(d, m.cfg.DurationSamples)
	m.global.attempts++
	m.global.failures++
	b := m.bucketFor(now)
	b.attempts++
	b.failures++
	inst := m.inst
	m.mu.Unlock()

	if inst != nil {
		inst.observeFailure(target, kind, d)
	}
}

// RecordFailedJob records a terminally failed (item, target) pair.
func (m *Monitor) RecordFailedJob(job FailedJob) {
	m.mu.Lock()
	m.failedJobs = append(m.failedJobs, job)
	m.pruneLocked(job.FailedAt)
	m.mu.Unlock()
}

// RecordItemFailed notes an item that resolved to the failed state; the
// health check counts these within the horizon.
func (m *Monitor) RecordItemFailed(itemID string, now time.Time) {
	m.mu.Lock()
	m.failedItems = append(m.failedItems, failedItem{itemID: itemID, at: now})
	m.pruneLocked(now)
	m.mu.Unlock()
}

func (m *Monitor) pruneLocked(now time.Time) {
	cut := now.Add(-m.cfg.Horizon)
	i := 0
	for i < len(m.failedJobs) && m.failedJobs[i].FailedAt.Before(cut) {
		i++
	}
	if i > 0 {
		m.failedJobs = append(m.failedJobs[:0], m.failedJobs[i:]...)
	}
	j := 0
	for j < len(m.failedItems) && m.failedItems[j].at.Before(cut) {
		j++
	}
	if j > 0 {
		m.failedItems = append(m.failedItems[:0], m.failedItems[j:]...)
	}
}

// Prune drops horizon-expired records; wired to the housekeeping cron.
func (m *Monitor) Prune(now time.Time) {
	m.mu.Lock()
	m.pruneLocked(now)
	m.mu.Unlock()
}

// SuccessRate returns successes/(successes+failures), 0 with no attempts.
func (m *Monitor) SuccessRate() float64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return rate(m.global.successes, m.global.failures)
}

func rate(successes, failures uint64) float64 {
	total := successes + failures
	if total == 0 {
		return 0
	}
	return float64(successes) / float64(total)
}

// Metrics returns the aggregate view for get_job_metrics.
func (m *Monitor) Metrics() JobMetrics {
	m.mu.Lock()
	defer m.mu.Unlock()
	jm := JobMetrics{
		Attempts:    m.global.attempts,
		Successes:   m.global.successes,
		Failures:    m.global.failures,
		SuccessRate: rate(m.global.successes, m.global.failures),
	}
	names := make([]string, 0, len(m.targets))
	for name := range m.targets {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		ts := m.targets[name]
		jm.Targets = append(jm.Targets, TargetStats{
			Target:    name,
			Attempts:  ts.attempts,
			Successes: ts.successes,
			Failures:  ts.failures,
			P95:       percentileLocked(ts, 0.95),
		})
	}
	return jm
}

// Percentile returns the p-th percentile (0..1) of recorded attempt
// durations for target, 0 if none recorded.
func (m *Monitor) Percentile(target string, p float64) time.Duration {
	m.mu.Lock()
	defer m.mu.Unlock()
	ts := m.targets[target]
	if ts == nil {
		return 0
	}
	return percentileLocked(ts, p)
}

func percentileLocked(ts *targetStats, p float64) time.Duration {
	n := len(ts.durations)
	if n == 0 {
		return 0
	}
	sorted := append([]time.Duration(nil), ts.durations...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })
	idx := int(p * float64(n-1))
	if idx < 0 {
		idx = 0
	}
	if idx >= n {
		idx = n - 1
	}
	return sorted[idx]
}

// FailedJobs lists terminally failed (item, target) records, newest last.
func (m *Monitor) FailedJobs() []FailedJob {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]FailedJob(nil), m.failedJobs...)
}

// HealthStatus reports overall health: the trailing-hour failure rate must
// stay below FailureRateMax and failed items within the horizon below
// FailedItemsMax.
func (m *Monitor) HealthStatus(now time.Time) Health {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.pruneLocked(now)

	var attempts, failures uint64
	minNow := now.Unix() / 60
	for _, b := range m.hour {
		if b.minute == 0 || minNow-b.minute >= 60 {
			continue
		}
		attempts += b.attempts
		failures += b.failures
	}

	h := Health{
		HourAttempts: attempts,
		HourFailures: failures,
		FailedItems:  len(m.failedItems),
	}
	if attempts > 0 {
		h.HourFailureRate = float64(failures) / float64(attempts)
	}
	h.Healthy = h.HourFailureRate < m.cfg.FailureRateMax && h.FailedItems < m.cfg.FailedItemsMax

	if m.inst != nil {
		m.inst.setHealthy(h.Healthy)
	}
	return h
}
