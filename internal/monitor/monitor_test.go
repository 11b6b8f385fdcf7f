package monitor

import (
	"testing"
	"time"

	"postpilot/internal/retry"
)

func TestSuccessRate(t *testing.T) {
	m := New(Config{})
	now := time.Now()

	if got := m.SuccessRate(); got != 0 {
		t.Fatalf("SuccessRate with no attempts = %v, want 0", got)
	}

	m.RecordSuccess("a", time.Second, now)
	m.RecordSuccess("a", time.Second, now)
	m.RecordFailure("a", retry.KindTransientNetwork, time.Second, now)

	want := 2.0 / 3.0
	if got := m.SuccessRate(); got != want {
		t.Fatalf("SuccessRate = %v, want %v", got, want)
	}
}

func TestMetricsPerTarget(t *testing.T) {
	m := New(Config{})
	now := time.Now()
	m.RecordSuccess("a", 100*time.Millisecond, now)
	m.RecordFailure("b", retry.KindRateLimited, 200*time.Millisecond, now)

	jm := m.Metrics()
	if jm.Attempts != 2 || jm.Successes != 1 || jm.Failures != 1 {
		t.Fatalf("global = %+v", jm)
	}
	if len(jm.Targets) != 2 {
		t.Fatalf("Targets = %d, want 2", len(jm.Targets))
	}
	// Sorted by name.
	if jm.Targets[0].Target != "a" || jm.Targets[1].Target != "b" {
		t.Fatalf("target order = %v, %v", jm.Targets[0].Target, jm.Targets[1].Target)
	}
	if jm.Targets[0].Successes != 1 || jm.Targets[1].Failures != 1 {
		t.Fatalf("per-target counts wrong: %+v", jm.Targets)
	}
}

func TestPercentile(t *testing.T) {
	m := New(Config{})
	now := time.Now()
	for i := 1; i <= 100; i++ {
		m.RecordSuccess("a", time.Duration(i)*time.Millisecond, now)
	}
	got := m.Percentile("a", 0.95)
	if got < 90*time.Millisecond || got > 100*time.Millisecond {
		t.Fatalf("p95 = %v, want within [90ms, 100ms]", got)
	}
	if m.Percentile("missing", 0.95) != 0 {
		t.Fatal("percentile for unknown target should be 0")
	}
}

func TestHealthFailureRate(t *testing.T) {
	m := New(Config{FailureRateMax: 0.5, FailedItemsMax: 10})
	now := time.Now()

	// Empty window is healthy.
	if h := m.HealthStatus(now); !h.Healthy {
		t.Fatalf("empty monitor unhealthy: %+v", h)
	}

	m.RecordSuccess("a", time.Second, now)
	m.RecordFailure("a", retry.KindTransientNetwork, time.Second, now)
	// 1/2 failures is not below the 0.5 ceiling.
	if h := m.HealthStatus(now); h.Healthy {
		t.Fatalf("50%% failure rate reported healthy: %+v", h)
	}

	m.RecordSuccess("a", time.Second, now)
	m.RecordSuccess("a", time.Second, now)
	// 1/4 is below it.
	if h := m.HealthStatus(now); !h.Healthy {
		t.Fatalf("25%% failure rate reported unhealthy: %+v", h)
	}
}

func TestHealthFailedItemsCeiling(t *testing.T) {
	m := New(Config{FailureRateMax: 0.5, FailedItemsMax: 2})
	now := time.Now()

	m.RecordItemFailed("item-1", now)
	if h := m.HealthStatus(now); !h.Healthy {
		t.Fatalf("one failed item below ceiling reported unhealthy: %+v", h)
	}
	m.RecordItemFailed("item-2", now)
	if h := m.HealthStatus(now); h.Healthy {
		t.Fatalf("failed items at ceiling reported healthy: %+v", h)
	}

	// Horizon-expired records stop counting.
	if h := m.HealthStatus(now.Add(25 * time.Hour)); !h.Healthy {
		t.Fatalf("expired failed items still counted: %+v", h)
	}
}

func TestHourWindowExpires(t *testing.T) {
	m := New(Config{FailureRateMax: 0.5})
	now := time.Now()
	m.RecordFailure("a", retry.KindTransientNetwork, time.Second, now)

	if h := m.HealthStatus(now); h.Healthy {
		t.Fatalf("100%% failure rate reported healthy: %+v", h)
	}
	h := m.HealthStatus(now.Add(2 * time.Hour))
	if !h.Healthy || h.HourAttempts != 0 {
		t.Fatalf("trailing hour did not expire: %+v", h)
	}
}

func TestFailedJobsRetention(t *testing.T) {
	m := New(Config{Horizon: 24 * time.Hour})
	now := time.Now()

	m.RecordFailedJob(FailedJob{ItemID: "a", Target: "t", Kind: retry.KindAuthFailure, FailedAt: now.Add(-30 * time.Hour)})
	m.RecordFailedJob(FailedJob{ItemID: "b", Target: "t", Kind: retry.KindUnknown, FailedAt: now})

	m.Prune(now)
	jobs := m.FailedJobs()
	if len(jobs) != 1 || jobs[0].ItemID != "b" {
		t.Fatalf("FailedJobs after prune = %+v, want only b", jobs)
	}
}
