package ratewindow

import (
	"testing"
	"time"
)

func testConfig(hourly, daily int) Config {
	return Config{Default: Caps{Hourly: hourly, Daily: daily}}
}

func TestHourlyCap(t *testing.T) {
	k := NewKeeper(testConfig(2, 100))
	now := time.Now()

	if !k.CanDispatch("x", now) {
		t.Fatal("fresh target should be dispatchable")
	}
	k.Record("x", now)
	k.Record("x", now.Add(time.Minute))

	if k.CanDispatch("x", now.Add(2*time.Minute)) {
		t.Fatal("dispatch allowed above hourly cap")
	}
	// The oldest entry leaves the hour window and frees a slot.
	if !k.CanDispatch("x", now.Add(61*time.Minute)) {
		t.Fatal("dispatch still blocked after oldest entry expired")
	}
}

func TestDailyCap(t *testing.T) {
	k := NewKeeper(testConfig(100, 3))
	now := time.Now()
	for i := 0; i < 3; i++ {
		k.Record("x", now.Add(time.Duration(i)*2*time.Hour))
	}
	at := now.Add(7 * time.Hour)
	if k.CanDispatch("x", at) {
		t.Fatal("dispatch allowed above daily cap")
	}
	// Hourly count is zero here, so the wait comes from the daily window:
	// until the oldest entry leaves it, with no floor applied.
	wait := k.WaitTime("x", at)
	want := 24*time.Hour - at.Sub(now)
	if wait != want {
		t.Fatalf("daily WaitTime = %v, want %v", wait, want)
	}
}

func TestHourlyWaitFloor(t *testing.T) {
	k := NewKeeper(testConfig(1, 100))
	now := time.Now()
	// Recorded 59 minutes ago: the raw wait would be 1 minute, but hourly
	// waits are floored at MinWait.
	k.Record("x", now.Add(-59*time.Minute))

	if got := k.WaitTime("x", now); got != MinWait {
		t.Fatalf("WaitTime = %v, want floor %v", got, MinWait)
	}
}

func TestHourlyWaitTracksOldestEntry(t *testing.T) {
	k := NewKeeper(testConfig(2, 100))
	now := time.Now()
	k.Record("x", now.Add(-30*time.Minute))
	k.Record("x", now.Add(-10*time.Minute))

	// Oldest hour-window entry is 30 minutes old; wait is the remaining 30.
	if got := k.WaitTime("x", now); got != 30*time.Minute {
		t.Fatalf("WaitTime = %v, want 30m", got)
	}
	if got := k.WaitTime("x", now.Add(10*time.Minute)); got != 20*time.Minute {
		t.Fatalf("WaitTime after 10m = %v, want 20m", got)
	}
}

func TestWaitTimeZeroUnderCaps(t *testing.T) {
	k := NewKeeper(testConfig(5, 20))
	if got := k.WaitTime("x", time.Now()); got != 0 {
		t.Fatalf("WaitTime under caps = %v, want 0", got)
	}
}

func TestPerTargetOverride(t *testing.T) {
	cfg := testConfig(5, 20)
	cfg.Targets = map[string]Caps{"strict": {Hourly: 1, Daily: 2}}
	k := NewKeeper(cfg)
	now := time.Now()

	k.Record("strict", now)
	k.Record("loose", now)

	if k.CanDispatch("strict", now.Add(time.Second)) {
		t.Fatal("override cap not applied")
	}
	if !k.CanDispatch("loose", now.Add(time.Second)) {
		t.Fatal("default cap target blocked prematurely")
	}
}

func TestApplyKeepsHistory(t *testing.T) {
	k := NewKeeper(testConfig(1, 20))
	now := time.Now()
	k.Record("x", now)
	if k.CanDispatch("x", now.Add(time.Second)) {
		t.Fatal("dispatch allowed above cap")
	}

	k.Apply(testConfig(5, 20))
	if !k.CanDispatch("x", now.Add(time.Second)) {
		t.Fatal("raised cap not applied to existing window")
	}
	if h, _ := k.Counts("x", now.Add(time.Second)); h != 1 {
		t.Fatalf("history lost on Apply: hourly = %d, want 1", h)
	}
}

func TestSnapshotRestore(t *testing.T) {
	k := NewKeeper(testConfig(5, 20))
	now := time.Now()
	k.Record("a", now)
	k.Record("a", now.Add(time.Minute))
	k.Record("b", now)

	snap := k.Snapshot()

	k2 := NewKeeper(testConfig(5, 20))
	k2.Restore(snap)

	at := now.Add(2 * time.Minute)
	if h, d := k2.Counts("a", at); h != 2 || d != 2 {
		t.Fatalf("restored counts for a = (%d, %d), want (2, 2)", h, d)
	}
	if h, _ := k2.Counts("b", at); h != 1 {
		t.Fatalf("restored hourly count for b = %d, want 1", h)
	}
}

func TestRecordKeepsOrder(t *testing.T) {
	k := NewKeeper(testConfig(10, 100))
	now := time.Now()
	// Out-of-order completion times must not corrupt the window.
	k.Record("x", now)
	k.Record("x", now.Add(-time.Minute))
	k.Record("x", now.Add(time.Minute))

	if h, d := k.Counts("x", now.Add(2*time.Minute)); h != 3 || d != 3 {
		t.Fatalf("counts = (%d, %d), want (3, 3)", h, d)
	}
}
