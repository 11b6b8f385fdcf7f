package session

import (
	"testing"
	"time"
)

func TestGetMissThenHit(t *testing.T) {
	c := NewCache(time.Hour)
	now := time.Now()

	if _, ok := c.Get("mastodon", now); ok {
		t.Fatal("Get on empty cache returned a session")
	}

	c.Put("mastodon", "handle-1", now)
	s, ok := c.Get("mastodon", now.Add(30*time.Minute))
	if !ok {
		t.Fatal("Get within TTL returned no session")
	}
	if s.Handle != "handle-1" {
		t.Fatalf("Handle = %v, want handle-1", s.Handle)
	}
}

func TestExpiryEvictsOnRead(t *testing.T) {
	c := NewCache(time.Hour)
	now := time.Now()
	c.Put("x", "h", now)

	if _, ok := c.Get("x", now.Add(time.Hour)); ok {
		t.Fatal("Get at exactly TTL returned a session")
	}
	if c.Len() != 0 {
		t.Fatalf("Len after expiry eviction = %d, want 0", c.Len())
	}
}

func TestPutOverwrites(t *testing.T) {
	c := NewCache(time.Hour)
	now := time.Now()
	c.Put("x", "old", now)
	c.Put("x", "new", now.Add(time.Minute))

	s, ok := c.Get("x", now.Add(2*time.Minute))
	if !ok || s.Handle != "new" {
		t.Fatalf("Get after overwrite = (%v, %v), want (new, true)", s.Handle, ok)
	}
	// TTL restarts from the second Put.
	if _, ok := c.Get("x", now.Add(time.Minute+time.Hour)); ok {
		t.Fatal("session should have expired an hour after the second Put")
	}
}

func TestInvalidate(t *testing.T) {
	c := NewCache(time.Hour)
	now := time.Now()
	c.Put("x", "h", now)
	c.Invalidate("x")
	if _, ok := c.Get("x", now); ok {
		t.Fatal("Get after Invalidate returned a session")
	}
	// Invalidating an absent target is a no-op.
	c.Invalidate("y")
}
