package eventbus

import (
	"testing"
	"time"
)

func TestPublishFanout(t *testing.T) {
	b := New()
	ch1, unsub1 := b.Subscribe(4)
	ch2, unsub2 := b.Subscribe(4)
	defer unsub1()
	defer unsub2()

	b.Publish(Event{Type: TypeSucceeded, ItemID: "a", Target: "t"})

	for i, ch := range []<-chan Event{ch1, ch2} {
		select {
		case e := <-ch:
			if e.Type != TypeSucceeded || e.ItemID != "a" {
				t.Fatalf("subscriber %d got %+v", i, e)
			}
			if e.Time.IsZero() {
				t.Fatalf("subscriber %d: Time not stamped", i)
			}
		case <-time.After(time.Second):
			t.Fatalf("subscriber %d received nothing", i)
		}
	}
}

func TestPublishNeverBlocks(t *testing.T) {
	b := New()
	_, unsub := b.Subscribe(1)
	defer unsub()

	done := make(chan struct{})
	go func() {
		defer close(done)
		// Far more events than the buffer holds; extras are dropped.
		for i := 0; i < 100; i++ {
			b.Publish(Event{Type: TypeDispatched})
		}
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Publish blocked on a slow subscriber")
	}
}

func TestUnsubscribeStopsDelivery(t *testing.T) {
	b := New()
	ch, unsub := b.Subscribe(4)
	unsub()

	// Channel is closed; publishing afterwards must not panic.
	b.Publish(Event{Type: TypeFailed})

	if _, ok := <-ch; ok {
		t.Fatal("read from unsubscribed channel returned an event")
	}

	// Unsubscribe is idempotent.
	unsub()
}
