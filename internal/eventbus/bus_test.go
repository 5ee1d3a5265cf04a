package eventbus

import (
	"testing"
	"time"

	"github.com/northbeam/binarb/internal/domain"
)

func TestPublishFanOut(t *testing.T) {
	b := New(4)
	ch1, cancel1 := b.Subscribe()
	defer cancel1()
	ch2, cancel2 := b.Subscribe()
	defer cancel2()

	b.Publish(domain.ArbEvent{Type: domain.EventOpportunityDetected, MarketID: "m1"})

	select {
	case evt := <-ch1:
		if evt.MarketID != "m1" {
			t.Fatalf("unexpected event %+v", evt)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting on subscriber 1")
	}
	select {
	case evt := <-ch2:
		if evt.MarketID != "m1" {
			t.Fatalf("unexpected event %+v", evt)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting on subscriber 2")
	}
}

func TestSlowSubscriberDroppedNotBlocked(t *testing.T) {
	b := New(1)
	_, cancel := b.Subscribe()
	defer cancel()

	// Fill buffer, then publish again: must not block.
	done := make(chan struct{})
	go func() {
		for i := 0; i < 10; i++ {
			b.Publish(domain.ArbEvent{Type: domain.EventOrderFilled})
		}
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Publish blocked on a slow subscriber")
	}
}

func TestCancelUnsubscribes(t *testing.T) {
	b := New(4)
	_, cancel := b.Subscribe()
	if b.SubscriberCount() != 1 {
		t.Fatalf("expected 1 subscriber, got %d", b.SubscriberCount())
	}
	cancel()
	if b.SubscriberCount() != 0 {
		t.Fatalf("expected 0 subscribers after cancel, got %d", b.SubscriberCount())
	}
}
