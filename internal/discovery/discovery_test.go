package discovery

import (
	"context"
	"testing"
	"time"

	"github.com/northbeam/binarb/internal/domain"
)

func TestSubscribeReplaysSeed(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	seed := []domain.MarketTuple{
		{MarketID: "m1", UpToken: "up1", DownToken: "down1"},
		{MarketID: "m2", UpToken: "up2", DownToken: "down2"},
	}
	c := NewStaticClient(seed)

	ch, err := c.Subscribe(ctx)
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}

	for i, want := range seed {
		select {
		case got := <-ch:
			if got.MarketID != want.MarketID {
				t.Fatalf("tuple %d: got %q, want %q", i, got.MarketID, want.MarketID)
			}
		case <-time.After(time.Second):
			t.Fatalf("tuple %d: timed out waiting for seed replay", i)
		}
	}
}

func TestPushBroadcastsToSubscribers(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	c := NewStaticClient(nil)
	ch, err := c.Subscribe(ctx)
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}

	c.Push(domain.MarketTuple{MarketID: "m3"})

	select {
	case got := <-ch:
		if got.MarketID != "m3" {
			t.Fatalf("got %q, want m3", got.MarketID)
		}
	case <-time.After(time.Second):
		t.Fatalf("timed out waiting for pushed tuple")
	}
}

func TestSubscribeClosesOnContextCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())

	c := NewStaticClient(nil)
	ch, err := c.Subscribe(ctx)
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}

	cancel()

	select {
	case _, ok := <-ch:
		if ok {
			t.Fatalf("expected channel to be closed after context cancel")
		}
	case <-time.After(time.Second):
		t.Fatalf("timed out waiting for channel close")
	}
}
