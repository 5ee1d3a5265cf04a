package arbitrage

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/northbeam/binarb/internal/book"
	"github.com/northbeam/binarb/internal/clockwork"
	"github.com/northbeam/binarb/internal/domain"
	"github.com/northbeam/binarb/internal/eventbus"
	"github.com/northbeam/binarb/internal/registry"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelError + 1}))
}

func setup(t *testing.T) (*Detector, *book.Store, *registry.Registry, *eventbus.Bus, *clockwork.Fake) {
	t.Helper()
	clock := clockwork.NewFake(time.Unix(1_000, 0))
	books := book.New(clock)
	reg := registry.New(clock, discardLogger())
	bus := eventbus.New(16)
	d := New(books, reg, bus, clock, Config{
		MinProfitMarginTick: 20_000, // 0.02
		MinSizeTick:         1,
		FreshnessTTL:        2 * time.Second,
		Workers:             2,
	}, discardLogger())
	return d, books, reg, bus, clock
}

func mustAdd(t *testing.T, reg *registry.Registry, m domain.BinaryMarket) {
	t.Helper()
	if err := reg.Add(m); err != nil {
		t.Fatalf("add market: %v", err)
	}
}

func TestDetectorCleanArbitrage(t *testing.T) {
	d, books, reg, bus, clock := setup(t)
	mustAdd(t, reg, domain.BinaryMarket{MarketID: "m1", UpToken: "up", DownToken: "down", ExpiryTS: time.Unix(2_000, 0)})
	books.Apply(domain.BookUpdate{Token: "up", Seq: 1, HasAsk: true, BestAskTick: 400_000, BestAskSize: 100})
	books.Apply(domain.BookUpdate{Token: "down", Seq: 1, HasAsk: true, BestAskTick: 500_000, BestAskSize: 100})

	evts, cancel := bus.Subscribe()
	defer cancel()

	ctx, stop := context.WithCancel(context.Background())
	defer stop()
	go d.Run(ctx)

	var got domain.Opportunity
	d.SetHandler(func(_ context.Context, opp domain.Opportunity) { got = opp })

	d.Notify("m1")

	select {
	case evt := <-evts:
		if evt.Type != domain.EventOpportunityDetected {
			t.Fatalf("expected OpportunityDetected, got %v", evt.Type)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for detection event")
	}
	time.Sleep(10 * time.Millisecond)
	if got.MarginTick != 100_000 {
		t.Fatalf("expected margin 100000 ticks (0.10), got %d", got.MarginTick)
	}
	_ = clock
}

func TestDetectorRejectsBelowMargin(t *testing.T) {
	d, books, reg, bus, _ := setup(t)
	mustAdd(t, reg, domain.BinaryMarket{MarketID: "m1", UpToken: "up", DownToken: "down", ExpiryTS: time.Unix(2_000, 0)})
	books.Apply(domain.BookUpdate{Token: "up", Seq: 1, HasAsk: true, BestAskTick: 490_000, BestAskSize: 100})
	books.Apply(domain.BookUpdate{Token: "down", Seq: 1, HasAsk: true, BestAskTick: 500_000, BestAskSize: 100})

	evts, cancel := bus.Subscribe()
	defer cancel()
	ctx, stop := context.WithCancel(context.Background())
	defer stop()
	go d.Run(ctx)

	d.Notify("m1")

	select {
	case evt := <-evts:
		if evt.Type != domain.EventOpportunityRejected {
			t.Fatalf("expected OpportunityRejected, got %v", evt.Type)
		}
		if evt.Payload["reason"] != "BelowMinimum" {
			t.Fatalf("expected BelowMinimum, got %v", evt.Payload["reason"])
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for rejection event")
	}
}

func TestDetectorRejectsStaleBook(t *testing.T) {
	d, books, reg, bus, clock := setup(t)
	mustAdd(t, reg, domain.BinaryMarket{MarketID: "m1", UpToken: "up", DownToken: "down", ExpiryTS: time.Unix(10_000, 0)})
	books.Apply(domain.BookUpdate{Token: "up", Seq: 1, HasAsk: true, BestAskTick: 400_000, BestAskSize: 100})
	books.Apply(domain.BookUpdate{Token: "down", Seq: 1, HasAsk: true, BestAskTick: 500_000, BestAskSize: 100})
	clock.Advance(3 * time.Second)

	evts, cancel := bus.Subscribe()
	defer cancel()
	ctx, stop := context.WithCancel(context.Background())
	defer stop()
	go d.Run(ctx)

	d.Notify("m1")

	select {
	case evt := <-evts:
		if evt.Payload["reason"] != "BookStale" {
			t.Fatalf("expected BookStale, got %v", evt.Payload["reason"])
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for rejection event")
	}
}

func TestWalkLevels(t *testing.T) {
	up := []domain.BookLevel{{PriceTick: 400_000, SizeTicks: 50}, {PriceTick: 420_000, SizeTicks: 50}}
	down := []domain.BookLevel{{PriceTick: 500_000, SizeTicks: 50}, {PriceTick: 500_000, SizeTicks: 50}}

	size, avgUp, avgDown := WalkLevels(up, down, 0, 20_000, 5)
	if size != 100 {
		t.Fatalf("expected to walk both levels (size 100), got %d", size)
	}
	if avgUp != 410_000 || avgDown != 500_000 {
		t.Fatalf("unexpected averages up=%d down=%d", avgUp, avgDown)
	}
}

func TestWalkLevelsStopsWhenMarginInsufficient(t *testing.T) {
	up := []domain.BookLevel{{PriceTick: 400_000, SizeTicks: 50}, {PriceTick: 490_000, SizeTicks: 50}}
	down := []domain.BookLevel{{PriceTick: 500_000, SizeTicks: 50}, {PriceTick: 500_000, SizeTicks: 50}}

	size, _, _ := WalkLevels(up, down, 0, 20_000, 5)
	if size != 50 {
		t.Fatalf("expected to stop after first level (size 50), got %d", size)
	}
}
