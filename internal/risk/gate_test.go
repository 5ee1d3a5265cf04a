package risk

import (
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/northbeam/binarb/internal/clockwork"
	"github.com/northbeam/binarb/internal/domain"
	"github.com/northbeam/binarb/internal/eventbus"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelError + 1}))
}

func TestEvaluateAndReleaseKeepsInvariant(t *testing.T) {
	clock := clockwork.NewFake(time.Unix(1000, 0))
	bus := eventbus.New(8)
	g := New(1_000_000_000, Config{ // 1000 units of notional
		MaxBetSizeTick:      100_000_000, // 100
		MaxBankrollFraction: 0.05,
		MinNotionalTick:     1_000_000,
		ReservationTTL:      10 * time.Second,
	}, clock, bus, discardLogger())

	opp := domain.Opportunity{
		MarketID:     "m1",
		AskUpTick:    400_000,
		AskDownTick:  500_000,
		SizeUpTick:   100_000_000,
		SizeDownTick: 100_000_000,
		MarginTick:   100_000,
	}

	res, err := g.Evaluate(opp)
	if err != nil {
		t.Fatalf("evaluate: %v", err)
	}
	if res.NotionalTick <= 0 {
		t.Fatalf("expected positive notional, got %d", res.NotionalTick)
	}

	bk := g.Bankroll()
	if bk.Available+bk.Reserved != bk.Total {
		t.Fatalf("invariant violated after evaluate: %+v", bk)
	}

	if err := g.Release("m1", 10_000_000); err != nil {
		t.Fatalf("release: %v", err)
	}
	bk = g.Bankroll()
	if bk.Available+bk.Reserved != bk.Total {
		t.Fatalf("invariant violated after release: %+v", bk)
	}
	if bk.Reserved != 0 {
		t.Fatalf("expected reserved to be zero after release, got %d", bk.Reserved)
	}
}

func TestEvaluateRejectsInFlight(t *testing.T) {
	clock := clockwork.NewFake(time.Unix(1000, 0))
	bus := eventbus.New(8)
	g := New(1_000_000_000, Config{
		MaxBetSizeTick:      100_000_000,
		MaxBankrollFraction: 0.5,
		MinNotionalTick:     1,
		ReservationTTL:      10 * time.Second,
	}, clock, bus, discardLogger())

	opp := domain.Opportunity{MarketID: "m1", AskUpTick: 400_000, AskDownTick: 500_000, SizeUpTick: 100, SizeDownTick: 100}
	if _, err := g.Evaluate(opp); err != nil {
		t.Fatalf("first evaluate: %v", err)
	}
	if _, err := g.Evaluate(opp); err != domain.ErrInFlight {
		t.Fatalf("expected ErrInFlight, got %v", err)
	}
}

func TestEvaluateCapsAtBankrollFraction(t *testing.T) {
	clock := clockwork.NewFake(time.Unix(1000, 0))
	bus := eventbus.New(8)
	// total = 1000 units, fraction 0.05 -> max affordable 50 units of notional.
	g := New(1_000_000_000, Config{
		MaxBetSizeTick:      100_000_000, // 100 units, above the fraction cap
		MaxBankrollFraction: 0.05,
		MinNotionalTick:     1,
		ReservationTTL:      10 * time.Second,
	}, clock, bus, discardLogger())

	opp := domain.Opportunity{
		MarketID:     "m1",
		AskUpTick:    400_000,
		AskDownTick:  500_000,
		SizeUpTick:   1_000_000_000,
		SizeDownTick: 1_000_000_000,
	}
	res, err := g.Evaluate(opp)
	if err != nil {
		t.Fatalf("evaluate: %v", err)
	}
	if res.NotionalTick > 50_000_000 {
		t.Fatalf("expected notional capped near 50 units (50000000 ticks), got %d", res.NotionalTick)
	}
}

func TestSweepExpiredReservations(t *testing.T) {
	clock := clockwork.NewFake(time.Unix(1000, 0))
	bus := eventbus.New(8)
	g := New(1_000_000_000, Config{
		MaxBetSizeTick:      100_000_000,
		MaxBankrollFraction: 0.5,
		MinNotionalTick:     1,
		ReservationTTL:      5 * time.Second,
	}, clock, bus, discardLogger())

	opp := domain.Opportunity{MarketID: "m1", AskUpTick: 400_000, AskDownTick: 500_000, SizeUpTick: 100, SizeDownTick: 100}
	if _, err := g.Evaluate(opp); err != nil {
		t.Fatalf("evaluate: %v", err)
	}
	if expired := g.SweepExpiredReservations(); len(expired) != 0 {
		t.Fatalf("expected no expired reservations yet, got %v", expired)
	}
	clock.Advance(6 * time.Second)
	expired := g.SweepExpiredReservations()
	if len(expired) != 1 || expired[0] != "m1" {
		t.Fatalf("expected m1 to be expired, got %v", expired)
	}
}
