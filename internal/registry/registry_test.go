package registry

import (
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/northbeam/binarb/internal/clockwork"
	"github.com/northbeam/binarb/internal/domain"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelError + 1}))
}

func TestAddRejectsDuplicateToken(t *testing.T) {
	clock := clockwork.NewFake(time.Unix(1000, 0))
	r := New(clock, discardLogger())

	m1 := domain.BinaryMarket{MarketID: "m1", UpToken: "up1", DownToken: "down1", ExpiryTS: time.Unix(2000, 0)}
	if err := r.Add(m1); err != nil {
		t.Fatalf("add m1: %v", err)
	}

	m2 := domain.BinaryMarket{MarketID: "m2", UpToken: "up1", DownToken: "down2", ExpiryTS: time.Unix(2000, 0)}
	err := r.Add(m2)
	if err == nil {
		t.Fatalf("expected duplicate token rejection")
	}
	var ae *domain.ArbError
	if !errors.As(err, &ae) || ae.Kind() != "DuplicateToken" {
		t.Fatalf("expected DuplicateToken, got %v", err)
	}
}

func TestRemoveIsIdempotent(t *testing.T) {
	clock := clockwork.NewFake(time.Unix(1000, 0))
	r := New(clock, discardLogger())
	r.Remove("does-not-exist")
	r.Remove("does-not-exist")
}

func TestSweepExpired(t *testing.T) {
	clock := clockwork.NewFake(time.Unix(1000, 0))
	r := New(clock, discardLogger())
	m := domain.BinaryMarket{MarketID: "m1", UpToken: "up1", DownToken: "down1", ExpiryTS: time.Unix(1010, 0)}
	if err := r.Add(m); err != nil {
		t.Fatalf("add: %v", err)
	}
	clock.Advance(20 * time.Second)
	r.SweepExpired()
	if _, ok := r.Get("m1"); ok {
		t.Fatalf("expected m1 to be evicted")
	}
}

func TestMarketForToken(t *testing.T) {
	clock := clockwork.NewFake(time.Unix(1000, 0))
	r := New(clock, discardLogger())
	m := domain.BinaryMarket{MarketID: "m1", UpToken: "up1", DownToken: "down1", ExpiryTS: time.Unix(2000, 0)}
	if err := r.Add(m); err != nil {
		t.Fatalf("add: %v", err)
	}
	got, ok := r.MarketForToken("down1")
	if !ok || got.MarketID != "m1" {
		t.Fatalf("expected to resolve down1 to m1, got %v ok=%v", got, ok)
	}
}

