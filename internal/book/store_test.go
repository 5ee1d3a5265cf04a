package book

import (
	"testing"
	"time"

	"github.com/northbeam/binarb/internal/clockwork"
	"github.com/northbeam/binarb/internal/domain"
)

func TestApplyDropsOutOfOrder(t *testing.T) {
	clock := clockwork.NewFake(time.Unix(100, 0))
	s := New(clock)

	if !s.Apply(domain.BookUpdate{Token: "t1", Seq: 5, HasAsk: true, BestAskTick: 400000}) {
		t.Fatalf("expected seq 5 to apply")
	}
	if s.Apply(domain.BookUpdate{Token: "t1", Seq: 5, HasAsk: true, BestAskTick: 410000}) {
		t.Fatalf("expected duplicate seq 5 to be dropped")
	}
	if s.Apply(domain.BookUpdate{Token: "t1", Seq: 3, HasAsk: true, BestAskTick: 420000}) {
		t.Fatalf("expected stale seq 3 to be dropped")
	}
	if s.DroppedCount() != 2 {
		t.Fatalf("expected 2 dropped updates, got %d", s.DroppedCount())
	}

	snap, ok := s.GetSnapshot("t1")
	if !ok || snap.BestAskTick != 400000 {
		t.Fatalf("expected snapshot to retain seq 5 value, got %+v ok=%v", snap, ok)
	}
}

func TestFreshness(t *testing.T) {
	clock := clockwork.NewFake(time.Unix(100, 0))
	s := New(clock)
	s.Apply(domain.BookUpdate{Token: "t1", Seq: 1, HasAsk: true, BestAskTick: 400000})

	if !s.Fresh("t1", 2*time.Second) {
		t.Fatalf("expected fresh immediately after write")
	}
	clock.Advance(3 * time.Second)
	if s.Fresh("t1", 2*time.Second) {
		t.Fatalf("expected stale after ttl exceeded")
	}
}

func TestMarkStaleForcesUnfreshUntilResnapshot(t *testing.T) {
	clock := clockwork.NewFake(time.Unix(100, 0))
	s := New(clock)
	s.Apply(domain.BookUpdate{Token: "t1", Seq: 1, HasAsk: true, BestAskTick: 400000})
	s.MarkStale("t1")
	if s.Fresh("t1", 2*time.Second) {
		t.Fatalf("expected marked-stale book to read as unfresh")
	}
	s.Apply(domain.BookUpdate{Token: "t1", Seq: 2, HasAsk: true, BestAskTick: 390000})
	if !s.Fresh("t1", 2*time.Second) {
		t.Fatalf("expected fresh snapshot to clear staleness")
	}
}
