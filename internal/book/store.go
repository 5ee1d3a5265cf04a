// Package book implements the Orderbook Store (C3): a concurrent map keyed
// by token, holding the best bid/ask with sequence numbers and freshness
// timestamps. Writes are serialized per token; readers get a consistent
// snapshot via an immutable pointer swap and never block writers.
package book

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/northbeam/binarb/internal/clockwork"
	"github.com/northbeam/binarb/internal/domain"
)

type bucket struct {
	mu   sync.Mutex // serializes writers for this token only
	snap atomic.Pointer[domain.TokenBook]
}

// Store is the per-token orderbook state. Zero value is not usable, use
// New.
type Store struct {
	clock clockwork.Clock

	mu      sync.RWMutex
	buckets map[string]*bucket

	dropped atomic.Int64

	mirror domain.BookMirror
	logger *slog.Logger
}

// New creates an empty orderbook store.
func New(clock clockwork.Clock) *Store {
	return &Store{
		clock:   clock,
		buckets: make(map[string]*bucket),
	}
}

// SetMirror attaches a cross-process mirror that every applied update is
// forwarded to, best-effort, after the in-process snapshot is updated.
// Mirror failures are logged and otherwise ignored; the in-process Store
// remains the detector's source of truth regardless of mirror health.
func (s *Store) SetMirror(mirror domain.BookMirror, logger *slog.Logger) {
	s.mirror = mirror
	s.logger = logger
}

func (s *Store) bucketFor(token string) *bucket {
	s.mu.RLock()
	b, ok := s.buckets[token]
	s.mu.RUnlock()
	if ok {
		return b
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if b, ok = s.buckets[token]; ok {
		return b
	}
	b = &bucket{}
	s.buckets[token] = b
	return b
}

// Apply writes a normalized feed update for one token. Out-of-order
// updates (seq <= current seq) are dropped silently and counted, per
// spec.md §4.2. updated_at is stamped from the store's clock, never from
// the wire.
func (s *Store) Apply(u domain.BookUpdate) (applied bool) {
	b := s.bucketFor(u.Token)
	b.mu.Lock()
	defer b.mu.Unlock()

	cur := b.snap.Load()
	if cur != nil && u.Seq <= cur.Seq {
		s.dropped.Add(1)
		return false
	}

	next := &domain.TokenBook{
		Token:       u.Token,
		BestBidTick: u.BestBidTick,
		BestAskTick: u.BestAskTick,
		BestBidSize: u.BestBidSize,
		BestAskSize: u.BestAskSize,
		HasBid:      u.HasBid,
		HasAsk:      u.HasAsk,
		Seq:         u.Seq,
		UpdatedAt:   s.clock.Now(),
		Stale:       false,
	}
	b.snap.Store(next)

	if s.mirror != nil {
		go func(snap domain.TokenBook) {
			if err := s.mirror.SetSnapshot(context.Background(), snap); err != nil && s.logger != nil {
				s.logger.Warn("book mirror write failed", slog.String("token", snap.Token), slog.String("error", err.Error()))
			}
		}(*next)
	}

	return true
}

// GetSnapshot returns a consistent point-in-time snapshot of one token's
// book. The zero value, false is returned if the token has never been
// written.
func (s *Store) GetSnapshot(token string) (domain.TokenBook, bool) {
	s.mu.RLock()
	b, ok := s.buckets[token]
	s.mu.RUnlock()
	if !ok {
		return domain.TokenBook{}, false
	}
	snap := b.snap.Load()
	if snap == nil {
		return domain.TokenBook{}, false
	}
	return *snap, true
}

// Fresh reports whether the token's book is present and fresh as of now.
func (s *Store) Fresh(token string, ttl time.Duration) bool {
	snap, ok := s.GetSnapshot(token)
	if !ok {
		return false
	}
	return snap.Fresh(s.clock.Now(), ttl)
}

// MarkStale marks a token's book stale, e.g. after a feed disconnect. The
// book stays stale until a fresh snapshot frame is applied.
func (s *Store) MarkStale(token string) {
	b := s.bucketFor(token)
	b.mu.Lock()
	defer b.mu.Unlock()
	cur := b.snap.Load()
	if cur == nil {
		return
	}
	marked := *cur
	marked.Stale = true
	b.snap.Store(&marked)
}

// MarkStaleAll marks every currently-known token stale. Used on feed
// disconnect when a reconnect will require a fresh snapshot before any
// token's book can be trusted again.
func (s *Store) MarkStaleAll() {
	s.mu.RLock()
	tokens := make([]string, 0, len(s.buckets))
	for t := range s.buckets {
		tokens = append(tokens, t)
	}
	s.mu.RUnlock()
	for _, t := range tokens {
		s.MarkStale(t)
	}
}

// DroppedCount returns the number of out-of-order updates dropped so far.
func (s *Store) DroppedCount() int64 {
	return s.dropped.Load()
}
