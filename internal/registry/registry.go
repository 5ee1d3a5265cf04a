// Package registry implements the Market Registry (C2): the active
// (market_id, up_token, down_token, expiry) set, fed by add/remove events
// from the external market discovery collaborator.
package registry

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/northbeam/binarb/internal/clockwork"
	"github.com/northbeam/binarb/internal/domain"
)

// ChangeKind distinguishes additions from removals on the canonical stream.
type ChangeKind string

const (
	ChangeAdded   ChangeKind = "added"
	ChangeRemoved ChangeKind = "removed"
)

// Change is one entry on the registry's canonical add/remove stream.
type Change struct {
	Kind   ChangeKind
	Market domain.BinaryMarket
}

// Registry owns the market_id -> BinaryMarket mapping plus a reverse index
// from token to market_id, used to enforce token uniqueness. All mutation
// paths are serialized by mu; readers get a consistent snapshot via
// Snapshot.
type Registry struct {
	mu      sync.RWMutex
	markets map[string]domain.BinaryMarket
	tokens  map[string]string // token -> market_id

	clock  clockwork.Clock
	logger *slog.Logger

	subMu sync.Mutex
	subs  []chan Change
}

// New creates an empty registry.
func New(clock clockwork.Clock, logger *slog.Logger) *Registry {
	return &Registry{
		markets: make(map[string]domain.BinaryMarket),
		tokens:  make(map[string]string),
		clock:   clock,
		logger:  logger.With(slog.String("component", "registry")),
	}
}

// Subscribe returns a channel of canonical add/remove events. The channel
// has a small buffer; Registry never blocks a caller's mutation path on a
// slow subscriber: an event for a subscriber whose buffer is full is
// dropped for that subscriber.
func (r *Registry) Subscribe() <-chan Change {
	ch := make(chan Change, 64)
	r.subMu.Lock()
	r.subs = append(r.subs, ch)
	r.subMu.Unlock()
	return ch
}

func (r *Registry) emit(c Change) {
	r.subMu.Lock()
	defer r.subMu.Unlock()
	for _, ch := range r.subs {
		select {
		case ch <- c:
		default:
			// slow subscriber, drop rather than block the registry.
		}
	}
}

// Add registers a new market. It fails with ErrDuplicateToken if either
// token already belongs to a different live market, and is otherwise
// idempotent for a byte-identical re-add.
func (r *Registry) Add(m domain.BinaryMarket) error {
	if m.UpToken == "" || m.DownToken == "" {
		return domain.WrapKind(domain.ErrConfigInvalid, fmt.Errorf("registry: market %q missing token", m.MarketID))
	}
	if m.UpToken == m.DownToken {
		return domain.WrapKind(domain.ErrConfigInvalid, fmt.Errorf("registry: market %q up/down token collide", m.MarketID))
	}
	if !m.ExpiryTS.After(r.clock.Now()) {
		return domain.WrapKind(domain.ErrConfigInvalid, fmt.Errorf("registry: market %q expiry not in the future", m.MarketID))
	}

	r.mu.Lock()
	if existing, ok := r.markets[m.MarketID]; ok && existing == m {
		r.mu.Unlock()
		return nil
	}
	if owner, ok := r.tokens[m.UpToken]; ok && owner != m.MarketID {
		r.mu.Unlock()
		return domain.WrapKind(domain.ErrDuplicateToken, fmt.Errorf("registry: up token already owned by market %q", owner))
	}
	if owner, ok := r.tokens[m.DownToken]; ok && owner != m.MarketID {
		r.mu.Unlock()
		return domain.WrapKind(domain.ErrDuplicateToken, fmt.Errorf("registry: down token already owned by market %q", owner))
	}

	r.markets[m.MarketID] = m
	r.tokens[m.UpToken] = m.MarketID
	r.tokens[m.DownToken] = m.MarketID
	r.mu.Unlock()

	r.logger.Info("market registered",
		slog.String("market_id", m.MarketID),
		slog.Time("expiry", m.ExpiryTS),
	)
	r.emit(Change{Kind: ChangeAdded, Market: m})
	return nil
}

// Remove evicts a market. It is idempotent: removing an unknown market_id
// is not an error.
func (r *Registry) Remove(marketID string) {
	r.mu.Lock()
	m, ok := r.markets[marketID]
	if !ok {
		r.mu.Unlock()
		return
	}
	delete(r.markets, marketID)
	delete(r.tokens, m.UpToken)
	delete(r.tokens, m.DownToken)
	r.mu.Unlock()

	r.logger.Info("market removed", slog.String("market_id", marketID))
	r.emit(Change{Kind: ChangeRemoved, Market: m})
}

// Get returns the market for the given id.
func (r *Registry) Get(marketID string) (domain.BinaryMarket, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	m, ok := r.markets[marketID]
	return m, ok
}

// MarketForToken resolves a token id to its owning market.
func (r *Registry) MarketForToken(token string) (domain.BinaryMarket, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	marketID, ok := r.tokens[token]
	if !ok {
		return domain.BinaryMarket{}, false
	}
	m := r.markets[marketID]
	return m, true
}

// Snapshot returns the full current market set. Consumers can enumerate
// it atomically; the returned slice is a copy.
func (r *Registry) Snapshot() []domain.BinaryMarket {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]domain.BinaryMarket, 0, len(r.markets))
	for _, m := range r.markets {
		out = append(out, m)
	}
	return out
}

// RunDiscovery consumes tuples from the external discovery collaborator
// and applies them as Add/Remove. It blocks until ctx is cancelled or the
// discovery channel closes.
func (r *Registry) RunDiscovery(ctx context.Context, client domain.DiscoveryClient) error {
	tuples, err := client.Subscribe(ctx)
	if err != nil {
		return domain.WrapKind(domain.ErrDiscoveryUnavailable, fmt.Errorf("registry: subscribe discovery: %w", err))
	}
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case t, ok := <-tuples:
			if !ok {
				return nil
			}
			r.applyTuple(t)
		}
	}
}

func (r *Registry) applyTuple(t domain.MarketTuple) {
	if t.Remove {
		r.Remove(t.MarketID)
		return
	}
	m := domain.BinaryMarket{
		MarketID:    t.MarketID,
		UpToken:     t.UpToken,
		DownToken:   t.DownToken,
		ExpiryTS:    time.Unix(t.ExpiryTS, 0).UTC(),
		TickSize:    t.TickSize,
		FeeBpsTaker: t.FeeBpsTaker,
		FeeBpsMaker: t.FeeBpsMaker,
		MinSize:     t.MinSize,
	}
	if err := r.Add(m); err != nil {
		r.logger.Warn("registry: discovery add rejected",
			slog.String("market_id", t.MarketID),
			slog.String("error", err.Error()),
		)
	}
}

// SweepExpired evicts every market whose expiry has passed. Intended to be
// called periodically from a ticker goroutine owned by the caller.
func (r *Registry) SweepExpired() {
	now := r.clock.Now()
	var expired []string
	r.mu.RLock()
	for id, m := range r.markets {
		if !now.Before(m.ExpiryTS) {
			expired = append(expired, id)
		}
	}
	r.mu.RUnlock()
	for _, id := range expired {
		r.Remove(id)
	}
}

// RunSweeper periodically calls SweepExpired until ctx is cancelled.
func (r *Registry) RunSweeper(ctx context.Context, interval time.Duration) {
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			r.SweepExpired()
		}
	}
}
