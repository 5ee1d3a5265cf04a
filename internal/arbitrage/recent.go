package arbitrage

import (
	"context"
	"sync"

	"github.com/northbeam/binarb/internal/domain"
)

// RecentFeed keeps a bounded in-memory ring of the most recently detected
// opportunities for the dashboard's handler.OpportunityFeed endpoint. It
// has no persistence: a process restart starts the ring empty.
type RecentFeed struct {
	mu   sync.Mutex
	buf  []domain.Opportunity
	cap  int
}

// NewRecentFeed creates a RecentFeed holding at most capacity entries.
func NewRecentFeed(capacity int) *RecentFeed {
	if capacity <= 0 {
		capacity = 100
	}
	return &RecentFeed{cap: capacity}
}

// Record prepends opp, evicting the oldest entry once the ring is full.
func (f *RecentFeed) Record(opp domain.Opportunity) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.buf = append([]domain.Opportunity{opp}, f.buf...)
	if len(f.buf) > f.cap {
		f.buf = f.buf[:f.cap]
	}
}

// ListRecent implements handler.OpportunityFeed.
func (f *RecentFeed) ListRecent(ctx context.Context, limit int) ([]domain.Opportunity, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if limit > len(f.buf) {
		limit = len(f.buf)
	}
	out := make([]domain.Opportunity, limit)
	copy(out, f.buf[:limit])
	return out, nil
}
