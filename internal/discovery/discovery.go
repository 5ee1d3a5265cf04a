// Package discovery provides the thin market-discovery boundary named in
// the core's design: the registry only ever subscribes to an add/remove
// stream of domain.MarketTuple, it never enumerates markets itself. This
// package holds only that interface's fake implementation; a production
// deployment feeds the registry from whatever external system actually
// scrapes or indexes markets, wired in as a domain.DiscoveryClient the
// same way StaticClient is here.
package discovery

import (
	"context"
	"sync"

	"github.com/northbeam/binarb/internal/domain"
)

// StaticClient streams a fixed seed list of tuples to every subscriber,
// then lets callers Push further add/remove notices at runtime. It is the
// fake/test implementation of domain.DiscoveryClient; nothing in this
// package scrapes or polls an external market index.
type StaticClient struct {
	mu   sync.Mutex
	subs []chan domain.MarketTuple
	seed []domain.MarketTuple
}

// NewStaticClient creates a StaticClient that replays seed to every new
// subscriber before forwarding live Push calls.
func NewStaticClient(seed []domain.MarketTuple) *StaticClient {
	return &StaticClient{seed: seed}
}

// Subscribe implements domain.DiscoveryClient. The returned channel
// receives the seed tuples immediately, then any tuple passed to Push
// while the subscription is active. It closes when ctx is done.
func (c *StaticClient) Subscribe(ctx context.Context) (<-chan domain.MarketTuple, error) {
	ch := make(chan domain.MarketTuple, len(c.seed)+16)

	c.mu.Lock()
	c.subs = append(c.subs, ch)
	c.mu.Unlock()

	for _, t := range c.seed {
		ch <- t
	}

	go func() {
		<-ctx.Done()
		c.mu.Lock()
		defer c.mu.Unlock()
		for i, s := range c.subs {
			if s == ch {
				c.subs = append(c.subs[:i], c.subs[i+1:]...)
				break
			}
		}
		close(ch)
	}()

	return ch, nil
}

// Push broadcasts a tuple to every active subscriber. Sends are
// best-effort: a subscriber with a full buffer drops the notice rather
// than blocking the caller.
func (c *StaticClient) Push(t domain.MarketTuple) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, ch := range c.subs {
		select {
		case ch <- t:
		default:
		}
	}
}

var _ domain.DiscoveryClient = (*StaticClient)(nil)
