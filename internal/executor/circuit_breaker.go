package executor

import (
	"sync"
	"time"

	"github.com/northbeam/binarb/internal/clockwork"
)

// circuitBreaker halts submissions after consecutive execution failures
// exceed a threshold within a window, per spec §7, cooling down for a
// fixed duration before allowing submissions again.
type circuitBreaker struct {
	mu         sync.Mutex
	clock      clockwork.Clock
	threshold  int
	window     time.Duration
	cooldown   time.Duration
	failures   []time.Time
	openedAt   time.Time
	open       bool
}

func newCircuitBreaker(threshold int, window, cooldown time.Duration, clock clockwork.Clock) *circuitBreaker {
	return &circuitBreaker{clock: clock, threshold: threshold, window: window, cooldown: cooldown}
}

func (c *circuitBreaker) allow() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.open {
		return true
	}
	if c.clock.Now().Sub(c.openedAt) >= c.cooldown {
		c.open = false
		c.failures = nil
		return true
	}
	return false
}

func (c *circuitBreaker) recordSuccess() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.failures = nil
}

func (c *circuitBreaker) recordFailure() {
	c.mu.Lock()
	defer c.mu.Unlock()
	now := c.clock.Now()
	c.failures = append(c.failures, now)

	cutoff := now.Add(-c.window)
	kept := c.failures[:0]
	for _, t := range c.failures {
		if t.After(cutoff) {
			kept = append(kept, t)
		}
	}
	c.failures = kept

	if len(c.failures) >= c.threshold && c.threshold > 0 {
		c.open = true
		c.openedAt = now
	}
}
