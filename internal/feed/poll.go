package feed

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/semaphore"
	"golang.org/x/time/rate"

	"github.com/northbeam/binarb/internal/book"
	"github.com/northbeam/binarb/internal/domain"
)

// bookFetcher is the REST capability the poll connector needs from a venue
// client; polymarket.ClobClient satisfies it.
type bookFetcher interface {
	GetOrderBook(ctx context.Context, tokenID string, seq uint64) (domain.BookUpdate, error)
}

// PollConnector scans a dynamic set of tokens over REST on a fixed
// interval, bounding in-flight requests with a semaphore and pacing them
// with a token-bucket rate limiter so a large token set doesn't burst the
// venue's REST API.
type PollConnector struct {
	client   bookFetcher
	store    *book.Store
	interval time.Duration
	logger   *slog.Logger

	sem     *semaphore.Weighted
	limiter *rate.Limiter

	mu     sync.Mutex
	tokens []string

	seq atomic.Uint64

	onApply func(token string)

	cancel context.CancelFunc
}

// SetOnApply registers a callback invoked with a token after every update
// to that token is applied to the store.
func (p *PollConnector) SetOnApply(fn func(token string)) {
	p.mu.Lock()
	p.onApply = fn
	p.mu.Unlock()
}

// PollConfig configures a PollConnector.
type PollConfig struct {
	Interval      time.Duration // scan_interval, default 2s
	Concurrency   int64         // default 8
	RatePerSecond float64       // REST requests/sec ceiling, default 20
}

// DefaultPollConfig returns the poll-mode defaults named in the feed
// ingestor's REST fallback path.
func DefaultPollConfig() PollConfig {
	return PollConfig{Interval: 2 * time.Second, Concurrency: 8, RatePerSecond: 20}
}

// NewPollConnector creates a poll-mode feed connector over client, writing
// updates into store.
func NewPollConnector(client bookFetcher, store *book.Store, cfg PollConfig, logger *slog.Logger) *PollConnector {
	if cfg.Interval <= 0 {
		cfg.Interval = 2 * time.Second
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 8
	}
	if cfg.RatePerSecond <= 0 {
		cfg.RatePerSecond = 20
	}
	return &PollConnector{
		client:   client,
		store:    store,
		interval: cfg.Interval,
		logger:   logger.With(slog.String("component", "feed_poll")),
		sem:      semaphore.NewWeighted(cfg.Concurrency),
		limiter:  rate.NewLimiter(rate.Limit(cfg.RatePerSecond), int(cfg.Concurrency)),
	}
}

// Start begins the scan loop until Stop is called or ctx is cancelled.
func (p *PollConnector) Start(ctx context.Context) error {
	runCtx, cancel := context.WithCancel(ctx)
	p.mu.Lock()
	p.cancel = cancel
	p.mu.Unlock()

	go p.run(runCtx)
	return nil
}

// Stop ends the scan loop.
func (p *PollConnector) Stop() {
	p.mu.Lock()
	cancel := p.cancel
	p.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}

// SetTokens replaces the set of tokens scanned each interval.
func (p *PollConnector) SetTokens(tokens []string) {
	p.mu.Lock()
	p.tokens = append([]string(nil), tokens...)
	p.mu.Unlock()
}

// MarkStale marks a single token's book stale.
func (p *PollConnector) MarkStale(token string) {
	p.store.MarkStale(token)
}

func (p *PollConnector) run(ctx context.Context) {
	t := time.NewTicker(p.interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			p.scanOnce(ctx)
		}
	}
}

func (p *PollConnector) scanOnce(ctx context.Context) {
	p.mu.Lock()
	tokens := append([]string(nil), p.tokens...)
	p.mu.Unlock()

	var wg sync.WaitGroup
	for _, token := range tokens {
		if err := p.sem.Acquire(ctx, 1); err != nil {
			return
		}
		if err := p.limiter.Wait(ctx); err != nil {
			p.sem.Release(1)
			return
		}

		wg.Add(1)
		go func(token string) {
			defer wg.Done()
			defer p.sem.Release(1)

			reqCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
			defer cancel()

			seq := p.seq.Add(1)
			upd, err := p.client.GetOrderBook(reqCtx, token, seq)
			if err != nil {
				p.logger.Debug("poll feed fetch failed",
					slog.String("token", token),
					slog.String("error", err.Error()),
				)
				return
			}
			if p.store.Apply(upd) {
				p.mu.Lock()
				onApply := p.onApply
				p.mu.Unlock()
				if onApply != nil {
					onApply(upd.Token)
				}
			}
		}(token)
	}
	wg.Wait()
}

var _ domain.FeedConnector = (*PollConnector)(nil)
