// Package feed implements the Feed Ingestor (C4): push (WebSocket) and poll
// (REST) connectors that normalize venue updates into domain.BookUpdate and
// apply them to the orderbook store. Both connectors satisfy
// domain.FeedConnector so the wiring layer can dispatch over either without
// branching on concrete type.
package feed

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/northbeam/binarb/internal/book"
	"github.com/northbeam/binarb/internal/domain"
	"github.com/northbeam/binarb/internal/platform/polymarket"
)

// idleTimeout is the max time a push connection may go without receiving
// any book update before the watchdog marks every token stale. The
// connection itself is left open; polymarket.WSClient handles reconnects.
const idleTimeout = 45 * time.Second

// PushConnector subscribes to the venue's WebSocket "book"/"price_change"
// channels for a dynamic set of tokens and applies every normalized update
// to the orderbook store. A failed connect marks every subscribed token
// stale and is retried after one second. Once connected, polymarket.WSClient
// reconnects on its own with backoff; those reconnects do not mark tokens
// stale, which happens only through the idle watchdog or the store's
// freshness TTL.
type PushConnector struct {
	wsURL  string
	store  *book.Store
	logger *slog.Logger

	mu     sync.Mutex
	tokens map[string]struct{}
	client *polymarket.WSClient

	lastFrame atomic64

	onApply func(token string)

	cancel context.CancelFunc
	done   chan struct{}
}

// atomic64 is a tiny helper so idle-watchdog reads don't race with writes
// from the WS read loop without pulling in a full mutex per frame.
type atomic64 struct {
	mu sync.Mutex
	t  time.Time
}

func (a *atomic64) set(t time.Time) {
	a.mu.Lock()
	a.t = t
	a.mu.Unlock()
}

func (a *atomic64) get() time.Time {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.t
}

// NewPushConnector creates a push-mode feed connector over the given
// WebSocket URL, writing updates into store.
func NewPushConnector(wsURL string, store *book.Store, logger *slog.Logger) *PushConnector {
	return &PushConnector{
		wsURL:  wsURL,
		store:  store,
		logger: logger.With(slog.String("component", "feed_push")),
		tokens: make(map[string]struct{}),
	}
}

// SetOnApply registers a callback invoked with a token after every update
// to that token is applied to the store. The wiring layer uses this to
// wake the detector for the owning market rather than having the store or
// feed depend on the detector directly.
func (p *PushConnector) SetOnApply(fn func(token string)) {
	p.mu.Lock()
	p.onApply = fn
	p.mu.Unlock()
}

// Start connects and begins streaming updates until Stop is called or ctx
// is cancelled.
func (p *PushConnector) Start(ctx context.Context) error {
	runCtx, cancel := context.WithCancel(ctx)
	p.mu.Lock()
	p.cancel = cancel
	p.done = make(chan struct{})
	p.mu.Unlock()

	go p.run(runCtx)
	go p.watchdog(runCtx)
	return nil
}

// Stop tears down the connection and stops the watchdog.
func (p *PushConnector) Stop() {
	p.mu.Lock()
	cancel := p.cancel
	client := p.client
	p.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	if client != nil {
		client.Close()
	}
}

// SetTokens replaces the subscribed token set, diffing against the current
// subscription so only the delta is sent over the wire.
func (p *PushConnector) SetTokens(tokens []string) {
	p.mu.Lock()
	next := make(map[string]struct{}, len(tokens))
	for _, t := range tokens {
		next[t] = struct{}{}
	}

	var added, removed []string
	for t := range next {
		if _, ok := p.tokens[t]; !ok {
			added = append(added, t)
		}
	}
	for t := range p.tokens {
		if _, ok := next[t]; !ok {
			removed = append(removed, t)
		}
	}
	p.tokens = next
	client := p.client
	p.mu.Unlock()

	if client == nil {
		return
	}
	ctx := context.Background()
	if len(added) > 0 {
		_ = client.Subscribe(ctx, []string{"book", "price_change"}, added)
	}
	if len(removed) > 0 {
		_ = client.Unsubscribe(ctx, []string{"book", "price_change"}, removed)
	}
}

// MarkStale marks a single token's book stale without tearing down the
// connection, e.g. when the risk gate decides a specific token has gone
// quiet.
func (p *PushConnector) MarkStale(token string) {
	p.store.MarkStale(token)
}

func (p *PushConnector) run(ctx context.Context) {
	defer close(p.done)
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		client := polymarket.NewWSClient(p.wsURL)
		client.OnBookUpdate(func(u domain.BookUpdate) {
			p.lastFrame.set(time.Now())
			if p.store.Apply(u) {
				p.mu.Lock()
				onApply := p.onApply
				p.mu.Unlock()
				if onApply != nil {
					onApply(u.Token)
				}
			}
		})

		p.mu.Lock()
		p.client = client
		tokens := make([]string, 0, len(p.tokens))
		for t := range p.tokens {
			tokens = append(tokens, t)
		}
		p.mu.Unlock()

		if err := client.Connect(ctx); err != nil {
			p.logger.Warn("push feed connect failed", slog.String("error", err.Error()))
			p.store.MarkStaleAll()
			select {
			case <-ctx.Done():
				return
			case <-time.After(time.Second):
			}
			continue
		}

		if len(tokens) > 0 {
			if err := client.Subscribe(ctx, []string{"book", "price_change"}, tokens); err != nil {
				p.logger.Warn("push feed subscribe failed", slog.String("error", err.Error()))
			}
		}
		p.lastFrame.set(time.Now())

		<-ctx.Done()
		client.Close()
		return
	}
}

// watchdog marks every token stale if no frame has arrived within
// idleTimeout, catching a WebSocket that is TCP-alive but silently stuck.
func (p *PushConnector) watchdog(ctx context.Context) {
	t := time.NewTicker(idleTimeout / 3)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			if time.Since(p.lastFrame.get()) > idleTimeout {
				p.logger.Warn("push feed idle past watchdog threshold, marking stale")
				p.store.MarkStaleAll()
			}
		}
	}
}

var _ domain.FeedConnector = (*PushConnector)(nil)
