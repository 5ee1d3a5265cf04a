// Package arbitrage implements the Opportunity Detector (C5): on every
// orderbook update for a registered market it reads both outcome token
// books atomically and evaluates the binary-market arbitrage condition in
// integer ticks.
package arbitrage

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/northbeam/binarb/internal/book"
	"github.com/northbeam/binarb/internal/clockwork"
	"github.com/northbeam/binarb/internal/domain"
	"github.com/northbeam/binarb/internal/registry"
)

// Config tunes the detector.
type Config struct {
	MinProfitMarginTick int64
	MinSizeTick         int64
	FreshnessTTL        time.Duration
	Workers             int // bounded worker pool; New defaults it to 8 when unset
}

// OpportunityHandler is invoked for every accepted opportunity. It is the
// detector's only outbound call, handed to the risk gate by the wiring
// layer; the detector holds no back-pointer to C6 (design note: break
// cyclic references with message-passing).
type OpportunityHandler func(ctx context.Context, opp domain.Opportunity)

// InFlightChecker reports whether a market already has a live reservation,
// so the detector can suppress emission per spec §4.4 "tie-break".
type InFlightChecker func(marketID string) bool

// Detector is C5. It is pure on a book snapshot: no state mutation beyond
// its own dispatch bookkeeping.
type Detector struct {
	books  *book.Store
	reg    *registry.Registry
	bus    domain.EventBus
	clock  clockwork.Clock
	cfg    Config
	logger *slog.Logger

	sem *semaphore.Weighted

	onOpportunity OpportunityHandler
	inFlight      InFlightChecker

	pendingMu  sync.Mutex
	pendingSet map[string]struct{}
	inProgress map[string]struct{}
	wake       chan struct{}
}

// New creates a Detector wired to the orderbook store and market registry.
func New(books *book.Store, reg *registry.Registry, bus domain.EventBus, clock clockwork.Clock, cfg Config, logger *slog.Logger) *Detector {
	if cfg.Workers <= 0 {
		cfg.Workers = 8
	}
	return &Detector{
		books:      books,
		reg:        reg,
		bus:        bus,
		clock:      clock,
		cfg:        cfg,
		logger:     logger.With(slog.String("component", "detector")),
		sem:        semaphore.NewWeighted(int64(cfg.Workers)),
		pendingSet: make(map[string]struct{}),
		inProgress: make(map[string]struct{}),
		wake:       make(chan struct{}, 1),
	}
}

// SetHandler wires the risk gate's opportunity intake. Must be called
// before Run.
func (d *Detector) SetHandler(h OpportunityHandler) { d.onOpportunity = h }

// SetInFlightChecker wires the risk gate's reservation lookup. Must be
// called before Run.
func (d *Detector) SetInFlightChecker(f InFlightChecker) { d.inFlight = f }

// Notify signals that marketID's books may have changed. It never blocks:
// if an evaluation for marketID is already pending or in progress, the
// notification is coalesced into the existing one (spec §4.3/§4.4).
func (d *Detector) Notify(marketID string) {
	d.pendingMu.Lock()
	d.pendingSet[marketID] = struct{}{}
	d.pendingMu.Unlock()
	select {
	case d.wake <- struct{}{}:
	default:
	}
}

// Run drives the dispatch loop until ctx is cancelled.
func (d *Detector) Run(ctx context.Context) error {
	d.logger.Info("detector started", slog.Int("workers", d.cfg.Workers))
	defer d.logger.Info("detector stopped")
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-d.wake:
			d.dispatchReady(ctx)
		}
	}
}

func (d *Detector) dispatchReady(ctx context.Context) {
	d.pendingMu.Lock()
	var ready []string
	for id := range d.pendingSet {
		if _, busy := d.inProgress[id]; busy {
			continue
		}
		ready = append(ready, id)
		delete(d.pendingSet, id)
		d.inProgress[id] = struct{}{}
	}
	d.pendingMu.Unlock()

	for _, id := range ready {
		go d.evaluateWorker(ctx, id)
	}
}

func (d *Detector) evaluateWorker(ctx context.Context, marketID string) {
	defer d.finishEvaluation(marketID)

	if err := d.sem.Acquire(ctx, 1); err != nil {
		return
	}
	defer d.sem.Release(1)

	d.evaluateOnce(ctx, marketID)
}

// finishEvaluation clears in-progress state and, if a new notification for
// the same market arrived while it was evaluating, re-wakes the dispatcher
// so the latest book state still gets evaluated (coalescing law).
func (d *Detector) finishEvaluation(marketID string) {
	d.pendingMu.Lock()
	delete(d.inProgress, marketID)
	_, stillPending := d.pendingSet[marketID]
	d.pendingMu.Unlock()
	if stillPending {
		select {
		case d.wake <- struct{}{}:
		default:
		}
	}
}

func (d *Detector) evaluateOnce(ctx context.Context, marketID string) {
	market, ok := d.reg.Get(marketID)
	if !ok {
		return
	}
	if d.inFlight != nil && d.inFlight(marketID) {
		return
	}

	upBook, okU := d.books.GetSnapshot(market.UpToken)
	downBook, okD := d.books.GetSnapshot(market.DownToken)
	now := d.clock.Now()

	if !okU || !okD || !upBook.Fresh(now, d.cfg.FreshnessTTL) || !downBook.Fresh(now, d.cfg.FreshnessTTL) {
		d.rejectBookStale(marketID)
		return
	}
	if !upBook.HasAsk || !downBook.HasAsk || upBook.BestAskSize <= 0 || downBook.BestAskSize <= 0 {
		d.reject(marketID, "BelowMinimum", "zero ask size")
		return
	}

	feeReserveTick := market.FeeBpsTaker * (upBook.BestAskTick + downBook.BestAskTick) / 10_000
	marginTick := domain.TicksPerUnit - upBook.BestAskTick - downBook.BestAskTick - feeReserveTick
	size := upBook.BestAskSize
	if downBook.BestAskSize < size {
		size = downBook.BestAskSize
	}

	minSizeTick := d.cfg.MinSizeTick
	if market.MinSize > 0 {
		minSizeTick = market.MinSize
	}
	if marginTick < d.cfg.MinProfitMarginTick || size < minSizeTick {
		d.reject(marketID, "BelowMinimum", "margin or size below threshold")
		return
	}

	opp := domain.Opportunity{
		MarketID:     marketID,
		AskUpTick:    upBook.BestAskTick,
		AskDownTick:  downBook.BestAskTick,
		SizeUpTick:   upBook.BestAskSize,
		SizeDownTick: downBook.BestAskSize,
		MarginTick:   marginTick,
		DetectedAt:   now,
		SeqUp:        upBook.Seq,
		SeqDown:      downBook.Seq,
	}

	d.bus.Publish(domain.ArbEvent{
		Type:     domain.EventOpportunityDetected,
		MarketID: marketID,
		At:       now,
		Payload: map[string]any{
			"margin_tick": marginTick,
			"size":        size,
		},
	})

	if d.onOpportunity != nil {
		d.onOpportunity(ctx, opp)
	}
}

func (d *Detector) rejectBookStale(marketID string) {
	d.reject(marketID, "BookStale", "one or both books stale or missing")
}

func (d *Detector) reject(marketID, reason, detail string) {
	d.bus.Publish(domain.ArbEvent{
		Type:     domain.EventOpportunityRejected,
		MarketID: marketID,
		At:       d.clock.Now(),
		Payload: map[string]any{
			"reason": reason,
			"detail": detail,
		},
	})
}
