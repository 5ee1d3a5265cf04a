// Package risk implements the Risk Gate (C6): bankroll accounting,
// per-market in-flight limiting, and opportunity sizing. All bankroll
// mutation is serialized through a single mutex, the design note's
// "single coordinator (actor-like) that serializes reserve/release" — kept
// as a plain mutex rather than a goroutine-mailbox actor since every
// caller here is already synchronous and a lock is simpler and just as
// correct for this access pattern.
package risk

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/northbeam/binarb/internal/clockwork"
	"github.com/northbeam/binarb/internal/domain"
)

// Config tunes the risk gate.
type Config struct {
	MaxBetSizeTick         int64
	MaxBankrollFraction    float64 // e.g. 0.05
	MinNotionalTick        int64
	ReservationTTL         time.Duration
}

// Gate is C6. It owns the bankroll and the reservation table; nothing else
// in the process is allowed to mutate either.
type Gate struct {
	mu           sync.Mutex
	bankroll     domain.Bankroll
	reservations map[string]*domain.Reservation // keyed by market_id, at most one per market

	cfg    Config
	clock  clockwork.Clock
	bus    domain.EventBus
	logger *slog.Logger
}

// New creates a risk gate with the given starting bankroll total.
func New(totalTick int64, cfg Config, clock clockwork.Clock, bus domain.EventBus, logger *slog.Logger) *Gate {
	return &Gate{
		bankroll:     domain.Bankroll{Available: totalTick, Reserved: 0, Total: totalTick},
		reservations: make(map[string]*domain.Reservation),
		cfg:          cfg,
		clock:        clock,
		bus:          bus,
		logger:       logger.With(slog.String("component", "risk_gate")),
	}
}

// Evaluate implements the accept logic of spec.md §4.5, in order:
// in-flight check, bankroll-exhausted check, notional sizing, minimum-
// notional check, then reservation. On accept it returns the created
// reservation; on reject it returns the *domain.ArbError describing why.
func (g *Gate) Evaluate(opp domain.Opportunity) (domain.Reservation, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if _, inFlight := g.reservations[opp.MarketID]; inFlight {
		g.publishReject(opp.MarketID, "InFlight")
		return domain.Reservation{}, domain.ErrInFlight
	}

	avgPriceTick := (opp.AskUpTick + opp.AskDownTick) / 2
	maxAffordableTick := int64(float64(g.bankroll.Available) * g.cfg.MaxBankrollFraction)
	minSizeCost := avgPriceTick // cost of one unit of size at the average price, per tick scale
	if maxAffordableTick < minSizeCost {
		g.publishReject(opp.MarketID, "BankrollExhausted")
		return domain.Reservation{}, domain.ErrBankrollExhausted
	}

	sizeCostTick := opp.SizeUpTick // min(ask_up_size, ask_down_size) already folded into Opportunity.SizeUpTick/SizeDownTick by the detector
	if opp.SizeDownTick < sizeCostTick {
		sizeCostTick = opp.SizeDownTick
	}
	desiredByLiquidity := scaleTick(sizeCostTick, opp.AskUpTick+opp.AskDownTick)

	desired := g.cfg.MaxBetSizeTick
	if desiredByLiquidity < desired {
		desired = desiredByLiquidity
	}
	if maxAffordableTick < desired {
		desired = maxAffordableTick
	}

	if desired < g.cfg.MinNotionalTick {
		g.publishReject(opp.MarketID, "BelowMinimum")
		return domain.Reservation{}, domain.ErrBelowMinimum
	}

	res := domain.Reservation{
		ID:           uuid.NewString(),
		MarketID:     opp.MarketID,
		NotionalTick: desired,
		CreatedAt:    g.clock.Now(),
		State:        domain.ReservationPending,
	}
	g.bankroll.Available -= desired
	g.bankroll.Reserved += desired
	resCopy := res
	g.reservations[opp.MarketID] = &resCopy

	g.logger.Info("reservation accepted",
		slog.String("market_id", opp.MarketID),
		slog.String("reservation_id", res.ID),
		slog.Int64("notional_tick", desired),
	)
	return res, nil
}

// scaleTick computes size * priceSumTick / TicksPerUnit, i.e. the notional
// in ticks of a trade of `size` units at a combined price of priceSumTick
// ticks (itself already in [0, 2*TicksPerUnit]).
func scaleTick(sizeTick, priceSumTick int64) int64 {
	return sizeTick * priceSumTick / domain.TicksPerUnit
}

func (g *Gate) publishReject(marketID, reason string) {
	if g.bus == nil {
		return
	}
	g.bus.Publish(domain.ArbEvent{
		Type:     domain.EventOpportunityRejected,
		MarketID: marketID,
		At:       g.clock.Now(),
		Payload:  map[string]any{"reason": reason},
	})
}

// Release closes the reservation for marketID and returns realizedDeltaTick
// (positive profit or negative loss, in ticks of notional) to available
// bankroll. It is the only way a reservation's notional returns to
// Available; it is idempotent for an already-released market.
func (g *Gate) Release(marketID string, realizedDeltaTick int64) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	res, ok := g.reservations[marketID]
	if !ok {
		return nil
	}
	delete(g.reservations, marketID)

	g.bankroll.Reserved -= res.NotionalTick
	g.bankroll.Available += res.NotionalTick + realizedDeltaTick
	g.bankroll.Total += realizedDeltaTick

	if g.bankroll.Available+g.bankroll.Reserved != g.bankroll.Total {
		return fmt.Errorf("risk_gate: bankroll invariant violated after release of %q", marketID)
	}

	g.logger.Info("reservation released",
		slog.String("market_id", marketID),
		slog.String("reservation_id", res.ID),
		slog.Int64("realized_tick", realizedDeltaTick),
	)
	return nil
}

// InFlight reports whether marketID currently has a live reservation. This
// is the InFlightChecker the detector queries to suppress duplicate
// emission, per spec §4.4.
func (g *Gate) InFlight(marketID string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	_, ok := g.reservations[marketID]
	return ok
}

// Bankroll returns a snapshot of the current bankroll ledger.
func (g *Gate) Bankroll() domain.Bankroll {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.bankroll
}

// SweepExpiredReservations returns the market_ids of every reservation
// whose TTL has elapsed. It does not release them: losses are not known
// here, so the caller follows up with Release for each one.
func (g *Gate) SweepExpiredReservations() []string {
	g.mu.Lock()
	defer g.mu.Unlock()
	now := g.clock.Now()
	var expired []string
	for marketID, res := range g.reservations {
		if now.Sub(res.CreatedAt) > g.cfg.ReservationTTL {
			expired = append(expired, marketID)
		}
	}
	return expired
}
