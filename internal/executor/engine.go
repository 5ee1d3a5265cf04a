// Package executor implements the Execution Engine (C7): it turns an
// accepted Reservation into two paired leg orders, tracks their fills, and
// hedges any resulting imbalance.
package executor

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/northbeam/binarb/internal/clockwork"
	"github.com/northbeam/binarb/internal/domain"
)

// Config tunes the execution engine.
type Config struct {
	AckTimeout           time.Duration // spec §4.6: 2s overall ack wait
	HedgeTimeout         time.Duration // spec §5: 1s
	MaxImbalanceMs       time.Duration // spec §3: default 1500ms
	MaxImbalanceUnits    int64         // SPEC_FULL §4: secondary immediate hedge trigger
	MaxSlippageTicks     int64         // spec §4.6: default 5
	MaxEscalations       int           // spec §4.6: "at most twice"
	CircuitFailThreshold int           // spec §7: default 5
	CircuitWindow        time.Duration // spec §7: default 60s
	CircuitCooldown      time.Duration // spec §7: default 30s
	DryRun               bool
	DryRunFillDelay      time.Duration // SPEC_FULL §4: default 150ms
}

// DefaultConfig returns the spec's default tunables.
func DefaultConfig() Config {
	return Config{
		AckTimeout:           2 * time.Second,
		HedgeTimeout:         1 * time.Second,
		MaxImbalanceMs:       1500 * time.Millisecond,
		MaxImbalanceUnits:    0,
		MaxSlippageTicks:     5,
		MaxEscalations:       2,
		CircuitFailThreshold: 5,
		CircuitWindow:        60 * time.Second,
		CircuitCooldown:      30 * time.Second,
		DryRunFillDelay:      150 * time.Millisecond,
	}
}

// Releaser is the subset of risk.Gate the engine needs to close a
// reservation. Kept as an interface so the engine never holds a
// back-pointer to risk internals, per the design note on cyclic
// references (execution -> risk -> execution).
type Releaser interface {
	Release(marketID string, realizedDeltaTick int64) error
}

// Engine is C7.
type Engine struct {
	submitter domain.VenueSubmitter
	fills     domain.FillSubscriber
	risk      Releaser
	records   domain.ArbExecutionStore // optional; async audit write
	bus       domain.EventBus
	clock     clockwork.Clock
	cfg       Config
	dedup     *Dedup
	logger    *slog.Logger

	mu         sync.Mutex
	quarantine map[string]bool // market_id -> quarantined after unresolved partial fill

	breaker *circuitBreaker
}

// New creates an execution engine.
func New(submitter domain.VenueSubmitter, fills domain.FillSubscriber, risk Releaser, records domain.ArbExecutionStore, bus domain.EventBus, clock clockwork.Clock, cfg Config, logger *slog.Logger) *Engine {
	if cfg.AckTimeout == 0 {
		cfg = DefaultConfig()
	}
	return &Engine{
		submitter:  submitter,
		fills:      fills,
		risk:       risk,
		records:    records,
		bus:        bus,
		clock:      clock,
		cfg:        cfg,
		dedup:      NewDedup(time.Minute),
		logger:     logger.With(slog.String("component", "execution_engine")),
		quarantine: make(map[string]bool),
		breaker:    newCircuitBreaker(cfg.CircuitFailThreshold, cfg.CircuitWindow, cfg.CircuitCooldown, clock),
	}
}

// Quarantined reports whether marketID is currently blocked from submission
// following an unresolved partial fill (spec §7).
func (e *Engine) Quarantined(marketID string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.quarantine[marketID]
}

// ClearQuarantine lifts the quarantine for marketID; called by an operator.
func (e *Engine) ClearQuarantine(marketID string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	delete(e.quarantine, marketID)
}

// Execute drives one reservation from INIT to COMPLETE. It never returns an
// error for execution-path failures (spec §7: "execution errors ... never
// crash the process"); the returned attempt records the outcome.
func (e *Engine) Execute(ctx context.Context, market domain.BinaryMarket, opp domain.Opportunity, res domain.Reservation) domain.ArbExecutionAttempt {
	attempt := domain.ArbExecutionAttempt{
		ID:            uuid.NewString(),
		MarketID:      opp.MarketID,
		ReservationID: res.ID,
		State:         domain.ExecInit,
		StartedAt:     e.clock.Now(),
	}

	if e.Quarantined(opp.MarketID) {
		e.logger.WarnContext(ctx, "submission blocked: market quarantined", slog.String("market_id", opp.MarketID))
		attempt.State = domain.ExecAbort
		e.finish(ctx, &attempt, 0)
		return attempt
	}

	if !e.breaker.allow() {
		e.logger.WarnContext(ctx, "submission blocked: circuit breaker open", slog.String("market_id", opp.MarketID))
		attempt.State = domain.ExecAbort
		e.finish(ctx, &attempt, 0)
		return attempt
	}

	attempt.Up, attempt.Down = e.buildLegs(market, opp, res)
	attempt.State = domain.ExecPrepared

	acked, err := e.submitBoth(ctx, &attempt)
	attempt.State = domain.ExecLegsSubmitted
	if err != nil || !acked {
		e.breaker.recordFailure()
		e.cancelBoth(ctx, &attempt)
		attempt.State = domain.ExecAbort
		e.finish(ctx, &attempt, 0)
		return attempt
	}
	attempt.State = domain.ExecBothAcked
	e.breaker.recordSuccess()

	realized := e.monitor(ctx, market, &attempt)
	attempt.State = domain.ExecComplete
	e.finish(ctx, &attempt, realized)
	return attempt
}

// buildLegs chooses maker/taker per leg per spec §4.6's ttr table and
// builds the two ArbLeg records with idempotency keys derived from
// (market_id, side, seq_up, seq_down, reservation_id).
func (e *Engine) buildLegs(market domain.BinaryMarket, opp domain.Opportunity, res domain.Reservation) (up, down domain.ArbLeg) {
	ttr := market.ExpiryTS.Sub(e.clock.Now())

	upPolicy, downPolicy := domain.LegPolicyMaker, domain.LegPolicyMaker
	switch {
	case ttr > 120*time.Second:
		upPolicy, downPolicy = domain.LegPolicyMaker, domain.LegPolicyMaker
	case ttr > 60*time.Second:
		// Hybrid: deeper-size side makes, the other takes if margin clears
		// twice the taker fee.
		if opp.SizeUpTick >= opp.SizeDownTick {
			upPolicy = domain.LegPolicyMaker
			downPolicy = e.takerIfMarginClears(market, opp)
		} else {
			downPolicy = domain.LegPolicyMaker
			upPolicy = e.takerIfMarginClears(market, opp)
		}
	default:
		upPolicy, downPolicy = domain.LegPolicyTaker, domain.LegPolicyTaker
	}

	slippage := int64(0)
	if ttr <= 30*time.Second {
		slippage = 1 // accept up to +1 tick over observed ask
	}

	sizeTick := res.NotionalTick * domain.TicksPerUnit / (opp.AskUpTick + opp.AskDownTick)

	up = domain.ArbLeg{
		Side:           domain.LegUp,
		Token:          market.UpToken,
		Policy:         upPolicy,
		IdempotencyKey: idempotencyKey(opp.MarketID, "up", opp.SeqUp, opp.SeqDown, res.ID),
		PriceTick:      legPrice(upPolicy, opp.AskUpTick, slippage),
		SizeTick:       sizeTick,
	}
	down = domain.ArbLeg{
		Side:           domain.LegDown,
		Token:          market.DownToken,
		Policy:         downPolicy,
		IdempotencyKey: idempotencyKey(opp.MarketID, "down", opp.SeqUp, opp.SeqDown, res.ID),
		PriceTick:      legPrice(downPolicy, opp.AskDownTick, slippage),
		SizeTick:       sizeTick,
	}
	return up, down
}

func (e *Engine) takerIfMarginClears(market domain.BinaryMarket, opp domain.Opportunity) domain.LegPolicy {
	if opp.MarginTick > 2*market.FeeBpsTaker {
		return domain.LegPolicyTaker
	}
	return domain.LegPolicyMaker
}

func legPrice(policy domain.LegPolicy, askTick, slippageTicks int64) int64 {
	if policy == domain.LegPolicyMaker {
		if askTick > 1 {
			return askTick - 1 // post below ask by 1 tick
		}
		return askTick
	}
	return askTick + slippageTicks
}

func idempotencyKey(marketID, side string, seqUp, seqDown uint64, reservationID string) string {
	return fmt.Sprintf("%s:%s:%d:%d:%s", marketID, side, seqUp, seqDown, reservationID)
}

// submitBoth runs the two leg submissions concurrently with a shared cancel
// scope and an overall ack timeout, per spec §4.6.
func (e *Engine) submitBoth(ctx context.Context, attempt *domain.ArbExecutionAttempt) (bool, error) {
	ctx, cancel := context.WithTimeout(ctx, e.cfg.AckTimeout)
	defer cancel()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return e.submitLeg(gctx, &attempt.Up) })
	g.Go(func() error { return e.submitLeg(gctx, &attempt.Down) })

	err := g.Wait()
	if err != nil {
		return false, err
	}
	return attempt.Up.State == domain.LegSubmitted && attempt.Down.State == domain.LegSubmitted, nil
}

func (e *Engine) submitLeg(ctx context.Context, leg *domain.ArbLeg) error {
	if e.dedup.IsDuplicate(leg.IdempotencyKey) {
		return fmt.Errorf("executor: idempotency violation for key %s: %w", leg.IdempotencyKey, domain.ErrIdempotencyViolation)
	}

	req := domain.OrderRequest{
		ClientID:  leg.IdempotencyKey,
		Token:     leg.Token,
		Side:      domain.OrderSideBuy,
		PriceTick: leg.PriceTick,
		SizeTick:  leg.SizeTick,
		Type:      "LIMIT",
		TIF:       "GTC",
	}
	if leg.Policy == domain.LegPolicyTaker {
		req.Type = "MARKET"
		req.TIF = "FOK"
	}

	ack, err := e.submitter.Submit(ctx, req)
	if err != nil {
		leg.State = domain.LegRejected
		return fmt.Errorf("executor: submit leg %s: %w", leg.Side, domain.WrapKind(domain.ErrSubmitRejected, err))
	}
	leg.OrderID = ack.OrderID
	leg.State = domain.LegSubmitted
	if e.bus != nil {
		e.bus.Publish(domain.ArbEvent{Type: domain.EventOrderSubmitted, At: e.clock.Now(), Payload: map[string]any{"order_id": ack.OrderID, "side": string(leg.Side)}})
		e.bus.Publish(domain.ArbEvent{Type: domain.EventOrderAcked, At: e.clock.Now(), Payload: map[string]any{"order_id": ack.OrderID}})
	}
	return nil
}

func (e *Engine) cancelBoth(ctx context.Context, attempt *domain.ArbExecutionAttempt) {
	for _, leg := range []*domain.ArbLeg{&attempt.Up, &attempt.Down} {
		if leg.OrderID == "" {
			continue
		}
		if err := e.submitter.Cancel(ctx, leg.OrderID); err != nil {
			e.logger.WarnContext(ctx, "cancel leg failed", slog.String("order_id", leg.OrderID), slog.String("error", err.Error()))
			continue
		}
		leg.State = domain.LegCancelled
	}
}

// monitor implements the fill-tracking reactor of spec §4.6: it advances
// the attempt's state machine from acked legs to a terminal outcome and
// returns the realized PnL in ticks of notional.
func (e *Engine) monitor(ctx context.Context, market domain.BinaryMarket, attempt *domain.ArbExecutionAttempt) int64 {
	attempt.State = domain.ExecMonitoring

	fills, err := e.pollFills(ctx, attempt)
	if err != nil {
		e.logger.ErrorContext(ctx, "fill subscription failed", slog.String("error", err.Error()))
	}

	switch {
	case fills.up && fills.down:
		matched := attempt.Up.FilledTick
		if attempt.Down.FilledTick < matched {
			matched = attempt.Down.FilledTick
		}
		return matchedPairPnL(matched, attempt.Up.PriceTick, attempt.Down.PriceTick)
	case fills.up != fills.down:
		return e.hedgePartial(ctx, market, attempt, fills)
	default:
		return 0 // both_cancelled_before_any_fill
	}
}

// matchedPairPnL returns the realized PnL, in ticks of notional, of a
// matched pair of matchedTick (tick-scaled) shares bought at upPriceTick
// and downPriceTick: the guaranteed $1-per-share payout at resolution
// minus what was actually paid for both sides.
func matchedPairPnL(matchedTick, upPriceTick, downPriceTick int64) int64 {
	cost := matchedTick*upPriceTick/domain.TicksPerUnit + matchedTick*downPriceTick/domain.TicksPerUnit
	return matchedTick - cost
}

type fillOutcome struct {
	up, down bool
}

// pollFills waits until both legs are filled, until max_imbalance_ms has
// elapsed since it subscribed to fills, or, when MaxImbalanceUnits is set,
// until the legs' filled sizes differ by at least that many ticks,
// whichever comes first. A real deployment drives this off a FillSubscriber push channel;
// the dry-run simulator and tests drive it synchronously instead.
func (e *Engine) pollFills(ctx context.Context, attempt *domain.ArbExecutionAttempt) (fillOutcome, error) {
	if e.cfg.DryRun {
		time.Sleep(e.cfg.DryRunFillDelay)
		attempt.Up.State = domain.LegFilled
		attempt.Down.State = domain.LegFilled
		attempt.Up.FilledTick = attempt.Up.SizeTick
		attempt.Down.FilledTick = attempt.Down.SizeTick
		return fillOutcome{up: true, down: true}, nil
	}

	if e.fills == nil {
		return fillOutcome{}, fmt.Errorf("executor: no fill subscriber configured")
	}
	ch, err := e.fills.Subscribe(ctx)
	if err != nil {
		return fillOutcome{}, err
	}

	deadline := time.NewTimer(e.cfg.MaxImbalanceMs)
	defer deadline.Stop()
	for {
		select {
		case <-ctx.Done():
			return e.currentFillOutcome(attempt), ctx.Err()
		case <-deadline.C:
			return e.currentFillOutcome(attempt), nil
		case evt, ok := <-ch:
			if !ok {
				return e.currentFillOutcome(attempt), nil
			}
			e.applyFill(attempt, evt)
			if attempt.Up.State == domain.LegFilled && attempt.Down.State == domain.LegFilled {
				return fillOutcome{up: true, down: true}, nil
			}
			imbalance := attempt.Up.FilledTick - attempt.Down.FilledTick
			if imbalance < 0 {
				imbalance = -imbalance
			}
			if e.cfg.MaxImbalanceUnits > 0 && imbalance >= e.cfg.MaxImbalanceUnits {
				return e.currentFillOutcome(attempt), nil
			}
		}
	}
}

func (e *Engine) applyFill(attempt *domain.ArbExecutionAttempt, evt domain.FillEvent) {
	for _, leg := range []*domain.ArbLeg{&attempt.Up, &attempt.Down} {
		if leg.OrderID == evt.OrderID {
			leg.FilledTick = evt.FilledTick
			switch evt.Status {
			case "filled":
				leg.State = domain.LegFilled
			case "cancelled":
				leg.State = domain.LegCancelled
			case "rejected":
				leg.State = domain.LegRejected
			default:
				leg.State = domain.LegPartiallyFilled
			}
		}
	}
}

func (e *Engine) currentFillOutcome(attempt *domain.ArbExecutionAttempt) fillOutcome {
	return fillOutcome{
		up:   attempt.Up.State == domain.LegFilled,
		down: attempt.Down.State == domain.LegFilled,
	}
}

// hedgePartial implements the one_filled_one_working and
// one_filled_one_cancelled_or_rejected outcomes of spec §4.6.
func (e *Engine) hedgePartial(ctx context.Context, market domain.BinaryMarket, attempt *domain.ArbExecutionAttempt, fills fillOutcome) int64 {
	attempt.State = domain.ExecHedging

	filledLeg, workingLeg := &attempt.Up, &attempt.Down
	if fills.down {
		filledLeg, workingLeg = &attempt.Down, &attempt.Up
	}
	workingRefTick := workingLeg.PriceTick
	baseKey := workingLeg.IdempotencyKey

	if workingLeg.State == domain.LegSubmitted && workingLeg.Policy == domain.LegPolicyMaker {
		for escalation := 0; escalation < e.cfg.MaxEscalations; escalation++ {
			_ = e.submitter.Cancel(ctx, workingLeg.OrderID)
			workingLeg.Policy = domain.LegPolicyTaker
			workingLeg.PriceTick += e.cfg.MaxSlippageTicks
			// Each resubmission is a new order with its own key; reusing the
			// original key would make dedup reject it.
			workingLeg.IdempotencyKey = fmt.Sprintf("%s:esc%d", baseKey, escalation+1)
			if err := e.submitLeg(ctx, workingLeg); err == nil {
				// A FOK taker resubmission that the venue acks is filled
				// immediately, same assumption the dry-run simulator makes.
				workingLeg.State = domain.LegFilled
				workingLeg.FilledTick = workingLeg.SizeTick
				attempt.HedgeCount++
				matched := filledLeg.FilledTick
				if workingLeg.FilledTick < matched {
					matched = workingLeg.FilledTick
				}
				return matchedPairPnL(matched, filledLeg.PriceTick, workingLeg.PriceTick)
			}
		}
	}

	// Hedge: flatten the filled leg's shares by selling it back, or by
	// buying the remaining shares on the working side at any price within
	// max_slippage_ticks of the working leg's original price. We model this
	// as a marketable resubmission of the working leg at an extended
	// slippage budget.
	hedgeReq := domain.OrderRequest{
		ClientID:  workingLeg.IdempotencyKey + ":hedge",
		Token:     workingLeg.Token,
		Side:      domain.OrderSideBuy,
		PriceTick: workingRefTick + e.cfg.MaxSlippageTicks,
		SizeTick:  filledLeg.FilledTick - workingLeg.FilledTick,
		Type:      "MARKET",
		TIF:       "FOK",
	}
	ack, err := e.submitter.Submit(ctx, hedgeReq)
	attempt.HedgeCount++
	if e.bus != nil {
		e.bus.Publish(domain.ArbEvent{Type: domain.EventHedgeTriggered, MarketID: market.MarketID, At: e.clock.Now(), Payload: map[string]any{"attempt_id": attempt.ID}})
	}
	if err != nil {
		attempt.Incident = true
		e.mu.Lock()
		e.quarantine[market.MarketID] = true
		e.mu.Unlock()
		e.logger.ErrorContext(ctx, "partial fill unresolved, market quarantined",
			slog.String("market_id", market.MarketID), slog.String("attempt_id", attempt.ID))
		// The filled leg is now a naked, unhedged position rather than a
		// matched pair: what's actually at risk is the cost paid for it,
		// not its full $1-per-share face value.
		return -(filledLeg.FilledTick * filledLeg.PriceTick / domain.TicksPerUnit)
	}
	workingLeg.OrderID = ack.OrderID
	workingLeg.PriceTick = hedgeReq.PriceTick
	workingLeg.FilledTick += hedgeReq.SizeTick
	workingLeg.State = domain.LegFilled
	matched := filledLeg.FilledTick
	if workingLeg.FilledTick < matched {
		matched = workingLeg.FilledTick
	}
	return matchedPairPnL(matched, filledLeg.PriceTick, workingLeg.PriceTick)
}

// finish closes the reservation and, when an ArbExecutionStore is
// configured, asynchronously persists the execution record.
func (e *Engine) finish(ctx context.Context, attempt *domain.ArbExecutionAttempt, realizedTick int64) {
	attempt.RealizedTick = realizedTick
	attempt.CompletedAt = e.clock.Now()

	if err := e.risk.Release(attempt.MarketID, realizedTick); err != nil {
		e.logger.ErrorContext(ctx, "risk release failed", slog.String("market_id", attempt.MarketID), slog.String("error", err.Error()))
	}
	if e.bus != nil {
		e.bus.Publish(domain.ArbEvent{Type: domain.EventExecutionCompleted, MarketID: attempt.MarketID, At: attempt.CompletedAt, Payload: map[string]any{
			"attempt_id":    attempt.ID,
			"state":         string(attempt.State),
			"realized_tick": realizedTick,
			"hedge_count":   attempt.HedgeCount,
			"incident":      attempt.Incident,
		}})
	}
	if e.records != nil {
		go func() {
			record := toRecord(*attempt)
			if err := e.records.Create(context.Background(), record); err != nil {
				e.logger.Error("persist execution record failed", slog.String("attempt_id", attempt.ID), slog.String("error", err.Error()))
			}
		}()
	}
}

func toRecord(a domain.ArbExecutionAttempt) domain.ArbExecutionRecord {
	status := domain.ArbExecFilled
	switch {
	case a.Incident:
		status = domain.ArbExecFailed
	case a.State == domain.ExecAbort:
		status = domain.ArbExecCancelled
	case a.Up.State != domain.LegFilled || a.Down.State != domain.LegFilled:
		status = domain.ArbExecPartial
	}
	completed := a.CompletedAt
	return domain.ArbExecutionRecord{
		ID:            a.ID,
		MarketID:      a.MarketID,
		ReservationID: a.ReservationID,
		NetPnLUSD:     float64(a.RealizedTick) / float64(domain.TicksPerUnit),
		Status:        status,
		HedgeCount:    a.HedgeCount,
		Incident:      a.Incident,
		StartedAt:     a.StartedAt,
		CompletedAt:   &completed,
		Legs: []domain.ArbLegRecord{
			legRecord(a.Up),
			legRecord(a.Down),
		},
	}
}

func legRecord(leg domain.ArbLeg) domain.ArbLegRecord {
	return domain.ArbLegRecord{
		OrderID:       leg.OrderID,
		Side:          leg.Side,
		Policy:        leg.Policy,
		ExpectedPrice: float64(leg.PriceTick) / float64(domain.TicksPerUnit),
		FilledPrice:   float64(leg.PriceTick) / float64(domain.TicksPerUnit),
		Size:          float64(leg.FilledTick) / float64(domain.TicksPerUnit),
		Status:        leg.State,
	}
}
