package domain

import "time"

// BinaryMarket is a registered market whose two outcome tokens must jointly
// resolve to exactly 1.0. It is immutable after registration.
type BinaryMarket struct {
	MarketID    string
	UpToken     string
	DownToken   string
	ExpiryTS    time.Time
	TickSize    int64 // price resolution in ticks per unit, e.g. 1e6
	FeeBpsTaker int64
	FeeBpsMaker int64
	MinSize     int64 // minimum order size in ticks, 0 if unknown
}

// TicksPerUnit is the fixed-point scale used for all price/size arithmetic
// in the arbitrage core. A price of 1.0 is TicksPerUnit ticks.
const TicksPerUnit int64 = 1_000_000

// TokenBook is the per-token best-of-book record held by the orderbook
// store (C3). Price is expressed in ticks in [0, TicksPerUnit].
type TokenBook struct {
	Token       string
	BestBidTick int64
	BestAskTick int64
	BestBidSize int64
	BestAskSize int64
	HasBid      bool
	HasAsk      bool
	Seq         uint64
	UpdatedAt   time.Time
	Stale       bool
}

// Fresh reports whether the book was updated within ttl of now and has not
// been marked stale by a feed disconnection.
func (b TokenBook) Fresh(now time.Time, ttl time.Duration) bool {
	if b.Stale {
		return false
	}
	if b.UpdatedAt.IsZero() {
		return false
	}
	return now.Sub(b.UpdatedAt) <= ttl
}

// BookLevel is a single depth level beyond the top of book, used by the
// multi-level liquidity walk.
type BookLevel struct {
	PriceTick int64
	SizeTicks int64
}

// Opportunity is a derived, ephemeral arbitrage signal. It is never
// persisted by identity; only the audit trail records that one occurred.
type Opportunity struct {
	MarketID    string
	AskUpTick   int64
	AskDownTick int64
	SizeUpTick  int64
	SizeDownTick int64
	MarginTick  int64 // 1.0 - askUp - askDown - feeReserve, in ticks
	DetectedAt  time.Time
	SeqUp       uint64
	SeqDown     uint64
}

// ReservationState is the lifecycle state of a bankroll reservation.
type ReservationState string

const (
	ReservationPending ReservationState = "pending"
	ReservationPartial ReservationState = "partial"
	ReservationClosed  ReservationState = "closed"
)

// Reservation is a bankroll lock held for the duration of one execution
// attempt. Owned exclusively by the risk gate (C6).
type Reservation struct {
	ID           string
	MarketID     string
	NotionalTick int64
	CreatedAt    time.Time
	State        ReservationState
}

// Bankroll is the process-wide capital ledger. Invariant: Available +
// Reserved == Total at all times; mutated only inside the risk gate.
type Bankroll struct {
	Available int64 // ticks of USD-equivalent notional
	Reserved  int64
	Total     int64
}

// ArbPosition tracks per-market share inventory during an execution. At
// rest the invariant is UpShares == DownShares.
type ArbPosition struct {
	MarketID  string
	UpShares  int64
	DownShares int64
}

// LegSide identifies which outcome token a leg trades.
type LegSide string

const (
	LegUp   LegSide = "up"
	LegDown LegSide = "down"
)

// LegPolicy is the order type chosen for one leg by the strategy selector.
type LegPolicy string

const (
	LegPolicyMaker LegPolicy = "maker"
	LegPolicyTaker LegPolicy = "taker"
)

// LegState is the lifecycle of a single leg order within an execution.
type LegState string

const (
	LegSubmitted       LegState = "submitted"
	LegPartiallyFilled LegState = "partially_filled"
	LegFilled          LegState = "filled"
	LegCancelled       LegState = "cancelled"
	LegRejected        LegState = "rejected"
)

// ExecAttemptState is the per-attempt state machine named in spec §4.6.
type ExecAttemptState string

const (
	ExecInit          ExecAttemptState = "INIT"
	ExecPrepared      ExecAttemptState = "PREPARED"
	ExecLegsSubmitted ExecAttemptState = "LEGS_SUBMITTED"
	ExecBothAcked     ExecAttemptState = "BOTH_ACKED"
	ExecAbort         ExecAttemptState = "ABORT"
	ExecMonitoring    ExecAttemptState = "MONITORING"
	ExecHedging       ExecAttemptState = "HEDGING"
	ExecComplete      ExecAttemptState = "COMPLETE"
)

// ArbLeg is one side of a paired execution attempt.
type ArbLeg struct {
	Side          LegSide
	Token         string
	Policy        LegPolicy
	OrderID       string
	IdempotencyKey string
	PriceTick     int64
	SizeTick      int64
	FilledTick    int64
	State         LegState
}

// ArbExecutionAttempt is the live state of one reservation's execution.
type ArbExecutionAttempt struct {
	ID            string
	MarketID      string
	ReservationID string
	Up            ArbLeg
	Down          ArbLeg
	State         ExecAttemptState
	HedgeCount    int
	StartedAt     time.Time
	CompletedAt   time.Time
	RealizedTick  int64 // realized profit/loss in ticks of notional
	Incident      bool
}
