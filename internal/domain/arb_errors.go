package domain

import "errors"

// ArbError is a typed error carrying one of the §7 error kinds so callers
// can branch on Kind() instead of matching error strings.
type ArbError struct {
	kind string
	err  error
}

func (e *ArbError) Error() string { return e.kind + ": " + e.err.Error() }
func (e *ArbError) Unwrap() error { return e.err }
func (e *ArbError) Kind() string  { return e.kind }

func newArbError(kind string, msg string) *ArbError {
	return &ArbError{kind: kind, err: errors.New(msg)}
}

// Error kinds from spec.md §7. Each is a distinct *ArbError so
// errors.Is/As and Kind() both work.
var (
	ErrConfigInvalid         = newArbError("ConfigInvalid", "invalid configuration")
	ErrDiscoveryUnavailable  = newArbError("DiscoveryUnavailable", "market discovery unavailable")
	ErrFeedTransport         = newArbError("FeedTransport", "feed transport error")
	ErrFeedProtocol          = newArbError("FeedProtocol", "feed protocol error")
	ErrBookStale             = newArbError("BookStale", "book is stale")
	ErrBankrollExhausted     = newArbError("BankrollExhausted", "bankroll exhausted")
	ErrInFlight              = newArbError("InFlight", "market has a live reservation")
	ErrBelowMinimum          = newArbError("BelowMinimum", "below minimum notional")
	ErrSubmitTimeout         = newArbError("SubmitTimeout", "order submission timed out")
	ErrSubmitRejected        = newArbError("SubmitRejected", "order submission rejected")
	ErrPartialFillUnresolved = newArbError("PartialFillUnresolved", "partial fill could not be resolved")
	ErrIdempotencyViolation  = newArbError("IdempotencyViolation", "idempotency key reused with different payload")
	ErrClockSkew             = newArbError("ClockSkew", "clock skew detected")
	ErrDuplicateToken        = newArbError("DuplicateToken", "token already belongs to a live market")
)

// WrapKind returns a new *ArbError of the same kind as base, wrapping err
// for additional context while preserving Kind().
func WrapKind(base *ArbError, err error) *ArbError {
	return &ArbError{kind: base.kind, err: err}
}
