package domain

import (
	"context"
	"time"
)

// ListOpts provides pagination and filtering for list queries.
type ListOpts struct {
	Limit  int
	Offset int
	Since  *time.Time
	Until  *time.Time
}

// OrderStore persists individual leg orders, outside the latency path.
type OrderStore interface {
	Create(ctx context.Context, order Order) error
	UpdateStatus(ctx context.Context, id string, status OrderStatus) error
	GetByID(ctx context.Context, id string) (Order, error)
	ListOpen(ctx context.Context, wallet string) ([]Order, error)
	ListByMarket(ctx context.Context, marketID string, opts ListOpts) ([]Order, error)
}

// AuditEntry is a single audit log row.
type AuditEntry struct {
	ID        int64
	Event     string
	Detail    map[string]any
	CreatedAt time.Time
}

// AuditStore persists an append-only audit log. The order service and the
// S3 archiver write to it; the execution engine does not.
type AuditStore interface {
	Log(ctx context.Context, event string, detail map[string]any) error
	List(ctx context.Context, opts ListOpts) ([]AuditEntry, error)
}

// ArbExecutionStore persists finished execution attempts and their legs
// for post-hoc PnL analysis. Writes happen asynchronously after an
// attempt reaches ExecComplete or ExecAbort; nothing on this path blocks C7.
type ArbExecutionStore interface {
	Create(ctx context.Context, exec ArbExecutionRecord) error
	GetByID(ctx context.Context, id string) (ArbExecutionRecord, error)
	ListRecent(ctx context.Context, limit int) ([]ArbExecutionRecord, error)
	SumPnL(ctx context.Context, since time.Time) (float64, error)
}
