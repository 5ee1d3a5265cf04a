package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/northbeam/binarb/internal/domain"
)

// ArbExecutionStore implements domain.ArbExecutionStore using PostgreSQL.
type ArbExecutionStore struct {
	pool *pgxpool.Pool
}

// NewArbExecutionStore creates a new ArbExecutionStore.
func NewArbExecutionStore(pool *pgxpool.Pool) *ArbExecutionStore {
	return &ArbExecutionStore{pool: pool}
}

// Create inserts an arb execution and its legs.
func (s *ArbExecutionStore) Create(ctx context.Context, exec domain.ArbExecutionRecord) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("postgres: begin: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	_, err = tx.Exec(ctx, `
		INSERT INTO arb_executions (id, market_id, reservation_id, net_pnl_usd, status, hedge_count, incident, started_at, completed_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		exec.ID, exec.MarketID, exec.ReservationID, exec.NetPnLUSD,
		string(exec.Status), exec.HedgeCount, exec.Incident, exec.StartedAt, exec.CompletedAt,
	)
	if err != nil {
		return fmt.Errorf("postgres: insert arb_execution: %w", err)
	}

	for _, leg := range exec.Legs {
		_, err = tx.Exec(ctx, `
			INSERT INTO arb_execution_legs (execution_id, order_id, side, policy, expected_price, filled_price, size, status)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
			exec.ID, leg.OrderID, string(leg.Side), string(leg.Policy),
			leg.ExpectedPrice, leg.FilledPrice, leg.Size, string(leg.Status),
		)
		if err != nil {
			return fmt.Errorf("postgres: insert arb_execution_leg: %w", err)
		}
	}

	return tx.Commit(ctx)
}

// GetByID returns an execution with its legs.
func (s *ArbExecutionStore) GetByID(ctx context.Context, id string) (domain.ArbExecutionRecord, error) {
	var exec domain.ArbExecutionRecord
	var statusStr string
	err := s.pool.QueryRow(ctx, `
		SELECT id, market_id, reservation_id, net_pnl_usd, status, hedge_count, incident, started_at, completed_at
		FROM arb_executions WHERE id = $1`,
		id,
	).Scan(&exec.ID, &exec.MarketID, &exec.ReservationID, &exec.NetPnLUSD,
		&statusStr, &exec.HedgeCount, &exec.Incident, &exec.StartedAt, &exec.CompletedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.ArbExecutionRecord{}, domain.ErrNotFound
		}
		return domain.ArbExecutionRecord{}, fmt.Errorf("postgres: get arb_execution %s: %w", id, err)
	}
	exec.Status = domain.ArbExecStatus(statusStr)

	rows, err := s.pool.Query(ctx, `
		SELECT order_id, side, policy, expected_price, filled_price, size, status
		FROM arb_execution_legs WHERE execution_id = $1 ORDER BY id`,
		id,
	)
	if err != nil {
		return domain.ArbExecutionRecord{}, fmt.Errorf("postgres: get arb_execution_legs: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var leg domain.ArbLegRecord
		var side, policy, status string
		if err := rows.Scan(&leg.OrderID, &side, &policy, &leg.ExpectedPrice, &leg.FilledPrice, &leg.Size, &status); err != nil {
			return domain.ArbExecutionRecord{}, err
		}
		leg.Side = domain.LegSide(side)
		leg.Policy = domain.LegPolicy(policy)
		leg.Status = domain.LegState(status)
		exec.Legs = append(exec.Legs, leg)
	}
	if err := rows.Err(); err != nil {
		return domain.ArbExecutionRecord{}, err
	}
	return exec, nil
}

// ListRecent returns the most recent executions.
func (s *ArbExecutionStore) ListRecent(ctx context.Context, limit int) ([]domain.ArbExecutionRecord, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.pool.Query(ctx, `
		SELECT id, market_id, reservation_id, net_pnl_usd, status, hedge_count, incident, started_at, completed_at
		FROM arb_executions ORDER BY started_at DESC LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("postgres: list arb_executions: %w", err)
	}
	defer rows.Close()
	var list []domain.ArbExecutionRecord
	for rows.Next() {
		var exec domain.ArbExecutionRecord
		var statusStr string
		if err := rows.Scan(&exec.ID, &exec.MarketID, &exec.ReservationID, &exec.NetPnLUSD,
			&statusStr, &exec.HedgeCount, &exec.Incident, &exec.StartedAt, &exec.CompletedAt); err != nil {
			return nil, err
		}
		exec.Status = domain.ArbExecStatus(statusStr)
		list = append(list, exec)
	}
	return list, rows.Err()
}

// ListBefore returns all executions started strictly before the given
// cutoff, for cold-storage archival. Leg records are not included; archival
// consumers operate on the execution summary alone.
func (s *ArbExecutionStore) ListBefore(ctx context.Context, before time.Time) ([]domain.ArbExecutionRecord, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, market_id, reservation_id, net_pnl_usd, status, hedge_count, incident, started_at, completed_at
		FROM arb_executions WHERE started_at < $1 ORDER BY started_at`, before)
	if err != nil {
		return nil, fmt.Errorf("postgres: list arb_executions before %s: %w", before, err)
	}
	defer rows.Close()
	var list []domain.ArbExecutionRecord
	for rows.Next() {
		var exec domain.ArbExecutionRecord
		var statusStr string
		if err := rows.Scan(&exec.ID, &exec.MarketID, &exec.ReservationID, &exec.NetPnLUSD,
			&statusStr, &exec.HedgeCount, &exec.Incident, &exec.StartedAt, &exec.CompletedAt); err != nil {
			return nil, err
		}
		exec.Status = domain.ArbExecStatus(statusStr)
		list = append(list, exec)
	}
	return list, rows.Err()
}

// SumPnL returns the sum of net_pnl_usd for executions since the given time.
func (s *ArbExecutionStore) SumPnL(ctx context.Context, since time.Time) (float64, error) {
	var sum float64
	err := s.pool.QueryRow(ctx, `SELECT COALESCE(SUM(net_pnl_usd), 0) FROM arb_executions WHERE started_at >= $1`, since).Scan(&sum)
	if err != nil {
		return 0, fmt.Errorf("postgres: sum arb_executions pnl: %w", err)
	}
	return sum, nil
}
