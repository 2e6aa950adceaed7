package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/JosineyJr/rdb25-dispatch/pkg/payments"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
)

// Schema is the table PostgresLedger expects. The primary key on
// correlation_id is what makes redelivery harmless.
const Schema = `
CREATE TABLE IF NOT EXISTS payments (
	correlation_id UUID PRIMARY KEY,
	amount         NUMERIC(12, 2) NOT NULL,
	is_default     BOOLEAN NOT NULL,
	requested_at   TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS payments_requested_at ON payments (requested_at);`

const (
	insertPaymentSQL = `
		INSERT INTO payments (correlation_id, amount, is_default, requested_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (correlation_id) DO NOTHING`

	summarySQL = `
		SELECT is_default, COUNT(*), COALESCE(SUM(amount), 0)
		FROM payments
		WHERE ($1::timestamptz IS NULL OR requested_at >= $1)
		  AND ($2::timestamptz IS NULL OR requested_at <= $2)
		GROUP BY is_default`

	purgeSQL = `TRUNCATE TABLE payments`
)

type PostgresLedger struct {
	Pool *pgxpool.Pool
}

func NewPostgresLedger(ctx context.Context, connString string) (*PostgresLedger, error) {
	cfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, fmt.Errorf("parse postgres config: %w", err)
	}

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("create postgres pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}

	return &PostgresLedger{Pool: pool}, nil
}

// Migrate creates the payments table if it does not exist.
func (l *PostgresLedger) Migrate(ctx context.Context) error {
	if _, err := l.Pool.Exec(ctx, Schema); err != nil {
		return fmt.Errorf("create payments schema: %w", err)
	}
	return nil
}

func (l *PostgresLedger) Insert(ctx context.Context, rec payments.PaymentRecord) error {
	_, err := l.Pool.Exec(ctx, insertPaymentSQL,
		rec.CorrelationID, rec.Amount, rec.IsDefault, rec.RequestedAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("insert payment %s: %w", rec.CorrelationID, err)
	}
	return nil
}

func (l *PostgresLedger) Summary(
	ctx context.Context, from, to *time.Time,
) (payments.PaymentsSummary, error) {
	var summary payments.PaymentsSummary

	rows, err := l.Pool.Query(ctx, summarySQL, from, to)
	if err != nil {
		return summary, fmt.Errorf("query summary: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			isDefault bool
			count     int64
			total     decimal.Decimal
		)
		if err := rows.Scan(&isDefault, &count, &total); err != nil {
			return summary, fmt.Errorf("scan summary: %w", err)
		}
		data := payments.SummaryData{Count: count, Total: total}
		if isDefault {
			summary.Default = data
		} else {
			summary.Fallback = data
		}
	}

	return summary, rows.Err()
}

func (l *PostgresLedger) Purge(ctx context.Context) error {
	if _, err := l.Pool.Exec(ctx, purgeSQL); err != nil {
		return fmt.Errorf("purge payments: %w", err)
	}
	return nil
}

func (l *PostgresLedger) Close() {
	l.Pool.Close()
}
