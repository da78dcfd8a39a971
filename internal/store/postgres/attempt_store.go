package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/hexlane/dexarb/internal/domain"
)

// AttemptStore implements domain.AttemptStore on PostgreSQL.
type AttemptStore struct {
	pool *pgxpool.Pool
}

// NewAttemptStore creates a store backed by the given connection pool.
func NewAttemptStore(pool *pgxpool.Pool) *AttemptStore {
	return &AttemptStore{pool: pool}
}

// Insert writes one attempt row. IDs are unique per attempt so a retried
// insert of the same record is a conflict and is dropped.
func (s *AttemptStore) Insert(ctx context.Context, rec domain.AttemptRecord) error {
	const q = `
		INSERT INTO attempts (
			id, path, kind, provider, notional_usd, gas_cost_usd,
			net_profit_usd, outcome, tx_hash, error, attempted_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		ON CONFLICT (id) DO NOTHING`
	_, err := s.pool.Exec(ctx, q,
		rec.ID, rec.Path, string(rec.Kind), string(rec.Provider),
		rec.NotionalUSD, rec.GasCostUSD, rec.NetProfitUSD,
		string(rec.Outcome), rec.TxHash, rec.Error, rec.AttemptedAt,
	)
	if err != nil {
		return fmt.Errorf("postgres: insert attempt: %w", err)
	}
	return nil
}

var _ domain.AttemptStore = (*AttemptStore)(nil)
