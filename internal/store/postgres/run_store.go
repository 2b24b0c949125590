package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/ethhab/whaletrace/internal/domain"
)

// RunStore implements domain.RunStore using PostgreSQL.
type RunStore struct {
	pool *pgxpool.Pool
}

var _ domain.RunStore = (*RunStore)(nil)

// NewRunStore creates a new RunStore backed by the given connection pool.
func NewRunStore(pool *pgxpool.Pool) *RunStore {
	return &RunStore{pool: pool}
}

// RecordRun persists a run summary. Re-recording the same run id overwrites
// the previous row, so a retried finalization is harmless.
func (s *RunStore) RecordRun(ctx context.Context, sum domain.RunSummary) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO runs (
			run_id, mode, started_at, duration_ms, wallets_processed,
			wallets_failed, trades_priced, lots_closed, unmatched_sells,
			snapshots_built, scores_computed, errors, partial
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
		ON CONFLICT (run_id) DO UPDATE SET
			mode              = EXCLUDED.mode,
			started_at        = EXCLUDED.started_at,
			duration_ms       = EXCLUDED.duration_ms,
			wallets_processed = EXCLUDED.wallets_processed,
			wallets_failed    = EXCLUDED.wallets_failed,
			trades_priced     = EXCLUDED.trades_priced,
			lots_closed       = EXCLUDED.lots_closed,
			unmatched_sells   = EXCLUDED.unmatched_sells,
			snapshots_built   = EXCLUDED.snapshots_built,
			scores_computed   = EXCLUDED.scores_computed,
			errors            = EXCLUDED.errors,
			partial           = EXCLUDED.partial`,
		sum.RunID, sum.Mode, sum.StartedAt, sum.Duration.Milliseconds(),
		sum.WalletsProcessed, sum.WalletsFailed, sum.TradesPriced,
		sum.LotsClosed, sum.UnmatchedSells, sum.SnapshotsBuilt,
		sum.ScoresComputed, sum.Errors, sum.Partial,
	)
	if err != nil {
		return fmt.Errorf("postgres: record run %s: %w", sum.RunID, err)
	}
	return nil
}
