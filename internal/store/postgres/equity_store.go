package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/ethhab/whaletrace/internal/domain"
)

// EquityStore implements domain.EquityStore using PostgreSQL.
type EquityStore struct {
	pool *pgxpool.Pool
}

var _ domain.EquityStore = (*EquityStore)(nil)

// NewEquityStore creates a new EquityStore backed by the given connection pool.
func NewEquityStore(pool *pgxpool.Pool) *EquityStore {
	return &EquityStore{pool: pool}
}

// UpsertSnapshots writes daily equity snapshots, overwriting any previous
// value for the same (wallet, day). Curve rebuilds converge on identical rows.
func (s *EquityStore) UpsertSnapshots(ctx context.Context, snaps []domain.EquitySnapshot) error {
	if len(snaps) == 0 {
		return nil
	}

	batch := &pgx.Batch{}
	const query = `
		INSERT INTO equity_snapshots (
			wallet, day, portfolio_value_usd, realized_pnl_usd,
			unrealized_pnl_usd, total_invested_usd, open_positions
		) VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (wallet, day) DO UPDATE SET
			portfolio_value_usd = EXCLUDED.portfolio_value_usd,
			realized_pnl_usd    = EXCLUDED.realized_pnl_usd,
			unrealized_pnl_usd  = EXCLUDED.unrealized_pnl_usd,
			total_invested_usd  = EXCLUDED.total_invested_usd,
			open_positions      = EXCLUDED.open_positions`

	for _, snap := range snaps {
		batch.Queue(query,
			snap.Wallet, snap.Day, snap.PortfolioValueUSD, snap.RealizedPnLUSD,
			snap.UnrealizedPnLUSD, snap.TotalInvestedUSD, snap.OpenPositions,
		)
	}

	br := s.pool.SendBatch(ctx, batch)
	defer br.Close()

	for i := range snaps {
		if _, err := br.Exec(); err != nil {
			return fmt.Errorf("postgres: upsert snapshot batch item %d: %w", i, err)
		}
	}
	return nil
}

// ListSnapshots returns a wallet's daily snapshots within [from, to], in day
// order.
func (s *EquityStore) ListSnapshots(ctx context.Context, wallet string, from, to time.Time) ([]domain.EquitySnapshot, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT wallet, day, portfolio_value_usd, realized_pnl_usd,
			unrealized_pnl_usd, total_invested_usd, open_positions
		FROM equity_snapshots
		WHERE wallet = $1 AND day >= $2 AND day <= $3
		ORDER BY day ASC`,
		wallet, from, to,
	)
	if err != nil {
		return nil, fmt.Errorf("postgres: list snapshots: %w", err)
	}
	defer rows.Close()

	var snaps []domain.EquitySnapshot
	for rows.Next() {
		var snap domain.EquitySnapshot
		if err := rows.Scan(
			&snap.Wallet, &snap.Day, &snap.PortfolioValueUSD, &snap.RealizedPnLUSD,
			&snap.UnrealizedPnLUSD, &snap.TotalInvestedUSD, &snap.OpenPositions,
		); err != nil {
			return nil, fmt.Errorf("postgres: scan snapshot: %w", err)
		}
		snaps = append(snaps, snap)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: list snapshots: %w", err)
	}
	return snaps, nil
}

// UpsertRiskMetrics replaces a wallet's risk metrics wholesale.
func (s *EquityStore) UpsertRiskMetrics(ctx context.Context, m domain.RiskMetrics) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO risk_metrics (wallet, window_days, sharpe, max_drawdown_pct, volatility_pct, computed_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (wallet) DO UPDATE SET
			window_days      = EXCLUDED.window_days,
			sharpe           = EXCLUDED.sharpe,
			max_drawdown_pct = EXCLUDED.max_drawdown_pct,
			volatility_pct   = EXCLUDED.volatility_pct,
			computed_at      = EXCLUDED.computed_at`,
		m.Wallet, m.WindowDays, m.Sharpe, m.MaxDrawdownPct, m.VolatilityPct, m.ComputedAt,
	)
	if err != nil {
		return fmt.Errorf("postgres: upsert risk metrics for %s: %w", m.Wallet, err)
	}
	return nil
}

// GetRiskMetrics returns a wallet's risk metrics, or domain.ErrNotFound when
// the wallet has never been through a risk computation.
func (s *EquityStore) GetRiskMetrics(ctx context.Context, wallet string) (domain.RiskMetrics, error) {
	var m domain.RiskMetrics
	err := s.pool.QueryRow(ctx, `
		SELECT wallet, window_days, sharpe, max_drawdown_pct, volatility_pct, computed_at
		FROM risk_metrics WHERE wallet = $1`,
		wallet,
	).Scan(&m.Wallet, &m.WindowDays, &m.Sharpe, &m.MaxDrawdownPct, &m.VolatilityPct, &m.ComputedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.RiskMetrics{}, domain.ErrNotFound
		}
		return domain.RiskMetrics{}, fmt.Errorf("postgres: get risk metrics for %s: %w", wallet, err)
	}
	return m, nil
}
