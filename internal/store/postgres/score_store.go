package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/ethhab/whaletrace/internal/domain"
)

// ScoreStore implements domain.ScoreStore using PostgreSQL.
type ScoreStore struct {
	pool *pgxpool.Pool
}

var _ domain.ScoreStore = (*ScoreStore)(nil)

// NewScoreStore creates a new ScoreStore backed by the given connection pool.
func NewScoreStore(pool *pgxpool.Pool) *ScoreStore {
	return &ScoreStore{pool: pool}
}

const scoreSelectCols = `wallet, composite, roi_score, volume_score, consistency_score,
	risk_score, activity_score, efficiency_score, category, run_id, computed_at,
	window_days, total_trades, winning_trades, losing_trades, win_rate_pct,
	avg_roi_pct, median_roi_pct, best_trade_roi_pct, worst_trade_roi_pct,
	avg_hold_days, total_net_pnl_usd, total_volume_usd, avg_position_usd,
	total_gas_usd, gas_pct_of_volume, sharpe, max_drawdown_pct`

func scanScoreRows(rows pgx.Rows) ([]domain.CompositeScore, error) {
	var scores []domain.CompositeScore
	for rows.Next() {
		var sc domain.CompositeScore
		if err := rows.Scan(
			&sc.Wallet, &sc.Composite,
			&sc.Components.ROI, &sc.Components.Volume, &sc.Components.Consistency,
			&sc.Components.Risk, &sc.Components.Activity, &sc.Components.Efficiency,
			&sc.Category, &sc.RunID, &sc.ComputedAt,
			&sc.Metrics.WindowDays, &sc.Metrics.TotalTrades, &sc.Metrics.WinningTrades,
			&sc.Metrics.LosingTrades, &sc.Metrics.WinRatePct, &sc.Metrics.AvgROIPct,
			&sc.Metrics.MedianROIPct, &sc.Metrics.BestTradeROIPct, &sc.Metrics.WorstTradeROIPct,
			&sc.Metrics.AvgHoldDays, &sc.Metrics.TotalNetPnLUSD, &sc.Metrics.TotalVolumeUSD,
			&sc.Metrics.AvgPositionUSD, &sc.Metrics.TotalGasUSD, &sc.Metrics.GasPctOfVolume,
			&sc.Metrics.Sharpe, &sc.Metrics.MaxDrawdownPct,
		); err != nil {
			return nil, err
		}
		sc.Metrics.Wallet = sc.Wallet
		scores = append(scores, sc)
	}
	return scores, rows.Err()
}

// UpsertBatch writes composite scores, fully superseding each wallet's
// previous score.
func (s *ScoreStore) UpsertBatch(ctx context.Context, scores []domain.CompositeScore) error {
	if len(scores) == 0 {
		return nil
	}

	batch := &pgx.Batch{}
	const query = `
		INSERT INTO composite_scores (
			wallet, composite, roi_score, volume_score, consistency_score,
			risk_score, activity_score, efficiency_score, category, run_id, computed_at,
			window_days, total_trades, winning_trades, losing_trades, win_rate_pct,
			avg_roi_pct, median_roi_pct, best_trade_roi_pct, worst_trade_roi_pct,
			avg_hold_days, total_net_pnl_usd, total_volume_usd, avg_position_usd,
			total_gas_usd, gas_pct_of_volume, sharpe, max_drawdown_pct
		) VALUES (
			$1, $2, $3, $4, $5,
			$6, $7, $8, $9, $10, $11,
			$12, $13, $14, $15, $16,
			$17, $18, $19, $20,
			$21, $22, $23, $24,
			$25, $26, $27, $28
		) ON CONFLICT (wallet) DO UPDATE SET
			composite = EXCLUDED.composite,
			roi_score = EXCLUDED.roi_score,
			volume_score = EXCLUDED.volume_score,
			consistency_score = EXCLUDED.consistency_score,
			risk_score = EXCLUDED.risk_score,
			activity_score = EXCLUDED.activity_score,
			efficiency_score = EXCLUDED.efficiency_score,
			category = EXCLUDED.category,
			run_id = EXCLUDED.run_id,
			computed_at = EXCLUDED.computed_at,
			window_days = EXCLUDED.window_days,
			total_trades = EXCLUDED.total_trades,
			winning_trades = EXCLUDED.winning_trades,
			losing_trades = EXCLUDED.losing_trades,
			win_rate_pct = EXCLUDED.win_rate_pct,
			avg_roi_pct = EXCLUDED.avg_roi_pct,
			median_roi_pct = EXCLUDED.median_roi_pct,
			best_trade_roi_pct = EXCLUDED.best_trade_roi_pct,
			worst_trade_roi_pct = EXCLUDED.worst_trade_roi_pct,
			avg_hold_days = EXCLUDED.avg_hold_days,
			total_net_pnl_usd = EXCLUDED.total_net_pnl_usd,
			total_volume_usd = EXCLUDED.total_volume_usd,
			avg_position_usd = EXCLUDED.avg_position_usd,
			total_gas_usd = EXCLUDED.total_gas_usd,
			gas_pct_of_volume = EXCLUDED.gas_pct_of_volume,
			sharpe = EXCLUDED.sharpe,
			max_drawdown_pct = EXCLUDED.max_drawdown_pct`

	for _, sc := range scores {
		batch.Queue(query,
			sc.Wallet, sc.Composite,
			sc.Components.ROI, sc.Components.Volume, sc.Components.Consistency,
			sc.Components.Risk, sc.Components.Activity, sc.Components.Efficiency,
			sc.Category, sc.RunID, sc.ComputedAt,
			sc.Metrics.WindowDays, sc.Metrics.TotalTrades, sc.Metrics.WinningTrades,
			sc.Metrics.LosingTrades, sc.Metrics.WinRatePct, sc.Metrics.AvgROIPct,
			sc.Metrics.MedianROIPct, sc.Metrics.BestTradeROIPct, sc.Metrics.WorstTradeROIPct,
			sc.Metrics.AvgHoldDays, sc.Metrics.TotalNetPnLUSD, sc.Metrics.TotalVolumeUSD,
			sc.Metrics.AvgPositionUSD, sc.Metrics.TotalGasUSD, sc.Metrics.GasPctOfVolume,
			sc.Metrics.Sharpe, sc.Metrics.MaxDrawdownPct,
		)
	}

	br := s.pool.SendBatch(ctx, batch)
	defer br.Close()

	for i := range scores {
		if _, err := br.Exec(); err != nil {
			return fmt.Errorf("postgres: upsert score batch item %d: %w", i, err)
		}
	}
	return nil
}

// ListTop returns the highest composite scores, descending.
func (s *ScoreStore) ListTop(ctx context.Context, limit int) ([]domain.CompositeScore, error) {
	query := `SELECT ` + scoreSelectCols + ` FROM composite_scores ORDER BY composite DESC`
	args := []any{}
	if limit > 0 {
		query += ` LIMIT $1`
		args = append(args, limit)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list top scores: %w", err)
	}
	defer rows.Close()

	scores, err := scanScoreRows(rows)
	if err != nil {
		return nil, fmt.Errorf("postgres: scan top scores: %w", err)
	}
	return scores, nil
}
