package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/ethhab/whaletrace/internal/domain"
)

// LotStore implements domain.LotStore using PostgreSQL.
type LotStore struct {
	pool *pgxpool.Pool
}

var _ domain.LotStore = (*LotStore)(nil)

// NewLotStore creates a new LotStore backed by the given connection pool.
func NewLotStore(pool *pgxpool.Pool) *LotStore {
	return &LotStore{pool: pool}
}

const lotSelectCols = `wallet, token, token_symbol, entry_fill_key, exit_fill_key,
	amount, entry_price_usd, exit_price_usd, entry_value_usd, exit_value_usd,
	entry_gas_usd, exit_gas_usd, entry_time, exit_time, hold_days,
	gross_pnl_usd, net_pnl_usd, roi_percent, confidence`

func scanLotRows(rows pgx.Rows) ([]domain.TradeLot, error) {
	var lots []domain.TradeLot
	for rows.Next() {
		var l domain.TradeLot
		if err := rows.Scan(
			&l.Wallet, &l.Token, &l.TokenSymbol, &l.EntryFillKey, &l.ExitFillKey,
			&l.Amount, &l.EntryPriceUSD, &l.ExitPriceUSD, &l.EntryValueUSD,
			&l.ExitValueUSD, &l.EntryGasUSD, &l.ExitGasUSD, &l.EntryTime,
			&l.ExitTime, &l.HoldDays, &l.GrossPnLUSD, &l.NetPnLUSD,
			&l.ROIPercent, &l.Confidence,
		); err != nil {
			return nil, err
		}
		lots = append(lots, l)
	}
	return lots, rows.Err()
}

// ReplaceForWallet swaps out a wallet's lots and unmatched sells in one
// transaction. FIFO matching is deterministic over the fill set, so the
// replacement converges to the same rows on every reprocessing.
func (s *LotStore) ReplaceForWallet(ctx context.Context, wallet string, lots []domain.TradeLot, unmatched []domain.UnmatchedSell) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("postgres: begin lot replace: %w", err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, `DELETE FROM trade_lots WHERE wallet = $1`, wallet); err != nil {
		return fmt.Errorf("postgres: clear lots for %s: %w", wallet, err)
	}
	if _, err := tx.Exec(ctx, `DELETE FROM unmatched_sells WHERE wallet = $1`, wallet); err != nil {
		return fmt.Errorf("postgres: clear unmatched sells for %s: %w", wallet, err)
	}

	batch := &pgx.Batch{}
	const lotInsert = `
		INSERT INTO trade_lots (
			wallet, token, token_symbol, entry_fill_key, exit_fill_key,
			amount, entry_price_usd, exit_price_usd, entry_value_usd, exit_value_usd,
			entry_gas_usd, exit_gas_usd, entry_time, exit_time, hold_days,
			gross_pnl_usd, net_pnl_usd, roi_percent, confidence
		) VALUES (
			$1, $2, $3, $4, $5,
			$6, $7, $8, $9, $10,
			$11, $12, $13, $14, $15,
			$16, $17, $18, $19
		)`
	for _, l := range lots {
		batch.Queue(lotInsert,
			l.Wallet, l.Token, l.TokenSymbol, l.EntryFillKey, l.ExitFillKey,
			l.Amount, l.EntryPriceUSD, l.ExitPriceUSD, l.EntryValueUSD,
			l.ExitValueUSD, l.EntryGasUSD, l.ExitGasUSD, l.EntryTime,
			l.ExitTime, l.HoldDays, l.GrossPnLUSD, l.NetPnLUSD,
			l.ROIPercent, l.Confidence,
		)
	}

	const unmatchedInsert = `
		INSERT INTO unmatched_sells (wallet, token, fill_key, amount, value_usd, sold_at)
		VALUES ($1, $2, $3, $4, $5, $6)`
	for _, u := range unmatched {
		batch.Queue(unmatchedInsert, u.Wallet, u.Token, u.FillKey, u.Amount, u.ValueUSD, u.Time)
	}

	if batch.Len() > 0 {
		br := tx.SendBatch(ctx, batch)
		for i := 0; i < batch.Len(); i++ {
			if _, err := br.Exec(); err != nil {
				br.Close()
				return fmt.Errorf("postgres: insert lot batch item %d: %w", i, err)
			}
		}
		if err := br.Close(); err != nil {
			return fmt.Errorf("postgres: close lot batch: %w", err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("postgres: commit lot replace: %w", err)
	}
	return nil
}

// ListByWallet returns a wallet's closed lots exiting at or after the given
// time, in exit order.
func (s *LotStore) ListByWallet(ctx context.Context, wallet string, since time.Time) ([]domain.TradeLot, error) {
	query := `SELECT ` + lotSelectCols + ` FROM trade_lots
		WHERE wallet = $1 AND exit_time >= $2
		ORDER BY exit_time ASC`

	rows, err := s.pool.Query(ctx, query, wallet, since)
	if err != nil {
		return nil, fmt.Errorf("postgres: list lots by wallet: %w", err)
	}
	defer rows.Close()

	lots, err := scanLotRows(rows)
	if err != nil {
		return nil, fmt.Errorf("postgres: scan lots by wallet: %w", err)
	}
	return lots, nil
}
