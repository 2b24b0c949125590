package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/ethhab/whaletrace/internal/domain"
)

// FillStore implements domain.FillStore using PostgreSQL.
type FillStore struct {
	pool *pgxpool.Pool
}

var _ domain.FillStore = (*FillStore)(nil)

// NewFillStore creates a new FillStore backed by the given connection pool.
func NewFillStore(pool *pgxpool.Pool) *FillStore {
	return &FillStore{pool: pool}
}

const fillSelectCols = `tx_hash, log_index, wallet, token, token_symbol, token_decimals,
	direction, amount, block_number, block_time, price_usd, value_usd, usd_in, usd_out,
	gas_usd, counterparty, router, pool, pricing_method, pricing_confidence`

func scanFillRows(rows pgx.Rows) ([]domain.PricedTrade, error) {
	var trades []domain.PricedTrade
	for rows.Next() {
		var t domain.PricedTrade
		if err := rows.Scan(
			&t.TxHash, &t.LogIndex, &t.Wallet, &t.Token, &t.TokenSymbol,
			&t.TokenDecimals, &t.Direction, &t.Amount, &t.BlockNumber,
			&t.BlockTime, &t.PriceUSD, &t.ValueUSD, &t.USDIn, &t.USDOut,
			&t.GasUSD, &t.Counterparty, &t.Router, &t.Pool,
			&t.Method, &t.Confidence,
		); err != nil {
			return nil, err
		}
		trades = append(trades, t)
	}
	return trades, rows.Err()
}

// InsertBatch inserts multiple priced trades using pgx Batch. A fill already
// recorded under its (tx_hash, log_index) key is silently skipped, which
// makes window reprocessing idempotent.
func (s *FillStore) InsertBatch(ctx context.Context, trades []domain.PricedTrade) error {
	if len(trades) == 0 {
		return nil
	}

	batch := &pgx.Batch{}
	const query = `
		INSERT INTO fills (
			tx_hash, log_index, wallet, token, token_symbol, token_decimals,
			direction, amount, block_number, block_time,
			price_usd, value_usd, usd_in, usd_out, gas_usd,
			counterparty, router, pool, pricing_method, pricing_confidence
		) VALUES (
			$1, $2, $3, $4, $5, $6,
			$7, $8, $9, $10,
			$11, $12, $13, $14, $15,
			$16, $17, $18, $19, $20
		) ON CONFLICT (tx_hash, log_index) DO NOTHING`

	for _, t := range trades {
		batch.Queue(query,
			t.TxHash, t.LogIndex, t.Wallet, t.Token, t.TokenSymbol,
			t.TokenDecimals, t.Direction, t.Amount, t.BlockNumber,
			t.BlockTime, t.PriceUSD, t.ValueUSD, t.USDIn, t.USDOut,
			t.GasUSD, t.Counterparty, t.Router, t.Pool,
			t.Method, t.Confidence,
		)
	}

	br := s.pool.SendBatch(ctx, batch)
	defer br.Close()

	for i := range trades {
		if _, err := br.Exec(); err != nil {
			return fmt.Errorf("postgres: insert fill batch item %d: %w", i, err)
		}
	}
	return nil
}

// ListByWallet returns a wallet's fills at or after the given time, in chain
// order so FIFO matching can consume them directly.
func (s *FillStore) ListByWallet(ctx context.Context, wallet string, since time.Time) ([]domain.PricedTrade, error) {
	query := `SELECT ` + fillSelectCols + ` FROM fills
		WHERE wallet = $1 AND block_time >= $2
		ORDER BY block_number ASC, log_index ASC`

	rows, err := s.pool.Query(ctx, query, wallet, since)
	if err != nil {
		return nil, fmt.Errorf("postgres: list fills by wallet: %w", err)
	}
	defer rows.Close()

	trades, err := scanFillRows(rows)
	if err != nil {
		return nil, fmt.Errorf("postgres: scan fills by wallet: %w", err)
	}
	return trades, nil
}

// CountSince returns how many fills a wallet has in the window and how many
// of them are priced at or above the coverage threshold.
func (s *FillStore) CountSince(ctx context.Context, wallet string, since time.Time) (total, priced int, err error) {
	err = s.pool.QueryRow(ctx, `
		SELECT COUNT(*), COUNT(*) FILTER (WHERE pricing_confidence >= $3)
		FROM fills WHERE wallet = $1 AND block_time >= $2`,
		wallet, since, domain.PricedConfidenceMin,
	).Scan(&total, &priced)
	if err != nil {
		return 0, 0, fmt.Errorf("postgres: count fills since: %w", err)
	}
	return total, priced, nil
}
