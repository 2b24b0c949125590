package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/ethhab/whaletrace/internal/domain"
)

// DiscoveryStore implements domain.DiscoveryStore using PostgreSQL.
type DiscoveryStore struct {
	pool *pgxpool.Pool
}

var _ domain.DiscoveryStore = (*DiscoveryStore)(nil)

// NewDiscoveryStore creates a new DiscoveryStore backed by the given
// connection pool.
func NewDiscoveryStore(pool *pgxpool.Pool) *DiscoveryStore {
	return &DiscoveryStore{pool: pool}
}

// LoadRegistry reads the full address registry from the registry_addresses
// table. The registry is immutable for the lifetime of a run; callers load it
// once and pass it down explicitly.
func (s *DiscoveryStore) LoadRegistry(ctx context.Context) (*domain.AddressRegistry, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT address, kind, name, decimals FROM registry_addresses`)
	if err != nil {
		return nil, fmt.Errorf("postgres: load registry: %w", err)
	}
	defer rows.Close()

	routers := make(map[string]string)
	cexes := make(map[string]string)
	var excluded []string
	stables := make(map[string]uint8)

	for rows.Next() {
		var addr, kind, name string
		var decimals uint8
		if err := rows.Scan(&addr, &kind, &name, &decimals); err != nil {
			return nil, fmt.Errorf("postgres: scan registry row: %w", err)
		}
		switch kind {
		case "router":
			routers[addr] = name
		case "cex":
			cexes[addr] = name
		case "excluded":
			excluded = append(excluded, addr)
		case "stable":
			stables[addr] = decimals
		}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: load registry: %w", err)
	}
	return domain.NewAddressRegistry(routers, cexes, excluded, stables), nil
}

// RecordInteractions appends observed router interactions. Re-scanning the
// same transactions is a no-op via the (address, tx_hash) key.
func (s *DiscoveryStore) RecordInteractions(ctx context.Context, interactions []domain.RouterInteraction) error {
	if len(interactions) == 0 {
		return nil
	}

	batch := &pgx.Batch{}
	const query = `
		INSERT INTO router_interactions (address, router, tx_hash, block_number, happened_at, gas_eth)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (address, tx_hash) DO NOTHING`
	for _, it := range interactions {
		batch.Queue(query, it.Address, it.Router, it.TxHash, it.BlockNumber, it.Time, it.GasETH)
	}

	br := s.pool.SendBatch(ctx, batch)
	defer br.Close()

	for i := range interactions {
		if _, err := br.Exec(); err != nil {
			return fmt.Errorf("postgres: record interaction batch item %d: %w", i, err)
		}
	}
	return nil
}

// ListInteractions returns an address's router interactions at or after the
// given time, oldest first.
func (s *DiscoveryStore) ListInteractions(ctx context.Context, address string, since time.Time) ([]domain.RouterInteraction, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT address, router, tx_hash, block_number, happened_at, gas_eth
		FROM router_interactions
		WHERE address = $1 AND happened_at >= $2
		ORDER BY happened_at ASC`,
		address, since,
	)
	if err != nil {
		return nil, fmt.Errorf("postgres: list interactions: %w", err)
	}
	defer rows.Close()

	var out []domain.RouterInteraction
	for rows.Next() {
		var it domain.RouterInteraction
		if err := rows.Scan(&it.Address, &it.Router, &it.TxHash, &it.BlockNumber, &it.Time, &it.GasETH); err != nil {
			return nil, fmt.Errorf("postgres: scan interaction: %w", err)
		}
		out = append(out, it)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: list interactions: %w", err)
	}
	return out, nil
}

// ListRecentTraders returns the addresses with recorded router interactions
// in the window, most recently active first. Used by offline discovery runs.
func (s *DiscoveryStore) ListRecentTraders(ctx context.Context, since time.Time, limit int) ([]string, error) {
	query := `
		SELECT address FROM router_interactions
		WHERE happened_at >= $1
		GROUP BY address
		ORDER BY MAX(happened_at) DESC`
	args := []any{since}
	if limit > 0 {
		query += ` LIMIT $2`
		args = append(args, limit)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list recent traders: %w", err)
	}
	defer rows.Close()

	var addrs []string
	for rows.Next() {
		var addr string
		if err := rows.Scan(&addr); err != nil {
			return nil, fmt.Errorf("postgres: scan recent trader: %w", err)
		}
		addrs = append(addrs, addr)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: list recent traders: %w", err)
	}
	return addrs, nil
}

// UpsertActivity replaces an address's activity rollup.
func (s *DiscoveryStore) UpsertActivity(ctx context.Context, p domain.ActivityProfile) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO activity_profiles (
			address, swap_count, unique_protocols, gas_spent_eth,
			first_seen, last_activity, uses_defi, withdrew_from_cex, is_contract
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (address) DO UPDATE SET
			swap_count        = EXCLUDED.swap_count,
			unique_protocols  = EXCLUDED.unique_protocols,
			gas_spent_eth     = EXCLUDED.gas_spent_eth,
			first_seen        = EXCLUDED.first_seen,
			last_activity     = EXCLUDED.last_activity,
			uses_defi         = EXCLUDED.uses_defi,
			withdrew_from_cex = activity_profiles.withdrew_from_cex OR EXCLUDED.withdrew_from_cex,
			is_contract       = EXCLUDED.is_contract`,
		p.Address, p.SwapCount, p.UniqueProtocols, p.GasSpentETH,
		p.FirstSeen, p.LastActivity, p.UsesDeFi, p.WithdrewFromCEX, p.IsContract,
	)
	if err != nil {
		return fmt.Errorf("postgres: upsert activity for %s: %w", p.Address, err)
	}
	return nil
}

// ReplaceWatchlist swaps the watchlist wholesale for a new run's entries. The
// watchlist is derived state, fully recomputed each discovery pass.
func (s *DiscoveryStore) ReplaceWatchlist(ctx context.Context, runID string, entries []domain.WatchlistEntry) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("postgres: begin watchlist replace: %w", err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, `DELETE FROM watchlist_entries`); err != nil {
		return fmt.Errorf("postgres: clear watchlist: %w", err)
	}

	batch := &pgx.Batch{}
	const query = `
		INSERT INTO watchlist_entries (
			address, run_id, rank, status, qualifies, reason,
			coverage_pct, priced_trades, total_swaps, unique_protocols,
			sharpe, net_pnl_usd, win_rate_pct, withdrew_from_cex, last_activity
		) VALUES (
			$1, $2, $3, $4, $5, $6,
			$7, $8, $9, $10,
			$11, $12, $13, $14, $15
		)`
	for i, e := range entries {
		batch.Queue(query,
			e.Address, runID, i+1, string(e.Status), e.Qualifies, e.Reason,
			e.CoveragePct, e.PricedTrades, e.TotalSwaps, e.UniqueProtocols,
			e.Sharpe, e.NetPnLUSD, e.WinRatePct, e.WithdrewFromCEX, e.LastActivity,
		)
	}

	if batch.Len() > 0 {
		br := tx.SendBatch(ctx, batch)
		for i := 0; i < batch.Len(); i++ {
			if _, err := br.Exec(); err != nil {
				br.Close()
				return fmt.Errorf("postgres: insert watchlist item %d: %w", i, err)
			}
		}
		if err := br.Close(); err != nil {
			return fmt.Errorf("postgres: close watchlist batch: %w", err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("postgres: commit watchlist replace: %w", err)
	}
	return nil
}

// ListTracked returns the scoring universe: manually tracked wallets plus the
// current qualified watchlist, deduplicated, tracked wallets first.
func (s *DiscoveryStore) ListTracked(ctx context.Context, limit int) ([]string, error) {
	query := `
		SELECT address FROM (
			SELECT address, 0 AS pri, added_at AS ord FROM tracked_wallets
			UNION
			SELECT address, 1 AS pri, last_activity AS ord
			FROM watchlist_entries WHERE qualifies
		) candidates
		GROUP BY address
		ORDER BY MIN(pri) ASC, MAX(ord) DESC`
	args := []any{}
	if limit > 0 {
		query += ` LIMIT $1`
		args = append(args, limit)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list tracked wallets: %w", err)
	}
	defer rows.Close()

	var wallets []string
	for rows.Next() {
		var addr string
		if err := rows.Scan(&addr); err != nil {
			return nil, fmt.Errorf("postgres: scan tracked wallet: %w", err)
		}
		wallets = append(wallets, addr)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: list tracked wallets: %w", err)
	}
	return wallets, nil
}
