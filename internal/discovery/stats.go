package discovery

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ethhab/whaletrace/internal/domain"
)

// StoreStats derives discovery's wallet statistics from the persisted fills,
// lots, and risk metrics.
type StoreStats struct {
	fills  domain.FillStore
	lots   domain.LotStore
	equity domain.EquityStore
}

var _ domain.StatsSource = (*StoreStats)(nil)

// NewStoreStats creates a StoreStats over the given stores.
func NewStoreStats(fills domain.FillStore, lots domain.LotStore, equity domain.EquityStore) *StoreStats {
	return &StoreStats{fills: fills, lots: lots, equity: equity}
}

// WalletStats computes coverage from fill counts and fills in the pointer
// metrics from closed lots and risk metrics where available. A wallet with
// no recorded history at all yields domain.ErrNotFound.
func (s *StoreStats) WalletStats(ctx context.Context, address string, since time.Time) (domain.WalletStats, error) {
	total, priced, err := s.fills.CountSince(ctx, address, since)
	if err != nil {
		return domain.WalletStats{}, fmt.Errorf("counting fills for %s: %w", address, err)
	}

	stats := domain.WalletStats{
		PricedTrades: priced,
		TotalSwaps:   total,
	}
	if total > 0 {
		stats.CoveragePct = float64(priced) / float64(total) * 100
	}

	lots, err := s.lots.ListByWallet(ctx, address, since)
	if err != nil && !errors.Is(err, domain.ErrNotFound) {
		return domain.WalletStats{}, fmt.Errorf("listing lots for %s: %w", address, err)
	}
	if priced := pricedLots(lots); len(priced) > 0 {
		var pnl float64
		wins := 0
		for _, lot := range priced {
			pnl += lot.NetPnLUSD
			if lot.NetPnLUSD > 0 {
				wins++
			}
		}
		winRate := float64(wins) / float64(len(priced)) * 100
		stats.NetPnLUSD = &pnl
		stats.WinRatePct = &winRate
	}

	risk, err := s.equity.GetRiskMetrics(ctx, address)
	switch {
	case err == nil:
		sharpe := risk.Sharpe
		stats.Sharpe = &sharpe
	case errors.Is(err, domain.ErrNotFound):
		// Never scored; Sharpe stays nil and gating falls back to activity.
	default:
		return domain.WalletStats{}, fmt.Errorf("loading risk metrics for %s: %w", address, err)
	}

	if total == 0 && len(lots) == 0 && stats.Sharpe == nil {
		return domain.WalletStats{}, domain.ErrNotFound
	}
	return stats, nil
}

func pricedLots(lots []domain.TradeLot) []domain.TradeLot {
	out := make([]domain.TradeLot, 0, len(lots))
	for _, lot := range lots {
		if lot.Priced() {
			out = append(out, lot)
		}
	}
	return out
}
