package domain

import (
	"context"
	"time"
)

// FillStore persists priced trades. Inserts are idempotent on the
// (tx_hash, log_index) pair.
type FillStore interface {
	InsertBatch(ctx context.Context, trades []PricedTrade) error
	ListByWallet(ctx context.Context, wallet string, since time.Time) ([]PricedTrade, error)
	CountSince(ctx context.Context, wallet string, since time.Time) (total, priced int, err error)
}

// LotStore persists closed trade lots and unmatched sell events. Lots for a
// wallet are replaced wholesale on reprocessing since FIFO matching is
// deterministic and replayable.
type LotStore interface {
	ReplaceForWallet(ctx context.Context, wallet string, lots []TradeLot, unmatched []UnmatchedSell) error
	ListByWallet(ctx context.Context, wallet string, since time.Time) ([]TradeLot, error)
}

// EquityStore persists daily equity snapshots and derived risk metrics.
// Snapshots are upserted idempotently per (wallet, day).
type EquityStore interface {
	UpsertSnapshots(ctx context.Context, snaps []EquitySnapshot) error
	ListSnapshots(ctx context.Context, wallet string, from, to time.Time) ([]EquitySnapshot, error)
	UpsertRiskMetrics(ctx context.Context, m RiskMetrics) error
	GetRiskMetrics(ctx context.Context, wallet string) (RiskMetrics, error)
}

// ScoreStore persists composite scores, superseding the previous score for
// each wallet entirely.
type ScoreStore interface {
	UpsertBatch(ctx context.Context, scores []CompositeScore) error
	ListTop(ctx context.Context, limit int) ([]CompositeScore, error)
}

// DiscoveryStore persists the discovery side of the engine: the registry
// tables, observed router interactions, activity profiles, and the
// watchlist.
type DiscoveryStore interface {
	LoadRegistry(ctx context.Context) (*AddressRegistry, error)
	RecordInteractions(ctx context.Context, interactions []RouterInteraction) error
	ListInteractions(ctx context.Context, address string, since time.Time) ([]RouterInteraction, error)
	ListRecentTraders(ctx context.Context, since time.Time, limit int) ([]string, error)
	UpsertActivity(ctx context.Context, p ActivityProfile) error
	ReplaceWatchlist(ctx context.Context, runID string, entries []WatchlistEntry) error
	ListTracked(ctx context.Context, limit int) ([]string, error)
}

// RunStore records run summaries for operational logging.
type RunStore interface {
	RecordRun(ctx context.Context, s RunSummary) error
}
