package domain

import "time"

// RunSummary is the operational record emitted at the end of a batch run.
// Degraded and partial states are always visible here, never coerced away.
type RunSummary struct {
	RunID            string
	Mode             string
	StartedAt        time.Time
	Duration         time.Duration
	WalletsProcessed int
	// WalletsFailed counts wallet pipelines that aborted; Errors counts
	// per-record degradations (receipt fetches, decodes) inside pipelines
	// that still completed.
	WalletsFailed  int
	TradesPriced   int
	LotsClosed     int
	UnmatchedSells int
	SnapshotsBuilt int
	ScoresComputed int
	Errors         int
	Partial        bool
}
