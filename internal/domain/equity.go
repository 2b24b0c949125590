package domain

import "time"

// EquitySnapshot is one wallet's portfolio state on one calendar day (UTC).
// Snapshots are built idempotently per day and form a gapless daily series;
// days without activity carry the previous value forward so that risk
// metrics always see evenly spaced samples.
type EquitySnapshot struct {
	Wallet            string
	Day               time.Time
	PortfolioValueUSD float64
	RealizedPnLUSD    float64
	UnrealizedPnLUSD  float64
	TotalInvestedUSD  float64
	OpenPositions     int
}

// RiskMetrics holds per-wallet risk statistics derived from a daily equity
// curve over a trailing window. Recomputed wholesale each run.
type RiskMetrics struct {
	Wallet         string
	WindowDays     int
	Sharpe         float64
	MaxDrawdownPct float64
	VolatilityPct  float64
	ComputedAt     time.Time
}
