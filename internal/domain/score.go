package domain

import "time"

// TradingMetrics are the raw per-wallet trading statistics over a scoring
// window, computed from closed lots and the wallet's risk metrics.
type TradingMetrics struct {
	Wallet           string
	WindowDays       int
	TotalTrades      int
	WinningTrades    int
	LosingTrades     int
	WinRatePct       float64
	AvgROIPct        float64
	MedianROIPct     float64
	BestTradeROIPct  float64
	WorstTradeROIPct float64
	AvgHoldDays      float64
	TotalNetPnLUSD   float64
	TotalVolumeUSD   float64
	AvgPositionUSD   float64
	TotalGasUSD      float64
	GasPctOfVolume   float64
	Sharpe           float64
	MaxDrawdownPct   float64
}

// ComponentScores are the six normalized sub-scores, each in [0,100].
type ComponentScores struct {
	ROI         float64
	Volume      float64
	Consistency float64
	Risk        float64
	Activity    float64
	Efficiency  float64
}

// Composite score weights. Fixed constants of the design; they sum to 1.0.
const (
	WeightROI         = 0.30
	WeightVolume      = 0.20
	WeightConsistency = 0.20
	WeightRisk        = 0.15
	WeightActivity    = 0.10
	WeightEfficiency  = 0.05
)

// CompositeScore is the weighted aggregate ranking value for one wallet,
// together with the component scores and raw metrics that produced it. Each
// recomputation supersedes the previous score entirely.
type CompositeScore struct {
	Wallet     string
	Composite  float64
	Components ComponentScores
	Metrics    TradingMetrics
	Category   string
	RunID      string
	ComputedAt time.Time
}

// ScoreCategory bands a composite score for display.
func ScoreCategory(composite float64) string {
	switch {
	case composite >= 80:
		return "excellent"
	case composite >= 60:
		return "good"
	case composite >= 40:
		return "average"
	default:
		return "poor"
	}
}
