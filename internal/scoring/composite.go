// Package scoring derives per-wallet trading metrics from closed lots and
// folds them into composite rankings. Component scores are normalized
// against the population evaluated in the same run (min-max scaling), so
// scores are comparable within a run but not across runs with different
// populations.
package scoring

import (
	"math"
	"sort"
	"time"

	"github.com/ethhab/whaletrace/internal/domain"
)

// BuildMetrics computes a wallet's raw trading statistics from its closed
// lots and risk metrics. The caller decides which lots participate; lots
// with unreliable pricing are normally filtered out first.
func BuildMetrics(wallet string, lots []domain.TradeLot, risk domain.RiskMetrics, windowDays int) domain.TradingMetrics {
	m := domain.TradingMetrics{
		Wallet:         wallet,
		WindowDays:     windowDays,
		TotalTrades:    len(lots),
		Sharpe:         risk.Sharpe,
		MaxDrawdownPct: risk.MaxDrawdownPct,
	}
	if len(lots) == 0 {
		return m
	}

	rois := make([]float64, 0, len(lots))
	var roiSum, holdSum float64
	m.BestTradeROIPct = math.Inf(-1)
	m.WorstTradeROIPct = math.Inf(1)

	for _, lot := range lots {
		if lot.NetPnLUSD > 0 {
			m.WinningTrades++
		} else {
			m.LosingTrades++
		}
		rois = append(rois, lot.ROIPercent)
		roiSum += lot.ROIPercent
		holdSum += float64(lot.HoldDays)
		m.TotalNetPnLUSD += lot.NetPnLUSD
		m.TotalVolumeUSD += lot.EntryValueUSD
		m.TotalGasUSD += lot.EntryGasUSD + lot.ExitGasUSD
		if lot.ROIPercent > m.BestTradeROIPct {
			m.BestTradeROIPct = lot.ROIPercent
		}
		if lot.ROIPercent < m.WorstTradeROIPct {
			m.WorstTradeROIPct = lot.ROIPercent
		}
	}

	n := float64(len(lots))
	m.WinRatePct = float64(m.WinningTrades) / n * 100
	m.AvgROIPct = roiSum / n
	m.MedianROIPct = median(rois)
	m.AvgHoldDays = holdSum / n
	m.AvgPositionUSD = m.TotalVolumeUSD / n
	if m.TotalVolumeUSD > 0 {
		m.GasPctOfVolume = m.TotalGasUSD / m.TotalVolumeUSD * 100
	}
	return m
}

// FilterPriced returns the lots whose both legs carried reliable pricing.
func FilterPriced(lots []domain.TradeLot) []domain.TradeLot {
	out := make([]domain.TradeLot, 0, len(lots))
	for _, lot := range lots {
		if lot.Priced() {
			out = append(out, lot)
		}
	}
	return out
}

// Scorer ranks a population of wallets. Wallets below the minimum trade
// count receive a composite of 0: a two-trade wallet with a lucky 300% ROI
// must not outrank a consistent trader.
type Scorer struct {
	minTradeCount int
}

// NewScorer creates a Scorer with the given minimum trade count.
func NewScorer(minTradeCount int) *Scorer {
	return &Scorer{minTradeCount: minTradeCount}
}

// raw component values for one wallet before normalization. Each is a
// monotone "more is better" signal; efficiency negates gas share so that
// cheaper trading ranks higher.
type rawComponents struct {
	roi         float64
	volume      float64
	consistency float64
	risk        float64
	activity    float64
	efficiency  float64
}

func rawOf(m domain.TradingMetrics) rawComponents {
	days := float64(m.WindowDays)
	if days <= 0 {
		days = 1
	}
	return rawComponents{
		roi:         m.AvgROIPct,
		volume:      m.TotalVolumeUSD,
		consistency: m.WinRatePct,
		risk:        m.Sharpe*20 + (100 - 2*m.MaxDrawdownPct),
		activity:    float64(m.TotalTrades) / days,
		efficiency:  -m.GasPctOfVolume,
	}
}

// ScoreAll scores the whole population in one pass. Every component is
// min-max scaled to [0,100] against this population; when all wallets share
// the same raw value the component degenerates to 50 for everyone.
func (s *Scorer) ScoreAll(population []domain.TradingMetrics, runID string, now time.Time) []domain.CompositeScore {
	if len(population) == 0 {
		return nil
	}

	raws := make([]rawComponents, len(population))
	for i, m := range population {
		raws[i] = rawOf(m)
	}

	norm := newNormalizer(raws)

	scores := make([]domain.CompositeScore, len(population))
	for i, m := range population {
		components := domain.ComponentScores{
			ROI:         norm.roi(raws[i].roi),
			Volume:      norm.volume(raws[i].volume),
			Consistency: norm.consistency(raws[i].consistency),
			Risk:        norm.risk(raws[i].risk),
			Activity:    norm.activity(raws[i].activity),
			Efficiency:  norm.efficiency(raws[i].efficiency),
		}

		composite := domain.WeightROI*components.ROI +
			domain.WeightVolume*components.Volume +
			domain.WeightConsistency*components.Consistency +
			domain.WeightRisk*components.Risk +
			domain.WeightActivity*components.Activity +
			domain.WeightEfficiency*components.Efficiency
		if m.TotalTrades < s.minTradeCount {
			composite = 0
		}

		scores[i] = domain.CompositeScore{
			Wallet:     m.Wallet,
			Composite:  clamp(composite),
			Components: components,
			Metrics:    m,
			Category:   domain.ScoreCategory(composite),
			RunID:      runID,
			ComputedAt: now,
		}
	}

	sort.SliceStable(scores, func(i, j int) bool {
		return scores[i].Composite > scores[j].Composite
	})
	return scores
}

// normalizer holds per-component min-max ranges for one population.
type normalizer struct {
	roi, volume, consistency, risk, activity, efficiency func(float64) float64
}

func newNormalizer(raws []rawComponents) normalizer {
	extract := func(f func(rawComponents) float64) func(float64) float64 {
		lo, hi := math.Inf(1), math.Inf(-1)
		for _, r := range raws {
			v := f(r)
			lo = math.Min(lo, v)
			hi = math.Max(hi, v)
		}
		return minMax(lo, hi)
	}
	return normalizer{
		roi:         extract(func(r rawComponents) float64 { return r.roi }),
		volume:      extract(func(r rawComponents) float64 { return r.volume }),
		consistency: extract(func(r rawComponents) float64 { return r.consistency }),
		risk:        extract(func(r rawComponents) float64 { return r.risk }),
		activity:    extract(func(r rawComponents) float64 { return r.activity }),
		efficiency:  extract(func(r rawComponents) float64 { return r.efficiency }),
	}
}

// minMax scales [lo,hi] onto [0,100]. A degenerate range (every wallet
// identical) maps to the midpoint so the component neither rewards nor
// penalizes anyone.
func minMax(lo, hi float64) func(float64) float64 {
	span := hi - lo
	return func(v float64) float64 {
		if span <= 0 {
			return 50
		}
		return clamp((v - lo) / span * 100)
	}
}

func clamp(v float64) float64 {
	return math.Min(100, math.Max(0, v))
}

func median(xs []float64) float64 {
	sorted := make([]float64, len(xs))
	copy(sorted, xs)
	sort.Float64s(sorted)
	n := len(sorted)
	if n%2 == 1 {
		return sorted[n/2]
	}
	return (sorted[n/2-1] + sorted[n/2]) / 2
}
