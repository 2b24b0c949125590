package equity

import (
	"math"
	"time"

	"github.com/ethhab/whaletrace/internal/domain"
)

// annualization factor for daily samples.
var sqrt365 = math.Sqrt(365)

// ComputeRisk derives risk statistics from a gapless daily equity series.
// Every degenerate case collapses to zero rather than NaN: fewer than two
// snapshots, a zero-value day, or a perfectly flat curve all yield zeros.
func ComputeRisk(wallet string, snapshots []domain.EquitySnapshot, windowDays int, now time.Time) domain.RiskMetrics {
	m := domain.RiskMetrics{
		Wallet:     wallet,
		WindowDays: windowDays,
		ComputedAt: now,
	}
	if len(snapshots) < 2 {
		return m
	}

	returns := dailyReturns(snapshots)
	mean := meanOf(returns)
	std := stddevOf(returns, mean)

	m.VolatilityPct = std * sqrt365 * 100
	if std > 0 {
		m.Sharpe = mean / std * sqrt365
	}
	m.MaxDrawdownPct = maxDrawdownPct(snapshots)
	return m
}

// dailyReturns computes simple day-over-day returns, defining the return as
// zero when the previous value is zero.
func dailyReturns(snapshots []domain.EquitySnapshot) []float64 {
	returns := make([]float64, 0, len(snapshots)-1)
	for i := 1; i < len(snapshots); i++ {
		prev := snapshots[i-1].PortfolioValueUSD
		if prev <= 0 {
			returns = append(returns, 0)
			continue
		}
		returns = append(returns, (snapshots[i].PortfolioValueUSD-prev)/prev)
	}
	return returns
}

// maxDrawdownPct is the largest peak-to-trough decline as a percentage of
// the peak-to-date value.
func maxDrawdownPct(snapshots []domain.EquitySnapshot) float64 {
	peak := snapshots[0].PortfolioValueUSD
	maxDD := 0.0
	for _, s := range snapshots[1:] {
		v := s.PortfolioValueUSD
		if v > peak {
			peak = v
			continue
		}
		if peak > 0 {
			if dd := (peak - v) / peak; dd > maxDD {
				maxDD = dd
			}
		}
	}
	return maxDD * 100
}

func meanOf(xs []float64) float64 {
	if len(xs) == 0 {
		return 0
	}
	sum := 0.0
	for _, x := range xs {
		sum += x
	}
	return sum / float64(len(xs))
}

// stddevOf is the sample standard deviation (n-1 denominator).
func stddevOf(xs []float64, mean float64) float64 {
	if len(xs) < 2 {
		return 0
	}
	sum := 0.0
	for _, x := range xs {
		d := x - mean
		sum += d * d
	}
	return math.Sqrt(sum / float64(len(xs)-1))
}
