// Package equity builds gapless daily portfolio snapshots from matched lots
// and open inventory, and derives risk statistics from the resulting curve.
package equity

import (
	"context"
	"errors"
	"log/slog"
	"sort"
	"time"

	"github.com/ethhab/whaletrace/internal/domain"
)

const dust = 1e-12

// CurveBuilder turns one wallet's match result into a daily equity series.
// Daily marks come from the price source; a day without a price carries the
// token's most recent known price forward instead of marking to zero, which
// would show up as a false drawdown.
type CurveBuilder struct {
	prices domain.DailyPriceSource
	logger *slog.Logger
}

// NewCurveBuilder creates a CurveBuilder.
func NewCurveBuilder(prices domain.DailyPriceSource, logger *slog.Logger) *CurveBuilder {
	return &CurveBuilder{
		prices: prices,
		logger: logger.With(slog.String("component", "equity")),
	}
}

// position is the per-token open state while sweeping days.
type position struct {
	amount    float64
	costUSD   float64
	lastPrice float64 // carry-forward mark, 0 until first successful lookup
}

// event is an inventory change applied at the start of its day.
type event struct {
	day     time.Time
	token   string
	amount  float64 // positive opens, negative closes
	costUSD float64 // entry value added or removed
	netPnL  float64 // realized on closes
}

// Build produces one snapshot per calendar day in [start, end], inclusive.
//
// Portfolio value is capital-based: cumulative entry value of every position
// ever opened, plus realized P&L to date, plus unrealized P&L on what is
// still open. Under this definition an idle wallet's curve is flat, a
// profitable exit moves the curve only by its gas cost, and new buys appear
// as capital inflows.
func (b *CurveBuilder) Build(ctx context.Context, wallet string, match domain.MatchResult, start, end time.Time) ([]domain.EquitySnapshot, error) {
	startDay := Day(start)
	endDay := Day(end)
	if endDay.Before(startDay) {
		return nil, nil
	}

	events := collectEvents(match)

	positions := make(map[string]*position)
	var cumEntry, investedOpen, realized float64
	next := 0

	// Replay everything that happened before the window so the first
	// snapshot starts from the correct open state.
	for next < len(events) && events[next].day.Before(startDay) {
		applyEvent(events[next], positions, &cumEntry, &investedOpen, &realized)
		next++
	}

	days := int(endDay.Sub(startDay).Hours()/24) + 1
	snapshots := make([]domain.EquitySnapshot, 0, days)

	for day := startDay; !day.After(endDay); day = day.AddDate(0, 0, 1) {
		if err := ctx.Err(); err != nil {
			return snapshots, err
		}
		for next < len(events) && !events[next].day.After(day) {
			applyEvent(events[next], positions, &cumEntry, &investedOpen, &realized)
			next++
		}

		unrealized, openCount := b.markToMarket(ctx, day, positions)

		snapshots = append(snapshots, domain.EquitySnapshot{
			Wallet:            wallet,
			Day:               day,
			PortfolioValueUSD: cumEntry + realized + unrealized,
			RealizedPnLUSD:    realized,
			UnrealizedPnLUSD:  unrealized,
			TotalInvestedUSD:  investedOpen,
			OpenPositions:     openCount,
		})
	}

	return snapshots, nil
}

// markToMarket values the open positions on one day. A token whose price has
// never resolved is held at cost (zero unrealized) rather than dropped.
func (b *CurveBuilder) markToMarket(ctx context.Context, day time.Time, positions map[string]*position) (float64, int) {
	var unrealized float64
	openCount := 0

	for token, pos := range positions {
		if pos.amount <= dust {
			continue
		}
		openCount++

		price, err := b.prices.DailyPrice(ctx, token, day)
		switch {
		case err == nil:
			pos.lastPrice = price
		case errors.Is(err, domain.ErrPricingUnavailable) || errors.Is(err, domain.ErrNotFound):
			// Carry the last known mark forward.
		default:
			b.logger.WarnContext(ctx, "daily price lookup failed, carrying mark forward",
				slog.String("token", token),
				slog.Time("day", day),
				slog.String("error", err.Error()),
			)
		}

		if pos.lastPrice > 0 {
			unrealized += pos.amount*pos.lastPrice - pos.costUSD
		}
	}

	return unrealized, openCount
}

// collectEvents flattens a match result into day-ordered inventory changes.
// Each lot opens its amount on the entry day and closes it on the exit day;
// leftover tranches open on their entry day and never close.
func collectEvents(match domain.MatchResult) []event {
	events := make([]event, 0, 2*len(match.Lots)+len(match.Open))

	for _, lot := range match.Lots {
		events = append(events,
			event{
				day:     Day(lot.EntryTime),
				token:   lot.Token,
				amount:  lot.Amount,
				costUSD: lot.EntryValueUSD,
			},
			event{
				day:     Day(lot.ExitTime),
				token:   lot.Token,
				amount:  -lot.Amount,
				costUSD: -lot.EntryValueUSD,
				netPnL:  lot.NetPnLUSD,
			},
		)
	}

	for _, tr := range match.Open {
		if tr.Remaining <= dust || tr.EntryAmount <= 0 {
			continue
		}
		frac := tr.Remaining / tr.EntryAmount
		events = append(events, event{
			day:     Day(tr.EntryTime),
			token:   tr.Token,
			amount:  tr.Remaining,
			costUSD: tr.EntryValueUSD * frac,
		})
	}

	sort.SliceStable(events, func(i, j int) bool {
		return events[i].day.Before(events[j].day)
	})
	return events
}

func applyEvent(ev event, positions map[string]*position, cumEntry, investedOpen, realized *float64) {
	pos, ok := positions[ev.token]
	if !ok {
		pos = &position{}
		positions[ev.token] = pos
	}
	pos.amount += ev.amount
	pos.costUSD += ev.costUSD
	if pos.amount < 0 {
		pos.amount = 0
	}
	if pos.costUSD < 0 {
		pos.costUSD = 0
	}

	*investedOpen += ev.costUSD
	if *investedOpen < 0 {
		*investedOpen = 0
	}
	if ev.amount > 0 {
		*cumEntry += ev.costUSD
	}
	*realized += ev.netPnL
}

// Day truncates a timestamp to its UTC calendar day.
func Day(t time.Time) time.Time {
	return time.Date(t.UTC().Year(), t.UTC().Month(), t.UTC().Day(), 0, 0, 0, 0, time.UTC)
}
