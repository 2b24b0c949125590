// Package fifo implements first-in-first-out cost-basis matching: buys open
// tranches, sells consume them oldest-first, and every consumption closes an
// immutable trade lot with pro-rated entry costs.
package fifo

import (
	"errors"
	"math"
	"sort"
	"time"

	"github.com/ethhab/whaletrace/internal/domain"
)

// epsilon absorbs float dust when a tranche is consumed exactly.
const epsilon = 1e-12

// MatchWallet groups a wallet's trades by token and FIFO-matches each token
// sequence independently, returning one merged result.
func MatchWallet(trades []domain.PricedTrade) domain.MatchResult {
	byToken := make(map[string][]domain.PricedTrade)
	order := make([]string, 0)
	for _, t := range trades {
		if _, ok := byToken[t.Token]; !ok {
			order = append(order, t.Token)
		}
		byToken[t.Token] = append(byToken[t.Token], t)
	}
	sort.Strings(order)

	var result domain.MatchResult
	for _, token := range order {
		result.Merge(Match(byToken[token]))
	}
	return result
}

// Match FIFO-matches one (wallet, token) trade sequence. Trades are processed
// in chain order (block number, then log index) regardless of input order, so
// reprocessing the same fills always yields the same lots. Route legs carry
// no inventory and are skipped. Sells that exceed open inventory are recorded
// as unmatched; no synthetic entry is ever fabricated.
func Match(trades []domain.PricedTrade) domain.MatchResult {
	ordered := make([]domain.PricedTrade, len(trades))
	copy(ordered, trades)
	sort.SliceStable(ordered, func(i, j int) bool {
		if ordered[i].BlockNumber != ordered[j].BlockNumber {
			return ordered[i].BlockNumber < ordered[j].BlockNumber
		}
		return ordered[i].LogIndex < ordered[j].LogIndex
	})

	var result domain.MatchResult
	var open []domain.Tranche

	for _, t := range ordered {
		switch t.Direction {
		case domain.SideBuy:
			if t.Amount <= 0 {
				continue
			}
			open = append(open, domain.Tranche{
				Wallet:        t.Wallet,
				Token:         t.Token,
				TokenSymbol:   t.TokenSymbol,
				EntryFillKey:  t.Key(),
				EntryAmount:   t.Amount,
				Remaining:     t.Amount,
				EntryPriceUSD: t.PriceUSD,
				EntryValueUSD: t.ValueUSD,
				EntryGasUSD:   t.GasUSD,
				EntryTime:     t.BlockTime,
				Confidence:    t.Confidence,
			})
		case domain.SideSell:
			if t.Amount <= 0 {
				continue
			}
			var short float64
			var err error
			open, short, err = consumeSell(t, open, &result)
			if errors.Is(err, domain.ErrInsufficientInventory) {
				overFrac := short / t.Amount
				result.Unmatched = append(result.Unmatched, domain.UnmatchedSell{
					Wallet:   t.Wallet,
					Token:    t.Token,
					FillKey:  t.Key(),
					Amount:   short,
					ValueUSD: t.ValueUSD * overFrac,
					Time:     t.BlockTime,
				})
			}
		}
	}

	result.Open = open
	return result
}

// consumeSell walks the open tranches oldest-first, closing one lot per
// tranche touched. Both legs' costs are pro-rated by the fraction consumed.
// When the sell exceeds the open inventory it returns the unconsumed amount
// with ErrInsufficientInventory; the caller decides how to record it.
func consumeSell(sell domain.PricedTrade, open []domain.Tranche, result *domain.MatchResult) ([]domain.Tranche, float64, error) {
	remaining := sell.Amount

	for remaining > epsilon && len(open) > 0 {
		tr := &open[0]
		consumed := math.Min(remaining, tr.Remaining)

		entryFrac := consumed / tr.EntryAmount
		exitFrac := consumed / sell.Amount

		lot := domain.TradeLot{
			Wallet:        sell.Wallet,
			Token:         sell.Token,
			TokenSymbol:   sell.TokenSymbol,
			EntryFillKey:  tr.EntryFillKey,
			ExitFillKey:   sell.Key(),
			Amount:        consumed,
			EntryPriceUSD: tr.EntryPriceUSD,
			ExitPriceUSD:  sell.PriceUSD,
			EntryValueUSD: tr.EntryValueUSD * entryFrac,
			ExitValueUSD:  sell.ValueUSD * exitFrac,
			EntryGasUSD:   tr.EntryGasUSD * entryFrac,
			ExitGasUSD:    sell.GasUSD * exitFrac,
			EntryTime:     tr.EntryTime,
			ExitTime:      sell.BlockTime,
			HoldDays:      holdDays(tr.EntryTime, sell.BlockTime),
			Confidence:    math.Min(tr.Confidence, sell.Confidence),
		}
		lot.GrossPnLUSD = lot.ExitValueUSD - lot.EntryValueUSD
		lot.NetPnLUSD = lot.GrossPnLUSD - lot.EntryGasUSD - lot.ExitGasUSD
		if lot.EntryValueUSD > 0 {
			lot.ROIPercent = lot.NetPnLUSD / lot.EntryValueUSD * 100
		}
		result.Lots = append(result.Lots, lot)

		remaining -= consumed
		tr.Remaining -= consumed
		if tr.Remaining <= epsilon {
			open = open[1:]
		}
	}

	if remaining > epsilon {
		return open, remaining, domain.ErrInsufficientInventory
	}
	return open, 0, nil
}

// holdDays is the whole number of days between entry and exit, floored at
// zero so clock skew between block timestamps never yields a negative hold.
func holdDays(entry, exit time.Time) int {
	days := int(exit.Sub(entry).Hours() / 24)
	if days < 0 {
		return 0
	}
	return days
}
