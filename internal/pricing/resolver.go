// Package pricing converts raw transaction receipts into priced swap records.
// USD values are resolved by a priority of methods: stable-leg inference,
// cached hourly spot prices, and finally an unresolved floor that keeps the
// trade visible with zero confidence rather than dropping it.
package pricing

import (
	"context"
	"errors"
	"log/slog"
	"math"
	"strings"
	"time"

	"github.com/ethhab/whaletrace/internal/domain"
)

// wethAddress is used to price gas costs in USD.
const wethAddress = "0xc02aaa39b223fe8d0a0e5c4f27ead9083c756cc2"

// Cached-price confidence: 0.9 when the cached price is fresh, decaying
// linearly to domain.PricedConfidenceMin at 24 hours of staleness and floored
// at 0.3. Cache hits older than a day no longer count as priced for coverage.
const (
	cacheConfidenceMax   = 0.9
	cacheConfidenceFloor = 0.3
	cacheConfidenceDecay = 0.4 / 24 // per hour
)

// Resolver is the trade pricing resolver. It is safe for concurrent use by
// multiple wallet pipelines; all state is read-only after construction.
type Resolver struct {
	registry *domain.AddressRegistry
	prices   domain.PriceSource
	dialects []Dialect
	logger   *slog.Logger
}

// NewResolver creates a Resolver using the default router dialects.
func NewResolver(registry *domain.AddressRegistry, prices domain.PriceSource, logger *slog.Logger) *Resolver {
	return &Resolver{
		registry: registry,
		prices:   prices,
		dialects: DefaultDialects(registry),
		logger:   logger.With(slog.String("component", "pricing")),
	}
}

// tokenFlow accumulates a token's movements across a receipt's legs.
type tokenFlow struct {
	in        float64
	out       float64
	pool      string
	headIndex uint
}

// Resolve converts one receipt into the wallet's priced trades.
//
// Failed receipts (status 0) yield nothing: they represent no economic
// transfer. When no dialect recognizes the receipt a *domain.DecodeError is
// returned together with a fallback trade (side route, value unresolved) so
// the interaction is recorded, never dropped. A missing price degrades the
// single affected trade to unresolved rather than failing the call.
func (r *Resolver) Resolve(ctx context.Context, rc domain.Receipt, wallet string) ([]domain.PricedTrade, error) {
	if rc.Status == 0 {
		return nil, nil
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	wallet = strings.ToLower(wallet)

	var legs []swapLeg
	var dialect string
	for _, d := range r.dialects {
		if d.Matches(rc) {
			legs = d.Legs(rc, wallet)
			dialect = d.Name()
			break
		}
	}
	if dialect == "" {
		decErr := &domain.DecodeError{
			TxHash: rc.TxHash,
			Router: strings.ToLower(rc.To),
			Reason: "no known router dialect matches receipt logs",
		}
		return []domain.PricedTrade{r.routeFallback(rc, wallet)}, decErr
	}
	if len(legs) == 0 {
		// Recognized swap shape but the wallet held no leg of it (e.g. a
		// contract acting on its behalf). Nothing to price.
		return nil, nil
	}

	// Stable legs anchor USD; non-stable legs become fills.
	var stableIn, stableOut float64
	flows := make(map[string]*tokenFlow)
	order := make([]string, 0, len(legs))
	for _, leg := range legs {
		if _, ok := r.registry.StableDecimals(leg.Token); ok {
			if leg.In {
				stableIn += leg.Amount
			} else {
				stableOut += leg.Amount
			}
			continue
		}
		f, ok := flows[leg.Token]
		if !ok {
			f = &tokenFlow{pool: leg.Counterpart, headIndex: leg.LogIndex}
			flows[leg.Token] = f
			order = append(order, leg.Token)
		}
		if leg.In {
			f.in += leg.Amount
		} else {
			f.out += leg.Amount
		}
		if leg.LogIndex < f.headIndex {
			f.headIndex = leg.LogIndex
		}
	}

	// Stable-leg inference only anchors cleanly when a single non-stable
	// token sits on the priced side; otherwise each leg is priced from the
	// cache to avoid double-counting the anchor.
	buys, sells := 0, 0
	for _, token := range order {
		f := flows[token]
		switch side(f) {
		case domain.SideBuy:
			buys++
		case domain.SideSell:
			sells++
		}
	}

	gasUSD := r.gasUSD(ctx, rc)
	perTradeGas := 0.0
	if len(order) > 0 {
		perTradeGas = gasUSD / float64(len(order))
	}

	trades := make([]domain.PricedTrade, 0, len(order))
	for _, token := range order {
		f := flows[token]
		sd := side(f)
		amount := math.Abs(f.in - f.out)
		if sd == domain.SideRoute {
			amount = math.Max(f.in, f.out)
		}

		trade := domain.PricedTrade{
			Fill: domain.Fill{
				TxHash:        rc.TxHash,
				LogIndex:      f.headIndex,
				Wallet:        wallet,
				Token:         token,
				TokenDecimals: tokenDecimals(r.registry, token),
				Direction:     sd,
				Amount:        amount,
				BlockNumber:   rc.BlockNumber,
				BlockTime:     rc.BlockTime,
				GasUSD:        perTradeGas,
				Counterparty:  strings.ToLower(rc.To),
				Router:        strings.ToLower(rc.To),
				Pool:          f.pool,
			},
		}

		anchor := 0.0
		switch {
		case sd == domain.SideBuy && buys == 1:
			anchor = stableOut
		case sd == domain.SideSell && sells == 1:
			anchor = stableIn
		}

		switch {
		case anchor > 0:
			trade.Method = domain.MethodStableLeg
			trade.Confidence = 1.0
			trade.ValueUSD = anchor
		default:
			price, fetchedAt, err := r.prices.TokenPrice(ctx, token, HourBucket(rc.BlockTime))
			switch {
			case err == nil:
				trade.Method = domain.MethodCachedPrice
				trade.Confidence = cacheConfidence(rc.BlockTime, fetchedAt)
				trade.ValueUSD = amount * price
			case errors.Is(err, domain.ErrPricingUnavailable) || errors.Is(err, domain.ErrNotFound):
				trade.Method = domain.MethodUnresolved
			default:
				// Transient lookup failure: degrade this one trade.
				r.logger.WarnContext(ctx, "price lookup failed, trade unresolved",
					slog.String("token", token),
					slog.String("tx_hash", rc.TxHash),
					slog.String("error", err.Error()),
				)
				trade.Method = domain.MethodUnresolved
			}
		}

		if amount > 0 && trade.ValueUSD > 0 {
			trade.PriceUSD = trade.ValueUSD / amount
		}
		// Both USD legs of a swap are equal at execution: the anchored
		// value IS the counter-leg, and cache-priced values assume a fair
		// swap.
		switch sd {
		case domain.SideBuy:
			trade.USDIn = trade.ValueUSD
			trade.USDOut = trade.ValueUSD
		case domain.SideSell:
			trade.USDOut = trade.ValueUSD
			trade.USDIn = trade.ValueUSD
		}

		trades = append(trades, trade)
	}

	return trades, nil
}

// side classifies a token flow: net inflow is a buy, net outflow a sell, and
// a token that both enters and leaves in (nearly) equal measure is a routing
// hop the wallet never held.
func side(f *tokenFlow) domain.Side {
	net := f.in - f.out
	gross := f.in + f.out
	if f.in > 0 && f.out > 0 && math.Abs(net) < gross*1e-9 {
		return domain.SideRoute
	}
	if net >= 0 {
		return domain.SideBuy
	}
	return domain.SideSell
}

// gasUSD prices the receipt's gas cost via the cached WETH price. A missing
// ETH price degrades gas to zero rather than blocking the trade.
func (r *Resolver) gasUSD(ctx context.Context, rc domain.Receipt) float64 {
	gasETH := rc.GasCostETH()
	if gasETH <= 0 {
		return 0
	}
	price, _, err := r.prices.TokenPrice(ctx, wethAddress, HourBucket(rc.BlockTime))
	if err != nil {
		return 0
	}
	return gasETH * price
}

// routeFallback builds the unresolved trade recorded for receipts no dialect
// could decode.
func (r *Resolver) routeFallback(rc domain.Receipt, wallet string) domain.PricedTrade {
	return domain.PricedTrade{
		Fill: domain.Fill{
			TxHash:       rc.TxHash,
			Wallet:       wallet,
			Direction:    domain.SideRoute,
			BlockNumber:  rc.BlockNumber,
			BlockTime:    rc.BlockTime,
			Counterparty: strings.ToLower(rc.To),
			Router:       strings.ToLower(rc.To),
		},
		Method:     domain.MethodUnresolved,
		Confidence: 0,
	}
}

// cacheConfidence weights a cached price by its staleness relative to the
// trade time.
func cacheConfidence(tradeTime, fetchedAt time.Time) float64 {
	ageHours := math.Abs(tradeTime.Sub(fetchedAt).Hours())
	conf := cacheConfidenceMax - cacheConfidenceDecay*ageHours
	if conf < cacheConfidenceFloor {
		return cacheConfidenceFloor
	}
	return conf
}

// HourBucket truncates a timestamp to the hourly price-cache bucket.
func HourBucket(t time.Time) time.Time {
	return t.UTC().Truncate(time.Hour)
}
