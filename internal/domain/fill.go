// Package domain defines the core record types and collaborator interfaces of
// the ROI scoring engine: fills, priced trades, lots, equity snapshots, risk
// metrics, composite scores, and the discovery types. Everything in here is
// dependency-free; implementations live in the sibling packages.
package domain

import (
	"fmt"
	"time"
)

// Side classifies the economic direction of a trade from the wallet's point
// of view. Route marks multi-hop legs where the wallet is not the ultimate
// holder of the intermediate asset.
type Side string

const (
	SideBuy   Side = "buy"
	SideSell  Side = "sell"
	SideRoute Side = "route"
)

// PricingMethod records how a trade's USD value was resolved.
type PricingMethod string

const (
	MethodStableLeg   PricingMethod = "stable_leg"
	MethodCachedPrice PricingMethod = "cached_price"
	MethodUnresolved  PricingMethod = "unresolved"
)

// PricedConfidenceMin is the confidence at or above which a trade counts as
// "priced" for coverage purposes: stable-leg inference and cache hits less
// than a day stale qualify, older cache hits and unresolved trades do not.
const PricedConfidenceMin = 0.5

// Fill is one economically meaningful on-chain token movement for a wallet.
// Its (TxHash, LogIndex) pair is globally unique, which makes reprocessing
// idempotent. Fills are immutable once recorded.
type Fill struct {
	TxHash        string
	LogIndex      uint
	Wallet        string
	Token         string
	TokenSymbol   string
	TokenDecimals uint8
	Direction     Side
	Amount        float64
	BlockNumber   uint64
	BlockTime     time.Time
	PriceUSD      float64
	ValueUSD      float64
	GasUSD        float64
	Counterparty  string
	Router        string
	Pool          string
}

// Key returns the globally unique identifier of the fill.
func (f Fill) Key() string {
	return fmt.Sprintf("%s:%d", f.TxHash, f.LogIndex)
}

// PricedTrade is a Fill enriched with resolved USD legs, the method used to
// resolve them, and a confidence in [0,1]. Trades below the confidence
// threshold still exist; they are only excluded from confidence-sensitive
// computations.
type PricedTrade struct {
	Fill
	USDIn      float64
	USDOut     float64
	Method     PricingMethod
	Confidence float64
}

// Priced reports whether the trade's USD value is reliable enough to count
// toward coverage and risk metrics.
func (t PricedTrade) Priced() bool {
	return t.Confidence >= PricedConfidenceMin
}
