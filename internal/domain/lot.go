package domain

import "time"

// Tranche is an open FIFO buy position: the unconsumed remainder of a buy
// fill waiting to be matched against future sells.
type Tranche struct {
	Wallet        string
	Token         string
	TokenSymbol   string
	EntryFillKey  string
	EntryAmount   float64
	Remaining     float64
	EntryPriceUSD float64
	EntryValueUSD float64
	EntryGasUSD   float64
	EntryTime     time.Time
	Confidence    float64
}

// TradeLot is a closed round-trip position produced by FIFO matching. A lot
// references exactly one entry fill and one exit fill (or fractions of them
// when a tranche is split across sells). Lots are immutable.
type TradeLot struct {
	Wallet        string
	Token         string
	TokenSymbol   string
	EntryFillKey  string
	ExitFillKey   string
	Amount        float64
	EntryPriceUSD float64
	ExitPriceUSD  float64
	EntryValueUSD float64
	ExitValueUSD  float64
	EntryGasUSD   float64
	ExitGasUSD    float64
	EntryTime     time.Time
	ExitTime      time.Time
	HoldDays      int
	GrossPnLUSD   float64
	NetPnLUSD     float64
	ROIPercent    float64
	// Confidence is the weaker of the two legs' pricing confidences. Lots
	// below the priced threshold are excluded from risk metrics unless the
	// run explicitly includes them.
	Confidence float64
}

// Priced reports whether both legs of the lot carried reliable USD pricing.
func (l TradeLot) Priced() bool {
	return l.Confidence >= PricedConfidenceMin
}

// UnmatchedSell records a sell (or the remainder of one) that exceeded the
// wallet's open inventory. No synthetic entry is fabricated for it.
type UnmatchedSell struct {
	Wallet   string
	Token    string
	FillKey  string
	Amount   float64
	ValueUSD float64
	Time     time.Time
}

// MatchResult is the full output of FIFO matching one (wallet, token) trade
// sequence: closed lots, remaining open inventory, and unmatched sells.
type MatchResult struct {
	Lots      []TradeLot
	Open      []Tranche
	Unmatched []UnmatchedSell
}

// Merge appends another result into this one. Used when matching runs
// per-token and the caller wants a single per-wallet result.
func (r *MatchResult) Merge(other MatchResult) {
	r.Lots = append(r.Lots, other.Lots...)
	r.Open = append(r.Open, other.Open...)
	r.Unmatched = append(r.Unmatched, other.Unmatched...)
}
