package domain

import "time"

// CandidateStatus is the discovery state machine position of an address:
// unseen -> candidate -> scored -> watchlist | rejected.
type CandidateStatus string

const (
	StatusUnseen    CandidateStatus = "unseen"
	StatusCandidate CandidateStatus = "candidate"
	StatusScored    CandidateStatus = "scored"
	StatusWatchlist CandidateStatus = "watchlist"
	StatusRejected  CandidateStatus = "rejected"
)

// SortKey selects the primary ranking key for a discovery run.
type SortKey string

const (
	SortSharpe       SortKey = "sharpe"
	SortPnL          SortKey = "pnl"
	SortActivity     SortKey = "activity"
	SortWinRate      SortKey = "win_rate"
	SortLastActivity SortKey = "last_activity"
)

// RouterInteraction is one observed transaction from an address to a known
// DEX router. These accumulate incrementally and back the activity profiles.
type RouterInteraction struct {
	Address     string
	Router      string
	TxHash      string
	BlockNumber uint64
	Time        time.Time
	GasETH      float64
}

// ActivityProfile is the per-address activity rollup used by discovery.
type ActivityProfile struct {
	Address         string
	SwapCount       int
	UniqueProtocols int
	GasSpentETH     float64
	FirstSeen       time.Time
	LastActivity    time.Time
	UsesDeFi        bool
	WithdrewFromCEX bool
	IsContract      bool
}

// WalletStats is the confidence-sensitive slice of a wallet's metrics that
// discovery consults when gating and ranking. Pointer fields are nil when
// risk metrics could not be obtained for the address.
type WalletStats struct {
	PricedTrades int
	TotalSwaps   int
	CoveragePct  float64
	Sharpe       *float64
	NetPnLUSD    *float64
	WinRatePct   *float64
}

// WatchlistEntry is an address plus its qualification verdict and the
// metrics that justified it. Derived, disposable, fully recomputed per run.
type WatchlistEntry struct {
	Address         string
	Status          CandidateStatus
	Qualifies       bool
	Reason          string
	CoveragePct     float64
	PricedTrades    int
	TotalSwaps      int
	UniqueProtocols int
	Sharpe          *float64
	NetPnLUSD       *float64
	WinRatePct      *float64
	WithdrewFromCEX bool
	LastActivity    time.Time
}

// FunnelStats counts addresses at each stage of the discovery funnel.
type FunnelStats struct {
	Candidates int
	Scored     int
	Watchlist  int
	Rejected   int
}

// DiscoveryResult is the full output of one discovery run.
type DiscoveryResult struct {
	Entries        []WatchlistEntry
	Funnel         FunnelStats
	SortKey        SortKey
	Fallback       bool
	Partial        bool
	ScannedRouters int
	Elapsed        time.Duration
}
