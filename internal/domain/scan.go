package domain

import (
	"context"
	"time"
)

// CEXWithdrawal is one outbound transfer from a known exchange hot wallet to
// an externally owned address. Fresh withdrawals seed discovery: a wallet
// funded from an exchange and immediately trading DeFi is a classic
// smart-money pattern.
type CEXWithdrawal struct {
	Address   string
	CEX       string
	AmountETH float64
	Time      time.Time
}

// AccountTx is one historical transaction summary for an address, as served
// by a scan API. Used by discovery backfill to reconstruct an address's
// router history.
type AccountTx struct {
	Hash        string
	From        string
	To          string
	BlockNumber uint64
	Time        time.Time
	ValueETH    float64
	GasETH      float64
	Failed      bool
}

// ActivityScanner observes live wallet activity around known venues. All
// methods honor the context deadline; a scanner must never block past it.
type ActivityScanner interface {
	RouterTraffic(ctx context.Context, router string, since time.Time, limit int) ([]RouterInteraction, error)
	CEXWithdrawals(ctx context.Context, cex string, since time.Time, minETH float64) ([]CEXWithdrawal, error)
	IsContract(ctx context.Context, address string) (bool, error)
}

// AccountHistory pages back through an address's historical transactions,
// newest first, up to max entries.
type AccountHistory interface {
	AccountTransactions(ctx context.Context, address string, max int) ([]AccountTx, error)
}

// StatsSource resolves the confidence-sensitive wallet statistics discovery
// consults when gating. ErrNotFound means the wallet has never been scored;
// that is a normal state, not a failure.
type StatsSource interface {
	WalletStats(ctx context.Context, address string, since time.Time) (WalletStats, error)
}
