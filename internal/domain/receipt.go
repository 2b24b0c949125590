package domain

import (
	"context"
	"time"
)

// Log is one event log from a transaction receipt, in the decoded form the
// pricing resolver consumes. Topics and addresses are lowercase hex strings.
type Log struct {
	Address string
	Topics  []string
	Data    []byte
	Index   uint
}

// Receipt is a fetched transaction receipt. Status 0 receipts represent no
// economic transfer and are excluded from pricing entirely.
type Receipt struct {
	TxHash      string
	Status      uint64
	BlockNumber uint64
	BlockTime   time.Time
	From        string
	To          string
	GasUsed     uint64
	GasPriceWei uint64
	Logs        []Log
}

// GasCostETH returns the total gas cost of the transaction in ETH.
func (r Receipt) GasCostETH() float64 {
	return float64(r.GasUsed) * float64(r.GasPriceWei) / 1e18
}

// ReceiptFetcher retrieves transaction receipts. Implementations are
// idempotent and retryable; a failed fetch degrades the single affected
// trade rather than the run.
type ReceiptFetcher interface {
	FetchReceipt(ctx context.Context, txHash string) (Receipt, error)
}

// PriceSource looks up a token's USD price for an hourly time bucket. It
// returns ErrPricingUnavailable when no price is known, along with the time
// the returned price was originally fetched so callers can weight confidence
// by recency.
type PriceSource interface {
	TokenPrice(ctx context.Context, token string, bucket time.Time) (price float64, fetchedAt time.Time, err error)
}

// DailyPriceSource looks up a token's USD price for a calendar day, used to
// mark open positions when building equity curves.
type DailyPriceSource interface {
	DailyPrice(ctx context.Context, token string, day time.Time) (float64, error)
}
