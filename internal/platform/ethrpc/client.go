// Package ethrpc fetches transaction receipts and block metadata from an
// Ethereum JSON-RPC endpoint, with bounded retries and a cache layer so each
// transaction hash hits the chain at most once.
package ethrpc

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/ethclient"

	"github.com/ethhab/whaletrace/internal/domain"
)

// Config holds endpoint and retry parameters for the RPC client.
type Config struct {
	HTTPURL        string
	RequestTimeout time.Duration
	MaxRetries     int
}

// Client fetches receipts over Ethereum JSON-RPC.
type Client struct {
	ec     *ethclient.Client
	cfg    Config
	logger *slog.Logger
}

var _ domain.ReceiptFetcher = (*Client)(nil)

// Dial connects to the configured HTTP JSON-RPC endpoint.
func Dial(ctx context.Context, cfg Config, logger *slog.Logger) (*Client, error) {
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = 8 * time.Second
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = 3
	}

	ec, err := ethclient.DialContext(ctx, cfg.HTTPURL)
	if err != nil {
		return nil, fmt.Errorf("ethrpc: dial %s: %w", cfg.HTTPURL, err)
	}
	return &Client{
		ec:     ec,
		cfg:    cfg,
		logger: logger.With(slog.String("component", "ethrpc")),
	}, nil
}

// Close releases the underlying RPC connection.
func (c *Client) Close() {
	c.ec.Close()
}

// FetchReceipt retrieves one transaction receipt plus the sender, recipient,
// and block timestamp needed for trade resolution. Transient RPC failures are
// retried with linear backoff up to MaxRetries.
func (c *Client) FetchReceipt(ctx context.Context, txHash string) (domain.Receipt, error) {
	var rcpt domain.Receipt
	var lastErr error

	for attempt := 0; attempt < c.cfg.MaxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return domain.Receipt{}, ctx.Err()
			case <-time.After(time.Duration(attempt) * 500 * time.Millisecond):
			}
		}

		rcpt, lastErr = c.fetchOnce(ctx, txHash)
		if lastErr == nil {
			return rcpt, nil
		}
		if ctx.Err() != nil {
			return domain.Receipt{}, ctx.Err()
		}
		c.logger.DebugContext(ctx, "receipt fetch retrying",
			slog.String("tx_hash", txHash),
			slog.Int("attempt", attempt+1),
			slog.String("error", lastErr.Error()),
		)
	}
	// Retries exhausted: callers degrade the single affected record on
	// errors.Is(err, domain.ErrLookupFailure).
	return domain.Receipt{}, fmt.Errorf("ethrpc: fetch receipt %s: %w", txHash, errors.Join(domain.ErrLookupFailure, lastErr))
}

func (c *Client) fetchOnce(ctx context.Context, txHash string) (domain.Receipt, error) {
	reqCtx, cancel := context.WithTimeout(ctx, c.cfg.RequestTimeout)
	defer cancel()

	hash := common.HexToHash(txHash)
	rc, err := c.ec.TransactionReceipt(reqCtx, hash)
	if err != nil {
		return domain.Receipt{}, fmt.Errorf("transaction receipt: %w", err)
	}

	header, err := c.ec.HeaderByHash(reqCtx, rc.BlockHash)
	if err != nil {
		return domain.Receipt{}, fmt.Errorf("block header: %w", err)
	}

	tx, _, err := c.ec.TransactionByHash(reqCtx, hash)
	if err != nil {
		return domain.Receipt{}, fmt.Errorf("transaction: %w", err)
	}

	from := ""
	if sender, err := c.ec.TransactionSender(reqCtx, tx, rc.BlockHash, rc.TransactionIndex); err == nil {
		from = strings.ToLower(sender.Hex())
	}
	to := ""
	if tx.To() != nil {
		to = strings.ToLower(tx.To().Hex())
	}

	gasPrice := tx.GasPrice()
	if rc.EffectiveGasPrice != nil {
		gasPrice = rc.EffectiveGasPrice
	}

	out := domain.Receipt{
		TxHash:      strings.ToLower(hash.Hex()),
		Status:      rc.Status,
		BlockNumber: rc.BlockNumber.Uint64(),
		BlockTime:   time.Unix(int64(header.Time), 0).UTC(),
		From:        from,
		To:          to,
		GasUsed:     rc.GasUsed,
		GasPriceWei: gasPrice.Uint64(),
		Logs:        make([]domain.Log, 0, len(rc.Logs)),
	}
	for _, lg := range rc.Logs {
		topics := make([]string, len(lg.Topics))
		for i, tp := range lg.Topics {
			topics[i] = strings.ToLower(tp.Hex())
		}
		out.Logs = append(out.Logs, domain.Log{
			Address: strings.ToLower(lg.Address.Hex()),
			Topics:  topics,
			Data:    lg.Data,
			Index:   lg.Index,
		})
	}
	return out, nil
}

// CachedFetcher wraps a ReceiptFetcher with a receipt cache. Receipts are
// immutable, so a cache hit never needs revalidation; cache write failures
// degrade to a log line.
type CachedFetcher struct {
	inner  domain.ReceiptFetcher
	cache  domain.ReceiptCache
	logger *slog.Logger
}

var _ domain.ReceiptFetcher = (*CachedFetcher)(nil)

// NewCachedFetcher wraps fetcher with cache.
func NewCachedFetcher(fetcher domain.ReceiptFetcher, cache domain.ReceiptCache, logger *slog.Logger) *CachedFetcher {
	return &CachedFetcher{
		inner:  fetcher,
		cache:  cache,
		logger: logger.With(slog.String("component", "receipt_cache")),
	}
}

// FetchReceipt returns the cached receipt when present, fetching and caching
// it otherwise.
func (f *CachedFetcher) FetchReceipt(ctx context.Context, txHash string) (domain.Receipt, error) {
	rc, err := f.cache.Get(ctx, txHash)
	if err == nil {
		return rc, nil
	}
	if !errors.Is(err, domain.ErrNotFound) {
		f.logger.WarnContext(ctx, "receipt cache read failed",
			slog.String("tx_hash", txHash),
			slog.String("error", err.Error()),
		)
	}

	rc, err = f.inner.FetchReceipt(ctx, txHash)
	if err != nil {
		return domain.Receipt{}, err
	}
	if err := f.cache.Put(ctx, rc); err != nil {
		f.logger.WarnContext(ctx, "receipt cache write failed",
			slog.String("tx_hash", txHash),
			slog.String("error", err.Error()),
		)
	}
	return rc, nil
}
