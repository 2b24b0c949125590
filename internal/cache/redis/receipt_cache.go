package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/ethhab/whaletrace/internal/domain"
)

// Receipts never change once mined; the TTL only bounds memory.
const receiptTTL = 30 * 24 * time.Hour

// ReceiptCache implements domain.ReceiptCache using Redis hashes with
// JSON-serialized receipts, keyed "receipt:{txHash}".
type ReceiptCache struct {
	rdb *redis.Client
}

var _ domain.ReceiptCache = (*ReceiptCache)(nil)

// NewReceiptCache creates a ReceiptCache backed by the given Client.
func NewReceiptCache(c *Client) *ReceiptCache {
	return &ReceiptCache{rdb: c.Underlying()}
}

func receiptKey(txHash string) string { return "receipt:" + txHash }

// Put stores a fetched receipt.
func (rc *ReceiptCache) Put(ctx context.Context, r domain.Receipt) error {
	data, err := json.Marshal(r)
	if err != nil {
		return fmt.Errorf("redis: marshal receipt %s: %w", r.TxHash, err)
	}

	key := receiptKey(r.TxHash)
	pipe := rc.rdb.TxPipeline()
	pipe.HSet(ctx, key, "data", data)
	pipe.Expire(ctx, key, receiptTTL)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis: put receipt %s: %w", r.TxHash, err)
	}
	return nil
}

// Get retrieves a cached receipt by transaction hash. It returns
// domain.ErrNotFound when the hash has never been cached.
func (rc *ReceiptCache) Get(ctx context.Context, txHash string) (domain.Receipt, error) {
	data, err := rc.rdb.HGet(ctx, receiptKey(txHash), "data").Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return domain.Receipt{}, domain.ErrNotFound
		}
		return domain.Receipt{}, fmt.Errorf("redis: get receipt %s: %w", txHash, err)
	}

	var r domain.Receipt
	if err := json.Unmarshal(data, &r); err != nil {
		return domain.Receipt{}, fmt.Errorf("redis: unmarshal receipt %s: %w", txHash, err)
	}
	return r, nil
}
