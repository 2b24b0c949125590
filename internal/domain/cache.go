package domain

import (
	"context"
	"io"
	"time"
)

// TokenPriceCache stores token spot prices bucketed by hour. The cache is
// read-mostly; concurrent population of the same bucket is last-writer-wins.
type TokenPriceCache interface {
	Get(ctx context.Context, token string, bucket time.Time) (price float64, fetchedAt time.Time, err error)
	Put(ctx context.Context, token string, bucket time.Time, price float64, source string) error
}

// ReceiptCache stores fetched transaction receipts so each hash is fetched
// from the chain at most once.
type ReceiptCache interface {
	Get(ctx context.Context, txHash string) (Receipt, error)
	Put(ctx context.Context, r Receipt) error
}

// BlobWriter uploads run artifacts to object storage. Put is for bounded
// payloads; PutStream is for artifacts that grow with the wallet population.
type BlobWriter interface {
	Put(ctx context.Context, path string, data []byte, contentType string) error
	PutStream(ctx context.Context, path string, data io.Reader, contentType string) error
}

// LockManager provides distributed mutual exclusion so only one run of a
// given kind executes at a time across processes. Acquire returns ErrLockHeld
// when another holder owns the lock.
type LockManager interface {
	Acquire(ctx context.Context, key string, ttl time.Duration) (unlock func(), err error)
}

// RateLimiter throttles calls against shared external APIs.
type RateLimiter interface {
	Allow(ctx context.Context, key string, limit int, window time.Duration) (bool, error)
	Wait(ctx context.Context, key string) error
}
