package redis

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/ethhab/whaletrace/internal/domain"
)

const (
	hourlyPriceTTL = 14 * 24 * time.Hour
	dailyPriceTTL  = 120 * 24 * time.Hour
)

// PriceCache implements domain.TokenPriceCache plus the engine's price
// source interfaces using Redis hashes. Each bucket is a hash with fields
// "price", "fetched_at" (Unix seconds), and "source". Concurrent population
// of the same bucket is last-writer-wins, which is all the engine requires.
//
// Key schema:
//
//	price:hour:{token}:{2006-01-02T15} - hourly spot bucket
//	price:day:{token}:{2006-01-02}     - daily closing bucket
type PriceCache struct {
	rdb *redis.Client
}

var (
	_ domain.TokenPriceCache  = (*PriceCache)(nil)
	_ domain.PriceSource      = (*PriceCache)(nil)
	_ domain.DailyPriceSource = (*PriceCache)(nil)
)

// NewPriceCache creates a PriceCache backed by the given Client.
func NewPriceCache(c *Client) *PriceCache {
	return &PriceCache{rdb: c.Underlying()}
}

func hourKey(token string, bucket time.Time) string {
	return "price:hour:" + token + ":" + bucket.UTC().Format("2006-01-02T15")
}

func dayKey(token string, day time.Time) string {
	return "price:day:" + token + ":" + day.UTC().Format("2006-01-02")
}

// Put stores a token's price for an hourly bucket.
func (pc *PriceCache) Put(ctx context.Context, token string, bucket time.Time, price float64, source string) error {
	key := hourKey(token, bucket)
	fields := map[string]interface{}{
		"price":      strconv.FormatFloat(price, 'f', -1, 64),
		"fetched_at": strconv.FormatInt(time.Now().UTC().Unix(), 10),
		"source":     source,
	}

	pipe := pc.rdb.TxPipeline()
	pipe.HSet(ctx, key, fields)
	pipe.Expire(ctx, key, hourlyPriceTTL)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis: put hourly price %s: %w", token, err)
	}
	return nil
}

// Get retrieves a token's price for an hourly bucket. It returns
// domain.ErrPricingUnavailable when the bucket has never been populated.
func (pc *PriceCache) Get(ctx context.Context, token string, bucket time.Time) (float64, time.Time, error) {
	vals, err := pc.rdb.HGetAll(ctx, hourKey(token, bucket)).Result()
	if err != nil {
		return 0, time.Time{}, fmt.Errorf("redis: get hourly price %s: %w", token, err)
	}
	if len(vals) == 0 {
		return 0, time.Time{}, domain.ErrPricingUnavailable
	}
	return parsePriceFields(token, vals)
}

// TokenPrice implements domain.PriceSource on top of Get so the pricing
// resolver can consume the cache directly.
func (pc *PriceCache) TokenPrice(ctx context.Context, token string, bucket time.Time) (float64, time.Time, error) {
	return pc.Get(ctx, token, bucket)
}

// PutDaily stores a token's price for a calendar day.
func (pc *PriceCache) PutDaily(ctx context.Context, token string, day time.Time, price float64, source string) error {
	key := dayKey(token, day)
	fields := map[string]interface{}{
		"price":      strconv.FormatFloat(price, 'f', -1, 64),
		"fetched_at": strconv.FormatInt(time.Now().UTC().Unix(), 10),
		"source":     source,
	}

	pipe := pc.rdb.TxPipeline()
	pipe.HSet(ctx, key, fields)
	pipe.Expire(ctx, key, dailyPriceTTL)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis: put daily price %s: %w", token, err)
	}
	return nil
}

// DailyPrice implements domain.DailyPriceSource for equity curve marking.
func (pc *PriceCache) DailyPrice(ctx context.Context, token string, day time.Time) (float64, error) {
	vals, err := pc.rdb.HGetAll(ctx, dayKey(token, day)).Result()
	if err != nil {
		return 0, fmt.Errorf("redis: get daily price %s: %w", token, err)
	}
	if len(vals) == 0 {
		return 0, domain.ErrPricingUnavailable
	}
	price, _, err := parsePriceFields(token, vals)
	return price, err
}

func parsePriceFields(token string, vals map[string]string) (float64, time.Time, error) {
	priceStr, ok := vals["price"]
	if !ok {
		return 0, time.Time{}, domain.ErrPricingUnavailable
	}
	price, err := strconv.ParseFloat(priceStr, 64)
	if err != nil {
		return 0, time.Time{}, fmt.Errorf("redis: corrupt price for %s: %w", token, err)
	}

	fetchedAt := time.Time{}
	if tsStr, ok := vals["fetched_at"]; ok {
		if ts, err := strconv.ParseInt(tsStr, 10, 64); err == nil {
			fetchedAt = time.Unix(ts, 0).UTC()
		}
	}
	return price, fetchedAt, nil
}
