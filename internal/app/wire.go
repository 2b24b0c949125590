package app

import (
	"context"
	"fmt"
	"log/slog"

	s3blob "github.com/ethhab/whaletrace/internal/blob/s3"
	"github.com/ethhab/whaletrace/internal/cache/redis"
	"github.com/ethhab/whaletrace/internal/config"
	"github.com/ethhab/whaletrace/internal/domain"
	"github.com/ethhab/whaletrace/internal/platform/ethrpc"
	"github.com/ethhab/whaletrace/internal/platform/etherscan"
	"github.com/ethhab/whaletrace/internal/store/postgres"
)

// Dependencies bundles every domain-level dependency the application modes
// need. It is constructed by Wire and torn down by the returned cleanup
// function.
type Dependencies struct {
	// Stores
	Fills     domain.FillStore
	Lots      domain.LotStore
	Equity    domain.EquityStore
	Scores    domain.ScoreStore
	Discovery domain.DiscoveryStore
	Runs      domain.RunStore

	// Registry, loaded once per process.
	Registry *domain.AddressRegistry

	// Caches
	Prices *redis.PriceCache

	// Chain access. Receipts is nil when no RPC endpoint is configured;
	// Scanner and History are nil when no scan API is configured. Modes that
	// need them fail fast, modes that can degrade run offline.
	Receipts domain.ReceiptFetcher
	Scanner  domain.ActivityScanner
	History  domain.AccountHistory
	LogFeed  *ethrpc.LogFeed

	// Locks serializes runs across processes.
	Locks domain.LockManager

	// Archiver is nil when S3 archival is not configured.
	Archiver *s3blob.Archiver
}

// Wire constructs all dependencies from configuration. The returned cleanup
// function closes connections in reverse construction order.
func Wire(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Dependencies, func(), error) {
	var closers []func()
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}
	fail := func(err error) (*Dependencies, func(), error) {
		cleanup()
		return nil, nil, err
	}

	// PostgreSQL
	pg, err := postgres.New(ctx, postgres.ClientConfig{
		DSN:      cfg.Postgres.DSN,
		MaxConns: cfg.Postgres.PoolMaxConns,
		MinConns: cfg.Postgres.PoolMinConns,
	})
	if err != nil {
		return fail(fmt.Errorf("wire postgres: %w", err))
	}
	closers = append(closers, pg.Close)

	if err := pg.RunMigrations(ctx); err != nil {
		return fail(fmt.Errorf("wire postgres schema: %w", err))
	}

	pool := pg.Pool()
	deps := &Dependencies{
		Fills:     postgres.NewFillStore(pool),
		Lots:      postgres.NewLotStore(pool),
		Equity:    postgres.NewEquityStore(pool),
		Scores:    postgres.NewScoreStore(pool),
		Discovery: postgres.NewDiscoveryStore(pool),
		Runs:      postgres.NewRunStore(pool),
	}

	deps.Registry, err = deps.Discovery.LoadRegistry(ctx)
	if err != nil {
		return fail(fmt.Errorf("wire registry: %w", err))
	}
	logger.InfoContext(ctx, "address registry loaded",
		slog.Int("routers", len(deps.Registry.Routers())),
		slog.Int("cexes", len(deps.Registry.CEXes())),
	)

	// Redis
	rc, err := redis.New(ctx, redis.ClientConfig{
		Addr:       cfg.Redis.Addr,
		Password:   cfg.Redis.Password,
		DB:         cfg.Redis.DB,
		PoolSize:   cfg.Redis.PoolSize,
		MaxRetries: cfg.Redis.MaxRetries,
		TLSEnabled: cfg.Redis.TLSEnabled,
	})
	if err != nil {
		return fail(fmt.Errorf("wire redis: %w", err))
	}
	closers = append(closers, func() { _ = rc.Close() })
	deps.Prices = redis.NewPriceCache(rc)
	deps.Locks = redis.NewLockManager(rc)

	// Ethereum RPC (optional; offline discovery runs without it).
	if cfg.EthRPC.HTTPURL != "" {
		eth, err := ethrpc.Dial(ctx, ethrpc.Config{
			HTTPURL:        cfg.EthRPC.HTTPURL,
			RequestTimeout: cfg.EthRPC.RequestTimeout.Duration,
			MaxRetries:     cfg.EthRPC.MaxRetries,
		}, logger)
		if err != nil {
			return fail(fmt.Errorf("wire ethrpc: %w", err))
		}
		closers = append(closers, eth.Close)
		deps.Receipts = ethrpc.NewCachedFetcher(eth, redis.NewReceiptCache(rc), logger)
	}
	if cfg.EthRPC.WSURL != "" {
		deps.LogFeed = ethrpc.NewLogFeed(cfg.EthRPC.WSURL, logger)
	}

	// Scan API (optional). Throttled against the shared API quota.
	if cfg.Etherscan.BaseURL != "" {
		scan := etherscan.NewClient(cfg.Etherscan.BaseURL, cfg.Etherscan.APIKey, cfg.Etherscan.RequestTimeout.Duration)
		scan.SetLimiter(redis.NewRateLimiter(rc))
		deps.Scanner = scan
		deps.History = scan
	}

	// S3 archival (optional).
	if cfg.S3.Bucket != "" {
		s3c, err := s3blob.New(ctx, s3blob.ClientConfig{
			Endpoint:       cfg.S3.Endpoint,
			Region:         cfg.S3.Region,
			Bucket:         cfg.S3.Bucket,
			AccessKey:      cfg.S3.AccessKey,
			SecretKey:      cfg.S3.SecretKey,
			UseSSL:         true,
			ForcePathStyle: cfg.S3.ForcePathStyle,
		})
		if err != nil {
			return fail(fmt.Errorf("wire s3: %w", err))
		}
		if err := s3c.Health(ctx); err != nil {
			return fail(fmt.Errorf("wire s3: %w", err))
		}
		closers = append(closers, func() { _ = s3c.Close() })
		deps.Archiver = s3blob.NewArchiver(s3blob.NewWriter(s3c))
	}

	return deps, cleanup, nil
}
