// Package engine orchestrates the scoring run: for each tracked wallet it
// prices the window's swaps, matches them into lots, builds the equity
// curve, derives risk metrics, and finally scores the whole population in
// one pass. Wallet pipelines are independent and run concurrently; a bad
// wallet degrades the run, never aborts it.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/ethhab/whaletrace/internal/domain"
	"github.com/ethhab/whaletrace/internal/equity"
	"github.com/ethhab/whaletrace/internal/fifo"
	"github.com/ethhab/whaletrace/internal/pricing"
	"github.com/ethhab/whaletrace/internal/scoring"
)

// Config carries the run bounds for the scoring engine.
type Config struct {
	WindowDays      int
	Concurrency     int
	TimeBudget      time.Duration
	MinTradeCount   int
	IncludeUnpriced bool
	MaxWallets      int
}

// Runner executes one scoring run over the tracked wallet set.
type Runner struct {
	cfg       Config
	registry  *domain.AddressRegistry
	resolver  *pricing.Resolver
	curve     *equity.CurveBuilder
	scorer    *scoring.Scorer
	receipts  domain.ReceiptFetcher
	history   domain.AccountHistory
	fills     domain.FillStore
	lots      domain.LotStore
	equitySt  domain.EquityStore
	scores    domain.ScoreStore
	discovery domain.DiscoveryStore
	runs      domain.RunStore
	logger    *slog.Logger
}

// Deps bundles the Runner's collaborators.
type Deps struct {
	Registry  *domain.AddressRegistry
	Resolver  *pricing.Resolver
	Curve     *equity.CurveBuilder
	Receipts  domain.ReceiptFetcher
	History   domain.AccountHistory
	Fills     domain.FillStore
	Lots      domain.LotStore
	Equity    domain.EquityStore
	Scores    domain.ScoreStore
	Discovery domain.DiscoveryStore
	Runs      domain.RunStore
}

// NewRunner creates a Runner.
func NewRunner(cfg Config, deps Deps, logger *slog.Logger) *Runner {
	return &Runner{
		cfg:       cfg,
		registry:  deps.Registry,
		resolver:  deps.Resolver,
		curve:     deps.Curve,
		scorer:    scoring.NewScorer(cfg.MinTradeCount),
		receipts:  deps.Receipts,
		history:   deps.History,
		fills:     deps.Fills,
		lots:      deps.Lots,
		equitySt:  deps.Equity,
		scores:    deps.Scores,
		discovery: deps.Discovery,
		runs:      deps.Runs,
		logger:    logger.With(slog.String("component", "engine")),
	}
}

// walletResult is one wallet pipeline's contribution to the run summary.
type walletResult struct {
	tradesPriced   int
	lotsClosed     int
	unmatchedSells int
	snapshotsBuilt int
	metrics        domain.TradingMetrics
	errs           int
}

// Run executes one full scoring pass and records its summary. The returned
// summary is always usable; budget exhaustion surfaces as Partial=true with
// domain.ErrBudgetExceeded.
func (r *Runner) Run(ctx context.Context, runID string, now time.Time) (domain.RunSummary, error) {
	started := time.Now()
	summary := domain.RunSummary{
		RunID:     runID,
		Mode:      "refresh",
		StartedAt: now,
	}

	runCtx, cancel := context.WithTimeout(ctx, r.cfg.TimeBudget)
	defer cancel()

	wallets, err := r.discovery.ListTracked(runCtx, r.cfg.MaxWallets)
	if err != nil {
		return summary, fmt.Errorf("listing tracked wallets: %w", err)
	}
	since := now.AddDate(0, 0, -r.cfg.WindowDays)

	r.logger.InfoContext(runCtx, "scoring run starting",
		slog.String("run_id", runID),
		slog.Int("wallets", len(wallets)),
		slog.Int("window_days", r.cfg.WindowDays),
		slog.Duration("time_budget", r.cfg.TimeBudget),
	)

	var mu sync.Mutex
	population := make([]domain.TradingMetrics, 0, len(wallets))

	g, gctx := errgroup.WithContext(runCtx)
	g.SetLimit(r.cfg.Concurrency)
	for _, wallet := range wallets {
		g.Go(func() error {
			if gctx.Err() != nil {
				return nil
			}
			res, err := r.processWallet(gctx, wallet, since, now)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				// One wallet's failure never aborts the run.
				summary.WalletsFailed++
				r.logger.WarnContext(gctx, "wallet pipeline failed",
					slog.String("wallet", wallet),
					slog.String("error", err.Error()),
				)
				return nil
			}
			summary.WalletsProcessed++
			summary.TradesPriced += res.tradesPriced
			summary.LotsClosed += res.lotsClosed
			summary.UnmatchedSells += res.unmatchedSells
			summary.SnapshotsBuilt += res.snapshotsBuilt
			summary.Errors += res.errs
			population = append(population, res.metrics)
			return nil
		})
	}
	_ = g.Wait() // wallet goroutines never return errors, only record them

	// Population scoring needs every wallet's metrics, so it runs after the
	// fan-out even when the budget expired mid-run.
	scores := r.scorer.ScoreAll(population, runID, now)
	if len(scores) > 0 {
		if err := r.scores.UpsertBatch(ctx, scores); err != nil {
			summary.Errors++
			r.logger.ErrorContext(ctx, "score upsert failed", slog.String("error", err.Error()))
		} else {
			summary.ScoresComputed = len(scores)
		}
	}

	// Partial means some wallet was neither processed nor failed, i.e. the
	// fan-out was cut short. Failed wallets are visible in WalletsFailed
	// without flagging the whole run.
	summary.Partial = runCtx.Err() != nil || summary.WalletsProcessed+summary.WalletsFailed < len(wallets)
	summary.Duration = time.Since(started)

	if err := r.runs.RecordRun(ctx, summary); err != nil {
		r.logger.ErrorContext(ctx, "run summary not recorded", slog.String("error", err.Error()))
	}
	r.logger.InfoContext(ctx, "scoring run finished",
		slog.String("run_id", runID),
		slog.Int("wallets_processed", summary.WalletsProcessed),
		slog.Int("wallets_failed", summary.WalletsFailed),
		slog.Int("scores_computed", summary.ScoresComputed),
		slog.Int("errors", summary.Errors),
		slog.Bool("partial", summary.Partial),
		slog.Duration("duration", summary.Duration),
	)

	if errors.Is(runCtx.Err(), context.DeadlineExceeded) {
		return summary, domain.ErrBudgetExceeded
	}
	return summary, nil
}

// processWallet runs the pricing -> matching -> equity -> risk pipeline for
// one wallet and returns its raw trading metrics for population scoring.
func (r *Runner) processWallet(ctx context.Context, wallet string, since, now time.Time) (walletResult, error) {
	wallet = strings.ToLower(wallet)
	var res walletResult

	trades, errs := r.priceWindow(ctx, wallet, since)
	res.errs = errs

	if len(trades) > 0 {
		if err := r.fills.InsertBatch(ctx, trades); err != nil {
			return res, fmt.Errorf("inserting fills: %w", err)
		}
	}

	// Read the window back from the store: idempotent inserts mean replays
	// and prior runs converge on the same fill set.
	stored, err := r.fills.ListByWallet(ctx, wallet, since)
	if err != nil {
		return res, fmt.Errorf("listing fills: %w", err)
	}
	for _, t := range stored {
		if t.Priced() {
			res.tradesPriced++
		}
	}

	match := fifo.MatchWallet(stored)
	res.lotsClosed = len(match.Lots)
	res.unmatchedSells = len(match.Unmatched)
	if err := r.lots.ReplaceForWallet(ctx, wallet, match.Lots, match.Unmatched); err != nil {
		return res, fmt.Errorf("replacing lots: %w", err)
	}

	snaps, err := r.curve.Build(ctx, wallet, match, since, now)
	if err != nil {
		return res, fmt.Errorf("building equity curve: %w", err)
	}
	res.snapshotsBuilt = len(snaps)
	if err := r.equitySt.UpsertSnapshots(ctx, snaps); err != nil {
		return res, fmt.Errorf("upserting snapshots: %w", err)
	}

	risk := equity.ComputeRisk(wallet, snaps, r.cfg.WindowDays, now)
	if err := r.equitySt.UpsertRiskMetrics(ctx, risk); err != nil {
		return res, fmt.Errorf("upserting risk metrics: %w", err)
	}

	metricLots := match.Lots
	if !r.cfg.IncludeUnpriced {
		metricLots = scoring.FilterPriced(match.Lots)
	}
	res.metrics = scoring.BuildMetrics(wallet, metricLots, risk, r.cfg.WindowDays)
	return res, nil
}

// priceWindow fetches the wallet's router transactions in the window and
// resolves them into priced trades. Per-transaction failures degrade that
// one transaction and are counted, not propagated.
func (r *Runner) priceWindow(ctx context.Context, wallet string, since time.Time) ([]domain.PricedTrade, int) {
	txs, err := r.history.AccountTransactions(ctx, wallet, 0)
	if err != nil {
		r.logger.WarnContext(ctx, "transaction history unavailable, using stored fills only",
			slog.String("wallet", wallet),
			slog.String("error", err.Error()),
		)
		return nil, 1
	}

	var trades []domain.PricedTrade
	errs := 0
	for _, tx := range txs {
		if tx.Failed || tx.Time.Before(since) {
			continue
		}
		if _, ok := r.registry.RouterName(tx.To); !ok {
			continue
		}
		if ctx.Err() != nil {
			break
		}

		rc, err := r.receipts.FetchReceipt(ctx, tx.Hash)
		if err != nil {
			errs++
			r.logger.WarnContext(ctx, "receipt fetch failed",
				slog.String("tx_hash", tx.Hash),
				slog.String("error", err.Error()),
			)
			continue
		}

		resolved, err := r.resolver.Resolve(ctx, rc, wallet)
		if err != nil {
			var decErr *domain.DecodeError
			if errors.As(err, &decErr) {
				// Fallback trade is still recorded below.
				errs++
			} else {
				errs++
				continue
			}
		}
		trades = append(trades, resolved...)
	}
	return trades, errs
}
