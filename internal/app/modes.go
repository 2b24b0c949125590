package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/ethhab/whaletrace/internal/discovery"
	"github.com/ethhab/whaletrace/internal/domain"
	"github.com/ethhab/whaletrace/internal/engine"
	"github.com/ethhab/whaletrace/internal/equity"
	"github.com/ethhab/whaletrace/internal/platform/ethrpc"
	"github.com/ethhab/whaletrace/internal/pricing"
)

// RefreshMode runs one scoring pass over the tracked wallet set, then exits.
func (a *App) RefreshMode(ctx context.Context, deps *Dependencies) error {
	if deps.Receipts == nil {
		return fmt.Errorf("app: refresh mode requires ethrpc.http_url")
	}
	if deps.History == nil {
		return fmt.Errorf("app: refresh mode requires etherscan.base_url")
	}

	// A stale lock from a crashed run expires with the TTL.
	unlock, err := deps.Locks.Acquire(ctx, "run:refresh", a.cfg.Engine.TimeBudget.Duration+time.Minute)
	if err != nil {
		if errors.Is(err, domain.ErrLockHeld) {
			return fmt.Errorf("app: another scoring run is in progress")
		}
		return fmt.Errorf("app: acquire run lock: %w", err)
	}
	defer unlock()

	runner := a.buildRunner(deps)
	runID := uuid.NewString()

	summary, err := runner.Run(ctx, runID, time.Now().UTC())
	if err != nil && !errors.Is(err, domain.ErrBudgetExceeded) {
		return fmt.Errorf("app: scoring run: %w", err)
	}
	if errors.Is(err, domain.ErrBudgetExceeded) {
		a.logger.WarnContext(ctx, "scoring run hit its time budget",
			slog.String("run_id", runID),
			slog.Int("wallets_processed", summary.WalletsProcessed),
		)
	}

	a.archiveRun(ctx, deps, summary)
	return nil
}

// DiscoverMode runs one smart-money discovery pass, persists the resulting
// watchlist, and exits.
func (a *App) DiscoverMode(ctx context.Context, deps *Dependencies) error {
	unlock, err := deps.Locks.Acquire(ctx, "run:discover", a.cfg.Discovery.TimeBudget.Duration+time.Minute)
	if err != nil {
		if errors.Is(err, domain.ErrLockHeld) {
			return fmt.Errorf("app: another discovery run is in progress")
		}
		return fmt.Errorf("app: acquire run lock: %w", err)
	}
	defer unlock()

	classifier := a.buildClassifier(deps)
	runID := uuid.NewString()
	started := time.Now().UTC()

	result, err := classifier.Run(ctx, started)
	if err != nil && !errors.Is(err, domain.ErrBudgetExceeded) {
		return fmt.Errorf("app: discovery run: %w", err)
	}

	if err := deps.Discovery.ReplaceWatchlist(ctx, runID, result.Entries); err != nil {
		return fmt.Errorf("app: persist watchlist: %w", err)
	}

	// New qualifiers get their router history backfilled so the next scoring
	// pass sees a full window, not just the interactions this run observed.
	if deps.History != nil {
		for _, e := range result.Entries {
			if !e.Qualifies || ctx.Err() != nil {
				continue
			}
			n, err := classifier.Backfill(ctx, e.Address)
			if err != nil {
				a.logger.WarnContext(ctx, "backfill failed",
					slog.String("address", e.Address),
					slog.String("error", err.Error()),
				)
				continue
			}
			a.logger.DebugContext(ctx, "backfilled router history",
				slog.String("address", e.Address),
				slog.Int("interactions", n),
			)
		}
	}

	a.logger.InfoContext(ctx, "discovery run finished",
		slog.String("run_id", runID),
		slog.Int("candidates", result.Funnel.Candidates),
		slog.Int("scored", result.Funnel.Scored),
		slog.Int("watchlist", result.Funnel.Watchlist),
		slog.Int("rejected", result.Funnel.Rejected),
		slog.String("sort_key", string(result.SortKey)),
		slog.Bool("fallback", result.Fallback),
		slog.Bool("partial", result.Partial),
		slog.Duration("elapsed", result.Elapsed),
	)

	summary := domain.RunSummary{
		RunID:            runID,
		Mode:             "discover",
		StartedAt:        started,
		Duration:         result.Elapsed,
		WalletsProcessed: result.Funnel.Scored,
		Partial:          result.Partial,
	}
	if err := deps.Runs.RecordRun(ctx, summary); err != nil {
		a.logger.ErrorContext(ctx, "discovery summary not recorded", slog.String("error", err.Error()))
	}

	if deps.Archiver != nil {
		if err := deps.Archiver.ArchiveWatchlist(ctx, runID, result.Entries); err != nil {
			a.logger.ErrorContext(ctx, "watchlist archive failed", slog.String("error", err.Error()))
		}
	}
	return nil
}

// WatchMode streams live swap logs and records router interactions until the
// context is canceled. It feeds the same interaction table discovery reads,
// so a later discovery pass sees addresses observed in real time.
func (a *App) WatchMode(ctx context.Context, deps *Dependencies) error {
	if deps.LogFeed == nil {
		return fmt.Errorf("app: watch mode requires ethrpc.ws_url")
	}
	if deps.Receipts == nil {
		return fmt.Errorf("app: watch mode requires ethrpc.http_url")
	}

	// The feed handler must not block, so events pass through a buffered
	// channel to a bounded pool of receipt workers. Overflow is dropped; the
	// next batch run re-scans the window.
	events := make(chan ethrpc.SwapEvent, 256)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		defer close(events)
		return deps.LogFeed.Run(gctx, func(ev ethrpc.SwapEvent) {
			select {
			case events <- ev:
			default:
				a.logger.Warn("watch queue full, dropping event", slog.String("tx_hash", ev.TxHash))
			}
		})
	})

	const watchWorkers = 4
	for i := 0; i < watchWorkers; i++ {
		g.Go(func() error {
			for ev := range events {
				a.recordSwap(gctx, deps, ev)
			}
			return nil
		})
	}

	err := g.Wait()
	if errors.Is(err, context.Canceled) {
		a.logger.Info("watch mode stopped")
		return nil
	}
	return err
}

// recordSwap resolves one observed swap event into a router interaction.
// Failures degrade the single event.
func (a *App) recordSwap(ctx context.Context, deps *Dependencies, ev ethrpc.SwapEvent) {
	rc, err := deps.Receipts.FetchReceipt(ctx, ev.TxHash)
	if err != nil {
		a.logger.WarnContext(ctx, "watch receipt fetch failed",
			slog.String("tx_hash", ev.TxHash),
			slog.String("error", err.Error()),
		)
		return
	}
	if rc.Status == 0 || rc.From == "" {
		return
	}
	if _, ok := deps.Registry.RouterName(rc.To); !ok {
		return
	}

	interaction := domain.RouterInteraction{
		Address:     rc.From,
		Router:      rc.To,
		TxHash:      rc.TxHash,
		BlockNumber: rc.BlockNumber,
		Time:        rc.BlockTime,
		GasETH:      rc.GasCostETH(),
	}
	if err := deps.Discovery.RecordInteractions(ctx, []domain.RouterInteraction{interaction}); err != nil {
		a.logger.WarnContext(ctx, "watch interaction not recorded",
			slog.String("tx_hash", ev.TxHash),
			slog.String("error", err.Error()),
		)
	}
}

// FullMode runs discovery first so fresh qualifiers join the tracked set,
// then a scoring pass over the enlarged universe.
func (a *App) FullMode(ctx context.Context, deps *Dependencies) error {
	if err := a.DiscoverMode(ctx, deps); err != nil {
		return err
	}
	return a.RefreshMode(ctx, deps)
}

func (a *App) buildRunner(deps *Dependencies) *engine.Runner {
	resolver := pricing.NewResolver(deps.Registry, deps.Prices, a.logger)
	curve := equity.NewCurveBuilder(deps.Prices, a.logger)

	return engine.NewRunner(engine.Config{
		WindowDays:      a.cfg.Engine.WindowDays,
		Concurrency:     a.cfg.Engine.Concurrency,
		TimeBudget:      a.cfg.Engine.TimeBudget.Duration,
		MinTradeCount:   a.cfg.Engine.MinTradeCount,
		IncludeUnpriced: a.cfg.Engine.IncludeUnpriced,
		MaxWallets:      a.cfg.Engine.MaxWallets,
	}, engine.Deps{
		Registry:  deps.Registry,
		Resolver:  resolver,
		Curve:     curve,
		Receipts:  deps.Receipts,
		History:   deps.History,
		Fills:     deps.Fills,
		Lots:      deps.Lots,
		Equity:    deps.Equity,
		Scores:    deps.Scores,
		Discovery: deps.Discovery,
		Runs:      deps.Runs,
	}, a.logger)
}

func (a *App) buildClassifier(deps *Dependencies) *discovery.Classifier {
	d := a.cfg.Discovery
	stats := discovery.NewStoreStats(deps.Fills, deps.Lots, deps.Equity)

	return discovery.NewClassifier(discovery.Config{
		MinPricedTrades:    d.MinPricedTrades,
		MinCoveragePct:     d.MinCoveragePct,
		MinUniqueProtocols: d.MinUniqueProtocols,
		MinSharpe:          d.MinSharpe,
		MinSwaps:           d.MinSwaps,
		MaxRoutersPerRun:   d.MaxRoutersPerRun,
		MaxCandidates:      d.MaxCandidates,
		TimeBudget:         d.TimeBudget.Duration,
		LookupTimeout:      d.LookupTimeout.Duration,
		Window:             time.Duration(d.WindowHours) * time.Hour,
		SortKey:            domain.SortKey(d.SortKey),
		PricedOnly:         d.PricedOnly,
		Offline:            d.Offline || deps.Scanner == nil,
		MinCEXWithdrawETH:  d.MinCEXWithdrawETH,
		BackfillMaxTx:      d.BackfillMaxTx,
	}, deps.Registry, deps.Scanner, deps.History, stats, deps.Discovery, a.logger)
}

// archiveRun uploads a scoring run's artifacts when archival is configured.
func (a *App) archiveRun(ctx context.Context, deps *Dependencies, summary domain.RunSummary) {
	if deps.Archiver == nil {
		return
	}

	scores, err := deps.Scores.ListTop(ctx, 0)
	if err != nil {
		a.logger.ErrorContext(ctx, "score listing for archive failed", slog.String("error", err.Error()))
	} else if err := deps.Archiver.ArchiveScores(ctx, summary.RunID, scores); err != nil {
		a.logger.ErrorContext(ctx, "score archive failed", slog.String("error", err.Error()))
	}

	if err := deps.Archiver.ArchiveSummary(ctx, summary); err != nil {
		a.logger.ErrorContext(ctx, "summary archive failed", slog.String("error", err.Error()))
	}
}
