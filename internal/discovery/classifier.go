// Package discovery finds candidate smart-money wallets by scanning activity
// around known DEX routers and CEX hot wallets, scores each candidate's
// activity profile, and applies gated qualification rules to produce a
// ranked watchlist. Runs are time-budgeted: on budget exhaustion the
// classifier stops cleanly and returns whatever was scored, flagged partial.
package discovery

import (
	"context"
	"errors"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/ethhab/whaletrace/internal/domain"
)

// Config carries the gates and run bounds for one discovery run.
type Config struct {
	MinPricedTrades    int
	MinCoveragePct     float64
	MinUniqueProtocols int
	MinSharpe          float64
	MinSwaps           int
	MaxRoutersPerRun   int
	MaxCandidates      int
	TimeBudget         time.Duration
	LookupTimeout      time.Duration
	Window             time.Duration
	SortKey            domain.SortKey
	PricedOnly         bool
	Offline            bool
	MinCEXWithdrawETH  float64
	BackfillMaxTx      int
}

// fallbackThreshold is the fraction of scored candidates that must carry the
// requested confidence-sensitive metric before that sort is trusted; below
// it the run falls back to activity ranking.
const fallbackThreshold = 0.5

// Classifier runs the unseen -> candidate -> scored -> watchlist|rejected
// state machine over addresses observed near known venues.
type Classifier struct {
	cfg      Config
	registry *domain.AddressRegistry
	scanner  domain.ActivityScanner
	history  domain.AccountHistory
	stats    domain.StatsSource
	store    domain.DiscoveryStore
	logger   *slog.Logger
}

// NewClassifier wires a Classifier. scanner and history may be nil when the
// run is offline; stats and store are required.
func NewClassifier(cfg Config, registry *domain.AddressRegistry, scanner domain.ActivityScanner, history domain.AccountHistory, stats domain.StatsSource, store domain.DiscoveryStore, logger *slog.Logger) *Classifier {
	return &Classifier{
		cfg:      cfg,
		registry: registry,
		scanner:  scanner,
		history:  history,
		stats:    stats,
		store:    store,
		logger:   logger.With(slog.String("component", "discovery")),
	}
}

// candidate is the per-address working state of one run.
type candidate struct {
	address         string
	status          domain.CandidateStatus
	reason          string
	profile         domain.ActivityProfile
	stats           domain.WalletStats
	hasStats        bool
	withdrewFromCEX bool
}

// Run executes one discovery pass. It always returns a usable result; the
// error reports run-level failures (budget exhaustion surfaces as
// Partial=true together with domain.ErrBudgetExceeded).
func (c *Classifier) Run(ctx context.Context, now time.Time) (domain.DiscoveryResult, error) {
	// The window anchors on the logical run time; the budget is wall clock.
	started := time.Now()
	runCtx, cancel := context.WithTimeout(ctx, c.cfg.TimeBudget)
	defer cancel()

	result := domain.DiscoveryResult{SortKey: c.cfg.SortKey}
	since := now.Add(-c.cfg.Window)

	candidates, scanned := c.collectCandidates(runCtx, since)
	result.ScannedRouters = scanned
	result.Funnel.Candidates = len(candidates)

	scored := c.scoreCandidates(runCtx, candidates, since)
	result.Funnel.Scored = len(scored)

	for i := range scored {
		c.gate(&scored[i])
		switch scored[i].status {
		case domain.StatusWatchlist:
			result.Funnel.Watchlist++
		case domain.StatusRejected:
			result.Funnel.Rejected++
		}
	}

	entries, fallback := c.rank(scored)
	result.Entries = entries
	result.Fallback = fallback
	if fallback {
		result.SortKey = domain.SortActivity
	}

	result.Partial = runCtx.Err() != nil || len(scored) < len(candidates)
	result.Elapsed = time.Since(started)

	var err error
	if errors.Is(runCtx.Err(), context.DeadlineExceeded) {
		err = domain.ErrBudgetExceeded
	}
	return result, err
}

// collectCandidates gathers addresses seen near known venues inside the
// window. Online runs fan out over routers and CEX wallets with a per-lookup
// timeout; a straggler's missing result narrows the candidate set rather
// than aborting the run. Offline runs fall back to previously recorded
// interactions.
func (c *Classifier) collectCandidates(ctx context.Context, since time.Time) ([]*candidate, int) {
	if c.cfg.Offline || c.scanner == nil {
		return c.candidatesFromStore(ctx, since), 0
	}

	routers := c.registry.Routers()
	sort.Strings(routers)
	if c.cfg.MaxRoutersPerRun > 0 && len(routers) > c.cfg.MaxRoutersPerRun {
		routers = routers[:c.cfg.MaxRoutersPerRun]
	}

	var mu sync.Mutex
	seen := make(map[string]*candidate)
	addOne := func(address string, fromCEX bool) {
		address = strings.ToLower(address)
		if c.registry.Excluded(address) {
			return
		}
		mu.Lock()
		defer mu.Unlock()
		cand, ok := seen[address]
		if !ok {
			cand = &candidate{address: address, status: domain.StatusCandidate}
			seen[address] = cand
		}
		if fromCEX {
			cand.withdrewFromCEX = true
		}
	}

	var g errgroup.Group
	gctx := ctx
	for _, router := range routers {
		g.Go(func() error {
			lctx, cancel := context.WithTimeout(gctx, c.cfg.LookupTimeout)
			defer cancel()
			interactions, err := c.scanner.RouterTraffic(lctx, router, since, c.cfg.MaxCandidates)
			if err != nil {
				c.logger.WarnContext(gctx, "router scan failed",
					slog.String("router", router),
					slog.String("error", err.Error()),
				)
				return nil
			}
			if err := c.store.RecordInteractions(gctx, interactions); err != nil {
				c.logger.WarnContext(gctx, "recording interactions failed",
					slog.String("router", router),
					slog.String("error", err.Error()),
				)
			}
			for _, in := range interactions {
				addOne(in.Address, false)
			}
			return nil
		})
	}
	for _, cex := range c.registry.CEXes() {
		g.Go(func() error {
			lctx, cancel := context.WithTimeout(gctx, c.cfg.LookupTimeout)
			defer cancel()
			withdrawals, err := c.scanner.CEXWithdrawals(lctx, cex, since, c.cfg.MinCEXWithdrawETH)
			if err != nil {
				c.logger.WarnContext(gctx, "cex withdrawal scan failed",
					slog.String("cex", cex),
					slog.String("error", err.Error()),
				)
				return nil
			}
			for _, w := range withdrawals {
				addOne(w.Address, true)
			}
			return nil
		})
	}
	_ = g.Wait() // scan goroutines never return errors, only log them

	candidates := make([]*candidate, 0, len(seen))
	for _, cand := range seen {
		candidates = append(candidates, cand)
	}
	sort.Slice(candidates, func(i, j int) bool { return candidates[i].address < candidates[j].address })
	if c.cfg.MaxCandidates > 0 && len(candidates) > c.cfg.MaxCandidates {
		candidates = candidates[:c.cfg.MaxCandidates]
	}
	return candidates, len(routers)
}

func (c *Classifier) candidatesFromStore(ctx context.Context, since time.Time) []*candidate {
	addresses, err := c.store.ListRecentTraders(ctx, since, c.cfg.MaxCandidates)
	if err != nil {
		c.logger.WarnContext(ctx, "offline candidate listing failed", slog.String("error", err.Error()))
		return nil
	}
	candidates := make([]*candidate, 0, len(addresses))
	for _, addr := range addresses {
		addr = strings.ToLower(addr)
		if c.registry.Excluded(addr) {
			continue
		}
		candidates = append(candidates, &candidate{address: addr, status: domain.StatusCandidate})
	}
	return candidates
}

// scoreCandidates builds activity profiles and wallet stats for each
// candidate until the budget runs out. Candidates left unscored at the
// deadline stay in the candidate state; the run reports itself partial.
func (c *Classifier) scoreCandidates(ctx context.Context, candidates []*candidate, since time.Time) []candidate {
	scored := make([]candidate, 0, len(candidates))

	for _, cand := range candidates {
		if ctx.Err() != nil {
			c.logger.WarnContext(ctx, "time budget exhausted while scoring",
				slog.Int("scored", len(scored)),
				slog.Int("candidates", len(candidates)),
			)
			break
		}

		if contract := c.isContract(ctx, cand.address); contract {
			cand.status = domain.StatusRejected
			cand.reason = "address is a contract"
			scored = append(scored, *cand)
			continue
		}

		cand.profile = c.buildProfile(ctx, cand.address, since)
		cand.profile.WithdrewFromCEX = cand.withdrewFromCEX

		stats, err := c.stats.WalletStats(ctx, cand.address, since)
		switch {
		case err == nil:
			cand.stats = stats
			cand.hasStats = true
		case errors.Is(err, domain.ErrNotFound):
			// Never scored before; gates fall through to activity volume.
		default:
			c.logger.WarnContext(ctx, "wallet stats lookup failed",
				slog.String("address", cand.address),
				slog.String("error", err.Error()),
			)
		}

		if err := c.store.UpsertActivity(ctx, cand.profile); err != nil {
			c.logger.WarnContext(ctx, "activity upsert failed",
				slog.String("address", cand.address),
				slog.String("error", err.Error()),
			)
		}

		cand.status = domain.StatusScored
		scored = append(scored, *cand)
	}

	return scored
}

func (c *Classifier) isContract(ctx context.Context, address string) bool {
	if c.scanner == nil {
		return false
	}
	lctx, cancel := context.WithTimeout(ctx, c.cfg.LookupTimeout)
	defer cancel()
	contract, err := c.scanner.IsContract(lctx, address)
	if err != nil {
		// Unknowable right now; treat as a wallet rather than dropping it.
		return false
	}
	return contract
}

// buildProfile rolls recorded interactions up into an activity profile.
func (c *Classifier) buildProfile(ctx context.Context, address string, since time.Time) domain.ActivityProfile {
	p := domain.ActivityProfile{Address: address}

	interactions, err := c.store.ListInteractions(ctx, address, since)
	if err != nil {
		c.logger.WarnContext(ctx, "interaction listing failed",
			slog.String("address", address),
			slog.String("error", err.Error()),
		)
		return p
	}

	protocols := make(map[string]struct{})
	for _, in := range interactions {
		p.SwapCount++
		p.GasSpentETH += in.GasETH
		if name, ok := c.registry.RouterName(in.Router); ok {
			protocols[name] = struct{}{}
			p.UsesDeFi = true
		}
		if p.FirstSeen.IsZero() || in.Time.Before(p.FirstSeen) {
			p.FirstSeen = in.Time
		}
		if in.Time.After(p.LastActivity) {
			p.LastActivity = in.Time
		}
	}
	p.UniqueProtocols = len(protocols)
	return p
}

// gate applies the qualification rules to one scored candidate.
func (c *Classifier) gate(cand *candidate) {
	if cand.status != domain.StatusScored {
		return
	}

	switch {
	case cand.stats.PricedTrades < c.cfg.MinPricedTrades:
		cand.reason = "below minimum priced-trade count"
	case cand.stats.CoveragePct < c.cfg.MinCoveragePct:
		cand.reason = "pricing coverage too low for a reliable estimate"
	case cand.profile.UniqueProtocols < c.cfg.MinUniqueProtocols:
		cand.reason = "below minimum unique protocols"
	case !c.passesPerformanceGate(cand):
		cand.reason = "neither sharpe nor activity volume acceptable"
	default:
		cand.status = domain.StatusWatchlist
		cand.reason = "qualifies"
		return
	}
	cand.status = domain.StatusRejected
}

// passesPerformanceGate accepts either a good risk-adjusted return or, when
// risk metrics are unavailable, enough raw activity volume.
func (c *Classifier) passesPerformanceGate(cand *candidate) bool {
	if cand.stats.Sharpe != nil && *cand.stats.Sharpe >= c.cfg.MinSharpe {
		return true
	}
	return cand.profile.SwapCount >= c.cfg.MinSwaps
}

// rank orders the scored candidates by the configured sort key and converts
// them to watchlist entries. Confidence-sensitive sorts (sharpe, pnl,
// win_rate) only admit candidates that pass the coverage gate and carry the
// metric; when too few do, ranking falls back to activity so the caller gets
// a flagged, honest list instead of an empty or misleading one.
func (c *Classifier) rank(scored []candidate) ([]domain.WatchlistEntry, bool) {
	key := c.cfg.SortKey
	fallback := false

	if confidenceSensitive(key) {
		withMetric := 0
		for i := range scored {
			if hasSortMetric(&scored[i], key) && coverageOK(&scored[i], c.cfg) {
				withMetric++
			}
		}
		if len(scored) > 0 && float64(withMetric)/float64(len(scored)) < fallbackThreshold {
			key = domain.SortActivity
			fallback = true
			c.logger.Warn("too few candidates carry risk metrics, falling back to activity ranking",
				slog.String("requested", string(c.cfg.SortKey)),
				slog.Int("with_metric", withMetric),
				slog.Int("scored", len(scored)),
			)
		}
	}

	visible := make([]candidate, 0, len(scored))
	for _, cand := range scored {
		if cand.status == domain.StatusRejected && cand.reason == "address is a contract" {
			continue
		}
		if confidenceSensitive(key) && (!hasSortMetric(&cand, key) || !coverageOK(&cand, c.cfg)) {
			continue
		}
		if c.cfg.PricedOnly && cand.stats.PricedTrades == 0 {
			continue
		}
		visible = append(visible, cand)
	}

	sort.SliceStable(visible, func(i, j int) bool {
		return sortValue(&visible[i], key) > sortValue(&visible[j], key)
	})

	entries := make([]domain.WatchlistEntry, 0, len(visible))
	for _, cand := range visible {
		entries = append(entries, domain.WatchlistEntry{
			Address:         cand.address,
			Status:          cand.status,
			Qualifies:       cand.status == domain.StatusWatchlist,
			Reason:          cand.reason,
			CoveragePct:     cand.stats.CoveragePct,
			PricedTrades:    cand.stats.PricedTrades,
			TotalSwaps:      cand.profile.SwapCount,
			UniqueProtocols: cand.profile.UniqueProtocols,
			Sharpe:          cand.stats.Sharpe,
			NetPnLUSD:       cand.stats.NetPnLUSD,
			WinRatePct:      cand.stats.WinRatePct,
			WithdrewFromCEX: cand.profile.WithdrewFromCEX,
			LastActivity:    cand.profile.LastActivity,
		})
	}
	return entries, fallback
}

func confidenceSensitive(key domain.SortKey) bool {
	switch key {
	case domain.SortSharpe, domain.SortPnL, domain.SortWinRate:
		return true
	}
	return false
}

func coverageOK(cand *candidate, cfg Config) bool {
	return cand.stats.CoveragePct >= cfg.MinCoveragePct
}

func hasSortMetric(cand *candidate, key domain.SortKey) bool {
	switch key {
	case domain.SortSharpe:
		return cand.stats.Sharpe != nil
	case domain.SortPnL:
		return cand.stats.NetPnLUSD != nil
	case domain.SortWinRate:
		return cand.stats.WinRatePct != nil
	}
	return true
}

func sortValue(cand *candidate, key domain.SortKey) float64 {
	switch key {
	case domain.SortSharpe:
		if cand.stats.Sharpe != nil {
			return *cand.stats.Sharpe
		}
	case domain.SortPnL:
		if cand.stats.NetPnLUSD != nil {
			return *cand.stats.NetPnLUSD
		}
	case domain.SortWinRate:
		if cand.stats.WinRatePct != nil {
			return *cand.stats.WinRatePct
		}
	case domain.SortActivity:
		return float64(cand.profile.SwapCount)
	case domain.SortLastActivity:
		return float64(cand.profile.LastActivity.Unix())
	}
	return 0
}

// Backfill reconstructs an address's router interaction history from the
// scan API and records it, bounded by BackfillMaxTx. Used when a wallet
// enters the watchlist with a thin recorded history.
func (c *Classifier) Backfill(ctx context.Context, address string) (int, error) {
	if c.history == nil {
		return 0, nil
	}
	address = strings.ToLower(address)

	txs, err := c.history.AccountTransactions(ctx, address, c.cfg.BackfillMaxTx)
	if err != nil {
		return 0, err
	}

	interactions := make([]domain.RouterInteraction, 0)
	for _, tx := range txs {
		if tx.Failed {
			continue
		}
		router := strings.ToLower(tx.To)
		if _, ok := c.registry.RouterName(router); !ok {
			continue
		}
		interactions = append(interactions, domain.RouterInteraction{
			Address:     address,
			Router:      router,
			TxHash:      tx.Hash,
			BlockNumber: tx.BlockNumber,
			Time:        tx.Time,
			GasETH:      tx.GasETH,
		})
	}
	if len(interactions) == 0 {
		return 0, nil
	}
	if err := c.store.RecordInteractions(ctx, interactions); err != nil {
		return 0, err
	}
	return len(interactions), nil
}
