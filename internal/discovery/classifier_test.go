package discovery

import (
	"context"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/ethhab/whaletrace/internal/domain"
)

const (
	routerA    = "0x7a250d5630b4cf539739df2c5dacb4c659f2488d"
	routerB    = "0xe592427a0aece92de3edee1f18e0157c05861564"
	cexBinance = "0x28c6c06298d514db089934071355e5743bf21d60"
	walletGood = "0x1111111111111111111111111111111111111111"
	walletThin = "0x2222222222222222222222222222222222222222"
)

var scanTime = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

func discRegistry() *domain.AddressRegistry {
	return domain.NewAddressRegistry(
		map[string]string{routerA: "Uniswap V2", routerB: "Uniswap V3"},
		map[string]string{cexBinance: "Binance"},
		nil,
		nil,
	)
}

func defaultConfig() Config {
	return Config{
		MinPricedTrades:    5,
		MinCoveragePct:     60,
		MinUniqueProtocols: 1,
		MinSharpe:          0.5,
		MinSwaps:           10,
		MaxRoutersPerRun:   5,
		MaxCandidates:      50,
		TimeBudget:         30 * time.Second,
		LookupTimeout:      5 * time.Second,
		Window:             24 * time.Hour,
		SortKey:            domain.SortSharpe,
		BackfillMaxTx:      2500,
	}
}

// fakeScanner serves canned traffic per router and blocks on demand to
// simulate a slow external dependency.
type fakeScanner struct {
	traffic     map[string][]domain.RouterInteraction
	withdrawals map[string][]domain.CEXWithdrawal
	contracts   map[string]bool
	delay       time.Duration
}

func (f *fakeScanner) RouterTraffic(ctx context.Context, router string, _ time.Time, _ int) ([]domain.RouterInteraction, error) {
	if f.delay > 0 {
		select {
		case <-time.After(f.delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	return f.traffic[router], nil
}

func (f *fakeScanner) CEXWithdrawals(_ context.Context, cex string, _ time.Time, _ float64) ([]domain.CEXWithdrawal, error) {
	return f.withdrawals[cex], nil
}

func (f *fakeScanner) IsContract(_ context.Context, address string) (bool, error) {
	return f.contracts[address], nil
}

// fakeDiscoveryStore is an in-memory DiscoveryStore.
type fakeDiscoveryStore struct {
	mu           sync.Mutex
	interactions map[string][]domain.RouterInteraction
	activity     map[string]domain.ActivityProfile
	watchlist    []domain.WatchlistEntry
	recent       []string
}

func newFakeStore() *fakeDiscoveryStore {
	return &fakeDiscoveryStore{
		interactions: make(map[string][]domain.RouterInteraction),
		activity:     make(map[string]domain.ActivityProfile),
	}
}

func (s *fakeDiscoveryStore) LoadRegistry(context.Context) (*domain.AddressRegistry, error) {
	return discRegistry(), nil
}

func (s *fakeDiscoveryStore) RecordInteractions(_ context.Context, ins []domain.RouterInteraction) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, in := range ins {
		s.interactions[in.Address] = append(s.interactions[in.Address], in)
	}
	return nil
}

func (s *fakeDiscoveryStore) ListInteractions(_ context.Context, address string, _ time.Time) ([]domain.RouterInteraction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.interactions[address], nil
}

func (s *fakeDiscoveryStore) ListRecentTraders(_ context.Context, _ time.Time, _ int) ([]string, error) {
	return s.recent, nil
}

func (s *fakeDiscoveryStore) UpsertActivity(_ context.Context, p domain.ActivityProfile) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.activity[p.Address] = p
	return nil
}

func (s *fakeDiscoveryStore) ReplaceWatchlist(_ context.Context, _ string, entries []domain.WatchlistEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.watchlist = entries
	return nil
}

func (s *fakeDiscoveryStore) ListTracked(context.Context, int) ([]string, error) {
	return nil, nil
}

// fakeStats serves canned wallet stats.
type fakeStats struct {
	stats map[string]domain.WalletStats
}

func (f *fakeStats) WalletStats(_ context.Context, address string, _ time.Time) (domain.WalletStats, error) {
	st, ok := f.stats[address]
	if !ok {
		return domain.WalletStats{}, domain.ErrNotFound
	}
	return st, nil
}

func interactionsFor(address, router string, n int) []domain.RouterInteraction {
	out := make([]domain.RouterInteraction, n)
	for i := range out {
		out[i] = domain.RouterInteraction{
			Address:     address,
			Router:      router,
			TxHash:      address[:10] + string(rune('a'+i)),
			BlockNumber: uint64(19_000_000 + i),
			Time:        scanTime.Add(-time.Duration(i) * time.Hour),
			GasETH:      0.002,
		}
	}
	return out
}

func f64(v float64) *float64 { return &v }

func newClassifier(cfg Config, scanner domain.ActivityScanner, stats domain.StatsSource, store domain.DiscoveryStore) *Classifier {
	return NewClassifier(cfg, discRegistry(), scanner, nil, stats, store, slog.New(slog.DiscardHandler))
}

func TestRunQualifiesGoodWallet(t *testing.T) {
	scanner := &fakeScanner{
		traffic: map[string][]domain.RouterInteraction{
			routerA: interactionsFor(walletGood, routerA, 8),
			routerB: interactionsFor(walletGood, routerB, 4),
		},
	}
	stats := &fakeStats{stats: map[string]domain.WalletStats{
		walletGood: {PricedTrades: 10, TotalSwaps: 12, CoveragePct: 83.3, Sharpe: f64(1.8), NetPnLUSD: f64(4200)},
	}}
	store := newFakeStore()

	result, err := newClassifier(defaultConfig(), scanner, stats, store).Run(context.Background(), scanTime)
	if err != nil {
		t.Fatalf("Run returned error: %v", err)
	}

	if result.Partial {
		t.Error("run flagged partial with a generous budget")
	}
	if result.Funnel.Candidates != 1 || result.Funnel.Scored != 1 || result.Funnel.Watchlist != 1 {
		t.Errorf("funnel = %+v, want 1 candidate scored and qualified", result.Funnel)
	}
	if len(result.Entries) != 1 {
		t.Fatalf("expected 1 entry, got %d", len(result.Entries))
	}
	e := result.Entries[0]
	if !e.Qualifies || e.Status != domain.StatusWatchlist {
		t.Errorf("entry = %+v, want qualified watchlist entry", e)
	}
	if e.UniqueProtocols != 2 {
		t.Errorf("unique protocols = %d, want 2", e.UniqueProtocols)
	}
}

func TestRunCoverageGate(t *testing.T) {
	// 2 priced trades out of 50 swaps is 4% coverage: excluded from the
	// sharpe-sorted watchlist but still visible under activity sort.
	scanner := &fakeScanner{
		traffic: map[string][]domain.RouterInteraction{
			routerA: interactionsFor(walletThin, routerA, 50),
		},
	}
	stats := &fakeStats{stats: map[string]domain.WalletStats{
		walletThin: {PricedTrades: 2, TotalSwaps: 50, CoveragePct: 4, Sharpe: f64(2.0)},
	}}

	t.Run("excluded from sharpe sort", func(t *testing.T) {
		cfg := defaultConfig()
		cfg.SortKey = domain.SortSharpe

		result, err := newClassifier(cfg, scanner, stats, newFakeStore()).Run(context.Background(), scanTime)
		if err != nil {
			t.Fatalf("Run returned error: %v", err)
		}
		for _, e := range result.Entries {
			if e.Address == walletThin && e.Qualifies {
				t.Error("low-coverage wallet qualified for the watchlist")
			}
		}
		if result.Funnel.Watchlist != 0 {
			t.Errorf("watchlist count = %d, want 0", result.Funnel.Watchlist)
		}
	})

	t.Run("visible under activity sort", func(t *testing.T) {
		cfg := defaultConfig()
		cfg.SortKey = domain.SortActivity
		cfg.PricedOnly = false

		result, err := newClassifier(cfg, scanner, stats, newFakeStore()).Run(context.Background(), scanTime)
		if err != nil {
			t.Fatalf("Run returned error: %v", err)
		}
		found := false
		for _, e := range result.Entries {
			if e.Address == walletThin {
				found = true
				if e.Qualifies {
					t.Error("low-coverage wallet must be visible but not qualified")
				}
			}
		}
		if !found {
			t.Error("low-coverage wallet missing from activity-sorted result")
		}
	})
}

func TestRunFallbackToActivity(t *testing.T) {
	// No candidate carries risk metrics: a sharpe sort must fall back to
	// activity and flag it, not return an empty list.
	scanner := &fakeScanner{
		traffic: map[string][]domain.RouterInteraction{
			routerA: append(interactionsFor(walletGood, routerA, 12), interactionsFor(walletThin, routerA, 20)...),
		},
	}
	stats := &fakeStats{stats: map[string]domain.WalletStats{}}

	result, err := newClassifier(defaultConfig(), scanner, stats, newFakeStore()).Run(context.Background(), scanTime)
	if err != nil {
		t.Fatalf("Run returned error: %v", err)
	}

	if !result.Fallback {
		t.Error("expected fallback flag")
	}
	if result.SortKey != domain.SortActivity {
		t.Errorf("sort key = %s, want activity", result.SortKey)
	}
	if len(result.Entries) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(result.Entries))
	}
	if result.Entries[0].Address != walletThin {
		t.Errorf("top entry = %s, want the most active wallet", result.Entries[0].Address)
	}
}

func TestRunExcludesKnownAddressesAndContracts(t *testing.T) {
	contractAddr := "0x3333333333333333333333333333333333333333"
	scanner := &fakeScanner{
		traffic: map[string][]domain.RouterInteraction{
			routerA: append(
				append(interactionsFor(walletGood, routerA, 12), interactionsFor(cexBinance, routerA, 5)...),
				interactionsFor(contractAddr, routerA, 5)...,
			),
		},
		contracts: map[string]bool{contractAddr: true},
	}
	stats := &fakeStats{stats: map[string]domain.WalletStats{
		walletGood: {PricedTrades: 10, TotalSwaps: 12, CoveragePct: 83, Sharpe: f64(1.2)},
	}}

	result, err := newClassifier(defaultConfig(), scanner, stats, newFakeStore()).Run(context.Background(), scanTime)
	if err != nil {
		t.Fatalf("Run returned error: %v", err)
	}

	for _, e := range result.Entries {
		if e.Address == cexBinance {
			t.Error("CEX hot wallet surfaced as a candidate")
		}
		if e.Address == contractAddr {
			t.Error("contract surfaced in the result entries")
		}
	}
}

func TestRunCEXWithdrawalSeedsCandidate(t *testing.T) {
	fresh := "0x4444444444444444444444444444444444444444"
	scanner := &fakeScanner{
		traffic: map[string][]domain.RouterInteraction{
			routerA: interactionsFor(fresh, routerA, 15),
		},
		withdrawals: map[string][]domain.CEXWithdrawal{
			cexBinance: {{Address: fresh, CEX: "Binance", AmountETH: 25, Time: scanTime.Add(-2 * time.Hour)}},
		},
	}
	stats := &fakeStats{stats: map[string]domain.WalletStats{
		fresh: {PricedTrades: 8, TotalSwaps: 10, CoveragePct: 80, Sharpe: f64(0.9)},
	}}

	result, err := newClassifier(defaultConfig(), scanner, stats, newFakeStore()).Run(context.Background(), scanTime)
	if err != nil {
		t.Fatalf("Run returned error: %v", err)
	}
	if len(result.Entries) != 1 {
		t.Fatalf("expected 1 entry, got %d", len(result.Entries))
	}
	if !result.Entries[0].WithdrewFromCEX {
		t.Error("withdrawal flag not carried onto the entry")
	}
}

func TestRunBudgetExhaustionIsPartial(t *testing.T) {
	// A slow scanner against a 50ms budget: the run must come back partial
	// with no unhandled faults, within the budget's order of magnitude.
	scanner := &fakeScanner{
		traffic: map[string][]domain.RouterInteraction{
			routerA: interactionsFor(walletGood, routerA, 12),
		},
		delay: 2 * time.Second,
	}
	cfg := defaultConfig()
	cfg.TimeBudget = 50 * time.Millisecond
	cfg.LookupTimeout = 5 * time.Second

	start := time.Now()
	result, err := newClassifier(cfg, scanner, &fakeStats{}, newFakeStore()).Run(context.Background(), time.Now())
	elapsed := time.Since(start)

	if err != nil && err != domain.ErrBudgetExceeded {
		t.Fatalf("unexpected error: %v", err)
	}
	if !result.Partial {
		t.Error("budget-exhausted run not flagged partial")
	}
	if elapsed > 3*time.Second {
		t.Errorf("run blocked for %v past its budget", elapsed)
	}
}

func TestRunOfflineUsesStore(t *testing.T) {
	store := newFakeStore()
	store.recent = []string{walletGood, cexBinance}
	store.interactions[walletGood] = interactionsFor(walletGood, routerA, 12)

	stats := &fakeStats{stats: map[string]domain.WalletStats{
		walletGood: {PricedTrades: 7, TotalSwaps: 9, CoveragePct: 77, Sharpe: f64(1.1)},
	}}
	cfg := defaultConfig()
	cfg.Offline = true

	result, err := newClassifier(cfg, nil, stats, store).Run(context.Background(), scanTime)
	if err != nil {
		t.Fatalf("Run returned error: %v", err)
	}
	if result.ScannedRouters != 0 {
		t.Errorf("offline run scanned %d routers", result.ScannedRouters)
	}
	if len(result.Entries) != 1 || result.Entries[0].Address != walletGood {
		t.Fatalf("entries = %+v, want only %s", result.Entries, walletGood)
	}
}

func TestBackfillRecordsRouterHistory(t *testing.T) {
	history := &fakeHistory{txs: []domain.AccountTx{
		{Hash: "0x01", From: walletGood, To: routerA, BlockNumber: 100, Time: scanTime, GasETH: 0.003},
		{Hash: "0x02", From: walletGood, To: "0x9999999999999999999999999999999999999999", BlockNumber: 101, Time: scanTime},
		{Hash: "0x03", From: walletGood, To: routerB, BlockNumber: 102, Time: scanTime, Failed: true},
		{Hash: "0x04", From: walletGood, To: routerB, BlockNumber: 103, Time: scanTime, GasETH: 0.004},
	}}
	store := newFakeStore()
	c := NewClassifier(defaultConfig(), discRegistry(), nil, history, &fakeStats{}, store, slog.New(slog.DiscardHandler))

	n, err := c.Backfill(context.Background(), walletGood)
	if err != nil {
		t.Fatalf("Backfill returned error: %v", err)
	}
	if n != 2 {
		t.Fatalf("backfilled %d interactions, want 2 (router txs only, no failures)", n)
	}
	if got := len(store.interactions[walletGood]); got != 2 {
		t.Errorf("store holds %d interactions, want 2", got)
	}
}

type fakeHistory struct {
	txs []domain.AccountTx
}

func (f *fakeHistory) AccountTransactions(_ context.Context, _ string, _ int) ([]domain.AccountTx, error) {
	return f.txs, nil
}
