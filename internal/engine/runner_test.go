package engine

import (
	"context"
	"errors"
	"log/slog"
	"math"
	"sync"
	"testing"
	"time"

	"github.com/ethhab/whaletrace/internal/domain"
	"github.com/ethhab/whaletrace/internal/equity"
	"github.com/ethhab/whaletrace/internal/pricing"
)

const (
	engWallet  = "0x05c1882212a41aa8d7df5b70eebe03d9319345b7"
	engRouter  = "0x7a250d5630b4cf539739df2c5dacb4c659f2488d"
	engPool    = "0xb4e16d0168e52d35cacd2c6185b44281ec28c9dc"
	engUSDC    = "0xa0b86991c6218b36c1d19d4a2e9eb0ce3606eb48"
	engToken   = "0x6982508145454ce325ddbe47a25d4ec3d2311933"
	transferTp = "0xddf252ad1be2c89b69c2b068fc378daa952ba7f163c4a11628f55a4df523b3ef"
	swapV2Tp   = "0xd78ad95fa46c994b6551d0da85fc275fe613ce37657fb8d5e3d130840159d822"
)

var runDay = time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)

func engRegistry() *domain.AddressRegistry {
	return domain.NewAddressRegistry(
		map[string]string{engRouter: "Uniswap V2"},
		nil,
		nil,
		map[string]uint8{engUSDC: 6},
	)
}

// --- external collaborator fakes ---

type noPrices struct{}

func (noPrices) TokenPrice(context.Context, string, time.Time) (float64, time.Time, error) {
	return 0, time.Time{}, domain.ErrPricingUnavailable
}

func (noPrices) DailyPrice(context.Context, string, time.Time) (float64, error) {
	return 0, domain.ErrPricingUnavailable
}

type memReceipts struct {
	byHash map[string]domain.Receipt
}

func (m *memReceipts) FetchReceipt(_ context.Context, txHash string) (domain.Receipt, error) {
	rc, ok := m.byHash[txHash]
	if !ok {
		return domain.Receipt{}, domain.ErrNotFound
	}
	return rc, nil
}

type memHistory struct {
	byWallet map[string][]domain.AccountTx
	err      error
}

func (m *memHistory) AccountTransactions(_ context.Context, wallet string, _ int) ([]domain.AccountTx, error) {
	if m.err != nil {
		return nil, m.err
	}
	return m.byWallet[wallet], nil
}

// --- store fakes ---

type memFills struct {
	mu    sync.Mutex
	byKey map[string]domain.PricedTrade
}

func newMemFills() *memFills { return &memFills{byKey: make(map[string]domain.PricedTrade)} }

func (m *memFills) InsertBatch(_ context.Context, trades []domain.PricedTrade) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, t := range trades {
		if _, exists := m.byKey[t.Key()]; !exists {
			m.byKey[t.Key()] = t
		}
	}
	return nil
}

func (m *memFills) ListByWallet(_ context.Context, wallet string, since time.Time) ([]domain.PricedTrade, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.PricedTrade
	for _, t := range m.byKey {
		if t.Wallet == wallet && !t.BlockTime.Before(since) {
			out = append(out, t)
		}
	}
	return out, nil
}

func (m *memFills) CountSince(ctx context.Context, wallet string, since time.Time) (int, int, error) {
	trades, _ := m.ListByWallet(ctx, wallet, since)
	priced := 0
	for _, t := range trades {
		if t.Priced() {
			priced++
		}
	}
	return len(trades), priced, nil
}

type memLots struct {
	mu         sync.Mutex
	failWallet string
	lots       map[string][]domain.TradeLot
	unmatched  map[string][]domain.UnmatchedSell
}

func newMemLots() *memLots {
	return &memLots{lots: make(map[string][]domain.TradeLot), unmatched: make(map[string][]domain.UnmatchedSell)}
}

func (m *memLots) ReplaceForWallet(_ context.Context, wallet string, lots []domain.TradeLot, unmatched []domain.UnmatchedSell) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if wallet == m.failWallet {
		return errors.New("constraint violation")
	}
	m.lots[wallet] = lots
	m.unmatched[wallet] = unmatched
	return nil
}

func (m *memLots) ListByWallet(_ context.Context, wallet string, _ time.Time) ([]domain.TradeLot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lots[wallet], nil
}

type memEquity struct {
	mu    sync.Mutex
	snaps map[string][]domain.EquitySnapshot
	risk  map[string]domain.RiskMetrics
}

func newMemEquity() *memEquity {
	return &memEquity{snaps: make(map[string][]domain.EquitySnapshot), risk: make(map[string]domain.RiskMetrics)}
}

func (m *memEquity) UpsertSnapshots(_ context.Context, snaps []domain.EquitySnapshot) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, s := range snaps {
		m.snaps[s.Wallet] = append(m.snaps[s.Wallet], s)
	}
	return nil
}

func (m *memEquity) ListSnapshots(_ context.Context, wallet string, _, _ time.Time) ([]domain.EquitySnapshot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.snaps[wallet], nil
}

func (m *memEquity) UpsertRiskMetrics(_ context.Context, r domain.RiskMetrics) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.risk[r.Wallet] = r
	return nil
}

func (m *memEquity) GetRiskMetrics(_ context.Context, wallet string) (domain.RiskMetrics, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.risk[wallet]
	if !ok {
		return domain.RiskMetrics{}, domain.ErrNotFound
	}
	return r, nil
}

type memScores struct {
	mu     sync.Mutex
	scores []domain.CompositeScore
}

func (m *memScores) UpsertBatch(_ context.Context, scores []domain.CompositeScore) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.scores = scores
	return nil
}

func (m *memScores) ListTop(_ context.Context, limit int) ([]domain.CompositeScore, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if limit > len(m.scores) {
		limit = len(m.scores)
	}
	return m.scores[:limit], nil
}

type memDiscovery struct {
	tracked []string
}

func (m *memDiscovery) LoadRegistry(context.Context) (*domain.AddressRegistry, error) {
	return engRegistry(), nil
}
func (m *memDiscovery) RecordInteractions(context.Context, []domain.RouterInteraction) error {
	return nil
}
func (m *memDiscovery) ListInteractions(context.Context, string, time.Time) ([]domain.RouterInteraction, error) {
	return nil, nil
}
func (m *memDiscovery) ListRecentTraders(context.Context, time.Time, int) ([]string, error) {
	return nil, nil
}
func (m *memDiscovery) UpsertActivity(context.Context, domain.ActivityProfile) error { return nil }
func (m *memDiscovery) ReplaceWatchlist(context.Context, string, []domain.WatchlistEntry) error {
	return nil
}
func (m *memDiscovery) ListTracked(_ context.Context, limit int) ([]string, error) {
	if limit > 0 && limit < len(m.tracked) {
		return m.tracked[:limit], nil
	}
	return m.tracked, nil
}

type memRuns struct {
	mu   sync.Mutex
	runs []domain.RunSummary
}

func (m *memRuns) RecordRun(_ context.Context, s domain.RunSummary) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.runs = append(m.runs, s)
	return nil
}

// --- receipt fixtures ---

func pad32(addr string) string { return "0x000000000000000000000000" + addr[2:] }

func amountData(units float64, decimals int) []byte {
	raw := units * math.Pow10(decimals)
	v := uint64(raw)
	out := make([]byte, 32)
	for i := 0; i < 8; i++ {
		out[31-i] = byte(v >> (8 * i))
	}
	return out
}

func transferLog(token, from, to string, units float64, decimals int, index uint) domain.Log {
	return domain.Log{
		Address: token,
		Topics:  []string{transferTp, pad32(from), pad32(to)},
		Data:    amountData(units, decimals),
		Index:   index,
	}
}

func swapReceipt(txHash string, block uint64, at time.Time, logs ...domain.Log) domain.Receipt {
	logs = append(logs, domain.Log{Address: engPool, Topics: []string{swapV2Tp}, Index: 99})
	return domain.Receipt{
		TxHash:      txHash,
		Status:      1,
		BlockNumber: block,
		BlockTime:   at,
		From:        engWallet,
		To:          engRouter,
		Logs:        logs,
	}
}

func buildFixtures() (*memReceipts, *memHistory) {
	buyAt := runDay
	sellAt := runDay.AddDate(0, 0, 2)

	receipts := &memReceipts{byHash: map[string]domain.Receipt{
		"0xbuy": swapReceipt("0xbuy", 19_000_100, buyAt,
			transferLog(engUSDC, engWallet, engPool, 3000, 6, 1),
			transferLog(engToken, engPool, engWallet, 10, 18, 2),
		),
		"0xsell": swapReceipt("0xsell", 19_000_200, sellAt,
			transferLog(engToken, engWallet, engPool, 10, 18, 1),
			transferLog(engUSDC, engPool, engWallet, 4500, 6, 2),
		),
	}}

	history := &memHistory{byWallet: map[string][]domain.AccountTx{
		engWallet: {
			{Hash: "0xbuy", From: engWallet, To: engRouter, BlockNumber: 19_000_100, Time: buyAt},
			{Hash: "0xsell", From: engWallet, To: engRouter, BlockNumber: 19_000_200, Time: sellAt},
		},
	}}
	return receipts, history
}

type fixture struct {
	runner *Runner
	fills  *memFills
	lots   *memLots
	eq     *memEquity
	scores *memScores
	runs   *memRuns
}

func newFixture(cfg Config, receipts domain.ReceiptFetcher, history domain.AccountHistory, tracked []string) fixture {
	logger := slog.New(slog.DiscardHandler)
	registry := engRegistry()
	f := fixture{
		fills:  newMemFills(),
		lots:   newMemLots(),
		eq:     newMemEquity(),
		scores: &memScores{},
		runs:   &memRuns{},
	}
	f.runner = NewRunner(cfg, Deps{
		Registry:  registry,
		Resolver:  pricing.NewResolver(registry, noPrices{}, logger),
		Curve:     equity.NewCurveBuilder(noPrices{}, logger),
		Receipts:  receipts,
		History:   history,
		Fills:     f.fills,
		Lots:      f.lots,
		Equity:    f.eq,
		Scores:    f.scores,
		Discovery: &memDiscovery{tracked: tracked},
		Runs:      f.runs,
	}, logger)
	return f
}

func testConfig() Config {
	return Config{
		WindowDays:    90,
		Concurrency:   4,
		TimeBudget:    30 * time.Second,
		MinTradeCount: 1,
		MaxWallets:    100,
	}
}

func TestRunFullPipeline(t *testing.T) {
	receipts, history := buildFixtures()
	f := newFixture(testConfig(), receipts, history, []string{engWallet})
	now := runDay.AddDate(0, 0, 5)

	summary, err := f.runner.Run(context.Background(), "run-1", now)
	if err != nil {
		t.Fatalf("Run returned error: %v", err)
	}

	if summary.Partial {
		t.Error("run flagged partial with a generous budget")
	}
	if summary.Errors != 0 {
		t.Errorf("errors = %d, want 0", summary.Errors)
	}
	if summary.WalletsProcessed != 1 {
		t.Errorf("wallets processed = %d, want 1", summary.WalletsProcessed)
	}
	if summary.TradesPriced != 2 {
		t.Errorf("trades priced = %d, want 2", summary.TradesPriced)
	}
	if summary.LotsClosed != 1 {
		t.Errorf("lots closed = %d, want 1", summary.LotsClosed)
	}
	if summary.ScoresComputed != 1 {
		t.Errorf("scores computed = %d, want 1", summary.ScoresComputed)
	}
	// One snapshot per day of the window, inclusive.
	if summary.SnapshotsBuilt != 91 {
		t.Errorf("snapshots built = %d, want 91", summary.SnapshotsBuilt)
	}

	lots, _ := f.lots.ListByWallet(context.Background(), engWallet, time.Time{})
	if len(lots) != 1 {
		t.Fatalf("stored lots = %d, want 1", len(lots))
	}
	if math.Abs(lots[0].ROIPercent-50) > 1e-9 {
		t.Errorf("lot roi = %v, want 50", lots[0].ROIPercent)
	}
	if math.Abs(lots[0].NetPnLUSD-1500) > 1e-9 {
		t.Errorf("lot net pnl = %v, want 1500", lots[0].NetPnLUSD)
	}

	if len(f.scores.scores) != 1 || f.scores.scores[0].Wallet != engWallet {
		t.Fatalf("scores = %+v, want one for %s", f.scores.scores, engWallet)
	}
	if len(f.runs.runs) != 1 {
		t.Fatalf("run summaries recorded = %d, want 1", len(f.runs.runs))
	}
}

func TestRunIdempotentReprocessing(t *testing.T) {
	receipts, history := buildFixtures()
	f := newFixture(testConfig(), receipts, history, []string{engWallet})
	now := runDay.AddDate(0, 0, 5)

	first, err := f.runner.Run(context.Background(), "run-1", now)
	if err != nil {
		t.Fatalf("first run: %v", err)
	}
	second, err := f.runner.Run(context.Background(), "run-2", now)
	if err != nil {
		t.Fatalf("second run: %v", err)
	}

	if first.TradesPriced != second.TradesPriced || first.LotsClosed != second.LotsClosed {
		t.Errorf("reprocessing changed counts: %+v vs %+v", first, second)
	}
	lots, _ := f.lots.ListByWallet(context.Background(), engWallet, time.Time{})
	if len(lots) != 1 {
		t.Errorf("lots after reprocessing = %d, want 1", len(lots))
	}
}

func TestRunHistoryFailureDegradesWallet(t *testing.T) {
	f := newFixture(testConfig(), &memReceipts{}, &memHistory{err: errors.New("scan api down")}, []string{engWallet})

	summary, err := f.runner.Run(context.Background(), "run-1", runDay)
	if err != nil {
		t.Fatalf("Run returned error: %v", err)
	}
	// The wallet still completes on stored fills; the lookup failure is
	// visible in the error count, not fatal.
	if summary.WalletsProcessed != 1 {
		t.Errorf("wallets processed = %d, want 1", summary.WalletsProcessed)
	}
	if summary.Errors != 1 {
		t.Errorf("errors = %d, want 1", summary.Errors)
	}
}

func TestRunWalletFailureCountedSeparately(t *testing.T) {
	receipts, history := buildFixtures()
	const badWallet = "0x00000000000000000000000000000000000000ba"
	f := newFixture(testConfig(), receipts, history, []string{engWallet, badWallet})
	f.lots.failWallet = badWallet
	now := runDay.AddDate(0, 0, 5)

	summary, err := f.runner.Run(context.Background(), "run-1", now)
	if err != nil {
		t.Fatalf("Run returned error: %v", err)
	}

	if summary.WalletsProcessed != 1 {
		t.Errorf("wallets processed = %d, want 1", summary.WalletsProcessed)
	}
	if summary.WalletsFailed != 1 {
		t.Errorf("wallets failed = %d, want 1", summary.WalletsFailed)
	}
	// A failed wallet is not a degraded record.
	if summary.Errors != 0 {
		t.Errorf("errors = %d, want 0", summary.Errors)
	}
	// Every wallet was either processed or failed, so the fan-out completed.
	if summary.Partial {
		t.Error("run flagged partial although no wallet was skipped")
	}
}

func TestRunBudgetExhaustion(t *testing.T) {
	receipts, history := buildFixtures()
	cfg := testConfig()
	cfg.TimeBudget = time.Nanosecond
	f := newFixture(cfg, receipts, history, []string{engWallet})

	summary, err := f.runner.Run(context.Background(), "run-1", runDay)
	if err != nil && !errors.Is(err, domain.ErrBudgetExceeded) {
		t.Fatalf("unexpected error: %v", err)
	}
	if !summary.Partial {
		t.Error("exhausted run not flagged partial")
	}
	if len(f.runs.runs) != 1 {
		t.Errorf("partial run summary not recorded")
	}
}
