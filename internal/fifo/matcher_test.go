package fifo

import (
	"errors"
	"fmt"
	"math"
	"testing"
	"time"

	"github.com/ethhab/whaletrace/internal/domain"
)

const (
	lotWallet = "0x05c1882212a41aa8d7df5b70eebe03d9319345b7"
	lotToken  = "0x6982508145454ce325ddbe47a25d4ec3d2311933"
)

var baseTime = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

type tradeSpec struct {
	side   domain.Side
	amount float64
	price  float64
	gas    float64
	block  uint64
	at     time.Time
}

func makeTrade(i int, s tradeSpec) domain.PricedTrade {
	at := s.at
	if at.IsZero() {
		at = baseTime.Add(time.Duration(i) * time.Hour)
	}
	return domain.PricedTrade{
		Fill: domain.Fill{
			TxHash:      fmt.Sprintf("0xtx%04d", i),
			LogIndex:    uint(i),
			Wallet:      lotWallet,
			Token:       lotToken,
			Direction:   s.side,
			Amount:      s.amount,
			BlockNumber: s.block,
			BlockTime:   at,
			PriceUSD:    s.price,
			ValueUSD:    s.amount * s.price,
			GasUSD:      s.gas,
		},
		Method:     domain.MethodStableLeg,
		Confidence: 1.0,
	}
}

func makeTrades(specs []tradeSpec) []domain.PricedTrade {
	trades := make([]domain.PricedTrade, len(specs))
	for i, s := range specs {
		if s.block == 0 {
			s.block = uint64(19_000_000 + i)
		}
		trades[i] = makeTrade(i, s)
	}
	return trades
}

func approx(t *testing.T, name string, got, want float64) {
	t.Helper()
	if math.Abs(got-want) > 1e-9 {
		t.Errorf("%s = %v, want %v", name, got, want)
	}
}

func TestMatchSingleRoundTrip(t *testing.T) {
	// Buy 10 @ $100 with $5 gas, sell all 10 @ $150 with $7 gas.
	res := Match(makeTrades([]tradeSpec{
		{side: domain.SideBuy, amount: 10, price: 100, gas: 5},
		{side: domain.SideSell, amount: 10, price: 150, gas: 7},
	}))

	if len(res.Lots) != 1 {
		t.Fatalf("expected 1 lot, got %d", len(res.Lots))
	}
	lot := res.Lots[0]
	approx(t, "gross pnl", lot.GrossPnLUSD, 500)
	approx(t, "net pnl", lot.NetPnLUSD, 488)
	approx(t, "roi", lot.ROIPercent, 48.8)
	approx(t, "entry gas", lot.EntryGasUSD, 5)
	approx(t, "exit gas", lot.ExitGasUSD, 7)
	if len(res.Open) != 0 {
		t.Errorf("expected no open tranches, got %d", len(res.Open))
	}
	if len(res.Unmatched) != 0 {
		t.Errorf("expected no unmatched sells, got %d", len(res.Unmatched))
	}
}

func TestMatchTrancheSplitAcrossSells(t *testing.T) {
	// One buy split across two sells yields two lots against the same entry.
	res := Match(makeTrades([]tradeSpec{
		{side: domain.SideBuy, amount: 10, price: 100},
		{side: domain.SideSell, amount: 4, price: 150},
		{side: domain.SideSell, amount: 6, price: 200},
	}))

	if len(res.Lots) != 2 {
		t.Fatalf("expected 2 lots, got %d", len(res.Lots))
	}
	first, second := res.Lots[0], res.Lots[1]

	approx(t, "first lot amount", first.Amount, 4)
	approx(t, "first lot entry value", first.EntryValueUSD, 400)
	approx(t, "first lot roi", first.ROIPercent, 50)

	approx(t, "second lot amount", second.Amount, 6)
	approx(t, "second lot entry value", second.EntryValueUSD, 600)
	approx(t, "second lot roi", second.ROIPercent, 100)

	if first.EntryFillKey != second.EntryFillKey {
		t.Errorf("lots should share the entry fill: %s vs %s", first.EntryFillKey, second.EntryFillKey)
	}
	if len(res.Open) != 0 {
		t.Errorf("expected no remaining inventory, got %d tranches", len(res.Open))
	}
}

func TestMatchSellSpansMultipleTranches(t *testing.T) {
	// A single sell draining two buys closes one lot per tranche, oldest
	// entry first.
	res := Match(makeTrades([]tradeSpec{
		{side: domain.SideBuy, amount: 5, price: 100, gas: 2},
		{side: domain.SideBuy, amount: 5, price: 200, gas: 2},
		{side: domain.SideSell, amount: 8, price: 300, gas: 4},
	}))

	if len(res.Lots) != 2 {
		t.Fatalf("expected 2 lots, got %d", len(res.Lots))
	}
	first, second := res.Lots[0], res.Lots[1]

	approx(t, "first lot amount", first.Amount, 5)
	approx(t, "first lot entry price", first.EntryPriceUSD, 100)
	approx(t, "second lot amount", second.Amount, 3)
	approx(t, "second lot entry price", second.EntryPriceUSD, 200)

	// Exit gas is pro-rated by the fraction of the sell each lot consumed.
	approx(t, "first lot exit gas", first.ExitGasUSD, 4*5.0/8.0)
	approx(t, "second lot exit gas", second.ExitGasUSD, 4*3.0/8.0)

	// Second buy keeps 2 units open at its original cost basis.
	if len(res.Open) != 1 {
		t.Fatalf("expected 1 open tranche, got %d", len(res.Open))
	}
	approx(t, "open remaining", res.Open[0].Remaining, 2)
	approx(t, "open entry price", res.Open[0].EntryPriceUSD, 200)
}

func TestMatchOversellRecordedNotFabricated(t *testing.T) {
	res := Match(makeTrades([]tradeSpec{
		{side: domain.SideBuy, amount: 3, price: 100},
		{side: domain.SideSell, amount: 10, price: 150},
	}))

	if len(res.Lots) != 1 {
		t.Fatalf("expected 1 lot, got %d", len(res.Lots))
	}
	approx(t, "lot amount", res.Lots[0].Amount, 3)

	if len(res.Unmatched) != 1 {
		t.Fatalf("expected 1 unmatched sell, got %d", len(res.Unmatched))
	}
	um := res.Unmatched[0]
	approx(t, "unmatched amount", um.Amount, 7)
	approx(t, "unmatched value", um.ValueUSD, 7*150)
}

func TestMatchSellWithNoInventory(t *testing.T) {
	res := Match(makeTrades([]tradeSpec{
		{side: domain.SideSell, amount: 5, price: 100},
	}))

	if len(res.Lots) != 0 {
		t.Errorf("expected no lots, got %d", len(res.Lots))
	}
	if len(res.Unmatched) != 1 {
		t.Fatalf("expected 1 unmatched sell, got %d", len(res.Unmatched))
	}
	approx(t, "unmatched amount", res.Unmatched[0].Amount, 5)
}

func TestConsumeSellShortfallIsInsufficientInventory(t *testing.T) {
	sell := makeTrade(0, tradeSpec{side: domain.SideSell, amount: 5, price: 100})

	var result domain.MatchResult
	open, short, err := consumeSell(sell, nil, &result)

	if !errors.Is(err, domain.ErrInsufficientInventory) {
		t.Fatalf("err = %v, want ErrInsufficientInventory", err)
	}
	approx(t, "shortfall", short, 5)
	if len(open) != 0 {
		t.Errorf("open tranches = %d, want 0", len(open))
	}
	// The shortfall is the caller's to record; consumeSell writes nothing.
	if len(result.Unmatched) != 0 {
		t.Errorf("unmatched recorded by consumeSell = %d, want 0", len(result.Unmatched))
	}
}

func TestMatchChainOrderNotInputOrder(t *testing.T) {
	// The sell arrives first in the slice but later on chain; matching must
	// follow chain order.
	trades := makeTrades([]tradeSpec{
		{side: domain.SideSell, amount: 10, price: 150, block: 19_000_500},
		{side: domain.SideBuy, amount: 10, price: 100, block: 19_000_100},
	})

	res := Match(trades)
	if len(res.Lots) != 1 {
		t.Fatalf("expected 1 lot, got %d", len(res.Lots))
	}
	if len(res.Unmatched) != 0 {
		t.Errorf("expected no unmatched sells, got %d", len(res.Unmatched))
	}
}

func TestMatchRouteLegsCarryNoInventory(t *testing.T) {
	trades := makeTrades([]tradeSpec{
		{side: domain.SideBuy, amount: 10, price: 100},
		{side: domain.SideRoute, amount: 50, price: 0},
		{side: domain.SideSell, amount: 10, price: 150},
	})

	res := Match(trades)
	if len(res.Lots) != 1 {
		t.Fatalf("expected 1 lot, got %d", len(res.Lots))
	}
	approx(t, "lot amount", res.Lots[0].Amount, 10)
}

func TestMatchLotConfidenceIsWeakerLeg(t *testing.T) {
	trades := makeTrades([]tradeSpec{
		{side: domain.SideBuy, amount: 10, price: 100},
		{side: domain.SideSell, amount: 10, price: 150},
	})
	trades[1].Method = domain.MethodCachedPrice
	trades[1].Confidence = 0.7

	res := Match(trades)
	if len(res.Lots) != 1 {
		t.Fatalf("expected 1 lot, got %d", len(res.Lots))
	}
	approx(t, "lot confidence", res.Lots[0].Confidence, 0.7)
}

func TestMatchZeroEntryValueZeroROI(t *testing.T) {
	// An unresolved entry has no USD value; ROI is defined as zero rather
	// than infinite.
	trades := makeTrades([]tradeSpec{
		{side: domain.SideBuy, amount: 10, price: 0},
		{side: domain.SideSell, amount: 10, price: 150},
	})
	trades[0].Method = domain.MethodUnresolved
	trades[0].Confidence = 0

	res := Match(trades)
	if len(res.Lots) != 1 {
		t.Fatalf("expected 1 lot, got %d", len(res.Lots))
	}
	lot := res.Lots[0]
	approx(t, "roi", lot.ROIPercent, 0)
	if lot.Priced() {
		t.Error("lot with an unresolved leg must not count as priced")
	}
}

func TestMatchHoldDaysFlooredAtZero(t *testing.T) {
	trades := makeTrades([]tradeSpec{
		{side: domain.SideBuy, amount: 10, price: 100, at: baseTime},
		{side: domain.SideSell, amount: 10, price: 150, at: baseTime.Add(-time.Minute)},
	})

	res := Match(trades)
	if len(res.Lots) != 1 {
		t.Fatalf("expected 1 lot, got %d", len(res.Lots))
	}
	if res.Lots[0].HoldDays != 0 {
		t.Errorf("hold days = %d, want 0", res.Lots[0].HoldDays)
	}
}

func TestMatchConservation(t *testing.T) {
	// Sum of closed lot amounts plus remaining open inventory equals total
	// bought, and matched sell volume never exceeds total sold.
	specs := []tradeSpec{
		{side: domain.SideBuy, amount: 12, price: 90, gas: 1},
		{side: domain.SideBuy, amount: 7, price: 110, gas: 1},
		{side: domain.SideSell, amount: 5, price: 130, gas: 1},
		{side: domain.SideBuy, amount: 3, price: 95, gas: 1},
		{side: domain.SideSell, amount: 14, price: 140, gas: 1},
		{side: domain.SideSell, amount: 6, price: 150, gas: 1},
	}
	res := Match(makeTrades(specs))

	var bought, sold float64
	for _, s := range specs {
		switch s.side {
		case domain.SideBuy:
			bought += s.amount
		case domain.SideSell:
			sold += s.amount
		}
	}

	var matched, open, unmatched float64
	for _, l := range res.Lots {
		matched += l.Amount
	}
	for _, tr := range res.Open {
		open += tr.Remaining
	}
	for _, u := range res.Unmatched {
		unmatched += u.Amount
	}

	approx(t, "matched+open", matched+open, bought)
	approx(t, "matched+unmatched", matched+unmatched, sold)
}

func TestMatchWalletIsolatesTokens(t *testing.T) {
	// Inventory in one token must never satisfy a sell in another.
	otherToken := "0xdac17f958d2ee523a2206206994597c13d831ec7"
	trades := makeTrades([]tradeSpec{
		{side: domain.SideBuy, amount: 10, price: 100},
		{side: domain.SideSell, amount: 10, price: 150},
	})
	sellOther := makeTrade(2, tradeSpec{side: domain.SideSell, amount: 5, price: 50, block: 19_000_900})
	sellOther.Token = otherToken
	trades = append(trades, sellOther)

	res := MatchWallet(trades)
	if len(res.Lots) != 1 {
		t.Fatalf("expected 1 lot, got %d", len(res.Lots))
	}
	if len(res.Unmatched) != 1 {
		t.Fatalf("expected 1 unmatched sell, got %d", len(res.Unmatched))
	}
	if res.Unmatched[0].Token != otherToken {
		t.Errorf("unmatched token = %s, want %s", res.Unmatched[0].Token, otherToken)
	}
}

func TestMatchIdempotent(t *testing.T) {
	trades := makeTrades([]tradeSpec{
		{side: domain.SideBuy, amount: 10, price: 100, gas: 2},
		{side: domain.SideSell, amount: 4, price: 150, gas: 1},
		{side: domain.SideBuy, amount: 5, price: 120, gas: 2},
		{side: domain.SideSell, amount: 8, price: 160, gas: 1},
	})

	first := Match(trades)
	second := Match(trades)

	if len(first.Lots) != len(second.Lots) {
		t.Fatalf("lot counts differ: %d vs %d", len(first.Lots), len(second.Lots))
	}
	for i := range first.Lots {
		if first.Lots[i] != second.Lots[i] {
			t.Errorf("lot %d differs between runs", i)
		}
	}
}
