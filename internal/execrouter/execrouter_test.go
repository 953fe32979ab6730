package execrouter

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wssxwz/stock-strategy/internal/broker"
	"github.com/wssxwz/stock-strategy/internal/config"
	"github.com/wssxwz/stock-strategy/internal/ledger"
	"github.com/wssxwz/stock-strategy/internal/scanner"
	"github.com/wssxwz/stock-strategy/internal/sizing"
	"github.com/wssxwz/stock-strategy/internal/state"
)

type fakeBroker struct {
	quotes  map[string]broker.Quote
	account broker.Account
}

func (f *fakeBroker) Quote(ctx context.Context, symbol string) (broker.Quote, error) {
	return f.quotes[symbol], nil
}
func (f *fakeBroker) AccountBalance(ctx context.Context) (broker.Account, error) {
	return f.account, nil
}
func (f *fakeBroker) StockPositions(ctx context.Context) ([]broker.Position, error) { return nil, nil }
func (f *fakeBroker) SubmitOrder(ctx context.Context, req broker.OrderRequest) (broker.Order, error) {
	return broker.Order{OrderID: "LIVE-1", Symbol: req.Symbol, Side: req.Side, Qty: req.Qty, Status: "NEW"}, nil
}
func (f *fakeBroker) CancelOrder(ctx context.Context, orderID string) error { return nil }
func (f *fakeBroker) TodayOrders(ctx context.Context) ([]broker.Order, error) { return nil, nil }
func (f *fakeBroker) OrderDetail(ctx context.Context, orderID string) (broker.Order, error) {
	return broker.Order{}, nil
}

func testDeps(t *testing.T, b broker.Broker, cfg *config.Config) Deps {
	t.Helper()
	st, err := state.Open(filepath.Join(t.TempDir(), "trading_state.json"))
	require.NoError(t, err)
	l, err := ledger.Open(filepath.Join(t.TempDir(), "paper_ledger.jsonl"))
	require.NoError(t, err)
	return Deps{Broker: b, State: st, Ledger: l, Config: cfg, SizingConfig: sizing.DefaultConfig()}
}

func strongCandidate(symbol string, barTime time.Time) scanner.Candidate {
	return scanner.Candidate{
		Symbol:       symbol,
		BarTimestamp: barTime,
		BarClose:     100.0,
		Score:        88,
		ExecMode:     scanner.ModeStruct,
		SuggestedSL:  95.0,
		SuggestedTP:  115.0,
		AboveMA200:   true,
		AboveMA50:    true,
	}
}

func defaultTestConfig() *config.Config {
	return &config.Config{
		TradingEnv:        config.EnvPaper,
		PaperEquity:        100000,
		MaxOpenPositions:   1,
		MaxNewBuysPerDay:   1,
		MaxPricePctEquity:  0.35,
		MinPriceUSD:        5,
		MaxSLPct:           0.10,
		MinSLPct:           0.03,
		MaxPositionPct:     0.08,
		PriceDriftMaxPct:   0.015,
		TotalRiskCap:       0.02,
		MinCashBuffer:      50,
	}
}

func TestRouteCommitsSingleStrongCandidate(t *testing.T) {
	barTime := time.Date(2026, 7, 29, 14, 0, 0, 0, time.UTC)
	b := &fakeBroker{
		quotes:  map[string]broker.Quote{"AAPL": {Symbol: "AAPL", Price: 100.5}},
		account: broker.Account{Equity: 100000, BuyingPower: 100000, Cash: 100000},
	}
	deps := testDeps(t, b, defaultTestConfig())

	result := Route(context.Background(), []scanner.Candidate{strongCandidate("AAPL", barTime)}, deps)
	require.NotNil(t, result.Committed)
	assert.Equal(t, "AAPL", result.Committed.Symbol)
	assert.True(t, result.Committed.DryRun)
	assert.Contains(t, result.Committed.OrderID, "DRYRUN-AAPL-buy-")
}

func TestRouteBuyPrefersAskOverLastTrade(t *testing.T) {
	barTime := time.Date(2026, 7, 29, 14, 0, 0, 0, time.UTC)
	b := &fakeBroker{
		quotes:  map[string]broker.Quote{"AAPL": {Symbol: "AAPL", Price: 50.11, Bid: 50.10, Ask: 50.12}},
		account: broker.Account{Equity: 100000, BuyingPower: 100000, Cash: 100000},
	}
	deps := testDeps(t, b, defaultTestConfig())

	cand := strongCandidate("AAPL", barTime)
	cand.BarClose = 50.11
	cand.SuggestedSL = 47.0
	result := Route(context.Background(), []scanner.Candidate{cand}, deps)
	require.NotNil(t, result.Committed)
	assert.Equal(t, 50.12, result.Committed.LimitPrice)
}

func TestRouteSkipsAlreadyExecutedIdempotencyKey(t *testing.T) {
	barTime := time.Date(2026, 7, 29, 14, 0, 0, 0, time.UTC)
	b := &fakeBroker{
		quotes:  map[string]broker.Quote{"AAPL": {Symbol: "AAPL", Price: 100.5}},
		account: broker.Account{Equity: 100000, BuyingPower: 100000, Cash: 100000},
	}
	deps := testDeps(t, b, defaultTestConfig())

	cand := strongCandidate("AAPL", barTime)
	first := Route(context.Background(), []scanner.Candidate{cand}, deps)
	require.NotNil(t, first.Committed)

	second := Route(context.Background(), []scanner.Candidate{cand}, deps)
	assert.Nil(t, second.Committed)
	require.Len(t, second.Skips, 1)
	assert.Equal(t, SkipAlreadyExecuted, second.Skips[0].Reason)
}

func TestRouteSkipsOnPriceSanityViolation(t *testing.T) {
	barTime := time.Date(2026, 7, 29, 14, 0, 0, 0, time.UTC)
	b := &fakeBroker{
		quotes:  map[string]broker.Quote{"PENNY": {Symbol: "PENNY", Price: 1.0}}, // below MinPriceUSD
		account: broker.Account{Equity: 100000, BuyingPower: 100000, Cash: 100000},
	}
	deps := testDeps(t, b, defaultTestConfig())

	cand := strongCandidate("PENNY", barTime)
	result := Route(context.Background(), []scanner.Candidate{cand}, deps)
	assert.Nil(t, result.Committed)
	require.Len(t, result.Skips, 1)
	assert.Equal(t, SkipPriceSanity, result.Skips[0].Reason)
}

func TestRouteSkipsOnLowLiquidity(t *testing.T) {
	barTime := time.Date(2026, 7, 29, 14, 0, 0, 0, time.UTC)
	b := &fakeBroker{
		quotes:  map[string]broker.Quote{"THIN": {Symbol: "THIN", Price: 100.5}},
		account: broker.Account{Equity: 100000, BuyingPower: 100000, Cash: 100000},
	}
	cfg := defaultTestConfig()
	cfg.MinDollarVol20D = 2e7
	deps := testDeps(t, b, cfg)

	cand := strongCandidate("THIN", barTime)
	cand.DollarVol20D = 1e6 // far below the 20-day dollar-volume floor
	result := Route(context.Background(), []scanner.Candidate{cand}, deps)
	assert.Nil(t, result.Committed)
	require.Len(t, result.Skips, 1)
	assert.Equal(t, SkipLiquidity, result.Skips[0].Reason)
}

func TestRouteSkipsOnActiveCooldown(t *testing.T) {
	barTime := time.Date(2026, 7, 29, 14, 0, 0, 0, time.UTC)
	b := &fakeBroker{
		quotes:  map[string]broker.Quote{"AAPL": {Symbol: "AAPL", Price: 100.5}},
		account: broker.Account{Equity: 100000, BuyingPower: 100000, Cash: 100000},
	}
	deps := testDeps(t, b, defaultTestConfig())
	require.NoError(t, deps.State.SetCooldown("AAPL", time.Now().Add(time.Hour), "stopout"))

	result := Route(context.Background(), []scanner.Candidate{strongCandidate("AAPL", barTime)}, deps)
	assert.Nil(t, result.Committed)
	require.Len(t, result.Skips, 1)
	assert.Equal(t, SkipCooldown, result.Skips[0].Reason)
}

func TestRouteFiltersOutNonStrongCandidates(t *testing.T) {
	barTime := time.Date(2026, 7, 29, 14, 0, 0, 0, time.UTC)
	b := &fakeBroker{account: broker.Account{Equity: 100000}}
	deps := testDeps(t, b, defaultTestConfig())

	weak := scanner.Candidate{Symbol: "WEAK", BarTimestamp: barTime, Score: 40, ExecMode: scanner.ModeSkip}
	result := Route(context.Background(), []scanner.Candidate{weak}, deps)
	assert.Nil(t, result.Committed)
	assert.Empty(t, result.Skips)
}
