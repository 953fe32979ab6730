package engine

import (
	"context"
	"math"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wssxwz/stock-strategy/internal/bar"
	"github.com/wssxwz/stock-strategy/internal/broker"
	"github.com/wssxwz/stock-strategy/internal/config"
	"github.com/wssxwz/stock-strategy/internal/knowledgebase"
	"github.com/wssxwz/stock-strategy/internal/ledger"
	"github.com/wssxwz/stock-strategy/internal/scanner"
	"github.com/wssxwz/stock-strategy/internal/sizing"
	"github.com/wssxwz/stock-strategy/internal/state"
	"github.com/wssxwz/stock-strategy/internal/structure"
)

type fakeBarStore struct {
	bars map[string][]bar.Bar
}

func (f *fakeBarStore) SyncAndLoad(ctx context.Context, symbol string, interval bar.Interval, lookbackDays int, gapDaysThreshold, maxAutoLookbackDays int) ([]bar.Bar, error) {
	return f.bars[symbol], nil
}

type fakeEngineBroker struct {
	quotes  map[string]broker.Quote
	account broker.Account
}

func (f *fakeEngineBroker) Quote(ctx context.Context, symbol string) (broker.Quote, error) {
	return f.quotes[symbol], nil
}
func (f *fakeEngineBroker) AccountBalance(ctx context.Context) (broker.Account, error) {
	return f.account, nil
}
func (f *fakeEngineBroker) StockPositions(ctx context.Context) ([]broker.Position, error) {
	return nil, nil
}
func (f *fakeEngineBroker) SubmitOrder(ctx context.Context, req broker.OrderRequest) (broker.Order, error) {
	return broker.Order{OrderID: "LIVE-1", Symbol: req.Symbol, Side: req.Side, Qty: req.Qty, Status: "NEW"}, nil
}
func (f *fakeEngineBroker) CancelOrder(ctx context.Context, orderID string) error { return nil }
func (f *fakeEngineBroker) TodayOrders(ctx context.Context) ([]broker.Order, error) {
	return nil, nil
}
func (f *fakeEngineBroker) OrderDetail(ctx context.Context, orderID string) (broker.Order, error) {
	return broker.Order{}, nil
}

func flatBars(n int, price float64) []bar.Bar {
	out := make([]bar.Bar, n)
	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	for i := 0; i < n; i++ {
		out[i] = bar.Bar{
			Timestamp: start.Add(time.Duration(i) * 24 * time.Hour),
			Open:      price, High: price * 1.01, Low: price * 0.99, Close: price, Volume: 1_000_000,
		}
	}
	return out
}

func newTestEngine(t *testing.T, watchlist []string, barsBySymbol map[string][]bar.Bar, b broker.Broker) *Engine {
	t.Helper()
	st, err := state.Open(filepath.Join(t.TempDir(), "trading_state.json"))
	require.NoError(t, err)
	l, err := ledger.Open(filepath.Join(t.TempDir(), "paper_ledger.jsonl"))
	require.NoError(t, err)

	if _, ok := barsBySymbol["SPY"]; !ok {
		barsBySymbol["SPY"] = flatBars(260, 400)
	}

	return &Engine{
		Broker:          b,
		Store:           &fakeBarStore{bars: barsBySymbol},
		State:           st,
		Ledger:          l,
		Config:          engineTestConfig(),
		KnowledgeBase:   knowledgebase.NewStatic(nil, nil),
		Watchlist:       watchlist,
		Benchmark:       "SPY",
		ScoringConfig:   scanner.DefaultScoringConfig(),
		RoutingConfig:   scanner.DefaultRoutingConfig(),
		StructureParams: structure.DefaultParams(),
		SizingConfig:    sizing.DefaultConfig(),
		Speculative:     map[string]bool{},
	}
}

func engineTestConfig() *config.Config {
	return &config.Config{
		TradingEnv:        config.EnvPaper,
		PaperEquity:       100000,
		MaxOpenPositions:  3,
		MaxNewBuysPerDay:  3,
		MaxPricePctEquity: 0.35,
		MinPriceUSD:       5,
		MaxSLPct:          0.10,
		MinSLPct:          0.03,
		MaxPositionPct:    0.08,
		PriceDriftMaxPct:  0.02,
		TotalRiskCap:      0.05,
		MinCashBuffer:     50,
		CooldownHours:     24,
		ExitEscalateMaxAttempts: 3,
	}
}

func TestTickRunsWithEmptyWatchlistWithoutError(t *testing.T) {
	b := &fakeEngineBroker{account: broker.Account{Equity: 100000}}
	e := newTestEngine(t, nil, map[string][]bar.Bar{}, b)

	result := e.Tick(context.Background())
	require.NoError(t, result.Err)
	assert.Equal(t, 0, result.Candidates)
	assert.Nil(t, result.Committed)
}

func TestTickProcessesStopLossOnOpenPosition(t *testing.T) {
	b := &fakeEngineBroker{
		quotes:  map[string]broker.Quote{"AAPL": {Symbol: "AAPL", Price: 90.0}},
		account: broker.Account{Equity: 100000},
	}
	e := newTestEngine(t, nil, map[string][]bar.Bar{}, b)
	entry := 100.0
	sl := 95.0
	require.NoError(t, e.State.AddOpenPosition("AAPL", state.OpenPosition{Qty: 10, Entry: &entry, SL: &sl}))

	result := e.Tick(context.Background())
	require.NoError(t, result.Err)
	assert.Equal(t, 1, result.Exits)
}

func TestTickIsSerializedUnderLock(t *testing.T) {
	b := &fakeEngineBroker{account: broker.Account{Equity: 100000}}
	e := newTestEngine(t, nil, map[string][]bar.Bar{}, b)

	done := make(chan struct{})
	go func() {
		e.Tick(context.Background())
		close(done)
	}()
	e.Tick(context.Background())
	<-done
}

func TestUpdateNoSignalStreakTracksConsecutiveEmptyScans(t *testing.T) {
	e := &Engine{}
	e.updateNoSignalStreak(0)
	e.updateNoSignalStreak(0)
	assert.Equal(t, 2, e.noSignalStreak)
	e.updateNoSignalStreak(1)
	assert.Equal(t, 0, e.noSignalStreak)
}

func TestFlatBarsHelperProducesMonotonicTimestamps(t *testing.T) {
	bars := flatBars(5, 100)
	require.Len(t, bars, 5)
	for i := 1; i < len(bars); i++ {
		assert.True(t, bars[i].Timestamp.After(bars[i-1].Timestamp))
	}
	assert.False(t, math.IsNaN(bars[0].Close))
}
