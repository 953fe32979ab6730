package exitmonitor

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
	"github.com/wssxwz/stock-strategy/internal/state"
)

func floatPtr(v float64) *float64 { return &v }

func TestCheckOpenPositionsDetectsStopLoss(t *testing.T) {
	positions := map[string]state.OpenPosition{
		"AAPL": {Qty: 10, Entry: floatPtr(100), SL: floatPtr(95), TP: floatPtr(115)},
	}
	events := CheckOpenPositions(positions, map[string]float64{"AAPL": 94.5})
	require.Len(t, events, 1)
	assert.Equal(t, StopLoss, events[0].Kind)
}

func TestCheckOpenPositionsDetectsTakeProfit(t *testing.T) {
	positions := map[string]state.OpenPosition{
		"AAPL": {Qty: 10, Entry: floatPtr(100), SL: floatPtr(95), TP: floatPtr(115)},
	}
	events := CheckOpenPositions(positions, map[string]float64{"AAPL": 116})
	require.Len(t, events, 1)
	assert.Equal(t, TakeProfit, events[0].Kind)
}

func TestCheckOpenPositionsSkipsWhenNoQuoteOrEntry(t *testing.T) {
	positions := map[string]state.OpenPosition{
		"AAPL": {Qty: 10, SL: floatPtr(95), TP: floatPtr(115)}, // no entry
		"MSFT": {Qty: 10, Entry: floatPtr(100), SL: floatPtr(95)},
	}
	events := CheckOpenPositions(positions, map[string]float64{"MSFT": 50}) // no quote for AAPL
	assert.Empty(t, events)
}

func TestCheckOpenPositionsNeitherTriggerInBand(t *testing.T) {
	positions := map[string]state.OpenPosition{
		"AAPL": {Qty: 10, Entry: floatPtr(100), SL: floatPtr(95), TP: floatPtr(115)},
	}
	events := CheckOpenPositions(positions, map[string]float64{"AAPL": 105})
	assert.Empty(t, events)
}

type fakeExitBroker struct {
	quote        broker.Quote
	canceled     []string
	submitted    []broker.OrderRequest
	submitErr    error
}

func (f *fakeExitBroker) Quote(ctx context.Context, symbol string) (broker.Quote, error) {
	return f.quote, nil
}
func (f *fakeExitBroker) AccountBalance(ctx context.Context) (broker.Account, error) {
	return broker.Account{}, nil
}
func (f *fakeExitBroker) StockPositions(ctx context.Context) ([]broker.Position, error) {
	return nil, nil
}
func (f *fakeExitBroker) SubmitOrder(ctx context.Context, req broker.OrderRequest) (broker.Order, error) {
	f.submitted = append(f.submitted, req)
	if f.submitErr != nil {
		return broker.Order{}, f.submitErr
	}
	return broker.Order{OrderID: "SELL-1", Symbol: req.Symbol, Side: req.Side, Qty: req.Qty, Status: "NEW"}, nil
}
func (f *fakeExitBroker) CancelOrder(ctx context.Context, orderID string) error {
	f.canceled = append(f.canceled, orderID)
	return nil
}
func (f *fakeExitBroker) TodayOrders(ctx context.Context) ([]broker.Order, error) { return nil, nil }
func (f *fakeExitBroker) OrderDetail(ctx context.Context, orderID string) (broker.Order, error) {
	return broker.Order{}, nil
}

// testExitDeps builds Deps with live submission enabled, so existing tests
// can assert against what the broker actually received.
func testExitDeps(t *testing.T, b broker.Broker) Deps {
	t.Helper()
	st, err := state.Open(filepath.Join(t.TempDir(), "trading_state.json"))
	require.NoError(t, err)
	l, err := ledger.Open(filepath.Join(t.TempDir(), "paper_ledger.jsonl"))
	require.NoError(t, err)
	cfg := &config.Config{TradingEnv: config.EnvLive, LiveTrading: true, LiveSubmit: true}
	return Deps{Broker: b, State: st, Ledger: l, Config: cfg, CooldownHours: 24, MaxAttempts: 3}
}

func TestProcessSubmitsFreshSellOnStopLoss(t *testing.T) {
	b := &fakeExitBroker{quote: broker.Quote{Symbol: "AAPL", Price: 94.0}}
	deps := testExitDeps(t, b)
	ev := Event{Symbol: "AAPL", Kind: StopLoss, Last: 94.0, Entry: 100, SL: floatPtr(95)}

	err := Process(context.Background(), ev, 10, NewAttemptCounters(), deps)
	require.NoError(t, err)
	require.Len(t, b.submitted, 1)
	assert.Equal(t, broker.Sell, b.submitted[0].Side)

	pending := deps.State.PendingOrders()
	require.Len(t, pending, 1)
}

func TestProcessSubmitsDryRunWithoutCallingBroker(t *testing.T) {
	b := &fakeExitBroker{quote: broker.Quote{Symbol: "AAPL", Price: 94.0}}
	deps := testExitDeps(t, b)
	deps.Config = &config.Config{TradingEnv: config.EnvPaper}
	ev := Event{Symbol: "AAPL", Kind: StopLoss, Last: 94.0, Entry: 100, SL: floatPtr(95)}

	err := Process(context.Background(), ev, 10, NewAttemptCounters(), deps)
	require.NoError(t, err)
	assert.Empty(t, b.submitted)

	pending := deps.State.PendingOrders()
	require.Len(t, pending, 1)
	for orderID := range pending {
		assert.Contains(t, orderID, "DRYRUN-AAPL-sell-")
	}
}

func TestProcessSkipsWhenBrokerQtyZero(t *testing.T) {
	b := &fakeExitBroker{quote: broker.Quote{Symbol: "AAPL", Price: 94.0}}
	deps := testExitDeps(t, b)
	ev := Event{Symbol: "AAPL", Kind: StopLoss, Last: 94.0, Entry: 100, SL: floatPtr(95)}

	err := Process(context.Background(), ev, 0, NewAttemptCounters(), deps)
	require.NoError(t, err)
	assert.Empty(t, b.submitted)
}

func TestProcessEscalatesExistingPendingSell(t *testing.T) {
	b := &fakeExitBroker{quote: broker.Quote{Symbol: "AAPL", Price: 94.0}}
	deps := testExitDeps(t, b)
	require.NoError(t, deps.State.AddPendingOrder("SELL-0", state.PendingOrder{
		Symbol: "AAPL", Side: "sell", Qty: 10, LimitPrice: 93.5, Reason: "STOP_LOSS", Status: "PENDING", CreatedAt: time.Now().UTC(),
	}))

	ev := Event{Symbol: "AAPL", Kind: StopLoss, Last: 93.0, Entry: 100, SL: floatPtr(95)}
	err := Process(context.Background(), ev, 10, NewAttemptCounters(), deps)
	require.NoError(t, err)

	require.Len(t, b.canceled, 1)
	assert.Equal(t, "SELL-0", b.canceled[0])
	require.Len(t, b.submitted, 1)
	assert.InDelta(t, 94.0*escalationDiscounts[0], b.submitted[0].LimitPrice, 0.001)
}

func TestApplyFillTransitionSetsCooldownOnStopout(t *testing.T) {
	st, err := state.Open(filepath.Join(t.TempDir(), "trading_state.json"))
	require.NoError(t, err)
	require.NoError(t, st.AddOpenPosition("AAPL", state.OpenPosition{Qty: 10, Entry: floatPtr(100), SL: floatPtr(95)}))

	require.NoError(t, ApplyFillTransition("AAPL", "STOP_LOSS", 24, st))

	active, reason := st.CooldownActive("AAPL")
	assert.True(t, active)
	assert.Equal(t, "stopout", reason)
	_, stillOpen := st.OpenPositions()["AAPL"]
	assert.False(t, stillOpen)
}

func TestApplyFillTransitionNoCooldownOnTakeProfit(t *testing.T) {
	st, err := state.Open(filepath.Join(t.TempDir(), "trading_state.json"))
	require.NoError(t, err)
	require.NoError(t, st.AddOpenPosition("AAPL", state.OpenPosition{Qty: 10, Entry: floatPtr(100), SL: floatPtr(95)}))

	require.NoError(t, ApplyFillTransition("AAPL", "TAKE_PROFIT", 24, st))

	active, _ := st.CooldownActive("AAPL")
	assert.False(t, active)
}
