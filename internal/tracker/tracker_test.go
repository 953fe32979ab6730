package tracker

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wssxwz/stock-strategy/internal/broker"
	"github.com/wssxwz/stock-strategy/internal/state"
)

type fakeTrackerBroker struct {
	today     []broker.Order
	todayErr  error
	detail    map[string]broker.Order
	positions []broker.Position
}

func (f *fakeTrackerBroker) Quote(ctx context.Context, symbol string) (broker.Quote, error) {
	return broker.Quote{}, nil
}
func (f *fakeTrackerBroker) AccountBalance(ctx context.Context) (broker.Account, error) {
	return broker.Account{}, nil
}
func (f *fakeTrackerBroker) StockPositions(ctx context.Context) ([]broker.Position, error) {
	return f.positions, nil
}
func (f *fakeTrackerBroker) SubmitOrder(ctx context.Context, req broker.OrderRequest) (broker.Order, error) {
	return broker.Order{}, nil
}
func (f *fakeTrackerBroker) CancelOrder(ctx context.Context, orderID string) error { return nil }
func (f *fakeTrackerBroker) TodayOrders(ctx context.Context) ([]broker.Order, error) {
	return f.today, f.todayErr
}
func (f *fakeTrackerBroker) OrderDetail(ctx context.Context, orderID string) (broker.Order, error) {
	return f.detail[orderID], nil
}

func newTestStore(t *testing.T) *state.Store {
	t.Helper()
	st, err := state.Open(filepath.Join(t.TempDir(), "trading_state.json"))
	require.NoError(t, err)
	return st
}

func TestReconcilePendingOrdersFillsDryRunImmediately(t *testing.T) {
	st := newTestStore(t)
	require.NoError(t, st.AddPendingOrder("DRYRUN-AAPL-buy-1", state.PendingOrder{
		Symbol: "AAPL", Side: "buy", Qty: 10, LimitPrice: 100, Status: "PENDING", CreatedAt: time.Now().UTC(),
	}))
	b := &fakeTrackerBroker{}

	require.NoError(t, ReconcilePendingOrders(context.Background(), b, st))

	assert.Empty(t, st.PendingOrders())
	pos, ok := st.OpenPositions()["AAPL"]
	require.True(t, ok)
	assert.Equal(t, 10.0, pos.Qty)
}

func TestReconcilePendingOrdersAppliesSellFillFromTodayOrders(t *testing.T) {
	st := newTestStore(t)
	require.NoError(t, st.AddOpenPosition("AAPL", state.OpenPosition{Qty: 10}))
	require.NoError(t, st.AddPendingOrder("LIVE-9", state.PendingOrder{
		Symbol: "AAPL", Side: "sell", Qty: 10, LimitPrice: 95, Status: "PENDING", CreatedAt: time.Now().UTC(),
	}))
	b := &fakeTrackerBroker{today: []broker.Order{
		{OrderID: "LIVE-9", Symbol: "AAPL", Status: "filled", FilledQty: 10, AvgPrice: 94.8},
	}}

	require.NoError(t, ReconcilePendingOrders(context.Background(), b, st))

	assert.Empty(t, st.PendingOrders())
	_, stillOpen := st.OpenPositions()["AAPL"]
	assert.False(t, stillOpen)
}

func TestReconcilePendingOrdersRemovesCanceled(t *testing.T) {
	st := newTestStore(t)
	require.NoError(t, st.AddPendingOrder("LIVE-7", state.PendingOrder{
		Symbol: "MSFT", Side: "buy", Qty: 5, LimitPrice: 300, Status: "PENDING", CreatedAt: time.Now().UTC(),
	}))
	b := &fakeTrackerBroker{detail: map[string]broker.Order{
		"LIVE-7": {OrderID: "LIVE-7", Symbol: "MSFT", Status: "REJECTED"},
	}}

	require.NoError(t, ReconcilePendingOrders(context.Background(), b, st))

	assert.Empty(t, st.PendingOrders())
	_, opened := st.OpenPositions()["MSFT"]
	assert.False(t, opened)
}

func TestReconcilePendingOrdersLeavesOpenOrdersPending(t *testing.T) {
	st := newTestStore(t)
	require.NoError(t, st.AddPendingOrder("LIVE-3", state.PendingOrder{
		Symbol: "MSFT", Side: "buy", Qty: 5, LimitPrice: 300, Status: "PENDING", CreatedAt: time.Now().UTC(),
	}))
	b := &fakeTrackerBroker{today: []broker.Order{
		{OrderID: "LIVE-3", Symbol: "MSFT", Status: "new"},
	}}

	require.NoError(t, ReconcilePendingOrders(context.Background(), b, st))

	assert.Len(t, st.PendingOrders(), 1)
}

func TestReconcilePositionsDropsLocalOnlyAndStubsBrokerOnly(t *testing.T) {
	st := newTestStore(t)
	require.NoError(t, st.AddOpenPosition("STALE", state.OpenPosition{Qty: 10}))
	b := &fakeTrackerBroker{positions: []broker.Position{{Symbol: "NEW", Qty: 4, EntryPrice: 50}}}

	require.NoError(t, ReconcilePositions(context.Background(), b, st))

	_, staleStillThere := st.OpenPositions()["STALE"]
	assert.False(t, staleStillThere)

	stub, ok := st.OpenPositions()["NEW"]
	require.True(t, ok)
	assert.Equal(t, 4.0, stub.Qty)
	assert.Nil(t, stub.Entry)
	assert.Equal(t, "broker_reconcile", stub.Meta["source"])
}
