package state

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "trading_state.json")
	s, err := Open(path)
	require.NoError(t, err)
	return s
}

func TestOpenMissingFileStartsEmpty(t *testing.T) {
	s := openTestStore(t)
	assert.False(t, s.WasExecuted("AAPL|STRUCT|2026-07-29T10:00:00Z"))
	assert.Equal(t, 0, s.DailyCount("2026-07-29"))
}

func TestMarkExecutedPersistsAcrossReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "trading_state.json")
	s, err := Open(path)
	require.NoError(t, err)

	key := "AAPL|STRUCT|2026-07-29T10:00:00Z"
	require.NoError(t, s.MarkExecuted(key, map[string]any{"order_id": "DRYRUN-AAPL-buy-1"}))

	reopened, err := Open(path)
	require.NoError(t, err)
	assert.True(t, reopened.WasExecuted(key))
}

func TestDailyCountIncrements(t *testing.T) {
	s := openTestStore(t)
	require.NoError(t, s.IncDaily("2026-07-29"))
	require.NoError(t, s.IncDaily("2026-07-29"))
	assert.Equal(t, 2, s.DailyCount("2026-07-29"))
	assert.Equal(t, 0, s.DailyCount("2026-07-28"))
}

func TestCooldownActiveUntilDeadline(t *testing.T) {
	s := openTestStore(t)
	require.NoError(t, s.SetCooldown("AAPL", time.Now().Add(time.Hour), "stopout"))

	active, reason := s.CooldownActive("AAPL")
	assert.True(t, active)
	assert.Equal(t, "stopout", reason)

	require.NoError(t, s.SetCooldown("MSFT", time.Now().Add(-time.Hour), "stopout"))
	active, _ = s.CooldownActive("MSFT")
	assert.False(t, active)
}

func TestOpenPositionLifecycle(t *testing.T) {
	s := openTestStore(t)
	entry := 150.0
	require.NoError(t, s.AddOpenPosition("AAPL", OpenPosition{Qty: 10, Entry: &entry, At: "dryrun_fill"}))
	assert.Len(t, s.OpenPositions(), 1)

	require.NoError(t, s.RemoveOpenPosition("AAPL"))
	assert.Empty(t, s.OpenPositions())
}

func TestPendingOrderLifecycle(t *testing.T) {
	s := openTestStore(t)
	orderID := "DRYRUN-AAPL-buy-1690000000"
	require.NoError(t, s.AddPendingOrder(orderID, PendingOrder{
		Symbol: "AAPL", Side: "buy", Qty: 10, LimitPrice: 150, Status: "NEW", CreatedAt: time.Now(),
	}))

	require.NoError(t, s.UpdatePendingOrder(orderID, func(p *PendingOrder) {
		p.Status = "FILLED"
		p.FilledQty = 10
	}))

	pending := s.PendingOrders()
	require.Contains(t, pending, orderID)
	assert.Equal(t, "FILLED", pending[orderID].Status)

	require.NoError(t, s.RemovePendingOrder(orderID))
	assert.Empty(t, s.PendingOrders())
}

func TestUpdatePendingOrderUnknownIDErrors(t *testing.T) {
	s := openTestStore(t)
	err := s.UpdatePendingOrder("missing", func(p *PendingOrder) {})
	assert.Error(t, err)
}
