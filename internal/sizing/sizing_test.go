package sizing

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestComputeQtySizesByRiskBudget(t *testing.T) {
	cfg := DefaultConfig()
	// equity=100000, risk_pct=0.003 -> risk_budget=300
	// entry=50, sl=48 -> risk_per_share=2, sl_pct=0.04 (within [0.03,0.15])
	// qty = 300/2 = 150, notional = 7500 > max_notional 6000 -> qty clamped to 6000/50=120
	qty := ComputeQty(100000, 50, 48, cfg)
	assert.Equal(t, 120, qty)
}

func TestComputeQtyRejectsStopOutsideBounds(t *testing.T) {
	cfg := DefaultConfig()
	// sl_pct = 0.01, below MinSLPct 0.03
	assert.Equal(t, 0, ComputeQty(100000, 50, 49.5, cfg))
	// sl_pct = 0.20, above MaxSLPct 0.15
	assert.Equal(t, 0, ComputeQty(100000, 50, 40, cfg))
}

func TestComputeQtyFloorsUpToMinNotional(t *testing.T) {
	cfg := DefaultConfig()
	// equity small enough that raw qty*entry < min_notional
	// equity=5000, risk_budget=15, entry=50, sl=48 -> risk_per_share=2, qty=7, notional=350 > 300, stays
	qty := ComputeQty(5000, 50, 48, cfg)
	assert.Equal(t, 7, qty)
}

func TestComputeQtyZeroOnNonPositiveInputs(t *testing.T) {
	cfg := DefaultConfig()
	assert.Equal(t, 0, ComputeQty(0, 50, 48, cfg))
	assert.Equal(t, 0, ComputeQty(100000, 0, 48, cfg))
	assert.Equal(t, 0, ComputeQty(100000, 50, 0, cfg))
}

func TestMarketableLimitPricePrefersTouch(t *testing.T) {
	px, ok := MarketableLimitPrice("buy", 0, 101, 100, false, true, true)
	assert.True(t, ok)
	assert.Equal(t, 101.0, px)

	px, ok = MarketableLimitPrice("buy", 0, 0, 100, false, false, true)
	assert.True(t, ok)
	assert.InDelta(t, 100.2, px, 1e-9)

	px, ok = MarketableLimitPrice("sell", 99, 0, 100, true, false, true)
	assert.True(t, ok)
	assert.Equal(t, 99.0, px)

	_, ok = MarketableLimitPrice("sell", 0, 0, 0, false, false, false)
	assert.False(t, ok)
}
