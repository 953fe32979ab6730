package indicator

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wssxwz/stock-strategy/internal/bar"
)

func syntheticBars(n int, start float64, step float64) []bar.Bar {
	bars := make([]bar.Bar, n)
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	price := start
	for i := 0; i < n; i++ {
		price += step
		bars[i] = bar.Bar{
			Timestamp: base.Add(time.Duration(i) * time.Hour),
			Open:      price - step/2,
			High:      price + 1,
			Low:       price - 1,
			Close:     price,
			Volume:    1000 + float64(i),
		}
	}
	return bars
}

func TestComputeMonotonicUptrendTrendFlags(t *testing.T) {
	bars := syntheticBars(260, 100, 0.5)
	rows := Compute(bars)
	require.Len(t, rows, 260)

	last, ok := rows.Last()
	require.True(t, ok)

	assert.Equal(t, 1.0, last.AboveMA20)
	assert.Equal(t, 1.0, last.AboveMA50)
	assert.Equal(t, 1.0, last.AboveMA200)
	assert.Greater(t, last.RSI[14], 50.0, "steady uptrend should show RSI above midline")
	assert.Greater(t, last.MACDHist, -1000.0) // sanity: populated, not NaN-poisoned
}

func TestRSIBoundsWithinZeroHundred(t *testing.T) {
	bars := syntheticBars(60, 100, -0.3) // downtrend
	rows := Compute(bars)
	for i := 20; i < len(rows); i++ {
		v := rows[i].RSI[14]
		assert.GreaterOrEqual(t, v, 0.0)
		assert.LessOrEqual(t, v, 100.0)
	}
}

func TestATRPct14NonNegative(t *testing.T) {
	bars := syntheticBars(40, 50, 0.2)
	rows := Compute(bars)
	for i := 15; i < len(rows); i++ {
		assert.GreaterOrEqual(t, rows[i].ATRPct14, 0.0)
	}
}

func TestNoLookAhead(t *testing.T) {
	// Computing over a prefix must reproduce the same values at each
	// shared index as computing over the full series.
	full := syntheticBars(100, 80, 0.4)
	prefixLen := 60
	prefixRows := Compute(full[:prefixLen])
	fullRows := Compute(full)

	for i := 0; i < prefixLen; i++ {
		assert.InDelta(t, prefixRows[i].Close, fullRows[i].Close, 1e-9)
		assert.InDelta(t, prefixRows[i].AboveMA20, fullRows[i].AboveMA20, 1e-9)
		if prefixRows[i].ATR14 == prefixRows[i].ATR14 { // not NaN
			assert.InDelta(t, prefixRows[i].ATR14, fullRows[i].ATR14, 1e-6)
		}
	}
}

func TestEmptySeriesDoesNotPanic(t *testing.T) {
	rows := Compute(nil)
	assert.Len(t, rows, 0)
}
