package relstrength

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/wssxwz/stock-strategy/internal/bar"
)

func dailySeries(n int, start float64, dailyReturn float64) bar.Series {
	base := time.Date(2023, 1, 1, 0, 0, 0, 0, time.UTC)
	rows := make(bar.Series, n)
	price := start
	for i := 0; i < n; i++ {
		rows[i] = bar.Row{Bar: bar.Bar{
			Timestamp: base.AddDate(0, 0, i),
			Close:     price,
		}}
		price *= 1 + dailyReturn
	}
	return rows
}

func TestCompute1YSentinelOnShortHistory(t *testing.T) {
	sym := dailySeries(100, 50, 0.001)
	bench := dailySeries(100, 400, 0.0005)
	assert.Equal(t, Unknown, Compute1Y(sym, bench))
}

func TestCompute1YOutperformance(t *testing.T) {
	sym := dailySeries(400, 50, 0.003)    // strong uptrend
	bench := dailySeries(400, 400, 0.0005) // weak uptrend
	rs := Compute1Y(sym, bench)
	assert.Greater(t, rs, 0.0, "symbol outperforming benchmark should have positive RS")
}

func TestCompute1YBoundaryAt262Bars(t *testing.T) {
	sym := dailySeries(262, 50, 0.001)
	bench := dailySeries(262, 400, 0.001)
	rs := Compute1Y(sym, bench)
	assert.NotEqual(t, Unknown, rs, "exactly 262 aligned bars should be sufficient")

	symShort := dailySeries(261, 50, 0.001)
	benchShort := dailySeries(261, 400, 0.001)
	assert.Equal(t, Unknown, Compute1Y(symShort, benchShort), "261 aligned bars is one short of the threshold")
}
