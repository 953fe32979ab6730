package structure

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/wssxwz/stock-strategy/internal/bar"
	"github.com/wssxwz/stock-strategy/internal/indicator"
)

// buildBreakoutPullbackSeries synthesizes a series with a clear uptrend
// (so above_ma200 holds), a consolidation box, a breakout, a pullback that
// holds near the breakout level, and a reclaim close.
func buildBreakoutPullbackSeries(t *testing.T) bar.Series {
	t.Helper()
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	var bars []bar.Bar

	price := 50.0
	add := func(o, h, l, c, v float64) {
		bars = append(bars, bar.Bar{
			Timestamp: base.Add(time.Duration(len(bars)) * time.Hour),
			Open:      o, High: h, Low: l, Close: c, Volume: v,
		})
	}

	// Long gentle uptrend runway so SMA200 is established and rising.
	for i := 0; i < 260; i++ {
		price += 0.05
		add(price-0.05, price+0.2, price-0.2, price, 1000)
	}

	// Consolidation box for 80 bars around current price.
	boxHigh := price + 1.0
	boxLow := price - 1.0
	for i := 0; i < 80; i++ {
		c := boxLow + float64(i%5)*0.3
		add(c, boxHigh, boxLow, c, 1000)
	}

	// Breakout bar clears the box by a visible margin.
	breakout := boxHigh + 2.0
	add(boxHigh, breakout+0.5, boxHigh-0.2, breakout, 2000)

	// A few bars continuing up before the pullback (keeps min_breakout_bars_ago satisfied).
	for i := 0; i < 5; i++ {
		c := breakout + float64(i)*0.1
		add(c, c+0.2, c-0.2, c, 1500)
	}

	// Pullback down near box_high, holding above the floor.
	for i := 0; i < 10; i++ {
		c := boxHigh + 0.1
		add(c+0.1, c+0.3, boxHigh-0.05, c, 900)
	}

	// Reclaim bar: close comfortably above box_high.
	reclaim := boxHigh + 1.5
	add(boxHigh, reclaim+0.3, boxHigh-0.1, reclaim, 1800)

	return indicator.Compute(bars)
}

func TestDetectOneBuyFindsBreakoutPullback(t *testing.T) {
	rows := buildBreakoutPullbackSeries(t)
	i := len(rows) - 1
	sig, ok := DetectOneBuy(rows, i, DefaultParams())
	assert.True(t, ok, "expected a 1buy structure signal on the synthesized series")
	if ok {
		assert.Greater(t, sig.Entry, sig.SL)
		assert.Greater(t, sig.TP, sig.Entry)
	}
}

func TestDetectNoSignalOnFlatSeries(t *testing.T) {
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	var bars []bar.Bar
	for i := 0; i < 200; i++ {
		bars = append(bars, bar.Bar{
			Timestamp: base.Add(time.Duration(i) * time.Hour),
			Open:      100, High: 100.5, Low: 99.5, Close: 100, Volume: 1000,
		})
	}
	rows := indicator.Compute(bars)
	_, ok1 := DetectOneBuy(rows, len(rows)-1, DefaultParams())
	_, ok2 := DetectTwoBuy(rows, len(rows)-1, DefaultParams())
	assert.False(t, ok1)
	assert.False(t, ok2)
}

func TestBestPrefersWithinRiskSignal(t *testing.T) {
	signals := []Signal{
		{Type: OneBuy, Entry: 100, SL: 80},  // 20% risk, outside 8%
		{Type: TwoBuy, Entry: 100, SL: 95},  // 5% risk, within 8%
	}
	best, ok := Best(signals)
	assert.True(t, ok)
	assert.Equal(t, TwoBuy, best.Type)
}

func TestBoxReturnsHighLowOverWindow(t *testing.T) {
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	rows := bar.Series{}
	for i := 0; i < 30; i++ {
		rows = append(rows, bar.Row{Bar: bar.Bar{
			Timestamp: base.Add(time.Duration(i) * time.Hour),
			High:      float64(100 + i),
			Low:       float64(90 + i),
		}})
	}
	high, low, ok := Box(rows, 29, 20)
	assert.True(t, ok)
	assert.Equal(t, 129.0, high)
	assert.Equal(t, 100.0, low) // window [10,29]
}
