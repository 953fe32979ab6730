package regime

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/wssxwz/stock-strategy/internal/bar"
	"github.com/wssxwz/stock-strategy/internal/indicator"
)

func benchmarkSeries(n int, start, dailyReturn float64) bar.Series {
	base := time.Date(2023, 1, 1, 0, 0, 0, 0, time.UTC)
	bars := make([]bar.Bar, n)
	price := start
	for i := 0; i < n; i++ {
		bars[i] = bar.Bar{
			Timestamp: base.AddDate(0, 0, i),
			Open:      price, High: price * 1.001, Low: price * 0.999, Close: price,
			Volume: 1e6,
		}
		price *= 1 + dailyReturn
	}
	return indicator.Compute(bars)
}

func TestClassifyPanicOnHighVIX(t *testing.T) {
	series := benchmarkSeries(250, 400, 0.0005)
	c := Classify(series, 40, true)
	assert.Equal(t, Panic, c.Regime)
	assert.Equal(t, 95, c.MinScore)
	assert.False(t, c.SignalAllowed)
}

func TestClassifyBullOnHealthyUptrend(t *testing.T) {
	series := benchmarkSeries(250, 400, 0.002)
	c := Classify(series, 15, true)
	assert.Equal(t, Bull, c.Regime)
	assert.Equal(t, 70, c.MinScore)
	assert.True(t, c.SignalAllowed)
}

func TestClassifyBearOnSteepDecline(t *testing.T) {
	series := benchmarkSeries(250, 400, -0.003)
	c := Classify(series, 20, true)
	assert.Equal(t, Bear, c.Regime)
	assert.Equal(t, 90, c.MinScore)
	assert.True(t, c.SignalAllowed)
}

func TestScoreThresholdSpeculativeBumpInBull(t *testing.T) {
	spec := SpeculativeSet{"GME": true}
	c := Classification{Regime: Bull, MinScore: 70}
	assert.Equal(t, 80, ScoreThreshold("GME", c, spec))
	assert.Equal(t, 70, ScoreThreshold("AAPL", c, spec))
}

func TestCacheRoundTrip(t *testing.T) {
	var c Cache
	_, ok := c.Get()
	assert.False(t, ok)

	c.Set(Classification{Regime: Bull, MinScore: 70})
	got, ok := c.Get()
	assert.True(t, ok)
	assert.Equal(t, Bull, got.Regime)
}
