package scanner

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wssxwz/stock-strategy/internal/bar"
	"github.com/wssxwz/stock-strategy/internal/indicator"
	"github.com/wssxwz/stock-strategy/internal/regime"
	"github.com/wssxwz/stock-strategy/internal/structure"
)

type fakeLoader struct {
	daily  map[string][]bar.Bar
	hourly map[string][]bar.Bar
}

func (f *fakeLoader) LoadDaily(ctx context.Context, symbol string) ([]bar.Bar, error) {
	return f.daily[symbol], nil
}

func (f *fakeLoader) LoadHourly(ctx context.Context, symbol string) ([]bar.Bar, error) {
	return f.hourly[symbol], nil
}

func pullbackDailyBars(n int) []bar.Bar {
	base := time.Date(2022, 1, 1, 0, 0, 0, 0, time.UTC)
	out := make([]bar.Bar, n)
	price := 100.0
	for i := 0; i < n; i++ {
		if i > n-10 {
			price *= 0.995 // recent pullback so phase 1 passes
		} else {
			price *= 1.002
		}
		out[i] = bar.Bar{
			Timestamp: base.AddDate(0, 0, i),
			Open:      price,
			High:      price * 1.01,
			Low:       price * 0.99,
			Close:     price,
			Volume:    1_000_000,
		}
	}
	return out
}

func hourlyBarsFrom(daily []bar.Bar) []bar.Bar {
	var out []bar.Bar
	for _, d := range daily {
		for h := 0; h < 7; h++ {
			out = append(out, bar.Bar{
				Timestamp: d.Timestamp.Add(time.Duration(h) * time.Hour),
				Open:      d.Open,
				High:      d.High,
				Low:       d.Low,
				Close:     d.Close,
				Volume:    d.Volume / 7,
			})
		}
	}
	return out
}

func TestScanFiltersAndScoresWatchlist(t *testing.T) {
	daily := pullbackDailyBars(300)
	hourly := hourlyBarsFrom(daily)
	benchmark := indicator.Compute(pullbackDailyBars(300))

	loader := &fakeLoader{
		daily:  map[string][]bar.Bar{"AAPL": daily},
		hourly: map[string][]bar.Bar{"AAPL": hourly},
	}

	in := Inputs{
		Daily:           loader,
		Hourly:          loader,
		Benchmark:       benchmark,
		Regime:          regime.Classification{Regime: regime.Bull, MinScore: 0, SignalAllowed: true},
		ScoringConfig:   DefaultScoringConfig(),
		RoutingConfig:   DefaultRoutingConfig(),
		StructureParams: structure.DefaultParams(),
	}

	candidates, results := Scan(context.Background(), []string{"AAPL"}, in)
	require.Len(t, results, 1)
	if results[0].Candidate != nil {
		assert.Equal(t, "AAPL", candidates[0].Symbol)
	}
}

func TestScanRespectsSignalAllowedFalse(t *testing.T) {
	daily := pullbackDailyBars(300)
	hourly := hourlyBarsFrom(daily)
	benchmark := indicator.Compute(pullbackDailyBars(300))

	loader := &fakeLoader{
		daily:  map[string][]bar.Bar{"AAPL": daily},
		hourly: map[string][]bar.Bar{"AAPL": hourly},
	}

	in := Inputs{
		Daily:           loader,
		Hourly:          loader,
		Benchmark:       benchmark,
		Regime:          regime.Classification{Regime: regime.Panic, MinScore: 95, SignalAllowed: false},
		ScoringConfig:   DefaultScoringConfig(),
		RoutingConfig:   DefaultRoutingConfig(),
		StructureParams: structure.DefaultParams(),
	}

	candidates, _ := Scan(context.Background(), []string{"AAPL"}, in)
	assert.Empty(t, candidates)
}

func TestScanSkipsSymbolsFailingPhaseOne(t *testing.T) {
	base := time.Date(2022, 1, 1, 0, 0, 0, 0, time.UTC)
	var daily []bar.Bar
	price := 100.0
	for i := 0; i < 300; i++ {
		price *= 1.01 // relentless uptrend: RSI/BB/ret5d stay high, fails phase 1
		daily = append(daily, bar.Bar{
			Timestamp: base.AddDate(0, 0, i),
			Open:      price,
			High:      price * 1.02,
			Low:       price * 0.99,
			Close:     price,
			Volume:    1_000_000,
		})
	}
	loader := &fakeLoader{daily: map[string][]bar.Bar{"HOT": daily}}

	in := Inputs{
		Daily:  loader,
		Hourly: loader,
		Regime: regime.Classification{MinScore: 0, SignalAllowed: true},
	}

	candidates, results := Scan(context.Background(), []string{"HOT"}, in)
	assert.Empty(t, candidates)
	assert.Empty(t, results)
}
