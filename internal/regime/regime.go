// Package regime classifies the current market environment from benchmark
// history and selects the score threshold below which the scanner must
// not emit candidates.
package regime

import (
	"math"
	"sync"
	"time"

	"github.com/wssxwz/stock-strategy/internal/bar"
)

// Label is the classified market state.
type Label string

const (
	Bull    Label = "bull"
	Neutral Label = "neutral"
	Bear    Label = "bear"
	Panic   Label = "panic"
)

// Classification is the full regime read, including the derived entry
// threshold and whether entries are allowed at all.
type Classification struct {
	Regime         Label
	MinScore       int
	SPYvsMA50      float64
	SPYvsMA200     float64
	SPYRet20       float64
	VIX            float64
	HasVIX         bool
	SignalAllowed  bool
	GeneratedAt    time.Time
}

// SpeculativeTickers is the set of symbols requiring a raised threshold in
// bull regimes, injected rather than read from ambient config.
type SpeculativeSet map[string]bool

// Classify computes the regime from the benchmark's 1d history (already
// indicator-enriched) and, if available, the latest VIX close.
func Classify(benchmarkDaily bar.Series, vix float64, hasVIX bool) Classification {
	result := Classification{
		Regime:        Neutral,
		MinScore:      80,
		SignalAllowed: true,
		GeneratedAt:   time.Now().UTC(),
	}

	last, ok := benchmarkDaily.Last()
	if !ok || len(benchmarkDaily) < 30 {
		return result
	}

	spyPrice := last.Close
	ma50 := last.SMA[50]
	ma200 := last.SMA[200]
	if ma50 == 0 {
		ma50 = spyPrice
	}
	if ma200 == 0 {
		ma200 = spyPrice
	}

	var ret20 float64
	n := len(benchmarkDaily)
	if n >= 20 && benchmarkDaily[n-20].Close != 0 {
		ret20 = (spyPrice/benchmarkDaily[n-20].Close - 1) * 100
	}

	vsMA50 := (spyPrice/ma50 - 1) * 100
	vsMA200 := (spyPrice/ma200 - 1) * 100

	result.SPYvsMA50 = round2(vsMA50)
	result.SPYvsMA200 = round2(vsMA200)
	result.SPYRet20 = round2(ret20)
	result.VIX = vix
	result.HasVIX = hasVIX

	switch {
	case hasVIX && vix > 35:
		result.Regime = Panic
		result.MinScore = 95
		result.SignalAllowed = false
	case vsMA200 < -5 && ret20 < -5:
		result.Regime = Bear
		result.MinScore = 90
		result.SignalAllowed = true
	case vsMA50 < -3 || ret20 < -2:
		result.Regime = Neutral
		result.MinScore = 80
		result.SignalAllowed = true
	default:
		result.Regime = Bull
		result.MinScore = 70
		result.SignalAllowed = true
	}

	if hasVIX && vix > 25 && result.Regime == Bull {
		if result.MinScore < 75 {
			result.MinScore = 75
		}
	}

	return result
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}

// ScoreThreshold returns the per-symbol score threshold given a
// classification: speculative tickers require >= 80 even in a bull regime.
func ScoreThreshold(symbol string, c Classification, speculative SpeculativeSet) int {
	base := c.MinScore
	switch c.Regime {
	case Bull:
		if speculative != nil && speculative[symbol] && base < 80 {
			return 80
		}
		return base
	case Neutral:
		if base < 80 {
			return 80
		}
		return base
	default: // bear, panic already carry their final threshold
		return base
	}
}

// Cache holds the most recent Classification for up to CacheTTL, avoiding
// redundant benchmark recomputation within a tick window.
type Cache struct {
	mu      sync.Mutex
	value   Classification
	valid   bool
	cachedAt time.Time
}

// CacheTTL is how long a cached classification remains valid.
const CacheTTL = 60 * time.Minute

// Get returns the cached classification if still fresh.
func (c *Cache) Get() (Classification, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.valid || time.Since(c.cachedAt) > CacheTTL {
		return Classification{}, false
	}
	return c.value, true
}

// Set stores a freshly computed classification.
func (c *Cache) Set(v Classification) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.value = v
	c.valid = true
	c.cachedAt = time.Now()
}
