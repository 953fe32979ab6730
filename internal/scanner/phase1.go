package scanner

import "github.com/wssxwz/stock-strategy/internal/bar"

// Phase1Pass applies the cheap daily pre-filter: retain a symbol iff
// RSI14 < 58 AND BB%20 < 0.55 AND ret_5d < 5%, evaluated on the latest
// daily row.
func Phase1Pass(daily bar.Series) bool {
	last, ok := daily.Last()
	if !ok {
		return false
	}
	rsi14 := last.RSI[14]
	bbPct := last.BBPct20
	ret5d := last.Ret[5]

	if isNaN(rsi14) || isNaN(bbPct) || isNaN(ret5d) {
		return false
	}

	return rsi14 < 58 && bbPct < 0.55 && ret5d < 0.05
}

func isNaN(f float64) bool { return f != f }
