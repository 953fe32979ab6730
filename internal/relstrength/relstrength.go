// Package relstrength computes a symbol's one-year relative strength
// against a benchmark using aligned 1d close history.
package relstrength

import (
	"math"

	"github.com/wssxwz/stock-strategy/internal/bar"
)

// Unknown is the sentinel returned when there is not enough aligned history
// to compute a meaningful relative-strength figure. Callers must treat it
// as "unknown", never as a reason to reject a candidate on trend-weakness
// grounds.
const Unknown = -999.0

const (
	tradingDays1Y = 252
	minAlignedBars = tradingDays1Y + 10
)

// Compute1Y returns the symbol's 1-year return minus the benchmark's 1-year
// return, in percent, rounded to 2 decimals, using the intersection of
// timestamps present in both series. Returns Unknown if fewer than
// tradingDays1Y+10 aligned bars exist.
func Compute1Y(symbolDaily, benchmarkDaily bar.Series) float64 {
	aligned := intersectByTimestamp(symbolDaily, benchmarkDaily)
	if len(aligned) < minAlignedBars {
		return Unknown
	}

	n := len(aligned)
	symLast := aligned[n-1].symClose
	symPast := aligned[n-1-tradingDays1Y].symClose
	benchLast := aligned[n-1].benchClose
	benchPast := aligned[n-1-tradingDays1Y].benchClose

	if symPast == 0 || benchPast == 0 {
		return Unknown
	}

	symRet := symLast/symPast - 1
	benchRet := benchLast/benchPast - 1
	rs := (symRet - benchRet) * 100
	return math.Round(rs*100) / 100
}

type alignedPoint struct {
	symClose, benchClose float64
}

// intersectByTimestamp returns, for every timestamp present in both series
// (in ascending timestamp order), the paired close prices. Both inputs are
// assumed sorted ascending and de-duplicated by timestamp already (the
// store's invariant).
func intersectByTimestamp(sym, bench bar.Series) []alignedPoint {
	benchIdx := make(map[int64]float64, len(bench))
	for _, r := range bench {
		benchIdx[r.Timestamp.Unix()] = r.Close
	}

	var out []alignedPoint
	for _, r := range sym {
		if bc, ok := benchIdx[r.Timestamp.Unix()]; ok {
			out = append(out, alignedPoint{symClose: r.Close, benchClose: bc})
		}
	}
	return out
}
