// Package indicator computes technical features over a chronologically
// ordered bar sequence. Every function here is pure: given the same input
// sequence it always produces the same output, with no look-ahead (a row's
// features are derived solely from bars at or before its own timestamp).
package indicator

import (
	"math"

	"github.com/wssxwz/stock-strategy/internal/bar"
)

var (
	smaSpans = []int{5, 10, 20, 50, 120, 200}
	rsiSpans = []int{6, 14, 21}
	retSpans = []int{1, 3, 5, 10, 20}
)

// Compute returns a Row for every input Bar, with every indicator feature
// populated. Bars must already be sorted ascending by timestamp.
func Compute(bars []bar.Bar) bar.Series {
	n := len(bars)
	rows := make(bar.Series, n)
	for i, b := range bars {
		rows[i].Bar = b
	}
	if n == 0 {
		return rows
	}

	closes := make([]float64, n)
	highs := make([]float64, n)
	lows := make([]float64, n)
	volumes := make([]float64, n)
	for i, b := range bars {
		closes[i] = b.Close
		highs[i] = b.High
		lows[i] = b.Low
		volumes[i] = b.Volume
	}

	smas := make(map[int][]float64, len(smaSpans))
	emas := make(map[int][]float64, len(smaSpans))
	for _, span := range smaSpans {
		smas[span] = sma(closes, span)
		emas[span] = ema(closes, span)
	}

	ema12 := ema(closes, 12)
	ema26 := ema(closes, 26)
	macd := make([]float64, n)
	for i := range macd {
		macd[i] = ema12[i] - ema26[i]
	}
	macdSignal := ema(macd, 9)

	rsis := make(map[int][]float64, len(rsiSpans))
	for _, span := range rsiSpans {
		rsis[span] = rsi(closes, span)
	}

	bbMid, bbUpper, bbLower, bbPct, bbWidth := bollinger(closes, 20)
	atr14 := atr(highs, lows, closes, 14)
	kdjK, kdjD, kdjJ := kdj(highs, lows, closes, 9)

	volMA5 := sma(volumes, 5)
	volMA20 := sma(volumes, 20)

	high52w := rollingMax(highs, 252)
	low52w := rollingMin(lows, 252)

	rets := make(map[int][]float64, len(retSpans))
	for _, span := range retSpans {
		rets[span] = pctChange(closes, span)
	}

	ma20Slope5 := maSlope(smas[20], 5)

	for i := 0; i < n; i++ {
		r := &rows[i]
		r.SMA = map[int]float64{}
		r.EMA = map[int]float64{}
		for _, span := range smaSpans {
			r.SMA[span] = smas[span][i]
			r.EMA[span] = emas[span][i]
		}
		r.RSI = map[int]float64{}
		for _, span := range rsiSpans {
			r.RSI[span] = rsis[span][i]
		}

		r.MACD = macd[i]
		r.MACDSignal = macdSignal[i]
		r.MACDHist = macd[i] - macdSignal[i]

		r.BBMid20 = bbMid[i]
		r.BBUpper20 = bbUpper[i]
		r.BBLower20 = bbLower[i]
		r.BBPct20 = bbPct[i]
		r.BBWidth20 = bbWidth[i]

		r.ATR14 = atr14[i]
		if closes[i] != 0 {
			r.ATRPct14 = atr14[i] / closes[i]
		}

		r.KDJK = kdjK[i]
		r.KDJD = kdjD[i]
		r.KDJJ = kdjJ[i]

		r.VolMA5 = volMA5[i]
		r.VolMA20 = volMA20[i]
		if volMA20[i] != 0 {
			r.VolRatio = volumes[i] / volMA20[i]
		}

		r.High52W = high52w[i]
		r.Low52W = low52w[i]
		if high52w[i] != 0 {
			r.PctFrom52WHigh = (closes[i] - high52w[i]) / high52w[i]
		}
		if low52w[i] != 0 {
			r.PctFrom52WLow = (closes[i] - low52w[i]) / low52w[i]
		}

		r.Ret = map[int]float64{}
		for _, span := range retSpans {
			r.Ret[span] = rets[span][i]
		}

		r.AboveMA20 = boolF(closes[i] > smas[20][i])
		r.AboveMA50 = boolF(closes[i] > smas[50][i])
		r.AboveMA200 = boolF(closes[i] > smas[200][i])
		r.MA20Slope5 = ma20Slope5[i]
	}

	crossMarkers(rows, smas[5], smas[20], macd, macdSignal)

	return rows
}

func boolF(b bool) float64 {
	if b {
		return 1
	}
	return 0
}

// sma returns the simple moving average over `span` trailing bars at each
// index; indices with fewer than `span` preceding bars are NaN.
func sma(values []float64, span int) []float64 {
	out := make([]float64, len(values))
	var sum float64
	for i, v := range values {
		sum += v
		if i >= span {
			sum -= values[i-span]
		}
		if i >= span-1 {
			out[i] = sum / float64(span)
		} else {
			out[i] = math.NaN()
		}
	}
	return out
}

// ema is SMA-seeded: the first `span` values are averaged to seed the
// exponential moving average, matching the reference calculateEMA.
func ema(values []float64, span int) []float64 {
	out := make([]float64, len(values))
	if len(values) == 0 {
		return out
	}
	multiplier := 2.0 / (float64(span) + 1.0)

	if len(values) < span {
		// not enough history to seed; fall back to a running mean seed at
		// index 0, consistent with "no look-ahead".
		out[0] = values[0]
		for i := 1; i < len(values); i++ {
			out[i] = (values[i]-out[i-1])*multiplier + out[i-1]
		}
		return out
	}

	var seedSum float64
	for i := 0; i < span; i++ {
		seedSum += values[i]
		out[i] = seedSum / float64(i+1)
	}
	out[span-1] = seedSum / float64(span)
	for i := span; i < len(values); i++ {
		out[i] = (values[i]-out[i-1])*multiplier + out[i-1]
	}
	return out
}

// rsi computes Wilder-style RSI: a seeded average gain/loss over the first
// `period` bars, then smoothed as avg = (avg*(period-1)+new)/period.
func rsi(closes []float64, period int) []float64 {
	out := make([]float64, len(closes))
	for i := range out {
		out[i] = math.NaN()
	}
	if len(closes) <= period {
		return out
	}

	var gainSum, lossSum float64
	for i := 1; i <= period; i++ {
		change := closes[i] - closes[i-1]
		if change > 0 {
			gainSum += change
		} else {
			lossSum += -change
		}
	}
	avgGain := gainSum / float64(period)
	avgLoss := lossSum / float64(period)
	out[period] = rsiFromAvg(avgGain, avgLoss)

	for i := period + 1; i < len(closes); i++ {
		change := closes[i] - closes[i-1]
		gain, loss := 0.0, 0.0
		if change > 0 {
			gain = change
		} else {
			loss = -change
		}
		avgGain = (avgGain*float64(period-1) + gain) / float64(period)
		avgLoss = (avgLoss*float64(period-1) + loss) / float64(period)
		out[i] = rsiFromAvg(avgGain, avgLoss)
	}
	return out
}

func rsiFromAvg(avgGain, avgLoss float64) float64 {
	if avgLoss == 0 {
		return 100
	}
	rs := avgGain / avgLoss
	return 100 - 100/(1+rs)
}

// macdFromEMA is exposed for callers who already have ema12/ema26 computed
// (kept small; Compute inlines this directly).
func macdFromEMA(ema12, ema26 []float64) []float64 {
	out := make([]float64, len(ema12))
	for i := range out {
		out[i] = ema12[i] - ema26[i]
	}
	return out
}

func bollinger(closes []float64, span int) (mid, upper, lower, pct, width []float64) {
	n := len(closes)
	mid = sma(closes, span)
	upper = make([]float64, n)
	lower = make([]float64, n)
	pct = make([]float64, n)
	width = make([]float64, n)

	for i := 0; i < n; i++ {
		if i < span-1 {
			upper[i], lower[i], pct[i], width[i] = math.NaN(), math.NaN(), math.NaN(), math.NaN()
			continue
		}
		window := closes[i-span+1 : i+1]
		std := stddev(window, mid[i])
		upper[i] = mid[i] + 2*std
		lower[i] = mid[i] - 2*std
		rangeV := upper[i] - lower[i]
		if rangeV != 0 {
			pct[i] = (closes[i] - lower[i]) / rangeV
		}
		if mid[i] != 0 {
			width[i] = rangeV / mid[i]
		}
	}
	return
}

func stddev(values []float64, mean float64) float64 {
	var sumSq float64
	for _, v := range values {
		d := v - mean
		sumSq += d * d
	}
	return math.Sqrt(sumSq / float64(len(values)))
}

// atr computes Wilder-smoothed average true range.
func atr(highs, lows, closes []float64, period int) []float64 {
	n := len(highs)
	out := make([]float64, n)
	if n == 0 {
		return out
	}
	tr := make([]float64, n)
	tr[0] = highs[0] - lows[0]
	for i := 1; i < n; i++ {
		hl := highs[i] - lows[i]
		hc := math.Abs(highs[i] - closes[i-1])
		lc := math.Abs(lows[i] - closes[i-1])
		tr[i] = math.Max(hl, math.Max(hc, lc))
	}

	if n <= period {
		for i := range out {
			out[i] = math.NaN()
		}
		return out
	}

	var sum float64
	for i := 0; i < period; i++ {
		sum += tr[i]
		out[i] = math.NaN()
	}
	avg := sum / float64(period)
	out[period-1] = avg
	for i := period; i < n; i++ {
		avg = (avg*float64(period-1) + tr[i]) / float64(period)
		out[i] = avg
	}
	return out
}

// kdj computes the stochastic oscillator KDJ from a 9-bar high/low range
// with EMA-style (com=2) smoothing, as in the reference implementation.
func kdj(highs, lows, closes []float64, period int) (k, d, j []float64) {
	n := len(closes)
	k = make([]float64, n)
	d = make([]float64, n)
	j = make([]float64, n)

	const com = 2.0
	alpha := 1.0 / (com + 1.0)

	prevK, prevD := 50.0, 50.0
	for i := 0; i < n; i++ {
		start := i - period + 1
		if start < 0 {
			start = 0
		}
		hi := maxOf(highs[start : i+1])
		lo := minOf(lows[start : i+1])
		rangeV := hi - lo
		rsv := 50.0
		if rangeV+1e-9 != 0 {
			rsv = (closes[i] - lo) / (rangeV + 1e-9) * 100
		}
		curK := prevK + alpha*(rsv-prevK)
		curD := prevD + alpha*(curK-prevD)
		k[i] = curK
		d[i] = curD
		j[i] = 3*curK - 2*curD
		prevK, prevD = curK, curD
	}
	return
}

func rollingMax(values []float64, window int) []float64 {
	n := len(values)
	out := make([]float64, n)
	for i := 0; i < n; i++ {
		start := i - window + 1
		if start < 0 {
			start = 0
		}
		out[i] = maxOf(values[start : i+1])
	}
	return out
}

func rollingMin(values []float64, window int) []float64 {
	n := len(values)
	out := make([]float64, n)
	for i := 0; i < n; i++ {
		start := i - window + 1
		if start < 0 {
			start = 0
		}
		out[i] = minOf(values[start : i+1])
	}
	return out
}

func maxOf(values []float64) float64 {
	m := values[0]
	for _, v := range values[1:] {
		if v > m {
			m = v
		}
	}
	return m
}

func minOf(values []float64) float64 {
	m := values[0]
	for _, v := range values[1:] {
		if v < m {
			m = v
		}
	}
	return m
}

func pctChange(closes []float64, n int) []float64 {
	out := make([]float64, len(closes))
	for i := range closes {
		if i < n || closes[i-n] == 0 {
			out[i] = math.NaN()
			continue
		}
		out[i] = closes[i]/closes[i-n] - 1
	}
	return out
}

func maSlope(ma []float64, window int) []float64 {
	out := make([]float64, len(ma))
	for i := range ma {
		if i < window || ma[i-window] == 0 || math.IsNaN(ma[i-window]) {
			out[i] = 0
			continue
		}
		out[i] = ma[i]/ma[i-window] - 1
	}
	return out
}

func crossMarkers(rows bar.Series, ma5, ma20, macd, macdSignal []float64) {
	for i := range rows {
		rows[i].MA5CrossMA20 = 0
		rows[i].MACDCross = 0
		if i == 0 {
			continue
		}
		if ma5[i] > ma20[i] && ma5[i-1] <= ma20[i-1] {
			rows[i].MA5CrossMA20 = 1
		} else if ma5[i] < ma20[i] && ma5[i-1] >= ma20[i-1] {
			rows[i].MA5CrossMA20 = -1
		}
		if macd[i] > macdSignal[i] && macd[i-1] <= macdSignal[i-1] {
			rows[i].MACDCross = 1
		} else if macd[i] < macdSignal[i] && macd[i-1] >= macdSignal[i-1] {
			rows[i].MACDCross = -1
		}
		rows[i].RSI14Oversold = rows[i].RSI[14] < 30
		rows[i].RSI14Overbought = rows[i].RSI[14] > 70
	}
}
