// Package structure implements the 1buy/2buy breakout-pullback detector:
// pragmatic, codeable approximations of trend-start and trend-continuation
// entries that avoid look-ahead by only ever inspecting bars up to the
// target index.
package structure

import "github.com/wssxwz/stock-strategy/internal/bar"

// Type identifies which structure pattern a Signal represents.
type Type string

const (
	OneBuy Type = "1buy"
	TwoBuy Type = "2buy"
)

// Params tunes the detector. Defaults match the reference implementation.
type Params struct {
	BoxLookback   int     // default 80
	BreakoutBufferATR float64 // default 0.2
	MinBreakoutBarsAgo int // default 2
	PullbackMaxBars int // default 30
	HoldBufferATR  float64 // default 0.3
	ConfirmCloseBufferATR float64 // default 0.1
	RequireAboveMA200 bool
	RequireMA200SlopeNonNeg bool
	RR float64 // default 5.0/3.0
}

// DefaultParams returns the reference detector's tuning.
func DefaultParams() Params {
	return Params{
		BoxLookback:             80,
		BreakoutBufferATR:       0.2,
		MinBreakoutBarsAgo:      2,
		PullbackMaxBars:         30,
		HoldBufferATR:           0.3,
		ConfirmCloseBufferATR:   0.1,
		RequireAboveMA200:       true,
		RequireMA200SlopeNonNeg: true,
		RR:                      5.0 / 3.0,
	}
}

// Signal is one detected structure at a target bar.
type Signal struct {
	Type          Type
	BoxHigh       float64
	BoxLow        float64
	BreakoutIndex int
	Entry         float64
	SL            float64
	TP            float64
	RR            float64
	ZoneLevel     float64 // only set for 2buy
}

// Box returns (high, low) over the lookback window ending at endIdx
// inclusive.
func Box(rows bar.Series, endIdx int, lookback int) (high, low float64, ok bool) {
	if len(rows) == 0 {
		return 0, 0, false
	}
	if lookback < 20 {
		lookback = 20
	}
	start := endIdx - lookback + 1
	if start < 0 {
		start = 0
	}
	if start > endIdx || endIdx >= len(rows) {
		return 0, 0, false
	}
	window := rows[start : endIdx+1]
	if len(window) == 0 {
		return 0, 0, false
	}
	high, low = window[0].High, window[0].Low
	for _, r := range window[1:] {
		if r.High > high {
			high = r.High
		}
		if r.Low < low {
			low = r.Low
		}
	}
	return high, low, true
}

func ma200Slope(rows bar.Series, uptoIdx int, window int) float64 {
	if window < 5 {
		window = 5
	}
	if uptoIdx < window {
		return 0
	}
	a := rows[uptoIdx-window].SMA[200]
	b := rows[uptoIdx].SMA[200]
	if a == 0 {
		return 0
	}
	return b/a - 1
}

func atrAt(rows bar.Series, i int) float64 {
	v := rows[i].ATR14
	if v > 0 {
		return v
	}
	return 0
}

// DetectOneBuy evaluates the 1buy pattern at index i: breakout, pullback
// hold, and reclaim confirmation.
func DetectOneBuy(rows bar.Series, i int, p Params) (Signal, bool) {
	if i < p.BoxLookback+p.PullbackMaxBars+5 || i >= len(rows) {
		return Signal{}, false
	}
	row := rows[i]
	close := row.Close
	if close <= 0 {
		return Signal{}, false
	}
	if p.RequireAboveMA200 && row.AboveMA200 != 1 {
		return Signal{}, false
	}
	if p.RequireMA200SlopeNonNeg && ma200Slope(rows, i, 50) < 0 {
		return Signal{}, false
	}

	atr := atrAt(rows, i)
	boxEnd := i - p.PullbackMaxBars
	boxHigh, boxLow, ok := Box(rows, boxEnd, p.BoxLookback)
	if !ok {
		return Signal{}, false
	}

	breakoutLevel := boxHigh
	breakoutReq := breakoutLevel + p.BreakoutBufferATR*atr

	breakoutIdx := -1
	for j := boxEnd + 1; j <= i; j++ {
		if rows[j].Close > breakoutReq {
			breakoutIdx = j
			break
		}
	}
	if breakoutIdx == -1 {
		return Signal{}, false
	}
	if i-breakoutIdx < p.MinBreakoutBarsAgo {
		return Signal{}, false
	}

	pbMinLow := minLow(rows, breakoutIdx, i)
	holdFloor := breakoutLevel - p.HoldBufferATR*atr
	pulledBack := pbMinLow <= breakoutLevel
	held := pbMinLow >= holdFloor
	if !pulledBack || !held {
		return Signal{}, false
	}

	confirmReq := breakoutLevel + p.ConfirmCloseBufferATR*atr
	if close <= confirmReq {
		return Signal{}, false
	}

	sl := pbMinLow - 0.1*atr
	if sl >= close {
		return Signal{}, false
	}
	tp := close + p.RR*(close-sl)

	return Signal{
		Type:          OneBuy,
		BoxHigh:       breakoutLevel,
		BoxLow:        boxLow,
		BreakoutIndex: breakoutIdx,
		Entry:         close,
		SL:            sl,
		TP:            tp,
		RR:            p.RR,
	}, true
}

// DetectTwoBuy evaluates the 2buy pattern at index i: trend continuation
// pullback to the breakout level or MA50.
func DetectTwoBuy(rows bar.Series, i int, p Params) (Signal, bool) {
	if i < p.BoxLookback+p.PullbackMaxBars+5 || i >= len(rows) {
		return Signal{}, false
	}
	row := rows[i]
	close := row.Close
	if close <= 0 {
		return Signal{}, false
	}
	if p.RequireAboveMA200 && row.AboveMA200 != 1 {
		return Signal{}, false
	}
	if p.RequireMA200SlopeNonNeg && ma200Slope(rows, i, 50) < 0 {
		return Signal{}, false
	}

	atr := atrAt(rows, i)
	boxEnd := i - p.PullbackMaxBars
	boxHigh, boxLow, ok := Box(rows, boxEnd, p.BoxLookback)
	if !ok {
		return Signal{}, false
	}

	breakoutLevel := boxHigh
	breakoutReq := breakoutLevel + p.BreakoutBufferATR*atr

	breakoutIdx := -1
	for j := boxEnd + 1; j <= i; j++ {
		if rows[j].Close > breakoutReq {
			breakoutIdx = j
			break
		}
	}
	if breakoutIdx == -1 {
		return Signal{}, false
	}
	if i-breakoutIdx < 6 {
		return Signal{}, false
	}

	ma50 := row.SMA[50]
	if ma50 == 0 {
		ma50 = close
	}
	zoneLevel := breakoutLevel
	if ma50 > zoneLevel {
		zoneLevel = ma50
	}
	zoneFloor := zoneLevel - p.HoldBufferATR*atr

	pbMinLow := minLow(rows, breakoutIdx, i)
	tagged := pbMinLow <= zoneLevel
	held := pbMinLow >= zoneFloor
	if !tagged || !held {
		return Signal{}, false
	}

	confirmLevel := ma50
	if breakoutLevel > confirmLevel {
		confirmLevel = breakoutLevel
	}
	confirmReq := confirmLevel + p.ConfirmCloseBufferATR*atr
	if close <= confirmReq {
		return Signal{}, false
	}

	sl := pbMinLow - 0.1*atr
	if sl >= close {
		return Signal{}, false
	}
	tp := close + p.RR*(close-sl)

	return Signal{
		Type:          TwoBuy,
		BoxHigh:       breakoutLevel,
		BoxLow:        boxLow,
		BreakoutIndex: breakoutIdx,
		Entry:         close,
		SL:            sl,
		TP:            tp,
		RR:            p.RR,
		ZoneLevel:     zoneLevel,
	}, true
}

func minLow(rows bar.Series, from, to int) float64 {
	m := rows[from].Low
	for k := from + 1; k <= to; k++ {
		if rows[k].Low < m {
			m = rows[k].Low
		}
	}
	return m
}

// Best selects the preferred signal among the candidates detected at a
// bar: prefer SL distance <= 8% of entry, then smaller SL distance, then
// prefer the later pattern type (2buy over 1buy) on ties.
func Best(signals []Signal) (Signal, bool) {
	if len(signals) == 0 {
		return Signal{}, false
	}
	best := signals[0]
	bestKey := bestKey(best)
	for _, s := range signals[1:] {
		k := bestKey2(s)
		if less(bestKey, k) {
			best = s
			bestKey = k
		}
	}
	return best, true
}

type sortKey struct {
	withinRisk bool
	negRiskPct float64
	typeRank   int
}

func typeRank(t Type) int {
	if t == TwoBuy {
		return 1
	}
	return 0
}

func bestKey(s Signal) sortKey {
	return bestKey2(s)
}

func bestKey2(s Signal) sortKey {
	risk := s.Entry - s.SL
	if risk < 1e-9 {
		risk = 1e-9
	}
	riskPct := risk / s.Entry
	return sortKey{
		withinRisk: riskPct <= 0.08,
		negRiskPct: -riskPct,
		typeRank:   typeRank(s.Type),
	}
}

// less reports whether candidate b should replace current best a, mirroring
// sorted(signals, key=key, reverse=True)[0] semantics: prefer
// within-risk true, then larger negRiskPct (smaller risk), then higher
// typeRank.
func less(a, b sortKey) bool {
	if a.withinRisk != b.withinRisk {
		return b.withinRisk
	}
	if a.negRiskPct != b.negRiskPct {
		return b.negRiskPct > a.negRiskPct
	}
	return b.typeRank > a.typeRank
}

// DetectBoth runs both detectors at index i and returns any signals found
// plus the selected best.
func DetectBoth(rows bar.Series, i int, p Params) (signals []Signal, best Signal, hasBest bool) {
	if s, ok := DetectOneBuy(rows, i, p); ok {
		signals = append(signals, s)
	}
	if s, ok := DetectTwoBuy(rows, i, p); ok {
		signals = append(signals, s)
	}
	best, hasBest = Best(signals)
	return
}
