package scanner

import (
	"fmt"

	"github.com/wssxwz/stock-strategy/internal/bar"
)

// StabilizationResult is the outcome of the stabilization check: a
// bounded score adjustment plus the human-readable signals behind it,
// which are prepended to the candidate's details.
type StabilizationResult struct {
	Confirmed  bool
	ScoreBonus int
	Signals    []string
}

// Stabilize runs the stabilization check on the trailing window of an hourly
// series (expects at least 10 rows for a meaningful read): RSI momentum,
// volume-vs-average on the pullback, higher-low structure, and lower-shadow
// support on the final candle.
func Stabilize(rows bar.Series) StabilizationResult {
	if len(rows) < 10 {
		return StabilizationResult{}
	}

	var signals []string
	bonus := 0

	n := len(rows)
	rsiCurr := rows[n-1].RSI[14]
	rsiPrev := rows[n-2].RSI[14]
	rsiPrev2 := rows[n-3].RSI[14]

	switch {
	case rsiCurr > rsiPrev && rsiPrev > rsiPrev2:
		bonus += 8
		signals = append(signals, fmt.Sprintf("RSI rising for two bars (%.0f→%.0f→%.0f)", rsiPrev2, rsiPrev, rsiCurr))
	case rsiCurr > rsiPrev:
		bonus += 4
		signals = append(signals, fmt.Sprintf("RSI turning up (%.0f→%.0f)", rsiPrev, rsiCurr))
	default:
		bonus -= 5
		signals = append(signals, fmt.Sprintf("RSI still falling (%.0f→%.0f)", rsiPrev, rsiCurr))
	}

	vol5Avg := avgVolume(rows, n-5, n)
	vol20Avg := avgVolume(rows, n-20, n)
	if vol20Avg > 0 {
		ratio5 := vol5Avg / vol20Avg
		switch {
		case ratio5 < 0.7:
			bonus += 6
			signals = append(signals, fmt.Sprintf("volume contracting on pullback (%.2fx)", ratio5))
		case ratio5 < 1.0:
			bonus += 3
			signals = append(signals, fmt.Sprintf("volume ratio mild (%.2fx)", ratio5))
		default:
			signals = append(signals, fmt.Sprintf("volume expanding on the decline (%.2fx)", ratio5))
		}
	}

	if n >= 6 {
		recentLow := minLow(rows, n-3, n)
		priorLow := minLow(rows, n-6, n-3)
		if recentLow > priorLow {
			bonus += 5
			signals = append(signals, "higher low forming")
		}
	}

	last := rows[n-1]
	body := abs(last.Close - last.Open)
	lowerShadow := minOf(last.Open, last.Close) - last.Low
	if body > 0 && lowerShadow > body*1.5 {
		bonus += 4
		signals = append(signals, "long lower shadow, buyers stepping in")
	}

	if bonus > 20 {
		bonus = 20
	}
	if bonus < -5 {
		bonus = -5
	}

	return StabilizationResult{
		Confirmed:  bonus >= 5,
		ScoreBonus: bonus,
		Signals:    signals,
	}
}

func avgVolume(rows bar.Series, from, to int) float64 {
	if from < 0 {
		from = 0
	}
	if to > len(rows) {
		to = len(rows)
	}
	if to <= from {
		return 0
	}
	var sum float64
	for _, r := range rows[from:to] {
		sum += r.Volume
	}
	return sum / float64(to-from)
}

func minLow(rows bar.Series, from, to int) float64 {
	if from < 0 {
		from = 0
	}
	if to > len(rows) {
		to = len(rows)
	}
	m := rows[from].Low
	for _, r := range rows[from:to] {
		if r.Low < m {
			m = r.Low
		}
	}
	return m
}

func minOf(a, b float64) float64 {
	if a < b {
		return a
	}
	return b
}

func abs(v float64) float64 {
	if v < 0 {
		return -v
	}
	return v
}
