package scanner

import (
	"fmt"

	"github.com/wssxwz/stock-strategy/internal/bar"
	"github.com/wssxwz/stock-strategy/internal/knowledgebase"
	"github.com/wssxwz/stock-strategy/internal/relstrength"
)

// ScoringConfig bundles every knob the scoring policy consumes. It is
// always constructed explicitly and passed in, never read from ambient
// state, so that backtests are reproducible.
type ScoringConfig struct {
	StrongTrendMinScore int     // default 85
	TakeProfitStrong    float64 // default 0.20
	StopLossStrong      float64 // default -0.08
	TakeProfit          float64 // default 0.13
	StopLoss            float64 // default -0.08

	ATRPctMax float64 // default 0.035, STRUCT mode gate
}

// DefaultScoringConfig matches the reference scorer's tuning.
func DefaultScoringConfig() ScoringConfig {
	return ScoringConfig{
		StrongTrendMinScore: 85,
		TakeProfitStrong:    0.20,
		StopLossStrong:      -0.08,
		TakeProfit:          0.13,
		StopLoss:            -0.08,
		ATRPctMax:           0.035,
	}
}

// Score evaluates the scoring policy on the latest row of an hourly
// series for one symbol, given a relative-strength value (or
// relstrength.Unknown), a knowledge base, and the scoring config. It
// returns a fully populated Candidate (without the exec-mode field set; see
// AssignExecMode) and its detail/warning trail.
func Score(symbol string, rows bar.Series, rs1y float64, kb knowledgebase.KnowledgeBase, cfg ScoringConfig) Candidate {
	row, _ := rows.Last()

	score := 0
	var details, warnings []string

	rsi := row.RSI[14]
	bb := row.BBPct20
	macdHist := row.MACDHist
	volRatio := row.VolRatio
	above200 := row.AboveMA200 == 1
	above50 := row.AboveMA50 == 1
	ret5d := row.Ret[5] * 100

	// 1. Trend (30 major / 15 minor).
	switch {
	case above200:
		score += 30
		details = append(details, "above MA200 (long-term uptrend)")
	case above50:
		score += 15
		details = append(details, "above MA50 but below MA200 (mid-term only)")
		warnings = append(warnings, "not above MA200, elevated risk")
	default:
		details = append(details, "below both MA50 and MA200 (downtrend)")
		warnings = append(warnings, "trend broken, enter with caution")
	}

	// 2. RSI oversold (up to 30).
	switch {
	case rsi < 25:
		score += 30
		details = append(details, fmt.Sprintf("RSI extremely oversold = %.1f", rsi))
	case rsi < 32:
		score += 25
		details = append(details, fmt.Sprintf("RSI oversold = %.1f", rsi))
	case rsi < 40:
		score += 15
		details = append(details, fmt.Sprintf("RSI on the low side = %.1f", rsi))
	case rsi < 50:
		score += 5
		details = append(details, fmt.Sprintf("RSI neutral = %.1f", rsi))
	default:
		details = append(details, fmt.Sprintf("RSI elevated = %.1f (no pullback yet)", rsi))
	}

	// 3. Bollinger %B (up to 20).
	switch {
	case bb < 0.10:
		score += 20
		details = append(details, fmt.Sprintf("touching lower Bollinger band = %.3f", bb))
	case bb < 0.20:
		score += 15
		details = append(details, fmt.Sprintf("near lower Bollinger band = %.3f", bb))
	case bb < 0.35:
		score += 8
		details = append(details, fmt.Sprintf("lower-middle Bollinger zone = %.3f", bb))
	default:
		details = append(details, fmt.Sprintf("Bollinger position high = %.3f", bb))
	}

	// 4. MACD negative zone (10).
	if macdHist < 0 {
		score += 10
		details = append(details, fmt.Sprintf("MACD histogram negative = %.3f (pulling back)", macdHist))
	} else {
		details = append(details, fmt.Sprintf("MACD histogram positive = %.3f (momentum up, not a pullback low)", macdHist))
	}

	// 5. Volume ratio (5).
	switch {
	case volRatio > 0.5 && volRatio < 1.5:
		score += 5
		details = append(details, fmt.Sprintf("volume ratio normal = %.2f", volRatio))
	case volRatio > 2:
		score += 3
		details = append(details, fmt.Sprintf("volume ratio elevated = %.2f (watch direction)", volRatio))
	}

	// 6. 5-day return (5).
	switch {
	case ret5d < -10:
		score += 5
		details = append(details, fmt.Sprintf("deep pullback, 5d = %.1f%%", ret5d))
	case ret5d < -5:
		score += 3
		details = append(details, fmt.Sprintf("pullback, 5d = %.1f%%", ret5d))
	case ret5d > 5:
		warnings = append(warnings, fmt.Sprintf("already up %.1f%% over 5 days before entry, chase risk", ret5d))
	}

	// 7. Early stabilization hint from the single row (full stabilization
	// check runs separately over the trailing window, see Stabilize).
	if rsi < 30 && macdHist > macdHist*0.95 {
		score += 3
		details = append(details, "early stabilization hint")
	}

	// 8. Knowledge-base weight (up to 15).
	if kb != nil {
		kbBonus := kb.ScoreBonus(symbol)
		if kbBonus != 0 {
			score += kbBonus
			tag := kb.Tag(symbol)
			details = append(details, fmt.Sprintf("knowledge-base weight +%d (%s)", kbBonus, tag))
		}
	}

	// 9. Relative strength vs benchmark.
	switch {
	case rs1y == relstrength.Unknown:
		details = append(details, "relative strength unknown")
	case rs1y > 10:
		score += 10
		details = append(details, fmt.Sprintf("strongly outperforming benchmark, RS_1Y=%+.1f%%", rs1y))
	case rs1y > 0:
		score += 5
		details = append(details, fmt.Sprintf("outperforming benchmark, RS_1Y=%+.1f%%", rs1y))
	case rs1y > -10:
		details = append(details, fmt.Sprintf("slightly weaker than benchmark, RS_1Y=%+.1f%%", rs1y))
	default:
		details = append(details, fmt.Sprintf("materially underperforming benchmark, RS_1Y=%+.1f%%", rs1y))
	}

	if score > 100 {
		score = 100
	}

	isStrong := score >= cfg.StrongTrendMinScore
	tpPct := cfg.TakeProfit
	slPct := cfg.StopLoss
	if isStrong {
		tpPct = cfg.TakeProfitStrong
		slPct = cfg.StopLossStrong
	}

	price := row.Close
	suggestedTP := round2(price * (1 + tpPct))
	suggestedSL := round2(price * (1 + slPct))
	rr := tpPct / absF(slPct)

	suggestPrice, suggestNote := suggestEntry(rsi, bb, price, row.SMA[20], row.SMA[50])

	return Candidate{
		Symbol:         symbol,
		BarTimestamp:   row.Timestamp,
		BarClose:       round2(price),
		Score:          score,
		SuggestedSL:    suggestedSL,
		SuggestedTP:    suggestedTP,
		RRRatio:        round2(rr),
		SuggestedEntry: suggestPrice,
		SuggestNote:    suggestNote,
		RSI14:          round2(rsi),
		BBPct20:        round3(bb),
		MACDHist:       round4(macdHist),
		VolRatio:       round2(volRatio),
		Ret5D:          round2(ret5d),
		ATRPct14:       row.ATRPct14,
		AboveMA200:     above200,
		AboveMA50:      above50,
		RS1Y:           rs1y,
		PriceSource:    "1H_bar_close",
		Details:        details,
		Warnings:       warnings,
	}
}

func suggestEntry(rsi, bb, price, ma20, ma50 float64) (float64, string) {
	switch {
	case rsi < 25:
		return round2(price * 1.005), "extremely oversold, suggest entering at market"
	case rsi < 35 && bb < 0.2:
		return round2(price * 0.995), "deep pullback, can bid slightly below market"
	case ma20 != 0 && price < ma20*0.98:
		return round2(ma20 * 0.995), fmt.Sprintf("wait for a pullback to MA20 (%.2f)", ma20)
	case ma50 != 0 && price < ma50*0.98:
		return round2(ma50 * 0.995), fmt.Sprintf("wait for a pullback to MA50 (%.2f)", ma50)
	default:
		return round2(price * 0.99), "pulling back, can bid slightly below market"
	}
}

func round2(v float64) float64 { return roundN(v, 2) }
func round3(v float64) float64 { return roundN(v, 3) }
func round4(v float64) float64 { return roundN(v, 4) }

func roundN(v float64, n int) float64 {
	mult := 1.0
	for i := 0; i < n; i++ {
		mult *= 10
	}
	if v >= 0 {
		return float64(int(v*mult+0.5)) / mult
	}
	return -float64(int(-v*mult+0.5)) / mult
}

func absF(v float64) float64 {
	if v < 0 {
		return -v
	}
	return v
}
