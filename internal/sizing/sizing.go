// Package sizing computes share quantity from risk budget and stop-loss
// distance, and chooses a marketable limit price, grounded on the
// reference sizing policy.
package sizing

import "strings"

// Config bundles the risk-sizing knobs.
type Config struct {
	RiskPctEquity        float64 // default 0.003
	MaxPositionPctEquity float64 // default 0.08
	MinNotional          float64 // default 300.0
	MaxNotional          float64 // default 6000.0
	MinSLPct             float64 // default 0.03
	MaxSLPct             float64 // default 0.15
}

// DefaultConfig matches the reference sizing policy's tuning.
func DefaultConfig() Config {
	return Config{
		RiskPctEquity:        0.003,
		MaxPositionPctEquity: 0.08,
		MinNotional:          300.0,
		MaxNotional:          6000.0,
		MinSLPct:             0.03,
		MaxSLPct:             0.15,
	}
}

// ComputeQty sizes a position by risk budget (equity * RiskPctEquity)
// divided by per-share stop-loss distance, then clamps notional to
// [MinNotional, MaxNotional]. Returns 0 if the stop-loss distance falls
// outside [MinSLPct, MaxSLPct] or any input is non-positive.
func ComputeQty(equity, entry, sl float64, cfg Config) int {
	if equity <= 0 || entry <= 0 || sl <= 0 {
		return 0
	}
	riskPerShare := entry - sl
	if riskPerShare <= 0 {
		return 0
	}
	slPct := riskPerShare / entry
	if slPct < cfg.MinSLPct || slPct > cfg.MaxSLPct {
		return 0
	}

	riskBudget := equity * cfg.RiskPctEquity
	qty := int(riskBudget / riskPerShare)

	notional := float64(qty) * entry
	if notional < cfg.MinNotional {
		qty = int(cfg.MinNotional / entry)
	}
	if qty <= 0 {
		return 0
	}

	notional = float64(qty) * entry
	if notional > cfg.MaxNotional {
		qty = int(cfg.MaxNotional / entry)
	}
	if qty < 0 {
		return 0
	}
	return qty
}

// MarketableLimitPrice picks an aggressive limit price to improve fill
// probability: buy prefers ask (else last*1.002), sell prefers bid (else
// last*0.998). Returns (0, false) if no usable price exists.
func MarketableLimitPrice(side string, bid, ask, last float64, hasBid, hasAsk, hasLast bool) (float64, bool) {
	switch strings.ToLower(side) {
	case "buy", "b":
		if hasAsk && ask > 0 {
			return ask, true
		}
		if hasLast && last > 0 {
			return last * 1.002, true
		}
	case "sell", "s":
		if hasBid && bid > 0 {
			return bid, true
		}
		if hasLast && last > 0 {
			return last * 0.998, true
		}
	}
	return 0, false
}
