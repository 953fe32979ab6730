package scanner

import "github.com/wssxwz/stock-strategy/internal/bar"

// RoutingConfig bundles the exec-mode routing knobs.
type RoutingConfig struct {
	ATRPctMax float64 // default 0.035
}

// DefaultRoutingConfig matches the reference tuning.
func DefaultRoutingConfig() RoutingConfig {
	return RoutingConfig{ATRPctMax: 0.035}
}

// AssignExecMode determines a candidate's exec_mode: STRUCT if a structure
// signal exists and the trend/volatility gates pass, else MR if deep in the
// lower Bollinger band, else SKIP.
func AssignExecMode(c *Candidate, hasStructure bool, row bar.Row, cfg RoutingConfig) {
	switch {
	case hasStructure && c.AboveMA200 && row.ATRPct14 <= cfg.ATRPctMax:
		c.ExecMode = ModeStruct
		c.ExecReason = "structure breakout-pullback with acceptable volatility"
	case c.BBPct20 < 0.10:
		c.ExecMode = ModeMR
		c.ExecReason = "mean-reversion: deep in lower Bollinger band"
	default:
		c.ExecMode = ModeSkip
		c.ExecReason = "no structure signal and not deep enough in lower band"
	}
}

// Ret5DThreshold returns the dynamic ret_5d entry threshold (as a fraction,
// e.g. -0.03) based on the global no_signal_streak counter.
func Ret5DThreshold(noSignalStreak int) float64 {
	switch {
	case noSignalStreak >= 30:
		return -0.02
	case noSignalStreak >= 20:
		return -0.025
	default:
		return -0.03
	}
}
