// Package metrics exposes the control loop's prometheus instrumentation on
// a dedicated registry, grounded on the reference metrics module.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Registry is the custom prometheus registry for this system's metrics.
var Registry = prometheus.NewRegistry()

var (
	// ============================================
	// Scan metrics
	// ============================================

	ScanDuration = promauto.With(Registry).NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "stockstrategy",
			Subsystem: "scan",
			Name:      "duration_seconds",
			Help:      "Watchlist scan duration in seconds",
			Buckets:   []float64{0.5, 1, 2, 5, 10, 20, 30, 60},
		},
	)

	ScanWatchlistSize = promauto.With(Registry).NewGauge(
		prometheus.GaugeOpts{
			Namespace: "stockstrategy",
			Subsystem: "scan",
			Name:      "watchlist_size",
			Help:      "Number of symbols scanned this tick",
		},
	)

	ScanPhase1Survivors = promauto.With(Registry).NewGauge(
		prometheus.GaugeOpts{
			Namespace: "stockstrategy",
			Subsystem: "scan",
			Name:      "phase1_survivors",
			Help:      "Number of symbols that passed the cheap phase-1 filter",
		},
	)

	ScanCandidatesFound = promauto.With(Registry).NewGauge(
		prometheus.GaugeOpts{
			Namespace: "stockstrategy",
			Subsystem: "scan",
			Name:      "candidates_found",
			Help:      "Number of scored candidates surviving phase 2",
		},
	)

	// ============================================
	// Execution metrics
	// ============================================

	ExecSkipsTotal = promauto.With(Registry).NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "stockstrategy",
			Subsystem: "exec",
			Name:      "skips_total",
			Help:      "Total candidate skips by reason",
		},
		[]string{"reason"},
	)

	ExecOrdersSubmittedTotal = promauto.With(Registry).NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "stockstrategy",
			Subsystem: "exec",
			Name:      "orders_submitted_total",
			Help:      "Total buy orders submitted",
		},
		[]string{"dry_run"},
	)

	// ============================================
	// Exit metrics
	// ============================================

	ExitTriggersTotal = promauto.With(Registry).NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "stockstrategy",
			Subsystem: "exit",
			Name:      "triggers_total",
			Help:      "Total exit triggers by kind",
		},
		[]string{"kind"},
	)

	ExitEscalationsTotal = promauto.With(Registry).NewCounter(
		prometheus.CounterOpts{
			Namespace: "stockstrategy",
			Subsystem: "exit",
			Name:      "escalations_total",
			Help:      "Total stop-loss escalation attempts",
		},
	)

	// ============================================
	// Portfolio metrics
	// ============================================

	PortfolioEquity = promauto.With(Registry).NewGauge(
		prometheus.GaugeOpts{
			Namespace: "stockstrategy",
			Subsystem: "portfolio",
			Name:      "equity",
			Help:      "Account equity in USD",
		},
	)

	PortfolioOpenPositions = promauto.With(Registry).NewGauge(
		prometheus.GaugeOpts{
			Namespace: "stockstrategy",
			Subsystem: "portfolio",
			Name:      "open_positions",
			Help:      "Number of open positions",
		},
	)

	PortfolioOpenRisk = promauto.With(Registry).NewGauge(
		prometheus.GaugeOpts{
			Namespace: "stockstrategy",
			Subsystem: "portfolio",
			Name:      "open_risk_usd",
			Help:      "Sum of (entry - stop) * qty across open positions",
		},
	)

	PendingOrdersGauge = promauto.With(Registry).NewGauge(
		prometheus.GaugeOpts{
			Namespace: "stockstrategy",
			Subsystem: "portfolio",
			Name:      "pending_orders",
			Help:      "Number of orders awaiting a terminal status",
		},
	)

	// ============================================
	// System metrics
	// ============================================

	TickDuration = promauto.With(Registry).NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "stockstrategy",
			Subsystem: "system",
			Name:      "tick_duration_seconds",
			Help:      "Full control-loop tick duration in seconds",
			Buckets:   []float64{1, 5, 10, 30, 60, 120, 180, 300},
		},
	)

	TickErrorsTotal = promauto.With(Registry).NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "stockstrategy",
			Subsystem: "system",
			Name:      "tick_errors_total",
			Help:      "Tick-level errors by stage",
		},
		[]string{"stage"},
	)

	Running = promauto.With(Registry).NewGauge(
		prometheus.GaugeOpts{
			Namespace: "stockstrategy",
			Subsystem: "system",
			Name:      "running",
			Help:      "Whether the control loop is running (1) or stopped (0)",
		},
	)
)

// RecordSkips increments the skip counter once per occurrence of reason.
func RecordSkips(reasons []string) {
	for _, r := range reasons {
		ExecSkipsTotal.WithLabelValues(r).Inc()
	}
}

// SetRunning records the control loop's running state.
func SetRunning(running bool) {
	val := 0.0
	if running {
		val = 1.0
	}
	Running.Set(val)
}

// Init registers the standard go/process collectors alongside the
// domain-specific ones above.
func Init() {
	Registry.MustRegister(prometheus.NewGoCollector())
	Registry.MustRegister(prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}))
}
