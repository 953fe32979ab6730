// Package engine wires every stage of the control loop into a single tick:
// reconcile orders, reconcile positions, evaluate exits, scan the
// watchlist, route an entry, and persist state.
package engine

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/wssxwz/stock-strategy/internal/bar"
	"github.com/wssxwz/stock-strategy/internal/broker"
	"github.com/wssxwz/stock-strategy/internal/config"
	"github.com/wssxwz/stock-strategy/internal/exitmonitor"
	"github.com/wssxwz/stock-strategy/internal/execrouter"
	"github.com/wssxwz/stock-strategy/internal/indicator"
	"github.com/wssxwz/stock-strategy/internal/ledger"
	"github.com/wssxwz/stock-strategy/internal/knowledgebase"
	"github.com/wssxwz/stock-strategy/internal/logger"
	"github.com/wssxwz/stock-strategy/internal/metrics"
	"github.com/wssxwz/stock-strategy/internal/regime"
	"github.com/wssxwz/stock-strategy/internal/scanner"
	"github.com/wssxwz/stock-strategy/internal/sizing"
	"github.com/wssxwz/stock-strategy/internal/state"
	"github.com/wssxwz/stock-strategy/internal/structure"
	"github.com/wssxwz/stock-strategy/internal/tracker"
)

var log = logger.New("engine")

// BarStore is the subset of store.Store the engine depends on, loading and
// refreshing OHLCV history per symbol.
type BarStore interface {
	SyncAndLoad(ctx context.Context, symbol string, interval bar.Interval, lookbackDays int, gapDaysThreshold, maxAutoLookbackDays int) ([]bar.Bar, error)
}

// storeAdapter satisfies scanner.DailyLoader/HourlyLoader by syncing a
// fixed interval against the shared bar store.
type storeAdapter struct {
	bs       BarStore
	interval bar.Interval
}

func (a storeAdapter) load(ctx context.Context, symbol string) ([]bar.Bar, error) {
	lookback := 400
	if a.interval == bar.Interval1Hour {
		lookback = 30
	}
	return a.bs.SyncAndLoad(ctx, symbol, a.interval, lookback, 3, lookback*3)
}

type dailyAdapter struct{ storeAdapter }

func (a dailyAdapter) LoadDaily(ctx context.Context, symbol string) ([]bar.Bar, error) {
	return a.load(ctx, symbol)
}

type hourlyAdapter struct{ storeAdapter }

func (a hourlyAdapter) LoadHourly(ctx context.Context, symbol string) ([]bar.Bar, error) {
	return a.load(ctx, symbol)
}

// Engine holds every collaborator the tick needs, constructed once at
// startup. Nothing in the hot path reads ambient state.
type Engine struct {
	mu sync.Mutex

	Broker        broker.Broker
	Store         BarStore
	State         *state.Store
	Ledger        *ledger.Ledger
	Config        *config.Config
	KnowledgeBase knowledgebase.KnowledgeBase
	Watchlist     []string
	Benchmark     string

	ScoringConfig   scanner.ScoringConfig
	RoutingConfig   scanner.RoutingConfig
	StructureParams structure.Params
	SizingConfig    sizing.Config

	Speculative regime.SpeculativeSet

	noSignalStreak int
	attempts       *exitmonitor.AttemptCounters
}

// TickResult summarizes one control-loop cycle for logging and the API.
type TickResult struct {
	StartedAt  time.Time
	Duration   time.Duration
	Candidates int
	Exits      int
	Committed  *execrouter.CommittedOrder
	Skips      []execrouter.Skip
	Err        error
}

// Tick runs one full cycle of the control loop. Only one tick may run at a
// time; a concurrent call blocks until the first completes.
func (e *Engine) Tick(ctx context.Context) TickResult {
	e.mu.Lock()
	defer e.mu.Unlock()

	started := time.Now().UTC()
	timer := func() { metrics.TickDuration.Observe(time.Since(started).Seconds()) }
	defer timer()

	tickLog := log.With("tick_id", uuid.NewString())
	result := TickResult{StartedAt: started}

	if err := tracker.ReconcilePendingOrders(ctx, e.Broker, e.State); err != nil {
		tickLog.Warnf("reconcile pending orders failed: %v", err)
		metrics.TickErrorsTotal.WithLabelValues("reconcile_orders").Inc()
	}
	if err := tracker.ReconcilePositions(ctx, e.Broker, e.State); err != nil {
		tickLog.Warnf("reconcile positions failed: %v", err)
		metrics.TickErrorsTotal.WithLabelValues("reconcile_positions").Inc()
	}

	exits := e.runExits(ctx)
	result.Exits = exits

	candidates, err := e.runScan(ctx)
	if err != nil {
		result.Err = err
		metrics.TickErrorsTotal.WithLabelValues("scan").Inc()
		return result
	}
	result.Candidates = len(candidates)

	routed := execrouter.Route(ctx, candidates, execrouter.Deps{
		Broker: e.Broker, State: e.State, Ledger: e.Ledger, Config: e.Config, SizingConfig: e.SizingConfig,
	})
	result.Committed = routed.Committed
	result.Skips = routed.Skips
	metrics.RecordSkips(skipReasons(routed.Skips))
	if routed.Committed != nil {
		dryRun := "true"
		if !routed.Committed.DryRun {
			dryRun = "false"
		}
		metrics.ExecOrdersSubmittedTotal.WithLabelValues(dryRun).Inc()
	}

	e.updateNoSignalStreak(len(candidates))
	e.updatePortfolioMetrics()

	result.Duration = time.Since(started)
	return result
}

func skipReasons(skips []execrouter.Skip) []string {
	out := make([]string, len(skips))
	for i, s := range skips {
		out[i] = string(s.Reason)
	}
	return out
}

func (e *Engine) updateNoSignalStreak(candidateCount int) {
	if candidateCount == 0 {
		e.noSignalStreak++
	} else {
		e.noSignalStreak = 0
	}
}

func (e *Engine) updatePortfolioMetrics() {
	positions := e.State.OpenPositions()
	metrics.PortfolioOpenPositions.Set(float64(len(positions)))
	openRisk := 0.0
	for _, pos := range positions {
		if pos.Entry != nil && pos.SL != nil {
			if risk := (*pos.Entry - *pos.SL) * pos.Qty; risk > 0 {
				openRisk += risk
			}
		}
	}
	metrics.PortfolioOpenRisk.Set(openRisk)
	metrics.PendingOrdersGauge.Set(float64(len(e.State.PendingOrders())))
}

// runExits checks every open position for a stop-loss/take-profit trigger
// and processes whichever fire.
func (e *Engine) runExits(ctx context.Context) int {
	positions := e.State.OpenPositions()
	if len(positions) == 0 {
		return 0
	}

	quotes := make(map[string]float64, len(positions))
	for symbol := range positions {
		q, err := e.Broker.Quote(ctx, symbol)
		if err != nil {
			log.Warnf("quote fetch failed for open position %s: %v", symbol, err)
			continue
		}
		quotes[symbol] = q.Price
	}

	events := exitmonitor.CheckOpenPositions(positions, quotes)
	if e.attempts == nil {
		e.attempts = exitmonitor.NewAttemptCounters()
	}

	deps := exitmonitor.Deps{
		Broker: e.Broker, State: e.State, Ledger: e.Ledger, Config: e.Config,
		CooldownHours: e.Config.CooldownHours, MaxAttempts: e.Config.ExitEscalateMaxAttempts,
	}

	for _, ev := range events {
		metrics.ExitTriggersTotal.WithLabelValues(string(ev.Kind)).Inc()
		brokerQty := positions[ev.Symbol].Qty
		if err := exitmonitor.Process(ctx, ev, brokerQty, e.attempts, deps); err != nil {
			log.Warnf("exit processing failed for %s: %v", ev.Symbol, err)
		}
	}
	return len(events)
}

// runScan loads the benchmark series and runs the two-phase scan across
// the configured watchlist.
func (e *Engine) runScan(ctx context.Context) ([]scanner.Candidate, error) {
	started := time.Now().UTC()
	defer func() { metrics.ScanDuration.Observe(time.Since(started).Seconds()) }()

	daily := dailyAdapter{storeAdapter{e.Store, bar.Interval1Day}}
	hourly := hourlyAdapter{storeAdapter{e.Store, bar.Interval1Hour}}

	benchmarkBars, err := daily.LoadDaily(ctx, e.Benchmark)
	if err != nil {
		return nil, err
	}
	benchmarkSeries := indicator.Compute(benchmarkBars)

	classification := regime.Classify(benchmarkSeries, 0, false)
	metrics.ScanWatchlistSize.Set(float64(len(e.Watchlist)))

	candidates, _ := scanner.Scan(ctx, e.Watchlist, scanner.Inputs{
		Daily:           daily,
		Hourly:          hourly,
		Benchmark:       benchmarkSeries,
		KnowledgeBase:   e.KnowledgeBase,
		Regime:          classification,
		Speculative:     e.Speculative,
		NoSignalStreak:  e.noSignalStreak,
		ScoringConfig:   e.ScoringConfig,
		RoutingConfig:   e.RoutingConfig,
		StructureParams: e.StructureParams,
	})
	metrics.ScanCandidatesFound.Set(float64(len(candidates)))
	return candidates, nil
}
