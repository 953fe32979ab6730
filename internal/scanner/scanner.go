package scanner

import (
	"context"
	"sort"
	"sync"

	"golang.org/x/sync/semaphore"

	"github.com/wssxwz/stock-strategy/internal/bar"
	"github.com/wssxwz/stock-strategy/internal/indicator"
	"github.com/wssxwz/stock-strategy/internal/knowledgebase"
	"github.com/wssxwz/stock-strategy/internal/logger"
	"github.com/wssxwz/stock-strategy/internal/regime"
	"github.com/wssxwz/stock-strategy/internal/relstrength"
	"github.com/wssxwz/stock-strategy/internal/structure"
)

var log = logger.New("scanner")

// maxConcurrentSymbols bounds phase-2 fan-out so a large watchlist can't
// open unbounded network/DB connections at once.
const maxConcurrentSymbols = 8

// DailyLoader returns the daily bars used for phase 1 and for
// relative-strength alignment.
type DailyLoader interface {
	LoadDaily(ctx context.Context, symbol string) ([]bar.Bar, error)
}

// HourlyLoader returns the hourly bars used for phase 2 scoring.
type HourlyLoader interface {
	LoadHourly(ctx context.Context, symbol string) ([]bar.Bar, error)
}

// Inputs bundles everything a scan pass needs beyond the watchlist itself.
type Inputs struct {
	Daily           DailyLoader
	Hourly          HourlyLoader
	Benchmark       bar.Series // SPY daily, already indicator-enriched
	KnowledgeBase   knowledgebase.KnowledgeBase
	Regime          regime.Classification
	Speculative     regime.SpeculativeSet
	NoSignalStreak  int
	ScoringConfig   ScoringConfig
	RoutingConfig   RoutingConfig
	StructureParams structure.Params
}

// Result is one symbol's phase-2 outcome, nil Candidate if it didn't pass
// phase 1 or scored below its regime threshold.
type Result struct {
	Symbol    string
	Candidate *Candidate
	Err       error
}

// Scan runs the full two-phase pipeline over a watchlist: phase 1 filters
// on daily bars, phase 2 scores the survivors on hourly bars with bounded
// concurrency, and only candidates clearing the regime-derived score
// threshold are returned.
func Scan(ctx context.Context, watchlist []string, in Inputs) ([]Candidate, []Result) {
	survivors := phaseOne(ctx, watchlist, in)
	results := phaseTwo(ctx, survivors, in)

	var out []Candidate
	for _, r := range results {
		if r.Candidate != nil {
			out = append(out, *r.Candidate)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Score > out[j].Score })
	return out, results
}

func phaseOne(ctx context.Context, watchlist []string, in Inputs) []string {
	var survivors []string
	for _, symbol := range watchlist {
		daily, err := in.Daily.LoadDaily(ctx, symbol)
		if err != nil {
			log.Warnf("phase 1 load failed for %s: %v", symbol, err)
			continue
		}
		rows := indicator.Compute(daily)
		if !Phase1Pass(rows) {
			continue
		}
		survivors = append(survivors, symbol)
	}
	return survivors
}

func phaseTwo(ctx context.Context, symbols []string, in Inputs) []Result {
	results := make([]Result, len(symbols))
	sem := semaphore.NewWeighted(maxConcurrentSymbols)
	var wg sync.WaitGroup

	for idx, symbol := range symbols {
		idx, symbol := idx, symbol
		if err := sem.Acquire(ctx, 1); err != nil {
			results[idx] = Result{Symbol: symbol, Err: err}
			continue
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			defer sem.Release(1)
			results[idx] = scoreOne(ctx, symbol, in)
		}()
	}
	wg.Wait()
	return results
}

func scoreOne(ctx context.Context, symbol string, in Inputs) Result {
	hourlyBars, err := in.Hourly.LoadHourly(ctx, symbol)
	if err != nil {
		return Result{Symbol: symbol, Err: err}
	}
	if len(hourlyBars) < 30 {
		return Result{Symbol: symbol}
	}
	rows := indicator.Compute(hourlyBars)

	dailyBars, err := in.Daily.LoadDaily(ctx, symbol)
	if err != nil {
		return Result{Symbol: symbol, Err: err}
	}
	dailyRows := indicator.Compute(dailyBars)

	rs1y := relstrength.Compute1Y(dailyRows, in.Benchmark)

	cand := Score(symbol, rows, rs1y, in.KnowledgeBase, in.ScoringConfig)
	if dailyLast, ok := dailyRows.Last(); ok {
		cand.DollarVol20D = dailyLast.Close * dailyLast.VolMA20
	}

	stab := Stabilize(rows)
	if len(stab.Signals) > 0 {
		cand.Details = append(append([]string{}, stab.Signals...), cand.Details...)
		cand.Score += stab.ScoreBonus
		if cand.Score > 100 {
			cand.Score = 100
		}
		if cand.Score < 0 {
			cand.Score = 0
		}
	}

	i := len(rows) - 1
	signals, best, hasBest := structure.DetectBoth(rows, i, in.StructureParams)
	if hasBest {
		cand.Structure = &StructurePayload{
			Entry:         best.Entry,
			SL:            best.SL,
			TP:            best.TP,
			RR:            best.RR,
			BreakoutLevel: best.BoxHigh,
			Type:          string(best.Type),
		}
	}
	AssignExecMode(&cand, len(signals) > 0, rows[i], in.RoutingConfig)
	if cand.ExecMode == ModeSkip {
		return Result{Symbol: symbol}
	}

	if rows[i].Ret[5] >= Ret5DThreshold(in.NoSignalStreak) {
		return Result{Symbol: symbol}
	}

	threshold := regime.ScoreThreshold(symbol, in.Regime, in.Speculative)
	if cand.Score < threshold {
		return Result{Symbol: symbol}
	}
	if !in.Regime.SignalAllowed {
		return Result{Symbol: symbol}
	}

	return Result{Symbol: symbol, Candidate: &cand}
}
