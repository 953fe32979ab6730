// Command trader is the CLI entry point for the control loop: one process
// invocation corresponds to one scheduled tick (full scan, exit only,
// store sync, reconciliation, or a manual cooldown insertion), grounded on
// the reference auto-trader's run loop and job-style entry points.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/wssxwz/stock-strategy/internal/api"
	"github.com/wssxwz/stock-strategy/internal/bar"
	"github.com/wssxwz/stock-strategy/internal/broker"
	"github.com/wssxwz/stock-strategy/internal/config"
	"github.com/wssxwz/stock-strategy/internal/engine"
	"github.com/wssxwz/stock-strategy/internal/exitmonitor"
	"github.com/wssxwz/stock-strategy/internal/knowledgebase"
	"github.com/wssxwz/stock-strategy/internal/ledger"
	"github.com/wssxwz/stock-strategy/internal/marketdata"
	"github.com/wssxwz/stock-strategy/internal/metrics"
	"github.com/wssxwz/stock-strategy/internal/regime"
	"github.com/wssxwz/stock-strategy/internal/scanner"
	"github.com/wssxwz/stock-strategy/internal/sizing"
	"github.com/wssxwz/stock-strategy/internal/state"
	"github.com/wssxwz/stock-strategy/internal/store"
	"github.com/wssxwz/stock-strategy/internal/structure"
	"github.com/wssxwz/stock-strategy/internal/tracker"
)

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(1)
	}

	cfg, err := config.Load(".env")
	if err != nil {
		log.Fatalf("configuration error: %v", err)
	}

	switch os.Args[1] {
	case "scan":
		runScan(cfg, os.Args[2:])
	case "exit-only":
		runExitOnly(cfg, os.Args[2:])
	case "sync-store":
		runSyncStore(cfg, os.Args[2:])
	case "reconcile":
		runReconcile(cfg, os.Args[2:])
	case "stopout":
		runStopout(cfg, os.Args[2:])
	case "serve":
		runServe(cfg, os.Args[2:])
	default:
		usage()
		os.Exit(1)
	}
}

func usage() {
	fmt.Fprintln(os.Stderr, `usage: trader <command> [flags]

commands:
  scan         run the full control loop once (scan, route, exit, reconcile)
  exit-only    skip the scanner; run only the exit monitor and reconcilers
  sync-store   backfill the time-series store
  reconcile    one-shot position and pending-order reconciliation
  stopout      insert a manual cooldown for a symbol
  serve        run the control loop on a ticker and expose the HTTP API`)
}

func watchlistFlag(fs *flag.FlagSet) *string {
	def := os.Getenv("WATCHLIST")
	return fs.String("watchlist", def, "comma-separated list of bare tickers")
}

func parseWatchlist(raw string) []string {
	var out []string
	for _, s := range strings.Split(raw, ",") {
		s = strings.ToUpper(strings.TrimSpace(s))
		if s != "" {
			out = append(out, s)
		}
	}
	return out
}

func openStatePaths() (statePath, ledgerPath, storePath string) {
	dataDir := os.Getenv("DATA_DIR")
	if dataDir == "" {
		dataDir = "."
	}
	return dataDir + "/trading_state.json", dataDir + "/paper_ledger.jsonl", dataDir + "/bars.db"
}

func buildEngine(cfg *config.Config, watchlist []string) *engine.Engine {
	statePath, ledgerPath, storePath := openStatePaths()

	st, err := state.Open(statePath)
	if err != nil {
		log.Fatalf("failed to open trading state: %v", err)
	}
	l, err := ledger.Open(ledgerPath)
	if err != nil {
		log.Fatalf("failed to open ledger: %v", err)
	}

	md := marketdata.NewClient(cfg.AlpacaAPIKey, cfg.AlpacaAPISecret)
	bs, err := store.Open(storePath, md)
	if err != nil {
		log.Fatalf("failed to open bar store: %v", err)
	}

	b := broker.NewAlpacaBroker(cfg.AlpacaAPIKey, cfg.AlpacaAPISecret, cfg.AlpacaPaper)

	return &engine.Engine{
		Broker:          b,
		Store:           bs,
		State:           st,
		Ledger:          l,
		Config:          cfg,
		KnowledgeBase:   knowledgebase.NewStatic(nil, nil),
		Watchlist:       watchlist,
		Benchmark:       "SPY",
		ScoringConfig:   scanner.DefaultScoringConfig(),
		RoutingConfig:   scanner.DefaultRoutingConfig(),
		StructureParams: structure.DefaultParams(),
		SizingConfig:    sizing.DefaultConfig(),
		Speculative:     regime.SpeculativeSet{},
	}
}

func runScan(cfg *config.Config, args []string) {
	fs := flag.NewFlagSet("scan", flag.ExitOnError)
	wl := watchlistFlag(fs)
	fs.Parse(args)

	eng := buildEngine(cfg, parseWatchlist(*wl))
	result := eng.Tick(context.Background())
	if result.Err != nil {
		log.Printf("tick completed with error: %v", result.Err)
	}
	log.Printf("scan complete: candidates=%d exits=%d committed=%v skips=%d",
		result.Candidates, result.Exits, result.Committed != nil, len(result.Skips))
}

func runExitOnly(cfg *config.Config, args []string) {
	fs := flag.NewFlagSet("exit-only", flag.ExitOnError)
	fs.Parse(args)

	eng := buildEngine(cfg, nil)
	ctx := context.Background()

	if err := tracker.ReconcilePendingOrders(ctx, eng.Broker, eng.State); err != nil {
		log.Printf("reconcile pending orders failed: %v", err)
	}
	if err := tracker.ReconcilePositions(ctx, eng.Broker, eng.State); err != nil {
		log.Printf("reconcile positions failed: %v", err)
	}

	positions := eng.State.OpenPositions()
	quotes := make(map[string]float64, len(positions))
	for symbol := range positions {
		q, err := eng.Broker.Quote(ctx, symbol)
		if err != nil {
			log.Printf("quote fetch failed for %s: %v", symbol, err)
			continue
		}
		quotes[symbol] = q.Price
	}
	events := exitmonitor.CheckOpenPositions(positions, quotes)
	attempts := exitmonitor.NewAttemptCounters()
	deps := exitmonitor.Deps{
		Broker: eng.Broker, State: eng.State, Ledger: eng.Ledger, Config: cfg,
		CooldownHours: cfg.CooldownHours, MaxAttempts: cfg.ExitEscalateMaxAttempts,
	}
	for _, ev := range events {
		if err := exitmonitor.Process(ctx, ev, positions[ev.Symbol].Qty, attempts, deps); err != nil {
			log.Printf("exit processing failed for %s: %v", ev.Symbol, err)
		}
	}
	log.Printf("exit-only complete: %d triggers processed", len(events))
}

func runSyncStore(cfg *config.Config, args []string) {
	fs := flag.NewFlagSet("sync-store", flag.ExitOnError)
	tickers := fs.String("tickers", "", "comma-separated tickers (alias of --watchlist)")
	wl := watchlistFlag(fs)
	interval := fs.String("interval", "1d", "bar interval: 1d or 1h")
	days := fs.Int("days", 400, "initial lookback in days")
	gapThreshold := fs.Int("gap-threshold", 3, "auto-extend lookback once the local gap exceeds this many days")
	maxAutoDays := fs.Int("max-auto-days", 1200, "ceiling for the auto-extended lookback")
	fs.Parse(args)

	symbols := parseWatchlist(*wl)
	if *tickers != "" {
		symbols = append(symbols, parseWatchlist(*tickers)...)
	}
	if len(symbols) == 0 {
		log.Fatal("sync-store requires --watchlist or --tickers")
	}

	iv := bar.Interval1Day
	if *interval == "1h" {
		iv = bar.Interval1Hour
	}

	_, _, storePath := openStatePaths()
	md := marketdata.NewClient(cfg.AlpacaAPIKey, cfg.AlpacaAPISecret)
	bs, err := store.Open(storePath, md)
	if err != nil {
		log.Fatalf("failed to open bar store: %v", err)
	}

	ctx := context.Background()
	for _, symbol := range symbols {
		bars, err := bs.SyncAndLoad(ctx, symbol, iv, *days, *gapThreshold, *maxAutoDays)
		if err != nil {
			log.Printf("sync failed for %s: %v", symbol, err)
			continue
		}
		log.Printf("synced %s %s: %d bars", symbol, iv, len(bars))
	}
}

func runReconcile(cfg *config.Config, args []string) {
	fs := flag.NewFlagSet("reconcile", flag.ExitOnError)
	fs.Parse(args)

	eng := buildEngine(cfg, nil)
	ctx := context.Background()

	if err := tracker.ReconcilePendingOrders(ctx, eng.Broker, eng.State); err != nil {
		log.Printf("reconcile pending orders failed: %v", err)
	}
	if err := tracker.ReconcilePositions(ctx, eng.Broker, eng.State); err != nil {
		log.Printf("reconcile positions failed: %v", err)
	}
	log.Printf("reconcile complete: %d open positions, %d pending orders",
		len(eng.State.OpenPositions()), len(eng.State.PendingOrders()))
}

func runStopout(cfg *config.Config, args []string) {
	fs := flag.NewFlagSet("stopout", flag.ExitOnError)
	hours := fs.Float64("hours", cfg.CooldownHours, "cooldown duration in hours")
	reason := fs.String("reason", "manual_stopout", "cooldown reason recorded in state")
	fs.Parse(args)
	if fs.NArg() < 1 {
		log.Fatal("stopout requires a symbol argument: trader stopout <symbol> [--hours H] [--reason R]")
	}
	symbol := strings.ToUpper(fs.Arg(0))

	statePath, _, _ := openStatePaths()
	st, err := state.Open(statePath)
	if err != nil {
		log.Fatalf("failed to open trading state: %v", err)
	}
	until := time.Now().UTC().Add(time.Duration(*hours * float64(time.Hour)))
	if err := st.SetCooldown(symbol, until, *reason); err != nil {
		log.Fatalf("failed to set cooldown: %v", err)
	}
	log.Printf("cooldown set for %s until %s (%s)", symbol, until.Format(time.RFC3339), *reason)
}

func runServe(cfg *config.Config, args []string) {
	fs := flag.NewFlagSet("serve", flag.ExitOnError)
	wl := watchlistFlag(fs)
	interval := fs.Duration("interval", 5*time.Minute, "tick interval")
	addr := fs.String("addr", ":8080", "HTTP listen address for /healthz, /status, /metrics")
	fs.Parse(args)

	metrics.Init()
	eng := buildEngine(cfg, parseWatchlist(*wl))
	srv := api.New(eng)

	go func() {
		if err := http.ListenAndServe(*addr, srv.Engine()); err != nil {
			log.Printf("http server stopped: %v", err)
		}
	}()

	ctx := context.Background()
	metrics.SetRunning(true)
	defer metrics.SetRunning(false)

	runOnce := func() {
		result := eng.Tick(ctx)
		srv.RecordTick(result)
		if result.Err != nil {
			log.Printf("tick error: %v", result.Err)
		}
	}
	runOnce()

	ticker := time.NewTicker(*interval)
	defer ticker.Stop()
	for range ticker.C {
		runOnce()
	}
}
