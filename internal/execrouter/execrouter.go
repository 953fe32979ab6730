// Package execrouter converts strong scanner candidates into at most one
// committed order per tick: idempotency, cooldown, price-sanity/drift, and
// portfolio-risk preconditions gate a ranked selection, which is then
// appended to the paper ledger and optionally submitted live, grounded on
// the reference order router, sizing policy, and intent evaluator.
package execrouter

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/wssxwz/stock-strategy/internal/apperr"
	"github.com/wssxwz/stock-strategy/internal/broker"
	"github.com/wssxwz/stock-strategy/internal/config"
	"github.com/wssxwz/stock-strategy/internal/ledger"
	"github.com/wssxwz/stock-strategy/internal/logger"
	"github.com/wssxwz/stock-strategy/internal/scanner"
	"github.com/wssxwz/stock-strategy/internal/sizing"
	"github.com/wssxwz/stock-strategy/internal/state"
)

var log = logger.New("execrouter")

// SkipReason is a short machine-readable precondition-failure code.
type SkipReason string

const (
	SkipAlreadyExecuted  SkipReason = "SKIP_ALREADY_EXECUTED"
	SkipPendingBuy       SkipReason = "SKIP_PENDING_BUY"
	SkipCooldown         SkipReason = "SKIP_COOLDOWN"
	SkipPriceSanity      SkipReason = "SKIP_PRICE_SANITY"
	SkipPriceDrift       SkipReason = "SKIP_PRICE_DRIFT"
	SkipLiquidity        SkipReason = "SKIP_LIQUIDITY"
	SkipMRTrendFilter    SkipReason = "SKIP_MR_TREND_FILTER"
	SkipNoIntent         SkipReason = "SKIP_NO_INTENT"
	SkipSLOutOfBounds    SkipReason = "SKIP_SL_OUT_OF_BOUNDS"
	SkipZeroQty          SkipReason = "SKIP_ZERO_QTY"
	SkipNotionalCap      SkipReason = "SKIP_NOTIONAL_CAP"
	SkipPortfolioRisk    SkipReason = "SKIP_PORTFOLIO_RISK_CAP"
	SkipCashBuffer       SkipReason = "SKIP_CASH_BUFFER"
	SkipMaxOpenPositions SkipReason = "SKIP_MAX_OPEN_POSITIONS"
	SkipDailyLimit       SkipReason = "SKIP_DAILY_LIMIT"
)

// Skip records one candidate's precondition failure for the tick summary.
type Skip struct {
	Symbol string
	Reason SkipReason
	Key    string
}

// Deps bundles the router's collaborators, all constructed once at startup
// and passed in explicitly; nothing here reads ambient state.
type Deps struct {
	Broker       broker.Broker
	State        *state.Store
	Ledger       *ledger.Ledger
	Config       *config.Config
	SizingConfig sizing.Config
}

// intentCandidate is a strong scanner candidate paired with its quote and
// buildable order intent, ready to be ranked.
type intentCandidate struct {
	cand       scanner.Candidate
	quote      broker.Quote
	limitPrice float64
	qty        int
	slPct      float64
	notional   float64
	execScore  float64
}

// Result is the tick's routing outcome.
type Result struct {
	Committed *CommittedOrder
	Skips     []Skip
}

// CommittedOrder is the order actually placed this tick.
type CommittedOrder struct {
	Symbol     string
	OrderID    string
	DryRun     bool
	Qty        int
	LimitPrice float64
}

// idempotencyKey is the symbol|exec_mode|bar_timestamp scheme that keeps a
// single bar from being routed twice.
func idempotencyKey(c scanner.Candidate) string {
	return fmt.Sprintf("%s|%s|%s", c.Symbol, c.ExecMode, c.BarTimestamp.UTC().Format(time.RFC3339))
}

// Route evaluates every strong candidate's preconditions, builds an order
// intent for each survivor, ranks by execution score, and commits at most
// one order for the tick, subject to the portfolio-level guards.
func Route(ctx context.Context, candidates []scanner.Candidate, deps Deps) Result {
	var result Result

	var strong []scanner.Candidate
	for _, c := range candidates {
		if c.IsStrong() {
			strong = append(strong, c)
		}
	}

	var survivors []intentCandidate
	for _, c := range strong {
		ic, skip, ok := evaluate(ctx, c, deps)
		if !ok {
			result.Skips = append(result.Skips, skip)
			continue
		}
		survivors = append(survivors, ic)
	}

	sort.Slice(survivors, func(i, j int) bool { return survivors[i].execScore > survivors[j].execScore })

	for _, ic := range survivors {
		committed, skip, ok := tryCommit(ctx, ic, deps)
		if ok {
			result.Committed = committed
			break
		}
		result.Skips = append(result.Skips, skip)
	}

	if len(result.Skips) > 0 {
		summary := summarize(result.Skips)
		if err := deps.State.SetLastExecSkip("", summary); err != nil {
			log.Warnf("failed to persist skip summary: %v", err)
		}
	}

	return result
}

func summarize(skips []Skip) string {
	counts := map[SkipReason]int{}
	for _, s := range skips {
		counts[s.Reason]++
	}
	out := ""
	for reason, n := range counts {
		out += fmt.Sprintf("%s=%d ", reason, n)
	}
	return out
}

// evaluate checks every per-candidate precondition and, if all pass, builds
// the order intent fields needed for ranking.
func evaluate(ctx context.Context, c scanner.Candidate, deps Deps) (intentCandidate, Skip, bool) {
	key := idempotencyKey(c)

	if deps.State.WasExecuted(key) {
		return intentCandidate{}, Skip{Symbol: c.Symbol, Reason: SkipAlreadyExecuted, Key: key}, false
	}

	for _, p := range deps.State.PendingOrders() {
		if p.Symbol == c.Symbol && p.Side == "buy" {
			return intentCandidate{}, Skip{Symbol: c.Symbol, Reason: SkipPendingBuy, Key: key}, false
		}
	}

	if active, _ := deps.State.CooldownActive(c.Symbol); active {
		return intentCandidate{}, Skip{Symbol: c.Symbol, Reason: SkipCooldown, Key: key}, false
	}

	quote, err := deps.Broker.Quote(ctx, c.Symbol)
	if err != nil {
		return intentCandidate{}, Skip{Symbol: c.Symbol, Reason: SkipPriceSanity, Key: key}, false
	}

	account, err := deps.Broker.AccountBalance(ctx)
	if err != nil {
		return intentCandidate{}, Skip{Symbol: c.Symbol, Reason: SkipPriceSanity, Key: key}, false
	}
	equity := account.Equity
	if equity <= 0 {
		equity = deps.Config.PaperEquity
	}

	maxPrice := equity * deps.Config.MaxPricePctEquity
	if quote.Price > maxPrice || quote.Price < deps.Config.MinPriceUSD {
		return intentCandidate{}, Skip{Symbol: c.Symbol, Reason: SkipPriceSanity, Key: key}, false
	}

	signalPrice := c.BarClose
	if signalPrice > 0 {
		drift := absF(quote.Price-signalPrice) / signalPrice
		if drift > deps.Config.PriceDriftMaxPct {
			return intentCandidate{}, Skip{Symbol: c.Symbol, Reason: SkipPriceDrift, Key: key}, false
		}
	}

	// MR mode requires above_ma50 OR a non-negative MA50 slope; the
	// candidate only carries above_ma50, so that alone gates here.
	if c.ExecMode == scanner.ModeMR && !c.AboveMA50 {
		return intentCandidate{}, Skip{Symbol: c.Symbol, Reason: SkipMRTrendFilter, Key: key}, false
	}

	if c.DollarVol20D > 0 && c.DollarVol20D < deps.Config.MinDollarVol20D {
		return intentCandidate{}, Skip{Symbol: c.Symbol, Reason: SkipLiquidity, Key: key}, false
	}

	limitPrice, ok := sizing.MarketableLimitPrice("buy", 0, quote.Ask, quote.Price, false, quote.Ask > 0, quote.Price > 0)
	if !ok || limitPrice <= 0 {
		return intentCandidate{}, Skip{Symbol: c.Symbol, Reason: SkipNoIntent, Key: key}, false
	}

	sl := c.SuggestedSL
	if sl <= 0 || sl >= limitPrice {
		return intentCandidate{}, Skip{Symbol: c.Symbol, Reason: SkipSLOutOfBounds, Key: key}, false
	}
	slPct := (limitPrice - sl) / limitPrice
	if slPct < deps.Config.MinSLPct || slPct > deps.Config.MaxSLPct {
		return intentCandidate{}, Skip{Symbol: c.Symbol, Reason: SkipSLOutOfBounds, Key: key}, false
	}

	qty := sizing.ComputeQty(equity, limitPrice, sl, deps.SizingConfig)
	if qty <= 0 {
		qty = 1 // reference router's minimum-qty-1 fallback
	}

	notional := float64(qty) * limitPrice
	capNotional := equity * deps.Config.MaxPositionPct
	if deps.SizingConfig.MinNotional > capNotional {
		capNotional = deps.SizingConfig.MinNotional
	}
	if notional > capNotional || notional > deps.SizingConfig.MaxNotional {
		return intentCandidate{}, Skip{Symbol: c.Symbol, Reason: SkipNotionalCap, Key: key}, false
	}

	execScore := float64(c.Score) - slPct*50.0 - notional/1000.0

	return intentCandidate{
		cand:       c,
		quote:      quote,
		limitPrice: round2(limitPrice),
		qty:        qty,
		slPct:      slPct,
		notional:   notional,
		execScore:  execScore,
	}, Skip{}, true
}

// tryCommit applies the portfolio-level guards and, if all pass, appends to
// the ledger, submits (or dry-run simulates), and records pending state.
func tryCommit(ctx context.Context, ic intentCandidate, deps Deps) (*CommittedOrder, Skip, bool) {
	c := ic.cand
	key := idempotencyKey(c)

	account, err := deps.Broker.AccountBalance(ctx)
	if err != nil {
		return nil, Skip{Symbol: c.Symbol, Reason: SkipPriceSanity, Key: key}, false
	}
	equity := account.Equity
	if equity <= 0 {
		equity = deps.Config.PaperEquity
	}

	openRisk := 0.0
	for _, pos := range deps.State.OpenPositions() {
		if pos.Entry != nil && pos.SL != nil {
			risk := (*pos.Entry - *pos.SL) * pos.Qty
			if risk > 0 {
				openRisk += risk
			}
		}
	}
	newRisk := (ic.limitPrice - c.SuggestedSL) * float64(ic.qty)
	if openRisk+newRisk > equity*deps.Config.TotalRiskCap {
		return nil, Skip{Symbol: c.Symbol, Reason: SkipPortfolioRisk, Key: key}, false
	}

	if equity-ic.notional < deps.Config.MinCashBuffer {
		return nil, Skip{Symbol: c.Symbol, Reason: SkipCashBuffer, Key: key}, false
	}

	if len(deps.State.OpenPositions()) >= deps.Config.MaxOpenPositions {
		return nil, Skip{Symbol: c.Symbol, Reason: SkipMaxOpenPositions, Key: key}, false
	}

	dayKey := time.Now().UTC().Format("2006-01-02")
	if deps.State.DailyCount(dayKey) >= deps.Config.MaxNewBuysPerDay {
		return nil, Skip{Symbol: c.Symbol, Reason: SkipDailyLimit, Key: key}, false
	}

	intent := ledger.NewIntent(
		c.Symbol, "Buy", ic.qty, "LO",
		&ic.limitPrice, &c.SuggestedSL, &c.SuggestedTP,
		fmt.Sprintf("paper|%s|score=%d|reason=%s|bar=%s", c.ExecMode, c.Score, c.ExecReason, c.BarTimestamp.UTC().Format(time.RFC3339)),
		map[string]any{"exec_mode": string(c.ExecMode), "score": c.Score},
	)
	if err := deps.Ledger.Append(intent, "PENDING", nil, ""); err != nil {
		log.Warnf("ledger append failed for %s: %v", c.Symbol, err)
	}

	var orderID string
	dryRun := !deps.Config.ShouldSubmitLive()
	if dryRun {
		orderID = fmt.Sprintf("DRYRUN-%s-%s-%d", c.Symbol, "buy", intent.CreatedAt.Unix())
	} else {
		order, err := deps.Broker.SubmitOrder(ctx, broker.OrderRequest{
			Symbol: c.Symbol, Side: broker.Buy, Qty: float64(ic.qty), LimitPrice: ic.limitPrice,
		})
		if err != nil {
			log.ErrorErr(err, "live order submission failed for %s, falling back to no commit", c.Symbol)
			return nil, Skip{Symbol: c.Symbol, Reason: SkipNoIntent, Key: key}, false
		}
		orderID = order.OrderID
	}

	sl := c.SuggestedSL
	tp := c.SuggestedTP
	if err := deps.State.AddPendingOrder(orderID, state.PendingOrder{
		Symbol: c.Symbol, Side: "buy", Qty: float64(ic.qty), LimitPrice: ic.limitPrice,
		SL: &sl, TP: &tp, Status: "PENDING", CreatedAt: time.Now().UTC(),
	}); err != nil {
		log.Warnf("failed to record pending order for %s: %v", c.Symbol, err)
	}

	if err := deps.State.MarkExecuted(key, map[string]any{"order_id": orderID}); err != nil {
		log.Warnf("failed to mark executed for %s: %v", c.Symbol, err)
	}
	if err := deps.State.IncDaily(dayKey); err != nil {
		log.Warnf("failed to increment daily counter: %v", err)
	}
	if err := deps.State.AddOpenPosition(c.Symbol, state.OpenPosition{
		Qty: float64(ic.qty), Entry: &ic.limitPrice, SL: &sl, TP: &tp,
		At: "optimistic", Meta: map[string]any{"source": "router_commit", "order_id": orderID},
	}); err != nil {
		log.Warnf("failed to add optimistic open position for %s: %v", c.Symbol, err)
	}

	log.Infof("committed %s buy qty=%d limit=%.2f order_id=%s dry_run=%v", c.Symbol, ic.qty, ic.limitPrice, orderID, dryRun)

	return &CommittedOrder{Symbol: c.Symbol, OrderID: orderID, DryRun: dryRun, Qty: ic.qty, LimitPrice: ic.limitPrice}, Skip{}, true
}

func absF(v float64) float64 {
	if v < 0 {
		return -v
	}
	return v
}

func round2(v float64) float64 {
	return float64(int(v*100+0.5)) / 100
}
