// Package exitmonitor watches locally tracked open positions against live
// quotes for stop-loss/take-profit triggers, and escalates stuck
// stop-loss sells with a widening discount ladder, grounded on the
// reference exit monitor and escalator.
package exitmonitor

import (
	"context"
	"fmt"
	"time"

	"github.com/wssxwz/stock-strategy/internal/broker"
	"github.com/wssxwz/stock-strategy/internal/config"
	"github.com/wssxwz/stock-strategy/internal/ledger"
	"github.com/wssxwz/stock-strategy/internal/logger"
	"github.com/wssxwz/stock-strategy/internal/sizing"
	"github.com/wssxwz/stock-strategy/internal/state"
)

var log = logger.New("exitmonitor")

// EventKind identifies why an open position should be sold.
type EventKind string

const (
	StopLoss   EventKind = "STOP_LOSS"
	TakeProfit EventKind = "TAKE_PROFIT"
)

// Event is one triggered exit on an open position.
type Event struct {
	Symbol string
	Kind   EventKind
	Last   float64
	Entry  float64
	SL     *float64
	TP     *float64
}

// escalationDiscounts is the widening discount ladder applied on repeated
// stop-loss escalation attempts, indexed by attempt number (clamped to the
// last entry beyond the ladder's length).
var escalationDiscounts = []float64{0.998, 0.995, 0.990, 0.985}

// CheckOpenPositions scans every locally tracked open position for a
// stop-loss or take-profit trigger against the given quotes (keyed by bare
// symbol). A position is skipped if it has no recorded entry or no quote.
func CheckOpenPositions(positions map[string]state.OpenPosition, quotes map[string]float64) []Event {
	var events []Event
	for symbol, pos := range positions {
		entry := 0.0
		if pos.Entry != nil {
			entry = *pos.Entry
		}
		last, ok := quotes[symbol]
		if !ok || last <= 0 || entry <= 0 {
			continue
		}
		if pos.SL != nil && last <= *pos.SL {
			events = append(events, Event{Symbol: symbol, Kind: StopLoss, Last: last, Entry: entry, SL: pos.SL, TP: pos.TP})
		} else if pos.TP != nil && last >= *pos.TP {
			events = append(events, Event{Symbol: symbol, Kind: TakeProfit, Last: last, Entry: entry, SL: pos.SL, TP: pos.TP})
		}
	}
	return events
}

// Deps bundles the escalator's collaborators.
type Deps struct {
	Broker        broker.Broker
	State         *state.Store
	Ledger        *ledger.Ledger
	Config        *config.Config
	CooldownHours float64
	MaxAttempts   int
}

// AttemptCounters tracks per-symbol escalation attempts in memory for the
// process lifetime; the reference implementation keeps this ephemeral too
// (a fresh process starts the ladder over, which is acceptable since a
// stuck sell is re-detected and re-escalated next tick regardless).
type AttemptCounters struct {
	counts map[string]int
}

// NewAttemptCounters returns an empty escalation-attempt tracker.
func NewAttemptCounters() *AttemptCounters {
	return &AttemptCounters{counts: map[string]int{}}
}

func (a *AttemptCounters) next(symbol string) int {
	n := a.counts[symbol]
	a.counts[symbol] = n + 1
	return n
}

// Process handles one triggered event: if it's a STOP_LOSS with an already
// pending sell, escalate (cancel + replace at a more aggressive discount);
// otherwise submit a fresh sell intent at a marketable limit.
func Process(ctx context.Context, ev Event, brokerQty float64, attempts *AttemptCounters, deps Deps) error {
	if brokerQty <= 0 {
		log.Warnf("skipping exit for %s: broker-reported qty is zero (stale local state)", ev.Symbol)
		return nil
	}

	pendingSell := findPendingSell(deps.State, ev.Symbol)

	if ev.Kind == StopLoss && pendingSell != "" {
		return escalate(ctx, ev, brokerQty, pendingSell, attempts, deps)
	}

	return submitExit(ctx, ev, brokerQty, string(ev.Kind), deps)
}

func findPendingSell(st *state.Store, symbol string) string {
	for orderID, p := range st.PendingOrders() {
		if p.Symbol == symbol && p.Side == "sell" {
			return orderID
		}
	}
	return ""
}

func submitExit(ctx context.Context, ev Event, qty float64, reason string, deps Deps) error {
	quote, err := deps.Broker.Quote(ctx, ev.Symbol)
	if err != nil {
		return err
	}
	limitPrice, ok := sizing.MarketableLimitPrice("sell", quote.Bid, 0, quote.Price, quote.Bid > 0, false, quote.Price > 0)
	if !ok {
		return fmt.Errorf("no usable quote to build exit intent for %s", ev.Symbol)
	}
	return commitSell(ctx, ev.Symbol, qty, limitPrice, reason, 0, deps)
}

func escalate(ctx context.Context, ev Event, qty float64, pendingOrderID string, attempts *AttemptCounters, deps Deps) error {
	attempt := attempts.next(ev.Symbol)
	if attempt >= deps.MaxAttempts {
		log.Warnf("exit escalation for %s exhausted after %d attempts", ev.Symbol, attempt)
		return nil
	}

	if err := deps.Broker.CancelOrder(ctx, pendingOrderID); err != nil {
		log.Warnf("cancel of pending sell %s for %s failed (continuing): %v", pendingOrderID, ev.Symbol, err)
	}
	_ = deps.State.RemovePendingOrder(pendingOrderID)

	quote, err := deps.Broker.Quote(ctx, ev.Symbol)
	if err != nil {
		return err
	}
	discount := escalationDiscounts[min(attempt, len(escalationDiscounts)-1)]
	limitPrice := quote.Price * discount

	return commitSell(ctx, ev.Symbol, qty, limitPrice, "STOP_LOSS_ESCALATE", attempt, deps)
}



func commitSell(ctx context.Context, symbol string, qty, limitPrice float64, reason string, attempt int, deps Deps) error {
	intent := ledger.NewIntent(symbol, "Sell", int(qty), "LO", &limitPrice, nil, nil,
		fmt.Sprintf("exit|%s|a%d", reason, attempt), map[string]any{"reason": reason, "attempt": attempt})
	if err := deps.Ledger.Append(intent, "PENDING", nil, ""); err != nil {
		log.Warnf("ledger append failed for exit %s: %v", symbol, err)
	}

	var orderID string
	if !deps.Config.ShouldSubmitLive() {
		orderID = fmt.Sprintf("DRYRUN-%s-%s-%d", symbol, "sell", time.Now().UTC().Unix())
	} else {
		order, err := deps.Broker.SubmitOrder(ctx, broker.OrderRequest{
			Symbol: symbol, Side: broker.Sell, Qty: qty, LimitPrice: limitPrice,
		})
		if err != nil {
			log.ErrorErr(err, "live exit submission failed for %s, falling back to no commit", symbol)
			return err
		}
		orderID = order.OrderID
	}

	if err := deps.State.AddPendingOrder(orderID, state.PendingOrder{
		Symbol: symbol, Side: "sell", Qty: qty, LimitPrice: limitPrice,
		Reason: reason, Status: "PENDING", CreatedAt: time.Now().UTC(),
	}); err != nil {
		log.Warnf("failed to record pending sell for %s: %v", symbol, err)
	}

	log.Infof("submitted exit %s qty=%.4f limit=%.2f reason=%s order_id=%s", symbol, qty, limitPrice, reason, orderID)
	return nil
}

// ApplyFillTransition moves state on a confirmed sell fill: drop the open
// position, and if the exit was a stop-out, set the symbol's cooldown.
func ApplyFillTransition(symbol, reason string, cooldownHours float64, st *state.Store) error {
	if err := st.RemoveOpenPosition(symbol); err != nil {
		return err
	}
	if reason == string(StopLoss) || reason == "STOP_LOSS_ESCALATE" {
		return st.SetCooldown(symbol, time.Now().UTC().Add(time.Duration(cooldownHours*float64(time.Hour))), "stopout")
	}
	return nil
}
