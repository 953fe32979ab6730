// Package tracker reconciles the locally tracked trading state against the
// broker's view of the world: it resolves pending orders to a terminal
// status and folds broker-reported positions back into local bookkeeping,
// grounded on the reference order tracker and reconciler.
package tracker

import (
	"context"
	"strings"

	"github.com/wssxwz/stock-strategy/internal/broker"
	"github.com/wssxwz/stock-strategy/internal/logger"
	"github.com/wssxwz/stock-strategy/internal/state"
)

var log = logger.New("tracker")

var fillStatuses = map[string]bool{
	"FILLED": true, "DONE": true, "SUCCESS": true, "FILLED_ALL": true,
}

var terminalCancelStatuses = map[string]bool{
	"CANCELED": true, "CANCELLED": true, "REJECTED": true, "FAILED": true, "EXPIRED": true,
}

func normalizeStatus(s string) string {
	return strings.ToUpper(strings.TrimSpace(s))
}

// ReconcilePendingOrders walks every pending order, decides its terminal
// status, and applies the corresponding position-state transition. DRYRUN
// orders fill immediately without a broker round-trip; real orders are
// matched against today's order list first, falling back to a single
// order-detail lookup.
func ReconcilePendingOrders(ctx context.Context, b broker.Broker, st *state.Store) error {
	pending := st.PendingOrders()
	if len(pending) == 0 {
		return nil
	}

	todayOrders, err := b.TodayOrders(ctx)
	if err != nil {
		log.Warnf("today_orders fetch failed, falling back to per-order lookups: %v", err)
	}
	byID := map[string]broker.Order{}
	for _, o := range todayOrders {
		byID[o.OrderID] = o
	}

	for orderID, order := range pending {
		status, filledQty, avgPrice := resolveOrder(ctx, b, orderID, order, byID)
		status = normalizeStatus(status)

		switch {
		case fillStatuses[status]:
			applyFillTransition(st, order, filledQty, avgPrice)
			if err := st.RemovePendingOrder(orderID); err != nil {
				log.Warnf("failed to remove filled pending order %s: %v", orderID, err)
			}
		case terminalCancelStatuses[status]:
			if err := st.RemovePendingOrder(orderID); err != nil {
				log.Warnf("failed to remove canceled pending order %s: %v", orderID, err)
			}
		default:
			// still open; leave it pending for the next tick
		}
	}
	return nil
}

func resolveOrder(ctx context.Context, b broker.Broker, orderID string, order state.PendingOrder, byID map[string]broker.Order) (status string, filledQty, avgPrice float64) {
	if strings.HasPrefix(orderID, "DRYRUN-") {
		return "FILLED", order.Qty, order.LimitPrice
	}
	if o, ok := byID[orderID]; ok {
		return o.Status, o.FilledQty, o.AvgPrice
	}
	o, err := b.OrderDetail(ctx, orderID)
	if err != nil {
		log.Warnf("order_detail lookup failed for %s: %v", orderID, err)
		return order.Status, order.FilledQty, order.AvgPrice
	}
	return o.Status, o.FilledQty, o.AvgPrice
}

// applyFillTransition moves a filled buy or sell into local position state.
// A buy opens (or adds to) a position; a sell clears it.
func applyFillTransition(st *state.Store, order state.PendingOrder, filledQty, avgPrice float64) {
	qty := filledQty
	if qty <= 0 {
		qty = order.Qty
	}
	price := avgPrice
	if price <= 0 {
		price = order.LimitPrice
	}

	if order.Side == "buy" {
		entry := price
		if err := st.AddOpenPosition(order.Symbol, state.OpenPosition{
			Qty: qty, Entry: &entry, SL: order.SL, TP: order.TP,
			At:   "filled",
			Meta: map[string]any{"source": "tracker_fill"},
		}); err != nil {
			log.Warnf("failed to open position for %s after fill: %v", order.Symbol, err)
		}
		return
	}

	if err := st.RemoveOpenPosition(order.Symbol); err != nil {
		log.Warnf("failed to clear position for %s after sell fill: %v", order.Symbol, err)
	}
}

// ReconcilePositions folds the broker's authoritative position list back
// into local state: positions the broker no longer shows are dropped, and
// positions the broker shows that local state never recorded are inserted
// as bare stubs, since their entry/stop/target are unknown locally.
func ReconcilePositions(ctx context.Context, b broker.Broker, st *state.Store) error {
	brokerPositions, err := b.StockPositions(ctx)
	if err != nil {
		return err
	}
	brokerBySymbol := map[string]broker.Position{}
	for _, p := range brokerPositions {
		if p.Qty != 0 {
			brokerBySymbol[p.Symbol] = p
		}
	}

	for symbol := range st.OpenPositions() {
		if _, ok := brokerBySymbol[symbol]; !ok {
			if err := st.RemoveOpenPosition(symbol); err != nil {
				log.Warnf("failed to drop local-only position %s: %v", symbol, err)
			}
		}
	}

	local := st.OpenPositions()
	for symbol, pos := range brokerBySymbol {
		if _, ok := local[symbol]; ok {
			continue
		}
		if err := st.AddOpenPosition(symbol, state.OpenPosition{
			Qty:  pos.Qty,
			At:   "broker_reconcile",
			Meta: map[string]any{"source": "broker_reconcile"},
		}); err != nil {
			log.Warnf("failed to stub broker-only position %s: %v", symbol, err)
		}
	}
	return nil
}
