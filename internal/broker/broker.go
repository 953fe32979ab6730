// Package broker wraps Alpaca's trading API behind the narrow Broker
// interface this system actually needs: quotes, account balance,
// positions, and day-limit order submission/cancellation/lookup. It never
// submits shorts, margin, options, or non-day-limit order types, matching
// the system's equities-long-only scope.
package broker

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/wssxwz/stock-strategy/internal/apperr"
	"github.com/wssxwz/stock-strategy/internal/logger"
)

var log = logger.New("broker")

// Side is an order side. Only Buy/Sell of a long position are supported.
type Side string

const (
	Buy  Side = "buy"
	Sell Side = "sell"
)

// Quote is a latest trade/bid/ask snapshot for a symbol.
type Quote struct {
	Symbol string
	Price  float64 // last trade price
	Bid    float64
	Ask    float64
	AtUTC  time.Time
}

// Account is the account-level balance snapshot used for sizing and the
// cash-buffer precondition.
type Account struct {
	Equity       float64
	BuyingPower  float64
	Cash         float64
}

// Position is a broker-reported open position.
type Position struct {
	Symbol     string
	Qty        float64
	EntryPrice float64
	MarketPrice float64
}

// OrderRequest describes a day-limit order to submit. SL/TP are bookkeeping
// only; this system never submits a broker-side stop or take-profit order,
// it manages exits itself via the exit monitor.
type OrderRequest struct {
	Symbol     string
	Side       Side
	Qty        float64
	LimitPrice float64
}

// Order is the broker's view of a submitted order.
type Order struct {
	OrderID    string
	Symbol     string
	Side       Side
	Qty        float64
	FilledQty  float64
	AvgPrice   float64
	Status     string
	LimitPrice float64
	SubmittedAt time.Time
}

// Broker is the trading-venue abstraction the execution router, exit
// monitor, and order tracker depend on. AlpacaBroker is the only production
// implementation; tests use a fake.
type Broker interface {
	Quote(ctx context.Context, symbol string) (Quote, error)
	AccountBalance(ctx context.Context) (Account, error)
	StockPositions(ctx context.Context) ([]Position, error)
	SubmitOrder(ctx context.Context, req OrderRequest) (Order, error)
	CancelOrder(ctx context.Context, orderID string) error
	TodayOrders(ctx context.Context) ([]Order, error)
	OrderDetail(ctx context.Context, orderID string) (Order, error)
}

// AlpacaBroker implements Broker against Alpaca's trading REST API.
type AlpacaBroker struct {
	apiKey    string
	apiSecret string
	baseURL   string
	dataURL   string
	http      *http.Client
}

// NewAlpacaBroker builds a broker client against the paper or live Alpaca
// endpoint depending on isPaper.
func NewAlpacaBroker(apiKey, apiSecret string, isPaper bool) *AlpacaBroker {
	baseURL := "https://api.alpaca.markets"
	if isPaper {
		baseURL = "https://paper-api.alpaca.markets"
	}
	return &AlpacaBroker{
		apiKey:    apiKey,
		apiSecret: apiSecret,
		baseURL:   baseURL,
		dataURL:   "https://data.alpaca.markets",
		http:      &http.Client{Timeout: 30 * time.Second},
	}
}

// marketSuffix is the market code appended to bare watchlist tickers when
// talking to the broker; US equities only, per scope.
const marketSuffix = ".US"

// mapSymbol converts a bare uppercase watchlist ticker to its broker-facing
// form, suffixed with the market code. Idempotent: already-suffixed symbols
// pass through unchanged.
func mapSymbol(symbol string) string {
	symbol = strings.ToUpper(strings.TrimSpace(symbol))
	if strings.HasSuffix(symbol, marketSuffix) {
		return symbol
	}
	return symbol + marketSuffix
}

// stripMarketSuffix recovers the bare watchlist ticker from a broker symbol.
func stripMarketSuffix(symbol string) string {
	return strings.TrimSuffix(strings.ToUpper(symbol), marketSuffix)
}

func (b *AlpacaBroker) doRequest(ctx context.Context, method, baseURL, path string, body interface{}) ([]byte, error) {
	var reqBody io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, apperr.Wrap(apperr.Broker, "marshal request body", err)
		}
		reqBody = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, baseURL+path, reqBody)
	if err != nil {
		return nil, apperr.Wrap(apperr.Broker, "build request", err)
	}
	req.Header.Set("APCA-API-KEY-ID", b.apiKey)
	req.Header.Set("APCA-API-SECRET-KEY", b.apiSecret)
	req.Header.Set("Content-Type", "application/json")

	resp, err := b.http.Do(req)
	if err != nil {
		return nil, apperr.Wrap(apperr.Broker, "request failed", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, apperr.Wrap(apperr.Broker, "read response", err)
	}
	if resp.StatusCode >= 400 {
		return nil, apperr.Wrap(apperr.Broker, fmt.Sprintf("Alpaca API error (status %d): %s", resp.StatusCode, string(respBody)), nil)
	}
	return respBody, nil
}

type alpacaLatestTrade struct {
	Trade struct {
		Price float64   `json:"p"`
		Time  time.Time `json:"t"`
	} `json:"trade"`
}

type alpacaLatestQuote struct {
	Quote struct {
		BidPrice float64   `json:"bp"`
		AskPrice float64   `json:"ap"`
		Time     time.Time `json:"t"`
	} `json:"quote"`
}

// Quote fetches the latest trade price plus the latest NBBO bid/ask for
// symbol. A failure to fetch the NBBO quote is non-fatal: the last trade
// price still makes a usable (if less aggressive) marketable limit.
func (b *AlpacaBroker) Quote(ctx context.Context, symbol string) (Quote, error) {
	symbol = mapSymbol(symbol)

	tradeResp, err := b.doRequest(ctx, http.MethodGet, b.dataURL, fmt.Sprintf("/v2/stocks/%s/trades/latest", symbol), nil)
	if err != nil {
		return Quote{}, err
	}
	var trade alpacaLatestTrade
	if err := json.Unmarshal(tradeResp, &trade); err != nil {
		return Quote{}, apperr.Wrap(apperr.UpstreamData, "parse latest trade", err)
	}

	q := Quote{Symbol: stripMarketSuffix(symbol), Price: trade.Trade.Price, AtUTC: trade.Trade.Time.UTC()}

	quoteResp, err := b.doRequest(ctx, http.MethodGet, b.dataURL, fmt.Sprintf("/v2/stocks/%s/quotes/latest", symbol), nil)
	if err != nil {
		log.Warnf("NBBO quote fetch failed for %s, using last trade only: %v", symbol, err)
		return q, nil
	}
	var nbbo alpacaLatestQuote
	if err := json.Unmarshal(quoteResp, &nbbo); err != nil {
		log.Warnf("parse NBBO quote failed for %s, using last trade only: %v", symbol, err)
		return q, nil
	}
	q.Bid = nbbo.Quote.BidPrice
	q.Ask = nbbo.Quote.AskPrice
	return q, nil
}

type alpacaAccount struct {
	Equity      string `json:"equity"`
	BuyingPower string `json:"buying_power"`
	Cash        string `json:"cash"`
}

// AccountBalance fetches equity, buying power, and cash.
func (b *AlpacaBroker) AccountBalance(ctx context.Context) (Account, error) {
	resp, err := b.doRequest(ctx, http.MethodGet, b.baseURL, "/v2/account", nil)
	if err != nil {
		return Account{}, err
	}
	var parsed alpacaAccount
	if err := json.Unmarshal(resp, &parsed); err != nil {
		return Account{}, apperr.Wrap(apperr.UpstreamData, "parse account", err)
	}
	equity, _ := strconv.ParseFloat(parsed.Equity, 64)
	bp, _ := strconv.ParseFloat(parsed.BuyingPower, 64)
	cash, _ := strconv.ParseFloat(parsed.Cash, 64)
	return Account{Equity: equity, BuyingPower: bp, Cash: cash}, nil
}

type alpacaPosition struct {
	Symbol        string `json:"symbol"`
	Qty           string `json:"qty"`
	AvgEntryPrice string `json:"avg_entry_price"`
	CurrentPrice  string `json:"current_price"`
}

// StockPositions lists all open long positions.
func (b *AlpacaBroker) StockPositions(ctx context.Context) ([]Position, error) {
	resp, err := b.doRequest(ctx, http.MethodGet, b.baseURL, "/v2/positions", nil)
	if err != nil {
		return nil, err
	}
	var parsed []alpacaPosition
	if err := json.Unmarshal(resp, &parsed); err != nil {
		return nil, apperr.Wrap(apperr.UpstreamData, "parse positions", err)
	}
	out := make([]Position, 0, len(parsed))
	for _, p := range parsed {
		qty, _ := strconv.ParseFloat(p.Qty, 64)
		entry, _ := strconv.ParseFloat(p.AvgEntryPrice, 64)
		mkt, _ := strconv.ParseFloat(p.CurrentPrice, 64)
		out = append(out, Position{Symbol: stripMarketSuffix(p.Symbol), Qty: qty, EntryPrice: entry, MarketPrice: mkt})
	}
	return out, nil
}

type alpacaOrder struct {
	OrderID       string `json:"id"`
	Symbol        string `json:"symbol"`
	Side          string `json:"side"`
	Qty           string `json:"qty"`
	FilledQty     string `json:"filled_qty"`
	FilledAvgPrice string `json:"filled_avg_price"`
	Status        string `json:"status"`
	LimitPrice    string `json:"limit_price"`
	SubmittedAt   time.Time `json:"submitted_at"`
}

func (o alpacaOrder) toOrder() Order {
	qty, _ := strconv.ParseFloat(o.Qty, 64)
	filled, _ := strconv.ParseFloat(o.FilledQty, 64)
	avg, _ := strconv.ParseFloat(o.FilledAvgPrice, 64)
	limit, _ := strconv.ParseFloat(o.LimitPrice, 64)
	return Order{
		OrderID:     o.OrderID,
		Symbol:      stripMarketSuffix(o.Symbol),
		Side:        Side(o.Side),
		Qty:         qty,
		FilledQty:   filled,
		AvgPrice:    avg,
		Status:      strings.ToUpper(o.Status),
		LimitPrice:  limit,
		SubmittedAt: o.SubmittedAt.UTC(),
	}
}

// SubmitOrder submits a day-limit order. Only "buy"/"sell" of a long
// position are accepted; SL/TP are never forwarded to the broker.
func (b *AlpacaBroker) SubmitOrder(ctx context.Context, req OrderRequest) (Order, error) {
	symbol := mapSymbol(req.Symbol)
	payload := map[string]interface{}{
		"symbol":        symbol,
		"qty":           strconv.FormatFloat(req.Qty, 'f', -1, 64),
		"side":          string(req.Side),
		"type":          "limit",
		"time_in_force": "day",
		"limit_price":   strconv.FormatFloat(req.LimitPrice, 'f', 2, 64),
	}
	resp, err := b.doRequest(ctx, http.MethodPost, b.baseURL, "/v2/orders", payload)
	if err != nil {
		return Order{}, err
	}
	var parsed alpacaOrder
	if err := json.Unmarshal(resp, &parsed); err != nil {
		return Order{}, apperr.Wrap(apperr.UpstreamData, "parse submitted order", err)
	}
	log.Infof("submitted %s %s qty=%.4f limit=%.2f order_id=%s", req.Side, symbol, req.Qty, req.LimitPrice, parsed.OrderID)
	return parsed.toOrder(), nil
}

// CancelOrder cancels an open order by broker order id.
func (b *AlpacaBroker) CancelOrder(ctx context.Context, orderID string) error {
	_, err := b.doRequest(ctx, http.MethodDelete, b.baseURL, "/v2/orders/"+orderID, nil)
	return err
}

// TodayOrders lists all orders submitted today, for best-effort
// reconciliation of pending orders by id.
func (b *AlpacaBroker) TodayOrders(ctx context.Context) ([]Order, error) {
	resp, err := b.doRequest(ctx, http.MethodGet, b.baseURL, "/v2/orders?status=all&limit=500", nil)
	if err != nil {
		return nil, err
	}
	var parsed []alpacaOrder
	if err := json.Unmarshal(resp, &parsed); err != nil {
		return nil, apperr.Wrap(apperr.UpstreamData, "parse today orders", err)
	}
	out := make([]Order, 0, len(parsed))
	for _, o := range parsed {
		out = append(out, o.toOrder())
	}
	return out, nil
}

// OrderDetail fetches a single order by id, used as a fallback when
// TodayOrders doesn't contain a pending order (e.g. submitted on a prior
// day and still open).
func (b *AlpacaBroker) OrderDetail(ctx context.Context, orderID string) (Order, error) {
	resp, err := b.doRequest(ctx, http.MethodGet, b.baseURL, "/v2/orders/"+orderID, nil)
	if err != nil {
		return Order{}, err
	}
	var parsed alpacaOrder
	if err := json.Unmarshal(resp, &parsed); err != nil {
		return Order{}, apperr.Wrap(apperr.UpstreamData, "parse order detail", err)
	}
	return parsed.toOrder(), nil
}
