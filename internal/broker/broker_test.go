package broker

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMapSymbolAppendsMarketSuffix(t *testing.T) {
	assert.Equal(t, "AAPL.US", mapSymbol("aapl"))
	assert.Equal(t, "BRK.US", mapSymbol("BRK.US"))
	assert.Equal(t, "MSFT.US", mapSymbol(" msft "))
}

func TestStripMarketSuffixRecoversBareTicker(t *testing.T) {
	assert.Equal(t, "AAPL", stripMarketSuffix("AAPL.US"))
	assert.Equal(t, "AAPL", stripMarketSuffix("aapl.us"))
}

func TestAlpacaOrderToOrderParsesStringNumerics(t *testing.T) {
	raw := alpacaOrder{
		OrderID:        "abc-123",
		Symbol:         "AAPL",
		Side:           "buy",
		Qty:            "10",
		FilledQty:      "10",
		FilledAvgPrice: "150.25",
		Status:         "filled",
		LimitPrice:     "150.00",
	}
	order := raw.toOrder()
	assert.Equal(t, 10.0, order.Qty)
	assert.Equal(t, 150.25, order.AvgPrice)
	assert.Equal(t, "FILLED", order.Status)
	assert.Equal(t, Buy, order.Side)
}

func TestAlpacaOrderToOrderToleratesBlankNumerics(t *testing.T) {
	raw := alpacaOrder{OrderID: "x", Symbol: "AAPL", Side: "sell", Status: "new"}
	order := raw.toOrder()
	assert.Equal(t, 0.0, order.Qty)
	assert.Equal(t, 0.0, order.AvgPrice)
	assert.Equal(t, "NEW", order.Status)
}

func TestQuoteReturnsLastTradeAndNBBO(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case strings.HasSuffix(r.URL.Path, "/trades/latest"):
			fmt.Fprint(w, `{"trade":{"p":50.11,"t":"2026-07-29T14:00:00Z"}}`)
		case strings.HasSuffix(r.URL.Path, "/quotes/latest"):
			fmt.Fprint(w, `{"quote":{"bp":50.10,"ap":50.12,"t":"2026-07-29T14:00:00Z"}}`)
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer srv.Close()

	b := &AlpacaBroker{dataURL: srv.URL, http: srv.Client()}
	q, err := b.Quote(context.Background(), "AAPL")
	require.NoError(t, err)
	assert.Equal(t, 50.11, q.Price)
	assert.Equal(t, 50.10, q.Bid)
	assert.Equal(t, 50.12, q.Ask)
}

func TestQuoteToleratesNBBOFetchFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case strings.HasSuffix(r.URL.Path, "/trades/latest"):
			fmt.Fprint(w, `{"trade":{"p":45.90,"t":"2026-07-29T14:00:00Z"}}`)
		default:
			w.WriteHeader(http.StatusInternalServerError)
		}
	}))
	defer srv.Close()

	b := &AlpacaBroker{dataURL: srv.URL, http: srv.Client()}
	q, err := b.Quote(context.Background(), "AAPL")
	require.NoError(t, err)
	assert.Equal(t, 45.90, q.Price)
	assert.Equal(t, 0.0, q.Bid)
	assert.Equal(t, 0.0, q.Ask)
}
