// Package marketdata provides historical OHLCV bars for (symbol, interval,
// date range) from Alpaca's market-data API, with automatic split
// adjustment, grounded on the reference Alpaca historical-bars client.
package marketdata

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/wssxwz/stock-strategy/internal/apperr"
	"github.com/wssxwz/stock-strategy/internal/bar"
	"github.com/wssxwz/stock-strategy/internal/logger"
)

var log = logger.New("marketdata")

const (
	dataBaseURL  = "https://data.alpaca.markets/v2/stocks"
	maxBarLimit  = 10000
)

// Client fetches historical bars from Alpaca's data API.
type Client struct {
	apiKey    string
	apiSecret string
	http      *http.Client
}

// NewClient builds a market-data client authenticated with the given
// Alpaca API key/secret pair.
func NewClient(apiKey, apiSecret string) *Client {
	return &Client{
		apiKey:    apiKey,
		apiSecret: apiSecret,
		http:      &http.Client{Timeout: 30 * time.Second},
	}
}

type alpacaBar struct {
	Timestamp string  `json:"t"`
	Open      float64 `json:"o"`
	High      float64 `json:"h"`
	Low       float64 `json:"l"`
	Close     float64 `json:"c"`
	Volume    float64 `json:"v"`
}

type alpacaBarsResponse struct {
	Bars          []alpacaBar `json:"bars"`
	NextPageToken string      `json:"next_page_token"`
	Symbol        string      `json:"symbol"`
}

func mapInterval(i bar.Interval) string {
	switch i {
	case bar.Interval1Hour:
		return "1Hour"
	case bar.Interval1Day:
		return "1Day"
	default:
		return "1Hour"
	}
}

// FetchBars fetches OHLCV bars for symbol over [start, end), paginating
// through next_page_token, and returns them sorted ascending. The consumer
// strips timezone info; timestamps returned here are already UTC.
func (c *Client) FetchBars(ctx context.Context, symbol string, interval bar.Interval, start, end time.Time) ([]bar.Bar, error) {
	if !end.After(start) {
		return nil, apperr.New(apperr.Configuration, "end time must be after start time")
	}
	if c.apiKey == "" || c.apiSecret == "" {
		return nil, apperr.New(apperr.Configuration, "Alpaca API credentials not configured")
	}

	symbol = strings.ToUpper(symbol)
	tf := mapInterval(interval)

	var all []bar.Bar
	pageToken := ""

	for {
		url := fmt.Sprintf("%s/%s/bars", dataBaseURL, symbol)
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if err != nil {
			return nil, apperr.Wrap(apperr.UpstreamData, "build request", err)
		}
		req.Header.Set("APCA-API-KEY-ID", c.apiKey)
		req.Header.Set("APCA-API-SECRET-KEY", c.apiSecret)

		q := req.URL.Query()
		q.Set("timeframe", tf)
		q.Set("start", start.Format(time.RFC3339))
		q.Set("end", end.Format(time.RFC3339))
		q.Set("limit", fmt.Sprintf("%d", maxBarLimit))
		q.Set("adjustment", "split")
		if pageToken != "" {
			q.Set("page_token", pageToken)
		}
		req.URL.RawQuery = q.Encode()

		resp, err := c.http.Do(req)
		if err != nil {
			return nil, apperr.Wrap(apperr.UpstreamData, "Alpaca bars request failed", err)
		}
		body, err := io.ReadAll(resp.Body)
		resp.Body.Close()
		if err != nil {
			return nil, apperr.Wrap(apperr.UpstreamData, "read response body", err)
		}
		if resp.StatusCode != http.StatusOK {
			return nil, apperr.Wrap(apperr.UpstreamData, fmt.Sprintf("Alpaca returned status %d: %s", resp.StatusCode, string(body)), nil)
		}

		var parsed alpacaBarsResponse
		if err := json.Unmarshal(body, &parsed); err != nil {
			return nil, apperr.Wrap(apperr.UpstreamData, "parse Alpaca response", err)
		}

		for _, ab := range parsed.Bars {
			ts, err := time.Parse(time.RFC3339, ab.Timestamp)
			if err != nil {
				log.Warnf("skipping bar with unparseable timestamp %q for %s", ab.Timestamp, symbol)
				continue
			}
			all = append(all, bar.Bar{
				Timestamp: ts.UTC(),
				Open:      ab.Open,
				High:      ab.High,
				Low:       ab.Low,
				Close:     ab.Close,
				Volume:    ab.Volume,
			})
		}

		if parsed.NextPageToken == "" || len(parsed.Bars) == 0 {
			break
		}
		pageToken = parsed.NextPageToken
	}

	return all, nil
}
