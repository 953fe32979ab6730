// Package ledger is the append-only paper-trading record: every order
// intent (and its simulated or real fill) is appended as one JSON line,
// never mutated in place, grounded on the reference paper executor.
package ledger

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/wssxwz/stock-strategy/internal/apperr"
)

// Intent is one order intent the router decided to place.
type Intent struct {
	CreatedAt  time.Time      `json:"created_at"`
	Symbol     string         `json:"symbol"`
	Side       string         `json:"side"`
	Qty        int            `json:"qty"`
	OrderType  string         `json:"order_type"` // "LO" (limit) only, per scope
	LimitPrice *float64       `json:"limit_price,omitempty"`
	SLPrice    *float64       `json:"sl_price,omitempty"`
	TPPrice    *float64       `json:"tp_price,omitempty"`
	Remark     string         `json:"remark"`
	Source     map[string]any `json:"source,omitempty"`
}

// Record is one appended ledger line: an intent plus its outcome so far.
type Record struct {
	Intent
	Status    string   `json:"status"`
	FillPrice *float64 `json:"fill_price,omitempty"`
	OrderID   string   `json:"order_id,omitempty"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Ledger appends records to a single JSON-Lines file.
type Ledger struct {
	mu   sync.Mutex
	path string
}

// Open returns a Ledger writing to path, creating the parent directory if
// needed. The file itself is created lazily on first append.
func Open(path string) (*Ledger, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, apperr.Wrap(apperr.Configuration, "create ledger dir", err)
	}
	return &Ledger{path: path}, nil
}

// Append writes one record as a JSON line. status defaults to "PENDING" if
// empty; fillPrice is nil for an as-yet-unfilled order.
func (l *Ledger) Append(intent Intent, status string, fillPrice *float64, orderID string) error {
	if status == "" {
		status = "PENDING"
	}
	rec := Record{
		Intent:    intent,
		Status:    status,
		FillPrice: fillPrice,
		OrderID:   orderID,
		UpdatedAt: time.Now().UTC(),
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	f, err := os.OpenFile(l.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return apperr.Wrap(apperr.Configuration, "open ledger file", err)
	}
	defer f.Close()

	data, err := json.Marshal(rec)
	if err != nil {
		return apperr.Wrap(apperr.Configuration, "marshal ledger record", err)
	}
	if _, err := f.Write(append(data, '\n')); err != nil {
		return apperr.Wrap(apperr.Configuration, "append ledger record", err)
	}
	return nil
}

// NewIntent builds an Intent stamped with the current time.
func NewIntent(symbol, side string, qty int, orderType string, limitPrice, slPrice, tpPrice *float64, remark string, source map[string]any) Intent {
	return Intent{
		CreatedAt:  time.Now().UTC(),
		Symbol:     symbol,
		Side:       side,
		Qty:        qty,
		OrderType:  orderType,
		LimitPrice: limitPrice,
		SLPrice:    slPrice,
		TPPrice:    tpPrice,
		Remark:     remark,
		Source:     source,
	}
}
