// Package state is the durable trading-state document: idempotency keys,
// per-day buy counters, symbol cooldowns, open positions and pending
// orders, persisted as a single JSON file with atomic replace, grounded on
// the reference state store's load/save/mark_executed/cooldown helpers.
package state

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/wssxwz/stock-strategy/internal/apperr"
)

const currentVersion = 1

// ExecutedRecord marks that an idempotency key has already been acted on.
type ExecutedRecord struct {
	At   time.Time      `json:"at"`
	Meta map[string]any `json:"meta,omitempty"`
}

// Cooldown blocks new entries on a symbol until a deadline.
type Cooldown struct {
	Until  time.Time `json:"until"`
	Reason string    `json:"reason"`
}

// OpenPosition is the locally tracked view of a live position.
type OpenPosition struct {
	Qty    float64        `json:"qty"`
	Entry  *float64       `json:"entry,omitempty"`
	SL     *float64       `json:"sl,omitempty"`
	TP     *float64       `json:"tp,omitempty"`
	At     string         `json:"at,omitempty"`
	Meta   map[string]any `json:"meta,omitempty"`
}

// PendingOrder tracks a submitted order awaiting a fill or terminal status.
type PendingOrder struct {
	Symbol     string  `json:"symbol"`
	Side       string  `json:"side"`
	Qty        float64 `json:"qty"`
	LimitPrice float64 `json:"limit_price"`
	SL         *float64 `json:"sl,omitempty"`
	TP         *float64 `json:"tp,omitempty"`
	Reason     string  `json:"reason,omitempty"`
	Status     string  `json:"status"`
	FilledQty  float64 `json:"filled_qty,omitempty"`
	AvgPrice   float64 `json:"avg_price,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
}

// ExecSkip records the most recent reason a candidate did not execute, kept
// for operator visibility.
type ExecSkip struct {
	Symbol string    `json:"symbol"`
	Reason string    `json:"reason"`
	At     time.Time `json:"at"`
}

// Document is the full persisted trading-state shape.
type Document struct {
	Version       int                        `json:"version"`
	UpdatedAt     time.Time                  `json:"updated_at"`
	ExecutedKeys  map[string]ExecutedRecord  `json:"executed_keys"`
	Daily         map[string]int             `json:"daily"`
	Cooldowns     map[string]Cooldown        `json:"cooldowns"`
	OpenPositions map[string]OpenPosition    `json:"open_positions"`
	PendingOrders map[string]PendingOrder    `json:"pending_orders"`
	LastExecSkip  *ExecSkip                  `json:"last_exec_skip,omitempty"`
}

func newDocument() Document {
	return Document{
		Version:       currentVersion,
		UpdatedAt:     time.Now().UTC(),
		ExecutedKeys:  map[string]ExecutedRecord{},
		Daily:         map[string]int{},
		Cooldowns:     map[string]Cooldown{},
		OpenPositions: map[string]OpenPosition{},
		PendingOrders: map[string]PendingOrder{},
	}
}

// Store is a mutex-guarded, file-backed trading-state document. Every
// mutating method loads, mutates, and atomically persists under the same
// lock, matching the reference implementation's read-modify-write pattern
// but collapsed into a single process-wide critical section instead of a
// file reload per call.
type Store struct {
	mu   sync.Mutex
	path string
	doc  Document
}

// Open loads the state document at path, creating a fresh one if the file
// does not yet exist.
func Open(path string) (*Store, error) {
	s := &Store{path: path}
	doc, err := load(path)
	if err != nil {
		return nil, err
	}
	s.doc = doc
	return s, nil
}

func load(path string) (Document, error) {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return newDocument(), nil
	}
	if err != nil {
		return Document{}, apperr.Wrap(apperr.Configuration, "read trading state", err)
	}
	var doc Document
	if err := json.Unmarshal(data, &doc); err != nil {
		return Document{}, apperr.Wrap(apperr.Configuration, "parse trading state", err)
	}
	if doc.ExecutedKeys == nil {
		doc.ExecutedKeys = map[string]ExecutedRecord{}
	}
	if doc.Daily == nil {
		doc.Daily = map[string]int{}
	}
	if doc.Cooldowns == nil {
		doc.Cooldowns = map[string]Cooldown{}
	}
	if doc.OpenPositions == nil {
		doc.OpenPositions = map[string]OpenPosition{}
	}
	if doc.PendingOrders == nil {
		doc.PendingOrders = map[string]PendingOrder{}
	}
	return doc, nil
}

// save writes the document atomically: write to a temp file in the same
// directory, then rename, so a crash mid-write never corrupts the document
// a concurrent reader could observe.
func (s *Store) save() error {
	s.doc.UpdatedAt = time.Now().UTC()
	data, err := json.MarshalIndent(s.doc, "", "  ")
	if err != nil {
		return apperr.Wrap(apperr.Configuration, "marshal trading state", err)
	}
	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return apperr.Wrap(apperr.Configuration, "create trading state dir", err)
	}
	tmp, err := os.CreateTemp(dir, ".trading_state-*.tmp")
	if err != nil {
		return apperr.Wrap(apperr.Configuration, "create temp state file", err)
	}
	tmpPath := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return apperr.Wrap(apperr.Configuration, "write temp state file", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return apperr.Wrap(apperr.Configuration, "close temp state file", err)
	}
	if err := os.Rename(tmpPath, s.path); err != nil {
		os.Remove(tmpPath)
		return apperr.Wrap(apperr.Configuration, "replace trading state file", err)
	}
	return nil
}

// WasExecuted reports whether an idempotency key has already been marked
// executed.
func (s *Store) WasExecuted(key string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.doc.ExecutedKeys[key]
	return ok
}

// MarkExecuted records an idempotency key as executed.
func (s *Store) MarkExecuted(key string, meta map[string]any) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.doc.ExecutedKeys[key] = ExecutedRecord{At: time.Now().UTC(), Meta: meta}
	return s.save()
}

// DailyCount returns the number of buys executed so far on dayKey (a
// UTC-calendar-day key, e.g. "2026-07-29").
func (s *Store) DailyCount(dayKey string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.doc.Daily[dayKey]
}

// IncDaily increments the buy counter for dayKey.
func (s *Store) IncDaily(dayKey string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.doc.Daily[dayKey]++
	return s.save()
}

// SetCooldown blocks new entries on symbol until the given deadline.
func (s *Store) SetCooldown(symbol string, until time.Time, reason string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.doc.Cooldowns[symbol] = Cooldown{Until: until, Reason: reason}
	return s.save()
}

// CooldownActive reports whether symbol is currently cooling down.
func (s *Store) CooldownActive(symbol string) (bool, string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cd, ok := s.doc.Cooldowns[symbol]
	if !ok {
		return false, ""
	}
	if time.Now().UTC().Before(cd.Until) {
		return true, cd.Reason
	}
	return false, ""
}

// AddOpenPosition records (or overwrites) the local view of an open position.
func (s *Store) AddOpenPosition(symbol string, pos OpenPosition) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.doc.OpenPositions[symbol] = pos
	return s.save()
}

// RemoveOpenPosition drops the local view of a position, e.g. on a full exit.
func (s *Store) RemoveOpenPosition(symbol string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.doc.OpenPositions, symbol)
	return s.save()
}

// OpenPositions returns a snapshot copy of all locally tracked positions.
func (s *Store) OpenPositions() map[string]OpenPosition {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]OpenPosition, len(s.doc.OpenPositions))
	for k, v := range s.doc.OpenPositions {
		out[k] = v
	}
	return out
}

// AddPendingOrder registers a newly submitted order by its broker/synthetic
// order id.
func (s *Store) AddPendingOrder(orderID string, order PendingOrder) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.doc.PendingOrders[orderID] = order
	return s.save()
}

// UpdatePendingOrder merges a patch (status/filled_qty/avg_price) into an
// existing pending order.
func (s *Store) UpdatePendingOrder(orderID string, patch func(*PendingOrder)) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.doc.PendingOrders[orderID]
	if !ok {
		return apperr.New(apperr.StateConflict, "unknown pending order: "+orderID)
	}
	patch(&rec)
	s.doc.PendingOrders[orderID] = rec
	return s.save()
}

// RemovePendingOrder drops a pending order once it reaches a terminal state.
func (s *Store) RemovePendingOrder(orderID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.doc.PendingOrders, orderID)
	return s.save()
}

// PendingOrders returns a snapshot copy of all pending orders, keyed by
// order id.
func (s *Store) PendingOrders() map[string]PendingOrder {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]PendingOrder, len(s.doc.PendingOrders))
	for k, v := range s.doc.PendingOrders {
		out[k] = v
	}
	return out
}

// SetLastExecSkip records the most recent skip reason for operator
// visibility; it does not affect routing decisions.
func (s *Store) SetLastExecSkip(symbol, reason string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.doc.LastExecSkip = &ExecSkip{Symbol: symbol, Reason: reason, At: time.Now().UTC()}
	return s.save()
}
