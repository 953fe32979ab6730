// Package store is the local time-series store: append-only OHLCV bars per
// (symbol, interval), backed by sqlite, with a sliding-window sync layer
// that merges an upstream fetch and deduplicates by timestamp.
package store

import (
	"context"
	"database/sql"
	"sort"
	"time"

	_ "modernc.org/sqlite"

	"github.com/wssxwz/stock-strategy/internal/apperr"
	"github.com/wssxwz/stock-strategy/internal/bar"
	"github.com/wssxwz/stock-strategy/internal/logger"
)

var log = logger.New("store")

// Fetcher is the upstream market-data source the sync layer pulls from.
// Implemented by internal/marketdata.Client.
type Fetcher interface {
	FetchBars(ctx context.Context, symbol string, interval bar.Interval, start, end time.Time) ([]bar.Bar, error)
}

// Store is a sqlite-backed OHLCV time-series store.
type Store struct {
	db      *sql.DB
	fetcher Fetcher
}

// Open opens (creating if necessary) a sqlite-backed store at path and runs
// schema migration.
func Open(path string, fetcher Fetcher) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, apperr.Wrap(apperr.Configuration, "open store db", err)
	}
	s := &Store{db: db, fetcher: fetcher}
	if err := s.initSchema(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Store) initSchema() error {
	_, err := s.db.Exec(`
CREATE TABLE IF NOT EXISTS bars (
	symbol    TEXT NOT NULL,
	interval  TEXT NOT NULL,
	ts        INTEGER NOT NULL,
	open      REAL NOT NULL,
	high      REAL NOT NULL,
	low       REAL NOT NULL,
	close     REAL NOT NULL,
	volume    REAL NOT NULL,
	PRIMARY KEY (symbol, interval, ts)
);
CREATE INDEX IF NOT EXISTS idx_bars_symbol_interval_ts ON bars(symbol, interval, ts);
`)
	if err != nil {
		return apperr.Wrap(apperr.Configuration, "init store schema", err)
	}
	return nil
}

// Close closes the underlying database handle.
func (s *Store) Close() error { return s.db.Close() }

// LoadLocal returns all bars currently stored for (symbol, interval),
// sorted ascending by timestamp. Unknown intervals return a
// ConfigurationError.
func (s *Store) LoadLocal(ctx context.Context, symbol string, interval bar.Interval) ([]bar.Bar, error) {
	if !interval.Valid() {
		return nil, apperr.New(apperr.Configuration, "unsupported interval: "+string(interval))
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT ts, open, high, low, close, volume FROM bars WHERE symbol = ? AND interval = ? ORDER BY ts ASC`,
		symbol, string(interval))
	if err != nil {
		return nil, apperr.Wrap(apperr.Broker, "load local bars", err)
	}
	defer rows.Close()

	var out []bar.Bar
	for rows.Next() {
		var ts int64
		var b bar.Bar
		if err := rows.Scan(&ts, &b.Open, &b.High, &b.Low, &b.Close, &b.Volume); err != nil {
			return nil, apperr.Wrap(apperr.UpstreamData, "scan bar row", err)
		}
		b.Timestamp = time.Unix(ts, 0).UTC()
		out = append(out, b)
	}
	return out, rows.Err()
}

// upsert merges the given bars into the store, last-writer-wins within the
// batch, and leaves existing rows for timestamps not present in the batch
// untouched.
func (s *Store) upsert(ctx context.Context, symbol string, interval bar.Interval, bars []bar.Bar) error {
	if len(bars) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return apperr.Wrap(apperr.Broker, "begin sync tx", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
INSERT INTO bars (symbol, interval, ts, open, high, low, close, volume)
VALUES (?, ?, ?, ?, ?, ?, ?, ?)
ON CONFLICT(symbol, interval, ts) DO UPDATE SET
	open=excluded.open, high=excluded.high, low=excluded.low,
	close=excluded.close, volume=excluded.volume
`)
	if err != nil {
		return apperr.Wrap(apperr.Broker, "prepare upsert", err)
	}
	defer stmt.Close()

	dedup := dedupeByTimestamp(bars)
	for _, b := range dedup {
		if _, err := stmt.ExecContext(ctx, symbol, string(interval), b.Timestamp.UTC().Unix(),
			b.Open, b.High, b.Low, b.Close, b.Volume); err != nil {
			return apperr.Wrap(apperr.Broker, "upsert bar", err)
		}
	}
	return tx.Commit()
}

// dedupeByTimestamp keeps the last bar for each timestamp (last-writer
// wins within the batch), then sorts ascending.
func dedupeByTimestamp(bars []bar.Bar) []bar.Bar {
	byTS := make(map[int64]bar.Bar, len(bars))
	for _, b := range bars {
		byTS[b.Timestamp.UTC().Unix()] = b
	}
	out := make([]bar.Bar, 0, len(byTS))
	for _, b := range byTS {
		out = append(out, b)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Timestamp.Before(out[j].Timestamp) })
	return out
}

// Sync fetches upstream from (now - lookbackDays .. now + 1 day), merges
// into the local store, deduplicates, and persists. If the upstream fetch
// returns an empty batch and local data already exists, local data is
// returned unchanged (upstream failures never erase local data).
func (s *Store) Sync(ctx context.Context, symbol string, interval bar.Interval, lookbackDays int) ([]bar.Bar, error) {
	if !interval.Valid() {
		return nil, apperr.New(apperr.Configuration, "unsupported interval: "+string(interval))
	}

	existing, err := s.LoadLocal(ctx, symbol, interval)
	if err != nil {
		return nil, err
	}

	end := time.Now().UTC().Add(24 * time.Hour)
	start := end.Add(-time.Duration(lookbackDays) * 24 * time.Hour)

	fetched, err := s.fetcher.FetchBars(ctx, symbol, interval, start, end)
	if err != nil {
		if len(existing) > 0 {
			log.Warnf("sync fetch failed for %s %s, serving %d local bars: %v", symbol, interval, len(existing), err)
			return existing, nil
		}
		return nil, apperr.Wrap(apperr.UpstreamData, "fetch bars", err)
	}
	if len(fetched) == 0 {
		if len(existing) > 0 {
			return existing, nil
		}
		return nil, nil
	}

	if err := s.upsert(ctx, symbol, interval, fetched); err != nil {
		return nil, err
	}
	return s.LoadLocal(ctx, symbol, interval)
}

// SyncAndLoad is Sync but first inspects the local gap from the last
// stored bar to now; if that gap exceeds gapDaysThreshold, the initial
// lookback is auto-extended up to maxAutoLookbackDays.
func (s *Store) SyncAndLoad(ctx context.Context, symbol string, interval bar.Interval, lookbackDays int, gapDaysThreshold, maxAutoLookbackDays int) ([]bar.Bar, error) {
	existing, err := s.LoadLocal(ctx, symbol, interval)
	if err != nil {
		return nil, err
	}

	effectiveLookback := lookbackDays
	if len(existing) > 0 {
		last := existing[len(existing)-1].Timestamp
		gapDays := int(time.Since(last).Hours() / 24)
		if gapDays > gapDaysThreshold {
			effectiveLookback = lookbackDays + gapDays
			if effectiveLookback > maxAutoLookbackDays {
				effectiveLookback = maxAutoLookbackDays
			}
			log.Infof("gap of %d days detected for %s %s, extending lookback to %d days", gapDays, symbol, interval, effectiveLookback)
		}
	}

	return s.Sync(ctx, symbol, interval, effectiveLookback)
}
