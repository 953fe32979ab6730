package store

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wssxwz/stock-strategy/internal/bar"
)

type fakeFetcher struct {
	bars []bar.Bar
	err  error
	calls int
}

func (f *fakeFetcher) FetchBars(ctx context.Context, symbol string, interval bar.Interval, start, end time.Time) ([]bar.Bar, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return f.bars, nil
}

func openTestStore(t *testing.T, fetcher Fetcher) *Store {
	t.Helper()
	s, err := Open(":memory:", fetcher)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestSyncMergesAndDedupes(t *testing.T) {
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	fetcher := &fakeFetcher{bars: []bar.Bar{
		{Timestamp: base, Close: 10},
		{Timestamp: base.Add(time.Hour), Close: 11},
		{Timestamp: base.Add(time.Hour), Close: 11.5}, // duplicate ts, later wins
	}}
	s := openTestStore(t, fetcher)

	bars, err := s.Sync(context.Background(), "AAPL", bar.Interval1Hour, 5)
	require.NoError(t, err)
	require.Len(t, bars, 2)
	assert.Equal(t, 11.5, bars[1].Close)
}

func TestSyncTwiceDoesNotDuplicate(t *testing.T) {
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	fetcher := &fakeFetcher{bars: []bar.Bar{
		{Timestamp: base, Close: 10},
		{Timestamp: base.Add(time.Hour), Close: 11},
	}}
	s := openTestStore(t, fetcher)

	_, err := s.Sync(context.Background(), "AAPL", bar.Interval1Hour, 5)
	require.NoError(t, err)
	bars2, err := s.Sync(context.Background(), "AAPL", bar.Interval1Hour, 5)
	require.NoError(t, err)
	assert.Len(t, bars2, 2)
}

func TestSyncUpstreamFailureKeepsLocalData(t *testing.T) {
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	fetcher := &fakeFetcher{bars: []bar.Bar{{Timestamp: base, Close: 10}}}
	s := openTestStore(t, fetcher)

	_, err := s.Sync(context.Background(), "AAPL", bar.Interval1Hour, 5)
	require.NoError(t, err)

	fetcher.err = assert.AnError
	bars, err := s.Sync(context.Background(), "AAPL", bar.Interval1Hour, 5)
	require.NoError(t, err, "an upstream failure with existing local data must not propagate as an error")
	assert.Len(t, bars, 1)
}

func TestLoadLocalRejectsUnknownInterval(t *testing.T) {
	s := openTestStore(t, &fakeFetcher{})
	_, err := s.LoadLocal(context.Background(), "AAPL", bar.Interval("5m"))
	assert.Error(t, err)
}
