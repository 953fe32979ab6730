package marketdata

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wssxwz/stock-strategy/internal/bar"
)

func TestMapIntervalKnownAndUnknown(t *testing.T) {
	assert.Equal(t, "1Day", mapInterval(bar.Interval1Day))
	assert.Equal(t, "1Hour", mapInterval(bar.Interval1Hour))
	assert.Equal(t, "1Hour", mapInterval(bar.Interval("")))
}

func TestFetchBarsRejectsNonPositiveRange(t *testing.T) {
	c := NewClient("key", "secret")
	now := time.Now()
	_, err := c.FetchBars(context.Background(), "AAPL", bar.Interval1Day, now, now)
	require.Error(t, err)
}

func TestFetchBarsRequiresCredentials(t *testing.T) {
	c := NewClient("", "")
	start := time.Now().Add(-24 * time.Hour)
	end := time.Now()
	_, err := c.FetchBars(context.Background(), "AAPL", bar.Interval1Day, start, end)
	require.Error(t, err)
}
