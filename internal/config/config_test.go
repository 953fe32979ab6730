package config

import (
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func clearTradingEnv(t *testing.T) {
	t.Helper()
	keys := []string{
		"TRADING_ENV", "LIVE_TRADING", "LIVE_SUBMIT", "PAPER_EQUITY", "MAX_OPEN_POS",
		"MAX_NEW_BUYS_PER_DAY", "ALPACA_API_KEY", "ALPACA_API_SECRET",
	}
	for _, k := range keys {
		os.Unsetenv(k)
	}
}

func TestLoadDefaultsToPaper(t *testing.T) {
	clearTradingEnv(t)
	cfg, err := Load("")
	require.NoError(t, err)
	assert.True(t, cfg.IsPaper())
	assert.False(t, cfg.IsLive())
	assert.Equal(t, 100000.0, cfg.PaperEquity)
	assert.True(t, cfg.AlpacaPaper)
}

func TestLoadRejectsInvalidTradingEnv(t *testing.T) {
	clearTradingEnv(t)
	os.Setenv("TRADING_ENV", "staging")
	defer os.Unsetenv("TRADING_ENV")

	_, err := Load("")
	require.Error(t, err)
}

func TestShouldSubmitLiveRequiresAllThreeGates(t *testing.T) {
	clearTradingEnv(t)
	os.Setenv("TRADING_ENV", "live")
	os.Setenv("LIVE_TRADING", "YES")
	os.Setenv("LIVE_SUBMIT", "1")
	defer clearTradingEnv(t)

	cfg, err := Load("")
	require.NoError(t, err)
	assert.True(t, cfg.ShouldSubmitLive())

	os.Setenv("LIVE_SUBMIT", "0")
	cfg, err = Load("")
	require.NoError(t, err)
	assert.False(t, cfg.ShouldSubmitLive())
}

func TestLoadOverridesFromEnv(t *testing.T) {
	clearTradingEnv(t)
	os.Setenv("MAX_OPEN_POS", "4")
	defer os.Unsetenv("MAX_OPEN_POS")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, 4, cfg.MaxOpenPositions)
}
