// Package config loads the process-wide Config struct once at startup from
// environment variables (optionally seeded from a .env file), and nothing
// downstream reads the environment directly.
package config

import (
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"

	"github.com/wssxwz/stock-strategy/internal/apperr"
)

// TradingEnv is the broker environment a run is targeting.
type TradingEnv string

const (
	EnvPaper TradingEnv = "paper"
	EnvLive  TradingEnv = "live"
)

// Config is the fully-resolved, immutable runtime configuration. Construct
// once via Load and pass it explicitly down the call stack.
type Config struct {
	TradingEnv    TradingEnv
	LiveTrading   bool // hard-enable flag; LIVE_TRADING in {YES,TRUE,1,YES_I_KNOW}
	LiveSubmit    bool // LIVE_SUBMIT=1 toggles dry-run vs real submission under live

	PaperEquity float64

	MaxOpenPositions  int
	MaxNewBuysPerDay  int

	MaxPricePctEquity float64
	MinPriceUSD       float64

	MaxSLPct         float64
	MinSLPct         float64
	MaxPositionPct   float64

	MinDollarVol20D float64

	PriceDriftMaxPct float64

	TotalRiskCap    float64
	MinCashBuffer   float64

	CooldownHours           float64
	ExitEscalateMaxAttempts int

	RiskPctEquity float64
	MinNotional   float64
	MaxNotional   float64

	AlpacaAPIKey    string
	AlpacaAPISecret string
	AlpacaPaper     bool
}

func getenv(key, def string) string {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		return v
	}
	return def
}

func getenvFloat(key string, def float64) float64 {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return def
	}
	return f
}

func getenvInt(key string, def int) int {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}

func liveTradingEnabled() bool {
	v := strings.ToUpper(strings.TrimSpace(os.Getenv("LIVE_TRADING")))
	switch v {
	case "YES", "TRUE", "1", "YES_I_KNOW":
		return true
	default:
		return false
	}
}

// Load reads environment variables (after optionally loading a .env file at
// envFile, if non-empty and present) into a Config. It returns a
// ConfigurationError on an invalid TRADING_ENV value.
func Load(envFile string) (*Config, error) {
	if envFile != "" {
		if _, err := os.Stat(envFile); err == nil {
			_ = godotenv.Load(envFile)
		}
	}

	env := TradingEnv(strings.ToLower(getenv("TRADING_ENV", string(EnvPaper))))
	if env != EnvPaper && env != EnvLive {
		return nil, apperr.Wrap(apperr.Configuration, "invalid TRADING_ENV", nil)
	}

	cfg := &Config{
		TradingEnv:  env,
		LiveTrading: liveTradingEnabled(),
		LiveSubmit:  getenv("LIVE_SUBMIT", "0") == "1",

		PaperEquity: getenvFloat("PAPER_EQUITY", 100000),

		MaxOpenPositions: getenvInt("MAX_OPEN_POS", 1),
		MaxNewBuysPerDay: getenvInt("MAX_NEW_BUYS_PER_DAY", 1),

		MaxPricePctEquity: getenvFloat("MAX_PRICE_PCT_EQUITY", 0.35),
		MinPriceUSD:       getenvFloat("MIN_PRICE_USD", 5),

		MaxSLPct:       getenvFloat("MAX_SL_PCT", 0.10),
		MinSLPct:       getenvFloat("MIN_SL_PCT", 0.03),
		MaxPositionPct: getenvFloat("MAX_POSITION_PCT", 0.08),

		MinDollarVol20D: getenvFloat("MIN_DOLLAR_VOL_20D", 2e7),

		PriceDriftMaxPct: getenvFloat("PRICE_DRIFT_MAX_PCT", 0.015),

		TotalRiskCap:  getenvFloat("TOTAL_RISK_CAP", 0.02),
		MinCashBuffer: getenvFloat("MIN_CASH_BUFFER_USD", 50),

		CooldownHours:           getenvFloat("COOLDOWN_HOURS", 24),
		ExitEscalateMaxAttempts: getenvInt("EXIT_ESCALATE_MAX_ATTEMPTS", 3),

		RiskPctEquity: getenvFloat("RISK_PCT_EQUITY", 0.003),
		MinNotional:   getenvFloat("MIN_NOTIONAL", 300.0),
		MaxNotional:   getenvFloat("MAX_NOTIONAL", 6000.0),

		AlpacaAPIKey:    os.Getenv("ALPACA_API_KEY"),
		AlpacaAPISecret: os.Getenv("ALPACA_API_SECRET"),
		AlpacaPaper:     env == EnvPaper,
	}

	return cfg, nil
}

// IsPaper reports whether the resolved trading environment is paper.
func (c *Config) IsPaper() bool { return c.TradingEnv == EnvPaper }

// IsLive reports whether the resolved trading environment is live.
func (c *Config) IsLive() bool { return c.TradingEnv == EnvLive }

// ShouldSubmitLive reports whether an order should actually be sent to the
// broker rather than dry-run simulated: live environment, hard-enable flag
// set, and the live-submit toggle on.
func (c *Config) ShouldSubmitLive() bool {
	return c.IsLive() && c.LiveTrading && c.LiveSubmit
}
