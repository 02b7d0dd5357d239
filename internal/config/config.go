package config

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

type Trigger struct {
	Mode            string `yaml:"mode"` // daily | intraday | now
	Time            string `yaml:"time"` // HH:MM exchange-local, daily mode
	IntervalMinutes int    `yaml:"interval_minutes"`
}

type Prices struct {
	PollIntervalSeconds int     `yaml:"poll_interval_seconds"`
	VolatilityPct       float64 `yaml:"volatility_pct"` // mock walk step size
	DataDir             string  `yaml:"data_dir"`       // historical CSVs
}

type QuoteAPI struct {
	BaseURL            string `yaml:"base_url"`
	APIKey             string `yaml:"api_key"` // EVOTRADERS_QUOTE_API_KEY overrides
	RateLimitPerMinute int    `yaml:"rate_limit_per_minute"`
	TimeoutSeconds     int    `yaml:"timeout_seconds"`
	MaxRetries         int    `yaml:"max_retries"`
}

type Backtest struct {
	StartDate string `yaml:"start_date"`
	EndDate   string `yaml:"end_date"`
}

type Storage struct {
	Driver string `yaml:"driver"` // file | sqlite
	Path   string `yaml:"path"`
}

type Calendar struct {
	Timezone string   `yaml:"timezone"`
	Open     string   `yaml:"open"`  // HH:MM
	Close    string   `yaml:"close"` // HH:MM
	Holidays []string `yaml:"holidays"`
}

type Root struct {
	BacktestMode   bool     `yaml:"backtest_mode"`
	MockMode       bool     `yaml:"mock_mode"`
	Tickers        []string `yaml:"tickers"`
	InitialCapital float64  `yaml:"initial_capital"`
	Trigger        Trigger  `yaml:"trigger"`
	Prices         Prices   `yaml:"prices"`
	QuoteAPI       QuoteAPI `yaml:"quote_api"`
	Backtest       Backtest `yaml:"backtest"`
	Storage        Storage  `yaml:"storage"`
	Calendar       Calendar `yaml:"calendar"`
}

// Load reads YAML config, applies defaults, and overlays environment
// variables. A .env next to the working directory is honored when present.
func Load(path string) (Root, error) {
	// tolerate a missing .env; explicit config is still authoritative
	_ = godotenv.Load()

	var c Root
	b, err := os.ReadFile(path)
	if err != nil {
		return c, fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(b, &c); err != nil {
		return c, fmt.Errorf("parse config: %w", err)
	}
	applyDefaults(&c)
	if v := os.Getenv("EVOTRADERS_QUOTE_API_KEY"); v != "" {
		c.QuoteAPI.APIKey = v
	}
	return c, nil
}

// Default returns the configuration used when no file is given.
func Default() Root {
	var c Root
	applyDefaults(&c)
	c.QuoteAPI.APIKey = os.Getenv("EVOTRADERS_QUOTE_API_KEY")
	return c
}

func applyDefaults(c *Root) {
	if len(c.Tickers) == 0 {
		c.Tickers = []string{"AAPL", "MSFT", "NVDA", "GOOGL", "AMZN"}
	}
	if c.InitialCapital == 0 {
		c.InitialCapital = 100000
	}
	if c.Trigger.Mode == "" {
		c.Trigger.Mode = "daily"
	}
	if c.Trigger.Time == "" {
		c.Trigger.Time = "09:30"
	}
	if c.Trigger.IntervalMinutes == 0 {
		c.Trigger.IntervalMinutes = 30
	}
	if c.Prices.PollIntervalSeconds == 0 {
		c.Prices.PollIntervalSeconds = 5
	}
	if c.Prices.VolatilityPct == 0 {
		c.Prices.VolatilityPct = 0.5
	}
	if c.Prices.DataDir == "" {
		c.Prices.DataDir = "data/historical"
	}
	if c.QuoteAPI.BaseURL == "" {
		c.QuoteAPI.BaseURL = "https://quotes.evotraders.dev"
	}
	if c.QuoteAPI.RateLimitPerMinute == 0 {
		c.QuoteAPI.RateLimitPerMinute = 60
	}
	if c.QuoteAPI.TimeoutSeconds == 0 {
		c.QuoteAPI.TimeoutSeconds = 10
	}
	if c.QuoteAPI.MaxRetries == 0 {
		c.QuoteAPI.MaxRetries = 3
	}
	if c.Storage.Driver == "" {
		c.Storage.Driver = "file"
	}
	if c.Storage.Path == "" {
		c.Storage.Path = "data/settlement.json"
	}
	if c.Calendar.Timezone == "" {
		c.Calendar.Timezone = "America/New_York"
	}
	if c.Calendar.Open == "" {
		c.Calendar.Open = "09:30"
	}
	if c.Calendar.Close == "" {
		c.Calendar.Close = "16:00"
	}
}
