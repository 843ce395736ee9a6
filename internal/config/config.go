package config

import (
	"fmt"
	"os"
	"time"

	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"

	"MarketDesk/internal/model"
)

// Config is the full application configuration, loaded once at startup.
type Config struct {
	Symbols    []string        `yaml:"symbols"`
	Timeframes []string        `yaml:"timeframes"`
	Feed       FeedConfig      `yaml:"feed"`
	Wallet     WalletConfig    `yaml:"wallet"`
	History    HistoryConfig   `yaml:"history"`
	Redis      RedisConfig     `yaml:"redis"`
	Postgres   PostgresConfig  `yaml:"postgres"`
	Server     ServerConfig    `yaml:"server"`
}

// Duration parses YAML strings like "60s" into a time.Duration.
type Duration time.Duration

func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", s, err)
	}
	*d = Duration(parsed)
	return nil
}

// Std returns the wrapped time.Duration.
func (d Duration) Std() time.Duration { return time.Duration(d) }

// FeedConfig configures the streaming feed and the REST bootstrap.
type FeedConfig struct {
	// StreamURL is the websocket base, e.g. "wss://stream.binance.com:9443/ws".
	StreamURL string `yaml:"stream_url"`
	// RESTURL is the kline bootstrap base, e.g. "https://fapi.binance.com".
	RESTURL string `yaml:"rest_url"`
	// BootstrapLimit is how many historical candles to fetch per timeframe.
	BootstrapLimit int `yaml:"bootstrap_limit"`
	// MaxBackoff caps the exponential reconnect delay.
	MaxBackoff Duration `yaml:"max_backoff"`
	// Mock switches the feed to the built-in tick generator (no network).
	Mock bool `yaml:"mock"`
}

type WalletConfig struct {
	StartingCash string `yaml:"starting_cash"`
}

type HistoryConfig struct {
	// MaxCandles bounds the closed-candle ring per (symbol, timeframe).
	MaxCandles int `yaml:"max_candles"`
}

// RedisConfig configures the optional shared price cache mirror.
type RedisConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	Database int    `yaml:"database"`
}

// PostgresConfig configures the optional session journal.
type PostgresConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	Database string `yaml:"database"`
	SSLMode  string `yaml:"ssl_mode"`
}

type ServerConfig struct {
	Port int `yaml:"port"`
}

// Load reads and validates the configuration file. The path can be overridden
// with the MARKETDESK_CONFIG environment variable.
func Load(path string) (Config, error) {
	if envPath := os.Getenv("MARKETDESK_CONFIG"); envPath != "" {
		path = envPath
	}

	var cfg Config
	input, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("can't read config file: %w", err)
	}

	if err := yaml.Unmarshal(input, &cfg); err != nil {
		return cfg, fmt.Errorf("can't unmarshal config: %w", err)
	}

	cfg.applyDefaults()
	if err := cfg.validate(); err != nil {
		return cfg, err
	}

	return cfg, nil
}

func (c *Config) applyDefaults() {
	if len(c.Timeframes) == 0 {
		for _, tf := range model.AllTimeframes() {
			c.Timeframes = append(c.Timeframes, string(tf))
		}
	}
	if c.Feed.BootstrapLimit <= 0 {
		c.Feed.BootstrapLimit = 800
	}
	if c.Feed.MaxBackoff <= 0 {
		c.Feed.MaxBackoff = Duration(60 * time.Second)
	}
	if c.History.MaxCandles <= 0 {
		c.History.MaxCandles = 1000
	}
	if c.Wallet.StartingCash == "" {
		c.Wallet.StartingCash = "10000"
	}
	if c.Server.Port == 0 {
		c.Server.Port = 8080
	}
}

func (c *Config) validate() error {
	if len(c.Symbols) == 0 {
		return fmt.Errorf("empty symbols list")
	}
	for _, tf := range c.Timeframes {
		if !model.Timeframe(tf).Valid() {
			return fmt.Errorf("unsupported timeframe %q", tf)
		}
	}
	if !c.Feed.Mock {
		if c.Feed.StreamURL == "" {
			return fmt.Errorf("empty feed stream_url")
		}
		if c.Feed.RESTURL == "" {
			return fmt.Errorf("empty feed rest_url")
		}
	}
	cash, err := decimal.NewFromString(c.Wallet.StartingCash)
	if err != nil {
		return fmt.Errorf("invalid starting_cash %q: %w", c.Wallet.StartingCash, err)
	}
	if cash.IsNegative() {
		return fmt.Errorf("starting_cash must not be negative")
	}
	if c.Redis.Enabled && c.Redis.Addr == "" {
		return fmt.Errorf("redis enabled but addr is empty")
	}
	if c.Postgres.Enabled && (c.Postgres.Host == "" || c.Postgres.Database == "") {
		return fmt.Errorf("postgres enabled but host or database is empty")
	}
	return nil
}

// SymbolList returns the configured symbols as model.Symbol values.
func (c *Config) SymbolList() []model.Symbol {
	out := make([]model.Symbol, 0, len(c.Symbols))
	for _, s := range c.Symbols {
		out = append(out, model.Symbol(s))
	}
	return out
}

// TimeframeList returns the configured timeframes as model.Timeframe values.
func (c *Config) TimeframeList() []model.Timeframe {
	out := make([]model.Timeframe, 0, len(c.Timeframes))
	for _, tf := range c.Timeframes {
		out = append(out, model.Timeframe(tf))
	}
	return out
}

// StartingCash returns the configured starting cash balance. Validation has
// already ensured the string parses.
func (c *Config) StartingCash() decimal.Decimal {
	cash, _ := decimal.NewFromString(c.Wallet.StartingCash)
	return cash
}
