// Package config loads and validates the YAML configuration of the trading
// service.
package config

import (
	"os"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/delphi-lab/delphi-trading/internal/types"
	"github.com/delphi-lab/delphi-trading/pkg/errors"
)

// ServerConfig configures the HTTP API listener.
type ServerConfig struct {
	Host string `yaml:"host" json:"host" jsonschema:"title=Host,description=Listen address for the HTTP API,default=127.0.0.1"`
	Port int    `yaml:"port" json:"port" jsonschema:"title=Port,description=Listen port for the HTTP API,default=8080" validate:"gte=0,lte=65535"`
}

// StoreConfig selects the state persistence backend.
type StoreConfig struct {
	Backend string `yaml:"backend" json:"backend" jsonschema:"title=Backend,description=State store backend,enum=memory,enum=duckdb,default=duckdb" validate:"required,oneof=memory duckdb"`
	// Path is the DuckDB database file. Ignored by the memory backend.
	Path string `yaml:"path" json:"path" jsonschema:"title=Path,description=DuckDB database file path,default=delphi.db"`
}

// BinanceConfig carries Binance API credentials. Credentials left empty here
// are read from the BINANCE_API_KEY and BINANCE_SECRET_KEY environment
// variables.
type BinanceConfig struct {
	APIKey     string   `yaml:"api_key" json:"apiKey" jsonschema:"title=API Key,description=Binance API key"`
	SecretKey  string   `yaml:"secret_key" json:"secretKey" jsonschema:"title=Secret Key,description=Binance API secret"`
	UseTestnet bool     `yaml:"use_testnet" json:"useTestnet" jsonschema:"title=Use Testnet,description=Route orders to the Binance testnet,default=true"`
	Symbols    []string `yaml:"symbols" json:"symbols" jsonschema:"title=Symbols,description=Symbols whose executions are reconciled"`
}

// BrokerConfig selects the execution venue.
type BrokerConfig struct {
	Backend string `yaml:"backend" json:"backend" jsonschema:"title=Backend,description=Execution backend,enum=paper,enum=binance,default=paper" validate:"required,oneof=paper binance"`
	// PaperCash is the starting cash balance of the paper broker.
	PaperCash float64       `yaml:"paper_cash" json:"paperCash" jsonschema:"title=Paper Cash,description=Starting cash for the paper broker,default=100000" validate:"gte=0"`
	Binance   BinanceConfig `yaml:"binance" json:"binance"`
}

// MarketDataConfig configures the snapshot providers.
type MarketDataConfig struct {
	Backend string `yaml:"backend" json:"backend" jsonschema:"title=Backend,description=Market data backend,enum=live,enum=mock,default=mock" validate:"required,oneof=live mock"`
	// YieldAPIBaseURL is the treasury yield API endpoint.
	YieldAPIBaseURL string `yaml:"yield_api_base_url" json:"yieldApiBaseUrl" jsonschema:"title=Yield API Base URL,description=Base URL of the treasury yield API"`
	// YieldAPIToken is sent as a query parameter when set. Falls back to the
	// YIELD_API_TOKEN environment variable.
	YieldAPIToken string `yaml:"yield_api_token" json:"yieldApiToken" jsonschema:"title=Yield API Token,description=Token for the treasury yield API"`
	// PolygonAPIKey falls back to the POLYGON_API_KEY environment variable.
	PolygonAPIKey string `yaml:"polygon_api_key" json:"polygonApiKey" jsonschema:"title=Polygon API Key,description=API key for Polygon.io quotes"`
	// Tickers are the ETF quotes fetched into each snapshot.
	Tickers []string `yaml:"tickers" json:"tickers" jsonschema:"title=Tickers,description=Ticker quotes included in each market snapshot"`
	// FallbackToMock serves the built-in mock snapshot when the live fetch
	// fails. Cycles on mock data are still refused; the fallback keeps
	// read-only endpoints alive.
	FallbackToMock bool `yaml:"fallback_to_mock" json:"fallbackToMock" jsonschema:"title=Fallback To Mock,description=Serve mock snapshots when the live fetch fails"`
}

// NotifyConfig configures operator alerting.
type NotifyConfig struct {
	// WebhookURL receives alert JSON via POST. Empty disables alerting.
	WebhookURL string `yaml:"webhook_url" json:"webhookUrl" jsonschema:"title=Webhook URL,description=Webhook receiving alert notifications"`
}

// EngineConfig tunes the automation pipeline.
type EngineConfig struct {
	RulesPath        string  `yaml:"rules_path" json:"rulesPath" jsonschema:"title=Rules Path,description=Path to the strategy rules YAML file,default=rules.yaml" validate:"required"`
	MaxSnapshotAge   string  `yaml:"max_snapshot_age" json:"maxSnapshotAge" jsonschema:"title=Max Snapshot Age,description=Oldest acceptable snapshot age (Go duration),default=5m"`
	MinCycleInterval string  `yaml:"min_cycle_interval" json:"minCycleInterval" jsonschema:"title=Min Cycle Interval,description=Minimum time between cycles (Go duration),default=60s"`
	ProposalTTL      string  `yaml:"proposal_ttl" json:"proposalTtl" jsonschema:"title=Proposal TTL,description=Pending proposal lifetime (Go duration),default=30m"`
	OrderSizePercent float64 `yaml:"order_size_percent" json:"orderSizePercent" jsonschema:"title=Order Size Percent,description=Buy order size as percent of portfolio value,default=5" validate:"gte=0,lte=100"`
	// FOMCEvents are scheduled FOMC announcement times (RFC3339).
	FOMCEvents []time.Time `yaml:"fomc_events" json:"fomcEvents" jsonschema:"title=FOMC Events,description=Scheduled FOMC announcement times"`
}

// Config is the root service configuration.
type Config struct {
	Server     ServerConfig             `yaml:"server" json:"server"`
	Store      StoreConfig              `yaml:"store" json:"store"`
	Broker     BrokerConfig             `yaml:"broker" json:"broker"`
	MarketData MarketDataConfig         `yaml:"market_data" json:"marketData"`
	Notify     NotifyConfig             `yaml:"notify" json:"notify"`
	Engine     EngineConfig             `yaml:"engine" json:"engine"`
	Automation types.AutomationSettings `yaml:"automation" json:"automation"`
}

// DefaultConfig returns a runnable configuration: paper broker, mock market
// data, in-process memory store, and manual-mode automation.
func DefaultConfig() Config {
	return Config{
		Server: ServerConfig{Host: "127.0.0.1", Port: 8080},
		Store:  StoreConfig{Backend: "duckdb", Path: "delphi.db"},
		Broker: BrokerConfig{Backend: "paper", PaperCash: 100000},
		MarketData: MarketDataConfig{
			Backend: "mock",
			Tickers: []string{"TMV", "TLT"},
		},
		Engine: EngineConfig{
			RulesPath:        "rules.yaml",
			MaxSnapshotAge:   "5m",
			MinCycleInterval: "60s",
			ProposalTTL:      "30m",
			OrderSizePercent: 5,
		},
		Automation: types.AutomationSettings{
			Enabled: false,
			Mode:    types.AutomationModeManual,
			Limits: types.RiskLimits{
				MaxPositionSize: 10,
				MaxDailyTrades:  5,
				MaxDailyLoss:    2,
				MaxDrawdown:     10,
				MaxOrderValue:   10000,
				MinCashReserve:  20,
			},
		},
	}
}

// Load reads, parses, and validates a YAML configuration file. Fields absent
// from the file keep their defaults; secrets left empty are filled from the
// environment.
func Load(path string) (Config, error) {
	cfg := DefaultConfig()

	raw, err := os.ReadFile(path)
	if err != nil {
		return Config{}, errors.Wrapf(errors.ErrCodeInvalidConfiguration, err, "failed to read config file %s", path)
	}

	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		return Config{}, errors.Wrap(errors.ErrCodeInvalidConfiguration, "failed to parse config file", err)
	}

	cfg.applyEnv()

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

// applyEnv fills empty secrets from the environment so credentials stay out of
// config files.
func (c *Config) applyEnv() {
	if c.Broker.Binance.APIKey == "" {
		c.Broker.Binance.APIKey = os.Getenv("BINANCE_API_KEY")
	}
	if c.Broker.Binance.SecretKey == "" {
		c.Broker.Binance.SecretKey = os.Getenv("BINANCE_SECRET_KEY")
	}
	if c.MarketData.PolygonAPIKey == "" {
		c.MarketData.PolygonAPIKey = os.Getenv("POLYGON_API_KEY")
	}
	if c.MarketData.YieldAPIToken == "" {
		c.MarketData.YieldAPIToken = os.Getenv("YIELD_API_TOKEN")
	}
}

// Validate validates the Config struct.
func (c *Config) Validate() error {
	validate := validator.New()
	if err := validate.Struct(c); err != nil {
		return errors.Wrap(errors.ErrCodeInvalidConfiguration, "invalid configuration", err)
	}

	for _, field := range []struct {
		name  string
		value string
	}{
		{"max_snapshot_age", c.Engine.MaxSnapshotAge},
		{"min_cycle_interval", c.Engine.MinCycleInterval},
		{"proposal_ttl", c.Engine.ProposalTTL},
	} {
		if field.value == "" {
			continue
		}
		if _, err := time.ParseDuration(field.value); err != nil {
			return errors.Wrapf(errors.ErrCodeInvalidConfiguration, err, "invalid duration for %s", field.name)
		}
	}

	return c.Automation.Validate()
}

// MaxSnapshotAge returns the parsed snapshot freshness threshold, or zero to
// use the engine default.
func (c *Config) MaxSnapshotAge() time.Duration {
	return parseDuration(c.Engine.MaxSnapshotAge)
}

// MinCycleInterval returns the parsed cycle throttle interval, or zero to use
// the engine default.
func (c *Config) MinCycleInterval() time.Duration {
	return parseDuration(c.Engine.MinCycleInterval)
}

// ProposalTTL returns the parsed pending-proposal lifetime, or zero to use the
// engine default.
func (c *Config) ProposalTTL() time.Duration {
	return parseDuration(c.Engine.ProposalTTL)
}

// parseDuration assumes Validate already ran; malformed input maps to zero.
func parseDuration(value string) time.Duration {
	if value == "" {
		return 0
	}

	d, err := time.ParseDuration(value)
	if err != nil {
		return 0
	}

	return d
}
