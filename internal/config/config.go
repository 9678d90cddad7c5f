// Package config loads the process-level AppConfig (environment, exchange
// selection, secrets) and the default strategy Config (grid parameters)
// used to seed the Store on first run.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"

	"github.com/wubbalubsbadubdub/Coinbase-Gridbot/internal/core"
)

// ExchangeType selects which IExchangeAdapter implementation is wired at
// startup (§6.3).
type ExchangeType string

const (
	ExchangeCoinbase ExchangeType = "coinbase"
	ExchangeMock     ExchangeType = "mock"
)

// AppConfig is the process-level configuration read once at startup from
// the environment (and an optional .env file). Unlike the strategy
// Config (core.Config), AppConfig is not runtime-mutable via the HTTP API.
type AppConfig struct {
	Env               string       `yaml:"env"`
	LogLevel          string       `yaml:"log_level" validate:"oneof=DEBUG INFO WARN ERROR"`
	ExchangeType      ExchangeType `yaml:"exchange_type" validate:"oneof=coinbase mock"`
	CoinbaseAPIKey    Secret       `yaml:"-"`
	CoinbaseAPISecret Secret       `yaml:"-"`
	LiveTradingEnabled bool        `yaml:"live_trading_enabled"`
	PaperMode         bool         `yaml:"paper_mode"`
	DatabasePath      string       `yaml:"database_path"`
	HTTPAddr          string       `yaml:"http_addr"`
	TickInterval      string       `yaml:"tick_interval" validate:"required"`
	MetricsAddr       string       `yaml:"metrics_addr"`
}

// ValidationError reports one rejected AppConfig or strategy Config field,
// consistent with the ConfigError error kind (§7): rejected writes return
// field + detail, never a bare error string.
type ValidationError struct {
	Field   string
	Value   interface{}
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("validation error for field %q (value: %v): %s", e.Field, e.Value, e.Message)
}

// Load reads the environment (optionally preloaded from envFile via
// godotenv) and returns the process AppConfig. Secrets are read only from
// the environment, never from the YAML app file, per §6.3.
func Load(envFile string) (*AppConfig, error) {
	if envFile != "" {
		if err := godotenv.Load(envFile); err != nil && !os.IsNotExist(err) {
			return nil, fmt.Errorf("failed to load env file: %w", err)
		}
	}

	cfg := &AppConfig{
		Env:               getEnvDefault("ENV", "development"),
		LogLevel:          strings.ToUpper(getEnvDefault("LOG_LEVEL", "INFO")),
		ExchangeType:      ExchangeType(getEnvDefault("EXCHANGE_TYPE", "mock")),
		CoinbaseAPIKey:    Secret(os.Getenv("COINBASE_API_KEY")),
		CoinbaseAPISecret: Secret(os.Getenv("COINBASE_API_SECRET")),
		LiveTradingEnabled: getEnvBool("LIVE_TRADING_ENABLED", false),
		PaperMode:         getEnvBool("PAPER_MODE", true),
		DatabasePath:      getEnvDefault("DATABASE_PATH", "gridbot.db"),
		HTTPAddr:          getEnvDefault("HTTP_ADDR", ":8080"),
		TickInterval:      getEnvDefault("TICK_INTERVAL", "2s"),
		MetricsAddr:       getEnvDefault("METRICS_ADDR", ":9090"),
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate enforces the env-level invariants (§6.3): a coinbase exchange
// type needs credentials, live trading needs an explicit non-paper
// decision, log level must be one of the four recognized levels.
func (c *AppConfig) Validate() error {
	validLevels := []string{"DEBUG", "INFO", "WARN", "ERROR"}
	if !contains(validLevels, c.LogLevel) {
		return ValidationError{Field: "log_level", Value: c.LogLevel, Message: "must be one of DEBUG, INFO, WARN, ERROR"}
	}

	if c.ExchangeType != ExchangeCoinbase && c.ExchangeType != ExchangeMock {
		return ValidationError{Field: "exchange_type", Value: c.ExchangeType, Message: "must be coinbase or mock"}
	}

	if c.ExchangeType == ExchangeCoinbase && (c.CoinbaseAPIKey == "" || c.CoinbaseAPISecret == "") {
		return ValidationError{Field: "coinbase_credentials", Message: "COINBASE_API_KEY and COINBASE_API_SECRET are required when EXCHANGE_TYPE=coinbase"}
	}

	if c.LiveTradingEnabled && c.PaperMode {
		return ValidationError{Field: "live_trading_enabled", Message: "cannot set LIVE_TRADING_ENABLED=true while PAPER_MODE=true"}
	}

	return nil
}

// DefaultStrategyConfig returns the strategy Config used to seed the
// Store on first run (operators subsequently mutate it via the runtime
// config API, §6.2).
func DefaultStrategyConfig() core.Config {
	return core.Config{
		GridStepPct:            decimal.NewFromFloat(0.01),
		BudgetUSD:              decimal.NewFromInt(1000),
		MaxOpenOrders:          100,
		BufferEnabled:          false,
		BufferPct:              decimal.NewFromFloat(0.02),
		StagingBandDepthPct:    decimal.NewFromFloat(0.05),
		MinBandOrders:          10,
		MaxBandOrders:          25,
		ProfitMode:             core.ProfitStep,
		CustomProfitPct:        decimal.NewFromFloat(0.01),
		MonthlyProfitTargetUSD: decimal.NewFromInt(1000),
		SizingMode:             core.SizingBudgetSplit,
		FixedUSDPerTrade:       decimal.NewFromInt(100),
		CapitalPctPerTrade:     decimal.NewFromFloat(0.05),
		LiveTradingEnabled:     false,
		PaperMode:              true,
		FeeBufferPct:           decimal.NewFromFloat(0.002),
		MaxGridCapitalPct:      decimal.NewFromFloat(0.70),
		ConservativeMultiplier: decimal.NewFromFloat(0.5),
	}
}

// LoadStrategyOverrides merges a YAML overrides file onto a base strategy
// Config (operators may ship a starting grid config alongside the binary
// instead of configuring entirely through the HTTP API).
func LoadStrategyOverrides(path string, base core.Config) (core.Config, error) {
	if path == "" {
		return base, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return base, nil
		}
		return base, fmt.Errorf("failed to read strategy config file: %w", err)
	}

	var raw strategyConfigYAML
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return base, fmt.Errorf("failed to parse strategy config file: %w", err)
	}

	merged := raw.applyTo(base)
	if err := merged.Validate(); err != nil {
		return base, fmt.Errorf("strategy config validation failed: %w", err)
	}
	return merged, nil
}

// strategyConfigYAML mirrors core.Config with pointer fields so only the
// keys present in the YAML file override the base.
type strategyConfigYAML struct {
	GridStepPct            *string `yaml:"grid_step_pct"`
	BudgetUSD              *string `yaml:"budget_usd"`
	MaxOpenOrders          *int    `yaml:"max_open_orders"`
	BufferEnabled          *bool   `yaml:"buffer_enabled"`
	BufferPct              *string `yaml:"buffer_pct"`
	StagingBandDepthPct    *string `yaml:"staging_band_depth_pct"`
	MinBandOrders          *int    `yaml:"min_band_orders"`
	MaxBandOrders          *int    `yaml:"max_band_orders"`
	ProfitMode             *string `yaml:"profit_mode"`
	CustomProfitPct        *string `yaml:"custom_profit_pct"`
	MonthlyProfitTargetUSD *string `yaml:"monthly_profit_target_usd"`
	SizingMode             *string `yaml:"sizing_mode"`
	FixedUSDPerTrade       *string `yaml:"fixed_usd_per_trade"`
	CapitalPctPerTrade     *string `yaml:"capital_pct_per_trade"`
	FeeBufferPct           *string `yaml:"fee_buffer_pct"`
	MaxGridCapitalPct      *string `yaml:"max_grid_capital_pct"`
	ConservativeMultiplier *string `yaml:"conservative_multiplier"`
}

func (y strategyConfigYAML) applyTo(base core.Config) core.Config {
	dec := func(s *string, fallback decimal.Decimal) decimal.Decimal {
		if s == nil {
			return fallback
		}
		d, err := decimal.NewFromString(*s)
		if err != nil {
			return fallback
		}
		return d
	}

	if y.GridStepPct != nil {
		base.GridStepPct = dec(y.GridStepPct, base.GridStepPct)
	}
	if y.BudgetUSD != nil {
		base.BudgetUSD = dec(y.BudgetUSD, base.BudgetUSD)
	}
	if y.MaxOpenOrders != nil {
		base.MaxOpenOrders = *y.MaxOpenOrders
	}
	if y.BufferEnabled != nil {
		base.BufferEnabled = *y.BufferEnabled
	}
	if y.BufferPct != nil {
		base.BufferPct = dec(y.BufferPct, base.BufferPct)
	}
	if y.StagingBandDepthPct != nil {
		base.StagingBandDepthPct = dec(y.StagingBandDepthPct, base.StagingBandDepthPct)
	}
	if y.MinBandOrders != nil {
		base.MinBandOrders = *y.MinBandOrders
	}
	if y.MaxBandOrders != nil {
		base.MaxBandOrders = *y.MaxBandOrders
	}
	if y.ProfitMode != nil {
		base.ProfitMode = core.ProfitMode(*y.ProfitMode)
	}
	if y.CustomProfitPct != nil {
		base.CustomProfitPct = dec(y.CustomProfitPct, base.CustomProfitPct)
	}
	if y.MonthlyProfitTargetUSD != nil {
		base.MonthlyProfitTargetUSD = dec(y.MonthlyProfitTargetUSD, base.MonthlyProfitTargetUSD)
	}
	if y.SizingMode != nil {
		base.SizingMode = core.SizingMode(*y.SizingMode)
	}
	if y.FixedUSDPerTrade != nil {
		base.FixedUSDPerTrade = dec(y.FixedUSDPerTrade, base.FixedUSDPerTrade)
	}
	if y.CapitalPctPerTrade != nil {
		base.CapitalPctPerTrade = dec(y.CapitalPctPerTrade, base.CapitalPctPerTrade)
	}
	if y.FeeBufferPct != nil {
		base.FeeBufferPct = dec(y.FeeBufferPct, base.FeeBufferPct)
	}
	if y.MaxGridCapitalPct != nil {
		base.MaxGridCapitalPct = dec(y.MaxGridCapitalPct, base.MaxGridCapitalPct)
	}
	if y.ConservativeMultiplier != nil {
		base.ConservativeMultiplier = dec(y.ConservativeMultiplier, base.ConservativeMultiplier)
	}
	return base
}

func getEnvDefault(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return fallback
	}
	return b
}

func contains(slice []string, item string) bool {
	for _, s := range slice {
		if s == item {
			return true
		}
	}
	return false
}
