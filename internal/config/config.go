// Package config loads the validated, immutable run configuration.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"
	_ "time/tzdata" // cron.timezone must resolve without system zoneinfo

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"
)

// Config is loaded once at process start and passed by value.
type Config struct {
	App        AppConfig        `mapstructure:"app"`
	Log        LogConfig        `mapstructure:"log"`
	Watchlist  []string         `mapstructure:"watchlist" validate:"required,min=1,dive,required"`
	Screening  Screening        `mapstructure:"screening"`
	Archive    ArchiveConfig    `mapstructure:"archive"`
	Labeling   LabelingConfig   `mapstructure:"labeling"`
	MarketData MarketDataConfig `mapstructure:"market_data"`
	RiskFree   RiskFreeConfig   `mapstructure:"risk_free"`
	Storage    StorageConfig    `mapstructure:"storage"`
	Output     OutputConfig     `mapstructure:"output"`
	Cron       CronConfig       `mapstructure:"cron"`
	Server     ServerConfig     `mapstructure:"server"`
}

type AppConfig struct {
	Env         string `mapstructure:"env"`
	Concurrency int    `mapstructure:"concurrency" validate:"gte=1,lte=64"`
}

type LogConfig struct {
	Level             string `mapstructure:"level" validate:"oneof=debug info warn error"`
	Encoding          string `mapstructure:"encoding" validate:"oneof=console json"`
	Development       bool   `mapstructure:"development"`
	Sampling          bool   `mapstructure:"sampling"`
	DisableCaller     bool   `mapstructure:"disable_caller"`
	DisableStacktrace bool   `mapstructure:"disable_stacktrace"`
}

// Screening holds the screening thresholds. Pointer fields are optional; nil disables the rule.
type Screening struct {
	MinVolume       int64   `mapstructure:"min_volume" validate:"gte=0"`
	MinOpenInterest int64   `mapstructure:"min_open_interest" validate:"gte=0"`
	MinDelta        float64 `mapstructure:"min_delta" validate:"gte=0,lte=1"`
	MaxDelta        float64 `mapstructure:"max_delta" validate:"gte=0,lte=1"`
	MinReturnOnRisk float64 `mapstructure:"min_return_on_risk" validate:"gte=0"`
	MinDaysToExpiry int     `mapstructure:"min_days_to_expiry" validate:"gte=1"`
	MaxDaysToExpiry int     `mapstructure:"max_days_to_expiry" validate:"gte=1"`

	MinPremium           *float64 `mapstructure:"min_premium" validate:"omitempty,gte=0"`
	MinImpliedVolatility *float64 `mapstructure:"min_implied_volatility" validate:"omitempty,gte=0"`
	MaxImpliedVolatility *float64 `mapstructure:"max_implied_volatility" validate:"omitempty,gt=0"`
	MinStockPrice        *float64 `mapstructure:"min_stock_price" validate:"omitempty,gte=0"`
	MaxStockPrice        *float64 `mapstructure:"max_stock_price" validate:"omitempty,gt=0"`
	MinVega              *float64 `mapstructure:"min_vega"`
	MaxVega              *float64 `mapstructure:"max_vega"`
	MaxGamma             *float64 `mapstructure:"max_gamma" validate:"omitempty,gte=0"`
	MinTheta             *float64 `mapstructure:"min_theta"`
	MaxTheta             *float64 `mapstructure:"max_theta"`
	OutOfTheMoneyOnly    bool     `mapstructure:"out_of_the_money_only"`

	// MaxResults caps the ranked output; 0 keeps everything.
	MaxResults int `mapstructure:"max_results" validate:"gte=0"`
}

type ArchiveConfig struct {
	RetentionDays int `mapstructure:"retention_days" validate:"gte=0"`
}

type LabelingConfig struct {
	Policy                  string  `mapstructure:"policy" validate:"oneof=realized_pnl opportunity_cost"`
	HighQualityAnnualReturn float64 `mapstructure:"high_quality_annual_return"`
	WeekendFallback         bool    `mapstructure:"weekend_fallback"`
	HolidayGraceDays        int     `mapstructure:"holiday_grace_days" validate:"gte=0"`
}

type MarketDataConfig struct {
	Provider          string        `mapstructure:"provider" validate:"oneof=eodhd stub"`
	BaseURL           string        `mapstructure:"base_url" validate:"omitempty,url"`
	APIKey            string        `mapstructure:"api_key"`
	Timeout           time.Duration `mapstructure:"timeout" validate:"gt=0"`
	RequestsPerSecond float64       `mapstructure:"requests_per_second" validate:"gt=0"`
	Burst             int           `mapstructure:"burst" validate:"gte=1"`
}

type RiskFreeConfig struct {
	Provider     string        `mapstructure:"provider" validate:"oneof=fred static"`
	BaseURL      string        `mapstructure:"base_url" validate:"omitempty,url"`
	APIKey       string        `mapstructure:"api_key"`
	SeriesID     string        `mapstructure:"series_id"`
	Timeout      time.Duration `mapstructure:"timeout" validate:"gt=0"`
	FallbackRate float64       `mapstructure:"fallback_rate" validate:"gte=-0.05,lte=0.5"`
}

type StorageConfig struct {
	Backend       string `mapstructure:"backend" validate:"oneof=memory postgres"`
	PostgresDSN   string `mapstructure:"postgres_dsn" validate:"required_if=Backend postgres"`
	ClickHouseDSN string `mapstructure:"clickhouse_dsn"`
	Migrate       bool   `mapstructure:"migrate"`
}

type OutputConfig struct {
	Dir string `mapstructure:"dir" validate:"required"`
}

type CronConfig struct {
	Enabled   bool   `mapstructure:"enabled"`
	Screening string `mapstructure:"screening" validate:"required_if=Enabled true"`
	Labeling  string `mapstructure:"labeling" validate:"required_if=Enabled true"`
	Timezone  string `mapstructure:"timezone"`
}

type ServerConfig struct {
	MetricsAddr string `mapstructure:"metrics_addr"`
}

// Load reads path (may be empty for env-only) with CCL_* environment overrides and validates the result.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("CCL")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	setDefaults(v)
	if err := bindOptionalEnv(v); err != nil {
		return Config{}, err
	}

	if path != "" {
		v.SetConfigFile(path)
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config %s: %w", path, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("decode config: %w", err)
	}
	cfg.Watchlist = normalizeWatchlist(cfg.Watchlist)

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// optionalKeys have no default, so AutomaticEnv alone never surfaces them to Unmarshal.
var optionalKeys = []string{
	"screening.min_premium",
	"screening.min_implied_volatility",
	"screening.max_implied_volatility",
	"screening.min_stock_price",
	"screening.max_stock_price",
	"screening.min_vega",
	"screening.max_vega",
	"screening.max_gamma",
	"screening.min_theta",
	"screening.max_theta",
}

func bindOptionalEnv(v *viper.Viper) error {
	for _, key := range optionalKeys {
		if err := v.BindEnv(key); err != nil {
			return fmt.Errorf("bind env %s: %w", key, err)
		}
	}
	return nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("app.env", "dev")
	v.SetDefault("app.concurrency", 4)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.encoding", "console")
	v.SetDefault("log.development", false)
	v.SetDefault("log.sampling", false)
	v.SetDefault("log.disable_caller", false)
	v.SetDefault("log.disable_stacktrace", true)

	v.SetDefault("watchlist", []string{"AAPL", "MSFT", "GOOGL", "AMZN", "TSLA"})

	v.SetDefault("screening.min_volume", 100)
	v.SetDefault("screening.min_open_interest", 100)
	v.SetDefault("screening.min_delta", 0.2)
	v.SetDefault("screening.max_delta", 0.5)
	v.SetDefault("screening.min_return_on_risk", 0.0)
	v.SetDefault("screening.min_days_to_expiry", 7)
	v.SetDefault("screening.max_days_to_expiry", 45)
	v.SetDefault("screening.out_of_the_money_only", false)
	v.SetDefault("screening.max_results", 0)

	v.SetDefault("archive.retention_days", 90)

	v.SetDefault("labeling.policy", "realized_pnl")
	v.SetDefault("labeling.high_quality_annual_return", 0.15)
	v.SetDefault("labeling.weekend_fallback", true)
	v.SetDefault("labeling.holiday_grace_days", 2)

	v.SetDefault("market_data.provider", "eodhd")
	v.SetDefault("market_data.base_url", "https://eodhd.com/api")
	v.SetDefault("market_data.timeout", "30s")
	v.SetDefault("market_data.requests_per_second", 5)
	v.SetDefault("market_data.burst", 5)
	v.SetDefault("market_data.api_key", "")

	v.SetDefault("risk_free.provider", "fred")
	v.SetDefault("risk_free.base_url", "https://api.stlouisfed.org/fred")
	v.SetDefault("risk_free.series_id", "DTB3")
	v.SetDefault("risk_free.timeout", "15s")
	v.SetDefault("risk_free.fallback_rate", 0.0425)
	v.SetDefault("risk_free.api_key", "")

	v.SetDefault("storage.backend", "memory")
	v.SetDefault("storage.migrate", true)
	v.SetDefault("storage.postgres_dsn", "")
	v.SetDefault("storage.clickhouse_dsn", "")

	v.SetDefault("output.dir", "output")

	v.SetDefault("cron.enabled", true)
	v.SetDefault("cron.screening", "30 16 * * 1-5")
	v.SetDefault("cron.labeling", "0 18 * * 1-5")
	v.SetDefault("cron.timezone", "America/New_York")

	v.SetDefault("server.metrics_addr", ":9090")
}

// Validate runs struct-tag validation plus cross-field checks.
func (c Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	var errs []error
	s := c.Screening
	if s.MinDelta > s.MaxDelta {
		errs = append(errs, fmt.Errorf("screening.min_delta %v > screening.max_delta %v", s.MinDelta, s.MaxDelta))
	}
	if s.MinDaysToExpiry > s.MaxDaysToExpiry {
		errs = append(errs, fmt.Errorf("screening.min_days_to_expiry %d > screening.max_days_to_expiry %d", s.MinDaysToExpiry, s.MaxDaysToExpiry))
	}
	if bandInverted(s.MinImpliedVolatility, s.MaxImpliedVolatility) {
		errs = append(errs, errors.New("screening.min_implied_volatility > screening.max_implied_volatility"))
	}
	if bandInverted(s.MinStockPrice, s.MaxStockPrice) {
		errs = append(errs, errors.New("screening.min_stock_price > screening.max_stock_price"))
	}
	if bandInverted(s.MinVega, s.MaxVega) {
		errs = append(errs, errors.New("screening.min_vega > screening.max_vega"))
	}
	if bandInverted(s.MinTheta, s.MaxTheta) {
		errs = append(errs, errors.New("screening.min_theta > screening.max_theta"))
	}
	if c.Cron.Timezone != "" {
		if _, err := time.LoadLocation(c.Cron.Timezone); err != nil {
			errs = append(errs, fmt.Errorf("cron.timezone: %w", err))
		}
	}
	if c.MarketData.Provider == "eodhd" && c.MarketData.APIKey == "" {
		errs = append(errs, errors.New("market_data.api_key is required for provider eodhd"))
	}
	if len(errs) > 0 {
		return fmt.Errorf("invalid config: %w", errors.Join(errs...))
	}
	return nil
}

// RetentionDays is the archival retention window passed to the archival manager.
func (c Config) RetentionDays() int {
	return c.Archive.RetentionDays
}

func bandInverted(lo, hi *float64) bool {
	return lo != nil && hi != nil && *lo > *hi
}

func normalizeWatchlist(in []string) []string {
	seen := make(map[string]struct{}, len(in))
	out := make([]string, 0, len(in))
	for _, s := range in {
		s = strings.ToUpper(strings.TrimSpace(s))
		if s == "" {
			continue
		}
		if _, ok := seen[s]; ok {
			continue
		}
		seen[s] = struct{}{}
		out = append(out, s)
	}
	return out
}

// Location is the time zone cron specs are evaluated in, UTC when unset.
func (c CronConfig) Location() *time.Location {
	if c.Timezone == "" {
		return time.UTC
	}
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}
