package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-viper/mapstructure/v2"
	"github.com/spf13/viper"

	"silver-stress-tracker/internal/logging"
	"silver-stress-tracker/internal/stress"
)

// Supported database drivers.
const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

// Config materialises application configuration.
type Config struct {
	App       AppConfig       `mapstructure:"app"`
	Logging   logging.Config  `mapstructure:"logging"`
	Database  DatabaseConfig  `mapstructure:"database"`
	Scheduler SchedulerConfig `mapstructure:"scheduler"`
	Sources   SourcesConfig   `mapstructure:"sources"`
	Stress    StressConfig    `mapstructure:"stress"`
	Export    ExportConfig    `mapstructure:"export"`
	Alerting  AlertingConfig  `mapstructure:"alerting"`
	HTTP      HTTPConfig      `mapstructure:"http"`
	Retention RetentionConfig `mapstructure:"retention"`
}

// AppConfig general metadata.
type AppConfig struct {
	Name        string `mapstructure:"name"`
	Environment string `mapstructure:"environment"`
}

// DatabaseConfig selects the storage backend. Driver is sqlite (DSN is a
// file path or ":memory:") or postgres (DSN is a connection URL).
type DatabaseConfig struct {
	Driver          string        `mapstructure:"driver"`
	DSN             string        `mapstructure:"dsn"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
}

// SchedulerConfig governs update cadence. Cron, when set, replaces the
// aligned interval.
type SchedulerConfig struct {
	Interval        time.Duration `mapstructure:"interval"`
	AlignToBucket   bool          `mapstructure:"align_to_bucket"`
	Cron            string        `mapstructure:"cron"`
	AdvisoryLockKey int64         `mapstructure:"advisory_lock_key"`
	StartupDelay    time.Duration `mapstructure:"startup_delay"`
	RunOnStart      bool          `mapstructure:"run_on_start"`
}

// SourcesConfig covers every upstream data source.
type SourcesConfig struct {
	Timeout       time.Duration   `mapstructure:"timeout"`
	UserAgent     string          `mapstructure:"user_agent"`
	RateLimit     RateLimitConfig `mapstructure:"rate_limit"`
	Breaker       BreakerConfig   `mapstructure:"breaker"`
	Yahoo         YahooConfig     `mapstructure:"yahoo"`
	Kitco         KitcoSource     `mapstructure:"kitco"`
	MetalpriceAPI MetalpriceAPI   `mapstructure:"metalpriceapi"`
	Inventory     InventorySource `mapstructure:"inventory"`
	Margins       MarginsSource   `mapstructure:"margins"`
	Premiums      PremiumsSource  `mapstructure:"premiums"`
	Shanghai      ShanghaiSource  `mapstructure:"shanghai"`
	Lease         LeaseSource     `mapstructure:"lease"`
}

// RateLimitConfig is applied per provider.
type RateLimitConfig struct {
	RPS   float64 `mapstructure:"rps"`
	Burst int     `mapstructure:"burst"`
}

// BreakerConfig tunes the per-provider circuit breaker.
type BreakerConfig struct {
	ConsecutiveFailures uint32        `mapstructure:"consecutive_failures"`
	OpenTimeout         time.Duration `mapstructure:"open_timeout"`
	Interval            time.Duration `mapstructure:"interval"`
}

// YahooConfig covers the chart API used for spot and deferred futures.
type YahooConfig struct {
	Enabled       bool   `mapstructure:"enabled"`
	BaseURL       string `mapstructure:"base_url"`
	SpotSymbol    string `mapstructure:"spot_symbol"`
	FuturesSymbol string `mapstructure:"futures_symbol"`
}

// KitcoSource points at the keyless Kitco live silver page.
type KitcoSource struct {
	Enabled bool   `mapstructure:"enabled"`
	URL     string `mapstructure:"url"`
}

// MetalpriceAPI covers api.metalpriceapi.com.
type MetalpriceAPI struct {
	Enabled bool   `mapstructure:"enabled"`
	BaseURL string `mapstructure:"base_url"`
	APIKey  string `mapstructure:"api_key"`
}

// InventorySource points at the CME silver stocks workbook.
type InventorySource struct {
	Enabled bool   `mapstructure:"enabled"`
	URL     string `mapstructure:"url"`
}

// MarginsSource points at the CME margins page.
type MarginsSource struct {
	Enabled  bool   `mapstructure:"enabled"`
	URL      string `mapstructure:"url"`
	Contract string `mapstructure:"contract"`
}

// PremiumsSource points at the paper-vs-physical page. EstimatePct, when
// positive, is the last-resort premium recorded if the page fails.
type PremiumsSource struct {
	Enabled     bool    `mapstructure:"enabled"`
	URL         string  `mapstructure:"url"`
	ProductType string  `mapstructure:"product_type"`
	EstimatePct float64 `mapstructure:"estimate_pct"`
}

// ShanghaiSource applies an observed premium to the live western spot.
type ShanghaiSource struct {
	Enabled            bool    `mapstructure:"enabled"`
	ObservedPremiumUSD float64 `mapstructure:"observed_premium_usd"`
}

// LeaseSource controls the futures-spread lease-rate proxy.
type LeaseSource struct {
	Enabled      bool `mapstructure:"enabled"`
	DaysToExpiry int  `mapstructure:"days_to_expiry"`
}

// StressConfig is the calibration handed to the stress engine.
type StressConfig struct {
	Thresholds        stress.Table  `mapstructure:"thresholds"`
	CompositeBands    []stress.Band `mapstructure:"composite_bands"`
	TrendThresholdMoz float64       `mapstructure:"trend_threshold_moz"`
	TrendWindow       time.Duration `mapstructure:"trend_window"`
	ContractSizeOz    float64       `mapstructure:"contract_size_oz"`
	DefaultStableDays int           `mapstructure:"default_stable_days"`
}

// Engine converts the section into a stress.Config.
func (s StressConfig) Engine() stress.Config {
	return stress.Config{
		Thresholds:        s.Thresholds,
		CompositeBands:    s.CompositeBands,
		TrendThreshold:    s.TrendThresholdMoz,
		TrendWindow:       s.TrendWindow,
		ContractSizeOz:    s.ContractSizeOz,
		DefaultStableDays: s.DefaultStableDays,
	}
}

// ExportConfig sets dashboard and CLI export behaviour.
type ExportConfig struct {
	Enabled       bool   `mapstructure:"enabled"`
	OutputDir     string `mapstructure:"output_dir"`
	HistoryDays   int    `mapstructure:"history_days"`
	MaxDataPoints int    `mapstructure:"max_data_points"`
}

// AlertingConfig defines alert routing.
type AlertingConfig struct {
	Enabled  bool           `mapstructure:"enabled"`
	Channels []string       `mapstructure:"channels"`
	Telegram TelegramConfig `mapstructure:"telegram"`
}

// TelegramConfig describes the Telegram bot target.
type TelegramConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	BotToken string `mapstructure:"bot_token"`
	ChatID   string `mapstructure:"chat_id"`
	APIBase  string `mapstructure:"api_base"`
}

// HTTPConfig controls the metrics and status endpoint.
type HTTPConfig struct {
	Enabled      bool          `mapstructure:"enabled"`
	Addr         string        `mapstructure:"addr"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
}

// RetentionConfig bounds how long history is kept.
type RetentionConfig struct {
	Days int `mapstructure:"days"`
}

// Load builds configuration from file, environment, and defaults.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetEnvPrefix("SILVERWATCH")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
	}

	if err := readConfig(v); err != nil {
		return nil, err
	}

	var cfg Config
	if err := v.Unmarshal(&cfg, decodeHook()); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	cfg.Stress.Thresholds = withThresholdDefaults(stress.DefaultTable(), cfg.Stress.Thresholds)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func readConfig(v *viper.Viper) error {
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if errors.As(err, &notFound) {
			return nil
		}
		return fmt.Errorf("read config: %w", err)
	}
	return nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("app.name", "silverwatch")
	v.SetDefault("app.environment", "development")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")

	v.SetDefault("database.driver", DriverSQLite)
	v.SetDefault("database.dsn", "data/silver_metrics.db")
	v.SetDefault("database.max_open_conns", 10)
	v.SetDefault("database.max_idle_conns", 5)
	v.SetDefault("database.conn_max_lifetime", "30m")

	v.SetDefault("scheduler.interval", "1h")
	v.SetDefault("scheduler.align_to_bucket", true)
	v.SetDefault("scheduler.cron", "")
	v.SetDefault("scheduler.advisory_lock_key", int64(0x53494c56))
	v.SetDefault("scheduler.startup_delay", "0s")
	v.SetDefault("scheduler.run_on_start", true)

	v.SetDefault("sources.timeout", "30s")
	v.SetDefault("sources.user_agent", "Mozilla/5.0 (compatible; silverwatch/1.0)")
	v.SetDefault("sources.rate_limit.rps", 1.0)
	v.SetDefault("sources.rate_limit.burst", 2)
	v.SetDefault("sources.breaker.consecutive_failures", 3)
	v.SetDefault("sources.breaker.open_timeout", "10m")
	v.SetDefault("sources.breaker.interval", "1h")
	v.SetDefault("sources.yahoo.enabled", true)
	v.SetDefault("sources.yahoo.base_url", "https://query1.finance.yahoo.com")
	v.SetDefault("sources.yahoo.spot_symbol", "SI=F")
	v.SetDefault("sources.yahoo.futures_symbol", "")
	v.SetDefault("sources.kitco.enabled", true)
	v.SetDefault("sources.kitco.url", "https://www.kitco.com/charts/livesilver.html")
	v.SetDefault("sources.metalpriceapi.enabled", false)
	v.SetDefault("sources.metalpriceapi.base_url", "https://api.metalpriceapi.com/v1")
	v.SetDefault("sources.inventory.enabled", true)
	v.SetDefault("sources.inventory.url", "https://www.cmegroup.com/delivery_reports/Silver_stocks.xls")
	v.SetDefault("sources.margins.enabled", true)
	v.SetDefault("sources.margins.url", "https://www.cmegroup.com/markets/metals/precious/silver.margins.html")
	v.SetDefault("sources.margins.contract", "SI")
	v.SetDefault("sources.premiums.enabled", true)
	v.SetDefault("sources.premiums.url", "https://papervsphysical.com")
	v.SetDefault("sources.premiums.product_type", "aggregate")
	v.SetDefault("sources.premiums.estimate_pct", 12.0)
	v.SetDefault("sources.shanghai.enabled", true)
	v.SetDefault("sources.shanghai.observed_premium_usd", 11.58)
	v.SetDefault("sources.lease.enabled", true)
	v.SetDefault("sources.lease.days_to_expiry", 90)

	setStressDefaults(v, stress.DefaultConfig())

	v.SetDefault("export.enabled", true)
	v.SetDefault("export.output_dir", "docs/data")
	v.SetDefault("export.history_days", 90)
	v.SetDefault("export.max_data_points", 100000)

	v.SetDefault("alerting.enabled", false)
	v.SetDefault("alerting.channels", []string{"telegram"})
	v.SetDefault("alerting.telegram.enabled", false)
	v.SetDefault("alerting.telegram.api_base", "https://api.telegram.org")

	v.SetDefault("http.enabled", false)
	v.SetDefault("http.addr", ":9108")
	v.SetDefault("http.read_timeout", "10s")
	v.SetDefault("http.write_timeout", "10s")

	v.SetDefault("retention.days", 365)
}

// setStressDefaults registers the scalar calibration. Threshold sets are
// filled in after decoding by withThresholdDefaults, since viper would merge
// default and file levels key by key.
func setStressDefaults(v *viper.Viper, def stress.Config) {
	bands := make([]map[string]any, 0, len(def.CompositeBands))
	for _, b := range def.CompositeBands {
		bands = append(bands, map[string]any{
			"min_ratio": b.MinRatio,
			"color":     string(b.Color),
			"label":     b.Label,
		})
	}
	v.SetDefault("stress.composite_bands", bands)
	v.SetDefault("stress.trend_threshold_moz", def.TrendThreshold)
	v.SetDefault("stress.trend_window", def.TrendWindow.String())
	v.SetDefault("stress.contract_size_oz", def.ContractSizeOz)
	v.SetDefault("stress.default_stable_days", def.DefaultStableDays)
}

// withThresholdDefaults returns def with the sets named in file swapped in.
// A set from the file replaces the default set whole, so its levels are
// exactly the ones written; only a missing direction is inherited.
func withThresholdDefaults(def, file stress.Table) stress.Table {
	out := def.Clone()
	for name, set := range file.Clone() {
		if base, ok := def[name]; ok {
			if set.Direction == "" {
				set.Direction = base.Direction
			}
			if len(set.Levels) == 0 {
				set.Levels = out[name].Levels
			}
		}
		out[name] = set
	}
	return out
}

func decodeHook() viper.DecoderConfigOption {
	return func(dc *mapstructure.DecoderConfig) {
		dc.TagName = "mapstructure"
		dc.DecodeHook = mapstructure.ComposeDecodeHookFunc(
			mapstructure.StringToTimeDurationHookFunc(),
			mapstructure.StringToSliceHookFunc(","),
		)
	}
}

// Validate performs sanity checks on the configuration values, including
// the full stress calibration, so a malformed threshold table fails at
// startup rather than mid-cycle.
func (c *Config) Validate() error {
	switch c.Database.Driver {
	case DriverSQLite, DriverPostgres:
	default:
		return fmt.Errorf("database.driver must be %q or %q, got %q", DriverSQLite, DriverPostgres, c.Database.Driver)
	}
	if c.Export.MaxDataPoints <= 0 {
		return fmt.Errorf("export.max_data_points must be greater than zero")
	}
	if c.Export.HistoryDays <= 0 {
		return fmt.Errorf("export.history_days must be greater than zero")
	}
	if c.Scheduler.Interval <= 0 {
		return fmt.Errorf("scheduler.interval must be greater than zero")
	}
	if c.Sources.RateLimit.RPS <= 0 {
		return fmt.Errorf("sources.rate_limit.rps must be greater than zero")
	}
	if c.Sources.Lease.DaysToExpiry <= 0 {
		return fmt.Errorf("sources.lease.days_to_expiry must be greater than zero")
	}
	if c.Sources.MetalpriceAPI.Enabled && c.Sources.MetalpriceAPI.APIKey == "" {
		return fmt.Errorf("sources.metalpriceapi.api_key is required when the source is enabled")
	}
	if c.Retention.Days <= 0 {
		return fmt.Errorf("retention.days must be greater than zero")
	}
	if c.Alerting.Telegram.Enabled {
		if c.Alerting.Telegram.BotToken == "" {
			return fmt.Errorf("alerting.telegram.bot_token is required")
		}
		if c.Alerting.Telegram.ChatID == "" {
			return fmt.Errorf("alerting.telegram.chat_id is required")
		}
	}
	if err := c.Stress.Engine().Validate(); err != nil {
		return fmt.Errorf("stress: %w", err)
	}
	return nil
}

// ResolveMaxPoints returns either the CLI override or config default.
func (c *Config) ResolveMaxPoints(override int) int {
	if override > 0 {
		return override
	}
	return c.Export.MaxDataPoints
}
