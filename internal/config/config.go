package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/mitchellh/mapstructure"
	"github.com/spf13/viper"

	"flipwatch/internal/logging"
)

// Config materialises application configuration.
type Config struct {
	App        AppConfig        `mapstructure:"app"`
	Logging    logging.Config   `mapstructure:"logging"`
	Database   DatabaseConfig   `mapstructure:"database"`
	Scheduler  SchedulerConfig  `mapstructure:"scheduler"`
	Comps      CompsConfig      `mapstructure:"comps"`
	Pricing    PricingConfig    `mapstructure:"pricing"`
	Milestones MilestonesConfig `mapstructure:"milestones"`
	Digest     DigestConfig     `mapstructure:"digest"`
	HotRadar   HotRadarConfig   `mapstructure:"hot_radar"`
	Mail       MailConfig       `mapstructure:"mail"`
	Export     ExportConfig     `mapstructure:"export"`
}

// AppConfig general metadata.
type AppConfig struct {
	Name        string `mapstructure:"name"`
	Environment string `mapstructure:"environment"`
}

// DatabaseConfig encapsulates PostgreSQL connectivity.
type DatabaseConfig struct {
	DSN             string        `mapstructure:"dsn"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
}

// SchedulerConfig governs tick cadence.
type SchedulerConfig struct {
	Interval        time.Duration `mapstructure:"interval"`
	AlignToBucket   bool          `mapstructure:"align_to_bucket"`
	AdvisoryLockKey int64         `mapstructure:"advisory_lock_key"`
	StartupDelay    time.Duration `mapstructure:"startup_delay"`
}

// CompsConfig tunes the comparables rebuild.
type CompsConfig struct {
	WindowDays  int           `mapstructure:"window_days"`
	MinInterval time.Duration `mapstructure:"min_interval"`
	KeepPerKey  int           `mapstructure:"keep_per_key"`
}

// SourceOverride carries optional per-source threshold/cost overrides.
type SourceOverride struct {
	MinProfit    *float64 `mapstructure:"min_profit"`
	MinROI       *float64 `mapstructure:"min_roi"`
	OutboundShip *float64 `mapstructure:"outbound_ship"`
	FeeRate      *float64 `mapstructure:"fee_rate"`
}

// PricingConfig holds the fee model and shortlist thresholds.
type PricingConfig struct {
	FeeRate        float64                   `mapstructure:"fee_rate"`
	OutboundShip   float64                   `mapstructure:"outbound_ship"`
	InboundShip    float64                   `mapstructure:"inbound_ship"`
	MinProfit      float64                   `mapstructure:"min_profit"`
	MinROI         float64                   `mapstructure:"min_roi"`
	MinCompSamples int                       `mapstructure:"min_comp_samples"`
	TopN           int                       `mapstructure:"top_n"`
	PerSource      map[string]SourceOverride `mapstructure:"per_source"`
}

// MilestonesConfig governs the marker engine tiers.
type MilestonesConfig struct {
	NewHighMinProfit float64       `mapstructure:"new_high_min_profit"`
	NewHighMinROI    float64       `mapstructure:"new_high_min_roi"`
	BucketStep       float64       `mapstructure:"bucket_step"`
	SirenWindow      time.Duration `mapstructure:"siren_window"`
	SirenMinProfit   float64       `mapstructure:"siren_min_profit"`
	SirenMinROI      float64       `mapstructure:"siren_min_roi"`
	SirenCooldown    time.Duration `mapstructure:"siren_cooldown"`
}

// DigestConfig throttles the shortlist summary email.
type DigestConfig struct {
	Enabled  bool          `mapstructure:"enabled"`
	Name     string        `mapstructure:"name"`
	Cooldown time.Duration `mapstructure:"cooldown"`
	MaxItems int           `mapstructure:"max_items"`
}

// HotRadarConfig tunes the ending-soon scorer.
type HotRadarConfig struct {
	Window           time.Duration `mapstructure:"window"`
	Threshold        float64       `mapstructure:"threshold"`
	MinCompSamples   int           `mapstructure:"min_comp_samples"`
	MaxEmailsPerTick int           `mapstructure:"max_emails_per_tick"`
	SubjectPrefix    string        `mapstructure:"subject_prefix"`
}

// MailConfig covers SMTP delivery.
type MailConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Username string `mapstructure:"username"`
	Password string `mapstructure:"password"`
	From     string `mapstructure:"from"`
	To       string `mapstructure:"to"`
}

// ExportConfig sets CLI export behaviour.
type ExportConfig struct {
	MaxDataPoints int `mapstructure:"max_data_points"`
}

// Load builds configuration from file, environment, and defaults.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetEnvPrefix("FLIPWATCH")
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

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func readConfig(v *viper.Viper) error {
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			return nil
		}
		return fmt.Errorf("read config: %w", err)
	}
	return nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("app.name", "flipwatch")
	v.SetDefault("app.environment", "development")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")

	v.SetDefault("scheduler.interval", "5m")
	v.SetDefault("scheduler.align_to_bucket", true)
	v.SetDefault("scheduler.advisory_lock_key", int64(0x666c6970))
	v.SetDefault("scheduler.startup_delay", "0s")

	v.SetDefault("comps.window_days", 30)
	v.SetDefault("comps.min_interval", "6h")
	v.SetDefault("comps.keep_per_key", 60)

	v.SetDefault("pricing.fee_rate", 0.13)
	v.SetDefault("pricing.outbound_ship", 7.0)
	v.SetDefault("pricing.inbound_ship", 0.0)
	v.SetDefault("pricing.min_profit", 50.0)
	v.SetDefault("pricing.min_roi", 0.25)
	v.SetDefault("pricing.min_comp_samples", 3)
	v.SetDefault("pricing.top_n", 20)

	v.SetDefault("milestones.new_high_min_profit", 100.0)
	v.SetDefault("milestones.new_high_min_roi", 3.0)
	v.SetDefault("milestones.bucket_step", 0.25)
	v.SetDefault("milestones.siren_window", "1h")
	v.SetDefault("milestones.siren_min_profit", 50.0)
	v.SetDefault("milestones.siren_min_roi", 0.25)
	v.SetDefault("milestones.siren_cooldown", "5m")

	v.SetDefault("digest.enabled", true)
	v.SetDefault("digest.name", "roi_listings_digest")
	v.SetDefault("digest.cooldown", "30m")
	v.SetDefault("digest.max_items", 20)

	v.SetDefault("hot_radar.window", "4h")
	v.SetDefault("hot_radar.threshold", 0.70)
	v.SetDefault("hot_radar.min_comp_samples", 3)
	v.SetDefault("hot_radar.max_emails_per_tick", 10)
	v.SetDefault("hot_radar.subject_prefix", "[flipwatch]")

	v.SetDefault("mail.enabled", false)
	v.SetDefault("mail.port", 587)

	v.SetDefault("export.max_data_points", 100000)

	v.SetDefault("database.max_open_conns", 10)
	v.SetDefault("database.max_idle_conns", 5)
	v.SetDefault("database.conn_max_lifetime", "30m")
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

// Validate performs basic sanity checks on the configuration values.
func (c *Config) Validate() error {
	if c.Scheduler.Interval <= 0 {
		return fmt.Errorf("scheduler.interval must be greater than zero")
	}
	if c.Comps.WindowDays <= 0 {
		return fmt.Errorf("comps.window_days must be greater than zero")
	}
	if c.Comps.KeepPerKey <= 0 {
		return fmt.Errorf("comps.keep_per_key must be greater than zero")
	}
	if c.Pricing.FeeRate < 0 || c.Pricing.FeeRate >= 1 {
		return fmt.Errorf("pricing.fee_rate must be within [0, 1)")
	}
	if c.Pricing.MinCompSamples < 1 {
		return fmt.Errorf("pricing.min_comp_samples must be at least 1")
	}
	if c.Milestones.BucketStep <= 0 {
		return fmt.Errorf("milestones.bucket_step must be greater than zero")
	}
	if c.Milestones.SirenCooldown <= 0 {
		return fmt.Errorf("milestones.siren_cooldown must be greater than zero")
	}
	if c.Digest.MaxItems <= 0 {
		return fmt.Errorf("digest.max_items must be greater than zero")
	}
	if c.HotRadar.Threshold < 0 || c.HotRadar.Threshold > 1 {
		return fmt.Errorf("hot_radar.threshold must be within [0, 1]")
	}
	if c.Export.MaxDataPoints <= 0 {
		return fmt.Errorf("export.max_data_points must be greater than zero")
	}
	if c.Mail.Enabled {
		if c.Mail.Host == "" {
			return fmt.Errorf("mail.host must be configured when mail is enabled")
		}
		if c.Mail.To == "" {
			return fmt.Errorf("mail.to must be configured when mail is enabled")
		}
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
