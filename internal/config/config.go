// Package config loads the daemon configuration and job definitions.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/MaherFSF/Yemenactr-sub010/internal/connector"
	"github.com/MaherFSF/Yemenactr-sub010/internal/period"
)

// EnvPrefix prefixes environment overrides, e.g. INGESTD_DELIVERY_MAX_ATTEMPTS.
const EnvPrefix = "INGESTD"

type SchedulerConfig struct {
	TickInterval time.Duration `mapstructure:"tick_interval"`
}

type BackfillConfig struct {
	BatchSize   int      `mapstructure:"batch_size"`
	Granularity string   `mapstructure:"granularity"`
	Parallelism int      `mapstructure:"parallelism"`
	MaxErrors   int      `mapstructure:"max_errors"`
	ValueMin    *float64 `mapstructure:"value_min"`
	ValueMax    *float64 `mapstructure:"value_max"`
}

type DeliveryConfig struct {
	MaxAttempts          int     `mapstructure:"max_attempts"`
	BackoffBase          float64 `mapstructure:"backoff_base"`
	TimeoutMs            int     `mapstructure:"timeout_ms"`
	SweepIntervalSeconds int     `mapstructure:"sweep_interval_seconds"`
	MaxConcurrent        int     `mapstructure:"max_concurrent"`
	BatchLimit           int     `mapstructure:"batch_limit"`
}

type AlertsConfig struct {
	CooldownSeconds int `mapstructure:"cooldown_seconds"`
}

// SeriesStoreConfig selects where observations are written. The sqlite
// driver shares the daemon database.
type SeriesStoreConfig struct {
	Driver string `mapstructure:"driver"`
	DSN    string `mapstructure:"dsn"`
}

type NATSConfig struct {
	URL           string `mapstructure:"url"`
	SubjectPrefix string `mapstructure:"subject_prefix"`
}

type RedisConfig struct {
	URL     string        `mapstructure:"url"`
	LockTTL time.Duration `mapstructure:"lock_ttl"`
}

type APIConfig struct {
	RateLimit      float64       `mapstructure:"rate_limit"`
	Burst          int           `mapstructure:"burst"`
	RequestTimeout time.Duration `mapstructure:"request_timeout"`
	Token          string        `mapstructure:"token"`
}

// Config is the top-level daemon configuration parsed from ingestd.yaml.
type Config struct {
	Listen         string `mapstructure:"listen"`
	DataDir        string `mapstructure:"data_dir"`
	JobsDir        string `mapstructure:"jobs_dir"`
	RulesFile      string `mapstructure:"rules_file"`
	ClassifierFile string `mapstructure:"classifier_file"`
	SourceID       string `mapstructure:"source_id"`
	LogLevel       string `mapstructure:"log_level"`
	LogFormat      string `mapstructure:"log_format"`
	LogFile        string `mapstructure:"log_file"`
	EncryptionKey  string `mapstructure:"encryption_key"`

	Scheduler   SchedulerConfig   `mapstructure:"scheduler"`
	Backfill    BackfillConfig    `mapstructure:"backfill"`
	Delivery    DeliveryConfig    `mapstructure:"delivery"`
	Alerts      AlertsConfig      `mapstructure:"alerts"`
	SeriesStore SeriesStoreConfig `mapstructure:"series_store"`
	NATS        NATSConfig        `mapstructure:"nats"`
	Redis       RedisConfig       `mapstructure:"redis"`
	API         APIConfig         `mapstructure:"api"`

	Connectors []connector.Spec `mapstructure:"connectors"`

	// File is the config file that was read, if any.
	File string `mapstructure:"-"`
}

// DBPath is the SQLite database inside DataDir.
func (c *Config) DBPath() string {
	return filepath.Join(c.DataDir, "ingestd.db")
}

func (c *Config) SweepInterval() time.Duration {
	return time.Duration(c.Delivery.SweepIntervalSeconds) * time.Second
}

func (c *Config) AlertCooldown() time.Duration {
	return time.Duration(c.Alerts.CooldownSeconds) * time.Second
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("listen", ":8080")
	v.SetDefault("data_dir", "./data")
	v.SetDefault("jobs_dir", "")
	v.SetDefault("rules_file", "")
	v.SetDefault("classifier_file", "")
	v.SetDefault("source_id", "ingestd")
	v.SetDefault("log_level", "info")
	v.SetDefault("log_format", "json")
	v.SetDefault("log_file", "")
	v.SetDefault("encryption_key", "")

	v.SetDefault("scheduler.tick_interval", "30s")

	v.SetDefault("backfill.batch_size", 500)
	v.SetDefault("backfill.granularity", "year")
	v.SetDefault("backfill.parallelism", 4)
	v.SetDefault("backfill.max_errors", 50)

	v.SetDefault("delivery.max_attempts", 5)
	v.SetDefault("delivery.backoff_base", 2.0)
	v.SetDefault("delivery.timeout_ms", 10000)
	v.SetDefault("delivery.sweep_interval_seconds", 300)
	v.SetDefault("delivery.max_concurrent", 16)
	v.SetDefault("delivery.batch_limit", 100)

	v.SetDefault("alerts.cooldown_seconds", 3600)

	v.SetDefault("series_store.driver", "sqlite")
	v.SetDefault("series_store.dsn", "")
	v.SetDefault("nats.url", "")
	v.SetDefault("nats.subject_prefix", "ingestd.events")
	v.SetDefault("redis.url", "")
	v.SetDefault("redis.lock_ttl", "1h")

	v.SetDefault("api.rate_limit", 20.0)
	v.SetDefault("api.burst", 40)
	v.SetDefault("api.request_timeout", "60s")
	v.SetDefault("api.token", "")
}

// New returns a viper instance with defaults and environment overrides
// configured. Callers may bind flags to it before calling Load.
func New() *viper.Viper {
	v := viper.New()
	setDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	return v
}

// Load reads path, or ingestd.yaml from the working directory or
// ~/.config/ingestd when path is empty, and returns the validated config.
// A missing default config file is not an error.
func Load(v *viper.Viper, path string) (*Config, error) {
	if v == nil {
		v = New()
	}
	if path != "" {
		v.SetConfigFile(expandPath(path))
	} else {
		v.SetConfigName("ingestd")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		if home, err := os.UserHomeDir(); err == nil {
			v.AddConfigPath(filepath.Join(home, ".config", "ingestd"))
		}
	}
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	cfg.File = v.ConfigFileUsed()
	applyDefaults(&cfg)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func applyDefaults(c *Config) {
	c.DataDir = expandPath(c.DataDir)
	if c.JobsDir == "" {
		c.JobsDir = filepath.Join(c.DataDir, "jobs")
	}
	c.JobsDir = expandPath(c.JobsDir)
	if c.RulesFile == "" {
		c.RulesFile = filepath.Join(c.DataDir, "alert_rules.yaml")
	}
	c.RulesFile = expandPath(c.RulesFile)
	c.ClassifierFile = expandPath(c.ClassifierFile)
	c.LogFile = expandPath(c.LogFile)
}

// Validate rejects settings the daemon cannot run with.
func (c *Config) Validate() error {
	if _, err := period.Parse(c.Backfill.Granularity); err != nil {
		return fmt.Errorf("backfill.granularity: %w", err)
	}
	if c.Backfill.ValueMin != nil && c.Backfill.ValueMax != nil && *c.Backfill.ValueMin > *c.Backfill.ValueMax {
		return errors.New("backfill.value_min exceeds backfill.value_max")
	}
	if c.Delivery.MaxAttempts < 1 {
		return errors.New("delivery.max_attempts must be at least 1")
	}
	if c.Delivery.BackoffBase <= 1 {
		return errors.New("delivery.backoff_base must be greater than 1")
	}
	if n := len(c.EncryptionKey); n != 0 && n != 32 {
		return fmt.Errorf("encryption_key must be 32 bytes, got %d", n)
	}
	switch c.SeriesStore.Driver {
	case "", "sqlite":
	case "postgres":
		if c.SeriesStore.DSN == "" {
			return errors.New("series_store.dsn is required for postgres")
		}
	default:
		return fmt.Errorf("series_store.driver %q is not supported", c.SeriesStore.Driver)
	}
	seen := make(map[string]bool, len(c.Connectors))
	for _, s := range c.Connectors {
		if s.ID == "" {
			return errors.New("connector without id")
		}
		if seen[s.ID] {
			return fmt.Errorf("duplicate connector id %q", s.ID)
		}
		seen[s.ID] = true
	}
	return nil
}

func expandPath(value string) string {
	v := strings.TrimSpace(value)
	if v == "" {
		return value
	}

	v = os.ExpandEnv(v)

	home, err := os.UserHomeDir()
	if err != nil || strings.TrimSpace(home) == "" {
		return v
	}

	if v == "~" {
		return home
	}
	if strings.HasPrefix(v, "~/") {
		return filepath.Join(home, v[2:])
	}
	return v
}
