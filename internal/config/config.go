// Package config loads sessionlink settings from a YAML file, SESSIONLINK_*
// environment variables and defaults, in that order of precedence.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/koyif/sessionlink/internal/backfill"
	"github.com/koyif/sessionlink/internal/db"
	"github.com/koyif/sessionlink/internal/progress"
	"github.com/koyif/sessionlink/internal/schema"
)

const EnvPrefix = "SESSIONLINK"

type Config struct {
	// Env selects the logger: "production" or "development".
	Env string `mapstructure:"env"`

	Database  DatabaseConfig  `mapstructure:"database"`
	Backfill  BackfillConfig  `mapstructure:"backfill"`
	Migration MigrationConfig `mapstructure:"migration"`
	Metrics   MetricsConfig   `mapstructure:"metrics"`

	// ConfigPath is the file the configuration was read from, if any.
	ConfigPath string `mapstructure:"-"`
}

type DatabaseConfig struct {
	URL                string        `mapstructure:"url"`
	Host               string        `mapstructure:"host"`
	Port               int           `mapstructure:"port"`
	User               string        `mapstructure:"user"`
	Password           string        `mapstructure:"password"`
	Name               string        `mapstructure:"name"`
	SSLMode            string        `mapstructure:"ssl_mode"`
	MaxConns           int32         `mapstructure:"max_conns"`
	ConnectTimeout     time.Duration `mapstructure:"connect_timeout"`
	HealthCheckTimeout time.Duration `mapstructure:"health_check_timeout"`
	StatementTimeout   time.Duration `mapstructure:"statement_timeout"`
	MigrationsPath     string        `mapstructure:"migrations_path"`
	SkipMigrations     bool          `mapstructure:"skip_migrations"`
}

type BackfillConfig struct {
	PageSize int `mapstructure:"page_size"`
	// Policy is "continue" or "fail-fast".
	Policy           string        `mapstructure:"policy"`
	Parallel         bool          `mapstructure:"parallel"`
	ProgressInterval time.Duration `mapstructure:"progress_interval"`
	ProgressStride   int64         `mapstructure:"progress_stride"`
}

type MigrationConfig struct {
	// Atomic applies the whole migration in one transaction. Stepwise runs
	// commit each step and resume where an interrupted run stopped.
	Atomic bool `mapstructure:"atomic"`
}

type MetricsConfig struct {
	// PushgatewayURL enables pushing run metrics when set.
	PushgatewayURL string        `mapstructure:"pushgateway_url"`
	Job            string        `mapstructure:"job"`
	PushTimeout    time.Duration `mapstructure:"push_timeout"`
}

func DefaultConfig() *Config {
	limits := DefaultLimits()
	dbDefaults := db.DefaultConfig()

	return &Config{
		Env: "production",
		Database: DatabaseConfig{
			Host:               dbDefaults.Host,
			Port:               dbDefaults.Port,
			SSLMode:            dbDefaults.SSLMode,
			MaxConns:           dbDefaults.MaxConns,
			ConnectTimeout:     limits.ConnectTimeout,
			HealthCheckTimeout: limits.HealthCheckTimeout,
			StatementTimeout:   limits.StatementTimeout,
			MigrationsPath:     dbDefaults.MigrationsPath,
		},
		Backfill: BackfillConfig{
			PageSize:         limits.PageSize,
			Policy:           backfill.ContinueOnError.String(),
			ProgressInterval: limits.ProgressInterval,
			ProgressStride:   limits.ProgressStride,
		},
		Migration: MigrationConfig{
			Atomic: true,
		},
		Metrics: MetricsConfig{
			Job:         "sessionlink",
			PushTimeout: limits.MetricsPushTimeout,
		},
	}
}

// Load reads configuration from configPath (optional), the environment and defaults.
// Priority (highest to lowest): environment variables > config file > defaults.
// The result is not validated; callers apply their overrides and then call Validate.
func Load(configPath string) (*Config, error) {
	cfg := DefaultConfig()

	v := viper.New()
	registerDefaults(v, cfg)

	if configPath != "" {
		if _, err := os.Stat(configPath); err != nil {
			return nil, fmt.Errorf("config file %s: %w", configPath, err)
		}
		v.SetConfigFile(configPath)
	} else {
		v.AddConfigPath(".")
		v.SetConfigName("sessionlink")
		v.SetConfigType("yaml")
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		zap.L().Debug("No config file found, using defaults")
	} else {
		cfg.ConfigPath = v.ConfigFileUsed()
		zap.L().Debug("Using config file", zap.String("path", cfg.ConfigPath))
	}

	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	return cfg, nil
}

// registerDefaults makes every key known to viper so environment variables
// are picked up for keys missing from the file.
func registerDefaults(v *viper.Viper, cfg *Config) {
	v.SetDefault("env", cfg.Env)

	v.SetDefault("database.url", cfg.Database.URL)
	v.SetDefault("database.host", cfg.Database.Host)
	v.SetDefault("database.port", cfg.Database.Port)
	v.SetDefault("database.user", cfg.Database.User)
	v.SetDefault("database.password", cfg.Database.Password)
	v.SetDefault("database.name", cfg.Database.Name)
	v.SetDefault("database.ssl_mode", cfg.Database.SSLMode)
	v.SetDefault("database.max_conns", cfg.Database.MaxConns)
	v.SetDefault("database.connect_timeout", cfg.Database.ConnectTimeout)
	v.SetDefault("database.health_check_timeout", cfg.Database.HealthCheckTimeout)
	v.SetDefault("database.statement_timeout", cfg.Database.StatementTimeout)
	v.SetDefault("database.migrations_path", cfg.Database.MigrationsPath)
	v.SetDefault("database.skip_migrations", cfg.Database.SkipMigrations)

	v.SetDefault("backfill.page_size", cfg.Backfill.PageSize)
	v.SetDefault("backfill.policy", cfg.Backfill.Policy)
	v.SetDefault("backfill.parallel", cfg.Backfill.Parallel)
	v.SetDefault("backfill.progress_interval", cfg.Backfill.ProgressInterval)
	v.SetDefault("backfill.progress_stride", cfg.Backfill.ProgressStride)

	v.SetDefault("migration.atomic", cfg.Migration.Atomic)

	v.SetDefault("metrics.pushgateway_url", cfg.Metrics.PushgatewayURL)
	v.SetDefault("metrics.job", cfg.Metrics.Job)
	v.SetDefault("metrics.push_timeout", cfg.Metrics.PushTimeout)
}

// Validate checks settings that cannot be combined or are out of range.
func (c *Config) Validate() error {
	switch c.Env {
	case "production", "development":
	default:
		return fmt.Errorf("invalid env %q, must be one of: production, development", c.Env)
	}

	if _, err := backfill.ParseFailurePolicy(c.Backfill.Policy); err != nil {
		return err
	}

	if c.Backfill.PageSize <= 0 {
		return fmt.Errorf("backfill.page_size must be positive, got %d", c.Backfill.PageSize)
	}
	if c.Backfill.ProgressStride <= 0 {
		return fmt.Errorf("backfill.progress_stride must be positive, got %d", c.Backfill.ProgressStride)
	}

	// A single transaction cannot be shared by concurrent passes.
	if c.Backfill.Parallel && c.Migration.Atomic {
		return errors.New("backfill.parallel requires migration.atomic=false")
	}

	if c.Database.URL == "" && (c.Database.Name == "" || c.Database.User == "") {
		return errors.New("database.url or database.name and database.user must be set")
	}

	return nil
}

// DB returns the connection settings.
func (c *Config) DB() *db.Config {
	cfg := db.DefaultConfig()

	cfg.URL = c.Database.URL
	cfg.Host = c.Database.Host
	cfg.Port = c.Database.Port
	cfg.User = c.Database.User
	cfg.Password = c.Database.Password
	cfg.Database = c.Database.Name
	cfg.SSLMode = c.Database.SSLMode
	cfg.MaxConns = c.Database.MaxConns
	cfg.StatementTimeout = c.Database.StatementTimeout
	cfg.MigrationsPath = c.Database.MigrationsPath
	cfg.SkipMigrations = c.Database.SkipMigrations

	return cfg
}

// Engine returns the backfill settings.
func (c *Config) Engine() (backfill.Config, error) {
	policy, err := backfill.ParseFailurePolicy(c.Backfill.Policy)
	if err != nil {
		return backfill.Config{}, err
	}

	cfg := backfill.DefaultConfig()
	cfg.Policy = policy
	cfg.Parallel = c.Backfill.Parallel
	cfg.Progress = progress.Options{
		Interval: c.Backfill.ProgressInterval,
		Stride:   c.Backfill.ProgressStride,
	}

	return cfg, nil
}

// Runner returns the migration runner settings.
func (c *Config) Runner() schema.Options {
	return schema.Options{Atomic: c.Migration.Atomic}
}
