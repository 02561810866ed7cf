package db

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/url"
	"strconv"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	// Import file driver for migration source
	_ "github.com/golang-migrate/migrate/v4/source/file"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	"go.uber.org/zap"
)

type Config struct {
	// URL overrides the individual connection fields when set.
	URL string

	Host     string
	Port     int
	User     string
	Password string
	Database string
	SSLMode  string

	MaxConns          int32
	MinConns          int32
	MaxConnLifetime   time.Duration
	MaxConnIdleTime   time.Duration
	HealthCheckPeriod time.Duration

	// StatementTimeout bounds every statement; zero leaves the server default.
	StatementTimeout time.Duration

	Retry RetryConfig

	SkipMigrations bool
	MigrationsPath string
}

func DefaultConfig() *Config {
	return &Config{
		Host:              "localhost",
		Port:              5432,
		SSLMode:           "disable",
		MaxConns:          10,
		MinConns:          1,
		MaxConnLifetime:   time.Hour,
		MaxConnIdleTime:   30 * time.Minute,
		HealthCheckPeriod: time.Minute,
		Retry:             DefaultRetryConfig(),
		MigrationsPath:    "migrations",
	}
}

// ConnString returns the pgx connection string for cfg.
func (cfg *Config) ConnString() string {
	if cfg.URL != "" {
		return cfg.URL
	}

	u := url.URL{
		Scheme: "postgres",
		User:   url.UserPassword(cfg.User, cfg.Password),
		Host:   net.JoinHostPort(cfg.Host, strconv.Itoa(cfg.Port)),
		Path:   "/" + cfg.Database,
	}
	if cfg.SSLMode != "" {
		u.RawQuery = url.Values{"sslmode": {cfg.SSLMode}}.Encode()
	}

	return u.String()
}

type Pool struct {
	*pgxpool.Pool
	config *Config
}

// NewPool connects with exponential backoff and applies the baseline schema
// unless cfg.SkipMigrations is set. If cfg is nil, DefaultConfig() is used
// (it lacks credentials and will fail to connect).
func NewPool(ctx context.Context, cfg *Config) (*Pool, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}

	poolConfig, err := pgxpool.ParseConfig(cfg.ConnString())
	if err != nil {
		return nil, fmt.Errorf("failed to parse database config: %w", err)
	}

	if cfg.MaxConns > 0 {
		poolConfig.MaxConns = cfg.MaxConns
	}
	poolConfig.MinConns = cfg.MinConns
	poolConfig.MaxConnLifetime = cfg.MaxConnLifetime
	poolConfig.MaxConnIdleTime = cfg.MaxConnIdleTime
	poolConfig.HealthCheckPeriod = cfg.HealthCheckPeriod

	statementTimeout := cfg.StatementTimeout
	poolConfig.AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
		if _, err := conn.Exec(ctx, "SET timezone = 'UTC'"); err != nil {
			return fmt.Errorf("failed to set timezone: %w", err)
		}

		if statementTimeout > 0 {
			stmt := fmt.Sprintf("SET statement_timeout = %d", statementTimeout.Milliseconds())
			if _, err := conn.Exec(ctx, stmt); err != nil {
				return fmt.Errorf("failed to set statement timeout: %w", err)
			}
		}

		return nil
	}

	var pool *pgxpool.Pool
	err = Retry(ctx, cfg.Retry, func() error {
		var err error
		pool, err = pgxpool.NewWithConfig(ctx, poolConfig)
		if err != nil {
			return fmt.Errorf("failed to create pool: %w", err)
		}

		if err = pool.Ping(ctx); err != nil {
			pool.Close()
			return fmt.Errorf("ping failed: %w", err)
		}

		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	p := &Pool{
		Pool:   pool,
		config: cfg,
	}

	if !cfg.SkipMigrations {
		if err := p.runMigrations(); err != nil {
			pool.Close()
			return nil, fmt.Errorf("failed to run migrations: %w", err)
		}
	}

	return p, nil
}

// Health pings the database, giving up after timeout.
func (p *Pool) Health(ctx context.Context, timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	if err := p.Ping(ctx); err != nil {
		return fmt.Errorf("database health check failed: %w", err)
	}

	return nil
}

func (p *Pool) Close() {
	p.Pool.Close()
}

// SchemaVersion reports the applied baseline schema version. ok is false
// when no baseline migration has been applied yet.
func (p *Pool) SchemaVersion() (version uint, ok bool, err error) {
	err = p.withMigrate(func(m *migrate.Migrate) error {
		v, dirty, err := m.Version()
		if errors.Is(err, migrate.ErrNilVersion) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("failed to get migration version: %w", err)
		}
		if dirty {
			return fmt.Errorf("database is in dirty state at version %d", v)
		}

		version, ok = v, true
		return nil
	})

	return version, ok, err
}

func (p *Pool) runMigrations() error {
	return p.withMigrate(func(m *migrate.Migrate) error {
		if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
			return fmt.Errorf("failed to run migrations: %w", err)
		}

		version, dirty, err := m.Version()
		if err != nil && !errors.Is(err, migrate.ErrNilVersion) {
			return fmt.Errorf("failed to get migration version: %w", err)
		}

		if dirty {
			return fmt.Errorf("database is in dirty state at version %d", version)
		}

		if errors.Is(err, migrate.ErrNilVersion) {
			zap.L().Info("Database migrations completed successfully (no migrations found)")
		} else {
			zap.L().Info("Database migrations completed successfully", zap.Uint("version", version))
		}

		return nil
	})
}

func (p *Pool) withMigrate(fn func(m *migrate.Migrate) error) error {
	db := stdlib.OpenDB(*p.Pool.Config().ConnConfig)
	defer db.Close()

	driver, err := postgres.WithInstance(db, &postgres.Config{})
	if err != nil {
		return fmt.Errorf("failed to create migration driver: %w", err)
	}

	migrationsPath := "migrations"
	if p.config.MigrationsPath != "" {
		migrationsPath = p.config.MigrationsPath
	}

	m, err := migrate.NewWithDatabaseInstance("file://"+migrationsPath, "postgres", driver)
	if err != nil {
		return fmt.Errorf("failed to create migrate instance: %w", err)
	}
	defer m.Close()

	return fn(m)
}
