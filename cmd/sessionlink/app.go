package main

import (
	"context"
	"fmt"
	"io"

	"go.uber.org/zap"

	"github.com/koyif/sessionlink/internal/backfill"
	"github.com/koyif/sessionlink/internal/config"
	"github.com/koyif/sessionlink/internal/db"
	"github.com/koyif/sessionlink/internal/migrations"
	"github.com/koyif/sessionlink/internal/progress"
	"github.com/koyif/sessionlink/internal/repository"
	"github.com/koyif/sessionlink/internal/repository/postgres"
	"github.com/koyif/sessionlink/internal/schema"
)

// app holds the wired components of one invocation.
type app struct {
	pool   *db.Pool
	runner *schema.Runner
	engine *backfill.Engine
}

func connect(ctx context.Context, cfg *config.Config, skipMigrations bool) (*db.Pool, error) {
	ctx, cancel := context.WithTimeout(ctx, cfg.Database.ConnectTimeout)
	defer cancel()

	dbCfg := cfg.DB()
	dbCfg.SkipMigrations = dbCfg.SkipMigrations || skipMigrations

	pool, err := db.NewPool(ctx, dbCfg)
	if err != nil {
		return nil, err
	}

	if err := pool.Health(ctx, cfg.Database.HealthCheckTimeout); err != nil {
		pool.Close()
		return nil, err
	}
	return pool, nil
}

func newApp(pool *db.Pool, cfg *config.Config, out io.Writer, log *zap.Logger) (*app, error) {
	engineCfg, err := cfg.Engine()
	if err != nil {
		return nil, err
	}

	spec := migrations.OAuth2SessionLinkSpec()
	sessions := postgres.NewSessionRepository(pool.Pool, postgres.ReferenceTableOf(spec), cfg.Backfill.PageSize)
	tokens := make([]repository.TokenRepository, 0, len(spec.Backfilled))
	for _, table := range spec.Backfilled {
		tokens = append(tokens, postgres.NewTokenRepository(pool.Pool, postgres.DependentTableOf(spec, table), cfg.Backfill.PageSize))
	}

	sink := progress.Sink(progress.NewZapSink(log))
	if out != nil {
		sink = progress.Multi{sink, progress.NewWriterSink(out)}
	}

	return &app{
		pool:   pool,
		engine: backfill.NewEngine(sessions, tokens, sink, log, engineCfg),
		runner: schema.NewRunner(
			postgres.NewSchemaExecutor(pool.Pool),
			postgres.NewMigrationStore(pool.Pool),
			postgres.NewAdvisoryLocker(pool.Pool),
			postgres.NewTransactor(pool.Pool),
			log,
			cfg.Runner(),
		),
	}, nil
}

func (a *app) migration(observe func(backfill.Summary)) schema.Migration {
	return migrations.OAuth2SessionLink(a.engine, observe)
}

func (a *app) status(ctx context.Context) (schema.Status, error) {
	st, err := a.runner.Status(ctx, a.migration(nil))
	if err != nil {
		return schema.Status{}, fmt.Errorf("failed to read status: %w", err)
	}
	return st, nil
}
