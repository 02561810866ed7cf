package logger

import (
	"context"
	"fmt"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// ContextKey is a type for context keys to avoid collisions.
type ContextKey string

const (
	// RunIDKey is the context key for the id of one sessionlink invocation.
	RunIDKey ContextKey = "run_id"

	// MigrationKey is the context key for the migration being applied.
	MigrationKey ContextKey = "migration"
)

var globalLogger *zap.Logger

// Build returns a logger for env: JSON at info level for "production",
// colored console at debug level otherwise.
func Build(env string) (*zap.Logger, error) {
	if env == "production" {
		config := zap.NewProductionConfig()
		config.EncoderConfig.TimeKey = "timestamp"
		config.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
		config.EncoderConfig.MessageKey = "message"
		config.EncoderConfig.LevelKey = "level"
		config.EncoderConfig.CallerKey = "caller"
		config.EncoderConfig.StacktraceKey = "stacktrace"

		return config.Build(
			zap.AddCaller(),
			zap.AddStacktrace(zapcore.ErrorLevel),
		)
	}

	config := zap.NewDevelopmentConfig()
	config.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	config.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder

	return config.Build(
		zap.AddCaller(),
		zap.AddStacktrace(zapcore.ErrorLevel),
	)
}

// Initialize builds the logger for env and installs it as the zap global,
// so packages logging through zap.L() pick it up.
func Initialize(env string) error {
	logger, err := Build(env)
	if err != nil {
		return fmt.Errorf("failed to build logger: %w", err)
	}

	globalLogger = logger
	zap.ReplaceGlobals(logger)
	return nil
}

// Get returns the global logger instance, or a no-op logger before Initialize.
func Get() *zap.Logger {
	if globalLogger == nil {
		return zap.NewNop()
	}
	return globalLogger
}

// Sync flushes any buffered log entries.
func Sync() error {
	if globalLogger != nil {
		return globalLogger.Sync()
	}
	return nil
}

// WithRunID stores the run id in ctx.
func WithRunID(ctx context.Context, runID string) context.Context {
	return context.WithValue(ctx, RunIDKey, runID)
}

// WithMigration stores the migration id in ctx.
func WithMigration(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, MigrationKey, id)
}

// FromContext returns base with the run and migration ids found in ctx.
// A nil base means Get().
func FromContext(ctx context.Context, base *zap.Logger) *zap.Logger {
	if base == nil {
		base = Get()
	}

	if runID, ok := ctx.Value(RunIDKey).(string); ok && runID != "" {
		base = base.With(zap.String("run_id", runID))
	}
	if id, ok := ctx.Value(MigrationKey).(string); ok && id != "" {
		base = base.With(zap.String("migration", id))
	}

	return base
}
