package logger

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestInitialize(t *testing.T) {
	tests := []struct {
		name      string
		env       string
		debugging bool
	}{
		{name: "production environment", env: "production", debugging: false},
		{name: "development environment", env: "development", debugging: true},
		{name: "unknown environment defaults to development", env: "unknown", debugging: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			prev := zap.L()
			t.Cleanup(func() { zap.ReplaceGlobals(prev) })

			require.NoError(t, Initialize(tt.env))

			logger := Get()
			require.NotNil(t, logger)
			assert.Same(t, logger, zap.L())
			assert.Equal(t, tt.debugging, logger.Core().Enabled(zapcore.DebugLevel))
		})
	}
}

func TestGet_BeforeInitialize(t *testing.T) {
	prev := globalLogger
	globalLogger = nil
	t.Cleanup(func() { globalLogger = prev })

	assert.NotNil(t, Get())
	assert.NoError(t, Sync())
}

func TestFromContext(t *testing.T) {
	tests := []struct {
		name string
		ctx  context.Context
		want map[string]any
	}{
		{
			name: "empty context",
			ctx:  context.Background(),
			want: map[string]any{},
		},
		{
			name: "run id",
			ctx:  WithRunID(context.Background(), "run-1"),
			want: map[string]any{"run_id": "run-1"},
		},
		{
			name: "run id and migration",
			ctx:  WithMigration(WithRunID(context.Background(), "run-1"), "0022_oauth2_session_link"),
			want: map[string]any{"run_id": "run-1", "migration": "0022_oauth2_session_link"},
		},
		{
			name: "empty values are ignored",
			ctx:  WithMigration(WithRunID(context.Background(), ""), ""),
			want: map[string]any{},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			core, logs := observer.New(zapcore.InfoLevel)

			FromContext(tt.ctx, zap.New(core)).Info("hello")

			require.Equal(t, 1, logs.Len())
			assert.Equal(t, tt.want, logs.All()[0].ContextMap())
		})
	}
}
