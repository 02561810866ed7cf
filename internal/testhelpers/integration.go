// Package testhelpers starts a disposable PostgreSQL for integration tests.
package testhelpers

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	pg "github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/koyif/sessionlink/internal/db"
)

const (
	postgresImage    = "postgres:16-alpine"
	postgresUser     = "testuser"
	postgresPassword = "testpass"
	postgresDatabase = "testdb"
)

// TestContainer wraps the PostgreSQL testcontainer with helper methods.
type TestContainer struct {
	container *pg.PostgresContainer
	pool      *db.Pool
	cfg       *db.Config
}

// NewTestContainer starts PostgreSQL, applies the baseline schema and
// returns a connected container. It is terminated when the test completes.
func NewTestContainer(ctx context.Context, t *testing.T) *TestContainer {
	t.Helper()

	container, err := pg.Run(
		ctx,
		postgresImage,
		pg.WithDatabase(postgresDatabase),
		pg.WithUsername(postgresUser),
		pg.WithPassword(postgresPassword),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(60*time.Second),
		),
	)
	require.NoError(t, err, "failed to start PostgreSQL container")

	t.Cleanup(func() {
		if err := container.Terminate(context.Background()); err != nil {
			t.Logf("failed to terminate container: %v", err)
		}
	})

	tc := &TestContainer{container: container}
	tc.cfg = tc.config(ctx, t)

	pool, err := db.NewPool(ctx, tc.cfg)
	require.NoError(t, err, "failed to connect and migrate")
	t.Cleanup(pool.Close)
	tc.pool = pool

	return tc
}

func (tc *TestContainer) config(ctx context.Context, t *testing.T) *db.Config {
	t.Helper()

	host, err := tc.container.Host(ctx)
	require.NoError(t, err, "failed to get container host")

	port, err := tc.container.MappedPort(ctx, "5432")
	require.NoError(t, err, "failed to get mapped port")

	migrationsPath, err := findMigrationsDir()
	require.NoError(t, err, "failed to get migrations path")

	cfg := db.DefaultConfig()
	cfg.Host = host
	cfg.Port = port.Int()
	cfg.User = postgresUser
	cfg.Password = postgresPassword
	cfg.Database = postgresDatabase
	cfg.SSLMode = "disable"
	cfg.MigrationsPath = migrationsPath
	cfg.Retry = db.RetryConfig{MaxRetries: 3, InitialWait: 100 * time.Millisecond, MaxWait: time.Second, Multiplier: 2}

	return cfg
}

// Pool returns the pgxpool connection pool.
func (tc *TestContainer) Pool() *pgxpool.Pool {
	return tc.pool.Pool
}

// DB returns the migrated pool wrapper.
func (tc *TestContainer) DB() *db.Pool {
	return tc.pool
}

// Config returns a copy of the db.Config for the test database.
func (tc *TestContainer) Config() *db.Config {
	cfg := *tc.cfg
	return &cfg
}

// Exec executes a SQL statement.
func (tc *TestContainer) Exec(ctx context.Context, t *testing.T, query string, args ...any) {
	t.Helper()

	_, err := tc.pool.Exec(ctx, query, args...)
	require.NoError(t, err, "failed to execute query: %s", query)
}

// Truncate empties the given tables.
func (tc *TestContainer) Truncate(ctx context.Context, t *testing.T, tables ...string) {
	t.Helper()

	for _, table := range tables {
		tc.Exec(ctx, t, fmt.Sprintf("TRUNCATE TABLE %s RESTART IDENTITY CASCADE", table))
	}
}

// InsertSession inserts an authenticated session and returns its UUID.
func (tc *TestContainer) InsertSession(ctx context.Context, t *testing.T, sessionKey string) uuid.UUID {
	t.Helper()

	var id uuid.UUID
	err := tc.pool.QueryRow(ctx,
		`INSERT INTO authenticated_sessions (session_key) VALUES ($1) RETURNING uuid`, sessionKey,
	).Scan(&id)
	require.NoError(t, err, "failed to insert session")

	return id
}

// InsertToken inserts a row into one of the legacy OAuth2 token tables and
// returns its id. A nil legacy stores NULL.
func (tc *TestContainer) InsertToken(ctx context.Context, t *testing.T, table string, legacy *string) int64 {
	t.Helper()

	var (
		id    int64
		query string
	)
	switch table {
	case "authorization_codes":
		query = `INSERT INTO authorization_codes (code, client_id, session_id) VALUES ($1, 'client', $2) RETURNING id`
	case "access_tokens", "refresh_tokens":
		query = fmt.Sprintf(`INSERT INTO %s (token, client_id, session_id) VALUES ($1, 'client', $2) RETURNING id`, table)
	default:
		require.FailNow(t, "unsupported token table", table)
	}

	err := tc.pool.QueryRow(ctx, query, uuid.NewString(), legacy).Scan(&id)
	require.NoError(t, err, "failed to insert into %s", table)

	return id
}

// LegacyDigest returns the hashed session id stored by the legacy schema.
func LegacyDigest(sessionKey string) *string {
	sum := sha256.Sum256([]byte(sessionKey))
	digest := hex.EncodeToString(sum[:])
	return &digest
}

// findMigrationsDir walks up from the working directory looking for a
// "migrations" directory that contains .sql files.
func findMigrationsDir() (string, error) {
	dir, err := os.Getwd()
	if err != nil {
		return "", fmt.Errorf("failed to get working directory: %w", err)
	}

	for {
		migrationsPath := filepath.Join(dir, "migrations")

		if matches, _ := filepath.Glob(filepath.Join(migrationsPath, "*.sql")); len(matches) > 0 {
			return migrationsPath, nil
		}

		parent := filepath.Dir(dir)
		if parent == dir {
			return "", errors.New("migrations directory not found")
		}

		dir = parent
	}
}
