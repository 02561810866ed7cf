package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// MigrationStore keeps per-migration progress in the data_migrations table.
type MigrationStore struct {
	pool *pgxpool.Pool
}

func NewMigrationStore(pool *pgxpool.Pool) *MigrationStore {
	return &MigrationStore{pool: pool}
}

func (s *MigrationStore) Progress(ctx context.Context, id string) (int, bool, error) {
	const query = `
		SELECT step, completed_at IS NOT NULL
		FROM data_migrations
		WHERE id = $1
	`

	q := getQuerier(ctx, s.pool)
	var (
		step      int
		completed bool
	)
	err := q.QueryRow(ctx, query, id).Scan(&step, &completed)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, false, nil
		}
		return 0, false, fmt.Errorf("failed to get progress of %s: %w", id, err)
	}

	return step, completed, nil
}

func (s *MigrationStore) Record(ctx context.Context, id string, step int, completed bool) error {
	const query = `
		INSERT INTO data_migrations (id, step, updated_at, completed_at)
		VALUES ($1, $2, NOW(), CASE WHEN $3::boolean THEN NOW() END)
		ON CONFLICT (id) DO UPDATE
		SET step = EXCLUDED.step,
		    updated_at = EXCLUDED.updated_at,
		    completed_at = EXCLUDED.completed_at
	`

	q := getQuerier(ctx, s.pool)
	if _, err := q.Exec(ctx, query, id, step, completed); err != nil {
		return fmt.Errorf("failed to record progress of %s: %w", id, err)
	}

	return nil
}
