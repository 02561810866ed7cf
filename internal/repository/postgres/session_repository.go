package postgres

import (
	"context"
	"errors"
	"fmt"
	"iter"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/koyif/sessionlink/internal/repository"
)

type SessionRepository struct {
	pool     *pgxpool.Pool
	table    ReferenceTable
	pageSize int
}

func NewSessionRepository(pool *pgxpool.Pool, table ReferenceTable, pageSize int) *SessionRepository {
	if pageSize <= 0 {
		pageSize = DefaultPageSize
	}
	return &SessionRepository{
		pool:     pool,
		table:    table,
		pageSize: pageSize,
	}
}

// Scan streams sessions in keyset pages ordered by surrogate key. Each page is
// read completely before it is yielded, so callers may write through the same
// transaction while iterating.
func (r *SessionRepository) Scan(ctx context.Context) iter.Seq2[*repository.Session, error] {
	query := fmt.Sprintf(`
		SELECT %[1]s, %[2]s
		FROM %[3]s
		WHERE %[1]s > $1
		ORDER BY %[1]s
		LIMIT $2
	`, ident(r.table.IDColumn), ident(r.table.KeyColumn), ident(r.table.Name))

	return func(yield func(*repository.Session, error) bool) {
		after := uuid.Nil
		for {
			page, err := r.page(ctx, query, after)
			if err != nil {
				yield(nil, err)
				return
			}

			for _, s := range page {
				if !yield(s, nil) {
					return
				}
			}

			if len(page) < r.pageSize {
				return
			}
			after = page[len(page)-1].UUID
		}
	}
}

func (r *SessionRepository) page(ctx context.Context, query string, after uuid.UUID) ([]*repository.Session, error) {
	q := getQuerier(ctx, r.pool)
	rows, err := q.Query(ctx, query, after, r.pageSize)
	if err != nil {
		return nil, fmt.Errorf("failed to scan sessions: %w", err)
	}
	defer rows.Close()

	page := make([]*repository.Session, 0, r.pageSize)
	for rows.Next() {
		var s repository.Session
		if err := rows.Scan(&s.UUID, &s.SessionKey); err != nil {
			return nil, fmt.Errorf("failed to scan session row: %w", err)
		}
		page = append(page, &s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate sessions: %w", err)
	}

	return page, nil
}

func (r *SessionRepository) Count(ctx context.Context) (int64, error) {
	query := fmt.Sprintf(`SELECT count(*) FROM %s`, ident(r.table.Name))

	var n int64
	if err := queryRowIsolated(ctx, r.pool, query, nil, &n); err != nil {
		return 0, fmt.Errorf("failed to count sessions: %w", err)
	}

	return n, nil
}

// GetBySessionKey returns the session holding sessionKey.
// Returns repository.ErrNotFound if no session has the key. Inside a
// transaction the lookup runs in its own savepoint, so a failed lookup does
// not abort the transaction.
func (r *SessionRepository) GetBySessionKey(ctx context.Context, sessionKey string) (*repository.Session, error) {
	query := fmt.Sprintf(`
		SELECT %[1]s, %[2]s
		FROM %[3]s
		WHERE %[2]s = $1
		LIMIT 1
	`, ident(r.table.IDColumn), ident(r.table.KeyColumn), ident(r.table.Name))

	var s repository.Session
	err := queryRowIsolated(ctx, r.pool, query, []any{sessionKey}, &s.UUID, &s.SessionKey)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, repository.ErrNotFound
		}
		return nil, fmt.Errorf("failed to get session: %w", err)
	}

	return &s, nil
}

func (r *SessionRepository) Delete(ctx context.Context, id uuid.UUID) error {
	query := fmt.Sprintf(`DELETE FROM %s WHERE %s = $1`, ident(r.table.Name), ident(r.table.IDColumn))

	q := getQuerier(ctx, r.pool)
	result, err := q.Exec(ctx, query, id)
	if err != nil {
		return fmt.Errorf("failed to delete session: %w", err)
	}

	if result.RowsAffected() == 0 {
		return repository.ErrNotFound
	}

	return nil
}
