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

type TokenRepository struct {
	pool     *pgxpool.Pool
	table    DependentTable
	pageSize int
}

func NewTokenRepository(pool *pgxpool.Pool, table DependentTable, pageSize int) *TokenRepository {
	if pageSize <= 0 {
		pageSize = DefaultPageSize
	}
	return &TokenRepository{
		pool:     pool,
		table:    table,
		pageSize: pageSize,
	}
}

func (r *TokenRepository) Table() string {
	return r.table.Name
}

func (r *TokenRepository) columns() string {
	return fmt.Sprintf("%s, %s, %s",
		ident(r.table.IDColumn), ident(r.table.LegacyColumn), ident(r.table.RelationColumn))
}

// Scan streams tokens with a legacy session linkage in keyset pages ordered by ID.
func (r *TokenRepository) Scan(ctx context.Context) iter.Seq2[*repository.Token, error] {
	query := fmt.Sprintf(`
		SELECT %s
		FROM %s
		WHERE %s IS NOT NULL AND %s > $1
		ORDER BY %[4]s
		LIMIT $2
	`, r.columns(), ident(r.table.Name), ident(r.table.LegacyColumn), ident(r.table.IDColumn))

	return func(yield func(*repository.Token, error) bool) {
		var after int64
		for {
			page, err := r.page(ctx, query, after)
			if err != nil {
				yield(nil, err)
				return
			}

			for _, t := range page {
				if !yield(t, nil) {
					return
				}
			}

			if len(page) < r.pageSize {
				return
			}
			after = page[len(page)-1].ID
		}
	}
}

func (r *TokenRepository) page(ctx context.Context, query string, after int64) ([]*repository.Token, error) {
	q := getQuerier(ctx, r.pool)
	rows, err := q.Query(ctx, query, after, r.pageSize)
	if err != nil {
		return nil, fmt.Errorf("failed to scan %s: %w", r.table.Name, err)
	}
	defer rows.Close()

	page := make([]*repository.Token, 0, r.pageSize)
	for rows.Next() {
		var t repository.Token
		if err := rows.Scan(&t.ID, &t.LegacySessionID, &t.SessionUUID); err != nil {
			return nil, fmt.Errorf("failed to scan %s row: %w", r.table.Name, err)
		}
		page = append(page, &t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate %s: %w", r.table.Name, err)
	}

	return page, nil
}

func (r *TokenRepository) Count(ctx context.Context) (int64, error) {
	query := fmt.Sprintf(`SELECT count(*) FROM %s WHERE %s IS NOT NULL`,
		ident(r.table.Name), ident(r.table.LegacyColumn))

	var n int64
	if err := queryRowIsolated(ctx, r.pool, query, nil, &n); err != nil {
		return 0, fmt.Errorf("failed to count %s: %w", r.table.Name, err)
	}

	return n, nil
}

// Returns repository.ErrNotFound if the token doesn't exist.
func (r *TokenRepository) Get(ctx context.Context, id int64) (*repository.Token, error) {
	query := fmt.Sprintf(`SELECT %s FROM %s WHERE %s = $1`,
		r.columns(), ident(r.table.Name), ident(r.table.IDColumn))

	q := getQuerier(ctx, r.pool)
	var t repository.Token
	err := q.QueryRow(ctx, query, id).Scan(&t.ID, &t.LegacySessionID, &t.SessionUUID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, repository.ErrNotFound
		}
		return nil, fmt.Errorf("failed to get %s token: %w", r.table.Name, err)
	}

	return &t, nil
}

// SetSession links one token. Inside a transaction the update runs in its
// own savepoint.
func (r *TokenRepository) SetSession(ctx context.Context, id int64, session uuid.UUID) error {
	query := fmt.Sprintf(`UPDATE %s SET %s = $2 WHERE %s = $1`,
		ident(r.table.Name), ident(r.table.RelationColumn), ident(r.table.IDColumn))

	result, err := execIsolated(ctx, r.pool, query, id, session)
	if err != nil {
		return fmt.Errorf("failed to set session on %s token: %w", r.table.Name, err)
	}

	if result.RowsAffected() == 0 {
		return repository.ErrNotFound
	}

	return nil
}
