package repository

import (
	"context"
	"iter"

	"github.com/google/uuid"
)

// TokenRepository defines the backfill operations on one token table.
type TokenRepository interface {
	// Table returns the table name, used in logs, progress and metrics.
	Table() string

	// Scan streams tokens that still carry a legacy session linkage.
	Scan(ctx context.Context) iter.Seq2[*Token, error]

	// Count returns the number of tokens Scan will yield.
	Count(ctx context.Context) (int64, error)

	// Get retrieves a token by ID.
	Get(ctx context.Context, id int64) (*Token, error)

	// SetSession persists the resolved session of a single token.
	SetSession(ctx context.Context, id int64, session uuid.UUID) error
}
