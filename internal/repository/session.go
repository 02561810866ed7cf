package repository

import (
	"context"
	"iter"

	"github.com/google/uuid"
)

// SessionRepository defines the read access the backfill needs on sessions.
type SessionRepository interface {
	// Scan streams every session. Order is unspecified.
	Scan(ctx context.Context) iter.Seq2[*Session, error]

	// Count returns the number of sessions, used for progress estimates.
	Count(ctx context.Context) (int64, error)

	// GetBySessionKey retrieves a session by its natural key.
	// Returns ErrNotFound if no session currently has that key.
	GetBySessionKey(ctx context.Context, sessionKey string) (*Session, error)

	// Delete removes a session. Tokens referencing it keep existing with
	// their session reset to the column default.
	Delete(ctx context.Context, id uuid.UUID) error
}
