package backfill

import (
	"context"
	"errors"
	"fmt"
	"iter"

	"github.com/google/uuid"

	"github.com/koyif/sessionlink/internal/repository"
)

// MissReason explains why a token was left without a session.
type MissReason int

const (
	// Resolved means the token has a session to persist.
	Resolved MissReason = iota
	// MissNoLegacyLink means the token never stored a session digest.
	MissNoLegacyLink
	// MissNotIndexed means no live session hashes to the stored digest.
	MissNotIndexed
	// MissSessionGone means the session was removed after the index was built.
	MissSessionGone
)

func (m MissReason) String() string {
	switch m {
	case Resolved:
		return "resolved"
	case MissNoLegacyLink:
		return "no_legacy_link"
	case MissNotIndexed:
		return "not_indexed"
	case MissSessionGone:
		return "session_gone"
	default:
		return fmt.Sprintf("MissReason(%d)", int(m))
	}
}

// LookupFunc resolves a session by its natural key. It must return
// repository.ErrNotFound when no session has the key.
type LookupFunc func(ctx context.Context, sessionKey string) (*repository.Session, error)

// Outcome is the resolution of one token.
type Outcome struct {
	Token   *repository.Token
	Session uuid.UUID
	Reason  MissReason
	// Err is set when the session lookup itself failed.
	Err error
}

// Resolve maps each token to the session it was issued under. It performs no
// writes. Misses are ordinary outcomes; only read failures on tokens and
// context cancellation are yielded as errors.
func Resolve(ctx context.Context, tokens iter.Seq2[*repository.Token, error], index Index, lookup LookupFunc) iter.Seq2[Outcome, error] {
	return func(yield func(Outcome, error) bool) {
		for token, err := range tokens {
			if err != nil {
				yield(Outcome{}, fmt.Errorf("failed to read tokens: %w", err))
				return
			}
			if err := ctx.Err(); err != nil {
				yield(Outcome{}, err)
				return
			}

			if !yield(resolveOne(ctx, token, index, lookup), nil) {
				return
			}
		}
	}
}

func resolveOne(ctx context.Context, token *repository.Token, index Index, lookup LookupFunc) Outcome {
	out := Outcome{Token: token}

	if !token.HasLegacyLink() {
		out.Reason = MissNoLegacyLink
		return out
	}

	key, ok := index.Lookup(*token.LegacySessionID)
	if !ok {
		out.Reason = MissNotIndexed
		return out
	}

	session, err := lookup(ctx, key)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			out.Reason = MissSessionGone
			return out
		}
		out.Err = fmt.Errorf("failed to look up session: %w", err)
		return out
	}

	out.Session = session.UUID
	return out
}
