package memory

import (
	"context"
	"fmt"
	"iter"
	"slices"

	"github.com/google/uuid"

	"github.com/koyif/sessionlink/internal/repository"
)

// TokenTable is the repository of one token table.
type TokenTable struct {
	store *Store
	name  string
}

func (t *TokenTable) Table() string { return t.name }

func (t *TokenTable) Scan(ctx context.Context) iter.Seq2[*repository.Token, error] {
	return func(yield func(*repository.Token, error) bool) {
		ids, err := t.linkedIDs()
		if err != nil {
			yield(nil, err)
			return
		}

		for _, id := range ids {
			if err := ctx.Err(); err != nil {
				yield(nil, err)
				return
			}

			token, err := t.Get(ctx, id)
			if err != nil {
				yield(nil, err)
				return
			}
			if !token.HasLegacyLink() {
				continue
			}
			if !yield(token, nil) {
				return
			}
		}
	}
}

func (t *TokenTable) linkedIDs() ([]int64, error) {
	t.store.mu.RLock()
	defer t.store.mu.RUnlock()

	tbl, ok := t.store.tables[t.name]
	if !ok {
		return nil, fmt.Errorf("table %s: %w", t.name, repository.ErrNotFound)
	}

	ids := make([]int64, 0, len(tbl.rows))
	for id, token := range tbl.rows {
		if token.LegacySessionID != nil {
			ids = append(ids, id)
		}
	}
	slices.Sort(ids)
	return ids, nil
}

func (t *TokenTable) Count(_ context.Context) (int64, error) {
	ids, err := t.linkedIDs()
	if err != nil {
		return 0, err
	}
	return int64(len(ids)), nil
}

func (t *TokenTable) Get(_ context.Context, id int64) (*repository.Token, error) {
	t.store.mu.RLock()
	defer t.store.mu.RUnlock()

	tbl, ok := t.store.tables[t.name]
	if !ok {
		return nil, fmt.Errorf("table %s: %w", t.name, repository.ErrNotFound)
	}
	token, ok := tbl.rows[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return copyToken(token), nil
}

func (t *TokenTable) SetSession(_ context.Context, id int64, session uuid.UUID) error {
	if t.store.FailSetSession != nil {
		if err := t.store.FailSetSession(t.name, id); err != nil {
			return err
		}
	}

	t.store.mu.Lock()
	defer t.store.mu.Unlock()

	tbl, ok := t.store.tables[t.name]
	if !ok {
		return fmt.Errorf("table %s: %w", t.name, repository.ErrNotFound)
	}
	token, ok := tbl.rows[id]
	if !ok {
		return repository.ErrNotFound
	}
	if _, ok := t.store.sessions[session]; !ok {
		return ErrForeignKey
	}

	token.SessionUUID = &session
	return nil
}
