// Package memory is an in-process implementation of the repositories and of
// the schema collaborators. It mirrors the PostgreSQL behaviour the backfill
// relies on: foreign keys on token sessions, ON DELETE SET DEFAULT and column
// renames and drops.
package memory

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"slices"
	"sync"

	"github.com/google/uuid"

	"github.com/koyif/sessionlink/internal/repository"
	"github.com/koyif/sessionlink/internal/schema"
)

// ErrForeignKey is returned when a token is pointed at a missing session.
var ErrForeignKey = errors.New("foreign key violation: session does not exist")

// Store holds sessions, token tables and their column layout.
type Store struct {
	mu       sync.RWMutex
	sessions map[uuid.UUID]*repository.Session
	order    []uuid.UUID
	tables   map[string]*table
	columns  map[string]map[string]bool
	progress map[string]migrationProgress
	nextID   int64

	// FailSetSession, when set, is consulted before every SetSession.
	FailSetSession func(table string, id int64) error
}

type table struct {
	rows map[int64]*repository.Token
}

type migrationProgress struct {
	step      int
	completed bool
}

func NewStore() *Store {
	return &Store{
		sessions: make(map[uuid.UUID]*repository.Session),
		tables:   make(map[string]*table),
		columns:  make(map[string]map[string]bool),
		progress: make(map[string]migrationProgress),
	}
}

// CreateTable registers a table with the given columns.
func (s *Store) CreateTable(name string, columns ...string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.tables[name] = &table{rows: make(map[int64]*repository.Token)}
	cols := make(map[string]bool, len(columns))
	for _, c := range columns {
		cols[c] = true
	}
	s.columns[name] = cols
}

// AddSession creates a session with the given key.
func (s *Store) AddSession(sessionKey string) *repository.Session {
	s.mu.Lock()
	defer s.mu.Unlock()

	session := &repository.Session{
		UUID:       uuid.New(),
		SessionKey: sessionKey,
	}
	s.sessions[session.UUID] = session
	s.order = append(s.order, session.UUID)

	cp := *session
	return &cp
}

// AddToken inserts a token carrying the given legacy linkage.
func (s *Store) AddToken(tableName string, legacy *string) (*repository.Token, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, ok := s.tables[tableName]
	if !ok {
		return nil, fmt.Errorf("table %s: %w", tableName, repository.ErrNotFound)
	}

	s.nextID++
	token := &repository.Token{ID: s.nextID}
	if legacy != nil {
		v := *legacy
		token.LegacySessionID = &v
	}
	t.rows[token.ID] = token

	return copyToken(token), nil
}

// Tokens returns the repository of one token table.
func (s *Store) Tokens(tableName string) *TokenTable {
	return &TokenTable{store: s, name: tableName}
}

func (s *Store) Scan(ctx context.Context) iter.Seq2[*repository.Session, error] {
	return func(yield func(*repository.Session, error) bool) {
		s.mu.RLock()
		snapshot := make([]repository.Session, 0, len(s.order))
		for _, id := range s.order {
			snapshot = append(snapshot, *s.sessions[id])
		}
		s.mu.RUnlock()

		for i := range snapshot {
			if err := ctx.Err(); err != nil {
				yield(nil, err)
				return
			}
			if !yield(&snapshot[i], nil) {
				return
			}
		}
	}
}

func (s *Store) Count(_ context.Context) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return int64(len(s.sessions)), nil
}

func (s *Store) GetBySessionKey(_ context.Context, sessionKey string) (*repository.Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, session := range s.sessions {
		if session.SessionKey == sessionKey {
			cp := *session
			return &cp, nil
		}
	}
	return nil, repository.ErrNotFound
}

// Delete removes a session and resets every token pointing at it.
func (s *Store) Delete(_ context.Context, id uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.sessions[id]; !ok {
		return repository.ErrNotFound
	}
	delete(s.sessions, id)
	s.order = slices.DeleteFunc(s.order, func(v uuid.UUID) bool { return v == id })

	for _, t := range s.tables {
		for _, token := range t.rows {
			if token.SessionUUID != nil && *token.SessionUUID == id {
				token.SessionUUID = nil
			}
		}
	}
	return nil
}

// Apply implements schema.Executor.
func (s *Store) Apply(_ context.Context, op schema.Operation) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch o := op.(type) {
	case schema.RenameColumn:
		cols, err := s.requireColumn(o.Table, o.From)
		if err != nil {
			return err
		}
		if cols[o.To] {
			return fmt.Errorf("column %s.%s already exists", o.Table, o.To)
		}
		delete(cols, o.From)
		cols[o.To] = true
	case schema.AddRelationship:
		cols, ok := s.columns[o.Table]
		if !ok {
			return fmt.Errorf("table %s does not exist", o.Table)
		}
		if cols[o.Column] {
			return fmt.Errorf("column %s.%s already exists", o.Table, o.Column)
		}
		cols[o.Column] = true
	case schema.DropColumn:
		cols, err := s.requireColumn(o.Table, o.Column)
		if err != nil {
			return err
		}
		delete(cols, o.Column)
		// The legacy linkage lives in the dropped column.
		for _, token := range s.tables[o.Table].rows {
			token.LegacySessionID = nil
		}
	default:
		return fmt.Errorf("unsupported structural operation %s", op.Kind())
	}
	return nil
}

func (s *Store) requireColumn(tableName, column string) (map[string]bool, error) {
	cols, ok := s.columns[tableName]
	if !ok {
		return nil, fmt.Errorf("table %s does not exist", tableName)
	}
	if !cols[column] {
		return nil, fmt.Errorf("column %s.%s does not exist", tableName, column)
	}
	return cols, nil
}

// ColumnExists implements schema.Executor.
func (s *Store) ColumnExists(_ context.Context, tableName, column string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.columns[tableName][column], nil
}

// Progress implements schema.Store.
func (s *Store) Progress(_ context.Context, id string) (int, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	p := s.progress[id]
	return p.step, p.completed, nil
}

// Record implements schema.Store.
func (s *Store) Record(_ context.Context, id string, step int, completed bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.progress[id] = migrationProgress{step: step, completed: completed}
	return nil
}

// Acquire implements schema.Locker with a process-local lock.
func (s *Store) Acquire(ctx context.Context, _ string) (func(), error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("acquire lock: %w", err)
	}
	return func() {}, nil
}

// WithTransaction implements schema.Transactor. The memory store has no
// rollback, fn simply runs.
func (s *Store) WithTransaction(ctx context.Context, fn func(ctx context.Context) error) error {
	return fn(ctx)
}

func copyToken(t *repository.Token) *repository.Token {
	cp := &repository.Token{ID: t.ID}
	if t.LegacySessionID != nil {
		v := *t.LegacySessionID
		cp.LegacySessionID = &v
	}
	if t.SessionUUID != nil {
		v := *t.SessionUUID
		cp.SessionUUID = &v
	}
	return cp
}

var (
	_ repository.SessionRepository = (*Store)(nil)
	_ repository.TokenRepository   = (*TokenTable)(nil)
	_ schema.Executor              = (*Store)(nil)
	_ schema.Store                 = (*Store)(nil)
	_ schema.Locker                = (*Store)(nil)
	_ schema.Transactor            = (*Store)(nil)
)
