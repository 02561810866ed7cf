package migrations

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/koyif/sessionlink/internal/backfill"
	"github.com/koyif/sessionlink/internal/progress"
	"github.com/koyif/sessionlink/internal/repository"
	"github.com/koyif/sessionlink/internal/repository/memory"
	"github.com/koyif/sessionlink/internal/schema"
)

type harness struct {
	store  *memory.Store
	engine *backfill.Engine
}

func newHarness(t *testing.T) *harness {
	t.Helper()

	store := memory.NewStore()
	var tokens []repository.TokenRepository
	for _, name := range OAuth2BackfilledTables {
		store.CreateTable(name, "id", "session_id")
		tokens = append(tokens, store.Tokens(name))
	}
	for _, name := range OAuth2SchemaOnlyTables {
		store.CreateTable(name, "id")
	}

	return &harness{
		store:  store,
		engine: backfill.NewEngine(store, tokens, progress.Nop{}, zap.NewNop(), backfill.DefaultConfig()),
	}
}

func (h *harness) runner() *schema.Runner {
	return schema.NewRunner(h.store, h.store, h.store, h.store, zap.NewNop(), schema.Options{Atomic: true})
}

func (h *harness) addToken(t *testing.T, table, sessionKey string) *repository.Token {
	t.Helper()

	digest, err := backfill.SHA256Hex(sessionKey)
	require.NoError(t, err)

	token, err := h.store.AddToken(table, &digest)
	require.NoError(t, err)
	return token
}

type backfillFunc func(ctx context.Context) (backfill.Summary, error)

func (f backfillFunc) Run(ctx context.Context) (backfill.Summary, error) { return f(ctx) }

func TestOAuth2SessionLink_Descriptor(t *testing.T) {
	m := OAuth2SessionLink(backfillFunc(func(context.Context) (backfill.Summary, error) {
		return backfill.Summary{}, nil
	}), nil)

	require.NoError(t, m.Validate())
	assert.Equal(t, OAuth2SessionLinkID, m.ID)

	var kinds []schema.Kind
	for _, op := range m.Operations {
		kinds = append(kinds, op.Kind())
	}
	assert.Equal(t, []schema.Kind{
		schema.KindRenameColumn, schema.KindRenameColumn, schema.KindRenameColumn,
		schema.KindAddRelationship, schema.KindAddRelationship, schema.KindAddRelationship, schema.KindAddRelationship,
		schema.KindRunData,
		schema.KindDropColumn, schema.KindDropColumn, schema.KindDropColumn,
	}, kinds)

	for _, op := range m.Operations {
		add, ok := op.(schema.AddRelationship)
		if !ok {
			continue
		}
		assert.Equal(t, "session_id", add.Column)
		assert.Equal(t, "authenticated_sessions", add.References)
		assert.Equal(t, "uuid", add.ReferencesColumn)
		assert.True(t, add.Nullable)
		assert.Equal(t, schema.SetDefault, add.OnDelete)
	}

	last := m.Operations[len(m.Operations)-1].(schema.DropColumn)
	assert.Equal(t, "session_id_old", last.Column)
}

func TestOAuth2SessionLink_EndToEnd(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)

	session := h.store.AddSession("sess-abc")
	linked := h.addToken(t, "access_tokens", "sess-abc")
	orphan := h.addToken(t, "access_tokens", "sess-missing")
	code := h.addToken(t, "authorization_codes", "sess-abc")
	unlinked, err := h.store.AddToken("refresh_tokens", nil)
	require.NoError(t, err)

	var observed *backfill.Summary
	m := OAuth2SessionLink(h.engine, func(s backfill.Summary) { observed = &s })

	require.NoError(t, h.runner().Apply(ctx, m))

	got, err := h.store.Tokens("access_tokens").Get(ctx, linked.ID)
	require.NoError(t, err)
	require.NotNil(t, got.SessionUUID)
	assert.Equal(t, session.UUID, *got.SessionUUID)

	got, err = h.store.Tokens("access_tokens").Get(ctx, orphan.ID)
	require.NoError(t, err)
	assert.Nil(t, got.SessionUUID)

	got, err = h.store.Tokens("authorization_codes").Get(ctx, code.ID)
	require.NoError(t, err)
	require.NotNil(t, got.SessionUUID)
	assert.Equal(t, session.UUID, *got.SessionUUID)

	got, err = h.store.Tokens("refresh_tokens").Get(ctx, unlinked.ID)
	require.NoError(t, err)
	assert.Nil(t, got.SessionUUID)

	for _, table := range OAuth2BackfilledTables {
		old, err := h.store.ColumnExists(ctx, table, "session_id_old")
		require.NoError(t, err)
		assert.False(t, old, table)

		rel, err := h.store.ColumnExists(ctx, table, "session_id")
		require.NoError(t, err)
		assert.True(t, rel, table)
	}
	rel, err := h.store.ColumnExists(ctx, "device_tokens", "session_id")
	require.NoError(t, err)
	assert.True(t, rel)

	require.NotNil(t, observed)
	assert.Equal(t, int64(1), observed.Index.Sessions)
	require.Len(t, observed.Results, 3)

	st, err := h.runner().Status(ctx, m)
	require.NoError(t, err)
	assert.True(t, st.Completed)
	assert.Equal(t, schema.StageOldColumnsDropped, st.Stage)

	// Applying again is a no-op.
	require.NoError(t, h.runner().Apply(ctx, m))

	// Removing the session keeps the token and resets its link.
	require.NoError(t, h.store.Delete(ctx, session.UUID))
	got, err = h.store.Tokens("access_tokens").Get(ctx, linked.ID)
	require.NoError(t, err)
	assert.Nil(t, got.SessionUUID)
}

func TestOAuth2SessionLink_BackfillFailureKeepsOldColumns(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)

	boom := errors.New("storage unavailable")
	m := OAuth2SessionLink(backfillFunc(func(context.Context) (backfill.Summary, error) {
		return backfill.Summary{}, boom
	}), nil)

	err := h.runner().Apply(ctx, m)
	require.Error(t, err)
	assert.ErrorIs(t, err, boom)

	var stepErr *schema.StepError
	require.ErrorAs(t, err, &stepErr)
	assert.Equal(t, schema.KindRunData, stepErr.Op.Kind())

	for _, table := range OAuth2BackfilledTables {
		old, err := h.store.ColumnExists(ctx, table, "session_id_old")
		require.NoError(t, err)
		assert.True(t, old, "%s keeps the legacy column when the backfill fails", table)
	}

	st, err := h.runner().Status(ctx, m)
	require.NoError(t, err)
	assert.False(t, st.Completed)
}

func TestOAuth2SessionLink_FailFastAbortsBeforeDrop(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)

	h.store.AddSession("sess-abc")
	h.addToken(t, "access_tokens", "sess-abc")

	writeErr := errors.New("constraint violated")
	h.store.FailSetSession = func(string, int64) error { return writeErr }

	cfg := backfill.DefaultConfig()
	cfg.Policy = backfill.FailFast
	var tokens []repository.TokenRepository
	for _, name := range OAuth2BackfilledTables {
		tokens = append(tokens, h.store.Tokens(name))
	}
	engine := backfill.NewEngine(h.store, tokens, progress.Nop{}, zap.NewNop(), cfg)

	err := h.runner().Apply(ctx, OAuth2SessionLink(engine, nil))
	require.Error(t, err)
	assert.ErrorIs(t, err, writeErr)

	var rowErr *backfill.RowError
	require.ErrorAs(t, err, &rowErr)
	assert.Equal(t, "access_tokens", rowErr.Table)

	old, err := h.store.ColumnExists(ctx, "access_tokens", "session_id_old")
	require.NoError(t, err)
	assert.True(t, old)
}
