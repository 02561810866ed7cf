package schema

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func noop(context.Context) error { return nil }

func testSpec() LinkSpec {
	return LinkSpec{
		ID:              "0022_token_session",
		Reference:       "authenticated_sessions",
		ReferenceColumn: "uuid",
		ReferenceKey:    "session_key",
		ColumnType:      "uuid",
		LegacyColumn:    "session_id",
		AsideColumn:     "session_id_old",
		RelationColumn:  "session_id",
		Backfilled:      []string{"access_tokens", "refresh_tokens"},
		SchemaOnly:      []string{"device_tokens"},
	}
}

func TestNext(t *testing.T) {
	tests := []struct {
		name    string
		from    Stage
		kind    Kind
		want    Stage
		wantErr bool
	}{
		{name: "rename from initial", from: StageInitial, kind: KindRenameColumn, want: StageColumnsRenamed},
		{name: "rename again", from: StageColumnsRenamed, kind: KindRenameColumn, want: StageColumnsRenamed},
		{name: "add after rename", from: StageColumnsRenamed, kind: KindAddRelationship, want: StageRelationshipsAdded},
		{name: "backfill after add", from: StageRelationshipsAdded, kind: KindRunData, want: StageBackfillComplete},
		{name: "drop after backfill", from: StageBackfillComplete, kind: KindDropColumn, want: StageOldColumnsDropped},
		{name: "drop again", from: StageOldColumnsDropped, kind: KindDropColumn, want: StageOldColumnsDropped},
		{name: "add before rename", from: StageInitial, kind: KindAddRelationship, wantErr: true},
		{name: "backfill before add", from: StageColumnsRenamed, kind: KindRunData, wantErr: true},
		{name: "second backfill", from: StageBackfillComplete, kind: KindRunData, wantErr: true},
		{name: "drop before backfill", from: StageRelationshipsAdded, kind: KindDropColumn, wantErr: true},
		{name: "rename after drop", from: StageOldColumnsDropped, kind: KindRenameColumn, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Next(tt.from, tt.kind)
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrInvalidSequence)
				assert.Equal(t, tt.from, got)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestLinkByHashedKey(t *testing.T) {
	m := LinkByHashedKey(testSpec(), noop)
	require.NoError(t, m.Validate())

	kinds := make([]Kind, len(m.Operations))
	for i, op := range m.Operations {
		kinds[i] = op.Kind()
	}
	assert.Equal(t, []Kind{
		KindRenameColumn, KindRenameColumn,
		KindAddRelationship, KindAddRelationship, KindAddRelationship,
		KindRunData,
		KindDropColumn, KindDropColumn,
	}, kinds)

	device := m.Operations[4].(AddRelationship)
	assert.Equal(t, "device_tokens", device.Table)
	assert.True(t, device.Nullable)
	assert.Equal(t, SetDefault, device.OnDelete)

	data := m.Operations[5].(RunData)
	assert.Contains(t, data.Requires, Column{Table: "refresh_tokens", Name: "session_id_old"})
	assert.Contains(t, data.Requires, Column{Table: "refresh_tokens", Name: "session_id"})
	assert.NotContains(t, data.Requires, Column{Table: "device_tokens", Name: "session_id_old"})
}

func TestValidate_RejectsReordering(t *testing.T) {
	base := LinkByHashedKey(testSpec(), noop)

	swap := func(i, j int) Migration {
		ops := append([]Operation{}, base.Operations...)
		ops[i], ops[j] = ops[j], ops[i]
		return Migration{ID: base.ID, Operations: ops}
	}

	tests := []struct {
		name string
		m    Migration
	}{
		{name: "backfill before add", m: swap(4, 5)},
		{name: "drop before backfill", m: swap(5, 6)},
		{name: "add before rename", m: swap(1, 2)},
		{name: "missing drop", m: Migration{ID: base.ID, Operations: base.Operations[:6]}},
		{name: "missing backfill", m: Migration{ID: base.ID, Operations: append(append([]Operation{}, base.Operations[:5]...), base.Operations[6:]...)}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.ErrorIs(t, tt.m.Validate(), ErrInvalidSequence)
		})
	}
}

func TestValidate_RequiresColumnsCreatedEarlier(t *testing.T) {
	m := Migration{
		ID: "x",
		Operations: []Operation{
			RenameColumn{Table: "access_tokens", From: "session_id", To: "session_id_old"},
			AddRelationship{Table: "access_tokens", Column: "session_id", Type: "uuid", References: "authenticated_sessions", ReferencesColumn: "uuid", Nullable: true, OnDelete: SetDefault},
			RunData{Name: "backfill", Fn: noop, Requires: []Column{{Table: "refresh_tokens", Name: "session_id"}}},
			DropColumn{Table: "access_tokens", Column: "session_id_old"},
		},
	}

	assert.ErrorIs(t, m.Validate(), ErrInvalidSequence)
}

func TestValidate_DropOnlyRenamedColumns(t *testing.T) {
	m := LinkByHashedKey(testSpec(), noop)
	m.Operations[len(m.Operations)-1] = DropColumn{Table: "access_tokens", Column: "session_id"}

	assert.ErrorIs(t, m.Validate(), ErrInvalidSequence)
}

func TestValidate_InvalidOperations(t *testing.T) {
	add := AddRelationship{Table: "t", Column: "c", Type: "uuid", References: "r", ReferencesColumn: "id", Nullable: true, OnDelete: SetDefault}
	cascade := add
	cascade.OnDelete = Cascade
	notNull := add
	notNull.Nullable = false

	tests := []struct {
		name string
		ops  []Operation
	}{
		{name: "nil", ops: []Operation{nil}},
		{name: "rename to itself", ops: []Operation{RenameColumn{Table: "t", From: "a", To: "a"}}},
		{name: "cascade", ops: []Operation{RenameColumn{Table: "t", From: "a", To: "b"}, cascade}},
		{name: "set default on not null", ops: []Operation{RenameColumn{Table: "t", From: "a", To: "b"}, notNull}},
		{name: "data without fn", ops: []Operation{RenameColumn{Table: "t", From: "a", To: "b"}, add, RunData{Name: "x"}}},
		{name: "drop without column", ops: []Operation{DropColumn{Table: "t"}}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := Migration{ID: "x", Operations: tt.ops}.Validate()
			assert.ErrorIs(t, err, ErrInvalidOperation)
		})
	}

	assert.ErrorIs(t, Migration{}.Validate(), ErrInvalidOperation)
	assert.ErrorIs(t, Migration{ID: "empty"}.Validate(), ErrInvalidOperation)
}

func TestStageAt(t *testing.T) {
	m := LinkByHashedKey(testSpec(), noop)

	assert.Equal(t, StageInitial, m.StageAt(0))
	assert.Equal(t, StageColumnsRenamed, m.StageAt(2))
	assert.Equal(t, StageRelationshipsAdded, m.StageAt(5))
	assert.Equal(t, StageBackfillComplete, m.StageAt(6))
	assert.Equal(t, StageOldColumnsDropped, m.StageAt(len(m.Operations)))
	assert.Equal(t, StageOldColumnsDropped, m.StageAt(100))
}
