package schema

import "context"

// LinkSpec describes a foreign key introduced in place of a column that
// stored a hash of the referenced row's natural key.
type LinkSpec struct {
	ID          string
	Description string

	Reference       string // referenced table
	ReferenceColumn string // its surrogate key
	ReferenceKey    string // its natural key, the value LegacyColumn hashes
	ColumnType      string // SQL type of the surrogate key

	LegacyColumn   string // column holding the hashed natural key
	AsideColumn    string // name LegacyColumn is renamed to during the migration
	RelationColumn string // new foreign key column

	// Backfilled tables carry LegacyColumn and get their relation backfilled.
	Backfilled []string
	// SchemaOnly tables only get the new relation column.
	SchemaOnly []string
}

// LinkByHashedKey builds the rename, add, backfill, drop migration for spec.
// fn is the backfill; it runs while both the aside and relation columns exist.
func LinkByHashedKey(spec LinkSpec, fn func(ctx context.Context) error) Migration {
	m := Migration{ID: spec.ID, Description: spec.Description}

	for _, table := range spec.Backfilled {
		m.Operations = append(m.Operations, RenameColumn{
			Table: table,
			From:  spec.LegacyColumn,
			To:    spec.AsideColumn,
		})
	}

	for _, table := range append(append([]string{}, spec.Backfilled...), spec.SchemaOnly...) {
		m.Operations = append(m.Operations, AddRelationship{
			Table:            table,
			Column:           spec.RelationColumn,
			Type:             spec.ColumnType,
			References:       spec.Reference,
			ReferencesColumn: spec.ReferenceColumn,
			Nullable:         true,
			OnDelete:         SetDefault,
			Index:            true,
		})
	}

	requires := make([]Column, 0, 2*len(spec.Backfilled))
	for _, table := range spec.Backfilled {
		requires = append(requires,
			Column{Table: table, Name: spec.AsideColumn},
			Column{Table: table, Name: spec.RelationColumn},
		)
	}
	m.Operations = append(m.Operations, RunData{
		Name:     "backfill " + spec.RelationColumn,
		Requires: requires,
		Fn:       fn,
	})

	for _, table := range spec.Backfilled {
		m.Operations = append(m.Operations, DropColumn{
			Table:  table,
			Column: spec.AsideColumn,
		})
	}

	return m
}
