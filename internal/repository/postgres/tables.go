package postgres

import (
	"github.com/jackc/pgx/v5"

	"github.com/koyif/sessionlink/internal/schema"
)

// DefaultPageSize is the number of rows fetched per keyset page.
const DefaultPageSize = 1000

// ReferenceTable describes the table a new foreign key points at.
type ReferenceTable struct {
	Name      string
	IDColumn  string // surrogate key, uuid
	KeyColumn string // natural key
}

// DependentTable describes a table whose rows get linked to a ReferenceTable.
type DependentTable struct {
	Name           string
	IDColumn       string
	LegacyColumn   string // hashed natural key
	RelationColumn string // foreign key being backfilled
}

// tokenIDColumn is the bigint primary key of every dependent table.
const tokenIDColumn = "id"

// ReferenceTableOf returns the table spec points its foreign key at.
func ReferenceTableOf(spec schema.LinkSpec) ReferenceTable {
	return ReferenceTable{
		Name:      spec.Reference,
		IDColumn:  spec.ReferenceColumn,
		KeyColumn: spec.ReferenceKey,
	}
}

// DependentTableOf describes table while spec has its legacy column
// renamed aside.
func DependentTableOf(spec schema.LinkSpec, table string) DependentTable {
	return DependentTable{
		Name:           table,
		IDColumn:       tokenIDColumn,
		LegacyColumn:   spec.AsideColumn,
		RelationColumn: spec.RelationColumn,
	}
}

func ident(name string) string {
	return pgx.Identifier{name}.Sanitize()
}
