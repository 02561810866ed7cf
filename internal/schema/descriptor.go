// Package schema describes structural migrations as data and drives them in
// order. It never issues DDL itself: an Executor does.
package schema

import (
	"context"
	"fmt"
)

// Kind is the kind of a migration step.
type Kind int

const (
	KindRenameColumn Kind = iota
	KindAddRelationship
	KindRunData
	KindDropColumn
)

func (k Kind) String() string {
	switch k {
	case KindRenameColumn:
		return "rename_column"
	case KindAddRelationship:
		return "add_relationship_column"
	case KindRunData:
		return "run_data_transformation"
	case KindDropColumn:
		return "drop_column"
	default:
		return fmt.Sprintf("Kind(%d)", int(k))
	}
}

// Operation is one step of a migration.
type Operation interface {
	Kind() Kind
	Describe() string
}

// Column names a column of a table.
type Column struct {
	Table string
	Name  string
}

func (c Column) String() string {
	return c.Table + "." + c.Name
}

// DeleteAction is the ON DELETE behaviour of a foreign key.
type DeleteAction string

const (
	SetDefault DeleteAction = "SET DEFAULT"
	SetNull    DeleteAction = "SET NULL"
	Cascade    DeleteAction = "CASCADE"
	Restrict   DeleteAction = "RESTRICT"
)

// RenameColumn renames Table.From to Table.To.
type RenameColumn struct {
	Table string
	From  string
	To    string
}

func (RenameColumn) Kind() Kind { return KindRenameColumn }

func (o RenameColumn) Describe() string {
	return fmt.Sprintf("rename %s.%s to %s", o.Table, o.From, o.To)
}

// AddRelationship adds a foreign key column. The column default is NULL.
type AddRelationship struct {
	Table            string
	Column           string
	Type             string
	References       string
	ReferencesColumn string
	Nullable         bool
	OnDelete         DeleteAction
	Index            bool
}

func (AddRelationship) Kind() Kind { return KindAddRelationship }

func (o AddRelationship) Describe() string {
	return fmt.Sprintf("add %s.%s referencing %s(%s) on delete %s",
		o.Table, o.Column, o.References, o.ReferencesColumn, o.OnDelete)
}

// DropColumn removes Table.Column.
type DropColumn struct {
	Table  string
	Column string
}

func (DropColumn) Kind() Kind { return KindDropColumn }

func (o DropColumn) Describe() string {
	return fmt.Sprintf("drop %s.%s", o.Table, o.Column)
}

// RunData is an imperative data transformation between structural steps.
// Requires lists the columns the transformation reads or writes; each must
// exist when the step starts.
type RunData struct {
	Name     string
	Requires []Column
	Fn       func(ctx context.Context) error
}

func (RunData) Kind() Kind { return KindRunData }

func (o RunData) Describe() string {
	return "run " + o.Name
}

// Migration is an ordered list of operations applied as one unit.
type Migration struct {
	ID          string
	Description string
	Operations  []Operation
}
