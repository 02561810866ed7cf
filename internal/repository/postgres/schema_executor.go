package postgres

import (
	"context"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/koyif/sessionlink/internal/schema"
)

// columnTypes lists the relation column types SchemaExecutor accepts.
var columnTypes = map[string]string{
	"uuid":    "uuid",
	"bigint":  "bigint",
	"integer": "integer",
	"text":    "text",
}

// deleteActions lists the ON DELETE actions SchemaExecutor renders. CASCADE
// is refused: deleting a session must never delete the tokens linked to it.
var deleteActions = map[schema.DeleteAction]bool{
	schema.SetDefault: true,
	schema.SetNull:    true,
	schema.Restrict:   true,
}

// SchemaExecutor renders structural operations as PostgreSQL DDL.
// Statements run on the transaction carried by ctx when there is one.
type SchemaExecutor struct {
	pool *pgxpool.Pool
}

func NewSchemaExecutor(pool *pgxpool.Pool) *SchemaExecutor {
	return &SchemaExecutor{pool: pool}
}

func (e *SchemaExecutor) Apply(ctx context.Context, op schema.Operation) error {
	stmts, err := Render(op)
	if err != nil {
		return err
	}

	q := getQuerier(ctx, e.pool)
	for _, stmt := range stmts {
		if _, err := q.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("failed to %s: %w", op.Describe(), err)
		}
	}

	return nil
}

func (e *SchemaExecutor) ColumnExists(ctx context.Context, table, column string) (bool, error) {
	const query = `
		SELECT EXISTS (
			SELECT 1
			FROM information_schema.columns
			WHERE table_schema = current_schema()
			  AND table_name = $1
			  AND column_name = $2
		)
	`

	q := getQuerier(ctx, e.pool)
	var exists bool
	if err := q.QueryRow(ctx, query, table, column).Scan(&exists); err != nil {
		return false, fmt.Errorf("failed to check column %s.%s: %w", table, column, err)
	}

	return exists, nil
}

// Render returns the statements that apply op.
func Render(op schema.Operation) ([]string, error) {
	switch o := op.(type) {
	case schema.RenameColumn:
		return []string{fmt.Sprintf(`ALTER TABLE %s RENAME COLUMN %s TO %s`,
			ident(o.Table), ident(o.From), ident(o.To))}, nil

	case schema.AddRelationship:
		return renderAddRelationship(o)

	case schema.DropColumn:
		return []string{fmt.Sprintf(`ALTER TABLE %s DROP COLUMN %s`,
			ident(o.Table), ident(o.Column))}, nil

	default:
		return nil, fmt.Errorf("%w: %s cannot be rendered as DDL", schema.ErrInvalidOperation, op.Kind())
	}
}

func renderAddRelationship(o schema.AddRelationship) ([]string, error) {
	typ, ok := columnTypes[strings.ToLower(o.Type)]
	if !ok {
		return nil, fmt.Errorf("%w: unsupported column type %q", schema.ErrInvalidOperation, o.Type)
	}
	if !deleteActions[o.OnDelete] {
		return nil, fmt.Errorf("%w: unsupported delete action %q", schema.ErrInvalidOperation, o.OnDelete)
	}

	null := "NOT NULL"
	if o.Nullable {
		null = "NULL"
	}

	// Not deferrable: a row pointing at a missing session fails at the
	// statement that wrote it.
	stmts := []string{fmt.Sprintf(
		`ALTER TABLE %s ADD COLUMN %s %s %s DEFAULT NULL REFERENCES %s (%s) ON DELETE %s`,
		ident(o.Table), ident(o.Column), typ, null,
		ident(o.References), ident(o.ReferencesColumn), o.OnDelete,
	)}

	if o.Index {
		stmts = append(stmts, fmt.Sprintf(`CREATE INDEX %s ON %s (%s)`,
			ident(o.Table+"_"+o.Column+"_idx"), ident(o.Table), ident(o.Column)))
	}

	return stmts, nil
}
