package pg

import (
	"context"
	"fmt"
	"slices"

	"github.com/lib/pq"

	"github.com/nextlevelbuilder/querydesk/internal/store"
)

const describeColumnsSQL = `SELECT table_schema, table_name, column_name, data_type, is_nullable, ordinal_position
FROM information_schema.columns
WHERE table_schema = ANY($1)`

// DescribeSchema lists columns of the configured schemas. When table is set
// (optionally schema-qualified) only that table is described.
func (e *Executor) DescribeSchema(ctx context.Context, table string) ([]store.ColumnInfo, error) {
	q := describeColumnsSQL
	args := []any{pq.Array(e.schemas)}

	if table != "" {
		schema, name := splitQualified(table)
		if schema != "" {
			if !slices.Contains(e.schemas, schema) {
				return nil, fmt.Errorf("schema %q is not exposed (allowed: %v)", schema, e.schemas)
			}
			args[0] = pq.Array([]string{schema})
		}
		q += " AND table_name = $2"
		args = append(args, name)
	}
	q += " ORDER BY table_schema, table_name, ordinal_position"

	var cols []store.ColumnInfo
	if err := e.db.SelectContext(ctx, &cols, q, args...); err != nil {
		return nil, classifyError(fmt.Errorf("describe schema: %w", err))
	}
	return cols, nil
}
