package tools

import (
	"context"
	"fmt"
	"strings"

	"github.com/nextlevelbuilder/querydesk/internal/store"
)

// DescribeSchemaTool lists tables and columns visible to the query tool.
type DescribeSchemaTool struct {
	exec store.QueryExecutor
}

func NewDescribeSchemaTool(exec store.QueryExecutor) *DescribeSchemaTool {
	return &DescribeSchemaTool{exec: exec}
}

func (t *DescribeSchemaTool) Name() string { return "describe_database_schema" }

func (t *DescribeSchemaTool) Description() string {
	return "List the database tables with their columns and types. Pass a table name to describe only that table. " +
		"Always call this before writing SQL against tables you have not seen in this conversation."
}

func (t *DescribeSchemaTool) Parameters() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"table": map[string]interface{}{
				"type":        "string",
				"description": "Optional table name, optionally schema-qualified (e.g. public.orders).",
			},
		},
	}
}

type schemaColumn struct {
	Name     string `json:"name"`
	Type     string `json:"type"`
	Nullable bool   `json:"nullable"`
}

type schemaTable struct {
	Name    string         `json:"name"`
	Columns []schemaColumn `json:"columns"`
}

func (t *DescribeSchemaTool) Execute(ctx context.Context, args map[string]interface{}) *Result {
	table := strings.TrimSpace(stringArg(args, "table"))

	cols, err := t.exec.DescribeSchema(ctx, table)
	if err != nil {
		return ErrorResult("failed to read schema: " + err.Error()).WithError(err)
	}
	if len(cols) == 0 {
		if table != "" {
			return ErrorResult(fmt.Sprintf("table %q not found; call describe_database_schema without arguments to list all tables", table))
		}
		return NewResult("no tables are visible in the configured schemas")
	}

	return JSONResult(map[string]any{"tables": groupColumns(cols)})
}

// groupColumns folds rows (already ordered by schema, table, position) into
// tables. Tables in the public schema are shown unqualified.
func groupColumns(cols []store.ColumnInfo) []schemaTable {
	var tables []schemaTable
	for _, c := range cols {
		name := c.Table
		if c.Schema != "" && c.Schema != "public" {
			name = c.Schema + "." + c.Table
		}
		if len(tables) == 0 || tables[len(tables)-1].Name != name {
			tables = append(tables, schemaTable{Name: name})
		}
		last := &tables[len(tables)-1]
		last.Columns = append(last.Columns, schemaColumn{
			Name:     c.Column,
			Type:     c.DataType,
			Nullable: strings.EqualFold(c.IsNullable, "YES"),
		})
	}
	return tables
}
