package store

import (
	"context"
	"time"
)

// QueryResult is the outcome of a read-only statement.
// Rows are positional and aligned with Columns; column names may repeat.
// Cell values are JSON-friendly: []byte becomes string, times become RFC3339.
type QueryResult struct {
	Columns   []string      `json:"columns"`
	Rows      [][]any       `json:"rows"`
	RowCount  int           `json:"row_count"`
	Truncated bool          `json:"truncated"`
	Duration  time.Duration `json:"-"`
}

// ColumnInfo describes one column from information_schema.columns.
type ColumnInfo struct {
	Schema     string `db:"table_schema" json:"schema"`
	Table      string `db:"table_name" json:"table"`
	Column     string `db:"column_name" json:"column"`
	DataType   string `db:"data_type" json:"data_type"`
	IsNullable string `db:"is_nullable" json:"nullable"`
	Position   int    `db:"ordinal_position" json:"-"`
}

// QueryExecutor runs guarded read-only SQL. Implemented by pg.Executor.
type QueryExecutor interface {
	Query(ctx context.Context, stmt string) (*QueryResult, error)
	DescribeSchema(ctx context.Context, table string) ([]ColumnInfo, error)
	Ping(ctx context.Context) error
}
