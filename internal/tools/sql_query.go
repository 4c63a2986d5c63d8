package tools

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/mattn/go-runewidth"

	"github.com/nextlevelbuilder/querydesk/internal/sqlguard"
	"github.com/nextlevelbuilder/querydesk/internal/store"
	"github.com/nextlevelbuilder/querydesk/internal/store/pg"
)

const defaultMaxCellWidth = 120

// RunSQLQueryTool executes a single read-only SELECT for the model.
type RunSQLQueryTool struct {
	exec         store.QueryExecutor
	maxCellWidth int
}

func NewRunSQLQueryTool(exec store.QueryExecutor) *RunSQLQueryTool {
	return &RunSQLQueryTool{exec: exec, maxCellWidth: defaultMaxCellWidth}
}

func (t *RunSQLQueryTool) Name() string { return "run_sql_query" }

func (t *RunSQLQueryTool) Description() string {
	return "Run one read-only SQL SELECT (or WITH ... SELECT) against the PostgreSQL database and return the rows as JSON. " +
		"Only SELECT is allowed; writes, DDL and multiple statements are rejected. " +
		"Call describe_database_schema first if you are not sure of table or column names. Prefer aggregates and LIMIT for large tables."
}

func (t *RunSQLQueryTool) Parameters() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"query": map[string]interface{}{
				"type":        "string",
				"description": "A single PostgreSQL SELECT statement.",
			},
			"purpose": map[string]interface{}{
				"type":        "string",
				"description": "Short note on what this query answers (for audit logs).",
			},
		},
		"required": []string{"query"},
	}
}

type sqlToolOutput struct {
	Columns   []string `json:"columns"`
	Rows      [][]any  `json:"rows"`
	RowCount  int      `json:"row_count"`
	Truncated bool     `json:"truncated"`
	Note      string   `json:"note,omitempty"`
}

func (t *RunSQLQueryTool) Execute(ctx context.Context, args map[string]interface{}) *Result {
	query := strings.TrimSpace(stringArg(args, "query"))
	if query == "" {
		return ErrorResult("query parameter is required")
	}

	res, err := t.exec.Query(ctx, query)
	if err != nil {
		return ErrorResult(describeQueryError(err)).WithError(err)
	}
	QueryLogFromCtx(ctx).Add(query)

	slog.Info("sql query executed",
		"session", store.SessionIDFromContext(ctx),
		"purpose", stringArg(args, "purpose"),
		"rows", res.RowCount,
		"truncated", res.Truncated,
		"duration_ms", res.Duration.Milliseconds(),
	)

	out := sqlToolOutput{
		Columns:   res.Columns,
		Rows:      make([][]any, 0, len(res.Rows)),
		RowCount:  res.RowCount,
		Truncated: res.Truncated,
	}
	for _, row := range res.Rows {
		cells := make([]any, len(row))
		for i, v := range row {
			cells[i] = t.clip(v)
		}
		out.Rows = append(out.Rows, cells)
	}
	switch {
	case res.Truncated:
		out.Note = fmt.Sprintf("only the first %d rows are shown; aggregate or add a LIMIT for a complete answer", res.RowCount)
	case res.RowCount == 0:
		out.Note = "query returned no rows"
	}
	return JSONResult(out)
}

// clip shortens long text cells by display width so wide CJK text and
// ASCII get comparable budgets.
func (t *RunSQLQueryTool) clip(v any) any {
	s, ok := v.(string)
	if !ok || t.maxCellWidth <= 0 || runewidth.StringWidth(s) <= t.maxCellWidth {
		return v
	}
	return runewidth.Truncate(s, t.maxCellWidth, "...")
}

// describeQueryError renders guard and database errors as instructions the
// model can act on when it retries.
func describeQueryError(err error) string {
	var v *sqlguard.Violation
	if errors.As(err, &v) {
		return fmt.Sprintf("Query rejected: %s. %s.", v.Error(), v.Hint())
	}
	var qe *pg.QueryError
	if errors.As(err, &qe) {
		if qe.Hint != "" {
			return fmt.Sprintf("Query failed: %s. Hint: %s.", qe.Message, qe.Hint)
		}
		return "Query failed: " + qe.Message
	}
	return "Query failed: " + err.Error()
}
