package pg

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/nextlevelbuilder/querydesk/internal/config"
	"github.com/nextlevelbuilder/querydesk/internal/sqlguard"
	"github.com/nextlevelbuilder/querydesk/internal/store"
)

// Executor runs guarded SELECT statements inside READ ONLY transactions.
type Executor struct {
	db      *sqlx.DB
	maxRows int
	timeout time.Duration
	schemas []string
}

// NewExecutor wraps db with the row, timeout and schema limits from cfg.
func NewExecutor(db *sqlx.DB, cfg config.DatabaseConfig) *Executor {
	schemas := cfg.Schemas
	if len(schemas) == 0 {
		schemas = []string{"public"}
	}
	maxRows := cfg.MaxRows
	if maxRows <= 0 {
		maxRows = 200
	}
	return &Executor{
		db:      db,
		maxRows: maxRows,
		timeout: time.Duration(cfg.StatementTimeoutMS) * time.Millisecond,
		schemas: schemas,
	}
}

// Ping checks database connectivity.
func (e *Executor) Ping(ctx context.Context) error {
	return e.db.PingContext(ctx)
}

// Query checks stmt with sqlguard and runs it. The transaction is always
// rolled back, so even a statement that slipped past the guard cannot persist.
func (e *Executor) Query(ctx context.Context, stmt string) (*store.QueryResult, error) {
	normalized, err := sqlguard.Check(stmt)
	if err != nil {
		slog.Warn("security.sql_rejected",
			"error", err,
			"user", store.UserIDFromContext(ctx),
			"session", store.SessionIDFromContext(ctx),
		)
		return nil, err
	}

	start := time.Now()
	tx, err := e.db.BeginTxx(ctx, &sql.TxOptions{ReadOnly: true})
	if err != nil {
		return nil, classifyError(fmt.Errorf("begin read-only transaction: %w", err))
	}
	defer tx.Rollback() //nolint:errcheck

	if e.timeout > 0 {
		if _, err := tx.ExecContext(ctx, fmt.Sprintf("SET LOCAL statement_timeout = %d", e.timeout.Milliseconds())); err != nil {
			return nil, classifyError(err)
		}
	}

	rows, err := tx.QueryxContext(ctx, normalized)
	if err != nil {
		return nil, classifyError(err)
	}
	defer rows.Close()

	cols, err := rows.Columns()
	if err != nil {
		return nil, classifyError(err)
	}

	res := &store.QueryResult{Columns: cols, Rows: make([][]any, 0)}
	for rows.Next() {
		if len(res.Rows) >= e.maxRows {
			res.Truncated = true
			break
		}
		cells, err := rows.SliceScan()
		if err != nil {
			return nil, classifyError(err)
		}
		for i, v := range cells {
			cells[i] = normalizeValue(v)
		}
		res.Rows = append(res.Rows, cells)
	}
	if err := rows.Err(); err != nil {
		return nil, classifyError(err)
	}

	res.RowCount = len(res.Rows)
	res.Duration = time.Since(start)
	slog.Debug("sql query executed",
		"rows", res.RowCount,
		"truncated", res.Truncated,
		"duration_ms", res.Duration.Milliseconds(),
	)
	return res, nil
}
