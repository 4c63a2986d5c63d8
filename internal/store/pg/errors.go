package pg

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/lib/pq"
)

// QueryError is a database failure classified for the model.
type QueryError struct {
	Code    string // SQLSTATE, or "timeout"/"canceled"
	Message string
	Hint    string
	Err     error
}

func (e *QueryError) Error() string {
	if e.Hint != "" {
		return fmt.Sprintf("%s (%s)", e.Message, e.Hint)
	}
	return e.Message
}

func (e *QueryError) Unwrap() error { return e.Err }

// classifyError maps pgx and lib/pq errors onto actionable messages.
// Unknown errors are returned wrapped but otherwise untouched.
func classifyError(err error) error {
	if err == nil {
		return nil
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return &QueryError{Code: "timeout", Message: "query timed out", Hint: "narrow the filter or add a LIMIT", Err: err}
	}
	if errors.Is(err, context.Canceled) {
		return &QueryError{Code: "canceled", Message: "query canceled", Err: err}
	}

	code, msg := sqlState(err)
	if code == "" {
		return fmt.Errorf("query: %w", err)
	}

	qe := &QueryError{Code: code, Message: msg, Err: err}
	switch code {
	case "25006":
		qe.Hint = "the connection is read-only; only SELECT is permitted"
	case "57014":
		qe.Message = "query canceled by statement timeout"
		qe.Hint = "narrow the filter or add a LIMIT"
	case "42P01":
		qe.Hint = "call describe_database_schema to list the available tables"
	case "42703":
		qe.Hint = "call describe_database_schema with the table name to see its columns"
	case "42601":
		qe.Hint = "fix the SQL syntax"
	case "42501":
		qe.Hint = "the database role has no access to that object"
	case "42883":
		qe.Hint = "the function or operator does not exist for these argument types; add an explicit cast"
	case "22P02", "22007", "22008":
		qe.Hint = "a literal does not match the column type"
	}
	return qe
}

func sqlState(err error) (code, msg string) {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code, pgErr.Message
	}
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return string(pqErr.Code), pqErr.Message
	}
	return "", ""
}
