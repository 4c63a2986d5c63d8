// Package sqlguard rejects any SQL statement that is not a single read-only
// SELECT. It is a lexical filter, not a parser: statements that pass are still
// executed inside a READ ONLY transaction by the database tool.
package sqlguard

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrEmpty              = errors.New("empty statement")
	ErrUnterminated       = errors.New("unterminated literal or comment")
	ErrMultipleStatements = errors.New("multiple statements are not allowed")
	ErrNotSelect          = errors.New("only SELECT statements are allowed")
	ErrForbiddenKeyword   = errors.New("forbidden keyword")
	ErrForbiddenFunction  = errors.New("forbidden function")
	ErrUnicodeEscape      = errors.New("unicode escape literals are not allowed")
)

// Violation describes why a statement was rejected.
// errors.Is(v, ErrForbiddenKeyword) etc. match on Reason.
type Violation struct {
	Reason  error
	Keyword string // offending keyword or function name, if any
	Pos     int    // byte offset in the original statement, -1 if not applicable
}

func (v *Violation) Error() string {
	if v.Keyword != "" {
		return fmt.Sprintf("%s: %s", v.Reason, v.Keyword)
	}
	return v.Reason.Error()
}

func (v *Violation) Unwrap() error { return v.Reason }

// Hint returns guidance the model can act on when retrying.
func (v *Violation) Hint() string {
	switch {
	case errors.Is(v.Reason, ErrMultipleStatements):
		return "send exactly one statement per call"
	case errors.Is(v.Reason, ErrNotSelect):
		return "rewrite the request as a SELECT (CTEs with WITH are allowed)"
	case errors.Is(v.Reason, ErrForbiddenKeyword):
		return "remove the keyword; if it is a column or table name, wrap it in double quotes"
	case errors.Is(v.Reason, ErrForbiddenFunction):
		return "that function has side effects and cannot be called"
	case errors.Is(v.Reason, ErrUnicodeEscape):
		return "write identifiers and strings without U& escapes"
	case errors.Is(v.Reason, ErrUnterminated):
		return "close every quote, dollar-quote and comment"
	default:
		return "provide a SELECT statement"
	}
}

// forbiddenKeywords covers writes, DDL, privileges, session state, transaction
// control, async notifications and row locking (FOR UPDATE). Words that only
// start a statement and double as common column names (COMMENT, START,
// ANALYZE, OWNER, ...) are left to checkLeading.
var forbiddenKeywords = toSet(
	"INSERT", "UPDATE", "DELETE", "MERGE", "UPSERT",
	"DROP", "ALTER", "CREATE", "TRUNCATE", "RENAME",
	"GRANT", "REVOKE",
	"COPY", "CALL", "DO", "EXECUTE", "EXEC", "PREPARE", "DEALLOCATE",
	"LOCK", "NOWAIT",
	"VACUUM", "REINDEX", "CLUSTER", "REFRESH", "CHECKPOINT",
	"SET", "RESET", "DISCARD",
	"BEGIN", "COMMIT", "ROLLBACK", "ABORT", "SAVEPOINT",
	"LISTEN", "UNLISTEN", "NOTIFY",
	"INTO",
)

// forbiddenFunctions have side effects, read the server filesystem, block,
// or reach other databases. Matched case-insensitively on the bare name.
var forbiddenFunctions = toSet(
	"PG_SLEEP", "PG_SLEEP_FOR", "PG_SLEEP_UNTIL",
	"PG_READ_FILE", "PG_READ_BINARY_FILE", "PG_LS_DIR", "PG_STAT_FILE",
	"PG_LS_LOGDIR", "PG_LS_WALDIR", "PG_LS_TMPDIR",
	"LO_IMPORT", "LO_EXPORT", "LO_UNLINK", "LO_CREATE", "LO_CREAT", "LO_PUT", "LO_FROM_BYTEA",
	"DBLINK", "DBLINK_EXEC", "DBLINK_CONNECT", "DBLINK_CONNECT_U", "DBLINK_SEND_QUERY",
	"SET_CONFIG", "NEXTVAL", "SETVAL",
	"PG_TERMINATE_BACKEND", "PG_CANCEL_BACKEND", "PG_RELOAD_CONF", "PG_ROTATE_LOGFILE",
	"PG_ADVISORY_LOCK", "PG_ADVISORY_XACT_LOCK", "PG_TRY_ADVISORY_LOCK", "PG_TRY_ADVISORY_XACT_LOCK",
	"PG_ADVISORY_LOCK_SHARED", "PG_ADVISORY_XACT_LOCK_SHARED",
	"PG_NOTIFY", "TXID_CURRENT", "PG_CURRENT_XACT_ID",
	"PG_SWITCH_WAL", "PG_CREATE_RESTORE_POINT", "PG_LOGICAL_EMIT_MESSAGE",
	"PG_CREATE_LOGICAL_REPLICATION_SLOT", "PG_DROP_REPLICATION_SLOT",
	"PG_PROMOTE", "PG_IMPORT_SYSTEM_COLLATIONS",
	"QUERY_TO_XML", "QUERY_TO_XML_AND_XMLSCHEMA", "CURSOR_TO_XML",
)

func toSet(words ...string) map[string]struct{} {
	m := make(map[string]struct{}, len(words))
	for _, w := range words {
		m[w] = struct{}{}
	}
	return m
}

// Check validates stmt and returns it normalized: surrounding whitespace and
// trailing semicolons removed. Any rejection is a *Violation.
func Check(stmt string) (string, error) {
	trimmed := strings.TrimSpace(stmt)
	if trimmed == "" {
		return "", &Violation{Reason: ErrEmpty, Pos: -1}
	}

	toks, err := lex(trimmed)
	if err != nil {
		return "", err
	}

	// Drop trailing semicolons; any other semicolon separates statements.
	last := len(toks)
	for last > 0 && toks[last-1].kind == tokSemicolon {
		last--
	}
	body := toks[:last]
	if len(body) == 0 {
		return "", &Violation{Reason: ErrEmpty, Pos: -1}
	}
	for _, t := range body {
		if t.kind == tokSemicolon {
			return "", &Violation{Reason: ErrMultipleStatements, Pos: t.pos}
		}
	}

	if err := checkLeading(body); err != nil {
		return "", err
	}
	if err := checkKeywords(body); err != nil {
		return "", err
	}
	if err := checkFunctions(body); err != nil {
		return "", err
	}

	normalized := strings.TrimSpace(trimmed[body[0].pos:body[len(body)-1].end])
	return normalized, nil
}

// IsReadOnly reports whether stmt passes Check.
func IsReadOnly(stmt string) bool {
	_, err := Check(stmt)
	return err == nil
}

func checkLeading(toks []token) error {
	for _, t := range toks {
		if t.kind == tokSymbol && t.text == "(" {
			continue
		}
		if t.kind == tokWord {
			switch strings.ToUpper(t.text) {
			case "SELECT", "WITH":
				return nil
			}
			return &Violation{Reason: ErrNotSelect, Keyword: strings.ToUpper(t.text), Pos: t.pos}
		}
		return &Violation{Reason: ErrNotSelect, Keyword: t.text, Pos: t.pos}
	}
	return &Violation{Reason: ErrNotSelect, Pos: -1}
}

func checkKeywords(toks []token) error {
	for i, t := range toks {
		if t.kind != tokWord {
			continue
		}
		// Qualified names (alias.column) are never keywords.
		if i > 0 && toks[i-1].kind == tokSymbol && toks[i-1].text == "." {
			continue
		}
		up := strings.ToUpper(t.text)
		if _, bad := forbiddenKeywords[up]; bad {
			return &Violation{Reason: ErrForbiddenKeyword, Keyword: up, Pos: t.pos}
		}
		// FOR SHARE / FOR KEY SHARE lock rows; a bare "share" is a column.
		if up == "SHARE" && i > 0 && toks[i-1].kind == tokWord {
			switch strings.ToUpper(toks[i-1].text) {
			case "FOR", "KEY":
				return &Violation{Reason: ErrForbiddenKeyword, Keyword: up, Pos: t.pos}
			}
		}
	}
	return nil
}

func checkFunctions(toks []token) error {
	for i := 0; i+1 < len(toks); i++ {
		t := toks[i]
		if t.kind != tokWord && t.kind != tokIdent {
			continue
		}
		if next := toks[i+1]; next.kind != tokSymbol || next.text != "(" {
			continue
		}
		up := strings.ToUpper(t.text)
		if _, bad := forbiddenFunctions[up]; bad {
			return &Violation{Reason: ErrForbiddenFunction, Keyword: strings.ToLower(t.text), Pos: t.pos}
		}
	}
	return nil
}

func unterminated(what string, pos int) error {
	return &Violation{Reason: ErrUnterminated, Keyword: what, Pos: pos}
}
