package tools

import (
	"context"
	"sync"
)

type toolContextKey string

const queryLogKey toolContextKey = "tool_query_log"

// QueryLog records the SQL statements executed during one turn.
type QueryLog struct {
	mu      sync.Mutex
	entries []string
}

// Add appends a statement.
func (l *QueryLog) Add(stmt string) {
	if l == nil {
		return
	}
	l.mu.Lock()
	l.entries = append(l.entries, stmt)
	l.mu.Unlock()
}

// Entries returns a copy of the recorded statements.
func (l *QueryLog) Entries() []string {
	if l == nil {
		return nil
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]string(nil), l.entries...)
}

// WithQueryLog attaches a QueryLog that SQL tools append to.
func WithQueryLog(ctx context.Context, l *QueryLog) context.Context {
	return context.WithValue(ctx, queryLogKey, l)
}

// QueryLogFromCtx returns the attached QueryLog, or nil.
func QueryLogFromCtx(ctx context.Context) *QueryLog {
	l, _ := ctx.Value(queryLogKey).(*QueryLog)
	return l
}
