package memory

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"
	"unicode"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

// recencyScore is assigned to records surfaced only because they are recent,
// not because they matched the query.
const recencyScore = 0.2

// SQLiteBackend is a local memory backend: an events table plus a records
// table indexed with FTS5. Records are not extracted automatically; seed them
// with PutRecord (see `querydesk memory add`).
type SQLiteBackend struct {
	db *sql.DB
	mu sync.RWMutex
}

// NewSQLiteBackend opens (or creates) the database at dbPath.
func NewSQLiteBackend(dbPath string) (*SQLiteBackend, error) {
	db, err := sql.Open("sqlite", dbPath+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	s := &SQLiteBackend{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}

	slog.Info("memory store opened", "backend", "sqlite", "path", dbPath)
	return s, nil
}

func (s *SQLiteBackend) migrate() error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS events (
			id TEXT PRIMARY KEY,
			actor_id TEXT NOT NULL,
			session_id TEXT NOT NULL,
			role TEXT NOT NULL,
			text TEXT NOT NULL,
			created_at INTEGER NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_events_actor_session ON events(actor_id, session_id, created_at)`,
		`CREATE TABLE IF NOT EXISTS records (
			id TEXT PRIMARY KEY,
			namespace TEXT NOT NULL,
			content TEXT NOT NULL,
			created_at INTEGER NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_records_namespace ON records(namespace, created_at)`,
		`CREATE VIRTUAL TABLE IF NOT EXISTS records_fts USING fts5(
			content,
			id UNINDEXED,
			namespace UNINDEXED,
			created_at UNINDEXED,
			tokenize='porter unicode61'
		)`,
	}

	for _, stmt := range stmts {
		if _, err := s.db.Exec(stmt); err != nil {
			return fmt.Errorf("exec %q: %w", stmt[:min(len(stmt), 60)], err)
		}
	}
	return nil
}

func (s *SQLiteBackend) Name() string { return "sqlite" }

// CreateEvent stores a conversation event.
func (s *SQLiteBackend) CreateEvent(ctx context.Context, ev Event) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if ev.ID == "" {
		ev.ID = uuid.NewString()
	}
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO events (id, actor_id, session_id, role, text, created_at) VALUES (?, ?, ?, ?, ?, ?)`,
		ev.ID, ev.ActorID, ev.SessionID, string(ev.Role), ev.Text, ev.Timestamp.UnixMilli())
	if err != nil {
		return "", fmt.Errorf("insert event: %w", err)
	}
	return ev.ID, nil
}

// ListEvents returns up to max events for the session, oldest first.
func (s *SQLiteBackend) ListEvents(ctx context.Context, actorID, sessionID string, max int) ([]Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if max <= 0 {
		max = 100
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, actor_id, session_id, role, text, created_at FROM (
			SELECT * FROM events WHERE actor_id = ? AND session_id = ?
			ORDER BY created_at DESC, rowid DESC LIMIT ?
		) ORDER BY created_at ASC`,
		actorID, sessionID, max)
	if err != nil {
		return nil, fmt.Errorf("list events: %w", err)
	}
	defer rows.Close()

	var events []Event
	for rows.Next() {
		var ev Event
		var role string
		var ms int64
		if err := rows.Scan(&ev.ID, &ev.ActorID, &ev.SessionID, &role, &ev.Text, &ms); err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		ev.Role = Role(role)
		ev.Timestamp = time.UnixMilli(ms)
		events = append(events, ev)
	}
	return events, rows.Err()
}

// PutRecord inserts or replaces a record in namespace. The id is derived from
// namespace and content so seeding is idempotent.
func (s *SQLiteBackend) PutRecord(ctx context.Context, namespace, content string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	content = strings.TrimSpace(content)
	if content == "" {
		return "", fmt.Errorf("record content is empty")
	}
	id := "mem-" + contentHash(namespace+"\x00"+content)

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return "", err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, "DELETE FROM records_fts WHERE id = ?", id); err != nil {
		return "", fmt.Errorf("delete fts: %w", err)
	}
	now := time.Now().UnixMilli()
	if _, err := tx.ExecContext(ctx,
		`INSERT OR REPLACE INTO records (id, namespace, content, created_at) VALUES (?, ?, ?, ?)`,
		id, namespace, content, now); err != nil {
		return "", fmt.Errorf("upsert record: %w", err)
	}
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO records_fts (content, id, namespace, created_at) VALUES (?, ?, ?, ?)`,
		content, id, namespace, now); err != nil {
		return "", fmt.Errorf("insert fts: %w", err)
	}
	return id, tx.Commit()
}

// RetrieveRecords ranks namespace records against query with BM25.
// When fewer than topK records match, the most recent unmatched records fill
// the remainder with recencyScore.
func (s *SQLiteBackend) RetrieveRecords(ctx context.Context, namespace, query string, topK int) ([]Record, error) {
	if topK <= 0 {
		topK = 5
	}

	var results []Record
	seen := make(map[string]bool)

	if match := ftsQuery(query); match != "" {
		s.mu.RLock()
		rows, err := s.db.QueryContext(ctx,
			`SELECT id, namespace, content, created_at, 1.0 / (1.0 + abs(rank)) AS score
			FROM records_fts
			WHERE records_fts MATCH ? AND namespace = ?
			ORDER BY rank
			LIMIT ?`,
			match, namespace, topK)
		if err != nil {
			s.mu.RUnlock()
			return nil, fmt.Errorf("fts query: %w", err)
		}
		for rows.Next() {
			var rec Record
			var ms int64
			if err := rows.Scan(&rec.ID, &rec.Namespace, &rec.Content, &ms, &rec.Score); err != nil {
				continue
			}
			// Matches always outrank the recency fallback.
			rec.Score = recencyScore + (1-recencyScore)*rec.Score
			rec.CreatedAt = time.UnixMilli(ms)
			seen[rec.ID] = true
			results = append(results, rec)
		}
		rows.Close()
		s.mu.RUnlock()
	}

	if len(results) < topK {
		recent, err := s.ListRecords(ctx, namespace, topK+len(results))
		if err != nil {
			return nil, err
		}
		for _, rec := range recent {
			if len(results) >= topK {
				break
			}
			if seen[rec.ID] {
				continue
			}
			rec.Score = recencyScore
			results = append(results, rec)
		}
	}
	return results, nil
}

// ListRecords returns namespace records, newest first.
func (s *SQLiteBackend) ListRecords(ctx context.Context, namespace string, max int) ([]Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if max <= 0 {
		max = 100
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, namespace, content, created_at FROM records WHERE namespace = ? ORDER BY created_at DESC, rowid DESC LIMIT ?`,
		namespace, max)
	if err != nil {
		return nil, fmt.Errorf("list records: %w", err)
	}
	defer rows.Close()

	var recs []Record
	for rows.Next() {
		var rec Record
		var ms int64
		if err := rows.Scan(&rec.ID, &rec.Namespace, &rec.Content, &ms); err != nil {
			return nil, fmt.Errorf("scan record: %w", err)
		}
		rec.CreatedAt = time.UnixMilli(ms)
		recs = append(recs, rec)
	}
	return recs, rows.Err()
}

// Close closes the database.
func (s *SQLiteBackend) Close() error {
	return s.db.Close()
}

// ftsQuery turns free text into an FTS5 OR query of quoted terms, so user
// punctuation cannot break the MATCH syntax.
func ftsQuery(text string) string {
	words := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	seen := make(map[string]bool, len(words))
	var terms []string
	for _, w := range words {
		if len([]rune(w)) < 2 || seen[w] {
			continue
		}
		seen[w] = true
		terms = append(terms, `"`+w+`"`)
	}
	return strings.Join(terms, " OR ")
}

func contentHash(text string) string {
	h := sha256.Sum256([]byte(text))
	return fmt.Sprintf("%x", h[:16])
}
