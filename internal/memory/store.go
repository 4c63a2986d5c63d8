// Package memory reads and writes long-term user memory: conversation events
// plus three extracted record namespaces (preferences, summaries, semantic
// facts). The managed backend is AWS Bedrock AgentCore Memory; a local SQLite
// backend with FTS5 ranking serves development.
package memory

import (
	"context"
	"strings"
	"time"
)

// Kind identifies a memory namespace.
type Kind string

const (
	KindPreferences Kind = "preferences"
	KindSummaries   Kind = "summaries"
	KindSemantic    Kind = "semantic"
)

// Kinds lists every namespace in context order.
var Kinds = []Kind{KindPreferences, KindSummaries, KindSemantic}

// Role is the author of a conversation event.
type Role string

const (
	RoleUser      Role = "USER"
	RoleAssistant Role = "ASSISTANT"
	RoleTool      Role = "TOOL"
	RoleOther     Role = "OTHER"
)

// Event is one conversational message stored in short-term memory.
// Long-term records are extracted from events asynchronously by the backend.
type Event struct {
	ID        string    `json:"id"`
	ActorID   string    `json:"actor_id"`
	SessionID string    `json:"session_id"`
	Role      Role      `json:"role"`
	Text      string    `json:"text"`
	Timestamp time.Time `json:"timestamp"`
}

// Record is an extracted long-term memory item.
type Record struct {
	ID        string    `json:"id"`
	Namespace string    `json:"namespace"`
	Content   string    `json:"content"`
	Score     float64   `json:"score"`
	CreatedAt time.Time `json:"created_at,omitempty"`
}

// Backend is a memory service.
type Backend interface {
	Name() string
	CreateEvent(ctx context.Context, ev Event) (string, error)
	ListEvents(ctx context.Context, actorID, sessionID string, max int) ([]Event, error)
	// RetrieveRecords runs a relevance search in one namespace.
	RetrieveRecords(ctx context.Context, namespace, query string, topK int) ([]Record, error)
	// ListRecords returns every record in a namespace, newest first.
	ListRecords(ctx context.Context, namespace string, max int) ([]Record, error)
	Close() error
}

// Namespaces maps each kind to a template with {actorId}/{sessionId} placeholders.
type Namespaces map[Kind]string

// Resolve fills the placeholders for kind.
func (n Namespaces) Resolve(kind Kind, actorID, sessionID string) string {
	r := strings.NewReplacer("{actorId}", actorID, "{sessionId}", sessionID)
	return r.Replace(n[kind])
}

// Snapshot is the memory retrieved for one turn.
type Snapshot struct {
	ActorID     string          `json:"actor_id"`
	SessionID   string          `json:"session_id"`
	Preferences []Record        `json:"preferences,omitempty"`
	Summaries   []Record        `json:"summaries,omitempty"`
	Facts       []Record        `json:"facts,omitempty"`
	Errors      map[Kind]string `json:"errors,omitempty"`
	Cached      bool            `json:"cached,omitempty"`
}

// Records returns the records of one kind.
func (s *Snapshot) Records(kind Kind) []Record {
	if s == nil {
		return nil
	}
	switch kind {
	case KindPreferences:
		return s.Preferences
	case KindSummaries:
		return s.Summaries
	case KindSemantic:
		return s.Facts
	}
	return nil
}

func (s *Snapshot) set(kind Kind, recs []Record) {
	switch kind {
	case KindPreferences:
		s.Preferences = recs
	case KindSummaries:
		s.Summaries = recs
	case KindSemantic:
		s.Facts = recs
	}
}

// Count returns the total number of records.
func (s *Snapshot) Count() int {
	if s == nil {
		return 0
	}
	return len(s.Preferences) + len(s.Summaries) + len(s.Facts)
}

// Empty reports whether no records were retrieved.
func (s *Snapshot) Empty() bool { return s.Count() == 0 }
