// Package history keeps the short-term conversation history of each session:
// the last few user/assistant exchanges, capped per session.
package history

import (
	"context"
	"fmt"
	"time"

	"github.com/nextlevelbuilder/querydesk/internal/config"
	"github.com/nextlevelbuilder/querydesk/internal/crypto"
)

// DefaultMaxTurns caps the turns kept per session.
const DefaultMaxTurns = 10

// Turn is one completed exchange.
type Turn struct {
	UserMessage   string    `json:"user_message"`
	AgentResponse string    `json:"agent_response"`
	Timestamp     time.Time `json:"timestamp"`
	UserID        string    `json:"user_id"`
	SessionID     string    `json:"session_id"`
}

// Store is a per-session turn log.
type Store interface {
	// Append adds a turn and trims the session to the store's cap.
	Append(ctx context.Context, sessionID string, turn Turn) error
	// Recent returns up to n most recent turns, oldest first. n <= 0 returns all kept turns.
	Recent(ctx context.Context, sessionID string, n int) ([]Turn, error)
	Clear(ctx context.Context, sessionID string) error
	Close() error
}

// New builds the store selected by history.backend.
func New(cfg config.HistoryConfig) (Store, error) {
	maxTurns := cfg.MaxTurns
	if maxTurns <= 0 {
		maxTurns = DefaultMaxTurns
	}
	switch cfg.Backend {
	case "", "memory":
		return NewLRUStore(maxTurns, defaultMaxSessions), nil
	case "redis":
		sealer, err := crypto.NewSealer(cfg.EncryptionKey)
		if err != nil {
			return nil, fmt.Errorf("history.encryption_key: %w", err)
		}
		s, err := NewRedisStore(cfg.RedisURL, maxTurns, time.Duration(cfg.TTLMinutes)*time.Minute)
		if err != nil {
			return nil, err
		}
		s.sealer = sealer
		return s, nil
	default:
		return nil, fmt.Errorf("unknown history backend %q", cfg.Backend)
	}
}

func tail(turns []Turn, n int) []Turn {
	if n > 0 && len(turns) > n {
		turns = turns[len(turns)-n:]
	}
	out := make([]Turn, len(turns))
	copy(out, turns)
	return out
}

// ForUser keeps only the turns userID took part in. Session ids come from
// callers, so a shared or guessed id must not expose another user's turns.
func ForUser(turns []Turn, userID string) []Turn {
	out := turns[:0:0]
	for _, t := range turns {
		if t.UserID == userID {
			out = append(out, t)
		}
	}
	return out
}
