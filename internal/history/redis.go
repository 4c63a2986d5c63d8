package history

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/nextlevelbuilder/querydesk/internal/crypto"
)

const redisKeyPrefix = "querydesk:history:"

// RedisStore keeps history in a Redis list per session so several gateway
// replicas share it. Each append trims the list and refreshes its TTL.
// With a sealer, entries are encrypted at rest.
type RedisStore struct {
	client   *redis.Client
	maxTurns int
	ttl      time.Duration
	sealer   *crypto.Sealer
}

// NewRedisStore connects to url (redis://...) and verifies the connection.
func NewRedisStore(url string, maxTurns int, ttl time.Duration) (*RedisStore, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return newRedisStore(client, maxTurns, ttl), nil
}

func newRedisStore(client *redis.Client, maxTurns int, ttl time.Duration) *RedisStore {
	if maxTurns <= 0 {
		maxTurns = DefaultMaxTurns
	}
	return &RedisStore{client: client, maxTurns: maxTurns, ttl: ttl}
}

func redisKey(sessionID string) string { return redisKeyPrefix + sessionID }

func (s *RedisStore) Append(ctx context.Context, sessionID string, turn Turn) error {
	if sessionID == "" {
		return nil
	}
	data, err := json.Marshal(turn)
	if err != nil {
		return fmt.Errorf("encode turn: %w", err)
	}
	if data, err = s.sealer.Seal(data); err != nil {
		return fmt.Errorf("seal turn: %w", err)
	}
	key := redisKey(sessionID)
	_, err = s.client.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.RPush(ctx, key, data)
		p.LTrim(ctx, key, int64(-s.maxTurns), -1)
		if s.ttl > 0 {
			p.Expire(ctx, key, s.ttl)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("append history: %w", err)
	}
	return nil
}

func (s *RedisStore) Recent(ctx context.Context, sessionID string, n int) ([]Turn, error) {
	start := int64(0)
	if n > 0 {
		start = int64(-n)
	}
	raw, err := s.client.LRange(ctx, redisKey(sessionID), start, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("read history: %w", err)
	}
	return decodeTurns(raw, s.sealer), nil
}

func (s *RedisStore) Clear(ctx context.Context, sessionID string) error {
	return s.client.Del(ctx, redisKey(sessionID)).Err()
}

func (s *RedisStore) Close() error { return s.client.Close() }

// decodeTurns skips entries that fail to open or decode rather than losing
// the session.
func decodeTurns(raw []string, sealer *crypto.Sealer) []Turn {
	turns := make([]Turn, 0, len(raw))
	for _, r := range raw {
		data, err := sealer.Open([]byte(r))
		if err != nil {
			slog.Warn("history entry unreadable", "error", err)
			continue
		}
		var t Turn
		if err := json.Unmarshal(data, &t); err != nil {
			continue
		}
		turns = append(turns, t)
	}
	return turns
}
