package history

import (
	"context"
	"fmt"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/nextlevelbuilder/querydesk/internal/config"
	"github.com/nextlevelbuilder/querydesk/internal/crypto"
)

func turn(i int) Turn {
	return Turn{
		UserMessage:   fmt.Sprintf("q%d", i),
		AgentResponse: fmt.Sprintf("a%d", i),
		Timestamp:     time.Unix(int64(i), 0),
		UserID:        "alice",
		SessionID:     "s1",
	}
}

func TestLRUStore_CapsTurns(t *testing.T) {
	s := NewLRUStore(3, 10)
	ctx := context.Background()
	for i := 1; i <= 5; i++ {
		if err := s.Append(ctx, "s1", turn(i)); err != nil {
			t.Fatal(err)
		}
	}

	all, _ := s.Recent(ctx, "s1", 0)
	if len(all) != 3 || all[0].UserMessage != "q3" || all[2].UserMessage != "q5" {
		t.Fatalf("kept turns = %+v, want q3..q5", all)
	}

	last2, _ := s.Recent(ctx, "s1", 2)
	if len(last2) != 2 || last2[0].UserMessage != "q4" || last2[1].UserMessage != "q5" {
		t.Errorf("Recent(2) = %+v", last2)
	}

	// Returned slices are copies.
	last2[0].UserMessage = "mutated"
	again, _ := s.Recent(ctx, "s1", 2)
	if again[0].UserMessage != "q4" {
		t.Error("Recent must return a copy")
	}
}

func TestForUser(t *testing.T) {
	turns := []Turn{turn(1), turn(2), turn(3)}
	turns[1].UserID = "bob"

	got := ForUser(turns, "alice")
	if len(got) != 2 || got[0].UserMessage != "q1" || got[1].UserMessage != "q3" {
		t.Errorf("ForUser(alice) = %+v", got)
	}
	if got := ForUser(turns, "carol"); len(got) != 0 {
		t.Errorf("ForUser(carol) = %+v, want none", got)
	}
	if turns[1].UserID != "bob" || len(turns) != 3 {
		t.Error("input slice must not be modified")
	}
}

func TestLRUStore_EvictsSessions(t *testing.T) {
	s := NewLRUStore(10, 2)
	ctx := context.Background()
	s.Append(ctx, "a", turn(1))
	s.Append(ctx, "b", turn(2))
	s.Recent(ctx, "a", 0) // touch a
	s.Append(ctx, "c", turn(3))

	if s.Len() != 2 {
		t.Errorf("Len = %d, want 2", s.Len())
	}
	if got, _ := s.Recent(ctx, "b", 0); got != nil {
		t.Errorf("least recently used session should be evicted, got %+v", got)
	}
	if got, _ := s.Recent(ctx, "a", 0); len(got) != 1 {
		t.Errorf("recently used session should survive")
	}
}

func TestLRUStore_ClearAndUnknown(t *testing.T) {
	s := NewLRUStore(0, 0)
	ctx := context.Background()
	if got, err := s.Recent(ctx, "missing", 3); err != nil || got != nil {
		t.Errorf("unknown session = %+v, %v", got, err)
	}
	s.Append(ctx, "s1", turn(1))
	s.Clear(ctx, "s1")
	if got, _ := s.Recent(ctx, "s1", 0); got != nil {
		t.Errorf("after Clear got %+v", got)
	}
	// Empty session id is ignored.
	s.Append(ctx, "", turn(1))
	if s.Len() != 0 {
		t.Errorf("Len = %d, want 0", s.Len())
	}
}

func TestLRUStore_Concurrent(t *testing.T) {
	s := NewLRUStore(100, 10)
	ctx := context.Background()
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			s.Append(ctx, "s1", turn(i))
		}()
	}
	wg.Wait()
	got, _ := s.Recent(ctx, "s1", 0)
	if len(got) != 50 {
		t.Errorf("got %d turns, want 50", len(got))
	}
}

func TestNewSelectsBackend(t *testing.T) {
	s, err := New(config.HistoryConfig{Backend: "memory", MaxTurns: 4})
	if err != nil {
		t.Fatal(err)
	}
	if _, ok := s.(*LRUStore); !ok {
		t.Errorf("got %T, want *LRUStore", s)
	}
	if _, err := New(config.HistoryConfig{Backend: "etcd"}); err == nil {
		t.Error("unknown backend should fail")
	}
	if _, err := New(config.HistoryConfig{Backend: "redis", RedisURL: "::bad"}); err == nil {
		t.Error("bad redis url should fail")
	}
	if _, err := New(config.HistoryConfig{Backend: "redis", RedisURL: "redis://localhost:1", EncryptionKey: "short"}); err == nil {
		t.Error("bad encryption key should fail before dialing")
	}
}

func TestDecodeTurnsSkipsGarbage(t *testing.T) {
	got := decodeTurns([]string{`{"user_message":"hi","agent_response":"yo"}`, `not json`}, nil)
	if len(got) != 1 || got[0].UserMessage != "hi" {
		t.Errorf("decodeTurns = %+v", got)
	}
}

func TestDecodeTurnsSealed(t *testing.T) {
	sealer, err := crypto.NewSealer("0123456789abcdef0123456789abcdef")
	if err != nil {
		t.Fatal(err)
	}
	sealed, _ := sealer.Seal([]byte(`{"user_message":"secret","agent_response":"ok"}`))
	legacy := `{"user_message":"plain","agent_response":"ok"}`

	got := decodeTurns([]string{legacy, string(sealed), "aes-gcm:!!corrupt"}, sealer)
	if len(got) != 2 || got[0].UserMessage != "plain" || got[1].UserMessage != "secret" {
		t.Errorf("decodeTurns = %+v", got)
	}
	if got := decodeTurns([]string{string(sealed)}, nil); len(got) != 0 {
		t.Errorf("sealed entries must not decode without a key: %+v", got)
	}
}

// TestRedisStore runs against a live server when QUERYDESK_TEST_REDIS_URL is set.
func TestRedisStore(t *testing.T) {
	url := os.Getenv("QUERYDESK_TEST_REDIS_URL")
	if url == "" {
		t.Skip("QUERYDESK_TEST_REDIS_URL not set")
	}
	s, err := NewRedisStore(url, 3, time.Minute)
	if err != nil {
		t.Fatalf("NewRedisStore: %v", err)
	}
	defer s.Close()
	ctx := context.Background()
	session := fmt.Sprintf("test-%d", time.Now().UnixNano())
	defer s.Clear(ctx, session)

	for i := 1; i <= 5; i++ {
		if err := s.Append(ctx, session, turn(i)); err != nil {
			t.Fatal(err)
		}
	}
	got, err := s.Recent(ctx, session, 2)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 2 || got[0].UserMessage != "q4" || got[1].UserMessage != "q5" {
		t.Errorf("Recent = %+v", got)
	}
	all, _ := s.Recent(ctx, session, 0)
	if len(all) != 3 {
		t.Errorf("kept %d turns, want 3", len(all))
	}
}
