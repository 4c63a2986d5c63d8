package memory

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"golang.org/x/sync/errgroup"

	"github.com/nextlevelbuilder/querydesk/internal/config"
	"github.com/nextlevelbuilder/querydesk/internal/retry"
)

// ErrNoActor is returned when an operation is called without an actor id.
var ErrNoActor = errors.New("memory: actor id is required")

const snapshotCacheSize = 512

// Manager fans retrieval out over the three namespaces and merges the
// results into a Snapshot. A Manager without a backend is a no-op.
type Manager struct {
	backend  Backend
	ns       Namespaces
	topK     int
	minScore float64
	timeout  time.Duration
	cache    *expirable.LRU[string, *Snapshot]
	retry    retry.Config // CreateEvent backoff
}

// NewManager wires a backend with the retrieval limits from cfg.
// backend may be nil (memory disabled).
func NewManager(backend Backend, cfg config.MemoryConfig) *Manager {
	def := config.Default().Memory
	ns := Namespaces{
		KindPreferences: firstNonEmpty(cfg.Namespaces.Preferences, def.Namespaces.Preferences),
		KindSummaries:   firstNonEmpty(cfg.Namespaces.Summaries, def.Namespaces.Summaries),
		KindSemantic:    firstNonEmpty(cfg.Namespaces.Semantic, def.Namespaces.Semantic),
	}
	topK := cfg.TopK
	if topK <= 0 {
		topK = def.TopK
	}
	timeout := time.Duration(cfg.RetrieveTimeoutMS) * time.Millisecond
	if timeout <= 0 {
		timeout = time.Duration(def.RetrieveTimeoutMS) * time.Millisecond
	}

	m := &Manager{
		backend:  backend,
		ns:       ns,
		topK:     topK,
		minScore: cfg.MinScore,
		timeout:  timeout,
		retry:    retry.Default(),
	}
	if cfg.CacheTTLSeconds > 0 {
		m.cache = expirable.NewLRU[string, *Snapshot](snapshotCacheSize, nil, time.Duration(cfg.CacheTTLSeconds)*time.Second)
	}
	return m
}

// Enabled reports whether a backend is configured.
func (m *Manager) Enabled() bool { return m != nil && m.backend != nil }

// BackendName returns the backend name, or "none".
func (m *Manager) BackendName() string {
	if !m.Enabled() {
		return "none"
	}
	return m.backend.Name()
}

// Namespaces returns the resolved namespace for each kind.
func (m *Manager) Namespaces(actorID, sessionID string) map[Kind]string {
	out := make(map[Kind]string, len(Kinds))
	for _, k := range Kinds {
		out[k] = m.ns.Resolve(k, actorID, sessionID)
	}
	return out
}

// RecordEvent stores one conversational message.
func (m *Manager) RecordEvent(ctx context.Context, actorID, sessionID string, role Role, text string) error {
	if !m.Enabled() {
		return nil
	}
	if actorID == "" {
		return ErrNoActor
	}
	if strings.TrimSpace(text) == "" {
		return nil
	}
	ev := Event{
		ActorID:   actorID,
		SessionID: sessionID,
		Role:      role,
		Text:      text,
		Timestamp: time.Now(),
	}
	id, attempts, err := retry.Do(ctx, m.retry, func(ctx context.Context) (string, error) {
		return m.backend.CreateEvent(ctx, ev)
	})
	if err != nil {
		return fmt.Errorf("record event after %d attempt(s): %w", attempts, err)
	}
	slog.Debug("memory event recorded", "actor", actorID, "session", sessionID, "role", role, "event_id", id, "attempts", attempts)
	return nil
}

// Events lists the session's recent events, oldest first.
func (m *Manager) Events(ctx context.Context, actorID, sessionID string, max int) ([]Event, error) {
	if !m.Enabled() {
		return nil, nil
	}
	if actorID == "" {
		return nil, ErrNoActor
	}
	return m.backend.ListEvents(ctx, actorID, sessionID, max)
}

// Retrieve queries the three namespaces concurrently. A namespace that fails
// or times out is logged and noted in Snapshot.Errors; the others still return.
func (m *Manager) Retrieve(ctx context.Context, actorID, sessionID, query string) (*Snapshot, error) {
	snap := &Snapshot{ActorID: actorID, SessionID: sessionID}
	if !m.Enabled() {
		return snap, nil
	}
	if actorID == "" {
		return nil, ErrNoActor
	}

	key := actorID + "\x00" + sessionID + "\x00" + query
	if m.cache != nil {
		if cached, ok := m.cache.Get(key); ok {
			cp := *cached
			cp.Cached = true
			return &cp, nil
		}
	}

	results := make([][]Record, len(Kinds))
	errs := make([]error, len(Kinds))

	// Namespace failures are collected, never returned, so one slow namespace
	// cannot cancel its siblings through the group context.
	g, gctx := errgroup.WithContext(ctx)
	for i, kind := range Kinds {
		ns := m.ns.Resolve(kind, actorID, sessionID)
		g.Go(func() error {
			nctx, cancel := context.WithTimeout(gctx, m.timeout)
			defer cancel()
			recs, err := m.backend.RetrieveRecords(nctx, ns, query, m.topK)
			if err != nil {
				errs[i] = err
				return nil
			}
			results[i] = recs
			return nil
		})
	}
	_ = g.Wait()

	seenIDs := make(map[string]bool)
	seenContent := make(map[string]bool)
	for i, kind := range Kinds {
		if errs[i] != nil {
			if snap.Errors == nil {
				snap.Errors = make(map[Kind]string)
			}
			snap.Errors[kind] = errs[i].Error()
			slog.Warn("memory retrieve failed", "kind", kind, "actor", actorID, "error", errs[i])
			continue
		}
		snap.set(kind, m.rank(results[i], seenIDs, seenContent))
	}

	if m.cache != nil && len(snap.Errors) == 0 {
		m.cache.Add(key, snap)
	}
	slog.Debug("memory retrieved",
		"actor", actorID,
		"preferences", len(snap.Preferences),
		"summaries", len(snap.Summaries),
		"facts", len(snap.Facts),
		"errors", len(snap.Errors),
	)
	return snap, nil
}

// rank dedups (by id, then normalized content, across the whole snapshot),
// drops records under minScore, sorts by score desc and caps at topK.
func (m *Manager) rank(recs []Record, seenIDs, seenContent map[string]bool) []Record {
	sorted := make([]Record, len(recs))
	copy(sorted, recs)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Score > sorted[j].Score })

	var out []Record
	for _, r := range sorted {
		if r.Score < m.minScore {
			continue
		}
		if r.ID != "" && seenIDs[r.ID] {
			continue
		}
		norm := normalizeContent(r.Content)
		if norm == "" || seenContent[norm] {
			continue
		}
		if r.ID != "" {
			seenIDs[r.ID] = true
		}
		seenContent[norm] = true
		out = append(out, r)
		if len(out) >= m.topK {
			break
		}
	}
	return out
}

// Inspect lists every record in each namespace for operator tooling.
// Unlike Retrieve, any namespace failure is returned.
func (m *Manager) Inspect(ctx context.Context, actorID, sessionID string, max int) (*Snapshot, error) {
	snap := &Snapshot{ActorID: actorID, SessionID: sessionID}
	if !m.Enabled() {
		return snap, nil
	}
	if actorID == "" {
		return nil, ErrNoActor
	}
	for _, kind := range Kinds {
		ns := m.ns.Resolve(kind, actorID, sessionID)
		recs, err := m.backend.ListRecords(ctx, ns, max)
		if err != nil {
			return nil, fmt.Errorf("list %s records: %w", kind, err)
		}
		snap.set(kind, recs)
	}
	return snap, nil
}

// Close releases the backend.
func (m *Manager) Close() error {
	if !m.Enabled() {
		return nil
	}
	return m.backend.Close()
}

func normalizeContent(s string) string {
	return strings.ToLower(strings.Join(strings.Fields(s), " "))
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}
