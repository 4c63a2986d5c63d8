// Package scheduler serializes turns per session and caps how many turns run
// at once. Two turns for the same session never overlap, so each one sees
// the history the previous one persisted.
package scheduler

import (
	"context"
	"log/slog"
	"sync"

	"golang.org/x/sync/semaphore"

	"github.com/nextlevelbuilder/querydesk/internal/turn"
)

// DropPolicy determines which turns to drop when a session queue is full.
type DropPolicy string

const (
	DropOld DropPolicy = "old" // evict the oldest waiting turn
	DropNew DropPolicy = "new" // reject the incoming turn
)

// Config configures the scheduler.
type Config struct {
	MaxConcurrent int        // turns running at once across all sessions
	QueueCap      int        // waiting turns per session
	Drop          DropPolicy // applied when QueueCap is reached
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{MaxConcurrent: 8, QueueCap: 4, Drop: DropNew}
}

// RunFunc executes one turn. The scheduler calls it when the turn is due.
type RunFunc func(ctx context.Context, req turn.Request) (*turn.Result, error)

// RunOutcome is the result of a scheduled turn.
type RunOutcome struct {
	Result *turn.Result
	Err    error
}

type pending struct {
	ctx      context.Context
	req      turn.Request
	resultCh chan RunOutcome
}

func (p *pending) finish(out RunOutcome) {
	p.resultCh <- out
	close(p.resultCh)
}

// sessionQueue holds the waiting turns of one session.
type sessionQueue struct {
	key    string
	queue  []*pending
	active bool
}

// Scheduler routes turns through per-session FIFO queues and a global
// concurrency semaphore. It implements the gateway's Turner.
type Scheduler struct {
	cfg      Config
	runFn    RunFunc
	sem      *semaphore.Weighted
	mu       sync.Mutex
	sessions map[string]*sessionQueue
}

// New creates a scheduler. Zero config fields take DefaultConfig values.
func New(cfg Config, runFn RunFunc) *Scheduler {
	def := DefaultConfig()
	if cfg.MaxConcurrent <= 0 {
		cfg.MaxConcurrent = def.MaxConcurrent
	}
	if cfg.QueueCap <= 0 {
		cfg.QueueCap = def.QueueCap
	}
	if cfg.Drop == "" {
		cfg.Drop = def.Drop
	}
	return &Scheduler{
		cfg:      cfg,
		runFn:    runFn,
		sem:      semaphore.NewWeighted(int64(cfg.MaxConcurrent)),
		sessions: make(map[string]*sessionQueue),
	}
}

// Handle schedules req and waits for its outcome or for ctx to end.
func (s *Scheduler) Handle(ctx context.Context, req turn.Request) (*turn.Result, error) {
	select {
	case out := <-s.Schedule(ctx, req):
		return out.Result, out.Err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Schedule enqueues req on its session queue. The returned channel receives
// exactly one outcome. ctx governs both the wait and the run.
func (s *Scheduler) Schedule(ctx context.Context, req turn.Request) <-chan RunOutcome {
	p := &pending{ctx: ctx, req: req, resultCh: make(chan RunOutcome, 1)}

	s.mu.Lock()
	defer s.mu.Unlock()

	sq, ok := s.sessions[req.SessionID]
	if !ok {
		sq = &sessionQueue{key: req.SessionID}
		s.sessions[req.SessionID] = sq
		slog.Debug("session queue created", "session", req.SessionID)
	}

	if len(sq.queue) >= s.cfg.QueueCap {
		if !s.applyDropPolicy(sq, p) {
			return p.resultCh
		}
	} else {
		sq.queue = append(sq.queue, p)
	}

	if !sq.active {
		s.startNext(sq)
	}
	return p.resultCh
}

// applyDropPolicy handles a full queue and reports whether p was queued.
// Must be called with s.mu held.
func (s *Scheduler) applyDropPolicy(sq *sessionQueue, p *pending) bool {
	if s.cfg.Drop == DropNew {
		slog.Warn("security.session_queue_full", "session", sq.key, "cap", s.cfg.QueueCap)
		p.finish(RunOutcome{Err: ErrQueueFull})
		return false
	}
	old := sq.queue[0]
	old.finish(RunOutcome{Err: ErrQueueDropped})
	sq.queue = append(sq.queue[1:], p)
	return true
}

// startNext pops the head of sq and runs it in its own goroutine.
// Must be called with s.mu held.
func (s *Scheduler) startNext(sq *sessionQueue) {
	if len(sq.queue) == 0 {
		return
	}
	p := sq.queue[0]
	sq.queue = sq.queue[1:]
	sq.active = true
	go s.execute(sq, p)
}

// execute waits for a concurrency slot, runs the turn, then starts the
// session's next turn or forgets the idle session.
func (s *Scheduler) execute(sq *sessionQueue, p *pending) {
	if err := s.sem.Acquire(p.ctx, 1); err != nil {
		p.finish(RunOutcome{Err: err})
	} else {
		res, err := s.runFn(p.ctx, p.req)
		s.sem.Release(1)
		p.finish(RunOutcome{Result: res, Err: err})
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	sq.active = false
	if len(sq.queue) > 0 {
		s.startNext(sq)
		return
	}
	delete(s.sessions, sq.key)
}

// Stats is a point-in-time view of scheduler load.
type Stats struct {
	Sessions int `json:"sessions"` // sessions with a running or waiting turn
	Running  int `json:"running"`
	Waiting  int `json:"waiting"`
}

// Stats returns current load.
func (s *Scheduler) Stats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()
	st := Stats{Sessions: len(s.sessions)}
	for _, sq := range s.sessions {
		if sq.active {
			st.Running++
		}
		st.Waiting += len(sq.queue)
	}
	return st
}
