// Package turn runs one customer query end to end: record the user event,
// retrieve memory and history, build the bounded context, run the agent,
// parse its reply and persist the exchange.
package turn

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/nextlevelbuilder/querydesk/internal/agent"
	"github.com/nextlevelbuilder/querydesk/internal/config"
	"github.com/nextlevelbuilder/querydesk/internal/history"
	"github.com/nextlevelbuilder/querydesk/internal/memory"
	"github.com/nextlevelbuilder/querydesk/internal/providers"
	"github.com/nextlevelbuilder/querydesk/internal/store"
	"github.com/nextlevelbuilder/querydesk/internal/tools"
	"github.com/nextlevelbuilder/querydesk/internal/tracing"
)

// MaxQueryRunes bounds a single customer query.
const MaxQueryRunes = 8000

var (
	// ErrInvalidRequest wraps every validation failure from Handle.
	ErrInvalidRequest = errors.New("invalid request")
	ErrEmptyQuery     = errors.New("query is required")
)

// Request is one customer query.
type Request struct {
	UserID    string
	SessionID string
	Query     string
	Metadata  map[string]any
}

// Result is the outcome of a handled turn.
type Result struct {
	RunID         string
	TraceID       string
	UserID        string
	SessionID     string
	ActorID       string
	Reply         agent.Reply
	Raw           string
	ToolsUsed     []string // tools actually executed
	Iterations    int
	Usage         providers.Usage
	Duration      time.Duration
	MemoryContext BuiltContext
	MemoryBackend string
	HistoryTurns  int // turns available for the session before this one
	SQLQueries    []string
}

// Options wires an Orchestrator. Agent is required; Memory and History may be
// nil.
type Options struct {
	Agent       agent.Agent
	Memory      *memory.Manager
	History     history.Store
	Builder     *ContextBuilder
	Tracer      *tracing.Collector
	ActorPrefix string
}

// Orchestrator sequences the stages of a turn.
type Orchestrator struct {
	agent       agent.Agent
	memory      *memory.Manager
	history     history.Store
	builder     *ContextBuilder
	tracer      *tracing.Collector
	actorPrefix string
}

// New validates opts and returns an Orchestrator.
func New(opts Options) (*Orchestrator, error) {
	if opts.Agent == nil {
		return nil, fmt.Errorf("turn: agent is required")
	}
	b := opts.Builder
	if b == nil {
		b = &ContextBuilder{Counter: EstimatingCounter()}
	}
	return &Orchestrator{
		agent:       opts.Agent,
		memory:      opts.Memory,
		history:     opts.History,
		builder:     b,
		tracer:      opts.Tracer,
		actorPrefix: opts.ActorPrefix,
	}, nil
}

// NewBuilder returns a ContextBuilder configured from cfg.
func NewBuilder(hist config.HistoryConfig, ctxCfg config.ContextConfig) *ContextBuilder {
	return &ContextBuilder{
		MaxTokens:    ctxCfg.MaxTokens,
		ContextTurns: hist.ContextTurns,
		Counter:      NewTokenCounter(ctxCfg.Encoding),
	}
}

// Handle runs one turn. Validation failures wrap ErrInvalidRequest; a message
// blocked by the input guard wraps agent.ErrInputBlocked. Memory and history
// failures are logged and never fail the turn.
func (o *Orchestrator) Handle(ctx context.Context, req Request) (*Result, error) {
	start := time.Now()
	ctx, root := o.tracer.StartSpan(ctx, "turn", tracing.KindTurn)
	res, err := o.handle(ctx, req, start)
	if res != nil {
		root.SetAttr("iterations", res.Iterations)
		root.SetAttr("tools_used", res.ToolsUsed)
		root.SetAttr("sql_queries", len(res.SQLQueries))
	}
	root.SetAttr("session", req.SessionID)
	if src, ok := req.Metadata["source"].(string); ok {
		root.SetAttr("source", src)
	}
	root.End(err)
	return res, err
}

func (o *Orchestrator) handle(ctx context.Context, req Request, start time.Time) (*Result, error) {
	res := &Result{MemoryBackend: o.memory.BackendName()}
	if id := tracing.SpanFromContext(ctx).TraceID(); id != uuid.Nil {
		res.TraceID = id.String()
	}

	// 1. validate
	err := o.stage(ctx, "validate", func(context.Context, *tracing.Span) error {
		r, err := o.validate(req)
		if err != nil {
			return err
		}
		req = r
		return nil
	})
	if err != nil {
		return nil, err
	}
	res.UserID, res.SessionID = req.UserID, req.SessionID
	res.ActorID = config.NormalizeActorID(req.UserID, o.actorPrefix)

	// 2. user event
	_ = o.stage(ctx, "record_user_event", func(sctx context.Context, _ *tracing.Span) error {
		if err := o.memory.RecordEvent(sctx, res.ActorID, req.SessionID, memory.RoleUser, req.Query); err != nil {
			slog.Warn("turn: record user event failed", "actor", res.ActorID, "session", req.SessionID, "error", err)
			return err
		}
		return nil
	})

	// 3. memory + history
	var (
		snap  *memory.Snapshot
		turns []history.Turn
	)
	_ = o.stage(ctx, "retrieve", func(sctx context.Context, span *tracing.Span) error {
		snap, turns = o.retrieve(sctx, res.ActorID, req)
		span.SetAttr("memory_records", snap.Count())
		span.SetAttr("memory_cached", snap.Cached)
		span.SetAttr("history_turns", len(turns))
		return nil
	})
	res.HistoryTurns = len(turns)

	// 4. context
	_ = o.stage(ctx, "build_context", func(_ context.Context, span *tracing.Span) error {
		res.MemoryContext = o.builder.Build(req.UserID, req.Query, snap, turns)
		span.SetAttr("tokens", res.MemoryContext.Tokens)
		span.SetAttr("dropped", res.MemoryContext.Dropped)
		return nil
	})

	// 5. agent
	var run *agent.RunResult
	qlog := &tools.QueryLog{}
	err = o.stage(ctx, "agent", func(sctx context.Context, span *tracing.Span) error {
		var err error
		run, err = o.agent.Run(tools.WithQueryLog(sctx, qlog), agent.RunRequest{
			UserID:    req.UserID,
			SessionID: req.SessionID,
			ActorID:   res.ActorID,
			Message:   res.MemoryContext.Message,
		})
		if err != nil {
			return err
		}
		span.SetAttr("model", o.agent.Model())
		span.SetAttr("iterations", run.Iterations)
		span.SetAttr("total_tokens", run.Usage.TotalTokens)
		return nil
	})
	res.SQLQueries = qlog.Entries()
	if err != nil {
		return nil, fmt.Errorf("agent run: %w", err)
	}
	res.RunID = run.RunID
	res.Raw = run.Content
	res.ToolsUsed = run.ToolsUsed
	res.Iterations = run.Iterations
	res.Usage = run.Usage

	// 6. reply
	_ = o.stage(ctx, "parse_reply", func(_ context.Context, span *tracing.Span) error {
		res.Reply = agent.ParseReply(run.Content)
		if !res.Reply.Structured && len(run.ToolsUsed) > 0 {
			res.Reply.ToolsUsed = append([]string(nil), run.ToolsUsed...)
		}
		span.SetAttr("structured", res.Reply.Structured)
		span.SetAttr("need_to_escalate", res.Reply.NeedToEscalate)
		return nil
	})

	// 7. persist
	_ = o.stage(ctx, "persist", func(sctx context.Context, _ *tracing.Span) error {
		return o.persist(sctx, res.ActorID, req, res.Reply.Response)
	})

	res.Duration = time.Since(start)
	slog.Info("turn completed",
		"run_id", res.RunID,
		"user", req.UserID,
		"session", req.SessionID,
		"iterations", res.Iterations,
		"tools", res.ToolsUsed,
		"sql_queries", len(res.SQLQueries),
		"memory_records", res.MemoryContext.Preferences+res.MemoryContext.Summaries+res.MemoryContext.Facts,
		"duration_ms", res.Duration.Milliseconds(),
	)
	return res, nil
}

func (o *Orchestrator) validate(req Request) (Request, error) {
	req.UserID = strings.TrimSpace(req.UserID)
	req.SessionID = strings.TrimSpace(req.SessionID)
	req.Query = strings.TrimSpace(req.Query)

	if err := store.ValidateUserID(req.UserID); err != nil {
		return req, fmt.Errorf("%w: %w", ErrInvalidRequest, err)
	}
	if err := store.ValidateSessionID(req.SessionID); err != nil {
		return req, fmt.Errorf("%w: %w", ErrInvalidRequest, err)
	}
	if req.Query == "" {
		return req, fmt.Errorf("%w: %w", ErrInvalidRequest, ErrEmptyQuery)
	}
	if n := utf8.RuneCountInString(req.Query); n > MaxQueryRunes {
		return req, fmt.Errorf("%w: query too long: %d chars (max %d)", ErrInvalidRequest, n, MaxQueryRunes)
	}
	if config.NormalizeActorID(req.UserID, o.actorPrefix) == "" {
		return req, fmt.Errorf("%w: user_id %q has no usable characters", ErrInvalidRequest, req.UserID)
	}
	return req, nil
}

// retrieve loads the memory snapshot and the session history concurrently.
// Either side degrades to empty on failure.
func (o *Orchestrator) retrieve(ctx context.Context, actorID string, req Request) (*memory.Snapshot, []history.Turn) {
	var (
		snap  *memory.Snapshot
		turns []history.Turn
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		s, err := o.memory.Retrieve(gctx, actorID, req.SessionID, req.Query)
		if err != nil {
			slog.Warn("turn: memory retrieve failed", "actor", actorID, "error", err)
			return nil
		}
		snap = s
		return nil
	})
	g.Go(func() error {
		if o.history == nil {
			return nil
		}
		t, err := o.history.Recent(gctx, req.SessionID, 0)
		if err != nil {
			slog.Warn("turn: history load failed", "session", req.SessionID, "error", err)
			return nil
		}
		turns = history.ForUser(t, req.UserID)
		if dropped := len(t) - len(turns); dropped > 0 {
			slog.Warn("security.history_user_mismatch", "session", req.SessionID, "user", req.UserID, "dropped", dropped)
		}
		return nil
	})
	_ = g.Wait()

	if snap == nil {
		snap = &memory.Snapshot{ActorID: actorID, SessionID: req.SessionID}
	}
	return snap, turns
}

func (o *Orchestrator) persist(ctx context.Context, actorID string, req Request, response string) error {
	var errs []error
	if err := o.memory.RecordEvent(ctx, actorID, req.SessionID, memory.RoleAssistant, response); err != nil {
		slog.Warn("turn: record assistant event failed", "actor", actorID, "session", req.SessionID, "error", err)
		errs = append(errs, err)
	}
	if o.history != nil {
		err := o.history.Append(ctx, req.SessionID, history.Turn{
			UserMessage:   req.Query,
			AgentResponse: response,
			Timestamp:     time.Now().UTC(),
			UserID:        req.UserID,
			SessionID:     req.SessionID,
		})
		if err != nil {
			slog.Warn("turn: history append failed", "session", req.SessionID, "error", err)
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// stage runs fn inside a child span of ctx.
func (o *Orchestrator) stage(ctx context.Context, name string, fn func(context.Context, *tracing.Span) error) error {
	sctx, span := o.tracer.StartSpan(ctx, name, tracing.KindStage)
	err := fn(sctx, span)
	span.End(err)
	return err
}

// ClearSession drops the short-term history of a session.
func (o *Orchestrator) ClearSession(ctx context.Context, sessionID string) error {
	if o.history == nil {
		return nil
	}
	return o.history.Clear(ctx, sessionID)
}

// Model returns the agent's model name.
func (o *Orchestrator) Model() string { return o.agent.Model() }
