package agent

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/nextlevelbuilder/querydesk/internal/config"
	"github.com/nextlevelbuilder/querydesk/internal/providers"
	"github.com/nextlevelbuilder/querydesk/internal/tools"
)

const defaultMaxIterations = 8

const finalAnswerNudge = "You have used all available tool iterations. Answer now with the information you already have, in the required JSON format."

// LoopConfig configures a Loop.
type LoopConfig struct {
	ID              string
	Provider        providers.Provider
	Model           string // empty = provider default
	Tools           *tools.Registry
	SystemPrompt    string
	MaxIterations   int
	InjectionAction string // log, warn, block, off (default warn)
	InputGuard      *InputGuard
	ContextWindow   int // tokens; 0 = default
}

// Loop runs LLM call -> tool calls -> tool results until the model answers
// without tools or the iteration limit is reached.
type Loop struct {
	id            string
	provider      providers.Provider
	model         string
	tools         *tools.Registry
	systemPrompt  string
	contextWindow int

	mu              sync.RWMutex
	maxIterations   int
	injectionAction string
	inputGuard      *InputGuard
}

func NewLoop(cfg LoopConfig) *Loop {
	l := &Loop{
		id:            cfg.ID,
		provider:      cfg.Provider,
		model:         cfg.Model,
		tools:         cfg.Tools,
		systemPrompt:  cfg.SystemPrompt,
		contextWindow: cfg.ContextWindow,
		inputGuard:    cfg.InputGuard,
	}
	if l.tools == nil {
		l.tools = tools.NewRegistry()
	}
	if l.systemPrompt == "" {
		l.systemPrompt = DefaultSystemPrompt
	}
	if l.contextWindow <= 0 {
		l.contextWindow = defaultContextWindowTokens
	}
	l.setLimits(cfg.MaxIterations, cfg.InjectionAction)
	return l
}

// Apply updates the hot-reloadable limits from agent config.
func (l *Loop) Apply(cfg config.AgentConfig) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.setLimits(cfg.MaxIterations, cfg.InjectionAction)
	slog.Info("agent limits updated", "agent", l.id, "max_iterations", l.maxIterations, "injection_action", l.injectionAction)
}

// setLimits must be called with mu held (or before the loop is shared).
func (l *Loop) setLimits(maxIterations int, action string) {
	if maxIterations <= 0 {
		maxIterations = defaultMaxIterations
	}
	l.maxIterations = maxIterations

	switch action {
	case "log", "warn", "block", "off":
	default:
		action = "warn"
	}
	l.injectionAction = action
	if action == "off" {
		l.inputGuard = nil
	} else if l.inputGuard == nil {
		l.inputGuard = NewInputGuard()
	}
}

func (l *Loop) ID() string { return l.id }

// Model returns the configured model, or the provider default.
func (l *Loop) Model() string {
	if l.model != "" || l.provider == nil {
		return l.model
	}
	return l.provider.DefaultModel()
}

// Run answers one message.
func (l *Loop) Run(ctx context.Context, req RunRequest) (*RunResult, error) {
	if l.provider == nil {
		return nil, fmt.Errorf("agent %s: no provider configured", l.id)
	}

	l.mu.RLock()
	maxIter, action, guard := l.maxIterations, l.injectionAction, l.inputGuard
	l.mu.RUnlock()

	runID := req.RunID
	if runID == "" {
		runID = uuid.NewString()
	}
	if err := l.checkInput(guard, action, req); err != nil {
		return nil, err
	}

	start := time.Now()
	result := &RunResult{RunID: runID}
	call := tools.CallContext{UserID: req.UserID, SessionID: req.SessionID, ActorID: req.ActorID}
	defs := l.tools.ProviderDefs()
	used := make(map[string]bool)

	msgs := []providers.Message{
		{Role: providers.RoleSystem, Content: l.systemPrompt},
		{Role: providers.RoleUser, Content: req.Message},
	}

	for iter := 1; iter <= maxIter; iter++ {
		result.Iterations = iter
		msgs = pruneToolResults(msgs, l.contextWindow)

		resp, err := l.provider.Chat(ctx, providers.ChatRequest{Messages: msgs, Tools: defs, Model: l.model})
		if err != nil {
			return nil, fmt.Errorf("llm call (iteration %d): %w", iter, err)
		}
		result.Usage.Add(resp.Usage)

		if len(resp.ToolCalls) == 0 {
			result.Content = resp.Content
			l.logDone(runID, req, result, start)
			return result, nil
		}

		msgs = append(msgs, providers.Message{
			Role:      providers.RoleAssistant,
			Content:   resp.Content,
			ToolCalls: resp.ToolCalls,
		})

		// Tool calls run in order; later calls in a batch may depend on
		// state the model expects from earlier ones.
		for _, tc := range resp.ToolCalls {
			slog.Debug("tool call", "run", runID, "tool", tc.Name, "iteration", iter)
			res := l.tools.ExecuteWithContext(ctx, tc.Name, tc.Arguments, call)
			if !used[tc.Name] {
				used[tc.Name] = true
				result.ToolsUsed = append(result.ToolsUsed, tc.Name)
			}
			msgs = append(msgs, providers.Message{
				Role:       providers.RoleTool,
				Content:    res.ForLLM,
				ToolCallID: tc.ID,
				IsError:    res.IsError,
			})
		}

		if err := ctx.Err(); err != nil {
			return nil, err
		}
	}

	// Out of iterations: one last call without tools forces a text answer.
	slog.Warn("agent iteration limit reached", "run", runID, "max_iterations", maxIter)
	msgs = append(msgs, providers.Message{Role: providers.RoleUser, Content: finalAnswerNudge})
	resp, err := l.provider.Chat(ctx, providers.ChatRequest{Messages: pruneToolResults(msgs, l.contextWindow), Model: l.model})
	if err != nil {
		return nil, fmt.Errorf("llm final call: %w", err)
	}
	result.Usage.Add(resp.Usage)
	result.Content = resp.Content
	result.HitIterationLimit = true
	l.logDone(runID, req, result, start)
	return result, nil
}

func (l *Loop) checkInput(guard *InputGuard, action string, req RunRequest) error {
	if guard == nil || action == "off" {
		return nil
	}
	matches := guard.Scan(req.Message)
	if len(matches) == 0 {
		return nil
	}
	attrs := []any{"agent", l.id, "user", req.UserID, "session", req.SessionID, "patterns", matches, "action", action}
	switch action {
	case "log":
		slog.Info("security.injection_detected", attrs...)
	case "block":
		slog.Warn("security.injection_detected", attrs...)
		return fmt.Errorf("%w: %v", ErrInputBlocked, matches)
	default:
		slog.Warn("security.injection_detected", attrs...)
	}
	return nil
}

func (l *Loop) logDone(runID string, req RunRequest, r *RunResult, start time.Time) {
	slog.Info("agent run completed",
		"run", runID,
		"session", req.SessionID,
		"iterations", r.Iterations,
		"tools", r.ToolsUsed,
		"tokens", r.Usage.TotalTokens,
		"limit_hit", r.HitIterationLimit,
		"duration_ms", time.Since(start).Milliseconds(),
	)
}
