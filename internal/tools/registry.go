package tools

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/nextlevelbuilder/querydesk/internal/providers"
	"github.com/nextlevelbuilder/querydesk/internal/store"
)

// CallContext identifies who a tool call is made for.
type CallContext struct {
	UserID    string
	SessionID string
	ActorID   string
}

// Registry manages tool registration and execution.
type Registry struct {
	tools       map[string]Tool
	mu          sync.RWMutex
	rateLimiter *ToolRateLimiter // nil = no rate limiting
	scrubbing   bool             // scrub credentials from output (default true)
}

func NewRegistry() *Registry {
	return &Registry{
		tools:     make(map[string]Tool),
		scrubbing: true,
	}
}

// SetRateLimiter enables per-session tool rate limiting. A previous limiter
// is closed.
func (r *Registry) SetRateLimiter(rl *ToolRateLimiter) {
	r.mu.Lock()
	prev := r.rateLimiter
	r.rateLimiter = rl
	r.mu.Unlock()
	if prev != nil && prev != rl {
		prev.Close()
	}
}

// SetToolRate updates the per-session limit in place, keeping the calls
// already counted. It installs a limiter if none is set.
func (r *Registry) SetToolRate(perHour int) {
	r.mu.Lock()
	rl := r.rateLimiter
	if rl == nil {
		r.rateLimiter = NewToolRateLimiter(perHour)
	}
	r.mu.Unlock()
	if rl != nil {
		rl.SetMax(perHour)
	}
}

// Close stops background work owned by the registry.
func (r *Registry) Close() {
	r.mu.Lock()
	rl := r.rateLimiter
	r.mu.Unlock()
	rl.Close()
}

// SetScrubbing enables or disables credential scrubbing on tool output.
func (r *Registry) SetScrubbing(enabled bool) {
	r.mu.Lock()
	r.scrubbing = enabled
	r.mu.Unlock()
}

// Register adds a tool to the registry.
func (r *Registry) Register(tool Tool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tools[tool.Name()] = tool
}

// Get returns a tool by name.
func (r *Registry) Get(name string) (Tool, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.tools[name]
	return t, ok
}

// Unregister removes a tool from the registry by name.
func (r *Registry) Unregister(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.tools, name)
}

// Execute runs a tool by name with no caller identity.
func (r *Registry) Execute(ctx context.Context, name string, args map[string]interface{}) *Result {
	return r.ExecuteWithContext(ctx, name, args, CallContext{})
}

// ExecuteWithContext runs a tool for the given caller. Identity is injected
// into ctx so tool instances stay stateless and safe for concurrent turns.
func (r *Registry) ExecuteWithContext(ctx context.Context, name string, args map[string]interface{}, call CallContext) *Result {
	r.mu.RLock()
	tool, ok := r.tools[name]
	limiter, scrubbing := r.rateLimiter, r.scrubbing
	r.mu.RUnlock()

	if !ok {
		return ErrorResult("unknown tool: " + name)
	}

	if call.UserID != "" {
		ctx = store.WithUserID(ctx, call.UserID)
	}
	if call.SessionID != "" {
		ctx = store.WithSessionID(ctx, call.SessionID)
	}
	if call.ActorID != "" {
		ctx = store.WithActorID(ctx, call.ActorID)
	}

	if limiter != nil && call.SessionID != "" {
		if err := limiter.Allow(call.SessionID); err != nil {
			slog.Warn("security.rate_limited", "scope", "tool", "tool", name, "session", call.SessionID)
			return ErrorResult(err.Error())
		}
	}

	if args == nil {
		args = map[string]interface{}{}
	}

	start := time.Now()
	result := tool.Execute(ctx, args)
	if result == nil {
		result = ErrorResult("tool returned no result")
	}
	duration := time.Since(start)

	if scrubbing {
		if result.ForLLM != "" {
			result.ForLLM = ScrubCredentials(result.ForLLM)
		}
		if result.ForUser != "" {
			result.ForUser = ScrubCredentials(result.ForUser)
		}
	}

	slog.Debug("tool executed",
		"tool", name,
		"session", call.SessionID,
		"duration_ms", duration.Milliseconds(),
		"is_error", result.IsError,
	)

	return result
}

// ProviderDefs returns tool definitions for LLM provider APIs, sorted by
// name so prompts are stable across calls.
func (r *Registry) ProviderDefs() []providers.ToolDefinition {
	r.mu.RLock()
	defer r.mu.RUnlock()

	defs := make([]providers.ToolDefinition, 0, len(r.tools))
	for _, tool := range r.tools {
		defs = append(defs, ToProviderDef(tool))
	}
	sort.Slice(defs, func(i, j int) bool { return defs[i].Function.Name < defs[j].Function.Name })
	return defs
}

// List returns all registered tool names, sorted.
func (r *Registry) List() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.tools))
	for name := range r.tools {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Count returns the number of registered tools.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.tools)
}
