package agent

import (
	"context"
	"errors"

	"github.com/nextlevelbuilder/querydesk/internal/providers"
)

// ErrInputBlocked is returned by Run when the input guard blocks a message.
var ErrInputBlocked = errors.New("message blocked by input guard")

// Agent is the core abstraction for an AI agent execution loop.
// Implemented by *Loop; extracted as an interface for testability.
type Agent interface {
	Run(ctx context.Context, req RunRequest) (*RunResult, error)
	Model() string
}

// RunRequest is one user message to answer.
type RunRequest struct {
	UserID    string
	SessionID string
	ActorID   string
	Message   string // contextualized message (memory + history + query)
	RunID     string // optional; generated when empty
}

// RunResult is the outcome of one agent run.
type RunResult struct {
	RunID      string
	Content    string // final model text
	ToolsUsed  []string
	Iterations int
	Usage      providers.Usage
	// HitIterationLimit is set when the loop ran out of iterations and the
	// answer came from a final call without tools.
	HitIterationLimit bool
}
