// Package http serves the runtime contract: POST /invocations answers one
// customer query, GET /ping reports health.
package http

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/nextlevelbuilder/querydesk/internal/turn"
)

// SessionHeader carries the runtime session id.
const SessionHeader = "X-Amzn-Bedrock-AgentCore-Runtime-Session-Id"

const (
	defaultMaxBodyBytes = 1 << 20
	serviceName         = "querydesk"
	sourceRuntime       = "querydesk_runtime"
	sourceValidation    = "querydesk_validation"
	sourceGateway       = "querydesk_gateway"
)

// Turner handles one turn. Implemented by *turn.Orchestrator.
type Turner interface {
	Handle(ctx context.Context, req turn.Request) (*turn.Result, error)
}

// InvocationsHandler handles POST /invocations.
type InvocationsHandler struct {
	turns   Turner
	token   string // expected bearer token (empty = no auth)
	maxBody int64
	limiter *RateLimiter
	now     func() time.Time
}

// NewInvocationsHandler creates the invocations handler. maxBody <= 0 uses 1 MiB.
func NewInvocationsHandler(turns Turner, token string, maxBody int64) *InvocationsHandler {
	if maxBody <= 0 {
		maxBody = defaultMaxBodyBytes
	}
	return &InvocationsHandler{turns: turns, token: token, maxBody: maxBody, now: time.Now}
}

// SetRateLimiter sets the per-key rate limiter (nil = no limit).
func (h *InvocationsHandler) SetRateLimiter(rl *RateLimiter) {
	h.limiter = rl
}

type invocationRequest struct {
	Prompt    string         `json:"prompt"`
	UserID    string         `json:"user_id"`
	SessionID string         `json:"session_id,omitempty"`
	Metadata  map[string]any `json:"metadata,omitempty"`
}

type invocationResponse struct {
	Success bool             `json:"success"`
	Data    *invocationData  `json:"data,omitempty"`
	Error   *invocationError `json:"error,omitempty"`
}

type invocationData struct {
	Response         string           `json:"response"`
	Reply            replyBody        `json:"reply"`
	SessionInfo      sessionInfo      `json:"session_info"`
	ExecutionDetails executionDetails `json:"execution_details"`
	Metadata         map[string]any   `json:"metadata"`
}

type replyBody struct {
	Response       string   `json:"response"`
	ToolsUsed      []string `json:"tools_used"`
	NeedToEscalate bool     `json:"need_to_escalate"`
	Domain         []string `json:"domain"`
}

type sessionInfo struct {
	SessionID string `json:"session_id"`
	UserID    string `json:"user_id"`
	Timestamp string `json:"timestamp"`
}

type executionDetails struct {
	RunID                        string        `json:"run_id,omitempty"`
	TraceID                      string        `json:"trace_id,omitempty"`
	ToolsUsed                    []string      `json:"tools_used"`
	Iterations                   int           `json:"iterations"`
	ProcessingTimeSeconds        float64       `json:"processing_time_seconds"`
	MemoryContext                memoryContext `json:"memory_context"`
	ConversationHistoryAvailable bool          `json:"conversation_history_available"`
	SQLQueries                   []string      `json:"sql_queries"`
	Usage                        usageBody     `json:"usage"`
}

type memoryContext struct {
	Enabled      bool   `json:"enabled"`
	Backend      string `json:"backend"`
	Preferences  int    `json:"preferences"`
	Summaries    int    `json:"summaries"`
	Facts        int    `json:"facts"`
	HistoryTurns int    `json:"history_turns"`
	Dropped      int    `json:"dropped"`
	Tokens       int    `json:"tokens"`
}

type usageBody struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

type invocationError struct {
	Message               string  `json:"message"`
	ErrorType             string  `json:"error_type"`
	SessionID             string  `json:"session_id,omitempty"`
	UserID                string  `json:"user_id,omitempty"`
	ProcessingTimeSeconds float64 `json:"processing_time_seconds"`
	Timestamp             string  `json:"timestamp"`
	Source                string  `json:"source"`
}

func (h *InvocationsHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	start := h.now()
	sessionID := strings.TrimSpace(r.Header.Get(SessionHeader))

	fail := func(status int, errType, msg, source, userID string) {
		writeJSON(w, status, invocationResponse{Error: &invocationError{
			Message:               msg,
			ErrorType:             errType,
			SessionID:             sessionID,
			UserID:                userID,
			ProcessingTimeSeconds: h.now().Sub(start).Seconds(),
			Timestamp:             h.now().UTC().Format(time.RFC3339Nano),
			Source:                source,
		}})
	}

	if r.Method != http.MethodPost {
		fail(http.StatusMethodNotAllowed, "MethodNotAllowed", "method not allowed", sourceGateway, "")
		return
	}

	// Auth check (timing-safe comparison)
	if !tokenMatch(extractBearerToken(r), h.token) {
		slog.Warn("security.unauthorized", "remote", r.RemoteAddr, "path", r.URL.Path)
		fail(http.StatusUnauthorized, "Unauthorized", "invalid authentication", sourceGateway, "")
		return
	}

	if ok, retry := h.limiter.Allow(rateLimitKey(r)); !ok {
		w.Header().Set("Retry-After", strconv.Itoa(int(math.Ceil(retry.Seconds()))))
		fail(http.StatusTooManyRequests, "RateLimited", "rate limit exceeded", sourceGateway, "")
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, h.maxBody)
	var req invocationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			fail(http.StatusRequestEntityTooLarge, "PayloadTooLarge",
				fmt.Sprintf("request body exceeds %d bytes", tooLarge.Limit), sourceValidation, "")
			return
		}
		fail(http.StatusBadRequest, "ValidationError", "invalid JSON: "+err.Error(), sourceValidation, "")
		return
	}

	req.Prompt = strings.TrimSpace(req.Prompt)
	req.UserID = strings.TrimSpace(req.UserID)
	if req.UserID == "" {
		req.UserID = extractUserID(r)
	}
	if sessionID == "" {
		sessionID = strings.TrimSpace(req.SessionID)
	}
	if sessionID == "" {
		sessionID = uuid.NewString()
	}

	if req.Prompt == "" {
		fail(http.StatusBadRequest, "ValidationError", "field 'prompt' is required and cannot be empty", sourceValidation, req.UserID)
		return
	}
	if req.UserID == "" {
		fail(http.StatusBadRequest, "ValidationError", "field 'user_id' is required and cannot be empty", sourceValidation, "")
		return
	}

	metadata := enrichMetadata(req.Metadata, sessionID, start)

	slog.Info("invocation request", "user", req.UserID, "session", sessionID, "prompt_len", len(req.Prompt))

	res, err := h.turns.Handle(r.Context(), turn.Request{
		UserID:    req.UserID,
		SessionID: sessionID,
		Query:     req.Prompt,
		Metadata:  metadata,
	})
	if err != nil {
		class := ClassifyError(err)
		source := sourceRuntime
		if class.Type == "ValidationError" {
			source = sourceValidation
		}
		slog.Warn("invocation failed", "user", req.UserID, "session", sessionID, "error_type", class.Type, "error", err)
		fail(class.Status, class.Type, class.Message, source, req.UserID)
		return
	}

	end := h.now()
	writeJSON(w, http.StatusOK, invocationResponse{
		Success: true,
		Data: &invocationData{
			Response: res.Reply.Response,
			Reply: replyBody{
				Response:       res.Reply.Response,
				ToolsUsed:      nonNil(res.Reply.ToolsUsed),
				NeedToEscalate: res.Reply.NeedToEscalate,
				Domain:         nonNil(res.Reply.Domain),
			},
			SessionInfo: sessionInfo{
				SessionID: sessionID,
				UserID:    req.UserID,
				Timestamp: end.UTC().Format(time.RFC3339Nano),
			},
			ExecutionDetails: executionDetails{
				RunID:                 res.RunID,
				TraceID:               res.TraceID,
				ToolsUsed:             nonNil(res.ToolsUsed),
				Iterations:            res.Iterations,
				ProcessingTimeSeconds: end.Sub(start).Seconds(),
				MemoryContext: memoryContext{
					Enabled:      res.MemoryBackend != "none",
					Backend:      res.MemoryBackend,
					Preferences:  res.MemoryContext.Preferences,
					Summaries:    res.MemoryContext.Summaries,
					Facts:        res.MemoryContext.Facts,
					HistoryTurns: res.MemoryContext.HistoryTurns,
					Dropped:      res.MemoryContext.Dropped,
					Tokens:       res.MemoryContext.Tokens,
				},
				ConversationHistoryAvailable: res.HistoryTurns > 0,
				SQLQueries:                   nonNil(res.SQLQueries),
				Usage: usageBody{
					PromptTokens:     res.Usage.PromptTokens,
					CompletionTokens: res.Usage.CompletionTokens,
					TotalTokens:      res.Usage.TotalTokens,
				},
			},
			Metadata: metadata,
		},
	})
}

// enrichMetadata copies md and stamps the runtime fields over it.
func enrichMetadata(md map[string]any, sessionID string, now time.Time) map[string]any {
	out := make(map[string]any, len(md)+4)
	for k, v := range md {
		out[k] = v
	}
	out["source"] = sourceRuntime
	out["service"] = serviceName
	out["timestamp"] = now.UTC().Format(time.RFC3339Nano)
	out["session_id"] = sessionID
	return out
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Debug("http: write response failed", "error", err)
	}
}
