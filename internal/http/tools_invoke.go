package http

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/nextlevelbuilder/querydesk/internal/config"
	"github.com/nextlevelbuilder/querydesk/internal/tools"
)

// ToolsInvokeHandler handles POST /v1/tools/invoke (direct tool invocation
// for operators). It is only served when a bearer token is configured.
type ToolsInvokeHandler struct {
	registry    *tools.Registry
	token       string
	actorPrefix string
}

// NewToolsInvokeHandler creates a handler for the tools invoke endpoint.
func NewToolsInvokeHandler(registry *tools.Registry, token, actorPrefix string) *ToolsInvokeHandler {
	return &ToolsInvokeHandler{
		registry:    registry,
		token:       token,
		actorPrefix: actorPrefix,
	}
}

type toolsInvokeRequest struct {
	Tool      string                 `json:"tool"`
	Args      map[string]interface{} `json:"args"`
	UserID    string                 `json:"user_id,omitempty"`
	SessionID string                 `json:"session_id,omitempty"`
	DryRun    bool                   `json:"dry_run,omitempty"`
}

func (h *ToolsInvokeHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeToolError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "method not allowed")
		return
	}
	if h.token == "" {
		writeToolError(w, http.StatusForbidden, "DISABLED", "tool invocation requires server.token")
		return
	}
	if !tokenMatch(extractBearerToken(r), h.token) {
		slog.Warn("security.unauthorized", "remote", r.RemoteAddr, "path", r.URL.Path)
		writeToolError(w, http.StatusUnauthorized, "UNAUTHORIZED", "Invalid token")
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, defaultMaxBodyBytes)
	var req toolsInvokeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeToolError(w, http.StatusBadRequest, "BAD_REQUEST", err.Error())
		return
	}
	if req.Tool == "" {
		writeToolError(w, http.StatusBadRequest, "BAD_REQUEST", "tool is required")
		return
	}

	tool, ok := h.registry.Get(req.Tool)
	if !ok {
		writeToolError(w, http.StatusNotFound, "NOT_FOUND", fmt.Sprintf("Tool '%s' not found", req.Tool))
		return
	}

	slog.Info("tools invoke request", "tool", req.Tool, "dry_run", req.DryRun)

	if req.DryRun {
		writeJSON(w, http.StatusOK, map[string]interface{}{
			"tool":        req.Tool,
			"description": tool.Description(),
			"parameters":  tool.Parameters(),
			"dry_run":     true,
		})
		return
	}

	userID := strings.TrimSpace(req.UserID)
	if userID == "" {
		userID = extractUserID(r)
	}
	call := tools.CallContext{
		UserID:    userID,
		SessionID: req.SessionID,
		ActorID:   config.NormalizeActorID(userID, h.actorPrefix),
	}

	args := req.Args
	if args == nil {
		args = make(map[string]interface{})
	}
	result := h.registry.ExecuteWithContext(r.Context(), req.Tool, args, call)
	if result.IsError {
		writeToolError(w, http.StatusBadRequest, "TOOL_ERROR", result.ForLLM)
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"result": map[string]interface{}{
			"output":   result.ForLLM,
			"for_user": result.ForUser,
		},
	})
}

func writeToolError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, map[string]interface{}{
		"error": map[string]string{
			"code":    code,
			"message": message,
		},
	})
}
