package http

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/nextlevelbuilder/querydesk/internal/agent"
	"github.com/nextlevelbuilder/querydesk/internal/scheduler"
	"github.com/nextlevelbuilder/querydesk/internal/turn"
)

// ErrorClass is a turn failure mapped to an HTTP status and a message that is
// safe to show the caller. Raw provider payloads never reach the caller.
type ErrorClass struct {
	Type    string
	Status  int
	Message string
}

// ClassifyError maps a turn error to an ErrorClass.
func ClassifyError(err error) ErrorClass {
	switch {
	case errors.Is(err, turn.ErrInvalidRequest):
		return ErrorClass{"ValidationError", http.StatusBadRequest, strings.TrimPrefix(err.Error(), turn.ErrInvalidRequest.Error()+": ")}
	case errors.Is(err, agent.ErrInputBlocked):
		return ErrorClass{"InputBlocked", http.StatusBadRequest, "Your message was blocked by the input guard. Please rephrase your question."}
	case errors.Is(err, scheduler.ErrQueueFull):
		return ErrorClass{"SessionBusy", http.StatusTooManyRequests, "This session is still answering earlier messages. Please wait and try again."}
	case errors.Is(err, scheduler.ErrQueueDropped):
		return ErrorClass{"SessionBusy", http.StatusServiceUnavailable, "This message was superseded by newer ones in the same session."}
	case errors.Is(err, context.DeadlineExceeded):
		return ErrorClass{"Timeout", http.StatusGatewayTimeout, "Request timed out. Please try again."}
	case errors.Is(err, context.Canceled):
		return ErrorClass{"Canceled", http.StatusServiceUnavailable, "Request was canceled."}
	}

	raw := err.Error()
	lower := strings.ToLower(raw)

	switch {
	case isContextOverflowError(lower):
		return ErrorClass{"ContextOverflow", http.StatusBadGateway, "Context overflow: the message is too large for this model. Try a new session."}
	case isMessageFormatError(lower):
		return ErrorClass{"MessageFormat", http.StatusBadGateway, "Session history conflict. Please try again, or start a new session if this persists."}
	case containsAny(lower, "rate limit", "rate_limit", "too many requests", "429", "quota exceeded", "resource_exhausted"):
		return ErrorClass{"ProviderRateLimited", http.StatusServiceUnavailable, "The model provider's rate limit was reached. Please try again later."}
	case strings.Contains(lower, "overloaded"):
		return ErrorClass{"ProviderOverloaded", http.StatusServiceUnavailable, "The model provider is temporarily overloaded. Please try again in a moment."}
	case containsAny(lower, "billing", "insufficient credits", "credit balance", "payment required", "402"):
		return ErrorClass{"ProviderBilling", http.StatusBadGateway, "Model provider billing error. Check the provider account."}
	case containsAny(lower, "invalid api key", "invalid_api_key", "unauthorized", "forbidden", "authentication", "401", "403", "access denied"):
		return ErrorClass{"ProviderAuth", http.StatusBadGateway, "Model provider authentication failed. Check the API key configuration."}
	case containsAny(lower, "timeout", "timed out", "deadline exceeded"):
		return ErrorClass{"Timeout", http.StatusGatewayTimeout, "Request timed out. Please try again."}
	case strings.Contains(lower, "not a valid model"), strings.Contains(lower, "model_not_found"):
		return ErrorClass{"ModelConfig", http.StatusInternalServerError, "Model configuration error. Check the provider model setting."}
	}

	slog.Warn("unclassified turn error", "error", raw)
	return ErrorClass{"InternalError", http.StatusInternalServerError, "Sorry, something went wrong processing your message. Please try again."}
}

// isContextOverflowError checks for context window/size overflow patterns.
func isContextOverflowError(lower string) bool {
	return containsAny(lower,
		"request_too_large",
		"context length exceeded",
		"context_length_exceeded",
		"maximum context length",
		"prompt is too long",
		"exceeds model context window",
	) || (strings.Contains(lower, "context") &&
		containsAny(lower, "overflow", "too large", "too long"))
}

// isMessageFormatError checks for tool_use/tool_result mismatch and role
// ordering errors.
func isMessageFormatError(lower string) bool {
	return containsAny(lower,
		"tool_use_id",
		"tool_call_id",
		"unexpected tool",
		"roles must alternate",
		"tool_result block",
		"tool_use block",
	)
}

func containsAny(s string, substrs ...string) bool {
	for _, sub := range substrs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}
