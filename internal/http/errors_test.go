package http

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/nextlevelbuilder/querydesk/internal/scheduler"
	"github.com/nextlevelbuilder/querydesk/internal/store"
	"github.com/nextlevelbuilder/querydesk/internal/turn"
)

func TestClassifyError(t *testing.T) {
	tests := []struct {
		err    error
		want   string
		status int
	}{
		{fmt.Errorf("%w: %w", turn.ErrInvalidRequest, store.ErrEmptyUserID), "ValidationError", http.StatusBadRequest},
		{fmt.Errorf("agent run: %w", context.DeadlineExceeded), "Timeout", http.StatusGatewayTimeout},
		{errors.New("This model's maximum context length is 8192 tokens"), "ContextOverflow", http.StatusBadGateway},
		{errors.New("messages.3: tool_use_id not found"), "MessageFormat", http.StatusBadGateway},
		{errors.New("anthropic: overloaded_error"), "ProviderOverloaded", http.StatusServiceUnavailable},
		{errors.New("401 Unauthorized: invalid api key"), "ProviderAuth", http.StatusBadGateway},
		{errors.New("read tcp: i/o timeout"), "Timeout", http.StatusGatewayTimeout},
		{scheduler.ErrQueueFull, "SessionBusy", http.StatusTooManyRequests},
		{errors.New("something else"), "InternalError", http.StatusInternalServerError},
	}
	for _, tt := range tests {
		got := ClassifyError(tt.err)
		if got.Type != tt.want || got.Status != tt.status {
			t.Errorf("ClassifyError(%q) = %s/%d, want %s/%d", tt.err, got.Type, got.Status, tt.want, tt.status)
		}
		if got.Message == "" {
			t.Errorf("ClassifyError(%q) has empty message", tt.err)
		}
	}

	v := ClassifyError(fmt.Errorf("%w: %w", turn.ErrInvalidRequest, store.ErrEmptyUserID))
	if v.Message != store.ErrEmptyUserID.Error() {
		t.Errorf("validation message = %q", v.Message)
	}
}
