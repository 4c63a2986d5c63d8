package http

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/nextlevelbuilder/querydesk/internal/store"
	"github.com/nextlevelbuilder/querydesk/internal/tools"
)

type whoamiTool struct{}

func (whoamiTool) Name() string        { return "whoami" }
func (whoamiTool) Description() string { return "Reports the calling actor." }
func (whoamiTool) Parameters() map[string]interface{} {
	return map[string]interface{}{"type": "object", "properties": map[string]interface{}{}}
}
func (whoamiTool) Execute(ctx context.Context, args map[string]interface{}) *tools.Result {
	if args["fail"] == true {
		return tools.ErrorResult("asked to fail")
	}
	return tools.NewResult("actor=" + store.ActorIDFromContext(ctx))
}

func invokeTools(t *testing.T, h http.Handler, token, body string) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/v1/tools/invoke", strings.NewReader(body))
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	var out map[string]any
	_ = json.Unmarshal(rec.Body.Bytes(), &out)
	return rec, out
}

func TestToolsInvoke(t *testing.T) {
	reg := tools.NewRegistry()
	reg.Register(whoamiTool{})
	h := NewToolsInvokeHandler(reg, "tok", "")

	rec, out := invokeTools(t, h, "tok", `{"tool": "whoami", "user_id": "Alice"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", rec.Code, rec.Body.String())
	}
	result := out["result"].(map[string]any)
	if result["output"] != "actor=customer_alice" {
		t.Errorf("output = %v", result["output"])
	}

	rec, out = invokeTools(t, h, "tok", `{"tool": "whoami", "dry_run": true}`)
	if rec.Code != http.StatusOK || out["description"] != "Reports the calling actor." {
		t.Errorf("dry run = %d %v", rec.Code, out)
	}

	rec, _ = invokeTools(t, h, "tok", `{"tool": "whoami", "args": {"fail": true}}`)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("tool error status = %d", rec.Code)
	}

	rec, _ = invokeTools(t, h, "tok", `{"tool": "nope"}`)
	if rec.Code != http.StatusNotFound {
		t.Errorf("unknown tool status = %d", rec.Code)
	}

	rec, _ = invokeTools(t, h, "wrong", `{"tool": "whoami"}`)
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("bad token status = %d", rec.Code)
	}
}

func TestToolsInvoke_DisabledWithoutToken(t *testing.T) {
	h := NewToolsInvokeHandler(tools.NewRegistry(), "", "")
	rec, _ := invokeTools(t, h, "", `{"tool": "whoami"}`)
	if rec.Code != http.StatusForbidden {
		t.Errorf("status = %d", rec.Code)
	}
}
