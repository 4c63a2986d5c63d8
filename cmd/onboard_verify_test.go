package cmd

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/nextlevelbuilder/querydesk/internal/config"
)

func TestVerifyProvider(t *testing.T) {
	tests := []struct {
		name      string
		status    int
		wantErr   bool
		wantFatal bool
	}{
		{"bad request means auth passed", http.StatusBadRequest, false, false},
		{"ok", http.StatusOK, false, false},
		{"unauthorized", http.StatusUnauthorized, true, true},
		{"server error", http.StatusBadGateway, true, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var gotAuth string
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				gotAuth = r.Header.Get("Authorization")
				w.WriteHeader(tt.status)
			}))
			defer srv.Close()

			verr := verifyProvider(config.ProviderConfig{Name: "openai", APIKey: "sk-test", BaseURL: srv.URL})
			if (verr != nil) != tt.wantErr {
				t.Fatalf("verifyProvider err = %v, wantErr %v", verr, tt.wantErr)
			}
			if verr != nil && verr.fatal != tt.wantFatal {
				t.Errorf("fatal = %v, want %v", verr.fatal, tt.wantFatal)
			}
			if gotAuth != "Bearer sk-test" {
				t.Errorf("Authorization = %q", gotAuth)
			}
		})
	}
}

func TestVerifyProvider_NoKey(t *testing.T) {
	verr := verifyProvider(config.ProviderConfig{Name: "openai"})
	if verr == nil || !verr.fatal {
		t.Fatalf("verr = %v, want fatal", verr)
	}
}

func TestAuthCheckEndpoint(t *testing.T) {
	tests := []struct {
		pc   config.ProviderConfig
		want string
	}{
		{config.ProviderConfig{Name: "openai"}, "https://api.openai.com/v1/chat/completions"},
		{config.ProviderConfig{Name: "anthropic"}, "https://api.anthropic.com/v1/messages"},
		{config.ProviderConfig{Name: "openai", BaseURL: "http://proxy:8080/v1/"}, "http://proxy:8080/v1/chat/completions"},
	}
	for _, tt := range tests {
		if got := authCheckEndpoint(tt.pc); got != tt.want {
			t.Errorf("authCheckEndpoint(%+v) = %q, want %q", tt.pc, got, tt.want)
		}
	}
}
