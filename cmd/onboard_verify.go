package cmd

import (
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/nextlevelbuilder/querydesk/internal/config"
)

// providerVerifyError holds the result of a provider connectivity probe.
type providerVerifyError struct {
	fatal   bool // bad credentials
	message string
}

func (e *providerVerifyError) Error() string { return e.message }

var verifyClient = &http.Client{Timeout: 10 * time.Second}

// verifyProvider checks the API key by POSTing an empty body to an endpoint
// that always requires authentication.
//   - 401/403: invalid API key (fatal)
//   - 400/422: auth passed, request rejected
//   - 2xx: auth passed
//   - anything else: non-fatal warning
func verifyProvider(pc config.ProviderConfig) *providerVerifyError {
	if pc.APIKey == "" {
		return &providerVerifyError{fatal: true, message: "no API key configured"}
	}

	req, err := http.NewRequest(http.MethodPost, authCheckEndpoint(pc), strings.NewReader("{}"))
	if err != nil {
		return &providerVerifyError{message: fmt.Sprintf("build request: %v", err)}
	}
	req.Header.Set("Content-Type", "application/json")
	if pc.Name == "anthropic" {
		req.Header.Set("x-api-key", pc.APIKey)
		req.Header.Set("anthropic-version", "2023-06-01")
	} else {
		req.Header.Set("Authorization", "Bearer "+pc.APIKey)
	}

	resp, err := verifyClient.Do(req)
	if err != nil {
		return &providerVerifyError{message: fmt.Sprintf("connectivity check failed (transient): %v", err)}
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return &providerVerifyError{fatal: true, message: fmt.Sprintf("%s returned %d: invalid API key", pc.Name, resp.StatusCode)}
	case resp.StatusCode == http.StatusBadRequest || resp.StatusCode == http.StatusUnprocessableEntity:
		return nil
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		return nil
	default:
		return &providerVerifyError{message: fmt.Sprintf("%s returned %d (continuing)", pc.Name, resp.StatusCode)}
	}
}

// authCheckEndpoint honors provider.base_url so proxies and compatible
// gateways are probed at the right host.
func authCheckEndpoint(pc config.ProviderConfig) string {
	base := strings.TrimRight(pc.BaseURL, "/")
	switch pc.Name {
	case "anthropic":
		if base == "" {
			base = "https://api.anthropic.com"
		}
		return base + "/v1/messages"
	default:
		if base == "" {
			base = "https://api.openai.com/v1"
		}
		return base + "/chat/completions"
	}
}
