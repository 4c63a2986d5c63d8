package http

import (
	"io"
	"log/slog"
	"net/http"
	"time"
)

// NewMux routes the gateway endpoints. tools may be nil.
func NewMux(invocations *InvocationsHandler, tools *ToolsInvokeHandler) *http.ServeMux {
	mux := http.NewServeMux()
	mux.Handle("/invocations", invocations)
	mux.HandleFunc("GET /ping", handlePing)
	if tools != nil {
		mux.Handle("/v1/tools/invoke", tools)
	}
	return mux
}

func handlePing(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	io.WriteString(w, "Healthy")
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

// LogRequests logs one line per request. Health checks log at debug.
func LogRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)

		level := slog.LevelInfo
		if r.URL.Path == "/ping" {
			level = slog.LevelDebug
		}
		slog.Log(r.Context(), level, "http request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", rec.status,
			"duration_ms", time.Since(start).Milliseconds(),
		)
	})
}
