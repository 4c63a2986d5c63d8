package cmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/nextlevelbuilder/querydesk/internal/config"
	httpapi "github.com/nextlevelbuilder/querydesk/internal/http"
)

const shutdownTimeout = 15 * time.Second

func serveCmd() *cobra.Command {
	var port int
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP gateway (POST /invocations, GET /ping)",
		Run: func(cmd *cobra.Command, args []string) {
			runServe(port)
		},
	}
	cmd.Flags().IntVarP(&port, "port", "p", 0, "listen port (overrides server.port)")
	return cmd
}

func runServe(port int) {
	cfg, err := loadConfig()
	if err != nil {
		exitf("loading config: %v", err)
	}
	if port > 0 {
		cfg.Server.Port = port
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := newApp(ctx, cfg)
	if err != nil {
		exitf("%v", err)
	}
	defer a.close()

	inv := httpapi.NewInvocationsHandler(a.sched, cfg.Server.Token, cfg.Server.MaxBodyBytes)
	limiter := httpapi.NewRateLimiter(cfg.Server.RateLimitRPM, cfg.Server.RateBurst)
	defer limiter.Close()
	inv.SetRateLimiter(limiter)

	var toolsHandler *httpapi.ToolsInvokeHandler
	if cfg.Server.Token != "" {
		toolsHandler = httpapi.NewToolsInvokeHandler(a.tools, cfg.Server.Token, cfg.Memory.ActorPrefix)
	} else {
		slog.Warn("server.token is empty: /invocations is unauthenticated and /v1/tools/invoke is disabled")
	}

	srv := &http.Server{
		Addr:              cfg.Addr(),
		Handler:           httpapi.LogRequests(httpapi.NewMux(inv, toolsHandler)),
		ReadHeaderTimeout: 10 * time.Second,
	}

	if w := watchConfig(a); w != nil {
		defer w.Stop()
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("gateway listening", "addr", srv.Addr, "auth", cfg.Server.Token != "", "rate_limit_rpm", cfg.Server.RateLimitRPM)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		slog.Info("shutting down gateway")
	case err := <-errCh:
		if err != nil {
			exitf("server: %v", err)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Warn("gateway shutdown", "error", err)
	}
	fmt.Fprintln(os.Stderr, "Gateway stopped.")
}

// watchConfig hot-reloads agent limits when the config file changes.
// Returns nil when there is no file to watch.
func watchConfig(a *app) *config.Watcher {
	path := resolveConfigPath()
	if _, err := os.Stat(config.ExpandHome(path)); err != nil {
		return nil
	}
	w, err := config.NewWatcher(path)
	if err != nil {
		slog.Warn("config watcher unavailable", "error", err)
		return nil
	}
	w.OnChange(a.applyConfig)
	if err := w.Start(); err != nil {
		slog.Warn("config watcher failed to start", "error", err)
		w.Stop()
		return nil
	}
	return w
}
