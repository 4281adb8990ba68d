// Package server exposes the worker admin endpoints: liveness, readiness and metrics.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sort"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/oceanlab/specimen-stack/common/config"
	"github.com/oceanlab/specimen-stack/common/httputil"
	"github.com/oceanlab/specimen-stack/common/middleware"
)

// Check reports whether one dependency is ready.
type Check func(ctx context.Context) error

// HealthResponse is returned by /healthz and /readyz.
type HealthResponse struct {
	Status string            `json:"status"`
	Stage  string            `json:"stage"`
	Checks map[string]string `json:"checks,omitempty"`
}

// NewAdminRouter constructs the admin ServeMux for a worker stage.
func NewAdminRouter(stage string, checks map[string]Check) http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, r *http.Request) {
		httputil.WriteJSON(w, http.StatusOK, HealthResponse{Status: "healthy", Stage: stage})
	})

	mux.HandleFunc("GET /readyz", func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()

		names := make([]string, 0, len(checks))
		for name := range checks {
			names = append(names, name)
		}
		sort.Strings(names)

		resp := HealthResponse{Status: "ready", Stage: stage, Checks: make(map[string]string, len(checks))}
		status := http.StatusOK
		for _, name := range names {
			if err := checks[name](ctx); err != nil {
				resp.Checks[name] = err.Error()
				resp.Status = "not_ready"
				status = http.StatusServiceUnavailable
				continue
			}
			resp.Checks[name] = "ok"
		}
		httputil.WriteJSON(w, status, resp)
	})

	mux.Handle("GET /metrics", promhttp.Handler())

	return middleware.RequestID(mux)
}

// Serve runs an HTTP server on port until ctx is cancelled, then shuts it down
// within cfg.ShutdownTimeout.
func Serve(ctx context.Context, port int, handler http.Handler, cfg config.ServerConfig) error {
	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", port),
		Handler:      handler,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  cfg.IdleTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("admin server listening", slog.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("admin server: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	timeout := cfg.ShutdownTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("admin server shutdown: %w", err)
	}
	return nil
}

// ReadyCheck adapts a boolean readiness probe.
func ReadyCheck(ready func() bool, message string) Check {
	return func(context.Context) error {
		if !ready() {
			return errors.New(message)
		}
		return nil
	}
}
