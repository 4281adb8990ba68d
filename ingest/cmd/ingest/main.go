package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/oceanlab/specimen-stack/common/config"
	"github.com/oceanlab/specimen-stack/common/logging"
	"github.com/oceanlab/specimen-stack/common/messaging"
	natsmsg "github.com/oceanlab/specimen-stack/common/messaging/nats"
	"github.com/oceanlab/specimen-stack/common/recordstore"
	"github.com/oceanlab/specimen-stack/ingest/internal/handlers"
	"github.com/oceanlab/specimen-stack/ingest/internal/ratelimit"
	"github.com/oceanlab/specimen-stack/ingest/internal/server"
	"github.com/oceanlab/specimen-stack/ingest/internal/service"
)

func main() {
	// Parse command line flags
	configPath := flag.String("config", "", "path to config file")
	flag.Parse()

	// Load configuration
	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	// Initialize structured logging
	logger := logging.New(
		logging.ParseLevel(cfg.Logging.Level),
		cfg.Logging.Format,
	).With(logging.Service("ingest"))
	logging.SetDefault(logger)

	slog.Info("Starting Ingest service",
		slog.Int("port", cfg.Ingest.Port),
		slog.String("queue", cfg.Queues.Morphometrics),
		slog.String("nats_url", cfg.NATS.URL),
		slog.String("database", cfg.Database.Type),
	)
	if *configPath != "" {
		slog.Info("Loaded configuration", slog.String("config_path", *configPath))
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Initialize record store (runs migrations when enabled)
	store, err := recordstore.Open(ctx, cfg.Database)
	if err != nil {
		slog.Error("Failed to open record store", logging.Error(err))
		os.Exit(1)
	}
	defer store.Close()

	// Initialize rate limiter
	var rateLimiter ratelimit.RateLimiter = &ratelimit.NoOpRateLimiter{}
	switch {
	case !cfg.Redis.Enabled:
		slog.Info("Redis disabled - rate limiting not available")
	case !cfg.Ingest.RateLimit.Enabled:
		slog.Info("Rate limiting disabled in configuration")
	default:
		limiter, err := ratelimit.NewRedisRateLimiter(cfg.Redis, cfg.Ingest.RateLimit.Requests, cfg.Ingest.RateLimit.Window)
		if err != nil {
			slog.Warn("Failed to initialize Redis rate limiter, continuing without rate limiting", logging.Error(err))
		} else {
			rateLimiter = limiter
			slog.Info("Rate limiting enabled",
				slog.Int("requests", cfg.Ingest.RateLimit.Requests),
				slog.Duration("window", cfg.Ingest.RateLimit.Window))
		}
	}
	defer rateLimiter.Close()

	// Initialize publisher
	bo, err := messaging.NewBackoffFactory(cfg.Supervisor.Policy, cfg.Supervisor.Delay, cfg.Supervisor.MaxDelay)
	if err != nil {
		slog.Error("Invalid supervisor configuration", logging.Error(err))
		os.Exit(1)
	}
	natsCfg, queueCfg := natsmsg.FromSettings(cfg.NATS, "ingest", logger)
	publisher := messaging.NewReconnectingPublisher(&messaging.Supervisor{
		Name:     "ingest",
		Dial:     natsmsg.Dialer(natsCfg, queueCfg),
		Queues:   []string{cfg.Queues.Morphometrics},
		Backoff:  bo,
		MaxDelay: cfg.Supervisor.MaxDelay,
		Logger:   logger,
	})
	publisherDone := make(chan error, 1)
	go func() { publisherDone <- publisher.Run(ctx) }()

	// Initialize ingestion service
	ingestService := service.NewIngestService(publisher, store, cfg.Queues.Morphometrics, cfg.Ingest.PublishTimeout, logger)

	// Initialize HTTP handlers
	handler := handlers.NewSpecimenHandler(ingestService, rateLimiter, cfg.Ingest.MaxSubmissionBytes, logger)
	router := server.NewRouter(handler, cfg.Ingest.CORSOrigins, logger)

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Ingest.Port),
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	serverErr := make(chan error, 1)
	go func() {
		slog.Info("Ingest service listening", slog.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()

	select {
	case err := <-serverErr:
		slog.Error("Server error", logging.Error(err))
		stop()
	case <-ctx.Done():
	}

	slog.Info("Shutting down server...")
	shutdownTimeout := cfg.Server.ShutdownTimeout
	if shutdownTimeout <= 0 {
		shutdownTimeout = 10 * time.Second
	}
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("Server forced to shutdown", logging.Error(err))
	}
	if err := <-publisherDone; err != nil {
		slog.Error("Publisher stopped with error", logging.Error(err))
	}

	slog.Info("Server stopped")
}
