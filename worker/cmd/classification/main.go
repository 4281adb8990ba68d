package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/oceanlab/specimen-stack/common/config"
	"github.com/oceanlab/specimen-stack/common/logging"
	"github.com/oceanlab/specimen-stack/common/recordstore"
	"github.com/oceanlab/specimen-stack/worker/internal/classification"
	"github.com/oceanlab/specimen-stack/worker/internal/metrics"
	"github.com/oceanlab/specimen-stack/worker/internal/model"
	"github.com/oceanlab/specimen-stack/worker/internal/runner"
	"github.com/oceanlab/specimen-stack/worker/internal/server"
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
	).With(logging.Service("classification-worker"))
	logging.SetDefault(logger)

	slog.Info("Starting classification worker",
		slog.String("queue", cfg.Queues.Classification),
		slog.Int("instances", cfg.Classification.Instances),
		slog.Int("prefetch", cfg.Classification.Prefetch),
		slog.String("model_path", cfg.Classification.ModelPath),
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Initialize record store
	store, err := recordstore.Open(ctx, cfg.Database)
	if err != nil {
		slog.Error("Failed to open record store", logging.Error(err))
		os.Exit(1)
	}
	defer store.Close()
	slog.Info("Record store ready", slog.String("type", cfg.Database.Type))

	// The model loads lazily; until it does, messages are requeued.
	source := model.NewSource(cfg.Classification.ModelPath, cfg.Classification.ReloadInterval, logger)
	if !source.Ready() {
		slog.Warn("Classification model not available yet, messages will be requeued until it loads")
	}
	processor := classification.NewProcessor(source, store, logger)

	runnerCfg, err := runner.FromConfig(cfg, runner.StageSettings{
		Stage:     "classification",
		Queue:     cfg.Queues.Classification,
		Instances: cfg.Classification.Instances,
		Prefetch:  cfg.Classification.Prefetch,
	}, logger)
	if err != nil {
		slog.Error("Invalid runner configuration", logging.Error(err))
		os.Exit(1)
	}
	r, err := runner.New(runnerCfg, processor.Handle)
	if err != nil {
		slog.Error("Failed to create runner", logging.Error(err))
		os.Exit(1)
	}

	admin := server.NewAdminRouter("classification", map[string]server.Check{
		"consumers":    server.ReadyCheck(r.Ready, "not all consumers are connected"),
		"record_store": store.Ping,
		"model": func(context.Context) error {
			if !source.Ready() {
				return errors.New("classification model not loaded")
			}
			return nil
		},
	})

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return r.Run(gctx) })
	g.Go(func() error { return server.Serve(gctx, cfg.Classification.AdminPort, admin, cfg.Server) })
	g.Go(func() error {
		reportModelReadiness(gctx, source, cfg.Classification.ReloadInterval)
		return nil
	})

	if err := g.Wait(); err != nil {
		slog.Error("Classification worker stopped with error", logging.Error(err))
		os.Exit(1)
	}
	slog.Info("Classification worker stopped")
}

// reportModelReadiness keeps the model gauge current and drives reload checks
// even while no messages arrive.
func reportModelReadiness(ctx context.Context, source *model.Source, interval time.Duration) {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		if source.Ready() {
			metrics.ModelReady.Set(1)
		} else {
			metrics.ModelReady.Set(0)
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}
