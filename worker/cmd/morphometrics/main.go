package main

import (
	"context"
	"flag"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"golang.org/x/sync/errgroup"

	"github.com/oceanlab/specimen-stack/common/config"
	"github.com/oceanlab/specimen-stack/common/logging"
	"github.com/oceanlab/specimen-stack/common/recordstore"
	"github.com/oceanlab/specimen-stack/worker/internal/extractor"
	"github.com/oceanlab/specimen-stack/worker/internal/morphometrics"
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
	).With(logging.Service("morphometrics-worker"))
	logging.SetDefault(logger)

	slog.Info("Starting morphometric worker",
		slog.String("queue", cfg.Queues.Morphometrics),
		slog.String("output_queue", cfg.Queues.Classification),
		slog.Int("instances", cfg.Morphometrics.Instances),
		slog.Int("prefetch", cfg.Morphometrics.Prefetch),
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

	ex := extractor.New(extractor.Config{
		Threshold: uint8(cfg.Morphometrics.Threshold),
		Polarity:  extractor.Polarity(cfg.Morphometrics.Polarity),
		MaxPixels: cfg.Morphometrics.MaxPixels,
	})
	processor := morphometrics.NewProcessor(ex, store, cfg.Queues.Classification, logger)

	runnerCfg, err := runner.FromConfig(cfg, runner.StageSettings{
		Stage:     "morphometrics",
		Queue:     cfg.Queues.Morphometrics,
		Declare:   []string{cfg.Queues.Classification},
		Instances: cfg.Morphometrics.Instances,
		Prefetch:  cfg.Morphometrics.Prefetch,
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

	admin := server.NewAdminRouter("morphometrics", map[string]server.Check{
		"consumers":    server.ReadyCheck(r.Ready, "not all consumers are connected"),
		"record_store": store.Ping,
	})

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return r.Run(gctx) })
	g.Go(func() error { return server.Serve(gctx, cfg.Morphometrics.AdminPort, admin, cfg.Server) })

	if err := g.Wait(); err != nil {
		slog.Error("Morphometric worker stopped with error", logging.Error(err))
		os.Exit(1)
	}
	slog.Info("Morphometric worker stopped")
}
