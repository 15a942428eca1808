package main

import (
	"context"
	"flag"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/robfig/cron/v3"

	"github.com/Zerr0-C00L/streamgate/internal/app"
	"github.com/Zerr0-C00L/streamgate/internal/config"
)

func main() {
	configPath := flag.String("config", "", "path to a config file (yaml, toml or json)")
	once := flag.Bool("once", false, "run one maintenance pass and exit")
	flag.Parse()

	if err := godotenv.Load(); err != nil {
		log.Println("Warning: .env file not found, using environment variables")
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}
	logger := cfg.Logging.Logger(os.Stderr)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// The server owns the response cache and purges it; the worker prunes
	// stream records only.
	a, err := app.New(ctx, cfg, logger, app.WithoutResponseCache())
	if err != nil {
		logger.Error("Failed to initialise services", "error", err)
		os.Exit(1)
	}
	defer a.Close()

	if *once {
		prune(ctx, a, logger)
		return
	}

	c := cron.New()
	if _, err := c.AddFunc(cfg.Streams.PruneSchedule, func() { prune(ctx, a, logger) }); err != nil {
		logger.Error("Invalid prune schedule", "schedule", cfg.Streams.PruneSchedule, "error", err)
		os.Exit(1)
	}
	c.Start()
	logger.Info("Background worker started", "prune_schedule", cfg.Streams.PruneSchedule)

	<-ctx.Done()
	logger.Info("Stopping background worker...")
	<-c.Stop().Done()
	logger.Info("Background worker stopped")
}

func prune(ctx context.Context, a *app.App, logger *slog.Logger) {
	res, err := a.Prune(ctx)
	if err != nil {
		logger.Error("[CACHE] prune failed", "error", err)
		return
	}
	logger.Info("[CACHE] prune complete", "streams", res.Streams)
}
