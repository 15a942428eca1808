package main

import (
	"context"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/robfig/cron/v3"

	"github.com/Zerr0-C00L/streamgate/internal/api"
	"github.com/Zerr0-C00L/streamgate/internal/app"
	"github.com/Zerr0-C00L/streamgate/internal/config"
)

func main() {
	configPath := flag.String("config", "", "path to a config file (yaml, toml or json)")
	flag.Parse()

	// Load .env file
	if err := godotenv.Load(); err != nil {
		log.Println("Warning: .env file not found, using environment variables")
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}
	logger := cfg.Logging.Logger(os.Stderr)
	logger.Info("Starting streamgate API server", "addr", cfg.Addr())

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := app.New(ctx, cfg, logger)
	if err != nil {
		logger.Error("Failed to initialise services", "error", err)
		os.Exit(1)
	}
	defer a.Close()

	handler := api.NewHandler(api.Deps{
		DB:            a.DB,
		StreamStore:   a.StreamStore,
		IdentityStore: a.IdentityStore,
		Streams:       a.Streams,
		Resolver:      a.Resolver,
		Hashlist:      a.Hashlist,
		Settings:      a.Settings,
		Logger:        logger,
	})

	purger := cron.New()
	if a.ResponseCache != nil {
		if _, err := purger.AddFunc(cfg.Streams.PruneSchedule, func() {
			n, err := a.ResponseCache.Purge()
			if err != nil {
				logger.Error("[CACHE] response purge failed", "error", err)
				return
			}
			logger.Info("[CACHE] response purge complete", "responses", n)
		}); err != nil {
			logger.Error("Invalid prune schedule", "schedule", cfg.Streams.PruneSchedule, "error", err)
			os.Exit(1)
		}
	}
	purger.Start()
	defer func() { <-purger.Stop().Done() }()

	server := &http.Server{
		Addr:              cfg.Addr(),
		Handler:           api.SetupRoutes(handler, cfg.Server, cfg.Auth, logger),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       60 * time.Second,
		// Lookups can wait on several providers with retries.
		WriteTimeout: 2 * time.Minute,
		IdleTimeout:  120 * time.Second,
	}

	go func() {
		logger.Info("Server listening", "addr", server.Addr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("Server failed", "error", err)
			stop()
		}
	}()

	// Wait for interrupt signal to gracefully shutdown the server
	<-ctx.Done()
	logger.Info("Shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("Server forced to shutdown", "error", err)
	}
	logger.Info("Server stopped")
}
