// Package app wires configuration into the running components shared by
// the server, the worker and streamctl.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/Zerr0-C00L/streamgate/internal/config"
	"github.com/Zerr0-C00L/streamgate/internal/database"
	"github.com/Zerr0-C00L/streamgate/internal/hashlist"
	"github.com/Zerr0-C00L/streamgate/internal/lookup"
	"github.com/Zerr0-C00L/streamgate/internal/providers"
	"github.com/Zerr0-C00L/streamgate/internal/services"
	"github.com/Zerr0-C00L/streamgate/internal/services/streams"
	"github.com/Zerr0-C00L/streamgate/internal/settings"
)

// App holds every long-lived component built from one Config.
type App struct {
	Config *config.Config
	Logger *slog.Logger

	DB            *database.DB
	StreamStore   *database.StreamStore
	IdentityStore *database.IdentityStore
	Settings      *settings.Manager

	Fetcher       *providers.Fetcher
	Providers     *providers.MultiProvider
	ResponseCache *providers.ResponseCache
	Acquirer      *providers.Acquirer

	Hashlist *hashlist.Store
	Episodes *lookup.EpisodeTable
	TMDB     *services.TMDBClient
	Resolver *services.IdentityResolver
	Streams  *streams.StreamService
}

// Option adjusts how New wires the App.
type Option func(*options)

type options struct {
	skipResponseCache bool
}

// WithoutResponseCache leaves the provider response cache closed. The bbolt
// file takes an exclusive lock, so only the long-running server should hold
// it; the worker and streamctl run beside it on the same data dir.
func WithoutResponseCache() Option {
	return func(o *options) { o.skipResponseCache = true }
}

// New connects the database, applies migrations and builds the services.
// The caller owns the returned App and must Close it.
func New(ctx context.Context, cfg *config.Config, logger *slog.Logger, opts ...Option) (*App, error) {
	if logger == nil {
		logger = slog.Default()
	}
	var o options
	for _, opt := range opts {
		opt(&o)
	}
	a := &App{Config: cfg, Logger: logger}

	db, err := database.Connect(cfg.Database.URL)
	if err != nil {
		return nil, fmt.Errorf("connect database: %w", err)
	}
	a.DB = db

	applied, err := db.Migrate(ctx)
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("migrate database: %w", err)
	}
	if applied > 0 {
		logger.Info("[DB] applied migrations", "count", applied, "dialect", db.Dialect())
	}

	a.Settings, err = settings.NewManager(database.NewSettingsStore(db), settings.Settings{
		TTLHours: cfg.Streams.TTLHours,
		Patterns: cfg.Patterns,
	})
	if err != nil {
		a.Close()
		return nil, err
	}
	if err := a.Settings.Load(ctx); err != nil {
		logger.Warn("[SETTINGS] could not load persisted settings, using config values", "error", err)
	} else if fields := a.Settings.ConfigOverrides(); len(fields) > 0 {
		logger.Warn("[SETTINGS] persisted runtime settings override the config file; change them through the settings API",
			"fields", fields)
	}

	a.StreamStore = database.NewStreamStore(db, a.Settings)
	a.IdentityStore = database.NewIdentityStore(db)

	if err := a.buildProviders(o); err != nil {
		a.Close()
		return nil, err
	}

	a.Acquirer, err = providers.NewAcquirer(a.Settings, providers.AcquirerConfig{
		CachedMarkers:  cfg.Streams.CachedMarkers,
		ResolvePattern: cfg.Streams.ResolvePattern,
	})
	if err != nil {
		a.Close()
		return nil, err
	}

	a.Hashlist, err = hashlist.NewStore(cfg.HashlistDir(), hashlist.Options{
		ShardCacheSize:     cfg.Hashlist.ShardCacheSize,
		StrictEpisodeMatch: cfg.Hashlist.StrictEpisodeMatch,
		Compressor:         compressorFor(cfg.Hashlist),
		Rules:              a.Settings,
		Logger:             logger,
	})
	if err != nil {
		a.Close()
		return nil, err
	}

	a.Episodes, err = lookup.NewEpisodeTable(cfg.EpisodeLookupPath())
	if err != nil {
		a.Close()
		return nil, err
	}

	a.TMDB = services.NewTMDBClient(cfg.TMDB.APIKey)
	if cfg.TMDB.APIKey == "" {
		logger.Warn("[IDENTITY] no TMDB API key configured, identity misses will fail")
	}
	a.Resolver = services.NewIdentityResolver(a.IdentityStore, a.TMDB, a.Episodes, logger)
	a.Streams = streams.NewStreamService(a.StreamStore, a.Providers, a.Acquirer, a.Hashlist, a.Settings, logger)
	return a, nil
}

func (a *App) buildProviders(o options) error {
	cfg := a.Config
	a.Fetcher = providers.NewFetcher(providers.FetchConfig{
		UserAgent:        cfg.Fetch.UserAgent,
		ChallengeMarkers: cfg.Fetch.ChallengeMarkers,
		MaxRetries:       cfg.Fetch.MaxRetries,
		Backoff:          time.Duration(cfg.Fetch.BackoffMillis) * time.Millisecond,
	}, nil, a.Logger)

	var list []providers.Provider
	for _, pc := range cfg.Providers {
		if !pc.Enabled {
			continue
		}
		p, err := providers.New(pc.Kind, providers.Options{
			Name:      pc.Name,
			BaseURL:   pc.URL,
			DebridKey: cfg.RealDebrid.APIKey,
			Indexers:  pc.Indexers,
			Timeout:   time.Duration(pc.TimeoutSeconds) * time.Second,
		}, a.Fetcher)
		if err != nil {
			return err
		}
		list = append(list, p)
	}
	if len(list) == 0 {
		a.Logger.Warn("[PROVIDER] no providers enabled, lookups will only serve the cache")
	}

	if cfg.Streams.ResponseCacheMinutes > 0 && !o.skipResponseCache {
		rc, err := providers.OpenResponseCache(cfg.ResponseCachePath(), time.Duration(cfg.Streams.ResponseCacheMinutes)*time.Minute)
		if err != nil {
			// Another process holds the file; lookups still work uncached.
			a.Logger.Warn("[CACHE] response cache unavailable, continuing without it", "path", cfg.ResponseCachePath(), "error", err)
		} else {
			a.ResponseCache = rc
		}
	}
	a.Providers = providers.NewMultiProvider(list, a.ResponseCache, a.Logger)
	a.Logger.Info("[PROVIDER] providers configured", "order", a.Providers.Names())
	return nil
}

func compressorFor(cfg config.HashlistConfig) hashlist.Compressor {
	if cfg.CompressorCommand == "" {
		return hashlist.GzipCompressor{}
	}
	return hashlist.ExecCompressor{Command: cfg.CompressorCommand, Args: cfg.CompressorArgs}
}

// PruneResult reports one maintenance pass.
type PruneResult struct {
	Streams   int64
	Responses int
}

// Prune drops stream records older than the current TTL and, when this App
// holds the response cache, expired provider replies.
func (a *App) Prune(ctx context.Context) (PruneResult, error) {
	var res PruneResult
	n, err := a.StreamStore.PruneExpired(ctx, a.Settings.StreamTTL())
	if err != nil {
		return res, err
	}
	res.Streams = n
	if a.ResponseCache != nil {
		if res.Responses, err = a.ResponseCache.Purge(); err != nil {
			return res, err
		}
	}
	return res, nil
}

// Close releases the database and the response cache.
func (a *App) Close() error {
	var errs []error
	if a.ResponseCache != nil {
		errs = append(errs, a.ResponseCache.Close())
	}
	if a.DB != nil {
		errs = append(errs, a.DB.Close())
	}
	return errors.Join(errs...)
}
