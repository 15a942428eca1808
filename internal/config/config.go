package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/spf13/viper"

	"github.com/Zerr0-C00L/streamgate/internal/hashlist"
	"github.com/Zerr0-C00L/streamgate/internal/models"
	"github.com/Zerr0-C00L/streamgate/internal/providers"
	"github.com/Zerr0-C00L/streamgate/internal/release"
)

// EnvPrefix namespaces environment overrides, e.g. STREAMGATE_SERVER_PORT.
const EnvPrefix = "STREAMGATE"

type Config struct {
	Server     ServerConfig     `mapstructure:"server"`
	Database   DatabaseConfig   `mapstructure:"database"`
	DataDir    string           `mapstructure:"data_dir"`
	Auth       AuthConfig       `mapstructure:"auth"`
	TMDB       TMDBConfig       `mapstructure:"tmdb"`
	RealDebrid RealDebridConfig `mapstructure:"realdebrid"`
	Streams    StreamsConfig    `mapstructure:"streams"`
	Providers  []ProviderConfig `mapstructure:"providers"`
	Fetch      FetchConfig      `mapstructure:"fetch"`
	// Patterns and Streams.TTLHours only seed the persisted runtime
	// settings; once a row exists it takes precedence over these values.
	Patterns   release.Patterns `mapstructure:"patterns"`
	Hashlist   HashlistConfig   `mapstructure:"hashlist"`
	Logging    LoggingConfig    `mapstructure:"logging"`
}

type ServerConfig struct {
	Host        string   `mapstructure:"host"`
	Port        int      `mapstructure:"port"`
	CORSOrigins []string `mapstructure:"cors_origins"`
}

type DatabaseConfig struct {
	// URL is a sqlite file path or a postgres:// DSN.
	URL string `mapstructure:"url"`
}

// AuthConfig protects the API. With nothing set the API is open.
type AuthConfig struct {
	APIKey       string `mapstructure:"api_key"`
	Username     string `mapstructure:"username"`
	PasswordHash string `mapstructure:"password_hash"` // bcrypt
}

func (a AuthConfig) Enabled() bool {
	return a.APIKey != "" || (a.Username != "" && a.PasswordHash != "")
}

type TMDBConfig struct {
	APIKey string `mapstructure:"api_key"`
}

type RealDebridConfig struct {
	APIKey string `mapstructure:"api_key"`
}

type StreamsConfig struct {
	TTLHours             int      `mapstructure:"ttl_hours"`
	PruneSchedule        string   `mapstructure:"prune_schedule"`
	ResponseCacheMinutes int      `mapstructure:"response_cache_minutes"`
	CachedMarkers        []string `mapstructure:"cached_markers"`
	ResolvePattern       string   `mapstructure:"resolve_pattern"`
}

func (s StreamsConfig) TTL() time.Duration {
	return time.Duration(s.TTLHours) * time.Hour
}

// ProviderConfig is one entry of the provider list. List order is priority.
type ProviderConfig struct {
	Name           string   `mapstructure:"name"`
	Kind           string   `mapstructure:"kind"`
	URL            string   `mapstructure:"url"`
	Indexers       []string `mapstructure:"indexers"`
	TimeoutSeconds int      `mapstructure:"timeout_seconds"`
	Enabled        bool     `mapstructure:"enabled"`
}

type FetchConfig struct {
	UserAgent        string   `mapstructure:"user_agent"`
	ChallengeMarkers []string `mapstructure:"challenge_markers"`
	MaxRetries       int      `mapstructure:"max_retries"`
	BackoffMillis    int      `mapstructure:"backoff_ms"`
}

type HashlistConfig struct {
	ShardCacheSize     int      `mapstructure:"shard_cache_size"`
	StrictEpisodeMatch bool     `mapstructure:"strict_episode_match"`
	CompressorCommand  string   `mapstructure:"compressor_command"`
	CompressorArgs     []string `mapstructure:"compressor_args"`
}

type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"` // text or json
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Host:        "0.0.0.0",
			Port:        8080,
			CORSOrigins: []string{"*"},
		},
		Database: DatabaseConfig{URL: filepath.Join("data", "streamgate.db")},
		DataDir:  "data",
		Streams: StreamsConfig{
			TTLHours:             24,
			PruneSchedule:        "@every 1h",
			ResponseCacheMinutes: 30,
			CachedMarkers:        providers.DefaultCachedMarkers(),
			ResolvePattern:       providers.DefaultResolvePattern,
		},
		Providers: []ProviderConfig{
			{Name: "Torrentio", Kind: providers.KindTorrentio, TimeoutSeconds: 15, Enabled: true},
			{Name: "Comet", Kind: providers.KindComet, TimeoutSeconds: 15, Enabled: true},
			{Name: "MediaFusion", Kind: providers.KindMediaFusion, TimeoutSeconds: 15, Enabled: true},
		},
		Fetch: FetchConfig{
			ChallengeMarkers: providers.DefaultChallengeMarkers(),
			MaxRetries:       2,
			BackoffMillis:    500,
		},
		Patterns: release.DefaultPatterns(),
		Hashlist: HashlistConfig{ShardCacheSize: hashlist.MaxShardCache},
		Logging:  LoggingConfig{Level: "info", Format: "text"},
	}
}

// scalar keys get viper defaults so STREAMGATE_* variables can override them
func setDefaults(v *viper.Viper, cfg *Config) {
	v.SetDefault("server.host", cfg.Server.Host)
	v.SetDefault("server.port", cfg.Server.Port)
	v.SetDefault("database.url", cfg.Database.URL)
	v.SetDefault("data_dir", cfg.DataDir)
	v.SetDefault("auth.api_key", cfg.Auth.APIKey)
	v.SetDefault("auth.username", cfg.Auth.Username)
	v.SetDefault("auth.password_hash", cfg.Auth.PasswordHash)
	v.SetDefault("tmdb.api_key", cfg.TMDB.APIKey)
	v.SetDefault("realdebrid.api_key", cfg.RealDebrid.APIKey)
	v.SetDefault("streams.ttl_hours", cfg.Streams.TTLHours)
	v.SetDefault("streams.prune_schedule", cfg.Streams.PruneSchedule)
	v.SetDefault("streams.response_cache_minutes", cfg.Streams.ResponseCacheMinutes)
	v.SetDefault("streams.resolve_pattern", cfg.Streams.ResolvePattern)
	v.SetDefault("fetch.user_agent", cfg.Fetch.UserAgent)
	v.SetDefault("fetch.max_retries", cfg.Fetch.MaxRetries)
	v.SetDefault("fetch.backoff_ms", cfg.Fetch.BackoffMillis)
	v.SetDefault("hashlist.shard_cache_size", cfg.Hashlist.ShardCacheSize)
	v.SetDefault("hashlist.strict_episode_match", cfg.Hashlist.StrictEpisodeMatch)
	v.SetDefault("hashlist.compressor_command", cfg.Hashlist.CompressorCommand)
	v.SetDefault("logging.level", cfg.Logging.Level)
	v.SetDefault("logging.format", cfg.Logging.Format)
}

// Load reads defaults, then the config file, then environment overrides.
// An empty path searches ./streamgate.{yaml,toml,json} and /etc/streamgate;
// a missing file is not an error unless path was given explicitly.
func Load(path string) (*Config, error) {
	cfg := Default()
	v := viper.New()
	setDefaults(v, cfg)

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("streamgate")
		v.AddConfigPath(".")
		v.AddConfigPath("/etc/streamgate")
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("error parsing config: %w", err)
	}

	applyLegacyEnv(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applyLegacyEnv honours the unprefixed variables older .env files use.
func applyLegacyEnv(cfg *Config) {
	if os.Getenv(EnvPrefix+"_DATABASE_URL") == "" {
		cfg.Database.URL = getEnv("DATABASE_URL", cfg.Database.URL)
	}
	if cfg.TMDB.APIKey == "" {
		cfg.TMDB.APIKey = getEnv("TMDB_API_KEY", "")
	}
	if cfg.RealDebrid.APIKey == "" {
		cfg.RealDebrid.APIKey = getEnv("REALDEBRID_API_KEY", "")
	}
}

// Validate rejects settings the services cannot run with.
func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port %d out of range: %w", c.Server.Port, models.ErrInvalidInput)
	}
	if strings.TrimSpace(c.Database.URL) == "" {
		return fmt.Errorf("database.url is required: %w", models.ErrInvalidInput)
	}
	if strings.TrimSpace(c.DataDir) == "" {
		return fmt.Errorf("data_dir is required: %w", models.ErrInvalidInput)
	}
	if c.Streams.TTLHours <= 0 {
		return fmt.Errorf("streams.ttl_hours must be positive: %w", models.ErrInvalidInput)
	}
	if _, err := cron.ParseStandard(c.Streams.PruneSchedule); err != nil {
		return fmt.Errorf("streams.prune_schedule %q: %w: %v", c.Streams.PruneSchedule, models.ErrInvalidInput, err)
	}
	if c.Hashlist.ShardCacheSize < 1 || c.Hashlist.ShardCacheSize > hashlist.MaxShardCache {
		return fmt.Errorf("hashlist.shard_cache_size must be between 1 and %d: %w", hashlist.MaxShardCache, models.ErrInvalidInput)
	}
	if _, err := release.Compile(c.Patterns); err != nil {
		return fmt.Errorf("patterns: %w", err)
	}
	for i, p := range c.Providers {
		switch strings.ToLower(p.Kind) {
		case providers.KindTorrentio, providers.KindComet, providers.KindMediaFusion:
		case providers.KindStremio, "generic":
			if p.URL == "" {
				return fmt.Errorf("providers[%d] %q needs a url: %w", i, p.Name, models.ErrInvalidInput)
			}
		default:
			return fmt.Errorf("providers[%d] has unknown kind %q: %w", i, p.Kind, models.ErrInvalidInput)
		}
	}
	return nil
}

// HashlistDir, EpisodeLookupPath and ResponseCachePath lay out the data dir.
func (c *Config) HashlistDir() string       { return filepath.Join(c.DataDir, "hashlist") }
func (c *Config) EpisodeLookupPath() string { return filepath.Join(c.DataDir, "episode_lookup.json") }
func (c *Config) ResponseCachePath() string { return filepath.Join(c.DataDir, "responses.db") }

func (c *Config) Addr() string {
	return fmt.Sprintf("%s:%d", c.Server.Host, c.Server.Port)
}

// Logger builds the process logger from the logging section.
func (l LoggingConfig) Logger(w io.Writer) *slog.Logger {
	level := slog.LevelInfo
	switch strings.ToLower(l.Level) {
	case "debug":
		level = slog.LevelDebug
	case "warn", "warning":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}
	opts := &slog.HandlerOptions{Level: level}
	if strings.EqualFold(l.Format, "json") {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}

// getEnv returns the value of an environment variable or a default value
func getEnv(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}
