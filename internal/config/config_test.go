package config

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Zerr0-C00L/streamgate/internal/models"
)

func writeFile(t *testing.T, name, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestDefault_IsValid(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, 24, cfg.Streams.TTLHours)
	assert.Equal(t, 5, cfg.Hashlist.ShardCacheSize)
	assert.Len(t, cfg.Providers, 3)
	assert.NotEmpty(t, cfg.Patterns.Quality)
	assert.Equal(t, "0.0.0.0:8080", cfg.Addr())
}

func TestLoad_FileOverridesDefaults(t *testing.T) {
	path := writeFile(t, "streamgate.yaml", `
server:
  port: 9090
data_dir: /var/lib/streamgate
streams:
  ttl_hours: 6
providers:
  - name: Mine
    kind: stremio
    url: https://addon.example/manifest.json
    enabled: true
hashlist:
  shard_cache_size: 3
  strict_episode_match: true
`)
	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 9090, cfg.Server.Port)
	assert.Equal(t, "0.0.0.0", cfg.Server.Host)
	assert.Equal(t, 6, cfg.Streams.TTLHours)
	require.Len(t, cfg.Providers, 1)
	assert.Equal(t, "Mine", cfg.Providers[0].Name)
	assert.Equal(t, 3, cfg.Hashlist.ShardCacheSize)
	assert.True(t, cfg.Hashlist.StrictEpisodeMatch)
	assert.Equal(t, filepath.Join("/var/lib/streamgate", "hashlist"), cfg.HashlistDir())
}

func TestLoad_EnvOverridesFile(t *testing.T) {
	path := writeFile(t, "streamgate.yaml", "server:\n  port: 9090\n")
	t.Setenv("STREAMGATE_SERVER_PORT", "7070")
	t.Setenv("STREAMGATE_TMDB_API_KEY", "tmdb-key")
	t.Setenv("DATABASE_URL", "postgres://u:p@db/streams")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 7070, cfg.Server.Port)
	assert.Equal(t, "tmdb-key", cfg.TMDB.APIKey)
	assert.Equal(t, "postgres://u:p@db/streams", cfg.Database.URL)
}

func TestLoad_RejectsInvalid(t *testing.T) {
	cases := map[string]string{
		"shard cache too large": "hashlist:\n  shard_cache_size: 6\n",
		"ttl zero":              "streams:\n  ttl_hours: 0\n",
		"unknown provider":      "providers:\n  - name: x\n    kind: ftp\n",
		"generic without url":   "providers:\n  - name: x\n    kind: stremio\n",
		"bad prune schedule":    "streams:\n  prune_schedule: every now and then\n",
		"bad quality pattern":   "patterns:\n  quality_rules:\n    - pattern: \"(\"\n      tag: 1080P\n",
	}
	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := Load(writeFile(t, "streamgate.yaml", body))
			assert.ErrorIs(t, err, models.ErrInvalidInput)
		})
	}
}

func TestLoad_ExplicitMissingFileFails(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}

func TestLoggingConfig_Logger(t *testing.T) {
	var buf bytes.Buffer
	logger := LoggingConfig{Level: "warn", Format: "json"}.Logger(&buf)
	logger.Info("hidden")
	logger.Warn("shown", "key", "value")
	assert.NotContains(t, buf.String(), "hidden")
	assert.Contains(t, buf.String(), `"msg":"shown"`)
}

func TestAuthConfig_Enabled(t *testing.T) {
	assert.False(t, AuthConfig{}.Enabled())
	assert.False(t, AuthConfig{Username: "admin"}.Enabled())
	assert.True(t, AuthConfig{APIKey: "k"}.Enabled())
	assert.True(t, AuthConfig{Username: "admin", PasswordHash: "$2a$10$x"}.Enabled())
}
