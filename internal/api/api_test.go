package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/Zerr0-C00L/streamgate/internal/config"
	"github.com/Zerr0-C00L/streamgate/internal/database"
	"github.com/Zerr0-C00L/streamgate/internal/hashlist"
	"github.com/Zerr0-C00L/streamgate/internal/lookup"
	"github.com/Zerr0-C00L/streamgate/internal/providers"
	"github.com/Zerr0-C00L/streamgate/internal/release"
	"github.com/Zerr0-C00L/streamgate/internal/services"
	"github.com/Zerr0-C00L/streamgate/internal/services/streams"
	"github.com/Zerr0-C00L/streamgate/internal/settings"
)

const torrentioReply = `{"streams":[
 {"name":"[RD+] Torrentio\n1080p","title":"The.Matrix.1999.1080p.BluRay\n💾 8.5 GB","url":"https://rd/resolve/realdebrid/KEY/aaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa/null/0/b.mkv"},
 {"name":"[RD+] Torrentio\n720p","title":"The.Matrix.1999.720p\n💾 1.1 GB","url":"https://rd/resolve/realdebrid/KEY/cccccccccccccccccccccccccccccccccccccccc/null/1/c.mkv"}
]}`

type testServer struct {
	http       http.Handler
	upstream   *atomic.Int32 // status the fake addon answers with
	tmdbStatus *atomic.Int32
}

func newTestServer(t *testing.T, auth config.AuthConfig) *testServer {
	t.Helper()
	dir := t.TempDir()
	ts := &testServer{upstream: &atomic.Int32{}, tmdbStatus: &atomic.Int32{}}
	ts.upstream.Store(http.StatusOK)
	ts.tmdbStatus.Store(http.StatusOK)

	addon := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if code := int(ts.upstream.Load()); code != http.StatusOK {
			w.WriteHeader(code)
			return
		}
		_, _ = w.Write([]byte(torrentioReply))
	}))
	t.Cleanup(addon.Close)

	tmdb := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if code := int(ts.tmdbStatus.Load()); code != http.StatusOK {
			w.WriteHeader(code)
			return
		}
		if r.URL.Path == "/movie/603" {
			_, _ = w.Write([]byte(`{"id":603,"title":"The Matrix","release_date":"1999-03-30","imdb_id":"tt0133093"}`))
			return
		}
		w.WriteHeader(http.StatusNotFound)
	}))
	t.Cleanup(tmdb.Close)

	db, err := database.Connect(filepath.Join(dir, "streamgate.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	_, err = db.Migrate(context.Background())
	require.NoError(t, err)

	mgr, err := settings.NewManager(database.NewSettingsStore(db), settings.Settings{TTLHours: 24, Patterns: release.DefaultPatterns()})
	require.NoError(t, err)
	require.NoError(t, mgr.Load(context.Background()))

	streamStore := database.NewStreamStore(db, mgr)
	identityStore := database.NewIdentityStore(db)

	fetcher := providers.NewFetcher(providers.FetchConfig{Backoff: time.Millisecond}, nil, nil)
	mp := providers.NewMultiProvider([]providers.Provider{
		providers.NewTorrentioProvider(providers.Options{BaseURL: addon.URL}, fetcher),
	}, nil, nil)
	acq, err := providers.NewAcquirer(mgr, providers.AcquirerConfig{})
	require.NoError(t, err)

	hl, err := hashlist.NewStore(filepath.Join(dir, "hashlist"), hashlist.Options{Rules: mgr})
	require.NoError(t, err)
	table, err := lookup.NewEpisodeTable(filepath.Join(dir, "episode_lookup.json"))
	require.NoError(t, err)

	resolver := services.NewIdentityResolver(identityStore, services.NewTMDBClient("KEY").WithBaseURL(tmdb.URL), table, nil)

	h := NewHandler(Deps{
		DB:            db,
		StreamStore:   streamStore,
		IdentityStore: identityStore,
		Streams:       streams.NewStreamService(streamStore, mp, acq, hl, mgr, nil),
		Resolver:      resolver,
		Hashlist:      hl,
		Settings:      mgr,
	})
	ts.http = SetupRoutes(h, config.ServerConfig{CORSOrigins: []string{"*"}}, auth, nil)
	return ts
}

func (ts *testServer) do(t *testing.T, method, path, body string, mutate ...func(*http.Request)) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	for _, m := range mutate {
		m(req)
	}
	rec := httptest.NewRecorder()
	ts.http.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), rec.Body.String())
	return v
}

func TestGetStreams_FetchThenCache(t *testing.T) {
	ts := newTestServer(t, config.AuthConfig{})

	rec := ts.do(t, "GET", "/api/v1/streams/movie/tt0133093", "")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	res := decode[streams.Result](t, rec)
	assert.False(t, res.FromCache)
	require.Len(t, res.Streams, 2)
	assert.Equal(t, strings.Repeat("a", 40), res.Streams[0].Hash)
	assert.NotEmpty(t, rec.Header().Get("X-Request-ID"))

	rec = ts.do(t, "GET", "/api/v1/streams/movie/tt0133093", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, decode[streams.Result](t, rec).FromCache)

	rec = ts.do(t, "DELETE", "/api/v1/streams/movie/tt0133093", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.EqualValues(t, 2, decode[map[string]any](t, rec)["deleted"])
}

func TestGetStreams_InputErrors(t *testing.T) {
	ts := newTestServer(t, config.AuthConfig{})

	assert.Equal(t, http.StatusBadRequest, ts.do(t, "GET", "/api/v1/streams/music/tt1", "").Code)
	assert.Equal(t, http.StatusBadRequest, ts.do(t, "GET", "/api/v1/streams/series/tt0944947", "").Code)
	assert.Equal(t, http.StatusBadRequest, ts.do(t, "GET", "/api/v1/streams/series/tt0944947?season=x&episode=1", "").Code)
}

func TestGetStreams_UpstreamFailureIsNotAServerError(t *testing.T) {
	ts := newTestServer(t, config.AuthConfig{})
	ts.upstream.Store(http.StatusForbidden)

	rec := ts.do(t, "GET", "/api/v1/streams/series/tt0944947?season=1&episode=2", "")
	require.Equal(t, http.StatusOK, rec.Code)
	res := decode[streams.Result](t, rec)
	assert.Empty(t, res.Streams)
	assert.NotEmpty(t, res.ProviderError)
}

func TestAuth(t *testing.T) {
	hash, err := bcrypt.GenerateFromPassword([]byte("s3cret"), bcrypt.MinCost)
	require.NoError(t, err)
	ts := newTestServer(t, config.AuthConfig{APIKey: "key-1", Username: "admin", PasswordHash: string(hash)})

	assert.Equal(t, http.StatusOK, ts.do(t, "GET", "/api/v1/health", "").Code, "health stays open")
	assert.Equal(t, http.StatusUnauthorized, ts.do(t, "GET", "/api/v1/settings", "").Code)

	wrongKey := func(r *http.Request) { r.Header.Set("X-API-Key", "nope") }
	assert.Equal(t, http.StatusUnauthorized, ts.do(t, "GET", "/api/v1/settings", "", wrongKey).Code)

	rightKey := func(r *http.Request) { r.Header.Set("X-API-Key", "key-1") }
	assert.Equal(t, http.StatusOK, ts.do(t, "GET", "/api/v1/settings", "", rightKey).Code)

	basic := func(r *http.Request) { r.SetBasicAuth("admin", "s3cret") }
	assert.Equal(t, http.StatusOK, ts.do(t, "GET", "/api/v1/settings", "", basic).Code)

	badBasic := func(r *http.Request) { r.SetBasicAuth("admin", "guess") }
	rec := ts.do(t, "GET", "/api/v1/settings", "", badBasic)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Contains(t, rec.Header().Get("WWW-Authenticate"), "Basic")
}

func TestCORSPreflight(t *testing.T) {
	ts := newTestServer(t, config.AuthConfig{APIKey: "key-1"})

	rec := ts.do(t, "OPTIONS", "/api/v1/streams/movie/tt1", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "*", rec.Header().Get("Access-Control-Allow-Origin"))
	assert.Contains(t, rec.Header().Get("Access-Control-Allow-Headers"), "X-API-Key")
}

func TestCacheStatsAndDatabaseActions(t *testing.T) {
	ts := newTestServer(t, config.AuthConfig{})
	require.Equal(t, http.StatusOK, ts.do(t, "GET", "/api/v1/streams/movie/tt0133093", "").Code)

	rec := ts.do(t, "GET", "/api/v1/streams/cache/stats", "")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	stats := decode[map[string]any](t, rec)
	assert.Equal(t, "24h0m0s", stats["ttl"])
	assert.NotEmpty(t, stats["total_size"])
	assert.Contains(t, stats, "hashlist")

	rec = ts.do(t, "POST", "/api/v1/streams/cache/prune", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.EqualValues(t, 0, decode[map[string]any](t, rec)["deleted"], "nothing has expired yet")

	rec = ts.do(t, "POST", "/api/v1/database/clear-streams", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.EqualValues(t, 2, decode[map[string]any](t, rec)["rows"])

	assert.Equal(t, http.StatusOK, ts.do(t, "POST", "/api/v1/database/vacuum", "").Code)
	assert.Equal(t, http.StatusBadRequest, ts.do(t, "POST", "/api/v1/database/drop-everything", "").Code)
}

func TestIdentityRoutes(t *testing.T) {
	ts := newTestServer(t, config.AuthConfig{})

	rec := ts.do(t, "GET", "/api/v1/identity/movie/603", "")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "tt0133093", decode[map[string]any](t, rec)["external_id"])

	assert.Equal(t, http.StatusNotFound, ts.do(t, "GET", "/api/v1/identity/movie/999", "").Code)
	assert.Equal(t, http.StatusBadRequest, ts.do(t, "GET", "/api/v1/identity/movie/abc", "").Code)
	assert.Equal(t, http.StatusNotFound, ts.do(t, "GET", "/api/v1/identity/episode/63056", "").Code)

	ts.tmdbStatus.Store(http.StatusBadGateway)
	rec = ts.do(t, "GET", "/api/v1/identity/movie/604", "")
	assert.Equal(t, http.StatusFailedDependency, rec.Code)
	assert.Equal(t, "upstream unavailable", decode[map[string]string](t, rec)["error"])
}

func TestHashlistRoutes(t *testing.T) {
	ts := newTestServer(t, config.AuthConfig{})
	body := `{"hash":"` + strings.Repeat("A", 40) + `","filename":"The.Matrix.1999.1080p.mkv","bytes":1024,"external_id":"tt0133093","media_type":"movie"}`

	rec := ts.do(t, "POST", "/api/v1/hashlist", body)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, true, decode[map[string]bool](t, rec)["accepted"])
	assert.Equal(t, http.StatusOK, ts.do(t, "POST", "/api/v1/hashlist", body).Code)
	assert.Equal(t, http.StatusBadRequest, ts.do(t, "POST", "/api/v1/hashlist", `{"hash":"zz"}`).Code)

	rec = ts.do(t, "GET", "/api/v1/hashlist/tt0133093", "")
	require.Equal(t, http.StatusOK, rec.Code)
	entries := decode[[]map[string]any](t, rec)
	require.Len(t, entries, 1)
	assert.EqualValues(t, 2, entries[0]["use_count"])

	rec = ts.do(t, "GET", "/api/v1/hashlist/tt404", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "[]\n", rec.Body.String())

	rec = ts.do(t, "GET", "/api/v1/hashlist/export", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.NotEmpty(t, rec.Body.String())

	blob, err := hashlist.GzipCompressor{}.Compress(context.Background(),
		`[{"hash":"`+strings.Repeat("b", 40)+`","filename":"x.mkv","bytes":1},{"hash":"bad","filename":"y","bytes":1}]`)
	require.NoError(t, err)
	rec = ts.do(t, "POST", "/api/v1/hashlist/import", blob)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.EqualValues(t, 1, decode[map[string]any](t, rec)["imported"])

	assert.Equal(t, http.StatusBadRequest, ts.do(t, "POST", "/api/v1/hashlist/import", "").Code)
}

func TestRecordPlaybackRoute(t *testing.T) {
	ts := newTestServer(t, config.AuthConfig{})
	rec := ts.do(t, "GET", "/api/v1/streams/movie/tt0133093", "")
	require.Equal(t, http.StatusOK, rec.Code)
	res := decode[streams.Result](t, rec)
	require.NotEmpty(t, res.Streams)

	played, err := json.Marshal(res.Streams[0])
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, ts.do(t, "POST", "/api/v1/streams/played", string(played)).Code)

	rec = ts.do(t, "GET", "/api/v1/hashlist/tt0133093", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decode[[]map[string]any](t, rec), 1)
}

func TestSettingsRoutes(t *testing.T) {
	ts := newTestServer(t, config.AuthConfig{})

	rec := ts.do(t, "PUT", "/api/v1/settings", `{"ttl_hours":6}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.EqualValues(t, 6, decode[map[string]any](t, rec)["ttl_hours"])

	rec = ts.do(t, "GET", "/api/v1/streams/cache/stats", "")
	assert.Equal(t, "6h0m0s", decode[map[string]any](t, rec)["ttl"])

	assert.Equal(t, http.StatusBadRequest, ts.do(t, "PUT", "/api/v1/settings", `{"ttl_hours":0}`).Code)
	assert.Equal(t, http.StatusBadRequest, ts.do(t, "PUT", "/api/v1/settings", `not json`).Code)
}

func TestUnknownRoute(t *testing.T) {
	ts := newTestServer(t, config.AuthConfig{})
	rec := ts.do(t, "GET", "/api/v1/nope", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "not found", decode[map[string]string](t, rec)["error"])
}
