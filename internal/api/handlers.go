package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/gorilla/mux"

	"github.com/Zerr0-C00L/streamgate/internal/database"
	"github.com/Zerr0-C00L/streamgate/internal/hashlist"
	"github.com/Zerr0-C00L/streamgate/internal/models"
	"github.com/Zerr0-C00L/streamgate/internal/services"
	"github.com/Zerr0-C00L/streamgate/internal/services/streams"
	"github.com/Zerr0-C00L/streamgate/internal/settings"
)

// maxBodyBytes caps request bodies, hashlist imports included.
const maxBodyBytes = 32 << 20

type Handler struct {
	db            *database.DB
	streamStore   *database.StreamStore
	identityStore *database.IdentityStore
	streams       *streams.StreamService
	resolver      *services.IdentityResolver
	hashlist      *hashlist.Store
	settings      *settings.Manager
	logger        *slog.Logger
	now           func() time.Time
}

// Deps are the components the handlers serve.
type Deps struct {
	DB            *database.DB
	StreamStore   *database.StreamStore
	IdentityStore *database.IdentityStore
	Streams       *streams.StreamService
	Resolver      *services.IdentityResolver
	Hashlist      *hashlist.Store
	Settings      *settings.Manager
	Logger        *slog.Logger
}

func NewHandler(d Deps) *Handler {
	logger := d.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{
		db:            d.DB,
		streamStore:   d.StreamStore,
		identityStore: d.IdentityStore,
		streams:       d.Streams,
		resolver:      d.Resolver,
		hashlist:      d.Hashlist,
		settings:      d.Settings,
		logger:        logger,
		now:           time.Now,
	}
}

// Response helpers
func respondJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, map[string]string{"error": message})
}

// statusFor maps the error taxonomy onto HTTP. Upstream failures are
// reported as 424 so a flaky provider never looks like a server fault.
func statusFor(err error) int {
	switch {
	case errors.Is(err, models.ErrInvalidInput):
		return http.StatusBadRequest
	case errors.Is(err, models.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, models.ErrUpstreamBlocked),
		errors.Is(err, models.ErrUpstreamUnavailable),
		errors.Is(err, models.ErrNoResults):
		return http.StatusFailedDependency
	default:
		return http.StatusInternalServerError
	}
}

func (h *Handler) fail(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	msg := err.Error()
	switch status {
	case http.StatusInternalServerError:
		h.logger.Error("[HTTP] request failed", "id", RequestID(r.Context()), "path", r.URL.Path, "error", err)
		msg = "internal error"
	case http.StatusFailedDependency:
		msg = "upstream " + models.UpstreamErrorKind(err)
	}
	respondError(w, status, msg)
}

func decodeBody(r *http.Request, v any) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("decode body: %w: %v", models.ErrInvalidInput, err)
	}
	return nil
}

func optionalInt(r *http.Request, name string) (*int, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return nil, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil || v < 0 {
		return nil, fmt.Errorf("%s %q: %w", name, raw, models.ErrInvalidInput)
	}
	return &v, nil
}

func pathInt(r *http.Request, name string) (int, error) {
	raw := mux.Vars(r)[name]
	v, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("%s %q: %w", name, raw, models.ErrInvalidInput)
	}
	return v, nil
}

// contentKey reads {type}/{id} plus ?season=&episode=.
func contentKey(r *http.Request) (models.ContentKey, error) {
	vars := mux.Vars(r)
	key := models.ContentKey{
		ContentID: strings.TrimSpace(vars["id"]),
		MediaType: strings.ToLower(vars["type"]),
	}
	var err error
	if key.Season, err = optionalInt(r, "season"); err != nil {
		return key, err
	}
	if key.Episode, err = optionalInt(r, "episode"); err != nil {
		return key, err
	}
	return key, key.Validate()
}

func truthy(v string) bool {
	switch strings.ToLower(v) {
	case "1", "true", "yes":
		return true
	}
	return false
}

// HealthCheck handles GET /api/v1/health
func (h *Handler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	if err := h.db.Health(r.Context()); err != nil {
		h.logger.Error("[HTTP] health check failed", "error", err)
		respondJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unhealthy"})
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{
		"status":  "healthy",
		"dialect": string(h.db.Dialect()),
	})
}

// GetStreams handles GET /api/v1/streams/{type}/{id}
func (h *Handler) GetStreams(w http.ResponseWriter, r *http.Request) {
	key, err := contentKey(r)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	res, err := h.streams.Lookup(r.Context(), key, streams.LookupOptions{Refresh: truthy(r.URL.Query().Get("refresh"))})
	if err != nil {
		h.fail(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, res)
}

// DeleteStreams handles DELETE /api/v1/streams/{type}/{id}
func (h *Handler) DeleteStreams(w http.ResponseWriter, r *http.Request) {
	key, err := contentKey(r)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	n, err := h.streamStore.DeleteKey(r.Context(), key)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"key": key.String(), "deleted": n})
}

// RecordPlayback handles POST /api/v1/streams/played
func (h *Handler) RecordPlayback(w http.ResponseWriter, r *http.Request) {
	var record models.StreamRecord
	if err := decodeBody(r, &record); err != nil {
		h.fail(w, r, err)
		return
	}
	if err := h.streams.RecordPlayback(r.Context(), record); err != nil {
		h.fail(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"status": "recorded"})
}

type cacheStats struct {
	Streams    *database.StreamStats `json:"streams"`
	TotalSize  string                `json:"total_size"`
	OldestAge  string                `json:"oldest_age,omitempty"`
	NewestAge  string                `json:"newest_age,omitempty"`
	TTL        string                `json:"ttl"`
	Hashlist   hashlist.Stats        `json:"hashlist"`
	Identities map[string]int        `json:"identities"`
}

// CacheStats handles GET /api/v1/streams/cache/stats
func (h *Handler) CacheStats(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	st, err := h.streamStore.Stats(ctx)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	out := cacheStats{
		Streams:   st,
		TotalSize: humanize.IBytes(uint64(max(st.TotalBytes, 0))),
		TTL:       h.settings.StreamTTL().String(),
	}
	if st.Oldest != nil {
		out.OldestAge = humanize.RelTime(*st.Oldest, h.now(), "ago", "from now")
	}
	if st.Newest != nil {
		out.NewestAge = humanize.RelTime(*st.Newest, h.now(), "ago", "from now")
	}

	if h.hashlist != nil {
		if out.Hashlist, err = h.hashlist.Stats(); err != nil {
			h.fail(w, r, err)
			return
		}
	}
	movies, episodes, err := h.identityStore.Counts(ctx)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	out.Identities = map[string]int{"movies": movies, "episodes": episodes}
	respondJSON(w, http.StatusOK, out)
}

// PruneCache handles POST /api/v1/streams/cache/prune
func (h *Handler) PruneCache(w http.ResponseWriter, r *http.Request) {
	n, err := h.streamStore.PruneExpired(r.Context(), h.settings.StreamTTL())
	if err != nil {
		h.fail(w, r, err)
		return
	}
	h.logger.Info("[CACHE] pruned expired streams", "deleted", n)
	respondJSON(w, http.StatusOK, map[string]any{"deleted": n})
}

// ResolveMovie handles GET /api/v1/identity/movie/{id}
func (h *Handler) ResolveMovie(w http.ResponseWriter, r *http.Request) {
	id, err := pathInt(r, "id")
	if err != nil {
		h.fail(w, r, err)
		return
	}
	m, err := h.resolver.ResolveMovie(r.Context(), id)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, m)
}

// ResolveEpisode handles GET /api/v1/identity/episode/{id}
func (h *Handler) ResolveEpisode(w http.ResponseWriter, r *http.Request) {
	id, err := pathInt(r, "id")
	if err != nil {
		h.fail(w, r, err)
		return
	}
	e, err := h.resolver.ResolveEpisode(r.Context(), id)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, e)
}

// IndexSeason handles POST /api/v1/identity/series/{id}/season/{season}
func (h *Handler) IndexSeason(w http.ResponseWriter, r *http.Request) {
	seriesID, err := pathInt(r, "id")
	if err != nil {
		h.fail(w, r, err)
		return
	}
	season, err := pathInt(r, "season")
	if err != nil {
		h.fail(w, r, err)
		return
	}
	n, err := h.resolver.IndexSeason(r.Context(), seriesID, season)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]int{"series_id": seriesID, "season": season, "indexed": n})
}

// FindHashes handles GET /api/v1/hashlist/{external_id}
func (h *Handler) FindHashes(w http.ResponseWriter, r *http.Request) {
	season, err := optionalInt(r, "season")
	if err != nil {
		h.fail(w, r, err)
		return
	}
	episode, err := optionalInt(r, "episode")
	if err != nil {
		h.fail(w, r, err)
		return
	}
	entries, err := h.hashlist.FindByExternalID(mux.Vars(r)["external_id"], season, episode)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	if entries == nil {
		entries = []models.HashlistEntry{}
	}
	respondJSON(w, http.StatusOK, entries)
}

// AddHash handles POST /api/v1/hashlist
func (h *Handler) AddHash(w http.ResponseWriter, r *http.Request) {
	var entry models.HashlistEntry
	if err := decodeBody(r, &entry); err != nil {
		h.fail(w, r, err)
		return
	}
	accepted, err := h.hashlist.AddHash(entry)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]bool{"accepted": accepted})
}

// ExportHashlist handles GET /api/v1/hashlist/export
func (h *Handler) ExportHashlist(w http.ResponseWriter, r *http.Request) {
	blob, err := h.hashlist.ExportCompressed(r.Context())
	if err != nil {
		h.fail(w, r, err)
		return
	}
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.Header().Set("Content-Disposition", `attachment; filename="hashlist.txt"`)
	_, _ = io.WriteString(w, blob)
}

// ImportHashlist handles POST /api/v1/hashlist/import
func (h *Handler) ImportHashlist(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		h.fail(w, r, fmt.Errorf("read body: %w: %v", models.ErrInvalidInput, err))
		return
	}
	n, err := h.hashlist.ImportCompressed(r.Context(), strings.TrimSpace(string(body)))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	h.logger.Info("[HASHLIST] imported", "entries", n)
	respondJSON(w, http.StatusOK, map[string]int{"imported": n})
}

// GetSettings handles GET /api/v1/settings
func (h *Handler) GetSettings(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, h.settings.Get())
}

// UpdateSettings handles PUT /api/v1/settings. The body may carry any
// subset of the settings fields.
func (h *Handler) UpdateSettings(w http.ResponseWriter, r *http.Request) {
	var updates map[string]any
	if err := decodeBody(r, &updates); err != nil {
		h.fail(w, r, err)
		return
	}
	if err := h.settings.UpdatePartial(r.Context(), updates); err != nil {
		h.fail(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, h.settings.Get())
}

// DatabaseAction handles POST /api/v1/database/{action}
func (h *Handler) DatabaseAction(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	action := mux.Vars(r)["action"]

	var (
		n   int64
		err error
	)
	switch action {
	case "prune":
		n, err = h.streamStore.PruneExpired(ctx, h.settings.StreamTTL())
	case "vacuum":
		err = h.db.Vacuum(ctx)
	case "clear-streams":
		n, err = h.streamStore.Clear(ctx)
	default:
		h.fail(w, r, fmt.Errorf("unknown action %q: %w", action, models.ErrInvalidInput))
		return
	}
	if err != nil {
		h.fail(w, r, err)
		return
	}
	h.logger.Info("[DB] action complete", "action", action, "rows", n)
	respondJSON(w, http.StatusOK, map[string]any{"action": action, "rows": n})
}
