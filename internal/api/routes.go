package api

import (
	"log/slog"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/Zerr0-C00L/streamgate/internal/config"
)

// SetupRoutes configures all API routes. Fixed paths are registered before
// the parameterised ones they would otherwise collide with.
func SetupRoutes(handler *Handler, server config.ServerConfig, auth config.AuthConfig, logger *slog.Logger) http.Handler {
	if logger == nil {
		logger = slog.Default()
	}
	r := mux.NewRouter()

	api := r.PathPrefix("/api/v1").Subrouter()

	// Health check
	api.HandleFunc("/health", handler.HealthCheck).Methods("GET")

	// Streams
	api.HandleFunc("/streams/cache/stats", handler.CacheStats).Methods("GET")
	api.HandleFunc("/streams/cache/prune", handler.PruneCache).Methods("POST")
	api.HandleFunc("/streams/played", handler.RecordPlayback).Methods("POST")
	api.HandleFunc("/streams/{type}/{id}", handler.GetStreams).Methods("GET")
	api.HandleFunc("/streams/{type}/{id}", handler.DeleteStreams).Methods("DELETE")

	// Identity
	api.HandleFunc("/identity/movie/{id}", handler.ResolveMovie).Methods("GET")
	api.HandleFunc("/identity/episode/{id}", handler.ResolveEpisode).Methods("GET")
	api.HandleFunc("/identity/series/{id}/season/{season}", handler.IndexSeason).Methods("POST")

	// Hashlist
	api.HandleFunc("/hashlist", handler.AddHash).Methods("POST")
	api.HandleFunc("/hashlist/export", handler.ExportHashlist).Methods("GET")
	api.HandleFunc("/hashlist/import", handler.ImportHashlist).Methods("POST")
	api.HandleFunc("/hashlist/{external_id}", handler.FindHashes).Methods("GET")

	// Settings
	api.HandleFunc("/settings", handler.GetSettings).Methods("GET")
	api.HandleFunc("/settings", handler.UpdateSettings).Methods("PUT")

	// Database maintenance
	api.HandleFunc("/database/{action}", handler.DatabaseAction).Methods("POST")

	r.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		respondError(w, http.StatusNotFound, "not found")
	})

	// Wrapped outside the router so preflights and unmatched paths are
	// still logged and answered with CORS headers.
	var h http.Handler = r
	h = authMiddleware(auth, logger)(h)
	h = corsMiddleware(server.CORSOrigins)(h)
	h = loggingMiddleware(logger)(h)
	return h
}
