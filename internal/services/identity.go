package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/Zerr0-C00L/streamgate/internal/lookup"
	"github.com/Zerr0-C00L/streamgate/internal/models"
)

// IdentityCache is the persisted side of identity resolution.
type IdentityCache interface {
	GetMovie(ctx context.Context, numericID int) (*models.MovieIdentity, error)
	SetMovie(ctx context.Context, numericID int, title, externalID string, year int) error
	GetEpisode(ctx context.Context, numericID int) (*models.EpisodeIdentity, error)
	SetEpisode(ctx context.Context, e models.EpisodeIdentity) error
}

// EpisodeIndex maps provider episode ids to series positions.
type EpisodeIndex interface {
	Get(episodeID int) (lookup.Entry, error)
	Merge(entries map[int]lookup.Entry) (int, error)
}

// IdentityResolver answers from the identity cache and falls back to TMDB,
// writing what it learns back to the cache.
type IdentityResolver struct {
	cache    IdentityCache
	tmdb     TMDB
	episodes EpisodeIndex
	logger   *slog.Logger
}

func NewIdentityResolver(cache IdentityCache, tmdb TMDB, episodes EpisodeIndex, logger *slog.Logger) *IdentityResolver {
	if logger == nil {
		logger = slog.Default()
	}
	return &IdentityResolver{cache: cache, tmdb: tmdb, episodes: episodes, logger: logger}
}

// ResolveMovie maps a TMDB movie id to its IMDb identity.
func (r *IdentityResolver) ResolveMovie(ctx context.Context, numericID int) (*models.MovieIdentity, error) {
	if numericID <= 0 {
		return nil, fmt.Errorf("movie id %d: %w", numericID, models.ErrInvalidInput)
	}
	m, err := r.cache.GetMovie(ctx, numericID)
	if err == nil {
		return m, nil
	}
	if !errors.Is(err, models.ErrNotFound) {
		return nil, err
	}

	ids, err := r.tmdb.GetMovieExternalIDs(ctx, numericID)
	if err != nil {
		return nil, err
	}
	if strings.TrimSpace(ids.IMDBID) == "" {
		return nil, fmt.Errorf("movie %d has no imdb id: %w", numericID, models.ErrNotFound)
	}
	if err := r.cache.SetMovie(ctx, numericID, ids.Title, ids.IMDBID, ids.Year); err != nil {
		return nil, err
	}
	r.logger.Debug("[IDENTITY] cached movie", "id", numericID, "external_id", ids.IMDBID)
	return r.cache.GetMovie(ctx, numericID)
}

// ResolveEpisode maps a TMDB episode id to its series position and the
// series' IMDb id. The episode index supplies the position; TMDB supplies
// the external id when the index does not carry it.
func (r *IdentityResolver) ResolveEpisode(ctx context.Context, numericID int) (*models.EpisodeIdentity, error) {
	if numericID <= 0 {
		return nil, fmt.Errorf("episode id %d: %w", numericID, models.ErrInvalidInput)
	}
	e, err := r.cache.GetEpisode(ctx, numericID)
	if err == nil {
		return e, nil
	}
	if !errors.Is(err, models.ErrNotFound) {
		return nil, err
	}
	if r.episodes == nil {
		return nil, fmt.Errorf("episode %d: %w", numericID, models.ErrNotFound)
	}

	entry, err := r.episodes.Get(numericID)
	if err != nil {
		return nil, err
	}
	if entry.ExternalID == "" {
		ids, err := r.tmdb.GetSeriesExternalIDs(ctx, entry.SeriesID)
		if err != nil {
			return nil, err
		}
		if strings.TrimSpace(ids.IMDBID) == "" {
			return nil, fmt.Errorf("series %d has no imdb id: %w", entry.SeriesID, models.ErrNotFound)
		}
		entry.ExternalID = ids.IMDBID
		if _, err := r.episodes.Merge(map[int]lookup.Entry{numericID: entry}); err != nil {
			r.logger.Warn("[IDENTITY] episode index write failed", "id", numericID, "error", err)
		}
	}

	ident := models.EpisodeIdentity{
		NumericID:  numericID,
		SeriesID:   entry.SeriesID,
		Season:     entry.Season,
		Episode:    entry.Episode,
		ExternalID: entry.ExternalID,
	}
	if err := r.cache.SetEpisode(ctx, ident); err != nil {
		return nil, err
	}
	return r.cache.GetEpisode(ctx, numericID)
}

// IndexSeason loads a season listing from TMDB into the episode index and
// returns the number of episodes indexed.
func (r *IdentityResolver) IndexSeason(ctx context.Context, seriesID, season int) (int, error) {
	if r.episodes == nil {
		return 0, fmt.Errorf("episode index not configured: %w", models.ErrStoreUnavailable)
	}
	if seriesID <= 0 || season < 0 {
		return 0, fmt.Errorf("series %d season %d: %w", seriesID, season, models.ErrInvalidInput)
	}
	listing, err := r.tmdb.GetSeason(ctx, seriesID, season)
	if err != nil {
		return 0, err
	}
	externalID := ""
	if ids, err := r.tmdb.GetSeriesExternalIDs(ctx, seriesID); err == nil {
		externalID = ids.IMDBID
	} else {
		r.logger.Warn("[IDENTITY] series external ids unavailable", "series", seriesID, "error", err)
	}

	entries := make(map[int]lookup.Entry, len(listing.Episodes))
	for _, ep := range listing.Episodes {
		if ep.ID <= 0 {
			continue
		}
		entries[ep.ID] = lookup.Entry{
			SeriesID:   seriesID,
			Season:     ep.SeasonNumber,
			Episode:    ep.EpisodeNumber,
			ExternalID: externalID,
		}
	}
	if _, err := r.episodes.Merge(entries); err != nil {
		return 0, err
	}
	return len(entries), nil
}
