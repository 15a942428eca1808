package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/Zerr0-C00L/streamgate/internal/models"
)

// IdentityStore caches provider numeric ids against canonical external ids.
// Identity data does not expire.
type IdentityStore struct {
	db  *DB
	now func() time.Time
}

func NewIdentityStore(db *DB) *IdentityStore {
	return &IdentityStore{db: db, now: time.Now}
}

// GetMovie returns models.ErrNotFound when the id was never cached.
func (s *IdentityStore) GetMovie(ctx context.Context, numericID int) (*models.MovieIdentity, error) {
	query := s.db.Rebind(`
		SELECT numeric_id, title, external_id, year, cached_at
		FROM movies
		WHERE numeric_id = ?
	`)
	var (
		m        models.MovieIdentity
		cachedAt int64
	)
	err := s.db.QueryRowContext(ctx, query, numericID).Scan(&m.NumericID, &m.Title, &m.ExternalID, &m.Year, &cachedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("movie %d: %w", numericID, models.ErrNotFound)
	}
	if err != nil {
		return nil, storeErr("get movie identity", err)
	}
	m.CachedAt = time.Unix(cachedAt, 0)
	return &m, nil
}

// SetMovie upserts the identity for numericID.
func (s *IdentityStore) SetMovie(ctx context.Context, numericID int, title, externalID string, year int) error {
	externalID = strings.TrimSpace(externalID)
	if numericID <= 0 || externalID == "" {
		return fmt.Errorf("movie identity needs an id and external id: %w", models.ErrInvalidInput)
	}
	query := s.db.Rebind(`
		INSERT INTO movies (numeric_id, title, external_id, year, cached_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT (numeric_id) DO UPDATE SET
			title = EXCLUDED.title,
			external_id = EXCLUDED.external_id,
			year = EXCLUDED.year,
			cached_at = EXCLUDED.cached_at
	`)
	if _, err := s.db.ExecContext(ctx, query, numericID, title, externalID, year, s.now().Unix()); err != nil {
		return storeErr("set movie identity", err)
	}
	return nil
}

// GetEpisode returns models.ErrNotFound when the episode id was never cached.
func (s *IdentityStore) GetEpisode(ctx context.Context, numericID int) (*models.EpisodeIdentity, error) {
	query := s.db.Rebind(`
		SELECT numeric_id, series_id, season, episode, external_id, cached_at
		FROM episodes
		WHERE numeric_id = ?
	`)
	var (
		e        models.EpisodeIdentity
		cachedAt int64
	)
	err := s.db.QueryRowContext(ctx, query, numericID).Scan(&e.NumericID, &e.SeriesID, &e.Season, &e.Episode, &e.ExternalID, &cachedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("episode %d: %w", numericID, models.ErrNotFound)
	}
	if err != nil {
		return nil, storeErr("get episode identity", err)
	}
	e.CachedAt = time.Unix(cachedAt, 0)
	return &e, nil
}

// SetEpisode upserts the identity for an episode id.
func (s *IdentityStore) SetEpisode(ctx context.Context, e models.EpisodeIdentity) error {
	if e.NumericID <= 0 || strings.TrimSpace(e.ExternalID) == "" {
		return fmt.Errorf("episode identity needs an id and external id: %w", models.ErrInvalidInput)
	}
	query := s.db.Rebind(`
		INSERT INTO episodes (numeric_id, series_id, season, episode, external_id, cached_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT (numeric_id) DO UPDATE SET
			series_id = EXCLUDED.series_id,
			season = EXCLUDED.season,
			episode = EXCLUDED.episode,
			external_id = EXCLUDED.external_id,
			cached_at = EXCLUDED.cached_at
	`)
	_, err := s.db.ExecContext(ctx, query, e.NumericID, e.SeriesID, e.Season, e.Episode, strings.TrimSpace(e.ExternalID), s.now().Unix())
	if err != nil {
		return storeErr("set episode identity", err)
	}
	return nil
}

// Counts returns the number of cached movie and episode identities.
func (s *IdentityStore) Counts(ctx context.Context) (movies, episodes int, err error) {
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM movies`).Scan(&movies); err != nil {
		return 0, 0, storeErr("count movies", err)
	}
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM episodes`).Scan(&episodes); err != nil {
		return 0, 0, storeErr("count episodes", err)
	}
	return movies, episodes, nil
}
