package database

import (
	"context"
	"database/sql"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/Zerr0-C00L/streamgate/internal/models"
	"github.com/Zerr0-C00L/streamgate/internal/release"
)

// noPosition stands in for an absent season/episode so the unique index
// covers movie rows in both dialects.
const noPosition = -1

func nowUnix() int64 {
	return time.Now().Unix()
}

// StreamStore persists ranked stream lists per content key.
type StreamStore struct {
	db    *DB
	rules release.Provider
	now   func() time.Time
}

// NewStreamStore creates a new stream store. rules supplies the collection-pack
// patterns applied on read.
func NewStreamStore(db *DB, rules release.Provider) *StreamStore {
	return &StreamStore{db: db, rules: rules, now: time.Now}
}

// WithClock replaces the time source, used to freeze time in tests.
func (s *StreamStore) WithClock(now func() time.Time) *StreamStore {
	s.now = now
	return s
}

func position(v *int) int {
	if v == nil {
		return noPosition
	}
	return *v
}

func fromPosition(v int) *int {
	if v == noPosition {
		return nil
	}
	return &v
}

func storeErr(op string, err error) error {
	return fmt.Errorf("%s: %w: %v", op, models.ErrStoreUnavailable, err)
}

// HasValidStreams reports whether the key has records younger than ttl.
func (s *StreamStore) HasValidStreams(ctx context.Context, key models.ContentKey, ttl time.Duration) (bool, error) {
	if err := key.Validate(); err != nil {
		return false, err
	}
	query := s.db.Rebind(`
		SELECT MAX(cached_at)
		FROM streams
		WHERE content_id = ? AND media_type = ? AND season = ? AND episode = ?
	`)
	var newest sql.NullInt64
	err := s.db.QueryRowContext(ctx, query, key.ContentID, key.MediaType, position(key.Season), position(key.Episode)).Scan(&newest)
	if err != nil {
		return false, storeErr("check stream freshness", err)
	}
	if !newest.Valid {
		return false, nil
	}
	age := s.now().Sub(time.Unix(newest.Int64, 0))
	return age < ttl, nil
}

// GetStreams returns the key's streams without collection packs, best quality
// first and largest file first within a quality.
func (s *StreamStore) GetStreams(ctx context.Context, key models.ContentKey) ([]models.StreamRecord, error) {
	if err := key.Validate(); err != nil {
		return nil, err
	}
	query := s.db.Rebind(`
		SELECT id, content_id, media_type, season, episode, quality, size, size_bytes,
		       title, hash, file_idx, resolve_url, provider, cached_at
		FROM streams
		WHERE content_id = ? AND media_type = ? AND season = ? AND episode = ?
	`)
	rows, err := s.db.QueryContext(ctx, query, key.ContentID, key.MediaType, position(key.Season), position(key.Episode))
	if err != nil {
		return nil, storeErr("list streams", err)
	}
	defer rows.Close()

	rules := s.rules.Rules()
	streams := make([]models.StreamRecord, 0)
	for rows.Next() {
		rec, err := scanStream(rows)
		if err != nil {
			return nil, storeErr("scan stream", err)
		}
		if rules.IsCollectionPack(rec.Title) {
			continue
		}
		streams = append(streams, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, storeErr("iterate streams", err)
	}

	SortStreams(streams)
	return streams, nil
}

// SortStreams orders by quality rank ascending, then size descending.
func SortStreams(streams []models.StreamRecord) {
	sort.SliceStable(streams, func(i, j int) bool {
		ri, rj := streams[i].Quality.Rank(), streams[j].Quality.Rank()
		if ri != rj {
			return ri < rj
		}
		return streams[i].SizeBytes > streams[j].SizeBytes
	})
}

func scanStream(rows *sql.Rows) (models.StreamRecord, error) {
	var (
		rec             models.StreamRecord
		season, episode int
		quality         string
		cachedAt        int64
	)
	err := rows.Scan(
		&rec.ID, &rec.ContentID, &rec.MediaType, &season, &episode, &quality,
		&rec.Size, &rec.SizeBytes, &rec.Title, &rec.Hash, &rec.FileIdx,
		&rec.ResolveURL, &rec.Provider, &cachedAt,
	)
	if err != nil {
		return rec, err
	}
	rec.Season = fromPosition(season)
	rec.Episode = fromPosition(episode)
	rec.Quality = models.ParseQuality(quality)
	rec.CachedAt = time.Unix(cachedAt, 0)
	return rec, nil
}

// SaveStreams replaces every record for the key with candidates in one
// transaction. Candidates without a hash and duplicate hashes are skipped.
// It returns the number of rows inserted.
func (s *StreamStore) SaveStreams(ctx context.Context, key models.ContentKey, candidates []models.StreamRecord) (int, error) {
	if err := key.Validate(); err != nil {
		return 0, err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, storeErr("begin transaction", err)
	}
	defer tx.Rollback()

	season, episode := position(key.Season), position(key.Episode)
	_, err = tx.ExecContext(ctx, s.db.Rebind(`
		DELETE FROM streams
		WHERE content_id = ? AND media_type = ? AND season = ? AND episode = ?
	`), key.ContentID, key.MediaType, season, episode)
	if err != nil {
		return 0, storeErr("delete previous streams", err)
	}

	stmt, err := tx.PrepareContext(ctx, s.db.Rebind(`
		INSERT INTO streams (
			content_id, media_type, season, episode, quality, size, size_bytes,
			title, hash, file_idx, resolve_url, provider, cached_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT DO NOTHING
	`))
	if err != nil {
		return 0, storeErr("prepare insert", err)
	}
	defer stmt.Close()

	cachedAt := s.now().Unix()
	inserted := 0
	for _, c := range candidates {
		hash := strings.ToLower(strings.TrimSpace(c.Hash))
		if hash == "" {
			continue
		}
		quality := c.Quality
		if quality == "" {
			quality = models.QualityUnknown
		}
		res, err := stmt.ExecContext(ctx,
			key.ContentID, key.MediaType, season, episode, string(quality), c.Size, c.SizeBytes,
			release.Truncate(c.Title), hash, c.FileIdx, c.ResolveURL, c.Provider, cachedAt,
		)
		if err != nil {
			return 0, storeErr("insert stream", err)
		}
		if n, _ := res.RowsAffected(); n > 0 {
			inserted++
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, storeErr("commit streams", err)
	}
	return inserted, nil
}

// DeleteKey drops every record for a key.
func (s *StreamStore) DeleteKey(ctx context.Context, key models.ContentKey) (int64, error) {
	if err := key.Validate(); err != nil {
		return 0, err
	}
	res, err := s.db.ExecContext(ctx, s.db.Rebind(`
		DELETE FROM streams
		WHERE content_id = ? AND media_type = ? AND season = ? AND episode = ?
	`), key.ContentID, key.MediaType, position(key.Season), position(key.Episode))
	if err != nil {
		return 0, storeErr("delete streams", err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}

// PruneExpired removes records cached longer than ttl ago.
func (s *StreamStore) PruneExpired(ctx context.Context, ttl time.Duration) (int64, error) {
	cutoff := s.now().Add(-ttl).Unix()
	res, err := s.db.ExecContext(ctx, s.db.Rebind(`DELETE FROM streams WHERE cached_at <= ?`), cutoff)
	if err != nil {
		return 0, storeErr("prune streams", err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}

// Clear drops every stream record.
func (s *StreamStore) Clear(ctx context.Context) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM streams`)
	if err != nil {
		return 0, storeErr("clear streams", err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}

// StreamStats summarises the stream table for the dashboard.
type StreamStats struct {
	Total      int            `json:"total"`
	Keys       int            `json:"keys"`
	TotalBytes int64          `json:"total_bytes"`
	ByQuality  map[string]int `json:"by_quality"`
	Oldest     *time.Time     `json:"oldest,omitempty"`
	Newest     *time.Time     `json:"newest,omitempty"`
}

// Stats returns counts per quality and the cache age range.
func (s *StreamStore) Stats(ctx context.Context) (*StreamStats, error) {
	stats := &StreamStats{ByQuality: make(map[string]int)}

	var (
		totalBytes     sql.NullInt64
		oldest, newest sql.NullInt64
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*), SUM(size_bytes), MIN(cached_at), MAX(cached_at)
		FROM streams
	`).Scan(&stats.Total, &totalBytes, &oldest, &newest)
	if err != nil {
		return nil, storeErr("stream stats", err)
	}
	stats.TotalBytes = totalBytes.Int64
	if oldest.Valid {
		t := time.Unix(oldest.Int64, 0)
		stats.Oldest = &t
	}
	if newest.Valid {
		t := time.Unix(newest.Int64, 0)
		stats.Newest = &t
	}

	err = s.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM (
			SELECT DISTINCT content_id, media_type, season, episode FROM streams
		) AS k
	`).Scan(&stats.Keys)
	if err != nil {
		return nil, storeErr("stream key count", err)
	}

	rows, err := s.db.QueryContext(ctx, `SELECT quality, COUNT(*) FROM streams GROUP BY quality`)
	if err != nil {
		return nil, storeErr("stream quality counts", err)
	}
	defer rows.Close()
	for rows.Next() {
		var (
			quality string
			count   int
		)
		if err := rows.Scan(&quality, &count); err != nil {
			return nil, storeErr("scan quality count", err)
		}
		stats.ByQuality[quality] = count
	}
	if err := rows.Err(); err != nil {
		return nil, storeErr("iterate quality counts", err)
	}
	return stats, nil
}
