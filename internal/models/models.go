package models

import (
	"fmt"
	"time"
)

// Media types accepted by the stream store and providers.
const (
	MediaMovie  = "movie"
	MediaSeries = "series"
)

// Quality is the normalized resolution tag attached to a release.
type Quality string

const (
	Quality2160P   Quality = "2160P"
	Quality1080P   Quality = "1080P"
	Quality720P    Quality = "720P"
	Quality480P    Quality = "480P"
	QualityUnknown Quality = "unknown"
)

// Rank orders qualities for stream listings: 1 is best, 5 is unknown.
func (q Quality) Rank() int {
	switch q {
	case Quality2160P:
		return 1
	case Quality1080P:
		return 2
	case Quality720P:
		return 3
	case Quality480P:
		return 4
	default:
		return 5
	}
}

// Score is the inverse of Rank used by the hashlist: 4 is best, 0 is unknown.
func (q Quality) Score() int {
	return 5 - q.Rank()
}

// ParseQuality maps a stored tag back to a Quality, tolerating case and the 4K alias.
func ParseQuality(s string) Quality {
	switch s {
	case "2160P", "2160p", "4K", "4k":
		return Quality2160P
	case "1080P", "1080p":
		return Quality1080P
	case "720P", "720p":
		return Quality720P
	case "480P", "480p":
		return Quality480P
	default:
		return QualityUnknown
	}
}

// ContentKey identifies one cached stream list.
type ContentKey struct {
	ContentID string `json:"content_id"`
	MediaType string `json:"media_type"`
	Season    *int   `json:"season,omitempty"`
	Episode   *int   `json:"episode,omitempty"`
}

// Validate rejects keys that cannot address a stream list.
func (k ContentKey) Validate() error {
	if k.ContentID == "" {
		return fmt.Errorf("content id is required: %w", ErrInvalidInput)
	}
	if k.MediaType != MediaMovie && k.MediaType != MediaSeries {
		return fmt.Errorf("invalid media type %q: %w", k.MediaType, ErrInvalidInput)
	}
	if k.MediaType == MediaSeries && (k.Season == nil || k.Episode == nil) {
		return fmt.Errorf("series lookups need season and episode: %w", ErrInvalidInput)
	}
	return nil
}

func (k ContentKey) String() string {
	if k.Season != nil && k.Episode != nil {
		return fmt.Sprintf("%s:%s:%d:%d", k.MediaType, k.ContentID, *k.Season, *k.Episode)
	}
	return fmt.Sprintf("%s:%s", k.MediaType, k.ContentID)
}

// StreamRecord is one persisted, playable stream for a content key.
type StreamRecord struct {
	ID         int64     `json:"id"`
	ContentID  string    `json:"content_id"`
	MediaType  string    `json:"media_type"`
	Season     *int      `json:"season,omitempty"`
	Episode    *int      `json:"episode,omitempty"`
	Quality    Quality   `json:"quality"`
	Size       string    `json:"size"`
	SizeBytes  int64     `json:"size_bytes"`
	Title      string    `json:"title"`
	Hash       string    `json:"hash"`
	FileIdx    int       `json:"file_idx"`
	ResolveURL string    `json:"resolve_url"`
	Provider   string    `json:"provider,omitempty"`
	CachedAt   time.Time `json:"cached_at"`
}

// MovieIdentity maps a provider numeric id to its canonical external id.
type MovieIdentity struct {
	NumericID  int       `json:"numeric_id"`
	Title      string    `json:"title"`
	ExternalID string    `json:"external_id"`
	Year       int       `json:"year"`
	CachedAt   time.Time `json:"cached_at"`
}

// EpisodeIdentity maps a provider episode id to its series position.
type EpisodeIdentity struct {
	NumericID  int       `json:"numeric_id"`
	SeriesID   int       `json:"series_id"`
	Season     int       `json:"season"`
	Episode    int       `json:"episode"`
	ExternalID string    `json:"external_id"`
	CachedAt   time.Time `json:"cached_at"`
}

// HashlistEntry is a torrent hash that previously played successfully.
type HashlistEntry struct {
	Hash       string    `json:"hash"`
	Filename   string    `json:"filename"`
	Bytes      int64     `json:"bytes"`
	ExternalID string    `json:"external_id,omitempty"`
	MediaType  string    `json:"media_type,omitempty"`
	Season     *int      `json:"season,omitempty"`
	Episode    *int      `json:"episode,omitempty"`
	Quality    Quality   `json:"quality"`
	AddedAt    time.Time `json:"added_at"`
	LastUsedAt time.Time `json:"last_used_at"`
	UseCount   int       `json:"use_count"`
}

// IntPtr is a small helper for optional season/episode fields.
func IntPtr(v int) *int {
	return &v
}
