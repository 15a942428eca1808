// Package providers fetches stream lists from Stremio-protocol addons
// (Torrentio, Comet, MediaFusion and generic manifests) and normalizes
// them into ranked candidates.
package providers

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/Zerr0-C00L/streamgate/internal/models"
)

const (
	DefaultTimeout = 15 * time.Second
	MinTimeout     = 10 * time.Second
	MaxTimeout     = 30 * time.Second
)

// Provider kinds accepted by New.
const (
	KindTorrentio   = "torrentio"
	KindComet       = "comet"
	KindMediaFusion = "mediafusion"
	KindStremio     = "stremio"
)

// Provider is one upstream stream source.
type Provider interface {
	Name() string
	FetchStreams(ctx context.Context, req StreamRequest) ([]RawStream, error)
}

// StreamRequest follows the Stremio addon resource shape.
type StreamRequest struct {
	Type    string // "movie" or "series"
	ID      string // external id, e.g. tt0133093
	Season  *int
	Episode *int
}

// RequestFor builds a StreamRequest from a content key.
func RequestFor(key models.ContentKey) StreamRequest {
	return StreamRequest{Type: key.MediaType, ID: key.ContentID, Season: key.Season, Episode: key.Episode}
}

func (r StreamRequest) Validate() error {
	return models.ContentKey{ContentID: r.ID, MediaType: r.Type, Season: r.Season, Episode: r.Episode}.Validate()
}

// Key identifies the request for collapsing and response caching.
func (r StreamRequest) Key() string {
	if r.Type == models.MediaSeries && r.Season != nil && r.Episode != nil {
		return fmt.Sprintf("series/%s:%d:%d", r.ID, *r.Season, *r.Episode)
	}
	return fmt.Sprintf("%s/%s", r.Type, r.ID)
}

// path is the addon resource path, stream/<type>/<id>[:s:e].json.
func (r StreamRequest) path() string {
	return "stream/" + r.Key() + ".json"
}

// BehaviorHints carries the optional file metadata some addons attach.
type BehaviorHints struct {
	Filename   string `json:"filename,omitempty"`
	BingeGroup string `json:"bingeGroup,omitempty"`
	VideoSize  int64  `json:"videoSize,omitempty"`
}

// RawStream is a stream object exactly as an addon returns it.
type RawStream struct {
	Name          string        `json:"name"`
	Title         string        `json:"title"`
	Description   string        `json:"description,omitempty"`
	URL           string        `json:"url"`
	InfoHash      string        `json:"infoHash,omitempty"`
	FileIdx       *int          `json:"fileIdx,omitempty"`
	BehaviorHints BehaviorHints `json:"behaviorHints"`

	// Provider is set by the client that fetched the stream.
	Provider string `json:"-"`
}

// Options configures a single provider instance.
type Options struct {
	Name      string
	BaseURL   string
	DebridKey string
	// Indexers is the Torrentio provider list or the Comet indexer list.
	Indexers []string
	Timeout  time.Duration
}

// New builds a provider of the given kind.
func New(kind string, opts Options, f *Fetcher) (Provider, error) {
	if f == nil {
		return nil, fmt.Errorf("provider %s needs a fetcher: %w", kind, models.ErrInvalidInput)
	}
	switch strings.ToLower(kind) {
	case KindTorrentio:
		return NewTorrentioProvider(opts, f), nil
	case KindComet:
		return NewCometProvider(opts, f), nil
	case KindMediaFusion:
		return NewMediaFusionProvider(opts, f), nil
	case KindStremio, "generic":
		if opts.BaseURL == "" {
			return nil, fmt.Errorf("stremio provider %q needs a manifest url: %w", opts.Name, models.ErrInvalidInput)
		}
		return NewGenericStremioProvider(opts, f), nil
	default:
		return nil, fmt.Errorf("unknown provider kind %q: %w", kind, models.ErrInvalidInput)
	}
}

// ClampTimeout keeps a provider timeout inside [MinTimeout, MaxTimeout].
// Zero means DefaultTimeout.
func ClampTimeout(d time.Duration) time.Duration {
	switch {
	case d <= 0:
		return DefaultTimeout
	case d < MinTimeout:
		return MinTimeout
	case d > MaxTimeout:
		return MaxTimeout
	default:
		return d
	}
}

func nameOr(name, fallback string) string {
	if name != "" {
		return name
	}
	return fallback
}
