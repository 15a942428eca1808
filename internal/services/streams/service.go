package streams

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/Zerr0-C00L/streamgate/internal/models"
	"github.com/Zerr0-C00L/streamgate/internal/providers"
)

// Store is the stream cache the service reads through.
type Store interface {
	HasValidStreams(ctx context.Context, key models.ContentKey, ttl time.Duration) (bool, error)
	GetStreams(ctx context.Context, key models.ContentKey) ([]models.StreamRecord, error)
	SaveStreams(ctx context.Context, key models.ContentKey, candidates []models.StreamRecord) (int, error)
}

// Fetcher fans a request out to the configured providers.
type Fetcher interface {
	Fetch(ctx context.Context, req providers.StreamRequest) (providers.FetchResult, error)
}

// Normalizer turns raw addon streams into candidates.
type Normalizer interface {
	Normalize(raw []providers.RawStream) []providers.Candidate
}

// Hashlist records hashes that played.
type Hashlist interface {
	AddHash(entry models.HashlistEntry) (bool, error)
}

// TTLSource supplies the current stream freshness window.
type TTLSource interface {
	StreamTTL() time.Duration
}

// FixedTTL is a TTLSource that never changes.
type FixedTTL time.Duration

func (f FixedTTL) StreamTTL() time.Duration { return time.Duration(f) }

// LookupOptions tunes one Lookup call.
type LookupOptions struct {
	// Refresh skips the freshness check and always asks the providers.
	Refresh bool
}

// Result is what a lookup hands back to callers.
type Result struct {
	Key       models.ContentKey     `json:"key"`
	Streams   []models.StreamRecord `json:"streams"`
	FromCache bool                  `json:"from_cache"`
	Provider  string                `json:"provider,omitempty"`
	// DisplayOnly holds candidates without a hash; they are never persisted.
	DisplayOnly []providers.Candidate `json:"display_only,omitempty"`
	// ProviderError names the upstream failure kind when providers failed.
	ProviderError string `json:"provider_error,omitempty"`
}

// StreamService reads streams from the cache and refreshes them from the
// providers when they are missing or stale.
type StreamService struct {
	store    Store
	fetcher  Fetcher
	acquirer Normalizer
	hashlist Hashlist
	ttl      TTLSource
	logger   *slog.Logger
}

// NewStreamService creates a new stream service
func NewStreamService(store Store, fetcher Fetcher, acquirer Normalizer, hashlist Hashlist, ttl TTLSource, logger *slog.Logger) *StreamService {
	if logger == nil {
		logger = slog.Default()
	}
	if ttl == nil {
		ttl = FixedTTL(24 * time.Hour)
	}
	return &StreamService{
		store:    store,
		fetcher:  fetcher,
		acquirer: acquirer,
		hashlist: hashlist,
		ttl:      ttl,
		logger:   logger,
	}
}

// Lookup returns ranked streams for key. Store failures are returned as
// errors; provider failures are not, they leave an empty result with
// ProviderError set.
func (s *StreamService) Lookup(ctx context.Context, key models.ContentKey, opts LookupOptions) (*Result, error) {
	if err := key.Validate(); err != nil {
		return nil, err
	}
	result := &Result{Key: key, Streams: []models.StreamRecord{}}

	if !opts.Refresh {
		fresh, err := s.store.HasValidStreams(ctx, key, s.ttl.StreamTTL())
		if err != nil {
			return nil, err
		}
		if fresh {
			streams, err := s.store.GetStreams(ctx, key)
			if err != nil {
				return nil, err
			}
			s.logger.Debug("[CACHE] hit", "key", key.String(), "streams", len(streams))
			result.Streams = streams
			result.FromCache = true
			return result, nil
		}
	}

	fetched, err := s.fetcher.Fetch(ctx, providers.RequestFor(key))
	if err != nil {
		kind := models.UpstreamErrorKind(err)
		s.logger.Warn("[PROVIDER] lookup failed", "key", key.String(), "kind", kind, "error", err)
		result.ProviderError = kind
		return result, nil
	}
	result.Provider = fetched.Provider

	candidates := s.acquirer.Normalize(fetched.Streams)
	var records []models.StreamRecord
	for _, c := range candidates {
		if c.Persistable() {
			records = append(records, c.Record(key))
		} else {
			result.DisplayOnly = append(result.DisplayOnly, c)
		}
	}

	if len(records) > 0 {
		saved, err := s.store.SaveStreams(ctx, key, records)
		if err != nil {
			return nil, err
		}
		s.logger.Info("[CACHE] stored streams", "key", key.String(), "provider", fetched.Provider,
			"raw", len(fetched.Streams), "candidates", len(candidates), "saved", saved)
	} else {
		s.logger.Info("[CACHE] nothing persistable", "key", key.String(), "provider", fetched.Provider,
			"raw", len(fetched.Streams), "display_only", len(result.DisplayOnly))
		return result, nil
	}

	streams, err := s.store.GetStreams(ctx, key)
	if err != nil {
		return nil, err
	}
	result.Streams = streams
	return result, nil
}

// RecordPlayback adds a stream that played to the personal hashlist.
func (s *StreamService) RecordPlayback(ctx context.Context, record models.StreamRecord) error {
	if s.hashlist == nil {
		return fmt.Errorf("hashlist not configured: %w", models.ErrStoreUnavailable)
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	_, err := s.hashlist.AddHash(models.HashlistEntry{
		Hash:       record.Hash,
		Filename:   record.Title,
		Bytes:      record.SizeBytes,
		ExternalID: record.ContentID,
		MediaType:  record.MediaType,
		Season:     record.Season,
		Episode:    record.Episode,
		Quality:    record.Quality,
	})
	if err != nil {
		return err
	}
	s.logger.Debug("[HASHLIST] recorded playback", "hash", record.Hash, "external_id", record.ContentID)
	return nil
}
