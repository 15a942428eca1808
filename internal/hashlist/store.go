// Package hashlist keeps the personal hashlist: torrent hashes that played
// successfully before, sharded on disk by hash prefix and indexed by
// external id.
package hashlist

import (
	"encoding/hex"
	"fmt"
	"log/slog"
	"maps"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/gofrs/flock"

	"github.com/Zerr0-C00L/streamgate/internal/fileutil"
	"github.com/Zerr0-C00L/streamgate/internal/models"
	"github.com/Zerr0-C00L/streamgate/internal/release"
)

const (
	// MaxShardCache is the upper bound on parsed shards held in memory.
	MaxShardCache = 5

	hashLength = 40
	indexFile  = "index.json"
	shardsDir  = "shards"
)

// Options configures a Store. Zero values fall back to defaults.
type Options struct {
	// ShardCacheSize is clamped to 1..MaxShardCache.
	ShardCacheSize int
	// StrictEpisodeMatch drops entries without season/episode from
	// filtered lookups instead of keeping them.
	StrictEpisodeMatch bool
	Compressor         Compressor
	Rules              release.Provider
	Logger             *slog.Logger
}

// IndexRef is one external-id index row.
type IndexRef struct {
	Hash    string `json:"hash"`
	Season  *int   `json:"season,omitempty"`
	Episode *int   `json:"episode,omitempty"`
}

type shard map[string]*models.HashlistEntry

type index map[string][]IndexRef

// Store is safe for concurrent use inside one process and cooperates with
// other processes through a lock file in the hashlist directory.
type Store struct {
	dir    string
	opts   Options
	logger *slog.Logger
	now    func() time.Time
	// writeJSON persists shards and the index; tests swap it to fail writes.
	writeJSON func(path string, v any) error

	mu    sync.Mutex
	lock  *flock.Flock
	cache *shardCache
}

func NewStore(dir string, opts Options) (*Store, error) {
	if dir == "" {
		return nil, fmt.Errorf("hashlist directory is required: %w", models.ErrInvalidInput)
	}
	if err := os.MkdirAll(filepath.Join(dir, shardsDir), 0o755); err != nil {
		return nil, fmt.Errorf("create hashlist directory: %w: %v", models.ErrStoreUnavailable, err)
	}
	if opts.ShardCacheSize <= 0 || opts.ShardCacheSize > MaxShardCache {
		opts.ShardCacheSize = MaxShardCache
	}
	if opts.Compressor == nil {
		opts.Compressor = GzipCompressor{}
	}
	if opts.Rules == nil {
		opts.Rules = release.MustCompile(release.DefaultPatterns())
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Store{
		dir:       dir,
		opts:      opts,
		logger:    logger,
		now:       time.Now,
		writeJSON: fileutil.WriteJSONAtomic,
		lock:      flock.New(filepath.Join(dir, ".lock")),
		cache:     newShardCache(opts.ShardCacheSize),
	}, nil
}

// WithClock replaces the time source; used by tests.
func (s *Store) WithClock(now func() time.Time) *Store {
	s.now = now
	return s
}

// NormalizeHash lowercases and validates a 40-char hex info hash.
func NormalizeHash(hash string) (string, error) {
	h := strings.ToLower(strings.TrimSpace(hash))
	if len(h) != hashLength {
		return "", fmt.Errorf("hash %q must be %d characters: %w", hash, hashLength, models.ErrInvalidInput)
	}
	if _, err := hex.DecodeString(h); err != nil {
		return "", fmt.Errorf("hash %q is not hex: %w", hash, models.ErrInvalidInput)
	}
	return h, nil
}

// AddHash records a played hash. A known hash gets its use count bumped and
// its last-used time refreshed; a new one is inserted with a use count of 1.
// The hash is indexed under the entry's external id once. The index is
// written before the shard, so a failed call can be retried without
// counting the use twice.
func (s *Store) AddHash(entry models.HashlistEntry) (bool, error) {
	hash, err := NormalizeHash(entry.Hash)
	if err != nil {
		return false, err
	}
	entry.Hash = hash

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.lock.Lock(); err != nil {
		return false, storeErr("lock hashlist", err)
	}
	defer s.lock.Unlock()

	if entry.ExternalID != "" {
		if err := s.indexHash(entry); err != nil {
			return false, err
		}
	}
	if err := s.upsert(entry); err != nil {
		return false, err
	}
	return true, nil
}

// upsert works on a copy of the shard; the cached shard only changes once
// the copy is on disk.
func (s *Store) upsert(entry models.HashlistEntry) error {
	prefix := entry.Hash[:2]
	loaded, err := s.loadShard(prefix)
	if err != nil {
		return err
	}
	sh := maps.Clone(loaded)
	if sh == nil {
		sh = make(shard)
	}

	now := s.now().UTC()
	if prev, ok := sh[entry.Hash]; ok {
		existing := *prev
		sh[entry.Hash] = &existing
		existing.UseCount++
		existing.LastUsedAt = now
		if existing.ExternalID == "" && entry.ExternalID != "" {
			existing.ExternalID = entry.ExternalID
			existing.MediaType = entry.MediaType
			existing.Season = entry.Season
			existing.Episode = entry.Episode
		}
		if existing.Filename == "" {
			existing.Filename = entry.Filename
		}
		if existing.Bytes == 0 {
			existing.Bytes = entry.Bytes
		}
	} else {
		if entry.Quality == "" || entry.Quality == models.QualityUnknown {
			entry.Quality = s.opts.Rules.Rules().Quality(entry.Filename)
		}
		entry.AddedAt = now
		entry.LastUsedAt = now
		entry.UseCount = 1
		sh[entry.Hash] = &entry
	}
	return s.saveShard(prefix, sh)
}

func (s *Store) indexHash(entry models.HashlistEntry) error {
	idx, err := s.loadIndex()
	if err != nil {
		return err
	}
	for _, ref := range idx[entry.ExternalID] {
		if ref.Hash == entry.Hash {
			return nil
		}
	}
	idx[entry.ExternalID] = append(idx[entry.ExternalID], IndexRef{
		Hash:    entry.Hash,
		Season:  entry.Season,
		Episode: entry.Episode,
	})
	if err := s.writeJSON(filepath.Join(s.dir, indexFile), idx); err != nil {
		return storeErr("write hashlist index", err)
	}
	return nil
}

// FindByExternalID returns the entries indexed under externalID, best
// quality first and then most used. A non-nil season or episode excludes
// entries that carry a different value; entries without one are kept
// unless the store runs in strict mode.
func (s *Store) FindByExternalID(externalID string, season, episode *int) ([]models.HashlistEntry, error) {
	if strings.TrimSpace(externalID) == "" {
		return nil, fmt.Errorf("external id is required: %w", models.ErrInvalidInput)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.lock.RLock(); err != nil {
		return nil, storeErr("lock hashlist", err)
	}
	defer s.lock.Unlock()

	idx, err := s.loadIndex()
	if err != nil {
		return nil, err
	}

	var out []models.HashlistEntry
	for _, ref := range idx[externalID] {
		if !s.positionMatches(ref.Season, season) || !s.positionMatches(ref.Episode, episode) {
			continue
		}
		sh, err := s.loadShard(ref.Hash[:2])
		if err != nil {
			return nil, err
		}
		if e, ok := sh[ref.Hash]; ok {
			out = append(out, *e)
		} else {
			s.logger.Warn("[HASHLIST] indexed hash missing from shard", "hash", ref.Hash, "external_id", externalID)
		}
	}

	sort.SliceStable(out, func(i, j int) bool {
		qi, qj := out[i].Quality.Score(), out[j].Quality.Score()
		if qi != qj {
			return qi > qj
		}
		return out[i].UseCount > out[j].UseCount
	})
	return out, nil
}

func (s *Store) positionMatches(have, want *int) bool {
	if want == nil {
		return true
	}
	if have == nil {
		return !s.opts.StrictEpisodeMatch
	}
	return *have == *want
}

// Stats summarizes the on-disk hashlist.
type Stats struct {
	Shards      int `json:"shards"`
	Entries     int `json:"entries"`
	ExternalIDs int `json:"external_ids"`
	CachedShard int `json:"cached_shards"`
}

func (s *Store) Stats() (Stats, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.lock.RLock(); err != nil {
		return Stats{}, storeErr("lock hashlist", err)
	}
	defer s.lock.Unlock()

	var st Stats
	prefixes, err := s.shardPrefixes()
	if err != nil {
		return st, err
	}
	for _, p := range prefixes {
		sh, err := s.loadShard(p)
		if err != nil {
			return st, err
		}
		st.Shards++
		st.Entries += len(sh)
	}
	idx, err := s.loadIndex()
	if err != nil {
		return st, err
	}
	st.ExternalIDs = len(idx)
	st.CachedShard = s.cache.len()
	return st, nil
}

// all returns every entry across shards. Callers hold the locks.
func (s *Store) all() ([]models.HashlistEntry, error) {
	prefixes, err := s.shardPrefixes()
	if err != nil {
		return nil, err
	}
	var out []models.HashlistEntry
	for _, p := range prefixes {
		sh, err := s.loadShard(p)
		if err != nil {
			return nil, err
		}
		hashes := make([]string, 0, len(sh))
		for h := range sh {
			hashes = append(hashes, h)
		}
		sort.Strings(hashes)
		for _, h := range hashes {
			out = append(out, *sh[h])
		}
	}
	return out, nil
}

func (s *Store) shardPrefixes() ([]string, error) {
	matches, err := filepath.Glob(filepath.Join(s.dir, shardsDir, "*.json"))
	if err != nil {
		return nil, storeErr("list hashlist shards", err)
	}
	prefixes := make([]string, 0, len(matches))
	for _, m := range matches {
		prefixes = append(prefixes, strings.TrimSuffix(filepath.Base(m), ".json"))
	}
	sort.Strings(prefixes)
	return prefixes, nil
}

func (s *Store) shardPath(prefix string) string {
	return filepath.Join(s.dir, shardsDir, prefix+".json")
}

func (s *Store) loadShard(prefix string) (shard, error) {
	path := s.shardPath(prefix)
	info, statErr := os.Stat(path)
	if statErr == nil {
		if sh, ok := s.cache.get(prefix, info); ok {
			return sh, nil
		}
	}

	sh := make(shard)
	if _, err := fileutil.ReadJSON(path, &sh); err != nil {
		return nil, storeErr("read hashlist shard "+prefix, err)
	}
	if statErr == nil {
		s.cache.put(prefix, sh, info)
	}
	return sh, nil
}

func (s *Store) saveShard(prefix string, sh shard) error {
	path := s.shardPath(prefix)
	if err := s.writeJSON(path, sh); err != nil {
		s.cache.drop(prefix)
		return storeErr("write hashlist shard "+prefix, err)
	}
	info, err := os.Stat(path)
	if err != nil {
		s.cache.drop(prefix)
		return nil
	}
	s.cache.put(prefix, sh, info)
	return nil
}

func (s *Store) loadIndex() (index, error) {
	idx := make(index)
	if _, err := fileutil.ReadJSON(filepath.Join(s.dir, indexFile), &idx); err != nil {
		return nil, storeErr("read hashlist index", err)
	}
	return idx, nil
}

func storeErr(op string, err error) error {
	return fmt.Errorf("%s: %w: %v", op, models.ErrStoreUnavailable, err)
}
