package providers

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	bolt "go.etcd.io/bbolt"
)

// DefaultResponseTTL bounds how long a raw addon reply is reused.
const DefaultResponseTTL = 30 * time.Minute

var bucketResponses = []byte("responses")

type cachedResponse struct {
	Streams  []cachedStream `json:"streams"`
	StoredAt time.Time      `json:"stored_at"`
}

// cachedStream keeps the provider name, which RawStream does not encode.
type cachedStream struct {
	RawStream
	Provider string `json:"provider"`
}

// ResponseCache persists successful addon replies in a bbolt file so short
// restarts do not hit upstreams again.
type ResponseCache struct {
	db  *bolt.DB
	ttl time.Duration
	now func() time.Time
}

func OpenResponseCache(path string, ttl time.Duration) (*ResponseCache, error) {
	if ttl <= 0 {
		ttl = DefaultResponseTTL
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create response cache dir: %w", err)
	}
	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: 1 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("open response cache: %w", err)
	}
	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(bucketResponses)
		return err
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("create response bucket: %w", err)
	}
	return &ResponseCache{db: db, ttl: ttl, now: time.Now}, nil
}

func (c *ResponseCache) Close() error {
	if c == nil || c.db == nil {
		return nil
	}
	return c.db.Close()
}

func cacheKey(provider string, req StreamRequest) []byte {
	return []byte(provider + "|" + req.Key())
}

// Get returns a fresh cached reply. Misses, expired and unreadable entries
// all report false.
func (c *ResponseCache) Get(provider string, req StreamRequest) ([]RawStream, bool) {
	var data []byte
	_ = c.db.View(func(tx *bolt.Tx) error {
		if v := tx.Bucket(bucketResponses).Get(cacheKey(provider, req)); v != nil {
			data = make([]byte, len(v))
			copy(data, v)
		}
		return nil
	})
	if data == nil {
		return nil, false
	}

	var entry cachedResponse
	if err := json.Unmarshal(data, &entry); err != nil {
		return nil, false
	}
	if c.now().Sub(entry.StoredAt) >= c.ttl {
		return nil, false
	}
	out := make([]RawStream, len(entry.Streams))
	for i, s := range entry.Streams {
		out[i] = s.RawStream
		out[i].Provider = s.Provider
	}
	return out, true
}

func (c *ResponseCache) Put(provider string, req StreamRequest, streams []RawStream) error {
	entry := cachedResponse{StoredAt: c.now().UTC()}
	for _, s := range streams {
		entry.Streams = append(entry.Streams, cachedStream{RawStream: s, Provider: s.Provider})
	}
	data, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("encode cached response: %w", err)
	}
	return c.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketResponses).Put(cacheKey(provider, req), data)
	})
}

// Purge drops expired entries and returns how many were removed.
func (c *ResponseCache) Purge() (int, error) {
	removed := 0
	err := c.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketResponses)
		var stale [][]byte
		err := b.ForEach(func(k, v []byte) error {
			var entry cachedResponse
			if err := json.Unmarshal(v, &entry); err != nil || c.now().Sub(entry.StoredAt) >= c.ttl {
				stale = append(stale, append([]byte(nil), k...))
			}
			return nil
		})
		if err != nil {
			return err
		}
		for _, k := range stale {
			if err := b.Delete(k); err != nil {
				return err
			}
		}
		removed = len(stale)
		return nil
	})
	return removed, err
}
