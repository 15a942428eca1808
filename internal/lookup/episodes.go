// Package lookup keeps the episode-id lookup table: a flat JSON file mapping
// provider episode ids to their series position and external id.
package lookup

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"sync"

	"github.com/gofrs/flock"

	"github.com/Zerr0-C00L/streamgate/internal/fileutil"
	"github.com/Zerr0-C00L/streamgate/internal/models"
)

// Entry is one row of the lookup table.
type Entry struct {
	SeriesID   int    `json:"series_id"`
	Season     int    `json:"season"`
	Episode    int    `json:"episode"`
	ExternalID string `json:"external_id,omitempty"`
}

// EpisodeTable guards every read-modify-write with an in-process mutex and an
// exclusive lock file, so other processes sharing the data dir see whole files.
type EpisodeTable struct {
	path string
	mu   sync.Mutex
	lock *flock.Flock
}

func NewEpisodeTable(path string) (*EpisodeTable, error) {
	if path == "" {
		return nil, fmt.Errorf("episode lookup path is required: %w", models.ErrInvalidInput)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create lookup directory: %w", err)
	}
	return &EpisodeTable{
		path: path,
		lock: flock.New(path + ".lock"),
	}, nil
}

// Get returns models.ErrNotFound for unknown episode ids.
func (t *EpisodeTable) Get(episodeID int) (Entry, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if err := t.lock.RLock(); err != nil {
		return Entry{}, fmt.Errorf("lock episode lookup: %w: %v", models.ErrStoreUnavailable, err)
	}
	defer t.lock.Unlock()

	table, err := t.read()
	if err != nil {
		return Entry{}, err
	}
	e, ok := table[strconv.Itoa(episodeID)]
	if !ok {
		return Entry{}, fmt.Errorf("episode %d: %w", episodeID, models.ErrNotFound)
	}
	return e, nil
}

// Merge adds or replaces entries and writes the table back atomically.
// It returns the table size after the merge.
func (t *EpisodeTable) Merge(entries map[int]Entry) (int, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if err := t.lock.Lock(); err != nil {
		return 0, fmt.Errorf("lock episode lookup: %w: %v", models.ErrStoreUnavailable, err)
	}
	defer t.lock.Unlock()

	table, err := t.read()
	if err != nil {
		return 0, err
	}
	for id, e := range entries {
		table[strconv.Itoa(id)] = e
	}
	if err := fileutil.WriteJSONAtomic(t.path, table); err != nil {
		return 0, fmt.Errorf("write episode lookup: %w: %v", models.ErrStoreUnavailable, err)
	}
	return len(table), nil
}

func (t *EpisodeTable) read() (map[string]Entry, error) {
	table := make(map[string]Entry)
	if _, err := fileutil.ReadJSON(t.path, &table); err != nil {
		return nil, fmt.Errorf("read episode lookup: %w: %v", models.ErrStoreUnavailable, err)
	}
	return table, nil
}
