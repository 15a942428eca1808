package hashlist

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Zerr0-C00L/streamgate/internal/fileutil"
	"github.com/Zerr0-C00L/streamgate/internal/models"
)

func hashOf(prefix string, c byte) string {
	return prefix + strings.Repeat(string(c), hashLength-len(prefix))
}

func newTestStore(t *testing.T, opts Options) *Store {
	t.Helper()
	store, err := NewStore(t.TempDir(), opts)
	require.NoError(t, err)
	return store
}

func TestAddHash_CaseInsensitiveAndCounted(t *testing.T) {
	store := newTestStore(t, Options{})
	hash := hashOf("ab", 'c')

	ok, err := store.AddHash(models.HashlistEntry{Hash: strings.ToUpper(hash), Filename: "Movie.2020.1080p.mkv", ExternalID: "tt1"})
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = store.AddHash(models.HashlistEntry{Hash: hash, ExternalID: "tt1"})
	require.NoError(t, err)
	assert.True(t, ok)

	got, err := store.FindByExternalID("tt1", nil, nil)
	require.NoError(t, err)
	require.Len(t, got, 1, "index must not hold the same hash twice")
	assert.Equal(t, hash, got[0].Hash)
	assert.Equal(t, 2, got[0].UseCount)
	assert.Equal(t, models.Quality1080P, got[0].Quality)
	assert.Equal(t, "Movie.2020.1080p.mkv", got[0].Filename)

	st, err := store.Stats()
	require.NoError(t, err)
	assert.Equal(t, 1, st.Entries)
	assert.Equal(t, 1, st.Shards)
	assert.Equal(t, 1, st.ExternalIDs)
}

func TestAddHash_RejectsInvalidHashes(t *testing.T) {
	store := newTestStore(t, Options{})

	for _, h := range []string{"", "abc", strings.Repeat("z", 40), strings.Repeat("a", 41)} {
		ok, err := store.AddHash(models.HashlistEntry{Hash: h, ExternalID: "tt1"})
		assert.False(t, ok, h)
		assert.ErrorIs(t, err, models.ErrInvalidInput, h)
	}

	st, err := store.Stats()
	require.NoError(t, err)
	assert.Zero(t, st.Entries)
	assert.Zero(t, st.ExternalIDs)
}

func TestAddHash_BackfillsExternalID(t *testing.T) {
	store := newTestStore(t, Options{})
	hash := hashOf("01", 'f')

	_, err := store.AddHash(models.HashlistEntry{Hash: hash, Filename: "x.mkv"})
	require.NoError(t, err)
	_, err = store.AddHash(models.HashlistEntry{Hash: hash, ExternalID: "tt9"})
	require.NoError(t, err)

	got, err := store.FindByExternalID("tt9", nil, nil)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "tt9", got[0].ExternalID)
}

func TestFindByExternalID_SortsByQualityThenUse(t *testing.T) {
	store := newTestStore(t, Options{})
	add := func(hash, filename string, times int) {
		for i := 0; i < times; i++ {
			_, err := store.AddHash(models.HashlistEntry{Hash: hash, Filename: filename, ExternalID: "tt1"})
			require.NoError(t, err)
		}
	}
	add(hashOf("10", 'a'), "Film.720p.mkv", 5)
	add(hashOf("20", 'b'), "Film.2160p.mkv", 1)
	add(hashOf("30", 'c'), "Film.1080p.x264.mkv", 1)
	add(hashOf("40", 'd'), "Film.1080p.x265.mkv", 3)

	got, err := store.FindByExternalID("tt1", nil, nil)
	require.NoError(t, err)
	require.Len(t, got, 4)
	assert.Equal(t, hashOf("20", 'b'), got[0].Hash)
	assert.Equal(t, hashOf("40", 'd'), got[1].Hash)
	assert.Equal(t, hashOf("30", 'c'), got[2].Hash)
	assert.Equal(t, hashOf("10", 'a'), got[3].Hash)
}

func TestFindByExternalID_EpisodeFiltering(t *testing.T) {
	entries := []models.HashlistEntry{
		{Hash: hashOf("a1", '0'), Filename: "Show.S01E01.1080p.mkv", ExternalID: "tt2", Season: models.IntPtr(1), Episode: models.IntPtr(1)},
		{Hash: hashOf("a2", '0'), Filename: "Show.S01E02.1080p.mkv", ExternalID: "tt2", Season: models.IntPtr(1), Episode: models.IntPtr(2)},
		{Hash: hashOf("a3", '0'), Filename: "Show.Complete.720p", ExternalID: "tt2"},
	}

	t.Run("lenient keeps entries without position", func(t *testing.T) {
		store := newTestStore(t, Options{})
		for _, e := range entries {
			_, err := store.AddHash(e)
			require.NoError(t, err)
		}
		got, err := store.FindByExternalID("tt2", models.IntPtr(1), models.IntPtr(1))
		require.NoError(t, err)
		require.Len(t, got, 2)
		assert.Equal(t, hashOf("a1", '0'), got[0].Hash)
		assert.Equal(t, hashOf("a3", '0'), got[1].Hash)
	})

	t.Run("strict drops entries without position", func(t *testing.T) {
		store := newTestStore(t, Options{StrictEpisodeMatch: true})
		for _, e := range entries {
			_, err := store.AddHash(e)
			require.NoError(t, err)
		}
		got, err := store.FindByExternalID("tt2", models.IntPtr(1), models.IntPtr(2))
		require.NoError(t, err)
		require.Len(t, got, 1)
		assert.Equal(t, hashOf("a2", '0'), got[0].Hash)
	})
}

func TestFindByExternalID_UnknownIDIsEmpty(t *testing.T) {
	store := newTestStore(t, Options{})
	got, err := store.FindByExternalID("tt404", nil, nil)
	require.NoError(t, err)
	assert.Empty(t, got)

	_, err = store.FindByExternalID(" ", nil, nil)
	assert.ErrorIs(t, err, models.ErrInvalidInput)
}

func TestStore_ShardsAreKeyedByPrefix(t *testing.T) {
	dir := t.TempDir()
	store, err := NewStore(dir, Options{})
	require.NoError(t, err)

	_, err = store.AddHash(models.HashlistEntry{Hash: hashOf("ab", '1')})
	require.NoError(t, err)
	_, err = store.AddHash(models.HashlistEntry{Hash: hashOf("ab", '2')})
	require.NoError(t, err)
	_, err = store.AddHash(models.HashlistEntry{Hash: hashOf("cd", '3')})
	require.NoError(t, err)

	raw, err := os.ReadFile(filepath.Join(dir, "shards", "ab.json"))
	require.NoError(t, err)
	var sh map[string]models.HashlistEntry
	require.NoError(t, json.Unmarshal(raw, &sh))
	assert.Len(t, sh, 2)
	assert.FileExists(t, filepath.Join(dir, "shards", "cd.json"))
}

func TestStore_ShardCacheIsFIFOAndBounded(t *testing.T) {
	store := newTestStore(t, Options{ShardCacheSize: 50})
	require.Equal(t, MaxShardCache, store.opts.ShardCacheSize)

	prefixes := []string{"00", "11", "22", "33", "44", "55", "66"}
	for _, p := range prefixes {
		_, err := store.AddHash(models.HashlistEntry{Hash: hashOf(p, 'e')})
		require.NoError(t, err)
	}
	assert.Equal(t, []string{"22", "33", "44", "55", "66"}, store.cache.keys())

	// Writing to a cached shard keeps its load position.
	_, err := store.AddHash(models.HashlistEntry{Hash: hashOf("22", 'f')})
	require.NoError(t, err)
	assert.Equal(t, []string{"22", "33", "44", "55", "66"}, store.cache.keys())

	_, err = store.AddHash(models.HashlistEntry{Hash: hashOf("77", 'e')})
	require.NoError(t, err)
	assert.Equal(t, []string{"33", "44", "55", "66", "77"}, store.cache.keys())
}

func TestStore_SeesWritesFromAnotherHandle(t *testing.T) {
	dir := t.TempDir()
	first, err := NewStore(dir, Options{})
	require.NoError(t, err)
	second, err := NewStore(dir, Options{})
	require.NoError(t, err)

	hash := hashOf("ab", '5')
	_, err = first.AddHash(models.HashlistEntry{Hash: hash, ExternalID: "tt3"})
	require.NoError(t, err)
	got, err := second.FindByExternalID("tt3", nil, nil)
	require.NoError(t, err)
	require.Len(t, got, 1)

	_, err = first.AddHash(models.HashlistEntry{Hash: hashOf("ab", '6'), ExternalID: "tt3"})
	require.NoError(t, err)
	got, err = second.FindByExternalID("tt3", nil, nil)
	require.NoError(t, err)
	assert.Len(t, got, 2)
}

func TestAddHash_FailedShardWriteLeavesCacheUntouched(t *testing.T) {
	dir := t.TempDir()
	store, err := NewStore(dir, Options{})
	require.NoError(t, err)
	hash := hashOf("cd", '1')

	_, err = store.AddHash(models.HashlistEntry{Hash: hash, Filename: "Show.S01E01.720p.mkv", ExternalID: "tt5"})
	require.NoError(t, err)

	store.writeJSON = func(path string, v any) error {
		if filepath.Base(filepath.Dir(path)) == shardsDir {
			return errors.New("disk full")
		}
		return fileutil.WriteJSONAtomic(path, v)
	}
	_, err = store.AddHash(models.HashlistEntry{Hash: hash, ExternalID: "tt5"})
	assert.ErrorIs(t, err, models.ErrStoreUnavailable)
	_, err = store.AddHash(models.HashlistEntry{Hash: hashOf("cd", '2'), ExternalID: "tt5"})
	assert.ErrorIs(t, err, models.ErrStoreUnavailable)

	got, err := store.FindByExternalID("tt5", nil, nil)
	require.NoError(t, err)
	require.Len(t, got, 1, "the entry that never reached disk is not served")
	assert.Equal(t, 1, got[0].UseCount)

	fresh, err := NewStore(dir, Options{})
	require.NoError(t, err)
	got, err = fresh.FindByExternalID("tt5", nil, nil)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, 1, got[0].UseCount)

	store.writeJSON = fileutil.WriteJSONAtomic
	_, err = store.AddHash(models.HashlistEntry{Hash: hash, ExternalID: "tt5"})
	require.NoError(t, err)
	got, err = fresh.FindByExternalID("tt5", nil, nil)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, 2, got[0].UseCount, "only the successful write is counted")
}

func TestAddHash_RetryAfterIndexFailureCountsOnce(t *testing.T) {
	store := newTestStore(t, Options{})
	hash := hashOf("ef", '3')

	store.writeJSON = func(path string, v any) error {
		if filepath.Base(path) == indexFile {
			return errors.New("disk full")
		}
		return fileutil.WriteJSONAtomic(path, v)
	}
	_, err := store.AddHash(models.HashlistEntry{Hash: hash, ExternalID: "tt6"})
	assert.ErrorIs(t, err, models.ErrStoreUnavailable)

	store.writeJSON = fileutil.WriteJSONAtomic
	_, err = store.AddHash(models.HashlistEntry{Hash: hash, ExternalID: "tt6"})
	require.NoError(t, err)

	got, err := store.FindByExternalID("tt6", nil, nil)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, 1, got[0].UseCount)
}

func TestStore_UsesInjectedClock(t *testing.T) {
	at := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	store := newTestStore(t, Options{})
	store.WithClock(func() time.Time { return at })

	_, err := store.AddHash(models.HashlistEntry{Hash: hashOf("99", '9'), ExternalID: "tt4"})
	require.NoError(t, err)
	got, err := store.FindByExternalID("tt4", nil, nil)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.True(t, got[0].AddedAt.Equal(at))
	assert.True(t, got[0].LastUsedAt.Equal(at))
}

func TestExportImport_RoundTrip(t *testing.T) {
	ctx := context.Background()
	src := newTestStore(t, Options{})
	for _, h := range []string{hashOf("aa", '1'), hashOf("bb", '2'), hashOf("cc", '3')} {
		_, err := src.AddHash(models.HashlistEntry{Hash: h, Filename: h[:4] + ".mkv", Bytes: 1024})
		require.NoError(t, err)
	}

	blob, err := src.ExportCompressed(ctx)
	require.NoError(t, err)
	require.NotEmpty(t, blob)

	dst := newTestStore(t, Options{})
	n, err := dst.ImportCompressed(ctx, blob)
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	again, err := dst.ExportCompressed(ctx)
	require.NoError(t, err)
	assert.Equal(t, blob, again)
}

func TestImportCompressed_SkipsInvalidHashes(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t, Options{})
	payload, err := json.Marshal([]ExportItem{
		{Hash: hashOf("de", 'a'), Filename: "ok.mkv"},
		{Hash: "nothex", Filename: "bad.mkv"},
	})
	require.NoError(t, err)
	blob, err := GzipCompressor{}.Compress(ctx, string(payload))
	require.NoError(t, err)

	n, err := store.ImportCompressed(ctx, blob)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	_, err = store.ImportCompressed(ctx, "!!not base64!!")
	assert.ErrorIs(t, err, models.ErrInvalidInput)
}

func TestExecCompressor_PipesThroughCommand(t *testing.T) {
	ctx := context.Background()
	c := ExecCompressor{Command: "sh", Args: []string{"-c", "cat"}}

	out, err := c.Compress(ctx, `[{"hash":"x"}]`)
	require.NoError(t, err)
	assert.Equal(t, `[{"hash":"x"}]`, out)

	_, err = ExecCompressor{}.Compress(ctx, "x")
	assert.Error(t, err)
}
