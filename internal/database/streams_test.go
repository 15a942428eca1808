package database

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Zerr0-C00L/streamgate/internal/models"
	"github.com/Zerr0-C00L/streamgate/internal/release"
)

func hashOf(c byte) string {
	return strings.Repeat(string(c), 40)
}

func newTestStreamStore(t *testing.T) (*StreamStore, *time.Time) {
	t.Helper()
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	store := NewStreamStore(openTestDB(t), release.MustCompile(release.DefaultPatterns())).
		WithClock(func() time.Time { return now })
	return store, &now
}

func movieKey(id string) models.ContentKey {
	return models.ContentKey{ContentID: id, MediaType: models.MediaMovie}
}

func TestStreamStore_SaveThenGetSortsAndFilters(t *testing.T) {
	store, _ := newTestStreamStore(t)
	ctx := context.Background()
	key := movieKey("tt0133093")

	candidates := []models.StreamRecord{
		{Title: "The Matrix 1999 720p", Quality: models.Quality720P, Size: "1.2 GB", SizeBytes: release.ParseSize("1.2 GB"), Hash: hashOf('a')},
		{Title: "500 Movies Collection Part 3", Quality: models.Quality1080P, SizeBytes: release.ParseSize("400 GB"), Hash: hashOf('b')},
		{Title: "The Matrix 1999 1080p BluRay small", Quality: models.Quality1080P, SizeBytes: release.ParseSize("2 GB"), Hash: hashOf('c')},
		{Title: "The Matrix 1999 1080p BluRay big", Quality: models.Quality1080P, SizeBytes: release.ParseSize("9 GB"), Hash: strings.ToUpper(hashOf('d'))},
		{Title: "The Matrix 2160p", Quality: models.Quality2160P, SizeBytes: release.ParseSize("20 GB"), Hash: hashOf('e')},
		{Title: "no hash, display only", Quality: models.Quality2160P},
	}

	n, err := store.SaveStreams(ctx, key, candidates)
	require.NoError(t, err)
	assert.Equal(t, 5, n)

	got, err := store.GetStreams(ctx, key)
	require.NoError(t, err)
	require.Len(t, got, 4)

	assert.Equal(t, hashOf('e'), got[0].Hash)
	assert.Equal(t, hashOf('d'), got[1].Hash, "hashes are stored lowercase")
	assert.Equal(t, hashOf('c'), got[2].Hash)
	assert.Equal(t, hashOf('a'), got[3].Hash)
	assert.Nil(t, got[0].Season)
	assert.Equal(t, "1.2 GB", got[3].Size)
}

func TestStreamStore_SaveReplacesPreviousRecords(t *testing.T) {
	store, _ := newTestStreamStore(t)
	ctx := context.Background()
	key := movieKey("tt0133093")

	_, err := store.SaveStreams(ctx, key, []models.StreamRecord{
		{Title: "A 1080p", Quality: models.Quality1080P, Hash: hashOf('a')},
		{Title: "B 720p", Quality: models.Quality720P, Hash: hashOf('b')},
	})
	require.NoError(t, err)

	got, err := store.GetStreams(ctx, key)
	require.NoError(t, err)
	require.Len(t, got, 2)

	_, err = store.SaveStreams(ctx, key, []models.StreamRecord{
		{Title: "C 480p", Quality: models.Quality480P, Hash: hashOf('c')},
	})
	require.NoError(t, err)

	got, err = store.GetStreams(ctx, key)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, hashOf('c'), got[0].Hash)
}

func TestStreamStore_SaveSkipsDuplicateHashes(t *testing.T) {
	store, _ := newTestStreamStore(t)
	ctx := context.Background()
	key := movieKey("tt0133093")

	n, err := store.SaveStreams(ctx, key, []models.StreamRecord{
		{Title: "A 1080p", Quality: models.Quality1080P, Hash: hashOf('a')},
		{Title: "A again", Quality: models.Quality720P, Hash: hashOf('a')},
	})
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestStreamStore_KeysAreIsolatedBySeasonAndEpisode(t *testing.T) {
	store, _ := newTestStreamStore(t)
	ctx := context.Background()

	e1 := models.ContentKey{ContentID: "tt0944947", MediaType: models.MediaSeries, Season: models.IntPtr(1), Episode: models.IntPtr(1)}
	e2 := models.ContentKey{ContentID: "tt0944947", MediaType: models.MediaSeries, Season: models.IntPtr(1), Episode: models.IntPtr(2)}

	_, err := store.SaveStreams(ctx, e1, []models.StreamRecord{{Title: "S01E01 1080p", Quality: models.Quality1080P, Hash: hashOf('a')}})
	require.NoError(t, err)
	_, err = store.SaveStreams(ctx, e2, []models.StreamRecord{{Title: "S01E02 1080p", Quality: models.Quality1080P, Hash: hashOf('a')}})
	require.NoError(t, err)

	got, err := store.GetStreams(ctx, e1)
	require.NoError(t, err)
	require.Len(t, got, 1)
	require.NotNil(t, got[0].Episode)
	assert.Equal(t, 1, *got[0].Episode)
}

func TestStreamStore_HasValidStreamsHonoursTTL(t *testing.T) {
	store, now := newTestStreamStore(t)
	ctx := context.Background()
	key := movieKey("tt0133093")
	ttl := 24 * time.Hour

	ok, err := store.HasValidStreams(ctx, key, ttl)
	require.NoError(t, err)
	assert.False(t, ok, "no records means not valid")

	_, err = store.SaveStreams(ctx, key, []models.StreamRecord{{Title: "A 1080p", Quality: models.Quality1080P, Hash: hashOf('a')}})
	require.NoError(t, err)

	ok, err = store.HasValidStreams(ctx, key, ttl)
	require.NoError(t, err)
	assert.True(t, ok)

	*now = now.Add(ttl - time.Second)
	ok, err = store.HasValidStreams(ctx, key, ttl)
	require.NoError(t, err)
	assert.True(t, ok)

	*now = now.Add(time.Second)
	ok, err = store.HasValidStreams(ctx, key, ttl)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestStreamStore_PruneAndStats(t *testing.T) {
	store, now := newTestStreamStore(t)
	ctx := context.Background()

	_, err := store.SaveStreams(ctx, movieKey("tt1"), []models.StreamRecord{
		{Title: "A 1080p", Quality: models.Quality1080P, SizeBytes: 100, Hash: hashOf('a')},
		{Title: "B 2160p", Quality: models.Quality2160P, SizeBytes: 200, Hash: hashOf('b')},
	})
	require.NoError(t, err)

	*now = now.Add(48 * time.Hour)
	_, err = store.SaveStreams(ctx, movieKey("tt2"), []models.StreamRecord{
		{Title: "C 720p", Quality: models.Quality720P, SizeBytes: 50, Hash: hashOf('c')},
	})
	require.NoError(t, err)

	stats, err := store.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, stats.Total)
	assert.Equal(t, 2, stats.Keys)
	assert.Equal(t, int64(350), stats.TotalBytes)
	assert.Equal(t, 1, stats.ByQuality["2160P"])

	removed, err := store.PruneExpired(ctx, 24*time.Hour)
	require.NoError(t, err)
	assert.Equal(t, int64(2), removed)

	got, err := store.GetStreams(ctx, movieKey("tt2"))
	require.NoError(t, err)
	assert.Len(t, got, 1)
}

func TestStreamStore_RejectsInvalidKeys(t *testing.T) {
	store, _ := newTestStreamStore(t)
	ctx := context.Background()

	_, err := store.GetStreams(ctx, models.ContentKey{MediaType: models.MediaMovie})
	assert.ErrorIs(t, err, models.ErrInvalidInput)

	_, err = store.SaveStreams(ctx, models.ContentKey{ContentID: "tt1", MediaType: models.MediaSeries}, nil)
	assert.ErrorIs(t, err, models.ErrInvalidInput)
}

func TestStreamStore_ClosedDatabaseIsStoreError(t *testing.T) {
	store, _ := newTestStreamStore(t)
	require.NoError(t, store.db.Close())

	_, err := store.GetStreams(context.Background(), movieKey("tt1"))
	require.Error(t, err)
	assert.ErrorIs(t, err, models.ErrStoreUnavailable)
	assert.NotErrorIs(t, err, models.ErrNotFound)
}
