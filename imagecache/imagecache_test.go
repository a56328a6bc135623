package imagecache

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Gihanga-Institute-of-Contemporary-Art/GICA-Frontend/logger"
)

func newImageServer(t *testing.T, body []byte) (*httptest.Server, *int64) {
	t.Helper()
	var calls int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt64(&calls, 1)
		w.Header().Set("Content-Type", "image/jpeg")
		w.Write(body)
	}))
	t.Cleanup(srv.Close)
	return srv, &calls
}

func newTestCache(t *testing.T, store BlobStore, opts ...Option) *Cache {
	t.Helper()
	opts = append([]Option{WithLogger(logger.NewTestLogger())}, opts...)
	return New(store, opts...)
}

func TestKeyIsDeterministic(t *testing.T) {
	a := Key("https://cdn.example.test/artworks/opening.jpg")
	b := Key("https://cdn.example.test/artworks/opening.jpg")
	assert.Equal(t, a, b)
	assert.True(t, strings.HasSuffix(a, ".jpg"))

	other := Key("https://cdn.example.test/artworks/closing.jpg")
	assert.NotEqual(t, a, other)
}

func TestKeyIgnoresQueryForExtension(t *testing.T) {
	key := Key("https://cdn.example.test/photo.png?w=1200")
	assert.True(t, strings.HasSuffix(key, ".png"))
}

func TestCacheImageRejectsRelativeURL(t *testing.T) {
	c := newTestCache(t, NewMemoryStore())
	res := c.CacheImage(context.Background(), "/images/local.jpg")
	assert.Equal(t, "/images/local.jpg", res.URL)
	assert.False(t, res.Cached)
	assert.Error(t, res.Err)
}

func TestCacheImageRejectsUnknownExtension(t *testing.T) {
	c := newTestCache(t, NewMemoryStore())
	res := c.CacheImage(context.Background(), "https://cdn.example.test/video.mp4")
	assert.Equal(t, "https://cdn.example.test/video.mp4", res.URL)
	assert.False(t, res.Cached)
	assert.Error(t, res.Err)
}

func TestCacheImageDownloadsAndRewrites(t *testing.T) {
	body := []byte("jpeg-bytes")
	srv, calls := newImageServer(t, body)
	sourceURL := srv.URL + "/artworks/opening.jpg"

	c := newTestCache(t, NewMemoryStore())
	res := c.CacheImage(context.Background(), sourceURL)

	require.NoError(t, res.Err)
	assert.True(t, res.Cached)
	assert.Equal(t, int64(len(body)), res.Size)
	assert.Equal(t, DefaultPublicPrefix+"/"+Key(sourceURL), res.URL)
	assert.Equal(t, int64(1), atomic.LoadInt64(calls))
}

func TestCacheImageIsIdempotentWithinTTL(t *testing.T) {
	srv, calls := newImageServer(t, []byte("jpeg-bytes"))
	sourceURL := srv.URL + "/artworks/opening.jpg"

	c := newTestCache(t, NewMemoryStore())
	first := c.CacheImage(context.Background(), sourceURL)
	second := c.CacheImage(context.Background(), sourceURL)

	assert.True(t, first.Cached)
	assert.True(t, second.Cached)
	assert.Equal(t, first.URL, second.URL)
	// Exactly one network fetch: the second call is a hit.
	assert.Equal(t, int64(1), atomic.LoadInt64(calls))
}

func TestCacheImageRefetchesWhenStale(t *testing.T) {
	srv, calls := newImageServer(t, []byte("jpeg-bytes"))
	sourceURL := srv.URL + "/artworks/opening.jpg"

	c := newTestCache(t, NewMemoryStore(), WithTTL(time.Millisecond*5))
	c.CacheImage(context.Background(), sourceURL)
	time.Sleep(time.Millisecond * 10)
	res := c.CacheImage(context.Background(), sourceURL)

	assert.True(t, res.Cached)
	assert.Equal(t, int64(2), atomic.LoadInt64(calls))
}

func TestCacheImageRejectsOversizedAsset(t *testing.T) {
	srv, _ := newImageServer(t, []byte(strings.Repeat("x", 2048)))
	sourceURL := srv.URL + "/artworks/huge.jpg"

	c := newTestCache(t, NewMemoryStore(), WithMaxBytes(1024))
	res := c.CacheImage(context.Background(), sourceURL)

	assert.False(t, res.Cached)
	assert.Equal(t, sourceURL, res.URL)
	assert.Error(t, res.Err)

	// Nothing was persisted.
	stats, err := c.Stats(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, stats.Entries)
}

func TestCacheImageServerFailureDegrades(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "gone", http.StatusInternalServerError)
	}))
	defer srv.Close()
	sourceURL := srv.URL + "/artworks/missing.jpg"

	c := newTestCache(t, NewMemoryStore())
	res := c.CacheImage(context.Background(), sourceURL)

	assert.False(t, res.Cached)
	assert.Equal(t, sourceURL, res.URL)
	assert.Error(t, res.Err)
}

func TestCacheImagesAlignedToInput(t *testing.T) {
	srv, _ := newImageServer(t, []byte("jpeg-bytes"))

	urls := []string{
		srv.URL + "/a.jpg",
		"not-absolute.jpg",
		srv.URL + "/b.png",
	}

	c := newTestCache(t, NewMemoryStore())
	results := c.CacheImages(context.Background(), urls)

	require.Len(t, results, 3)
	assert.True(t, results[0].Cached)
	assert.False(t, results[1].Cached)
	assert.Equal(t, "not-absolute.jpg", results[1].URL)
	assert.True(t, results[2].Cached)
}

func TestStatsAndCleanup(t *testing.T) {
	srv, _ := newImageServer(t, []byte("jpeg-bytes"))

	c := newTestCache(t, NewMemoryStore(), WithTTL(time.Millisecond*5))
	for i := 0; i < 3; i++ {
		res := c.CacheImage(context.Background(), fmt.Sprintf("%s/asset-%d.jpg", srv.URL, i))
		require.True(t, res.Cached)
	}

	stats, err := c.Stats(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 3, stats.Entries)
	assert.Equal(t, int64(3*len("jpeg-bytes")), stats.Bytes)

	time.Sleep(time.Millisecond * 10)
	removed, err := c.Cleanup(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 3, removed)

	stats, err = c.Stats(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, stats.Entries)
}

func TestPurge(t *testing.T) {
	srv, _ := newImageServer(t, []byte("jpeg-bytes"))

	c := newTestCache(t, NewMemoryStore())
	c.CacheImage(context.Background(), srv.URL+"/a.jpg")
	require.NoError(t, c.Purge(context.Background()))

	stats, err := c.Stats(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, stats.Entries)
}

// The same behavior must hold over both blob stores, since the store is
// selected by deployment configuration.
func TestStoresAreInterchangeable(t *testing.T) {
	stores := map[string]func(t *testing.T) BlobStore{
		"memory": func(t *testing.T) BlobStore { return NewMemoryStore() },
		"filesystem": func(t *testing.T) BlobStore {
			store, err := NewFilesystemStore(t.TempDir())
			require.NoError(t, err)
			return store
		},
	}

	for name, newStore := range stores {
		t.Run(name, func(t *testing.T) {
			srv, calls := newImageServer(t, []byte("jpeg-bytes"))
			sourceURL := srv.URL + "/artworks/opening.jpg"

			c := newTestCache(t, newStore(t))
			first := c.CacheImage(context.Background(), sourceURL)
			second := c.CacheImage(context.Background(), sourceURL)

			assert.True(t, first.Cached)
			assert.True(t, second.Cached)
			assert.Equal(t, int64(1), atomic.LoadInt64(calls))

			stats, err := c.Stats(context.Background())
			require.NoError(t, err)
			assert.Equal(t, 1, stats.Entries)
		})
	}
}

func TestBlobStoreRoundTrip(t *testing.T) {
	for name, store := range map[string]BlobStore{
		"memory": NewMemoryStore(),
	} {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			data, found, err := store.Get(ctx, "missing")
			require.NoError(t, err)
			assert.False(t, found)
			assert.Nil(t, data)

			require.NoError(t, store.Put(ctx, "key.jpg", []byte("abc")))
			data, found, err = store.Get(ctx, "key.jpg")
			require.NoError(t, err)
			assert.True(t, found)
			assert.Equal(t, []byte("abc"), data)

			ok, err := store.Delete(ctx, "key.jpg")
			require.NoError(t, err)
			assert.True(t, ok)
			ok, err = store.Delete(ctx, "key.jpg")
			require.NoError(t, err)
			assert.False(t, ok)
		})
	}
}

// failingDeleteStore refuses to delete keys with a given suffix.
type failingDeleteStore struct {
	BlobStore
	failSuffix string
}

func (s *failingDeleteStore) Delete(ctx context.Context, key string) (bool, error) {
	if strings.HasSuffix(key, s.failSuffix) {
		return false, fmt.Errorf("delete refused for %s", key)
	}
	return s.BlobStore.Delete(ctx, key)
}

func TestCleanupReportsMetadataDeleteFailure(t *testing.T) {
	srv, _ := newImageServer(t, []byte("jpeg-bytes"))
	store := &failingDeleteStore{BlobStore: NewMemoryStore(), failSuffix: metaSuffix}
	c := newTestCache(t, store, WithTTL(time.Nanosecond))

	res := c.CacheImage(context.Background(), srv.URL+"/hero.jpg")
	require.NoError(t, res.Err)

	removed, err := c.Cleanup(context.Background())
	require.Error(t, err)
	assert.Equal(t, 0, removed)
}
