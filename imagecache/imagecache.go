// Package imagecache downloads remote assets once, persists them locally,
// and rewrites their URLs to local paths.
//
// A cache key is derived from a hash of the source URL plus its extension,
// so repeated requests for the same URL resolve to the same local artifact
// no matter the call order or concurrency. Freshness comes from a msgpack
// sidecar metadata record next to each blob, not from filesystem mtimes.
// A single image's failure never propagates: the result degrades to the
// original remote URL and the surrounding page-data fetch proceeds.
package imagecache

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"path"
	"strings"
	"time"

	"github.com/cespare/xxhash/v2"
	"github.com/cockroachdb/errors"
	"github.com/vmihailenco/msgpack/v5"
	"golang.org/x/sync/singleflight"

	"github.com/Gihanga-Institute-of-Contemporary-Art/GICA-Frontend/batch"
	"github.com/Gihanga-Institute-of-Contemporary-Art/GICA-Frontend/logger"
)

const (
	// DefaultTTL is how long a cached asset stays fresh.
	DefaultTTL = 24 * time.Hour
	// DefaultMaxBytes caps a single asset download.
	DefaultMaxBytes = 10 << 20
	// DefaultConcurrency is the window size for batched caching.
	DefaultConcurrency = 5
	// DefaultPublicPrefix is the path prefix of rewritten asset URLs.
	DefaultPublicPrefix = "/cached-images"

	metaSuffix = ".meta"
)

var defaultExtensions = []string{".jpg", ".jpeg", ".png", ".gif", ".webp", ".avif", ".svg"}

var (
	errNotAbsolute   = errors.New("imagecache: URL is not absolute")
	errBadExtension  = errors.New("imagecache: extension not in allow-list")
	errTooLarge      = errors.New("imagecache: asset exceeds size limit")
	errUnexpectedRes = errors.New("imagecache: unexpected response status")
)

// record is the sidecar metadata stored next to each blob. Staleness is
// decided from CachedAt, independent of filesystem mtimes.
type record struct {
	SourceURL string    `msgpack:"sourceUrl"`
	LocalKey  string    `msgpack:"localKey"`
	CachedAt  time.Time `msgpack:"cachedAt"`
	ByteSize  int64     `msgpack:"byteSize"`
}

// Result is the outcome for one asset. URL is the local path when the asset
// is cached and the original remote URL otherwise; Err carries the reason
// for a degrade and is informational, never fatal.
type Result struct {
	URL    string
	Cached bool
	Size   int64
	Err    error
}

// Stats describes the cache contents.
type Stats struct {
	Entries int
	Bytes   int64
}

type cacheConfig struct {
	ttl          time.Duration
	maxBytes     int64
	concurrency  int
	publicPrefix string
	extensions   []string
	httpClient   *http.Client
	log          logger.Logger
}

// Option configures a Cache.
type Option func(*cacheConfig)

// WithTTL sets how long a cached asset stays fresh. Defaults to DefaultTTL.
func WithTTL(d time.Duration) Option {
	return func(c *cacheConfig) { c.ttl = d }
}

// WithMaxBytes caps the size of a single downloaded asset.
func WithMaxBytes(n int64) Option {
	return func(c *cacheConfig) { c.maxBytes = n }
}

// WithConcurrency sets the batch window size for CacheImages.
func WithConcurrency(n int) Option {
	return func(c *cacheConfig) { c.concurrency = n }
}

// WithPublicPrefix sets the path prefix used when rewriting asset URLs.
func WithPublicPrefix(p string) Option {
	return func(c *cacheConfig) { c.publicPrefix = strings.TrimSuffix(p, "/") }
}

// WithExtensions replaces the allowed extension list.
func WithExtensions(exts []string) Option {
	return func(c *cacheConfig) { c.extensions = exts }
}

// WithHTTPClient replaces the http.Client used for downloads.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *cacheConfig) { c.httpClient = hc }
}

// WithLogger sets the logger.
func WithLogger(log logger.Logger) Option {
	return func(c *cacheConfig) { c.log = log }
}

// Cache downloads, deduplicates, and locally persists remote assets.
type Cache struct {
	store  BlobStore
	cfg    cacheConfig
	flight singleflight.Group
}

// New returns an image cache over the given blob store.
func New(store BlobStore, opts ...Option) *Cache {
	cfg := cacheConfig{
		ttl:          DefaultTTL,
		maxBytes:     DefaultMaxBytes,
		concurrency:  DefaultConcurrency,
		publicPrefix: DefaultPublicPrefix,
		extensions:   defaultExtensions,
		httpClient:   &http.Client{Timeout: 30 * time.Second},
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.log == nil {
		cfg.log = logger.NewConsoleLogger()
	}
	return &Cache{store: store, cfg: cfg}
}

// Key derives the deterministic local key for a source URL: an xxhash of
// the URL plus the URL's extension.
func Key(sourceURL string) string {
	ext := strings.ToLower(path.Ext(strippedPath(sourceURL)))
	return fmt.Sprintf("%016x%s", xxhash.Sum64String(sourceURL), ext)
}

func strippedPath(sourceURL string) string {
	u, err := url.Parse(sourceURL)
	if err != nil {
		return sourceURL
	}
	return u.Path
}

// CacheImage fetches one asset into the local store, or returns the prior
// record when it is still fresh. It never returns an error: a failed or
// rejected asset degrades to the original remote URL with Err set.
func (c *Cache) CacheImage(ctx context.Context, sourceURL string) Result {
	if err := c.validate(sourceURL); err != nil {
		return Result{URL: sourceURL, Err: err}
	}

	key := Key(sourceURL)

	// Concurrent requests for the same URL share one download.
	v, err, _ := c.flight.Do(key, func() (any, error) {
		return c.cacheOne(ctx, sourceURL, key), nil
	})
	if err != nil {
		return Result{URL: sourceURL, Err: err}
	}
	return v.(Result)
}

func (c *Cache) cacheOne(ctx context.Context, sourceURL, key string) Result {
	if rec, ok := c.freshRecord(ctx, key); ok {
		return Result{URL: c.localURL(key), Cached: true, Size: rec.ByteSize}
	}

	data, err := c.download(ctx, sourceURL)
	if err != nil {
		c.cfg.log.Warn("image %s not cached: %v", sourceURL, err)
		return Result{URL: sourceURL, Err: err}
	}

	rec := record{
		SourceURL: sourceURL,
		LocalKey:  key,
		CachedAt:  time.Now(),
		ByteSize:  int64(len(data)),
	}
	if err := c.persist(ctx, key, data, rec); err != nil {
		c.cfg.log.Warn("image %s not persisted: %v", sourceURL, err)
		return Result{URL: sourceURL, Err: err}
	}
	c.cfg.log.Trace("cached image %s as %s (%d bytes)", sourceURL, key, rec.ByteSize)
	return Result{URL: c.localURL(key), Cached: true, Size: rec.ByteSize}
}

// CacheImages pushes a collection of assets through the batch processor so
// a page with many images caches them in parallel without unbounded
// concurrency. The result slice is aligned to the input.
func (c *Cache) CacheImages(ctx context.Context, sourceURLs []string) []Result {
	outcomes, _ := batch.Run(ctx, sourceURLs, func(ctx context.Context, sourceURL string) (Result, error) {
		res := c.CacheImage(ctx, sourceURL)
		return res, nil
	}, batch.Options{Concurrency: c.cfg.concurrency})

	results := make([]Result, len(outcomes))
	for i, outcome := range outcomes {
		results[i] = outcome.Value
	}
	return results
}

// Stats reports cached entry count and total byte size.
func (c *Cache) Stats(ctx context.Context) (Stats, error) {
	keys, err := c.store.Keys(ctx)
	if err != nil {
		return Stats{}, err
	}
	var stats Stats
	for _, key := range keys {
		if strings.HasSuffix(key, metaSuffix) {
			continue
		}
		rec, ok := c.loadRecord(ctx, key)
		if !ok {
			continue
		}
		stats.Entries++
		stats.Bytes += rec.ByteSize
	}
	return stats, nil
}

// Cleanup removes every stale entry and returns how many were removed.
func (c *Cache) Cleanup(ctx context.Context) (int, error) {
	keys, err := c.store.Keys(ctx)
	if err != nil {
		return 0, err
	}
	var removed int
	for _, key := range keys {
		if strings.HasSuffix(key, metaSuffix) {
			continue
		}
		if _, ok := c.freshRecord(ctx, key); ok {
			continue
		}
		if _, err := c.store.Delete(ctx, key); err != nil {
			return removed, err
		}
		if _, err := c.store.Delete(ctx, key+metaSuffix); err != nil {
			return removed, err
		}
		removed++
	}
	return removed, nil
}

// Purge removes everything.
func (c *Cache) Purge(ctx context.Context) error {
	keys, err := c.store.Keys(ctx)
	if err != nil {
		return err
	}
	for _, key := range keys {
		if _, err := c.store.Delete(ctx, key); err != nil {
			return err
		}
	}
	return nil
}

func (c *Cache) validate(sourceURL string) error {
	u, err := url.Parse(sourceURL)
	if err != nil || !u.IsAbs() || u.Host == "" {
		return errNotAbsolute
	}
	ext := strings.ToLower(path.Ext(u.Path))
	for _, allowed := range c.cfg.extensions {
		if ext == allowed {
			return nil
		}
	}
	return errors.Wrapf(errBadExtension, "%q", ext)
}

// freshRecord loads the metadata record for key and reports whether it is
// still inside the freshness window with its blob present.
func (c *Cache) freshRecord(ctx context.Context, key string) (record, bool) {
	rec, ok := c.loadRecord(ctx, key)
	if !ok {
		return record{}, false
	}
	if time.Since(rec.CachedAt) >= c.cfg.ttl {
		return record{}, false
	}
	has, err := c.store.Has(ctx, key)
	if err != nil || !has {
		return record{}, false
	}
	return rec, true
}

func (c *Cache) loadRecord(ctx context.Context, key string) (record, bool) {
	data, found, err := c.store.Get(ctx, key+metaSuffix)
	if err != nil || !found {
		return record{}, false
	}
	var rec record
	if err := msgpack.Unmarshal(data, &rec); err != nil {
		return record{}, false
	}
	return rec, true
}

func (c *Cache) persist(ctx context.Context, key string, data []byte, rec record) error {
	if err := c.store.Put(ctx, key, data); err != nil {
		return err
	}
	meta, err := msgpack.Marshal(rec)
	if err != nil {
		return err
	}
	return c.store.Put(ctx, key+metaSuffix, meta)
}

func (c *Cache) download(ctx context.Context, sourceURL string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, sourceURL, nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.cfg.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, errors.Wrapf(errUnexpectedRes, "%d", resp.StatusCode)
	}
	if resp.ContentLength > c.cfg.maxBytes {
		return nil, errors.Wrapf(errTooLarge, "declared %d bytes", resp.ContentLength)
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, c.cfg.maxBytes+1))
	if err != nil {
		return nil, err
	}
	if int64(len(data)) > c.cfg.maxBytes {
		return nil, errors.Wrapf(errTooLarge, "more than %d bytes", c.cfg.maxBytes)
	}
	return data, nil
}

func (c *Cache) localURL(key string) string {
	return c.cfg.publicPrefix + "/" + key
}
