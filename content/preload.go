package content

import (
	"context"
	"fmt"
	"time"

	"github.com/Gihanga-Institute-of-Contemporary-Art/GICA-Frontend/batch"
)

// PreloadOptions selects what PreloadAll warms and how wide each stage runs.
type PreloadOptions struct {
	// Collections are the collection keys to fetch (e.g. "programmes").
	Collections []string
	// Pages are the single-page keys to fetch (e.g. "home", "about").
	Pages []string
	// IncludeDetails fetches every item of each loaded collection.
	IncludeDetails bool
	// IncludeImages sweeps every loaded snapshot for image URLs and caches
	// them locally. Requires WithImageCache.
	IncludeImages bool
	// Concurrency is the batch window size per stage.
	Concurrency int
}

// PreloadResult aggregates a full preload run. Failures in one item never
// halt the remaining items or subsequent stages; they are collected here.
type PreloadResult struct {
	Success           bool
	LoadedCollections int
	LoadedPages       int
	LoadedDetails     int
	CachedImages      int
	Errors            []string
	ExecutionTime     time.Duration
}

// PreloadAll warms the manager in stages: collection fetches, then page
// fetches, then (if requested) detail fetches for every item discovered in
// the loaded collections, then (if requested) an image-caching sweep over
// everything reachable from the loaded snapshots.
func (m *Manager) PreloadAll(ctx context.Context, opts PreloadOptions) *PreloadResult {
	start := time.Now()
	result := &PreloadResult{}

	resolveStage := func(keys []string) int {
		_, summary := batch.Run(ctx, keys, func(ctx context.Context, key string) (any, error) {
			return m.Resolve(ctx, key)
		}, batch.Options{
			Concurrency: opts.Concurrency,
			OnError: func(index int, err error) {
				result.Errors = append(result.Errors, fmt.Sprintf("%s: %v", keys[index], err))
			},
		})
		return summary.Succeeded
	}

	result.LoadedCollections = resolveStage(opts.Collections)
	result.LoadedPages = resolveStage(opts.Pages)

	if opts.IncludeDetails {
		result.LoadedDetails = resolveStage(m.detailKeys(opts.Collections))
	}

	if opts.IncludeImages && m.cfg.images != nil {
		urls := m.snapshotImageURLs()
		m.cfg.log.Debug("preload image sweep found %d urls", len(urls))
		for _, res := range m.cfg.images.CacheImages(ctx, urls) {
			if res.Err != nil {
				result.Errors = append(result.Errors, fmt.Sprintf("image %s: %v", res.URL, res.Err))
				continue
			}
			result.CachedImages++
		}
	}

	result.Success = len(result.Errors) == 0
	result.ExecutionTime = time.Since(start)
	m.cfg.log.Info("preload finished in %s: %d collections, %d pages, %d details, %d images, %d errors",
		result.ExecutionTime.Round(time.Millisecond), result.LoadedCollections, result.LoadedPages,
		result.LoadedDetails, result.CachedImages, len(result.Errors))
	return result
}

// detailKeys derives "collection/id" keys from every loaded collection
// snapshot whose value is an array of objects carrying an id.
func (m *Manager) detailKeys(collections []string) []string {
	var keys []string
	for _, collection := range collections {
		snapshot, ok := m.Snapshot(collection)
		if !ok {
			continue
		}
		items, ok := snapshot.([]any)
		if !ok {
			continue
		}
		for _, item := range items {
			obj, ok := item.(map[string]any)
			if !ok {
				continue
			}
			switch id := obj["id"].(type) {
			case string:
				keys = append(keys, collection+"/"+id)
			case float64:
				keys = append(keys, fmt.Sprintf("%s/%.0f", collection, id))
			}
		}
	}
	return keys
}

// snapshotImageURLs sweeps every snapshot for image URLs.
func (m *Manager) snapshotImageURLs() []string {
	var urls []string
	seen := make(map[string]bool)
	for _, key := range m.Keys() {
		snapshot, ok := m.Snapshot(key)
		if !ok {
			continue
		}
		for _, url := range collectImageURLs(snapshot) {
			if !seen[url] {
				seen[url] = true
				urls = append(urls, url)
			}
		}
	}
	return urls
}
