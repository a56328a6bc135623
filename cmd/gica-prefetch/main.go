package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"

	"github.com/Gihanga-Institute-of-Contemporary-Art/GICA-Frontend/api"
	"github.com/Gihanga-Institute-of-Contemporary-Art/GICA-Frontend/cache"
	"github.com/Gihanga-Institute-of-Contemporary-Art/GICA-Frontend/config"
	"github.com/Gihanga-Institute-of-Contemporary-Art/GICA-Frontend/content"
	"github.com/Gihanga-Institute-of-Contemporary-Art/GICA-Frontend/imagecache"
	"github.com/Gihanga-Institute-of-Contemporary-Art/GICA-Frontend/logger"
	"github.com/Gihanga-Institute-of-Contemporary-Art/GICA-Frontend/resilience"
)

var defaultCollections = []string{"programmes", "participants", "publications"}

var defaultPages = []string{"home", "about", "visit", "gatherings"}

type app struct {
	cfg     config.Config
	log     logger.Logger
	store   cache.Cache
	images  *imagecache.Cache
	manager *content.Manager
}

// newApp wires the full stack from configuration. Everything is constructed
// explicitly so each command sees the same object graph.
func newApp(ctx context.Context, configPath string) (*app, error) {
	cfg, err := config.LoadFile(configPath)
	if err != nil {
		return nil, err
	}
	log := logger.NewConsoleLogger(logger.ParseLevel(cfg.LogLevel))

	var store cache.Cache
	if cfg.RedisURL != "" {
		opts, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			return nil, fmt.Errorf("parsing redis url: %w", err)
		}
		client := redis.NewClient(opts)
		if err := client.Ping(ctx).Err(); err != nil {
			return nil, fmt.Errorf("connecting to redis: %w", err)
		}
		store = cache.NewRedis(ctx, client, cache.WithDefaultTTL(cfg.CacheTTL))
		log.Debug("using redis cache backend")
	} else {
		store = cache.NewInMemory(ctx,
			cache.WithDefaultTTL(cfg.CacheTTL),
			cache.WithMaxSize(cfg.CacheMaxSize))
	}

	clientOpts := []api.ClientOption{
		api.WithLogger(log),
		api.WithTimeout(cfg.RequestTimeout),
		api.WithRetry(resilience.RetryConfig{
			MaxRetries:        cfg.RetryAttempts,
			InitialBackoff:    cfg.RetryDelay,
			MaxBackoff:        cfg.RetryMaxDelay,
			BackoffMultiplier: cfg.RetryMultiplier,
			// Batch prefetches retry many endpoints in lockstep; jitter
			// spreads them out.
			Jitter: true,
		}),
	}
	if cfg.Token != "" {
		clientOpts = append(clientOpts, api.WithToken(cfg.Token))
	}
	if cfg.CacheEnabled {
		clientOpts = append(clientOpts, api.WithCache(store, cfg.CacheTTL))
	}
	client, err := api.New(cfg.BaseURL, clientOpts...)
	if err != nil {
		return nil, err
	}

	blobs, err := imagecache.NewFilesystemStore(cfg.ImageDir)
	if err != nil {
		return nil, err
	}
	images := imagecache.New(blobs,
		imagecache.WithTTL(cfg.ImageTTL),
		imagecache.WithMaxBytes(cfg.ImageMaxBytes),
		imagecache.WithConcurrency(cfg.ImageConcurrency),
		imagecache.WithLogger(log))

	manager := content.NewManager(client,
		content.WithLogger(log),
		content.WithCache(store, cfg.CacheTTL),
		content.WithImageCache(images))

	return &app{cfg: cfg, log: log, store: store, images: images, manager: manager}, nil
}

func newPrefetchCommand(configPath *string) *cobra.Command {
	var (
		details     bool
		withImages  bool
		concurrency int
		collections []string
		pages       []string
	)
	cmd := &cobra.Command{
		Use:   "prefetch",
		Short: "Warm the content and image caches ahead of a site build",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			a, err := newApp(ctx, *configPath)
			if err != nil {
				return err
			}
			result := a.manager.PreloadAll(ctx, content.PreloadOptions{
				Collections:    collections,
				Pages:          pages,
				IncludeDetails: details,
				IncludeImages:  withImages,
				Concurrency:    concurrency,
			})
			for _, msg := range result.Errors {
				a.log.Warn("prefetch: %s", msg)
			}
			fmt.Printf("loaded %d collections, %d pages, %d details, %d images in %s\n",
				result.LoadedCollections, result.LoadedPages, result.LoadedDetails,
				result.CachedImages, result.ExecutionTime.Round(time.Millisecond))
			if !result.Success {
				return fmt.Errorf("prefetch finished with %d errors", len(result.Errors))
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&details, "details", false, "also fetch every item of each collection")
	cmd.Flags().BoolVar(&withImages, "images", false, "also download and cache referenced images")
	cmd.Flags().IntVar(&concurrency, "concurrency", 0, "batch window size per stage (0 = default)")
	cmd.Flags().StringSliceVar(&collections, "collections", defaultCollections, "collection keys to fetch")
	cmd.Flags().StringSliceVar(&pages, "pages", defaultPages, "page keys to fetch")
	return cmd
}

func newStatsCommand(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Print cache statistics",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			a, err := newApp(ctx, *configPath)
			if err != nil {
				return err
			}
			cacheStats, err := a.store.Stats(ctx)
			if err != nil {
				return err
			}
			imageStats, err := a.images.Stats(ctx)
			if err != nil {
				return err
			}
			fmt.Printf("cache: %d entries, %d hits, %d misses, hit rate %.1f%%\n",
				cacheStats.Size, cacheStats.TotalHits, cacheStats.TotalMisses, cacheStats.HitRate*100)
			fmt.Printf("images: %d cached, %s on disk\n",
				imageStats.Entries, formatBytes(imageStats.Bytes))
			return nil
		},
	}
}

func formatBytes(n int64) string {
	switch {
	case n >= 1<<20:
		return fmt.Sprintf("%.1f MiB", float64(n)/(1<<20))
	case n >= 1<<10:
		return fmt.Sprintf("%.1f KiB", float64(n)/(1<<10))
	}
	return fmt.Sprintf("%d B", n)
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var configPath string
	root := &cobra.Command{
		Use:           "gica-prefetch",
		Short:         "Content and image cache tooling for the GICA website",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&configPath, "config", "gica.yaml", "path to the YAML config file")
	root.AddCommand(newPrefetchCommand(&configPath))
	root.AddCommand(newStatsCommand(&configPath))

	if err := root.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, strings.TrimSpace(err.Error()))
		os.Exit(1)
	}
}
