// Package modelserve wires the batching engine, model artifact cache, and
// inference adapters into a single serving context.
//
// Usage:
//
//	import "github.com/BaSui01/modelserve"
//
//	srv, err := modelserve.New(cfg, fetcher)
//	res, err := srv.Sentiment.Submit(ctx, "great post!", types.PriorityNormal)
//
// All state lives on the Serving value; two Serving instances share nothing
// unless they are given the same backing store.
package modelserve

import (
	"context"
	"io"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/BaSui01/modelserve/adapters/recommend"
	"github.com/BaSui01/modelserve/adapters/sentiment"
	"github.com/BaSui01/modelserve/batch"
	"github.com/BaSui01/modelserve/config"
	"github.com/BaSui01/modelserve/factory"
	"github.com/BaSui01/modelserve/internal/metrics"
	"github.com/BaSui01/modelserve/modelcache"
	"github.com/BaSui01/modelserve/store"
	"github.com/BaSui01/modelserve/types"
)

// Serving bundles the processors, cache, and registry behind one lifecycle.
type Serving struct {
	// Sentiment serves batched sentiment analysis requests.
	Sentiment *batch.Processor[string, factory.SentimentResult]

	// Recommend serves batched recommendation requests.
	Recommend *batch.Processor[string, factory.RecommendationResult]

	// Cache is the shared model artifact cache.
	Cache *modelcache.Manager

	// Registry exposes the operational view of all processors.
	Registry *factory.Registry

	cfg       *config.Config
	logger    *zap.Logger
	store     store.Store
	ownsStore bool
	fetcher   modelcache.Fetcher
	collector *metrics.Collector
}

// Option configures the Serving built by [New].
type Option func(*options)

type options struct {
	logger           *zap.Logger
	store            store.Store
	sentimentAdapter factory.SentimentAdapter
	recommendAdapter factory.RecommendAdapter
	metricsNamespace string
}

// WithLogger sets a custom zap logger.
func WithLogger(logger *zap.Logger) Option {
	return func(o *options) { o.logger = logger }
}

// WithStore overrides the backing blob store. Without this option the store
// is chosen from config: Redis when enabled, in-memory otherwise.
func WithStore(st store.Store) Option {
	return func(o *options) { o.store = st }
}

// WithSentimentAdapter replaces the default lexicon analyzer.
func WithSentimentAdapter(adapter factory.SentimentAdapter) Option {
	return func(o *options) { o.sentimentAdapter = adapter }
}

// WithRecommendAdapter replaces the default co-occurrence recommender.
func WithRecommendAdapter(adapter factory.RecommendAdapter) Option {
	return func(o *options) { o.recommendAdapter = adapter }
}

// WithMetricsNamespace overrides the Prometheus namespace (default "modelserve").
func WithMetricsNamespace(ns string) Option {
	return func(o *options) { o.metricsNamespace = ns }
}

// New assembles a serving context from config. fetcher supplies model
// artifacts on cache misses and during preload; it may be nil only when
// both adapters are overridden via options.
func New(cfg *config.Config, fetcher modelcache.Fetcher, opts ...Option) (*Serving, error) {
	if cfg == nil {
		cfg = config.DefaultConfig()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	o := &options{metricsNamespace: "modelserve"}
	for _, opt := range opts {
		opt(o)
	}

	logger := o.logger
	if logger == nil {
		logger = zap.NewNop()
	}

	if fetcher == nil && (o.sentimentAdapter == nil || o.recommendAdapter == nil) {
		return nil, types.NewError(types.ErrInvalidRequest,
			"fetcher is required unless both adapters are provided")
	}

	st := o.store
	ownsStore := false
	if st == nil {
		var err error
		st, err = buildStore(cfg, logger)
		if err != nil {
			return nil, err
		}
		ownsStore = true
	}

	collector := metrics.NewCollector(o.metricsNamespace, logger)

	cache, err := modelcache.NewManager(st, cfg.Cache.ToModelCache(), logger,
		modelcache.WithObserver(collector.CacheObserver(cfg.Cache.CacheName)),
	)
	if err != nil {
		return nil, err
	}

	sentimentAdapter := o.sentimentAdapter
	if sentimentAdapter == nil {
		sentimentAdapter, err = sentiment.New(cache, fetcher, logger)
		if err != nil {
			return nil, err
		}
	}
	recommendAdapter := o.recommendAdapter
	if recommendAdapter == nil {
		recommendAdapter, err = recommend.New(cache, fetcher, logger)
		if err != nil {
			return nil, err
		}
	}

	registry := factory.NewRegistry(logger,
		factory.WithProcessorObserver(collector.BatchObserver),
	)

	sentimentProc, err := registry.CreateSentimentProcessor(cfg.Sentiment.ToBatch(), sentimentAdapter)
	if err != nil {
		registry.Close()
		return nil, err
	}
	recommendProc, err := registry.CreateRecommendationProcessor(cfg.Recommendation.ToBatch(), recommendAdapter)
	if err != nil {
		registry.Close()
		return nil, err
	}

	logger.Info("serving context ready",
		zap.Strings("processors", registry.Names()),
		zap.String("cache", cfg.Cache.CacheName),
	)

	return &Serving{
		Sentiment: sentimentProc,
		Recommend: recommendProc,
		Cache:     cache,
		Registry:  registry,
		cfg:       cfg,
		logger:    logger,
		store:     st,
		ownsStore: ownsStore,
		fetcher:   fetcher,
		collector: collector,
	}, nil
}

// buildStore 按配置选择存储后端。
func buildStore(cfg *config.Config, logger *zap.Logger) (store.Store, error) {
	if cfg.Redis.Enabled {
		return store.NewRedis(cfg.Redis.ToStore(), logger)
	}
	return store.NewMemory(), nil
}

// Config returns the config snapshot the context was built from.
func (s *Serving) Config() *config.Config {
	return s.cfg
}

// MetricsRegistry returns the Prometheus registry backing this context,
// for mounting a /metrics handler.
func (s *Serving) MetricsRegistry() *prometheus.Registry {
	return s.collector.Registry()
}

// Collector returns the metrics collector shared by all components,
// for recording transport-level measurements.
func (s *Serving) Collector() *metrics.Collector {
	return s.collector
}

// PreloadPriorityModels warms the cache for configured priority models.
// Returns the number of models loaded; 0 when no fetcher is available.
func (s *Serving) PreloadPriorityModels(ctx context.Context) int {
	if s.fetcher == nil {
		return 0
	}
	return s.Cache.PreloadPriorityModels(ctx, s.fetcher)
}

// Ping verifies the backing store is reachable.
func (s *Serving) Ping(ctx context.Context) error {
	if p, ok := s.store.(interface{ Ping(context.Context) error }); ok {
		return p.Ping(ctx)
	}
	return nil
}

// Close shuts down all processors and releases the store when it was
// created by New. Idempotent per underlying component.
func (s *Serving) Close() {
	s.Registry.Close()
	if s.ownsStore {
		if c, ok := s.store.(io.Closer); ok {
			if err := c.Close(); err != nil {
				s.logger.Warn("store close failed", zap.Error(err))
			}
		}
	}
	s.logger.Info("serving context closed")
}
