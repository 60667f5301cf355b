// Package metrics provides internal metrics collection.
// This package is internal and should not be imported by external projects.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/zap"

	"github.com/BaSui01/modelserve/batch"
	"github.com/BaSui01/modelserve/modelcache"
)

// =============================================================================
// 📊 指标收集器
// =============================================================================

// Collector 指标收集器。每个实例持有独立的 Registry，
// 测试可以并行创建而不会与全局注册表冲突。
type Collector struct {
	registry *prometheus.Registry

	// HTTP 指标
	httpRequestsTotal   *prometheus.CounterVec
	httpRequestDuration *prometheus.HistogramVec

	// 批处理指标
	batchSize        *prometheus.HistogramVec
	batchDuration    *prometheus.HistogramVec
	batchesTotal     *prometheus.CounterVec
	batchErrorsTotal *prometheus.CounterVec
	queueDepth       *prometheus.GaugeVec

	// 模型缓存指标
	cacheHits      *prometheus.CounterVec
	cacheMisses    *prometheus.CounterVec
	cacheEvictions *prometheus.CounterVec
	cacheSizeBytes *prometheus.GaugeVec
	cacheEntries   *prometheus.GaugeVec

	logger *zap.Logger
}

// NewCollector 创建指标收集器
func NewCollector(namespace string, logger *zap.Logger) *Collector {
	registry := prometheus.NewRegistry()
	factory := promauto.With(registry)

	c := &Collector{
		registry: registry,
		logger:   logger.With(zap.String("component", "metrics")),
	}

	// HTTP 指标
	c.httpRequestsTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "Total number of HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	c.httpRequestDuration = factory.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request duration in seconds",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)

	// 批处理指标
	c.batchSize = factory.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "batch_size",
			Help:      "Number of requests grouped into each dispatched batch",
			Buckets:   []float64{1, 2, 4, 8, 16, 32, 64},
		},
		[]string{"processor"},
	)

	c.batchDuration = factory.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "batch_duration_seconds",
			Help:      "Batch handler execution duration in seconds",
			Buckets:   []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5},
		},
		[]string{"processor"},
	)

	c.batchesTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "batches_total",
			Help:      "Total number of dispatched batches",
		},
		[]string{"processor"},
	)

	c.batchErrorsTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "batch_errors_total",
			Help:      "Total number of failed batches",
		},
		[]string{"processor"},
	)

	c.queueDepth = factory.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "queue_depth",
			Help:      "Number of requests waiting in the batch queue",
		},
		[]string{"processor"},
	)

	// 模型缓存指标
	c.cacheHits = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cache_hits_total",
			Help:      "Total number of model cache hits",
		},
		[]string{"cache"},
	)

	c.cacheMisses = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cache_misses_total",
			Help:      "Total number of model cache misses",
		},
		[]string{"cache"},
	)

	c.cacheEvictions = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cache_evictions_total",
			Help:      "Total number of model cache evictions",
		},
		[]string{"cache"},
	)

	c.cacheSizeBytes = factory.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "cache_size_bytes",
			Help:      "Current stored bytes in the model cache",
		},
		[]string{"cache"},
	)

	c.cacheEntries = factory.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "cache_entries",
			Help:      "Current number of model cache entries",
		},
		[]string{"cache"},
	)

	logger.Info("metrics collector initialized", zap.String("namespace", namespace))

	return c
}

// Registry 返回收集器的 Prometheus 注册表，供 /metrics 暴露。
func (c *Collector) Registry() *prometheus.Registry {
	return c.registry
}

// =============================================================================
// 🎯 HTTP 指标记录
// =============================================================================

// RecordHTTPRequest 记录 HTTP 请求
func (c *Collector) RecordHTTPRequest(method, path string, status int, duration time.Duration) {
	c.httpRequestsTotal.WithLabelValues(method, path, statusCode(status)).Inc()
	c.httpRequestDuration.WithLabelValues(method, path).Observe(duration.Seconds())
}

// =============================================================================
// 📦 观测器适配
// =============================================================================

// BatchObserver 返回绑定到 processor 标签的批处理观测器。
func (c *Collector) BatchObserver(processor string) batch.Observer {
	return &batchObserver{c: c, processor: processor}
}

type batchObserver struct {
	c         *Collector
	processor string
}

func (o *batchObserver) ObserveBatch(size int, duration time.Duration, err error) {
	o.c.batchSize.WithLabelValues(o.processor).Observe(float64(size))
	o.c.batchDuration.WithLabelValues(o.processor).Observe(duration.Seconds())
	o.c.batchesTotal.WithLabelValues(o.processor).Inc()
	if err != nil {
		o.c.batchErrorsTotal.WithLabelValues(o.processor).Inc()
	}
}

func (o *batchObserver) ObserveQueueDepth(depth int) {
	o.c.queueDepth.WithLabelValues(o.processor).Set(float64(depth))
}

// CacheObserver 返回绑定到 cache 标签的模型缓存观测器。
func (c *Collector) CacheObserver(cache string) modelcache.Observer {
	return &cacheObserver{c: c, cache: cache}
}

type cacheObserver struct {
	c     *Collector
	cache string
}

func (o *cacheObserver) Hit()      { o.c.cacheHits.WithLabelValues(o.cache).Inc() }
func (o *cacheObserver) Miss()     { o.c.cacheMisses.WithLabelValues(o.cache).Inc() }
func (o *cacheObserver) Eviction() { o.c.cacheEvictions.WithLabelValues(o.cache).Inc() }

func (o *cacheObserver) Size(totalBytes int64, entries int) {
	o.c.cacheSizeBytes.WithLabelValues(o.cache).Set(float64(totalBytes))
	o.c.cacheEntries.WithLabelValues(o.cache).Set(float64(entries))
}

// =============================================================================
// 🔧 辅助函数
// =============================================================================

// statusCode 将 HTTP 状态码转换为字符串
func statusCode(code int) string {
	switch {
	case code >= 200 && code < 300:
		return "2xx"
	case code >= 300 && code < 400:
		return "3xx"
	case code >= 400 && code < 500:
		return "4xx"
	case code >= 500:
		return "5xx"
	default:
		return "unknown"
	}
}
