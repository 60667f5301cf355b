package factory

import (
	"sync"

	"go.uber.org/zap"

	"github.com/BaSui01/modelserve/batch"
	"github.com/BaSui01/modelserve/types"
)

// Registry 按名称管理批处理器实例。同名处理器在一个注册表内
// 只创建一次，重复创建返回已有实例；不同注册表互不共享。
type Registry struct {
	logger *zap.Logger
	// 按处理器名称生成观测器，nil 时不挂载
	observerFor func(name string) batch.Observer

	mu        sync.Mutex
	sentiment *batch.Processor[string, SentimentResult]
	recommend *batch.Processor[string, RecommendationResult]
	runtimes  map[string]Runtime
	closed    bool
}

// RegistryOption 配置注册表。
type RegistryOption func(*Registry)

// WithProcessorObserver 为注册表创建的处理器按名称挂载指标观测器。
func WithProcessorObserver(observerFor func(name string) batch.Observer) RegistryOption {
	return func(r *Registry) { r.observerFor = observerFor }
}

// NewRegistry 创建处理器注册表。
func NewRegistry(logger *zap.Logger, opts ...RegistryOption) *Registry {
	if logger == nil {
		logger = zap.NewNop()
	}
	r := &Registry{
		logger:   logger.With(zap.String("component", "factory")),
		runtimes: make(map[string]Runtime),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// CreateSentimentProcessor 创建（或返回已有的）情感分析批处理器。
// adapter 仅在首次创建时生效。
func (r *Registry) CreateSentimentProcessor(cfg batch.Config, adapter SentimentAdapter) (*batch.Processor[string, SentimentResult], error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return nil, types.NewError(types.ErrProcessorClosed, "registry is closed")
	}
	if r.sentiment != nil {
		return r.sentiment, nil
	}
	if adapter == nil {
		return nil, types.NewError(types.ErrInvalidRequest, "sentiment adapter must not be nil")
	}

	p, err := batch.New(cfg, adapter.AnalyzeBatch,
		r.logger.With(zap.String("processor", NameSentiment)),
		processorOpts[string, SentimentResult](r.observerFor, NameSentiment)...)
	if err != nil {
		return nil, err
	}

	r.sentiment = p
	r.runtimes[NameSentiment] = p
	r.logger.Info("processor created", zap.String("name", NameSentiment))
	return p, nil
}

// CreateRecommendationProcessor 创建（或返回已有的）推荐批处理器。
// adapter 仅在首次创建时生效。
func (r *Registry) CreateRecommendationProcessor(cfg batch.Config, adapter RecommendAdapter) (*batch.Processor[string, RecommendationResult], error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return nil, types.NewError(types.ErrProcessorClosed, "registry is closed")
	}
	if r.recommend != nil {
		return r.recommend, nil
	}
	if adapter == nil {
		return nil, types.NewError(types.ErrInvalidRequest, "recommendation adapter must not be nil")
	}

	p, err := batch.New(cfg, adapter.RecommendBatch,
		r.logger.With(zap.String("processor", NameRecommendation)),
		processorOpts[string, RecommendationResult](r.observerFor, NameRecommendation)...)
	if err != nil {
		return nil, err
	}

	r.recommend = p
	r.runtimes[NameRecommendation] = p
	r.logger.Info("processor created", zap.String("name", NameRecommendation))
	return p, nil
}

// Get 按名称返回处理器的运维视图。
func (r *Registry) Get(name string) (Runtime, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	rt, ok := r.runtimes[name]
	return rt, ok
}

// Names 返回已创建处理器的名称。
func (r *Registry) Names() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	names := make([]string, 0, len(r.runtimes))
	for name := range r.runtimes {
		names = append(names, name)
	}
	return names
}

// ClearAll 关停并移除全部注册，返回取消的排队请求总数。
// 之后 Get 对所有名称返回未找到，同名处理器可重新创建。
func (r *Registry) ClearAll() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	total := 0
	for name, rt := range r.runtimes {
		n := rt.ClearQueue()
		rt.Close()
		if n > 0 {
			r.logger.Info("queue cleared", zap.String("name", name), zap.Int("cancelled", n))
		}
		r.logger.Info("processor dropped", zap.String("name", name))
		total += n
	}
	r.runtimes = make(map[string]Runtime)
	r.sentiment = nil
	r.recommend = nil
	return total
}

// Close 关停全部处理器并拒绝后续创建。幂等。
func (r *Registry) Close() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return
	}
	r.closed = true
	for name, rt := range r.runtimes {
		rt.Close()
		r.logger.Info("processor closed", zap.String("name", name))
	}
}

// processorOpts 汇总传给 batch.New 的公共选项。
func processorOpts[T, R any](observerFor func(string) batch.Observer, name string) []batch.Option[T, R] {
	var opts []batch.Option[T, R]
	if observerFor != nil {
		if obs := observerFor(name); obs != nil {
			opts = append(opts, batch.WithObserver[T, R](obs))
		}
	}
	return opts
}
