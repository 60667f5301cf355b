// Package recommend 提供基于物品共现的批量推荐适配器。
//
// 模型产物（用户历史 + 共现权重表）经 modelcache 拉取，
// 与情感词典走同一条缓存回填路径。
package recommend

import (
	"context"
	"encoding/json"
	"sort"
	"sync"

	"go.uber.org/zap"

	"github.com/BaSui01/modelserve/factory"
	"github.com/BaSui01/modelserve/modelcache"
	"github.com/BaSui01/modelserve/types"
)

// ModelID 共现模型在模型缓存中的标识。
const ModelID = "recommender-cooccurrence"

// DefaultTopK 默认返回的推荐条数。
const DefaultTopK = 5

// Model 共现推荐模型产物。
type Model struct {
	// 用户 → 有过行为的物品
	UserItems map[string][]string `json:"user_items"`
	// 物品 → 共现物品及权重
	Cooccurrence map[string]map[string]float64 `json:"cooccurrence"`
}

// Recommender 共现推荐器，实现 factory.RecommendAdapter。
type Recommender struct {
	cache   *modelcache.Manager
	fetcher modelcache.Fetcher
	logger  *zap.Logger
	topK    int

	mu      sync.RWMutex
	model   *Model
	popular []factory.Recommendation // 冷启动回退，按全局共现权重排序
	version string
}

// Option 配置推荐器。
type Option func(*Recommender)

// WithTopK 设置每个用户返回的推荐条数。
func WithTopK(k int) Option {
	return func(r *Recommender) {
		if k > 0 {
			r.topK = k
		}
	}
}

// New 创建推荐器。cache 与 fetcher 均不可为 nil。
func New(cache *modelcache.Manager, fetcher modelcache.Fetcher, logger *zap.Logger, opts ...Option) (*Recommender, error) {
	if cache == nil {
		return nil, types.NewError(types.ErrInvalidRequest, "model cache must not be nil")
	}
	if fetcher == nil {
		return nil, types.NewError(types.ErrInvalidRequest, "model fetcher must not be nil")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	r := &Recommender{
		cache:   cache,
		fetcher: fetcher,
		logger:  logger.With(zap.String("component", "recommend")),
		topK:    DefaultTopK,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r, nil
}

// RecommendBatch 为一批用户生成推荐，结果与输入逐位对齐。
// 没有历史的用户得到全局热门回退。
func (r *Recommender) RecommendBatch(ctx context.Context, userIDs []string) ([]factory.RecommendationResult, error) {
	model, popular, err := r.ensureModel(ctx)
	if err != nil {
		return nil, err
	}

	out := make([]factory.RecommendationResult, len(userIDs))
	for i, userID := range userIDs {
		out[i] = factory.RecommendationResult{
			UserID: userID,
			Items:  r.recommendOne(model, popular, userID),
		}
	}
	return out, nil
}

// Version 返回当前模型版本，尚未加载时为空串。
func (r *Recommender) Version() string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.version
}

// Invalidate 丢弃进程内模型副本，下一批重新经缓存加载。
func (r *Recommender) Invalidate() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.model = nil
	r.popular = nil
	r.version = ""
}

// recommendOne 汇总用户历史物品的共现权重，排除已交互物品，
// 取权重最高的 topK 个。
func (r *Recommender) recommendOne(model *Model, popular []factory.Recommendation, userID string) []factory.Recommendation {
	history := model.UserItems[userID]
	if len(history) == 0 {
		return clip(popular, r.topK)
	}

	seen := make(map[string]struct{}, len(history))
	for _, item := range history {
		seen[item] = struct{}{}
	}

	scores := make(map[string]float64)
	for _, item := range history {
		for related, weight := range model.Cooccurrence[item] {
			if _, ok := seen[related]; ok {
				continue
			}
			scores[related] += weight
		}
	}
	if len(scores) == 0 {
		return clip(popular, r.topK)
	}

	ranked := make([]factory.Recommendation, 0, len(scores))
	for item, score := range scores {
		ranked = append(ranked, factory.Recommendation{ItemID: item, Score: score})
	}
	sortRecommendations(ranked)
	return clip(ranked, r.topK)
}

// ensureModel 返回进程内模型副本，必要时经缓存或上游加载。
func (r *Recommender) ensureModel(ctx context.Context) (*Model, []factory.Recommendation, error) {
	r.mu.RLock()
	if r.model != nil {
		model, popular := r.model, r.popular
		r.mu.RUnlock()
		return model, popular, nil
	}
	r.mu.RUnlock()

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.model != nil {
		return r.model, r.popular, nil
	}

	data, version, err := r.loadArtifact(ctx)
	if err != nil {
		return nil, nil, err
	}

	var model Model
	if err := json.Unmarshal(data, &model); err != nil {
		return nil, nil, types.NewError(types.ErrBatchExecution, "recommendation model corrupt").WithCause(err)
	}
	if len(model.Cooccurrence) == 0 {
		return nil, nil, types.NewError(types.ErrBatchExecution, "recommendation model is empty")
	}

	r.model = &model
	r.popular = buildPopular(&model)
	r.version = version
	r.logger.Info("recommendation model loaded",
		zap.String("version", version),
		zap.Int("items", len(model.Cooccurrence)),
		zap.Int("users", len(model.UserItems)),
	)
	return r.model, r.popular, nil
}

func (r *Recommender) loadArtifact(ctx context.Context) ([]byte, string, error) {
	if data, entry, ok := r.cache.GetCachedModel(ctx, ModelID, ""); ok {
		return data, entry.Version, nil
	}

	data, version, err := r.fetcher.FetchModel(ctx, ModelID)
	if err != nil {
		return nil, "", types.NewError(types.ErrBatchExecution, "fetch recommendation model").WithCause(err)
	}
	if version == "" {
		version = "1"
	}
	if !r.cache.CacheModel(ctx, ModelID, data, version, types.PriorityHigh) {
		r.logger.Warn("model cache write failed, serving from fresh copy",
			zap.String("version", version))
	}
	return data, version, nil
}

// buildPopular 按物品的全局共现权重之和排序，作为冷启动回退。
func buildPopular(model *Model) []factory.Recommendation {
	totals := make(map[string]float64)
	for item, related := range model.Cooccurrence {
		for other, weight := range related {
			totals[item] += weight
			totals[other] += weight
		}
	}

	popular := make([]factory.Recommendation, 0, len(totals))
	for item, score := range totals {
		popular = append(popular, factory.Recommendation{ItemID: item, Score: score})
	}
	sortRecommendations(popular)
	return popular
}

// sortRecommendations 按分数降序排序，同分按物品 ID 升序保证确定性。
func sortRecommendations(items []factory.Recommendation) {
	sort.Slice(items, func(i, j int) bool {
		if items[i].Score != items[j].Score {
			return items[i].Score > items[j].Score
		}
		return items[i].ItemID < items[j].ItemID
	})
}

func clip(items []factory.Recommendation, k int) []factory.Recommendation {
	if len(items) <= k {
		return append([]factory.Recommendation(nil), items...)
	}
	return append([]factory.Recommendation(nil), items[:k]...)
}
