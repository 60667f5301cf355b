package factory

import (
	"context"

	"github.com/BaSui01/modelserve/batch"
)

// 注册表中内置处理器的名称。
const (
	NameSentiment      = "sentiment"
	NameRecommendation = "recommendation"
)

// SentimentResult 单条文本的情感分析结果。
type SentimentResult struct {
	Label      string             `json:"label"`
	Confidence float64            `json:"confidence"`
	Scores     map[string]float64 `json:"scores"`
}

// Recommendation 推荐列表中的单个条目。
type Recommendation struct {
	ItemID string  `json:"item_id"`
	Score  float64 `json:"score"`
}

// RecommendationResult 单个用户的推荐结果。
type RecommendationResult struct {
	UserID string           `json:"user_id"`
	Items  []Recommendation `json:"items"`
}

// SentimentAdapter 承载情感模型的批量推理实现。
// 返回切片必须与输入逐位对齐且长度一致。
type SentimentAdapter interface {
	AnalyzeBatch(ctx context.Context, texts []string) ([]SentimentResult, error)
}

// RecommendAdapter 承载推荐模型的批量推理实现。
// 返回切片必须与输入逐位对齐且长度一致。
type RecommendAdapter interface {
	RecommendBatch(ctx context.Context, userIDs []string) ([]RecommendationResult, error)
}

// Runtime 是注册表对外暴露的与元素类型无关的处理器视图，
// 供运维面（指标、清队、调参、关停）统一操作。
type Runtime interface {
	Metrics() batch.Metrics
	QueueStatus() batch.QueueStatus
	ClearQueue() int
	UpdateConfig(update batch.ConfigUpdate) error
	Close()
}
