// Package sentiment 提供基于情感词典的批量分析适配器。
//
// 词典产物经 modelcache 拉取：命中直接使用，未命中时从上游
// 获取并尝试回填缓存，回填失败不影响本次分析。
package sentiment

import (
	"context"
	"encoding/json"
	"math"
	"strings"
	"sync"
	"unicode"

	"go.uber.org/zap"

	"github.com/BaSui01/modelserve/factory"
	"github.com/BaSui01/modelserve/modelcache"
	"github.com/BaSui01/modelserve/types"
)

// ModelID 词典产物在模型缓存中的标识。
const ModelID = "sentiment-lexicon"

// 判定为正向/负向所需的份额阈值，低于阈值归为中性。
const labelThreshold = 0.6

// Lexicon 词 → 情感权重（正值正向，负值负向）。
type Lexicon map[string]float64

// Analyzer 词典情感分析器，实现 factory.SentimentAdapter。
type Analyzer struct {
	cache   *modelcache.Manager
	fetcher modelcache.Fetcher
	logger  *zap.Logger

	mu      sync.RWMutex
	lexicon Lexicon
	version string
}

// New 创建分析器。cache 与 fetcher 均不可为 nil。
func New(cache *modelcache.Manager, fetcher modelcache.Fetcher, logger *zap.Logger) (*Analyzer, error) {
	if cache == nil {
		return nil, types.NewError(types.ErrInvalidRequest, "model cache must not be nil")
	}
	if fetcher == nil {
		return nil, types.NewError(types.ErrInvalidRequest, "lexicon fetcher must not be nil")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Analyzer{
		cache:   cache,
		fetcher: fetcher,
		logger:  logger.With(zap.String("component", "sentiment")),
	}, nil
}

// AnalyzeBatch 对一批文本逐条打分，结果与输入逐位对齐。
func (a *Analyzer) AnalyzeBatch(ctx context.Context, texts []string) ([]factory.SentimentResult, error) {
	lexicon, err := a.ensureLexicon(ctx)
	if err != nil {
		return nil, err
	}

	out := make([]factory.SentimentResult, len(texts))
	for i, text := range texts {
		out[i] = score(lexicon, text)
	}
	return out, nil
}

// Version 返回当前词典版本，尚未加载时为空串。
func (a *Analyzer) Version() string {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.version
}

// Invalidate 丢弃进程内词典副本，下一批重新经缓存加载。
func (a *Analyzer) Invalidate() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.lexicon = nil
	a.version = ""
}

// ensureLexicon 返回进程内词典副本，必要时经缓存或上游加载。
func (a *Analyzer) ensureLexicon(ctx context.Context) (Lexicon, error) {
	a.mu.RLock()
	if a.lexicon != nil {
		lex := a.lexicon
		a.mu.RUnlock()
		return lex, nil
	}
	a.mu.RUnlock()

	a.mu.Lock()
	defer a.mu.Unlock()
	if a.lexicon != nil {
		return a.lexicon, nil
	}

	data, version, err := a.loadArtifact(ctx)
	if err != nil {
		return nil, err
	}

	var lex Lexicon
	if err := json.Unmarshal(data, &lex); err != nil {
		return nil, types.NewError(types.ErrBatchExecution, "lexicon artifact corrupt").WithCause(err)
	}
	if len(lex) == 0 {
		return nil, types.NewError(types.ErrBatchExecution, "lexicon artifact is empty")
	}

	a.lexicon = lex
	a.version = version
	a.logger.Info("lexicon loaded",
		zap.String("version", version),
		zap.Int("terms", len(lex)),
	)
	return lex, nil
}

// loadArtifact 取词典字节：缓存命中直接用，未命中时从上游
// 抓取并尽力回填缓存。
func (a *Analyzer) loadArtifact(ctx context.Context) ([]byte, string, error) {
	if data, entry, ok := a.cache.GetCachedModel(ctx, ModelID, ""); ok {
		return data, entry.Version, nil
	}

	data, version, err := a.fetcher.FetchModel(ctx, ModelID)
	if err != nil {
		return nil, "", types.NewError(types.ErrBatchExecution, "fetch lexicon").WithCause(err)
	}
	if version == "" {
		version = "1"
	}
	if !a.cache.CacheModel(ctx, ModelID, data, version, types.PriorityHigh) {
		a.logger.Warn("lexicon cache write failed, serving from fresh copy",
			zap.String("version", version))
	}
	return data, version, nil
}

// score 对单条文本打分。
func score(lexicon Lexicon, text string) factory.SentimentResult {
	var positive, negative float64
	for _, token := range tokenize(text) {
		w, ok := lexicon[token]
		switch {
		case !ok:
		case w > 0:
			positive += w
		default:
			negative -= w
		}
	}

	total := positive + negative
	if total == 0 {
		return factory.SentimentResult{
			Label:      "neutral",
			Confidence: 0.5,
			Scores:     map[string]float64{"positive": 0, "negative": 0, "neutral": 1},
		}
	}

	posShare := positive / total
	negShare := negative / total
	scores := map[string]float64{
		"positive": posShare,
		"negative": negShare,
		"neutral":  1 - math.Abs(posShare-negShare),
	}

	switch {
	case posShare >= labelThreshold:
		return factory.SentimentResult{Label: "positive", Confidence: posShare, Scores: scores}
	case negShare >= labelThreshold:
		return factory.SentimentResult{Label: "negative", Confidence: negShare, Scores: scores}
	default:
		return factory.SentimentResult{Label: "neutral", Confidence: 1 - math.Abs(posShare-negShare), Scores: scores}
	}
}

// tokenize 小写化并按非字母数字切分。
func tokenize(text string) []string {
	return strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsNumber(r)
	})
}
