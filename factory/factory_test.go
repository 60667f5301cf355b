package factory

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/BaSui01/modelserve/batch"
	"github.com/BaSui01/modelserve/types"
)

type echoSentiment struct{}

func (echoSentiment) AnalyzeBatch(ctx context.Context, texts []string) ([]SentimentResult, error) {
	out := make([]SentimentResult, len(texts))
	for i, text := range texts {
		label := "neutral"
		if strings.Contains(text, "good") {
			label = "positive"
		}
		out[i] = SentimentResult{Label: label, Confidence: 0.9}
	}
	return out, nil
}

type echoRecommend struct{}

func (echoRecommend) RecommendBatch(ctx context.Context, userIDs []string) ([]RecommendationResult, error) {
	out := make([]RecommendationResult, len(userIDs))
	for i, id := range userIDs {
		out[i] = RecommendationResult{
			UserID: id,
			Items:  []Recommendation{{ItemID: "item-for-" + id, Score: 0.5}},
		}
	}
	return out, nil
}

func testBatchConfig() batch.Config {
	cfg := batch.DefaultConfig()
	cfg.MaxWaitTime = 10 * time.Millisecond
	return cfg
}

func TestRegistryReturnsSameInstance(t *testing.T) {
	r := NewRegistry(zap.NewNop())
	defer r.Close()

	p1, err := r.CreateSentimentProcessor(testBatchConfig(), echoSentiment{})
	require.NoError(t, err)
	p2, err := r.CreateSentimentProcessor(testBatchConfig(), nil)
	require.NoError(t, err)
	assert.Same(t, p1, p2)

	q1, err := r.CreateRecommendationProcessor(testBatchConfig(), echoRecommend{})
	require.NoError(t, err)
	q2, err := r.CreateRecommendationProcessor(testBatchConfig(), echoRecommend{})
	require.NoError(t, err)
	assert.Same(t, q1, q2)
}

func TestRegistryIsolation(t *testing.T) {
	r1 := NewRegistry(zap.NewNop())
	defer r1.Close()
	r2 := NewRegistry(zap.NewNop())
	defer r2.Close()

	p1, err := r1.CreateSentimentProcessor(testBatchConfig(), echoSentiment{})
	require.NoError(t, err)
	p2, err := r2.CreateSentimentProcessor(testBatchConfig(), echoSentiment{})
	require.NoError(t, err)
	assert.NotSame(t, p1, p2)
}

func TestRegistryRejectsNilAdapter(t *testing.T) {
	r := NewRegistry(zap.NewNop())
	defer r.Close()

	_, err := r.CreateSentimentProcessor(testBatchConfig(), nil)
	require.Error(t, err)
	assert.Equal(t, types.ErrInvalidRequest, types.GetErrorCode(err))

	_, err = r.CreateRecommendationProcessor(testBatchConfig(), nil)
	require.Error(t, err)
	assert.Equal(t, types.ErrInvalidRequest, types.GetErrorCode(err))
}

func TestProcessorsServeRequests(t *testing.T) {
	r := NewRegistry(zap.NewNop())
	defer r.Close()

	sp, err := r.CreateSentimentProcessor(testBatchConfig(), echoSentiment{})
	require.NoError(t, err)
	rp, err := r.CreateRecommendationProcessor(testBatchConfig(), echoRecommend{})
	require.NoError(t, err)

	ctx := context.Background()
	res, err := sp.Submit(ctx, "good day", types.PriorityNormal)
	require.NoError(t, err)
	assert.Equal(t, "positive", res.Label)

	rec, err := rp.Submit(ctx, "user-42", types.PriorityNormal)
	require.NoError(t, err)
	assert.Equal(t, "user-42", rec.UserID)
	require.Len(t, rec.Items, 1)
	assert.Equal(t, "item-for-user-42", rec.Items[0].ItemID)
}

func TestRuntimeView(t *testing.T) {
	r := NewRegistry(zap.NewNop())
	defer r.Close()

	_, ok := r.Get(NameSentiment)
	assert.False(t, ok)
	assert.Empty(t, r.Names())

	sp, err := r.CreateSentimentProcessor(testBatchConfig(), echoSentiment{})
	require.NoError(t, err)

	rt, ok := r.Get(NameSentiment)
	require.True(t, ok)
	assert.ElementsMatch(t, []string{NameSentiment}, r.Names())

	_, err = sp.Submit(context.Background(), "hello", types.PriorityNormal)
	require.NoError(t, err)
	assert.Equal(t, int64(1), rt.Metrics().TotalRequests)

	require.NoError(t, rt.UpdateConfig(batch.ConfigUpdate{MaxBatchSize: ptr(3)}))
	assert.Equal(t, 3, sp.Config().MaxBatchSize)
}

func TestRegistryClose(t *testing.T) {
	r := NewRegistry(zap.NewNop())

	sp, err := r.CreateSentimentProcessor(testBatchConfig(), echoSentiment{})
	require.NoError(t, err)

	r.Close()
	r.Close() // 幂等

	_, err = sp.Submit(context.Background(), "after close", types.PriorityNormal)
	require.Error(t, err)
	assert.Equal(t, types.ErrProcessorClosed, types.GetErrorCode(err))

	_, err = r.CreateRecommendationProcessor(testBatchConfig(), echoRecommend{})
	require.Error(t, err)
	assert.Equal(t, types.ErrProcessorClosed, types.GetErrorCode(err))
}

func TestRegistryClearAllDropsRegistrations(t *testing.T) {
	r := NewRegistry(zap.NewNop())
	defer r.Close()

	sp, err := r.CreateSentimentProcessor(testBatchConfig(), echoSentiment{})
	require.NoError(t, err)
	_, err = r.CreateRecommendationProcessor(testBatchConfig(), echoRecommend{})
	require.NoError(t, err)

	r.ClearAll()

	// 注册全部被移除
	_, ok := r.Get(NameSentiment)
	assert.False(t, ok)
	_, ok = r.Get(NameRecommendation)
	assert.False(t, ok)
	assert.Empty(t, r.Names())

	// 旧处理器已关停
	_, err = sp.Submit(context.Background(), "after clear", types.PriorityNormal)
	require.Error(t, err)
	assert.Equal(t, types.ErrProcessorClosed, types.GetErrorCode(err))

	// 同名可重新创建，且是新实例
	sp2, err := r.CreateSentimentProcessor(testBatchConfig(), echoSentiment{})
	require.NoError(t, err)
	assert.NotSame(t, sp, sp2)

	res, err := sp2.Submit(context.Background(), "good again", types.PriorityNormal)
	require.NoError(t, err)
	assert.Equal(t, "positive", res.Label)
}

func ptr[T any](v T) *T { return &v }
