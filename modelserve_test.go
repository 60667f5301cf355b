package modelserve

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/BaSui01/modelserve/adapters/recommend"
	"github.com/BaSui01/modelserve/adapters/sentiment"
	"github.com/BaSui01/modelserve/config"
	"github.com/BaSui01/modelserve/factory"
	"github.com/BaSui01/modelserve/store"
	"github.com/BaSui01/modelserve/testutil/mocks"
	"github.com/BaSui01/modelserve/types"
)

func testConfig() *config.Config {
	cfg := config.DefaultConfig()
	cfg.Sentiment.MaxWaitTime = 10 * time.Millisecond
	cfg.Recommendation.MaxWaitTime = 10 * time.Millisecond
	cfg.Cache.EnableCompression = false
	return cfg
}

func testFetcher(t *testing.T) *mocks.StaticFetcher {
	t.Helper()
	lexicon, err := json.Marshal(map[string]float64{
		"good": 1.0, "great": 1.5, "bad": -1.0, "awful": -1.5,
	})
	require.NoError(t, err)

	model, err := json.Marshal(recommend.Model{
		UserItems: map[string][]string{"alice": {"post-go"}},
		Cooccurrence: map[string]map[string]float64{
			"post-go": {"post-redis": 0.8, "post-docker": 0.5},
		},
	})
	require.NoError(t, err)

	return mocks.NewStaticFetcher(map[string][]byte{
		sentiment.ModelID: lexicon,
		recommend.ModelID: model,
	})
}

func TestNewServesBothProcessors(t *testing.T) {
	srv, err := New(testConfig(), testFetcher(t), WithLogger(zap.NewNop()))
	require.NoError(t, err)
	defer srv.Close()

	ctx := context.Background()

	res, err := srv.Sentiment.Submit(ctx, "what a great read", types.PriorityNormal)
	require.NoError(t, err)
	assert.Equal(t, "positive", res.Label)

	rec, err := srv.Recommend.Submit(ctx, "alice", types.PriorityNormal)
	require.NoError(t, err)
	assert.Equal(t, "alice", rec.UserID)
	require.NotEmpty(t, rec.Items)
	assert.Equal(t, "post-redis", rec.Items[0].ItemID)
}

func TestNilConfigUsesDefaults(t *testing.T) {
	srv, err := New(nil, testFetcher(t))
	require.NoError(t, err)
	defer srv.Close()
	assert.Equal(t, 8080, srv.Config().Server.HTTPPort)
}

func TestNewRequiresFetcherOrAdapters(t *testing.T) {
	_, err := New(testConfig(), nil)
	require.Error(t, err)
	assert.Equal(t, types.ErrInvalidRequest, types.GetErrorCode(err))

	// 两个适配器都注入时不需要 fetcher
	srv, err := New(testConfig(), nil,
		WithSentimentAdapter(mocks.NewMockSentimentAdapter()),
		WithRecommendAdapter(mocks.NewMockRecommendAdapter()),
	)
	require.NoError(t, err)
	defer srv.Close()

	res, err := srv.Sentiment.Submit(context.Background(), "anything", types.PriorityNormal)
	require.NoError(t, err)
	assert.Equal(t, "neutral", res.Label)
}

func TestInvalidConfigRejected(t *testing.T) {
	cfg := testConfig()
	cfg.Cache.MaxCacheSize = 0
	_, err := New(cfg, testFetcher(t))
	assert.Error(t, err)
}

func TestRegistryExposesRuntimes(t *testing.T) {
	srv, err := New(testConfig(), testFetcher(t))
	require.NoError(t, err)
	defer srv.Close()

	rt, ok := srv.Registry.Get(factory.NameSentiment)
	require.True(t, ok)

	_, err = srv.Sentiment.Submit(context.Background(), "good", types.PriorityNormal)
	require.NoError(t, err)
	assert.Equal(t, int64(1), rt.Metrics().TotalRequests)
}

func TestPreloadPriorityModels(t *testing.T) {
	cfg := testConfig()
	cfg.Cache.PriorityModels = []string{sentiment.ModelID, recommend.ModelID}

	fetcher := testFetcher(t)
	srv, err := New(cfg, fetcher)
	require.NoError(t, err)
	defer srv.Close()

	ctx := context.Background()
	assert.Equal(t, 2, srv.PreloadPriorityModels(ctx))
	assert.True(t, srv.Cache.IsModelCached(ctx, sentiment.ModelID, ""))
	assert.True(t, srv.Cache.IsModelCached(ctx, recommend.ModelID, ""))

	// 预载后首个批次无需再抓取
	calls := len(fetcher.Calls())
	_, err = srv.Sentiment.Submit(ctx, "good", types.PriorityNormal)
	require.NoError(t, err)
	assert.Len(t, fetcher.Calls(), calls)
}

func TestSharedStoreAcrossContexts(t *testing.T) {
	st := store.NewMemory()
	ctx := context.Background()

	srv1, err := New(testConfig(), testFetcher(t), WithStore(st))
	require.NoError(t, err)
	require.True(t, srv1.Cache.CacheModel(ctx, "shared-model", []byte("weights"), "v1", types.PriorityNormal))
	srv1.Close()

	// 第二个上下文从同一存储重建索引
	srv2, err := New(testConfig(), testFetcher(t), WithStore(st))
	require.NoError(t, err)
	defer srv2.Close()
	assert.True(t, srv2.Cache.IsModelCached(ctx, "shared-model", "v1"))
}

func TestMetricsRegistryGathers(t *testing.T) {
	srv, err := New(testConfig(), testFetcher(t))
	require.NoError(t, err)
	defer srv.Close()

	_, err = srv.Sentiment.Submit(context.Background(), "good", types.PriorityNormal)
	require.NoError(t, err)

	families, err := srv.MetricsRegistry().Gather()
	require.NoError(t, err)
	assert.NotEmpty(t, families)
}

func TestPingAndClose(t *testing.T) {
	srv, err := New(testConfig(), testFetcher(t))
	require.NoError(t, err)

	require.NoError(t, srv.Ping(context.Background()))
	srv.Close()

	_, err = srv.Sentiment.Submit(context.Background(), "good", types.PriorityNormal)
	require.Error(t, err)
	assert.Equal(t, types.ErrProcessorClosed, types.GetErrorCode(err))
}
