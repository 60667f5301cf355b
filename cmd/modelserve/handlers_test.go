package main

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/BaSui01/modelserve"
	"github.com/BaSui01/modelserve/config"
	"github.com/BaSui01/modelserve/factory"
	"github.com/BaSui01/modelserve/testutil/mocks"
	"github.com/BaSui01/modelserve/types"
)

func handlerTestConfig() *config.Config {
	cfg := config.DefaultConfig()
	cfg.Sentiment.MaxWaitTime = 10 * time.Millisecond
	cfg.Recommendation.MaxWaitTime = 10 * time.Millisecond
	cfg.Cache.EnableCompression = false
	return cfg
}

func newTestHandlers(t *testing.T) (*handlers, *mocks.MockSentimentAdapter, *mocks.MockRecommendAdapter) {
	t.Helper()

	sentiment := mocks.NewMockSentimentAdapter()
	recommend := mocks.NewMockRecommendAdapter()

	srv, err := modelserve.New(handlerTestConfig(), nil,
		modelserve.WithLogger(zap.NewNop()),
		modelserve.WithSentimentAdapter(sentiment),
		modelserve.WithRecommendAdapter(recommend),
	)
	require.NoError(t, err)
	t.Cleanup(srv.Close)

	return newHandlers(srv, zap.NewNop()), sentiment, recommend
}

func postJSON(t *testing.T, handler http.HandlerFunc, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	w := httptest.NewRecorder()
	r := httptest.NewRequest(http.MethodPost, path, strings.NewReader(body))
	r.Header.Set("Content-Type", "application/json")
	handler(w, r)
	return w
}

func TestHandleSentiment(t *testing.T) {
	h, sentiment, _ := newTestHandlers(t)
	sentiment.SetResult("love this post", factory.SentimentResult{
		Label:      "positive",
		Confidence: 0.92,
		Scores:     map[string]float64{"positive": 0.92, "negative": 0.08},
	})

	w := postJSON(t, h.HandleSentiment, "/api/v1/sentiment", `{"text":"love this post","priority":"high"}`)
	require.Equal(t, http.StatusOK, w.Code)

	var result factory.SentimentResult
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &result))
	assert.Equal(t, "positive", result.Label)
	assert.InDelta(t, 0.92, result.Confidence, 1e-9)
}

func TestHandleSentiment_BadRequests(t *testing.T) {
	h, _, _ := newTestHandlers(t)

	tests := []struct {
		name string
		body string
		want int
	}{
		{"invalid json", `{not json`, http.StatusBadRequest},
		{"empty text", `{"text":""}`, http.StatusBadRequest},
		{"bad priority", `{"text":"hi","priority":"urgent"}`, http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := postJSON(t, h.HandleSentiment, "/api/v1/sentiment", tt.body)
			assert.Equal(t, tt.want, w.Code)
		})
	}

	// GET 不被允许
	w := httptest.NewRecorder()
	h.HandleSentiment(w, httptest.NewRequest(http.MethodGet, "/api/v1/sentiment", nil))
	assert.Equal(t, http.StatusMethodNotAllowed, w.Code)
}

func TestHandleSentiment_ClosedProcessor(t *testing.T) {
	h, _, _ := newTestHandlers(t)
	h.srv.Close()

	w := postJSON(t, h.HandleSentiment, "/api/v1/sentiment", `{"text":"hi"}`)
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
}

func TestHandleRecommend(t *testing.T) {
	h, _, recommend := newTestHandlers(t)
	recommend.SetItems("alice", []factory.Recommendation{
		{ItemID: "post-go", Score: 0.9},
		{ItemID: "post-redis", Score: 0.4},
	})

	w := postJSON(t, h.HandleRecommend, "/api/v1/recommend", `{"user_id":"alice"}`)
	require.Equal(t, http.StatusOK, w.Code)

	var result factory.RecommendationResult
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &result))
	assert.Equal(t, "alice", result.UserID)
	require.Len(t, result.Items, 2)
	assert.Equal(t, "post-go", result.Items[0].ItemID)
}

func TestHandleRecommend_MissingUserID(t *testing.T) {
	h, _, _ := newTestHandlers(t)

	w := postJSON(t, h.HandleRecommend, "/api/v1/recommend", `{}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestHandleHealthAndVersion(t *testing.T) {
	h, _, _ := newTestHandlers(t)

	w := httptest.NewRecorder()
	h.HandleHealth(w, httptest.NewRequest(http.MethodGet, "/health", nil))
	require.Equal(t, http.StatusOK, w.Code)

	var health map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &health))
	assert.Equal(t, "ok", health["status"])

	w = httptest.NewRecorder()
	h.HandleVersion(w, httptest.NewRequest(http.MethodGet, "/version", nil))
	require.Equal(t, http.StatusOK, w.Code)

	var version map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &version))
	assert.Contains(t, version, "version")
	assert.Contains(t, version, "git_commit")
}

func TestHandleReady(t *testing.T) {
	h, _, _ := newTestHandlers(t)

	w := httptest.NewRecorder()
	h.HandleReady(w, httptest.NewRequest(http.MethodGet, "/ready", nil))
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestHandleCacheStats(t *testing.T) {
	h, _, _ := newTestHandlers(t)

	ok := h.srv.Cache.CacheModel(t.Context(), "m", []byte("weights"), "1", types.PriorityNormal)
	require.True(t, ok)

	w := httptest.NewRecorder()
	h.HandleCacheStats(w, httptest.NewRequest(http.MethodGet, "/api/v1/cache/stats", nil))
	require.Equal(t, http.StatusOK, w.Code)

	var stats map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &stats))
	assert.EqualValues(t, 1, stats["model_count"])
}

func TestHandleCacheModels(t *testing.T) {
	h, _, _ := newTestHandlers(t)

	require.True(t, h.srv.Cache.CacheModel(t.Context(), "m1", []byte("a"), "1", types.PriorityNormal))
	require.True(t, h.srv.Cache.CacheModel(t.Context(), "m2", []byte("b"), "1", types.PriorityHigh))

	w := httptest.NewRecorder()
	h.HandleCacheModels(w, httptest.NewRequest(http.MethodGet, "/api/v1/cache/models", nil))
	require.Equal(t, http.StatusOK, w.Code)

	var resp struct {
		Count  int              `json:"count"`
		Models []map[string]any `json:"models"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, 2, resp.Count)
}

func TestHandleProcessors(t *testing.T) {
	h, _, _ := newTestHandlers(t)

	w := httptest.NewRecorder()
	h.HandleProcessors(w, httptest.NewRequest(http.MethodGet, "/api/v1/processors", nil))
	require.Equal(t, http.StatusOK, w.Code)

	var resp struct {
		Processors []processorView `json:"processors"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.Len(t, resp.Processors, 2)

	names := []string{resp.Processors[0].Name, resp.Processors[1].Name}
	assert.Contains(t, names, factory.NameSentiment)
	assert.Contains(t, names, factory.NameRecommendation)
}
