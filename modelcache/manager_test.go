package modelcache

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/BaSui01/modelserve/store"
	"github.com/BaSui01/modelserve/types"
)

// fakeClock 可手动推进的时间源，用于过期与 LRU 排序测试。
type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{t: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

func newTestManager(t *testing.T, cfg Config, opts ...Option) (*Manager, *store.MemoryStore) {
	t.Helper()
	st := store.NewMemory()
	m, err := NewManager(st, cfg, zap.NewNop(), opts...)
	require.NoError(t, err)
	return m, st
}

func plainConfig() Config {
	cfg := DefaultConfig()
	cfg.EnableCompression = false
	return cfg
}

func TestCacheAndGet(t *testing.T) {
	ctx := context.Background()
	m, _ := newTestManager(t, plainConfig())

	data := []byte("sentiment lexicon payload")
	require.True(t, m.CacheModel(ctx, "sentiment-lexicon", data, "v1", types.PriorityNormal))

	got, entry, ok := m.GetCachedModel(ctx, "sentiment-lexicon", "v1")
	require.True(t, ok)
	assert.Equal(t, data, got)
	assert.Equal(t, "sentiment-lexicon", entry.ModelID)
	assert.Equal(t, "v1", entry.Version)
	assert.Equal(t, int64(len(data)), entry.Size)
	assert.Equal(t, int64(1), entry.AccessCount)

	_, entry, ok = m.GetCachedModel(ctx, "sentiment-lexicon", "v1")
	require.True(t, ok)
	assert.Equal(t, int64(2), entry.AccessCount)

	assert.True(t, m.IsModelCached(ctx, "sentiment-lexicon", "v1"))
	assert.False(t, m.IsModelCached(ctx, "sentiment-lexicon", "v2"))
	assert.False(t, m.IsModelCached(ctx, "unknown", ""))
}

func TestCacheModelRejectsBadInput(t *testing.T) {
	ctx := context.Background()
	m, _ := newTestManager(t, plainConfig())

	assert.False(t, m.CacheModel(ctx, "", []byte("x"), "v1", types.PriorityNormal))
	assert.False(t, m.CacheModel(ctx, "model", []byte("x"), "", types.PriorityNormal))
	assert.False(t, m.CacheModel(ctx, "bad@id", []byte("x"), "v1", types.PriorityNormal))
	assert.False(t, m.CacheModel(ctx, "bad/id", []byte("x"), "v1", types.PriorityNormal))
	assert.False(t, m.CacheModel(ctx, "model", nil, "v1", types.PriorityNormal))
	assert.False(t, m.CacheModel(ctx, "model", []byte("x"), "v1", types.Priority(7)))
	assert.Equal(t, 0, m.Stats().ModelCount)
}

func TestLatestVersionResolution(t *testing.T) {
	ctx := context.Background()
	clock := newFakeClock()
	m, _ := newTestManager(t, plainConfig(), WithClock(clock.Now))

	require.True(t, m.CacheModel(ctx, "reranker", []byte("old"), "v1", types.PriorityNormal))
	clock.Advance(time.Minute)
	require.True(t, m.CacheModel(ctx, "reranker", []byte("new"), "v2", types.PriorityNormal))

	got, entry, ok := m.GetCachedModel(ctx, "reranker", "")
	require.True(t, ok)
	assert.Equal(t, []byte("new"), got)
	assert.Equal(t, "v2", entry.Version)

	// 指定版本仍可取到旧条目
	got, _, ok = m.GetCachedModel(ctx, "reranker", "v1")
	require.True(t, ok)
	assert.Equal(t, []byte("old"), got)
}

func TestCompressionTransparent(t *testing.T) {
	ctx := context.Background()
	cfg := DefaultConfig()
	m, _ := newTestManager(t, cfg)

	data := bytes.Repeat([]byte("embedding matrix row "), 2048)
	require.True(t, m.CacheModel(ctx, "embedder", data, "v1", types.PriorityNormal))

	got, entry, ok := m.GetCachedModel(ctx, "embedder", "v1")
	require.True(t, ok)
	assert.Equal(t, data, got)
	assert.True(t, entry.Compressed)
	assert.Less(t, entry.Size, int64(len(data)))
	assert.Equal(t, entry.Size, m.Stats().TotalSize)
}

func TestIncompressiblePayloadStoredRaw(t *testing.T) {
	ctx := context.Background()
	cfg := DefaultConfig()
	m, _ := newTestManager(t, cfg)

	// 预先 gzip 过的负载再压缩只会变大
	pre, err := NewGzip().Compress(bytes.Repeat([]byte("weights "), 512))
	require.NoError(t, err)

	require.True(t, m.CacheModel(ctx, "packed", pre, "v1", types.PriorityNormal))

	got, entry, ok := m.GetCachedModel(ctx, "packed", "v1")
	require.True(t, ok)
	assert.Equal(t, pre, got)
	assert.False(t, entry.Compressed)
	assert.Equal(t, int64(len(pre)), entry.Size)
}

func TestExpiryTreatedAsMiss(t *testing.T) {
	ctx := context.Background()
	clock := newFakeClock()
	cfg := plainConfig()
	cfg.MaxAge = time.Hour
	m, st := newTestManager(t, cfg, WithClock(clock.Now))

	require.True(t, m.CacheModel(ctx, "classifier", []byte("payload"), "v1", types.PriorityNormal))
	require.True(t, m.IsModelCached(ctx, "classifier", "v1"))

	clock.Advance(time.Hour + time.Second)

	_, _, ok := m.GetCachedModel(ctx, "classifier", "v1")
	assert.False(t, ok)
	assert.Equal(t, 0, m.Stats().ModelCount)
	// 过期时同步清除存储键
	assert.Equal(t, 0, st.Len())
}

func TestEvictionLeastRecentlyUsedFirst(t *testing.T) {
	ctx := context.Background()
	clock := newFakeClock()
	cfg := plainConfig()
	cfg.MaxCacheSize = 100
	m, _ := newTestManager(t, cfg, WithClock(clock.Now))

	payload := bytes.Repeat([]byte("x"), 40)
	require.True(t, m.CacheModel(ctx, "model-a", payload, "v1", types.PriorityNormal))
	clock.Advance(time.Second)
	require.True(t, m.CacheModel(ctx, "model-b", payload, "v1", types.PriorityNormal))
	clock.Advance(time.Second)

	// 访问 a，b 成为最久未用
	_, _, ok := m.GetCachedModel(ctx, "model-a", "")
	require.True(t, ok)
	clock.Advance(time.Second)

	require.True(t, m.CacheModel(ctx, "model-c", payload, "v1", types.PriorityNormal))

	assert.True(t, m.IsModelCached(ctx, "model-a", ""))
	assert.False(t, m.IsModelCached(ctx, "model-b", ""))
	assert.True(t, m.IsModelCached(ctx, "model-c", ""))
}

func TestEvictionLowerPriorityFirst(t *testing.T) {
	ctx := context.Background()
	clock := newFakeClock()
	cfg := plainConfig()
	cfg.MaxCacheSize = 100
	m, _ := newTestManager(t, cfg, WithClock(clock.Now))

	payload := bytes.Repeat([]byte("x"), 40)
	require.True(t, m.CacheModel(ctx, "important", payload, "v1", types.PriorityHigh))
	clock.Advance(time.Second)
	// 低优先级条目即便更"新"也先被淘汰
	require.True(t, m.CacheModel(ctx, "scratch", payload, "v1", types.PriorityLow))
	clock.Advance(time.Second)

	require.True(t, m.CacheModel(ctx, "incoming", payload, "v1", types.PriorityNormal))

	assert.True(t, m.IsModelCached(ctx, "important", ""))
	assert.False(t, m.IsModelCached(ctx, "scratch", ""))
	assert.True(t, m.IsModelCached(ctx, "incoming", ""))
}

func TestPriorityModelsEvictedLast(t *testing.T) {
	ctx := context.Background()
	clock := newFakeClock()
	cfg := plainConfig()
	cfg.MaxCacheSize = 100
	cfg.PriorityModels = []string{"vip"}
	m, _ := newTestManager(t, cfg, WithClock(clock.Now))

	payload := bytes.Repeat([]byte("x"), 40)
	require.True(t, m.CacheModel(ctx, "vip", payload, "v1", types.PriorityNormal))
	clock.Advance(time.Second)
	require.True(t, m.CacheModel(ctx, "regular", payload, "v1", types.PriorityNormal))
	clock.Advance(time.Second)

	// 即便 vip 最久未用，常规条目先让位
	require.True(t, m.CacheModel(ctx, "next", payload, "v1", types.PriorityNormal))
	assert.True(t, m.IsModelCached(ctx, "vip", ""))
	assert.False(t, m.IsModelCached(ctx, "regular", ""))

	// 只剩受保护条目也填不下时才动用它
	big := bytes.Repeat([]byte("y"), 90)
	require.True(t, m.CacheModel(ctx, "huge", big, "v1", types.PriorityNormal))
	assert.False(t, m.IsModelCached(ctx, "vip", ""))
	assert.True(t, m.IsModelCached(ctx, "huge", ""))
}

func TestOversizedPayloadRejected(t *testing.T) {
	ctx := context.Background()
	cfg := plainConfig()
	cfg.MaxCacheSize = 64
	m, st := newTestManager(t, cfg)

	require.True(t, m.CacheModel(ctx, "small", []byte("fits"), "v1", types.PriorityNormal))
	assert.False(t, m.CacheModel(ctx, "giant", bytes.Repeat([]byte("z"), 65), "v1", types.PriorityNormal))

	// 被拒绝的写入不得淘汰既有条目
	assert.True(t, m.IsModelCached(ctx, "small", ""))
	assert.Equal(t, 1, m.Stats().ModelCount)
	assert.Equal(t, 2, st.Len())
}

func TestReplaceSameVersion(t *testing.T) {
	ctx := context.Background()
	m, _ := newTestManager(t, plainConfig())

	require.True(t, m.CacheModel(ctx, "model", []byte("first"), "v1", types.PriorityNormal))
	require.True(t, m.CacheModel(ctx, "model", []byte("second payload"), "v1", types.PriorityNormal))

	got, _, ok := m.GetCachedModel(ctx, "model", "v1")
	require.True(t, ok)
	assert.Equal(t, []byte("second payload"), got)

	stats := m.Stats()
	assert.Equal(t, 1, stats.ModelCount)
	assert.Equal(t, int64(len("second payload")), stats.TotalSize)
}

func TestVersioningDisabledKeepsSingleVersion(t *testing.T) {
	ctx := context.Background()
	cfg := plainConfig()
	cfg.EnableVersioning = false
	m, _ := newTestManager(t, cfg)

	require.True(t, m.CacheModel(ctx, "model", []byte("v1 data"), "v1", types.PriorityNormal))
	require.True(t, m.CacheModel(ctx, "model", []byte("v2 data"), "v2", types.PriorityNormal))

	assert.False(t, m.IsModelCached(ctx, "model", "v1"))

	got, entry, ok := m.GetCachedModel(ctx, "model", "")
	require.True(t, ok)
	assert.Equal(t, []byte("v2 data"), got)
	assert.Equal(t, "v2", entry.Version)
	assert.Equal(t, 1, m.Stats().ModelCount)
}

func TestClearModel(t *testing.T) {
	ctx := context.Background()
	m, _ := newTestManager(t, plainConfig())

	require.True(t, m.CacheModel(ctx, "model", []byte("one"), "v1", types.PriorityNormal))
	require.True(t, m.CacheModel(ctx, "model", []byte("two"), "v2", types.PriorityNormal))
	require.True(t, m.CacheModel(ctx, "other", []byte("three"), "v1", types.PriorityNormal))

	assert.True(t, m.ClearModel(ctx, "model", "v1"))
	assert.False(t, m.IsModelCached(ctx, "model", "v1"))
	assert.True(t, m.IsModelCached(ctx, "model", "v2"))

	// 空版本清除该模型的全部版本
	assert.True(t, m.ClearModel(ctx, "model", ""))
	assert.False(t, m.IsModelCached(ctx, "model", ""))
	assert.True(t, m.IsModelCached(ctx, "other", ""))

	assert.False(t, m.ClearModel(ctx, "model", ""))
	assert.False(t, m.ClearModel(ctx, "missing", "v9"))
}

func TestClearAll(t *testing.T) {
	ctx := context.Background()
	m, st := newTestManager(t, plainConfig())

	require.True(t, m.CacheModel(ctx, "a", []byte("aa"), "v1", types.PriorityNormal))
	require.True(t, m.CacheModel(ctx, "b", []byte("bb"), "v1", types.PriorityNormal))

	assert.True(t, m.ClearAll(ctx))
	assert.Equal(t, 0, m.Stats().ModelCount)
	assert.Equal(t, int64(0), m.Stats().TotalSize)
	assert.Equal(t, 0, st.Len())
}

func TestStats(t *testing.T) {
	ctx := context.Background()
	cfg := plainConfig()
	cfg.MaxCacheSize = 200
	m, _ := newTestManager(t, cfg)

	require.True(t, m.CacheModel(ctx, "a", bytes.Repeat([]byte("x"), 50), "v1", types.PriorityNormal))

	stats := m.Stats()
	assert.Equal(t, int64(50), stats.TotalSize)
	assert.Equal(t, 1, stats.ModelCount)
	assert.Equal(t, int64(150), stats.AvailableSpace)
	assert.InDelta(t, 25.0, stats.UtilizationPercentage, 0.001)
}

func TestListCachedModels(t *testing.T) {
	ctx := context.Background()
	clock := newFakeClock()
	cfg := plainConfig()
	cfg.MaxAge = time.Hour
	m, _ := newTestManager(t, cfg, WithClock(clock.Now))

	require.True(t, m.CacheModel(ctx, "beta", []byte("b"), "v1", types.PriorityNormal))
	clock.Advance(45 * time.Minute)
	require.True(t, m.CacheModel(ctx, "alpha", []byte("a"), "v1", types.PriorityNormal))
	clock.Advance(30 * time.Minute)

	// beta 此刻已超龄，列举时顺带清除
	entries := m.ListCachedModels(ctx)
	require.Len(t, entries, 1)
	assert.Equal(t, "alpha", entries[0].ModelID)
	assert.Equal(t, 1, m.Stats().ModelCount)
}

func TestIndexRebuildAcrossRestart(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemory()
	cfg := plainConfig()

	m1, err := NewManager(st, cfg, zap.NewNop())
	require.NoError(t, err)
	require.True(t, m1.CacheModel(ctx, "survivor", []byte("payload"), "v3", types.PriorityHigh))

	// 混入一条损坏的元数据，重建时应当连同负载一起清除
	require.NoError(t, st.Put(ctx, cfg.CacheName+"/meta/broken@v1", []byte("{not json")))
	require.NoError(t, st.Put(ctx, cfg.CacheName+"/broken@v1", []byte("orphan")))

	m2, err := NewManager(st, cfg, zap.NewNop())
	require.NoError(t, err)

	got, entry, ok := m2.GetCachedModel(ctx, "survivor", "v3")
	require.True(t, ok)
	assert.Equal(t, []byte("payload"), got)
	assert.Equal(t, types.PriorityHigh, entry.Priority)

	assert.False(t, m2.IsModelCached(ctx, "broken", ""))
	assert.Equal(t, 1, m2.Stats().ModelCount)
}

type staticFetcher struct {
	mu     sync.Mutex
	models map[string][]byte
	calls  []string
}

func (f *staticFetcher) FetchModel(ctx context.Context, modelID string) ([]byte, string, error) {
	f.mu.Lock()
	f.calls = append(f.calls, modelID)
	f.mu.Unlock()
	data, ok := f.models[modelID]
	if !ok {
		return nil, "", fmt.Errorf("model %s unavailable", modelID)
	}
	return data, "v1", nil
}

func TestPreloadPriorityModels(t *testing.T) {
	ctx := context.Background()
	cfg := plainConfig()
	cfg.PriorityModels = []string{"lexicon", "recommender", "missing"}
	m, _ := newTestManager(t, cfg)

	// 已缓存的模型应被跳过
	require.True(t, m.CacheModel(ctx, "lexicon", []byte("cached"), "v0", types.PriorityHigh))

	fetcher := &staticFetcher{models: map[string][]byte{
		"lexicon":     []byte("should not be fetched"),
		"recommender": []byte("cooccurrence table"),
	}}

	loaded := m.PreloadPriorityModels(ctx, fetcher)
	assert.Equal(t, 1, loaded)
	assert.NotContains(t, fetcher.calls, "lexicon")

	got, entry, ok := m.GetCachedModel(ctx, "recommender", "")
	require.True(t, ok)
	assert.Equal(t, []byte("cooccurrence table"), got)
	assert.Equal(t, types.PriorityHigh, entry.Priority)
	assert.False(t, m.IsModelCached(ctx, "missing", ""))
}

// failingStore 包装内存存储，在写入时注入失败。
type failingStore struct {
	*store.MemoryStore
	failPuts bool
}

func (s *failingStore) Put(ctx context.Context, key string, value []byte) error {
	if s.failPuts {
		return errors.New("injected write failure")
	}
	return s.MemoryStore.Put(ctx, key, value)
}

func TestStoreWriteFailureReturnsFalse(t *testing.T) {
	ctx := context.Background()
	fs := &failingStore{MemoryStore: store.NewMemory()}
	m, err := NewManager(fs, plainConfig(), zap.NewNop())
	require.NoError(t, err)

	fs.failPuts = true
	assert.False(t, m.CacheModel(ctx, "model", []byte("data"), "v1", types.PriorityNormal))
	assert.Equal(t, 0, m.Stats().ModelCount)

	fs.failPuts = false
	assert.True(t, m.CacheModel(ctx, "model", []byte("data"), "v1", types.PriorityNormal))
}

func TestEvictionNotRolledBackOnWriteFailure(t *testing.T) {
	ctx := context.Background()
	clock := newFakeClock()
	cfg := plainConfig()
	cfg.MaxCacheSize = 100
	fs := &failingStore{MemoryStore: store.NewMemory()}
	m, err := NewManager(fs, cfg, zap.NewNop(), WithClock(clock.Now))
	require.NoError(t, err)

	payload := bytes.Repeat([]byte("x"), 40)
	require.True(t, m.CacheModel(ctx, "old", payload, "v1", types.PriorityNormal))
	clock.Advance(time.Second)
	require.True(t, m.CacheModel(ctx, "kept", payload, "v1", types.PriorityNormal))
	clock.Advance(time.Second)

	// 写入失败发生在淘汰之后：受害者不恢复，新模型也不落地
	fs.failPuts = true
	assert.False(t, m.CacheModel(ctx, "incoming", payload, "v1", types.PriorityNormal))

	assert.False(t, m.IsModelCached(ctx, "old", ""))
	assert.True(t, m.IsModelCached(ctx, "kept", ""))
	assert.False(t, m.IsModelCached(ctx, "incoming", ""))

	stats := m.Stats()
	assert.Equal(t, 1, stats.ModelCount)
	assert.Equal(t, int64(40), stats.TotalSize)

	// 缓存仍可正常接收后续写入
	fs.failPuts = false
	assert.True(t, m.CacheModel(ctx, "incoming", payload, "v1", types.PriorityNormal))
}
