package modelcache

import (
	"context"
	"encoding/json"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/BaSui01/modelserve/store"
	"github.com/BaSui01/modelserve/types"
)

// preloadConcurrency 限制预载时同时进行的抓取数。
const preloadConcurrency = 4

// Observer 接收缓存命中、未命中、淘汰与占用量的观测回调。
type Observer interface {
	Hit()
	Miss()
	Eviction()
	Size(totalBytes int64, entries int)
}

// Manager 管理模型产物缓存：大小与版本索引保存在内存中并由单一
// 互斥锁保护，负载与元数据旁路记录持久化在 store.Store 里。
//
// 缓存调用面不向调用方传播错误：失败记录日志并以 false/nil 表达，
// 调用方应将其视为"回退到新鲜数据源"。
type Manager struct {
	st     store.Store
	cfg    Config
	comp   Compressor
	logger *zap.Logger
	obs    Observer
	now    func() time.Time

	mu        sync.Mutex
	index     map[string]*Entry   // "{modelID}@{version}" → 元数据
	versions  map[string][]string // modelID → 版本（按创建时间升序）
	totalSize int64
	priority  map[string]struct{}
}

// Option 配置 Manager 的可选能力。
type Option func(*Manager)

// WithObserver 注册指标观测器。
func WithObserver(obs Observer) Option {
	return func(m *Manager) { m.obs = obs }
}

// WithCompressor 覆盖默认压缩实现。
func WithCompressor(c Compressor) Option {
	return func(m *Manager) { m.comp = c }
}

// WithClock 覆盖时间源，供过期测试使用。
func WithClock(now func() time.Time) Option {
	return func(m *Manager) { m.now = now }
}

// NewManager 创建缓存管理器并从存储重建索引。
func NewManager(st store.Store, cfg Config, logger *zap.Logger, opts ...Option) (*Manager, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	m := &Manager{
		st:       st,
		cfg:      cfg,
		comp:     NewGzip(),
		logger:   logger.With(zap.String("component", "modelcache"), zap.String("cache", cfg.CacheName)),
		now:      time.Now,
		index:    make(map[string]*Entry),
		versions: make(map[string][]string),
		priority: make(map[string]struct{}, len(cfg.PriorityModels)),
	}
	for _, id := range cfg.PriorityModels {
		m.priority[id] = struct{}{}
	}
	for _, opt := range opts {
		opt(m)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := m.loadIndex(ctx); err != nil {
		return nil, err
	}

	m.logger.Info("model cache initialized",
		zap.Int("entries", len(m.index)),
		zap.Int64("total_size", m.totalSize),
		zap.Int64("max_size", cfg.MaxCacheSize),
	)
	return m, nil
}

// loadIndex 枚举旁路元数据键并重建内存索引。
// 损坏的元数据记录连同其负载一并清除。
func (m *Manager) loadIndex(ctx context.Context) error {
	keys, err := m.st.Keys(ctx, m.metaPrefix())
	if err != nil {
		return types.NewError(types.ErrCacheRead, "enumerate cache metadata").WithCause(err)
	}

	for _, key := range keys {
		raw, err := m.st.Get(ctx, key)
		if err != nil {
			m.logger.Warn("cache metadata unreadable, dropping", zap.String("key", key), zap.Error(err))
			_ = m.st.Delete(ctx, key)
			continue
		}

		var e Entry
		if err := json.Unmarshal(raw, &e); err != nil || e.ModelID == "" || e.Version == "" {
			m.logger.Warn("cache metadata corrupt, dropping", zap.String("key", key), zap.Error(err))
			_ = m.st.Delete(ctx, key, m.dataKey(strings.TrimPrefix(key, m.metaPrefix())))
			continue
		}

		sk := shortKey(e.ModelID, e.Version)
		m.index[sk] = &e
		m.versions[e.ModelID] = append(m.versions[e.ModelID], e.Version)
		m.totalSize += e.Size
	}

	for id := range m.versions {
		m.sortVersionsLocked(id)
	}
	m.observeSizeLocked()
	return nil
}

// CacheModel 存储一个模型产物。写入会使总量超限时先行淘汰；
// 无法腾出空间或存储失败时返回 false，绝不抛出。
//
// 淘汰在写入之前执行且不回滚：若随后的存储写入失败，被淘汰的
// 条目不会恢复，缓存总量保持在限额之内但会变得更空。被淘汰的
// 模型下次请求时经由 fetcher 照常回源。
func (m *Manager) CacheModel(ctx context.Context, modelID string, data []byte, version string, priority types.Priority) bool {
	if !validKeyPart(modelID) || !validKeyPart(version) || len(data) == 0 || !priority.Valid() {
		m.logger.Warn("cache model rejected",
			zap.String("model_id", modelID),
			zap.String("version", version),
			zap.Int("bytes", len(data)),
		)
		return false
	}

	payload := data
	compressed := false
	if m.cfg.EnableCompression {
		out, err := m.comp.Compress(data)
		if err != nil {
			m.logger.Error("compress failed", zap.String("model_id", modelID), zap.Error(err))
			return false
		}
		// 压缩反而更大的负载（已压缩的权重文件很常见）按原样存储
		if len(out) < len(data) {
			payload = out
			compressed = true
		}
	}
	size := int64(len(payload))

	m.mu.Lock()
	defer m.mu.Unlock()

	if size > m.cfg.MaxCacheSize {
		m.logger.Warn("model larger than cache capacity",
			zap.String("model_id", modelID),
			zap.Int64("size", size),
			zap.Int64("max_cache_size", m.cfg.MaxCacheSize),
		)
		return false
	}

	sk := shortKey(modelID, version)
	if old, ok := m.index[sk]; ok {
		m.removeEntryLocked(ctx, old, "replaced")
	}
	if !m.cfg.EnableVersioning {
		for _, v := range append([]string(nil), m.versions[modelID]...) {
			if e, ok := m.index[shortKey(modelID, v)]; ok {
				m.removeEntryLocked(ctx, e, "version collapsed")
			}
		}
	}

	if !m.evictForLocked(ctx, size) {
		m.logger.Warn("insufficient space after eviction",
			zap.String("model_id", modelID),
			zap.Int64("size", size),
			zap.Int64("total_size", m.totalSize),
		)
		return false
	}

	now := m.now()
	e := &Entry{
		ModelID:      modelID,
		Version:      version,
		Size:         size,
		CreatedAt:    now,
		LastAccessed: now,
		Priority:     priority,
		Compressed:   compressed,
	}

	if err := m.st.Put(ctx, m.dataKey(sk), payload); err != nil {
		m.logger.Error("cache write failed", zap.String("model_id", modelID), zap.Error(err))
		return false
	}
	meta, err := json.Marshal(e)
	if err != nil {
		_ = m.st.Delete(ctx, m.dataKey(sk))
		m.logger.Error("cache metadata marshal failed", zap.String("model_id", modelID), zap.Error(err))
		return false
	}
	if err := m.st.Put(ctx, m.metaKey(sk), meta); err != nil {
		_ = m.st.Delete(ctx, m.dataKey(sk))
		m.logger.Error("cache metadata write failed", zap.String("model_id", modelID), zap.Error(err))
		return false
	}

	m.index[sk] = e
	m.versions[modelID] = append(m.versions[modelID], version)
	m.sortVersionsLocked(modelID)
	m.totalSize += size
	m.observeSizeLocked()

	m.logger.Debug("model cached",
		zap.String("model_id", modelID),
		zap.String("version", version),
		zap.Int64("size", size),
		zap.Bool("compressed", compressed),
	)
	return true
}

// GetCachedModel 读取模型产物。version 为空串时解析为最新存储版本。
// 未命中、过期或读取/解压失败都返回 (nil, nil, false)；
// 命中时递增访问计数并刷新最近访问时间。
func (m *Manager) GetCachedModel(ctx context.Context, modelID, version string) ([]byte, *Entry, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	e := m.resolveLocked(modelID, version)
	if e == nil {
		m.observeMiss()
		return nil, nil, false
	}
	if m.expiredLocked(e) {
		m.removeEntryLocked(ctx, e, "expired")
		m.observeSizeLocked()
		m.observeMiss()
		return nil, nil, false
	}

	sk := shortKey(e.ModelID, e.Version)
	raw, err := m.st.Get(ctx, m.dataKey(sk))
	if err != nil {
		m.logger.Warn("cache payload unreadable, evicting",
			zap.String("model_id", e.ModelID),
			zap.String("version", e.Version),
			zap.Error(err),
		)
		m.removeEntryLocked(ctx, e, "payload unreadable")
		m.observeSizeLocked()
		m.observeMiss()
		return nil, nil, false
	}

	payload := raw
	if e.Compressed {
		payload, err = m.comp.Decompress(raw)
		if err != nil {
			m.logger.Warn("cache payload corrupt, evicting",
				zap.String("model_id", e.ModelID),
				zap.String("version", e.Version),
				zap.Error(err),
			)
			m.removeEntryLocked(ctx, e, "decompress failed")
			m.observeSizeLocked()
			m.observeMiss()
			return nil, nil, false
		}
	}

	e.AccessCount++
	e.LastAccessed = m.now()
	if meta, err := json.Marshal(e); err == nil {
		if err := m.st.Put(ctx, m.metaKey(sk), meta); err != nil {
			m.logger.Debug("access metadata update failed", zap.String("model_id", e.ModelID), zap.Error(err))
		}
	}

	if m.obs != nil {
		m.obs.Hit()
	}
	cp := *e
	return payload, &cp, true
}

// IsModelCached 报告模型是否已缓存且未过期，不读取负载、
// 不递增访问计数。过期条目当场移除。
func (m *Manager) IsModelCached(ctx context.Context, modelID, version string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	e := m.resolveLocked(modelID, version)
	if e == nil {
		return false
	}
	if m.expiredLocked(e) {
		m.removeEntryLocked(ctx, e, "expired")
		m.observeSizeLocked()
		return false
	}
	return true
}

// ClearModel 删除指定版本；version 为空串时删除该模型的全部版本。
// 至少移除一个条目且存储删除成功时返回 true。
func (m *Manager) ClearModel(ctx context.Context, modelID, version string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	var targets []*Entry
	if version != "" {
		if e, ok := m.index[shortKey(modelID, version)]; ok {
			targets = append(targets, e)
		}
	} else {
		for _, v := range m.versions[modelID] {
			if e, ok := m.index[shortKey(modelID, v)]; ok {
				targets = append(targets, e)
			}
		}
	}
	if len(targets) == 0 {
		return false
	}

	for _, e := range targets {
		m.removeEntryLocked(ctx, e, "cleared")
	}
	m.observeSizeLocked()
	return true
}

// ClearAll 删除整个命名空间并重置为空缓存。
func (m *Manager) ClearAll(ctx context.Context) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	keys, err := m.st.Keys(ctx, m.cfg.CacheName+"/")
	if err != nil {
		m.logger.Error("cache clear enumerate failed", zap.Error(err))
		return false
	}
	if len(keys) > 0 {
		if err := m.st.Delete(ctx, keys...); err != nil {
			m.logger.Error("cache clear delete failed", zap.Error(err))
			return false
		}
	}

	m.index = make(map[string]*Entry)
	m.versions = make(map[string][]string)
	m.totalSize = 0
	m.observeSizeLocked()
	m.logger.Info("cache cleared", zap.Int("keys", len(keys)))
	return true
}

// Stats 返回缓存占用统计的快照。
func (m *Manager) Stats() Stats {
	m.mu.Lock()
	defer m.mu.Unlock()

	return Stats{
		TotalSize:             m.totalSize,
		ModelCount:            len(m.index),
		AvailableSpace:        m.cfg.MaxCacheSize - m.totalSize,
		UtilizationPercentage: float64(m.totalSize) / float64(m.cfg.MaxCacheSize) * 100,
	}
}

// ListCachedModels 枚举全部未过期条目（过期条目顺带清除），
// 按模型 ID、创建时间排序。
func (m *Manager) ListCachedModels(ctx context.Context) []Entry {
	m.mu.Lock()
	defer m.mu.Unlock()

	var expired []*Entry
	for _, e := range m.index {
		if m.expiredLocked(e) {
			expired = append(expired, e)
		}
	}
	for _, e := range expired {
		m.removeEntryLocked(ctx, e, "expired")
	}
	if len(expired) > 0 {
		m.observeSizeLocked()
	}

	out := make([]Entry, 0, len(m.index))
	for _, e := range m.index {
		out = append(out, *e)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].ModelID != out[j].ModelID {
			return out[i].ModelID < out[j].ModelID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out
}

// PreloadPriorityModels 为 PriorityModels 中尚未缓存的模型主动
// 抓取并写入。单个模型失败只记日志并跳过，不影响其余预载。
// 返回本次成功写入的数量。
func (m *Manager) PreloadPriorityModels(ctx context.Context, fetcher Fetcher) int {
	ids := make([]string, 0, len(m.priority))
	for id := range m.priority {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	var loaded atomic.Int32
	var g errgroup.Group
	g.SetLimit(preloadConcurrency)

	for _, id := range ids {
		if m.IsModelCached(ctx, id, "") {
			continue
		}
		g.Go(func() error {
			data, version, err := fetcher.FetchModel(ctx, id)
			if err != nil {
				m.logger.Warn("preload fetch failed", zap.String("model_id", id), zap.Error(err))
				return nil
			}
			if version == "" {
				version = "1"
			}
			if !m.CacheModel(ctx, id, data, version, types.PriorityHigh) {
				m.logger.Warn("preload store failed", zap.String("model_id", id))
				return nil
			}
			loaded.Add(1)
			return nil
		})
	}
	_ = g.Wait()

	m.logger.Info("priority models preloaded", zap.Int32("loaded", loaded.Load()))
	return int(loaded.Load())
}

// ---------------------------------------------------------------------------
// 内部辅助（除标注外都要求持有 m.mu）
// ---------------------------------------------------------------------------

// evictForLocked 为 need 字节腾出空间。先按（优先级升序、最近访问
// 升序）淘汰非优先条目；仍旧不足时按同样的 LRU 顺序动用优先条目。
// 返回写入是否可以进行。
func (m *Manager) evictForLocked(ctx context.Context, need int64) bool {
	if m.totalSize+need <= m.cfg.MaxCacheSize {
		return true
	}

	var regular, protected []*Entry
	for _, e := range m.index {
		if _, ok := m.priority[e.ModelID]; ok {
			protected = append(protected, e)
		} else {
			regular = append(regular, e)
		}
	}
	byEvictionOrder := func(entries []*Entry) {
		sort.Slice(entries, func(i, j int) bool {
			if entries[i].Priority != entries[j].Priority {
				return entries[i].Priority < entries[j].Priority
			}
			return entries[i].LastAccessed.Before(entries[j].LastAccessed)
		})
	}
	byEvictionOrder(regular)
	byEvictionOrder(protected)

	for _, e := range append(regular, protected...) {
		if m.totalSize+need <= m.cfg.MaxCacheSize {
			break
		}
		m.removeEntryLocked(ctx, e, "evicted for space")
	}
	m.observeSizeLocked()
	return m.totalSize+need <= m.cfg.MaxCacheSize
}

// removeEntryLocked 从存储和索引中移除条目。存储删除失败只记日志：
// 索引是权威的占用账本，孤儿负载会在下次索引重建时清除。
func (m *Manager) removeEntryLocked(ctx context.Context, e *Entry, reason string) {
	sk := shortKey(e.ModelID, e.Version)
	if err := m.st.Delete(ctx, m.dataKey(sk), m.metaKey(sk)); err != nil {
		m.logger.Warn("cache delete failed",
			zap.String("model_id", e.ModelID),
			zap.String("version", e.Version),
			zap.Error(err),
		)
	}

	delete(m.index, sk)
	vs := m.versions[e.ModelID]
	for i, v := range vs {
		if v == e.Version {
			m.versions[e.ModelID] = append(vs[:i], vs[i+1:]...)
			break
		}
	}
	if len(m.versions[e.ModelID]) == 0 {
		delete(m.versions, e.ModelID)
	}
	m.totalSize -= e.Size

	if m.obs != nil {
		m.obs.Eviction()
	}
	m.logger.Debug("cache entry removed",
		zap.String("model_id", e.ModelID),
		zap.String("version", e.Version),
		zap.String("reason", reason),
	)
}

// resolveLocked 按 (modelID, version) 查找条目；version 为空串时
// 取创建时间最新的版本。
func (m *Manager) resolveLocked(modelID, version string) *Entry {
	if version != "" {
		return m.index[shortKey(modelID, version)]
	}
	vs := m.versions[modelID]
	if len(vs) == 0 {
		return nil
	}
	return m.index[shortKey(modelID, vs[len(vs)-1])]
}

func (m *Manager) expiredLocked(e *Entry) bool {
	return m.now().Sub(e.CreatedAt) > m.cfg.MaxAge
}

func (m *Manager) sortVersionsLocked(modelID string) {
	vs := m.versions[modelID]
	sort.Slice(vs, func(i, j int) bool {
		ei := m.index[shortKey(modelID, vs[i])]
		ej := m.index[shortKey(modelID, vs[j])]
		return ei.CreatedAt.Before(ej.CreatedAt)
	})
}

func (m *Manager) observeSizeLocked() {
	if m.obs != nil {
		m.obs.Size(m.totalSize, len(m.index))
	}
}

func (m *Manager) observeMiss() {
	if m.obs != nil {
		m.obs.Miss()
	}
}

func (m *Manager) metaPrefix() string { return m.cfg.CacheName + "/meta/" }

func (m *Manager) dataKey(sk string) string { return m.cfg.CacheName + "/" + sk }

func (m *Manager) metaKey(sk string) string { return m.metaPrefix() + sk }

func shortKey(modelID, version string) string { return modelID + "@" + version }

// validKeyPart 拒绝会破坏键布局的 ID 与版本。
func validKeyPart(s string) bool {
	return s != "" && !strings.ContainsAny(s, "@/")
}
