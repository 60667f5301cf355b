// 配置热重载实现。
//
// 监听配置文件变更，重新加载并把批处理参数的变化
// 下发到已注册的处理器。
package config

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/BaSui01/modelserve/batch"
)

// BatchApplier 接收批处理配置的运行时更新。
// factory.Runtime 满足该接口。
type BatchApplier interface {
	UpdateConfig(update batch.ConfigUpdate) error
}

// ReloadCallback 在配置成功重载后调用
type ReloadCallback func(oldConfig, newConfig *Config)

// Reloader 管理配置热重载。只有批处理参数支持运行时下发；
// 服务器端口、存储后端等需要重启才能生效的字段重载后仅更新
// 快照，不做动态应用。
type Reloader struct {
	mu sync.RWMutex

	loader  *Loader
	current *Config

	// name → 批处理参数的接收方
	appliers map[string]BatchApplier

	callbacks []ReloadCallback
	logger    *zap.Logger
}

// NewReloader 创建热重载管理器。initial 是当前生效的配置快照。
func NewReloader(loader *Loader, initial *Config, logger *zap.Logger) *Reloader {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Reloader{
		loader:   loader,
		current:  initial,
		appliers: make(map[string]BatchApplier),
		logger:   logger.With(zap.String("component", "config-reload")),
	}
}

// RegisterBatchApplier 注册按名称接收批处理参数更新的处理器。
// name 取 "sentiment" 或 "recommendation"。
func (r *Reloader) RegisterBatchApplier(name string, applier BatchApplier) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.appliers[name] = applier
}

// OnReload 注册重载完成回调
func (r *Reloader) OnReload(cb ReloadCallback) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.callbacks = append(r.callbacks, cb)
}

// Current 返回当前配置快照
func (r *Reloader) Current() *Config {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.current
}

// Reload 重新加载配置并应用批处理参数变化。
// 加载或校验失败时保持旧配置不变。
func (r *Reloader) Reload() error {
	next, err := r.loader.Load()
	if err != nil {
		r.logger.Error("config reload failed, keeping previous config", zap.Error(err))
		return err
	}
	if err := next.Validate(); err != nil {
		r.logger.Error("reloaded config invalid, keeping previous config", zap.Error(err))
		return err
	}

	r.mu.Lock()
	old := r.current
	r.current = next
	appliers := make(map[string]BatchApplier, len(r.appliers))
	for name, a := range r.appliers {
		appliers[name] = a
	}
	callbacks := append([]ReloadCallback(nil), r.callbacks...)
	r.mu.Unlock()

	r.applyBatchChanges("sentiment", old.Sentiment, next.Sentiment, appliers)
	r.applyBatchChanges("recommendation", old.Recommendation, next.Recommendation, appliers)

	for _, cb := range callbacks {
		cb(old, next)
	}

	r.logger.Info("config reloaded")
	return nil
}

// Watch 启动文件监听，文件变更时自动 Reload。
// 返回停止函数。
func (r *Reloader) Watch(ctx context.Context, path string) (func(), error) {
	watcher, err := NewFileWatcher(path,
		WithWatcherLogger(r.logger),
		WithPollInterval(time.Second),
	)
	if err != nil {
		return nil, err
	}

	watcher.OnChange(func(event FileEvent) {
		if err := r.Reload(); err != nil {
			r.logger.Warn("automatic reload failed", zap.String("path", event.Path), zap.Error(err))
		}
	})
	if err := watcher.Start(ctx); err != nil {
		return nil, err
	}
	return watcher.Stop, nil
}

// applyBatchChanges 对比新旧批处理配置，仅下发有变化的字段。
func (r *Reloader) applyBatchChanges(name string, old, next BatchConfig, appliers map[string]BatchApplier) {
	applier, ok := appliers[name]
	if !ok || old == next {
		return
	}

	var update batch.ConfigUpdate
	if old.MaxBatchSize != next.MaxBatchSize {
		v := next.MaxBatchSize
		update.MaxBatchSize = &v
	}
	if old.MaxWaitTime != next.MaxWaitTime {
		v := next.MaxWaitTime
		update.MaxWaitTime = &v
	}
	if old.EnablePrioritization != next.EnablePrioritization {
		v := next.EnablePrioritization
		update.EnablePrioritization = &v
	}
	if old.AdaptiveBatching != next.AdaptiveBatching {
		v := next.AdaptiveBatching
		update.AdaptiveBatching = &v
	}

	if err := applier.UpdateConfig(update); err != nil {
		r.logger.Warn("batch config update rejected",
			zap.String("processor", name),
			zap.Error(err),
		)
		return
	}
	r.logger.Info("batch config updated",
		zap.String("processor", name),
		zap.Int("max_batch_size", next.MaxBatchSize),
		zap.Duration("max_wait_time", next.MaxWaitTime),
	)
}
