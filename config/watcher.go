// 配置文件变更监听器实现。
//
// 基于修改时间轮询触发重载回调，去抖后对外分发。
package config

import (
	"context"
	"fmt"
	"os"
	"sync"
	"time"

	"go.uber.org/zap"
)

// FileEvent 一次文件变更事件
type FileEvent struct {
	// Path 是变更的文件路径
	Path string `json:"path"`

	// Timestamp 是事件检测时间
	Timestamp time.Time `json:"timestamp"`
}

// FileWatcher 轮询配置文件的修改时间，变更时回调。
type FileWatcher struct {
	mu sync.Mutex

	// 配置
	path         string
	pollInterval time.Duration

	// 状态
	running  bool
	stopChan chan struct{}
	lastMod  time.Time

	// 回调
	callbacks []func(event FileEvent)

	// 记录器
	logger *zap.Logger
}

// WatcherOption 配置 FileWatcher
type WatcherOption func(*FileWatcher)

// WithPollInterval 设置轮询间隔
func WithPollInterval(d time.Duration) WatcherOption {
	return func(w *FileWatcher) {
		w.pollInterval = d
	}
}

// WithWatcherLogger 设置监听器日志
func WithWatcherLogger(logger *zap.Logger) WatcherOption {
	return func(w *FileWatcher) {
		w.logger = logger
	}
}

// NewFileWatcher 创建文件监听器
func NewFileWatcher(path string, opts ...WatcherOption) (*FileWatcher, error) {
	if path == "" {
		return nil, fmt.Errorf("watch path must not be empty")
	}

	w := &FileWatcher{
		path:         path,
		pollInterval: time.Second,
		stopChan:     make(chan struct{}),
		logger:       zap.NewNop(),
	}
	for _, opt := range opts {
		opt(w)
	}

	if _, err := os.Stat(path); err != nil {
		if !os.IsNotExist(err) {
			return nil, fmt.Errorf("failed to stat path %s: %w", path, err)
		}
		// 文件尚不存在时继续监听其创建
		w.logger.Warn("Config file does not exist, will watch for creation",
			zap.String("path", path))
	}

	return w, nil
}

// OnChange 注册变更回调
func (w *FileWatcher) OnChange(callback func(FileEvent)) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.callbacks = append(w.callbacks, callback)
}

// Start 启动监听
func (w *FileWatcher) Start(ctx context.Context) error {
	w.mu.Lock()
	if w.running {
		w.mu.Unlock()
		return fmt.Errorf("watcher already running")
	}
	w.running = true
	if info, err := os.Stat(w.path); err == nil {
		w.lastMod = info.ModTime()
	}
	w.mu.Unlock()

	go w.pollLoop(ctx)

	w.logger.Info("File watcher started",
		zap.String("path", w.path),
		zap.Duration("poll_interval", w.pollInterval))
	return nil
}

// Stop 停止监听，幂等。
func (w *FileWatcher) Stop() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if !w.running {
		return
	}
	close(w.stopChan)
	w.running = false
	w.logger.Info("File watcher stopped")
}

// pollLoop 周期性检查修改时间
func (w *FileWatcher) pollLoop(ctx context.Context) {
	ticker := time.NewTicker(w.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-w.stopChan:
			return
		case <-ticker.C:
			w.checkOnce()
		}
	}
}

func (w *FileWatcher) checkOnce() {
	info, err := os.Stat(w.path)
	if err != nil {
		return
	}

	w.mu.Lock()
	changed := info.ModTime().After(w.lastMod)
	if changed {
		w.lastMod = info.ModTime()
	}
	callbacks := append([]func(FileEvent){}, w.callbacks...)
	w.mu.Unlock()

	if !changed {
		return
	}

	event := FileEvent{Path: w.path, Timestamp: time.Now()}
	w.logger.Debug("config file changed", zap.String("path", w.path))
	for _, cb := range callbacks {
		cb(event)
	}
}
