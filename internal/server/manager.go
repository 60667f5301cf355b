package server

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"go.uber.org/zap"
)

// =============================================================================
// 🌐 HTTP 监听生命周期管理
// =============================================================================

// Config 单个监听端口的配置
type Config struct {
	// 监听器名称，用于日志区分（如 api / metrics）
	Name string `yaml:"name" json:"name"`

	// 监听地址，支持 ":0" 随机端口
	Addr string `yaml:"addr" json:"addr"`

	// 读取超时
	ReadTimeout time.Duration `yaml:"read_timeout" json:"read_timeout"`

	// 写入超时
	WriteTimeout time.Duration `yaml:"write_timeout" json:"write_timeout"`

	// 空闲超时
	IdleTimeout time.Duration `yaml:"idle_timeout" json:"idle_timeout"`

	// 最大请求头大小
	MaxHeaderBytes int `yaml:"max_header_bytes" json:"max_header_bytes"`

	// 优雅关闭超时
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" json:"shutdown_timeout"`
}

// DefaultConfig 返回默认监听配置
func DefaultConfig() Config {
	return Config{
		Name:            "http",
		Addr:            ":8080",
		ReadTimeout:     30 * time.Second,
		WriteTimeout:    30 * time.Second,
		IdleTimeout:     120 * time.Second,
		MaxHeaderBytes:  1 << 20, // 1 MB
		ShutdownTimeout: 30 * time.Second,
	}
}

// Manager 管理一个 http.Server 的完整生命周期：
// 绑定监听、后台 serve、信号等待、优雅关闭。
// 进程内可同时运行多个 Manager（业务端口与指标端口分开监听）。
type Manager struct {
	cfg    Config
	srv    *http.Server
	logger *zap.Logger

	// serve goroutine 的致命错误，容量 1，只保留第一个
	fatal chan error

	mu sync.RWMutex
	ln net.Listener
	// Shutdown 之后为 true，Manager 不可复用
	done bool
}

// NewManager 包装 handler 为可托管的监听器。此时尚未绑定端口。
func NewManager(handler http.Handler, cfg Config, logger *zap.Logger) *Manager {
	name := cfg.Name
	if name == "" {
		name = "http"
	}
	return &Manager{
		cfg: cfg,
		srv: &http.Server{
			Addr:           cfg.Addr,
			Handler:        handler,
			ReadTimeout:    cfg.ReadTimeout,
			WriteTimeout:   cfg.WriteTimeout,
			IdleTimeout:    cfg.IdleTimeout,
			MaxHeaderBytes: cfg.MaxHeaderBytes,
		},
		logger: logger.With(zap.String("listener", name)),
		fatal:  make(chan error, 1),
	}
}

// Start 绑定端口并在后台 goroutine 中开始服务。
// 绑定失败同步返回错误；绑定成功后的运行期错误经 Errors() 暴露。
func (m *Manager) Start() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.done {
		return fmt.Errorf("listener already shut down")
	}
	if m.ln != nil {
		return fmt.Errorf("listener already started on %s", m.ln.Addr())
	}

	ln, err := net.Listen("tcp", m.cfg.Addr)
	if err != nil {
		return fmt.Errorf("bind %s: %w", m.cfg.Addr, err)
	}
	m.ln = ln

	m.logger.Info("listening", zap.String("addr", ln.Addr().String()))

	go func() {
		if err := m.srv.Serve(ln); err != nil && err != http.ErrServerClosed {
			m.logger.Error("serve failed", zap.Error(err))
			select {
			case m.fatal <- err:
			default:
			}
		}
	}()

	return nil
}

// Shutdown 优雅关闭监听器，等待在途请求完成或超时。幂等。
func (m *Manager) Shutdown(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.done {
		return nil
	}
	m.done = true

	m.logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(ctx, m.cfg.ShutdownTimeout)
	defer cancel()

	if err := m.srv.Shutdown(shutdownCtx); err != nil {
		m.logger.Error("shutdown failed", zap.Error(err))
		return err
	}

	m.ln = nil
	m.logger.Info("stopped")
	return nil
}

// WaitForShutdown 阻塞直到收到 SIGINT/SIGTERM 或 serve 报出致命错误，
// 然后执行优雅关闭。
func (m *Manager) WaitForShutdown() {
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(quit)

	select {
	case sig := <-quit:
		m.logger.Info("received shutdown signal", zap.String("signal", sig.String()))
	case err := <-m.fatal:
		if err != nil {
			m.logger.Error("listener exited unexpectedly", zap.Error(err))
		}
	}

	if err := m.Shutdown(context.Background()); err != nil {
		m.logger.Error("shutdown error", zap.Error(err))
	}
}

// Errors 返回运行期致命错误通道。
func (m *Manager) Errors() <-chan error {
	return m.fatal
}

// Addr 返回实际绑定地址。未启动时返回配置地址。
func (m *Manager) Addr() string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.ln != nil {
		return m.ln.Addr().String()
	}
	return m.cfg.Addr
}

// IsRunning 报告监听器是否仍在服务
func (m *Manager) IsRunning() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.ln != nil && !m.done
}