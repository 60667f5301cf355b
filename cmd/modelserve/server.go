package main

import (
	"context"
	"fmt"
	"net/http"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/BaSui01/modelserve"
	"github.com/BaSui01/modelserve/config"
	"github.com/BaSui01/modelserve/factory"
	"github.com/BaSui01/modelserve/internal/server"
	"github.com/BaSui01/modelserve/internal/telemetry"
	"github.com/BaSui01/modelserve/modelcache"
)

// =============================================================================
// 🖥️ Server 结构
// =============================================================================

// Server 是 ModelServe 的主服务器
type Server struct {
	cfg        *config.Config
	configPath string
	fetcher    modelcache.Fetcher
	logger     *zap.Logger

	// 推理服务上下文
	serving *modelserve.Serving

	// 服务器管理器
	httpManager    *server.Manager
	metricsManager *server.Manager

	// Handlers
	handlers *handlers

	// 热更新
	reloader  *config.Reloader
	stopWatch func()

	// 遥测
	otelProviders *telemetry.Providers
}

// NewServer 创建新的服务器实例
func NewServer(cfg *config.Config, configPath string, fetcher modelcache.Fetcher, logger *zap.Logger, otelProviders *telemetry.Providers) *Server {
	return &Server{
		cfg:           cfg,
		configPath:    configPath,
		fetcher:       fetcher,
		logger:        logger,
		otelProviders: otelProviders,
	}
}

// =============================================================================
// 🚀 启动流程
// =============================================================================

// Start 启动所有服务
func (s *Server) Start() error {
	// 1. 构建推理服务上下文（处理器、缓存、存储、指标）
	srv, err := modelserve.New(s.cfg, s.fetcher, modelserve.WithLogger(s.logger))
	if err != nil {
		return fmt.Errorf("failed to build serving context: %w", err)
	}
	s.serving = srv
	s.handlers = newHandlers(srv, s.logger)

	// 2. 预载优先模型（失败只告警，不阻塞启动）
	if len(s.cfg.Cache.PriorityModels) > 0 {
		loaded := srv.PreloadPriorityModels(context.Background())
		s.logger.Info("Priority models preloaded",
			zap.Int("loaded", loaded),
			zap.Int("requested", len(s.cfg.Cache.PriorityModels)),
		)
	}

	// 3. 初始化热更新
	if err := s.initHotReload(); err != nil {
		return fmt.Errorf("failed to init hot reload: %w", err)
	}

	// 4. 启动 HTTP 服务器
	if err := s.startHTTPServer(); err != nil {
		return fmt.Errorf("failed to start HTTP server: %w", err)
	}

	// 5. 启动 Metrics 服务器
	if err := s.startMetricsServer(); err != nil {
		return fmt.Errorf("failed to start metrics server: %w", err)
	}

	s.logger.Info("All servers started",
		zap.Int("http_port", s.cfg.Server.HTTPPort),
		zap.Int("metrics_port", s.cfg.Server.MetricsPort),
		zap.Bool("hot_reload_enabled", s.configPath != ""),
	)

	return nil
}

// =============================================================================
// 🔧 热更新
// =============================================================================

// initHotReload 在指定了配置文件时启动文件监听，
// 将批处理配置变更推送到运行中的处理器。
func (s *Server) initHotReload() error {
	if s.configPath == "" {
		return nil
	}

	loader := config.NewLoader().WithConfigPath(s.configPath)
	s.reloader = config.NewReloader(loader, s.cfg, s.logger)

	for _, name := range []string{factory.NameSentiment, factory.NameRecommendation} {
		rt, ok := s.serving.Registry.Get(name)
		if !ok {
			continue
		}
		s.reloader.RegisterBatchApplier(name, rt)
	}

	s.reloader.OnReload(func(oldConfig, newConfig *config.Config) {
		s.logger.Info("Configuration reloaded")
		s.cfg = newConfig
	})

	stop, err := s.reloader.Watch(context.Background(), s.configPath)
	if err != nil {
		return err
	}
	s.stopWatch = stop
	return nil
}

// =============================================================================
// 🌐 HTTP 服务器
// =============================================================================

// startHTTPServer 启动 HTTP 服务器
func (s *Server) startHTTPServer() error {
	mux := http.NewServeMux()

	// 健康检查端点
	mux.HandleFunc("/health", s.handlers.HandleHealth)
	mux.HandleFunc("/healthz", s.handlers.HandleHealth)
	mux.HandleFunc("/ready", s.handlers.HandleReady)
	mux.HandleFunc("/readyz", s.handlers.HandleReady)

	// 版本信息端点
	mux.HandleFunc("/version", s.handlers.HandleVersion)

	// 推理 API
	mux.HandleFunc("/api/v1/sentiment", s.handlers.HandleSentiment)
	mux.HandleFunc("/api/v1/recommend", s.handlers.HandleRecommend)

	// 运维 API
	mux.HandleFunc("/api/v1/cache/stats", s.handlers.HandleCacheStats)
	mux.HandleFunc("/api/v1/cache/models", s.handlers.HandleCacheModels)
	mux.HandleFunc("/api/v1/processors", s.handlers.HandleProcessors)

	// 构建中间件链
	handler := Chain(mux,
		Recovery(s.logger),
		RequestID(),
		SecurityHeaders(),
		OTelTracing(),
		RequestLogger(s.logger),
		MetricsMiddleware(s.serving.Collector()),
		RateLimiter(s.cfg.Server.RateLimitRPS, s.cfg.Server.RateLimitBurst, s.logger),
	)

	serverConfig := server.Config{
		Name:            "api",
		Addr:            fmt.Sprintf(":%d", s.cfg.Server.HTTPPort),
		ReadTimeout:     s.cfg.Server.ReadTimeout,
		WriteTimeout:    s.cfg.Server.WriteTimeout,
		IdleTimeout:     2 * s.cfg.Server.ReadTimeout,
		MaxHeaderBytes:  1 << 20, // 1 MB
		ShutdownTimeout: s.cfg.Server.ShutdownTimeout,
	}

	s.httpManager = server.NewManager(handler, serverConfig, s.logger)

	if err := s.httpManager.Start(); err != nil {
		return err
	}

	s.logger.Info("HTTP server started", zap.Int("port", s.cfg.Server.HTTPPort))
	return nil
}

// =============================================================================
// 📊 Metrics 服务器
// =============================================================================

// startMetricsServer 启动 Metrics 服务器
func (s *Server) startMetricsServer() error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(s.serving.MetricsRegistry(), promhttp.HandlerOpts{}))

	serverConfig := server.Config{
		Name:            "metrics",
		Addr:            fmt.Sprintf(":%d", s.cfg.Server.MetricsPort),
		ReadTimeout:     s.cfg.Server.ReadTimeout,
		WriteTimeout:    s.cfg.Server.WriteTimeout,
		ShutdownTimeout: s.cfg.Server.ShutdownTimeout,
	}

	s.metricsManager = server.NewManager(mux, serverConfig, s.logger)

	if err := s.metricsManager.Start(); err != nil {
		return err
	}

	s.logger.Info("Metrics server started", zap.Int("port", s.cfg.Server.MetricsPort))
	return nil
}

// =============================================================================
// 🛑 关闭流程
// =============================================================================

// WaitForShutdown 等待关闭信号并优雅关闭
func (s *Server) WaitForShutdown() {
	if s.httpManager != nil {
		s.httpManager.WaitForShutdown()
	}
	s.Shutdown()
}

// Shutdown 优雅关闭所有服务
func (s *Server) Shutdown() {
	s.logger.Info("Starting graceful shutdown...")

	ctx := context.Background()

	// 1. 停止配置监听
	if s.stopWatch != nil {
		s.stopWatch()
	}

	// 2. 关闭 HTTP 服务器
	if s.httpManager != nil {
		if err := s.httpManager.Shutdown(ctx); err != nil {
			s.logger.Error("HTTP server shutdown error", zap.Error(err))
		}
	}

	// 3. 关闭 Metrics 服务器
	if s.metricsManager != nil {
		if err := s.metricsManager.Shutdown(ctx); err != nil {
			s.logger.Error("Metrics server shutdown error", zap.Error(err))
		}
	}

	// 4. 关闭处理器和存储
	if s.serving != nil {
		s.serving.Close()
	}

	// 5. 关闭遥测
	if s.otelProviders != nil {
		if err := s.otelProviders.Shutdown(ctx); err != nil {
			s.logger.Error("Telemetry shutdown error", zap.Error(err))
		}
	}

	s.logger.Info("Graceful shutdown completed")
}
