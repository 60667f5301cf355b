// =============================================================================
// ModelServe 主入口
// =============================================================================
// 完整服务入口点，包含 HTTP 推理服务、健康检查、Prometheus 指标
//
// 使用方法:
//
//	modelserve serve                       # 启动服务
//	modelserve serve --config config.yaml  # 指定配置文件
//	modelserve preload                     # 预载优先模型后退出
//	modelserve version                     # 显示版本信息
//	modelserve health                      # 健康检查
// =============================================================================

package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/BaSui01/modelserve"
	"github.com/BaSui01/modelserve/config"
	"github.com/BaSui01/modelserve/internal/telemetry"
	"github.com/BaSui01/modelserve/modelcache"
)

// =============================================================================
// 📦 版本信息（构建时注入）
// =============================================================================

var (
	Version   = "dev"
	BuildTime = "unknown"
	GitCommit = "unknown"
)

// =============================================================================
// 🎯 主函数
// =============================================================================

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	switch os.Args[1] {
	case "serve":
		runServe(os.Args[2:])
	case "preload":
		runPreload(os.Args[2:])
	case "version":
		printVersion()
	case "health":
		runHealthCheck(os.Args[2:])
	case "help", "-h", "--help":
		printUsage()
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", os.Args[1])
		printUsage()
		os.Exit(1)
	}
}

// =============================================================================
// 🖥️ serve 命令
// =============================================================================

func runServe(args []string) {
	fs := flag.NewFlagSet("serve", flag.ExitOnError)
	configPath := fs.String("config", "", "Path to config file")
	modelsDir := fs.String("models-dir", "./models", "Directory holding model artifacts")
	fs.Parse(args)

	cfg, logger := loadConfigAndLogger(*configPath)
	defer logger.Sync()

	logger.Info("Starting ModelServe",
		zap.String("version", Version),
		zap.String("build_time", BuildTime),
		zap.String("git_commit", GitCommit),
	)

	// Initialize OpenTelemetry
	otelProviders, err := telemetry.Init(cfg.Telemetry, logger)
	if err != nil {
		logger.Warn("failed to initialize telemetry", zap.Error(err))
	}

	fetcher := modelcache.NewDirFetcher(*modelsDir)

	// 创建服务器（传入配置文件路径以支持热更新）
	server := NewServer(cfg, *configPath, fetcher, logger, otelProviders)

	if err := server.Start(); err != nil {
		logger.Fatal("Failed to start server", zap.Error(err))
	}

	server.WaitForShutdown()

	logger.Info("ModelServe stopped")
}

// =============================================================================
// 📥 preload 命令
// =============================================================================

// runPreload 将配置中的优先模型拉入缓存后退出。
// 搭配 Redis 存储后端使用时，可在部署前为服务实例预热共享缓存。
func runPreload(args []string) {
	fs := flag.NewFlagSet("preload", flag.ExitOnError)
	configPath := fs.String("config", "", "Path to config file")
	modelsDir := fs.String("models-dir", "./models", "Directory holding model artifacts")
	timeout := fs.Duration("timeout", 60*time.Second, "Preload timeout")
	fs.Parse(args)

	cfg, logger := loadConfigAndLogger(*configPath)
	defer logger.Sync()

	fetcher := modelcache.NewDirFetcher(*modelsDir)
	srv, err := modelserve.New(cfg, fetcher, modelserve.WithLogger(logger))
	if err != nil {
		logger.Fatal("Failed to build serving context", zap.Error(err))
	}
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	loaded := srv.PreloadPriorityModels(ctx)
	logger.Info("Preload finished",
		zap.Int("loaded", loaded),
		zap.Int("requested", len(cfg.Cache.PriorityModels)),
	)
	fmt.Printf("Preloaded %d/%d priority models\n", loaded, len(cfg.Cache.PriorityModels))
}

// loadConfigAndLogger 加载并验证配置，随后构建 logger。
// 失败时直接退出进程。
func loadConfigAndLogger(configPath string) (*config.Config, *zap.Logger) {
	loader := config.NewLoader()
	if configPath != "" {
		loader = loader.WithConfigPath(configPath)
	}

	cfg, err := loader.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}

	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "Invalid config: %v\n", err)
		os.Exit(1)
	}

	return cfg, initLogger(cfg.Log)
}

// =============================================================================
// 🏥 健康检查命令
// =============================================================================

func runHealthCheck(args []string) {
	fs := flag.NewFlagSet("health", flag.ExitOnError)
	addr := fs.String("addr", "http://localhost:8080", "Server address")
	fs.Parse(args)

	client := &http.Client{Timeout: 5 * time.Second}
	resp, err := client.Get(*addr + "/health")
	if err != nil {
		fmt.Fprintf(os.Stderr, "Health check failed: %v\n", err)
		os.Exit(1)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		fmt.Fprintf(os.Stderr, "Health check failed: status %d\n", resp.StatusCode)
		os.Exit(1)
	}

	fmt.Println("OK")
}

// =============================================================================
// 📋 版本和帮助
// =============================================================================

func printVersion() {
	fmt.Printf("ModelServe %s\n", Version)
	fmt.Printf("  Build Time: %s\n", BuildTime)
	fmt.Printf("  Git Commit: %s\n", GitCommit)
}

func printUsage() {
	fmt.Println(`ModelServe - ML model serving layer

Usage:
  modelserve <command> [options]

Commands:
  serve     Start the ModelServe server
  preload   Warm the model cache with priority models, then exit
  version   Show version information
  health    Check server health
  help      Show this help message

Options for 'serve' and 'preload':
  --config <path>       Path to configuration file (YAML)
  --models-dir <path>   Directory holding model artifacts (default ./models)

Examples:
  modelserve serve
  modelserve serve --config /etc/modelserve/config.yaml
  modelserve preload --models-dir /var/lib/modelserve/models
  modelserve health --addr http://localhost:8080
  modelserve version`)
}

// =============================================================================
// 🔧 日志初始化
// =============================================================================

func initLogger(cfg config.LogConfig) *zap.Logger {
	// 解析日志级别
	var level zapcore.Level
	switch cfg.Level {
	case "debug":
		level = zapcore.DebugLevel
	case "info":
		level = zapcore.InfoLevel
	case "warn":
		level = zapcore.WarnLevel
	case "error":
		level = zapcore.ErrorLevel
	default:
		level = zapcore.InfoLevel
	}

	// 配置编码器
	var encoderConfig zapcore.EncoderConfig
	if cfg.Format == "console" {
		encoderConfig = zap.NewDevelopmentEncoderConfig()
		encoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	} else {
		encoderConfig = zap.NewProductionEncoderConfig()
		encoderConfig.TimeKey = "timestamp"
		encoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	}

	outputPaths := cfg.OutputPaths
	if len(outputPaths) == 0 {
		outputPaths = []string{"stdout"}
	}

	zapConfig := zap.Config{
		Level:            zap.NewAtomicLevelAt(level),
		Development:      cfg.Format == "console",
		Encoding:         "json",
		EncoderConfig:    encoderConfig,
		OutputPaths:      outputPaths,
		ErrorOutputPaths: []string{"stderr"},
	}
	if cfg.Format == "console" {
		zapConfig.Encoding = "console"
	}

	var opts []zap.Option
	if cfg.EnableCaller {
		opts = append(opts, zap.AddCaller())
	}
	if cfg.EnableStacktrace {
		opts = append(opts, zap.AddStacktrace(zapcore.ErrorLevel))
	}

	logger, err := zapConfig.Build(opts...)
	if err != nil {
		// 回退到基本 logger
		logger, _ = zap.NewProduction()
	}

	return logger
}
