// =============================================================================
// 📦 ModelServe 配置加载器
// =============================================================================
// 统一配置加载，支持 YAML 文件 + 环境变量覆盖
//
// 使用方法:
//
//	cfg, err := config.NewLoader().
//	    WithConfigPath("config.yaml").
//	    WithEnvPrefix("MODELSERVE").
//	    Load()
//
// 配置优先级: 默认值 → YAML 文件 → 环境变量
// =============================================================================
package config

import (
	"fmt"
	"os"
	"reflect"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/BaSui01/modelserve/batch"
	"github.com/BaSui01/modelserve/modelcache"
	"github.com/BaSui01/modelserve/store"
)

// =============================================================================
// 🎯 核心配置结构
// =============================================================================

// Config 是 ModelServe 的完整配置结构
type Config struct {
	// Server 服务器配置
	Server ServerConfig `yaml:"server" env:"SERVER"`

	// Sentiment 情感分析批处理配置
	Sentiment BatchConfig `yaml:"sentiment" env:"SENTIMENT"`

	// Recommendation 推荐批处理配置
	Recommendation BatchConfig `yaml:"recommendation" env:"RECOMMENDATION"`

	// Cache 模型缓存配置
	Cache CacheConfig `yaml:"cache" env:"CACHE"`

	// Redis 存储后端配置
	Redis RedisConfig `yaml:"redis" env:"REDIS"`

	// Log 日志配置
	Log LogConfig `yaml:"log" env:"LOG"`

	// Telemetry 遥测配置
	Telemetry TelemetryConfig `yaml:"telemetry" env:"TELEMETRY"`
}

// ServerConfig 服务器配置
type ServerConfig struct {
	// HTTP 端口
	HTTPPort int `yaml:"http_port" env:"HTTP_PORT"`
	// Metrics 端口
	MetricsPort int `yaml:"metrics_port" env:"METRICS_PORT"`
	// 读取超时
	ReadTimeout time.Duration `yaml:"read_timeout" env:"READ_TIMEOUT"`
	// 写入超时
	WriteTimeout time.Duration `yaml:"write_timeout" env:"WRITE_TIMEOUT"`
	// 优雅关闭超时
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" env:"SHUTDOWN_TIMEOUT"`
	// 全局限流速率（请求/秒），0 表示不限流
	RateLimitRPS float64 `yaml:"rate_limit_rps" env:"RATE_LIMIT_RPS"`
	// 限流突发容量
	RateLimitBurst int `yaml:"rate_limit_burst" env:"RATE_LIMIT_BURST"`
}

// BatchConfig 批处理器配置
type BatchConfig struct {
	// 单批上限
	MaxBatchSize int `yaml:"max_batch_size" env:"MAX_BATCH_SIZE"`
	// 队首最长等待
	MaxWaitTime time.Duration `yaml:"max_wait_time" env:"MAX_WAIT_TIME"`
	// 是否按优先级出队
	EnablePrioritization bool `yaml:"enable_prioritization" env:"ENABLE_PRIORITIZATION"`
	// 是否自适应调节批大小
	AdaptiveBatching bool `yaml:"adaptive_batching" env:"ADAPTIVE_BATCHING"`
}

// CacheConfig 模型缓存配置
type CacheConfig struct {
	// 存储键命名空间
	CacheName string `yaml:"cache_name" env:"CACHE_NAME"`
	// 总字节数上限
	MaxCacheSize int64 `yaml:"max_cache_size" env:"MAX_CACHE_SIZE"`
	// 条目最大年龄
	MaxAge time.Duration `yaml:"max_age" env:"MAX_AGE"`
	// 是否启用 gzip 压缩
	EnableCompression bool `yaml:"enable_compression" env:"ENABLE_COMPRESSION"`
	// 是否允许多版本共存
	EnableVersioning bool `yaml:"enable_versioning" env:"ENABLE_VERSIONING"`
	// 淘汰时受保护的模型 ID
	PriorityModels []string `yaml:"priority_models" env:"PRIORITY_MODELS"`
}

// RedisConfig Redis 配置
type RedisConfig struct {
	// 是否启用（关闭时使用内存存储）
	Enabled bool `yaml:"enabled" env:"ENABLED"`
	// 地址
	Addr string `yaml:"addr" env:"ADDR"`
	// 密码
	Password string `yaml:"password" env:"PASSWORD"`
	// 数据库编号
	DB int `yaml:"db" env:"DB"`
	// 连接池大小
	PoolSize int `yaml:"pool_size" env:"POOL_SIZE"`
	// 最小空闲连接
	MinIdleConns int `yaml:"min_idle_conns" env:"MIN_IDLE_CONNS"`
}

// LogConfig 日志配置
type LogConfig struct {
	// 日志级别: debug, info, warn, error
	Level string `yaml:"level" env:"LEVEL"`
	// 输出格式: json, console
	Format string `yaml:"format" env:"FORMAT"`
	// 输出路径
	OutputPaths []string `yaml:"output_paths" env:"OUTPUT_PATHS"`
	// 是否启用调用者信息
	EnableCaller bool `yaml:"enable_caller" env:"ENABLE_CALLER"`
	// 是否启用堆栈跟踪
	EnableStacktrace bool `yaml:"enable_stacktrace" env:"ENABLE_STACKTRACE"`
}

// TelemetryConfig 遥测配置
type TelemetryConfig struct {
	// 是否启用
	Enabled bool `yaml:"enabled" env:"ENABLED"`
	// OTLP 端点
	OTLPEndpoint string `yaml:"otlp_endpoint" env:"OTLP_ENDPOINT"`
	// 服务名称
	ServiceName string `yaml:"service_name" env:"SERVICE_NAME"`
	// 采样率
	SampleRate float64 `yaml:"sample_rate" env:"SAMPLE_RATE"`
}

// =============================================================================
// 🔧 配置加载器
// =============================================================================

// Loader 配置加载器（Builder 模式）
type Loader struct {
	configPath string
	envPrefix  string
	validators []func(*Config) error
}

// NewLoader 创建新的配置加载器
func NewLoader() *Loader {
	return &Loader{
		envPrefix:  "MODELSERVE",
		validators: make([]func(*Config) error, 0),
	}
}

// WithConfigPath 设置配置文件路径
func (l *Loader) WithConfigPath(path string) *Loader {
	l.configPath = path
	return l
}

// WithEnvPrefix 设置环境变量前缀
func (l *Loader) WithEnvPrefix(prefix string) *Loader {
	l.envPrefix = prefix
	return l
}

// WithValidator 添加配置验证器
func (l *Loader) WithValidator(v func(*Config) error) *Loader {
	l.validators = append(l.validators, v)
	return l
}

// Load 加载配置
// 优先级: 默认值 → YAML 文件 → 环境变量
func (l *Loader) Load() (*Config, error) {
	// 1. 从默认值开始
	cfg := DefaultConfig()

	// 2. 如果指定了配置文件，从文件加载
	if l.configPath != "" {
		if err := l.loadFromFile(cfg); err != nil {
			return nil, fmt.Errorf("failed to load config from file: %w", err)
		}
	}

	// 3. 从环境变量覆盖
	if err := l.loadFromEnv(cfg); err != nil {
		return nil, fmt.Errorf("failed to load config from env: %w", err)
	}

	// 4. 运行验证器
	for _, v := range l.validators {
		if err := v(cfg); err != nil {
			return nil, fmt.Errorf("config validation failed: %w", err)
		}
	}

	return cfg, nil
}

// loadFromFile 从 YAML 文件加载配置
func (l *Loader) loadFromFile(cfg *Config) error {
	data, err := os.ReadFile(l.configPath)
	if err != nil {
		if os.IsNotExist(err) {
			// 文件不存在，使用默认值
			return nil
		}
		return fmt.Errorf("failed to read config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("failed to parse config file: %w", err)
	}

	return nil
}

// loadFromEnv 从环境变量加载配置
func (l *Loader) loadFromEnv(cfg *Config) error {
	return l.setFieldsFromEnv(reflect.ValueOf(cfg).Elem(), l.envPrefix)
}

// setFieldsFromEnv 递归设置结构体字段
func (l *Loader) setFieldsFromEnv(v reflect.Value, prefix string) error {
	t := v.Type()

	for i := 0; i < v.NumField(); i++ {
		field := v.Field(i)
		fieldType := t.Field(i)

		// 获取 env tag
		envTag := fieldType.Tag.Get("env")
		if envTag == "" || envTag == "-" {
			continue
		}

		envKey := prefix + "_" + envTag

		// 如果是结构体，递归处理
		if field.Kind() == reflect.Struct {
			if err := l.setFieldsFromEnv(field, envKey); err != nil {
				return err
			}
			continue
		}

		// 获取环境变量值
		envValue := os.Getenv(envKey)
		if envValue == "" {
			continue
		}

		// 设置字段值
		if err := setFieldValue(field, envValue); err != nil {
			return fmt.Errorf("failed to set %s: %w", envKey, err)
		}
	}

	return nil
}

// setFieldValue 设置字段值
func setFieldValue(field reflect.Value, value string) error {
	if !field.CanSet() {
		return nil
	}

	switch field.Kind() {
	case reflect.String:
		field.SetString(value)

	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		// 特殊处理 time.Duration
		if field.Type() == reflect.TypeOf(time.Duration(0)) {
			d, err := time.ParseDuration(value)
			if err != nil {
				return err
			}
			field.SetInt(int64(d))
		} else {
			i, err := strconv.ParseInt(value, 10, 64)
			if err != nil {
				return err
			}
			field.SetInt(i)
		}

	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		u, err := strconv.ParseUint(value, 10, 64)
		if err != nil {
			return err
		}
		field.SetUint(u)

	case reflect.Float32, reflect.Float64:
		f, err := strconv.ParseFloat(value, 64)
		if err != nil {
			return err
		}
		field.SetFloat(f)

	case reflect.Bool:
		b, err := strconv.ParseBool(value)
		if err != nil {
			return err
		}
		field.SetBool(b)

	case reflect.Slice:
		// 支持逗号分隔的字符串切片
		if field.Type().Elem().Kind() == reflect.String {
			parts := strings.Split(value, ",")
			for i := range parts {
				parts[i] = strings.TrimSpace(parts[i])
			}
			field.Set(reflect.ValueOf(parts))
		}
	}

	return nil
}

// =============================================================================
// 🔍 辅助函数
// =============================================================================

// MustLoad 加载配置，失败时 panic
func MustLoad(path string) *Config {
	cfg, err := NewLoader().WithConfigPath(path).Load()
	if err != nil {
		panic(fmt.Sprintf("failed to load config: %v", err))
	}
	return cfg
}

// LoadFromEnv 仅从环境变量加载配置
func LoadFromEnv() (*Config, error) {
	return NewLoader().Load()
}

// Validate 验证配置
func (c *Config) Validate() error {
	var errs []string

	// 验证服务器配置
	if c.Server.HTTPPort <= 0 || c.Server.HTTPPort > 65535 {
		errs = append(errs, "invalid HTTP port")
	}
	if c.Server.MetricsPort < 0 || c.Server.MetricsPort > 65535 {
		errs = append(errs, "invalid metrics port")
	}
	if c.Server.RateLimitRPS < 0 {
		errs = append(errs, "server.rate_limit_rps must not be negative")
	}

	// 验证批处理配置
	for name, bc := range map[string]BatchConfig{
		"sentiment":      c.Sentiment,
		"recommendation": c.Recommendation,
	} {
		if bc.MaxBatchSize <= 0 {
			errs = append(errs, name+".max_batch_size must be positive")
		}
		if bc.MaxWaitTime <= 0 {
			errs = append(errs, name+".max_wait_time must be positive")
		}
	}

	// 验证缓存配置
	if c.Cache.CacheName == "" {
		errs = append(errs, "cache.cache_name must not be empty")
	}
	if c.Cache.MaxCacheSize <= 0 {
		errs = append(errs, "cache.max_cache_size must be positive")
	}
	if c.Cache.MaxAge <= 0 {
		errs = append(errs, "cache.max_age must be positive")
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation errors: %s", strings.Join(errs, "; "))
	}

	return nil
}

// =============================================================================
// 🔄 配置转换
// =============================================================================

// ToBatch 转换为批处理器配置
func (b BatchConfig) ToBatch() batch.Config {
	return batch.Config{
		MaxBatchSize:         b.MaxBatchSize,
		MaxWaitTime:          b.MaxWaitTime,
		EnablePrioritization: b.EnablePrioritization,
		AdaptiveBatching:     b.AdaptiveBatching,
	}
}

// ToModelCache 转换为模型缓存配置
func (c CacheConfig) ToModelCache() modelcache.Config {
	return modelcache.Config{
		CacheName:         c.CacheName,
		MaxCacheSize:      c.MaxCacheSize,
		MaxAge:            c.MaxAge,
		EnableCompression: c.EnableCompression,
		EnableVersioning:  c.EnableVersioning,
		PriorityModels:    c.PriorityModels,
	}
}

// ToStore 转换为 Redis 存储配置
func (r RedisConfig) ToStore() store.RedisConfig {
	sc := store.DefaultRedisConfig()
	sc.Addr = r.Addr
	sc.Password = r.Password
	sc.DB = r.DB
	sc.PoolSize = r.PoolSize
	sc.MinIdleConns = r.MinIdleConns
	return sc
}
