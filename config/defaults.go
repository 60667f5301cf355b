// =============================================================================
// 📦 ModelServe 默认配置
// =============================================================================
// 提供所有配置项的合理默认值
// =============================================================================
package config

import "time"

// DefaultConfig 返回默认配置
func DefaultConfig() *Config {
	return &Config{
		Server:         DefaultServerConfig(),
		Sentiment:      DefaultSentimentConfig(),
		Recommendation: DefaultRecommendationConfig(),
		Cache:          DefaultCacheConfig(),
		Redis:          DefaultRedisConfig(),
		Log:            DefaultLogConfig(),
		Telemetry:      DefaultTelemetryConfig(),
	}
}

// DefaultServerConfig 返回默认服务器配置
func DefaultServerConfig() ServerConfig {
	return ServerConfig{
		HTTPPort:        8080,
		MetricsPort:     9091,
		ReadTimeout:     30 * time.Second,
		WriteTimeout:    30 * time.Second,
		ShutdownTimeout: 15 * time.Second,
		RateLimitRPS:    0,
		RateLimitBurst:  0,
	}
}

// DefaultSentimentConfig 返回情感分析批处理的默认配置
func DefaultSentimentConfig() BatchConfig {
	return BatchConfig{
		MaxBatchSize:         10,
		MaxWaitTime:          50 * time.Millisecond,
		EnablePrioritization: true,
		AdaptiveBatching:     false,
	}
}

// DefaultRecommendationConfig 返回推荐批处理的默认配置
// 推荐计算较重，等待窗口放宽以聚出更大的批
func DefaultRecommendationConfig() BatchConfig {
	return BatchConfig{
		MaxBatchSize:         20,
		MaxWaitTime:          100 * time.Millisecond,
		EnablePrioritization: true,
		AdaptiveBatching:     true,
	}
}

// DefaultCacheConfig 返回默认模型缓存配置
func DefaultCacheConfig() CacheConfig {
	return CacheConfig{
		CacheName:         "model-cache",
		MaxCacheSize:      100 << 20, // 100 MiB
		MaxAge:            24 * time.Hour,
		EnableCompression: true,
		EnableVersioning:  true,
	}
}

// DefaultRedisConfig 返回默认 Redis 配置
func DefaultRedisConfig() RedisConfig {
	return RedisConfig{
		Enabled:      false,
		Addr:         "localhost:6379",
		Password:     "",
		DB:           0,
		PoolSize:     10,
		MinIdleConns: 2,
	}
}

// DefaultLogConfig 返回默认日志配置
func DefaultLogConfig() LogConfig {
	return LogConfig{
		Level:            "info",
		Format:           "json",
		OutputPaths:      []string{"stdout"},
		EnableCaller:     true,
		EnableStacktrace: false,
	}
}

// DefaultTelemetryConfig 返回默认遥测配置
func DefaultTelemetryConfig() TelemetryConfig {
	return TelemetryConfig{
		Enabled:      false,
		OTLPEndpoint: "localhost:4317",
		ServiceName:  "modelserve",
		SampleRate:   0.1,
	}
}
