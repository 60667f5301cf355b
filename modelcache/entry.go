package modelcache

import (
	"context"
	"fmt"
	"time"

	"github.com/BaSui01/modelserve/types"
)

// Entry 是单个缓存条目的元数据。身份由 (ModelID, Version) 唯一确定。
type Entry struct {
	ModelID string `json:"model_id"`
	Version string `json:"version"`
	// 实际存储的字节数（压缩后）
	Size         int64          `json:"size"`
	CreatedAt    time.Time      `json:"created_at"`
	LastAccessed time.Time      `json:"last_accessed"`
	AccessCount  int64          `json:"access_count"`
	Priority     types.Priority `json:"priority"`
	Compressed   bool           `json:"compressed"`
}

// Config 缓存配置
type Config struct {
	// 存储键命名空间
	CacheName string `yaml:"cache_name" json:"cache_name"`
	// 总字节数上限
	MaxCacheSize int64 `yaml:"max_cache_size" json:"max_cache_size"`
	// 条目最大年龄，超过后按未命中处理
	MaxAge time.Duration `yaml:"max_age" json:"max_age"`
	// 是否启用 gzip 压缩
	EnableCompression bool `yaml:"enable_compression" json:"enable_compression"`
	// 是否允许同一模型保留多个版本
	EnableVersioning bool `yaml:"enable_versioning" json:"enable_versioning"`
	// 免于常规淘汰的模型 ID 集合
	PriorityModels []string `yaml:"priority_models" json:"priority_models"`
}

// DefaultConfig 返回合理的默认值。
func DefaultConfig() Config {
	return Config{
		CacheName:         "model-cache",
		MaxCacheSize:      100 << 20, // 100 MiB
		MaxAge:            24 * time.Hour,
		EnableCompression: true,
		EnableVersioning:  true,
	}
}

// Validate 校验配置。
func (c Config) Validate() error {
	if c.CacheName == "" {
		return types.NewError(types.ErrInvalidRequest, "cache_name must not be empty")
	}
	if c.MaxCacheSize <= 0 {
		return types.NewError(types.ErrInvalidRequest, fmt.Sprintf("max_cache_size must be positive, got %d", c.MaxCacheSize))
	}
	if c.MaxAge <= 0 {
		return types.NewError(types.ErrInvalidRequest, fmt.Sprintf("max_age must be positive, got %v", c.MaxAge))
	}
	return nil
}

// Stats 是缓存的瞬时统计。
type Stats struct {
	TotalSize             int64   `json:"total_size"`
	ModelCount            int     `json:"model_count"`
	AvailableSpace        int64   `json:"available_space"`
	UtilizationPercentage float64 `json:"utilization_percentage"`
}

// Fetcher 是预载优先模型时使用的外部模型获取器。
type Fetcher interface {
	FetchModel(ctx context.Context, modelID string) (data []byte, version string, err error)
}
