package store

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// RedisConfig Redis 存储配置
type RedisConfig struct {
	// Redis 地址
	Addr string `yaml:"addr" json:"addr"`

	// 密码
	Password string `yaml:"password" json:"password"`

	// 数据库编号
	DB int `yaml:"db" json:"db"`

	// 最大重试次数
	MaxRetries int `yaml:"max_retries" json:"max_retries"`

	// 连接池大小
	PoolSize int `yaml:"pool_size" json:"pool_size"`

	// 最小空闲连接数
	MinIdleConns int `yaml:"min_idle_conns" json:"min_idle_conns"`
}

// DefaultRedisConfig 返回默认 Redis 存储配置
func DefaultRedisConfig() RedisConfig {
	return RedisConfig{
		Addr:         "localhost:6379",
		Password:     "",
		DB:           0,
		MaxRetries:   3,
		PoolSize:     10,
		MinIdleConns: 2,
	}
}

// RedisStore 以 Redis 作为后端的 Store 实现。
// 值不设置 TTL：过期语义由 modelcache 依据条目元数据判定。
type RedisStore struct {
	client *redis.Client
	logger *zap.Logger
}

// NewRedis 创建 Redis 存储并验证连接。
func NewRedis(cfg RedisConfig, logger *zap.Logger) (*RedisStore, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	client := redis.NewClient(&redis.Options{
		Addr:         cfg.Addr,
		Password:     cfg.Password,
		DB:           cfg.DB,
		MaxRetries:   cfg.MaxRetries,
		PoolSize:     cfg.PoolSize,
		MinIdleConns: cfg.MinIdleConns,
	})

	// 测试连接
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	logger.Info("redis store initialized",
		zap.String("addr", cfg.Addr),
		zap.Int("pool_size", cfg.PoolSize),
	)

	return &RedisStore{
		client: client,
		logger: logger.With(zap.String("component", "store")),
	}, nil
}

// Put 写入键值。
func (s *RedisStore) Put(ctx context.Context, key string, value []byte) error {
	if err := s.client.Set(ctx, key, value, 0).Err(); err != nil {
		s.logger.Error("store put failed", zap.String("key", key), zap.Error(err))
		return fmt.Errorf("store put failed: %w", err)
	}
	return nil
}

// Get 读取键值。
func (s *RedisStore) Get(ctx context.Context, key string) ([]byte, error) {
	data, err := s.client.Get(ctx, key).Bytes()
	if err == redis.Nil {
		return nil, ErrNotFound
	}
	if err != nil {
		s.logger.Error("store get failed", zap.String("key", key), zap.Error(err))
		return nil, fmt.Errorf("store get failed: %w", err)
	}
	return data, nil
}

// Delete 删除若干键。
func (s *RedisStore) Delete(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	if err := s.client.Del(ctx, keys...).Err(); err != nil {
		s.logger.Error("store delete failed", zap.Strings("keys", keys), zap.Error(err))
		return fmt.Errorf("store delete failed: %w", err)
	}
	return nil
}

// Keys 以 SCAN 枚举具有给定前缀的所有键。
func (s *RedisStore) Keys(ctx context.Context, prefix string) ([]string, error) {
	var keys []string
	iter := s.client.Scan(ctx, 0, prefix+"*", 0).Iterator()
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	if err := iter.Err(); err != nil {
		return nil, fmt.Errorf("store scan failed: %w", err)
	}
	return keys, nil
}

// Ping 检查 Redis 连接。
func (s *RedisStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

// Close 关闭底层连接。
func (s *RedisStore) Close() error {
	return s.client.Close()
}
