package store

import (
	"context"
	"errors"
)

// ErrNotFound 表示键不存在。
var ErrNotFound = errors.New("store: key not found")

// Store 是按键寻址的二进制存储。
type Store interface {
	// Put 写入键值，已存在时覆盖。
	Put(ctx context.Context, key string, value []byte) error
	// Get 读取键值，键不存在时返回 ErrNotFound。
	Get(ctx context.Context, key string) ([]byte, error)
	// Delete 删除若干键，不存在的键静默忽略。
	Delete(ctx context.Context, keys ...string) error
	// Keys 枚举具有给定前缀的所有键。
	Keys(ctx context.Context, prefix string) ([]string, error)
}
