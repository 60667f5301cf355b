package store

import (
	"context"
	"sort"
	"strings"
	"sync"
)

// MemoryStore 是进程内的 Store 实现，供测试与无 Redis 的本地开发使用。
type MemoryStore struct {
	mu    sync.RWMutex
	items map[string][]byte
}

// NewMemory 创建空的内存存储。
func NewMemory() *MemoryStore {
	return &MemoryStore{items: make(map[string][]byte)}
}

// Put 写入键值。
func (s *MemoryStore) Put(ctx context.Context, key string, value []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	cp := make([]byte, len(value))
	copy(cp, value)

	s.mu.Lock()
	s.items[key] = cp
	s.mu.Unlock()
	return nil
}

// Get 读取键值。
func (s *MemoryStore) Get(ctx context.Context, key string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	value, ok := s.items[key]
	s.mu.RUnlock()
	if !ok {
		return nil, ErrNotFound
	}

	cp := make([]byte, len(value))
	copy(cp, value)
	return cp, nil
}

// Delete 删除若干键。
func (s *MemoryStore) Delete(ctx context.Context, keys ...string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	for _, key := range keys {
		delete(s.items, key)
	}
	s.mu.Unlock()
	return nil
}

// Keys 枚举具有给定前缀的所有键，按字典序返回。
func (s *MemoryStore) Keys(ctx context.Context, prefix string) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	var keys []string
	for key := range s.items {
		if strings.HasPrefix(key, prefix) {
			keys = append(keys, key)
		}
	}
	s.mu.RUnlock()

	sort.Strings(keys)
	return keys, nil
}

// Len 返回键数量。
func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.items)
}
