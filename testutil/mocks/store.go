// 存储与模型获取的测试模拟实现。
//
// 支持错误注入与固定产物返回场景。
package mocks

import (
	"context"
	"sync"

	"github.com/BaSui01/modelserve/store"
)

// =============================================================================
// 🎯 FlakyStore
// =============================================================================

// FlakyStore 包装一个真实存储，可按操作注入失败
type FlakyStore struct {
	store.Store

	mu        sync.Mutex
	putErr    error
	getErr    error
	deleteErr error
	keysErr   error
}

// NewFlakyStore 创建可注入故障的存储包装
func NewFlakyStore(inner store.Store) *FlakyStore {
	return &FlakyStore{Store: inner}
}

// FailPuts 让后续 Put 返回 err，传 nil 恢复
func (s *FlakyStore) FailPuts(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.putErr = err
}

// FailGets 让后续 Get 返回 err，传 nil 恢复
func (s *FlakyStore) FailGets(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.getErr = err
}

// FailDeletes 让后续 Delete 返回 err，传 nil 恢复
func (s *FlakyStore) FailDeletes(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.deleteErr = err
}

// FailKeys 让后续 Keys 返回 err，传 nil 恢复
func (s *FlakyStore) FailKeys(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.keysErr = err
}

func (s *FlakyStore) Put(ctx context.Context, key string, value []byte) error {
	s.mu.Lock()
	err := s.putErr
	s.mu.Unlock()
	if err != nil {
		return err
	}
	return s.Store.Put(ctx, key, value)
}

func (s *FlakyStore) Get(ctx context.Context, key string) ([]byte, error) {
	s.mu.Lock()
	err := s.getErr
	s.mu.Unlock()
	if err != nil {
		return nil, err
	}
	return s.Store.Get(ctx, key)
}

func (s *FlakyStore) Delete(ctx context.Context, keys ...string) error {
	s.mu.Lock()
	err := s.deleteErr
	s.mu.Unlock()
	if err != nil {
		return err
	}
	return s.Store.Delete(ctx, keys...)
}

func (s *FlakyStore) Keys(ctx context.Context, prefix string) ([]string, error) {
	s.mu.Lock()
	err := s.keysErr
	s.mu.Unlock()
	if err != nil {
		return nil, err
	}
	return s.Store.Keys(ctx, prefix)
}

// =============================================================================
// 🎯 StaticFetcher
// =============================================================================

// StaticFetcher 按模型 ID 返回固定产物的获取器模拟
type StaticFetcher struct {
	mu sync.Mutex

	// modelID → 产物字节
	Models map[string][]byte

	// 返回的版本号，缺省为 "v1"
	Version string

	// 注入错误（对所有模型生效）
	Err error

	calls []string
}

// NewStaticFetcher 创建固定产物获取器
func NewStaticFetcher(models map[string][]byte) *StaticFetcher {
	return &StaticFetcher{Models: models, Version: "v1"}
}

// Calls 返回按顺序记录的抓取请求
func (f *StaticFetcher) Calls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}

// FetchModel 实现 modelcache.Fetcher
func (f *StaticFetcher) FetchModel(ctx context.Context, modelID string) ([]byte, string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.calls = append(f.calls, modelID)
	if f.Err != nil {
		return nil, "", f.Err
	}
	data, ok := f.Models[modelID]
	if !ok {
		return nil, "", store.ErrNotFound
	}
	return data, f.Version, nil
}
