// =============================================================================
// 🎭 推理适配器模拟实现
// =============================================================================
// 用于测试的情感/推荐适配器模拟，支持固定结果、延迟与错误注入
//
// 使用方法:
//
//	adapter := mocks.NewMockSentimentAdapter()
//	adapter.SetResult("hello", factory.SentimentResult{Label: "positive"})
//	results, err := adapter.AnalyzeBatch(ctx, []string{"hello"})
// =============================================================================
package mocks

import (
	"context"
	"sync"
	"time"

	"github.com/BaSui01/modelserve/factory"
)

// =============================================================================
// 🎯 MockSentimentAdapter
// =============================================================================

// MockSentimentAdapter 是情感分析适配器的模拟实现
type MockSentimentAdapter struct {
	mu sync.Mutex

	// 按输入文本检索的固定结果
	results map[string]factory.SentimentResult

	// 错误与延迟注入
	err   error
	delay time.Duration

	// 调用记录
	batches [][]string
}

// NewMockSentimentAdapter 创建情感适配器模拟
func NewMockSentimentAdapter() *MockSentimentAdapter {
	return &MockSentimentAdapter{
		results: make(map[string]factory.SentimentResult),
	}
}

// SetResult 设置某条文本的固定结果
func (m *MockSentimentAdapter) SetResult(text string, result factory.SentimentResult) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.results[text] = result
}

// SetError 注入批级错误
func (m *MockSentimentAdapter) SetError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.err = err
}

// SetDelay 注入批处理延迟
func (m *MockSentimentAdapter) SetDelay(d time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.delay = d
}

// Batches 返回收到的所有批次
func (m *MockSentimentAdapter) Batches() [][]string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([][]string, len(m.batches))
	for i, b := range m.batches {
		out[i] = append([]string(nil), b...)
	}
	return out
}

// AnalyzeBatch 实现 factory.SentimentAdapter
func (m *MockSentimentAdapter) AnalyzeBatch(ctx context.Context, texts []string) ([]factory.SentimentResult, error) {
	m.mu.Lock()
	m.batches = append(m.batches, append([]string(nil), texts...))
	err := m.err
	delay := m.delay
	results := make([]factory.SentimentResult, len(texts))
	for i, text := range texts {
		if r, ok := m.results[text]; ok {
			results[i] = r
		} else {
			results[i] = factory.SentimentResult{Label: "neutral", Confidence: 0.5}
		}
	}
	m.mu.Unlock()

	if delay > 0 {
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if err != nil {
		return nil, err
	}
	return results, nil
}

// =============================================================================
// 🎯 MockRecommendAdapter
// =============================================================================

// MockRecommendAdapter 是推荐适配器的模拟实现
type MockRecommendAdapter struct {
	mu sync.Mutex

	// 按用户 ID 检索的固定结果
	items map[string][]factory.Recommendation

	// 错误注入
	err error

	// 调用记录
	batches [][]string
}

// NewMockRecommendAdapter 创建推荐适配器模拟
func NewMockRecommendAdapter() *MockRecommendAdapter {
	return &MockRecommendAdapter{
		items: make(map[string][]factory.Recommendation),
	}
}

// SetItems 设置某个用户的固定推荐列表
func (m *MockRecommendAdapter) SetItems(userID string, items []factory.Recommendation) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.items[userID] = items
}

// SetError 注入批级错误
func (m *MockRecommendAdapter) SetError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.err = err
}

// Batches 返回收到的所有批次
func (m *MockRecommendAdapter) Batches() [][]string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([][]string, len(m.batches))
	for i, b := range m.batches {
		out[i] = append([]string(nil), b...)
	}
	return out
}

// RecommendBatch 实现 factory.RecommendAdapter
func (m *MockRecommendAdapter) RecommendBatch(ctx context.Context, userIDs []string) ([]factory.RecommendationResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.batches = append(m.batches, append([]string(nil), userIDs...))
	if m.err != nil {
		return nil, m.err
	}

	results := make([]factory.RecommendationResult, len(userIDs))
	for i, userID := range userIDs {
		results[i] = factory.RecommendationResult{
			UserID: userID,
			Items:  m.items[userID],
		}
	}
	return results, nil
}
