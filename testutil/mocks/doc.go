/*
Package mocks 提供 ModelServe 测试用的 Mock 实现。

# 核心类型

  - MockSentimentAdapter / MockRecommendAdapter: 推理适配器模拟，
    支持固定结果、延迟与错误注入，并记录收到的批次
  - FlakyStore: 包装真实存储并按操作注入失败，用于验证
    缓存层的错误降级路径
  - StaticFetcher: 按模型 ID 返回固定产物的获取器模拟

# 使用示例

	adapter := mocks.NewMockSentimentAdapter()
	adapter.SetResult("hello", factory.SentimentResult{Label: "positive"})

	flaky := mocks.NewFlakyStore(store.NewMemory())
	flaky.FailPuts(errors.New("disk full"))
*/
package mocks
