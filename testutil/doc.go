// =============================================================================
// 🧪 测试辅助函数
// =============================================================================
// 提供通用的测试上下文、等待与断言辅助。mocks 子包提供
// 推理适配器、模型获取器与故障注入存储的测试替身。
// =============================================================================
package testutil
