// Package types 定义 modelserve 各组件共享的基础类型：
// 请求优先级 Priority 与统一的结构化错误 Error。
//
// 优先级用于两处：批处理器挑选下一批请求的排序依据，
// 以及模型缓存淘汰候选的排序依据。错误类型携带统一错误码，
// 便于调用方按类别处理（校验失败、批次执行失败、缓存读写失败等）。
package types
