/*
包 batch 提供推理请求的合批处理能力：将短时间内到达的多个独立请求
聚合为一次批量调用，降低对底层推理适配器的调用次数并提升吞吐量。

# 概述

ML 演示页的调用模式是大量零散的单条请求（一段文本、一个项目 ID）。
逐条调用推理适配器开销很大，本包通过 Processor 把它们聚合为批次，
由调用方提供的 Handler 一次性处理，再把结果逐条回填给各个请求。

# 核心接口

  - Handler[T, R]：批量处理回调，接收一组输入并返回位置对齐的结果切片。
  - Processor[T, R]：核心批处理器，管理请求队列、等待定时器与批次派发。
  - Config：配置批大小上限、最长等待时间、优先级选择与自适应批量。

# 批次触发

入队后满足以下任一条件即触发派发：

  - 队列长度达到当前目标批量（受 MaxBatchSize 硬上限约束）；
  - 自首条入队起经过 MaxWaitTime。

启用 EnablePrioritization 时按优先级降序、入队先后升序挑选请求；
否则严格 FIFO。批次内结果与输入严格按位置对齐；Handler 整体失败时
该批次所有请求收到同一个失败。批次之间允许并发在途，但同一请求
绝不会被重复派发。

# 自适应批量

启用 AdaptiveBatching 后，Processor 维护近期批次单条耗时的指数滑动
平均：更大的批次摊薄了单条耗时则提高目标批量，反之收缩。硬上限
MaxBatchSize 始终不变，只调整凑批的积极程度。

# 使用方式

	proc, err := batch.New(batch.DefaultConfig(), handler, logger)
	if err != nil { ... }
	defer proc.Close()

	result, err := proc.Submit(ctx, input, types.PriorityNormal)
*/
package batch
