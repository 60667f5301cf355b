/*
包 metrics 提供基于 Prometheus 的指标采集能力，覆盖
HTTP、批处理与模型缓存三个维度。

# 概述

本包通过 Collector 统一注册和记录 Prometheus 指标。每个
Collector 持有独立的 Registry，经 Registry() 暴露给 /metrics
端点，测试可并行创建互不干扰的实例。所有指标按 namespace
隔离，支持多维度 label 分组。

# 核心类型

  - Collector：指标收集器，持有 Counter、Histogram、Gauge 等
    Prometheus 向量指标，按业务域分组管理。

# 主要能力

  - HTTP 指标：请求总数与请求耗时，按 method/path/status 分组，
    状态码归类为 2xx/3xx/4xx/5xx。
  - 批处理指标：批大小、批耗时、批总数与失败数、队列深度，
    按 processor 分组，经 BatchObserver 挂载到批处理器。
  - 模型缓存指标：命中、未命中、淘汰计数与占用字节/条目数，
    按 cache 分组，经 CacheObserver 挂载到缓存管理器。
*/
package metrics
