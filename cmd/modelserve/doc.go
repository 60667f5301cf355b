/*
Package main 提供 ModelServe 服务端程序入口。

# 概述

cmd/modelserve 是 ModelServe 的可执行入口，提供批量推理 HTTP API、
缓存预热、健康检查和版本查询等子命令。程序支持 YAML 配置文件加载、
结构化日志（zap）、Prometheus 指标采集以及批处理配置热重载。

# 核心类型

  - Server          — 主服务器，管理 HTTP、Metrics 双端口及优雅关闭
  - handlers        — JSON API 处理器集合，封装 modelserve.Serving
  - Middleware      — HTTP 中间件函数签名 func(http.Handler) http.Handler

# 主要能力

  - 子命令：serve（启动服务）、preload（预热缓存后退出）、version、health
  - 推理端点：/api/v1/sentiment、/api/v1/recommend（并发请求在
    处理器内部合并成批）
  - 运维端点：/api/v1/cache/stats、/api/v1/cache/models、/api/v1/processors
  - 中间件链：Recovery、RequestID、SecurityHeaders、OTelTracing、
    RequestLogger、MetricsMiddleware、RateLimiter（全局令牌桶）
  - 配置热重载：--config 指定文件时监听变更并推送到运行中的处理器
  - Metrics 服务器：独立端口暴露 /metrics（Prometheus）
  - 优雅关闭：信号监听 → 停止监听 → 关闭 HTTP → 关闭 Metrics →
    关闭处理器与存储 → 关闭遥测
  - 构建注入：Version、BuildTime、GitCommit 通过 ldflags 设置
*/
package main
