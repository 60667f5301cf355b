/*
包 modelcache 提供模型产物（序列化权重等不透明二进制负载）的
持久缓存：有容量上限、带版本索引、支持压缩与按优先级 + LRU 淘汰。

# 概述

演示页使用的模型从远端下载代价高昂，Manager 把下载结果写入
按键寻址的 store.Store（生产环境为 Redis），并维护内存中的
大小与版本索引。每个条目以 (modelID, version) 唯一标识，
存储键为 {cacheName}/{modelID}@{version}，元数据记录
（大小、时间戳、访问计数、优先级、压缩标志）以 JSON 形式
存放在旁路键 {cacheName}/meta/{modelID}@{version}。

# 语义要点

  - 写入前先淘汰：若写入会超出 MaxCacheSize，按（优先级升序、
    最近访问升序）逐个移除非优先条目；仍不够时才动用
    PriorityModels 中的优先条目；还不够则写入失败。
    任何成功写入之后总字节数都不超过 MaxCacheSize。
  - 过期即缺失：条目年龄超过 MaxAge 时读取按未命中处理并当场移除，
    调用方无法区分过期与不存在。
  - 读失败降级：元数据损坏或解压失败按未命中处理并移除该条目，
    绝不向调用方抛出。
  - 缓存调用面不返回 error：失败记日志并以 false/nil 表达，
    调用方应回退到新鲜数据源。

# 压缩

Compressor 能力由 EnableCompression 选择：Gzip（真实压缩）或
Passthrough（透传）。压缩后反而变大的负载按原样存储。
*/
package modelcache
