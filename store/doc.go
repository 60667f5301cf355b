// Package store 定义模型缓存使用的按键寻址二进制存储抽象，
// 以及两个实现：Redis 后端（生产）与进程内内存后端（测试与本地开发）。
//
// Store 只做四件事：写入、读取、删除、按前缀枚举键。
// 过期、压缩、版本与淘汰等语义全部由上层 modelcache 负责。
package store
