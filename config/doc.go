// Package config 提供 ModelServe 的配置管理功能。
//
// 包含配置加载与文件变更驱动的热重载。
// 支持从文件和环境变量加载配置，批处理参数可在
// 运行时随配置文件变更下发到处理器。
package config
