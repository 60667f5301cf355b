// Package factory 提供批处理器的命名注册表。
//
// 注册表把泛型批处理器（情感分析、推荐）的创建集中到一处：
// 同名处理器在一个注册表内只创建一次，后续创建调用返回同一实例。
// 运维操作（队列状态、清队、调参、关停）通过与元素类型无关的
// Runtime 视图统一暴露，调用方无需关心各处理器的泛型参数。
package factory
