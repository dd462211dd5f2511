// Package config 提供负载探测器的配置管理功能。
// 引擎配置支持从 YAML 文件、环境变量和命令行参数加载，
// 优先级顺序为：默认值 < YAML 文件 < 环境变量 < 命令行参数。
// 测试计划（场景、探测、阈值）由 LoadPlan 单独加载并校验。
package config
