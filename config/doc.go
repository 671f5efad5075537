// Package config 提供 GroundRAG 的配置管理功能。
//
// 配置按 默认值 → YAML 文件 → 环境变量 的顺序加载，启动后只读。
package config
