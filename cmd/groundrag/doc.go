// Copyright (c) GroundRAG Authors.
// Licensed under the MIT License.

/*
Package main 提供 GroundRAG 服务端程序入口。

# 概述

cmd/groundrag 是检索路由与引用定位服务的可执行入口，提供 HTTP API 服务、
文档库迁移、健康检查和版本查询等子命令。程序支持 YAML 配置文件加载、
结构化日志（zap）、Prometheus 指标采集与 OpenTelemetry 链路追踪。

# 核心类型

  - Server       — 主服务器，组装缓存、文档库、检索组件并管理 API、Metrics 双端口
  - Middleware   — HTTP 中间件函数签名 func(http.Handler) http.Handler
  - HTTPRecorder — 请求指标回调，*metrics.Collector 实现
  - RateKeyFunc  — 限流分桶函数（ClientIPKey、TenantKey）

# 主要能力

  - 子命令：serve（启动服务）、migrate（文档库迁移）、version、health
  - 中间件链：Recovery、RequestID、SecurityHeaders、OTelTracing、Metrics、
    RequestLogger、CORS、认证（JWTAuth 优先，其次 APIKeyAuth）、RateLimiter
  - 启动时按配置自动执行文档库迁移（database.auto_migrate）
  - Metrics 服务器：独立端口暴露 /metrics（Prometheus），端口为 0 时关闭
  - 优雅关闭：信号 → 关闭 API → 关闭 Metrics → 刷新遥测 → 关闭数据库与 Redis
  - 构建注入：Version、BuildTime、GitCommit 通过 ldflags 设置
*/
package main
