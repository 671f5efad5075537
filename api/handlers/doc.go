// Copyright (c) GroundRAG Authors.
// Use of this source code is governed by the project license.

/*
Package handlers 提供 GroundRAG HTTP API 的请求处理器实现。

# 概述

handlers 包实现检索、引用提取、偏移解析和健康检查端点，
以及统一的响应/错误处理。所有 Handler 均遵循标准 net/http 接口。

# 核心类型

  - RetrievalHandler — /api/v1/retrieve、/api/v1/citations、/api/v1/resolve、/api/v1/turn
  - HealthHandler    — 服务健康检查（/health, /healthz, /ready）
  - Response         — 统一 JSON 响应结构（success + data + error + timestamp）
  - ErrorInfo        — 结构化错误信息，含 code、message、backend、retryable
  - ResponseWriter   — 包装 http.ResponseWriter 以捕获状态码与字节数
  - HealthCheck      — 可插拔健康检查接口，Optional 包装的检查失败只降级

# 主要能力

  - 统一响应格式：WriteSuccess / WriteError / WriteAnyError / WriteJSON
  - 请求验证：DecodeJSONBody（1 MB 限制 + 严格模式）、ValidateContentType
  - ErrorCode → HTTP 状态码映射（DENSE_UNAVAILABLE → 503，CANCELLED → 499）
*/
package handlers
