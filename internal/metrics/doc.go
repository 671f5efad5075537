// 版权所有 2024 GroundRAG Authors. 版权所有。
// 此源代码的使用由 MIT 许可规范,该许可可以是
// 在LICENSE文件中找到。

/*
包 metrics 提供基于 Prometheus 的指标采集能力，覆盖
HTTP、检索路由、引用解析、LLM、缓存与数据库。

# 概述

本包通过 Collector 统一注册和记录 Prometheus 指标，使用 promauto
自动注册机制。所有指标按 namespace 隔离。Collector 实现
rag.RetrievalObserver，由路由器和流水线直接回调。

# 主要能力

  - HTTP 指标：请求总数、耗时、请求/响应体大小，状态码归类为 2xx/3xx/4xx/5xx。
  - 检索指标：后端调用次数（按 outcome）、调用耗时、候选数，路由次数与上下文条目数。
  - 引用指标：按格式与是否命中上下文统计引用数，偏移解析结果计数。
  - LLM 指标：请求总数、耗时与 Token 用量，按 operation/model 分组。
  - 缓存与数据库：命中/未命中计数，连接数 Gauge 与查询耗时。
*/
package metrics
