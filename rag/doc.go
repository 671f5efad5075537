// Copyright (c) GroundRAG Authors.
// Use of this source code is governed by the project license.

/*
# 概述

Package rag 实现意图驱动的检索路由：把一次查询分类为 FACTUAL、RELATIONAL、
SUMMARY 或 MIXED，按意图并发调用稠密、图、摘要三类候选存储，再把结果去重、
排序并截断为带引用 ID 的上下文条目。

# 核心接口/类型

  - Retriever — 候选存储统一契约，Readiness 可选报告就绪状态
  - IntentClassifier — 关键词规则 + 可选 LLM 分类，失败时退化为 MIXED
  - DispatchTable — 意图到主后端/兜底后端的静态映射
  - Router — errgroup 并发调用，每个后端独立超时，单个后端失败不影响整体
  - Merger — 分数归一化、偏移重叠/文本前后缀去重、topK 与 token 预算截断
  - Pipeline — 分类 → 检索 → 生成 → 引用解析的一轮对话
  - RetrievalObserver / Instruments — Prometheus 与 OTel 观测回调

# 存储后端

  - InMemoryPassageStore / QdrantPassageStore — 稠密段落检索
  - GraphStore — 实体关系图，按跳数衰减打分
  - SummaryTree — 分层摘要树，摘要节点指向第一个来源文档

NewComponentsFromConfig 从 config.Config 一次性构造全部组件。
*/
package rag
