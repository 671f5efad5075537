// Copyright (c) GroundRAG Authors.
// Licensed under the MIT License.

/*
Package types 提供 GroundRAG 的全局共享类型定义。

# 概述

types 是最底层的公共包，不依赖任何内部包，为 rag、grounding、api 等
上层模块提供统一的类型契约。检索查询、候选段落、上下文条目、引用标记
与解析结果均定义于此，以避免循环依赖。

# 核心类型

  - Query / Intent      — 对话查询与意图标签（factual / relational / summary / mixed）
  - Backend             — 候选来源（dense / graph / summary）
  - Candidate           — 单个后端返回的候选段落
  - ContextItem         — 合并排序后分配了引用 ID 的上下文条目
  - CitationMarker      — 响应文本中的引用标记
  - ResolvedCitation    — 引用 ID 解析后的来源元数据
  - Segment             — 响应文本切分后的文本/引用片段
  - ResolvedContent     — 引用提取的完整结果
  - OffsetMatch         — 声明文本在原文中的字符区间
  - Error / ErrorCode   — 结构化错误体系，含 HTTP 状态码与 Retryable 标记

# 主要能力

  - Context 传播：WithTraceID / WithTenantID / WithUserID / WithTurnID
  - 错误工具链：NewError / GetErrorCode / IsRetryable / IsErrorCode
  - 哨兵错误：ErrDenseUnavailable / ErrCancelled
  - Token 估算：EstimateTokenizer（中英文字符分别计算）
*/
package types
