// Copyright (c) GroundRAG Authors.
// Licensed under the MIT License.

/*
# 概述

Package grounding 把生成文本中的引用标记解析回可验证的原文字符区间。

# 核心接口/类型

  - Strategy — 引用解析策略接口（主格式 [citation:id] 与旧格式 [Note #N] 各自独立实现）
  - Extractor — 按格式检测结果选择策略，产出 ResolvedContent
  - OffsetResolver — 精确匹配优先、编辑距离滑动窗口兜底的偏移解析器
  - DocumentTextSource — 全文查询接口，用于补全缺失的字符偏移

# 主要能力

  - 单次左到右扫描切分响应文本，片段拼接严格等于原文
  - 相同引用 ID 去重，未知 ID 以空元数据输出
  - 单行动态规划 Levenshtein 距离，按字符（rune）计算偏移
  - 结果均为输入的纯函数，可重复调用
*/
package grounding
