// 版权所有 2024 GroundRAG Authors. 版权所有。
// 此源代码的使用由 MIT 许可规范,该许可可以是
// 在LICENSE文件中找到。

/*
包 llm 提供 OpenAI 兼容的对话与向量客户端。

Client 同时实现 rag.CompletionProvider（意图分类、摘要生成）、
rag.Generator（带引用的回答生成）和 rag.Embedder（查询与段落向量）。
HTTP 错误映射为 types.Error：401/403 不可重试，429 与 5xx 可重试，
400 中含 quota/credit 的消息映射为 QUOTA_EXCEEDED。每次请求通过
Recorder 上报耗时与 Token 用量。
*/
package llm
