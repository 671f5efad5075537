package api

import (
	"github.com/BaSui01/groundrag/types"
)

// =============================================================================
// 检索类型
// =============================================================================

// RetrieveRequest 检索请求
// @Description 检索请求结构
type RetrieveRequest struct {
	// 用户查询文本
	Query string `json:"query" example:"Who leads the platform team?"`
	// 可选主题提示，查询为空时作为检索文本
	Topic string `json:"topic,omitempty" example:"org chart"`
	// 对话历史，最近一条在最后
	History []types.Message `json:"history,omitempty"`
	// 显式意图（factual/relational/summary/mixed，大小写不敏感），为空时自动分类
	Intent string `json:"intent,omitempty" example:"relational"`
	// 返回条目数，0 使用配置默认值
	TopK int `json:"top_k,omitempty" example:"10"`
}

// ToQuery converts the request into a retrieval query.
func (r RetrieveRequest) ToQuery() types.Query {
	return types.Query{Text: r.Query, Topic: r.Topic, History: r.History}
}

// RetrieveResponse 检索响应
// @Description 检索响应结构
type RetrieveResponse struct {
	// 实际使用的意图
	Intent types.Intent `json:"intent" example:"relational"`
	// 合并排序后的上下文条目
	ContextItems []types.ContextItem `json:"context_items"`
}

// =============================================================================
// 引用类型
// =============================================================================

// CitationsRequest 引用解析请求
// @Description 对生成文本提取引用
type CitationsRequest struct {
	// 生成的回答文本
	ResponseText string `json:"response_text"`
	// 生成时提供给模型的上下文条目
	ContextItems []types.ContextItem `json:"context_items"`
}

// ResolveRequest 偏移解析请求。DocumentID 与 SourceText 二选一
// @Description 在原文中定位声明文本
type ResolveRequest struct {
	// 声明文本
	Claim string `json:"claim" example:"Paris is the capital of France"`
	// 原文所在文档，从文档库读取全文
	DocumentID string `json:"document_id,omitempty" example:"n1"`
	// 直接提供原文
	SourceText string `json:"source_text,omitempty"`
}

// ResolveResponse 偏移解析响应
// @Description 偏移解析结果，未找到时 match 为 null
type ResolveResponse struct {
	Match *types.OffsetMatch `json:"match"`
}

// =============================================================================
// 对话轮次类型
// =============================================================================

// TurnRequest 一轮对话请求：检索、生成并解析引用
// @Description 对话轮次请求结构
type TurnRequest struct {
	// 用户本轮输入
	Query string `json:"query" example:"What did the team decide about the budget?"`
	// 可选主题提示
	Topic string `json:"topic,omitempty"`
	// 对话历史，最近一条在最后
	History []types.Message `json:"history,omitempty"`
}

// ToQuery converts the request into a retrieval query.
func (r TurnRequest) ToQuery() types.Query {
	return types.Query{Text: r.Query, Topic: r.Topic, History: r.History}
}
