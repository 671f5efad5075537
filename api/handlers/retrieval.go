package handlers

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/BaSui01/groundrag/api"
	"github.com/BaSui01/groundrag/grounding"
	"github.com/BaSui01/groundrag/rag"
	"github.com/BaSui01/groundrag/types"
)

// =============================================================================
// 🔎 检索与引用 Handler
// =============================================================================

// maxTopK 单次请求允许的最大条目数
const maxTopK = 100

// Retriever 分类并检索（rag.Pipeline 实现）
type Retriever interface {
	Retrieve(ctx context.Context, query types.Query, intent types.Intent, topK int) (types.Intent, []types.ContextItem, error)
}

// CitationResolver 从生成文本提取引用（rag.Pipeline 实现）
type CitationResolver interface {
	ResolveCitations(ctx context.Context, response string, items []types.ContextItem) (types.ResolvedContent, error)
}

// OffsetRecorder 记录偏移解析结果（metrics.Collector 实现）
type OffsetRecorder interface {
	RecordOffsetResolve(result string)
}

// TurnRunner 执行完整的一轮对话（rag.Pipeline 实现）
type TurnRunner interface {
	Run(ctx context.Context, query types.Query) (*rag.TurnResult, error)
}

// RetrievalHandler 检索、引用提取、偏移解析与对话轮次
type RetrievalHandler struct {
	pipeline  RetrieverAndResolver
	turns     TurnRunner
	documents grounding.DocumentTextSource
	resolver  *grounding.OffsetResolver
	recorder  OffsetRecorder
	logger    *zap.Logger
}

// RetrieverAndResolver 检索与引用解析的组合接口
type RetrieverAndResolver interface {
	Retriever
	CitationResolver
}

// RetrievalOption 配置 RetrievalHandler
type RetrievalOption func(*RetrievalHandler)

// WithDocuments 设置 /resolve 按 document_id 读取全文的文档源
func WithDocuments(src grounding.DocumentTextSource) RetrievalOption {
	return func(h *RetrievalHandler) { h.documents = src }
}

// WithTurns 启用 /turn；未设置时该端点返回 503
func WithTurns(t TurnRunner) RetrievalOption {
	return func(h *RetrievalHandler) { h.turns = t }
}

// WithOffsetResolver 替换默认偏移解析器
func WithOffsetResolver(r *grounding.OffsetResolver) RetrievalOption {
	return func(h *RetrievalHandler) {
		if r != nil {
			h.resolver = r
		}
	}
}

// WithOffsetRecorder 设置偏移解析结果记录器
func WithOffsetRecorder(r OffsetRecorder) RetrievalOption {
	return func(h *RetrievalHandler) { h.recorder = r }
}

// NewRetrievalHandler 创建检索处理器
func NewRetrievalHandler(pipeline RetrieverAndResolver, logger *zap.Logger, opts ...RetrievalOption) *RetrievalHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	h := &RetrievalHandler{
		pipeline: pipeline,
		resolver: grounding.NewOffsetResolver(grounding.DefaultFuzzyThreshold),
		logger:   logger.With(zap.String("component", "retrieval_api")),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// HandleRetrieve 处理检索请求
// @Summary 检索上下文
// @Description 对查询分类并从各检索后端收集上下文条目
// @Tags 检索
// @Accept json
// @Produce json
// @Param request body api.RetrieveRequest true "检索请求"
// @Success 200 {object} api.RetrieveResponse "检索结果"
// @Failure 400 {object} Response "无效请求"
// @Failure 503 {object} Response "稠密检索不可用"
// @Security ApiKeyAuth
// @Router /api/v1/retrieve [post]
func (h *RetrievalHandler) HandleRetrieve(w http.ResponseWriter, r *http.Request) {
	if !ValidateContentType(w, r, h.logger) {
		return
	}

	var req api.RetrieveRequest
	if err := DecodeJSONBody(w, r, &req, h.logger); err != nil {
		return
	}

	intent, err := validateRetrieveRequest(&req)
	if err != nil {
		WriteError(w, err, h.logger)
		return
	}

	start := time.Now()
	intent, items, rerr := h.pipeline.Retrieve(r.Context(), req.ToQuery(), intent, req.TopK)
	if rerr != nil {
		h.writeContextError(w, r, rerr)
		return
	}
	if items == nil {
		items = []types.ContextItem{}
	}

	h.logger.Info("retrieve",
		zap.String("intent", string(intent)),
		zap.Int("context_items", len(items)),
		zap.Duration("duration", time.Since(start)),
	)

	WriteSuccess(w, api.RetrieveResponse{Intent: intent, ContextItems: items})
}

// HandleCitations 处理引用提取请求
// @Summary 提取引用
// @Description 将生成文本切分为文本片段与引用，并解析引用对应的上下文条目
// @Tags 引用
// @Accept json
// @Produce json
// @Param request body api.CitationsRequest true "引用请求"
// @Success 200 {object} types.ResolvedContent "解析结果"
// @Failure 400 {object} Response "无效请求"
// @Security ApiKeyAuth
// @Router /api/v1/citations [post]
func (h *RetrievalHandler) HandleCitations(w http.ResponseWriter, r *http.Request) {
	if !ValidateContentType(w, r, h.logger) {
		return
	}

	var req api.CitationsRequest
	if err := DecodeJSONBody(w, r, &req, h.logger); err != nil {
		return
	}

	content, err := h.pipeline.ResolveCitations(r.Context(), req.ResponseText, req.ContextItems)
	if err != nil {
		h.writeContextError(w, r, err)
		return
	}

	WriteSuccess(w, content)
}

// HandleResolve 处理偏移解析请求
// @Summary 定位声明
// @Description 先精确匹配再近似匹配，返回声明在原文中的字符区间
// @Tags 引用
// @Accept json
// @Produce json
// @Param request body api.ResolveRequest true "解析请求"
// @Success 200 {object} api.ResolveResponse "解析结果"
// @Failure 400 {object} Response "无效请求"
// @Failure 404 {object} Response "文档不存在"
// @Security ApiKeyAuth
// @Router /api/v1/resolve [post]
func (h *RetrievalHandler) HandleResolve(w http.ResponseWriter, r *http.Request) {
	if !ValidateContentType(w, r, h.logger) {
		return
	}

	var req api.ResolveRequest
	if err := DecodeJSONBody(w, r, &req, h.logger); err != nil {
		return
	}

	if err := validateResolveRequest(&req, h.documents != nil); err != nil {
		WriteError(w, err, h.logger)
		return
	}

	source := req.SourceText
	if req.DocumentID != "" {
		text, err := h.documents.GetDocumentText(r.Context(), req.DocumentID)
		if err != nil {
			h.writeContextError(w, r, err)
			return
		}
		source = text
	}

	match := h.resolver.Resolve(req.Claim, source)
	if h.recorder != nil {
		h.recorder.RecordOffsetResolve(matchResult(match))
	}

	WriteSuccess(w, api.ResolveResponse{Match: match})
}

// HandleTurn 处理一轮对话
// @Summary 对话轮次
// @Description 分类、检索、生成回答并解析回答中的引用
// @Tags 对话
// @Accept json
// @Produce json
// @Param request body api.TurnRequest true "对话请求"
// @Success 200 {object} rag.TurnResult "本轮结果"
// @Failure 400 {object} Response "无效请求"
// @Failure 502 {object} Response "生成失败"
// @Failure 503 {object} Response "生成未配置或稠密检索不可用"
// @Security ApiKeyAuth
// @Router /api/v1/turn [post]
func (h *RetrievalHandler) HandleTurn(w http.ResponseWriter, r *http.Request) {
	if h.turns == nil {
		WriteError(w, types.NewError(types.ErrServiceUnavailable, "generation is not configured").
			WithHTTPStatus(http.StatusServiceUnavailable), h.logger)
		return
	}
	if !ValidateContentType(w, r, h.logger) {
		return
	}

	var req api.TurnRequest
	if err := DecodeJSONBody(w, r, &req, h.logger); err != nil {
		return
	}
	if strings.TrimSpace(req.Query) == "" && strings.TrimSpace(req.Topic) == "" && len(req.History) == 0 {
		WriteError(w, types.NewInvalidRequestError("query, topic or history is required"), h.logger)
		return
	}

	result, err := h.turns.Run(r.Context(), req.ToQuery())
	if err != nil {
		h.writeContextError(w, r, err)
		return
	}
	if result.ContextItems == nil {
		result.ContextItems = []types.ContextItem{}
	}

	WriteSuccess(w, result)
}

// writeContextError 客户端断开时报告 CANCELLED，其余按原错误写出
func (h *RetrievalHandler) writeContextError(w http.ResponseWriter, r *http.Request, err error) {
	if !types.IsErrorCode(err, types.ErrTurnCancelled) {
		if ctxErr := r.Context().Err(); ctxErr != nil {
			err = types.NewCancelledError(ctxErr)
		} else if errors.Is(err, context.Canceled) {
			err = types.NewCancelledError(err)
		}
	}
	WriteAnyError(w, err, h.logger)
}

// =============================================================================
// 🛡️ 请求验证
// =============================================================================

func validateRetrieveRequest(req *api.RetrieveRequest) (types.Intent, *types.Error) {
	if strings.TrimSpace(req.Query) == "" && strings.TrimSpace(req.Topic) == "" && len(req.History) == 0 {
		return "", types.NewInvalidRequestError("query, topic or history is required")
	}
	if req.TopK < 0 || req.TopK > maxTopK {
		return "", types.NewInvalidRequestError("top_k must be between 0 and 100")
	}
	if req.Intent == "" {
		return "", nil
	}
	intent, ok := types.ParseIntent(req.Intent)
	if !ok {
		return "", types.NewInvalidRequestError("unknown intent: " + req.Intent)
	}
	return intent, nil
}

func validateResolveRequest(req *api.ResolveRequest, hasDocuments bool) *types.Error {
	if req.Claim == "" {
		return types.NewInvalidRequestError("claim is required")
	}
	switch {
	case req.DocumentID != "" && req.SourceText != "":
		return types.NewInvalidRequestError("document_id and source_text are mutually exclusive")
	case req.DocumentID == "" && req.SourceText == "":
		return types.NewInvalidRequestError("document_id or source_text is required")
	case req.DocumentID != "" && !hasDocuments:
		return types.NewError(types.ErrServiceUnavailable, "document store is not configured").
			WithHTTPStatus(http.StatusServiceUnavailable)
	}
	return nil
}

func matchResult(m *types.OffsetMatch) string {
	switch {
	case m == nil:
		return "none"
	case m.Distance == 0:
		return "exact"
	default:
		return "fuzzy"
	}
}
