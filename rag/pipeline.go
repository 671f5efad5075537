package rag

import (
	"context"
	"net/http"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/BaSui01/groundrag/grounding"
	"github.com/BaSui01/groundrag/types"
)

// GenerationRequest 一次生成调用的输入
type GenerationRequest struct {
	TurnID       string              `json:"turn_id"`
	Intent       types.Intent        `json:"intent"`
	Messages     []types.Message     `json:"messages"`
	ContextItems []types.ContextItem `json:"context_items"`
}

// Generator 文本生成接口，生成本身在本仓库范围之外
type Generator interface {
	Generate(ctx context.Context, req GenerationRequest) (string, error)
}

// GeneratorFunc adapts a function to Generator.
type GeneratorFunc func(ctx context.Context, req GenerationRequest) (string, error)

// Generate implements Generator.
func (f GeneratorFunc) Generate(ctx context.Context, req GenerationRequest) (string, error) {
	return f(ctx, req)
}

// TurnResult 一轮对话的完整结果
type TurnResult struct {
	TurnID       string                `json:"turn_id"`
	Intent       types.Intent          `json:"intent"`
	ContextItems []types.ContextItem   `json:"context_items"`
	Response     string                `json:"response"`
	Content      types.ResolvedContent `json:"content"`
	Duration     time.Duration         `json:"duration"`
}

// PipelineDeps 流水线依赖
type PipelineDeps struct {
	Classifier  *IntentClassifier
	Router      *Router
	Extractor   *grounding.Extractor
	Generator   Generator
	Observer    RetrievalObserver
	Instruments *Instruments
	Logger      *zap.Logger
}

// Pipeline 一轮对话：分类 → 检索 → 生成 → 引用解析
type Pipeline struct {
	classifier *IntentClassifier
	router     *Router
	extractor  *grounding.Extractor
	generator  Generator
	observer   RetrievalObserver
	inst       *Instruments
	logger     *zap.Logger
}

// NewPipeline creates a Pipeline. Router is required; other nil dependencies
// get defaults, except Generator which only Run needs.
func NewPipeline(deps PipelineDeps) *Pipeline {
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	classifier := deps.Classifier
	if classifier == nil {
		classifier = NewIntentClassifier(DefaultClassifierConfig(), nil, nil, logger)
	}
	extractor := deps.Extractor
	if extractor == nil {
		extractor = grounding.NewExtractor(grounding.DefaultExtractorConfig(), logger)
	}
	observer := deps.Observer
	if observer == nil {
		observer = nopObserver{}
	}
	return &Pipeline{
		classifier: classifier,
		router:     deps.Router,
		extractor:  extractor,
		generator:  deps.Generator,
		observer:   observer,
		inst:       deps.Instruments,
		logger:     logger.With(zap.String("component", "pipeline")),
	}
}

// Classifier returns the intent classifier.
func (p *Pipeline) Classifier() *IntentClassifier { return p.classifier }

// Router returns the retrieval router.
func (p *Pipeline) Router() *Router { return p.router }

// Extractor returns the citation extractor.
func (p *Pipeline) Extractor() *grounding.Extractor { return p.extractor }

// Retrieve classifies query unless intent is given and routes it.
func (p *Pipeline) Retrieve(ctx context.Context, query types.Query, intent types.Intent, topK int) (types.Intent, []types.ContextItem, error) {
	if !intent.Valid() {
		intent = p.classifier.Classify(ctx, query)
	}
	items, err := p.router.RouteTopK(ctx, query, intent, topK)
	return intent, items, err
}

// ResolveCitations extracts citations from a generated response and reports them.
func (p *Pipeline) ResolveCitations(ctx context.Context, response string, items []types.ContextItem) (types.ResolvedContent, error) {
	content, err := p.extractor.ExtractAndResolve(ctx, response, items)
	if err != nil {
		return types.ResolvedContent{}, err
	}

	unknown := 0
	for _, c := range content.Citations {
		if !c.Known() {
			unknown++
		}
	}
	p.observer.ObserveCitations(string(content.Format), len(content.Citations), unknown)
	if p.inst != nil {
		p.inst.RecordCitations(ctx, string(content.Format), len(content.Citations), unknown)
	}
	if unknown > 0 {
		p.logger.Debug("response cites unknown ids", zap.Int("unknown", unknown))
	}
	return content, nil
}

// Run executes one turn. A cancelled ctx discards partial results and
// returns a CANCELLED error.
func (p *Pipeline) Run(ctx context.Context, query types.Query) (*TurnResult, error) {
	if p.generator == nil {
		return nil, types.NewError(types.ErrInternalError, "pipeline has no generator").
			WithHTTPStatus(http.StatusInternalServerError)
	}

	start := time.Now()
	turnID := uuid.NewString()
	ctx = types.WithTurnID(ctx, turnID)
	logger := p.logger.With(zap.String("turn_id", turnID))

	intent, items, err := p.Retrieve(ctx, query, "", 0)
	if err != nil {
		logger.Warn("retrieval failed", zap.Error(err))
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, types.NewCancelledError(err)
	}

	history := query.History
	if text := query.Text; text != "" {
		if n := len(history); n == 0 || history[n-1].Role != types.RoleUser || history[n-1].Content != text {
			history = append(append([]types.Message(nil), history...), types.NewUserMessage(text))
		}
	}

	response, err := p.generator.Generate(ctx, GenerationRequest{
		TurnID:       turnID,
		Intent:       intent,
		Messages:     BuildMessages(history, items),
		ContextItems: items,
	})
	if ctxErr := ctx.Err(); ctxErr != nil {
		return nil, types.NewCancelledError(ctxErr)
	}
	if err != nil {
		logger.Error("generation failed", zap.Error(err))
		return nil, types.NewError(types.ErrGenerationFailed, "generation failed").
			WithHTTPStatus(http.StatusBadGateway).
			WithRetryable(true).
			WithCause(err)
	}

	content, err := p.ResolveCitations(ctx, response, items)
	if err != nil {
		return nil, err
	}

	result := &TurnResult{
		TurnID:       turnID,
		Intent:       intent,
		ContextItems: items,
		Response:     response,
		Content:      content,
		Duration:     time.Since(start),
	}
	logger.Info("turn completed",
		zap.String("intent", string(intent)),
		zap.Int("context_items", len(items)),
		zap.Int("citations", len(content.Citations)),
		zap.Duration("duration", result.Duration))
	return result, nil
}
