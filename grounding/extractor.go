package grounding

import (
	"context"
	"errors"

	"go.uber.org/zap"

	"github.com/BaSui01/groundrag/types"
)

// DocumentTextSource 全文查询接口
type DocumentTextSource interface {
	GetDocumentText(ctx context.Context, documentID string) (string, error)
}

// ExtractorConfig 引用提取配置
type ExtractorConfig struct {
	SnippetLength  int     `json:"snippet_length"`
	FuzzyThreshold float64 `json:"fuzzy_threshold"`
	// DisableLegacy 关闭 [Note #N] 兼容解析
	DisableLegacy bool `json:"disable_legacy"`
}

// DefaultExtractorConfig 返回默认配置
func DefaultExtractorConfig() ExtractorConfig {
	return ExtractorConfig{
		SnippetLength:  DefaultSnippetLength,
		FuzzyThreshold: DefaultFuzzyThreshold,
	}
}

// Extractor 根据格式检测结果选择解析策略
type Extractor struct {
	strategies map[types.CitationFormat]Strategy
	resolver   *OffsetResolver
	docs       DocumentTextSource
	logger     *zap.Logger
}

// ExtractorOption 可选配置
type ExtractorOption func(*Extractor)

// WithDocumentTextSource enables offset refinement in ExtractAndResolve.
func WithDocumentTextSource(src DocumentTextSource) ExtractorOption {
	return func(e *Extractor) {
		e.docs = src
	}
}

// WithStrategy registers or replaces the strategy for its format.
func WithStrategy(s Strategy) ExtractorOption {
	return func(e *Extractor) {
		if s != nil {
			e.strategies[s.Format()] = s
		}
	}
}

// NewExtractor creates an Extractor with the primary and legacy strategies.
func NewExtractor(cfg ExtractorConfig, logger *zap.Logger, opts ...ExtractorOption) *Extractor {
	if logger == nil {
		logger = zap.NewNop()
	}
	e := &Extractor{
		strategies: map[types.CitationFormat]Strategy{
			types.FormatPrimary: NewCitationStrategy(cfg.SnippetLength),
		},
		resolver: NewOffsetResolver(cfg.FuzzyThreshold),
		logger:   logger.With(zap.String("component", "citation_extractor")),
	}
	if !cfg.DisableLegacy {
		e.strategies[types.FormatLegacy] = NewLegacyNoteStrategy(cfg.SnippetLength)
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Extract resolves the citation markers in responseText against items.
// It is a pure function of its inputs.
func (e *Extractor) Extract(responseText string, items []types.ContextItem) types.ResolvedContent {
	format := DetectFormat(responseText)
	strategy, ok := e.strategies[format]
	if !ok {
		return plainContent(responseText)
	}
	return strategy.Extract(responseText, items)
}

// ExtractAndResolve runs Extract and then fills missing offsets of known
// citations by locating the context item's text in the full document.
// Document lookup failures leave offsets nil; only cancellation is returned.
func (e *Extractor) ExtractAndResolve(ctx context.Context, responseText string, items []types.ContextItem) (types.ResolvedContent, error) {
	content := e.Extract(responseText, items)
	if e.docs == nil || len(content.Citations) == 0 {
		return content, nil
	}

	textByCitation := make(map[string]string, len(items))
	for _, item := range items {
		if item.CitationID != "" {
			if _, ok := textByCitation[item.CitationID]; !ok {
				textByCitation[item.CitationID] = item.Text
			}
		}
	}

	docCache := make(map[string]string)
	for i := range content.Citations {
		c := &content.Citations[i]
		if !c.Known() || (c.Start != nil && c.End != nil) {
			continue
		}
		if err := ctx.Err(); err != nil {
			return types.ResolvedContent{}, types.NewCancelledError(err)
		}
		claim := textByCitation[c.CitationID]
		if claim == "" {
			continue
		}

		docText, cached := docCache[c.DocumentID]
		if !cached {
			text, err := e.docs.GetDocumentText(ctx, c.DocumentID)
			if err != nil {
				if errors.Is(err, context.Canceled) {
					return types.ResolvedContent{}, types.NewCancelledError(err)
				}
				e.logger.Debug("document text lookup failed",
					zap.String("document_id", c.DocumentID),
					zap.Error(err))
			}
			docText = text
			docCache[c.DocumentID] = docText
		}

		if m := e.resolver.Resolve(claim, docText); m != nil {
			c.Start = types.IntPtr(m.Start)
			c.End = types.IntPtr(m.End)
		}
	}
	return content, nil
}
