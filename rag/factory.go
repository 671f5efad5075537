// Config → RAG 桥接层。
//
// 将全局 config.Config 转换为 rag 包的运行时实例：三个检索后端、分类器、
// 路由器、合并器、引用解析器与流水线。外部依赖（LLM、缓存、文档库、指标）
// 通过选项注入，rag 包不依赖 internal 下的具体实现。
package rag

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/BaSui01/groundrag/config"
	"github.com/BaSui01/groundrag/grounding"
	"github.com/BaSui01/groundrag/types"
)

// DenseStoreKind 标识稠密检索后端
type DenseStoreKind string

const (
	DenseStoreMemory DenseStoreKind = "memory"
	DenseStoreQdrant DenseStoreKind = "qdrant"
)

// Components 由配置构造出的全部运行时组件
type Components struct {
	Pipeline   *Pipeline
	Router     *Router
	Classifier *IntentClassifier
	Merger     *Merger
	Extractor  *grounding.Extractor
	Tokenizer  types.TokenCounter

	// 以下存储按配置可能为 nil
	MemoryDense *InMemoryPassageStore
	QdrantDense *QdrantPassageStore
	Graph       *GraphStore
	Summary     *SummaryTree
}

// FactoryOption 配置 NewComponentsFromConfig 的可选依赖。
type FactoryOption func(*factoryOptions)

type factoryOptions struct {
	logger      *zap.Logger
	embedder    Embedder
	completion  CompletionProvider
	generator   Generator
	intentCache IntentCache
	docs        grounding.DocumentTextSource
	observer    RetrievalObserver
	instruments *Instruments
}

// WithLogger 设置日志记录器。
func WithLogger(l *zap.Logger) FactoryOption {
	return func(o *factoryOptions) { o.logger = l }
}

// WithEmbedder 设置查询与段落向量化接口。
func WithEmbedder(e Embedder) FactoryOption {
	return func(o *factoryOptions) { o.embedder = e }
}

// WithCompletionProvider 设置意图分类与摘要使用的补全接口。
func WithCompletionProvider(p CompletionProvider) FactoryOption {
	return func(o *factoryOptions) { o.completion = p }
}

// WithGenerator 设置回答生成接口。
func WithGenerator(g Generator) FactoryOption {
	return func(o *factoryOptions) { o.generator = g }
}

// WithIntentCache 设置意图缓存。
func WithIntentCache(c IntentCache) FactoryOption {
	return func(o *factoryOptions) { o.intentCache = c }
}

// WithDocumentTextSource 设置偏移解析使用的文档原文来源。
func WithDocumentTextSource(src grounding.DocumentTextSource) FactoryOption {
	return func(o *factoryOptions) { o.docs = src }
}

// WithObserver 设置检索指标回调。
func WithObserver(obs RetrievalObserver) FactoryOption {
	return func(o *factoryOptions) { o.observer = obs }
}

// WithInstruments 设置 OTel 埋点。
func WithInstruments(in *Instruments) FactoryOption {
	return func(o *factoryOptions) { o.instruments = in }
}

// NewComponentsFromConfig builds every retrieval and grounding component from cfg.
// Snapshots named in cfg.Backends are loaded when present; a missing snapshot
// leaves that backend empty and therefore unavailable.
func NewComponentsFromConfig(ctx context.Context, cfg *config.Config, opts ...FactoryOption) (*Components, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config is nil")
	}
	var o factoryOptions
	for _, opt := range opts {
		opt(&o)
	}
	logger := o.logger
	if logger == nil {
		logger = zap.NewNop()
	}

	c := &Components{}
	var adapters Adapters

	switch DenseStoreKind(cfg.Backends.DenseKind) {
	case DenseStoreMemory, "":
		c.MemoryDense = NewInMemoryPassageStore(o.embedder, logger)
		if path := cfg.Backends.PassagesFile; path != "" {
			n, err := c.MemoryDense.LoadFile(ctx, path)
			if err != nil {
				return nil, fmt.Errorf("load passages: %w", err)
			}
			logger.Info("dense passages loaded", zap.String("path", path), zap.Int("count", n))
		}
		adapters.Dense = c.MemoryDense
	case DenseStoreQdrant:
		c.QdrantDense = NewQdrantPassageStore(mapQdrantConfig(&cfg.Qdrant), o.embedder, logger)
		adapters.Dense = c.QdrantDense
	default:
		return nil, fmt.Errorf("unsupported dense store kind: %s", cfg.Backends.DenseKind)
	}

	c.Graph = NewGraphStore(GraphStoreConfig{MaxDepth: cfg.Backends.GraphMaxDepth}, logger)
	if path := cfg.Backends.GraphFile; path != "" {
		if _, err := c.Graph.LoadFile(path); err != nil {
			return nil, fmt.Errorf("load graph: %w", err)
		}
	}
	adapters.Graph = c.Graph

	c.Summary = NewSummaryTree(DefaultSummaryTreeConfig(), o.embedder, o.completion, logger)
	if dir := cfg.Backends.SummaryDir; dir != "" {
		if _, err := c.Summary.Load(dir); err != nil {
			return nil, fmt.Errorf("load summary tree: %w", err)
		}
	}
	adapters.Summary = c.Summary

	c.Tokenizer = NewTokenCounter(cfg.Retrieval.TokenizerModel, logger)
	c.Merger = NewMerger(mapMergerConfig(&cfg.Retrieval), c.Tokenizer, logger)
	c.Router = NewRouter(mapRouterConfig(&cfg.Retrieval), RouterDeps{
		Adapters:    adapters,
		Switches:    mapSwitches(&cfg.Backends),
		Merger:      c.Merger,
		Observer:    o.observer,
		Instruments: o.instruments,
		Logger:      logger,
	})
	c.Classifier = NewIntentClassifier(mapClassifierConfig(&cfg.Classifier), o.completion, o.intentCache, logger)

	var extractorOpts []grounding.ExtractorOption
	if o.docs != nil {
		extractorOpts = append(extractorOpts, grounding.WithDocumentTextSource(o.docs))
	}
	c.Extractor = grounding.NewExtractor(mapExtractorConfig(&cfg.Retrieval), logger, extractorOpts...)

	c.Pipeline = NewPipeline(PipelineDeps{
		Classifier:  c.Classifier,
		Router:      c.Router,
		Extractor:   c.Extractor,
		Generator:   o.generator,
		Observer:    o.observer,
		Instruments: o.instruments,
		Logger:      logger,
	})

	logger.Info("retrieval components ready",
		zap.String("dense_kind", cfg.Backends.DenseKind),
		zap.Any("availability", c.Router.Availability()))
	return c, nil
}

// --- 内部配置映射函数 ---

func mapQdrantConfig(c *config.QdrantConfig) QdrantConfig {
	return QdrantConfig{
		Host:                 c.Host,
		Port:                 c.Port,
		APIKey:               c.APIKey,
		Collection:           c.Collection,
		Timeout:              c.Timeout,
		ScoreThreshold:       c.ScoreThreshold,
		AutoCreateCollection: true,
	}
}

func mapRouterConfig(c *config.RetrievalConfig) RouterConfig {
	return RouterConfig{
		TopK:                c.TopK,
		AdapterTimeout:      c.AdapterTimeout,
		MixedPerSourceMin:   c.MixedPerSourceMin,
		SupplementWithDense: c.SupplementWithDense,
	}
}

func mapMergerConfig(c *config.RetrievalConfig) MergerConfig {
	return MergerConfig{
		TopK:             c.TopK,
		DedupOverlap:     c.DedupOverlap,
		MaxContextTokens: c.MaxContextTokens,
	}
}

func mapExtractorConfig(c *config.RetrievalConfig) grounding.ExtractorConfig {
	return grounding.ExtractorConfig{
		SnippetLength:  c.SnippetLength,
		FuzzyThreshold: c.FuzzyThreshold,
		DisableLegacy:  !c.LegacyCitations,
	}
}

func mapClassifierConfig(c *config.ClassifierConfig) ClassifierConfig {
	return ClassifierConfig{
		UseLLM:           c.UseLLM,
		Timeout:          c.Timeout,
		CacheTTL:         c.CacheTTL,
		FollowUpMaxWords: c.FollowUpMaxWords,
	}
}

func mapSwitches(c *config.BackendsConfig) BackendSwitches {
	return BackendSwitches{Dense: c.Dense, Graph: c.Graph, Summary: c.Summary}
}
