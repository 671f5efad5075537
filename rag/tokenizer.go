package rag

import (
	"fmt"
	"strings"
	"sync"

	"github.com/pkoukk/tiktoken-go"
	"go.uber.org/zap"

	"github.com/BaSui01/groundrag/types"
)

// 模型名称到 tiktoken 编码
var modelEncodings = map[string]string{
	"gpt-4o":                 "o200k_base",
	"gpt-4o-mini":            "o200k_base",
	"gpt-4-turbo":            "cl100k_base",
	"gpt-4":                  "cl100k_base",
	"gpt-3.5-turbo":          "cl100k_base",
	"text-embedding-3-large": "cl100k_base",
	"text-embedding-3-small": "cl100k_base",
}

// EncodingForModel returns the tiktoken encoding of model, matching by
// exact name, then longest prefix, then cl100k_base.
func EncodingForModel(model string) string {
	if enc, ok := modelEncodings[model]; ok {
		return enc
	}
	best, bestLen := "", 0
	for prefix, enc := range modelEncodings {
		if strings.HasPrefix(model, prefix) && len(prefix) > bestLen {
			best, bestLen = enc, len(prefix)
		}
	}
	if best != "" {
		return best
	}
	return "cl100k_base"
}

// TiktokenCounter implements types.TokenCounter with tiktoken. The encoding
// is loaded on first use; if loading fails it falls back to estimation.
type TiktokenCounter struct {
	encoding string
	enc      *tiktoken.Tiktoken
	fallback *types.EstimateTokenizer
	once     sync.Once
	initErr  error
	logger   *zap.Logger
}

// NewTokenCounter creates a tiktoken counter for model. An empty model uses
// the character estimator only.
func NewTokenCounter(model string, logger *zap.Logger) types.TokenCounter {
	if strings.TrimSpace(model) == "" {
		return types.NewEstimateTokenizer()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &TiktokenCounter{
		encoding: EncodingForModel(model),
		fallback: types.NewEstimateTokenizer(),
		logger:   logger.With(zap.String("component", "token_counter")),
	}
}

// init lazily 初始化 tiktoken 编码(可以在第一次使用时下载数据).
func (t *TiktokenCounter) init() error {
	t.once.Do(func() {
		enc, err := tiktoken.GetEncoding(t.encoding)
		if err != nil {
			t.initErr = fmt.Errorf("init tiktoken encoding %s: %w", t.encoding, err)
			t.logger.Warn("tiktoken unavailable, using estimate", zap.Error(t.initErr))
			return
		}
		t.enc = enc
	})
	return t.initErr
}

// CountTokens implements types.TokenCounter.
func (t *TiktokenCounter) CountTokens(text string) int {
	if text == "" {
		return 0
	}
	if err := t.init(); err != nil {
		return t.fallback.CountTokens(text)
	}
	return len(t.enc.Encode(text, nil, nil))
}

// Encoding returns the tiktoken encoding name.
func (t *TiktokenCounter) Encoding() string {
	return t.encoding
}
