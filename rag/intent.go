package rag

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/BaSui01/groundrag/types"
)

// CompletionProvider 基于 LLM 的补全接口，用于意图分类
type CompletionProvider interface {
	Complete(ctx context.Context, prompt string) (string, error)
}

// IntentCache 意图分类结果缓存。*cache.Manager 满足该接口。
type IntentCache interface {
	GetJSON(ctx context.Context, key string, dest any) error
	SetJSON(ctx context.Context, key string, value any, ttl time.Duration) error
}

// intentCacheEntry 缓存中保存的分类结果
type intentCacheEntry struct {
	Intent string `json:"intent"`
	Source string `json:"source"`
}

// 关键词启发式规则
var (
	summaryKeywords = []string{
		"summarize", "summary", "overview", "recap", "outline",
		"highlights", "main points", "key takeaways", "tldr", "gist",
		"what are the main", "give me an overview", "big picture",
	}
	relationalKeywords = []string{
		"relationship", "connection", "related", "linked", "between",
		"how does", "compare", "contrast", "interact", "depend",
		"who is", "who was", "what connects",
	}
)

// ClassifierConfig 意图分类器配置
type ClassifierConfig struct {
	UseLLM   bool          `json:"use_llm"`
	Timeout  time.Duration `json:"timeout"`
	CacheTTL time.Duration `json:"cache_ttl"`
	// FollowUpMaxWords 不超过该词数的查询视为追问，拼接上一条用户消息
	FollowUpMaxWords int    `json:"follow_up_max_words"`
	CachePrefix      string `json:"cache_prefix"`
}

// DefaultClassifierConfig 返回默认配置
func DefaultClassifierConfig() ClassifierConfig {
	return ClassifierConfig{
		UseLLM:           false,
		Timeout:          2 * time.Second,
		CacheTTL:         10 * time.Minute,
		FollowUpMaxWords: 3,
		CachePrefix:      "groundrag:intent:",
	}
}

// IntentClassifier 将查询映射为一个意图标签，永不返回错误
type IntentClassifier struct {
	config   ClassifierConfig
	provider CompletionProvider
	cache    IntentCache
	logger   *zap.Logger
}

// NewIntentClassifier creates a classifier. provider and cache may be nil.
func NewIntentClassifier(config ClassifierConfig, provider CompletionProvider, cache IntentCache, logger *zap.Logger) *IntentClassifier {
	if logger == nil {
		logger = zap.NewNop()
	}
	if config.Timeout <= 0 {
		config.Timeout = 2 * time.Second
	}
	if config.FollowUpMaxWords <= 0 {
		config.FollowUpMaxWords = 3
	}
	if config.CachePrefix == "" {
		config.CachePrefix = "groundrag:intent:"
	}
	return &IntentClassifier{
		config:   config,
		provider: provider,
		cache:    cache,
		logger:   logger.With(zap.String("component", "intent_classifier")),
	}
}

// Classify returns the intent of query. Any failure, including a panic in the
// completion provider, yields IntentMixed.
func (c *IntentClassifier) Classify(ctx context.Context, query types.Query) (intent types.Intent) {
	defer func() {
		if r := recover(); r != nil {
			c.logger.Error("intent classification panicked", zap.Any("recover", r))
			intent = types.IntentMixed
		}
	}()

	text := c.effectiveText(query)
	if text == "" {
		return types.IntentMixed
	}

	key := c.cacheKey(text)
	if c.cache != nil {
		var cached intentCacheEntry
		if err := c.cache.GetJSON(ctx, key, &cached); err == nil {
			if parsed, ok := types.ParseIntent(cached.Intent); ok {
				c.logger.Debug("cache hit", zap.String("intent", cached.Intent), zap.String("source", cached.Source))
				return parsed
			}
		}
	}

	var ok bool
	source := "rules"
	if c.config.UseLLM && c.provider != nil {
		intent, ok = c.classifyWithLLM(ctx, text)
		if !ok {
			return types.IntentMixed
		}
		source = "llm"
	} else {
		intent = ClassifyRuleBased(text)
	}

	if c.cache != nil && c.config.CacheTTL > 0 {
		entry := intentCacheEntry{Intent: string(intent), Source: source}
		if err := c.cache.SetJSON(ctx, key, entry, c.config.CacheTTL); err != nil {
			c.logger.Debug("intent cache set failed", zap.Error(err))
		}
	}
	return intent
}

// ClassifyRuleBased scores summary and relational keywords in the lowercased text.
// The strictly larger positive score wins; a positive tie is MIXED; no hits is FACTUAL.
func ClassifyRuleBased(text string) types.Intent {
	lower := strings.ToLower(text)

	summaryScore := countKeywords(lower, summaryKeywords)
	relationalScore := countKeywords(lower, relationalKeywords)

	switch {
	case summaryScore > relationalScore && summaryScore > 0:
		return types.IntentSummary
	case relationalScore > summaryScore && relationalScore > 0:
		return types.IntentRelational
	case summaryScore > 0 && summaryScore == relationalScore:
		return types.IntentMixed
	default:
		return types.IntentFactual
	}
}

func countKeywords(lower string, keywords []string) int {
	n := 0
	for _, kw := range keywords {
		if strings.Contains(lower, kw) {
			n++
		}
	}
	return n
}

// effectiveText 结合最近历史得到用于分类的文本
func (c *IntentClassifier) effectiveText(query types.Query) string {
	text := strings.TrimSpace(query.Text)
	users := types.LastUserMessages(query.History, 2)

	if text == "" {
		if len(users) == 0 {
			return ""
		}
		return strings.TrimSpace(users[0].Content)
	}

	if len(strings.Fields(text)) > c.config.FollowUpMaxWords {
		return text
	}
	// 当前查询可能已作为最后一条用户消息出现在历史中
	for _, m := range users {
		prev := strings.TrimSpace(m.Content)
		if prev != "" && prev != text {
			return prev + " " + text
		}
	}
	return text
}

func (c *IntentClassifier) cacheKey(text string) string {
	sum := sha256.Sum256([]byte(strings.ToLower(strings.Join(strings.Fields(text), " "))))
	return c.config.CachePrefix + hex.EncodeToString(sum[:16])
}

// classifyWithLLM 让 LLM 返回 JSON 格式的意图
func (c *IntentClassifier) classifyWithLLM(ctx context.Context, text string) (types.Intent, bool) {
	ctx, cancel := context.WithTimeout(ctx, c.config.Timeout)
	defer cancel()

	prompt := fmt.Sprintf(`Classify the retrieval intent of the following query.

Query: %s

Intents:
- factual: a specific fact that a single passage can answer
- relational: relationships or connections between people, projects or concepts
- summary: an overview or summary across many notes
- mixed: none of the above clearly applies

Respond in JSON format:
{
  "intent": "factual|relational|summary|mixed",
  "confidence": 0.0-1.0
}`, text)

	type result struct {
		resp string
		err  error
	}
	done := make(chan result, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- result{err: fmt.Errorf("completion provider panicked: %v", r)}
			}
		}()
		resp, err := c.provider.Complete(ctx, prompt)
		done <- result{resp: resp, err: err}
	}()

	var res result
	select {
	case res = <-done:
	case <-ctx.Done():
		c.logger.Warn("llm intent classification timed out", zap.Duration("timeout", c.config.Timeout))
		return "", false
	}
	if res.err != nil {
		c.logger.Warn("llm intent classification failed", zap.Error(res.err))
		return "", false
	}

	intent, confidence, err := parseIntentResponse(res.resp)
	if err != nil {
		c.logger.Warn("failed to parse LLM intent response", zap.Error(err))
		return "", false
	}
	c.logger.Debug("llm intent classified",
		zap.String("intent", string(intent)),
		zap.Float64("confidence", confidence))
	return intent, true
}

func parseIntentResponse(response string) (types.Intent, float64, error) {
	var llmResponse struct {
		Intent     string  `json:"intent"`
		Confidence float64 `json:"confidence"`
	}

	// 尝试从响应中提取 JSON
	response = strings.TrimSpace(response)
	startIdx := strings.Index(response, "{")
	endIdx := strings.LastIndex(response, "}")
	if startIdx >= 0 && endIdx > startIdx {
		response = response[startIdx : endIdx+1]
	}

	if err := json.Unmarshal([]byte(response), &llmResponse); err != nil {
		return "", 0, fmt.Errorf("failed to parse LLM response: %w", err)
	}
	intent, ok := types.ParseIntent(llmResponse.Intent)
	if !ok {
		return "", 0, fmt.Errorf("unknown intent label %q", llmResponse.Intent)
	}
	return intent, llmResponse.Confidence, nil
}
