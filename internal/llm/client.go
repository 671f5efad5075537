// Package llm provides the OpenAI-compatible chat and embedding client used
// for intent classification, summarization, answer generation and embeddings.
// This package is internal and should not be imported by external projects.
package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/BaSui01/groundrag/internal/tlsutil"
	"github.com/BaSui01/groundrag/rag"
	"github.com/BaSui01/groundrag/types"
)

const (
	// 错误码
	ErrUpstreamError types.ErrorCode = "UPSTREAM_ERROR"
	ErrQuotaExceeded types.ErrorCode = "QUOTA_EXCEEDED"

	chatEndpoint      = "/chat/completions"
	embeddingEndpoint = "/embeddings"

	defaultTimeout = 2 * time.Minute
)

// 请求类型，用于指标标签
const (
	OperationComplete = "complete"
	OperationGenerate = "generate"
	OperationEmbed    = "embed"
)

// Config 客户端配置
type Config struct {
	APIKey         string
	BaseURL        string
	Model          string
	EmbeddingModel string
	Timeout        time.Duration
	// 生成回答的温度，分类与摘要固定为 0
	Temperature float64
	MaxTokens   int
}

// Recorder LLM 指标回调，*metrics.Collector 满足该接口
type Recorder interface {
	RecordLLMRequest(operation, model, status string, duration time.Duration, promptTokens, completionTokens int)
}

// Client OpenAI 兼容客户端。实现 rag.CompletionProvider、rag.Generator 与 rag.Embedder。
type Client struct {
	cfg      Config
	http     *http.Client
	recorder Recorder
	logger   *zap.Logger
}

var (
	_ rag.CompletionProvider = (*Client)(nil)
	_ rag.Generator          = (*Client)(nil)
	_ rag.Embedder           = (*Client)(nil)
)

// NewClient creates a client. recorder may be nil.
func NewClient(cfg Config, recorder Recorder, logger *zap.Logger) *Client {
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Client{
		cfg:      cfg,
		http:     tlsutil.SecureHTTPClient(cfg.Timeout),
		recorder: recorder,
		logger:   logger.With(zap.String("component", "llm_client")),
	}
}

// Configured reports whether an endpoint and a chat model are set.
func (c *Client) Configured() bool {
	return c.cfg.BaseURL != "" && c.cfg.Model != ""
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	Temperature *float64      `json:"temperature,omitempty"`
	MaxTokens   int           `json:"max_tokens,omitempty"`
}

type chatResponse struct {
	ID      string `json:"id"`
	Model   string `json:"model"`
	Choices []struct {
		Index        int         `json:"index"`
		FinishReason string      `json:"finish_reason"`
		Message      chatMessage `json:"message"`
	} `json:"choices"`
	Usage usage `json:"usage"`
}

type usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

type embedRequest struct {
	Model string `json:"model"`
	Input string `json:"input"`
}

type embedResponse struct {
	Model string `json:"model"`
	Data  []struct {
		Index     int       `json:"index"`
		Embedding []float64 `json:"embedding"`
	} `json:"data"`
	Usage usage `json:"usage"`
}

// Complete sends a single user prompt at temperature 0.
func (c *Client) Complete(ctx context.Context, prompt string) (string, error) {
	zero := 0.0
	return c.chat(ctx, OperationComplete, chatRequest{
		Model:       c.cfg.Model,
		Messages:    []chatMessage{{Role: string(types.RoleUser), Content: prompt}},
		Temperature: &zero,
	})
}

// Generate answers the turn using the grounded system prompt.
func (c *Client) Generate(ctx context.Context, req rag.GenerationRequest) (string, error) {
	msgs := rag.BuildMessages(req.Messages, req.ContextItems)
	body := chatRequest{
		Model:     c.cfg.Model,
		Messages:  make([]chatMessage, 0, len(msgs)),
		MaxTokens: c.cfg.MaxTokens,
	}
	if c.cfg.Temperature > 0 {
		t := c.cfg.Temperature
		body.Temperature = &t
	}
	for _, m := range msgs {
		body.Messages = append(body.Messages, chatMessage{Role: string(m.Role), Content: m.Content})
	}
	return c.chat(ctx, OperationGenerate, body)
}

func (c *Client) chat(ctx context.Context, operation string, body chatRequest) (string, error) {
	start := time.Now()
	var resp chatResponse
	err := c.do(ctx, chatEndpoint, body, &resp)
	if err == nil && len(resp.Choices) == 0 {
		err = types.NewError(ErrUpstreamError, "no choices in completion response").
			WithHTTPStatus(http.StatusBadGateway).
			WithRetryable(true)
	}
	c.record(operation, body.Model, start, resp.Usage, err)
	if err != nil {
		return "", err
	}
	return resp.Choices[0].Message.Content, nil
}

// Embed returns the embedding of text using EmbeddingModel.
func (c *Client) Embed(ctx context.Context, text string) ([]float64, error) {
	start := time.Now()
	var resp embedResponse
	err := c.do(ctx, embeddingEndpoint, embedRequest{Model: c.cfg.EmbeddingModel, Input: text}, &resp)
	if err == nil && (len(resp.Data) == 0 || len(resp.Data[0].Embedding) == 0) {
		err = types.NewError(ErrUpstreamError, "no embeddings returned").
			WithHTTPStatus(http.StatusBadGateway)
	}
	c.record(OperationEmbed, c.cfg.EmbeddingModel, start, resp.Usage, err)
	if err != nil {
		return nil, err
	}
	return resp.Data[0].Embedding, nil
}

func (c *Client) record(operation, model string, start time.Time, u usage, err error) {
	status := "success"
	if err != nil {
		status = "error"
		c.logger.Warn("llm request failed",
			zap.String("operation", operation),
			zap.String("model", model),
			zap.Error(err))
	}
	if c.recorder != nil {
		c.recorder.RecordLLMRequest(operation, model, status, time.Since(start), u.PromptTokens, u.CompletionTokens)
	}
}

// do 执行 HTTP 请求，并进行常见错误处理
func (c *Client) do(ctx context.Context, endpoint string, in any, out any) error {
	data, err := json.Marshal(in)
	if err != nil {
		return fmt.Errorf("failed to marshal request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.BaseURL+endpoint, bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.cfg.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		return types.NewError(ErrUpstreamError, "llm request failed").
			WithCause(err).
			WithHTTPStatus(http.StatusBadGateway).
			WithRetryable(true)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return mapHTTPError(resp.StatusCode, readErrorMessage(resp.Body))
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return types.NewError(ErrUpstreamError, "failed to decode llm response").
			WithCause(err).
			WithHTTPStatus(http.StatusBadGateway)
	}
	return nil
}

// mapHTTPError 将 HTTP 状态码映射为带有合适重试标记的错误
func mapHTTPError(status int, msg string) *types.Error {
	switch status {
	case http.StatusUnauthorized:
		return types.NewError(types.ErrUnauthorized, msg).WithHTTPStatus(status)
	case http.StatusForbidden:
		return types.NewError(types.ErrForbidden, msg).WithHTTPStatus(status)
	case http.StatusTooManyRequests:
		return types.NewError(types.ErrRateLimited, msg).WithHTTPStatus(status).WithRetryable(true)
	case http.StatusBadRequest:
		lower := strings.ToLower(msg)
		if strings.Contains(lower, "quota") || strings.Contains(lower, "credit") {
			return types.NewError(ErrQuotaExceeded, msg).WithHTTPStatus(status)
		}
		return types.NewError(types.ErrInvalidRequest, msg).WithHTTPStatus(status)
	default:
		return types.NewError(ErrUpstreamError, msg).
			WithHTTPStatus(status).
			WithRetryable(status >= 500)
	}
}

// readErrorMessage 读取响应体中的错误消息，解析失败则回退到原始文本
func readErrorMessage(body io.Reader) string {
	data, err := io.ReadAll(io.LimitReader(body, 64<<10))
	if err != nil {
		return "failed to read error response"
	}
	var errResp struct {
		Error struct {
			Message string `json:"message"`
			Type    string `json:"type"`
		} `json:"error"`
	}
	if err := json.Unmarshal(data, &errResp); err == nil && errResp.Error.Message != "" {
		if errResp.Error.Type != "" {
			return fmt.Sprintf("%s (type: %s)", errResp.Error.Message, errResp.Error.Type)
		}
		return errResp.Error.Message
	}
	return strings.TrimSpace(string(data))
}

// IsUpstreamError reports whether err came from the LLM endpoint.
func IsUpstreamError(err error) bool {
	var e *types.Error
	return errors.As(err, &e) && (e.Code == ErrUpstreamError || e.Code == ErrQuotaExceeded)
}
