package rag

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/BaSui01/groundrag/internal/tlsutil"
	"github.com/BaSui01/groundrag/types"
)

// QdrantConfig configures the Qdrant passage store.
//
// Notes:
// - Qdrant point IDs are UUIDs; a stable UUID is derived from Passage.ID.
// - Passage fields are stored in the point payload.
type QdrantConfig struct {
	Host       string        `json:"host"`
	Port       int           `json:"port"`
	BaseURL    string        `json:"base_url,omitempty"`
	APIKey     string        `json:"api_key,omitempty"`
	Collection string        `json:"collection"`
	Timeout    time.Duration `json:"timeout,omitempty"`

	AutoCreateCollection bool    `json:"auto_create_collection,omitempty"`
	Distance             string  `json:"distance,omitempty"`    // Cosine (default), Dot, Euclid
	VectorSize           int     `json:"vector_size,omitempty"` // Optional override; defaults to len(embedding)
	ScoreThreshold       float64 `json:"score_threshold,omitempty"`
	Wait                 *bool   `json:"wait,omitempty"` // Wait for operation completion (default true)
}

// 载荷字段
const (
	payloadPassageID    = "passage_id"
	payloadDocumentID   = "document_id"
	payloadTitle        = "document_title"
	payloadText         = "text"
	payloadStart        = "start_char_idx"
	payloadEnd          = "end_char_idx"
	payloadHeadingTrail = "heading_trail"
)

// QdrantPassageStore implements Retriever using Qdrant's REST API.
type QdrantPassageStore struct {
	cfg      QdrantConfig
	embedder Embedder

	baseURL string
	client  *http.Client
	logger  *zap.Logger

	ensureOnce sync.Once
	ensureErr  error
}

// NewQdrantPassageStore creates a Qdrant-backed passage store.
func NewQdrantPassageStore(cfg QdrantConfig, embedder Embedder, logger *zap.Logger) *QdrantPassageStore {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Host == "" {
		cfg.Host = "localhost"
	}
	if cfg.Port == 0 {
		cfg.Port = 6333
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.Distance == "" {
		cfg.Distance = "Cosine"
	}
	if cfg.Wait == nil {
		wait := true
		cfg.Wait = &wait
	}

	baseURL := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if baseURL == "" {
		baseURL = fmt.Sprintf("http://%s:%d", cfg.Host, cfg.Port)
	}

	return &QdrantPassageStore{
		cfg:      cfg,
		embedder: embedder,
		baseURL:  baseURL,
		client:   tlsutil.SecureHTTPClient(cfg.Timeout),
		logger:   logger.With(zap.String("component", "qdrant_store")),
	}
}

var qdrantNamespace = uuid.MustParse("3f6c1a52-8e0d-4b7a-9c61-2a4e5d7f9b13")

func qdrantPointID(passageID string) string {
	// Stable UUID derived from passage ID (supports any string input).
	return uuid.NewSHA1(qdrantNamespace, []byte(passageID)).String()
}

// Ready implements Readiness: the store needs a collection and a query embedder.
func (s *QdrantPassageStore) Ready() bool {
	return s.embedder != nil && strings.TrimSpace(s.cfg.Collection) != ""
}

func (s *QdrantPassageStore) ensureCollection(ctx context.Context, vectorSize int) error {
	if !s.cfg.AutoCreateCollection {
		return nil
	}
	if vectorSize <= 0 {
		return fmt.Errorf("qdrant vector size must be > 0")
	}

	s.ensureOnce.Do(func() {
		body := map[string]any{
			"vectors": map[string]any{
				"size":     vectorSize,
				"distance": s.cfg.Distance,
			},
		}
		path := fmt.Sprintf("/collections/%s", url.PathEscape(s.cfg.Collection))
		status, err := s.do(ctx, http.MethodPut, path, body, nil)
		// Qdrant returns 409 if collection exists.
		if status == http.StatusConflict {
			s.ensureErr = nil
			return
		}
		s.ensureErr = err
	})

	return s.ensureErr
}

func (s *QdrantPassageStore) applyHeaders(req *http.Request) {
	req.Header.Set("Content-Type", "application/json")
	if strings.TrimSpace(s.cfg.APIKey) != "" {
		// Qdrant convention.
		req.Header.Set("api-key", s.cfg.APIKey)
	}
}

func (s *QdrantPassageStore) do(ctx context.Context, method, path string, in any, out any) (int, error) {
	endpoint := s.baseURL + path

	var body io.Reader
	if in != nil {
		b, err := json.Marshal(in)
		if err != nil {
			return 0, err
		}
		body = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, endpoint, body)
	if err != nil {
		return 0, err
	}
	s.applyHeaders(req)

	resp, err := s.client.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		raw, _ := io.ReadAll(resp.Body)
		return resp.StatusCode, fmt.Errorf("qdrant request failed: method=%s path=%s status=%d body=%s", method, path, resp.StatusCode, string(raw))
	}

	if out == nil {
		return resp.StatusCode, nil
	}
	return resp.StatusCode, json.NewDecoder(resp.Body).Decode(out)
}

func (s *QdrantPassageStore) requireCollection() error {
	if strings.TrimSpace(s.cfg.Collection) == "" {
		return fmt.Errorf("qdrant collection is required")
	}
	return nil
}

// Upsert writes passages as points. Missing embeddings are computed with the embedder.
func (s *QdrantPassageStore) Upsert(ctx context.Context, passages []Passage) error {
	if len(passages) == 0 {
		return nil
	}
	if err := s.requireCollection(); err != nil {
		return err
	}

	type point struct {
		ID      string         `json:"id"`
		Vector  []float64      `json:"vector"`
		Payload map[string]any `json:"payload,omitempty"`
	}

	vectorSize := s.cfg.VectorSize
	points := make([]point, 0, len(passages))
	for i, p := range passages {
		if p.ID == "" || p.DocumentID == "" {
			return fmt.Errorf("passage[%d] requires id and document id", i)
		}
		if len(p.Embedding) == 0 {
			if s.embedder == nil {
				return fmt.Errorf("passage[%d] has no embedding", i)
			}
			vec, err := s.embedder.Embed(ctx, p.Text)
			if err != nil {
				return fmt.Errorf("embed passage %s: %w", p.ID, err)
			}
			p.Embedding = vec
		}
		if vectorSize == 0 {
			vectorSize = len(p.Embedding)
		}
		if len(p.Embedding) != vectorSize {
			return fmt.Errorf("passage[%d] embedding dimension mismatch: got=%d want=%d", i, len(p.Embedding), vectorSize)
		}

		payload := map[string]any{
			payloadPassageID:  p.ID,
			payloadDocumentID: p.DocumentID,
			payloadTitle:      p.DocumentTitle,
			payloadText:       p.Text,
		}
		if p.Start != nil && p.End != nil {
			payload[payloadStart] = *p.Start
			payload[payloadEnd] = *p.End
		}
		if len(p.HeadingTrail) > 0 {
			payload[payloadHeadingTrail] = p.HeadingTrail
		}
		points = append(points, point{
			ID:      qdrantPointID(p.ID),
			Vector:  p.Embedding,
			Payload: payload,
		})
	}

	if err := s.ensureCollection(ctx, vectorSize); err != nil {
		return err
	}

	req := struct {
		Points []point `json:"points"`
	}{Points: points}

	path := fmt.Sprintf("/collections/%s/points", url.PathEscape(s.cfg.Collection))
	if s.cfg.Wait == nil || *s.cfg.Wait {
		path += "?wait=true"
	}
	if _, err := s.do(ctx, http.MethodPut, path, req, nil); err != nil {
		return err
	}

	s.logger.Debug("qdrant upsert completed", zap.Int("count", len(points)))
	return nil
}

// Retrieve implements Retriever.
func (s *QdrantPassageStore) Retrieve(ctx context.Context, query string, topK int) ([]types.Candidate, error) {
	if err := s.requireCollection(); err != nil {
		return nil, err
	}
	if topK <= 0 {
		return []types.Candidate{}, nil
	}
	if s.embedder == nil {
		return nil, fmt.Errorf("qdrant store has no query embedder")
	}

	vec, err := s.embedder.Embed(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}
	if len(vec) == 0 {
		return nil, fmt.Errorf("query embedding is required")
	}

	req := struct {
		Vector         []float64 `json:"vector"`
		Limit          int       `json:"limit"`
		WithPayload    bool      `json:"with_payload"`
		WithVector     bool      `json:"with_vector"`
		ScoreThreshold *float64  `json:"score_threshold,omitempty"`
	}{
		Vector:      vec,
		Limit:       topK,
		WithPayload: true,
	}
	if s.cfg.ScoreThreshold > 0 {
		req.ScoreThreshold = &s.cfg.ScoreThreshold
	}

	var resp struct {
		Result []struct {
			ID      any            `json:"id"`
			Score   float64        `json:"score"`
			Payload map[string]any `json:"payload"`
		} `json:"result"`
		Status string `json:"status"`
	}

	path := fmt.Sprintf("/collections/%s/points/search", url.PathEscape(s.cfg.Collection))
	if _, err := s.do(ctx, http.MethodPost, path, req, &resp); err != nil {
		return nil, err
	}

	out := make([]types.Candidate, 0, len(resp.Result))
	for _, r := range resp.Result {
		c := types.Candidate{
			Score:   r.Score,
			Backend: types.BackendDense,
		}
		c.SourceID = payloadString(r.Payload, payloadPassageID)
		c.DocumentID = payloadString(r.Payload, payloadDocumentID)
		c.DocumentTitle = payloadString(r.Payload, payloadTitle)
		c.Text = payloadString(r.Payload, payloadText)
		c.Start = payloadInt(r.Payload, payloadStart)
		c.End = payloadInt(r.Payload, payloadEnd)
		if raw, ok := r.Payload[payloadHeadingTrail].([]any); ok {
			for _, h := range raw {
				if hs, ok := h.(string); ok {
					c.HeadingTrail = append(c.HeadingTrail, hs)
				}
			}
		}
		if c.SourceID == "" {
			// Fallback to point ID if payload does not include passage_id.
			c.SourceID = fmt.Sprint(r.ID)
		}
		out = append(out, c)
	}
	return out, nil
}

// DeletePassages removes points by passage ID.
func (s *QdrantPassageStore) DeletePassages(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	if err := s.requireCollection(); err != nil {
		return err
	}

	points := make([]string, 0, len(ids))
	for _, id := range ids {
		if strings.TrimSpace(id) == "" {
			continue
		}
		points = append(points, qdrantPointID(id))
	}

	req := struct {
		Points []string `json:"points"`
	}{Points: points}

	path := fmt.Sprintf("/collections/%s/points/delete", url.PathEscape(s.cfg.Collection))
	if s.cfg.Wait == nil || *s.cfg.Wait {
		path += "?wait=true"
	}
	_, err := s.do(ctx, http.MethodPost, path, req, nil)
	return err
}

// Count returns the exact number of points in the collection.
func (s *QdrantPassageStore) Count(ctx context.Context) (int, error) {
	if err := s.requireCollection(); err != nil {
		return 0, err
	}

	req := struct {
		Exact bool `json:"exact"`
	}{Exact: true}

	var resp struct {
		Result struct {
			Count int `json:"count"`
		} `json:"result"`
	}

	path := fmt.Sprintf("/collections/%s/points/count", url.PathEscape(s.cfg.Collection))
	if _, err := s.do(ctx, http.MethodPost, path, req, &resp); err != nil {
		return 0, err
	}
	return resp.Result.Count, nil
}

func payloadString(payload map[string]any, key string) string {
	if v, ok := payload[key].(string); ok {
		return v
	}
	return ""
}

// payloadInt JSON 数字解码为 float64
func payloadInt(payload map[string]any, key string) *int {
	switch v := payload[key].(type) {
	case float64:
		return types.IntPtr(int(v))
	case json.Number:
		if n, err := v.Int64(); err == nil {
			return types.IntPtr(int(n))
		}
	}
	return nil
}
