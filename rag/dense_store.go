package rag

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"go.uber.org/zap"

	"github.com/BaSui01/groundrag/types"
)

// Passage 稠密检索的最小单元：文档中的一个段落
type Passage struct {
	ID            string    `json:"id"`
	DocumentID    string    `json:"document_id"`
	DocumentTitle string    `json:"document_title,omitempty"`
	Text          string    `json:"text"`
	Start         *int      `json:"start_char_idx,omitempty"`
	End           *int      `json:"end_char_idx,omitempty"`
	HeadingTrail  []string  `json:"heading_trail,omitempty"`
	Embedding     []float64 `json:"embedding,omitempty"`
}

func (p Passage) candidate(score float64) types.Candidate {
	return types.Candidate{
		SourceID:      p.ID,
		DocumentID:    p.DocumentID,
		DocumentTitle: p.DocumentTitle,
		Text:          p.Text,
		Start:         p.Start,
		End:           p.End,
		Score:         score,
		Backend:       types.BackendDense,
		HeadingTrail:  p.HeadingTrail,
	}
}

// ====== 内存段落存储（用于测试和小规模应用）======

// InMemoryPassageStore 内存稠密段落存储
type InMemoryPassageStore struct {
	passages []Passage
	embedder Embedder
	mu       sync.RWMutex
	logger   *zap.Logger
}

// NewInMemoryPassageStore creates an in-memory store. With a nil embedder it
// ranks passages by query term coverage.
func NewInMemoryPassageStore(embedder Embedder, logger *zap.Logger) *InMemoryPassageStore {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &InMemoryPassageStore{
		passages: make([]Passage, 0),
		embedder: embedder,
		logger:   logger.With(zap.String("component", "passage_store")),
	}
}

// AddPassages 添加段落，缺失向量时用 embedder 计算
func (s *InMemoryPassageStore) AddPassages(ctx context.Context, passages []Passage) error {
	prepared := make([]Passage, 0, len(passages))
	for i, p := range passages {
		if p.DocumentID == "" {
			return fmt.Errorf("passage[%d] has empty document id", i)
		}
		if p.ID == "" {
			p.ID = fmt.Sprintf("%s#%d", p.DocumentID, i)
		}
		if len(p.Embedding) == 0 && s.embedder != nil {
			vec, err := s.embedder.Embed(ctx, p.Text)
			if err != nil {
				return fmt.Errorf("embed passage %s: %w", p.ID, err)
			}
			p.Embedding = vec
		}
		prepared = append(prepared, p)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.passages = append(s.passages, prepared...)

	s.logger.Info("passages added to store",
		zap.Int("count", len(prepared)),
		zap.Int("total", len(s.passages)))
	return nil
}

// Retrieve implements Retriever.
func (s *InMemoryPassageStore) Retrieve(ctx context.Context, query string, topK int) ([]types.Candidate, error) {
	if topK <= 0 {
		return []types.Candidate{}, nil
	}

	var queryVec []float64
	if s.embedder != nil {
		vec, err := s.embedder.Embed(ctx, query)
		if err != nil {
			return nil, fmt.Errorf("embed query: %w", err)
		}
		queryVec = vec
	}
	queryTerms := terms(query)

	s.mu.RLock()
	defer s.mu.RUnlock()

	type scored struct {
		p     Passage
		score float64
	}
	results := make([]scored, 0, len(s.passages))
	for _, p := range s.passages {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		score := relevance(queryVec, queryTerms, p.Embedding, p.Text)
		if score <= 0 {
			continue
		}
		results = append(results, scored{p: p, score: score})
	}

	// 按相似度排序
	sort.SliceStable(results, func(i, j int) bool {
		return results[i].score > results[j].score
	})
	if topK > len(results) {
		topK = len(results)
	}

	out := make([]types.Candidate, 0, topK)
	for _, r := range results[:topK] {
		out = append(out, r.p.candidate(r.score))
	}
	return out, nil
}

// DeleteDocument 删除某文档的全部段落
func (s *InMemoryPassageStore) DeleteDocument(documentID string) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	filtered := make([]Passage, 0, len(s.passages))
	for _, p := range s.passages {
		if p.DocumentID != documentID {
			filtered = append(filtered, p)
		}
	}
	deleted := len(s.passages) - len(filtered)
	s.passages = filtered
	return deleted
}

// 计数返回段落计数
func (s *InMemoryPassageStore) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.passages)
}

// LoadFile 从 JSON 段落快照加载。文件不存在时返回 0。
func (s *InMemoryPassageStore) LoadFile(ctx context.Context, path string) (int, error) {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	var passages []Passage
	if err := json.Unmarshal(data, &passages); err != nil {
		return 0, fmt.Errorf("decode passages %s: %w", path, err)
	}
	if err := s.AddPassages(ctx, passages); err != nil {
		return 0, err
	}
	return len(passages), nil
}

// PersistFile writes all passages, embeddings included, to path.
func (s *InMemoryPassageStore) PersistFile(path string) error {
	s.mu.RLock()
	data, err := json.Marshal(s.passages)
	s.mu.RUnlock()
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}
