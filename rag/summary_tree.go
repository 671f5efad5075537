package rag

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/BaSui01/groundrag/types"
)

// SummaryNode 摘要树节点。Level 0 为原始段落，更高层为子节点的摘要。
type SummaryNode struct {
	ID          string    `json:"id"`
	Text        string    `json:"text"`
	Title       string    `json:"title,omitempty"`
	Level       int       `json:"level"`
	Children    []string  `json:"children,omitempty"`
	DocumentIDs []string  `json:"note_ids"`
	Embedding   []float64 `json:"embedding,omitempty"`
}

// SummaryLeaf 构建摘要树的输入段落
type SummaryLeaf struct {
	DocumentID    string
	DocumentTitle string
	Text          string
}

// SummaryTreeConfig 摘要树配置
type SummaryTreeConfig struct {
	MaxLevels   int `json:"max_levels"`
	ClusterSize int `json:"cluster_size"`
	// MaxPromptChars 单次摘要请求拼接文本的上限
	MaxPromptChars int `json:"max_prompt_chars"`
	// FallbackChars 摘要失败时截取的原文长度
	FallbackChars int `json:"fallback_chars"`
	// KMeansIterations 每层聚类的迭代次数
	KMeansIterations int `json:"kmeans_iterations"`
}

// DefaultSummaryTreeConfig 返回默认配置
func DefaultSummaryTreeConfig() SummaryTreeConfig {
	return SummaryTreeConfig{
		MaxLevels:        3,
		ClusterSize:      7,
		MaxPromptChars:   4000,
		FallbackChars:    500,
		KMeansIterations: 20,
	}
}

const summaryPrompt = `Summarize the following texts into a single coherent paragraph.
Focus on the key themes, facts, and relationships. Be concise but comprehensive.

Texts:
%s

Summary:`

// SummaryTree 分层摘要存储，查询时搜索所有层级
type SummaryTree struct {
	config     SummaryTreeConfig
	embedder   Embedder
	summarizer CompletionProvider
	nodes      map[string]*SummaryNode
	mu         sync.RWMutex
	logger     *zap.Logger
}

// NewSummaryTree creates an empty tree. summarizer is only needed by Build.
func NewSummaryTree(config SummaryTreeConfig, embedder Embedder, summarizer CompletionProvider, logger *zap.Logger) *SummaryTree {
	if logger == nil {
		logger = zap.NewNop()
	}
	def := DefaultSummaryTreeConfig()
	if config.MaxLevels <= 0 {
		config.MaxLevels = def.MaxLevels
	}
	if config.ClusterSize <= 1 {
		config.ClusterSize = def.ClusterSize
	}
	if config.MaxPromptChars <= 0 {
		config.MaxPromptChars = def.MaxPromptChars
	}
	if config.FallbackChars <= 0 {
		config.FallbackChars = def.FallbackChars
	}
	if config.KMeansIterations <= 0 {
		config.KMeansIterations = def.KMeansIterations
	}
	return &SummaryTree{
		config:     config,
		embedder:   embedder,
		summarizer: summarizer,
		nodes:      make(map[string]*SummaryNode),
		logger:     logger.With(zap.String("component", "summary_tree")),
	}
}

// Ready implements Readiness.
func (t *SummaryTree) Ready() bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.nodes) > 0
}

// Len returns the total number of nodes across all levels.
func (t *SummaryTree) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.nodes)
}

// AddNodes inserts prebuilt nodes, replacing nodes with the same ID.
func (t *SummaryTree) AddNodes(nodes ...SummaryNode) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, n := range nodes {
		if n.ID == "" {
			n.ID = uuid.NewString()
		}
		t.nodes[n.ID] = &n
	}
}

// Build replaces the tree with one built from leaves: cluster the current
// level by embedding, summarize each cluster, embed the summaries and repeat
// until one node remains or MaxLevels is reached.
func (t *SummaryTree) Build(ctx context.Context, leaves []SummaryLeaf) error {
	if t.embedder == nil {
		return fmt.Errorf("summary tree build requires an embedder")
	}

	nodes := make(map[string]*SummaryNode)
	current := make([]*SummaryNode, 0, len(leaves))
	for _, leaf := range leaves {
		if strings.TrimSpace(leaf.Text) == "" {
			continue
		}
		vec, err := t.embedder.Embed(ctx, leaf.Text)
		if err != nil {
			return fmt.Errorf("embed leaf: %w", err)
		}
		n := &SummaryNode{
			ID:        uuid.NewString(),
			Text:      leaf.Text,
			Title:     leaf.DocumentTitle,
			Level:     0,
			Embedding: vec,
		}
		if leaf.DocumentID != "" {
			n.DocumentIDs = []string{leaf.DocumentID}
		}
		nodes[n.ID] = n
		current = append(current, n)
	}
	if len(current) == 0 {
		t.logger.Info("no leaves to build summary tree")
		return nil
	}

	for level := 1; level <= t.config.MaxLevels && len(current) > 1; level++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		k := max(1, len(current)/t.config.ClusterSize)
		if k >= len(current) {
			k = max(1, len(current)/2)
		}
		clusters := kmeans(current, k, t.config.KMeansIterations)

		next := make([]*SummaryNode, 0, len(clusters))
		for _, cluster := range clusters {
			parent, err := t.summarize(ctx, cluster, level)
			if err != nil {
				return err
			}
			nodes[parent.ID] = parent
			next = append(next, parent)
		}

		t.logger.Info("summary level built",
			zap.Int("level", level),
			zap.Int("children", len(current)),
			zap.Int("nodes", len(next)))
		current = next
	}

	t.mu.Lock()
	t.nodes = nodes
	t.mu.Unlock()

	t.logger.Info("summary tree built", zap.Int("total_nodes", len(nodes)))
	return nil
}

func (t *SummaryTree) summarize(ctx context.Context, cluster []*SummaryNode, level int) (*SummaryNode, error) {
	texts := make([]string, 0, len(cluster))
	children := make([]string, 0, len(cluster))
	var docIDs []string
	seen := make(map[string]struct{})
	for _, n := range cluster {
		texts = append(texts, n.Text)
		children = append(children, n.ID)
		for _, id := range n.DocumentIDs {
			if _, ok := seen[id]; !ok {
				seen[id] = struct{}{}
				docIDs = append(docIDs, id)
			}
		}
	}
	joined := strings.Join(texts, "\n\n---\n\n")

	summary := ""
	if t.summarizer != nil {
		resp, err := t.summarizer.Complete(ctx, fmt.Sprintf(summaryPrompt, truncateRunes(joined, t.config.MaxPromptChars)))
		if err != nil {
			t.logger.Warn("cluster summarization failed", zap.Int("level", level), zap.Error(err))
		} else {
			summary = strings.TrimSpace(resp)
		}
	}
	if summary == "" {
		summary = truncateRunes(joined, t.config.FallbackChars)
	}

	vec, err := t.embedder.Embed(ctx, summary)
	if err != nil {
		return nil, fmt.Errorf("embed summary: %w", err)
	}

	return &SummaryNode{
		ID:          uuid.NewString(),
		Text:        summary,
		Level:       level,
		Children:    children,
		DocumentIDs: docIDs,
		Embedding:   vec,
	}, nil
}

// Retrieve implements Retriever. Nodes of every level compete; a node's
// candidate points at its first document. Nodes without documents are skipped.
func (t *SummaryTree) Retrieve(ctx context.Context, query string, topK int) ([]types.Candidate, error) {
	if topK <= 0 {
		return []types.Candidate{}, nil
	}

	var queryVec []float64
	if t.embedder != nil {
		vec, err := t.embedder.Embed(ctx, query)
		if err != nil {
			return nil, fmt.Errorf("embed query: %w", err)
		}
		queryVec = vec
	}
	queryTerms := terms(query)

	t.mu.RLock()
	defer t.mu.RUnlock()

	out := make([]types.Candidate, 0, len(t.nodes))
	for _, n := range t.nodes {
		if len(n.DocumentIDs) == 0 {
			continue
		}
		score := relevance(queryVec, queryTerms, n.Embedding, n.Text)
		if score <= 0 {
			continue
		}
		out = append(out, types.Candidate{
			SourceID:      n.ID,
			DocumentID:    n.DocumentIDs[0],
			DocumentTitle: n.Title,
			Text:          n.Text,
			Score:         score,
			Backend:       types.BackendSummary,
		})
	}

	sort.Slice(out, func(i, j int) bool {
		if out[i].Score != out[j].Score {
			return out[i].Score > out[j].Score
		}
		return out[i].SourceID < out[j].SourceID
	})
	if len(out) > topK {
		out = out[:topK]
	}
	return out, nil
}

const summaryTreeFile = "summary_tree.json"

// Persist writes the tree to dir as JSON.
func (t *SummaryTree) Persist(dir string) error {
	t.mu.RLock()
	data, err := json.Marshal(t.nodes)
	count := len(t.nodes)
	t.mu.RUnlock()
	if err != nil {
		return err
	}
	if count == 0 {
		return nil
	}

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	path := filepath.Join(dir, summaryTreeFile)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return err
	}
	t.logger.Info("summary tree persisted", zap.String("path", path), zap.Int("nodes", count))
	return nil
}

// Load reads a tree persisted by Persist. A missing file reports false.
func (t *SummaryTree) Load(dir string) (bool, error) {
	path := filepath.Join(dir, summaryTreeFile)
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return false, nil
	}
	if err != nil {
		return false, err
	}

	nodes := make(map[string]*SummaryNode)
	if err := json.Unmarshal(data, &nodes); err != nil {
		return false, fmt.Errorf("decode summary tree: %w", err)
	}

	t.mu.Lock()
	t.nodes = nodes
	t.mu.Unlock()

	t.logger.Info("summary tree loaded", zap.String("path", path), zap.Int("nodes", len(nodes)))
	return true, nil
}

// kmeans 确定性 k-means：初始中心按等间距选取，空簇丢弃
func kmeans(nodes []*SummaryNode, k, iterations int) [][]*SummaryNode {
	if k <= 1 || len(nodes) <= k {
		if k <= 1 {
			return [][]*SummaryNode{nodes}
		}
		out := make([][]*SummaryNode, len(nodes))
		for i, n := range nodes {
			out[i] = []*SummaryNode{n}
		}
		return out
	}

	dim := len(nodes[0].Embedding)
	centers := make([][]float64, k)
	for i := range centers {
		centers[i] = append([]float64(nil), nodes[i*len(nodes)/k].Embedding...)
	}

	assign := make([]int, len(nodes))
	for iter := 0; iter < iterations; iter++ {
		changed := false
		for i, n := range nodes {
			best, bestSim := 0, -2.0
			for c, center := range centers {
				if sim := cosineSimilarity(n.Embedding, center); sim > bestSim {
					best, bestSim = c, sim
				}
			}
			if assign[i] != best {
				assign[i] = best
				changed = true
			}
		}
		if !changed && iter > 0 {
			break
		}

		sums := make([][]float64, k)
		counts := make([]int, k)
		for i, n := range nodes {
			c := assign[i]
			if sums[c] == nil {
				sums[c] = make([]float64, dim)
			}
			if len(n.Embedding) != dim {
				continue
			}
			for d, v := range n.Embedding {
				sums[c][d] += v
			}
			counts[c]++
		}
		for c := range centers {
			if counts[c] == 0 {
				continue
			}
			for d := range sums[c] {
				sums[c][d] /= float64(counts[c])
			}
			centers[c] = sums[c]
		}
	}

	clusters := make([][]*SummaryNode, k)
	for i, n := range nodes {
		clusters[assign[i]] = append(clusters[assign[i]], n)
	}
	out := clusters[:0]
	for _, c := range clusters {
		if len(c) > 0 {
			out = append(out, c)
		}
	}
	return out
}

func truncateRunes(s string, limit int) string {
	r := []rune(s)
	if len(r) <= limit {
		return s
	}
	return string(r[:limit])
}
