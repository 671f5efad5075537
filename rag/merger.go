package rag

import (
	"math"
	"sort"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"github.com/BaSui01/groundrag/types"
)

const (
	// DefaultTopK 默认上下文条目上限
	DefaultTopK = 10
	// DefaultDedupOverlap 偏移重叠比例超过该值视为重复
	DefaultDedupOverlap = 0.5
)

// CandidateList 单个后端返回的候选列表
type CandidateList struct {
	Backend    types.Backend     `json:"backend"`
	Candidates []types.Candidate `json:"candidates"`
}

// MergerConfig 合并器配置
type MergerConfig struct {
	TopK         int     `json:"top_k"`
	DedupOverlap float64 `json:"dedup_overlap"`
	// MaxContextTokens 上下文 token 预算，0 表示不限制
	MaxContextTokens int `json:"max_context_tokens"`
}

// DefaultMergerConfig 返回默认合并配置
func DefaultMergerConfig() MergerConfig {
	return MergerConfig{
		TopK:         DefaultTopK,
		DedupOverlap: DefaultDedupOverlap,
	}
}

// Merger 去重、排序并截断多个后端的候选结果
type Merger struct {
	config  MergerConfig
	counter types.TokenCounter
	logger  *zap.Logger
}

// NewMerger creates a Merger. A nil counter falls back to the estimate tokenizer.
func NewMerger(config MergerConfig, counter types.TokenCounter, logger *zap.Logger) *Merger {
	if logger == nil {
		logger = zap.NewNop()
	}
	if config.TopK <= 0 {
		config.TopK = DefaultTopK
	}
	if config.DedupOverlap <= 0 || config.DedupOverlap > 1 {
		config.DedupOverlap = DefaultDedupOverlap
	}
	if counter == nil {
		counter = types.NewEstimateTokenizer()
	}
	return &Merger{
		config:  config,
		counter: counter,
		logger:  logger.With(zap.String("component", "result_merger")),
	}
}

// rankedCandidate 扁平化后的候选，保留原始顺序用于稳定排序
type rankedCandidate struct {
	types.Candidate
	citationID string
}

// Merge flattens lists, assigns citation ids, ranks, deduplicates and truncates.
// topK <= 0 uses the configured default. The result is never nil.
func (m *Merger) Merge(lists []CandidateList, topK int) []types.ContextItem {
	if topK <= 0 {
		topK = m.config.TopK
	}

	flat := m.flatten(lists)
	if len(flat) == 0 {
		return []types.ContextItem{}
	}

	sort.SliceStable(flat, func(i, j int) bool {
		if flat[i].Score != flat[j].Score {
			return flat[i].Score > flat[j].Score
		}
		return flat[i].Backend.Priority() < flat[j].Backend.Priority()
	})

	kept := make([]rankedCandidate, 0, min(len(flat), topK))
	for _, c := range flat {
		if len(kept) >= topK {
			break
		}
		if m.isDuplicate(c, kept) {
			continue
		}
		kept = append(kept, c)
	}

	items := make([]types.ContextItem, 0, len(kept))
	usedTokens := 0
	for i, c := range kept {
		if m.config.MaxContextTokens > 0 {
			n := m.counter.CountTokens(c.Text)
			if i > 0 && usedTokens+n > m.config.MaxContextTokens {
				m.logger.Debug("context token budget reached",
					zap.Int("kept", len(items)),
					zap.Int("tokens", usedTokens))
				break
			}
			usedTokens += n
		}
		items = append(items, toContextItem(c))
	}
	return items
}

// MergeCandidates merges plain candidate lists, taking each candidate's backend from its own field.
func (m *Merger) MergeCandidates(lists [][]types.Candidate, topK int) []types.ContextItem {
	wrapped := make([]CandidateList, len(lists))
	for i, l := range lists {
		wrapped[i] = CandidateList{Candidates: l}
	}
	return m.Merge(wrapped, topK)
}

func (m *Merger) flatten(lists []CandidateList) []rankedCandidate {
	total := 0
	for _, l := range lists {
		total += len(l.Candidates)
	}
	flat := make([]rankedCandidate, 0, total)
	seq := make(map[string]int)

	for _, l := range lists {
		scores := normalizeScores(l.Candidates)
		for i, c := range l.Candidates {
			if c.DocumentID == "" {
				m.logger.Debug("dropping candidate without document id",
					zap.String("backend", string(l.Backend)))
				continue
			}
			if c.Backend == "" {
				c.Backend = l.Backend
			}
			if err := c.Validate(); err != nil {
				// 偏移不合法时只丢弃偏移，保留文本
				c.Start, c.End = nil, nil
			}
			c.Score = scores[i]

			n := seq[c.DocumentID]
			seq[c.DocumentID] = n + 1
			flat = append(flat, rankedCandidate{
				Candidate:  c,
				citationID: c.DocumentID + "_" + strconv.Itoa(n),
			})
		}
	}
	return flat
}

func (m *Merger) isDuplicate(c rankedCandidate, kept []rankedCandidate) bool {
	for _, k := range kept {
		if k.DocumentID != c.DocumentID {
			continue
		}
		if c.HasOffsets() && k.HasOffsets() {
			if overlapRatio(*c.Start, *c.End, *k.Start, *k.End) > m.config.DedupOverlap {
				return true
			}
			continue
		}
		if textAffixMatch(c.Text, k.Text) {
			return true
		}
	}
	return false
}

// overlapRatio 候选区间与已保留区间的重叠长度除以已保留区间长度
func overlapRatio(cStart, cEnd, keptStart, keptEnd int) float64 {
	overlap := min(cEnd, keptEnd) - max(cStart, keptStart)
	if overlap <= 0 {
		return 0
	}
	kept := keptEnd - keptStart
	if kept <= 0 {
		return 0
	}
	return float64(overlap) / float64(kept)
}

// textAffixMatch reports whether one text is a case-insensitive prefix or suffix of the other.
func textAffixMatch(a, b string) bool {
	a = strings.ToLower(strings.TrimSpace(a))
	b = strings.ToLower(strings.TrimSpace(b))
	if a == "" || b == "" {
		return false
	}
	if len(a) > len(b) {
		a, b = b, a
	}
	return strings.HasPrefix(b, a) || strings.HasSuffix(b, a)
}

// normalizeScores clamps scores to [0,1]. A list carrying any score outside
// that range is min-max normalized first.
func normalizeScores(cands []types.Candidate) []float64 {
	out := make([]float64, len(cands))
	if len(cands) == 0 {
		return out
	}

	minScore := math.MaxFloat64
	maxScore := -math.MaxFloat64
	outOfRange := false
	for _, c := range cands {
		s := c.Score
		if math.IsNaN(s) {
			continue
		}
		minScore = min(minScore, s)
		maxScore = max(maxScore, s)
		if s < 0 || s > 1 {
			outOfRange = true
		}
	}

	scoreRange := maxScore - minScore
	for i, c := range cands {
		s := c.Score
		switch {
		case math.IsNaN(s):
			s = 0
		case outOfRange && scoreRange == 0:
			// 所有分数相同
			s = 1.0
		case outOfRange:
			s = (s - minScore) / scoreRange
		}
		out[i] = math.Max(0, math.Min(1, s))
	}
	return out
}

func toContextItem(c rankedCandidate) types.ContextItem {
	return types.ContextItem{
		CitationID:    c.citationID,
		DocumentID:    c.DocumentID,
		DocumentTitle: c.DocumentTitle,
		Text:          c.Text,
		Start:         c.Start,
		End:           c.End,
		Score:         c.Score,
		Backend:       c.Backend,
		HeadingTrail:  c.HeadingTrail,
	}
}
