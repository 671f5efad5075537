package types

import (
	"fmt"
	"strings"
)

// Intent 查询意图标签，每个查询恰好一个
type Intent string

const (
	IntentFactual    Intent = "factual"
	IntentRelational Intent = "relational"
	IntentSummary    Intent = "summary"
	IntentMixed      Intent = "mixed"
)

// ParseIntent parses a label case-insensitively. Unknown labels report false.
func ParseIntent(s string) (Intent, bool) {
	switch Intent(strings.ToLower(strings.TrimSpace(s))) {
	case IntentFactual:
		return IntentFactual, true
	case IntentRelational:
		return IntentRelational, true
	case IntentSummary:
		return IntentSummary, true
	case IntentMixed:
		return IntentMixed, true
	}
	return "", false
}

// Valid reports whether the intent is one of the four known labels.
func (i Intent) Valid() bool {
	_, ok := ParseIntent(string(i))
	return ok
}

// Backend 候选来源后端
type Backend string

const (
	BackendDense   Backend = "dense"
	BackendGraph   Backend = "graph"
	BackendSummary Backend = "summary"
)

// Priority returns the tie-break rank of a backend (lower wins).
func (b Backend) Priority() int {
	switch b {
	case BackendDense:
		return 0
	case BackendGraph:
		return 1
	case BackendSummary:
		return 2
	default:
		return 3
	}
}

// AllBackends lists the backends in priority order.
var AllBackends = []Backend{BackendDense, BackendGraph, BackendSummary}

// Query 一次对话检索请求。分发后按值传递，不再修改。
type Query struct {
	Text    string    `json:"query"`
	Topic   string    `json:"topic,omitempty"`
	History []Message `json:"history,omitempty"`
}

// SearchText returns the text sent to the stores: the query text, else the
// latest user message, else the topic hint.
func (q Query) SearchText() string {
	if t := strings.TrimSpace(q.Text); t != "" {
		return t
	}
	if users := LastUserMessages(q.History, 1); len(users) > 0 {
		if t := strings.TrimSpace(users[0].Content); t != "" {
			return t
		}
	}
	return strings.TrimSpace(q.Topic)
}

// Candidate 单个后端返回的候选段落
type Candidate struct {
	SourceID      string   `json:"source_id,omitempty"`
	DocumentID    string   `json:"document_id"`
	DocumentTitle string   `json:"document_title,omitempty"`
	Text          string   `json:"text"`
	Start         *int     `json:"start_char_idx,omitempty"`
	End           *int     `json:"end_char_idx,omitempty"`
	Score         float64  `json:"relevance_score"`
	Backend       Backend  `json:"source_type,omitempty"`
	HeadingTrail  []string `json:"heading_trail,omitempty"`
}

// HasOffsets reports whether both character offsets are present.
func (c Candidate) HasOffsets() bool {
	return c.Start != nil && c.End != nil
}

// Validate checks the candidate invariants.
func (c Candidate) Validate() error {
	if c.DocumentID == "" {
		return NewInvalidRequestError("candidate document_id is required")
	}
	if (c.Start == nil) != (c.End == nil) {
		return NewInvalidRequestError("candidate offsets must be given together")
	}
	if c.HasOffsets() && (*c.Start < 0 || *c.Start >= *c.End) {
		return NewInvalidRequestError(fmt.Sprintf("candidate offsets out of order: [%d, %d)", *c.Start, *c.End))
	}
	return nil
}

// ContextItem 合并后进入生成上下文的条目，CitationID 在一轮内唯一
type ContextItem struct {
	CitationID    string   `json:"citation_id"`
	DocumentID    string   `json:"document_id"`
	DocumentTitle string   `json:"document_title,omitempty"`
	Text          string   `json:"text"`
	Start         *int     `json:"start_char_idx,omitempty"`
	End           *int     `json:"end_char_idx,omitempty"`
	Score         float64  `json:"relevance_score"`
	Backend       Backend  `json:"source_type"`
	HeadingTrail  []string `json:"heading_trail,omitempty"`
}

// HasOffsets reports whether both character offsets are present.
func (c ContextItem) HasOffsets() bool {
	return c.Start != nil && c.End != nil
}

// IntPtr returns a pointer to v.
func IntPtr(v int) *int {
	return &v
}
