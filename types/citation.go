package types

// CitationFormat 响应文本使用的引用标记格式
type CitationFormat string

const (
	FormatPrimary CitationFormat = "citation"
	FormatLegacy  CitationFormat = "legacy"
	FormatNone    CitationFormat = "none"
)

// CitationMarker 响应文本中出现的一个引用标记
type CitationMarker struct {
	RawID    string `json:"raw_id"`
	ID       string `json:"id"`
	Marker   string `json:"marker"`
	Position int    `json:"position"`
}

// ResolvedCitation 引用 ID 对应的来源信息。未知 ID 也会输出，元数据为空。
type ResolvedCitation struct {
	CitationID    string `json:"citation_id"`
	DocumentID    string `json:"document_id"`
	DocumentTitle string `json:"document_title"`
	Start         *int   `json:"start_char_idx"`
	End           *int   `json:"end_char_idx"`
	Snippet       string `json:"text_snippet"`
}

// Known reports whether the citation matched a context item.
func (c ResolvedCitation) Known() bool {
	return c.DocumentID != ""
}

// SegmentKind 片段类型
type SegmentKind string

const (
	SegmentText     SegmentKind = "text"
	SegmentCitation SegmentKind = "citation"
)

// Segment 响应文本的一段。所有片段 Text 依次拼接等于原始响应。
type Segment struct {
	Kind       SegmentKind `json:"type"`
	Text       string      `json:"text"`
	CitationID string      `json:"citation_id,omitempty"`
}

// ResolvedContent 引用提取结果
type ResolvedContent struct {
	CleanText string             `json:"clean_text"`
	Citations []ResolvedCitation `json:"citations"`
	Segments  []Segment          `json:"segments"`
	Markers   []CitationMarker   `json:"markers,omitempty"`
	Format    CitationFormat     `json:"format"`
}

// OffsetMatch 声明文本在原文中的字符区间 [Start, End)，Distance 为归一化编辑距离
type OffsetMatch struct {
	Start    int     `json:"start_char_idx"`
	End      int     `json:"end_char_idx"`
	Distance float64 `json:"distance"`
}
