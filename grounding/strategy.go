package grounding

import (
	"regexp"
	"strings"

	"github.com/BaSui01/groundrag/types"
)

// DefaultSnippetLength 引用摘录的最大字符数
const DefaultSnippetLength = 200

// Strategy 一种引用标记格式的解析策略
type Strategy interface {
	// Format returns the marker format this strategy understands.
	Format() types.CitationFormat
	// Extract splits responseText into segments and resolves the markers it finds.
	Extract(responseText string, items []types.ContextItem) types.ResolvedContent
}

var (
	legacyMarkerPattern  = regexp.MustCompile(`\[Note #(\d+)(?:,\s*#(\d+))*\]`)
	legacyNumberPattern  = regexp.MustCompile(`#(\d+)`)
	spaceBeforePunct     = regexp.MustCompile(` +([.,;:!?])`)
)

// DetectFormat reports which marker format responseText uses.
// The primary format wins whenever a well-formed [citation:id] marker is present.
func DetectFormat(responseText string) types.CitationFormat {
	switch {
	case hasPrimaryMarker(responseText):
		return types.FormatPrimary
	case legacyMarkerPattern.MatchString(responseText):
		return types.FormatLegacy
	default:
		return types.FormatNone
	}
}

// CleanText joins the text segments and normalizes their whitespace.
func CleanText(segments []types.Segment) string {
	var b strings.Builder
	for _, seg := range segments {
		if seg.Kind == types.SegmentText {
			b.WriteString(seg.Text)
		}
	}
	return normalizeSpace(b.String())
}

func normalizeSpace(s string) string {
	s = strings.Join(strings.Fields(s), " ")
	return spaceBeforePunct.ReplaceAllString(s, "$1")
}

// Snippet truncates text to limit runes, appending "..." when it was longer.
func Snippet(text string, limit int) string {
	if limit <= 0 {
		limit = DefaultSnippetLength
	}
	rs := []rune(text)
	if len(rs) <= limit {
		return text
	}
	return string(rs[:limit]) + "..."
}

// plainContent 不含任何标记时的结果：单个文本片段
func plainContent(responseText string) types.ResolvedContent {
	segments := []types.Segment{}
	if responseText != "" {
		segments = append(segments, types.Segment{Kind: types.SegmentText, Text: responseText})
	}
	return types.ResolvedContent{
		CleanText: normalizeSpace(responseText),
		Citations: []types.ResolvedCitation{},
		Segments:  segments,
		Format:    types.FormatNone,
	}
}

func appendText(segments []types.Segment, text string) []types.Segment {
	if text == "" {
		return segments
	}
	return append(segments, types.Segment{Kind: types.SegmentText, Text: text})
}

func citationFromItem(citationID string, item types.ContextItem, snippetLen int) types.ResolvedCitation {
	return types.ResolvedCitation{
		CitationID:    citationID,
		DocumentID:    item.DocumentID,
		DocumentTitle: item.DocumentTitle,
		Start:         copyInt(item.Start),
		End:           copyInt(item.End),
		Snippet:       Snippet(item.Text, snippetLen),
	}
}

func copyInt(p *int) *int {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}
