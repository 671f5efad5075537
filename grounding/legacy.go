package grounding

import (
	"strconv"

	"github.com/BaSui01/groundrag/types"
)

// LegacyNoteStrategy 解析旧格式 [Note #N] / [Note #N, #M]，编号从 1 开始指向上下文列表。
// 超出范围的编号被忽略；没有任何有效编号的标记保留为普通文本。
type LegacyNoteStrategy struct {
	snippetLen int
}

// NewLegacyNoteStrategy creates the legacy strategy.
func NewLegacyNoteStrategy(snippetLen int) *LegacyNoteStrategy {
	if snippetLen <= 0 {
		snippetLen = DefaultSnippetLength
	}
	return &LegacyNoteStrategy{snippetLen: snippetLen}
}

// Format implements Strategy.
func (s *LegacyNoteStrategy) Format() types.CitationFormat {
	return types.FormatLegacy
}

// Extract implements Strategy.
func (s *LegacyNoteStrategy) Extract(responseText string, items []types.ContextItem) types.ResolvedContent {
	segments := []types.Segment{}
	markers := []types.CitationMarker{}
	citations := []types.ResolvedCitation{}
	seen := make(map[int]struct{})

	textStart := 0
	for _, loc := range legacyMarkerPattern.FindAllStringIndex(responseText, -1) {
		marker := responseText[loc[0]:loc[1]]

		var firstID string
		found := false
		for _, m := range legacyNumberPattern.FindAllStringSubmatch(marker, -1) {
			num, err := strconv.Atoi(m[1])
			if err != nil || num < 1 || num > len(items) {
				continue
			}
			item := items[num-1]
			id := legacyCitationID(item, num)
			if !found {
				firstID = id
				found = true
			}
			markers = append(markers, types.CitationMarker{RawID: m[0], ID: id, Marker: marker, Position: loc[0]})
			if _, dup := seen[num]; dup {
				continue
			}
			seen[num] = struct{}{}
			c := citationFromItem(id, item, s.snippetLen)
			// 旧格式只指向文档，不携带段落偏移
			c.Start, c.End = nil, nil
			citations = append(citations, c)
		}
		if !found {
			continue
		}

		segments = appendText(segments, responseText[textStart:loc[0]])
		segments = append(segments, types.Segment{Kind: types.SegmentCitation, Text: marker, CitationID: firstID})
		textStart = loc[1]
	}
	segments = appendText(segments, responseText[textStart:])

	return types.ResolvedContent{
		CleanText: CleanText(segments),
		Citations: citations,
		Segments:  segments,
		Markers:   markers,
		Format:    types.FormatLegacy,
	}
}

func legacyCitationID(item types.ContextItem, num int) string {
	if item.CitationID != "" {
		return item.CitationID
	}
	if item.DocumentID != "" {
		return item.DocumentID
	}
	return "note-" + strconv.Itoa(num)
}
