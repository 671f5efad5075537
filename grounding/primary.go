package grounding

import (
	"strings"

	"github.com/BaSui01/groundrag/types"
)

const (
	primaryOpen  = "[citation:"
	primaryClose = ']'
)

// CitationStrategy 解析 [citation:<id>] 标记
type CitationStrategy struct {
	snippetLen int
}

// NewCitationStrategy creates the primary strategy.
func NewCitationStrategy(snippetLen int) *CitationStrategy {
	if snippetLen <= 0 {
		snippetLen = DefaultSnippetLength
	}
	return &CitationStrategy{snippetLen: snippetLen}
}

// Format implements Strategy.
func (s *CitationStrategy) Format() types.CitationFormat {
	return types.FormatPrimary
}

// Extract implements Strategy with a single left-to-right scan.
// An opening "[citation:" without a closing bracket, or with a blank id, stays plain text.
func (s *CitationStrategy) Extract(responseText string, items []types.ContextItem) types.ResolvedContent {
	byID := make(map[string]types.ContextItem, len(items))
	for _, item := range items {
		if item.CitationID == "" {
			continue
		}
		if _, ok := byID[item.CitationID]; !ok {
			byID[item.CitationID] = item
		}
	}

	segments := []types.Segment{}
	markers := []types.CitationMarker{}
	citations := []types.ResolvedCitation{}
	seen := make(map[string]struct{})

	textStart := 0
	pos := 0
	for {
		open, end, ok := nextPrimaryMarker(responseText, pos)
		if !ok {
			break
		}
		rawID := responseText[open+len(primaryOpen) : end-1]
		id := strings.TrimSpace(rawID)

		segments = appendText(segments, responseText[textStart:open])
		marker := responseText[open:end]
		segments = append(segments, types.Segment{Kind: types.SegmentCitation, Text: marker, CitationID: id})
		markers = append(markers, types.CitationMarker{RawID: rawID, ID: id, Marker: marker, Position: open})

		if _, dup := seen[id]; !dup {
			seen[id] = struct{}{}
			if item, ok := byID[id]; ok {
				citations = append(citations, citationFromItem(id, item, s.snippetLen))
			} else {
				citations = append(citations, types.ResolvedCitation{CitationID: id})
			}
		}

		textStart = end
		pos = end
	}
	segments = appendText(segments, responseText[textStart:])

	return types.ResolvedContent{
		CleanText: CleanText(segments),
		Citations: citations,
		Segments:  segments,
		Markers:   markers,
		Format:    types.FormatPrimary,
	}
}

// nextPrimaryMarker 从 pos 起查找下一个 id 非空的完整标记，返回 [open, end)
func nextPrimaryMarker(text string, pos int) (open, end int, ok bool) {
	for pos < len(text) {
		rel := strings.Index(text[pos:], primaryOpen)
		if rel < 0 {
			return 0, 0, false
		}
		open = pos + rel
		idStart := open + len(primaryOpen)
		closeRel := strings.IndexByte(text[idStart:], primaryClose)
		if closeRel < 0 {
			return 0, 0, false
		}
		end = idStart + closeRel + 1
		if strings.TrimSpace(text[idStart:end-1]) != "" {
			return open, end, true
		}
		pos = open + 1
	}
	return 0, 0, false
}

func hasPrimaryMarker(text string) bool {
	_, _, ok := nextPrimaryMarker(text, 0)
	return ok
}
