package grounding

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"

	"github.com/BaSui01/groundrag/types"
)

func sampleItems() []types.ContextItem {
	return []types.ContextItem{
		{
			CitationID:    "n1_0",
			DocumentID:    "n1",
			DocumentTitle: "Budget Notes",
			Text:          "The budget approved in Q3.",
			Start:         types.IntPtr(0),
			End:           types.IntPtr(26),
			Score:         0.9,
			Backend:       types.BackendDense,
		},
		{
			CitationID:    "n2_0",
			DocumentID:    "n2",
			DocumentTitle: "Team",
			Text:          "Alice leads the platform team.",
			Score:         0.7,
			Backend:       types.BackendGraph,
		},
	}
}

func joinSegments(segments []types.Segment) string {
	var b strings.Builder
	for _, s := range segments {
		b.WriteString(s.Text)
	}
	return b.String()
}

func TestExtractor_PrimaryMarkers(t *testing.T) {
	t.Parallel()

	e := NewExtractor(DefaultExtractorConfig(), nil)
	text := "The budget passed [citation:n1_0]. Alice runs it [citation: n2_0 ] and [citation:n1_0]."
	got := e.Extract(text, sampleItems())

	assert.Equal(t, types.FormatPrimary, got.Format)
	require.Len(t, got.Citations, 2)
	assert.Equal(t, "n1_0", got.Citations[0].CitationID)
	assert.Equal(t, "n1", got.Citations[0].DocumentID)
	assert.Equal(t, "Budget Notes", got.Citations[0].DocumentTitle)
	require.NotNil(t, got.Citations[0].Start)
	assert.Equal(t, 0, *got.Citations[0].Start)
	assert.Equal(t, "The budget approved in Q3.", got.Citations[0].Snippet)
	assert.Equal(t, "n2_0", got.Citations[1].CitationID)
	assert.Nil(t, got.Citations[1].Start)

	assert.Len(t, got.Markers, 3)
	assert.Equal(t, " n2_0 ", got.Markers[1].RawID)
	assert.Equal(t, "n2_0", got.Markers[1].ID)
	assert.Equal(t, strings.Index(text, "[citation: n2_0 ]"), got.Markers[1].Position)

	assert.Equal(t, text, joinSegments(got.Segments))
	assert.Equal(t, "The budget passed. Alice runs it and.", got.CleanText)
}

func TestExtractor_UnknownID(t *testing.T) {
	t.Parallel()

	e := NewExtractor(DefaultExtractorConfig(), nil)
	got := e.Extract("See [citation:zzz].", nil)

	require.Len(t, got.Citations, 1)
	assert.Equal(t, "zzz", got.Citations[0].CitationID)
	assert.Equal(t, "", got.Citations[0].DocumentID)
	assert.Equal(t, "", got.Citations[0].DocumentTitle)
	assert.Equal(t, "", got.Citations[0].Snippet)
	assert.Nil(t, got.Citations[0].Start)
	assert.False(t, got.Citations[0].Known())
	assert.Equal(t, "See.", got.CleanText)
}

func TestExtractor_MalformedMarkersStayText(t *testing.T) {
	t.Parallel()

	e := NewExtractor(DefaultExtractorConfig(), nil)

	unclosed := "Dangling [citation:n1_0 never closed"
	got := e.Extract(unclosed, sampleItems())
	assert.Empty(t, got.Citations)
	assert.Equal(t, unclosed, joinSegments(got.Segments))

	blank := "Blank [citation:  ] then [citation:n2_0]"
	got = e.Extract(blank, sampleItems())
	require.Len(t, got.Citations, 1)
	assert.Equal(t, "n2_0", got.Citations[0].CitationID)
	assert.Equal(t, blank, joinSegments(got.Segments))
	assert.Equal(t, "Blank [citation: ] then", got.CleanText)
}

func TestExtractor_SnippetTruncation(t *testing.T) {
	t.Parallel()

	long := strings.Repeat("長", 250)
	items := []types.ContextItem{{CitationID: "d_0", DocumentID: "d", Text: long}}
	got := NewExtractor(DefaultExtractorConfig(), nil).Extract("x [citation:d_0]", items)

	require.Len(t, got.Citations, 1)
	assert.Equal(t, strings.Repeat("長", 200)+"...", got.Citations[0].Snippet)
}

func TestExtractor_LegacyNotes(t *testing.T) {
	t.Parallel()

	e := NewExtractor(DefaultExtractorConfig(), nil)
	text := "As noted [Note #1, #2] and [Note #5]. Again [Note #1]."
	got := e.Extract(text, sampleItems())

	assert.Equal(t, types.FormatLegacy, got.Format)
	require.Len(t, got.Citations, 2)
	assert.Equal(t, "n1_0", got.Citations[0].CitationID)
	assert.Equal(t, "n1", got.Citations[0].DocumentID)
	assert.Nil(t, got.Citations[0].Start)
	assert.Equal(t, "n2_0", got.Citations[1].CitationID)

	assert.Equal(t, text, joinSegments(got.Segments))
	assert.Equal(t, "As noted and [Note #5]. Again.", got.CleanText)
}

func TestExtractor_UnicodeBlankPrimaryIDKeepsLegacyMarkers(t *testing.T) {
	t.Parallel()

	e := NewExtractor(DefaultExtractorConfig(), nil)
	text := "x [citation:\u00a0] [Note #1]"
	got := e.Extract(text, sampleItems())

	assert.Equal(t, types.FormatLegacy, got.Format)
	require.Len(t, got.Citations, 1)
	assert.Equal(t, "n1", got.Citations[0].DocumentID)
	assert.Equal(t, text, joinSegments(got.Segments))
}

func TestExtractor_LegacyDisabled(t *testing.T) {
	t.Parallel()

	cfg := DefaultExtractorConfig()
	cfg.DisableLegacy = true
	got := NewExtractor(cfg, nil).Extract("See [Note #1].", sampleItems())

	assert.Empty(t, got.Citations)
	assert.Equal(t, "See [Note #1].", joinSegments(got.Segments))
}

func TestExtractor_NoMarkers(t *testing.T) {
	t.Parallel()

	got := NewExtractor(DefaultExtractorConfig(), nil).Extract("  plain   answer  ", nil)
	assert.Equal(t, types.FormatNone, got.Format)
	assert.Empty(t, got.Citations)
	require.Len(t, got.Segments, 1)
	assert.Equal(t, "plain answer", got.CleanText)

	empty := NewExtractor(DefaultExtractorConfig(), nil).Extract("", nil)
	assert.Empty(t, empty.Segments)
	assert.Equal(t, "", empty.CleanText)
}

func TestDetectFormat(t *testing.T) {
	t.Parallel()

	assert.Equal(t, types.FormatPrimary, DetectFormat("a [citation:x] b [Note #1]"))
	assert.Equal(t, types.FormatLegacy, DetectFormat("a [Note #1] b"))
	assert.Equal(t, types.FormatLegacy, DetectFormat("a [citation: ] [Note #1]"))
	assert.Equal(t, types.FormatLegacy, DetectFormat("a [citation:\u00a0] [Note #1]"))
	assert.Equal(t, types.FormatLegacy, DetectFormat("a [citation:\u3000\u2009] [Note #1]"))
	assert.Equal(t, types.FormatNone, DetectFormat("a [citation:x b"))
	assert.Equal(t, types.FormatNone, DetectFormat(""))
}

var markerPieces = []string{
	"hello ", "world", ".", "  ", "\n", "[", "]", "[citation:", "[citation:n1_0]",
	"[citation: n2_0 ]", "[citation:zzz]", "[citation:]", "[Note #1]", "[Note #2, #9]", "Note #3",
}

func TestProperty_SegmentsReconstructResponse(t *testing.T) {
	e := NewExtractor(DefaultExtractorConfig(), nil)
	items := sampleItems()

	rapid.Check(t, func(rt *rapid.T) {
		pieces := rapid.SliceOfN(rapid.SampledFrom(markerPieces), 0, 20).Draw(rt, "pieces")
		text := strings.Join(pieces, "")

		got := e.Extract(text, items)
		if joined := joinSegments(got.Segments); joined != text {
			rt.Fatalf("segments %q do not reconstruct %q", joined, text)
		}
		ids := make(map[string]struct{})
		for _, c := range got.Citations {
			if _, dup := ids[c.CitationID]; dup {
				rt.Fatalf("duplicate citation %q", c.CitationID)
			}
			ids[c.CitationID] = struct{}{}
		}
	})
}

func TestProperty_ExtractIsIdempotent(t *testing.T) {
	e := NewExtractor(DefaultExtractorConfig(), nil)
	items := sampleItems()

	rapid.Check(t, func(rt *rapid.T) {
		pieces := rapid.SliceOfN(rapid.SampledFrom(markerPieces), 0, 20).Draw(rt, "pieces")
		text := strings.Join(pieces, "")

		first := e.Extract(text, items)
		second := e.Extract(text, items)
		assert.Equal(rt, first, second)
	})
}

type fakeDocs struct {
	texts map[string]string
	calls int
	err   error
}

func (f *fakeDocs) GetDocumentText(_ context.Context, id string) (string, error) {
	f.calls++
	if f.err != nil {
		return "", f.err
	}
	text, ok := f.texts[id]
	if !ok {
		return "", types.NewDocumentNotFoundError(id)
	}
	return text, nil
}

func TestExtractor_ExtractAndResolveFillsOffsets(t *testing.T) {
	t.Parallel()

	docs := &fakeDocs{texts: map[string]string{
		"n2": "Org chart. Alice leads the platform team. Bob leads infra.",
	}}
	e := NewExtractor(DefaultExtractorConfig(), nil, WithDocumentTextSource(docs))

	got, err := e.ExtractAndResolve(context.Background(), "Alice [citation:n2_0] and [citation:n1_0] [citation:n2_0]", sampleItems())
	require.NoError(t, err)
	require.Len(t, got.Citations, 2)

	// n1_0 已有偏移，不查询
	assert.Equal(t, 0, *got.Citations[1].Start)

	c := got.Citations[0]
	require.NotNil(t, c.Start)
	assert.Equal(t, 11, *c.Start)
	assert.Equal(t, 41, *c.End)
	assert.Equal(t, 1, docs.calls)
}

func TestExtractor_ExtractAndResolveLookupFailure(t *testing.T) {
	t.Parallel()

	docs := &fakeDocs{err: errors.New("db down")}
	e := NewExtractor(DefaultExtractorConfig(), nil, WithDocumentTextSource(docs))

	got, err := e.ExtractAndResolve(context.Background(), "x [citation:n2_0]", sampleItems())
	require.NoError(t, err)
	require.Len(t, got.Citations, 1)
	assert.Nil(t, got.Citations[0].Start)
}

func TestExtractor_ExtractAndResolveCancelled(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	e := NewExtractor(DefaultExtractorConfig(), nil, WithDocumentTextSource(&fakeDocs{}))
	_, err := e.ExtractAndResolve(ctx, "x [citation:n2_0]", sampleItems())
	require.Error(t, err)
	assert.ErrorIs(t, err, types.ErrCancelled)
}
