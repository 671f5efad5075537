package rag

import (
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"

	"github.com/BaSui01/groundrag/types"
)

func TestMerger_AssignsCitationIDsPerDocument(t *testing.T) {
	t.Parallel()

	m := NewMerger(DefaultMergerConfig(), nil, nil)
	items := m.Merge([]CandidateList{
		{Backend: types.BackendDense, Candidates: []types.Candidate{
			candAt("n1", 0.9, "first", 0, 10),
			candAt("n1", 0.8, "second", 20, 30),
		}},
		{Backend: types.BackendGraph, Candidates: []types.Candidate{
			cand("n2", 0.7, "graph edge"),
			candAt("n1", 0.6, "third", 40, 50),
		}},
	}, 10)

	require.Len(t, items, 4)
	ids := make([]string, len(items))
	for i, it := range items {
		ids[i] = it.CitationID
	}
	assert.Equal(t, []string{"n1_0", "n1_1", "n2_0", "n1_2"}, ids)
	assert.Equal(t, types.BackendGraph, items[2].Backend)
}

func TestMerger_DeduplicatesOverlappingOffsets(t *testing.T) {
	t.Parallel()

	m := NewMerger(DefaultMergerConfig(), nil, nil)
	items := m.Merge([]CandidateList{
		{Backend: types.BackendDense, Candidates: []types.Candidate{candAt("n1", 0.9, "Alpha beta gamma", 0, 100)}},
		{Backend: types.BackendGraph, Candidates: []types.Candidate{
			candAt("n1", 0.8, "beta gamma", 40, 120),  // 60/100 重叠
			candAt("n1", 0.7, "delta", 90, 200),       // 10/100 重叠
			candAt("n2", 0.6, "Alpha beta gamma", 0, 100),
		}},
	}, 10)

	require.Len(t, items, 3)
	assert.Equal(t, "n1", items[0].DocumentID)
	assert.Equal(t, 0, *items[0].Start)
	assert.Equal(t, 90, *items[1].Start)
	assert.Equal(t, "n2", items[2].DocumentID)
}

func TestMerger_DeduplicatesByTextAffix(t *testing.T) {
	t.Parallel()

	m := NewMerger(DefaultMergerConfig(), nil, nil)
	items := m.Merge([]CandidateList{
		{Backend: types.BackendDense, Candidates: []types.Candidate{cand("n1", 0.9, "The quick brown fox jumps")}},
		{Backend: types.BackendSummary, Candidates: []types.Candidate{
			cand("n1", 0.8, "the quick brown"),
			cand("n1", 0.7, "FOX JUMPS"),
			cand("n1", 0.6, "brown fox"),
		}},
	}, 10)

	require.Len(t, items, 2)
	assert.Equal(t, "The quick brown fox jumps", items[0].Text)
	assert.Equal(t, "brown fox", items[1].Text)
}

func TestMerger_TieBreaksByBackendPriority(t *testing.T) {
	t.Parallel()

	m := NewMerger(DefaultMergerConfig(), nil, nil)
	items := m.Merge([]CandidateList{
		{Backend: types.BackendSummary, Candidates: []types.Candidate{cand("s", 0.5, "summary")}},
		{Backend: types.BackendGraph, Candidates: []types.Candidate{cand("g", 0.5, "graph")}},
		{Backend: types.BackendDense, Candidates: []types.Candidate{cand("d", 0.5, "dense")}},
	}, 10)

	require.Len(t, items, 3)
	assert.Equal(t, []types.Backend{types.BackendDense, types.BackendGraph, types.BackendSummary},
		[]types.Backend{items[0].Backend, items[1].Backend, items[2].Backend})
}

func TestMerger_NormalizesOutOfRangeScores(t *testing.T) {
	t.Parallel()

	m := NewMerger(DefaultMergerConfig(), nil, nil)
	items := m.Merge([]CandidateList{
		{Backend: types.BackendGraph, Candidates: []types.Candidate{
			cand("a", 12, "a"), cand("b", 2, "b"), cand("c", 7, "c"),
		}},
		{Backend: types.BackendDense, Candidates: []types.Candidate{cand("d", 0.8, "d")}},
	}, 10)

	require.Len(t, items, 4)
	scores := map[string]float64{}
	for _, it := range items {
		scores[it.DocumentID] = it.Score
	}
	assert.InDelta(t, 1.0, scores["a"], 1e-9)
	assert.InDelta(t, 0.0, scores["b"], 1e-9)
	assert.InDelta(t, 0.5, scores["c"], 1e-9)
	assert.InDelta(t, 0.8, scores["d"], 1e-9)
}

func TestMerger_DropsMissingDocumentAndBadOffsets(t *testing.T) {
	t.Parallel()

	bad := cand("n1", 0.9, "text")
	bad.Start = types.IntPtr(10)
	bad.End = types.IntPtr(5)
	half := cand("n2", 0.8, "half")
	half.Start = types.IntPtr(3)

	m := NewMerger(DefaultMergerConfig(), nil, nil)
	items := m.Merge([]CandidateList{{Backend: types.BackendDense, Candidates: []types.Candidate{
		cand("", 1, "orphan"), bad, half,
	}}}, 10)

	require.Len(t, items, 2)
	assert.Equal(t, "n1", items[0].DocumentID)
	assert.Nil(t, items[0].Start)
	assert.Nil(t, items[0].End)
	assert.Nil(t, items[1].Start)
}

func TestMerger_TopKAndEmpty(t *testing.T) {
	t.Parallel()

	m := NewMerger(MergerConfig{TopK: 2}, nil, nil)
	assert.NotNil(t, m.Merge(nil, 0))
	assert.Empty(t, m.Merge(nil, 0))

	items := m.Merge([]CandidateList{{Backend: types.BackendDense, Candidates: []types.Candidate{
		cand("a", 0.1, "a"), cand("b", 0.2, "b"), cand("c", 0.3, "c"),
	}}}, 0)
	require.Len(t, items, 2)
	assert.Equal(t, "c", items[0].DocumentID)
	assert.Equal(t, "b", items[1].DocumentID)
}

func TestMerger_TokenBudget(t *testing.T) {
	t.Parallel()

	long := strings.Repeat("word ", 40) // 200 字符 ≈ 50 token
	m := NewMerger(MergerConfig{TopK: 10, MaxContextTokens: 60}, types.NewEstimateTokenizer(), nil)
	items := m.Merge([]CandidateList{{Backend: types.BackendDense, Candidates: []types.Candidate{
		cand("a", 0.9, long), cand("b", 0.8, long+"x"), cand("c", 0.7, "short"),
	}}}, 0)

	require.Len(t, items, 1)
	assert.Equal(t, "a", items[0].DocumentID)

	// 第一条即使超出预算也保留
	tiny := NewMerger(MergerConfig{TopK: 10, MaxContextTokens: 1}, types.NewEstimateTokenizer(), nil)
	items = tiny.Merge([]CandidateList{{Candidates: []types.Candidate{cand("a", 0.9, long)}}}, 0)
	assert.Len(t, items, 1)
}

func TestMerger_MergeCandidatesUsesCandidateBackend(t *testing.T) {
	t.Parallel()

	g := cand("g", 0.4, "g")
	g.Backend = types.BackendGraph
	items := NewMerger(DefaultMergerConfig(), nil, nil).MergeCandidates([][]types.Candidate{{g}}, 5)
	require.Len(t, items, 1)
	assert.Equal(t, types.BackendGraph, items[0].Backend)
}

func TestOverlapRatio(t *testing.T) {
	t.Parallel()

	assert.InDelta(t, 1.0, overlapRatio(0, 10, 2, 8), 1e-9)
	assert.InDelta(t, 0.5, overlapRatio(0, 10, 5, 15), 1e-9)
	assert.Equal(t, 0.0, overlapRatio(0, 10, 10, 20))
	assert.Equal(t, 0.0, overlapRatio(0, 10, 20, 30))
	// 短候选落在长保留区间内，按保留区间计只有 1%
	assert.InDelta(t, 0.01, overlapRatio(100, 110, 0, 1000), 1e-9)
	assert.InDelta(t, 1.0, overlapRatio(0, 1000, 100, 110), 1e-9)
}

func TestMerger_ShortCandidateInsideLongKeptRangeIsKept(t *testing.T) {
	t.Parallel()

	m := NewMerger(DefaultMergerConfig(), nil, nil)
	items := m.Merge([]CandidateList{
		{Backend: types.BackendDense, Candidates: []types.Candidate{
			candAt("n1", 0.9, "whole chapter", 0, 1000),
			candAt("n1", 0.8, "one line", 100, 110),
		}},
	}, 10)

	require.Len(t, items, 2)
	assert.Equal(t, 0, *items[0].Start)
	assert.Equal(t, 100, *items[1].Start)
}

func genCandidateLists(t *rapid.T) []CandidateList {
	backends := []types.Backend{types.BackendDense, types.BackendGraph, types.BackendSummary}
	n := rapid.IntRange(0, 3).Draw(t, "lists")
	lists := make([]CandidateList, n)
	for i := range lists {
		lists[i].Backend = backends[i]
		m := rapid.IntRange(0, 8).Draw(t, fmt.Sprintf("cands%d", i))
		for j := 0; j < m; j++ {
			c := types.Candidate{
				DocumentID: rapid.SampledFrom([]string{"a", "b", "c", ""}).Draw(t, "doc"),
				Text:       rapid.StringMatching(`[a-z ]{1,20}`).Draw(t, "text"),
				Score:      rapid.Float64Range(-5, 5).Draw(t, "score"),
			}
			if rapid.Bool().Draw(t, "offsets") {
				start := rapid.IntRange(0, 100).Draw(t, "start")
				c.Start = types.IntPtr(start)
				c.End = types.IntPtr(start + rapid.IntRange(1, 50).Draw(t, "len"))
			}
			lists[i].Candidates = append(lists[i].Candidates, c)
		}
	}
	return lists
}

func TestProperty_MergeInvariants(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		lists := genCandidateLists(t)
		topK := rapid.IntRange(1, 12).Draw(t, "topK")

		items := NewMerger(DefaultMergerConfig(), nil, nil).Merge(lists, topK)

		if items == nil {
			t.Fatal("merge returned nil")
		}
		if len(items) > topK {
			t.Fatalf("len %d exceeds topK %d", len(items), topK)
		}
		seen := make(map[string]bool)
		for i, it := range items {
			if seen[it.CitationID] {
				t.Fatalf("duplicate citation id %s", it.CitationID)
			}
			seen[it.CitationID] = true
			if it.DocumentID == "" {
				t.Fatal("item without document id")
			}
			if it.Score < 0 || it.Score > 1 {
				t.Fatalf("score %f out of [0,1]", it.Score)
			}
			if i > 0 && items[i-1].Score < it.Score {
				t.Fatalf("items not sorted by score at %d", i)
			}
			if !strings.HasPrefix(it.CitationID, it.DocumentID+"_") {
				t.Fatalf("citation id %s does not belong to %s", it.CitationID, it.DocumentID)
			}
		}
	})
}

func TestProperty_MergeIsDeterministic(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		lists := genCandidateLists(t)
		m := NewMerger(DefaultMergerConfig(), nil, nil)
		a := m.Merge(lists, 10)
		b := m.Merge(lists, 10)
		if len(a) != len(b) {
			t.Fatalf("lengths differ: %d vs %d", len(a), len(b))
		}
		for i := range a {
			if a[i].CitationID != b[i].CitationID {
				t.Fatalf("order differs at %d", i)
			}
		}
	})
}
