package types

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseIntent(t *testing.T) {
	t.Parallel()

	tests := []struct {
		in   string
		want Intent
		ok   bool
	}{
		{"factual", IntentFactual, true},
		{" RELATIONAL ", IntentRelational, true},
		{"Summary", IntentSummary, true},
		{"mixed", IntentMixed, true},
		{"chitchat", "", false},
		{"", "", false},
	}
	for _, tt := range tests {
		got, ok := ParseIntent(tt.in)
		assert.Equal(t, tt.want, got, tt.in)
		assert.Equal(t, tt.ok, ok, tt.in)
	}
	assert.True(t, IntentMixed.Valid())
	assert.False(t, Intent("other").Valid())
}

func TestBackend_Priority(t *testing.T) {
	t.Parallel()

	assert.Less(t, BackendDense.Priority(), BackendGraph.Priority())
	assert.Less(t, BackendGraph.Priority(), BackendSummary.Priority())
	assert.Less(t, BackendSummary.Priority(), Backend("web").Priority())
}

func TestCandidate_Validate(t *testing.T) {
	t.Parallel()

	ok := Candidate{DocumentID: "d1", Text: "x", Start: IntPtr(0), End: IntPtr(5)}
	require.NoError(t, ok.Validate())

	noOffsets := Candidate{DocumentID: "d1", Text: "x"}
	require.NoError(t, noOffsets.Validate())
	assert.False(t, noOffsets.HasOffsets())

	tests := []struct {
		name string
		c    Candidate
	}{
		{"missing document", Candidate{Text: "x"}},
		{"half offsets", Candidate{DocumentID: "d", Start: IntPtr(1)}},
		{"reversed offsets", Candidate{DocumentID: "d", Start: IntPtr(5), End: IntPtr(5)}},
		{"negative start", Candidate{DocumentID: "d", Start: IntPtr(-1), End: IntPtr(2)}},
	}
	for _, tt := range tests {
		err := tt.c.Validate()
		require.Error(t, err, tt.name)
		assert.Equal(t, ErrInvalidRequest, GetErrorCode(err), tt.name)
	}
}

func TestContextItem_JSONFieldNames(t *testing.T) {
	t.Parallel()

	item := ContextItem{
		CitationID:    "n1_0",
		DocumentID:    "n1",
		DocumentTitle: "Notes",
		Text:          "hello",
		Start:         IntPtr(3),
		End:           IntPtr(8),
		Score:         0.5,
		Backend:       BackendDense,
	}
	data, err := json.Marshal(item)
	require.NoError(t, err)

	var raw map[string]any
	require.NoError(t, json.Unmarshal(data, &raw))
	for _, key := range []string{"citation_id", "document_id", "document_title", "start_char_idx", "end_char_idx", "relevance_score", "source_type"} {
		assert.Contains(t, raw, key)
	}
}

func TestLastUserMessages(t *testing.T) {
	t.Parallel()

	history := []Message{
		NewUserMessage("first"),
		NewAssistantMessage("reply"),
		NewUserMessage("second"),
	}
	got := LastUserMessages(history, 2)
	require.Len(t, got, 2)
	assert.Equal(t, "second", got[0].Content)
	assert.Equal(t, "first", got[1].Content)
	assert.Nil(t, LastUserMessages(history, 0))
}

func TestQuery_SearchText(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "direct", Query{Text: " direct ", Topic: "t"}.SearchText())
	assert.Equal(t, "from history", Query{
		History: []Message{NewUserMessage("from history"), NewAssistantMessage("answer")},
		Topic:   "t",
	}.SearchText())
	assert.Equal(t, "topic", Query{Topic: "topic"}.SearchText())
	assert.Equal(t, "", Query{}.SearchText())
}
