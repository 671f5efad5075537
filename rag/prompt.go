package rag

import (
	"fmt"
	"strings"

	"github.com/BaSui01/groundrag/types"
)

// UntitledSource 无标题来源的显示名
const UntitledSource = "Untitled"

// FormatContext renders items as numbered excerpt blocks for the generation
// prompt. Each block names the citation id the model must cite.
func FormatContext(items []types.ContextItem) string {
	blocks := make([]string, 0, len(items))
	for i, item := range items {
		n := i + 1
		title := item.DocumentTitle
		if title == "" {
			title = UntitledSource
		}

		var b strings.Builder
		fmt.Fprintf(&b, "--- Excerpt #%d ---\n", n)
		fmt.Fprintf(&b, "Citation ID: %s\n", item.CitationID)
		b.WriteString("Source: " + title)
		if len(item.HeadingTrail) > 0 {
			b.WriteString(" > " + strings.Join(item.HeadingTrail, " > "))
		}
		fmt.Fprintf(&b, "\nType: %s\n", item.Backend)
		fmt.Fprintf(&b, "\n%s\n", item.Text)
		fmt.Fprintf(&b, "--- End Excerpt #%d ---", n)
		blocks = append(blocks, b.String())
	}
	return strings.Join(blocks, "\n\n")
}

const groundedSystemPrompt = `You answer questions using only the %d excerpts below.
Cite every statement that relies on an excerpt by writing [citation:ID] right after it,
where ID is the excerpt's Citation ID. Do not invent citation IDs.
If the excerpts do not contain the answer, say so.

%s`

const noContextSystemPrompt = `No relevant excerpts were found for this question.
Tell the user that their documents do not appear to cover it, and do not add citations.`

// SystemPrompt returns the system message for the generation step.
func SystemPrompt(items []types.ContextItem) string {
	if len(items) == 0 {
		return noContextSystemPrompt
	}
	return fmt.Sprintf(groundedSystemPrompt, len(items), FormatContext(items))
}

// BuildMessages prepends the grounded system message to history, dropping
// any system messages already present.
func BuildMessages(history []types.Message, items []types.ContextItem) []types.Message {
	out := make([]types.Message, 0, len(history)+1)
	out = append(out, types.NewMessage(types.RoleSystem, SystemPrompt(items)))
	for _, m := range history {
		if m.Role == types.RoleSystem {
			continue
		}
		out = append(out, m)
	}
	return out
}
