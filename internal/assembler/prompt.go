package assembler

import (
	"fmt"
	"strings"
	"time"

	"github.com/thebtf/contextd/pkg/models"
)

// BuildPrompt renders the final message list: one system message holding
// the retrieval blocks (when any chunks survived shaping), then the
// short-term history, then the user's message last. Blocks appear in the
// fixed source order; within a block, chunks keep their score-descending
// order from search.
func BuildPrompt(chunks []models.RetrievedChunk, history []models.Turn, message string) []models.PromptMessage {
	prompt := make([]models.PromptMessage, 0, len(history)+2)

	if block := renderContext(chunks); block != "" {
		prompt = append(prompt, models.PromptMessage{
			Role:    models.RoleSystem,
			Content: block,
		})
	}

	for _, turn := range history {
		prompt = append(prompt, models.PromptMessage{
			Role:    turn.Role,
			Content: turn.Content,
		})
	}

	return append(prompt, models.PromptMessage{
		Role:    models.RoleUser,
		Content: message,
	})
}

// renderContext formats retrieved chunks as per-source sections.
func renderContext(chunks []models.RetrievedChunk) string {
	if len(chunks) == 0 {
		return ""
	}

	var b strings.Builder
	b.WriteString("Relevant context retrieved for this conversation:\n")
	for _, source := range models.SourceOrder {
		wroteHeader := false
		for _, c := range chunks {
			if c.Source != source {
				continue
			}
			if !wroteHeader {
				fmt.Fprintf(&b, "\n### From %s\n", source)
				wroteHeader = true
			}
			fmt.Fprintf(&b, "- [%s] %s\n", renderMeta(c), strings.TrimSpace(c.Text))
		}
	}
	return strings.TrimRight(b.String(), "\n")
}

// renderMeta produces the provenance tag for one chunk: file and line
// range for memory, timestamp range for conversational sources.
func renderMeta(c models.RetrievedChunk) string {
	if c.Meta.File != "" {
		return fmt.Sprintf("%s:%d-%d", c.Meta.File, c.Meta.StartLine, c.Meta.EndLine)
	}
	if c.Meta.StartTS > 0 {
		return fmt.Sprintf("%s to %s",
			time.Unix(c.Meta.StartTS, 0).UTC().Format("2006-01-02 15:04"),
			time.Unix(c.Meta.EndTS, 0).UTC().Format("2006-01-02 15:04"))
	}
	return string(c.Source)
}
