package session

import (
	"context"
	"fmt"
	"strings"

	"github.com/thebtf/contextd/pkg/models"
)

// summaryContentLimit truncates each turn fed to the summarizer prompt.
const summaryContentLimit = 300

// Generator is the text-generation dependency for runtime summarization.
type Generator interface {
	Generate(ctx context.Context, model, prompt string, jsonFormat bool) (string, error)
}

// RuntimeSummarizer condenses dropped history through the local runtime.
type RuntimeSummarizer struct {
	gen   Generator
	model string
}

// NewRuntimeSummarizer creates a summarizer using the given model.
func NewRuntimeSummarizer(gen Generator, model string) *RuntimeSummarizer {
	return &RuntimeSummarizer{gen: gen, model: model}
}

// Summarize produces a short plain-text summary of the turns.
func (s *RuntimeSummarizer) Summarize(ctx context.Context, turns []models.Turn) (string, error) {
	if len(turns) == 0 {
		return "", nil
	}

	var b strings.Builder
	b.WriteString("Summarize the following conversation excerpt in at most three sentences. Keep names, decisions, and open tasks. Reply with the summary only.\n\n")
	for _, turn := range turns {
		content := strings.TrimSpace(turn.Content)
		if len(content) > summaryContentLimit {
			content = content[:summaryContentLimit] + "..."
		}
		fmt.Fprintf(&b, "%s: %s\n", turn.Role, content)
	}

	reply, err := s.gen.Generate(ctx, s.model, b.String(), false)
	if err != nil {
		return "", fmt.Errorf("summarize history: %w", err)
	}
	return strings.TrimSpace(reply), nil
}
