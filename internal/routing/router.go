// Package routing classifies incoming messages onto downstream model routes.
package routing

import (
	"context"
	"fmt"
	"strings"

	"github.com/goccy/go-json"
	"github.com/rs/zerolog/log"

	"github.com/thebtf/contextd/pkg/models"
)

const (
	// historyTurns is how many trailing turns the routing prompt includes.
	historyTurns = 2

	// historyContentLimit truncates each included turn's content.
	historyContentLimit = 200
)

// routingRubric is the fixed classification instruction. The route names
// here and the models.Route enum are kept in sync by TestRubricNamesRoutes.
const routingRubric = `You are a message router for a local AI assistant. Classify the user message into exactly one route:

- "local_qwen": trivial lookups, short factual questions, anything a small local model handles well
- "claude_haiku": quick edits, simple rewording, low-stakes replies
- "claude_sonnet": general coding and writing tasks of moderate complexity
- "claude_opus": deep analysis, multi-step reasoning, architecture or debugging across files

Also assign a priority: "high" for time-sensitive or blocking work, "medium" for normal requests, "low" for chatter.

Reply with a single JSON object: {"route": "...", "reason": "...", "priority": "..."}`

// Generator is the text-generation dependency (the runtime client).
type Generator interface {
	Generate(ctx context.Context, model, prompt string, jsonFormat bool) (string, error)
}

// Config holds router parameters.
type Config struct {
	Model    string
	Fallback models.Route
}

// Router classifies a message by asking the runtime for a JSON verdict.
// Classification never returns an error: any failure degrades to the
// configured fallback decision, because the router sits on the latency
// path and must not block enrichment.
type Router struct {
	gen      Generator
	model    string
	fallback models.Route
}

// NewRouter creates a router. An empty fallback defaults to claude_sonnet.
func NewRouter(gen Generator, cfg Config) *Router {
	fallback := cfg.Fallback
	if fallback == "" {
		fallback = models.RouteClaudeSonnet
	}
	return &Router{gen: gen, model: cfg.Model, fallback: fallback}
}

// Fallback returns the route used when classification cannot decide.
func (r *Router) Fallback() models.Route {
	return r.fallback
}

// Classify routes the message given the most recent history. Invalid or
// missing fields in the reply are clamped to the defaults; transport and
// parse failures yield the fallback decision with the failure as reason.
func (r *Router) Classify(ctx context.Context, message string, recent []models.Turn) models.RouteDecision {
	prompt := r.buildPrompt(message, recent)

	reply, err := r.gen.Generate(ctx, r.model, prompt, true)
	if err != nil {
		log.Warn().Err(err).Msg("Route classification failed")
		return r.defaultDecision(fmt.Sprintf("classification failed: %v", err))
	}

	obj, ok := extractJSONObject(reply)
	if !ok {
		log.Warn().Str("reply", truncate(reply, 120)).Msg("No JSON object in classifier reply")
		return r.defaultDecision("classification failed: no JSON object in reply")
	}

	var raw struct {
		Route    string `json:"route"`
		Reason   string `json:"reason"`
		Priority string `json:"priority"`
	}
	if err := json.Unmarshal([]byte(obj), &raw); err != nil {
		return r.defaultDecision(fmt.Sprintf("classification failed: %v", err))
	}

	decision := models.RouteDecision{Reason: raw.Reason}

	if route, ok := models.ParseRoute(raw.Route); ok {
		decision.Route = route
	} else {
		decision.Route = r.fallback
		if raw.Route != "" {
			decision.Reason = fmt.Sprintf("unknown route %q clamped to default; %s", raw.Route, raw.Reason)
		}
	}

	if prio, ok := models.ParsePriority(raw.Priority); ok {
		decision.Priority = prio
	} else {
		decision.Priority = models.PriorityMedium
	}

	return decision
}

func (r *Router) defaultDecision(reason string) models.RouteDecision {
	return models.RouteDecision{
		Route:    r.fallback,
		Reason:   reason,
		Priority: models.PriorityMedium,
	}
}

// buildPrompt renders the rubric, up to the last two turns, and the
// current message with embedded double quotes escaped.
func (r *Router) buildPrompt(message string, recent []models.Turn) string {
	var b strings.Builder
	b.WriteString(routingRubric)
	b.WriteString("\n\n")

	if len(recent) > historyTurns {
		recent = recent[len(recent)-historyTurns:]
	}
	if len(recent) > 0 {
		b.WriteString("Recent conversation:\n")
		for _, turn := range recent {
			fmt.Fprintf(&b, "%s: %s\n", turn.Role, truncate(turn.Content, historyContentLimit))
		}
		b.WriteString("\n")
	}

	fmt.Fprintf(&b, "User message: \"%s\"", strings.ReplaceAll(message, `"`, `\"`))
	return b.String()
}

// extractJSONObject returns the first balanced JSON object in s. It
// tracks string literals and escapes so braces inside values don't
// unbalance the scan.
func extractJSONObject(s string) (string, bool) {
	start := strings.IndexByte(s, '{')
	if start < 0 {
		return "", false
	}

	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(s); i++ {
		c := s[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			continue
		}
		switch c {
		case '"':
			inString = true
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return s[start : i+1], true
			}
		}
	}
	return "", false
}

func truncate(s string, maxLen int) string {
	s = strings.TrimSpace(s)
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen] + "..."
}
