package models

// Route is a member of the closed set of downstream model targets.
type Route string

const (
	RouteClaudeHaiku  Route = "claude_haiku"
	RouteClaudeSonnet Route = "claude_sonnet"
	RouteClaudeOpus   Route = "claude_opus"
	RouteLocalQwen    Route = "local_qwen"

	// RouteFallback is the reserved fallback member. It never appears in
	// classifier output; shaping treats it as the catch-all row.
	RouteFallback Route = "fallback"
)

// Priority is the urgency assigned to a routed message.
type Priority string

const (
	PriorityHigh   Priority = "high"
	PriorityMedium Priority = "medium"
	PriorityLow    Priority = "low"
)

// ParseRoute validates a raw route string against the closed enum.
func ParseRoute(s string) (Route, bool) {
	switch Route(s) {
	case RouteClaudeHaiku, RouteClaudeSonnet, RouteClaudeOpus, RouteLocalQwen:
		return Route(s), true
	}
	return "", false
}

// ParsePriority validates a raw priority string against the closed enum.
func ParsePriority(s string) (Priority, bool) {
	switch Priority(s) {
	case PriorityHigh, PriorityMedium, PriorityLow:
		return Priority(s), true
	}
	return "", false
}

// RouteDecision is the classifier's verdict for a message.
type RouteDecision struct {
	Route    Route    `json:"route"`
	Reason   string   `json:"reason"`
	Priority Priority `json:"priority"`
}
