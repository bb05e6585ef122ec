package assembler

import (
	"regexp"
	"strings"
)

// shortMessageLimit is the length at or under which a message with no
// imperative verb is skipped.
const shortMessageLimit = 15

// skipPatterns short-circuit the pipeline regardless of length: common
// acknowledgments, heartbeats, injected system lines, and media stubs.
// All match the whole trimmed message, case-insensitively.
var skipPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)^(ok|okay|yes|no|sure|thanks|thank you|ty|k|got it|done|np|yep|nope|lol|haha)[.!]*$`),
	regexp.MustCompile(`(?i)^heartbeat\b`),
	regexp.MustCompile(`(?i)^system:`),
	regexp.MustCompile(`(?i)^\[media attached:.*\]$`),
}

// verbPattern matches the imperative verb lexicon, word-bounded.
// A short message containing one of these is real work, not chatter.
var verbPattern = regexp.MustCompile(`(?i)\b(fix|run|show|find|search|list|get|set|add|remove|delete|update|create|explain|describe)\b`)

// ShouldSkip decides whether a message bypasses enrichment entirely.
// It is a pure function of the text: a pattern match skips at any length
// (pattern dominates), and otherwise only short messages without an
// imperative verb are skipped.
func ShouldSkip(text string) bool {
	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return true
	}

	for _, p := range skipPatterns {
		if p.MatchString(trimmed) {
			return true
		}
	}

	return len(trimmed) <= shortMessageLimit && !verbPattern.MatchString(trimmed)
}
