package assembler

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestShouldSkipAcknowledgments(t *testing.T) {
	for _, msg := range []string{
		"ok", "OK", "Okay", "yes", "no", "sure", "thanks", "Thank you",
		"ty", "k", "got it", "done", "np", "yep", "nope", "lol", "haha",
		"ok!", "Thanks!!", "done.",
	} {
		assert.True(t, ShouldSkip(msg), "expected skip for %q", msg)
	}
}

func TestShouldSkipPatternsDominateLength(t *testing.T) {
	// Pattern matches skip regardless of how long the message is.
	assert.True(t, ShouldSkip("HEARTBEAT "+strings.Repeat("x", 100)))
	assert.True(t, ShouldSkip("System: session resumed after a long network partition"))
	assert.True(t, ShouldSkip("[media attached: vacation-photo-2026-with-a-long-name.jpg]"))
}

func TestShouldSkipShortWithoutVerb(t *testing.T) {
	assert.True(t, ShouldSkip("hmm"))
	assert.True(t, ShouldSkip("nice one"))
	assert.True(t, ShouldSkip("  ok then  "))
	assert.True(t, ShouldSkip(""))
	assert.True(t, ShouldSkip("   "))
}

func TestShouldNotSkipShortImperative(t *testing.T) {
	// Short, but carries a verb from the lexicon.
	assert.False(t, ShouldSkip("fix the bug"))
	assert.False(t, ShouldSkip("run tests"))
	assert.False(t, ShouldSkip("list files"))
	assert.False(t, ShouldSkip("get logs"))
}

func TestShouldNotSkipVerbIsWordBounded(t *testing.T) {
	// "prefix" contains "fix" but not as a word; still short, so skipped.
	assert.True(t, ShouldSkip("prefix it"))
	// "runway" contains "run" but not as a word.
	assert.True(t, ShouldSkip("runway nine"))
}

func TestShouldNotSkipLongMessages(t *testing.T) {
	assert.False(t, ShouldSkip("how does the routing table work here"))
	assert.False(t, ShouldSkip(strings.Repeat("words ", 10)))
}
