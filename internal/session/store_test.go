package session

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/thebtf/contextd/pkg/models"
)

func userTurn(content string) models.Turn {
	return models.Turn{Role: models.RoleUser, Content: content}
}

func TestHeuristicEstimator(t *testing.T) {
	e := HeuristicEstimator{}

	assert.Equal(t, 0, e.EstimateTokens(""))
	assert.Equal(t, 1, e.EstimateTokens("ab"))
	assert.Equal(t, 1, e.EstimateTokens("abcd"))
	assert.Equal(t, 2, e.EstimateTokens("abcde"))
	assert.Equal(t, 25, e.EstimateTokens(strings.Repeat("x", 100)))
}

func TestNewEstimator(t *testing.T) {
	e, err := NewEstimator("")
	require.NoError(t, err)
	assert.IsType(t, HeuristicEstimator{}, e)

	e, err = NewEstimator("heuristic")
	require.NoError(t, err)
	assert.IsType(t, HeuristicEstimator{}, e)

	_, err = NewEstimator("nope")
	assert.Error(t, err)
}

func TestAppendAndRecent(t *testing.T) {
	s := NewStore(nil, nil)

	s.Append("sess", userTurn("first"))
	s.Append("sess", userTurn("second"))
	s.Append("sess", userTurn("third"))

	recent := s.Recent("sess", 2)
	require.Len(t, recent, 2)
	assert.Equal(t, "second", recent[0].Content)
	assert.Equal(t, "third", recent[1].Content)

	// The last append is always the last element of a later read.
	all := s.Recent("sess", 10)
	assert.Equal(t, "third", all[len(all)-1].Content)
}

func TestAppendFillsEstimateAndTimestamp(t *testing.T) {
	s := NewStore(nil, nil)
	s.Append("sess", userTurn("abcdefgh"))

	turns := s.Recent("sess", 1)
	require.Len(t, turns, 1)
	assert.Equal(t, 2, turns[0].TokenEstimate)
	assert.False(t, turns[0].Timestamp.IsZero())
}

func TestSessionsAreIndependent(t *testing.T) {
	s := NewStore(nil, nil)
	s.Append("a", userTurn("for a"))
	s.Append("b", userTurn("for b"))

	assert.Len(t, s.Recent("a", 10), 1)
	assert.Len(t, s.Recent("b", 10), 1)
	assert.Empty(t, s.Recent("c", 10))
}

func TestWindowMessageBudget(t *testing.T) {
	s := NewStore(nil, nil)
	for _, c := range []string{"one", "two", "three", "four"} {
		s.Append("sess", userTurn(c))
	}

	window := s.Window("sess", 2, 1000)
	require.Len(t, window, 2)
	assert.Equal(t, "three", window[0].Content)
	assert.Equal(t, "four", window[1].Content)
}

func TestWindowTokenBudgetDropsOldestFirst(t *testing.T) {
	s := NewStore(nil, nil)
	// 10 tokens each (40 chars).
	for range 4 {
		s.Append("sess", userTurn(strings.Repeat("x", 40)))
	}

	window := s.Window("sess", 10, 25)
	assert.Len(t, window, 2, "only two 10-token turns fit a 25-token budget")
}

func TestWindowZeroBudgets(t *testing.T) {
	s := NewStore(nil, nil)
	s.Append("sess", userTurn("hello"))

	assert.Empty(t, s.Window("sess", 0, 100))
	assert.Empty(t, s.Window("sess", 5, 0))
}

func TestWindowDoesNotMutateHistory(t *testing.T) {
	s := NewStore(nil, nil)
	for _, c := range []string{"one", "two", "three"} {
		s.Append("sess", userTurn(c))
	}

	_ = s.Window("sess", 1, 1000)

	all := s.Recent("sess", 10)
	assert.Len(t, all, 3, "window is a view, the underlying sequence stays intact")
}

// fakeSummarizer returns a fixed summary or error.
type fakeSummarizer struct {
	summary string
	err     error
	calls   int
	seen    []models.Turn
}

func (f *fakeSummarizer) Summarize(_ context.Context, turns []models.Turn) (string, error) {
	f.calls++
	f.seen = turns
	if f.err != nil {
		return "", f.err
	}
	return f.summary, nil
}

func TestWindowCompressedSynthesizesSystemTurn(t *testing.T) {
	sum := &fakeSummarizer{summary: "they discussed routing"}
	s := NewStore(nil, sum)
	for _, c := range []string{"one", "two", "three", "four"} {
		s.Append("sess", userTurn(c))
	}

	window := s.WindowCompressed(context.Background(), "sess", 2, 1000)
	require.Len(t, window, 3)
	assert.Equal(t, models.RoleSystem, window[0].Role)
	assert.Contains(t, window[0].Content, "they discussed routing")
	assert.Equal(t, "three", window[1].Content)
	assert.Equal(t, "four", window[2].Content)

	// The summarizer saw exactly the dropped prefix.
	require.Len(t, sum.seen, 2)
	assert.Equal(t, "one", sum.seen[0].Content)
}

func TestWindowCompressedFallsBackOnError(t *testing.T) {
	sum := &fakeSummarizer{err: assert.AnError}
	s := NewStore(nil, sum)
	for _, c := range []string{"one", "two", "three"} {
		s.Append("sess", userTurn(c))
	}

	window := s.WindowCompressed(context.Background(), "sess", 2, 1000)
	require.Len(t, window, 2)
	assert.Equal(t, "two", window[0].Content)
}

func TestWindowCompressedNoDropNoSummary(t *testing.T) {
	sum := &fakeSummarizer{summary: "unused"}
	s := NewStore(nil, sum)
	s.Append("sess", userTurn("only"))

	window := s.WindowCompressed(context.Background(), "sess", 5, 1000)
	require.Len(t, window, 1)
	assert.Zero(t, sum.calls)
}

func TestStats(t *testing.T) {
	s := NewStore(nil, nil)
	s.Append("a", userTurn("1"))
	s.Append("a", userTurn("2"))
	s.Append("b", userTurn("3"))

	stats := s.Stats()
	assert.Equal(t, 2, stats["sessions"])
	assert.Equal(t, 3, stats["total_turns"])
}
