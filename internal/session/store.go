// Package session provides the per-session conversation history store.
package session

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/thebtf/contextd/pkg/models"
)

// Summarizer condenses a dropped history prefix into one system turn.
// Optional: a nil summarizer means plain truncation.
type Summarizer interface {
	Summarize(ctx context.Context, turns []models.Turn) (string, error)
}

// state is one session's append-only turn sequence.
type state struct {
	mu    sync.Mutex
	turns []models.Turn
}

// Store holds per-session histories. Sessions are process-local, created
// on first append and never explicitly destroyed; each session is a
// logically independent stream with its own append lock. Cross-session
// operations hold no locks beyond the registry map.
type Store struct {
	estimator  Estimator
	summarizer Summarizer
	sessions   map[string]*state
	mu         sync.RWMutex
}

// NewStore creates a session store. A nil estimator defaults to the
// chars/4 heuristic.
func NewStore(estimator Estimator, summarizer Summarizer) *Store {
	if estimator == nil {
		estimator = HeuristicEstimator{}
	}
	return &Store{
		estimator:  estimator,
		summarizer: summarizer,
		sessions:   make(map[string]*state),
	}
}

// session returns the state for id, creating it if needed.
func (s *Store) session(id string) *state {
	s.mu.RLock()
	st, ok := s.sessions[id]
	s.mu.RUnlock()
	if ok {
		return st
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if st, ok = s.sessions[id]; ok {
		return st
	}
	st = &state{}
	s.sessions[id] = st
	return st
}

// Append appends a turn to the session, filling in the timestamp and
// token estimate when absent. Appends within a session happen-before
// later reads of that session.
func (s *Store) Append(sessionID string, turn models.Turn) {
	if turn.Timestamp.IsZero() {
		turn.Timestamp = time.Now()
	}
	if turn.TokenEstimate == 0 {
		turn.TokenEstimate = s.estimator.EstimateTokens(turn.Content)
	}

	st := s.session(sessionID)
	st.mu.Lock()
	st.turns = append(st.turns, turn)
	st.mu.Unlock()
}

// Recent returns a copy of the last n turns (the contiguous tail).
func (s *Store) Recent(sessionID string, n int) []models.Turn {
	if n <= 0 {
		return nil
	}

	st := s.session(sessionID)
	st.mu.Lock()
	defer st.mu.Unlock()

	start := len(st.turns) - n
	if start < 0 {
		start = 0
	}
	tail := make([]models.Turn, len(st.turns)-start)
	copy(tail, st.turns[start:])
	return tail
}

// Window returns the most recent turns holding both budgets: at most
// maxMessages turns whose summed token estimates stay within maxTokens.
// Oldest turns are dropped first. The result is a new view; the stored
// sequence is never mutated.
func (s *Store) Window(sessionID string, maxMessages, maxTokens int) []models.Turn {
	window, _ := s.windowWithDropped(sessionID, maxMessages, maxTokens)
	return window
}

// WindowCompressed is Window plus optional history compression: when a
// summarizer is configured and turns were dropped, the dropped prefix is
// replaced by a single synthesized system turn. Any summarization error
// falls back to the plain truncated window.
func (s *Store) WindowCompressed(ctx context.Context, sessionID string, maxMessages, maxTokens int) []models.Turn {
	window, dropped := s.windowWithDropped(sessionID, maxMessages, maxTokens)
	if s.summarizer == nil || len(dropped) == 0 {
		return window
	}

	summary, err := s.summarizer.Summarize(ctx, dropped)
	if err != nil || summary == "" {
		if err != nil {
			log.Warn().Err(err).Str("sessionId", sessionID).Msg("History compression failed, truncating")
		}
		return window
	}

	compressed := make([]models.Turn, 0, len(window)+1)
	compressed = append(compressed, models.Turn{
		Role:          models.RoleSystem,
		Content:       "Earlier conversation summary: " + summary,
		Timestamp:     time.Now(),
		TokenEstimate: s.estimator.EstimateTokens(summary),
	})
	compressed = append(compressed, window...)
	return compressed
}

// windowWithDropped computes the budgeted tail and the dropped prefix.
func (s *Store) windowWithDropped(sessionID string, maxMessages, maxTokens int) (window, dropped []models.Turn) {
	if maxMessages <= 0 || maxTokens <= 0 {
		return nil, nil
	}

	st := s.session(sessionID)
	st.mu.Lock()
	turns := make([]models.Turn, len(st.turns))
	copy(turns, st.turns)
	st.mu.Unlock()

	start := len(turns) - maxMessages
	if start < 0 {
		start = 0
	}

	// Walk forward dropping oldest turns until the token budget holds.
	budget := 0
	for i := len(turns) - 1; i >= start; i-- {
		budget += turns[i].TokenEstimate
	}
	for start < len(turns) && budget > maxTokens {
		budget -= turns[start].TokenEstimate
		start++
	}

	return turns[start:], turns[:start]
}

// Stats returns per-store counters.
func (s *Store) Stats() map[string]any {
	s.mu.RLock()
	defer s.mu.RUnlock()

	totalTurns := 0
	for _, st := range s.sessions {
		st.mu.Lock()
		totalTurns += len(st.turns)
		st.mu.Unlock()
	}
	return map[string]any{
		"sessions":    len(s.sessions),
		"total_turns": totalTurns,
	}
}
