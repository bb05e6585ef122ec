package worker

import (
	"net/http"
	"time"

	"github.com/goccy/go-json"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/thebtf/contextd/internal/assembler"
	"github.com/thebtf/contextd/pkg/models"
)

// writeJSON writes a JSON response.
func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		log.Error().Err(err).Msg("Failed to encode JSON response")
	}
}

// writeError writes a JSON error response.
func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// AssembleRequest is the body of POST /api/context/assemble.
type AssembleRequest struct {
	Message   string `json:"message"`
	SessionID string `json:"sessionId"`

	// Optional per-call overrides; absent fields keep configured defaults.
	TopK        *int     `json:"topK,omitempty"`
	MinScore    *float64 `json:"minScore,omitempty"`
	Sources     []string `json:"sources,omitempty"`
	MaxMessages *int     `json:"maxMessages,omitempty"`
}

// handleAssemble runs the enrichment pipeline for one message. A missing
// session ID starts a new session.
func (s *Service) handleAssemble(w http.ResponseWriter, r *http.Request) {
	var req AssembleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if req.Message == "" {
		writeError(w, http.StatusBadRequest, "message is required")
		return
	}

	sessionID := req.SessionID
	if sessionID == "" {
		sessionID = uuid.NewString()
	}

	var ov *assembler.Overrides
	if req.TopK != nil || req.MinScore != nil || len(req.Sources) > 0 || req.MaxMessages != nil {
		sources := make([]models.Source, 0, len(req.Sources))
		for _, n := range req.Sources {
			src := models.Source(n)
			if !models.ValidSource(src) {
				writeError(w, http.StatusBadRequest, "unknown source "+n)
				return
			}
			sources = append(sources, src)
		}
		ov = &assembler.Overrides{
			TopK:        req.TopK,
			MinScore:    req.MinScore,
			Sources:     sources,
			MaxMessages: req.MaxMessages,
		}
	}

	result := s.assembler.Assemble(r.Context(), req.Message, sessionID, ov)
	writeJSON(w, http.StatusOK, result)
}

// handleStats reports pipeline, cache, index, and session counters.
func (s *Service) handleStats(w http.ResponseWriter, r *http.Request) {
	hits, misses, size := s.cache.Stats()

	writeJSON(w, http.StatusOK, map[string]any{
		"uptime_seconds": int64(time.Since(s.startTime).Seconds()),
		"pipeline":       s.assembler.Stats().Snapshot(),
		"cache": map[string]any{
			"hits":   hits,
			"misses": misses,
			"size":   size,
		},
		"index": map[string]any{
			"chunks":    s.index.Size(),
			"loaded_at": s.index.LoadedAt(),
		},
		"sessions": s.sessions.Stats(),
	})
}

// handleIndexInvalidate marks the vector index stale. The reload happens
// lazily on the next search.
func (s *Service) handleIndexInvalidate(w http.ResponseWriter, r *http.Request) {
	s.corpus.Invalidate()
	s.index.Invalidate()
	writeJSON(w, http.StatusOK, map[string]string{"status": "invalidated"})
}

// handleCacheInvalidate drops all embedding cache entries.
func (s *Service) handleCacheInvalidate(w http.ResponseWriter, r *http.Request) {
	s.cache.Invalidate()
	writeJSON(w, http.StatusOK, map[string]string{"status": "invalidated"})
}

// handleHealth reports liveness plus runtime connectivity.
func (s *Service) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":          "ok",
		"version":         s.version,
		"enabled":         s.cfg.Enabled,
		"runtime_healthy": s.runtime.Healthy(),
	})
}
