// Package assembler orchestrates the enrichment pipeline: skip gate,
// parallel retrieval and routing, route-aware shaping, and prompt
// assembly.
package assembler

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/thebtf/contextd/internal/activity"
	"github.com/thebtf/contextd/internal/config"
	"github.com/thebtf/contextd/internal/embedding"
	"github.com/thebtf/contextd/internal/session"
	"github.com/thebtf/contextd/pkg/models"
)

// Searcher is the vector index dependency.
type Searcher interface {
	Search(ctx context.Context, query []float32, topK int, minScore float64, sources []models.Source) ([]models.RetrievedChunk, error)
}

// Classifier is the routing dependency.
type Classifier interface {
	Classify(ctx context.Context, message string, recent []models.Turn) models.RouteDecision
	Fallback() models.Route
}

// Overrides carries per-call parameter overrides; nil fields keep the
// configured defaults.
type Overrides struct {
	TopK        *int
	MinScore    *float64
	Sources     []models.Source
	MaxMessages *int
}

// Assembler runs the full pipeline for one message at a time. It never
// returns an error: every dependency failure degrades to a smaller but
// valid result, because a broken enrichment layer must not block the
// conversation behind it.
type Assembler struct {
	cfg      *config.Config
	embedder embedding.Embedder
	cache    *embedding.Cache
	index    Searcher
	router   Classifier
	sessions *session.Store
	stats    *Stats
	activity *activity.Log
}

// New wires the pipeline. cache and activity may be nil (feature off).
func New(cfg *config.Config, embedder embedding.Embedder, cache *embedding.Cache, index Searcher, router Classifier, sessions *session.Store, act *activity.Log) *Assembler {
	return &Assembler{
		cfg:      cfg,
		embedder: embedder,
		cache:    cache,
		index:    index,
		router:   router,
		sessions: sessions,
		stats:    NewStats(),
		activity: act,
	}
}

// Stats exposes the pipeline counters.
func (a *Assembler) Stats() *Stats {
	return a.stats
}

// retrievalResult is the output of the retrieval branch.
type retrievalResult struct {
	chunks   []models.RetrievedChunk
	embedMs  float64
	searchMs float64
}

// classifyResult is the output of the routing branch.
type classifyResult struct {
	decision   models.RouteDecision
	classifyMs float64
}

// Assemble enriches one user message. The message is appended to the
// session's history after assembly in every path, skipped or not, so the
// next call sees it as recent context.
func (a *Assembler) Assemble(ctx context.Context, message, sessionID string, ov *Overrides) *models.EnrichmentResult {
	start := time.Now()

	topK := a.cfg.RAG.TopK
	minScore := a.cfg.RAG.MinScore
	sources := configSources(a.cfg.RAG.Sources)
	maxMessages := a.cfg.ShortTerm.MaxMessages
	if ov != nil {
		if ov.TopK != nil {
			topK = *ov.TopK
		}
		if ov.MinScore != nil {
			minScore = *ov.MinScore
		}
		if len(ov.Sources) > 0 {
			sources = ov.Sources
		}
		if ov.MaxMessages != nil {
			maxMessages = *ov.MaxMessages
		}
	}
	snap := models.ConfigSnapshot{
		TopK:         topK,
		MinScore:     minScore,
		Sources:      sources,
		MaxMessages:  maxMessages,
		RoutingModel: a.cfg.Routing.Model,
	}

	if !a.cfg.Enabled {
		return a.skipResult(ctx, message, sessionID, snap, start, "skipped (enrichment disabled)")
	}
	if a.cfg.Features.SkipLogic && ShouldSkip(message) {
		return a.skipResult(ctx, message, sessionID, snap, start, "skipped (simple message)")
	}

	// The history window is an in-memory read; it stays on the calling
	// goroutine so a blown budget can never cost us the history.
	history := a.history(ctx, sessionID, maxMessages)

	rCh := make(chan retrievalResult, 1)
	cCh := make(chan classifyResult, 1)
	if a.cfg.ParallelExecution {
		go func() { rCh <- a.retrieve(ctx, message, topK, minScore, sources) }()
		go func() { cCh <- a.classify(ctx, message, sessionID) }()
	} else {
		rCh <- a.retrieve(ctx, message, topK, minScore, sources)
		cCh <- a.classify(ctx, message, sessionID)
	}

	var r retrievalResult
	var c classifyResult
	rOK, cOK := false, false
	budget := time.NewTimer(a.cfg.Runtime.OverallBudget)
	defer budget.Stop()

join:
	for !rOK || !cOK {
		select {
		case r = <-rCh:
			rOK = true
		case c = <-cCh:
			cOK = true
		case <-budget.C:
			// Whatever finished is used; the rest is replaced by its
			// degraded default. The goroutines drain into buffered
			// channels and exit on their own deadlines.
			log.Warn().
				Bool("retrievalDone", rOK).
				Bool("classifyDone", cOK).
				Dur("budget", a.cfg.Runtime.OverallBudget).
				Msg("Assembly budget exceeded")
			if !cOK {
				c.decision = models.RouteDecision{
					Route:    a.router.Fallback(),
					Reason:   "classification failed: overall budget exceeded",
					Priority: models.PriorityMedium,
				}
			}
			break join
		}
	}

	chunks := r.chunks
	if a.cfg.Features.RouteAwareSources {
		sh := ShapeForRoute(c.decision.Route)
		chunks = ApplyShape(chunks, sh)
		snap.TopK, snap.MinScore, snap.Sources = sh.TopK, sh.MinScore, sh.Sources
	}

	prompt := BuildPrompt(chunks, history, message)
	a.sessions.Append(sessionID, models.Turn{Role: models.RoleUser, Content: message})

	result := &models.EnrichmentResult{
		SessionID:        sessionID,
		ShortTermHistory: history,
		RAGContext:       chunks,
		RouteDecision:    c.decision,
		AssembledPrompt:  prompt,
		Metadata: models.ResultMetadata{
			AssemblyTimeMs: msSince(start),
			ConfigSnapshot: snap,
		},
	}
	if a.cfg.Features.TimingStats {
		result.Metadata.StageTimes = models.StageTimes{
			EmbedMs:    r.embedMs,
			SearchMs:   r.searchMs,
			ClassifyMs: c.classifyMs,
			AssembleMs: result.Metadata.AssemblyTimeMs,
		}
	}

	a.stats.Record(ctx, c.decision.Route, result.Metadata.StageTimes)
	a.activity.Record(activity.Entry{
		SessionID:  sessionID,
		Route:      c.decision.Route,
		Priority:   c.decision.Priority,
		Hits:       len(chunks),
		AssemblyMs: result.Metadata.AssemblyTimeMs,
		StageTimes: result.Metadata.StageTimes,
	})
	return result
}

// skipResult builds the minimal result for messages that bypass the
// pipeline: no retrieval, no history, the prompt is the message itself.
func (a *Assembler) skipResult(ctx context.Context, message, sessionID string, snap models.ConfigSnapshot, start time.Time, reason string) *models.EnrichmentResult {
	a.sessions.Append(sessionID, models.Turn{Role: models.RoleUser, Content: message})
	a.stats.RecordSkip(ctx)

	decision := models.RouteDecision{
		Route:    a.router.Fallback(),
		Reason:   reason,
		Priority: models.PriorityLow,
	}
	result := &models.EnrichmentResult{
		SessionID:     sessionID,
		RouteDecision: decision,
		AssembledPrompt: []models.PromptMessage{
			{Role: models.RoleUser, Content: message},
		},
		Metadata: models.ResultMetadata{
			AssemblyTimeMs: msSince(start),
			Skipped:        true,
			ConfigSnapshot: snap,
		},
	}
	a.activity.Record(activity.Entry{
		SessionID:  sessionID,
		Route:      decision.Route,
		Priority:   decision.Priority,
		Skipped:    true,
		AssemblyMs: result.Metadata.AssemblyTimeMs,
	})
	return result
}

// history reads the budgeted window, compressed when the feature is on.
func (a *Assembler) history(ctx context.Context, sessionID string, maxMessages int) []models.Turn {
	maxTokens := a.cfg.ShortTerm.MaxTokenEstimate
	if a.cfg.Features.HistoryCompression {
		return a.sessions.WindowCompressed(ctx, sessionID, maxMessages, maxTokens)
	}
	return a.sessions.Window(sessionID, maxMessages, maxTokens)
}

// retrieve embeds the message and searches the index, each under its own
// deadline. Any failure logs and returns what it has; enrichment just
// loses the retrieval block.
func (a *Assembler) retrieve(ctx context.Context, message string, topK int, minScore float64, sources []models.Source) retrievalResult {
	var out retrievalResult
	if !a.cfg.VectorIndex.Enabled || topK <= 0 {
		return out
	}

	ectx, cancel := context.WithTimeout(ctx, a.cfg.Runtime.EmbedTimeout)
	defer cancel()

	embedStart := time.Now()
	var vec []float32
	var err error
	if a.cfg.Features.EmbeddingCache && a.cache != nil {
		vec, err = a.cache.GetOrCompute(ectx, message)
	} else {
		vec, err = a.embedder.Embed(ectx, message)
	}
	out.embedMs = msSince(embedStart)
	if err != nil {
		log.Warn().Err(err).Msg("Query embedding failed, continuing without retrieval")
		return out
	}

	searchStart := time.Now()
	chunks, err := a.index.Search(ctx, vec, topK, minScore, sources)
	out.searchMs = msSince(searchStart)
	if err != nil {
		log.Warn().Err(err).Msg("Vector search failed, continuing without retrieval")
		return out
	}
	out.chunks = chunks
	return out
}

// classify asks the router for a verdict under the generate deadline.
func (a *Assembler) classify(ctx context.Context, message, sessionID string) classifyResult {
	cctx, cancel := context.WithTimeout(ctx, a.cfg.Runtime.GenerateTimeout)
	defer cancel()

	recent := a.sessions.Recent(sessionID, 2)
	start := time.Now()
	decision := a.router.Classify(cctx, message, recent)
	return classifyResult{decision: decision, classifyMs: msSince(start)}
}

// configSources converts the configured source names, dropping unknowns.
func configSources(names []string) []models.Source {
	sources := make([]models.Source, 0, len(names))
	for _, n := range names {
		if s := models.Source(n); models.ValidSource(s) {
			sources = append(sources, s)
		}
	}
	return sources
}

func msSince(t time.Time) float64 {
	return float64(time.Since(t).Microseconds()) / 1000
}
