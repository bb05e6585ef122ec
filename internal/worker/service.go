// Package worker provides the HTTP worker service for contextd.
package worker

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog/log"

	"github.com/thebtf/contextd/internal/activity"
	"github.com/thebtf/contextd/internal/assembler"
	"github.com/thebtf/contextd/internal/config"
	"github.com/thebtf/contextd/internal/corpus"
	"github.com/thebtf/contextd/internal/embedding"
	"github.com/thebtf/contextd/internal/routing"
	"github.com/thebtf/contextd/internal/runtime"
	"github.com/thebtf/contextd/internal/session"
	"github.com/thebtf/contextd/internal/vectorindex"
	"github.com/thebtf/contextd/internal/watcher"
	"github.com/thebtf/contextd/pkg/models"
)

const (
	// DefaultHTTPTimeout bounds a whole request, assembly budget included.
	DefaultHTTPTimeout = 30 * time.Second

	// MaxRequestBody caps incoming JSON bodies.
	MaxRequestBody = 1 << 20 // 1 MiB
)

// Service is the worker orchestrator: it owns the pipeline components
// and serves them over HTTP.
type Service struct {
	version string
	cfg     *config.Config

	runtime   *runtime.Client
	cache     *embedding.Cache
	corpus    *corpus.Store
	index     *vectorindex.Index
	sessions  *session.Store
	assembler *assembler.Assembler
	activity  *activity.Log
	watcher   *watcher.Watcher

	router    *chi.Mux
	server    *http.Server
	startTime time.Time
	wg        sync.WaitGroup
}

// NewService wires the pipeline from config.
func NewService(version string, cfg *config.Config) (*Service, error) {
	rt := runtime.NewClient(runtime.Config{
		BaseURL:      cfg.Runtime.BaseURL,
		EmbedModel:   cfg.Runtime.EmbedModel,
		EmbeddingDim: cfg.Runtime.EmbeddingDim,
	})

	cache := embedding.NewCache(rt, embedding.Config{
		MaxEntries: cfg.Cache.MaxEntries,
		TTL:        cfg.Cache.TTL,
		KeyMaxLen:  cfg.Cache.KeyMaxLen,
	})

	store := corpus.NewStore(corpus.Config{
		MemoryPath:   cfg.Corpus.MemoryPath,
		ChatPath:     cfg.Corpus.ChatPath,
		TelegramPath: cfg.Corpus.TelegramPath,
		EmbeddingDim: cfg.Runtime.EmbeddingDim,
	})

	index := vectorindex.New(store, vectorindex.Config{
		Dim:        cfg.Runtime.EmbeddingDim,
		StaleAfter: time.Duration(cfg.VectorIndex.StaleAfterMs) * time.Millisecond,
	})

	estimator, err := session.NewEstimator(cfg.ShortTerm.Tokenizer)
	if err != nil {
		return nil, fmt.Errorf("build token estimator: %w", err)
	}

	var summarizer session.Summarizer
	if cfg.Features.HistoryCompression {
		summarizer = session.NewRuntimeSummarizer(rt, cfg.Routing.Model)
	}
	sessions := session.NewStore(estimator, summarizer)

	router := routing.NewRouter(rt, routing.Config{
		Model:    cfg.Routing.Model,
		Fallback: models.Route(cfg.Routing.Fallback),
	})

	var actLog *activity.Log
	if cfg.Activity.Path != "" {
		actLog, err = activity.Open(cfg.Activity.Path)
		if err != nil {
			log.Warn().Err(err).Str("path", cfg.Activity.Path).Msg("Activity log disabled")
			actLog = nil
		}
	}

	svc := &Service{
		version:   version,
		cfg:       cfg,
		runtime:   rt,
		cache:     cache,
		corpus:    store,
		index:     index,
		sessions:  sessions,
		assembler: assembler.New(cfg, rt, cache, index, router, sessions, actLog),
		activity:  actLog,
		router:    chi.NewRouter(),
		startTime: time.Now(),
	}

	svc.setupMiddleware()
	svc.setupRoutes()
	svc.startWatcher()
	return svc, nil
}

// setupMiddleware configures HTTP middleware.
func (s *Service) setupMiddleware() {
	s.router.Use(middleware.RequestID)
	s.router.Use(middleware.RealIP)
	s.router.Use(middleware.Logger)
	s.router.Use(middleware.Recoverer)
	s.router.Use(middleware.Timeout(DefaultHTTPTimeout))
	s.router.Use(MaxBodySize(MaxRequestBody))
}

// setupRoutes configures HTTP routes.
func (s *Service) setupRoutes() {
	s.router.Get("/api/health", s.handleHealth)
	s.router.Get("/api/stats", s.handleStats)
	s.router.Post("/api/context/assemble", s.handleAssemble)
	s.router.Post("/api/index/invalidate", s.handleIndexInvalidate)
	s.router.Post("/api/cache/invalidate", s.handleCacheInvalidate)
}

// startWatcher begins watching the corpus files; any change drops the
// corpus handles and marks the index stale so the next search reloads.
func (s *Service) startWatcher() {
	paths := []string{
		s.cfg.Corpus.MemoryPath,
		s.cfg.Corpus.ChatPath,
		s.cfg.Corpus.TelegramPath,
	}
	w, err := watcher.New(paths, func() {
		log.Info().Msg("Corpus changed on disk, invalidating index")
		s.corpus.Invalidate()
		s.index.Invalidate()
	})
	if err != nil {
		log.Warn().Err(err).Msg("Corpus watcher disabled")
		return
	}
	s.watcher = w
	w.Start()
}

// Router exposes the HTTP handler, mainly for tests.
func (s *Service) Router() http.Handler {
	return s.router
}

// Start starts the HTTP server.
func (s *Service) Start() error {
	s.server = &http.Server{
		Addr:              fmt.Sprintf("127.0.0.1:%d", s.cfg.WorkerPort),
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error().Err(err).Msg("HTTP server error")
		}
	}()

	log.Info().
		Int("port", s.cfg.WorkerPort).
		Str("runtime", s.cfg.Runtime.BaseURL).
		Msg("Worker HTTP server started")
	return nil
}

// Shutdown gracefully stops the service.
func (s *Service) Shutdown(ctx context.Context) error {
	if s.watcher != nil {
		s.watcher.Stop()
	}
	if s.server != nil {
		if err := s.server.Shutdown(ctx); err != nil {
			log.Error().Err(err).Msg("HTTP server shutdown error")
		}
	}
	s.corpus.Close()
	if err := s.activity.Close(); err != nil {
		log.Warn().Err(err).Msg("Activity log close error")
	}
	s.wg.Wait()

	log.Info().Msg("Worker service shutdown complete")
	return nil
}
