// Package corpus provides read-only access to the ingested chunk stores.
package corpus

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"sync"

	_ "modernc.org/sqlite"

	"github.com/rs/zerolog/log"
	"github.com/thebtf/contextd/pkg/models"
)

// ErrUnavailable indicates a corpus database could not be opened or read.
var ErrUnavailable = errors.New("corpus unavailable")

// Config holds the corpus database paths. An empty path disables that
// source; a configured but missing file is treated as an empty corpus.
type Config struct {
	MemoryPath   string
	ChatPath     string
	TelegramPath string
	EmbeddingDim int
}

// Store owns long-lived read-only handles to the corpus databases,
// prepared once and reused across index reloads. Handles are dropped only
// on an explicit re-index signal (Invalidate), never per call.
type Store struct {
	cfg     Config
	handles map[models.Source]*sql.DB
	mu      sync.Mutex
}

// NewStore creates a corpus store. Databases are opened lazily on first read.
func NewStore(cfg Config) *Store {
	return &Store{
		cfg:     cfg,
		handles: make(map[models.Source]*sql.DB),
	}
}

func (s *Store) pathFor(source models.Source) string {
	switch source {
	case models.SourceMemory:
		return s.cfg.MemoryPath
	case models.SourceChat:
		return s.cfg.ChatPath
	case models.SourceTelegram:
		return s.cfg.TelegramPath
	}
	return ""
}

// handle returns the cached read-only handle for source, opening it if
// needed. Returns (nil, nil) when the source is disabled or its database
// file does not exist yet.
func (s *Store) handle(source models.Source) (*sql.DB, error) {
	path := s.pathFor(source)
	if path == "" {
		return nil, nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if db, ok := s.handles[source]; ok {
		return db, nil
	}

	if _, err := os.Stat(path); os.IsNotExist(err) {
		return nil, nil
	}

	db, err := sql.Open("sqlite", path+"?_pragma=query_only(1)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("%w: open %s: %v", ErrUnavailable, path, err)
	}
	db.SetMaxOpenConns(2)
	db.SetMaxIdleConns(2)
	db.SetConnMaxLifetime(0)

	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("%w: ping %s: %v", ErrUnavailable, path, err)
	}

	s.handles[source] = db
	log.Debug().Str("source", string(source)).Str("path", path).Msg("Corpus handle opened")
	return db, nil
}

// Chunks reads every chunk from the given sources. Disabled or missing
// corpora contribute nothing; a read failure aborts the whole load so a
// half-read snapshot is never published.
func (s *Store) Chunks(ctx context.Context, sources []models.Source) ([]models.Chunk, error) {
	var chunks []models.Chunk
	for _, source := range sources {
		part, err := s.readSource(ctx, source)
		if err != nil {
			return nil, err
		}
		chunks = append(chunks, part...)
	}
	return chunks, nil
}

// readSource reads all chunks from one corpus with its per-source schema.
func (s *Store) readSource(ctx context.Context, source models.Source) ([]models.Chunk, error) {
	db, err := s.handle(source)
	if err != nil {
		return nil, err
	}
	if db == nil {
		return nil, nil
	}

	var query string
	switch source {
	case models.SourceMemory:
		query = `SELECT text, embedding, file, start_line, end_line FROM chunks ORDER BY rowid`
	case models.SourceChat:
		query = `SELECT text, embedding, session_id, start_ts, end_ts FROM chunks ORDER BY rowid`
	case models.SourceTelegram:
		query = `SELECT text, embedding, start_ts, end_ts FROM chunks ORDER BY rowid`
	default:
		return nil, fmt.Errorf("%w: unknown source %q", ErrUnavailable, source)
	}

	rows, err := db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("%w: query %s: %v", ErrUnavailable, source, err)
	}
	defer rows.Close()

	var chunks []models.Chunk
	for rows.Next() {
		c := models.Chunk{Source: source}
		var blob []byte

		switch source {
		case models.SourceMemory:
			err = rows.Scan(&c.Text, &blob, &c.Meta.File, &c.Meta.StartLine, &c.Meta.EndLine)
		case models.SourceChat:
			err = rows.Scan(&c.Text, &blob, &c.Meta.SessionID, &c.Meta.StartTS, &c.Meta.EndTS)
		case models.SourceTelegram:
			err = rows.Scan(&c.Text, &blob, &c.Meta.StartTS, &c.Meta.EndTS)
		}
		if err != nil {
			return nil, fmt.Errorf("%w: scan %s row: %v", ErrUnavailable, source, err)
		}

		c.Vector, err = DecodeVector(blob, s.cfg.EmbeddingDim)
		if err != nil {
			return nil, fmt.Errorf("%w: %s: %v", ErrUnavailable, source, err)
		}

		chunks = append(chunks, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: iterate %s rows: %v", ErrUnavailable, source, err)
	}

	return chunks, nil
}

// Invalidate drops all handles. The next read reopens them. This is the
// external re-index signal path; the vector index marks itself stale in
// the same breath.
func (s *Store) Invalidate() {
	s.mu.Lock()
	defer s.mu.Unlock()

	for source, db := range s.handles {
		if err := db.Close(); err != nil {
			log.Warn().Err(err).Str("source", string(source)).Msg("Failed to close corpus handle")
		}
		delete(s.handles, source)
	}
}

// Close releases all handles.
func (s *Store) Close() {
	s.Invalidate()
}
