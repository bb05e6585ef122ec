// Package activity provides the optional append-only activity log.
package activity

import (
	"fmt"
	"os"

	"github.com/rs/zerolog"

	"github.com/thebtf/contextd/pkg/models"
)

// Entry is one line of the activity log.
type Entry struct {
	SessionID  string
	Route      models.Route
	Priority   models.Priority
	Skipped    bool
	Hits       int
	AssemblyMs float64
	StageTimes models.StageTimes
}

// Log appends one JSON line per assemble call to a file. A nil *Log is a
// no-op, so callers don't branch on whether the log is configured.
type Log struct {
	logger zerolog.Logger
	file   *os.File
}

// Open creates an activity log appending to path.
func Open(path string) (*Log, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0600) // #nosec G304 -- operator-configured path
	if err != nil {
		return nil, fmt.Errorf("open activity log %s: %w", path, err)
	}
	return &Log{
		logger: zerolog.New(f).With().Timestamp().Logger(),
		file:   f,
	}, nil
}

// Record appends one entry.
func (l *Log) Record(e Entry) {
	if l == nil {
		return
	}
	l.logger.Log().
		Str("sessionId", e.SessionID).
		Str("route", string(e.Route)).
		Str("priority", string(e.Priority)).
		Bool("skipped", e.Skipped).
		Int("ragHits", e.Hits).
		Float64("assemblyMs", e.AssemblyMs).
		Float64("embedMs", e.StageTimes.EmbedMs).
		Float64("searchMs", e.StageTimes.SearchMs).
		Float64("classifyMs", e.StageTimes.ClassifyMs).
		Msg("assemble")
}

// Close releases the underlying file.
func (l *Log) Close() error {
	if l == nil || l.file == nil {
		return nil
	}
	return l.file.Close()
}
