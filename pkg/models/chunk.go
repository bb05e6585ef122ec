// Package models contains the shared data model for contextd.
package models

// Source identifies the corpus a chunk was ingested from.
type Source string

const (
	SourceMemory   Source = "memory"
	SourceChat     Source = "chat"
	SourceTelegram Source = "telegram"
)

// SourceOrder is the fixed rendering order for retrieval blocks.
var SourceOrder = []Source{SourceMemory, SourceChat, SourceTelegram}

// ValidSource reports whether s is a known corpus source.
func ValidSource(s Source) bool {
	switch s {
	case SourceMemory, SourceChat, SourceTelegram:
		return true
	}
	return false
}

// ChunkMeta carries source-specific metadata for a chunk.
// Memory chunks use File/StartLine/EndLine; chat and telegram chunks
// use the timestamp range, with SessionID set for chat only.
type ChunkMeta struct {
	File      string `json:"file,omitempty"`
	SessionID string `json:"session_id,omitempty"`
	StartLine int    `json:"start_line,omitempty"`
	EndLine   int    `json:"end_line,omitempty"`
	StartTS   int64  `json:"start_ts,omitempty"`
	EndTS     int64  `json:"end_ts,omitempty"`
}

// Chunk is a single retrievable passage with its embedding vector.
// Chunks are created by external ingestion and are read-only here.
type Chunk struct {
	Source Source    `json:"source"`
	Text   string    `json:"text"`
	Vector []float32 `json:"-"`
	Meta   ChunkMeta `json:"meta"`
}

// RetrievedChunk is a chunk returned from similarity search with its
// cosine score against the query.
type RetrievedChunk struct {
	Source Source    `json:"source"`
	Text   string    `json:"text"`
	Meta   ChunkMeta `json:"meta"`
	Score  float64   `json:"score"`
}
