package models

// PromptMessage is one message of an assembled prompt.
type PromptMessage struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}

// StageTimes holds per-stage wall time for a single assemble call,
// in milliseconds.
type StageTimes struct {
	EmbedMs    float64 `json:"embed_ms"`
	SearchMs   float64 `json:"search_ms"`
	ClassifyMs float64 `json:"classify_ms"`
	AssembleMs float64 `json:"assemble_ms"`
}

// ConfigSnapshot records the effective parameters used for one call,
// after overrides and route-aware shaping.
type ConfigSnapshot struct {
	TopK         int      `json:"top_k"`
	MinScore     float64  `json:"min_score"`
	Sources      []Source `json:"sources"`
	MaxMessages  int      `json:"max_messages"`
	RoutingModel string   `json:"routing_model,omitempty"`
}

// ResultMetadata carries timing and bookkeeping for an enrichment result.
type ResultMetadata struct {
	AssemblyTimeMs float64        `json:"assembly_time_ms"`
	StageTimes     StageTimes     `json:"stage_times"`
	Skipped        bool           `json:"skipped"`
	ConfigSnapshot ConfigSnapshot `json:"config_snapshot"`
}

// EnrichmentResult is the output of a single assemble call.
type EnrichmentResult struct {
	SessionID        string           `json:"session_id"`
	ShortTermHistory []Turn           `json:"short_term_history"`
	RAGContext       []RetrievedChunk `json:"rag_context"`
	RouteDecision    RouteDecision    `json:"route_decision"`
	AssembledPrompt  []PromptMessage  `json:"assembled_prompt"`
	Metadata         ResultMetadata   `json:"metadata"`
}
