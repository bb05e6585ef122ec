package assembler

import (
	"context"
	"sync/atomic"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/thebtf/contextd/pkg/models"
)

// Stats accumulates per-stage timing and call counters for the pipeline.
// Counters are process-local atomics; the same measurements are also fed
// to OTEL instruments so an exporter can pick them up when one is wired.
type Stats struct {
	assembles atomic.Int64
	skips     atomic.Int64

	embedTotalUs    atomic.Int64
	searchTotalUs   atomic.Int64
	classifyTotalUs atomic.Int64
	totalUs         atomic.Int64

	assembleCounter metric.Int64Counter
	skipCounter     metric.Int64Counter
	durationHist    metric.Float64Histogram
}

// NewStats creates the pipeline stats and registers the OTEL instruments.
func NewStats() *Stats {
	meter := otel.Meter("github.com/thebtf/contextd/internal/assembler")

	s := &Stats{}
	s.assembleCounter, _ = meter.Int64Counter("contextd.assembles",
		metric.WithDescription("Completed assemble calls by route"))
	s.skipCounter, _ = meter.Int64Counter("contextd.skips",
		metric.WithDescription("Messages that bypassed enrichment"))
	s.durationHist, _ = meter.Float64Histogram("contextd.assembly.duration",
		metric.WithDescription("End-to-end assembly time"),
		metric.WithUnit("ms"))
	return s
}

// RecordSkip counts a skipped message.
func (s *Stats) RecordSkip(ctx context.Context) {
	s.skips.Add(1)
	if s.skipCounter != nil {
		s.skipCounter.Add(ctx, 1)
	}
}

// Record counts one completed assemble call with its stage times.
func (s *Stats) Record(ctx context.Context, route models.Route, st models.StageTimes) {
	s.assembles.Add(1)
	s.embedTotalUs.Add(int64(st.EmbedMs * 1000))
	s.searchTotalUs.Add(int64(st.SearchMs * 1000))
	s.classifyTotalUs.Add(int64(st.ClassifyMs * 1000))
	s.totalUs.Add(int64(st.AssembleMs * 1000))

	if s.assembleCounter != nil {
		s.assembleCounter.Add(ctx, 1, metric.WithAttributes(
			attribute.String("route", string(route))))
	}
	if s.durationHist != nil {
		s.durationHist.Record(ctx, st.AssembleMs)
	}
}

// Snapshot returns the counters plus rolling per-stage averages in ms.
func (s *Stats) Snapshot() map[string]any {
	n := s.assembles.Load()
	avg := func(totalUs int64) float64 {
		if n == 0 {
			return 0
		}
		return float64(totalUs) / float64(n) / 1000
	}
	return map[string]any{
		"assembles":       n,
		"skips":           s.skips.Load(),
		"avg_embed_ms":    avg(s.embedTotalUs.Load()),
		"avg_search_ms":   avg(s.searchTotalUs.Load()),
		"avg_classify_ms": avg(s.classifyTotalUs.Load()),
		"avg_total_ms":    avg(s.totalUs.Load()),
	}
}
