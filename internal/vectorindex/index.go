// Package vectorindex provides the in-memory cosine similarity index over
// the corpus chunks.
package vectorindex

import (
	"context"
	"fmt"
	"math"
	"sort"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/singleflight"

	"github.com/thebtf/contextd/pkg/models"
)

// DefaultStaleAfter is the default staleness window for loaded snapshots.
const DefaultStaleAfter = 60 * time.Second

// ChunkSource supplies the corpus chunks for a load.
type ChunkSource interface {
	Chunks(ctx context.Context, sources []models.Source) ([]models.Chunk, error)
}

// rowMeta is the per-row metadata parallel to the score matrix.
type rowMeta struct {
	source models.Source
	text   string
	meta   models.ChunkMeta
}

// snapshot is one fully-built, immutable index generation. Rows are unit
// L2 normalized; row i of the matrix corresponds to meta[i]. A snapshot is
// only ever published complete, so readers never see a partial index.
type snapshot struct {
	matrix   []float32 // N x dim, row-major
	meta     []rowMeta
	dim      int
	loadedAt time.Time
}

// Config holds index parameters.
type Config struct {
	Dim        int
	StaleAfter time.Duration
	Sources    []models.Source // sources loaded into the matrix; nil = all
}

// Index is the process-wide vector index. A single snapshot is shared by
// all readers and replaced via atomic pointer swap on reload; readers
// never lock against writers.
type Index struct {
	source     ChunkSource
	dim        int
	staleAfter time.Duration
	sources    []models.Source

	snap      atomic.Pointer[snapshot]
	stale     atomic.Bool
	loadGroup singleflight.Group
}

// New creates an index over the given chunk source. Loading is lazy: the
// first search triggers it.
func New(source ChunkSource, cfg Config) *Index {
	staleAfter := cfg.StaleAfter
	if staleAfter <= 0 {
		staleAfter = DefaultStaleAfter
	}
	sources := cfg.Sources
	if len(sources) == 0 {
		sources = models.SourceOrder
	}
	return &Index{
		source:     source,
		dim:        cfg.Dim,
		staleAfter: staleAfter,
		sources:    sources,
	}
}

// Invalidate marks the index stale without blocking; the next search
// reloads before serving.
func (ix *Index) Invalidate() {
	ix.stale.Store(true)
}

// Size returns the row count of the current snapshot (0 before first load).
func (ix *Index) Size() int {
	if s := ix.snap.Load(); s != nil {
		return len(s.meta)
	}
	return 0
}

// LoadedAt returns when the current snapshot was built.
func (ix *Index) LoadedAt() time.Time {
	if s := ix.snap.Load(); s != nil {
		return s.loadedAt
	}
	return time.Time{}
}

// Search returns the top-K chunks by cosine similarity against query,
// restricted to sourceFilter (nil means all sources) and bounded below by
// minScore. Scores are non-increasing; ties break toward the lower row
// index (corpus insertion order). An index that has never loaded
// successfully yields an empty result, not an error.
func (ix *Index) Search(ctx context.Context, query []float32, topK int, minScore float64, sourceFilter []models.Source) ([]models.RetrievedChunk, error) {
	if topK <= 0 {
		return nil, nil
	}
	if len(query) != ix.dim {
		return nil, fmt.Errorf("query vector has dimension %d, want %d", len(query), ix.dim)
	}

	snap := ix.ensureFresh(ctx)
	if snap == nil || len(snap.meta) == 0 {
		return nil, nil
	}

	// Normalize the query into a scratch buffer; the caller's slice is
	// left untouched.
	q := make([]float32, ix.dim)
	copy(q, query)
	l2Normalize(q)

	allowed := sourceSet(sourceFilter)

	type scored struct {
		idx   int
		score float64
	}
	candidates := make([]scored, 0, len(snap.meta))
	for i := range snap.meta {
		if allowed != nil && !allowed[snap.meta[i].source] {
			continue
		}
		row := snap.matrix[i*snap.dim : (i+1)*snap.dim]
		candidates = append(candidates, scored{idx: i, score: dot(q, row)})
	}

	// Full sort is fine at the corpus sizes this index serves (N <= ~1e4).
	sort.SliceStable(candidates, func(a, b int) bool {
		if candidates[a].score != candidates[b].score {
			return candidates[a].score > candidates[b].score
		}
		return candidates[a].idx < candidates[b].idx
	})

	results := make([]models.RetrievedChunk, 0, topK)
	for _, c := range candidates {
		if c.score < minScore {
			break
		}
		m := snap.meta[c.idx]
		results = append(results, models.RetrievedChunk{
			Source: m.source,
			Text:   m.text,
			Meta:   m.meta,
			Score:  c.score,
		})
		if len(results) == topK {
			break
		}
	}
	return results, nil
}

// ensureFresh returns the current snapshot, reloading first when the index
// has never loaded, was invalidated, or aged past the staleness window.
// Concurrent reloads are coalesced; the last published snapshot wins. A
// failed load leaves the previous snapshot intact.
func (ix *Index) ensureFresh(ctx context.Context) *snapshot {
	snap := ix.snap.Load()
	needLoad := snap == nil ||
		ix.stale.Load() ||
		time.Since(snap.loadedAt) > ix.staleAfter

	if !needLoad {
		return snap
	}

	fresh, err, _ := ix.loadGroup.Do("load", func() (any, error) {
		return ix.load(ctx)
	})
	if err != nil {
		log.Warn().Err(err).Msg("Vector index reload failed, serving previous snapshot")
		return ix.snap.Load()
	}
	return fresh.(*snapshot)
}

// load builds a complete snapshot from the corpora and publishes it.
func (ix *Index) load(ctx context.Context) (*snapshot, error) {
	// Clear the stale mark up front so an invalidation arriving during
	// this load re-marks the index and forces another reload.
	ix.stale.Store(false)

	start := time.Now()
	chunks, err := ix.source.Chunks(ctx, ix.sources)
	if err != nil {
		ix.stale.Store(true)
		return nil, fmt.Errorf("load corpus chunks: %w", err)
	}

	snap := &snapshot{
		matrix:   make([]float32, len(chunks)*ix.dim),
		meta:     make([]rowMeta, len(chunks)),
		dim:      ix.dim,
		loadedAt: time.Now(),
	}
	for i, c := range chunks {
		row := snap.matrix[i*ix.dim : (i+1)*ix.dim]
		copy(row, c.Vector)
		l2Normalize(row)
		snap.meta[i] = rowMeta{source: c.Source, text: c.Text, meta: c.Meta}
	}

	ix.snap.Store(snap)

	log.Info().
		Int("chunks", len(chunks)).
		Dur("elapsed", time.Since(start)).
		Msg("Vector index loaded")
	return snap, nil
}

// sourceSet builds a membership set; nil input means no filtering.
func sourceSet(sources []models.Source) map[models.Source]bool {
	if len(sources) == 0 {
		return nil
	}
	set := make(map[models.Source]bool, len(sources))
	for _, s := range sources {
		set[s] = true
	}
	return set
}

// l2Normalize scales v to unit L2 norm in place. Zero vectors stay zero.
func l2Normalize(v []float32) {
	var sum float64
	for _, x := range v {
		sum += float64(x) * float64(x)
	}
	if sum == 0 {
		return
	}
	inv := 1.0 / math.Sqrt(sum)
	for i := range v {
		v[i] = float32(float64(v[i]) * inv)
	}
}

// dot computes the dot product of two equal-length vectors in float64 to
// limit accumulation error.
func dot(a, b []float32) float64 {
	var sum float64
	for i := range a {
		sum += float64(a[i]) * float64(b[i])
	}
	return sum
}
