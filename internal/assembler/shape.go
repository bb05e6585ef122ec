package assembler

import "github.com/thebtf/contextd/pkg/models"

// Shape is the retrieval budget applied after a route decision: how many
// chunks the target model gets, from which corpora, above which score.
type Shape struct {
	TopK     int
	Sources  []models.Source
	MinScore float64
}

// routeShapes maps each route to its retrieval shape. Small local models
// get a tight high-confidence slice, opus gets the widest net, haiku gets
// no retrieval at all.
var routeShapes = map[models.Route]Shape{
	models.RouteLocalQwen: {
		TopK:     3,
		Sources:  []models.Source{models.SourceMemory},
		MinScore: 0.40,
	},
	models.RouteClaudeHaiku: {
		TopK: 0,
	},
	models.RouteClaudeSonnet: {
		TopK:     5,
		Sources:  []models.Source{models.SourceMemory, models.SourceChat},
		MinScore: 0.30,
	},
	models.RouteClaudeOpus: {
		TopK:     10,
		Sources:  []models.Source{models.SourceMemory, models.SourceChat, models.SourceTelegram},
		MinScore: 0.25,
	},
}

// fallbackShape covers any route without an explicit row.
var fallbackShape = Shape{
	TopK:     5,
	Sources:  []models.Source{models.SourceMemory, models.SourceChat, models.SourceTelegram},
	MinScore: 0.30,
}

// ShapeForRoute returns the retrieval shape for a route.
func ShapeForRoute(route models.Route) Shape {
	if sh, ok := routeShapes[route]; ok {
		return sh
	}
	return fallbackShape
}

// ApplyShape narrows already-retrieved chunks to a shape without
// re-querying: drops chunks from excluded sources or below the score
// floor, then truncates to TopK. Input order (score descending) is
// preserved, so applying the same shape twice is a no-op.
func ApplyShape(chunks []models.RetrievedChunk, sh Shape) []models.RetrievedChunk {
	if sh.TopK <= 0 {
		return nil
	}

	allowed := make(map[models.Source]bool, len(sh.Sources))
	for _, s := range sh.Sources {
		allowed[s] = true
	}

	shaped := make([]models.RetrievedChunk, 0, min(len(chunks), sh.TopK))
	for _, c := range chunks {
		if !allowed[c.Source] || c.Score < sh.MinScore {
			continue
		}
		shaped = append(shaped, c)
		if len(shaped) == sh.TopK {
			break
		}
	}
	return shaped
}
