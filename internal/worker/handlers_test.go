package worker

import (
	"bytes"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/thebtf/contextd/internal/config"
	"github.com/thebtf/contextd/pkg/models"
)

const testDim = 8

// fakeRuntime imitates the Ollama embed and generate endpoints.
func fakeRuntime(t *testing.T, route string) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/api/embed":
			vec := make([]float32, testDim)
			vec[0] = 1
			_ = json.NewEncoder(w).Encode(map[string]any{
				"embeddings": [][]float32{vec},
			})
		case "/api/generate":
			reply := `{"route": "` + route + `", "reason": "test", "priority": "medium"}`
			_ = json.NewEncoder(w).Encode(map[string]any{
				"response": reply,
				"done":     true,
			})
		default:
			http.NotFound(w, r)
		}
	}))
}

func testService(t *testing.T, route string) *Service {
	t.Helper()
	rt := fakeRuntime(t, route)
	t.Cleanup(rt.Close)

	cfg := config.Default()
	cfg.Runtime.BaseURL = rt.URL
	cfg.Runtime.EmbeddingDim = testDim
	// Empty paths disable the corpora; searches return no chunks.
	cfg.Corpus = config.CorpusConfig{}
	cfg.Activity.Path = filepath.Join(t.TempDir(), "activity.jsonl")

	svc, err := NewService("test", cfg)
	require.NoError(t, err)
	t.Cleanup(func() {
		if svc.watcher != nil {
			svc.watcher.Stop()
		}
	})
	return svc
}

func postJSON(t *testing.T, svc *Service, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	data, err := json.Marshal(body)
	require.NoError(t, err)
	req := httptest.NewRequest(http.MethodPost, path, bytes.NewReader(data))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	svc.Router().ServeHTTP(rec, req)
	return rec
}

func TestHandleHealth(t *testing.T) {
	svc := testService(t, "local_qwen")

	req := httptest.NewRequest(http.MethodGet, "/api/health", nil)
	rec := httptest.NewRecorder()
	svc.Router().ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "ok", body["status"])
	assert.Equal(t, "test", body["version"])
}

func TestHandleAssembleRequiresMessage(t *testing.T) {
	svc := testService(t, "local_qwen")

	rec := postJSON(t, svc, "/api/context/assemble", AssembleRequest{})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHandleAssembleMintsSessionID(t *testing.T) {
	svc := testService(t, "claude_sonnet")

	rec := postJSON(t, svc, "/api/context/assemble", AssembleRequest{
		Message: "explain how the cache eviction works",
	})
	require.Equal(t, http.StatusOK, rec.Code)

	var result models.EnrichmentResult
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &result))
	assert.NotEmpty(t, result.SessionID)
	assert.Equal(t, models.RouteClaudeSonnet, result.RouteDecision.Route)
}

func TestHandleAssembleSkipPath(t *testing.T) {
	svc := testService(t, "claude_sonnet")

	rec := postJSON(t, svc, "/api/context/assemble", AssembleRequest{
		Message:   "ok",
		SessionID: "sess-1",
	})
	require.Equal(t, http.StatusOK, rec.Code)

	var result models.EnrichmentResult
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &result))
	assert.True(t, result.Metadata.Skipped)
	assert.Equal(t, "sess-1", result.SessionID)
	assert.Equal(t, models.PriorityLow, result.RouteDecision.Priority)
}

func TestHandleAssembleSessionContinuity(t *testing.T) {
	svc := testService(t, "claude_sonnet")

	postJSON(t, svc, "/api/context/assemble", AssembleRequest{
		Message: "explain the routing table", SessionID: "sess-2",
	})
	rec := postJSON(t, svc, "/api/context/assemble", AssembleRequest{
		Message: "describe the fallback behaviour too", SessionID: "sess-2",
	})
	require.Equal(t, http.StatusOK, rec.Code)

	var result models.EnrichmentResult
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &result))
	require.NotEmpty(t, result.ShortTermHistory)
	assert.Equal(t, "explain the routing table", result.ShortTermHistory[0].Content)
}

func TestHandleAssembleRejectsUnknownSource(t *testing.T) {
	svc := testService(t, "claude_sonnet")

	rec := postJSON(t, svc, "/api/context/assemble", AssembleRequest{
		Message: "search the notes for deploy steps",
		Sources: []string{"imap"},
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHandleStats(t *testing.T) {
	svc := testService(t, "claude_sonnet")

	postJSON(t, svc, "/api/context/assemble", AssembleRequest{Message: "ok"})

	req := httptest.NewRequest(http.MethodGet, "/api/stats", nil)
	rec := httptest.NewRecorder()
	svc.Router().ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Contains(t, body, "pipeline")
	assert.Contains(t, body, "cache")
	assert.Contains(t, body, "index")
	assert.Contains(t, body, "sessions")
}

func TestHandleInvalidateEndpoints(t *testing.T) {
	svc := testService(t, "claude_sonnet")

	for _, path := range []string{"/api/index/invalidate", "/api/cache/invalidate"} {
		req := httptest.NewRequest(http.MethodPost, path, nil)
		rec := httptest.NewRecorder()
		svc.Router().ServeHTTP(rec, req)
		assert.Equal(t, http.StatusOK, rec.Code, path)
	}
}

func TestMaxBodySize(t *testing.T) {
	svc := testService(t, "claude_sonnet")

	big := bytes.Repeat([]byte("x"), MaxRequestBody+1)
	req := httptest.NewRequest(http.MethodPost, "/api/context/assemble", bytes.NewReader(big))
	rec := httptest.NewRecorder()
	svc.Router().ServeHTTP(rec, req)
	assert.Equal(t, http.StatusRequestEntityTooLarge, rec.Code)
}
