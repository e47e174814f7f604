package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lingvo-tools/tmpipeline/internal/batch"
	"github.com/lingvo-tools/tmpipeline/internal/config"
	"github.com/lingvo-tools/tmpipeline/internal/dedup"
	"github.com/lingvo-tools/tmpipeline/internal/limiter"
	"github.com/lingvo-tools/tmpipeline/internal/persistence"
	"github.com/lingvo-tools/tmpipeline/internal/provider"
	"github.com/lingvo-tools/tmpipeline/internal/tm"
	"github.com/lingvo-tools/tmpipeline/internal/validation"
)

// stubProvider answers every call with "tr:" + text.
type stubProvider struct{}

func (stubProvider) Translate(_ context.Context, req provider.Request, _ string) (*provider.Response, error) {
	out := make([]string, len(req.Texts))
	for i, t := range req.Texts {
		out[i] = "tr:" + t
	}
	return &provider.Response{Translations: out, TokensUsed: 10 * len(req.Texts), Model: req.Model}, nil
}

func (p stubProvider) TranslateStreaming(ctx context.Context, req provider.Request, apiKey string, _ provider.StreamHandler) (*provider.Response, error) {
	return p.Translate(ctx, req, apiKey)
}

func (stubProvider) EstimateTokens(provider.Request) int { return 500 }

func (stubProvider) ValidateAPIKey(context.Context, string) error { return nil }

func newTestServer(t *testing.T) (*Server, *persistence.SQLiteStore) {
	t.Helper()
	t.Setenv("OPENAI_API_KEY", "sk-test")
	t.Setenv("GLOSSARY_DIR", t.TempDir())

	cfg, err := config.NewFromEnv()
	require.NoError(t, err)

	store, err := persistence.NewSQLiteStore(filepath.Join(t.TempDir(), "tmpipeline.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	orch := batch.NewOrchestrator(batch.Deps{
		Units:        store,
		Batches:      store,
		Translations: store,
		Matcher:      tm.NewMatcher(store, tm.DefaultMatcherConfig(), nil),
		Dedup:        dedup.NewCache(dedup.DefaultCapacity, dedup.DefaultTTL),
		Semaphore:    limiter.NewSemaphore(2),
		Providers:    map[string]provider.Service{"openai": stubProvider{}},
		Keys:         cfg,
		Validator:    validation.NewValidator(),
	}, batch.Config{})
	return NewServer(cfg, store, orch), store
}

func postJSON(t *testing.T, srv *Server, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	payload, err := json.Marshal(body)
	require.NoError(t, err)
	req := httptest.NewRequest(http.MethodPost, path, bytes.NewReader(payload))
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)
	return rec
}

func getJSON(t *testing.T, srv *Server, path string, out any) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)
	if out != nil && rec.Code == http.StatusOK {
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), out))
	}
	return rec
}

func createBatch(t *testing.T, srv *Server, id string, texts ...string) {
	t.Helper()
	units := make([]batch.TranslationUnit, len(texts))
	for i, text := range texts {
		units[i] = batch.TranslationUnit{ID: text, Key: text, SourceText: text}
	}
	rec := postJSON(t, srv, "/api/batches", createBatchRequest{ID: id, Name: id, Units: units})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
}

func waitForStatus(t *testing.T, srv *Server, batchID string, want batch.Status) batch.BatchStatus {
	t.Helper()
	var resp batch.BatchStatus
	require.Eventually(t, func() bool {
		resp = batch.BatchStatus{}
		rec := getJSON(t, srv, "/api/batches/"+batchID, &resp)
		return rec.Code == http.StatusOK && resp.Batch != nil && resp.Batch.Status == want
	}, 5*time.Second, 20*time.Millisecond)
	return resp
}

func TestServer_CreateAndGetBatch(t *testing.T) {
	srv, _ := newTestServer(t)
	createBatch(t, srv, "b1", "Open", "Save")

	var resp batch.BatchStatus
	rec := getJSON(t, srv, "/api/batches/b1", &resp)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "b1", resp.Batch.ID)
	assert.Equal(t, batch.StatusPending, resp.Batch.Status)
	assert.Equal(t, 2, resp.Batch.TotalUnits)
	assert.False(t, resp.Active)

	rec = getJSON(t, srv, "/api/batches/ghost", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestServer_TranslateRunsToCompletion(t *testing.T) {
	srv, _ := newTestServer(t)
	createBatch(t, srv, "b1", "Open file", "Save file")

	rec := postJSON(t, srv, "/api/batches/b1/translate", translateRequest{})
	require.Equal(t, http.StatusAccepted, rec.Code, rec.Body.String())

	resp := waitForStatus(t, srv, "b1", batch.StatusCompleted)
	assert.Equal(t, 2, resp.Batch.SuccessfulUnits)

	var records []batch.TranslationRecord
	rec = getJSON(t, srv, "/api/batches/b1/translations", &records)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Len(t, records, 2)
	assert.Equal(t, "tr:Open file", records[0].TargetText)
}

func TestServer_TranslateUnknownBatchIs400(t *testing.T) {
	srv, _ := newTestServer(t)
	rec := postJSON(t, srv, "/api/batches/ghost/translate", translateRequest{})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestServer_ControlEndpointsRequireRunningBatch(t *testing.T) {
	srv, _ := newTestServer(t)
	createBatch(t, srv, "b1", "Open")

	rec := postJSON(t, srv, "/api/batches/b1/pause", struct{}{})
	assert.Equal(t, http.StatusNotFound, rec.Code)
	rec = postJSON(t, srv, "/api/batches/b1/resume", struct{}{})
	assert.Equal(t, http.StatusNotFound, rec.Code)
	rec = postJSON(t, srv, "/api/batches/b1/cancel", cancelRequest{Reason: "test"})
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestServer_Estimate(t *testing.T) {
	srv, _ := newTestServer(t)
	createBatch(t, srv, "b1", "Open file", "Save file")

	rec := postJSON(t, srv, "/api/batches/b1/estimate", translateRequest{})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var est batch.Estimate
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &est))
	assert.Equal(t, 2, est.TotalUnits)
	assert.Equal(t, 0, est.TmResolvableUnits)
	assert.Equal(t, 500, est.InputTokens)
	assert.Equal(t, 1250, est.TotalTokens)
}

func TestServer_Statistics(t *testing.T) {
	srv, _ := newTestServer(t)
	createBatch(t, srv, "b1", "Open file")

	rec := postJSON(t, srv, "/api/batches/b1/translate", translateRequest{})
	require.Equal(t, http.StatusAccepted, rec.Code)
	waitForStatus(t, srv, "b1", batch.StatusCompleted)

	var stats struct {
		Batches   batch.Statistics `json:"batches"`
		TMEntries int64            `json:"tm_entries"`
	}
	rec = getJSON(t, srv, "/api/statistics", &stats)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 1, stats.Batches.TotalBatches)
	assert.Equal(t, 1, stats.Batches.CompletedBatches)
	assert.Equal(t, int64(1), stats.TMEntries, "provider translation is written back to the TM")

	rec = getJSON(t, srv, "/api/statistics?since=not-a-time", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestServer_TranslateParallel(t *testing.T) {
	srv, _ := newTestServer(t)
	createBatch(t, srv, "b1", "Alpha line")
	createBatch(t, srv, "b2", "Beta line")

	rec := postJSON(t, srv, "/api/translate-parallel", translateParallelRequest{
		BatchIDs: []string{"b1", "b2"},
	})
	require.Equal(t, http.StatusAccepted, rec.Code, rec.Body.String())

	waitForStatus(t, srv, "b1", batch.StatusCompleted)
	waitForStatus(t, srv, "b2", batch.StatusCompleted)
}

func TestServer_ListBatches(t *testing.T) {
	srv, _ := newTestServer(t)
	createBatch(t, srv, "b1", "Open")
	createBatch(t, srv, "b2", "Save")

	var batches []batch.Batch
	rec := getJSON(t, srv, "/api/batches", &batches)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, batches, 2)
}

func TestServer_BatchEventsStreamEndsAfterTerminal(t *testing.T) {
	srv, _ := newTestServer(t)
	createBatch(t, srv, "b1", "Open file")

	rec := postJSON(t, srv, "/api/batches/b1/translate", translateRequest{})
	require.Equal(t, http.StatusAccepted, rec.Code)
	waitForStatus(t, srv, "b1", batch.StatusCompleted)

	req := httptest.NewRequest(http.MethodGet, "/api/batches/b1/events", nil)
	events := httptest.NewRecorder()
	srv.Handler().ServeHTTP(events, req)

	require.Equal(t, http.StatusOK, events.Code)
	assert.Equal(t, "text/event-stream", events.Header().Get("Content-Type"))
	assert.Contains(t, events.Body.String(), `"status":"completed"`)
}

func TestServer_CreateBatchValidation(t *testing.T) {
	srv, _ := newTestServer(t)

	rec := postJSON(t, srv, "/api/batches", createBatchRequest{ID: "b1"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	req := httptest.NewRequest(http.MethodPost, "/api/batches", bytes.NewReader([]byte("{bad")))
	raw := httptest.NewRecorder()
	srv.Handler().ServeHTTP(raw, req)
	assert.Equal(t, http.StatusBadRequest, raw.Code)
}
