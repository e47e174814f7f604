package httpapi

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/lingvo-tools/tmpipeline/internal/batch"
	"github.com/lingvo-tools/tmpipeline/internal/glossary"
	"github.com/lingvo-tools/tmpipeline/pkg/log"
)

type createBatchRequest struct {
	ID    string                  `json:"id,omitempty"`
	Name  string                  `json:"name"`
	Units []batch.TranslationUnit `json:"units"`
}

func (s *Server) handleBatches(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		s.handleCreateBatch(w, r)
	case http.MethodGet:
		s.handleListBatches(w, r)
	default:
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
	}
}

func (s *Server) handleCreateBatch(w http.ResponseWriter, r *http.Request) {
	var req createBatchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if len(req.Units) == 0 {
		writeError(w, http.StatusBadRequest, "units are required")
		return
	}
	if req.ID == "" {
		req.ID = uuid.NewString()
	}
	for i := range req.Units {
		if req.Units[i].ID == "" {
			req.Units[i].ID = uuid.NewString()
		}
	}

	b := &batch.Batch{ID: req.ID, Name: req.Name, Status: batch.StatusPending}
	if err := s.store.CreateBatch(r.Context(), b); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if err := s.store.AddUnits(r.Context(), req.ID, req.Units); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	created, err := s.store.GetBatch(r.Context(), req.ID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusCreated, created)
}

func (s *Server) handleListBatches(w http.ResponseWriter, r *http.Request) {
	since, ok := parseSince(w, r)
	if !ok {
		return
	}
	batches, err := s.store.ListBatches(r.Context(), nil, since)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, batches)
}

// handleBatchByID dispatches /api/batches/{id} and /api/batches/{id}/{action}.
func (s *Server) handleBatchByID(w http.ResponseWriter, r *http.Request) {
	rest := strings.TrimPrefix(r.URL.Path, "/api/batches/")
	parts := strings.SplitN(strings.Trim(rest, "/"), "/", 2)
	batchID := parts[0]
	if batchID == "" {
		writeError(w, http.StatusBadRequest, "missing batch id")
		return
	}
	action := ""
	if len(parts) == 2 {
		action = parts[1]
	}

	switch action {
	case "":
		s.handleBatchStatus(w, r, batchID)
	case "translations":
		s.handleBatchTranslations(w, r, batchID)
	case "translate":
		s.handleTranslate(w, r, batchID)
	case "estimate":
		s.handleEstimate(w, r, batchID)
	case "events":
		s.handleBatchEvents(w, r, batchID)
	case "pause":
		s.handleControl(w, r, batchID, s.orch.Tracker().Pause)
	case "resume":
		s.handleControl(w, r, batchID, s.orch.Tracker().Resume)
	case "cancel":
		s.handleCancel(w, r, batchID)
	default:
		writeError(w, http.StatusNotFound, "not found")
	}
}

func (s *Server) handleBatchStatus(w http.ResponseWriter, r *http.Request, batchID string) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	status, err := s.orch.GetBatchStatus(r.Context(), batchID)
	if err != nil {
		if batch.IsErrorType(err, batch.ErrorTypeValidation) {
			writeError(w, http.StatusNotFound, "batch not found")
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, status)
}

func (s *Server) handleBatchTranslations(w http.ResponseWriter, r *http.Request, batchID string) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	records, err := s.store.ListTranslations(r.Context(), batchID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, records)
}

type translateRequest struct {
	SourceLanguage string  `json:"source_language,omitempty"`
	TargetLanguage string  `json:"target_language,omitempty"`
	Provider       string  `json:"provider,omitempty"`
	Model          string  `json:"model,omitempty"`
	ProjectContext string  `json:"project_context,omitempty"`
	SubBatchSize   int     `json:"sub_batch_size,omitempty"`
	Temperature    float32 `json:"temperature,omitempty"`
}

// translationContext fills request gaps from configured defaults and attaches
// the glossary for the language pair.
func (s *Server) translationContext(req translateRequest) batch.TranslationContext {
	tctx := batch.TranslationContext{
		SourceLanguage: req.SourceLanguage,
		TargetLanguage: req.TargetLanguage,
		ProviderCode:   req.Provider,
		Model:          req.Model,
		ProjectContext: req.ProjectContext,
		SubBatchSize:   req.SubBatchSize,
		MaxTokens:      s.cfg.Providers.MaxTokens,
		Temperature:    req.Temperature,
	}
	if tctx.SourceLanguage == "" {
		tctx.SourceLanguage = s.cfg.System.SourceLanguage.String()
	}
	if tctx.TargetLanguage == "" {
		tctx.TargetLanguage = s.cfg.System.TargetLanguage.String()
	}
	if tctx.ProviderCode == "" {
		tctx.ProviderCode = s.cfg.Providers.Default
	}
	if tctx.Model == "" {
		tctx.Model = s.cfg.Providers.Model
	}
	if tctx.Temperature == 0 {
		tctx.Temperature = float32(s.cfg.Providers.Temperature)
	}

	g, err := glossary.Load(glossary.FilePath(s.cfg.System.GlossaryDir, tctx.SourceLanguage, tctx.TargetLanguage))
	if err != nil {
		log.Warn("Loading glossary for %s-%s failed: %v", tctx.SourceLanguage, tctx.TargetLanguage, err)
	} else if len(g) > 0 {
		tctx.GlossaryTerms = g
	}
	return tctx
}

func (s *Server) handleTranslate(w http.ResponseWriter, r *http.Request, batchID string) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	var req translateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	tctx := s.translationContext(req)

	events, err := s.orch.TranslateBatch(context.Background(), batchID, tctx)
	if err != nil {
		writeError(w, statusForPipelineError(err), err.Error())
		return
	}
	// The run outlives this request; progress is served by the status and
	// events endpoints.
	go func() {
		for range events {
		}
	}()
	writeJSON(w, http.StatusAccepted, map[string]any{
		"batch_id": batchID,
		"status":   batch.StatusInProgress,
	})
}

func (s *Server) handleEstimate(w http.ResponseWriter, r *http.Request, batchID string) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	var req translateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	est, err := s.orch.EstimateBatch(r.Context(), batchID, s.translationContext(req))
	if err != nil {
		writeError(w, statusForPipelineError(err), err.Error())
		return
	}
	writeJSON(w, http.StatusOK, est)
}

func (s *Server) handleControl(w http.ResponseWriter, r *http.Request, batchID string, control func(string) bool) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	if !control(batchID) {
		writeError(w, http.StatusNotFound, "batch is not running")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"batch_id": batchID})
}

type cancelRequest struct {
	Reason string `json:"reason,omitempty"`
}

func (s *Server) handleCancel(w http.ResponseWriter, r *http.Request, batchID string) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	var req cancelRequest
	_ = json.NewDecoder(r.Body).Decode(&req)
	if req.Reason == "" {
		req.Reason = "cancelled via API"
	}
	if !s.orch.Tracker().Cancel(batchID, req.Reason) {
		writeError(w, http.StatusNotFound, "batch is not running")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"batch_id": batchID})
}

type translateParallelRequest struct {
	BatchIDs    []string         `json:"batch_ids"`
	Request     translateRequest `json:"request"`
	MaxParallel int              `json:"max_parallel,omitempty"`
}

func (s *Server) handleTranslateParallel(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	var req translateParallelRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if len(req.BatchIDs) == 0 {
		writeError(w, http.StatusBadRequest, "batch_ids are required")
		return
	}
	if req.MaxParallel <= 0 {
		req.MaxParallel = s.cfg.Limits.MaxParallelBatches
	}
	tctx := s.translationContext(req.Request)
	reqs := make([]batch.RunRequest, len(req.BatchIDs))
	for i, id := range req.BatchIDs {
		reqs[i] = batch.RunRequest{BatchID: id, Context: tctx}
	}

	events, err := s.orch.TranslateBatchesParallel(context.Background(), reqs, req.MaxParallel)
	if err != nil {
		writeError(w, statusForPipelineError(err), err.Error())
		return
	}
	go func() {
		for range events {
		}
	}()
	writeJSON(w, http.StatusAccepted, map[string]any{
		"batch_ids":    req.BatchIDs,
		"max_parallel": req.MaxParallel,
	})
}

func (s *Server) handleStatistics(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	since, ok := parseSince(w, r)
	if !ok {
		return
	}
	var ids []string
	if raw := r.URL.Query().Get("ids"); raw != "" {
		ids = strings.Split(raw, ",")
	}
	stats, err := s.orch.GetBatchStatistics(r.Context(), ids, since)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	tmCount, err := s.store.TMEntryCount(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"batches":    stats,
		"tm_entries": tmCount,
	})
}

func parseSince(w http.ResponseWriter, r *http.Request) (time.Time, bool) {
	raw := r.URL.Query().Get("since")
	if raw == "" {
		return time.Time{}, true
	}
	since, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		writeError(w, http.StatusBadRequest, "since must be RFC3339")
		return time.Time{}, false
	}
	return since, true
}

func statusForPipelineError(err error) int {
	switch {
	case batch.IsErrorType(err, batch.ErrorTypeValidation):
		return http.StatusBadRequest
	case batch.IsErrorType(err, batch.ErrorTypeEmptyBatch):
		return http.StatusUnprocessableEntity
	case batch.IsErrorType(err, batch.ErrorTypeOrchestration):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]any{
		"error": msg,
	})
}
