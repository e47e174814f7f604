package httpapi

import (
	"context"
	"net/http"
	"time"

	"github.com/lingvo-tools/tmpipeline/internal/batch"
	"github.com/lingvo-tools/tmpipeline/internal/config"
)

// Store is the persistence surface the API reads and writes directly,
// alongside what the orchestrator does on its own.
type Store interface {
	CreateBatch(ctx context.Context, b *batch.Batch) error
	GetBatch(ctx context.Context, batchID string) (*batch.Batch, error)
	ListBatches(ctx context.Context, ids []string, since time.Time) ([]batch.Batch, error)
	AddUnits(ctx context.Context, batchID string, units []batch.TranslationUnit) error
	ListTranslations(ctx context.Context, batchID string) ([]batch.TranslationRecord, error)
	TMEntryCount(ctx context.Context) (int64, error)
}

type Server struct {
	cfg   *config.Config
	store Store
	orch  *batch.Orchestrator

	mux    *http.ServeMux
	server *http.Server
}

func NewServer(cfg *config.Config, store Store, orch *batch.Orchestrator) *Server {
	s := &Server{
		cfg:   cfg,
		store: store,
		orch:  orch,
		mux:   http.NewServeMux(),
	}
	s.routes()
	return s
}

func (s *Server) Handler() http.Handler {
	return s.mux
}

func (s *Server) ListenAndServe(addr string) error {
	s.server = &http.Server{
		Addr:              addr,
		Handler:           s.mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	return s.server.ListenAndServe()
}

func (s *Server) Shutdown(ctx context.Context) error {
	if s.server == nil {
		return nil
	}
	return s.server.Shutdown(ctx)
}

func (s *Server) routes() {
	s.mux.HandleFunc("/api/batches", s.handleBatches)
	s.mux.HandleFunc("/api/batches/", s.handleBatchByID)
	s.mux.HandleFunc("/api/translate-parallel", s.handleTranslateParallel)
	s.mux.HandleFunc("/api/statistics", s.handleStatistics)
}
