package httpapi

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/lingvo-tools/tmpipeline/internal/batch"
)

// handleBatchEvents streams progress snapshots for one batch as server-sent
// events. The stream ends when the batch leaves the tracker (terminal) or the
// client disconnects.
func (s *Server) handleBatchEvents(w http.ResponseWriter, r *http.Request, batchID string) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming not supported")
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	send := func() (live bool) {
		progress, active := s.orch.Tracker().Progress(batchID)
		if !active {
			// Batch finished (or never ran); send the stored terminal state
			// once and end the stream.
			b, err := s.store.GetBatch(r.Context(), batchID)
			if err != nil || b == nil {
				return false
			}
			progress = batch.BatchProgress{
				BatchID:         b.ID,
				Status:          b.Status,
				Phase:           batch.PhaseDone,
				TotalUnits:      b.TotalUnits,
				ProcessedUnits:  b.SuccessfulUnits + b.FailedUnits + b.SkippedUnits,
				SuccessfulUnits: b.SuccessfulUnits,
				FailedUnits:     b.FailedUnits,
				SkippedUnits:    b.SkippedUnits,
				UpdatedAt:       b.UpdatedAt,
			}
		}
		payload, err := json.Marshal(progress)
		if err != nil {
			return false
		}
		if _, err := fmt.Fprintf(w, "data: %s\n\n", payload); err != nil {
			return false
		}
		flusher.Flush()
		return active
	}

	if !send() {
		return
	}

	ticker := time.NewTicker(1 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case <-ticker.C:
			if !send() {
				return
			}
		}
	}
}
