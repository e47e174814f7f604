package batch

import (
	"time"

	"github.com/lingvo-tools/tmpipeline/pkg/log"
)

// LogSink emits lifecycle events to the process log. Used when no other sink
// is wired in.
type LogSink struct{}

func (LogSink) BatchStarted(batchID string, totalUnits int, providerID string) {
	log.Info("Batch %s started: %d units via %s", batchID, totalUnits, providerID)
}

func (LogSink) BatchCompleted(batchID string, completedUnits, failedUnits int, duration time.Duration) {
	log.Info("Batch %s completed: %d translated, %d failed in %s",
		batchID, completedUnits, failedUnits, duration.Round(time.Millisecond))
}

func (LogSink) BatchFailed(batchID string, errorMessage string, completedBeforeFailure, retryCount int) {
	log.Error("Batch %s failed after %d units (retry %d): %s",
		batchID, completedBeforeFailure, retryCount, errorMessage)
}

func (LogSink) BatchCancelled(batchID string, reason string, completedUnits int) {
	log.Warn("Batch %s cancelled after %d units: %s", batchID, completedUnits, reason)
}
