package batch

import (
	"context"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/lingvo-tools/tmpipeline/internal/limiter"
	"github.com/lingvo-tools/tmpipeline/pkg/log"
)

// MaxParallelBatches is the hard ceiling on concurrently running batches,
// regardless of what the caller requests.
const MaxParallelBatches = 10

// RunRequest names one batch to run with its context.
type RunRequest struct {
	BatchID string             `json:"batch_id"`
	Context TranslationContext `json:"context"`
}

// TranslateBatchesParallel runs several batches concurrently, at most
// maxParallel at a time, and merges their progress streams into one channel.
// The merged channel closes only after every batch has emitted its terminal
// event. A batch that fails to start still contributes a terminal event, so
// consumers can count terminals to know when all batches are accounted for.
func (o *Orchestrator) TranslateBatchesParallel(ctx context.Context, reqs []RunRequest, maxParallel int) (<-chan ProgressEvent, error) {
	if len(reqs) == 0 {
		return nil, NewPipelineError(ErrorTypeValidation, "no batches requested", nil)
	}
	if maxParallel < 1 {
		maxParallel = 1
	}
	if maxParallel > MaxParallelBatches {
		maxParallel = MaxParallelBatches
	}
	if maxParallel > len(reqs) {
		maxParallel = len(reqs)
	}

	out := make(chan ProgressEvent, o.cfg.EventBuffer)
	sem := limiter.NewSemaphore(maxParallel)
	var group errgroup.Group

	log.Info("Running %d batches with parallelism %d", len(reqs), maxParallel)
	for _, req := range reqs {
		req := req
		group.Go(func() error {
			err := sem.Execute(ctx, func() error {
				events, err := o.TranslateBatch(ctx, req.BatchID, req.Context)
				if err != nil {
					return err
				}
				for ev := range events {
					out <- ev
				}
				return nil
			})
			if err != nil {
				// Start failure: synthesize the terminal event this batch
				// never got to emit.
				out <- ProgressEvent{
					Progress: BatchProgress{
						BatchID:   req.BatchID,
						Status:    StatusFailed,
						Phase:     PhaseDone,
						UpdatedAt: time.Now(),
					},
					Terminal: true,
					Error:    err.Error(),
				}
			}
			return nil
		})
	}

	go func() {
		_ = group.Wait()
		close(out)
	}()
	return out, nil
}
