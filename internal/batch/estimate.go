package batch

import (
	"context"
	"time"

	"github.com/lingvo-tools/tmpipeline/internal/provider"
	"github.com/lingvo-tools/tmpipeline/pkg/log"
)

// EstimateBatch projects token cost and duration for a batch without
// translating anything. Units resolvable from the TM are excluded from the
// provider cost; the token figure assumes a 40% input / 60% output split.
func (o *Orchestrator) EstimateBatch(ctx context.Context, batchID string, tctx TranslationContext) (*Estimate, error) {
	if err := o.ValidateBatch(ctx, batchID, tctx); err != nil {
		return nil, err
	}
	units, err := o.deps.Units.LoadUnits(ctx, batchID)
	if err != nil {
		return nil, NewPipelineError(ErrorTypeOrchestration, "loading units failed", err).
			WithContext("batch_id", batchID)
	}
	if len(units) == 0 {
		return nil, newEmptyBatchError(batchID)
	}

	resolvable := 0
	var needLLM []string
	for _, u := range units {
		m, err := o.deps.Matcher.FindBestMatch(ctx, u.SourceText, tctx.TargetLanguage, u.Category)
		if err != nil {
			log.Debug("Batch %s: estimate TM lookup failed for unit %s: %v", batchID, u.ID, err)
			m = nil
		}
		if m != nil && m.AutoApplied {
			resolvable++
			continue
		}
		needLLM = append(needLLM, u.SourceText)
	}

	est := &Estimate{
		TotalUnits:        len(units),
		TmResolvableUnits: resolvable,
		TmReuseRate:       float64(resolvable) / float64(len(units)),
	}
	if len(needLLM) > 0 {
		svc := o.deps.Providers[tctx.ProviderCode]
		est.InputTokens = svc.EstimateTokens(provider.Request{
			SourceLanguage: tctx.SourceLanguage,
			TargetLanguage: tctx.TargetLanguage,
			Texts:          needLLM,
			GlossaryTerms:  tctx.GlossaryTerms,
			ProjectContext: tctx.ProjectContext,
		})
		est.OutputTokens = est.InputTokens * 3 / 2
		est.TotalTokens = est.InputTokens + est.OutputTokens
		est.EstimatedDuration = time.Duration(len(needLLM)) * time.Minute / time.Duration(o.cfg.UnitsPerMinute)
	}
	return est, nil
}

// GetBatchStatistics aggregates stored batch outcomes. Empty ids means all
// batches; zero since means no time cutoff.
func (o *Orchestrator) GetBatchStatistics(ctx context.Context, ids []string, since time.Time) (*Statistics, error) {
	batches, err := o.deps.Batches.ListBatches(ctx, ids, since)
	if err != nil {
		return nil, NewPipelineError(ErrorTypeOrchestration, "listing batches failed", err)
	}
	stats := &Statistics{}
	for _, b := range batches {
		stats.TotalBatches++
		stats.TotalUnits += b.TotalUnits
		stats.SuccessfulUnits += b.SuccessfulUnits
		stats.FailedUnits += b.FailedUnits
		stats.SkippedUnits += b.SkippedUnits
		switch b.Status {
		case StatusCompleted:
			stats.CompletedBatches++
		case StatusFailed:
			stats.FailedBatches++
		case StatusCancelled:
			stats.CancelledBatches++
		}
	}
	return stats, nil
}
