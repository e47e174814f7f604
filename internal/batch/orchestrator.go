package batch

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/lingvo-tools/tmpipeline/internal/dedup"
	"github.com/lingvo-tools/tmpipeline/internal/glossary"
	"github.com/lingvo-tools/tmpipeline/internal/limiter"
	"github.com/lingvo-tools/tmpipeline/internal/provider"
	"github.com/lingvo-tools/tmpipeline/internal/tm"
	"github.com/lingvo-tools/tmpipeline/internal/validation"
	"github.com/lingvo-tools/tmpipeline/pkg/log"
)

const (
	defaultSubBatchSize = 20
	defaultEventBuffer  = 64
)

// Config tunes orchestrator behavior. Zero values fall back to defaults.
type Config struct {
	SubBatchSize   int
	UnitsPerMinute int // throughput assumption for duration estimates
	EventBuffer    int
}

func (c Config) withDefaults() Config {
	if c.SubBatchSize <= 0 {
		c.SubBatchSize = defaultSubBatchSize
	}
	if c.UnitsPerMinute <= 0 {
		c.UnitsPerMinute = 120
	}
	if c.EventBuffer <= 0 {
		c.EventBuffer = defaultEventBuffer
	}
	return c
}

// Deps are the collaborators a batch run needs. Semaphore and rate limiters
// are shared across all batches of the process; the orchestrator never
// creates its own.
type Deps struct {
	Units        UnitRepository
	Batches      BatchRepository
	Translations TranslationStore
	Matcher      *tm.Matcher
	Dedup        *dedup.Cache
	Semaphore    *limiter.Semaphore
	Limiters     map[string]*limiter.RateLimiter // keyed by provider code
	Providers    map[string]provider.Service
	Keys         SecretSource
	Validator    *validation.Validator
	Sink         EventSink
}

// Orchestrator drives batches through validation, unit loading, TM lookup,
// provider translation and persistence. One orchestrator serves the whole
// process; each TranslateBatch call runs in its own goroutine.
type Orchestrator struct {
	deps    Deps
	cfg     Config
	tracker *Tracker
}

func NewOrchestrator(deps Deps, cfg Config) *Orchestrator {
	if deps.Sink == nil {
		deps.Sink = LogSink{}
	}
	return &Orchestrator{
		deps:    deps,
		cfg:     cfg.withDefaults(),
		tracker: NewTracker(),
	}
}

// Tracker exposes the live progress and control surface (pause, resume,
// cancel) for running batches.
func (o *Orchestrator) Tracker() *Tracker {
	return o.tracker
}

// Shutdown cancels every in-flight batch. Callers should drain the event
// channels they hold; each closes after its terminal event.
func (o *Orchestrator) Shutdown(reason string) {
	o.tracker.CancelAll(reason)
}

// BatchStatus combines the stored batch row with the live progress snapshot
// when the batch is running.
type BatchStatus struct {
	*Batch
	Active   bool           `json:"active"`
	Progress *BatchProgress `json:"progress,omitempty"`
}

// GetBatchStatus returns the current state of a batch, live or historical.
func (o *Orchestrator) GetBatchStatus(ctx context.Context, batchID string) (*BatchStatus, error) {
	b, err := o.deps.Batches.GetBatch(ctx, batchID)
	if err != nil {
		return nil, NewPipelineError(ErrorTypeOrchestration, "loading batch failed", err).
			WithContext("batch_id", batchID)
	}
	if b == nil {
		return nil, NewPipelineError(ErrorTypeValidation, "batch not found", nil).
			WithContext("batch_id", batchID)
	}
	status := &BatchStatus{Batch: b}
	if progress, ok := o.tracker.Progress(batchID); ok {
		status.Active = true
		status.Progress = &progress
	}
	return status, nil
}

// ValidateBatch checks the preconditions of a run without starting it.
func (o *Orchestrator) ValidateBatch(ctx context.Context, batchID string, tctx TranslationContext) error {
	if batchID == "" {
		return NewPipelineError(ErrorTypeValidation, "batch id is required", nil)
	}
	if tctx.SourceLanguage == "" || tctx.TargetLanguage == "" {
		return NewPipelineError(ErrorTypeValidation, "source and target language are required", nil).
			WithContext("batch_id", batchID)
	}
	if _, ok := o.deps.Providers[tctx.ProviderCode]; !ok {
		return NewPipelineError(ErrorTypeValidation,
			fmt.Sprintf("unknown provider %q", tctx.ProviderCode), nil).
			WithContext("batch_id", batchID)
	}
	b, err := o.deps.Batches.GetBatch(ctx, batchID)
	if err != nil {
		return NewPipelineError(ErrorTypeOrchestration, "loading batch failed", err).
			WithContext("batch_id", batchID)
	}
	if b == nil {
		return NewPipelineError(ErrorTypeValidation, "batch not found", nil).
			WithContext("batch_id", batchID)
	}
	if b.Status == StatusCompleted {
		return NewPipelineError(ErrorTypeValidation, "batch is already completed", nil).
			WithContext("batch_id", batchID)
	}
	return nil
}

// TranslateBatch starts a batch run and returns its progress stream. The
// stream receives intermediate progress snapshots and exactly one terminal
// event, then closes. A batch id can only run once at a time.
func (o *Orchestrator) TranslateBatch(ctx context.Context, batchID string, tctx TranslationContext) (<-chan ProgressEvent, error) {
	if err := o.ValidateBatch(ctx, batchID, tctx); err != nil {
		return nil, err
	}
	st, err := o.tracker.register(batchID, o.cfg.EventBuffer)
	if err != nil {
		return nil, err
	}
	go o.run(ctx, st, batchID, tctx)
	return st.events, nil
}

func (o *Orchestrator) run(ctx context.Context, st *batchState, batchID string, tctx TranslationContext) {
	start := time.Now()
	defer func() {
		o.tracker.unregister(batchID)
		close(st.events)
	}()

	b, err := o.deps.Batches.GetBatch(ctx, batchID)
	if err != nil || b == nil {
		o.failBatch(ctx, st, &Batch{ID: batchID}, start,
			NewPipelineError(ErrorTypeOrchestration, "loading batch failed", err))
		return
	}

	o.setPhase(st, PhaseLoadingUnits, StatusInProgress)
	units, err := o.deps.Units.LoadUnits(ctx, batchID)
	if err != nil {
		o.failBatch(ctx, st, b, start,
			NewPipelineError(ErrorTypeOrchestration, "loading units failed", err))
		return
	}
	if len(units) == 0 {
		o.failBatch(ctx, st, b, start, newEmptyBatchError(batchID))
		return
	}

	o.tracker.mutate(st, func(p *BatchProgress) { p.TotalUnits = len(units) })
	b.Status = StatusInProgress
	b.TotalUnits = len(units)
	if err := o.deps.Batches.UpdateBatch(ctx, b); err != nil {
		log.Warn("Batch %s: persisting in-progress status failed: %v", batchID, err)
	}
	o.deps.Sink.BatchStarted(batchID, len(units), tctx.ProviderCode)
	o.emit(st, false, "")

	// Skip units already translated by an earlier attempt of this batch.
	already, err := o.deps.Translations.TranslatedUnitIDs(ctx, batchID)
	if err != nil {
		log.Warn("Batch %s: loading translated unit ids failed, not resuming: %v", batchID, err)
		already = nil
	}
	remaining := make([]TranslationUnit, 0, len(units))
	for _, u := range units {
		if already[u.ID] {
			continue
		}
		remaining = append(remaining, u)
	}
	if skipped := len(units) - len(remaining); skipped > 0 {
		log.Info("Batch %s: resuming, %d units already translated", batchID, skipped)
		o.tracker.mutate(st, func(p *BatchProgress) {
			p.SkippedUnits = skipped
			p.ProcessedUnits = skipped
		})
	}

	if err := st.token.checkpoint(ctx, batchID); err != nil {
		o.cancelBatch(ctx, st, b, err)
		return
	}

	// TM lookup resolves what it can before the provider sees anything.
	o.setPhase(st, PhaseTmLookup, StatusInProgress)
	needLLM, err := o.applyMemoryMatches(ctx, st, batchID, tctx, remaining)
	if err != nil {
		o.failBatch(ctx, st, b, start, err)
		return
	}
	o.emit(st, false, "")

	if err := st.token.checkpoint(ctx, batchID); err != nil {
		o.cancelBatch(ctx, st, b, err)
		return
	}

	o.setPhase(st, PhaseProviderTranslation, StatusInProgress)
	svc := o.deps.Providers[tctx.ProviderCode]
	apiKey := ""
	if o.deps.Keys != nil {
		apiKey, err = o.deps.Keys.APIKey(tctx.ProviderCode)
		if err != nil {
			o.failBatch(ctx, st, b, start,
				NewPipelineError(ErrorTypeOrchestration, "resolving provider credentials failed", err))
			return
		}
	}

	subSize := o.cfg.SubBatchSize
	if tctx.SubBatchSize > 0 {
		subSize = tctx.SubBatchSize
	}
	for _, sub := range chunkUnits(needLLM, subSize) {
		if err := st.token.checkpoint(ctx, batchID); err != nil {
			o.cancelBatch(ctx, st, b, err)
			return
		}
		records, tokensUsed, err := o.translateSubBatch(ctx, batchID, tctx, svc, apiKey, sub)
		if err != nil {
			if IsErrorType(err, ErrorTypeCancelled) {
				o.cancelBatch(ctx, st, b, err)
				return
			}
			o.failBatch(ctx, st, b, start, err)
			return
		}
		if err := o.saveRecords(ctx, st, batchID, records, tokensUsed); err != nil {
			o.failBatch(ctx, st, b, start, err)
			return
		}
		o.emit(st, false, "")
	}

	o.setPhase(st, PhaseValidationPersistence, StatusInProgress)
	final := o.tracker.mutate(st, func(p *BatchProgress) {
		p.Status = StatusCompleted
		p.Phase = PhaseDone
	})
	b.Status = StatusCompleted
	b.SuccessfulUnits = final.SuccessfulUnits
	b.FailedUnits = final.FailedUnits
	b.SkippedUnits = final.SkippedUnits
	if err := o.deps.Batches.UpdateBatch(ctx, b); err != nil {
		log.Warn("Batch %s: persisting completed status failed: %v", batchID, err)
	}
	o.deps.Sink.BatchCompleted(batchID, final.SuccessfulUnits, final.FailedUnits, time.Since(start))
	o.emit(st, true, "")
}

// applyMemoryMatches resolves units from the TM, persists the auto-applied
// ones and returns the units that still need the provider.
func (o *Orchestrator) applyMemoryMatches(ctx context.Context, st *batchState, batchID string, tctx TranslationContext, units []TranslationUnit) ([]TranslationUnit, error) {
	var (
		records []TranslationRecord
		needLLM []TranslationUnit
	)
	for _, u := range units {
		m, err := o.deps.Matcher.FindBestMatch(ctx, u.SourceText, tctx.TargetLanguage, u.Category)
		if err != nil {
			log.Warn("Batch %s: TM lookup for unit %s failed: %v", batchID, u.ID, err)
			m = nil
		}
		if m == nil || !m.AutoApplied {
			needLLM = append(needLLM, u)
			continue
		}
		records = append(records, TranslationRecord{
			UnitID:         u.ID,
			SourceText:     u.SourceText,
			TargetText:     m.TargetText,
			TargetLanguage: tctx.TargetLanguage,
			Origin:         OriginTM,
			Similarity:     m.Similarity,
		})
		if err := o.deps.Matcher.RecordUsage(ctx, m.EntryID); err != nil {
			log.Debug("Batch %s: recording TM usage for %s failed: %v", batchID, m.EntryID, err)
		}
	}

	if len(records) > 0 {
		if err := o.deps.Translations.SaveTranslations(ctx, batchID, records); err != nil {
			return nil, NewPipelineError(ErrorTypeOrchestration, "saving TM translations failed", err).
				WithContext("batch_id", batchID)
		}
	}
	total := len(units)
	o.tracker.mutate(st, func(p *BatchProgress) {
		p.SuccessfulUnits += len(records)
		p.ProcessedUnits += len(records)
		if total > 0 {
			p.TmReuseRate = float64(len(records)) / float64(total)
		}
	})
	return needLLM, nil
}

type pendingUnit struct {
	unit TranslationUnit
	hash string
}

type waitingUnit struct {
	unit   TranslationUnit
	handle *dedup.PendingHandle
}

// translateSubBatch pushes one sub-batch through dedup, the shared semaphore,
// the provider rate limiter and the provider itself. It returns the records
// to persist; a returned error is batch-fatal.
func (o *Orchestrator) translateSubBatch(ctx context.Context, batchID string, tctx TranslationContext, svc provider.Service, apiKey string, units []TranslationUnit) ([]TranslationRecord, int, error) {
	var (
		toTranslate []pendingUnit
		waiting     []waitingUnit
		records     []TranslationRecord
	)
	for _, u := range units {
		hash := tm.SourceHash(u.SourceText) + ":" + tctx.TargetLanguage
		if o.deps.Dedup == nil {
			toTranslate = append(toTranslate, pendingUnit{unit: u, hash: ""})
			continue
		}
		if o.deps.Dedup.RegisterPending(hash, batchID) {
			toTranslate = append(toTranslate, pendingUnit{unit: u, hash: hash})
			continue
		}
		switch res := o.deps.Dedup.Lookup(hash); res.State {
		case dedup.Hit:
			records = append(records, o.buildRecord(u, res.Translation, tctx, OriginDedup))
		case dedup.Pending:
			waiting = append(waiting, waitingUnit{unit: u, handle: res.Handle})
		default:
			toTranslate = append(toTranslate, pendingUnit{unit: u, hash: hash})
		}
	}

	tokensUsed := 0
	if len(toTranslate) > 0 {
		recs, used, err := o.callProvider(ctx, batchID, tctx, svc, apiKey, toTranslate)
		if err != nil {
			return nil, 0, err
		}
		records = append(records, recs...)
		tokensUsed += used
	}

	// Waiters piggyback on another batch's in-flight call. If the producer
	// fails them, translate the stragglers with a direct call of our own.
	var stragglers []pendingUnit
	for _, w := range waiting {
		translation, ok, err := w.handle.Wait(ctx)
		if err != nil {
			return nil, tokensUsed, newCancelledError(batchID, err.Error())
		}
		if ok {
			records = append(records, o.buildRecord(w.unit, translation, tctx, OriginDedup))
			continue
		}
		hash := ""
		if o.deps.Dedup != nil && o.deps.Dedup.RegisterPending(tm.SourceHash(w.unit.SourceText)+":"+tctx.TargetLanguage, batchID) {
			hash = tm.SourceHash(w.unit.SourceText) + ":" + tctx.TargetLanguage
		}
		stragglers = append(stragglers, pendingUnit{unit: w.unit, hash: hash})
	}
	if len(stragglers) > 0 {
		recs, used, err := o.callProvider(ctx, batchID, tctx, svc, apiKey, stragglers)
		if err != nil {
			return nil, tokensUsed, err
		}
		records = append(records, recs...)
		tokensUsed += used
	}
	return records, tokensUsed, nil
}

// callProvider performs one provider request under the concurrency semaphore
// and the provider's rate limiter, validates each translation and feeds the
// dedup cache and the TM write-back.
func (o *Orchestrator) callProvider(ctx context.Context, batchID string, tctx TranslationContext, svc provider.Service, apiKey string, pending []pendingUnit) ([]TranslationRecord, int, error) {
	texts := make([]string, len(pending))
	for i, p := range pending {
		texts[i] = p.unit.SourceText
	}
	req := provider.Request{
		SourceLanguage: tctx.SourceLanguage,
		TargetLanguage: tctx.TargetLanguage,
		Model:          tctx.Model,
		Texts:          texts,
		GlossaryTerms:  glossary.Match(tctx.GlossaryTerms, texts),
		ProjectContext: tctx.ProjectContext,
		MaxTokens:      tctx.MaxTokens,
		Temperature:    tctx.Temperature,
	}

	var resp *provider.Response
	err := o.deps.Semaphore.Execute(ctx, func() error {
		if rl, ok := o.deps.Limiters[tctx.ProviderCode]; ok && rl != nil {
			if err := rl.Acquire(ctx, svc.EstimateTokens(req)); err != nil {
				return err
			}
		}
		var callErr error
		resp, callErr = svc.Translate(ctx, req, apiKey)
		return callErr
	})
	if err != nil {
		o.failPending(pending)
		if ctx.Err() != nil {
			return nil, 0, newCancelledError(batchID, ctx.Err().Error())
		}
		return nil, 0, err
	}
	if len(resp.Translations) != len(pending) {
		o.failPending(pending)
		return nil, 0, NewPipelineError(ErrorTypeProvider,
			fmt.Sprintf("provider returned %d translations for %d texts", len(resp.Translations), len(pending)), nil).
			WithContext("batch_id", batchID)
	}

	records := make([]TranslationRecord, 0, len(pending))
	for i, p := range pending {
		translated := resp.Translations[i]
		issues := o.deps.Validator.Validate(p.unit.SourceText, translated, p.unit.Key, tctx.TargetLanguage)
		if validation.HasErrors(issues) {
			log.Warn("Batch %s: unit %s failed validation: %v", batchID, p.unit.ID, issues)
			if p.hash != "" {
				o.deps.Dedup.Fail(p.hash)
			}
			records = append(records, TranslationRecord{
				UnitID:         p.unit.ID,
				SourceText:     p.unit.SourceText,
				TargetLanguage: tctx.TargetLanguage,
				Origin:         OriginProvider,
				Warnings:       issueMessages(issues),
			})
			continue
		}
		rec := o.buildRecord(p.unit, translated, tctx, OriginProvider)
		rec.Warnings = issueMessages(issues)
		records = append(records, rec)
		if p.hash != "" {
			o.deps.Dedup.Complete(p.hash, translated)
		}
		o.writeBack(ctx, batchID, p.unit, translated, tctx)
	}
	return records, resp.TokensUsed, nil
}

func (o *Orchestrator) failPending(pending []pendingUnit) {
	if o.deps.Dedup == nil {
		return
	}
	for _, p := range pending {
		if p.hash != "" {
			o.deps.Dedup.Fail(p.hash)
		}
	}
}

// writeBack stores a fresh provider translation into the TM so later batches
// can reuse it. Best effort.
func (o *Orchestrator) writeBack(ctx context.Context, batchID string, u TranslationUnit, translated string, tctx TranslationContext) {
	entry := tm.Entry{
		ID:         uuid.NewString(),
		SourceHash: tm.SourceHash(u.SourceText),
		SourceText: u.SourceText,
		TargetText: translated,
		SourceLang: tctx.SourceLanguage,
		TargetLang: tctx.TargetLanguage,
		Category:   u.Category,
		UpdatedAt:  time.Now(),
	}
	if err := o.deps.Matcher.Store(ctx, entry); err != nil {
		log.Warn("Batch %s: TM write-back for unit %s failed: %v", batchID, u.ID, err)
	}
}

func (o *Orchestrator) buildRecord(u TranslationUnit, translated string, tctx TranslationContext, origin TranslationOrigin) TranslationRecord {
	return TranslationRecord{
		UnitID:         u.ID,
		SourceText:     u.SourceText,
		TargetText:     translated,
		TargetLanguage: tctx.TargetLanguage,
		Origin:         origin,
	}
}

// saveRecords persists one sub-batch's worth of records and folds the
// outcome into the progress counters.
func (o *Orchestrator) saveRecords(ctx context.Context, st *batchState, batchID string, records []TranslationRecord, tokensUsed int) error {
	saved := make([]TranslationRecord, 0, len(records))
	failed := 0
	for _, r := range records {
		if r.TargetText == "" {
			failed++
			continue
		}
		saved = append(saved, r)
	}
	if len(saved) > 0 {
		if err := o.deps.Translations.SaveTranslations(ctx, batchID, saved); err != nil {
			return NewPipelineError(ErrorTypeOrchestration, "saving translations failed", err).
				WithContext("batch_id", batchID)
		}
	}
	o.tracker.mutate(st, func(p *BatchProgress) {
		p.SuccessfulUnits += len(saved)
		p.FailedUnits += failed
		p.ProcessedUnits += len(records)
		p.TokensUsed += tokensUsed
	})
	return nil
}

func (o *Orchestrator) failBatch(ctx context.Context, st *batchState, b *Batch, start time.Time, cause error) {
	snap := o.tracker.mutate(st, func(p *BatchProgress) {
		p.Status = StatusFailed
		p.Phase = PhaseDone
	})
	if o.deps.Dedup != nil {
		o.deps.Dedup.CancelBatch(b.ID)
	}
	b.Status = StatusFailed
	b.SuccessfulUnits = snap.SuccessfulUnits
	b.FailedUnits = snap.FailedUnits
	b.SkippedUnits = snap.SkippedUnits
	// Empty batches are terminal, not retried.
	if !IsErrorType(cause, ErrorTypeEmptyBatch) {
		b.RetryCount++
	}
	if err := o.deps.Batches.UpdateBatch(context.WithoutCancel(ctx), b); err != nil {
		log.Warn("Batch %s: persisting failed status failed: %v", b.ID, err)
	}
	o.deps.Sink.BatchFailed(b.ID, cause.Error(), snap.SuccessfulUnits, b.RetryCount)
	log.Error("Batch %s failed after %s (retryable=%t): %v",
		b.ID, time.Since(start).Round(time.Millisecond), provider.IsRetryable(cause), cause)
	o.emit(st, true, cause.Error())
}

func (o *Orchestrator) cancelBatch(ctx context.Context, st *batchState, b *Batch, cause error) {
	snap := o.tracker.mutate(st, func(p *BatchProgress) {
		p.Status = StatusCancelled
		p.Phase = PhaseDone
	})
	if o.deps.Dedup != nil {
		o.deps.Dedup.CancelBatch(b.ID)
	}
	b.Status = StatusCancelled
	b.SuccessfulUnits = snap.SuccessfulUnits
	b.FailedUnits = snap.FailedUnits
	b.SkippedUnits = snap.SkippedUnits
	if err := o.deps.Batches.UpdateBatch(context.WithoutCancel(ctx), b); err != nil {
		log.Warn("Batch %s: persisting cancelled status failed: %v", b.ID, err)
	}
	o.deps.Sink.BatchCancelled(b.ID, cause.Error(), snap.SuccessfulUnits)
	o.emit(st, true, cause.Error())
}

func (o *Orchestrator) setPhase(st *batchState, phase Phase, status Status) {
	o.tracker.mutate(st, func(p *BatchProgress) {
		p.Phase = phase
		p.Status = status
	})
}

// emit sends a progress snapshot. Intermediate events are dropped when the
// subscriber lags; the terminal event always lands, evicting the oldest
// buffered event if needed.
func (o *Orchestrator) emit(st *batchState, terminal bool, errMsg string) {
	snap, _ := o.tracker.Progress(st.progress.BatchID)
	ev := ProgressEvent{Progress: snap, Terminal: terminal, Error: errMsg}
	if !terminal {
		select {
		case st.events <- ev:
		default:
		}
		return
	}
	for {
		select {
		case st.events <- ev:
			return
		default:
			select {
			case <-st.events:
			default:
			}
		}
	}
}

func chunkUnits(units []TranslationUnit, size int) [][]TranslationUnit {
	if len(units) == 0 {
		return nil
	}
	var out [][]TranslationUnit
	for start := 0; start < len(units); start += size {
		end := start + size
		if end > len(units) {
			end = len(units)
		}
		out = append(out, units[start:end])
	}
	return out
}

func issueMessages(issues []validation.Issue) []string {
	if len(issues) == 0 {
		return nil
	}
	msgs := make([]string, len(issues))
	for i, is := range issues {
		msgs[i] = is.Message
	}
	return msgs
}
