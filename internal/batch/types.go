package batch

import (
	"context"
	"time"
)

type Status string

const (
	StatusPending    Status = "pending"
	StatusInProgress Status = "inProgress"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
	StatusCancelled  Status = "cancelled"
)

// IsTerminal reports whether no further transitions can occur.
func (s Status) IsTerminal() bool {
	return s == StatusCompleted || s == StatusFailed || s == StatusCancelled
}

type Phase string

const (
	PhaseValidating            Phase = "validating"
	PhaseLoadingUnits          Phase = "loadingUnits"
	PhaseTmLookup              Phase = "tmLookup"
	PhaseProviderTranslation   Phase = "providerTranslation"
	PhaseValidationPersistence Phase = "validationPersistence"
	PhaseDone                  Phase = "done"
)

// TranslationUnit is one short text to translate. Immutable once loaded; the
// pipeline never mutates it (translations go to separate records).
type TranslationUnit struct {
	ID         string `json:"id"`
	Key        string `json:"key"`
	SourceText string `json:"source_text"`
	Category   string `json:"category,omitempty"`
}

// TranslationContext carries everything a batch invocation needs. Immutable;
// passed by value through every stage.
type TranslationContext struct {
	ProjectID      string            `json:"project_id"`
	SourceLanguage string            `json:"source_language"`
	TargetLanguage string            `json:"target_language"`
	ProviderCode   string            `json:"provider_code"`
	Model          string            `json:"model"`
	GlossaryTerms  map[string]string `json:"glossary_terms,omitempty"`
	ProjectContext string            `json:"project_context,omitempty"`
	SubBatchSize   int               `json:"sub_batch_size,omitempty"`
	MaxTokens      int               `json:"max_tokens,omitempty"`
	Temperature    float32           `json:"temperature,omitempty"`
}

// Batch is the stored batch record.
type Batch struct {
	ID              string    `json:"id"`
	Name            string    `json:"name"`
	Status          Status    `json:"status"`
	RetryCount      int       `json:"retry_count"`
	TotalUnits      int       `json:"total_units"`
	SuccessfulUnits int       `json:"successful_units"`
	FailedUnits     int       `json:"failed_units"`
	SkippedUnits    int       `json:"skipped_units"`
	CreatedAt       time.Time `json:"created_at"`
	UpdatedAt       time.Time `json:"updated_at"`
}

// BatchProgress is the externally visible state of a running batch. Mutated
// exclusively by the orchestrator for a given batch id; read by any number of
// progress subscribers as snapshots.
type BatchProgress struct {
	BatchID         string    `json:"batch_id"`
	Status          Status    `json:"status"`
	Phase           Phase     `json:"phase"`
	TotalUnits      int       `json:"total_units"`
	ProcessedUnits  int       `json:"processed_units"`
	SuccessfulUnits int       `json:"successful_units"`
	FailedUnits     int       `json:"failed_units"`
	SkippedUnits    int       `json:"skipped_units"`
	TokensUsed      int       `json:"tokens_used"`
	TmReuseRate     float64   `json:"tm_reuse_rate"`
	UpdatedAt       time.Time `json:"updated_at"`
}

// ProgressEvent is one entry in a batch's progress stream. The stream closes
// exactly once, after the terminal event.
type ProgressEvent struct {
	Progress BatchProgress `json:"progress"`
	Terminal bool          `json:"terminal"`
	Error    string        `json:"error,omitempty"`
}

// TranslationOrigin records where a persisted translation came from.
type TranslationOrigin string

const (
	OriginTM       TranslationOrigin = "tm"
	OriginProvider TranslationOrigin = "provider"
	OriginDedup    TranslationOrigin = "dedup"
)

// TranslationRecord is one persisted unit translation (the unit itself stays
// untouched).
type TranslationRecord struct {
	UnitID         string            `json:"unit_id"`
	SourceText     string            `json:"source_text"`
	TargetText     string            `json:"target_text"`
	TargetLanguage string            `json:"target_language"`
	Origin         TranslationOrigin `json:"origin"`
	Similarity     float64           `json:"similarity,omitempty"`
	Warnings       []string          `json:"warnings,omitempty"`
}

// UnitRepository loads the immutable units of a batch.
type UnitRepository interface {
	LoadUnits(ctx context.Context, batchID string) ([]TranslationUnit, error)
}

// BatchRepository reads and updates stored batch records.
type BatchRepository interface {
	GetBatch(ctx context.Context, batchID string) (*Batch, error)
	UpdateBatch(ctx context.Context, b *Batch) error
	ListBatches(ctx context.Context, ids []string, since time.Time) ([]Batch, error)
}

// TranslationStore persists finished translations progressively.
type TranslationStore interface {
	SaveTranslations(ctx context.Context, batchID string, records []TranslationRecord) error
	// TranslatedUnitIDs returns the ids of units that already have a stored
	// translation, so a retried batch resumes from its checkpoint.
	TranslatedUnitIDs(ctx context.Context, batchID string) (map[string]bool, error)
}

// SecretSource resolves a provider API key by provider code.
type SecretSource interface {
	APIKey(providerCode string) (string, error)
}

// EventSink receives batch lifecycle events.
type EventSink interface {
	BatchStarted(batchID string, totalUnits int, providerID string)
	BatchCompleted(batchID string, completedUnits, failedUnits int, duration time.Duration)
	BatchFailed(batchID string, errorMessage string, completedBeforeFailure, retryCount int)
	BatchCancelled(batchID string, reason string, completedUnits int)
}

// Estimate summarizes the expected cost of a batch before running it.
type Estimate struct {
	TotalUnits        int           `json:"total_units"`
	TmResolvableUnits int           `json:"tm_resolvable_units"`
	TmReuseRate       float64       `json:"tm_reuse_rate"`
	InputTokens       int           `json:"input_tokens"`
	OutputTokens      int           `json:"output_tokens"`
	TotalTokens       int           `json:"total_tokens"`
	EstimatedDuration time.Duration `json:"estimated_duration"`
}

// Statistics aggregates terminal outcomes over a set of batches.
type Statistics struct {
	TotalBatches     int `json:"total_batches"`
	CompletedBatches int `json:"completed_batches"`
	FailedBatches    int `json:"failed_batches"`
	CancelledBatches int `json:"cancelled_batches"`
	TotalUnits       int `json:"total_units"`
	SuccessfulUnits  int `json:"successful_units"`
	FailedUnits      int `json:"failed_units"`
	SkippedUnits     int `json:"skipped_units"`
}
