package batch

import (
	"errors"
	"fmt"
)

type ErrorType string

const (
	ErrorTypeEmptyBatch    ErrorType = "empty_batch"
	ErrorTypeCancelled     ErrorType = "cancelled"
	ErrorTypeValidation    ErrorType = "validation"
	ErrorTypeOrchestration ErrorType = "orchestration"
	ErrorTypeProvider      ErrorType = "provider"
)

// PipelineError carries a stable type code plus free-form context so callers
// can branch on the kind of failure without parsing messages.
type PipelineError struct {
	Type    ErrorType
	Message string
	Context map[string]interface{}
	Cause   error
}

func (e *PipelineError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Type, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Type, e.Message)
}

func (e *PipelineError) Unwrap() error {
	return e.Cause
}

func (e *PipelineError) WithContext(key string, value interface{}) *PipelineError {
	if e.Context == nil {
		e.Context = make(map[string]interface{})
	}
	e.Context[key] = value
	return e
}

func NewPipelineError(t ErrorType, message string, cause error) *PipelineError {
	return &PipelineError{Type: t, Message: message, Cause: cause}
}

// IsErrorType reports whether err (or anything it wraps) is a PipelineError
// of the given type.
func IsErrorType(err error, t ErrorType) bool {
	var pe *PipelineError
	if errors.As(err, &pe) {
		return pe.Type == t
	}
	return false
}

func newEmptyBatchError(batchID string) *PipelineError {
	return NewPipelineError(ErrorTypeEmptyBatch, "batch has no units to process", nil).
		WithContext("batch_id", batchID)
}

func newCancelledError(batchID, reason string) *PipelineError {
	msg := "batch cancelled"
	if reason != "" {
		msg = fmt.Sprintf("batch cancelled: %s", reason)
	}
	return NewPipelineError(ErrorTypeCancelled, msg, nil).
		WithContext("batch_id", batchID).
		WithContext("reason", reason)
}
