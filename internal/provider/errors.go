package provider

import (
	"context"
	"errors"
	"fmt"
	"net"
	"time"
)

// Category classifies provider failures for the orchestrator's propagation
// policy: auth/quota/invalid-request abort the batch, rate-limited and
// network/timeout are retriable.
type Category int

const (
	CategoryAuthentication Category = iota
	CategoryQuotaExceeded
	CategoryRateLimited
	CategoryInvalidRequest
	CategoryServer
	CategoryNetwork
	CategoryUnknown
)

func (c Category) String() string {
	switch c {
	case CategoryAuthentication:
		return "authentication"
	case CategoryQuotaExceeded:
		return "quota_exceeded"
	case CategoryRateLimited:
		return "rate_limited"
	case CategoryInvalidRequest:
		return "invalid_request"
	case CategoryServer:
		return "server"
	case CategoryNetwork:
		return "network"
	default:
		return "unknown"
	}
}

// Error wraps a vendor SDK failure with a category and an optional
// retry-after hint (rate-limited responses carry one).
type Error struct {
	Category   Category
	Message    string
	RetryAfter time.Duration
	Cause      error
}

func (e *Error) Error() string {
	if e.RetryAfter > 0 {
		return fmt.Sprintf("provider error [%s, retry after %v]: %s", e.Category, e.RetryAfter, e.Message)
	}
	return fmt.Sprintf("provider error [%s]: %s", e.Category, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Cause
}

func NewError(category Category, message string, cause error) *Error {
	return &Error{Category: category, Message: message, Cause: cause}
}

// CategoryOf extracts the category of err, or CategoryUnknown.
func CategoryOf(err error) Category {
	var perr *Error
	if errors.As(err, &perr) {
		return perr.Category
	}
	return CategoryUnknown
}

// IsRetryable reports whether the same batch may be retried by the caller
// without configuration changes.
func IsRetryable(err error) bool {
	switch CategoryOf(err) {
	case CategoryRateLimited, CategoryNetwork, CategoryServer:
		return true
	default:
		return false
	}
}

// categorizeHTTPStatus maps an HTTP status code to a failure category.
func categorizeHTTPStatus(status int) Category {
	switch {
	case status == 401 || status == 403:
		return CategoryAuthentication
	case status == 402:
		return CategoryQuotaExceeded
	case status == 429:
		return CategoryRateLimited
	case status >= 400 && status < 500:
		return CategoryInvalidRequest
	case status >= 500:
		return CategoryServer
	default:
		return CategoryUnknown
	}
}

// categorizeTransport classifies non-HTTP failures (timeouts, DNS, refused
// connections, cancelled contexts).
func categorizeTransport(err error) Category {
	if errors.Is(err, context.DeadlineExceeded) {
		return CategoryNetwork
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return CategoryNetwork
	}
	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return CategoryNetwork
	}
	return CategoryUnknown
}
