package schema

import (
	"context"
	"errors"
	"fmt"
	"net"
)

// Error codes for structured error reporting.
const (
	ErrCodeCycleDetected     = "CYCLE_DETECTED"
	ErrCodeValidation        = "VALIDATION_ERROR"
	ErrCodeCredential        = "CREDENTIAL_ERROR"
	ErrCodeUpstream          = "UPSTREAM_ERROR"
	ErrCodeUnknownNodeType   = "UNKNOWN_NODE_TYPE"
	ErrCodeRetryExhausted    = "RETRY_EXHAUSTED"
	ErrCodeNotFound          = "NOT_FOUND"
	ErrCodeConflict          = "CONFLICT"
	ErrCodeInvalidTransition = "INVALID_TRANSITION"
	ErrCodeStore             = "STORE_ERROR"
)

// FlowError is the structured error type for all engine operations.
type FlowError struct {
	Code    string         `json:"code"`
	Message string         `json:"message"`
	Details map[string]any `json:"details,omitempty"`
	NodeID  string         `json:"node_id,omitempty"`
	Cause   error          `json:"-"`
}

func (e *FlowError) Error() string {
	if e.NodeID != "" {
		return fmt.Sprintf("[%s] node %s: %s", e.Code, e.NodeID, e.Message)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

func (e *FlowError) Unwrap() error {
	return e.Cause
}

// IsRetryable reports whether the error code allows the step runner to try again.
// Only upstream failures are transient; everything else is terminal.
func (e *FlowError) IsRetryable() bool {
	return e.Code == ErrCodeUpstream
}

// NewError creates a new FlowError.
func NewError(code, message string) *FlowError {
	return &FlowError{Code: code, Message: message}
}

// NewErrorf creates a new FlowError with a formatted message.
func NewErrorf(code, format string, args ...any) *FlowError {
	return &FlowError{Code: code, Message: fmt.Sprintf(format, args...)}
}

// WithNode attaches a node ID to the error.
func (e *FlowError) WithNode(nodeID string) *FlowError {
	e.NodeID = nodeID
	return e
}

// WithCause attaches an underlying cause.
func (e *FlowError) WithCause(err error) *FlowError {
	e.Cause = err
	return e
}

// WithDetails attaches key-value details.
func (e *FlowError) WithDetails(details map[string]any) *FlowError {
	e.Details = details
	return e
}

// Code returns the FlowError code found in err's chain, or "" if none.
func Code(err error) string {
	var fe *FlowError
	if errors.As(err, &fe) {
		return fe.Code
	}
	return ""
}

// HasCode reports whether err carries a FlowError with the given code.
func HasCode(err error, code string) bool {
	return Code(err) == code
}

// IsRetryable classifies whether an error may be retried by the step runner.
// Classified FlowErrors answer for themselves. Unclassified transport failures
// (network errors, deadlines) are retryable; cancellation and anything else is not.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}

	var fe *FlowError
	if errors.As(err, &fe) {
		return fe.IsRetryable()
	}

	// Cancelled means the process is shutting down.
	if errors.Is(err, context.Canceled) {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}

	var netErr net.Error
	return errors.As(err, &netErr)
}

// IsTerminal is the complement of IsRetryable for non-nil errors.
func IsTerminal(err error) bool {
	return err != nil && !IsRetryable(err)
}
