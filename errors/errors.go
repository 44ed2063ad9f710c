// Package errors provides the unified error taxonomy for the transcription
// pipeline. It implements structured error types with machine-readable codes,
// retryable detection, and cause wrapping.
package errors

import (
	stderrors "errors"
	"fmt"
)

// JobError is the unified error type surfaced by orchestration components.
type JobError struct {
	// Code is a machine-readable error code.
	Code Code `json:"code"`
	// Message is a human-readable error message. Adapter errors keep the
	// remote-provided message verbatim.
	Message string `json:"message"`
	// Retryable indicates if a fresh attempt may be started for the job.
	Retryable bool `json:"retryable"`
	// StatusCode is the remote HTTP status, when the error originated from
	// a provider response.
	StatusCode int `json:"-"`
	// Details contains additional context for the error.
	Details map[string]any `json:"details,omitempty"`
	// Cause is the underlying error.
	Cause error `json:"-"`
}

// Error returns the string representation of the error.
func (e *JobError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s (cause: %v)", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the underlying cause of the error.
func (e *JobError) Unwrap() error { return e.Cause }

// WithCause sets the underlying cause and returns the receiver.
func (e *JobError) WithCause(cause error) *JobError {
	e.Cause = cause
	return e
}

// WithDetail sets a single detail key-value pair and returns the receiver.
func (e *JobError) WithDetail(key string, value any) *JobError {
	if e.Details == nil {
		e.Details = make(map[string]any)
	}
	e.Details[key] = value
	return e
}

// New creates a JobError with automatic retryable detection.
func New(code Code, message string) *JobError {
	return &JobError{
		Code:      code,
		Message:   message,
		Retryable: IsRetryableCode(code),
	}
}

// --- Common constructors ---

// Configuration creates an error for a missing or invalid config field.
func Configuration(field, reason string) *JobError {
	return &JobError{
		Code: CodeConfiguration, Message: fmt.Sprintf("invalid configuration: %s: %s", field, reason),
		Retryable: false,
		Details:   map[string]any{"field": field},
	}
}

// MissingField creates an error for a missing required config field.
func MissingField(field string) *JobError {
	return &JobError{
		Code: CodeConfiguration, Message: fmt.Sprintf("missing required field: %s", field),
		Retryable: false,
		Details:   map[string]any{"field": field},
	}
}

// Network creates an error for a transport-level failure.
func Network(operation string, cause error) *JobError {
	return &JobError{
		Code: CodeNetwork, Message: fmt.Sprintf("network failure during %s: %v", operation, cause),
		Retryable: true, Cause: cause,
		Details: map[string]any{"operation": operation},
	}
}

// RemoteRejection creates an error for a non-success provider response.
// The message keeps whatever the provider sent back.
func RemoteRejection(statusCode int, message string) *JobError {
	return &JobError{
		Code: CodeRemoteRejection, Message: message,
		StatusCode: statusCode, Retryable: false,
	}
}

// RemoteJobFailure creates an error for a remote job that reported a failed
// or cancelled terminal status.
func RemoteJobFailure(message string) *JobError {
	return &JobError{
		Code: CodeRemoteJobFailure, Message: message,
		Retryable: true,
	}
}

// Timeout creates an error for an exhausted poll attempt budget.
func Timeout(operation string, attempts int) *JobError {
	return &JobError{
		Code: CodeTimeout, Message: fmt.Sprintf("%s timed out after %d attempts", operation, attempts),
		Retryable: true,
		Details:   map[string]any{"operation": operation, "attempts": attempts},
	}
}

// Cancelled creates an error for a caller-initiated cancellation.
func Cancelled(jobID string) *JobError {
	return &JobError{
		Code: CodeCancelled, Message: "transcription cancelled by user",
		Retryable: true,
		Details:   map[string]any{"job_id": jobID},
	}
}

// RetryExhausted creates an error for a job that reached the retry ceiling.
func RetryExhausted(jobID string, max int) *JobError {
	return &JobError{
		Code: CodeRetryExhausted, Message: fmt.Sprintf("maximum retries exceeded (%d) for job %s", max, jobID),
		Retryable: false,
		Details:   map[string]any{"job_id": jobID, "max_attempts": max},
	}
}

// NotFound creates an error for an unknown job id.
func NotFound(jobID string) *JobError {
	return &JobError{
		Code: CodeNotFound, Message: fmt.Sprintf("unknown job: %s", jobID),
		Retryable: false,
		Details:   map[string]any{"job_id": jobID},
	}
}

// --- Inspection helpers ---

// AsJobError extracts a *JobError from an error chain.
func AsJobError(err error) (*JobError, bool) {
	var je *JobError
	if stderrors.As(err, &je) {
		return je, true
	}
	return nil, false
}

// CodeOf returns the code of err, or empty if err is not a JobError.
func CodeOf(err error) Code {
	if je, ok := AsJobError(err); ok {
		return je.Code
	}
	return ""
}

// IsRetryable reports whether err allows a fresh job-level attempt.
// Non-JobError values are treated as retryable transport surprises.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	if je, ok := AsJobError(err); ok {
		return je.Retryable
	}
	return true
}

// IsCancellation reports whether err represents a user cancellation.
func IsCancellation(err error) bool {
	return CodeOf(err) == CodeCancelled
}
