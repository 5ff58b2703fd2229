// Package exception provides the error types used throughout the Shoreline
// ingestion engine. Errors raised inside pipeline stages are classified as
// transient (retryable) or permanent; the tracker's retry decision and the
// failure artifact both build on this classification.
package exception

import (
	"errors"
	"fmt"
)

// Sentinel errors for the engine's failure taxonomy.
var (
	// ErrMissingRequiredField indicates that the value needed for delta
	// detection is absent from the incoming row. Never retried.
	ErrMissingRequiredField = errors.New("missing required field")

	// ErrUnknownStageType indicates a stage with an unrecognized type reached
	// execution. This is a configuration error and is never retried; graph
	// compilation rejects it at startup where possible.
	ErrUnknownStageType = errors.New("unknown stage type")

	// ErrCommitFailed indicates that the batch-level storage commit itself
	// failed. Every tentatively successful record in the batch is demoted.
	ErrCommitFailed = errors.New("batch commit failed")
)

// PipelineError is the error type raised by engine components. It carries the
// module where the error occurred, a concise message, the wrapped cause and a
// flag indicating whether the error is transient.
type PipelineError struct {
	// Module indicates where the error occurred (e.g. "tracker", "processor",
	// "writer", "config").
	Module string
	// Message is a concise description of the error.
	Message string
	// OriginalErr is the wrapped original error.
	OriginalErr error
	// isRetryable indicates whether this error is transient.
	isRetryable bool
}

// NewPipelineError creates a new PipelineError instance.
func NewPipelineError(module, message string, originalErr error, isRetryable bool) *PipelineError {
	return &PipelineError{
		Module:      module,
		Message:     message,
		OriginalErr: originalErr,
		isRetryable: isRetryable,
	}
}

// NewTransientError creates a retryable PipelineError. Any failure raised by a
// stage executor is transient unless classified otherwise.
func NewTransientError(module, message string, originalErr error) *PipelineError {
	return NewPipelineError(module, message, originalErr, true)
}

// NewPermanentError creates a non-retryable PipelineError.
func NewPermanentError(module, message string, originalErr error) *PipelineError {
	return NewPipelineError(module, message, originalErr, false)
}

// Error implements the error interface.
func (e *PipelineError) Error() string {
	if e.OriginalErr != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Module, e.Message, e.OriginalErr)
	}
	return fmt.Sprintf("[%s] %s", e.Module, e.Message)
}

// Unwrap returns the original error for errors.Is / errors.As.
func (e *PipelineError) Unwrap() error {
	return e.OriginalErr
}

// IsRetryable returns whether this error is transient.
func (e *PipelineError) IsRetryable() bool {
	return e.isRetryable
}

// IsRetryable classifies an arbitrary error. A PipelineError answers through
// its flag; the taxonomy sentinels are always permanent; anything else raised
// inside a stage executor is treated as transient, per the engine's contract
// that opaque stage failures are retried up to the configured limit.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	var pe *PipelineError
	if errors.As(err, &pe) {
		return pe.IsRetryable()
	}
	if errors.Is(err, ErrMissingRequiredField) ||
		errors.Is(err, ErrUnknownStageType) ||
		errors.Is(err, ErrCommitFailed) {
		return false
	}
	return true
}

// ExtractErrorMessage extracts a display-safe message string from an error.
// For PipelineError it returns the cleaner Message field; otherwise the
// standard Error() string. Stack traces never appear in the result, which
// keeps the failure artifact safe to store and display.
func ExtractErrorMessage(err error) string {
	if err == nil {
		return ""
	}
	var pe *PipelineError
	if errors.As(err, &pe) {
		if pe.OriginalErr != nil {
			return fmt.Sprintf("%s: %s", pe.Message, ExtractErrorMessage(pe.OriginalErr))
		}
		return pe.Message
	}
	return err.Error()
}
