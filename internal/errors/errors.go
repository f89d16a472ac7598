package errors

import (
	"errors"
	"fmt"
	"time"
)

/**
 * Error taxonomy for the alignment worker
 *
 * Only CONFIG_ERROR aborts a batch. Every other code is recorded against
 * the image that produced it and the batch moves on.
 */

// ErrorCode enum for structured error handling
type ErrorCode string

const (
	// Run-level errors
	ErrorConfig ErrorCode = "CONFIG_ERROR"

	// Per-image errors
	ErrorDecode            ErrorCode = "DECODE_ERROR"
	ErrorNotFound          ErrorCode = "NOT_FOUND"
	ErrorGeometry          ErrorCode = "GEOMETRY_ERROR"
	ErrorIO                ErrorCode = "IO_ERROR"
	ErrorOCRFailed         ErrorCode = "OCR_FAILED"
	ErrorProcessingTimeout ErrorCode = "PROCESSING_TIMEOUT"
)

// WordNotFoundReason is the reason recorded when no token matches the target.
const WordNotFoundReason = "word not found"

// ProcessingError represents a structured processing error
type ProcessingError struct {
	Code      ErrorCode
	Message   string
	Image     string
	Timestamp time.Time
	Details   map[string]interface{}
	Cause     error
}

func (e *ProcessingError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s (caused by: %v)", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *ProcessingError) Unwrap() error {
	return e.Cause
}

// WithImage returns a copy of the error attributed to image.
func (e *ProcessingError) WithImage(image string) *ProcessingError {
	cp := *e
	cp.Image = image
	return &cp
}

// Factory functions for common errors

func NewConfigError(format string, args ...interface{}) *ProcessingError {
	return &ProcessingError{
		Code:      ErrorConfig,
		Message:   fmt.Sprintf(format, args...),
		Timestamp: time.Now(),
	}
}

func NewDecodeError(image string, cause error) *ProcessingError {
	return &ProcessingError{
		Code:      ErrorDecode,
		Message:   "Failed to decode image",
		Image:     image,
		Timestamp: time.Now(),
		Cause:     cause,
	}
}

func NewNotFoundError(image string, target string) *ProcessingError {
	return &ProcessingError{
		Code:      ErrorNotFound,
		Message:   WordNotFoundReason,
		Image:     image,
		Timestamp: time.Now(),
		Details: map[string]interface{}{
			"target_word": target,
		},
	}
}

func NewGeometryError(image string, format string, args ...interface{}) *ProcessingError {
	return &ProcessingError{
		Code:      ErrorGeometry,
		Message:   fmt.Sprintf(format, args...),
		Image:     image,
		Timestamp: time.Now(),
	}
}

func NewIOError(image string, path string, cause error) *ProcessingError {
	return &ProcessingError{
		Code:      ErrorIO,
		Message:   fmt.Sprintf("Failed to access %s", path),
		Image:     image,
		Timestamp: time.Now(),
		Details: map[string]interface{}{
			"path": path,
		},
		Cause: cause,
	}
}

func NewOCRFailedError(image string, cause error) *ProcessingError {
	return &ProcessingError{
		Code:      ErrorOCRFailed,
		Message:   "OCR failed",
		Image:     image,
		Timestamp: time.Now(),
		Cause:     cause,
	}
}

func NewProcessingTimeoutError(image string, duration time.Duration, cause error) *ProcessingError {
	return &ProcessingError{
		Code:      ErrorProcessingTimeout,
		Message:   fmt.Sprintf("Processing timed out after %v", duration),
		Image:     image,
		Timestamp: time.Now(),
		Details: map[string]interface{}{
			"timeout_duration": duration.String(),
		},
		Cause: cause,
	}
}

// ToMap converts error to map for database storage
func (e *ProcessingError) ToMap() map[string]interface{} {
	result := map[string]interface{}{
		"error_code": string(e.Code),
		"message":    e.Message,
		"timestamp":  e.Timestamp,
	}
	if e.Image != "" {
		result["image"] = e.Image
	}

	for k, v := range e.Details {
		result[k] = v
	}

	if e.Cause != nil {
		result["cause"] = e.Cause.Error()
	}

	return result
}

// CodeOf returns the code of the first ProcessingError in err's chain, or "".
func CodeOf(err error) ErrorCode {
	var pe *ProcessingError
	if errors.As(err, &pe) {
		return pe.Code
	}
	return ""
}

// IsConfigError reports whether err is run-fatal.
func IsConfigError(err error) bool {
	return CodeOf(err) == ErrorConfig
}

// Reason renders err as the short human-readable string stored in batch reports.
func Reason(err error) string {
	if err == nil {
		return ""
	}
	var pe *ProcessingError
	if !errors.As(err, &pe) {
		return err.Error()
	}
	switch pe.Code {
	case ErrorNotFound:
		return WordNotFoundReason
	case ErrorConfig, ErrorGeometry:
		return pe.Message
	}
	if pe.Cause != nil {
		return fmt.Sprintf("%s: %v", pe.Message, pe.Cause)
	}
	return pe.Message
}
