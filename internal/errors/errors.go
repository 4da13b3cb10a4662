package errors

import (
	stderrors "errors"
	"fmt"
	"time"
)

/**
 * Error taxonomy for the recognition core and its worker
 *
 * Design Pattern: Factory Pattern for error creation
 * Only ResourceExhaustion is fatal; everything else is counted, logged or
 * recorded on the affected word and the run continues.
 */

// ErrorCode enum for structured error handling
type ErrorCode string

const (
	// Recognition and training errors
	ErrorSegmentationConflict  ErrorCode = "SEGMENTATION_CONFLICT"
	ErrorLabelingFailure       ErrorCode = "LABELING_FAILURE"
	ErrorClassificationFailure ErrorCode = "CLASSIFICATION_FAILURE"
	ErrorQualityRejection      ErrorCode = "QUALITY_REJECTION"
	ErrorResourceExhaustion    ErrorCode = "RESOURCE_EXHAUSTION"
	ErrorCancellation          ErrorCode = "CANCELLATION"

	// Worker errors
	ErrorProcessingTimeout ErrorCode = "PROCESSING_TIMEOUT"
	ErrorStorageFailed     ErrorCode = "STORAGE_FAILED"
	ErrorUnsupportedInput  ErrorCode = "UNSUPPORTED_INPUT"
)

// RecognitionError represents a structured recognition error
type RecognitionError struct {
	Code      ErrorCode
	Message   string
	JobID     string
	Timestamp time.Time
	Details   map[string]interface{}
	Cause     error
}

func (e *RecognitionError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s (caused by: %v)", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *RecognitionError) Unwrap() error {
	return e.Cause
}

// WithJob returns e tagged with a job id
func (e *RecognitionError) WithJob(jobID string) *RecognitionError {
	e.JobID = jobID
	return e
}

// Is reports whether err or anything it wraps is a RecognitionError with code
func Is(err error, code ErrorCode) bool {
	var re *RecognitionError
	if stderrors.As(err, &re) {
		return re.Code == code
	}
	return false
}

// IsFatal reports whether err must terminate the run
func IsFatal(err error) bool {
	return Is(err, ErrorResourceExhaustion)
}

// Factory functions for common errors

func NewSegmentationConflictError(label string, box string, rows int) *RecognitionError {
	return &RecognitionError{
		Code:      ErrorSegmentationConflict,
		Message:   fmt.Sprintf("Box for %q overlaps multiple rows", label),
		Timestamp: time.Now(),
		Details: map[string]interface{}{
			"label": label,
			"box":   box,
			"rows":  rows,
		},
	}
}

func NewLabelingFailureError(label string, box string, reason string) *RecognitionError {
	return &RecognitionError{
		Code:      ErrorLabelingFailure,
		Message:   fmt.Sprintf("Box for %q %s", label, reason),
		Timestamp: time.Now(),
		Details: map[string]interface{}{
			"label": label,
			"box":   box,
		},
	}
}

func NewClassificationFailureError(wordID int, language string, cause error) *RecognitionError {
	return &RecognitionError{
		Code:      ErrorClassificationFailure,
		Message:   fmt.Sprintf("Classifier produced no usable result for word %d", wordID),
		Timestamp: time.Now(),
		Details: map[string]interface{}{
			"word_id":  wordID,
			"language": language,
		},
		Cause: cause,
	}
}

func NewQualityRejectionError(level string, rejects, chars int) *RecognitionError {
	return &RecognitionError{
		Code:      ErrorQualityRejection,
		Message:   fmt.Sprintf("%s rejected: %d of %d characters", level, rejects, chars),
		Timestamp: time.Now(),
		Details: map[string]interface{}{
			"level":   level,
			"rejects": rejects,
			"chars":   chars,
		},
	}
}

func NewResourceExhaustionError(resource string, capacity int, cause error) *RecognitionError {
	return &RecognitionError{
		Code:      ErrorResourceExhaustion,
		Message:   fmt.Sprintf("%s capacity %d exceeded", resource, capacity),
		Timestamp: time.Now(),
		Details: map[string]interface{}{
			"resource": resource,
			"capacity": capacity,
		},
		Cause: cause,
	}
}

func NewCancellationError(pass string, done, total int, cause error) *RecognitionError {
	return &RecognitionError{
		Code:      ErrorCancellation,
		Message:   fmt.Sprintf("Recognition cancelled during %s after %d of %d words", pass, done, total),
		Timestamp: time.Now(),
		Details: map[string]interface{}{
			"pass":  pass,
			"done":  done,
			"total": total,
		},
		Cause: cause,
	}
}

func NewProcessingTimeoutError(jobID string, duration time.Duration, cause error) *RecognitionError {
	return &RecognitionError{
		Code:      ErrorProcessingTimeout,
		Message:   fmt.Sprintf("Processing timed out after %v", duration),
		JobID:     jobID,
		Timestamp: time.Now(),
		Details: map[string]interface{}{
			"timeout_duration": duration.String(),
		},
		Cause: cause,
	}
}

func NewStorageFailedError(jobID string, cause error) *RecognitionError {
	return &RecognitionError{
		Code:      ErrorStorageFailed,
		Message:   "Failed to store recognition results",
		JobID:     jobID,
		Timestamp: time.Now(),
		Cause:     cause,
	}
}

func NewUnsupportedInputError(jobID string, what string) *RecognitionError {
	return &RecognitionError{
		Code:      ErrorUnsupportedInput,
		Message:   fmt.Sprintf("Unsupported input: %s", what),
		JobID:     jobID,
		Timestamp: time.Now(),
		Details: map[string]interface{}{
			"input": what,
		},
	}
}

// ToMap converts error to map for database storage
func (e *RecognitionError) ToMap() map[string]interface{} {
	result := map[string]interface{}{
		"error_code": string(e.Code),
		"message":    e.Message,
		"timestamp":  e.Timestamp,
	}

	if e.JobID != "" {
		result["job_id"] = e.JobID
	}

	for k, v := range e.Details {
		result[k] = v
	}

	if e.Cause != nil {
		result["cause"] = e.Cause.Error()
	}

	return result
}
