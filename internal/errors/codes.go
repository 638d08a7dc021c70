// Package errors provides structured error handling for corpusqa.
//
// Error codes follow the pattern ERR_XXX_DESCRIPTION where:
//   - 1XX: Configuration errors
//   - 2XX: Storage errors (chunk store, indexes)
//   - 3XX: Backend errors (embedding, generation, cache transport)
//   - 4XX: Validation errors
//   - 5XX: Internal errors
//   - 6XX: Capacity and deadline errors
package errors

// Kind classifies an error for API mapping and caller branching.
type Kind string

const (
	// KindInvalidInput indicates a malformed or oversized request.
	KindInvalidInput Kind = "INVALID_INPUT"
	// KindOverloaded indicates the generation queue is full.
	KindOverloaded Kind = "OVERLOADED"
	// KindBackendUnavailable indicates a required backend stayed down
	// after bounded retry.
	KindBackendUnavailable Kind = "BACKEND_UNAVAILABLE"
	// KindDeadlineExceeded indicates the request deadline elapsed.
	KindDeadlineExceeded Kind = "DEADLINE_EXCEEDED"
	// KindInsufficientEvidence indicates retrieval produced no usable
	// passages. This is a well-formed answer condition, not a failure.
	KindInsufficientEvidence Kind = "INSUFFICIENT_EVIDENCE"
	// KindGenerationTimeout indicates the generation backend exceeded
	// its stage timeout.
	KindGenerationTimeout Kind = "GENERATION_TIMEOUT"
	// KindInternal indicates an unexpected internal failure.
	KindInternal Kind = "INTERNAL"
)

// Severity defines error severity levels.
type Severity string

const (
	// SeverityFatal indicates unrecoverable error, must abort.
	SeverityFatal Severity = "FATAL"
	// SeverityError indicates operation failed but can continue.
	SeverityError Severity = "ERROR"
	// SeverityWarning indicates degraded operation, continuing.
	SeverityWarning Severity = "WARNING"
)

// Error codes organized by category.
const (
	// Config errors (100-199)
	ErrCodeConfigNotFound = "ERR_101_CONFIG_NOT_FOUND"
	ErrCodeConfigInvalid  = "ERR_102_CONFIG_INVALID"

	// Storage errors (200-299)
	ErrCodeStoreUnavailable = "ERR_201_STORE_UNAVAILABLE"
	ErrCodeCorruptIndex     = "ERR_202_CORRUPT_INDEX"
	ErrCodeChunkNotFound    = "ERR_203_CHUNK_NOT_FOUND"

	// Backend errors (300-399)
	ErrCodeBackendTimeout     = "ERR_301_BACKEND_TIMEOUT"
	ErrCodeBackendUnavailable = "ERR_302_BACKEND_UNAVAILABLE"
	ErrCodeEmbeddingFailed    = "ERR_303_EMBEDDING_FAILED"
	ErrCodeGenerationFailed   = "ERR_304_GENERATION_FAILED"
	ErrCodeGenerationTimeout  = "ERR_305_GENERATION_TIMEOUT"
	ErrCodeCacheUnavailable   = "ERR_306_CACHE_UNAVAILABLE"

	// Validation errors (400-499)
	ErrCodeInvalidInput = "ERR_401_INVALID_INPUT"
	ErrCodeQueryEmpty   = "ERR_402_QUERY_EMPTY"
	ErrCodeQueryTooLong = "ERR_403_QUERY_TOO_LONG"

	// Internal errors (500-599)
	ErrCodeInternal             = "ERR_501_INTERNAL"
	ErrCodeSearchFailed         = "ERR_502_SEARCH_FAILED"
	ErrCodeInsufficientEvidence = "ERR_503_INSUFFICIENT_EVIDENCE"

	// Capacity and deadline errors (600-699)
	ErrCodeOverloaded       = "ERR_601_OVERLOADED"
	ErrCodeDeadlineExceeded = "ERR_602_DEADLINE_EXCEEDED"
)

// kindFromCode maps an error code to its Kind.
func kindFromCode(code string) Kind {
	switch code {
	case ErrCodeInvalidInput, ErrCodeQueryEmpty, ErrCodeQueryTooLong:
		return KindInvalidInput
	case ErrCodeOverloaded:
		return KindOverloaded
	case ErrCodeBackendTimeout, ErrCodeBackendUnavailable, ErrCodeEmbeddingFailed,
		ErrCodeCacheUnavailable, ErrCodeStoreUnavailable:
		return KindBackendUnavailable
	case ErrCodeDeadlineExceeded:
		return KindDeadlineExceeded
	case ErrCodeInsufficientEvidence:
		return KindInsufficientEvidence
	case ErrCodeGenerationTimeout:
		return KindGenerationTimeout
	default:
		return KindInternal
	}
}

// severityFromCode determines severity based on error code.
func severityFromCode(code string) Severity {
	switch code {
	case ErrCodeCorruptIndex:
		return SeverityFatal
	}
	if isRetryableCode(code) {
		return SeverityWarning
	}
	return SeverityError
}

// isRetryableCode checks if an error code represents a retryable error.
func isRetryableCode(code string) bool {
	switch code {
	case ErrCodeBackendTimeout, ErrCodeBackendUnavailable, ErrCodeCacheUnavailable:
		return true
	default:
		return false
	}
}
