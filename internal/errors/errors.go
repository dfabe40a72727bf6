package errors

import (
	"errors"
	"fmt"
)

// Error is the structured error type for hybridrag.
// It carries enough context for logging, MCP mapping and CLI output.
type Error struct {
	// Code is the unique error code (e.g., "ERR_403_INVALID_QUERY").
	Code string

	// Message is the human-readable error message.
	Message string

	Category Category
	Severity Severity

	// Details contains additional context as key-value pairs.
	Details map[string]string

	// Cause is the underlying error that caused this error.
	Cause error

	// Retryable indicates if the operation can be retried.
	Retryable bool

	// Suggestion is an actionable suggestion for the user.
	Suggestion string
}

// Error implements the error interface.
func (e *Error) Error() string {
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap returns the underlying cause for error chain support.
func (e *Error) Unwrap() error {
	return e.Cause
}

// Is matches errors by code, so errors.Is(err, ErrRetrievalUnavailable) works
// regardless of message or cause.
func (e *Error) Is(target error) bool {
	if t, ok := target.(*Error); ok {
		return e.Code == t.Code
	}
	return false
}

// WithDetail adds a key-value detail to the error.
func (e *Error) WithDetail(key, value string) *Error {
	if e.Details == nil {
		e.Details = make(map[string]string)
	}
	e.Details[key] = value
	return e
}

// WithSuggestion adds an actionable suggestion for the user.
func (e *Error) WithSuggestion(suggestion string) *Error {
	e.Suggestion = suggestion
	return e
}

// New creates a new Error with the given code and message.
// Category, severity, and retryable flag are derived from the code.
func New(code string, message string, cause error) *Error {
	return &Error{
		Code:      code,
		Message:   message,
		Category:  categoryFromCode(code),
		Severity:  severityFromCode(code),
		Cause:     cause,
		Retryable: isRetryableCode(code),
	}
}

// Wrap creates an Error from an existing error.
func Wrap(code string, err error) *Error {
	if err == nil {
		return nil
	}
	return New(code, err.Error(), err)
}

// Sentinels for errors.Is matching. Matching is by code only.
var (
	ErrInvalidQuery         = &Error{Code: ErrCodeInvalidQuery}
	ErrQueryEmpty           = &Error{Code: ErrCodeQueryEmpty}
	ErrInvalidPersona       = &Error{Code: ErrCodeInvalidPersona}
	ErrBackendUnavailable   = &Error{Code: ErrCodeBackendUnavailable}
	ErrRetrievalUnavailable = &Error{Code: ErrCodeRetrievalUnavailable}
	ErrQueryTimeout         = &Error{Code: ErrCodeQueryTimeout}
	ErrEmbeddingFailed      = &Error{Code: ErrCodeEmbeddingFailed}
	ErrBatchFailed          = &Error{Code: ErrCodeBatchFailed}
	ErrInvalidRecord        = &Error{Code: ErrCodeInvalidRecord}
	ErrDimensionMismatch    = &Error{Code: ErrCodeDimensionMismatch}
)

// ConfigError creates a configuration-related error.
func ConfigError(message string, cause error) *Error {
	return New(ErrCodeConfigInvalid, message, cause)
}

// StorageError creates a catalog or index storage error.
func StorageError(message string, cause error) *Error {
	return New(ErrCodeStoreOpen, message, cause)
}

// ValidationError creates a validation-related error.
func ValidationError(message string, cause error) *Error {
	return New(ErrCodeInvalidInput, message, cause)
}

// InvalidQuery creates an InvalidQuery error. These are raised before any
// backend is contacted.
func InvalidQuery(message string) *Error {
	return New(ErrCodeInvalidQuery, message, nil)
}

// InternalError creates an internal error.
func InternalError(message string, cause error) *Error {
	return New(ErrCodeInternal, message, cause)
}

// IsRetryable checks if an error is retryable.
// Walks the chain so wrapped *Error values are honoured.
func IsRetryable(err error) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Retryable
	}
	return false
}

// IsFatal checks if an error has fatal severity.
func IsFatal(err error) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Severity == SeverityFatal
	}
	return false
}

// GetCode extracts the error code from the first *Error in the chain.
// Returns empty string if there is none.
func GetCode(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return ""
}

// GetCategory extracts the category from the first *Error in the chain.
func GetCategory(err error) Category {
	var e *Error
	if errors.As(err, &e) {
		return e.Category
	}
	return ""
}

// FormatForCLI formats an error for terminal output.
func FormatForCLI(err error) string {
	if err == nil {
		return ""
	}

	var e *Error
	if !errors.As(err, &e) {
		e = Wrap(ErrCodeInternal, err)
	}

	s := fmt.Sprintf("Error: %s\n", e.Message)
	if e.Suggestion != "" {
		s += fmt.Sprintf("  Hint: %s\n", e.Suggestion)
	}
	s += fmt.Sprintf("  Code: %s\n", e.Code)
	return s
}

// LogAttrs returns key-value pairs suitable for slog.
func LogAttrs(err error) []any {
	if err == nil {
		return nil
	}

	var e *Error
	if !errors.As(err, &e) {
		return []any{"error", err.Error()}
	}

	attrs := []any{
		"error_code", e.Code,
		"message", e.Message,
		"category", string(e.Category),
		"severity", string(e.Severity),
		"retryable", e.Retryable,
	}
	if e.Cause != nil {
		attrs = append(attrs, "cause", e.Cause.Error())
	}
	for k, v := range e.Details {
		attrs = append(attrs, "detail_"+k, v)
	}
	return attrs
}
