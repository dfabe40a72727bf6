package errors

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestError_Unwrap_PreservesCause(t *testing.T) {
	// Given: an original error
	cause := errors.New("connection refused")

	// When: wrapping it
	err := New(ErrCodeBackendUnavailable, "lexical backend unavailable", cause)

	// Then: the chain reaches the cause
	require.NotNil(t, err)
	assert.Equal(t, cause, errors.Unwrap(err))
	assert.True(t, errors.Is(err, cause))
}

func TestError_Error_ReturnsFormattedMessage(t *testing.T) {
	tests := []struct {
		name     string
		code     string
		message  string
		expected string
	}{
		{"config", ErrCodeConfigInvalid, "bad rrf_k", "[ERR_102_CONFIG_INVALID] bad rrf_k"},
		{"query", ErrCodeInvalidQuery, "empty query", "[ERR_403_INVALID_QUERY] empty query"},
		{"retrieval", ErrCodeRetrievalUnavailable, "all backends failed", "[ERR_302_RETRIEVAL_UNAVAILABLE] all backends failed"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, New(tt.code, tt.message, nil).Error())
		})
	}
}

func TestError_Is_MatchesSentinelByCode(t *testing.T) {
	err := fmt.Errorf("search: %w", New(ErrCodeRetrievalUnavailable, "no backend returned", nil))

	assert.True(t, errors.Is(err, ErrRetrievalUnavailable))
	assert.False(t, errors.Is(err, ErrInvalidQuery))
}

func TestCategoryAndSeverity_DerivedFromCode(t *testing.T) {
	tests := []struct {
		code     string
		category Category
		severity Severity
		retry    bool
	}{
		{ErrCodeConfigNotFound, CategoryConfig, SeverityError, false},
		{ErrCodeStoreCorrupt, CategoryStorage, SeverityFatal, false},
		{ErrCodeBackendUnavailable, CategoryRetrieval, SeverityWarning, true},
		{ErrCodeEmbeddingUnavailable, CategoryRetrieval, SeverityWarning, true},
		{ErrCodeInvalidPersona, CategoryValidation, SeverityError, false},
		{ErrCodeBatchFailed, CategoryInternal, SeverityError, false},
	}

	for _, tt := range tests {
		t.Run(tt.code, func(t *testing.T) {
			err := New(tt.code, "x", nil)
			assert.Equal(t, tt.category, err.Category)
			assert.Equal(t, tt.severity, err.Severity)
			assert.Equal(t, tt.retry, err.Retryable)
		})
	}
}

func TestHelpers_WalkWrappedChain(t *testing.T) {
	inner := New(ErrCodeEmbeddingUnavailable, "ollama down", nil)
	err := fmt.Errorf("embed batch 3: %w", inner)

	assert.True(t, IsRetryable(err))
	assert.False(t, IsFatal(err))
	assert.Equal(t, ErrCodeEmbeddingUnavailable, GetCode(err))
	assert.Equal(t, CategoryRetrieval, GetCategory(err))
	assert.Equal(t, "", GetCode(errors.New("plain")))
}

func TestWrap_NilReturnsNil(t *testing.T) {
	assert.Nil(t, Wrap(ErrCodeInternal, nil))
}

func TestFormatForCLI_IncludesHintAndCode(t *testing.T) {
	err := InvalidQuery("query text is empty").WithSuggestion("pass a non-empty query")

	out := FormatForCLI(err)

	assert.Contains(t, out, "Error: query text is empty")
	assert.Contains(t, out, "Hint: pass a non-empty query")
	assert.Contains(t, out, "Code: ERR_403_INVALID_QUERY")
	assert.Contains(t, FormatForCLI(errors.New("boom")), "ERR_501_INTERNAL")
}

func TestLogAttrs(t *testing.T) {
	err := New(ErrCodeBatchFailed, "batch 2 rolled back", errors.New("constraint failed")).
		WithDetail("batch", "2")

	attrs := LogAttrs(err)

	assert.Contains(t, attrs, "ERR_504_BATCH_FAILED")
	assert.Contains(t, attrs, "constraint failed")
	assert.Contains(t, attrs, "detail_batch")
	assert.Equal(t, []any{"error", "plain"}, LogAttrs(errors.New("plain")))
}
