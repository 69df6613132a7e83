package errors

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAppErrorMessage(t *testing.T) {
	inner := errors.New("unexpected token at line 3")
	err := Wrap(inner, CodeQueryError, "query execution failed", CategoryUser)

	assert.Equal(t, "[QUERY_ERROR] query execution failed: unexpected token at line 3", err.Error())
	assert.Equal(t, "query execution failed", UserMessage(err))
	assert.ErrorIs(t, err, inner)
}

func TestWrapNil(t *testing.T) {
	assert.Nil(t, Wrap(nil, CodeLoadError, "x", CategoryPermanent))
}

func TestHasCodeThroughChain(t *testing.T) {
	base := NotLoaded()
	wrapped := fmt.Errorf("dispatch: %w", Wrap(base, CodeInvalidToolCall, "tool failed", CategoryUser))

	assert.True(t, HasCode(wrapped, CodeNotLoaded))
	assert.True(t, HasCode(wrapped, CodeInvalidToolCall))
	assert.False(t, HasCode(wrapped, CodeSearchError))
	assert.Equal(t, CodeInvalidToolCall, Code(wrapped))
}

func TestIsMatchesCode(t *testing.T) {
	err := fmt.Errorf("outer: %w", InvalidQuery("no SELECT"))
	assert.ErrorIs(t, err, &AppError{Code: CodeInvalidQuery})
	assert.NotErrorIs(t, err, &AppError{Code: CodeQueryError})
}

func TestIsTimeout(t *testing.T) {
	assert.True(t, IsTimeout(context.DeadlineExceeded))
	assert.True(t, IsTimeout(BackendTimeout("embedding", context.DeadlineExceeded)))
	assert.False(t, IsTimeout(errors.New("boom")))
}

func TestIsRetryable(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"plain", errors.New("x"), true},
		{"canceled", context.Canceled, false},
		{"temporary", Temporary(CodeModelUnavailable, "down"), true},
		{"user", InvalidToolCall("bad %s", "args"), false},
		{"timeout", BackendTimeout("model", nil), true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, IsRetryable(tt.err))
		})
	}
}

func TestFormatUserMessage(t *testing.T) {
	msg := FormatUserMessage(NotLoaded())
	require.Contains(t, msg, "no ontology graph is loaded")
	assert.Contains(t, msg, "Upload an ontology source first")

	assert.Equal(t, "something went wrong", FormatUserMessage(errors.New("db: disk I/O error")))
	assert.Empty(t, FormatUserMessage(nil))
}

func TestCategoryString(t *testing.T) {
	assert.Equal(t, "user", CategoryUser.String())
	assert.Equal(t, "unknown", Category(42).String())
}
