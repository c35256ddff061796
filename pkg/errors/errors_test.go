package errors

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCallNotFoundError(t *testing.T) {
	err := CallNotFoundError()
	assert.Equal(t, ErrCodeCallNotFound, err.Code)
	assert.Equal(t, http.StatusNotFound, err.StatusCode)
	assert.Contains(t, err.Error(), "Call not found")
}

func TestDatabaseErrorWrapsCause(t *testing.T) {
	cause := errors.New("connection refused")
	err := DatabaseError(cause)

	assert.Equal(t, ErrCodeDatabase, err.Code)
	assert.Equal(t, http.StatusInternalServerError, err.StatusCode)
	assert.ErrorIs(t, err, cause)
}

func TestGetAppErrorPassesThrough(t *testing.T) {
	original := CallNotFoundError()

	got := GetAppError(fmt.Errorf("wrapped: %w", original))
	assert.Equal(t, ErrCodeInternal, got.Code, "wrapped AppErrors are not unwrapped")

	got = GetAppError(original)
	require.Same(t, original, got)
	assert.Equal(t, http.StatusNotFound, got.StatusCode)
}

func TestGetAppErrorWrapsUnknown(t *testing.T) {
	got := GetAppError(errors.New("boom"))
	assert.Equal(t, ErrCodeInternal, got.Code)
	assert.Equal(t, http.StatusInternalServerError, got.StatusCode)
}

func TestIsAppError(t *testing.T) {
	assert.True(t, IsAppError(ValidationError("bad input")))
	assert.False(t, IsAppError(errors.New("plain")))
}
