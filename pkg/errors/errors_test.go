package errors

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCloneMatchesTemplate(t *testing.T) {
	err := Clone(ErrStaleState, "request already accepted")
	assert.True(t, errors.Is(err, ErrStaleState))
	assert.False(t, errors.Is(err, ErrNoCandidates))
	assert.Equal(t, "request already accepted", err.Message)
	assert.Equal(t, http.StatusConflict, err.Status)
}

func TestFromErrorWrapsUnknown(t *testing.T) {
	raw := fmt.Errorf("boom")
	appErr := FromError(raw)
	assert.Equal(t, ErrInternal.Code, appErr.Code)
	assert.ErrorIs(t, appErr, raw)
}

func TestPersistenceKeepsCause(t *testing.T) {
	cause := fmt.Errorf("connection refused")
	err := Persistence(cause, "failed to create teaching request")
	assert.True(t, errors.Is(err, ErrPersistence))
	assert.ErrorIs(t, err, cause)
	assert.Contains(t, err.Error(), "connection refused")
}
