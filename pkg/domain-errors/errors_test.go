package domainerrors

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestHasCode(t *testing.T) {
	base := New(CodeConflict, "duplicate vote").WithReason("duplicate_vote")
	wrapped := fmt.Errorf("cast vote: %w", base)

	assert.True(t, HasCode(wrapped, CodeConflict))
	assert.False(t, HasCode(wrapped, CodeNotFound))
	assert.True(t, HasReason(wrapped, "duplicate_vote"))
	assert.Equal(t, CodeConflict, CodeOf(wrapped))
	assert.Equal(t, "duplicate_vote", ReasonOf(wrapped))
}

func TestCodeOfPlainError(t *testing.T) {
	err := errors.New("boom")
	assert.Equal(t, CodeInternal, CodeOf(err))
	assert.Equal(t, "", ReasonOf(err))
}

func TestWrapUnwraps(t *testing.T) {
	cause := errors.New("connection reset")
	err := Wrap(cause, CodeInternal, "failed to save")

	assert.ErrorIs(t, err, cause)
	assert.Equal(t, "failed to save: connection reset", err.Error())
}

func TestWithReasonDoesNotMutate(t *testing.T) {
	base := New(CodeConflict, "conflict")
	_ = base.WithReason("x")
	assert.Equal(t, "", base.Reason)
}
