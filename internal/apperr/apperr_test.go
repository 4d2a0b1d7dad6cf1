package apperr_test

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"

	"soulbomber-arena/internal/apperr"
)

func TestAppError_Is(t *testing.T) {
	roomFull := apperr.New(apperr.CodeConflict, "room is full")
	started := apperr.New(apperr.CodeConflict, "room already started")

	wrapped := fmt.Errorf("join: %w", roomFull)

	assert.ErrorIs(t, wrapped, roomFull)
	assert.ErrorIs(t, wrapped, apperr.Conflict)
	assert.NotErrorIs(t, wrapped, started)
	assert.NotErrorIs(t, wrapped, apperr.NotFound)
}

func TestAppError_ErrorAndUnwrap(t *testing.T) {
	cause := errors.New("connection refused")
	err := apperr.Wrap(cause, apperr.CodeUnavailable, "ledger unavailable")

	assert.Equal(t, "[UNAVAILABLE] ledger unavailable: connection refused", err.Error())
	assert.ErrorIs(t, err, cause)
	assert.Equal(t, "[NOT_FOUND] room not found", apperr.New(apperr.CodeNotFound, "room not found").Error())
}

func TestCodeOfAndPublicMessage(t *testing.T) {
	err := fmt.Errorf("start: %w", apperr.New(apperr.CodeForbidden, "only the host can start the match"))

	assert.Equal(t, apperr.CodeForbidden, apperr.CodeOf(err))
	assert.Equal(t, "only the host can start the match", apperr.PublicMessage(err))

	plain := errors.New("boom")
	assert.Equal(t, apperr.CodeInternal, apperr.CodeOf(plain))
	assert.Equal(t, "internal error", apperr.PublicMessage(plain))
}
