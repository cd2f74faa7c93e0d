package apperror

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestReasonsMatchKindAndCode(t *testing.T) {
	err := fmt.Errorf("vote: %w", ErrDuplicateVote)

	assert.ErrorIs(t, err, ErrDuplicateVote)
	assert.ErrorIs(t, err, ErrConflict)
	assert.NotErrorIs(t, err, ErrNotFound)
	assert.NotErrorIs(t, err, ErrInsufficientKarma)
	assert.Equal(t, ErrConflict, Kind(err))
}

func TestWithKeepsIdentity(t *testing.T) {
	err := ErrInsufficientKarma.With("you don't have enough karma to vote %s", "down")

	assert.Equal(t, "you don't have enough karma to vote down", err.Error())
	assert.ErrorIs(t, err, ErrInsufficientKarma)
	assert.ErrorIs(t, err, ErrUnauthorized)
	assert.Equal(t, "you don't have enough karma to vote", ErrInsufficientKarma.Message)
}

func TestOnField(t *testing.T) {
	err := ErrPasswordTooShort.OnField("password")

	var appErr *AppError
	assert.True(t, errors.As(err, &appErr))
	assert.Equal(t, "password", appErr.Field)
	assert.Empty(t, ErrPasswordTooShort.Field)
}

func TestKindOutsideTaxonomy(t *testing.T) {
	assert.Nil(t, Kind(errors.New("boom")))
}
