package store

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestErrorMessageIncludesCauseWhenPresent(t *testing.T) {
	e := newErr(CategoryStorage, "save report", errors.New("connection reset"))
	assert.Equal(t, "save report: connection reset", e.Error())
}

func TestErrorMessageOmitsCauseWhenNil(t *testing.T) {
	e := newErr(CategoryValidation, "bad input", nil)
	assert.Equal(t, "bad input", e.Error())
}

func TestErrorUnwrapReturnsCause(t *testing.T) {
	cause := errors.New("root")
	e := newErr(CategoryStorage, "wrap", cause)
	assert.Equal(t, cause, errors.Unwrap(e))
}

func TestErrorIsMatchesOnCategoryNotMessage(t *testing.T) {
	e := newErr(CategoryNotFound, "report 5 not found", nil)
	assert.True(t, errors.Is(e, ErrNotFound))
}

func TestErrorIsDoesNotMatchDifferentCategory(t *testing.T) {
	e := newErr(CategoryStorage, "db down", nil)
	assert.False(t, errors.Is(e, ErrNotFound))
}

func TestErrorIsDoesNotMatchNonErrorType(t *testing.T) {
	e := newErr(CategoryNotFound, "x", nil)
	assert.False(t, e.Is(errors.New("plain")))
}
