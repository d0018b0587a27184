// Package controlproto implements ToolSurface (spec §4.13): the
// transport-agnostic set of tools described in spec §6, argument
// normalization, and the recursion guard for tool-calling-tool dispatch.
package controlproto

import (
	"errors"

	"github.com/corvid-labs/orchestrator/pkg/research"
	"github.com/corvid-labs/orchestrator/pkg/store"
)

// Category is the full error taxonomy from spec §7, a superset of
// store.Category covering the stages above persistence.
type Category string

const (
	CategoryValidation      Category = "ValidationError"
	CategoryNotFound        Category = "NotFoundError"
	CategoryPlanning        Category = "PlanningError"
	CategoryProvider        Category = "ProviderError"
	CategoryEmbedder        Category = "EmbedderError"
	CategoryStorage         Category = "StorageError"
	CategoryInitialization  Category = "InitializationError"
	CategoryRetryExhausted  Category = "RetryExhaustedError"
	CategoryCancellation    Category = "CancellationError"
	CategoryOverloaded      Category = "OverloadedError"
)

// Error is the structured failure shape returned to sync callers and
// recorded in a failed job's result.error field (spec §7's "wrapped
// error with category and cause chain").
type Error struct {
	Category   Category `json:"category"`
	Message    string   `json:"message"`
	CauseChain []string `json:"causeChain,omitempty"`
}

func (e *Error) Error() string { return e.Message }

// classify maps an arbitrary error from any lower layer onto the full
// taxonomy, walking its cause chain for the structured message history.
func classify(err error) *Error {
	var chain []string
	for cur := err; cur != nil; cur = errors.Unwrap(cur) {
		chain = append(chain, cur.Error())
	}

	cat := CategoryProvider
	switch {
	case errors.Is(err, store.ErrNotFound):
		cat = CategoryNotFound
	case errors.Is(err, research.ErrPlanning):
		cat = CategoryPlanning
	case errors.Is(err, research.ErrSynthesis):
		cat = CategoryProvider
	default:
		var storeErr *store.Error
		if errors.As(err, &storeErr) {
			cat = Category(storeErr.Category)
		}
	}
	return &Error{Category: cat, Message: err.Error(), CauseChain: chain}
}

// ErrValidation is returned for schema/argument failures, before any
// downstream call is made (spec §8's "empty query → ValidationError
// before any LLM call").
func ErrValidation(msg string) *Error {
	return &Error{Category: CategoryValidation, Message: msg}
}

// ErrMaxDepth is returned when a tool call would exceed MAX_TOOL_DEPTH.
var ErrMaxDepth = &Error{Category: CategoryValidation, Message: "max recursion depth reached"}
