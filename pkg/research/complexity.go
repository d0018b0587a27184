package research

import (
	"context"
	"strings"

	"github.com/corvid-labs/orchestrator/pkg/provider"
	"github.com/corvid-labs/orchestrator/pkg/router"
)

// Complexity buckets a request once, before any research call, to decide
// MAX_ITERATIONS (spec §4.8).
type Complexity string

const (
	ComplexitySimple   Complexity = "simple"
	ComplexityModerate Complexity = "moderate"
	ComplexityComplex  Complexity = "complex"
)

// MaxIterations maps Complexity to the loop bound, given the configured
// default for the moderate case.
func (c Complexity) MaxIterations(configuredDefault int) int {
	switch c {
	case ComplexitySimple:
		return 1
	case ComplexityComplex:
		return configuredDefault + 1
	default:
		return configuredDefault
	}
}

// Classifier issues the short classification LLM calls used to refine the
// word-count heuristic, always through the one model it was built with;
// cmd/orchestrator selects that model with domain "classification" and
// router.ComplexitySimple, which picks from the very-low-cost tier.
type Classifier struct {
	dispatch ClassifyFunc
	model    router.Model
}

// ClassifyFunc issues a single completion call; callers supply the
// Dispatcher-bound closure so this package doesn't depend on
// router.Dispatcher's concrete model-selection wiring.
type ClassifyFunc func(ctx context.Context, model router.Model, req provider.Request) (provider.Response, error)

// NewClassifier builds a Classifier that always calls through model.
func NewClassifier(dispatch ClassifyFunc, model router.Model) *Classifier {
	return &Classifier{dispatch: dispatch, model: model}
}

// Assess implements spec §4.8's heuristic-then-LLM-refinement rule: a
// query of 15 words or fewer is a simple candidate, confirmed or
// overridden by a short classification call; longer queries default to
// moderate, with the same call able to escalate to complex.
func (c *Classifier) Assess(ctx context.Context, query string) Complexity {
	candidate := ComplexityModerate
	if len(strings.Fields(query)) <= 15 {
		candidate = ComplexitySimple
	}
	if c.dispatch == nil {
		return candidate
	}
	resp, err := c.dispatch(ctx, c.model, provider.Request{
		System: "Classify the research complexity of the query as exactly one word: simple, moderate, or complex. Reply with only that word.",
		Messages: []provider.Message{
			{Role: provider.RoleUser, Content: query},
		},
		MaxTokens:   8,
		Temperature: 0,
	})
	if err != nil {
		return candidate
	}
	switch strings.ToLower(strings.TrimSpace(resp.Content)) {
	case "simple":
		return ComplexitySimple
	case "complex":
		return ComplexityComplex
	case "moderate":
		return ComplexityModerate
	default:
		return candidate
	}
}
