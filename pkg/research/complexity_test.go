package research

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/corvid-labs/orchestrator/pkg/provider"
	"github.com/corvid-labs/orchestrator/pkg/router"
)

func TestComplexityMaxIterations(t *testing.T) {
	assert.Equal(t, 1, ComplexitySimple.MaxIterations(2))
	assert.Equal(t, 2, ComplexityModerate.MaxIterations(2))
	assert.Equal(t, 3, ComplexityComplex.MaxIterations(2))
}

func TestClassifierAssessNilDispatchUsesWordCountHeuristic(t *testing.T) {
	c := NewClassifier(nil, router.Model{})

	short := "what is the capital of France"
	assert.Equal(t, ComplexitySimple, c.Assess(context.Background(), short))

	long := "explain in exhaustive detail the geopolitical and economic ramifications of the following historical event across multiple decades and regions"
	assert.Equal(t, ComplexityModerate, c.Assess(context.Background(), long))
}

func TestClassifierAssessUsesLLMResponseWhenAvailable(t *testing.T) {
	dispatch := func(ctx context.Context, model router.Model, req provider.Request) (provider.Response, error) {
		return provider.Response{Content: "complex"}, nil
	}
	c := NewClassifier(dispatch, router.Model{})

	got := c.Assess(context.Background(), "short query")
	assert.Equal(t, ComplexityComplex, got)
}

func TestClassifierAssessFallsBackToHeuristicOnDispatchError(t *testing.T) {
	dispatch := func(ctx context.Context, model router.Model, req provider.Request) (provider.Response, error) {
		return provider.Response{}, errors.New("provider down")
	}
	c := NewClassifier(dispatch, router.Model{})

	got := c.Assess(context.Background(), "a short query here")
	assert.Equal(t, ComplexitySimple, got)
}

func TestClassifierAssessFallsBackOnUnrecognizedResponse(t *testing.T) {
	dispatch := func(ctx context.Context, model router.Model, req provider.Request) (provider.Response, error) {
		return provider.Response{Content: "unsure"}, nil
	}
	c := NewClassifier(dispatch, router.Model{})

	got := c.Assess(context.Background(), "short query")
	assert.Equal(t, ComplexitySimple, got)
}
