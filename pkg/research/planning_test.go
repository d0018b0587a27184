package research

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/corvid-labs/orchestrator/pkg/provider"
	"github.com/corvid-labs/orchestrator/pkg/router"
)

func TestExtractJSONObjectFindsFirstBalancedSpan(t *testing.T) {
	raw := "Here is my plan:\n```json\n{\"sub_queries\":[{\"query\":\"q1\"}]}\n```\nThanks."
	got := extractJSONObject(raw)
	assert.Equal(t, `{"sub_queries":[{"query":"q1"}]}`, got)
}

func TestExtractJSONObjectNoBraceReturnsEmpty(t *testing.T) {
	assert.Equal(t, "", extractJSONObject("no json here"))
}

func TestExtractJSONObjectUnbalancedReturnsEmpty(t *testing.T) {
	assert.Equal(t, "", extractJSONObject("{\"a\": 1"))
}

func TestParsePlanArtifactParsesSubQueries(t *testing.T) {
	artifact, err := parsePlanArtifact(`{"sub_queries":[{"query":"q1","domain":"medicine","rationale":"r1"}]}`)
	require.NoError(t, err)
	require.Len(t, artifact.SubQueries, 1)
	assert.Equal(t, "q1", artifact.SubQueries[0].Query)
	assert.Equal(t, "medicine", artifact.SubQueries[0].Domain)
	assert.False(t, artifact.PlanComplete)
}

func TestParsePlanArtifactPlanComplete(t *testing.T) {
	artifact, err := parsePlanArtifact(`{"plan_complete":true}`)
	require.NoError(t, err)
	assert.True(t, artifact.PlanComplete)
	assert.Empty(t, artifact.SubQueries)
}

func TestParsePlanArtifactInvalidJSONErrors(t *testing.T) {
	_, err := parsePlanArtifact("not json at all")
	assert.Error(t, err)
}

func TestPlanningStageFirstIterationEmptyPlanIsHardFailure(t *testing.T) {
	dispatch := func(ctx context.Context, model router.Model, req provider.Request) (provider.Response, error) {
		return provider.Response{Content: `{"sub_queries":[]}`}, nil
	}
	p := NewPlanningStage(dispatch, router.Model{})

	_, err := p.Plan(context.Background(), PlanInput{Query: "q"})
	assert.ErrorIs(t, err, ErrPlanning)
}

func TestPlanningStageRefinementEmptyPlanIsPlanComplete(t *testing.T) {
	dispatch := func(ctx context.Context, model router.Model, req provider.Request) (provider.Response, error) {
		return provider.Response{Content: `{"plan_complete":true}`}, nil
	}
	p := NewPlanningStage(dispatch, router.Model{})

	artifact, err := p.Plan(context.Background(), PlanInput{
		Query:        "q",
		PriorResults: []SubQueryResult{{Query: "q1", Text: "answer"}},
	})
	require.NoError(t, err)
	assert.True(t, artifact.PlanComplete)
}

func TestPlanningStageRefinementUnparseableIsPlanCompleteNotError(t *testing.T) {
	dispatch := func(ctx context.Context, model router.Model, req provider.Request) (provider.Response, error) {
		return provider.Response{Content: "garbled nonsense"}, nil
	}
	p := NewPlanningStage(dispatch, router.Model{})

	artifact, err := p.Plan(context.Background(), PlanInput{
		Query:        "q",
		PriorResults: []SubQueryResult{{Query: "q1"}},
	})
	require.NoError(t, err)
	assert.True(t, artifact.PlanComplete)
}

func TestPlanningStageFirstIterationUnparseableIsHardFailure(t *testing.T) {
	dispatch := func(ctx context.Context, model router.Model, req provider.Request) (provider.Response, error) {
		return provider.Response{Content: "garbled nonsense"}, nil
	}
	p := NewPlanningStage(dispatch, router.Model{})

	_, err := p.Plan(context.Background(), PlanInput{Query: "q"})
	assert.ErrorIs(t, err, ErrPlanning)
}

func TestPlanningStageDispatchErrorWraps(t *testing.T) {
	dispatch := func(ctx context.Context, model router.Model, req provider.Request) (provider.Response, error) {
		return provider.Response{}, errors.New("boom")
	}
	p := NewPlanningStage(dispatch, router.Model{})

	_, err := p.Plan(context.Background(), PlanInput{Query: "q"})
	assert.ErrorIs(t, err, ErrPlanning)
}

func TestPlanningStageAssignsIncrementingSubQueryIDs(t *testing.T) {
	dispatch := func(ctx context.Context, model router.Model, req provider.Request) (provider.Response, error) {
		return provider.Response{Content: `{"sub_queries":[{"query":"q1"},{"query":"q2"}]}`}, nil
	}
	p := NewPlanningStage(dispatch, router.Model{})

	artifact, err := p.Plan(context.Background(), PlanInput{Query: "q"})
	require.NoError(t, err)
	require.Len(t, artifact.SubQueries, 2)
	assert.NotEqual(t, artifact.SubQueries[0].ID, artifact.SubQueries[1].ID)
	assert.NotZero(t, artifact.SubQueries[0].ID)
}

func TestTruncateShorterThanLimitUnchanged(t *testing.T) {
	assert.Equal(t, "short", truncate("short", 500))
}

func TestTruncateLongerThanLimitCut(t *testing.T) {
	long := ""
	for i := 0; i < 600; i++ {
		long += "a"
	}
	got := truncate(long, 500)
	assert.Len(t, got, 500)
}
