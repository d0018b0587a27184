package research

import (
	"context"
	"errors"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/corvid-labs/orchestrator/pkg/provider"
	"github.com/corvid-labs/orchestrator/pkg/router"
)

type fakeStream struct {
	chunks []provider.Chunk
	idx    int
	failAt int // -1 disables
}

func (s *fakeStream) Recv() (provider.Chunk, error) {
	if s.idx >= len(s.chunks) {
		return provider.Chunk{}, io.EOF
	}
	c := s.chunks[s.idx]
	if s.failAt == s.idx {
		s.idx++
		return c, errors.New("stream broke")
	}
	s.idx++
	if s.idx >= len(s.chunks) {
		return c, io.EOF
	}
	return c, nil
}
func (s *fakeStream) Close() error { return nil }

func drain(ch <-chan SynthesisEvent) []SynthesisEvent {
	var out []SynthesisEvent
	for e := range ch {
		out = append(out, e)
	}
	return out
}

func TestSynthesizeStreamEmitsDeltasThenUsageThenComplete(t *testing.T) {
	stream := func(ctx context.Context, model router.Model, req provider.Request) (provider.Stream, error) {
		return &fakeStream{
			chunks: []provider.Chunk{
				{Delta: "Hello "},
				{Delta: "world."},
				{Done: true, Usage: provider.Usage{CompletionTokens: 10, TotalTokens: 20}},
			},
			failAt: -1,
		}, nil
	}
	stage := NewSynthesisStage(stream, router.Model{ContextWindow: 100000}, testBudget())

	events := drain(stage.SynthesizeStream(context.Background(), "q", nil, nil, Options{}))
	require.NotEmpty(t, events)

	var text string
	var sawUsage, sawComplete bool
	for _, e := range events {
		text += e.ContentDelta
		if e.Usage != nil {
			sawUsage = true
			assert.Equal(t, 10, e.Usage.CompletionTokens)
		}
		if e.Complete {
			sawComplete = true
		}
		assert.NoError(t, e.Error)
	}
	assert.Equal(t, "Hello world.", text)
	assert.True(t, sawUsage)
	assert.True(t, sawComplete)
}

func TestSynthesizeStreamDispatchErrorEmitsSingleErrorEvent(t *testing.T) {
	stream := func(ctx context.Context, model router.Model, req provider.Request) (provider.Stream, error) {
		return nil, errors.New("provider unavailable")
	}
	stage := NewSynthesisStage(stream, router.Model{ContextWindow: 100000}, testBudget())

	events := drain(stage.SynthesizeStream(context.Background(), "q", nil, nil, Options{}))
	require.Len(t, events, 1)
	assert.Error(t, events[0].Error)
}

func TestSynthesizeStreamMidStreamErrorTerminates(t *testing.T) {
	streamFn := func(ctx context.Context, model router.Model, req provider.Request) (provider.Stream, error) {
		return &fakeStream{
			chunks: []provider.Chunk{
				{Delta: "partial "},
				{Delta: "more"},
			},
			failAt: 1,
		}, nil
	}
	stage := NewSynthesisStage(streamFn, router.Model{ContextWindow: 100000}, testBudget())

	events := drain(stage.SynthesizeStream(context.Background(), "q", nil, nil, Options{}))
	require.NotEmpty(t, events)
	last := events[len(events)-1]
	assert.Error(t, last.Error)

	for _, e := range events[:len(events)-1] {
		assert.NoError(t, e.Error)
	}
}

func TestSynthesisSystemPromptReflectsOptions(t *testing.T) {
	p := synthesisSystemPrompt(Options{AudienceLevel: AudienceExpert, OutputFormat: FormatBullets, IncludeSources: true})
	assert.Contains(t, p, "expert audience")
	assert.Contains(t, p, "bullet points")
	assert.Contains(t, p, "sources list")
}

func TestSynthesisSystemPromptDefaults(t *testing.T) {
	p := synthesisSystemPrompt(Options{})
	assert.Contains(t, p, "general audience")
	assert.Contains(t, p, "full report")
	assert.NotContains(t, p, "sources list")
}

func TestSynthesisUserPromptIncludesSubQueryStatus(t *testing.T) {
	results := []SubQueryResult{
		{SubQueryID: 1, Model: "haiku", Text: "answer one"},
		{SubQueryID: 2, Model: "sonnet", Error: true, ErrorMessage: "timeout"},
	}
	plans := []SubQuery{{ID: 1, Domain: "medicine"}, {ID: 2, Domain: "law"}}

	prompt := synthesisUserPrompt("original query", results, plans)
	assert.Contains(t, prompt, "answer one")
	assert.Contains(t, prompt, "error: timeout")
	assert.Contains(t, prompt, "medicine")
}
