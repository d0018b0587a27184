package research

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/corvid-labs/orchestrator/pkg/provider"
	"github.com/corvid-labs/orchestrator/pkg/router"
)

// StreamFunc issues a single streaming completion call through the same
// Dispatcher wiring ClassifyFunc uses for non-streaming calls.
type StreamFunc func(ctx context.Context, model router.Model, req provider.Request) (provider.Stream, error)

// SynthesisEvent is one increment of SynthesisStage's output stream.
type SynthesisEvent struct {
	ContentDelta string
	Usage        *provider.Usage
	Error        error
	Complete     bool
	Truncated    bool
}

// SynthesisStage integrates every sub-query's ensemble results into one
// cited, confidence-annotated report (spec §4.10).
type SynthesisStage struct {
	stream StreamFunc
	model  router.Model
	budget TokenBudget
}

// NewSynthesisStage builds a SynthesisStage bound to model, called through
// stream.
func NewSynthesisStage(stream StreamFunc, model router.Model, budget TokenBudget) *SynthesisStage {
	return &SynthesisStage{stream: stream, model: model, budget: budget}
}

// SynthesizeStream implements spec §4.10's contract: content deltas as
// they arrive, and on any mid-stream error a single {error} event
// terminating the stream — callers must discard partial content on error.
func (s *SynthesisStage) SynthesizeStream(ctx context.Context, query string, results []SubQueryResult, plans []SubQuery, opts Options) <-chan SynthesisEvent {
	out := make(chan SynthesisEvent, 8)
	go func() {
		defer close(out)

		maxTokens := s.budget.ForSynthesis(s.model.ContextWindow, len(plans), len(opts.Attachments))
		req := provider.Request{
			System:      synthesisSystemPrompt(opts),
			Messages:    []provider.Message{{Role: provider.RoleUser, Content: synthesisUserPrompt(query, results, plans)}},
			MaxTokens:   maxTokens,
			Temperature: 0.3,
		}
		stream, err := s.stream(ctx, s.model, req)
		if err != nil {
			out <- SynthesisEvent{Error: fmt.Errorf("synthesis: %w", err)}
			return
		}
		defer stream.Close()

		var total provider.Usage
		var lastText strings.Builder
		for {
			chunk, recvErr := stream.Recv()
			if chunk.Delta != "" {
				lastText.WriteString(chunk.Delta)
				out <- SynthesisEvent{ContentDelta: chunk.Delta}
			}
			if chunk.Done {
				total = chunk.Usage
			}
			if recvErr != nil {
				if errors.Is(recvErr, io.EOF) {
					break
				}
				out <- SynthesisEvent{Error: fmt.Errorf("synthesis: %w", recvErr)}
				return
			}
		}
		truncated := IsTruncated(lastText.String(), total.CompletionTokens, maxTokens)
		out <- SynthesisEvent{Usage: &total}
		out <- SynthesisEvent{Complete: true, Truncated: truncated}
	}()
	return out
}

func synthesisSystemPrompt(opts Options) string {
	var b strings.Builder
	b.WriteString("Integrate all sub-query results into a cohesive answer. List per-sub-query" +
		" status (success/failure). Call out consensus and contradictions across" +
		" ensemble models. Emit citations as [Source: Title — URL] for every" +
		" factual claim. Label unsourced claims [Unverified]. Attach a High/Medium/Low" +
		" confidence rating to each significant claim.")
	switch opts.AudienceLevel {
	case AudienceExpert:
		b.WriteString(" Write for a technically expert audience.")
	default:
		b.WriteString(" Write for a general audience.")
	}
	switch opts.OutputFormat {
	case FormatBriefing:
		b.WriteString(" Format the output as a short briefing.")
	case FormatBullets:
		b.WriteString(" Format the output as bullet points.")
	default:
		b.WriteString(" Format the output as a full report.")
	}
	if opts.IncludeSources {
		b.WriteString(" Include a final sources list.")
	}
	return b.String()
}

func synthesisUserPrompt(query string, results []SubQueryResult, plans []SubQuery) string {
	domains := make(map[int]string, len(plans))
	for _, p := range plans {
		domains[p.ID] = p.Domain
	}
	var b strings.Builder
	fmt.Fprintf(&b, "Original query: %s\n\nSub-query results:\n", query)
	for _, r := range results {
		status := "ok"
		if r.Error {
			status = "error: " + r.ErrorMessage
		}
		trunc := ""
		if r.Truncated {
			trunc = " [possibly truncated]"
		}
		fmt.Fprintf(&b, "- sub-query %d (%s) via %s [%s]%s: %s\n", r.SubQueryID, domains[r.SubQueryID], r.Model, status, trunc, r.Text)
	}
	return b.String()
}
