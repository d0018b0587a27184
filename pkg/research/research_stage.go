package research

import (
	"context"
	"fmt"
	"strings"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"github.com/corvid-labs/orchestrator/pkg/events"
	"github.com/corvid-labs/orchestrator/pkg/provider"
	"github.com/corvid-labs/orchestrator/pkg/router"
)

// ResearchStage runs the ensembled sub-query calls under a bounded
// executor (spec §4.8).
type ResearchStage struct {
	dispatch    ClassifyFunc
	routerTable *router.Router
	parallelism int
	budget      TokenBudget
}

// NewResearchStage builds a ResearchStage. parallelism bounds the number
// of sub-queries in flight at once; each sub-query's own ensemble (2-3
// models) always runs fully concurrently regardless of this bound.
func NewResearchStage(dispatch ClassifyFunc, routerTable *router.Router, parallelism int, budget TokenBudget) *ResearchStage {
	if parallelism <= 0 {
		parallelism = 4
	}
	return &ResearchStage{dispatch: dispatch, routerTable: routerTable, parallelism: parallelism, budget: budget}
}

// ConductParallel implements spec §4.8's contract: each sub-query is
// dispatched to an ensemble of 2-3 models, concurrently, under a
// semaphore-bounded executor; ensemble results are returned in full with
// no in-stage reduction.
func (s *ResearchStage) ConductParallel(ctx context.Context, subQueries []SubQuery, cost router.CostPreference, complexity Complexity, attachments []Attachment, onEvent EventFunc) ([]SubQueryResult, error) {
	if onEvent == nil {
		onEvent = events.Noop
	}
	sem := semaphore.NewWeighted(int64(s.parallelism))
	g, gctx := errgroup.WithContext(ctx)

	results := make([][]SubQueryResult, len(subQueries))
	for i, sq := range subQueries {
		i, sq := i, sq
		if err := sem.Acquire(gctx, 1); err != nil {
			return nil, err
		}
		g.Go(func() error {
			defer sem.Release(1)
			results[i] = s.runEnsemble(gctx, sq, cost, complexity, attachments, onEvent)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	out := make([]SubQueryResult, 0, len(subQueries)*2)
	for _, rs := range results {
		out = append(out, rs...)
	}
	return out, nil
}

// runEnsemble runs every ensemble member for sq concurrently, never
// failing the caller: a per-member provider error becomes an
// error=true result (spec §4.8 — diversity, not retry, is the fault
// tolerance mechanism here).
func (s *ResearchStage) runEnsemble(ctx context.Context, sq SubQuery, cost router.CostPreference, complexity Complexity, attachments []Attachment, onEvent EventFunc) []SubQueryResult {
	requireVision := hasImages(attachments)
	primary, ok := s.routerTable.GetModel(cost, sq.ID, sq.Domain, complexity.asRouterComplexity())
	if !ok {
		return []SubQueryResult{{
			SubQueryID: sq.ID, Query: sq.Query, Error: true,
			ErrorMessage: "no model available for cost tier",
		}}
	}
	ensemble := s.routerTable.GetAlternatives(primary, cost, sq.ID, requireVision)

	var wg errgroupNoCancel
	out := make([]SubQueryResult, len(ensemble))
	for i, m := range ensemble {
		i, m := i, m
		wg.Go(func() {
			out[i] = s.runOne(ctx, sq, m, i, attachments, onEvent)
		})
	}
	wg.Wait()
	return out
}

func (s *ResearchStage) runOne(ctx context.Context, sq SubQuery, m router.Model, agentIdx int, attachments []Attachment, onEvent EventFunc) SubQueryResult {
	onEvent(events.TypeAgentStarted, map[string]any{"sub_query_id": sq.ID, "agent_id": agentIdx, "model": m.ID})

	userText, images := ensembleUserPrompt(sq, attachments, m.Vision)
	req := provider.Request{
		System:      ensembleSystemPrompt(agentIdx, m, attachments),
		Messages:    []provider.Message{{Role: provider.RoleUser, Content: userText, Images: images}},
		MaxTokens:   s.budget.ForCall(m.ContextWindow),
		Temperature: 0.3,
	}
	resp, err := s.dispatch(ctx, m, req)
	if err != nil {
		onEvent(events.TypeAgentCompleted, map[string]any{"sub_query_id": sq.ID, "agent_id": agentIdx, "ok": false})
		return SubQueryResult{
			AgentID: agentIdx, SubQueryID: sq.ID, Model: m.ID, Query: sq.Query,
			Error: true, ErrorMessage: err.Error(),
		}
	}
	onEvent(events.TypeAgentUsage, map[string]any{
		"sub_query_id": sq.ID, "agent_id": agentIdx, "model": m.ID,
		"prompt_tokens": resp.Usage.PromptTokens, "completion_tokens": resp.Usage.CompletionTokens,
	})
	onEvent(events.TypeAgentCompleted, map[string]any{"sub_query_id": sq.ID, "agent_id": agentIdx, "ok": true})
	return SubQueryResult{
		AgentID: agentIdx, SubQueryID: sq.ID, Model: m.ID, Query: sq.Query, Text: resp.Content,
		PromptTokens: resp.Usage.PromptTokens, OutputTokens: resp.Usage.CompletionTokens,
		Truncated: IsTruncated(resp.Content, resp.Usage.CompletionTokens, req.MaxTokens),
	}
}

func hasImages(attachments []Attachment) bool {
	for _, a := range attachments {
		if len(a.ImageData) > 0 {
			return true
		}
	}
	return false
}

func ensembleSystemPrompt(agentIdx int, m router.Model, attachments []Attachment) string {
	var b strings.Builder
	fmt.Fprintf(&b, "You are research agent %d using model %s. Cite sources explicitly as"+
		" [Source: Title — URL]. Label unverifiable claims [Unverified].", agentIdx, m.ID)
	if hasImages(attachments) {
		if m.Vision {
			b.WriteString(" Extract and describe any visual elements in the attached images.")
		}
	}
	return b.String()
}

// ensembleUserPrompt builds the user turn for one ensemble member. When m
// is vision-capable, image attachments are turned into provider.ImageParts
// carried alongside the text; otherwise they are dropped silently and only
// text/structured attachments are inlined (spec §4.8).
func ensembleUserPrompt(sq SubQuery, attachments []Attachment, vision bool) (string, []provider.ImagePart) {
	var b strings.Builder
	b.WriteString(sq.Query)
	var images []provider.ImagePart
	for _, a := range attachments {
		if len(a.ImageData) > 0 {
			if !vision {
				continue
			}
			images = append(images, provider.ImagePart{MIMEType: a.ImageMIME, Data: a.ImageData})
			continue
		}
		if a.Text != "" {
			fmt.Fprintf(&b, "\n\nAttachment %q: %s", a.Name, truncate(a.Text, attachmentSnippetChars))
		}
	}
	if len(images) > 0 {
		b.WriteString("\n\nDescribe and analyze the attached image(s) where relevant to the query.")
	}
	return b.String(), images
}

// asRouterComplexity bridges this package's Complexity (which drives
// MAX_ITERATIONS) to router.Complexity (which drives model selection);
// they're deliberately distinct types since only "simple" has routing
// significance.
func (c Complexity) asRouterComplexity() router.Complexity {
	if c == ComplexitySimple {
		return router.ComplexitySimple
	}
	return router.ComplexityNormal
}

// errgroupNoCancel runs a fixed set of goroutines to completion without
// error propagation or context cancellation — ensemble members must all
// finish (each result, success or failure, is returned) rather than
// short-circuit on the first failure the way errgroup.Group does.
type errgroupNoCancel struct {
	funcs []func()
}

func (g *errgroupNoCancel) Go(f func()) {
	g.funcs = append(g.funcs, f)
}

func (g *errgroupNoCancel) Wait() {
	done := make(chan struct{}, len(g.funcs))
	for _, f := range g.funcs {
		f := f
		go func() {
			defer func() { done <- struct{}{} }()
			f()
		}()
	}
	for range g.funcs {
		<-done
	}
}
