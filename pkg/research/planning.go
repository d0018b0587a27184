package research

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync/atomic"

	"github.com/corvid-labs/orchestrator/pkg/provider"
	"github.com/corvid-labs/orchestrator/pkg/router"
	"github.com/corvid-labs/orchestrator/pkg/store"
)

// ErrPlanning is returned when planning yields no sub-queries on the first
// iteration, or produces output the parser cannot make sense of (spec
// §4.7's hard-failure invariant).
var ErrPlanning = errors.New("research: planning failed")

const attachmentSnippetChars = 500

// PlanningStage drives the planner LLM via router.Dispatcher, parsing its
// structured (JSON or tag-delimited) output into a PlanArtifact.
type PlanningStage struct {
	dispatch ClassifyFunc
	model    router.Model
	nextID   atomic.Int64
}

// NewPlanningStage builds a PlanningStage bound to model, called through
// dispatch.
func NewPlanningStage(dispatch ClassifyFunc, model router.Model) *PlanningStage {
	return &PlanningStage{dispatch: dispatch, model: model}
}

// PlanInput bundles everything the planner prompt draws from.
type PlanInput struct {
	Query               string
	RelevantPastReports []store.SimilarReport // similarity >= 0.80, up to 3
	Attachments         []Attachment
	PriorResults        []SubQueryResult // non-nil on refinement iterations
}

// Plan implements spec §4.7's contract: a non-empty sub-query list, or
// PlanComplete when refining and nothing remains to investigate.
func (p *PlanningStage) Plan(ctx context.Context, in PlanInput) (PlanArtifact, error) {
	resp, err := p.dispatch(ctx, p.model, provider.Request{
		System:      planningSystemPrompt(in.PriorResults != nil),
		Messages:    []provider.Message{{Role: provider.RoleUser, Content: planningUserPrompt(in)}},
		MaxTokens:   1024,
		Temperature: 0.3,
	})
	if err != nil {
		return PlanArtifact{}, fmt.Errorf("%w: %w", ErrPlanning, err)
	}

	artifact, parseErr := parsePlanArtifact(resp.Content)
	isRefinement := in.PriorResults != nil
	if parseErr != nil {
		if isRefinement {
			// An unparseable refinement is treated as plan_complete rather
			// than a hard failure — only the first iteration must succeed.
			return PlanArtifact{PlanComplete: true}, nil
		}
		return PlanArtifact{}, fmt.Errorf("%w: %w", ErrPlanning, parseErr)
	}
	if artifact.PlanComplete || len(artifact.SubQueries) == 0 {
		if !isRefinement {
			return PlanArtifact{}, fmt.Errorf("%w: empty plan on first iteration", ErrPlanning)
		}
		return PlanArtifact{PlanComplete: true}, nil
	}
	for i := range artifact.SubQueries {
		artifact.SubQueries[i].ID = int(p.nextID.Add(1))
	}
	return artifact, nil
}

func planningSystemPrompt(isRefinement bool) string {
	base := "You are a research planner. Decompose the query into a small set of" +
		" focused sub-queries. Prefer official/primary sources. Require explicit" +
		" URL citations in downstream answers. Label unknown claims as" +
		" [Unverified]. Bias toward verification questions. Never fabricate" +
		" identifiers, package names, or URLs. Reply with a JSON object of the" +
		" form {\"sub_queries\":[{\"query\":\"...\",\"domain\":\"...\"," +
		"\"rationale\":\"...\"}]} or {\"plan_complete\":true}."
	if isRefinement {
		return base + " You are refining an existing plan: emit only sub-queries" +
			" that fill gaps in the prior results, or plan_complete if nothing remains."
	}
	return base
}

func planningUserPrompt(in PlanInput) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Query: %s\n", in.Query)
	if len(in.RelevantPastReports) > 0 {
		b.WriteString("\nRelevant past reports:\n")
		for _, r := range in.RelevantPastReports {
			fmt.Fprintf(&b, "- (%.2f) %s\n", r.Similarity, truncate(r.Report.FinalReport, attachmentSnippetChars))
		}
	}
	for _, a := range in.Attachments {
		if a.IsStructured {
			fmt.Fprintf(&b, "\nStructured attachment %q: %s\n", a.Name, truncate(a.Text, attachmentSnippetChars))
			continue
		}
		if a.Text != "" {
			fmt.Fprintf(&b, "\nAttachment %q: %s\n", a.Name, truncate(a.Text, attachmentSnippetChars))
		}
	}
	if len(in.PriorResults) > 0 {
		b.WriteString("\nPrior sub-query results:\n")
		for _, r := range in.PriorResults {
			status := "ok"
			if r.Error {
				status = "error: " + r.ErrorMessage
			}
			fmt.Fprintf(&b, "- [%s] %s (%s): %s\n", status, r.Query, r.Model, truncate(r.Text, attachmentSnippetChars))
		}
		b.WriteString("\nEmit additional sub-queries to fill gaps, or plan_complete if satisfied.\n")
	}
	return b.String()
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}

type planWire struct {
	PlanComplete bool `json:"plan_complete"`
	SubQueries   []struct {
		Query     string `json:"query"`
		Domain    string `json:"domain"`
		Rationale string `json:"rationale"`
	} `json:"sub_queries"`
}

// parsePlanArtifact tolerates raw JSON or a JSON object embedded in a
// fenced/tag-delimited block, per spec §4.7's "parser tolerates either
// form" requirement.
func parsePlanArtifact(raw string) (PlanArtifact, error) {
	body := extractJSONObject(raw)
	if body == "" {
		return PlanArtifact{}, fmt.Errorf("no JSON object found in planner output")
	}
	var wire planWire
	if err := json.Unmarshal([]byte(body), &wire); err != nil {
		return PlanArtifact{}, err
	}
	if wire.PlanComplete {
		return PlanArtifact{PlanComplete: true}, nil
	}
	subqueries := make([]SubQuery, len(wire.SubQueries))
	for i, sq := range wire.SubQueries {
		subqueries[i] = SubQuery{Query: sq.Query, Domain: sq.Domain, Rationale: sq.Rationale}
	}
	return PlanArtifact{SubQueries: subqueries}, nil
}

// extractJSONObject finds the first balanced {...} span in raw, tolerating
// surrounding prose or markdown code fences.
func extractJSONObject(raw string) string {
	start := strings.IndexByte(raw, '{')
	if start < 0 {
		return ""
	}
	depth := 0
	for i := start; i < len(raw); i++ {
		switch raw[i] {
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return raw[start : i+1]
			}
		}
	}
	return ""
}
