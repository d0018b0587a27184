package research

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/corvid-labs/orchestrator/pkg/cache"
	"github.com/corvid-labs/orchestrator/pkg/config"
	"github.com/corvid-labs/orchestrator/pkg/embedding"
	"github.com/corvid-labs/orchestrator/pkg/events"
	"github.com/corvid-labs/orchestrator/pkg/index"
	"github.com/corvid-labs/orchestrator/pkg/store"
)

// ErrSynthesis is returned when SynthesisStage fails; per spec §4.11 this
// is fatal — no report is persisted, no cache is written.
var ErrSynthesis = errors.New("research: synthesis failed")

const pastReportSimilarityFloor = 0.80

// Pipeline is the supervisor that sequences cache check, similarity
// search, the planning/research loop, and synthesis (spec §4.11).
type Pipeline struct {
	store      *store.Store
	embed      embedding.Embedder
	cache      *cache.Cache
	index      *index.Index
	classifier *Classifier
	planning   *PlanningStage
	research   *ResearchStage
	synthesis  *SynthesisStage
	cfg        config.PipelineConfig
	indexCfg   config.IndexConfig
}

// NewPipeline wires every stage together.
func NewPipeline(
	s *store.Store,
	embed embedding.Embedder,
	c *cache.Cache,
	idx *index.Index,
	classifier *Classifier,
	planning *PlanningStage,
	research *ResearchStage,
	synthesis *SynthesisStage,
	cfg config.PipelineConfig,
	indexCfg config.IndexConfig,
) *Pipeline {
	return &Pipeline{
		store: s, embed: embed, cache: c, index: idx,
		classifier: classifier, planning: planning, research: research, synthesis: synthesis,
		cfg: cfg, indexCfg: indexCfg,
	}
}

// Result is what Run returns: the final report text, its persisted id (if
// any), and whether the result came from the cache (exact or semantic tier).
type Result struct {
	ReportID    *int64
	FinalReport string
	FromCache   bool
	Warning     string
}

// Run drives the full state machine in spec §4.11.
func (p *Pipeline) Run(ctx context.Context, opts Options, onEvent EventFunc) (Result, error) {
	if onEvent == nil {
		onEvent = events.Noop
	}
	start := time.Now()

	params := cache.Params{
		Query: opts.Query, CostPreference: string(opts.CostPreference),
		AudienceLevel: string(opts.AudienceLevel), OutputFormat: string(opts.OutputFormat),
		IncludeSources: opts.IncludeSources,
	}
	for _, a := range opts.Attachments {
		params.AttachmentFingerprints = append(params.AttachmentFingerprints, fingerprint(a))
	}

	if answer, ok := p.cache.GetExact(params); ok {
		onEvent(events.TypeUIHint, map[string]any{"cache": "exact_hit"})
		return Result{FinalReport: fmt.Sprint(answer), FromCache: true}, nil
	}

	var queryEmbedding []float64
	if p.embed != nil {
		queryEmbedding, _ = p.embed.Embed(ctx, opts.Query)
	}
	if len(queryEmbedding) > 0 {
		if hit, ok := p.cache.GetSemantic(queryEmbedding); ok {
			onEvent(events.TypeUIHint, map[string]any{"cache": "semantic_hit"})
			return Result{FinalReport: fmt.Sprint(hit.Answer), FromCache: true}, nil
		}
	}

	var pastReports []store.SimilarReport
	var pastReportIDs []int64
	if len(queryEmbedding) > 0 {
		pastReports, _ = p.store.FindBySimilarity(ctx, queryEmbedding, 3, pastReportSimilarityFloor)
		for _, r := range pastReports {
			pastReportIDs = append(pastReportIDs, r.Report.ID)
		}
	}

	complexity := p.classifier.Assess(ctx, opts.Query)
	maxIterations := complexity.MaxIterations(p.cfg.DefaultMaxIterations)

	var allResults []SubQueryResult
	var allPlans []SubQuery
	for iteration := 1; iteration <= maxIterations; iteration++ {
		onEvent(events.TypeUIHint, map[string]any{"iteration": iteration})
		var priorResults []SubQueryResult
		if iteration > 1 {
			priorResults = allResults
		}
		artifact, err := p.planning.Plan(ctx, PlanInput{
			Query: opts.Query, RelevantPastReports: pastReports,
			Attachments: opts.Attachments, PriorResults: priorResults,
		})
		if err != nil {
			return Result{}, err
		}
		if artifact.PlanComplete {
			break
		}
		allPlans = append(allPlans, artifact.SubQueries...)

		results, err := p.research.ConductParallel(ctx, artifact.SubQueries, opts.CostPreference, complexity, opts.Attachments, onEvent)
		if err != nil {
			return Result{}, err
		}
		allResults = append(allResults, results...)
	}

	text, usage, truncated, err := p.runSynthesis(ctx, opts, allResults, allPlans, onEvent)
	if err != nil {
		return Result{}, fmt.Errorf("%w: %w", ErrSynthesis, err)
	}

	p.cache.PutExact(params, text)
	if len(queryEmbedding) > 0 {
		p.cache.PutSemantic(cache.Entry{Params: params, Embedding: queryEmbedding, Answer: text})
	}

	report := store.Report{
		Query: opts.Query, CostPreference: string(opts.CostPreference),
		AudienceLevel: string(opts.AudienceLevel), OutputFormat: string(opts.OutputFormat),
		IncludeSources: opts.IncludeSources, MaxLength: opts.MaxLength,
		FinalReport: text, DurationMS: time.Since(start).Milliseconds(),
		IterationCount: len(allPlans), SubqueryCount: countUnique(allPlans),
		Usage:                usage,
		BasedOnPastReportIDs: pastReportIDs,
		QueryEmbedding:       queryEmbedding,
	}
	if p.embed != nil {
		report.EmbeddingVersion = p.embed.VersionKey()
	}

	saved, saveErr := p.store.SaveReport(ctx, report)
	result := Result{FinalReport: text}
	if truncated {
		result.Warning = "synthesis may have been truncated before completion"
	}
	if saveErr != nil {
		if result.Warning != "" {
			result.Warning += "; "
		}
		result.Warning += "report could not be persisted: " + saveErr.Error()
		onEvent(events.TypeSynthesisError, map[string]any{"persist_error": saveErr.Error()})
		return result, nil
	}
	result.ReportID = &saved.ID
	onEvent(events.TypeReportSaved, map[string]any{"report_id": saved.ID})

	if p.indexCfg.AutoIndex && p.index != nil {
		p.index.AutoIndex(ctx, store.IndexDocument{
			SourceType: "report", SourceID: fmt.Sprint(saved.ID),
			Title: opts.Query, Content: text, DocEmbedding: queryEmbedding,
		})
	}
	return result, nil
}

func (p *Pipeline) runSynthesis(ctx context.Context, opts Options, results []SubQueryResult, plans []SubQuery, onEvent EventFunc) (string, store.Usage, bool, error) {
	var b strings.Builder
	var usage store.Usage
	var truncated bool
	for ev := range p.synthesis.SynthesizeStream(ctx, opts.Query, results, plans, opts) {
		if ev.Error != nil {
			onEvent(events.TypeSynthesisError, map[string]any{"error": ev.Error.Error()})
			return "", store.Usage{}, false, ev.Error
		}
		if ev.ContentDelta != "" {
			b.WriteString(ev.ContentDelta)
			onEvent(events.TypeSynthesisToken, map[string]any{"delta": ev.ContentDelta})
		}
		if ev.Usage != nil {
			usage = store.Usage{
				PromptTokens: int64(ev.Usage.PromptTokens), CompletionTokens: int64(ev.Usage.CompletionTokens),
				TotalTokens: int64(ev.Usage.TotalTokens),
			}
			onEvent(events.TypeSynthesisUsage, map[string]any{
				"prompt_tokens": ev.Usage.PromptTokens, "completion_tokens": ev.Usage.CompletionTokens,
			})
		}
		if ev.Complete {
			truncated = ev.Truncated
		}
	}
	return b.String(), usage, truncated, nil
}

func countUnique(plans []SubQuery) int {
	seen := make(map[int]bool, len(plans))
	for _, p := range plans {
		seen[p.ID] = true
	}
	return len(seen)
}

func fingerprint(a Attachment) string {
	if a.Text != "" {
		return a.Name + ":" + fmt.Sprint(len(a.Text))
	}
	return a.Name + ":" + fmt.Sprint(len(a.ImageData))
}
