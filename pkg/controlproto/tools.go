package controlproto

import (
	"context"
	"encoding/base64"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/corvid-labs/orchestrator/pkg/config"
	"github.com/corvid-labs/orchestrator/pkg/embedding"
	"github.com/corvid-labs/orchestrator/pkg/index"
	"github.com/corvid-labs/orchestrator/pkg/queue"
	"github.com/corvid-labs/orchestrator/pkg/research"
	"github.com/corvid-labs/orchestrator/pkg/router"
	"github.com/corvid-labs/orchestrator/pkg/store"
)

// ToolSurface wires every tool named in spec §6 to its backing
// component. It is transport-agnostic: stdio/httptransport call Dispatch
// and format the result for their own wire protocol.
type ToolSurface struct {
	store    *store.Store
	embed    embedding.Embedder
	index    *index.Index
	pipeline *research.Pipeline
	engine   *queue.Engine
	routerTable *router.Router
	cfg      config.PipelineConfig
	reportOutputPath string
	log      *slog.Logger
}

// New builds a ToolSurface.
func New(s *store.Store, embed embedding.Embedder, idx *index.Index, pipeline *research.Pipeline, engine *queue.Engine, routerTable *router.Router, cfg config.PipelineConfig, log *slog.Logger) *ToolSurface {
	if log == nil {
		log = slog.Default()
	}
	return &ToolSurface{
		store: s, embed: embed, index: idx, pipeline: pipeline, engine: engine,
		routerTable: routerTable, cfg: cfg, reportOutputPath: cfg.ReportOutputPath, log: log,
	}
}

// Call dispatches one tool invocation by name. It takes no depth;
// Dispatcher.Dispatch (dispatch.go) enforces MAX_TOOL_DEPTH before ever
// reaching here.
func (t *ToolSurface) Call(ctx context.Context, name string, args map[string]any) (any, *Error) {
	switch name {
	case "research":
		return t.research(ctx, args, false)
	case "submit_research":
		return t.research(ctx, args, true)
	case "job_status":
		return t.jobStatus(ctx, args)
	case "cancel_job":
		return t.cancelJob(ctx, args)
	case "get_report":
		return t.getReport(ctx, args)
	case "list_research_history":
		return t.listHistory(ctx, args)
	case "retrieve":
		return t.retrieve(ctx, args)
	case "index_texts":
		return t.indexTexts(ctx, args)
	case "index_url":
		return t.indexURL(ctx, args)
	case "search_index":
		return t.searchIndex(ctx, args)
	case "index_status":
		return t.indexStatus(ctx, args)
	case "get_server_status":
		return t.serverStatus(ctx, args)
	case "list_models":
		return t.listModels(ctx, args)
	case "search_web", "fetch_url":
		// Out of scope: no web-crawler/search backend is part of this
		// system's core (spec §1 Non-goals). Surface a structured
		// NotImplemented rather than silently succeeding.
		return nil, ErrValidation(fmt.Sprintf("%s is not implemented by this deployment", name))
	default:
		return nil, ErrValidation(fmt.Sprintf("unknown tool %q", name))
	}
}

func (t *ToolSurface) research(ctx context.Context, raw map[string]any, forceAsync bool) (any, *Error) {
	args, verr := parseResearchArgs(raw)
	if verr != nil {
		return nil, verr
	}
	opts := toOptions(args)

	if forceAsync || args.Async {
		return t.submit(ctx, opts)
	}
	return t.ResearchSync(ctx, opts, nil)
}

func (t *ToolSurface) submit(ctx context.Context, opts research.Options) (any, *Error) {
	params := map[string]any{
		"query": opts.Query, "costPreference": string(opts.CostPreference),
		"audienceLevel": string(opts.AudienceLevel), "outputFormat": string(opts.OutputFormat),
		"includeSources": opts.IncludeSources,
	}
	if attachments := research.AttachmentsToParams(opts.Attachments); attachments != nil {
		params["attachments"] = attachments
	}
	sub, err := t.engine.Submit(ctx, "research", params, nil)
	if err != nil {
		return nil, classify(err)
	}
	return map[string]any{"job_id": sub.JobID}, nil
}

// ResearchSync runs the pipeline inline rather than enqueuing a job, for
// the `research` tool's sync branch (spec §6: "sync: streamed report
// text"). onEvent, when non-nil, receives synthesis_token events as they
// arrive so an SSE-capable transport can stream the report incrementally
// instead of blocking until completion; stdio-style callers simply pass
// nil and read the final string.
func (t *ToolSurface) ResearchSync(ctx context.Context, opts research.Options, onEvent research.EventFunc) (any, *Error) {
	result, err := t.pipeline.Run(ctx, opts, onEvent)
	if err != nil {
		return nil, classify(err)
	}
	t.writeReportFile(result)
	return result.FinalReport, nil
}

func toOptions(args researchArgs) research.Options {
	opts := research.Options{
		Query:          args.Query,
		CostPreference: costFromArg(args.CostPreference),
		AudienceLevel:  audienceFromArg(args.AudienceLevel),
		OutputFormat:   formatFromArg(args.OutputFormat),
		IncludeSources: args.IncludeSources,
	}
	for _, d := range args.TextDocuments {
		opts.Attachments = append(opts.Attachments, attachmentFrom(d, false))
	}
	for _, d := range args.StructuredData {
		opts.Attachments = append(opts.Attachments, attachmentFrom(d, true))
	}
	for i, img := range args.Images {
		data, mime, err := decodeImage(img)
		if err != nil {
			// Malformed image payloads are dropped rather than failing the
			// whole request, matching spec §4.8's "drop silently" posture.
			continue
		}
		opts.Attachments = append(opts.Attachments, research.Attachment{
			Name:      fmt.Sprintf("image-%d", i+1),
			ImageData: data,
			ImageMIME: mime,
		})
	}
	return opts
}

func attachmentFrom(m map[string]any, structured bool) research.Attachment {
	a := research.Attachment{IsStructured: structured}
	if name, ok := m["name"].(string); ok {
		a.Name = name
	}
	if text, ok := m["text"].(string); ok {
		a.Text = text
	}
	return a
}

// decodeImage accepts either a data URL ("data:image/png;base64,...") or a
// bare base64 payload (defaulting to image/png) for the `images` argument.
func decodeImage(s string) ([]byte, string, error) {
	mime := "image/png"
	payload := s
	if strings.HasPrefix(s, "data:") {
		comma := strings.IndexByte(s, ',')
		if comma < 0 {
			return nil, "", fmt.Errorf("malformed data URL")
		}
		header := s[len("data:"):comma]
		if semi := strings.IndexByte(header, ';'); semi >= 0 {
			mime = header[:semi]
		} else if header != "" {
			mime = header
		}
		payload = s[comma+1:]
	}
	data, err := base64.StdEncoding.DecodeString(payload)
	if err != nil {
		return nil, "", err
	}
	return data, mime, nil
}

// costFromArg maps the external {low,high} vocabulary (spec §6) onto the
// router's three-tier CostPreference. CostVeryLow is not reachable from
// this surface at all: it is an automatic downgrade ModelRouter applies
// internally for trivially simple queries (spec §4.4), not something a
// caller asks for directly.
func costFromArg(s string) router.CostPreference {
	if s == "high" {
		return router.CostHigh
	}
	return router.CostLow
}

func audienceFromArg(s string) research.AudienceLevel {
	if s == "expert" {
		return research.AudienceExpert
	}
	return research.AudienceGeneral
}

func formatFromArg(s string) research.OutputFormat {
	switch s {
	case "briefing":
		return research.FormatBriefing
	case "bullet_points":
		return research.FormatBullets
	default:
		return research.FormatReport
	}
}

func (t *ToolSurface) jobStatus(ctx context.Context, raw map[string]any) (any, *Error) {
	m := normalize(raw)
	jobID, _ := m["job_id"].(string)
	if jobID == "" {
		return nil, ErrValidation("job_id is required")
	}
	format, _ := m["format"].(string)
	if format == "" {
		format = "summary"
	}

	job, err := t.store.GetJob(ctx, jobID)
	if err != nil {
		return nil, classify(err)
	}

	switch format {
	case "summary":
		return fmt.Sprintf("%s: %s (%d%% %s)", job.ID, job.Status, job.ProgressPct, job.ProgressMsg), nil
	case "events":
		since, _ := toInt64(m["since_event_id"])
		max, _ := toInt(m["max_events"])
		if max <= 0 {
			max = 100
		}
		events, err := t.store.GetJobEvents(ctx, jobID, since, max)
		if err != nil {
			return nil, classify(err)
		}
		return events, nil
	default: // full
		return job, nil
	}
}

func (t *ToolSurface) cancelJob(ctx context.Context, raw map[string]any) (any, *Error) {
	m := normalize(raw)
	jobID, _ := m["job_id"].(string)
	if jobID == "" {
		return nil, ErrValidation("job_id is required")
	}
	var err error
	if t.engine != nil {
		err = t.engine.Cancel(ctx, jobID)
	} else {
		err = t.store.CancelJob(ctx, jobID)
	}
	if err != nil {
		return nil, classify(err)
	}
	return map[string]any{"canceled": true}, nil
}

func (t *ToolSurface) getReport(ctx context.Context, raw map[string]any) (any, *Error) {
	m := normalize(raw)
	id, ok := toInt64(m["reportId"])
	if !ok {
		return nil, ErrValidation("reportId is required")
	}
	report, err := t.store.GetReportByID(ctx, id)
	if err != nil {
		return nil, classify(err)
	}

	mode, _ := m["mode"].(string)
	switch mode {
	case "summary":
		return map[string]any{"id": report.ID, "query": report.Query, "createdAt": report.CreatedAt}, nil
	case "truncate":
		maxChars, _ := toInt(m["maxChars"])
		if maxChars <= 0 {
			maxChars = 2000
		}
		return truncateText(report.FinalReport, maxChars), nil
	case "smart":
		// Smart mode returns a truncated view unless the caller's query
		// appears verbatim in the report, in which case the full text is
		// returned so the matching passage isn't cut off mid-citation.
		if q, ok := m["query"].(string); ok && q != "" && strings.Contains(report.FinalReport, q) {
			return report.FinalReport, nil
		}
		return truncateText(report.FinalReport, 2000), nil
	default: // full
		return report.FinalReport, nil
	}
}

func truncateText(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "…"
}

func (t *ToolSurface) listHistory(ctx context.Context, raw map[string]any) (any, *Error) {
	m := normalize(raw)
	limit, ok := toInt(m["limit"])
	if !ok || limit <= 0 {
		limit = 20
	}
	filter, _ := m["queryFilter"].(string)
	reports, err := t.store.ListRecent(ctx, limit, filter)
	if err != nil {
		return nil, classify(err)
	}
	var b strings.Builder
	for _, r := range reports {
		fmt.Fprintf(&b, "#%d [%s] %s\n", r.ID, r.CreatedAt.Format(time.RFC3339), r.Query)
	}
	return b.String(), nil
}

func (t *ToolSurface) retrieve(ctx context.Context, raw map[string]any) (any, *Error) {
	m := normalize(raw)
	mode, _ := m["mode"].(string)
	switch mode {
	case "sql":
		sqlText, _ := m["sql"].(string)
		if sqlText == "" {
			return nil, ErrValidation("sql is required for mode=sql")
		}
		params, _ := m["params"].([]any)
		rows, err := t.store.ExecuteQuery(ctx, sqlText, params)
		if err != nil {
			return nil, classify(err)
		}
		return rows, nil
	default: // index
		query, _ := m["query"].(string)
		if query == "" {
			return nil, ErrValidation("query is required for mode=index")
		}
		k, ok := toInt(m["k"])
		if !ok || k <= 0 {
			k = 10
		}
		if t.index == nil {
			return nil, ErrValidation("indexing is disabled")
		}
		results, err := t.index.Search(ctx, query, k)
		if err != nil {
			return nil, classify(err)
		}
		return results, nil
	}
}

func (t *ToolSurface) indexTexts(ctx context.Context, raw map[string]any) (any, *Error) {
	m := normalize(raw)
	docs, _ := m["textDocuments"].([]any)
	if len(docs) == 0 {
		return nil, ErrValidation("textDocuments is required")
	}
	if t.index == nil {
		return nil, ErrValidation("indexing is disabled")
	}
	var ids []int64
	for i, d := range docs {
		entry, _ := d.(map[string]any)
		name, _ := entry["name"].(string)
		text, _ := entry["text"].(string)
		if name == "" {
			name = fmt.Sprintf("text-%d", i+1)
		}
		doc, err := t.index.IndexDocument(ctx, store.IndexDocument{SourceType: "doc", SourceID: name, Title: name, Content: text})
		if err != nil {
			return nil, classify(err)
		}
		ids = append(ids, doc.ID)
	}
	return map[string]any{"indexed": ids}, nil
}

func (t *ToolSurface) indexURL(ctx context.Context, raw map[string]any) (any, *Error) {
	// No web-fetch backend is part of this system's core (spec §1
	// Non-goals); accept the call but report the limitation rather than
	// pretending to fetch.
	m := normalize(raw)
	url, _ := m["url"].(string)
	if url == "" {
		return nil, ErrValidation("url is required")
	}
	return nil, ErrValidation("index_url requires an external fetch backend not present in this deployment")
}

func (t *ToolSurface) searchIndex(ctx context.Context, raw map[string]any) (any, *Error) {
	return t.retrieve(ctx, map[string]any{"mode": "index", "query": raw["query"], "k": raw["k"]})
}

func (t *ToolSurface) indexStatus(ctx context.Context, _ map[string]any) (any, *Error) {
	count, err := t.store.DocCount(ctx)
	if err != nil {
		return nil, classify(err)
	}
	version, _ := t.store.EmbeddingVersion(ctx)
	return map[string]any{"documentCount": count, "embeddingVersion": version}, nil
}

func (t *ToolSurface) serverStatus(ctx context.Context, _ map[string]any) (any, *Error) {
	status := map[string]any{
		"store": map[string]any{"inMemory": t.store.IsInMemory()},
	}
	if docCount, err := t.store.DocCount(ctx); err == nil {
		status["index"] = map[string]any{"documentCount": docCount}
	}
	if metrics, err := t.store.GetConvergenceMetrics(ctx, 24); err == nil {
		status["convergence"] = metrics
	}
	if t.engine != nil {
		status["jobs"] = t.engine.Pool().Health()
	}
	status["embedder"] = map[string]any{"enabled": t.embed != nil}
	return status, nil
}

func (t *ToolSurface) listModels(ctx context.Context, raw map[string]any) (any, *Error) {
	m := normalize(raw)
	if refresh, ok := m["refresh"].(bool); ok && refresh {
		t.log.Info("model catalog refresh requested; using statically configured catalog")
	}
	return t.routerTable.Catalog(), nil
}

func (t *ToolSurface) writeReportFile(result research.Result) {
	if t.reportOutputPath == "" || result.ReportID == nil {
		return
	}
	if err := os.MkdirAll(t.reportOutputPath, 0o755); err != nil {
		t.log.Warn("failed to create report output directory", "error", err)
		return
	}
	path := filepath.Join(t.reportOutputPath, fmt.Sprintf("research-report-%d.md", *result.ReportID))
	content := result.FinalReport
	if result.Warning != "" {
		content += "\n\n## Research Quality Warnings\n" + result.Warning + "\n"
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.log.Warn("failed to write report file", "path", path, "error", err)
	}
}

func toInt(v any) (int, bool) {
	switch n := v.(type) {
	case int:
		return n, true
	case int64:
		return int(n), true
	case float64:
		return int(n), true
	default:
		return 0, false
	}
}

func toInt64(v any) (int64, bool) {
	switch n := v.(type) {
	case int64:
		return n, true
	case int:
		return int64(n), true
	case float64:
		return int64(n), true
	default:
		return 0, false
	}
}
