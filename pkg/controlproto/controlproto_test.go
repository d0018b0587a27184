package controlproto

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/corvid-labs/orchestrator/pkg/config"
	"github.com/corvid-labs/orchestrator/pkg/queue"
	"github.com/corvid-labs/orchestrator/pkg/router"
	"github.com/corvid-labs/orchestrator/pkg/store"
)

func newTestStore(t *testing.T) *store.Store {
	t.Helper()
	s := store.New(config.StoreConfig{
		Host: "127.0.0.1", Port: 1, Database: "test",
		AllowInMemoryFallback: true, MaxRetries: 0, BaseDelay: time.Millisecond,
	}, nil)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, s.WaitForInit(ctx))
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestNormalizeAppliesAliasTable(t *testing.T) {
	out := normalize(map[string]any{"q": "hello", "aud": "expert"})
	assert.Equal(t, "hello", out["query"])
	assert.Equal(t, "expert", out["audienceLevel"])
}

func TestNormalizeLeavesUnknownKeysUnchanged(t *testing.T) {
	out := normalize(map[string]any{"custom": 1})
	assert.Equal(t, 1, out["custom"])
}

func TestParseResearchArgsRequiresQuery(t *testing.T) {
	_, err := parseResearchArgs(map[string]any{})
	require.NotNil(t, err)
	assert.Equal(t, CategoryValidation, err.Category)
}

func TestParseResearchArgsDefaultsAsyncTrue(t *testing.T) {
	args, err := parseResearchArgs(map[string]any{"query": "q"})
	require.Nil(t, err)
	assert.True(t, args.Async)
}

func TestParseResearchArgsAsyncFalseHonored(t *testing.T) {
	args, err := parseResearchArgs(map[string]any{"query": "q", "async": false})
	require.Nil(t, err)
	assert.False(t, args.Async)
}

func TestParseResearchArgsUsesAliasedKeys(t *testing.T) {
	args, err := parseResearchArgs(map[string]any{"q": "hi", "cost": "high"})
	require.Nil(t, err)
	assert.Equal(t, "hi", args.Query)
	assert.Equal(t, "high", args.CostPreference)
}

func TestPromoteEntriesPromotesBareStrings(t *testing.T) {
	out := promoteEntries([]any{"first", "second"}, "textDocument")
	require.Len(t, out, 2)
	assert.Equal(t, "textDocument-1", out[0]["name"])
	assert.Equal(t, "first", out[0]["text"])
	assert.Equal(t, "textDocument-2", out[1]["name"])
}

func TestPromoteEntriesLeavesStructuredEntriesAlone(t *testing.T) {
	entry := map[string]any{"name": "custom", "text": "body"}
	out := promoteEntries([]any{entry}, "textDocument")
	require.Len(t, out, 1)
	assert.Equal(t, "custom", out[0]["name"])
}

func TestPromoteEntriesNonArrayReturnsNil(t *testing.T) {
	assert.Nil(t, promoteEntries("not-an-array", "textDocument"))
}

func TestClassifyMapsNotFound(t *testing.T) {
	err := classify(store.ErrNotFound)
	assert.Equal(t, CategoryNotFound, err.Category)
}

func TestErrValidationCategory(t *testing.T) {
	err := ErrValidation("bad input")
	assert.Equal(t, CategoryValidation, err.Category)
	assert.Equal(t, "bad input", err.Error())
}

func TestDispatcherRefusesAtMaxDepth(t *testing.T) {
	s := newTestStore(t)
	surface := New(s, nil, nil, nil, nil, router.New(config.RouterConfig{}), config.PipelineConfig{}, nil)
	d := NewDispatcher(surface, config.ControlProtoConfig{MaxToolDepth: 2})

	_, err := d.Dispatch(context.Background(), "get_server_status", nil, 2)
	require.NotNil(t, err)
	assert.Equal(t, ErrMaxDepth, err)
}

func TestDispatcherProceedsBelowMaxDepth(t *testing.T) {
	s := newTestStore(t)
	surface := New(s, nil, nil, nil, nil, router.New(config.RouterConfig{}), config.PipelineConfig{}, nil)
	d := NewDispatcher(surface, config.ControlProtoConfig{MaxToolDepth: 2})

	_, err := d.Dispatch(context.Background(), "get_server_status", nil, 0)
	assert.Nil(t, err)
}

func TestDispatcherUnboundedWhenMaxToolDepthZero(t *testing.T) {
	s := newTestStore(t)
	surface := New(s, nil, nil, nil, nil, router.New(config.RouterConfig{}), config.PipelineConfig{}, nil)
	d := NewDispatcher(surface, config.ControlProtoConfig{MaxToolDepth: 0})

	_, err := d.Dispatch(context.Background(), "get_server_status", nil, 500)
	assert.Nil(t, err)
}

func TestToolSurfaceUnknownToolIsValidationError(t *testing.T) {
	s := newTestStore(t)
	surface := New(s, nil, nil, nil, nil, router.New(config.RouterConfig{}), config.PipelineConfig{}, nil)
	_, err := surface.Call(context.Background(), "not_a_tool", nil)
	require.NotNil(t, err)
	assert.Equal(t, CategoryValidation, err.Category)
}

func TestToolSurfaceSearchWebIsNotImplemented(t *testing.T) {
	s := newTestStore(t)
	surface := New(s, nil, nil, nil, nil, router.New(config.RouterConfig{}), config.PipelineConfig{}, nil)
	_, err := surface.Call(context.Background(), "search_web", nil)
	require.NotNil(t, err)
	assert.Contains(t, err.Error(), "not implemented")
}

func TestToolSurfaceJobStatusRequiresJobID(t *testing.T) {
	s := newTestStore(t)
	surface := New(s, nil, nil, nil, nil, router.New(config.RouterConfig{}), config.PipelineConfig{}, nil)
	_, err := surface.Call(context.Background(), "job_status", map[string]any{})
	require.NotNil(t, err)
	assert.Equal(t, CategoryValidation, err.Category)
}

func TestToolSurfaceJobStatusSummaryFormat(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	job, err := s.CreateJob(ctx, "research", map[string]any{"query": "q"}, nil)
	require.NoError(t, err)

	surface := New(s, nil, nil, nil, nil, router.New(config.RouterConfig{}), config.PipelineConfig{}, nil)
	out, cerr := surface.Call(ctx, "job_status", map[string]any{"job_id": job.ID})
	require.Nil(t, cerr)
	assert.Contains(t, out.(string), job.ID)
}

func TestToolSurfaceCancelJobRequiresJobID(t *testing.T) {
	s := newTestStore(t)
	surface := New(s, nil, nil, nil, nil, router.New(config.RouterConfig{}), config.PipelineConfig{}, nil)
	_, err := surface.Call(context.Background(), "cancel_job", map[string]any{})
	require.NotNil(t, err)
}

func TestToolSurfaceCancelJobSucceeds(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	job, err := s.CreateJob(ctx, "research", nil, nil)
	require.NoError(t, err)

	eng := queue.NewEngine(s, "pod-1", config.QueueConfig{}, nil, nil)
	surface := New(s, nil, nil, nil, eng, router.New(config.RouterConfig{}), config.PipelineConfig{}, nil)

	out, cerr := surface.Call(ctx, "cancel_job", map[string]any{"job_id": job.ID})
	require.Nil(t, cerr)
	assert.Equal(t, map[string]any{"canceled": true}, out)
}

func TestToolSurfaceGetReportRequiresReportID(t *testing.T) {
	s := newTestStore(t)
	surface := New(s, nil, nil, nil, nil, router.New(config.RouterConfig{}), config.PipelineConfig{}, nil)
	_, err := surface.Call(context.Background(), "get_report", map[string]any{})
	require.NotNil(t, err)
}

func TestToolSurfaceGetReportFullMode(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	saved, err := s.SaveReport(ctx, store.Report{Query: "q", FinalReport: "the full text"})
	require.NoError(t, err)

	surface := New(s, nil, nil, nil, nil, router.New(config.RouterConfig{}), config.PipelineConfig{}, nil)
	out, cerr := surface.Call(ctx, "get_report", map[string]any{"reportId": saved.ID})
	require.Nil(t, cerr)
	assert.Equal(t, "the full text", out)
}

func TestToolSurfaceGetReportTruncateMode(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	saved, err := s.SaveReport(ctx, store.Report{Query: "q", FinalReport: "0123456789"})
	require.NoError(t, err)

	surface := New(s, nil, nil, nil, nil, router.New(config.RouterConfig{}), config.PipelineConfig{}, nil)
	out, cerr := surface.Call(ctx, "get_report", map[string]any{"reportId": saved.ID, "mode": "truncate", "maxChars": 3})
	require.Nil(t, cerr)
	assert.Equal(t, "012…", out)
}

func TestToolSurfaceListHistoryDefaultsLimit(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	_, err := s.SaveReport(ctx, store.Report{Query: "first query", FinalReport: "r"})
	require.NoError(t, err)

	surface := New(s, nil, nil, nil, nil, router.New(config.RouterConfig{}), config.PipelineConfig{}, nil)
	out, cerr := surface.Call(ctx, "list_research_history", map[string]any{})
	require.Nil(t, cerr)
	assert.Contains(t, out.(string), "first query")
}

func TestToolSurfaceRetrieveSqlRequiresSql(t *testing.T) {
	s := newTestStore(t)
	surface := New(s, nil, nil, nil, nil, router.New(config.RouterConfig{}), config.PipelineConfig{}, nil)
	_, err := surface.Call(context.Background(), "retrieve", map[string]any{"mode": "sql"})
	require.NotNil(t, err)
}

func TestToolSurfaceRetrieveIndexRequiresQuery(t *testing.T) {
	s := newTestStore(t)
	surface := New(s, nil, nil, nil, nil, router.New(config.RouterConfig{}), config.PipelineConfig{}, nil)
	_, err := surface.Call(context.Background(), "retrieve", map[string]any{"mode": "index"})
	require.NotNil(t, err)
}

func TestToolSurfaceRetrieveIndexDisabledIsValidationError(t *testing.T) {
	s := newTestStore(t)
	surface := New(s, nil, nil, nil, nil, router.New(config.RouterConfig{}), config.PipelineConfig{}, nil)
	_, err := surface.Call(context.Background(), "retrieve", map[string]any{"mode": "index", "query": "q"})
	require.NotNil(t, err)
	assert.Contains(t, err.Error(), "indexing is disabled")
}

func TestToolSurfaceIndexTextsRequiresDocuments(t *testing.T) {
	s := newTestStore(t)
	surface := New(s, nil, nil, nil, nil, router.New(config.RouterConfig{}), config.PipelineConfig{}, nil)
	_, err := surface.Call(context.Background(), "index_texts", map[string]any{})
	require.NotNil(t, err)
}

func TestToolSurfaceIndexURLReportsMissingBackend(t *testing.T) {
	s := newTestStore(t)
	surface := New(s, nil, nil, nil, nil, router.New(config.RouterConfig{}), config.PipelineConfig{}, nil)
	_, err := surface.Call(context.Background(), "index_url", map[string]any{"url": "https://example.com"})
	require.NotNil(t, err)
	assert.Contains(t, err.Error(), "index_url")
}

func TestToolSurfaceIndexStatusReportsDocCount(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	_, err := s.IndexDocument(ctx, store.IndexDocument{SourceType: "report", SourceID: "1", Title: "t", Content: "c"})
	require.NoError(t, err)

	surface := New(s, nil, nil, nil, nil, router.New(config.RouterConfig{}), config.PipelineConfig{}, nil)
	out, cerr := surface.Call(ctx, "index_status", nil)
	require.Nil(t, cerr)
	m := out.(map[string]any)
	assert.Equal(t, 1, m["documentCount"])
}

func TestToolSurfaceServerStatusReportsInMemory(t *testing.T) {
	s := newTestStore(t)
	surface := New(s, nil, nil, nil, nil, router.New(config.RouterConfig{}), config.PipelineConfig{}, nil)
	out, cerr := surface.Call(context.Background(), "get_server_status", nil)
	require.Nil(t, cerr)
	m := out.(map[string]any)
	storeStatus := m["store"].(map[string]any)
	assert.Equal(t, true, storeStatus["inMemory"])
}

func TestToolSurfaceListModelsReturnsCatalog(t *testing.T) {
	s := newTestStore(t)
	r := router.New(config.RouterConfig{LowCost: []config.ModelEntry{{ID: "m1", Provider: "p1"}}})
	surface := New(s, nil, nil, nil, nil, r, config.PipelineConfig{}, nil)
	out, cerr := surface.Call(context.Background(), "list_models", map[string]any{})
	require.Nil(t, cerr)
	assert.NotEmpty(t, out)
}

func TestCostFromArgDefaultsLowForUnknown(t *testing.T) {
	assert.Equal(t, router.CostLow, costFromArg("bogus"))
	assert.Equal(t, router.CostHigh, costFromArg("high"))
}

func TestFormatFromArgDefaultsReport(t *testing.T) {
	assert.Equal(t, "briefing", string(formatFromArg("briefing")))
	assert.Equal(t, "bullet_points", string(formatFromArg("bullet_points")))
	assert.Equal(t, "report", string(formatFromArg("bogus")))
}
