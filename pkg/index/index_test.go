package index

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/corvid-labs/orchestrator/pkg/config"
	"github.com/corvid-labs/orchestrator/pkg/embedding"
	"github.com/corvid-labs/orchestrator/pkg/provider"
	"github.com/corvid-labs/orchestrator/pkg/store"
)

// fakeRerankClient implements provider.Client, returning a canned reply
// in llmRerank's JSON-array-of-indices format. ChatCompletionStream is
// never exercised here, since Index.Search only ever calls ChatCompletion
// for rerank.
type fakeRerankClient struct {
	content string
	err     error
}

func (c *fakeRerankClient) Name() string { return "fake-rerank" }
func (c *fakeRerankClient) ChatCompletion(ctx context.Context, req provider.Request) (provider.Response, error) {
	if c.err != nil {
		return provider.Response{}, c.err
	}
	return provider.Response{Content: c.content}, nil
}
func (c *fakeRerankClient) ChatCompletionStream(ctx context.Context, req provider.Request) (provider.Stream, error) {
	return nil, provider.ErrStreamingUnsupported
}

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

func TestSearchDisabledReturnsNilWithoutError(t *testing.T) {
	ix := New(newTestStore(t), nil, config.IndexConfig{Enabled: false}, 0, 0, nil, nil)
	out, err := ix.Search(context.Background(), "anything", 5)
	require.NoError(t, err)
	assert.Nil(t, out)
}

func TestSearchFindsDocumentByTermOverlap(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	_, err := s.IndexDocument(ctx, store.IndexDocument{SourceType: "report", SourceID: "1", Title: "Go concurrency", Content: "goroutines channels select"})
	require.NoError(t, err)
	_, err = s.IndexDocument(ctx, store.IndexDocument{SourceType: "report", SourceID: "2", Title: "Rust ownership", Content: "borrow checker lifetimes"})
	require.NoError(t, err)

	ix := New(s, nil, config.IndexConfig{Enabled: true, WeightBM25: 1.0, WeightVector: 0}, 1.2, 0.75, nil, nil)
	results, err := ix.Search(ctx, "goroutines channels", 5)
	require.NoError(t, err)
	require.NotEmpty(t, results)
	assert.Equal(t, "Go concurrency", results[0].Document.Title)
}

func TestSearchPadsWithTopVectorWhenTermsDontOverlap(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	_, err := s.IndexDocument(ctx, store.IndexDocument{
		SourceType: "report", SourceID: "1", Title: "unrelated terms", Content: "nothing in common",
		DocEmbedding: []float64{1, 0},
	})
	require.NoError(t, err)

	ix := New(s, constEmbedder{vec: []float64{1, 0}}, config.IndexConfig{Enabled: true, WeightBM25: 0.5, WeightVector: 0.5}, 1.2, 0.75, nil, nil)
	results, err := ix.Search(ctx, "query with no term overlap", 5)
	require.NoError(t, err)
	require.Len(t, results, 1)
}

func TestSearchRerankReordersByParsedScores(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	_, err := s.IndexDocument(ctx, store.IndexDocument{SourceType: "report", SourceID: "1", Title: "first", Content: "golang concurrency patterns"})
	require.NoError(t, err)
	_, err = s.IndexDocument(ctx, store.IndexDocument{SourceType: "report", SourceID: "2", Title: "second", Content: "golang error handling"})
	require.NoError(t, err)

	rerank := &fakeRerankClient{content: "[2,1]"}
	ix := New(s, nil, config.IndexConfig{Enabled: true, WeightBM25: 1, RerankEnabled: true}, 1.2, 0.75, nil, rerank)
	results, err := ix.Search(ctx, "golang", 5)
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.Equal(t, "second", results[0].Document.Title, "rerank should promote document #2 to first per the model's ranking")
}

func TestSearchRerankFailureKeepsFusedOrder(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	_, err := s.IndexDocument(ctx, store.IndexDocument{SourceType: "report", SourceID: "1", Title: "first", Content: "golang concurrency"})
	require.NoError(t, err)
	_, err = s.IndexDocument(ctx, store.IndexDocument{SourceType: "report", SourceID: "2", Title: "second", Content: "golang errors"})
	require.NoError(t, err)

	rerank := &fakeRerankClient{err: assertErr("rerank unavailable")}
	ix := New(s, nil, config.IndexConfig{Enabled: true, WeightBM25: 1, RerankEnabled: true}, 1.2, 0.75, nil, rerank)
	results, err := ix.Search(ctx, "golang", 5)
	require.NoError(t, err)
	require.Len(t, results, 2)
}

func TestAutoIndexDisabledIsNoop(t *testing.T) {
	s := newTestStore(t)
	ix := New(s, nil, config.IndexConfig{AutoIndex: false}, 0, 0, nil, nil)
	ix.AutoIndex(context.Background(), store.IndexDocument{SourceType: "report", SourceID: "1"})

	count, err := s.DocCount(context.Background())
	require.NoError(t, err)
	assert.Zero(t, count)
}

func TestAutoIndexEnabledIndexesDocument(t *testing.T) {
	s := newTestStore(t)
	ix := New(s, nil, config.IndexConfig{AutoIndex: true}, 0, 0, nil, nil)
	ix.AutoIndex(context.Background(), store.IndexDocument{SourceType: "report", SourceID: "1", Title: "t", Content: "c"})

	count, err := s.DocCount(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

func TestFuseNormalizesAndWeighsScores(t *testing.T) {
	results := []Result{{BM25: 0, Vector: 0}, {BM25: 10, Vector: 1}}
	fuse(results, 0.5, 0.5)
	assert.InDelta(t, 0, results[0].Fused, 0.0001)
	assert.InDelta(t, 1, results[1].Fused, 0.0001)
}

func TestNormalizeFlatRangeReturnsZeroOrOne(t *testing.T) {
	assert.Equal(t, 0.0, normalize(0, 0, 0))
	assert.Equal(t, 1.0, normalize(5, 5, 5))
}

func TestParseRerankScoresIgnoresUnknownAndDuplicateIndices(t *testing.T) {
	order := parseRerankScores("[3,99,1,1]", 3)
	assert.Equal(t, []int{2, 0}, order, "value 1 appears twice and is kept once, value 99 is out of range and dropped")
}

func TestParseRerankScoresReturnsNilOnMalformedOutput(t *testing.T) {
	order := parseRerankScores("not json", 3)
	assert.Nil(t, order)
}

func TestLLMRerankAppendsUnmentionedResultsInFusedOrder(t *testing.T) {
	ctx := context.Background()
	ix := &Index{log: slog.New(slog.NewTextHandler(io.Discard, nil)), rerank: &fakeRerankClient{content: "[2]"}}
	results := []Result{
		{Document: store.IndexDocument{Title: "first"}, Fused: 0.9},
		{Document: store.IndexDocument{Title: "second"}, Fused: 0.5},
		{Document: store.IndexDocument{Title: "third"}, Fused: 0.1},
	}
	out := ix.llmRerank(ctx, "golang", results)
	require.Len(t, out, 3)
	assert.Equal(t, "second", out[0].Document.Title, "mentioned index promoted to first")
	assert.Equal(t, "first", out[1].Document.Title, "unmentioned results keep their original fused order")
	assert.Equal(t, "third", out[2].Document.Title)
}

// constEmbedder is a minimal embedding.Embedder fake returning a fixed
// vector for every input, used to exercise Search's vector-scoring path
// without a real embedding.Remote client.
type constEmbedder struct{ vec []float64 }

func (e constEmbedder) Embed(ctx context.Context, text string) ([]float64, error) { return e.vec, nil }
func (e constEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float64, error) {
	out := make([][]float64, len(texts))
	for i := range texts {
		out[i] = e.vec
	}
	return out, nil
}
func (e constEmbedder) Dimension() int      { return len(e.vec) }
func (e constEmbedder) VersionKey() string  { return "const-test" }

var _ embedding.Embedder = constEmbedder{}

type assertErrType string

func (e assertErrType) Error() string { return string(e) }

func assertErr(msg string) error { return assertErrType(msg) }
