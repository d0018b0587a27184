package store

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTokenizeLowercasesStripsPunctuationAndStopwords(t *testing.T) {
	got := Tokenize("The Quick, Brown Fox! (and the lazy dog)")
	assert.Equal(t, []string{"quick", "brown", "fox", "lazy", "dog"}, got)
}

func TestTokenizeEmptyInput(t *testing.T) {
	assert.Empty(t, Tokenize(""))
}

func TestIndexDocumentComputesDocLen(t *testing.T) {
	s := newInMemoryStore(t)
	doc, err := s.IndexDocument(context.Background(), IndexDocument{
		SourceType: "report", SourceID: "1", Title: "Go concurrency", Content: "goroutines and channels",
	})
	require.NoError(t, err)
	assert.NotZero(t, doc.DocLen)
	assert.NotZero(t, doc.ID)
}

func TestIndexDocumentUpsertsOnSameSource(t *testing.T) {
	s := newInMemoryStore(t)
	ctx := context.Background()
	first, err := s.IndexDocument(ctx, IndexDocument{SourceType: "report", SourceID: "1", Title: "v1", Content: "original content"})
	require.NoError(t, err)

	second, err := s.IndexDocument(ctx, IndexDocument{SourceType: "report", SourceID: "1", Title: "v2", Content: "updated content"})
	require.NoError(t, err)

	assert.Equal(t, first.ID, second.ID)

	count, err := s.DocCount(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

func TestDocCountAndAvgDocLen(t *testing.T) {
	s := newInMemoryStore(t)
	ctx := context.Background()
	_, err := s.IndexDocument(ctx, IndexDocument{SourceType: "report", SourceID: "1", Title: "a", Content: "one two three four"})
	require.NoError(t, err)
	_, err = s.IndexDocument(ctx, IndexDocument{SourceType: "report", SourceID: "2", Title: "b", Content: "one two"})
	require.NoError(t, err)

	count, err := s.DocCount(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, count)

	avg, err := s.AvgDocLen(ctx)
	require.NoError(t, err)
	assert.Positive(t, avg)
}

func TestPostingsForTermsEmptyTermsReturnsNil(t *testing.T) {
	s := newInMemoryStore(t)
	postings, dfs, err := s.PostingsForTerms(context.Background(), nil)
	require.NoError(t, err)
	assert.Nil(t, postings)
	assert.Nil(t, dfs)
}

func TestPostingsForTermsReturnsDocFrequencyAndTF(t *testing.T) {
	s := newInMemoryStore(t)
	ctx := context.Background()
	_, err := s.IndexDocument(ctx, IndexDocument{SourceType: "report", SourceID: "1", Title: "", Content: "golang golang rust"})
	require.NoError(t, err)
	_, err = s.IndexDocument(ctx, IndexDocument{SourceType: "report", SourceID: "2", Title: "", Content: "golang python"})
	require.NoError(t, err)

	postings, dfs, err := s.PostingsForTerms(ctx, []string{"golang"})
	require.NoError(t, err)
	assert.Equal(t, 2, dfs["golang"])
	assert.Len(t, postings, 2)
}

func TestDocsByIDsReturnsKnownDocumentsOnly(t *testing.T) {
	s := newInMemoryStore(t)
	ctx := context.Background()
	doc, err := s.IndexDocument(ctx, IndexDocument{SourceType: "report", SourceID: "1", Title: "t", Content: "c"})
	require.NoError(t, err)

	got, err := s.DocsByIDs(ctx, []int64{doc.ID, 999})
	require.NoError(t, err)
	assert.Len(t, got, 1)
}

func TestTopVectorDocsEmptyEmbeddingReturnsNil(t *testing.T) {
	s := newInMemoryStore(t)
	out, err := s.TopVectorDocs(context.Background(), nil, 3)
	require.NoError(t, err)
	assert.Nil(t, out)
}

func TestTopVectorDocsRanksBySimilarityDescending(t *testing.T) {
	s := newInMemoryStore(t)
	ctx := context.Background()
	_, err := s.IndexDocument(ctx, IndexDocument{SourceType: "report", SourceID: "1", Title: "close", Content: "c", DocEmbedding: []float64{0.9, 0.1}})
	require.NoError(t, err)
	_, err = s.IndexDocument(ctx, IndexDocument{SourceType: "report", SourceID: "2", Title: "far", Content: "c", DocEmbedding: []float64{0, 1}})
	require.NoError(t, err)
	_, err = s.IndexDocument(ctx, IndexDocument{SourceType: "note", SourceID: "3", Title: "ignored", Content: "c", DocEmbedding: []float64{1, 0}})
	require.NoError(t, err)

	out, err := s.TopVectorDocs(ctx, []float64{1, 0}, 2)
	require.NoError(t, err)
	require.Len(t, out, 2)
	assert.Equal(t, "close", out[0].Title)
}
