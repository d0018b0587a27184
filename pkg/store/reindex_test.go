package store

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEmbeddingVersionEmptyWhenUnset(t *testing.T) {
	s := newInMemoryStore(t)
	v, err := s.EmbeddingVersion(context.Background())
	require.NoError(t, err)
	assert.Empty(t, v)
}

func TestSetAndGetEmbeddingVersion(t *testing.T) {
	s := newInMemoryStore(t)
	ctx := context.Background()
	require.NoError(t, s.SetEmbeddingVersion(ctx, "text-embedding-3-small:1536"))

	v, err := s.EmbeddingVersion(ctx)
	require.NoError(t, err)
	assert.Equal(t, "text-embedding-3-small:1536", v)
}

func TestReindexVectorsUpdatesEveryReportEmbedding(t *testing.T) {
	s := newInMemoryStore(t)
	ctx := context.Background()
	saved, err := s.SaveReport(ctx, Report{Query: "q1", FinalReport: "r"})
	require.NoError(t, err)

	n, err := s.ReindexVectors(ctx, func(ctx context.Context, text string) ([]float64, error) {
		return []float64{1, 2, 3}, nil
	})
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	got, err := s.GetReportByID(ctx, saved.ID)
	require.NoError(t, err)
	assert.Equal(t, []float64{1, 2, 3}, got.QueryEmbedding)
}

func TestReindexVectorsSkipsReportsWhoseEmbedFails(t *testing.T) {
	s := newInMemoryStore(t)
	ctx := context.Background()
	_, err := s.SaveReport(ctx, Report{Query: "q1", FinalReport: "r"})
	require.NoError(t, err)

	n, err := s.ReindexVectors(ctx, func(ctx context.Context, text string) ([]float64, error) {
		return nil, errors.New("embedder unavailable")
	})
	require.NoError(t, err)
	assert.Zero(t, n)
}
