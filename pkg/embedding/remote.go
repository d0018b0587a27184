package embedding

import (
	"context"
	"errors"
	"fmt"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
)

// embeddingsClient captures the subset of the OpenAI SDK used here.
type embeddingsClient interface {
	New(ctx context.Context, body openai.EmbeddingNewParams, opts ...option.RequestOption) (*openai.CreateEmbeddingResponse, error)
}

// Remote is an Embedder backed by the OpenAI embeddings endpoint.
type Remote struct {
	client    embeddingsClient
	model     string
	dimension int
}

// NewRemote builds a Remote embedder. dimension must match the model's
// output width (callers are expected to know it ahead of time; there is
// no discovery call).
func NewRemote(apiKey, model string, dimension int) (*Remote, error) {
	if apiKey == "" {
		return nil, errors.New("embedding: api key is required")
	}
	if model == "" {
		return nil, errors.New("embedding: model is required")
	}
	c := openai.NewClient(option.WithAPIKey(apiKey))
	return &Remote{client: c.Embeddings, model: model, dimension: dimension}, nil
}

func (r *Remote) Embed(ctx context.Context, text string) ([]float64, error) {
	vecs, err := r.EmbedBatch(ctx, []string{text})
	if err != nil || len(vecs) == 0 {
		return nil, err
	}
	return vecs[0], nil
}

func (r *Remote) EmbedBatch(ctx context.Context, texts []string) ([][]float64, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	resp, err := r.client.New(ctx, openai.EmbeddingNewParams{
		Model: openai.EmbeddingModel(r.model),
		Input: openai.EmbeddingNewParamsInputUnion{OfArrayOfStrings: texts},
	})
	if err != nil {
		// Per spec §4.2, embedding failures degrade per-call rather than
		// propagate: callers see nil vectors for every input and carry on
		// without the similarity-search features embeddings enable.
		return make([][]float64, len(texts)), fmt.Errorf("embedding: %w", err)
	}
	out := make([][]float64, len(texts))
	for i, d := range resp.Data {
		vec := make([]float64, len(d.Embedding))
		for j, v := range d.Embedding {
			vec[j] = v
		}
		if int(d.Index) < len(out) {
			out[d.Index] = vec
		} else if i < len(out) {
			out[i] = vec
		}
	}
	return out, nil
}

func (r *Remote) VersionKey() string { return r.model }

func (r *Remote) Dimension() int { return r.dimension }
