// Package index implements HybridIndex (spec §4.5): BM25 scoring over
// Store's posting tables fused with vector cosine similarity, with
// optional LLM rerank and report promotion for pure-semantic matches.
package index

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"math"
	"regexp"
	"sort"

	"github.com/corvid-labs/orchestrator/pkg/config"
	"github.com/corvid-labs/orchestrator/pkg/embedding"
	"github.com/corvid-labs/orchestrator/pkg/provider"
	"github.com/corvid-labs/orchestrator/pkg/store"
)

// Result is one ranked hit, carrying its component scores so callers can
// explain why a document surfaced.
type Result struct {
	Document store.IndexDocument
	BM25     float64
	Vector   float64
	Fused    float64
}

// Index wires Store's persistence primitives into ranked hybrid search.
type Index struct {
	store *store.Store
	embed embedding.Embedder
	cfg   config.IndexConfig
	log   *slog.Logger

	// rerank, when non-nil, is used to reorder the top candidates by
	// asking an LLM to judge relevance. Optional per spec §4.5.
	rerank provider.Client

	bm25K1, bm25B float64
}

// New builds an Index. rerank may be nil, in which case RerankEnabled in
// cfg is ignored. bm25K1/bm25B come from StoreConfig (spec §4.1's BM25
// parameters live alongside the posting tables they score).
func New(s *store.Store, embed embedding.Embedder, cfg config.IndexConfig, bm25K1, bm25B float64, log *slog.Logger, rerank provider.Client) *Index {
	if log == nil {
		log = slog.Default()
	}
	if bm25K1 <= 0 {
		bm25K1 = 1.2
	}
	if bm25B <= 0 {
		bm25B = 0.75
	}
	return &Index{store: s, embed: embed, cfg: cfg, log: log, rerank: rerank, bm25K1: bm25K1, bm25B: bm25B}
}

// IndexDocument tokenizes and persists doc, embedding its content when an
// embedder is configured. Per spec §4.5, auto-indexing failures are logged
// and swallowed by the caller (saved-report/fetch-url paths); this method
// itself still returns the error so callers can decide whether to swallow.
func (ix *Index) IndexDocument(ctx context.Context, doc store.IndexDocument) (*store.IndexDocument, error) {
	if ix.embed != nil && len(doc.DocEmbedding) == 0 {
		if vec, err := ix.embed.Embed(ctx, doc.Title+"\n"+doc.Content); err == nil && len(vec) > 0 {
			doc.DocEmbedding = vec
		}
	}
	return ix.store.IndexDocument(ctx, doc)
}

// AutoIndex indexes doc if cfg.AutoIndex is set, logging and swallowing any
// failure — it must never fail the caller's user-visible operation.
func (ix *Index) AutoIndex(ctx context.Context, doc store.IndexDocument) {
	if !ix.cfg.AutoIndex {
		return
	}
	if _, err := ix.IndexDocument(ctx, doc); err != nil {
		ix.log.Warn("auto-index failed", "source_type", doc.SourceType, "source_id", doc.SourceID, "error", err)
	}
}

// Search tokenizes query, fetches BM25 postings and vector-similar report
// rows, fuses them by configured weights, pads with top-vector-only report
// hits, and optionally reranks the top of the result set.
func (ix *Index) Search(ctx context.Context, query string, k int) ([]Result, error) {
	if !ix.cfg.Enabled {
		return nil, nil
	}
	terms := store.Tokenize(query)
	bm25Scores, docIDs, err := ix.bm25Scores(ctx, terms)
	if err != nil {
		return nil, err
	}

	var queryVec []float64
	if ix.embed != nil {
		queryVec, _ = ix.embed.Embed(ctx, query)
	}

	docs, err := ix.store.DocsByIDs(ctx, docIDs)
	if err != nil {
		return nil, err
	}
	byID := make(map[int64]store.IndexDocument, len(docs))
	for _, d := range docs {
		byID[d.ID] = d
	}

	results := make([]Result, 0, len(docIDs))
	for _, id := range docIDs {
		doc, ok := byID[id]
		if !ok {
			continue
		}
		vecScore := 0.0
		if len(queryVec) > 0 && len(doc.DocEmbedding) > 0 {
			vecScore = embedding.Similarity(queryVec, doc.DocEmbedding)
		}
		results = append(results, Result{Document: doc, BM25: bm25Scores[id], Vector: vecScore})
	}

	fuse(results, ix.cfg.WeightBM25, ix.cfg.WeightVector)
	sort.Slice(results, func(i, j int) bool { return results[i].Fused > results[j].Fused })

	if len(results) < k && len(queryVec) > 0 {
		results = ix.padWithTopVector(ctx, queryVec, k, results)
	}
	if len(results) > k {
		results = results[:k]
	}

	if ix.cfg.RerankEnabled && ix.rerank != nil && len(results) > 1 {
		results = ix.llmRerank(ctx, query, results)
	}
	return results, nil
}

// bm25Scores computes the BM25 score (k1/b per cfg, via Store's df/doc-len
// primitives) for every document touched by any query term.
func (ix *Index) bm25Scores(ctx context.Context, terms []string) (map[int64]float64, []int64, error) {
	if len(terms) == 0 {
		return map[int64]float64{}, nil, nil
	}
	postings, dfs, err := ix.store.PostingsForTerms(ctx, terms)
	if err != nil {
		return nil, nil, err
	}
	n, err := ix.store.DocCount(ctx)
	if err != nil {
		return nil, nil, err
	}
	avgdl, err := ix.store.AvgDocLen(ctx)
	if err != nil {
		return nil, nil, err
	}
	docLens, err := ix.docLensFor(ctx, postings)
	if err != nil {
		return nil, nil, err
	}

	k1, b := ix.bm25K1, ix.bm25B
	scores := make(map[int64]float64)
	order := make([]int64, 0, len(postings))
	seen := make(map[int64]bool)
	for _, p := range postings {
		df := dfs[p.Term]
		if df == 0 {
			continue
		}
		idf := math.Log(1 + (float64(n)-float64(df)+0.5)/(float64(df)+0.5))
		dl := float64(docLens[p.DocID])
		if dl == 0 {
			dl = avgdl
		}
		tf := float64(p.TF)
		denom := tf + k1*(1-b+b*dl/maxf(avgdl, 1))
		scores[p.DocID] += idf * (tf * (k1 + 1)) / maxf(denom, 1e-9)
		if !seen[p.DocID] {
			seen[p.DocID] = true
			order = append(order, p.DocID)
		}
	}
	return scores, order, nil
}

func (ix *Index) docLensFor(ctx context.Context, postings []store.Posting) (map[int64]int, error) {
	ids := make([]int64, 0, len(postings))
	seen := make(map[int64]bool)
	for _, p := range postings {
		if !seen[p.DocID] {
			seen[p.DocID] = true
			ids = append(ids, p.DocID)
		}
	}
	docs, err := ix.store.DocsByIDs(ctx, ids)
	if err != nil {
		return nil, err
	}
	out := make(map[int64]int, len(docs))
	for _, d := range docs {
		out[d.ID] = d.DocLen
	}
	return out, nil
}

// padWithTopVector adds top-vector-only report hits so pure-semantic
// matches survive when the inverted index has no term overlap (spec
// §4.5's report-promotion rule).
func (ix *Index) padWithTopVector(ctx context.Context, queryVec []float64, k int, existing []Result) []Result {
	have := make(map[int64]bool, len(existing))
	for _, r := range existing {
		have[r.Document.ID] = true
	}
	extra, err := ix.store.TopVectorDocs(ctx, queryVec, k)
	if err != nil {
		return existing
	}
	for _, d := range extra {
		if have[d.ID] || len(existing) >= k {
			continue
		}
		vecScore := 0.0
		if len(d.DocEmbedding) > 0 {
			vecScore = embedding.Similarity(queryVec, d.DocEmbedding)
		}
		existing = append(existing, Result{Document: d, Vector: vecScore, Fused: ix.cfg.WeightVector * vecScore})
		have[d.ID] = true
	}
	sort.Slice(existing, func(i, j int) bool { return existing[i].Fused > existing[j].Fused })
	return existing
}

// fuse normalizes BM25 and vector scores min-max over the result set and
// combines them by configured weights.
func fuse(results []Result, wBM25, wVec float64) {
	if len(results) == 0 {
		return
	}
	minB, maxB := results[0].BM25, results[0].BM25
	minV, maxV := results[0].Vector, results[0].Vector
	for _, r := range results {
		minB, maxB = math.Min(minB, r.BM25), math.Max(maxB, r.BM25)
		minV, maxV = math.Min(minV, r.Vector), math.Max(maxV, r.Vector)
	}
	for i := range results {
		nb := normalize(results[i].BM25, minB, maxB)
		nv := normalize(results[i].Vector, minV, maxV)
		results[i].Fused = wBM25*nb + wVec*nv
	}
}

func normalize(v, min, max float64) float64 {
	if max-min < 1e-9 {
		if max == 0 {
			return 0
		}
		return 1
	}
	return (v - min) / (max - min)
}

func maxf(a, b float64) float64 {
	if a > b {
		return a
	}
	return b
}

// llmRerank asks the configured rerank model to reorder candidates by
// relevance to query, returning a JSON integer array of original-position
// indices (1-based, matching the numbering in the prompt) best-first.
// Unknown or duplicate indices are ignored; any result index never
// mentioned retains its place, appended in its original fused order
// (spec §4.5). Best-effort: a rerank failure leaves the fused order
// untouched rather than failing the search.
func (ix *Index) llmRerank(ctx context.Context, query string, results []Result) []Result {
	prompt := rerankPrompt(query, results)
	resp, err := ix.rerank.ChatCompletion(ctx, provider.Request{
		System:      "Rank the documents by relevance to the query, best first. Reply with only a JSON array of the document numbers, e.g. [3,1,2], nothing else.",
		Messages:    []provider.Message{{Role: provider.RoleUser, Content: prompt}},
		MaxTokens:   128,
		Temperature: 0,
	})
	if err != nil {
		ix.log.Warn("rerank failed, keeping fused order", "error", err)
		return results
	}
	order := parseRerankScores(resp.Content, len(results))
	reordered := make([]Result, 0, len(results))
	used := make([]bool, len(results))
	for _, idx := range order {
		if idx < 0 || idx >= len(results) || used[idx] {
			continue
		}
		used[idx] = true
		reordered = append(reordered, results[idx])
	}
	for i, r := range results {
		if !used[i] {
			reordered = append(reordered, r)
		}
	}
	return reordered
}

func rerankPrompt(query string, results []Result) string {
	out := "Query: " + query + "\n\nDocuments:\n"
	for i, r := range results {
		snippet := r.Document.Content
		if len(snippet) > 300 {
			snippet = snippet[:300]
		}
		out += fmt.Sprintf("%d. %s — %s\n", i+1, r.Document.Title, snippet)
	}
	return out
}

var rerankArrayPattern = regexp.MustCompile(`\[[^\]]*\]`)

// parseRerankScores parses the rerank model's reply as a JSON array of
// 1-based document numbers and returns the equivalent 0-based original
// indices, in the order they should be ranked. Unknown/out-of-range
// numbers are dropped, and a repeated number is kept only at its first
// position. n bounds how many documents were offered, used only to
// validate the range.
func parseRerankScores(text string, n int) []int {
	match := rerankArrayPattern.FindString(text)
	if match == "" {
		return nil
	}
	var raw []int
	if err := json.Unmarshal([]byte(match), &raw); err != nil {
		return nil
	}
	order := make([]int, 0, len(raw))
	seen := make(map[int]bool, len(raw))
	for _, v := range raw {
		idx := v - 1
		if idx < 0 || idx >= n || seen[idx] {
			continue
		}
		seen[idx] = true
		order = append(order, idx)
	}
	return order
}
