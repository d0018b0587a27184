package store

import (
	"context"
	"database/sql"
	"errors"
	"math"
	"strings"
	"time"
)

// SaveReport persists a completed research report. ID is assigned by the
// store; the returned value has it populated.
func (s *Store) SaveReport(ctx context.Context, r Report) (*Report, error) {
	if s.inMemory {
		if err := s.WaitForInit(ctx); err != nil {
			return nil, err
		}
		r.CreatedAt = time.Now()
		r.UpdatedAt = r.CreatedAt
		return s.mem.saveReport(&r), nil
	}

	var out Report
	err := s.executeWithRetry(ctx, "SaveReport", func(ctx context.Context) error {
		row := s.db.QueryRowContext(ctx, `
			INSERT INTO reports (
				query, cost_preference, audience_level, output_format, include_sources,
				max_length, final_report, duration_ms, iteration_count, subquery_count,
				prompt_tokens, completion_tokens, total_tokens, based_on_past_report_ids,
				query_embedding, embedding_version
			) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16)
			RETURNING id, created_at, updated_at`,
			r.Query, r.CostPreference, r.AudienceLevel, r.OutputFormat, r.IncludeSources,
			r.MaxLength, r.FinalReport, r.DurationMS, r.IterationCount, r.SubqueryCount,
			r.Usage.PromptTokens, r.Usage.CompletionTokens, r.Usage.TotalTokens,
			int64Array(r.BasedOnPastReportIDs), float64Array(r.QueryEmbedding), r.EmbeddingVersion,
		)
		out = r
		return row.Scan(&out.ID, &out.CreatedAt, &out.UpdatedAt)
	})
	if err != nil {
		return nil, err
	}
	return &out, nil
}

// GetReportByID fetches a report by its server-assigned id.
func (s *Store) GetReportByID(ctx context.Context, id int64) (*Report, error) {
	if s.inMemory {
		if err := s.WaitForInit(ctx); err != nil {
			return nil, err
		}
		r, ok := s.mem.getReport(id)
		if !ok {
			return nil, ErrNotFound
		}
		return r, nil
	}

	var out Report
	err := s.executeWithRetry(ctx, "GetReportByID", func(ctx context.Context) error {
		row := s.db.QueryRowContext(ctx, `
			SELECT id, query, cost_preference, audience_level, output_format, include_sources,
			       max_length, final_report, duration_ms, iteration_count, subquery_count,
			       prompt_tokens, completion_tokens, total_tokens, based_on_past_report_ids,
			       accuracy_score, fact_check_notes, query_embedding, embedding_version,
			       created_at, updated_at
			FROM reports WHERE id = $1`, id)
		return scanReport(row, &out)
	})
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &out, nil
}

// ListRecent returns the most recently created reports, optionally filtered
// by a case-insensitive substring match against the original query text.
// limit <= 0 means unbounded.
func (s *Store) ListRecent(ctx context.Context, limit int, queryFilter string) ([]Report, error) {
	if s.inMemory {
		if err := s.WaitForInit(ctx); err != nil {
			return nil, err
		}
		var matched []Report
		for _, r := range s.mem.listRecent(0) {
			if strings.Contains(strings.ToLower(r.Query), strings.ToLower(queryFilter)) {
				matched = append(matched, r)
			}
		}
		if limit > 0 && len(matched) > limit {
			matched = matched[:limit]
		}
		return matched, nil
	}

	var limitArg any // nil renders as LIMIT NULL, i.e. no limit
	if limit > 0 {
		limitArg = limit
	}
	var out []Report
	err := s.executeWithRetry(ctx, "ListRecent", func(ctx context.Context) error {
		rows, err := s.db.QueryContext(ctx, `
			SELECT id, query, cost_preference, audience_level, output_format, include_sources,
			       max_length, final_report, duration_ms, iteration_count, subquery_count,
			       prompt_tokens, completion_tokens, total_tokens, based_on_past_report_ids,
			       accuracy_score, fact_check_notes, query_embedding, embedding_version,
			       created_at, updated_at
			FROM reports
			WHERE ($1 = '' OR query ILIKE '%' || $1 || '%')
			ORDER BY created_at DESC
			LIMIT $2`, queryFilter, limitArg)
		if err != nil {
			return err
		}
		defer rows.Close()
		out = nil
		for rows.Next() {
			var r Report
			if err := scanReport(rows, &r); err != nil {
				return err
			}
			out = append(out, r)
		}
		return rows.Err()
	})
	return out, err
}

// AddFeedback appends a rating entry to a report's append-only feedback log.
func (s *Store) AddFeedback(ctx context.Context, reportID int64, rating int, comment *string) error {
	if s.inMemory {
		if err := s.WaitForInit(ctx); err != nil {
			return err
		}
		if !s.mem.addFeedback(reportID, Feedback{Rating: rating, Comment: comment, CreatedAt: time.Now()}) {
			return ErrNotFound
		}
		return nil
	}
	return s.executeWithRetry(ctx, "AddFeedback", func(ctx context.Context) error {
		res, err := s.db.ExecContext(ctx,
			`INSERT INTO report_feedback (report_id, rating, comment) VALUES ($1,$2,$3)`,
			reportID, rating, comment)
		if err != nil {
			return err
		}
		n, _ := res.RowsAffected()
		if n == 0 {
			return ErrNotFound
		}
		return nil
	})
}

// FindByExactQuery looks up a report whose original query matches exactly,
// backing the exact-parameter tier of SemanticCache.
func (s *Store) FindByExactQuery(ctx context.Context, query string) (*Report, error) {
	if s.inMemory {
		for _, r := range s.mem.listRecent(0) {
			if r.Query == query {
				cp := r
				return &cp, nil
			}
		}
		return nil, ErrNotFound
	}
	var out Report
	err := s.executeWithRetry(ctx, "FindByExactQuery", func(ctx context.Context) error {
		row := s.db.QueryRowContext(ctx, `
			SELECT id, query, cost_preference, audience_level, output_format, include_sources,
			       max_length, final_report, duration_ms, iteration_count, subquery_count,
			       prompt_tokens, completion_tokens, total_tokens, based_on_past_report_ids,
			       accuracy_score, fact_check_notes, query_embedding, embedding_version,
			       created_at, updated_at
			FROM reports WHERE query = $1 ORDER BY created_at DESC LIMIT 1`, query)
		return scanReport(row, &out)
	})
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &out, nil
}

// similarityFloor is the hard floor below which no result is ever returned,
// per spec §9 ("this spec fixes the floor at 0.80... treats any lower
// value as a bug").
const similarityFloor = 0.80

// FindBySimilarity runs the adaptive-threshold cosine search described in
// spec §4.1: try minSimilarity first, and only if minSimilarity > 0.82,
// retry once at max(0.80, minSimilarity-0.03). queryEmbedding is nil when
// the embedder is unavailable, in which case this returns an empty result
// set rather than falling back to keyword search (anti-contamination).
func (s *Store) FindBySimilarity(ctx context.Context, queryEmbedding []float64, k int, minSimilarity float64) ([]SimilarReport, error) {
	if len(queryEmbedding) == 0 {
		return nil, nil
	}
	results, err := s.findBySimilarityAt(ctx, queryEmbedding, k, minSimilarity)
	if err != nil {
		return nil, err
	}
	if len(results) == 0 && minSimilarity > 0.82 {
		relaxed := minSimilarity - 0.03
		if relaxed < similarityFloor {
			relaxed = similarityFloor
		}
		results, err = s.findBySimilarityAt(ctx, queryEmbedding, k, relaxed)
		if err != nil {
			return nil, err
		}
	}
	return results, nil
}

func (s *Store) findBySimilarityAt(ctx context.Context, queryEmbedding []float64, k int, minSimilarity float64) ([]SimilarReport, error) {
	if minSimilarity < similarityFloor {
		minSimilarity = similarityFloor
	}
	if s.inMemory {
		var out []SimilarReport
		for _, r := range s.mem.listRecent(0) {
			if len(r.QueryEmbedding) == 0 {
				continue
			}
			sim := cosineSimilarity(queryEmbedding, r.QueryEmbedding)
			if sim >= minSimilarity {
				out = append(out, SimilarReport{Report: r, Similarity: sim})
			}
		}
		if len(out) > k {
			out = out[:k]
		}
		return out, nil
	}

	var out []SimilarReport
	err := s.executeWithRetry(ctx, "FindBySimilarity", func(ctx context.Context) error {
		rows, err := s.db.QueryContext(ctx, `
			SELECT id, query, cost_preference, audience_level, output_format, include_sources,
			       max_length, final_report, duration_ms, iteration_count, subquery_count,
			       prompt_tokens, completion_tokens, total_tokens, based_on_past_report_ids,
			       accuracy_score, fact_check_notes, query_embedding, embedding_version,
			       created_at, updated_at, cosine_similarity(query_embedding, $1) AS sim
			FROM reports
			WHERE query_embedding IS NOT NULL
			  AND cosine_similarity(query_embedding, $1) >= $2
			ORDER BY sim DESC
			LIMIT $3`, float64Array(queryEmbedding), minSimilarity, k)
		if err != nil {
			return err
		}
		defer rows.Close()
		out = nil
		for rows.Next() {
			var r Report
			var sim float64
			if err := scanReportWithSim(rows, &r, &sim); err != nil {
				return err
			}
			out = append(out, SimilarReport{Report: r, Similarity: sim})
		}
		return rows.Err()
	})
	return out, err
}

// rowScanner abstracts over *sql.Row and *sql.Rows for the shared report
// column scan used by every read path above.
type rowScanner interface {
	Scan(dest ...any) error
}

func scanReport(row rowScanner, r *Report) error {
	var embedding float64Array
	var basedOn int64Array
	err := row.Scan(
		&r.ID, &r.Query, &r.CostPreference, &r.AudienceLevel, &r.OutputFormat, &r.IncludeSources,
		&r.MaxLength, &r.FinalReport, &r.DurationMS, &r.IterationCount, &r.SubqueryCount,
		&r.Usage.PromptTokens, &r.Usage.CompletionTokens, &r.Usage.TotalTokens, &basedOn,
		&r.AccuracyScore, &r.FactCheckNotes, &embedding, &r.EmbeddingVersion,
		&r.CreatedAt, &r.UpdatedAt,
	)
	r.QueryEmbedding = []float64(embedding)
	r.BasedOnPastReportIDs = []int64(basedOn)
	return err
}

func scanReportWithSim(row rowScanner, r *Report, sim *float64) error {
	var embedding float64Array
	var basedOn int64Array
	err := row.Scan(
		&r.ID, &r.Query, &r.CostPreference, &r.AudienceLevel, &r.OutputFormat, &r.IncludeSources,
		&r.MaxLength, &r.FinalReport, &r.DurationMS, &r.IterationCount, &r.SubqueryCount,
		&r.Usage.PromptTokens, &r.Usage.CompletionTokens, &r.Usage.TotalTokens, &basedOn,
		&r.AccuracyScore, &r.FactCheckNotes, &embedding, &r.EmbeddingVersion,
		&r.CreatedAt, &r.UpdatedAt, sim,
	)
	r.QueryEmbedding = []float64(embedding)
	r.BasedOnPastReportIDs = []int64(basedOn)
	return err
}

// cosineSimilarity is the in-process fallback used by the in-memory store;
// the Postgres-backed store instead delegates to the cosine_similarity SQL
// function so both paths agree on the formula.
func cosineSimilarity(a, b []float64) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, na, nb float64
	for i := range a {
		dot += a[i] * b[i]
		na += a[i] * a[i]
		nb += b[i] * b[i]
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}
