package store

import "context"

// Posting is one (term, doc) entry with its term frequency, the raw
// material pkg/index's BM25 scorer consumes.
type Posting struct {
	Term  string
	DocID int64
	TF    int
}

// DocCount returns the total number of indexed documents, the N in BM25's
// IDF term.
func (s *Store) DocCount(ctx context.Context) (int, error) {
	if s.inMemory {
		s.mem.mu.Lock()
		defer s.mem.mu.Unlock()
		return len(s.mem.docs), nil
	}
	var n int
	err := s.executeWithRetry(ctx, "DocCount", func(ctx context.Context) error {
		return s.db.QueryRowContext(ctx, `SELECT count(*) FROM index_documents`).Scan(&n)
	})
	return n, err
}

// AvgDocLen returns the mean doc_len across the index, used by BM25's
// length-normalization term.
func (s *Store) AvgDocLen(ctx context.Context) (float64, error) {
	if s.inMemory {
		s.mem.mu.Lock()
		defer s.mem.mu.Unlock()
		if len(s.mem.docs) == 0 {
			return 0, nil
		}
		var total int
		for _, d := range s.mem.docs {
			total += d.DocLen
		}
		return float64(total) / float64(len(s.mem.docs)), nil
	}
	var avg float64
	err := s.executeWithRetry(ctx, "AvgDocLen", func(ctx context.Context) error {
		return s.db.QueryRowContext(ctx, `SELECT coalesce(avg(doc_len),0) FROM index_documents`).Scan(&avg)
	})
	return avg, err
}

// PostingsForTerms fetches every posting for the given query terms, along
// with each term's document frequency.
func (s *Store) PostingsForTerms(ctx context.Context, terms []string) ([]Posting, map[string]int, error) {
	if len(terms) == 0 {
		return nil, nil, nil
	}
	if s.inMemory {
		s.mem.mu.Lock()
		defer s.mem.mu.Unlock()
		var postings []Posting
		dfs := make(map[string]int)
		for _, t := range terms {
			dfs[t] = s.mem.terms[t]
			for docID, tf := range s.mem.postings[t] {
				postings = append(postings, Posting{Term: t, DocID: docID, TF: tf})
			}
		}
		return postings, dfs, nil
	}

	var postings []Posting
	dfs := make(map[string]int)
	err := s.executeWithRetry(ctx, "PostingsForTerms", func(ctx context.Context) error {
		rows, err := s.db.QueryContext(ctx, `
			SELECT p.term, p.doc_id, p.tf, t.df
			FROM index_postings p JOIN index_terms t ON t.term = p.term
			WHERE p.term = ANY($1)`, stringArray(terms))
		if err != nil {
			return err
		}
		defer rows.Close()
		postings = nil
		for rows.Next() {
			var p Posting
			var df int
			if err := rows.Scan(&p.Term, &p.DocID, &p.TF, &df); err != nil {
				return err
			}
			postings = append(postings, p)
			dfs[p.Term] = df
		}
		return rows.Err()
	})
	return postings, dfs, err
}

// DocsByIDs fetches index documents by id, preserving no particular order.
func (s *Store) DocsByIDs(ctx context.Context, ids []int64) ([]IndexDocument, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	if s.inMemory {
		s.mem.mu.Lock()
		defer s.mem.mu.Unlock()
		out := make([]IndexDocument, 0, len(ids))
		for _, id := range ids {
			if d, ok := s.mem.docs[id]; ok {
				out = append(out, *d)
			}
		}
		return out, nil
	}

	var out []IndexDocument
	err := s.executeWithRetry(ctx, "DocsByIDs", func(ctx context.Context) error {
		rows, err := s.db.QueryContext(ctx, `
			SELECT id, source_type, source_id, title, content, doc_len, doc_embedding, created_at
			FROM index_documents WHERE id = ANY($1)`, int64Array(ids))
		if err != nil {
			return err
		}
		defer rows.Close()
		out = nil
		for rows.Next() {
			var d IndexDocument
			var embedding float64Array
			if err := rows.Scan(&d.ID, &d.SourceType, &d.SourceID, &d.Title, &d.Content, &d.DocLen, &embedding, &d.CreatedAt); err != nil {
				return err
			}
			d.DocEmbedding = []float64(embedding)
			out = append(out, d)
		}
		return rows.Err()
	})
	return out, err
}

// TopVectorDocs returns the report-scoped documents whose doc_embedding is
// nearest to queryEmbedding, backing HybridIndex's report-promotion rule
// (pure-semantic matches survive even with zero term overlap).
func (s *Store) TopVectorDocs(ctx context.Context, queryEmbedding []float64, k int) ([]IndexDocument, error) {
	if len(queryEmbedding) == 0 {
		return nil, nil
	}
	if s.inMemory {
		s.mem.mu.Lock()
		docs := make([]IndexDocument, 0, len(s.mem.docs))
		for _, d := range s.mem.docs {
			if d.SourceType == "report" && len(d.DocEmbedding) > 0 {
				docs = append(docs, *d)
			}
		}
		s.mem.mu.Unlock()
		// simple selection sort for the small reference dataset sizes exercised in tests
		for i := range docs {
			best := i
			for j := i + 1; j < len(docs); j++ {
				if cosineSimilarity(queryEmbedding, docs[j].DocEmbedding) > cosineSimilarity(queryEmbedding, docs[best].DocEmbedding) {
					best = j
				}
			}
			docs[i], docs[best] = docs[best], docs[i]
		}
		if len(docs) > k {
			docs = docs[:k]
		}
		return docs, nil
	}

	var out []IndexDocument
	err := s.executeWithRetry(ctx, "TopVectorDocs", func(ctx context.Context) error {
		rows, err := s.db.QueryContext(ctx, `
			SELECT id, source_type, source_id, title, content, doc_len, doc_embedding, created_at
			FROM index_documents
			WHERE source_type = 'report' AND doc_embedding IS NOT NULL
			ORDER BY cosine_similarity(doc_embedding, $1) DESC
			LIMIT $2`, float64Array(queryEmbedding), k)
		if err != nil {
			return err
		}
		defer rows.Close()
		out = nil
		for rows.Next() {
			var d IndexDocument
			var embedding float64Array
			if err := rows.Scan(&d.ID, &d.SourceType, &d.SourceID, &d.Title, &d.Content, &d.DocLen, &embedding, &d.CreatedAt); err != nil {
				return err
			}
			d.DocEmbedding = []float64(embedding)
			out = append(out, d)
		}
		return rows.Err()
	})
	return out, err
}
