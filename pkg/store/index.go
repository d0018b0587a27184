package store

import (
	"context"
	"regexp"
	"strings"
)

var (
	tokenRe  = regexp.MustCompile(`[a-z0-9]+`)
	stopWords = map[string]bool{
		"the": true, "a": true, "an": true, "and": true, "or": true, "of": true,
		"to": true, "in": true, "is": true, "it": true, "for": true, "on": true,
		"with": true, "as": true, "at": true, "by": true, "be": true, "this": true,
		"that": true, "are": true,
	}
)

// Tokenize lowercases, strips non-alphanumerics, and removes stopwords,
// matching the BM25 document-length definition in spec §4.1.
func Tokenize(s string) []string {
	lower := strings.ToLower(s)
	raw := tokenRe.FindAllString(lower, -1)
	out := make([]string, 0, len(raw))
	for _, t := range raw {
		if stopWords[t] {
			continue
		}
		out = append(out, t)
	}
	return out
}

// IndexDocument upserts a document and its postings into the inverted
// index, incrementing term document-frequencies for terms newly appearing
// in this document.
func (s *Store) IndexDocument(ctx context.Context, doc IndexDocument) (*IndexDocument, error) {
	tokens := Tokenize(doc.Title + " " + doc.Content)
	doc.DocLen = len(tokens)
	tf := make(map[string]int, len(tokens))
	for _, t := range tokens {
		tf[t]++
	}

	if s.inMemory {
		if err := s.WaitForInit(ctx); err != nil {
			return nil, err
		}
		return s.indexDocumentMemory(doc, tf)
	}

	var out IndexDocument
	err := s.executeWithRetry(ctx, "IndexDocument", func(ctx context.Context) error {
		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return err
		}
		defer tx.Rollback() //nolint:errcheck

		row := tx.QueryRowContext(ctx, `
			INSERT INTO index_documents (source_type, source_id, title, content, doc_len, doc_embedding)
			VALUES ($1,$2,$3,$4,$5,$6)
			ON CONFLICT (source_type, source_id) DO UPDATE SET
				title=EXCLUDED.title, content=EXCLUDED.content, doc_len=EXCLUDED.doc_len,
				doc_embedding=EXCLUDED.doc_embedding
			RETURNING id, source_type, source_id, title, content, doc_len, doc_embedding, created_at`,
			doc.SourceType, doc.SourceID, doc.Title, doc.Content, doc.DocLen, float64Array(doc.DocEmbedding))
		var embedding float64Array
		if err := row.Scan(&out.ID, &out.SourceType, &out.SourceID, &out.Title, &out.Content, &out.DocLen, &embedding, &out.CreatedAt); err != nil {
			return err
		}
		out.DocEmbedding = []float64(embedding)

		terms := make([]string, 0, len(tf))
		for term, count := range tf {
			terms = append(terms, term)
			if _, err := tx.ExecContext(ctx, `
				INSERT INTO index_terms (term, df) VALUES ($1,1)
				ON CONFLICT (term) DO UPDATE SET df = index_terms.df + 1
				WHERE NOT EXISTS (SELECT 1 FROM index_postings p WHERE p.term = $1 AND p.doc_id = $2)`, term, out.ID); err != nil {
				return err
			}
			if _, err := tx.ExecContext(ctx, `
				INSERT INTO index_postings (term, doc_id, tf) VALUES ($1,$2,$3)
				ON CONFLICT (term, doc_id) DO UPDATE SET tf = EXCLUDED.tf`, term, out.ID, count); err != nil {
				return err
			}
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM index_postings WHERE doc_id=$1 AND NOT (term = ANY($2))`, out.ID, stringArray(terms)); err != nil {
			return err
		}
		return tx.Commit()
	})
	if err != nil {
		return nil, err
	}
	return &out, nil
}

func (s *Store) indexDocumentMemory(doc IndexDocument, tf map[string]int) (*IndexDocument, error) {
	s.mem.mu.Lock()
	defer s.mem.mu.Unlock()

	var id int64
	for existingID, d := range s.mem.docs {
		if d.SourceType == doc.SourceType && d.SourceID == doc.SourceID {
			id = existingID
			break
		}
	}
	if id == 0 {
		s.mem.nextDocID++
		id = s.mem.nextDocID
	}
	doc.ID = id
	cp := doc
	s.mem.docs[id] = &cp

	for term, count := range tf {
		if s.mem.postings[term] == nil {
			s.mem.postings[term] = make(map[int64]int)
		}
		if _, existed := s.mem.postings[term][id]; !existed {
			s.mem.terms[term]++
		}
		s.mem.postings[term][id] = count
	}
	out := cp
	return &out, nil
}

// HybridSearchResult is one ranked hit from SearchHybrid.
type HybridSearchResult struct {
	Document     IndexDocument
	BM25Score    float64
	VectorScore  float64
	FusedScore   float64
}

// BM25Params configures the ranking formula (spec §4.1: k1=1.2, b=0.75
// reference values).
type BM25Params struct {
	K1 float64
	B  float64
}
