package store

import "context"

const embeddingVersionKey = "embedder_version"

// EmbeddingVersion returns the last-seen embedder version key persisted at
// the previous write, or "" if none has been recorded yet.
func (s *Store) EmbeddingVersion(ctx context.Context) (string, error) {
	if s.inMemory {
		s.memMu.RLock()
		defer s.memMu.RUnlock()
		return s.memEmbeddingVersion, nil
	}
	var v string
	err := s.executeWithRetry(ctx, "EmbeddingVersion", func(ctx context.Context) error {
		row := s.db.QueryRowContext(ctx, `SELECT value FROM store_meta WHERE key = $1`, embeddingVersionKey)
		scanErr := row.Scan(&v)
		if scanErr != nil {
			v = ""
			return nil //nolint:nilerr // absence of a recorded version is not an error
		}
		return nil
	})
	return v, err
}

// SetEmbeddingVersion records the embedder's current version key. Nothing
// in this module calls it, compares the recorded key with the live
// embedder's VersionKey(), or triggers ReindexVectors automatically.
func (s *Store) SetEmbeddingVersion(ctx context.Context, version string) error {
	if s.inMemory {
		s.memMu.Lock()
		defer s.memMu.Unlock()
		s.memEmbeddingVersion = version
		return nil
	}
	return s.executeWithRetry(ctx, "SetEmbeddingVersion", func(ctx context.Context) error {
		_, err := s.db.ExecContext(ctx, `
			INSERT INTO store_meta (key, value) VALUES ($1,$2)
			ON CONFLICT (key) DO UPDATE SET value = EXCLUDED.value`, embeddingVersionKey, version)
		return err
	})
}

// ReindexVectorsFunc computes the embedding of one text. Store does not
// itself know how to call the embedder; the caller supplies this function
// and ReindexVectors applies it to every report's query.
type ReindexVectorsFunc func(ctx context.Context, text string) ([]float64, error)

// ReindexVectors recomputes query_embedding for every report, for use when
// the embedder's version key (its model name) changes. Index documents'
// doc_embedding values are not recomputed. A report whose embed call fails
// or returns an empty vector keeps its old embedding and is not counted.
func (s *Store) ReindexVectors(ctx context.Context, embed ReindexVectorsFunc) (reindexed int, err error) {
	reports, err := s.ListRecent(ctx, 0, "")
	if err != nil {
		return 0, err
	}
	for _, r := range reports {
		vec, embErr := embed(ctx, r.Query)
		if embErr != nil || len(vec) == 0 {
			continue
		}
		if updErr := s.updateReportEmbedding(ctx, r.ID, vec); updErr != nil {
			return reindexed, updErr
		}
		reindexed++
	}
	return reindexed, nil
}

func (s *Store) updateReportEmbedding(ctx context.Context, id int64, vec []float64) error {
	if s.inMemory {
		s.mem.mu.Lock()
		defer s.mem.mu.Unlock()
		if r, ok := s.mem.reports[id]; ok {
			r.QueryEmbedding = vec
		}
		return nil
	}
	return s.executeWithRetry(ctx, "updateReportEmbedding", func(ctx context.Context) error {
		_, err := s.db.ExecContext(ctx, `UPDATE reports SET query_embedding=$1 WHERE id=$2`, float64Array(vec), id)
		return err
	})
}
