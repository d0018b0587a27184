package store

import (
	"context"
	"time"
)

// IncrementUsage bumps the opportunistic use counter for an entity
// (report or index document) that participated in a result set, used as a
// ranking tiebreaker feature per spec §3.
func (s *Store) IncrementUsage(ctx context.Context, entityType, entityID string) error {
	now := time.Now()
	if s.inMemory {
		if err := s.WaitForInit(ctx); err != nil {
			return err
		}
		s.mem.incrementUsage(entityType, entityID, now)
		return nil
	}
	return s.executeWithRetry(ctx, "IncrementUsage", func(ctx context.Context) error {
		_, err := s.db.ExecContext(ctx, `
			INSERT INTO usage_counters (entity_type, entity_id, uses, last_used_at)
			VALUES ($1,$2,1,$3)
			ON CONFLICT (entity_type, entity_id) DO UPDATE SET
				uses = usage_counters.uses + 1, last_used_at = $3`,
			entityType, entityID, now)
		return err
	})
}
