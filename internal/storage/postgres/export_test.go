package postgres

import "context"

// Reset empties every registry table and rewinds the certificate counter.
func Reset(ctx context.Context, s *Store) error {
	_, err := s.pool.Exec(ctx, `
		TRUNCATE certificates, courses, registry_meta, outbox;
		UPDATE counters SET value = 0 WHERE name = 'certificate'`)
	return err
}
