package postgres

import "context"

// Truncate wipes all conversations; tests only.
func Truncate(ctx context.Context, s *Store) error {
	_, err := s.pool.Exec(ctx, `TRUNCATE conversation_messages, conversations`)
	return err
}
