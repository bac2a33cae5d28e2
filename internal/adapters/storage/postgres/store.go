package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/PabloGalante/finadvisor/internal/domain"
)

const schema = `
CREATE TABLE IF NOT EXISTS conversations (
	user_id    TEXT PRIMARY KEY,
	thread_id  TEXT NOT NULL,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS conversation_messages (
	id         BIGSERIAL PRIMARY KEY,
	user_id    TEXT NOT NULL REFERENCES conversations(user_id) ON DELETE CASCADE,
	role       TEXT NOT NULL CHECK (role IN ('user', 'assistant')),
	content    TEXT NOT NULL,
	created_at TIMESTAMPTZ NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_conversation_messages_user ON conversation_messages(user_id, id);
`

// Store handles PostgreSQL conversation persistence.
type Store struct {
	pool *pgxpool.Pool
}

// NewStore creates a new PostgreSQL store with a connection pool and applies the schema.
func NewStore(ctx context.Context, databaseURL string) (*Store, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, err
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, err
	}

	if _, err := pool.Exec(ctx, schema); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres migrate: %w", err)
	}

	return &Store{pool: pool}, nil
}

// Close closes the database connection pool.
func (s *Store) Close() {
	s.pool.Close()
}

// Ping checks the database connection.
func (s *Store) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

func (s *Store) GetConversation(ctx context.Context, userID domain.UserID) (*domain.Conversation, error) {
	var (
		conv     = &domain.Conversation{UserID: userID}
		threadID string
	)
	err := s.pool.QueryRow(ctx, `
		SELECT thread_id, created_at, updated_at
		FROM conversations WHERE user_id = $1
	`, string(userID)).Scan(&threadID, &conv.CreatedAt, &conv.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, fmt.Errorf("postgres GetConversation: %w", err)
	}
	conv.ThreadID = domain.ThreadID(threadID)

	conv.Messages, err = s.RecentMessages(ctx, userID, 0)
	if err != nil {
		return nil, err
	}
	return conv, nil
}

func (s *Store) CreateConversation(ctx context.Context, conv *domain.Conversation) error {
	tag, err := s.pool.Exec(ctx, `
		INSERT INTO conversations (user_id, thread_id, created_at, updated_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (user_id) DO NOTHING
	`, string(conv.UserID), string(conv.ThreadID), conv.CreatedAt, conv.UpdatedAt)
	if err != nil {
		return fmt.Errorf("postgres CreateConversation: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrAlreadyExists
	}
	return nil
}

// AppendMessage inserts the message only if the conversation exists; the single
// INSERT ... SELECT is atomic, and the row id fixes the order.
func (s *Store) AppendMessage(ctx context.Context, userID domain.UserID, msg domain.Message) error {
	tag, err := s.pool.Exec(ctx, `
		WITH touched AS (
			UPDATE conversations SET updated_at = now()
			WHERE user_id = $1
			RETURNING user_id
		)
		INSERT INTO conversation_messages (user_id, role, content, created_at)
		SELECT user_id, $2, $3, $4 FROM touched
	`, string(userID), string(msg.Role), msg.Content, msg.Timestamp)
	if err != nil {
		return fmt.Errorf("postgres AppendMessage: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

func (s *Store) RecentMessages(ctx context.Context, userID domain.UserID, limit int) ([]domain.Message, error) {
	var limitArg any
	if limit > 0 {
		limitArg = limit
	}

	rows, err := s.pool.Query(ctx, `
		SELECT role, content, created_at FROM (
			SELECT id, role, content, created_at
			FROM conversation_messages WHERE user_id = $1
			ORDER BY id DESC LIMIT $2
		) recent ORDER BY id ASC
	`, string(userID), limitArg)
	if err != nil {
		return nil, fmt.Errorf("postgres RecentMessages: %w", err)
	}
	defer rows.Close()

	out := []domain.Message{}
	for rows.Next() {
		var (
			m    domain.Message
			role string
		)
		if err := rows.Scan(&role, &m.Content, &m.Timestamp); err != nil {
			return nil, fmt.Errorf("postgres RecentMessages scan: %w", err)
		}
		m.Role = domain.Role(role)
		out = append(out, m)
	}
	return out, rows.Err()
}

func (s *Store) ClearHistory(ctx context.Context, userID domain.UserID) error {
	_, err := s.pool.Exec(ctx, `DELETE FROM conversation_messages WHERE user_id = $1`, string(userID))
	if err != nil {
		return fmt.Errorf("postgres ClearHistory: %w", err)
	}
	return nil
}
