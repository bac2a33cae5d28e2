package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite" // Pure Go SQLite driver

	"github.com/PabloGalante/finadvisor/internal/domain"
)

const schema = `
CREATE TABLE IF NOT EXISTS conversations (
	user_id    TEXT PRIMARY KEY,
	thread_id  TEXT NOT NULL,
	created_at TEXT NOT NULL,
	updated_at TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS messages (
	id         INTEGER PRIMARY KEY AUTOINCREMENT,
	user_id    TEXT NOT NULL REFERENCES conversations(user_id),
	role       TEXT NOT NULL CHECK (role IN ('user', 'assistant')),
	content    TEXT NOT NULL,
	created_at TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_messages_user_id ON messages(user_id, id);
`

// Store keeps conversations in a single SQLite file.
type Store struct {
	db *sql.DB
}

// NewStore opens (and migrates) the database at path.
// If path is empty, defaults to "./data/finadvisor.db".
func NewStore(ctx context.Context, path string) (*Store, error) {
	if path == "" {
		path = "./data/finadvisor.db"
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("creating sqlite dir: %w", err)
	}

	db, err := sql.Open("sqlite", "file:"+path+"?_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("opening sqlite: %w", err)
	}
	// One writer at a time; appends for a user are serialized by the connection.
	db.SetMaxOpenConns(1)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("pinging sqlite: %w", err)
	}

	if _, err := db.ExecContext(ctx, schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("initializing sqlite schema: %w", err)
	}

	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *Store) GetConversation(ctx context.Context, userID domain.UserID) (*domain.Conversation, error) {
	var (
		conv             = &domain.Conversation{UserID: userID}
		created, updated string
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT thread_id, created_at, updated_at
		FROM conversations WHERE user_id = ?
	`, string(userID)).Scan(&conv.ThreadID, &created, &updated)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, fmt.Errorf("sqlite GetConversation: %w", err)
	}
	if conv.CreatedAt, err = parseTime(created); err != nil {
		return nil, err
	}
	if conv.UpdatedAt, err = parseTime(updated); err != nil {
		return nil, err
	}

	conv.Messages, err = s.RecentMessages(ctx, userID, 0)
	if err != nil {
		return nil, err
	}
	return conv, nil
}

func (s *Store) CreateConversation(ctx context.Context, conv *domain.Conversation) error {
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO conversations (user_id, thread_id, created_at, updated_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(user_id) DO NOTHING
	`, string(conv.UserID), string(conv.ThreadID), formatTime(conv.CreatedAt), formatTime(conv.UpdatedAt))
	if err != nil {
		return fmt.Errorf("sqlite CreateConversation: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return domain.ErrAlreadyExists
	}
	return nil
}

func (s *Store) AppendMessage(ctx context.Context, userID domain.UserID, msg domain.Message) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("sqlite AppendMessage: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, `
		INSERT INTO messages (user_id, role, content, created_at)
		SELECT user_id, ?, ?, ? FROM conversations WHERE user_id = ?
	`, string(msg.Role), msg.Content, formatTime(msg.Timestamp), string(userID))
	if err != nil {
		return fmt.Errorf("sqlite AppendMessage: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return domain.ErrNotFound
	}

	if _, err := tx.ExecContext(ctx, `
		UPDATE conversations SET updated_at = ? WHERE user_id = ?
	`, formatTime(time.Now()), string(userID)); err != nil {
		return fmt.Errorf("sqlite AppendMessage touch: %w", err)
	}

	return tx.Commit()
}

func (s *Store) RecentMessages(ctx context.Context, userID domain.UserID, limit int) ([]domain.Message, error) {
	if limit <= 0 {
		limit = -1 // SQLite: no limit
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT role, content, created_at FROM (
			SELECT id, role, content, created_at
			FROM messages WHERE user_id = ?
			ORDER BY id DESC LIMIT ?
		) ORDER BY id ASC
	`, string(userID), limit)
	if err != nil {
		return nil, fmt.Errorf("sqlite RecentMessages: %w", err)
	}
	defer rows.Close()

	out := []domain.Message{}
	for rows.Next() {
		var (
			m  domain.Message
			ts string
		)
		if err := rows.Scan(&m.Role, &m.Content, &ts); err != nil {
			return nil, fmt.Errorf("sqlite RecentMessages scan: %w", err)
		}
		if m.Timestamp, err = parseTime(ts); err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

func (s *Store) ClearHistory(ctx context.Context, userID domain.UserID) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM messages WHERE user_id = ?`, string(userID)); err != nil {
		return fmt.Errorf("sqlite ClearHistory: %w", err)
	}
	return nil
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func parseTime(s string) (time.Time, error) {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("sqlite: bad timestamp %q: %w", s, err)
	}
	return t, nil
}
