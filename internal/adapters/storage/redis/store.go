package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/PabloGalante/finadvisor/internal/domain"
)

var createScript = redis.NewScript(`
if redis.call('EXISTS', KEYS[1]) == 1 then
	return 0
end
redis.call('HSET', KEYS[1], 'thread_id', ARGV[1], 'created_at', ARGV[2], 'updated_at', ARGV[3])
return 1
`)

// appendScript checks for the conversation and pushes in one atomic step.
var appendScript = redis.NewScript(`
if redis.call('EXISTS', KEYS[1]) == 0 then
	return -1
end
redis.call('HSET', KEYS[1], 'updated_at', ARGV[2])
return redis.call('RPUSH', KEYS[2], ARGV[1])
`)

// Store keeps each conversation as a hash plus a list of JSON-encoded messages.
type Store struct {
	client *redis.Client
	prefix string
}

// NewStore creates a new Redis store.
func NewStore(ctx context.Context, redisURL string) (*Store, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, err
	}

	client := redis.NewClient(opts)

	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, err
	}

	return &Store{client: client, prefix: "finadvisor"}, nil
}

// WithPrefix namespaces every key; handy for sharing one Redis between environments.
func (s *Store) WithPrefix(prefix string) *Store {
	s.prefix = prefix
	return s
}

// Close closes the Redis connection.
func (s *Store) Close() error {
	return s.client.Close()
}

// Ping checks the Redis connection.
func (s *Store) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

// conversationKey returns the key of a user's conversation hash.
func (s *Store) conversationKey(userID domain.UserID) string {
	return fmt.Sprintf("%s:conversation:%s", s.prefix, userID)
}

// messagesKey returns the key of a user's message list.
func (s *Store) messagesKey(userID domain.UserID) string {
	return fmt.Sprintf("%s:conversation:%s:messages", s.prefix, userID)
}

type storedMessage struct {
	Role      string    `json:"role"`
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
}

func (s *Store) GetConversation(ctx context.Context, userID domain.UserID) (*domain.Conversation, error) {
	fields, err := s.client.HGetAll(ctx, s.conversationKey(userID)).Result()
	if err != nil {
		return nil, fmt.Errorf("redis GetConversation: %w", err)
	}
	if len(fields) == 0 {
		return nil, domain.ErrNotFound
	}

	conv := &domain.Conversation{
		UserID:   userID,
		ThreadID: domain.ThreadID(fields["thread_id"]),
	}
	conv.CreatedAt, _ = time.Parse(time.RFC3339Nano, fields["created_at"])
	conv.UpdatedAt, _ = time.Parse(time.RFC3339Nano, fields["updated_at"])

	conv.Messages, err = s.RecentMessages(ctx, userID, 0)
	if err != nil {
		return nil, err
	}
	return conv, nil
}

func (s *Store) CreateConversation(ctx context.Context, conv *domain.Conversation) error {
	created, err := createScript.Run(ctx, s.client,
		[]string{s.conversationKey(conv.UserID)},
		string(conv.ThreadID),
		conv.CreatedAt.UTC().Format(time.RFC3339Nano),
		conv.UpdatedAt.UTC().Format(time.RFC3339Nano),
	).Int64()
	if err != nil {
		return fmt.Errorf("redis CreateConversation: %w", err)
	}
	if created == 0 {
		return domain.ErrAlreadyExists
	}
	return nil
}

func (s *Store) AppendMessage(ctx context.Context, userID domain.UserID, msg domain.Message) error {
	data, err := json.Marshal(storedMessage{
		Role:      string(msg.Role),
		Content:   msg.Content,
		Timestamp: msg.Timestamp.UTC(),
	})
	if err != nil {
		return err
	}

	n, err := appendScript.Run(ctx, s.client,
		[]string{s.conversationKey(userID), s.messagesKey(userID)},
		string(data),
		time.Now().UTC().Format(time.RFC3339Nano),
	).Int64()
	if err != nil {
		return fmt.Errorf("redis AppendMessage: %w", err)
	}
	if n < 0 {
		return domain.ErrNotFound
	}
	return nil
}

func (s *Store) RecentMessages(ctx context.Context, userID domain.UserID, limit int) ([]domain.Message, error) {
	start := int64(0)
	if limit > 0 {
		start = -int64(limit)
	}

	results, err := s.client.LRange(ctx, s.messagesKey(userID), start, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("redis RecentMessages: %w", err)
	}

	out := make([]domain.Message, 0, len(results))
	for _, data := range results {
		var m storedMessage
		if err := json.Unmarshal([]byte(data), &m); err != nil {
			return nil, fmt.Errorf("redis RecentMessages decode: %w", err)
		}
		out = append(out, domain.Message{
			Role:      domain.Role(m.Role),
			Content:   m.Content,
			Timestamp: m.Timestamp,
		})
	}
	return out, nil
}

func (s *Store) ClearHistory(ctx context.Context, userID domain.UserID) error {
	if err := s.client.Del(ctx, s.messagesKey(userID)).Err(); err != nil {
		return fmt.Errorf("redis ClearHistory: %w", err)
	}
	return nil
}
