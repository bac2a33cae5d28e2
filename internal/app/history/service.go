package history

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/PabloGalante/finadvisor/internal/domain"
	"github.com/PabloGalante/finadvisor/internal/observability"
)

// DefaultLimit is how many messages RecentMessages returns when asked for <= 0.
const DefaultLimit = 25

// Service owns persisted messages: it resolves each user's remote thread and keeps
// the per-user append-only log on top of a domain.ConversationStore.
type Service struct {
	store domain.ConversationStore
	jobs  domain.JobStore
	now   func() time.Time
}

func NewService(store domain.ConversationStore, jobs domain.JobStore) *Service {
	return &Service{
		store: store,
		jobs:  jobs,
		now:   time.Now,
	}
}

// WithClock replaces the timestamp source. Intended for tests.
func (s *Service) WithClock(now func() time.Time) *Service {
	s.now = now
	return s
}

// GetOrCreateThread returns the user's thread id, creating the remote thread and an
// empty conversation on first use.
func (s *Service) GetOrCreateThread(ctx context.Context, userID domain.UserID) (domain.ThreadID, error) {
	if strings.TrimSpace(string(userID)) == "" {
		return "", fmt.Errorf("%w: user id is required", domain.ErrInvalidArgument)
	}

	log := observability.LoggerFromContext(ctx).With("user_id", userID)

	conv, err := s.getConversation(ctx, userID)
	switch {
	case err == nil:
		return conv.ThreadID, nil
	case !errors.Is(err, domain.ErrNotFound):
		log.Error("failed to load conversation", "error", err)
		return "", err
	}

	threadID, err := s.jobs.CreateThread(ctx)
	if err != nil {
		log.Error("failed to create remote thread", "error", err)
		return "", fmt.Errorf("creating thread: %w", err)
	}

	now := s.timestamp()
	conv = &domain.Conversation{
		UserID:    userID,
		ThreadID:  threadID,
		Messages:  []domain.Message{},
		CreatedAt: now,
		UpdatedAt: now,
	}

	err = s.timed("create_conversation", func() error {
		return s.store.CreateConversation(ctx, conv)
	})
	if errors.Is(err, domain.ErrAlreadyExists) {
		// Another turn for the same user won the race; its thread is the one we keep.
		existing, gerr := s.getConversation(ctx, userID)
		if gerr != nil {
			return "", gerr
		}
		log.Warn("conversation created concurrently, discarding new thread",
			"discarded_thread_id", threadID,
			"thread_id", existing.ThreadID)
		return existing.ThreadID, nil
	}
	if err != nil {
		log.Error("failed to create conversation", "error", err)
		return "", err
	}

	log.Info("conversation created", "thread_id", threadID)
	return threadID, nil
}

// AppendMessage persists one complete message stamped with the current time.
func (s *Service) AppendMessage(ctx context.Context, userID domain.UserID, role domain.Role, content string) (domain.Message, error) {
	if !role.Valid() {
		return domain.Message{}, fmt.Errorf("%w: role %q", domain.ErrInvalidArgument, role)
	}

	msg := domain.Message{
		Role:      role,
		Content:   content,
		Timestamp: s.timestamp(),
	}

	err := s.timed("append_message", func() error {
		return s.store.AppendMessage(ctx, userID, msg)
	})
	if err != nil {
		observability.LoggerFromContext(ctx).Error("failed to append message",
			"user_id", userID,
			"role", role,
			"error", err)
		return domain.Message{}, err
	}
	return msg, nil
}

// RecentMessages returns up to limit of the newest messages, oldest first.
func (s *Service) RecentMessages(ctx context.Context, userID domain.UserID, limit int) ([]domain.Message, error) {
	if limit <= 0 {
		limit = DefaultLimit
	}

	var msgs []domain.Message
	err := s.timed("recent_messages", func() error {
		var err error
		msgs, err = s.store.RecentMessages(ctx, userID, limit)
		return err
	})
	if err != nil {
		return nil, err
	}
	if msgs == nil {
		msgs = []domain.Message{}
	}
	return msgs, nil
}

// ClearHistory empties the user's log; the remote thread id is kept.
func (s *Service) ClearHistory(ctx context.Context, userID domain.UserID) error {
	err := s.timed("clear_history", func() error {
		return s.store.ClearHistory(ctx, userID)
	})
	if err != nil {
		return err
	}
	observability.LoggerFromContext(ctx).Info("conversation history cleared", "user_id", userID)
	return nil
}

func (s *Service) Ping(ctx context.Context) error {
	return s.store.Ping(ctx)
}

func (s *Service) getConversation(ctx context.Context, userID domain.UserID) (*domain.Conversation, error) {
	var conv *domain.Conversation
	err := s.timed("get_conversation", func() error {
		var err error
		conv, err = s.store.GetConversation(ctx, userID)
		return err
	})
	return conv, err
}

// timestamp truncates to milliseconds so every backend round-trips it unchanged.
func (s *Service) timestamp() time.Time {
	return s.now().UTC().Truncate(time.Millisecond)
}

func (s *Service) timed(op string, fn func() error) error {
	start := time.Now()
	err := fn()
	observability.StoreLatency.WithLabelValues(op).Observe(time.Since(start).Seconds())
	return err
}
