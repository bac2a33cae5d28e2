package memory

import (
	"context"
	"sync"
	"time"

	"github.com/PabloGalante/finadvisor/internal/domain"
)

// ConversationStore is a simple in-memory implementation of domain.ConversationStore.
// It is NOT persistent and is only suitable for development / local mode.
type ConversationStore struct {
	mu    sync.RWMutex
	convs map[domain.UserID]*domain.Conversation
}

func NewConversationStore() *ConversationStore {
	return &ConversationStore{
		convs: make(map[domain.UserID]*domain.Conversation),
	}
}

func (s *ConversationStore) GetConversation(_ context.Context, userID domain.UserID) (*domain.Conversation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	conv, ok := s.convs[userID]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return cloneConversation(conv), nil
}

func (s *ConversationStore) CreateConversation(_ context.Context, conv *domain.Conversation) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.convs[conv.UserID]; exists {
		return domain.ErrAlreadyExists
	}

	s.convs[conv.UserID] = cloneConversation(conv)
	return nil
}

func (s *ConversationStore) AppendMessage(_ context.Context, userID domain.UserID, msg domain.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	conv, ok := s.convs[userID]
	if !ok {
		return domain.ErrNotFound
	}

	conv.Messages = append(conv.Messages, msg)
	conv.UpdatedAt = time.Now().UTC()
	return nil
}

func (s *ConversationStore) RecentMessages(_ context.Context, userID domain.UserID, limit int) ([]domain.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	conv, ok := s.convs[userID]
	if !ok {
		return []domain.Message{}, nil
	}

	msgs := conv.Messages
	if limit > 0 && len(msgs) > limit {
		msgs = msgs[len(msgs)-limit:]
	}

	out := make([]domain.Message, len(msgs))
	copy(out, msgs)
	return out, nil
}

func (s *ConversationStore) ClearHistory(_ context.Context, userID domain.UserID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if conv, ok := s.convs[userID]; ok {
		conv.Messages = []domain.Message{}
		conv.UpdatedAt = time.Now().UTC()
	}
	return nil
}

func (s *ConversationStore) Ping(context.Context) error {
	return nil
}

func cloneConversation(c *domain.Conversation) *domain.Conversation {
	out := *c
	out.Messages = make([]domain.Message, len(c.Messages))
	copy(out.Messages, c.Messages)
	return &out
}
