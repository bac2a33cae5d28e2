package firestore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"cloud.google.com/go/firestore"
	"google.golang.org/api/iterator"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/PabloGalante/finadvisor/internal/domain"
)

type Store struct {
	client *firestore.Client
}

// NewStore creates a Firestore store.
// Uses the project passed (FINADVISOR_GCP_PROJECT).
func NewStore(ctx context.Context, projectID string) (*Store, error) {
	if projectID == "" {
		return nil, fmt.Errorf("projectID is required for Firestore store")
	}

	client, err := firestore.NewClient(ctx, projectID)
	if err != nil {
		return nil, fmt.Errorf("creating firestore client: %w", err)
	}

	return &Store{client: client}, nil
}

func (s *Store) Close() error {
	return s.client.Close()
}

// ─────────────────────────────────────────
// Helpers
// ─────────────────────────────────────────

func (s *Store) conversationsCol() *firestore.CollectionRef {
	return s.client.Collection("conversations")
}

func (s *Store) conversationDoc(userID domain.UserID) *firestore.DocumentRef {
	return s.conversationsCol().Doc(string(userID))
}

// ─────────────────────────────────────────
// Firestore Types
// ─────────────────────────────────────────

// One document per user; messages are embedded in append order.
type conversationDoc struct {
	ThreadID  string       `firestore:"thread_id"`
	Messages  []messageDoc `firestore:"messages"`
	CreatedAt time.Time    `firestore:"created_at"`
	UpdatedAt time.Time    `firestore:"updated_at"`
}

type messageDoc struct {
	Role      string    `firestore:"role"`
	Content   string    `firestore:"content"`
	Timestamp time.Time `firestore:"timestamp"`
}

// ─────────────────────────────────────────
// ConversationStore implementation
// ─────────────────────────────────────────

func (s *Store) Ping(ctx context.Context) error {
	iter := s.conversationsCol().Limit(1).Documents(ctx)
	defer iter.Stop()

	if _, err := iter.Next(); err != nil && !errors.Is(err, iterator.Done) {
		return fmt.Errorf("firestore Ping: %w", err)
	}
	return nil
}

func (s *Store) GetConversation(ctx context.Context, userID domain.UserID) (*domain.Conversation, error) {
	doc, err := s.load(ctx, userID)
	if err != nil {
		return nil, err
	}
	return &domain.Conversation{
		UserID:    userID,
		ThreadID:  domain.ThreadID(doc.ThreadID),
		Messages:  toMessages(doc.Messages),
		CreatedAt: doc.CreatedAt,
		UpdatedAt: doc.UpdatedAt,
	}, nil
}

func (s *Store) CreateConversation(ctx context.Context, conv *domain.Conversation) error {
	doc := conversationDoc{
		ThreadID:  string(conv.ThreadID),
		Messages:  []messageDoc{},
		CreatedAt: conv.CreatedAt,
		UpdatedAt: conv.UpdatedAt,
	}

	_, err := s.conversationDoc(conv.UserID).Create(ctx, doc)
	if err != nil {
		if status.Code(err) == codes.AlreadyExists {
			return domain.ErrAlreadyExists
		}
		return fmt.Errorf("firestore CreateConversation: %w", err)
	}
	return nil
}

// AppendMessage runs in a transaction so concurrent appends for one user
// are retried instead of overwriting each other.
func (s *Store) AppendMessage(ctx context.Context, userID domain.UserID, msg domain.Message) error {
	ref := s.conversationDoc(userID)

	err := s.client.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		snap, err := tx.Get(ref)
		if err != nil {
			if status.Code(err) == codes.NotFound {
				return domain.ErrNotFound
			}
			return err
		}

		var doc conversationDoc
		if err := snap.DataTo(&doc); err != nil {
			return fmt.Errorf("decode conversationDoc: %w", err)
		}

		messages := append(doc.Messages, messageDoc{
			Role:      string(msg.Role),
			Content:   msg.Content,
			Timestamp: msg.Timestamp,
		})

		return tx.Update(ref, []firestore.Update{
			{Path: "messages", Value: messages},
			{Path: "updated_at", Value: time.Now().UTC()},
		})
	})
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return err
		}
		return fmt.Errorf("firestore AppendMessage: %w", err)
	}
	return nil
}

func (s *Store) RecentMessages(ctx context.Context, userID domain.UserID, limit int) ([]domain.Message, error) {
	doc, err := s.load(ctx, userID)
	if errors.Is(err, domain.ErrNotFound) {
		return []domain.Message{}, nil
	}
	if err != nil {
		return nil, err
	}

	msgs := doc.Messages
	if limit > 0 && len(msgs) > limit {
		msgs = msgs[len(msgs)-limit:]
	}
	return toMessages(msgs), nil
}

func (s *Store) ClearHistory(ctx context.Context, userID domain.UserID) error {
	_, err := s.conversationDoc(userID).Update(ctx, []firestore.Update{
		{Path: "messages", Value: []messageDoc{}},
		{Path: "updated_at", Value: time.Now().UTC()},
	})
	if err != nil {
		if status.Code(err) == codes.NotFound {
			return nil
		}
		return fmt.Errorf("firestore ClearHistory: %w", err)
	}
	return nil
}

func (s *Store) load(ctx context.Context, userID domain.UserID) (*conversationDoc, error) {
	snap, err := s.conversationDoc(userID).Get(ctx)
	if err != nil {
		if status.Code(err) == codes.NotFound {
			return nil, domain.ErrNotFound
		}
		return nil, fmt.Errorf("firestore GetConversation: %w", err)
	}

	var doc conversationDoc
	if err := snap.DataTo(&doc); err != nil {
		return nil, fmt.Errorf("firestore GetConversation decode: %w", err)
	}
	return &doc, nil
}

func toMessages(docs []messageDoc) []domain.Message {
	out := make([]domain.Message, 0, len(docs))
	for _, d := range docs {
		out = append(out, domain.Message{
			Role:      domain.Role(d.Role),
			Content:   d.Content,
			Timestamp: d.Timestamp,
		})
	}
	return out
}
