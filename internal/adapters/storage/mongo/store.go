package mongo

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/PabloGalante/finadvisor/internal/domain"
)

// Store keeps one document per user with the messages embedded, in append order.
type Store struct {
	client *mongo.Client
	coll   *mongo.Collection
}

type conversationDoc struct {
	ID        primitive.ObjectID `bson:"_id,omitempty"`
	UserID    string             `bson:"user_id"`
	ThreadID  string             `bson:"thread_id"`
	Messages  []messageDoc       `bson:"messages"`
	CreatedAt time.Time          `bson:"created_at"`
	UpdatedAt time.Time          `bson:"updated_at"`
}

type messageDoc struct {
	Role      string    `bson:"role"`
	Content   string    `bson:"content"`
	Timestamp time.Time `bson:"timestamp"`
}

// NewStore connects to uri and ensures the unique user index on database.conversations.
func NewStore(ctx context.Context, uri, database string) (*Store, error) {
	if database == "" {
		database = "finadvisor"
	}

	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, fmt.Errorf("mongo connect: %w", err)
	}
	if err := client.Ping(ctx, nil); err != nil {
		_ = client.Disconnect(ctx)
		return nil, fmt.Errorf("mongo ping: %w", err)
	}

	coll := client.Database(database).Collection("conversations")
	_, err = coll.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys:    bson.D{{Key: "user_id", Value: 1}},
		Options: options.Index().SetUnique(true),
	})
	if err != nil {
		_ = client.Disconnect(ctx)
		return nil, fmt.Errorf("mongo create index: %w", err)
	}

	return &Store{client: client, coll: coll}, nil
}

func (s *Store) Close(ctx context.Context) error {
	return s.client.Disconnect(ctx)
}

func (s *Store) Ping(ctx context.Context) error {
	return s.client.Ping(ctx, nil)
}

func (s *Store) GetConversation(ctx context.Context, userID domain.UserID) (*domain.Conversation, error) {
	var doc conversationDoc
	err := s.coll.FindOne(ctx, bson.M{"user_id": string(userID)}).Decode(&doc)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, domain.ErrNotFound
		}
		return nil, fmt.Errorf("mongo GetConversation: %w", err)
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
	_, err := s.coll.InsertOne(ctx, conversationDoc{
		UserID:    string(conv.UserID),
		ThreadID:  string(conv.ThreadID),
		Messages:  []messageDoc{},
		CreatedAt: conv.CreatedAt,
		UpdatedAt: conv.UpdatedAt,
	})
	if err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return domain.ErrAlreadyExists
		}
		return fmt.Errorf("mongo CreateConversation: %w", err)
	}
	return nil
}

// AppendMessage is a single $push, atomic on the user's document.
func (s *Store) AppendMessage(ctx context.Context, userID domain.UserID, msg domain.Message) error {
	res, err := s.coll.UpdateOne(ctx,
		bson.M{"user_id": string(userID)},
		bson.M{
			"$push": bson.M{"messages": messageDoc{
				Role:      string(msg.Role),
				Content:   msg.Content,
				Timestamp: msg.Timestamp,
			}},
			"$set": bson.M{"updated_at": time.Now().UTC()},
		},
	)
	if err != nil {
		return fmt.Errorf("mongo AppendMessage: %w", err)
	}
	if res.MatchedCount == 0 {
		return domain.ErrNotFound
	}
	return nil
}

func (s *Store) RecentMessages(ctx context.Context, userID domain.UserID, limit int) ([]domain.Message, error) {
	opts := options.FindOne()
	if limit > 0 {
		opts.SetProjection(bson.M{"messages": bson.M{"$slice": -limit}})
	}

	var doc conversationDoc
	err := s.coll.FindOne(ctx, bson.M{"user_id": string(userID)}, opts).Decode(&doc)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return []domain.Message{}, nil
		}
		return nil, fmt.Errorf("mongo RecentMessages: %w", err)
	}
	return toMessages(doc.Messages), nil
}

func (s *Store) ClearHistory(ctx context.Context, userID domain.UserID) error {
	_, err := s.coll.UpdateOne(ctx,
		bson.M{"user_id": string(userID)},
		bson.M{"$set": bson.M{"messages": []messageDoc{}, "updated_at": time.Now().UTC()}},
	)
	if err != nil {
		return fmt.Errorf("mongo ClearHistory: %w", err)
	}
	return nil
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
