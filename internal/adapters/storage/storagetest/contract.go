// Package storagetest holds the behaviour every domain.ConversationStore must share.
package storagetest

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/PabloGalante/finadvisor/internal/domain"
)

// Factory returns an empty store. Each call must be isolated from the previous one.
type Factory func(t *testing.T) domain.ConversationStore

// Run exercises the conversation store contract against newStore.
func Run(t *testing.T, newStore Factory) {
	t.Run("missing conversation", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()

		_, err := s.GetConversation(ctx, "nobody")
		require.ErrorIs(t, err, domain.ErrNotFound)

		err = s.AppendMessage(ctx, "nobody", msg(domain.RoleUser, "hi", 0))
		require.ErrorIs(t, err, domain.ErrNotFound)

		msgs, err := s.RecentMessages(ctx, "nobody", 25)
		require.NoError(t, err)
		require.Empty(t, msgs)

		require.NoError(t, s.ClearHistory(ctx, "nobody"))
	})

	t.Run("create once", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()

		require.NoError(t, s.CreateConversation(ctx, conv("u1", "thread-1")))
		err := s.CreateConversation(ctx, conv("u1", "thread-2"))
		require.ErrorIs(t, err, domain.ErrAlreadyExists)

		got, err := s.GetConversation(ctx, "u1")
		require.NoError(t, err)
		require.Equal(t, domain.ThreadID("thread-1"), got.ThreadID)
		require.Empty(t, got.Messages)
	})

	t.Run("append keeps order and content", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		require.NoError(t, s.CreateConversation(ctx, conv("u1", "thread-1")))

		want := []domain.Message{
			msg(domain.RoleUser, "How did revenue change?", 0),
			msg(domain.RoleAssistant, "## Revenue\n**+20%** from March to April.", 1),
			msg(domain.RoleUser, "And expenses?", 2),
		}
		for _, m := range want {
			require.NoError(t, s.AppendMessage(ctx, "u1", m))
		}

		got, err := s.RecentMessages(ctx, "u1", 25)
		require.NoError(t, err)
		requireMessages(t, want, got)

		// Reads are side-effect free.
		again, err := s.RecentMessages(ctx, "u1", 25)
		require.NoError(t, err)
		requireMessages(t, want, again)

		last2, err := s.RecentMessages(ctx, "u1", 2)
		require.NoError(t, err)
		requireMessages(t, want[1:], last2)
	})

	t.Run("users are isolated", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		require.NoError(t, s.CreateConversation(ctx, conv("u1", "thread-1")))
		require.NoError(t, s.CreateConversation(ctx, conv("u2", "thread-2")))

		require.NoError(t, s.AppendMessage(ctx, "u1", msg(domain.RoleUser, "one", 0)))
		require.NoError(t, s.AppendMessage(ctx, "u2", msg(domain.RoleUser, "two", 1)))

		got, err := s.RecentMessages(ctx, "u2", 25)
		require.NoError(t, err)
		require.Len(t, got, 1)
		require.Equal(t, "two", got[0].Content)
	})

	t.Run("clear keeps thread", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		require.NoError(t, s.CreateConversation(ctx, conv("u1", "thread-1")))
		require.NoError(t, s.AppendMessage(ctx, "u1", msg(domain.RoleUser, "hi", 0)))

		require.NoError(t, s.ClearHistory(ctx, "u1"))

		got, err := s.GetConversation(ctx, "u1")
		require.NoError(t, err)
		require.Equal(t, domain.ThreadID("thread-1"), got.ThreadID)
		require.Empty(t, got.Messages)

		require.NoError(t, s.AppendMessage(ctx, "u1", msg(domain.RoleUser, "again", 1)))
		msgs, err := s.RecentMessages(ctx, "u1", 25)
		require.NoError(t, err)
		require.Len(t, msgs, 1)
		require.Equal(t, "again", msgs[0].Content)
	})

	t.Run("concurrent appends", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		require.NoError(t, s.CreateConversation(ctx, conv("u1", "thread-1")))

		const n = 20
		var wg sync.WaitGroup
		errs := make(chan error, n)
		for i := 0; i < n; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				errs <- s.AppendMessage(ctx, "u1", msg(domain.RoleUser, fmt.Sprintf("m%d", i), i))
			}(i)
		}
		wg.Wait()
		close(errs)
		for err := range errs {
			require.NoError(t, err)
		}

		got, err := s.RecentMessages(ctx, "u1", 100)
		require.NoError(t, err)
		require.Len(t, got, n)
	})
}

var base = time.Date(2024, 4, 1, 9, 30, 0, 0, time.UTC)

func msg(role domain.Role, content string, offset int) domain.Message {
	return domain.Message{
		Role:      role,
		Content:   content,
		Timestamp: base.Add(time.Duration(offset) * 1500 * time.Millisecond),
	}
}

func conv(user domain.UserID, thread domain.ThreadID) *domain.Conversation {
	return &domain.Conversation{
		UserID:    user,
		ThreadID:  thread,
		CreatedAt: base,
		UpdatedAt: base,
	}
}

func requireMessages(t *testing.T, want, got []domain.Message) {
	t.Helper()
	require.Len(t, got, len(want))
	for i := range want {
		require.Equal(t, want[i].Role, got[i].Role, "message %d role", i)
		require.Equal(t, want[i].Content, got[i].Content, "message %d content", i)
		require.True(t, want[i].Timestamp.Equal(got[i].Timestamp),
			"message %d timestamp: want %s got %s", i, want[i].Timestamp, got[i].Timestamp)
	}
}
