package conversation

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestUserLocksAreReleased(t *testing.T) {
	l := newUserLocks()
	ctx := context.Background()

	release, err := l.acquire(ctx, "u1")
	require.NoError(t, err)
	require.Equal(t, 1, l.size())

	release()
	release()
	require.Equal(t, 0, l.size())

	cancelled, cancel := context.WithCancel(ctx)
	hold, err := l.acquire(ctx, "u1")
	require.NoError(t, err)
	cancel()
	_, err = l.acquire(cancelled, "u1")
	require.ErrorIs(t, err, context.Canceled)
	require.Equal(t, 1, l.size())

	hold()
	require.Equal(t, 0, l.size())
}
