package redis_test

import (
	"context"
	"os"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/PabloGalante/finadvisor/internal/adapters/storage/redis"
	"github.com/PabloGalante/finadvisor/internal/adapters/storage/storagetest"
	"github.com/PabloGalante/finadvisor/internal/domain"
)

// Runs only against a disposable Redis, e.g. FINADVISOR_TEST_REDIS_URL=redis://localhost:6379/15
func TestStoreContract(t *testing.T) {
	url := os.Getenv("FINADVISOR_TEST_REDIS_URL")
	if url == "" {
		t.Skip("FINADVISOR_TEST_REDIS_URL not set")
	}

	storagetest.Run(t, func(t *testing.T) domain.ConversationStore {
		s, err := redis.NewStore(context.Background(), url)
		require.NoError(t, err)
		t.Cleanup(func() { _ = s.Close() })
		// A fresh prefix per subtest keeps runs isolated without FLUSHDB.
		return s.WithPrefix("finadvisor-test-" + uuid.NewString())
	})
}
