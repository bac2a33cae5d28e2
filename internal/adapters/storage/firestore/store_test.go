package firestore_test

import (
	"context"
	"os"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/PabloGalante/finadvisor/internal/adapters/storage/firestore"
	"github.com/PabloGalante/finadvisor/internal/adapters/storage/storagetest"
	"github.com/PabloGalante/finadvisor/internal/domain"
)

// Runs against the Firestore emulator only: the client picks up FIRESTORE_EMULATOR_HOST.
func TestStoreContract(t *testing.T) {
	if os.Getenv("FIRESTORE_EMULATOR_HOST") == "" {
		t.Skip("FIRESTORE_EMULATOR_HOST not set")
	}

	storagetest.Run(t, func(t *testing.T) domain.ConversationStore {
		// Every subtest gets its own project so documents never collide.
		s, err := firestore.NewStore(context.Background(), "finadvisor-test-"+uuid.NewString()[:8])
		require.NoError(t, err)
		t.Cleanup(func() { _ = s.Close() })
		return s
	})
}
