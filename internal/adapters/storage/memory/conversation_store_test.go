package memory_test

import (
	"testing"

	"github.com/PabloGalante/finadvisor/internal/adapters/storage/memory"
	"github.com/PabloGalante/finadvisor/internal/adapters/storage/storagetest"
	"github.com/PabloGalante/finadvisor/internal/domain"
)

func TestConversationStoreContract(t *testing.T) {
	storagetest.Run(t, func(t *testing.T) domain.ConversationStore {
		return memory.NewConversationStore()
	})
}
