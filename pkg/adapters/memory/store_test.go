package memory_test

import (
	"context"
	"testing"

	"github.com/aretw0/graft/pkg/adapters/memory"
	"github.com/aretw0/graft/pkg/domain"
	"github.com/aretw0/graft/pkg/ports"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryStore_ObjectContract(t *testing.T) {
	store := memory.NewStore()
	ports.RunObjectStoreContract(t, store)
}

func TestMemoryStore_AliasContract(t *testing.T) {
	store := memory.NewStore()
	ports.RunAliasStoreContract(t, store)
}

func TestMemoryStore_CorruptionIsFatal(t *testing.T) {
	ctx := context.Background()
	store := memory.NewStore()

	id, err := store.PutTree(ctx, []byte(`{"entries":[],"version":1}`))
	require.NoError(t, err)

	store.Corrupt(id, []byte("flipped bits"))

	_, err = store.Get(ctx, id)
	assert.ErrorIs(t, err, domain.ErrCorrupt)
}
