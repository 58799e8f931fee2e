package memory

import (
	"context"
	"testing"

	"cluster-backend/internal/models"
	"cluster-backend/internal/store/storetest"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryStore(t *testing.T) {
	store := NewStore()
	defer store.Close()

	storetest.Run(t, store)
}

func TestMemoryStoreReturnsCopies(t *testing.T) {
	store := NewStore()
	ctx := context.Background()

	node := &models.Node{ClusterID: 1, Roles: []string{"compute"}}
	require.NoError(t, store.CreateNode(ctx, node))

	got, err := store.GetNode(ctx, node.ID)
	require.NoError(t, err)
	got.Roles[0] = "changed"
	got.Status = models.NodeStatusError

	again, err := store.GetNode(ctx, node.ID)
	require.NoError(t, err)
	assert.Equal(t, []string{"compute"}, again.Roles)
	assert.Empty(t, again.Status)
}
