package memory

import (
	"context"
	"testing"

	"github.com/membank/membank/internal/model"
	"github.com/membank/membank/internal/plugin/vector/inmem"
	"github.com/stretchr/testify/require"
)

func TestRegistry_ResolveCreatesLazily(t *testing.T) {
	vec := inmem.New()
	reg := NewCollectionRegistry(vec, 4)
	ctx := context.Background()

	exists, err := reg.Exists(ctx, Global)
	require.NoError(t, err)
	require.False(t, exists)

	col, err := reg.Resolve(ctx, Global)
	require.NoError(t, err)
	require.Equal(t, "global_memory", col.Name)
	require.Equal(t, 4, col.Dimension)

	exists, err = reg.Exists(ctx, Global)
	require.NoError(t, err)
	require.True(t, exists)

	again, err := reg.Resolve(ctx, Global)
	require.NoError(t, err)
	require.Equal(t, col, again)
}

func TestRegistry_DimensionConflictIsFatal(t *testing.T) {
	vec := inmem.New()
	ctx := context.Background()

	_, err := NewCollectionRegistry(vec, 4).Resolve(ctx, Global)
	require.NoError(t, err)

	_, err = NewCollectionRegistry(vec, 8).Resolve(ctx, Global)
	var colErr *model.CollectionError
	require.ErrorAs(t, err, &colErr)
	require.Equal(t, "global_memory", colErr.Collection)
}

func TestRegistry_ForgetDropsCachedDescriptor(t *testing.T) {
	vec := inmem.New()
	reg := NewCollectionRegistry(vec, 4)
	ctx := context.Background()

	_, err := reg.Resolve(ctx, Policy)
	require.NoError(t, err)
	require.NoError(t, vec.DropCollection(ctx, Policy.CollectionName()))

	// The cached descriptor masks the drop until Forget.
	exists, err := reg.Exists(ctx, Policy)
	require.NoError(t, err)
	require.True(t, exists)

	reg.Forget(Policy)
	exists, err = reg.Exists(ctx, Policy)
	require.NoError(t, err)
	require.False(t, exists)

	_, err = reg.Resolve(ctx, Policy)
	require.NoError(t, err)
}
