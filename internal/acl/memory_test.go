package acl_test

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/serroba/online-notes/internal/acl"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// testStore exercises the Store contract on an empty store.
func testStore(t *testing.T, store acl.Store, docID, otherDocID string) {
	t.Helper()

	ctx := context.Background()

	_, err := store.GetRole(ctx, docID, "user1")
	require.ErrorIs(t, err, acl.ErrPermissionNotFound)
	require.ErrorIs(t, store.Revoke(ctx, docID, "user1"), acl.ErrPermissionNotFound)

	perms, err := store.ListPermissions(ctx, docID)
	require.NoError(t, err)
	assert.Empty(t, perms)

	require.NoError(t, store.Grant(ctx, docID, "user2", acl.Viewer))
	require.NoError(t, store.Grant(ctx, docID, "user1", acl.Viewer))
	require.NoError(t, store.Grant(ctx, docID, "user1", acl.Owner))
	require.NoError(t, store.Grant(ctx, otherDocID, "user3", acl.Editor))

	role, err := store.GetRole(ctx, docID, "user1")
	require.NoError(t, err)
	assert.Equal(t, acl.Owner, role, "grant replaces the previous role")

	perms, err = store.ListPermissions(ctx, docID)
	require.NoError(t, err)
	assert.Equal(t, []acl.Permission{
		{DocID: docID, UserID: "user1", Role: acl.Owner},
		{DocID: docID, UserID: "user2", Role: acl.Viewer},
	}, perms)

	require.NoError(t, store.Revoke(ctx, docID, "user1"))

	_, err = store.GetRole(ctx, docID, "user1")
	require.ErrorIs(t, err, acl.ErrPermissionNotFound)

	role, err = store.GetRole(ctx, otherDocID, "user3")
	require.NoError(t, err)
	assert.Equal(t, acl.Editor, role)
}

func TestMemoryStore(t *testing.T) {
	t.Parallel()

	testStore(t, acl.NewMemoryStore(), "doc1", "doc2")
}

func TestMemoryStore_ConcurrentAccess(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := acl.NewMemoryStore()

	var wg sync.WaitGroup

	for i := range 50 {
		wg.Add(1)

		go func() {
			defer wg.Done()

			user := fmt.Sprintf("user%d", i)
			assert.NoError(t, store.Grant(ctx, "doc1", user, acl.Editor))

			_, err := store.GetRole(ctx, "doc1", user)
			assert.NoError(t, err)
		}()
	}

	wg.Wait()

	perms, err := store.ListPermissions(ctx, "doc1")
	require.NoError(t, err)
	assert.Len(t, perms, 50)
}
