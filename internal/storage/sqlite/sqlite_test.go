package sqlite_test

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/serroba/online-notes/internal/storage"
	"github.com/serroba/online-notes/internal/storage/sqlite"
	"github.com/serroba/online-notes/internal/storage/storagetest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func open(t *testing.T) *sqlite.Store {
	t.Helper()

	store, err := sqlite.Open(context.Background(), filepath.Join(t.TempDir(), "notes.db"), zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	return store
}

func TestStore(t *testing.T) {
	t.Parallel()

	storagetest.Run(t, func(t *testing.T) storage.Store {
		return open(t)
	})
}

func TestStore_PersistsAcrossReopen(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "notes.db")

	store, err := sqlite.Open(ctx, path, zap.NewNop())
	require.NoError(t, err)

	_, err = store.CreateDocument(ctx, "doc1", "{}")
	require.NoError(t, err)
	require.NoError(t, store.Close())

	reopened, err := sqlite.Open(ctx, path, zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = reopened.Close() })

	doc, err := reopened.LoadDocument(ctx, "doc1")
	require.NoError(t, err)
	assert.Equal(t, "{}", doc.Snapshot)
}
