package storage_test

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/serroba/online-notes/internal/ot"
	"github.com/serroba/online-notes/internal/storage"
	"github.com/serroba/online-notes/internal/storage/storagetest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryStore(t *testing.T) {
	t.Parallel()

	storagetest.Run(t, func(_ *testing.T) storage.Store {
		return storage.NewMemoryStore()
	})
}

func TestMemoryStore_ListSinceReturnsCopy(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := storage.NewMemoryStore()
	_, err := store.CreateDocument(ctx, "doc1", "")
	require.NoError(t, err)
	require.NoError(t, store.Append(ctx, "doc1", ot.SequencedOperation{Position: 1, Payload: "a"}))

	ops, err := store.ListSince(ctx, "doc1", 0)
	require.NoError(t, err)

	ops[0].Payload = "mutated"

	again, err := store.ListSince(ctx, "doc1", 0)
	require.NoError(t, err)
	assert.Equal(t, "a", again[0].Payload)
}

func TestMemoryStore_StampsCommitTime(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := storage.NewMemoryStore()
	_, err := store.CreateDocument(ctx, "doc1", "")
	require.NoError(t, err)
	require.NoError(t, store.Commit(ctx, "doc1", 0, []ot.SequencedOperation{{Position: 1, Payload: "a"}}, "a"))

	ops, err := store.ListSince(ctx, "doc1", 0)
	require.NoError(t, err)
	assert.False(t, ops[0].CommittedAt.IsZero())
}

func TestMemoryStore_NegativeVersionListsEverything(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := storage.NewMemoryStore()
	_, err := store.CreateDocument(ctx, "doc1", "")
	require.NoError(t, err)
	require.NoError(t, store.Append(ctx, "doc1", ot.SequencedOperation{Position: 1, Payload: "a"}))

	ops, err := store.ListSince(ctx, "doc1", -5)
	require.NoError(t, err)
	assert.Len(t, ops, 1)
}

func TestMemoryStore_MultipleDocuments(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := storage.NewMemoryStore()

	var wg sync.WaitGroup

	for i := range 10 {
		wg.Add(1)

		go func() {
			defer wg.Done()

			docID := fmt.Sprintf("doc%d", i)
			_, err := store.CreateDocument(ctx, docID, "")
			assert.NoError(t, err)

			for pos := 1; pos <= 5; pos++ {
				assert.NoError(t, store.Append(ctx, docID, ot.SequencedOperation{Position: pos}))
			}
		}()
	}

	wg.Wait()

	for i := range 10 {
		count, err := store.Count(ctx, fmt.Sprintf("doc%d", i))
		require.NoError(t, err)
		assert.Equal(t, 5, count)
	}
}
