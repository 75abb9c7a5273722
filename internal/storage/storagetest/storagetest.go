// Package storagetest holds the behaviour every storage.Store backend must share.
package storagetest

import (
	"context"
	"errors"
	"strconv"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/serroba/online-notes/internal/ot"
	"github.com/serroba/online-notes/internal/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Factory returns a ready store. The suite never closes it.
type Factory func(t *testing.T) storage.Store

// Run exercises a Store implementation. Every case uses fresh document ids,
// so backends may share one database across cases.
func Run(t *testing.T, newStore Factory) {
	t.Helper()

	cases := map[string]func(*testing.T, storage.Store){
		"CreateAndLoad":         testCreateAndLoad,
		"CreateDuplicate":       testCreateDuplicate,
		"MissingDocument":       testMissingDocument,
		"AppendAndListSince":    testAppendAndListSince,
		"AppendPositionChecks":  testAppendPositionChecks,
		"Commit":                testCommit,
		"CommitVersionMismatch": testCommitVersionMismatch,
		"CommitGap":             testCommitGap,
		"ConcurrentCommits":     testConcurrentCommits,
		"ReadConsistency":       testReadConsistency,
	}

	for name, fn := range cases {
		t.Run(name, func(t *testing.T) {
			fn(t, newStore(t))
		})
	}
}

func newDoc(t *testing.T, store storage.Store, snapshot string) string {
	t.Helper()

	docID := uuid.NewString()
	_, err := store.CreateDocument(context.Background(), docID, snapshot)
	require.NoError(t, err)

	return docID
}

func op(position int, payload string) ot.SequencedOperation {
	return ot.SequencedOperation{Position: position, Payload: payload, ClientID: "client-" + payload}
}

func testCreateAndLoad(t *testing.T, store storage.Store) {
	ctx := context.Background()
	docID := uuid.NewString()

	created, err := store.CreateDocument(ctx, docID, "{}")
	require.NoError(t, err)
	assert.Equal(t, docID, created.ID)
	assert.Equal(t, "{}", created.Snapshot)
	assert.Zero(t, created.Version)

	loaded, err := store.LoadDocument(ctx, docID)
	require.NoError(t, err)
	assert.Equal(t, "{}", loaded.Snapshot)
	assert.Zero(t, loaded.Version)
	assert.False(t, loaded.CreatedAt.IsZero())

	count, err := store.Count(ctx, docID)
	require.NoError(t, err)
	assert.Zero(t, count)

	ops, err := store.ListSince(ctx, docID, 0)
	require.NoError(t, err)
	assert.Empty(t, ops)
}

func testCreateDuplicate(t *testing.T, store storage.Store) {
	docID := newDoc(t, store, "")

	_, err := store.CreateDocument(context.Background(), docID, "")
	require.ErrorIs(t, err, storage.ErrDocumentExists)
}

func testMissingDocument(t *testing.T, store storage.Store) {
	ctx := context.Background()
	docID := uuid.NewString()

	_, err := store.LoadDocument(ctx, docID)
	require.ErrorIs(t, err, storage.ErrDocumentNotFound)

	_, err = store.Count(ctx, docID)
	require.ErrorIs(t, err, storage.ErrDocumentNotFound)

	_, err = store.ListSince(ctx, docID, 0)
	require.ErrorIs(t, err, storage.ErrDocumentNotFound)

	err = store.Append(ctx, docID, op(1, "a"))
	require.ErrorIs(t, err, storage.ErrDocumentNotFound)

	err = store.Commit(ctx, docID, 0, []ot.SequencedOperation{op(1, "a")}, "a")
	require.ErrorIs(t, err, storage.ErrDocumentNotFound)
}

func testAppendAndListSince(t *testing.T, store storage.Store) {
	ctx := context.Background()
	docID := newDoc(t, store, "")

	for i, payload := range []string{"a", "b", "c"} {
		require.NoError(t, store.Append(ctx, docID, op(i+1, payload)))
	}

	count, err := store.Count(ctx, docID)
	require.NoError(t, err)
	assert.Equal(t, 3, count)

	all, err := store.ListSince(ctx, docID, 0)
	require.NoError(t, err)
	require.Len(t, all, 3)

	for i, got := range all {
		assert.Equal(t, i+1, got.Position)
	}

	assert.Equal(t, "a", all[0].Payload)
	assert.Equal(t, "client-a", all[0].ClientID)

	tail, err := store.ListSince(ctx, docID, 2)
	require.NoError(t, err)
	require.Len(t, tail, 1)
	assert.Equal(t, 3, tail[0].Position)
	assert.Equal(t, "c", tail[0].Payload)

	none, err := store.ListSince(ctx, docID, 3)
	require.NoError(t, err)
	assert.Empty(t, none)

	ahead, err := store.ListSince(ctx, docID, 10)
	require.NoError(t, err)
	assert.Empty(t, ahead)
}

func testAppendPositionChecks(t *testing.T, store storage.Store) {
	ctx := context.Background()
	docID := newDoc(t, store, "")

	require.NoError(t, store.Append(ctx, docID, op(1, "a")))

	err := store.Append(ctx, docID, op(1, "again"))
	require.ErrorIs(t, err, storage.ErrPositionConflict)

	err = store.Append(ctx, docID, op(3, "skip"))
	require.ErrorIs(t, err, storage.ErrPositionGap)

	count, err := store.Count(ctx, docID)
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

func testCommit(t *testing.T, store storage.Store) {
	ctx := context.Background()
	docID := newDoc(t, store, "")

	err := store.Commit(ctx, docID, 0, []ot.SequencedOperation{op(1, "a"), op(2, "b")}, "ab")
	require.NoError(t, err)

	doc, err := store.LoadDocument(ctx, docID)
	require.NoError(t, err)
	assert.Equal(t, "ab", doc.Snapshot)
	assert.Equal(t, 2, doc.Version)

	err = store.Commit(ctx, docID, 2, []ot.SequencedOperation{op(3, "c")}, "abc")
	require.NoError(t, err)

	ops, err := store.ListSince(ctx, docID, 1)
	require.NoError(t, err)
	require.Len(t, ops, 2)
	assert.Equal(t, "b", ops[0].Payload)
	assert.Equal(t, "c", ops[1].Payload)
}

func testCommitVersionMismatch(t *testing.T, store storage.Store) {
	ctx := context.Background()
	docID := newDoc(t, store, "")

	require.NoError(t, store.Commit(ctx, docID, 0, []ot.SequencedOperation{op(1, "a")}, "a"))

	err := store.Commit(ctx, docID, 0, []ot.SequencedOperation{op(1, "x")}, "x")
	require.ErrorIs(t, err, storage.ErrVersionMismatch)

	doc, err := store.LoadDocument(ctx, docID)
	require.NoError(t, err)
	assert.Equal(t, "a", doc.Snapshot)
	assert.Equal(t, 1, doc.Version)
}

func testCommitGap(t *testing.T, store storage.Store) {
	ctx := context.Background()
	docID := newDoc(t, store, "")

	err := store.Commit(ctx, docID, 0, []ot.SequencedOperation{op(1, "a"), op(3, "c")}, "ac")
	require.ErrorIs(t, err, storage.ErrPositionGap)

	count, err := store.Count(ctx, docID)
	require.NoError(t, err)
	assert.Zero(t, count)
}

func testConcurrentCommits(t *testing.T, store storage.Store) {
	ctx := context.Background()
	docID := newDoc(t, store, "")

	const writers = 8

	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		winners  int
		unexpect []error
	)

	for i := range writers {
		wg.Add(1)

		go func() {
			defer wg.Done()

			payload := strconv.Itoa(i)
			err := store.Commit(ctx, docID, 0, []ot.SequencedOperation{op(1, payload)}, payload)

			mu.Lock()
			defer mu.Unlock()

			switch {
			case err == nil:
				winners++
			case !errors.Is(err, storage.ErrVersionMismatch):
				unexpect = append(unexpect, err)
			}
		}()
	}

	wg.Wait()

	assert.Empty(t, unexpect)
	assert.Equal(t, 1, winners)

	count, err := store.Count(ctx, docID)
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

func testReadConsistency(t *testing.T, store storage.Store) {
	ctx := context.Background()
	docID := newDoc(t, store, "0")

	const commits = 30

	done := make(chan struct{})

	go func() {
		defer close(done)

		for v := range commits {
			next := strconv.Itoa(v + 1)
			if err := store.Commit(ctx, docID, v, []ot.SequencedOperation{op(v+1, next)}, next); err != nil {
				t.Errorf("commit %d: %v", v+1, err)

				return
			}
		}
	}()

	for {
		doc, err := store.LoadDocument(ctx, docID)
		require.NoError(t, err)
		require.Equal(t, strconv.Itoa(doc.Version), doc.Snapshot, "snapshot read with a different version")

		select {
		case <-done:
			return
		default:
		}
	}
}
