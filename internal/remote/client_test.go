package remote_test

import (
	"context"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/serroba/online-notes/internal/acl"
	"github.com/serroba/online-notes/internal/api"
	"github.com/serroba/online-notes/internal/auth"
	"github.com/serroba/online-notes/internal/collab"
	"github.com/serroba/online-notes/internal/ot"
	"github.com/serroba/online-notes/internal/reconcile"
	"github.com/serroba/online-notes/internal/remote"
	"github.com/serroba/online-notes/internal/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fixture struct {
	server   *httptest.Server
	verifier *auth.Verifier
}

func newFixture(t *testing.T, codec ot.Codec, perms acl.Store) *fixture {
	t.Helper()

	service := collab.NewService(collab.Config{Store: storage.NewMemoryStore(), Codec: codec})
	t.Cleanup(func() { _ = service.Close() })

	verifier := auth.NewVerifier([]byte("secret"))
	server := httptest.NewServer(api.NewServer(api.ServerConfig{
		Service:     service,
		Verifier:    verifier,
		Permissions: perms,
	}).Handler())
	t.Cleanup(server.Close)

	return &fixture{server: server, verifier: verifier}
}

func (f *fixture) client(t *testing.T, userID string) *remote.Client {
	t.Helper()

	token, err := f.verifier.Issue(userID)
	require.NoError(t, err)

	c, err := remote.NewClient(remote.Config{BaseURL: f.server.URL, Token: token})
	require.NoError(t, err)

	return c
}

func TestNewClient_RejectsBadURL(t *testing.T) {
	t.Parallel()

	_, err := remote.NewClient(remote.Config{BaseURL: "ftp://example.com"})
	require.Error(t, err)

	_, err = remote.NewClient(remote.Config{BaseURL: "://"})
	require.Error(t, err)
}

func TestClient_RoundTrip(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	f := newFixture(t, ot.TextCodec{}, nil)
	c := f.client(t, "alice")

	docID, err := c.CreateDocument(ctx)
	require.NoError(t, err)

	outcome, err := c.SubmitOperations(ctx, docID, "c1", 0, []string{
		ot.NewInsert("h", 0, "alice").Encode(),
		ot.NewInsert("i", 1, "alice").Encode(),
	})
	require.NoError(t, err)
	assert.Equal(t, collab.Accepted, outcome)

	outcome, err = c.SubmitOperations(ctx, docID, "c1", 0, []string{ot.NewInsert("x", 0, "alice").Encode()})
	require.NoError(t, err)
	assert.Equal(t, collab.Rejected, outcome)

	state, err := c.GetDocumentAndVersion(ctx, docID)
	require.NoError(t, err)
	assert.Equal(t, collab.DocumentState{DocID: docID, Doc: "hi", Version: 2}, state)

	ops, err := c.OperationsSince(ctx, docID, 1)
	require.NoError(t, err)
	require.Len(t, ops, 1)
	assert.Equal(t, 2, ops[0].Position)
	assert.Equal(t, "c1", ops[0].ClientID)

	require.NoError(t, c.Verify(ctx, docID))
}

func TestClient_ErrorMapping(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	f := newFixture(t, nil, acl.NewMemoryStore())
	alice := f.client(t, "alice")
	bob := f.client(t, "bob")

	docID, err := alice.CreateDocument(ctx)
	require.NoError(t, err)

	_, err = bob.GetDocumentAndVersion(ctx, docID)
	require.ErrorIs(t, err, acl.ErrForbidden)

	require.NoError(t, alice.Grant(ctx, docID, "bob", acl.Editor))

	_, err = bob.GetDocumentAndVersion(ctx, docID)
	require.NoError(t, err)

	require.ErrorIs(t, alice.Revoke(ctx, docID, "alice"), acl.ErrLastOwner)
	require.NoError(t, alice.Revoke(ctx, docID, "bob"))
	require.ErrorIs(t, alice.Revoke(ctx, docID, "bob"), acl.ErrPermissionNotFound)

	_, err = bob.GetDocumentAndVersion(ctx, docID)
	require.ErrorIs(t, err, acl.ErrForbidden)

	anonymous, err := remote.NewClient(remote.Config{BaseURL: f.server.URL})
	require.NoError(t, err)

	_, err = anonymous.CreateDocument(ctx)
	require.ErrorIs(t, err, auth.ErrUnauthenticated)
}

func TestClient_NotFound(t *testing.T) {
	t.Parallel()

	f := newFixture(t, nil, nil)

	_, err := f.client(t, "alice").OperationsSince(context.Background(), "missing", 0)
	require.ErrorIs(t, err, storage.ErrDocumentNotFound)
}

func TestClient_Watch(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	f := newFixture(t, nil, nil)
	c := f.client(t, "alice")

	docID, err := c.CreateDocument(ctx)
	require.NoError(t, err)

	sub, err := c.Watch(ctx, docID)
	require.NoError(t, err)

	// The server greets with the current version.
	select {
	case u := <-sub.Updates():
		assert.Equal(t, 0, u.Version)
	case <-time.After(2 * time.Second):
		t.Fatal("no greeting")
	}

	_, err = c.SubmitOperations(ctx, docID, "c1", 0, []string{`[{"op":"add","path":"/a","value":1}]`})
	require.NoError(t, err)

	select {
	case u := <-sub.Updates():
		assert.Equal(t, docID, u.DocID)
		assert.Equal(t, 1, u.Version)
	case <-time.After(2 * time.Second):
		t.Fatal("no update pushed")
	}

	cancel()

	select {
	case <-sub.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("subscription outlived its context")
	}
}

func TestClient_WatchMissingDocument(t *testing.T) {
	t.Parallel()

	f := newFixture(t, nil, nil)

	_, err := f.client(t, "alice").Watch(context.Background(), "missing")
	require.ErrorIs(t, err, storage.ErrDocumentNotFound)
}

func TestClient_DrivesReconciliationLoops(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	f := newFixture(t, ot.TextCodec{}, nil)
	alice := f.client(t, "alice")
	bob := f.client(t, "bob")

	docID, err := alice.CreateDocument(ctx)
	require.NoError(t, err)

	start := func(transport reconcile.Transport, clientID string) (*reconcile.Loop, *reconcile.SnapshotEditor) {
		editor := reconcile.NewSnapshotEditor(ot.TextCodec{})
		loop := reconcile.NewLoop(reconcile.Config{
			DocID:        docID,
			ClientID:     clientID,
			Transport:    transport,
			Editor:       editor,
			PollInterval: time.Second,
		})

		done := make(chan struct{})

		go func() {
			defer close(done)

			_ = loop.Run(ctx)
		}()

		t.Cleanup(func() {
			cancel()
			<-done
		})

		return loop, editor
	}

	aliceLoop, aliceEditor := start(alice, "alice")
	bobLoop, bobEditor := start(bob, "bob")

	aliceLoop.Edit(ot.NewInsert("a", 0, "alice").Encode())
	bobLoop.Edit(ot.NewInsert("b", 0, "bob").Encode())

	require.Eventually(t, func() bool {
		a, b := aliceLoop.Status(), bobLoop.Status()

		return a.Version == 2 && b.Version == 2 && len(a.Pending) == 0 && len(b.Pending) == 0
	}, 5*time.Second, 10*time.Millisecond)

	state, err := alice.GetDocumentAndVersion(ctx, docID)
	require.NoError(t, err)
	assert.Equal(t, state.Doc, aliceEditor.Content())
	assert.Equal(t, state.Doc, bobEditor.Content())
}

var (
	_ reconcile.Transport = (*remote.Client)(nil)
	_ reconcile.Watcher   = (*remote.Client)(nil)
)
