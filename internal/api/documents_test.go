package api_test

import (
	"context"
	"fmt"
	"net/http"
	"testing"

	"github.com/serroba/online-notes/internal/api"
	"github.com/serroba/online-notes/internal/collab"
	"github.com/serroba/online-notes/internal/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func addField(name, value string) string {
	return fmt.Sprintf(`[{"op":"add","path":"/%s","value":%q}]`, name, value)
}

func TestDocuments_CreateAndGet(t *testing.T) {
	t.Parallel()

	env := newEnv(t)
	docID := env.create(t, "alice")

	var state collab.DocumentState
	require.Equal(t, http.StatusOK, env.do(t, "alice", http.MethodGet, "/documents/"+docID, nil, &state))
	assert.Equal(t, collab.DocumentState{DocID: docID, Doc: "{}", Version: 0}, state)
}

func TestDocuments_NotFound(t *testing.T) {
	t.Parallel()

	env := newEnv(t)

	for _, path := range []string{"/documents/missing", "/documents/missing/operations", "/documents/missing/verify"} {
		assert.Equal(t, http.StatusNotFound, env.do(t, "alice", http.MethodGet, path, nil, nil), path)
	}

	status := env.do(t, "alice", http.MethodPost, "/documents/missing/operations", api.SubmitRequest{Version: 0}, nil)
	assert.Equal(t, http.StatusNotFound, status)
}

func TestDocuments_SubmitAndCatchUp(t *testing.T) {
	t.Parallel()

	env := newEnv(t)
	docID := env.create(t, "alice")
	path := "/documents/" + docID + "/operations"

	var submitted api.SubmitResponse
	require.Equal(t, http.StatusOK, env.do(t, "alice", http.MethodPost, path, api.SubmitRequest{
		ClientID:   "c1",
		Version:    0,
		Operations: []string{addField("title", "groceries")},
	}, &submitted))
	assert.Equal(t, collab.Accepted, submitted.Status)

	// The same version again lost the race.
	require.Equal(t, http.StatusOK, env.do(t, "alice", http.MethodPost, path, api.SubmitRequest{
		Version:    0,
		Operations: []string{addField("title", "chores")},
	}, &submitted))
	assert.Equal(t, collab.Rejected, submitted.Status)

	// Without a client id the user id is recorded.
	require.Equal(t, http.StatusOK, env.do(t, "alice", http.MethodPost, path, api.SubmitRequest{
		Version:    1,
		Operations: []string{addField("body", "milk")},
	}, &submitted))
	assert.Equal(t, collab.Accepted, submitted.Status)

	var ops api.OperationsResponse
	require.Equal(t, http.StatusOK, env.do(t, "alice", http.MethodGet, path+"?since=0", nil, &ops))
	require.Len(t, ops.Operations, 2)
	assert.Equal(t, 1, ops.Operations[0].Position)
	assert.Equal(t, "c1", ops.Operations[0].ClientID)
	assert.Equal(t, "alice", ops.Operations[1].ClientID)

	require.Equal(t, http.StatusOK, env.do(t, "alice", http.MethodGet, path+"?since=2", nil, &ops))
	assert.NotNil(t, ops.Operations)
	assert.Empty(t, ops.Operations)

	var state collab.DocumentState
	require.Equal(t, http.StatusOK, env.do(t, "alice", http.MethodGet, "/documents/"+docID, nil, &state))
	assert.Equal(t, 2, state.Version)
	assert.JSONEq(t, `{"title":"groceries","body":"milk"}`, state.Doc)

	assert.Equal(t, http.StatusNoContent, env.do(t, "alice", http.MethodGet, "/documents/"+docID+"/verify", nil, nil))
}

func TestDocuments_BadRequests(t *testing.T) {
	t.Parallel()

	env := newEnv(t)
	docID := env.create(t, "alice")
	path := "/documents/" + docID + "/operations"

	assert.Equal(t, http.StatusBadRequest, env.do(t, "alice", http.MethodGet, path+"?since=-1", nil, nil))
	assert.Equal(t, http.StatusBadRequest, env.do(t, "alice", http.MethodGet, path+"?since=abc", nil, nil))
	assert.Equal(t, http.StatusBadRequest, env.do(t, "alice", http.MethodPost, path, api.SubmitRequest{Version: -1}, nil))
	assert.Equal(t, http.StatusBadRequest, env.do(t, "alice", http.MethodPost, path, map[string]any{"unknown": true}, nil))
}

// divergingStore persists a snapshot that its own log does not produce.
type divergingStore struct {
	*storage.MemoryStore
}

func (d divergingStore) LoadDocument(ctx context.Context, docID string) (storage.Document, error) {
	doc, err := d.MemoryStore.LoadDocument(ctx, docID)
	doc.Snapshot = `{"tampered":true}`

	return doc, err
}

func TestDocuments_VerifyDiverged(t *testing.T) {
	t.Parallel()

	service := collab.NewService(collab.Config{Store: divergingStore{storage.NewMemoryStore()}})
	t.Cleanup(func() { _ = service.Close() })

	docID, err := service.CreateEmptyDocument(context.Background())
	require.NoError(t, err)

	env := newEnv(t)
	handler := api.NewServer(api.ServerConfig{Service: service, Verifier: env.verifier}).Handler()

	rec := serve(t, handler, env.token(t, "alice"), http.MethodGet, "/documents/"+docID+"/verify")
	require.Equal(t, http.StatusConflict, rec.Code)

	var body api.VerifyResponse
	decode(t, rec, &body)
	assert.Equal(t, "{}", body.Replayed)
	assert.JSONEq(t, `{"tampered":true}`, body.Snapshot)
}
