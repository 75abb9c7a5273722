package api_test

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/serroba/online-notes/internal/acl"
	"github.com/serroba/online-notes/internal/api"
	"github.com/serroba/online-notes/internal/auth"
	"github.com/serroba/online-notes/internal/collab"
	"github.com/serroba/online-notes/internal/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testSecret = []byte("test-secret")

type testEnv struct {
	server   *httptest.Server
	service  *collab.Service
	verifier *auth.Verifier
}

type envOption func(*api.ServerConfig)

func withACL(perms acl.Store) envOption {
	return func(cfg *api.ServerConfig) { cfg.Permissions = perms }
}

func withHeaderAuth() envOption {
	return func(cfg *api.ServerConfig) { cfg.Verifier = nil }
}

func newEnv(t *testing.T, opts ...envOption) *testEnv {
	t.Helper()

	env := &testEnv{
		service:  collab.NewService(collab.Config{Store: storage.NewMemoryStore()}),
		verifier: auth.NewVerifier(testSecret),
	}
	t.Cleanup(func() { _ = env.service.Close() })

	cfg := api.ServerConfig{Service: env.service, Verifier: env.verifier}
	for _, opt := range opts {
		opt(&cfg)
	}

	env.server = httptest.NewServer(api.NewServer(cfg).Handler())
	t.Cleanup(env.server.Close)

	return env
}

func (e *testEnv) token(t *testing.T, userID string) string {
	t.Helper()

	token, err := e.verifier.Issue(userID)
	require.NoError(t, err)

	return token
}

// do sends a request as userID and decodes the JSON reply into out when set.
func (e *testEnv) do(t *testing.T, userID, method, path string, body, out any) int {
	t.Helper()

	var reader io.Reader

	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)

		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(context.Background(), method, e.server.URL+path, reader)
	require.NoError(t, err)

	if userID != "" {
		req.Header.Set("Authorization", "Bearer "+e.token(t, userID))
	}

	resp, err := e.server.Client().Do(req)
	require.NoError(t, err)

	defer func() { _ = resp.Body.Close() }()

	if out != nil && resp.StatusCode < http.StatusBadRequest {
		require.NoError(t, json.NewDecoder(resp.Body).Decode(out))
	}

	return resp.StatusCode
}

func (e *testEnv) create(t *testing.T, userID string) string {
	t.Helper()

	var created api.CreateDocumentResponse
	require.Equal(t, http.StatusCreated, e.do(t, userID, http.MethodPost, "/documents", nil, &created))
	require.NotEmpty(t, created.DocID)

	return created.DocID
}

func TestServer_Health(t *testing.T) {
	t.Parallel()

	env := newEnv(t)

	assert.Equal(t, http.StatusOK, env.do(t, "", http.MethodGet, "/healthz", nil, nil))
}

func TestServer_RequiresAuthentication(t *testing.T) {
	t.Parallel()

	env := newEnv(t)

	t.Run("missing token", func(t *testing.T) {
		t.Parallel()

		assert.Equal(t, http.StatusUnauthorized, env.do(t, "", http.MethodPost, "/documents", nil, nil))
	})

	t.Run("forged token", func(t *testing.T) {
		t.Parallel()

		forged, err := auth.NewVerifier([]byte("other")).Issue("mallory")
		require.NoError(t, err)

		req := httptest.NewRequest(http.MethodPost, "/documents", nil)
		req.Header.Set("Authorization", "Bearer "+forged)

		rec := httptest.NewRecorder()
		api.NewServer(api.ServerConfig{Service: env.service, Verifier: env.verifier}).Handler().ServeHTTP(rec, req)

		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	})

	t.Run("query token", func(t *testing.T) {
		t.Parallel()

		resp, err := env.server.Client().Post(env.server.URL+"/documents?access_token="+env.token(t, "alice"), "application/json", nil)
		require.NoError(t, err)
		_ = resp.Body.Close()

		assert.Equal(t, http.StatusCreated, resp.StatusCode)
	})

	t.Run("routes PUT to method not allowed", func(t *testing.T) {
		t.Parallel()

		assert.Equal(t, http.StatusMethodNotAllowed, env.do(t, "alice", http.MethodPut, "/documents/x", nil, nil))
		assert.Equal(t, http.StatusMethodNotAllowed, env.do(t, "alice", http.MethodPatch, "/documents/x/operations", nil, nil))
		assert.Equal(t, http.StatusMethodNotAllowed, env.do(t, "alice", http.MethodPost, "/healthz", nil, nil))
	})

	t.Run("routes unknown paths to not found", func(t *testing.T) {
		t.Parallel()

		assert.Equal(t, http.StatusNotFound, env.do(t, "alice", http.MethodGet, "/documents/x/unknown", nil, nil))
	})
}

func TestServer_HeaderAuth(t *testing.T) {
	t.Parallel()

	env := newEnv(t, withHeaderAuth())

	req := httptest.NewRequest(http.MethodPost, "/documents", nil)
	rec := httptest.NewRecorder()
	env.server.Config.Handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	req = httptest.NewRequest(http.MethodPost, "/documents", nil)
	req.Header.Set("X-User-Id", "user1")

	rec = httptest.NewRecorder()
	env.server.Config.Handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusCreated, rec.Code)
}

func TestCallerFromContext(t *testing.T) {
	t.Parallel()

	t.Run("empty outside a request", func(t *testing.T) {
		t.Parallel()

		_, ok := api.CallerFromContext(context.Background())
		assert.False(t, ok)
		assert.Empty(t, api.UserIDFromContext(context.Background()))
	})

	t.Run("round trips", func(t *testing.T) {
		t.Parallel()

		ctx := api.WithCaller(context.Background(), api.Caller{UserID: "alice", Method: api.AuthToken})

		caller, ok := api.CallerFromContext(ctx)
		require.True(t, ok)
		assert.Equal(t, api.AuthToken, caller.Method)
		assert.Equal(t, "alice", api.UserIDFromContext(ctx))
	})
}
