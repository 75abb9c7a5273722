package api_test

import (
	"net/http"
	"testing"

	"github.com/serroba/online-notes/internal/acl"
	"github.com/serroba/online-notes/internal/api"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPermissions_CreatorOwnsDocument(t *testing.T) {
	t.Parallel()

	perms := acl.NewMemoryStore()
	env := newEnv(t, withACL(perms))
	docID := env.create(t, "alice")

	var list api.PermissionsResponse
	require.Equal(t, http.StatusOK, env.do(t, "alice", http.MethodGet, "/documents/"+docID+"/permissions", nil, &list))
	assert.Equal(t, []acl.Permission{{DocID: docID, UserID: "alice", Role: acl.Owner}}, list.Permissions)
}

func TestPermissions_Enforced(t *testing.T) {
	t.Parallel()

	env := newEnv(t, withACL(acl.NewMemoryStore()))
	docID := env.create(t, "alice")
	doc := "/documents/" + docID
	submit := api.SubmitRequest{Version: 0, Operations: []string{addField("a", "1")}}

	assert.Equal(t, http.StatusForbidden, env.do(t, "bob", http.MethodGet, doc, nil, nil))
	assert.Equal(t, http.StatusForbidden, env.do(t, "bob", http.MethodPost, doc+"/operations", submit, nil))

	// Only owners share.
	require.Equal(t, http.StatusNoContent, env.do(t, "alice", http.MethodPut, doc+"/permissions/bob", map[string]string{"role": "viewer"}, nil))
	assert.Equal(t, http.StatusForbidden, env.do(t, "bob", http.MethodPut, doc+"/permissions/carol", map[string]string{"role": "owner"}, nil))

	// Viewers read but cannot write.
	assert.Equal(t, http.StatusOK, env.do(t, "bob", http.MethodGet, doc, nil, nil))
	assert.Equal(t, http.StatusForbidden, env.do(t, "bob", http.MethodPost, doc+"/operations", submit, nil))

	require.Equal(t, http.StatusNoContent, env.do(t, "alice", http.MethodPut, doc+"/permissions/bob", map[string]string{"role": "editor"}, nil))

	var submitted api.SubmitResponse
	require.Equal(t, http.StatusOK, env.do(t, "bob", http.MethodPost, doc+"/operations", submit, &submitted))

	require.Equal(t, http.StatusNoContent, env.do(t, "alice", http.MethodDelete, doc+"/permissions/bob", nil, nil))
	assert.Equal(t, http.StatusForbidden, env.do(t, "bob", http.MethodGet, doc, nil, nil))
	assert.Equal(t, http.StatusNotFound, env.do(t, "alice", http.MethodDelete, doc+"/permissions/bob", nil, nil))
}

func TestPermissions_InvalidRole(t *testing.T) {
	t.Parallel()

	env := newEnv(t, withACL(acl.NewMemoryStore()))
	docID := env.create(t, "alice")

	status := env.do(t, "alice", http.MethodPut, "/documents/"+docID+"/permissions/bob", map[string]string{"role": "admin"}, nil)
	assert.Equal(t, http.StatusBadRequest, status)
}

func TestPermissions_Disabled(t *testing.T) {
	t.Parallel()

	env := newEnv(t)
	docID := env.create(t, "alice")

	assert.Equal(t, http.StatusNotFound, env.do(t, "alice", http.MethodGet, "/documents/"+docID+"/permissions", nil, nil))

	// Anyone authenticated may edit.
	var submitted api.SubmitResponse
	require.Equal(t, http.StatusOK, env.do(t, "bob", http.MethodPost, "/documents/"+docID+"/operations",
		api.SubmitRequest{Version: 0, Operations: []string{addField("a", "1")}}, &submitted))
}

func TestPermissions_LastOwnerKept(t *testing.T) {
	t.Parallel()

	env := newEnv(t, withACL(acl.NewMemoryStore()))
	docID := env.create(t, "alice")
	perms := "/documents/" + docID + "/permissions/"

	assert.Equal(t, http.StatusConflict, env.do(t, "alice", http.MethodDelete, perms+"alice", nil, nil))
	assert.Equal(t, http.StatusConflict, env.do(t, "alice", http.MethodPut, perms+"alice", map[string]string{"role": "viewer"}, nil))

	require.Equal(t, http.StatusNoContent, env.do(t, "alice", http.MethodPut, perms+"bob", map[string]string{"role": "owner"}, nil))
	assert.Equal(t, http.StatusNoContent, env.do(t, "alice", http.MethodDelete, perms+"alice", nil, nil))
}
