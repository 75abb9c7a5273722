package api

import (
	"net/http"

	"github.com/gorilla/mux"
	"github.com/serroba/online-notes/internal/acl"
	"go.uber.org/zap"
)

// GrantRequest is the body of PUT /documents/{id}/permissions/{user}.
type GrantRequest struct {
	Role acl.Role `json:"role"`
}

// PermissionsResponse lists who can access a note.
type PermissionsResponse struct {
	Permissions []acl.Permission `json:"permissions"`
}

func (s *Server) aclDisabled(w http.ResponseWriter) bool {
	if s.checker != nil {
		return false
	}

	writeJSON(w, s.logger, http.StatusNotFound, ErrorResponse{Error: "access control is disabled"})

	return true
}

// handleListPermissions handles GET /documents/{id}/permissions.
func (s *Server) handleListPermissions(w http.ResponseWriter, r *http.Request) {
	if s.aclDisabled(w) {
		return
	}

	ctx := r.Context()
	docID := mux.Vars(r)["id"]

	if err := s.authorize(ctx, docID, acl.ActionRead); err != nil {
		s.writeError(w, r, err)

		return
	}

	perms, err := s.checker.Store().ListPermissions(ctx, docID)
	if err != nil {
		s.writeError(w, r, err)

		return
	}

	writeJSON(w, s.logger, http.StatusOK, PermissionsResponse{Permissions: perms})
}

// handleGrant handles PUT /documents/{id}/permissions/{user}.
func (s *Server) handleGrant(w http.ResponseWriter, r *http.Request) {
	if s.aclDisabled(w) {
		return
	}

	ctx := r.Context()
	vars := mux.Vars(r)

	var req GrantRequest
	if err := decodeJSON(r, &req); err != nil {
		s.writeError(w, r, err)

		return
	}

	if err := s.checker.Share(ctx, vars["id"], UserIDFromContext(ctx), vars["user"], req.Role); err != nil {
		s.writeError(w, r, err)

		return
	}

	s.logger.Info("permission granted",
		zap.String("doc_id", vars["id"]),
		zap.String("user_id", vars["user"]),
		zap.Stringer("role", req.Role),
	)

	w.WriteHeader(http.StatusNoContent)
}

// handleRevoke handles DELETE /documents/{id}/permissions/{user}.
func (s *Server) handleRevoke(w http.ResponseWriter, r *http.Request) {
	if s.aclDisabled(w) {
		return
	}

	ctx := r.Context()
	vars := mux.Vars(r)

	if err := s.checker.Unshare(ctx, vars["id"], UserIDFromContext(ctx), vars["user"]); err != nil {
		s.writeError(w, r, err)

		return
	}

	w.WriteHeader(http.StatusNoContent)
}
