package api

import (
	"context"
	"errors"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"
	"github.com/serroba/online-notes/internal/acl"
	"github.com/serroba/online-notes/internal/collab"
	"github.com/serroba/online-notes/internal/ot"
	"github.com/serroba/online-notes/internal/storage"
	"go.uber.org/zap"
)

// CreateDocumentResponse is the response body for creating a document.
type CreateDocumentResponse struct {
	DocID string `json:"docId"`
}

// OperationsResponse lists committed operations in position order.
type OperationsResponse struct {
	Operations []ot.SequencedOperation `json:"operations"`
}

// SubmitRequest is the body of a submission. ClientID defaults to the
// caller's user id.
type SubmitRequest struct {
	ClientID   string   `json:"clientId"`
	Version    int      `json:"version"`
	Operations []string `json:"operations"`
}

// SubmitResponse reports whether the batch was committed.
type SubmitResponse struct {
	Status collab.Outcome `json:"status"`
}

// VerifyResponse describes a document whose snapshot differs from its log.
type VerifyResponse struct {
	Error    string `json:"error"`
	Version  int    `json:"version"`
	Snapshot string `json:"snapshot"`
	Replayed string `json:"replayed"`
	Skipped  []int  `json:"skipped,omitempty"`
}

// authorize is a no-op unless access control is enabled.
func (s *Server) authorize(ctx context.Context, docID string, action acl.Action) error {
	if s.checker == nil {
		return nil
	}

	return s.checker.Require(ctx, docID, UserIDFromContext(ctx), action)
}

// handleCreateDocument handles POST /documents.
func (s *Server) handleCreateDocument(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	docID, err := s.service.CreateEmptyDocument(ctx)
	if err != nil {
		s.writeError(w, r, err)

		return
	}

	if s.checker != nil {
		if err := s.checker.Store().Grant(ctx, docID, UserIDFromContext(ctx), acl.Owner); err != nil {
			s.writeError(w, r, err)

			return
		}
	}

	s.logger.Info("document created", zap.String("doc_id", docID), zap.String("user_id", UserIDFromContext(ctx)))

	writeJSON(w, s.logger, http.StatusCreated, CreateDocumentResponse{DocID: docID})
}

// handleGetDocument handles GET /documents/{id}.
func (s *Server) handleGetDocument(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	docID := mux.Vars(r)["id"]

	if err := s.authorize(ctx, docID, acl.ActionRead); err != nil {
		s.writeError(w, r, err)

		return
	}

	state, err := s.service.GetDocumentAndVersion(ctx, docID)
	if err != nil {
		s.writeError(w, r, err)

		return
	}

	writeJSON(w, s.logger, http.StatusOK, state)
}

// handleListOperations handles GET /documents/{id}/operations?since=N.
func (s *Server) handleListOperations(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	docID := mux.Vars(r)["id"]

	since := 0

	if raw := r.URL.Query().Get("since"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			s.writeError(w, r, badRequest("since must be a non-negative integer"))

			return
		}

		since = n
	}

	if err := s.authorize(ctx, docID, acl.ActionRead); err != nil {
		s.writeError(w, r, err)

		return
	}

	ops, err := s.service.OperationsSince(ctx, docID, since)
	if err != nil {
		s.writeError(w, r, err)

		return
	}

	if ops == nil {
		ops = []ot.SequencedOperation{}
	}

	writeJSON(w, s.logger, http.StatusOK, OperationsResponse{Operations: ops})
}

// handleSubmitOperations handles POST /documents/{id}/operations.
func (s *Server) handleSubmitOperations(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	docID := mux.Vars(r)["id"]

	var req SubmitRequest
	if err := decodeJSON(r, &req); err != nil {
		s.writeError(w, r, err)

		return
	}

	if req.Version < 0 {
		s.writeError(w, r, badRequest("version must be non-negative"))

		return
	}

	if err := s.authorize(ctx, docID, acl.ActionWrite); err != nil {
		s.writeError(w, r, err)

		return
	}

	if req.ClientID == "" {
		req.ClientID = UserIDFromContext(ctx)
	}

	outcome, err := s.service.SubmitOperations(ctx, docID, req.ClientID, req.Version, req.Operations)
	if err != nil {
		s.writeError(w, r, err)

		return
	}

	writeJSON(w, s.logger, http.StatusOK, SubmitResponse{Status: outcome})
}

// handleVerify handles GET /documents/{id}/verify.
func (s *Server) handleVerify(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	docID := mux.Vars(r)["id"]

	if err := s.authorize(ctx, docID, acl.ActionRead); err != nil {
		s.writeError(w, r, err)

		return
	}

	result, err := s.service.Verify(ctx, docID)

	switch {
	case err == nil:
		w.WriteHeader(http.StatusNoContent)
	case errors.Is(err, storage.ErrDiverged):
		writeJSON(w, s.logger, http.StatusConflict, VerifyResponse{
			Error:    err.Error(),
			Version:  result.Persisted.Version,
			Snapshot: result.Persisted.Snapshot,
			Replayed: result.Replayed,
			Skipped:  result.Skipped,
		})
	default:
		s.writeError(w, r, err)
	}
}
