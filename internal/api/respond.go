package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/serroba/online-notes/internal/acl"
	"github.com/serroba/online-notes/internal/auth"
	"github.com/serroba/online-notes/internal/storage"
	"go.uber.org/zap"
)

var errBadRequest = errors.New("bad request")

// ErrorResponse is the body of every error reply.
type ErrorResponse struct {
	Error string `json:"error"`
}

func badRequest(msg string) error {
	return errors.Join(errBadRequest, errors.New(msg))
}

// statusOf maps an error to its HTTP status.
func statusOf(err error) int {
	switch {
	case errors.Is(err, errBadRequest):
		return http.StatusBadRequest
	case errors.Is(err, auth.ErrUnauthenticated):
		return http.StatusUnauthorized
	case errors.Is(err, acl.ErrForbidden):
		return http.StatusForbidden
	case errors.Is(err, storage.ErrDocumentNotFound), errors.Is(err, acl.ErrPermissionNotFound):
		return http.StatusNotFound
	case errors.Is(err, storage.ErrDiverged), errors.Is(err, acl.ErrLastOwner):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := statusOf(err)
	msg := http.StatusText(status)

	if status == http.StatusInternalServerError {
		s.logger.Error("request failed", zap.String("path", r.URL.Path), zap.Error(err))
	} else {
		msg = err.Error()
	}

	writeJSON(w, s.logger, status, ErrorResponse{Error: msg})
}

func writeJSON(w http.ResponseWriter, logger *zap.Logger, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	if err := json.NewEncoder(w).Encode(body); err != nil {
		logger.Warn("failed to encode response", zap.Error(err))
	}
}

func decodeJSON(r *http.Request, v any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()

	if err := dec.Decode(v); err != nil {
		return badRequest("invalid request body: " + err.Error())
	}

	return nil
}
