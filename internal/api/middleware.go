package api

import (
	"errors"
	"net/http"
	"strings"

	"github.com/felixge/httpsnoop"
	"github.com/serroba/online-notes/internal/auth"
	"go.uber.org/zap"
)

const (
	headerUserID        = "X-User-Id"
	headerAuthorization = "Authorization"
	queryAccessToken    = "access_token"
)

// authMiddleware resolves the calling user and adds it to the request
// context. Browsers cannot set headers on WebSocket upgrades, so the token
// may also come in the access_token query parameter.
func (s *Server) authMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		caller, err := s.authenticate(r)
		if err != nil {
			s.writeError(w, r, err)

			return
		}

		s.logger.Debug("authenticated",
			zap.String("user_id", caller.UserID),
			zap.String("method", string(caller.Method)),
		)

		next.ServeHTTP(w, r.WithContext(WithCaller(r.Context(), caller)))
	})
}

func (s *Server) authenticate(r *http.Request) (Caller, error) {
	if s.verifier == nil {
		userID := r.Header.Get(headerUserID)
		if userID == "" {
			return Caller{}, errors.Join(auth.ErrUnauthenticated, errors.New("missing X-User-Id header"))
		}

		return Caller{UserID: userID, Method: AuthHeader}, nil
	}

	token, ok := strings.CutPrefix(r.Header.Get(headerAuthorization), "Bearer ")
	if !ok {
		token = r.URL.Query().Get(queryAccessToken)
	}

	userID, err := s.verifier.Verify(token)
	if err != nil {
		return Caller{}, err
	}

	return Caller{UserID: userID, Method: AuthToken}, nil
}

// logMiddleware logs every routed request with its status and duration.
func (s *Server) logMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		m := httpsnoop.CaptureMetrics(next, w, r)

		s.logger.Info("handled",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", m.Code),
			zap.Duration("duration", m.Duration),
			zap.Int64("bytes", m.Written),
		)
	})
}
