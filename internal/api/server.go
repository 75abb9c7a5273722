// Package api exposes the synchronization service over HTTP and WebSocket.
package api

import (
	"net/http"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/serroba/online-notes/internal/acl"
	"github.com/serroba/online-notes/internal/auth"
	"github.com/serroba/online-notes/internal/collab"
	"go.uber.org/zap"
)

// Server handles HTTP requests for the notes API.
type Server struct {
	service  *collab.Service
	verifier *auth.Verifier
	checker  *acl.Checker
	logger   *zap.Logger
	upgrader websocket.Upgrader
}

// ServerConfig holds configuration for creating a server.
type ServerConfig struct {
	Service *collab.Service

	// Verifier checks bearer tokens. When nil the user id is taken from the
	// X-User-Id header, which is only suitable for local development.
	Verifier *auth.Verifier

	// Permissions enables per-note access control when set.
	Permissions acl.Store

	Logger *zap.Logger
}

// NewServer creates a new API server.
func NewServer(cfg ServerConfig) *Server {
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}

	s := &Server{
		service:  cfg.Service,
		verifier: cfg.Verifier,
		logger:   cfg.Logger,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(_ *http.Request) bool {
				return true // Tokens, not cookies, carry identity
			},
		},
	}

	if cfg.Permissions != nil {
		s.checker = acl.NewChecker(cfg.Permissions)
	}

	return s
}

// Handler returns an http.Handler with all routes configured.
func (s *Server) Handler() http.Handler {
	r := mux.NewRouter()
	r.Use(s.logMiddleware)
	r.MethodNotAllowedHandler = http.HandlerFunc(s.handleMethodNotAllowed)

	// Path before Methods: a later route whose method matches must not clear
	// the method mismatch recorded by an earlier route whose path matched.
	r.Path("/healthz").Methods(http.MethodGet).HandlerFunc(s.handleHealth)

	authed := func(method, path string, h http.HandlerFunc) {
		r.Path(path).Methods(method).Handler(s.authMiddleware(h))
	}

	authed(http.MethodPost, "/documents", s.handleCreateDocument)
	authed(http.MethodGet, "/documents/{id}", s.handleGetDocument)
	authed(http.MethodGet, "/documents/{id}/operations", s.handleListOperations)
	authed(http.MethodPost, "/documents/{id}/operations", s.handleSubmitOperations)
	authed(http.MethodGet, "/documents/{id}/verify", s.handleVerify)
	authed(http.MethodGet, "/documents/{id}/ws", s.handleWebSocket)
	authed(http.MethodGet, "/documents/{id}/permissions", s.handleListPermissions)
	authed(http.MethodPut, "/documents/{id}/permissions/{user}", s.handleGrant)
	authed(http.MethodDelete, "/documents/{id}/permissions/{user}", s.handleRevoke)

	return r
}

func (s *Server) handleMethodNotAllowed(w http.ResponseWriter, _ *http.Request) {
	status := http.StatusMethodNotAllowed
	writeJSON(w, s.logger, status, ErrorResponse{Error: http.StatusText(status)})
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, s.logger, http.StatusOK, map[string]string{"status": "ok"})
}
