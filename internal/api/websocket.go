package api

import (
	"context"
	"errors"
	"net/http"
	"sync"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/serroba/online-notes/internal/acl"
	"github.com/serroba/online-notes/internal/collab"
	"github.com/serroba/online-notes/internal/notify"
	"github.com/serroba/online-notes/internal/ot"
	"github.com/serroba/online-notes/internal/storage"
	"github.com/serroba/online-notes/internal/ws"
	"go.uber.org/zap"
)

// handleWebSocket handles GET /documents/{id}/ws. The connection carries
// submit and fetch requests from the peer and pushes a version message
// whenever the document advances.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	docID := mux.Vars(r)["id"]
	userID := UserIDFromContext(r.Context())

	if err := s.authorize(r.Context(), docID, acl.ActionRead); err != nil {
		s.writeError(w, r, err)

		return
	}

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	sub, err := s.service.Watch(ctx, docID)
	if err != nil {
		s.writeError(w, r, err)

		return
	}
	defer sub.Cancel()

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("websocket upgrade failed", zap.String("doc_id", docID), zap.Error(err))

		return
	}

	client := ws.NewClient(uuid.NewString(), userID, docID, conn)

	// Closing the connection unblocks the read loop when ctx ends first.
	stop := context.AfterFunc(ctx, func() { _ = client.Close() })
	defer stop()

	logger := s.logger.With(zap.String("doc_id", docID), zap.String("conn_id", client.ID))
	logger.Debug("websocket connected")

	// The current version first, so the peer knows where it stands.
	if state, err := s.service.GetDocumentAndVersion(ctx, docID); err == nil {
		_ = client.Send(ws.Version{DocID: docID, Version: state.Version})
	}

	var wg sync.WaitGroup

	wg.Add(1)

	go func() {
		defer wg.Done()
		defer cancel()

		s.forwardUpdates(ctx, client, sub)
	}()

	s.readMessages(ctx, client, logger)

	cancel()
	wg.Wait()

	logger.Debug("websocket disconnected")
}

// forwardUpdates pushes watch updates until the subscription or ctx ends.
func (s *Server) forwardUpdates(ctx context.Context, client *ws.Client, sub *notify.Subscription) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-sub.Done():
			return
		case u := <-sub.Updates():
			if err := client.Send(ws.Version{DocID: u.DocID, Version: u.Version}); err != nil {
				return
			}
		}
	}
}

// readMessages serves requests until the connection fails.
func (s *Server) readMessages(ctx context.Context, client *ws.Client, logger *zap.Logger) {
	for {
		msg, err := client.Receive()
		if errors.Is(err, ws.ErrInvalidMessage) {
			_ = client.SendError(ws.ErrorCodeInvalidMessage, err.Error())

			continue
		}

		if err != nil {
			return
		}

		var reply ws.Message

		switch msg := msg.(type) {
		case ws.Submit:
			reply = s.wsSubmit(ctx, client, msg)
		case ws.Fetch:
			reply = s.wsFetch(ctx, client, msg)
		default:
			reply = ws.Error{Code: ws.ErrorCodeInvalidMessage, Message: "unexpected message type " + string(msg.Type())}
		}

		if e, ok := reply.(ws.Error); ok && e.Code == ws.ErrorCodeInternalError {
			logger.Error("websocket request failed", zap.String("error", e.Message))
		}

		if err := client.Send(reply); err != nil {
			return
		}
	}
}

func (s *Server) wsSubmit(ctx context.Context, client *ws.Client, msg ws.Submit) ws.Message {
	if msg.Version < 0 {
		return ws.Error{Code: ws.ErrorCodeInvalidMessage, Message: "version must be non-negative"}
	}

	if err := s.authorize(ctx, client.DocID, acl.ActionWrite); err != nil {
		return wsError(err)
	}

	clientID := msg.ClientID
	if clientID == "" {
		clientID = client.UserID
	}

	outcome, err := s.service.SubmitOperations(ctx, client.DocID, clientID, msg.Version, msg.Operations)
	if err != nil {
		return wsError(err)
	}

	if outcome == collab.Accepted {
		return ws.Accepted{Version: msg.Version + len(msg.Operations)}
	}

	return ws.Rejected{Version: msg.Version}
}

func (s *Server) wsFetch(ctx context.Context, client *ws.Client, msg ws.Fetch) ws.Message {
	if msg.Since < 0 {
		return ws.Error{Code: ws.ErrorCodeInvalidMessage, Message: "since must be non-negative"}
	}

	ops, err := s.service.OperationsSince(ctx, client.DocID, msg.Since)
	if err != nil {
		return wsError(err)
	}

	if ops == nil {
		ops = []ot.SequencedOperation{}
	}

	return ws.Operations{Operations: ops}
}

func wsError(err error) ws.Error {
	switch {
	case errors.Is(err, storage.ErrDocumentNotFound):
		return ws.Error{Code: ws.ErrorCodeNotFound, Message: err.Error()}
	case errors.Is(err, acl.ErrForbidden):
		return ws.Error{Code: ws.ErrorCodeAccessDenied, Message: err.Error()}
	default:
		return ws.Error{Code: ws.ErrorCodeInternalError, Message: err.Error()}
	}
}
