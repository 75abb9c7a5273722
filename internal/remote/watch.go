package remote

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/gorilla/websocket"
	"github.com/serroba/online-notes/internal/notify"
	"github.com/serroba/online-notes/internal/ws"
	"go.uber.org/zap"
)

// Watch opens the document's WebSocket and delivers every version message
// to the returned subscription. The subscription ends with ctx, on Cancel,
// or when the connection drops.
func (c *Client) Watch(ctx context.Context, docID string) (*notify.Subscription, error) {
	u := c.base.JoinPath(docPath(docID), "ws")

	switch u.Scheme {
	case "https":
		u.Scheme = "wss"
	default:
		u.Scheme = "ws"
	}

	header := http.Header{}
	c.authorize(header)

	conn, resp, err := websocket.DefaultDialer.DialContext(ctx, u.String(), header)
	if err != nil {
		if resp != nil {
			defer func() { _ = resp.Body.Close() }()

			if resp.StatusCode >= http.StatusBadRequest {
				return nil, responseError(resp)
			}
		}

		return nil, fmt.Errorf("dial %s: %w", u.Redacted(), err)
	}

	client := ws.NewClient("", "", docID, conn)

	sub := notify.NewSubscription(ctx, docID, notify.DefaultBuffer, func(*notify.Subscription) {
		_ = client.Close()
	})

	go c.relay(sub, client)

	return sub, nil
}

// relay reads server messages until the connection closes.
func (c *Client) relay(sub *notify.Subscription, client *ws.Client) {
	defer sub.Cancel()

	logger := c.logger.With(zap.String("doc_id", client.DocID))

	for {
		msg, err := client.Receive()
		if errors.Is(err, ws.ErrInvalidMessage) {
			logger.Warn("dropping malformed message", zap.Error(err))

			continue
		}

		if err != nil {
			select {
			case <-sub.Done():
			default:
				logger.Debug("watch connection closed", zap.Error(err))
			}

			return
		}

		switch msg := msg.(type) {
		case ws.Version:
			sub.Deliver(notify.Update{DocID: msg.DocID, Version: msg.Version})
		case ws.Error:
			logger.Warn("server reported an error", zap.String("code", msg.Code), zap.String("message", msg.Message))
		}
	}
}
