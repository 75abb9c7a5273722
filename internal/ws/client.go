package ws

import (
	"sync"

	"github.com/gorilla/websocket"
)

// Conn abstracts a WebSocket connection for testability. *websocket.Conn
// satisfies it.
type Conn interface {
	WriteMessage(messageType int, data []byte) error
	ReadMessage() (messageType int, p []byte, err error)
	Close() error
}

// Client represents one connected peer watching a document.
type Client struct {
	ID     string
	UserID string
	DocID  string
	conn   Conn

	mu sync.Mutex // Serializes writes
}

// NewClient creates a new client wrapper.
func NewClient(id, userID, docID string, conn Conn) *Client {
	return &Client{
		ID:     id,
		UserID: userID,
		DocID:  docID,
		conn:   conn,
	}
}

// Send sends a message to the peer. It is safe for concurrent use.
func (c *Client) Send(msg Message) error {
	data, err := Marshal(msg)
	if err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	return c.conn.WriteMessage(websocket.TextMessage, data)
}

// SendError sends an error message to the peer.
func (c *Client) SendError(code, message string) error {
	return c.Send(Error{Code: code, Message: message})
}

// Receive reads the next message. Only one goroutine may call it.
func (c *Client) Receive() (Message, error) {
	_, data, err := c.conn.ReadMessage()
	if err != nil {
		return nil, err
	}

	return Unmarshal(data)
}

// Close closes the connection.
func (c *Client) Close() error {
	return c.conn.Close()
}
