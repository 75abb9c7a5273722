package ws_test

import (
	"errors"
	"sync"
	"testing"

	"github.com/gorilla/websocket"
	"github.com/serroba/online-notes/internal/ws"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// mockConn records writes and replays queued reads.
type mockConn struct {
	mu      sync.Mutex
	written [][]byte
	reads   [][]byte
	closed  bool
}

func newMockConn(reads ...string) *mockConn {
	c := &mockConn{}
	for _, r := range reads {
		c.reads = append(c.reads, []byte(r))
	}

	return c
}

func (c *mockConn) WriteMessage(messageType int, data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if messageType != websocket.TextMessage {
		return errors.New("unexpected frame type")
	}

	c.written = append(c.written, data)

	return nil
}

func (c *mockConn) ReadMessage() (int, []byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if len(c.reads) == 0 {
		return 0, nil, errors.New("connection closed")
	}

	next := c.reads[0]
	c.reads = c.reads[1:]

	return websocket.TextMessage, next, nil
}

func (c *mockConn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.closed = true

	return nil
}

func (c *mockConn) Messages(t *testing.T) []ws.Message {
	t.Helper()

	c.mu.Lock()
	defer c.mu.Unlock()

	out := make([]ws.Message, 0, len(c.written))

	for _, data := range c.written {
		msg, err := ws.Unmarshal(data)
		require.NoError(t, err)

		out = append(out, msg)
	}

	return out
}

func TestClient_Send(t *testing.T) {
	t.Parallel()

	conn := newMockConn()
	client := ws.NewClient("c1", "user1", "doc1", conn)

	require.NoError(t, client.Send(ws.Accepted{Version: 5}))

	messages := conn.Messages(t)
	require.Len(t, messages, 1)
	assert.Equal(t, ws.Accepted{Version: 5}, messages[0])
}

func TestClient_SendError(t *testing.T) {
	t.Parallel()

	conn := newMockConn()
	client := ws.NewClient("c1", "user1", "doc1", conn)

	require.NoError(t, client.SendError(ws.ErrorCodeAccessDenied, "not allowed"))

	messages := conn.Messages(t)
	require.Len(t, messages, 1)
	assert.Equal(t, ws.Error{Code: ws.ErrorCodeAccessDenied, Message: "not allowed"}, messages[0])
}

func TestClient_ConcurrentSends(t *testing.T) {
	t.Parallel()

	conn := newMockConn()
	client := ws.NewClient("c1", "user1", "doc1", conn)

	var wg sync.WaitGroup

	for i := range 20 {
		wg.Add(1)

		go func() {
			defer wg.Done()

			assert.NoError(t, client.Send(ws.Version{DocID: "doc1", Version: i}))
		}()
	}

	wg.Wait()

	assert.Len(t, conn.Messages(t), 20)
}

func TestClient_Receive(t *testing.T) {
	t.Parallel()

	conn := newMockConn(
		`{"type":"submit","payload":{"clientId":"c1","version":2,"operations":["a","b"]}}`,
		`{"type":"fetch","payload":{"since":7}}`,
		`{"type":"bogus"}`,
	)
	client := ws.NewClient("c1", "user1", "doc1", conn)

	msg, err := client.Receive()
	require.NoError(t, err)
	assert.Equal(t, ws.Submit{ClientID: "c1", Version: 2, Operations: []string{"a", "b"}}, msg)

	msg, err = client.Receive()
	require.NoError(t, err)
	assert.Equal(t, ws.Fetch{Since: 7}, msg)

	_, err = client.Receive()
	require.ErrorIs(t, err, ws.ErrInvalidMessage)

	_, err = client.Receive()
	require.Error(t, err)
	assert.NotErrorIs(t, err, ws.ErrInvalidMessage)
}

func TestClient_Close(t *testing.T) {
	t.Parallel()

	conn := newMockConn()
	client := ws.NewClient("c1", "user1", "doc1", conn)

	require.NoError(t, client.Close())
	assert.True(t, conn.closed)
	assert.Equal(t, "doc1", client.DocID)
}
