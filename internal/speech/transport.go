package speech

import (
	"context"
	"fmt"

	"github.com/coder/websocket"
)

// Conn is the duplex socket a [Session] exclusively owns for its lifetime.
// Implementations must allow Close to be called concurrently with Read.
type Conn interface {
	// Read blocks until the next complete message arrives.
	Read(ctx context.Context) ([]byte, error)

	// Write sends one complete message.
	Write(ctx context.Context, data []byte) error

	// Close tears the socket down. Pending Reads return an error.
	Close() error
}

// Dialer opens a [Conn] to the synthesis service.
type Dialer interface {
	Dial(ctx context.Context, url string) (Conn, error)
}

// WebSocketDialer dials real WebSocket connections.
type WebSocketDialer struct{}

// Dial opens a WebSocket to url.
func (WebSocketDialer) Dial(ctx context.Context, url string) (Conn, error) {
	ws, _, err := websocket.Dial(ctx, url, nil)
	if err != nil {
		return nil, fmt.Errorf("speech: dial %q: %w", url, err)
	}
	return &wsConn{ws: ws}, nil
}

type wsConn struct {
	ws *websocket.Conn
}

func (c *wsConn) Read(ctx context.Context) ([]byte, error) {
	_, data, err := c.ws.Read(ctx)
	return data, err
}

func (c *wsConn) Write(ctx context.Context, data []byte) error {
	return c.ws.Write(ctx, websocket.MessageText, data)
}

func (c *wsConn) Close() error {
	return c.ws.Close(websocket.StatusNormalClosure, "session closed")
}
