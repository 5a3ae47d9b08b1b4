package channel

import (
	"context"
	"fmt"

	"github.com/coder/websocket"
)

// Conn is one established transport connection. The Channel exclusively owns
// it and its read loop for the connection's lifetime.
type Conn interface {
	// Read blocks until the next complete message arrives.
	Read(ctx context.Context) ([]byte, error)

	// Write sends one complete message.
	Write(ctx context.Context, data []byte) error

	// Close tears the connection down. Pending Reads return an error.
	Close() error
}

// Dialer establishes transport connections to the host process.
type Dialer interface {
	Dial(ctx context.Context, url string) (Conn, error)
}

// WebSocketDialer dials real WebSocket connections.
type WebSocketDialer struct{}

// Dial opens a WebSocket to url.
func (WebSocketDialer) Dial(ctx context.Context, url string) (Conn, error) {
	ws, _, err := websocket.Dial(ctx, url, nil)
	if err != nil {
		return nil, fmt.Errorf("channel: dial %q: %w", url, err)
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
	return c.ws.Close(websocket.StatusNormalClosure, "channel closed")
}
