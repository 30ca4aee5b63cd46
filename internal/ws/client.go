package ws

import (
	"log/slog"

	"github.com/gorilla/websocket"
)

// Client wraps a websocket connection as a registry Subscriber. The registry
// dispatch loop is the only writer, which keeps gorilla's single-writer rule
// intact without a mutex here.
type Client struct {
	id   string
	conn *websocket.Conn
	log  *slog.Logger
}

// NewClient constructs a client wrapper. The id only appears in logs.
func NewClient(id string, conn *websocket.Conn, logger *slog.Logger) *Client {
	return &Client{id: id, conn: conn, log: logger}
}

// ID returns the session identifier assigned at upgrade time.
func (c *Client) ID() string {
	return c.id
}

// Send writes a message to the websocket connection.
func (c *Client) Send(payload []byte) error {
	if err := c.conn.WriteMessage(websocket.TextMessage, payload); err != nil {
		c.log.Warn("websocket send failed", "session_id", c.id, "error", err)
		_ = c.conn.Close()
		return err
	}
	return nil
}

// Close terminates the connection.
func (c *Client) Close() {
	_ = c.conn.Close()
}
