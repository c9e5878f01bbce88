// ABOUTME: Conn abstraction over a live client transport handle
// ABOUTME: WebSocketConn adapts a coder/websocket connection with JSON framing

package transport

import (
	"context"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
)

// Conn is a live transport handle for a single conversation.
type Conn interface {
	// WriteJSON sends v as one JSON text frame.
	WriteJSON(ctx context.Context, v any) error
	// Close terminates the handle with a close code and reason.
	Close(code websocket.StatusCode, reason string) error
}

// WebSocketConn is a Conn backed by a websocket.
type WebSocketConn struct {
	ws *websocket.Conn
}

// NewWebSocketConn wraps an accepted websocket.
func NewWebSocketConn(ws *websocket.Conn) *WebSocketConn {
	return &WebSocketConn{ws: ws}
}

// WriteJSON implements Conn.
func (c *WebSocketConn) WriteJSON(ctx context.Context, v any) error {
	return wsjson.Write(ctx, c.ws, v)
}

// Close implements Conn.
func (c *WebSocketConn) Close(code websocket.StatusCode, reason string) error {
	return c.ws.Close(code, reason)
}
