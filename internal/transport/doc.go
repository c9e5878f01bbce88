// Package transport tracks the one live client connection per conversation.
//
// # Registry
//
// The Registry maps a conversation identifier to its Conn:
//
//	reg := transport.NewRegistry(10*time.Second, logger)
//	reg.Connect(conversationID, transport.NewWebSocketConn(ws))
//	defer reg.Release(conversationID, conn)
//
// Key operations:
//
//   - Connect(id, conn): register conn, replacing (and closing) any previous handle
//   - Disconnect(id): drop whatever handle is registered
//   - Release(id, conn): drop the handle only if conn is still the registered one
//   - Send(ctx, id, payload): write a JSON payload, ErrNoActiveConnection if none
//
// Disconnecting never touches the conversation itself; a client may reconnect
// and keep answering the same pending question.
//
// # Thread Safety
//
// The Registry guards its map with a single RWMutex. Writes to a Conn happen
// outside the lock; websocket connections accept concurrent writers.
package transport
