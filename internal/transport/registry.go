// ABOUTME: Connection registry keyed by conversation id, last writer wins
// ABOUTME: Owns connect, disconnect, and send for conversation websockets

package transport

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/coder/websocket"

	"github.com/2389/parley-gateway/internal/metrics"
)

// ErrNoActiveConnection indicates no client is connected to the conversation.
var ErrNoActiveConnection = errors.New("no active connection")

// Registry tracks the live connection for each conversation.
type Registry struct {
	conns        map[string]Conn
	mu           sync.RWMutex
	writeTimeout time.Duration
	logger       *slog.Logger
}

// NewRegistry creates an empty Registry. A zero writeTimeout disables the
// per-write deadline.
func NewRegistry(writeTimeout time.Duration, logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		conns:        make(map[string]Conn),
		writeTimeout: writeTimeout,
		logger:       logger.With("component", "connections"),
	}
}

// Connect registers conn as the live handle for conversationID. A previously
// registered handle is superseded and closed.
func (r *Registry) Connect(conversationID string, conn Conn) {
	r.mu.Lock()
	prev, replaced := r.conns[conversationID]
	r.conns[conversationID] = conn
	total := len(r.conns)
	r.mu.Unlock()

	metrics.ConnectionsActive.Set(float64(total))
	r.logger.Info("client connected",
		"conversation_id", conversationID,
		"replaced", replaced,
		"total_connections", total,
	)

	if replaced && prev != conn {
		if err := prev.Close(websocket.StatusPolicyViolation, "superseded"); err != nil {
			r.logger.Debug("closing superseded connection",
				"conversation_id", conversationID,
				"error", err,
			)
		}
	}
}

// Disconnect removes whatever handle is registered for conversationID.
// It is a no-op if none is registered.
func (r *Registry) Disconnect(conversationID string) {
	r.mu.Lock()
	_, ok := r.conns[conversationID]
	delete(r.conns, conversationID)
	total := len(r.conns)
	r.mu.Unlock()

	if ok {
		metrics.ConnectionsActive.Set(float64(total))
		r.logger.Info("client disconnected",
			"conversation_id", conversationID,
			"total_connections", total,
		)
	}
}

// Evict removes the registered handle and closes it with a normal closure.
// Reports whether a handle was registered.
func (r *Registry) Evict(conversationID, reason string) bool {
	r.mu.Lock()
	conn, ok := r.conns[conversationID]
	delete(r.conns, conversationID)
	total := len(r.conns)
	r.mu.Unlock()

	if !ok {
		return false
	}

	metrics.ConnectionsActive.Set(float64(total))
	if err := conn.Close(websocket.StatusNormalClosure, reason); err != nil {
		r.logger.Debug("closing evicted connection", "conversation_id", conversationID, "error", err)
	}
	r.logger.Info("client evicted", "conversation_id", conversationID, "reason", reason)
	return true
}

// Release removes conn only if it is still the registered handle, so a
// superseded connection shutting down cannot evict its replacement.
// Reports whether the handle was removed.
func (r *Registry) Release(conversationID string, conn Conn) bool {
	r.mu.Lock()
	current, ok := r.conns[conversationID]
	if !ok || current != conn {
		r.mu.Unlock()
		return false
	}
	delete(r.conns, conversationID)
	total := len(r.conns)
	r.mu.Unlock()

	metrics.ConnectionsActive.Set(float64(total))
	r.logger.Info("client disconnected",
		"conversation_id", conversationID,
		"total_connections", total,
	)
	return true
}

// Has reports whether a client is connected to conversationID.
func (r *Registry) Has(conversationID string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	_, ok := r.conns[conversationID]
	return ok
}

// Count returns the number of registered connections.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return len(r.conns)
}

// Send writes payload to the conversation's client. No retries: a missing
// connection yields ErrNoActiveConnection and write failures are returned.
func (r *Registry) Send(ctx context.Context, conversationID string, payload any) error {
	r.mu.RLock()
	conn, ok := r.conns[conversationID]
	r.mu.RUnlock()

	if !ok {
		return fmt.Errorf("%w for conversation %s", ErrNoActiveConnection, conversationID)
	}

	if r.writeTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.writeTimeout)
		defer cancel()
	}

	if err := conn.WriteJSON(ctx, payload); err != nil {
		return fmt.Errorf("writing to conversation %s: %w", conversationID, err)
	}

	metrics.Messages.WithLabelValues("outbound").Inc()
	return nil
}

// Close closes and forgets every registered connection.
func (r *Registry) Close() {
	r.mu.Lock()
	conns := r.conns
	r.conns = make(map[string]Conn)
	r.mu.Unlock()

	metrics.ConnectionsActive.Set(0)
	for id, conn := range conns {
		if err := conn.Close(websocket.StatusGoingAway, "server shutting down"); err != nil {
			r.logger.Debug("closing connection", "conversation_id", id, "error", err)
		}
	}
}
