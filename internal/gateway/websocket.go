// ABOUTME: Websocket endpoint binding one client connection to one conversation
// ABOUTME: Registers the connection, feeds inbound frames to the dispatcher, closes on protocol errors

package gateway

import (
	"errors"
	"net/http"
	"net/url"

	"github.com/coder/websocket"
	"github.com/go-chi/chi/v5"

	"github.com/2389/parley-gateway/internal/metrics"
	"github.com/2389/parley-gateway/internal/protocol"
	"github.com/2389/parley-gateway/internal/transport"
)

// maxFrameSize bounds a single inbound websocket frame.
const maxFrameSize = 64 << 10

// maxCloseReason is the longest close reason a websocket control frame can carry.
const maxCloseReason = 123

// handleConversationSocket upgrades the request and serves the client of
// one conversation until either side closes.
func (g *Gateway) handleConversationSocket(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	logger := g.logger.With("conversation_id", id)

	if !g.conversations.Exists(id) {
		g.sendJSONError(w, http.StatusNotFound, "conversation not found")
		return
	}

	ws, err := websocket.Accept(w, r, g.acceptOptions())
	if err != nil {
		logger.Warn("websocket upgrade failed", "error", err)
		return
	}
	ws.SetReadLimit(maxFrameSize)

	conn := transport.NewWebSocketConn(ws)
	g.connections.Connect(id, conn)
	defer g.connections.Release(id, conn)

	ctx := r.Context()
	for {
		_, data, err := ws.Read(ctx)
		if err != nil {
			if status := websocket.CloseStatus(err); status != -1 {
				logger.Debug("client closed connection", "status", status)
			} else if ctx.Err() == nil {
				logger.Debug("websocket read failed", "error", err)
			}
			return
		}
		metrics.Messages.WithLabelValues("inbound").Inc()

		err = g.dispatcher.HandleFrame(ctx, data)
		if err == nil {
			continue
		}

		var perr *protocol.Error
		if errors.As(err, &perr) {
			logger.Warn("closing connection on protocol error", "error", err)
			_ = ws.Close(websocket.StatusCode(perr.Code), closeReason(perr.Reason))
			return
		}
		logger.Warn("frame rejected", "error", err)
	}
}

// acceptOptions derives websocket origin checks from the CORS allow list.
func (g *Gateway) acceptOptions() *websocket.AcceptOptions {
	opts := &websocket.AcceptOptions{}
	for _, origin := range g.config.Server.AllowedOrigins {
		if origin == "*" {
			opts.InsecureSkipVerify = true
			return opts
		}
		if u, err := url.Parse(origin); err == nil && u.Host != "" {
			opts.OriginPatterns = append(opts.OriginPatterns, u.Host)
		}
	}
	return opts
}

func closeReason(reason string) string {
	if len(reason) <= maxCloseReason {
		return reason
	}
	return reason[:maxCloseReason]
}
