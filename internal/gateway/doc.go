// Package gateway orchestrates the parley-gateway server components.
//
// # Overview
//
// The Gateway owns the conversation core and exposes it over HTTP,
// websocket, and (optionally) gRPC:
//
//	store -> conversation.Registry <- dispatch.Dispatcher <- websocket frames
//	                 |                        |
//	         correlate.Table  ------>  transport.Registry -> websocket writes
//
// Every conversation has at most one live client connection. Inbound frames
// go through the Dispatcher: the first frame kicks off the conversation,
// later frames answer the question the conversation is waiting on.
//
// # HTTP API
//
//   - POST   /c2/create              - Create a conversation from a team declaration
//   - GET    /c2                     - List live conversations
//   - GET    /c2/{id}                - Websocket for the conversation's human client
//   - DELETE /c2/{id}                - Remove a conversation
//   - GET    /c2/{id}/messages       - History as JSON
//   - GET    /c2/{id}/transcript     - History rendered as HTML
//   - GET    /c2/{id}/events         - Live events as SSE
//   - GET    /health, /health/ready  - Liveness and readiness
//   - GET    /metrics                - Prometheus metrics (when enabled)
//
// # Websocket Close Codes
//
//   - 1008 policy violation: the connection was superseded by a newer one
//   - 1000 normal closure: the conversation was removed
//   - 4422: a frame violated the protocol (empty message, malformed
//     payload, unknown kickoff recipient)
//
// # Listeners
//
// With tailscale.enabled the gateway joins the tailnet through tsnet and
// listens on :80 for HTTP there, plus :50051 for gRPC health when
// server.grpc_addr is set.
package gateway
