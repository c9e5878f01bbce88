// ABOUTME: HTTP API handlers for creating, listing, inspecting, and removing conversations
// ABOUTME: Also serves health endpoints, transcript rendering, and the SSE event stream

package gateway

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"html"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/yuin/goldmark"

	"github.com/2389/parley-gateway/internal/conversation"
)

// LLMAgentType is the only supported agent_type.
const LLMAgentType = "LLMAgent"

// maxCreateBody bounds the POST /c2/create request body.
const maxCreateBody = 1 << 20

// sseKeepAlive is how often an idle event stream receives a comment line.
const sseKeepAlive = 30 * time.Second

// CreateConversationRequest is the JSON request body for POST /c2/create.
type CreateConversationRequest struct {
	Conversation ConversationSettings `json:"conversation"`
	Agents       []AgentSettings      `json:"agents"`
}

// ConversationSettings declares the conversation itself.
type ConversationSettings struct {
	Name                   string `json:"name"`
	ConversationID         string `json:"conversation_id,omitempty"`
	AgentToolUseEnabled    *bool  `json:"agent_tool_use_enabled,omitempty"`
	HumanInterventionCount *int   `json:"human_intervention_count,omitempty"`
}

// AgentSettings declares one agent.
type AgentSettings struct {
	Name      string   `json:"name"`
	Prompt    string   `json:"prompt"`
	Tools     []string `json:"tools,omitempty"`
	AgentType string   `json:"agent_type,omitempty"`
}

// CreateConversationResponse is the JSON response for POST /c2/create.
type CreateConversationResponse struct {
	ConversationID string `json:"conversation_id"`
}

// MessagesResponse is the JSON response for GET /c2/{id}/messages.
type MessagesResponse struct {
	ConversationID string                 `json:"conversation_id"`
	Live           bool                   `json:"live"`
	Messages       []conversation.Message `json:"messages"`
}

// toSpec converts the request into a conversation spec, applying defaults.
func (req *CreateConversationRequest) toSpec(defaultInterventions int) (conversation.Spec, error) {
	spec := conversation.Spec{
		ID:                 req.Conversation.ConversationID,
		Name:               req.Conversation.Name,
		ToolUseEnabled:     true,
		HumanInterventions: defaultInterventions,
	}
	if req.Conversation.AgentToolUseEnabled != nil {
		spec.ToolUseEnabled = *req.Conversation.AgentToolUseEnabled
	}
	if req.Conversation.HumanInterventionCount != nil {
		spec.HumanInterventions = *req.Conversation.HumanInterventionCount
	}

	for _, a := range req.Agents {
		if a.AgentType != "" && a.AgentType != LLMAgentType {
			return spec, fmt.Errorf("agent %q: unsupported agent_type %q", a.Name, a.AgentType)
		}
		spec.Agents = append(spec.Agents, conversation.AgentSpec{
			Name:   a.Name,
			Prompt: a.Prompt,
			Tools:  a.Tools,
		})
	}
	return spec, nil
}

// handleCreateConversation creates a conversation from a team declaration.
func (g *Gateway) handleCreateConversation(w http.ResponseWriter, r *http.Request) {
	var req CreateConversationRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxCreateBody)).Decode(&req); err != nil {
		g.sendJSONError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	spec, err := req.toSpec(g.config.HumanInterventions())
	if err != nil {
		g.sendJSONError(w, http.StatusBadRequest, err.Error())
		return
	}

	id, err := g.conversations.Create(r.Context(), spec)
	switch {
	case errors.Is(err, conversation.ErrConversationExists):
		g.sendJSONError(w, http.StatusConflict, err.Error())
		return
	case errors.Is(err, conversation.ErrInvalidSpec):
		g.sendJSONError(w, http.StatusBadRequest, err.Error())
		return
	case err != nil:
		g.logger.Error("failed to create conversation", "error", err)
		g.sendJSONError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	g.writeJSON(w, http.StatusCreated, CreateConversationResponse{ConversationID: id})
}

// handleListConversations lists live conversations, oldest first.
func (g *Gateway) handleListConversations(w http.ResponseWriter, _ *http.Request) {
	sessions := g.conversations.List()
	infos := make([]conversation.Info, 0, len(sessions))
	for _, s := range sessions {
		infos = append(infos, s.Info())
	}
	g.writeJSON(w, http.StatusOK, map[string]any{"conversations": infos})
}

// handleDeleteConversation stops a conversation, cancels its pending
// question, and closes its client connection.
func (g *Gateway) handleDeleteConversation(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	if err := g.conversations.Remove(id); err != nil {
		if errors.Is(err, conversation.ErrUnknownConversation) {
			g.sendJSONError(w, http.StatusNotFound, "conversation not found")
			return
		}
		g.logger.Error("failed to remove conversation", "conversation_id", id, "error", err)
		g.sendJSONError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	g.pending.CancelConversation(id)
	g.connections.Evict(id, "conversation removed")
	g.events.CloseConversation(id)

	w.WriteHeader(http.StatusNoContent)
}

// loadMessages returns the live history, or the stored transcript for a
// conversation that is no longer live.
func (g *Gateway) loadMessages(r *http.Request, id string) (msgs []conversation.Message, live bool, err error) {
	if s, ok := g.conversations.Lookup(id); ok {
		return s.History(), true, nil
	}

	records, err := g.store.LoadMessages(r.Context(), id)
	if err != nil {
		return nil, false, err
	}
	msgs = make([]conversation.Message, 0, len(records))
	for _, rec := range records {
		msgs = append(msgs, conversation.Message{
			ID:        rec.ID,
			Sender:    rec.Sender,
			Recipient: rec.Recipient,
			Content:   rec.Content,
			CreatedAt: rec.CreatedAt,
		})
	}
	return msgs, false, nil
}

// handleConversationMessages returns a conversation's history as JSON.
func (g *Gateway) handleConversationMessages(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	msgs, live, err := g.loadMessages(r, id)
	if err != nil {
		g.logger.Warn("failed to load messages", "conversation_id", id, "error", err)
		g.sendJSONError(w, http.StatusNotFound, "conversation not found")
		return
	}
	if !live && len(msgs) == 0 {
		g.sendJSONError(w, http.StatusNotFound, "conversation not found")
		return
	}

	g.writeJSON(w, http.StatusOK, MessagesResponse{
		ConversationID: id,
		Live:           live,
		Messages:       msgs,
	})
}

// handleConversationTranscript renders a conversation's history as HTML.
func (g *Gateway) handleConversationTranscript(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	msgs, live, err := g.loadMessages(r, id)
	if err != nil || (!live && len(msgs) == 0) {
		http.Error(w, "conversation not found", http.StatusNotFound)
		return
	}

	title := id
	if s, ok := g.conversations.Lookup(id); ok && s.Name() != "" {
		title = s.Name()
	}

	var htmlBuf bytes.Buffer
	if err := goldmark.Convert([]byte(transcriptMarkdown(msgs)), &htmlBuf); err != nil {
		g.logger.Error("failed to convert markdown", "conversation_id", id, "error", err)
		htmlBuf.Reset()
		htmlBuf.WriteString("<p>Failed to render transcript.</p>")
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	fmt.Fprintf(w, "<!DOCTYPE html>\n<html><head><meta charset=\"utf-8\"><title>%s</title></head>\n<body>\n<h1>%s</h1>\n%s</body></html>\n",
		html.EscapeString(title), html.EscapeString(title), htmlBuf.String())
}

// transcriptMarkdown lays out messages as markdown, one section per message.
func transcriptMarkdown(msgs []conversation.Message) string {
	if len(msgs) == 0 {
		return "_No messages yet._\n"
	}

	var b strings.Builder
	for i, m := range msgs {
		if i > 0 {
			b.WriteString("\n---\n\n")
		}
		fmt.Fprintf(&b, "**%s** to **%s** _%s_\n\n", m.Sender, m.Recipient, m.CreatedAt.UTC().Format(time.RFC3339))
		b.WriteString(m.Content)
		b.WriteString("\n")
	}
	return b.String()
}

// handleConversationEvents streams conversation events as SSE until the
// client goes away or the conversation is removed.
func (g *Gateway) handleConversationEvents(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	session, ok := g.conversations.Lookup(id)
	if !ok {
		g.sendJSONError(w, http.StatusNotFound, "conversation not found")
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		g.logger.Error("streaming not supported")
		g.sendJSONError(w, http.StatusInternalServerError, "streaming not supported")
		return
	}

	events, subID := g.events.Subscribe(r.Context(), id)
	defer g.events.Unsubscribe(id, subID)

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")

	// Snapshot first so the client knows where the stream starts
	g.writeSSEEvent(w, "snapshot", session.Info())
	flusher.Flush()

	ticker := time.NewTicker(sseKeepAlive)
	defer ticker.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case <-ticker.C:
			fmt.Fprint(w, ": keepalive\n\n")
			flusher.Flush()
		case ev, ok := <-events:
			if !ok {
				g.writeSSEEvent(w, "closed", map[string]string{"conversation_id": id})
				flusher.Flush()
				return
			}
			g.writeSSEEvent(w, string(ev.Type), ev)
			flusher.Flush()
		}
	}
}

// handleHealth returns 200 OK if the server is alive.
func (g *Gateway) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}

// handleReady reports live counts; the gateway is ready once constructed.
func (g *Gateway) handleReady(w http.ResponseWriter, _ *http.Request) {
	g.writeJSON(w, http.StatusOK, map[string]any{
		"status":        "ready",
		"conversations": g.conversations.Len(),
		"connections":   g.connections.Count(),
		"pending":       g.pending.Len(),
	})
}

// writeSSEEvent writes a single SSE event to the response writer.
func (g *Gateway) writeSSEEvent(w http.ResponseWriter, event string, data any) {
	dataJSON, err := json.Marshal(data)
	if err != nil {
		g.logger.Error("failed to marshal SSE data", "error", err)
		return
	}

	fmt.Fprintf(w, "event: %s\n", event)
	fmt.Fprintf(w, "data: %s\n\n", dataJSON)
}

// writeJSON writes v as a JSON response with the given status.
func (g *Gateway) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		g.logger.Debug("failed to write response", "error", err)
	}
}

// sendJSONError writes a JSON error response.
func (g *Gateway) sendJSONError(w http.ResponseWriter, status int, message string) {
	g.writeJSON(w, status, map[string]string{"error": message})
}
