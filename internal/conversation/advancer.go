// ABOUTME: Collaborator interfaces a session drives: agent logic and the human correlator
// ABOUTME: Any conforming Advancer composes with the session state machine

package conversation

import (
	"context"
	"time"

	"github.com/2389/parley-gateway/internal/protocol"
)

// Turn is what agent logic sees when asked for the next message.
type Turn struct {
	ConversationID string
	// Message is the unprocessed message; it is also the last History entry.
	Message        Message
	Recipient      *Agent
	Participants   []Participant
	History        []Message
	ToolUseEnabled bool
}

// Advancer produces the next message of a conversation from an
// agent-addressed turn. A nil message ends the conversation.
type Advancer interface {
	Advance(ctx context.Context, turn Turn) (*Message, error)
}

// AdvancerFunc adapts a function to the Advancer interface.
type AdvancerFunc func(ctx context.Context, turn Turn) (*Message, error)

// Advance implements Advancer.
func (f AdvancerFunc) Advance(ctx context.Context, turn Turn) (*Message, error) {
	return f(ctx, turn)
}

// Asker sends a request to the conversation's human and waits for the
// correlated answer. check, when set, refuses an answer by returning the
// reply to send back; the request then keeps waiting under the same id.
type Asker interface {
	SendAndAwait(ctx context.Context, conversationID string, req protocol.Request, timeout time.Duration, check func(*protocol.Inbound) protocol.Request) (*protocol.Inbound, error)
}
