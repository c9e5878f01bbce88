// ABOUTME: Conversation message type and its wire and storage forms
// ABOUTME: Messages are immutable once they enter a conversation's history

package conversation

import (
	"time"

	"github.com/google/uuid"

	"github.com/2389/parley-gateway/internal/protocol"
	"github.com/2389/parley-gateway/internal/store"
)

// Message is one turn of a conversation.
type Message struct {
	ID        string    `json:"id"`
	Sender    string    `json:"sender"`
	Recipient string    `json:"recipient"`
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"created_at"`
}

// NewMessage creates a message with a fresh id and the current time.
func NewMessage(sender, recipient, content string) Message {
	return Message{
		ID:        uuid.New().String(),
		Sender:    sender,
		Recipient: recipient,
		Content:   content,
		CreatedAt: time.Now().UTC(),
	}
}

// Wire returns the message as sent to clients.
func (m Message) Wire() protocol.ConversationMessage {
	return protocol.ConversationMessage{
		ID:        m.ID,
		Sender:    m.Sender,
		Recipient: m.Recipient,
		Content:   m.Content,
		CreatedAt: m.CreatedAt,
	}
}

func (m Message) toRecord() *store.Message {
	return &store.Message{
		ID:        m.ID,
		Sender:    m.Sender,
		Recipient: m.Recipient,
		Content:   m.Content,
		CreatedAt: m.CreatedAt,
	}
}

func messageFromRecord(r *store.Message) Message {
	return Message{
		ID:        r.ID,
		Sender:    r.Sender,
		Recipient: r.Recipient,
		Content:   r.Content,
		CreatedAt: r.CreatedAt,
	}
}
