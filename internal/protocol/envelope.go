// ABOUTME: Wire envelopes for the conversation websocket protocol
// ABOUTME: Decodes inbound client frames and builds outbound questions for the human

package protocol

import (
	"bytes"
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Outbound class names, matched by clients on the class_name field.
const (
	ClassNewMessageForHuman = "NewMessageForHuman"
	ClassRecipientNotFound  = "RecipientNotFound"
)

// Inbound is a frame received from a human client. Kickoffs use
// ConversationID, Message and Recipient; answers add RequestID and
// ParticipantName.
type Inbound struct {
	ConversationID  string `json:"conversation_id"`
	Message         string `json:"message"`
	Recipient       string `json:"recipient"`
	RequestID       string `json:"request_id,omitempty"`
	ParticipantName string `json:"participant_name,omitempty"`
}

// DecodeInbound parses a client frame. The frame must be a JSON object.
// An absent or empty conversation_id is replaced with a random identifier.
func DecodeInbound(data []byte) (*Inbound, error) {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 || trimmed[0] != '{' {
		return nil, NewError(ErrMalformedPayload, "payload must be a JSON object")
	}

	var in Inbound
	if err := json.Unmarshal(trimmed, &in); err != nil {
		return nil, NewError(ErrMalformedPayload, "invalid JSON payload")
	}

	if in.ConversationID == "" {
		in.ConversationID = uuid.New().String()
	}
	return &in, nil
}

// ConversationMessage is the wire form of one turn in a conversation.
type ConversationMessage struct {
	ID        string    `json:"id"`
	Sender    string    `json:"sender"`
	Recipient string    `json:"recipient"`
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"created_at"`
}

// Request is an outbound envelope that expects a correlated answer.
// The correlator stamps the request identifier just before sending.
type Request interface {
	SetRequestID(id string)
}

// NewMessageForHuman asks the human to respond to a conversation message.
type NewMessageForHuman struct {
	ClassName           string              `json:"class_name"`
	ConversationMessage ConversationMessage `json:"conversation_message"`
	RequestID           string              `json:"request_id"`
}

// NewQuestion wraps a conversation message addressed to the human.
func NewQuestion(msg ConversationMessage) *NewMessageForHuman {
	return &NewMessageForHuman{
		ClassName:           ClassNewMessageForHuman,
		ConversationMessage: msg,
	}
}

// SetRequestID implements Request.
func (m *NewMessageForHuman) SetRequestID(id string) { m.RequestID = id }

// RecipientNotFound tells the human that the participant named in the last
// answer does not exist. It carries the request_id of the open question;
// answering that id with a valid participant resumes the conversation.
type RecipientNotFound struct {
	ClassName string `json:"class_name"`
	Message   string `json:"message"`
	RequestID string `json:"request_id"`
}

// NewRecipientNotFound builds a RecipientNotFound notice.
func NewRecipientNotFound(message string) *RecipientNotFound {
	return &RecipientNotFound{
		ClassName: ClassRecipientNotFound,
		Message:   message,
	}
}

// SetRequestID implements Request.
func (m *RecipientNotFound) SetRequestID(id string) { m.RequestID = id }
