// ABOUTME: Store interface and transcript record type for parley-gateway persistence
// ABOUTME: Open selects the file, sqlite, or memory driver by name

package store

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"
)

// ErrInvalidConversationID is returned for identifiers that cannot be stored safely.
var ErrInvalidConversationID = errors.New("invalid conversation id")

// ErrUnknownDriver is returned by Open for an unsupported driver name.
var ErrUnknownDriver = errors.New("unknown storage driver")

// Message is one persisted turn of a conversation.
type Message struct {
	ID        string    `json:"id"`
	Sender    string    `json:"sender"`
	Recipient string    `json:"recipient"`
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"created_at"`
}

// Store is an append-only transcript log keyed by conversation id.
type Store interface {
	// AppendMessage adds msg to the end of the conversation's transcript.
	AppendMessage(ctx context.Context, conversationID string, msg *Message) error

	// LoadMessages returns the whole transcript in append order. A
	// conversation with no transcript yields an empty slice and no error.
	LoadMessages(ctx context.Context, conversationID string) ([]*Message, error)

	// ListConversations returns the ids of all stored transcripts, sorted.
	ListConversations(ctx context.Context) ([]string, error)

	Close() error
}

// Open creates the store for driver ("file", "sqlite" or "memory").
func Open(driver, path string, logger *slog.Logger) (Store, error) {
	switch driver {
	case "file", "":
		return NewFileStore(path, logger)
	case "sqlite":
		return NewSQLiteStore(path, logger)
	case "memory":
		return NewMemoryStore(), nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownDriver, driver)
	}
}

// validateID rejects ids that are empty or could escape a directory.
func validateID(conversationID string) error {
	if conversationID == "" ||
		conversationID == "." ||
		strings.Contains(conversationID, "..") ||
		strings.ContainsAny(conversationID, `/\`) {
		return fmt.Errorf("%w: %q", ErrInvalidConversationID, conversationID)
	}
	return nil
}
