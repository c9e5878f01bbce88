// ABOUTME: File-backed transcript store, one JSON file per conversation
// ABOUTME: Each append reads the whole file and rewrites it atomically

package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"sync"
)

// FileStore keeps transcripts under a root directory.
type FileStore struct {
	mu     sync.Mutex
	root   string
	logger *slog.Logger
}

// NewFileStore creates a store rooted at dir, creating it if needed.
func NewFileStore(dir string, logger *slog.Logger) (*FileStore, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if dir == "" {
		return nil, errors.New("file store requires a directory")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("creating store directory: %w", err)
	}

	logger = logger.With("component", "store")
	logger.Info("file store initialized", "path", dir)
	return &FileStore{root: dir, logger: logger}, nil
}

// transcriptPath returns <root>/<id>/conversations/<id>_messages.json.
func (s *FileStore) transcriptPath(conversationID string) string {
	return filepath.Join(s.root, conversationID, "conversations", conversationID+"_messages.json")
}

// AppendMessage implements Store.
func (s *FileStore) AppendMessage(_ context.Context, conversationID string, msg *Message) error {
	if err := validateID(conversationID); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	messages, err := s.readLocked(conversationID)
	if err != nil {
		return err
	}
	messages = append(messages, msg)

	path := s.transcriptPath(conversationID)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("creating transcript directory: %w", err)
	}

	data, err := json.MarshalIndent(messages, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding transcript: %w", err)
	}

	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("writing transcript: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("replacing transcript: %w", err)
	}

	s.logger.Debug("appended message",
		"conversation_id", conversationID,
		"message_id", msg.ID,
		"count", len(messages),
	)
	return nil
}

// LoadMessages implements Store.
func (s *FileStore) LoadMessages(_ context.Context, conversationID string) ([]*Message, error) {
	if err := validateID(conversationID); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	return s.readLocked(conversationID)
}

func (s *FileStore) readLocked(conversationID string) ([]*Message, error) {
	data, err := os.ReadFile(s.transcriptPath(conversationID))
	if errors.Is(err, fs.ErrNotExist) {
		return []*Message{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading transcript: %w", err)
	}

	var messages []*Message
	if err := json.Unmarshal(data, &messages); err != nil {
		return nil, fmt.Errorf("decoding transcript %s: %w", conversationID, err)
	}
	if messages == nil {
		messages = []*Message{}
	}
	return messages, nil
}

// ListConversations implements Store.
func (s *FileStore) ListConversations(_ context.Context) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entries, err := os.ReadDir(s.root)
	if err != nil {
		return nil, fmt.Errorf("listing store directory: %w", err)
	}

	var ids []string
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		if _, err := os.Stat(s.transcriptPath(e.Name())); err == nil {
			ids = append(ids, e.Name())
		}
	}
	sort.Strings(ids)
	return ids, nil
}

// Close implements Store.
func (s *FileStore) Close() error { return nil }
