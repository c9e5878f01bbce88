// ABOUTME: In-memory Store implementation
// ABOUTME: Used by tests and by gateways configured with the memory driver

package store

import (
	"context"
	"sort"
	"sync"
)

// MemoryStore is a process-local Store.
type MemoryStore struct {
	mu       sync.RWMutex
	messages map[string][]*Message // conversationID -> transcript
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{messages: make(map[string][]*Message)}
}

// AppendMessage implements Store.
func (m *MemoryStore) AppendMessage(_ context.Context, conversationID string, msg *Message) error {
	if err := validateID(conversationID); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	// Make a copy to avoid external modification
	cp := *msg
	m.messages[conversationID] = append(m.messages[conversationID], &cp)
	return nil
}

// LoadMessages implements Store.
func (m *MemoryStore) LoadMessages(_ context.Context, conversationID string) ([]*Message, error) {
	if err := validateID(conversationID); err != nil {
		return nil, err
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]*Message, 0, len(m.messages[conversationID]))
	for _, msg := range m.messages[conversationID] {
		cp := *msg
		out = append(out, &cp)
	}
	return out, nil
}

// ListConversations implements Store.
func (m *MemoryStore) ListConversations(_ context.Context) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	ids := make([]string, 0, len(m.messages))
	for id := range m.messages {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids, nil
}

// Close implements Store.
func (m *MemoryStore) Close() error { return nil }
