// ABOUTME: Registry owning every live conversation session by id
// ABOUTME: Builds participants from declarative specs and tracks turn loops until shutdown

package conversation

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sourcegraph/conc"

	"github.com/2389/parley-gateway/internal/metrics"
	"github.com/2389/parley-gateway/internal/store"
	"github.com/2389/parley-gateway/internal/tools"
)

// DefaultRequestTimeout bounds each question put to the human.
const DefaultRequestTimeout = 30 * time.Second

// AgentSpec declares one agent of a new conversation.
type AgentSpec struct {
	Name   string
	Prompt string
	Tools  []string
}

// Spec declares a new conversation.
type Spec struct {
	// ID is optional; a fresh id is allocated when empty. When set and
	// History is nil, the stored transcript for the id seeds the history.
	ID                 string
	Name               string
	ToolUseEnabled     bool
	HumanInterventions int // negative means unlimited
	Agents             []AgentSpec
	History            []Message
}

// Options wires a Registry to its collaborators. Store and Events are optional.
type Options struct {
	Advancer       Advancer
	Asker          Asker
	Catalog        *tools.Catalog
	Store          store.Store
	Events         *Broadcaster
	RequestTimeout time.Duration
	WorkspaceRoot  string
}

// Registry creates, looks up, and destroys sessions.
type Registry struct {
	mu       sync.RWMutex
	sessions map[string]*Session
	opts     Options
	loops    conc.WaitGroup
	logger   *slog.Logger
}

// NewRegistry creates an empty registry.
func NewRegistry(opts Options, logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	if opts.RequestTimeout <= 0 {
		opts.RequestTimeout = DefaultRequestTimeout
	}
	if opts.Catalog == nil {
		opts.Catalog = tools.NewCatalog(logger)
	}
	return &Registry{
		sessions: make(map[string]*Session),
		opts:     opts,
		logger:   logger.With("component", "conversations"),
	}
}

// Create builds a session from spec and registers it. Returns the
// conversation id.
func (r *Registry) Create(ctx context.Context, spec Spec) (string, error) {
	id := spec.ID
	if id == "" {
		id = uuid.New().String()
	} else if strings.ContainsAny(id, `/\`) || strings.Contains(id, "..") {
		return "", fmt.Errorf("%w: conversation id %q", ErrInvalidSpec, id)
	}
	if r.Exists(id) {
		return "", fmt.Errorf("%w: %s", ErrConversationExists, id)
	}

	participants, err := r.buildParticipants(id, spec.Agents)
	if err != nil {
		return "", err
	}

	history := spec.History
	if history == nil && spec.ID != "" {
		history = r.loadHistory(ctx, id)
	}

	session := newSession(id, spec, participants, history, sessionDeps{
		advancer:       r.opts.Advancer,
		asker:          r.opts.Asker,
		store:          r.opts.Store,
		events:         r.opts.Events,
		requestTimeout: r.opts.RequestTimeout,
		workspaceRoot:  r.opts.WorkspaceRoot,
		spawn:          r.loops.Go,
	}, r.logger)

	r.mu.Lock()
	if _, exists := r.sessions[id]; exists {
		r.mu.Unlock()
		session.cancel()
		return "", fmt.Errorf("%w: %s", ErrConversationExists, id)
	}
	r.sessions[id] = session
	count := len(r.sessions)
	r.mu.Unlock()

	metrics.ConversationsActive.Set(float64(count))
	r.logger.Info("=== CONVERSATION CREATED ===",
		"conversation_id", id,
		"name", spec.Name,
		"agents", len(spec.Agents),
		"seeded_messages", len(history),
	)
	return id, nil
}

// buildParticipants creates the human followed by the agents in order.
func (r *Registry) buildParticipants(id string, agents []AgentSpec) ([]Participant, error) {
	if len(agents) == 0 {
		return nil, fmt.Errorf("%w: at least one agent is required", ErrInvalidSpec)
	}

	participants := []Participant{NewHuman(HumanName)}
	seen := map[string]bool{HumanName: true}

	for _, a := range agents {
		if a.Name == "" {
			return nil, fmt.Errorf("%w: agent name is required", ErrInvalidSpec)
		}
		if seen[a.Name] {
			return nil, fmt.Errorf("%w: duplicate participant name %q", ErrInvalidSpec, a.Name)
		}
		seen[a.Name] = true

		agentTools, missing := r.opts.Catalog.Resolve(a.Tools)
		for _, name := range missing {
			r.logger.Warn("skipping unknown tool",
				"conversation_id", id,
				"agent", a.Name,
				"tool", name,
			)
		}
		participants = append(participants, NewAgent(a.Name, a.Prompt, agentTools))
	}
	return participants, nil
}

// loadHistory reads the stored transcript. Failures leave the history empty.
func (r *Registry) loadHistory(ctx context.Context, id string) []Message {
	if r.opts.Store == nil {
		return nil
	}

	records, err := r.opts.Store.LoadMessages(ctx, id)
	if err != nil {
		r.logger.Warn("failed to load transcript", "conversation_id", id, "error", err)
		return nil
	}

	history := make([]Message, 0, len(records))
	for _, rec := range records {
		history = append(history, messageFromRecord(rec))
	}
	return history
}

// Lookup returns the session with the given id.
func (r *Registry) Lookup(id string) (*Session, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	s, ok := r.sessions[id]
	return s, ok
}

// Exists reports whether a live session has the id.
func (r *Registry) Exists(id string) bool {
	_, ok := r.Lookup(id)
	return ok
}

// Len returns the number of live sessions.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}

// List returns all sessions, oldest first.
func (r *Registry) List() []*Session {
	r.mu.RLock()
	out := make([]*Session, 0, len(r.sessions))
	for _, s := range r.sessions {
		out = append(out, s)
	}
	r.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if !out[i].createdAt.Equal(out[j].createdAt) {
			return out[i].createdAt.Before(out[j].createdAt)
		}
		return out[i].id < out[j].id
	})
	return out
}

// Remove unregisters the session and stops it. Its turn loop, if running,
// observes cancellation and exits on its own.
func (r *Registry) Remove(id string) error {
	r.mu.Lock()
	s, ok := r.sessions[id]
	if ok {
		delete(r.sessions, id)
	}
	count := len(r.sessions)
	r.mu.Unlock()

	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownConversation, id)
	}

	s.Stop()
	metrics.ConversationsActive.Set(float64(count))
	r.logger.Info("=== CONVERSATION REMOVED ===", "conversation_id", id)
	return nil
}

// Close stops every session and waits for their turn loops to exit.
func (r *Registry) Close() {
	r.mu.Lock()
	sessions := make([]*Session, 0, len(r.sessions))
	for id, s := range r.sessions {
		sessions = append(sessions, s)
		delete(r.sessions, id)
	}
	r.mu.Unlock()

	for _, s := range sessions {
		s.Stop()
	}
	metrics.ConversationsActive.Set(0)

	if recovered := r.loops.WaitAndRecover(); recovered != nil {
		r.logger.Error("turn loop panicked", "error", recovered.AsError())
	}
}
