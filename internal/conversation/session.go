// ABOUTME: Per-conversation state machine and turn loop
// ABOUTME: Drives agent logic until it must hand control to the human, then suspends on the correlator

package conversation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sourcegraph/conc/panics"

	"github.com/2389/parley-gateway/internal/protocol"
	"github.com/2389/parley-gateway/internal/store"
)

// saveTimeout bounds each transcript append.
const saveTimeout = 5 * time.Second

// State is a conversation's position in its lifecycle.
type State int

const (
	StateNotStarted State = iota
	StateRunning
	StateAwaitingHuman
	StateTerminated
)

func (s State) String() string {
	switch s {
	case StateNotStarted:
		return "not_started"
	case StateRunning:
		return "running"
	case StateAwaitingHuman:
		return "awaiting_human"
	case StateTerminated:
		return "terminated"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// MarshalText renders the state by name in JSON.
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// sessionDeps are the collaborators a session shares with its registry.
type sessionDeps struct {
	advancer       Advancer
	asker          Asker
	store          store.Store
	events         *Broadcaster
	requestTimeout time.Duration
	workspaceRoot  string
	spawn          func(func())
}

// Session is one live conversation.
type Session struct {
	id             string
	name           string
	createdAt      time.Time
	toolUseEnabled bool
	participants   []Participant
	deps           sessionDeps
	logger         *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}

	mu                sync.Mutex
	state             State
	history           []Message
	unprocessed       *Message
	interventionsLeft int // negative means unlimited
	err               error
}

func newSession(id string, spec Spec, participants []Participant, history []Message, deps sessionDeps, logger *slog.Logger) *Session {
	ctx, cancel := context.WithCancel(context.Background())

	state := StateNotStarted
	if len(history) > 0 {
		// Seeded transcripts are started; there is nothing left to process.
		state = StateTerminated
	}

	return &Session{
		id:                id,
		name:              spec.Name,
		createdAt:         time.Now().UTC(),
		toolUseEnabled:    spec.ToolUseEnabled,
		participants:      participants,
		deps:              deps,
		logger:            logger.With("conversation_id", id),
		ctx:               ctx,
		cancel:            cancel,
		done:              make(chan struct{}),
		state:             state,
		history:           history,
		interventionsLeft: spec.HumanInterventions,
	}
}

// ID returns the conversation id.
func (s *Session) ID() string { return s.id }

// Name returns the conversation's display name.
func (s *Session) Name() string { return s.name }

// CreatedAt returns when the session was created.
func (s *Session) CreatedAt() time.Time { return s.createdAt }

// Participants returns the participants, human first.
func (s *Session) Participants() []Participant {
	out := make([]Participant, len(s.participants))
	copy(out, s.participants)
	return out
}

// Participant returns the participant with the given name.
func (s *Session) Participant(name string) (Participant, bool) {
	return findParticipant(s.participants, name)
}

// FindAgent returns the agent with the given name.
func (s *Session) FindAgent(name string) (*Agent, bool) {
	return findAgent(s.participants, name)
}

// State returns the current state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Started reports whether the conversation has any history.
func (s *Session) Started() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.history) > 0
}

// History returns a copy of the message history.
func (s *Session) History() []Message {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]Message, len(s.history))
	copy(out, s.history)
	return out
}

// Unprocessed returns the message waiting to be processed, if any.
func (s *Session) Unprocessed() (Message, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.unprocessed == nil {
		return Message{}, false
	}
	return *s.unprocessed, true
}

// InterventionsLeft returns the remaining human-question budget. Negative
// means unlimited.
func (s *Session) InterventionsLeft() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.interventionsLeft
}

// Err returns the error that terminated the turn loop, if any.
func (s *Session) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// Done is closed when the turn loop has exited. It is never closed for a
// conversation that was not started.
func (s *Session) Done() <-chan struct{} { return s.done }

// Info is a point-in-time summary of a session.
type Info struct {
	ID                string    `json:"conversation_id"`
	Name              string    `json:"name"`
	State             State     `json:"state"`
	Messages          int       `json:"messages"`
	Participants      []string  `json:"participants"`
	InterventionsLeft int       `json:"human_interventions_left"`
	CreatedAt         time.Time `json:"created_at"`
	Error             string    `json:"error,omitempty"`
}

// Info returns a summary of the session.
func (s *Session) Info() Info {
	names := make([]string, len(s.participants))
	for i, p := range s.participants {
		names[i] = p.Name()
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	info := Info{
		ID:                s.id,
		Name:              s.name,
		State:             s.state,
		Messages:          len(s.history),
		Participants:      names,
		InterventionsLeft: s.interventionsLeft,
		CreatedAt:         s.createdAt,
	}
	if s.err != nil {
		info.Error = s.err.Error()
	}
	return info
}

// StartAsHuman kicks off the conversation with a message from the human to
// the named agent and runs the turn loop in the background. The first
// message is in history when StartAsHuman returns.
func (s *Session) StartAsHuman(recipient, content string) error {
	agent, ok := s.FindAgent(recipient)
	if !ok {
		return fmt.Errorf("%w: %q", ErrUnknownParticipant, recipient)
	}

	hint := s.workspaceHint()

	s.mu.Lock()
	if s.ctx.Err() != nil {
		s.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrStopped, s.id)
	}
	if s.state != StateNotStarted || len(s.history) > 0 {
		state := s.state
		s.mu.Unlock()
		return fmt.Errorf("%w: conversation %s is %s", ErrAlreadyStarted, s.id, state)
	}

	msg := NewMessage(HumanName, agent.Name(), content+hint)
	s.prepareLocked(msg)
	s.state = StateRunning
	s.mu.Unlock()

	s.logger.Info("conversation started", "recipient", agent.Name())
	s.record(msg)
	s.publishState(StateRunning, nil)

	s.deps.spawn(s.run)
	return nil
}

// Stop cancels the turn loop and any pending question. A conversation that
// never started is terminated immediately.
func (s *Session) Stop() {
	s.cancel()

	s.mu.Lock()
	idle := s.state == StateNotStarted
	if idle {
		s.state = StateTerminated
		s.err = ErrStopped
	}
	s.mu.Unlock()

	if idle {
		s.publishState(StateTerminated, ErrStopped)
	}
}

// workspaceHint creates the conversation's workspace and returns the
// sentence pointing agents at it. Empty when no workspace root is set.
func (s *Session) workspaceHint() string {
	if s.deps.workspaceRoot == "" {
		return ""
	}

	dir := filepath.Join(s.deps.workspaceRoot, s.id, "workspaces")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		s.logger.Warn("failed to create workspace", "path", dir, "error", err)
		return ""
	}
	return fmt.Sprintf("\n\nUse the folder %s as root when creating any files if no path is given.", dir)
}

// run drives the turn loop until it ends, recovering panics from agent logic.
func (s *Session) run() {
	defer close(s.done)

	var err error
	var pc panics.Catcher
	pc.Try(func() { err = s.loop(s.ctx) })
	if r := pc.Recovered(); r != nil {
		err = fmt.Errorf("agent logic panicked: %w", r.AsError())
	}
	if err != nil && s.ctx.Err() != nil && !errors.Is(err, ErrStopped) {
		err = fmt.Errorf("%w: %w", ErrStopped, err)
	}

	s.finish(err)
}

// loop consumes unprocessed messages until none remain.
func (s *Session) loop(ctx context.Context) error {
	for {
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("%w: %w", ErrStopped, err)
		}

		msg, ok := s.takeUnprocessed()
		if !ok {
			return nil
		}

		var next *Message
		var err error
		if msg.Recipient == HumanName {
			next, err = s.askHuman(ctx, msg)
		} else {
			next, err = s.advance(ctx, msg)
		}
		if err != nil {
			return err
		}
		if next == nil {
			return nil
		}

		s.mu.Lock()
		s.prepareLocked(*next)
		changed := s.transitionLocked(StateRunning)
		s.mu.Unlock()

		s.record(*next)
		if changed {
			s.publishState(StateRunning, nil)
		}
	}
}

// advance asks agent logic for the message that follows msg.
func (s *Session) advance(ctx context.Context, msg Message) (*Message, error) {
	agent, ok := s.FindAgent(msg.Recipient)
	if !ok {
		return nil, fmt.Errorf("%w: message %s addressed to %q", ErrUnknownParticipant, msg.ID, msg.Recipient)
	}

	next, err := s.deps.advancer.Advance(ctx, Turn{
		ConversationID: s.id,
		Message:        msg,
		Recipient:      agent,
		Participants:   s.Participants(),
		History:        s.History(),
		ToolUseEnabled: s.toolUseEnabled,
	})
	if err != nil {
		return nil, fmt.Errorf("advancing turn for %s: %w", agent.Name(), err)
	}
	if next == nil {
		return nil, nil
	}

	out := *next
	if out.Sender == "" {
		out.Sender = agent.Name()
	}
	if out.ID == "" {
		out.ID = uuid.New().String()
	}
	if out.CreatedAt.IsZero() {
		out.CreatedAt = time.Now().UTC()
	}
	if _, ok := s.Participant(out.Recipient); !ok {
		return nil, fmt.Errorf("%w: %s addressed %q", ErrUnknownParticipant, agent.Name(), out.Recipient)
	}
	return &out, nil
}

// askHuman puts msg to the human and turns the answer into the human's next
// message. An answer naming no agent is met with RecipientNotFound under the
// same request id, and the question stays open until its deadline. Returns
// nil when the intervention budget is spent.
func (s *Session) askHuman(ctx context.Context, msg Message) (*Message, error) {
	s.mu.Lock()
	if s.interventionsLeft == 0 {
		s.mu.Unlock()
		s.logger.Info("human intervention budget exhausted", "message_id", msg.ID)
		return nil, nil
	}
	if s.interventionsLeft > 0 {
		s.interventionsLeft--
	}
	s.transitionLocked(StateAwaitingHuman)
	s.mu.Unlock()
	s.publishState(StateAwaitingHuman, nil)

	answer, err := s.deps.asker.SendAndAwait(ctx, s.id, protocol.NewQuestion(msg.Wire()), s.deps.requestTimeout, s.checkAnswer)
	if err != nil {
		return nil, fmt.Errorf("awaiting human answer: %w", err)
	}

	agent, ok := s.FindAgent(answer.ParticipantName)
	if !ok {
		return nil, fmt.Errorf("%w: human answered %q", ErrUnknownParticipant, answer.ParticipantName)
	}

	next := NewMessage(HumanName, agent.Name(), answer.Message)
	return &next, nil
}

// checkAnswer refuses answers addressed to anyone but an agent.
func (s *Session) checkAnswer(answer *protocol.Inbound) protocol.Request {
	if _, ok := s.FindAgent(answer.ParticipantName); ok {
		return nil
	}
	s.logger.Warn("human answered an unknown participant", "participant", answer.ParticipantName)
	return protocol.NewRecipientNotFound(fmt.Sprintf("Participant %q not found", answer.ParticipantName))
}

// finish records the loop's end. Errors stay scoped to this session.
func (s *Session) finish(err error) {
	s.mu.Lock()
	s.state = StateTerminated
	s.unprocessed = nil
	s.err = err
	s.mu.Unlock()

	switch {
	case err == nil:
		s.logger.Info("conversation finished")
	case s.ctx.Err() != nil:
		s.logger.Info("conversation stopped", "error", err)
	default:
		s.logger.Error("conversation failed", "error", err)
	}
	s.publishState(StateTerminated, err)
}

// prepareLocked appends msg to history and makes it the unprocessed message.
// Must be called with mu held.
func (s *Session) prepareLocked(msg Message) {
	s.history = append(s.history, msg)
	m := msg
	s.unprocessed = &m
}

// transitionLocked sets the state and reports whether it changed.
// Must be called with mu held.
func (s *Session) transitionLocked(state State) bool {
	if s.state == state {
		return false
	}
	s.state = state
	return true
}

func (s *Session) takeUnprocessed() (Message, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.unprocessed == nil {
		return Message{}, false
	}
	msg := *s.unprocessed
	s.unprocessed = nil
	return msg, true
}

// record persists msg and publishes it. Persistence is best effort.
func (s *Session) record(msg Message) {
	if s.deps.store != nil {
		// Detached from the session context so a stop never loses a turn.
		ctx, cancel := context.WithTimeout(context.Background(), saveTimeout)
		defer cancel()

		if err := s.deps.store.AppendMessage(ctx, s.id, msg.toRecord()); err != nil {
			s.logger.Error("failed to persist message", "message_id", msg.ID, "error", err)
		}
	}

	if s.deps.events != nil {
		m := msg
		s.deps.events.Publish(s.id, &Event{
			Type:           EventMessage,
			ConversationID: s.id,
			Message:        &m,
		})
	}
}

func (s *Session) publishState(state State, err error) {
	if s.deps.events == nil {
		return
	}
	ev := &Event{
		Type:           EventState,
		ConversationID: s.id,
		State:          state.String(),
	}
	if err != nil {
		ev.Error = err.Error()
	}
	s.deps.events.Publish(s.id, ev)
}
