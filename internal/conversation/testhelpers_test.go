// ABOUTME: Shared fakes for conversation tests
// ABOUTME: A recording sender behind a real correlator, plus scripted advancers

package conversation

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/2389/parley-gateway/internal/correlate"
	"github.com/2389/parley-gateway/internal/protocol"
	"github.com/2389/parley-gateway/internal/store"
	"github.com/2389/parley-gateway/internal/tools"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// recordingSender stands in for the connection registry.
type recordingSender struct {
	mu      sync.Mutex
	offline bool
	sent    chan any
}

func newRecordingSender() *recordingSender {
	return &recordingSender{sent: make(chan any, 16)}
}

func (s *recordingSender) Has(string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return !s.offline
}

func (s *recordingSender) Send(_ context.Context, _ string, payload any) error {
	s.sent <- payload
	return nil
}

func (s *recordingSender) next(t *testing.T) any {
	t.Helper()
	select {
	case p := <-s.sent:
		return p
	case <-time.After(2 * time.Second):
		t.Fatal("nothing sent to the human")
		return nil
	}
}

// harness bundles a registry with its collaborators.
type harness struct {
	reg    *Registry
	table  *correlate.Table
	sender *recordingSender
	store  *store.MemoryStore
	events *Broadcaster
}

func newHarness(t *testing.T, adv Advancer, mutate ...func(*Options)) *harness {
	t.Helper()

	sender := newRecordingSender()
	table := correlate.New(sender, testLogger())
	catalog := tools.NewCatalog(testLogger())
	require.NoError(t, catalog.Register(tools.Builtins(nil)...))

	h := &harness{
		table:  table,
		sender: sender,
		store:  store.NewMemoryStore(),
		events: NewBroadcaster(testLogger()),
	}

	opts := Options{
		Advancer:       adv,
		Asker:          table,
		Catalog:        catalog,
		Store:          h.store,
		Events:         h.events,
		RequestTimeout: 2 * time.Second,
	}
	for _, m := range mutate {
		m(&opts)
	}

	h.reg = NewRegistry(opts, testLogger())
	t.Cleanup(func() {
		h.reg.Close()
		h.table.Close()
		h.events.Close()
	})
	return h
}

// botSpec declares a conversation with one agent named Bot.
func botSpec() Spec {
	return Spec{
		Name:               "test",
		ToolUseEnabled:     true,
		HumanInterventions: 4,
		Agents:             []AgentSpec{{Name: "Bot", Prompt: "be helpful", Tools: []string{"echo"}}},
	}
}

func (h *harness) create(t *testing.T, spec Spec) *Session {
	t.Helper()
	id, err := h.reg.Create(t.Context(), spec)
	require.NoError(t, err)
	s, ok := h.reg.Lookup(id)
	require.True(t, ok)
	return s
}

// waitDone waits for the session's turn loop to exit.
func waitDone(t *testing.T, s *Session) {
	t.Helper()
	select {
	case <-s.Done():
	case <-time.After(3 * time.Second):
		t.Fatal("turn loop did not exit")
	}
}

func waitState(t *testing.T, s *Session, want State) {
	t.Helper()
	require.Eventually(t, func() bool { return s.State() == want },
		2*time.Second, 5*time.Millisecond, "state never became %s", want)
}

// blockingAdvancer parks every turn until the session is stopped.
func blockingAdvancer() Advancer {
	return AdvancerFunc(func(ctx context.Context, _ Turn) (*Message, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	})
}

// askOnceAdvancer asks the human once, then ends after the human's reply.
func askOnceAdvancer(question string) Advancer {
	return AdvancerFunc(func(_ context.Context, turn Turn) (*Message, error) {
		if len(turn.History) == 1 {
			return &Message{Recipient: HumanName, Content: question}, nil
		}
		return nil, nil
	})
}

func question(t *testing.T, payload any) *protocol.NewMessageForHuman {
	t.Helper()
	q, ok := payload.(*protocol.NewMessageForHuman)
	require.True(t, ok, "expected NewMessageForHuman, got %T", payload)
	return q
}
