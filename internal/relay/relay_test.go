// ABOUTME: Tests for the relay advancer
// ABOUTME: Covers terminal command, tools, forwarding, default replies, and a full conversation

package relay

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389/parley-gateway/internal/conversation"
	"github.com/2389/parley-gateway/internal/correlate"
	"github.com/2389/parley-gateway/internal/protocol"
	"github.com/2389/parley-gateway/internal/tools"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func builtin(t *testing.T, name string) *tools.Tool {
	t.Helper()
	for _, tool := range tools.Builtins(func() time.Time {
		return time.Date(2024, 6, 1, 8, 0, 0, 0, time.UTC)
	}) {
		if tool.Name == name {
			return tool
		}
	}
	t.Fatalf("no builtin %s", name)
	return nil
}

// turnFor builds a turn addressed to alice, sent by sender.
func turnFor(t *testing.T, sender, content string, toolUse bool) conversation.Turn {
	t.Helper()
	alice := conversation.NewAgent("Alice", "", []*tools.Tool{builtin(t, "echo"), builtin(t, "clock")})
	bob := conversation.NewAgent("Bob", "", nil)
	msg := conversation.NewMessage(sender, "Alice", content)
	return conversation.Turn{
		ConversationID: "c1",
		Message:        msg,
		Recipient:      alice,
		Participants:   []conversation.Participant{conversation.NewHuman(conversation.HumanName), alice, bob},
		History:        []conversation.Message{msg},
		ToolUseEnabled: toolUse,
	}
}

func TestAdvance(t *testing.T) {
	tests := []struct {
		name          string
		sender        string
		content       string
		toolUse       bool
		wantNil       bool
		wantRecipient string
		wantContent   string
	}{
		{
			name:    "done ends the conversation",
			sender:  conversation.HumanName,
			content: "  /done ",
			wantNil: true,
		},
		{
			name:          "plain message is answered to the human",
			sender:        conversation.HumanName,
			content:       "hello",
			wantRecipient: conversation.HumanName,
			wantContent:   "Alice received: hello",
		},
		{
			name:          "tool output goes back to the sender",
			sender:        "Bob",
			content:       "/echo ping pong",
			toolUse:       true,
			wantRecipient: "Bob",
			wantContent:   "ping pong",
		},
		{
			name:          "clock tool",
			sender:        conversation.HumanName,
			content:       "/clock",
			toolUse:       true,
			wantRecipient: conversation.HumanName,
			wantContent:   "2024-06-01T08:00:00Z",
		},
		{
			name:          "tool use disabled",
			sender:        conversation.HumanName,
			content:       "/echo hi",
			wantRecipient: conversation.HumanName,
			wantContent:   "Tool use is disabled in this conversation.",
		},
		{
			name:          "tool the agent does not hold",
			sender:        conversation.HumanName,
			content:       "/word_count a b",
			toolUse:       true,
			wantRecipient: conversation.HumanName,
			wantContent:   `Alice has no tool named "word_count".`,
		},
		{
			name:          "tool failure is reported",
			sender:        conversation.HumanName,
			content:       "/clock Not/AZone",
			toolUse:       true,
			wantRecipient: conversation.HumanName,
			wantContent:   "Tool failed: tool clock: unknown time zone Not/AZone",
		},
		{
			name:          "mention forwards to the agent",
			sender:        conversation.HumanName,
			content:       "please @Bob review this",
			wantRecipient: "Bob",
			wantContent:   "please review this",
		},
		{
			name:          "self and unknown mentions are ignored",
			sender:        conversation.HumanName,
			content:       "@Alice ask @Carol",
			wantRecipient: conversation.HumanName,
			wantContent:   "Alice received: @Alice ask @Carol",
		},
		{
			name:          "the human cannot be mentioned",
			sender:        "Bob",
			content:       "@human hi",
			wantRecipient: conversation.HumanName,
			wantContent:   "Alice received: @human hi",
		},
	}

	adv := New(testLogger())
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			next, err := adv.Advance(t.Context(), turnFor(t, tt.sender, tt.content, tt.toolUse))
			require.NoError(t, err)

			if tt.wantNil {
				assert.Nil(t, next)
				return
			}
			require.NotNil(t, next)
			assert.Equal(t, "Alice", next.Sender)
			assert.Equal(t, tt.wantRecipient, next.Recipient)
			assert.Equal(t, tt.wantContent, next.Content)
			assert.NotEmpty(t, next.ID)
		})
	}
}

// onlineSender is a connection stand-in that is always connected.
type onlineSender struct {
	sent chan any
}

func (s *onlineSender) Has(string) bool { return true }

func (s *onlineSender) Send(_ context.Context, _ string, payload any) error {
	s.sent <- payload
	return nil
}

func TestRelay_DrivesConversation(t *testing.T) {
	sender := &onlineSender{sent: make(chan any, 4)}
	table := correlate.New(sender, testLogger())
	defer table.Close()

	catalog := tools.NewCatalog(testLogger())
	require.NoError(t, catalog.Register(tools.Builtins(nil)...))

	reg := conversation.NewRegistry(conversation.Options{
		Advancer: New(testLogger()),
		Asker:    table,
		Catalog:  catalog,
	}, testLogger())
	defer reg.Close()

	id, err := reg.Create(t.Context(), conversation.Spec{
		ToolUseEnabled:     true,
		HumanInterventions: -1,
		Agents: []conversation.AgentSpec{
			{Name: "Alice"},
			{Name: "Bob", Tools: []string{"word_count"}},
		},
	})
	require.NoError(t, err)
	s, _ := reg.Lookup(id)

	// Alice forwards to Bob, Bob answers the human.
	require.NoError(t, s.StartAsHuman("Alice", "@Bob how are you"))

	var q *protocol.NewMessageForHuman
	select {
	case p := <-sender.sent:
		q = p.(*protocol.NewMessageForHuman)
	case <-time.After(2 * time.Second):
		t.Fatal("no question for the human")
	}
	assert.Equal(t, "Bob", q.ConversationMessage.Sender)
	assert.Equal(t, "Bob received: how are you", q.ConversationMessage.Content)

	// The human asks Bob to count words, then ends the conversation.
	table.Resolve(q.RequestID, &protocol.Inbound{ParticipantName: "Bob", Message: "/word_count one two three"})

	select {
	case p := <-sender.sent:
		q = p.(*protocol.NewMessageForHuman)
	case <-time.After(2 * time.Second):
		t.Fatal("no tool result for the human")
	}
	assert.Equal(t, "3", q.ConversationMessage.Content)

	table.Resolve(q.RequestID, &protocol.Inbound{ParticipantName: "Bob", Message: "/done"})

	select {
	case <-s.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("conversation did not end")
	}
	require.NoError(t, s.Err())

	history := s.History()
	require.Len(t, history, 6)
	assert.Equal(t, "Alice", history[1].Sender)
	assert.Equal(t, "Bob", history[1].Recipient)
	assert.Equal(t, "how are you", history[1].Content)
	assert.Equal(t, "/done", history[5].Content)
}
