// ABOUTME: Deterministic reference agent logic for running conversations without a model
// ABOUTME: Agents run slash-commanded tools, forward @mentions, or reply to the human

package relay

import (
	"context"
	"fmt"
	"log/slog"
	"regexp"
	"strings"

	"github.com/2389/parley-gateway/internal/conversation"
)

// DoneCommand ends the conversation when it is the whole message.
const DoneCommand = "/done"

var mentionPattern = regexp.MustCompile(`@([A-Za-z0-9_.-]+)`)

// Advancer implements conversation.Advancer. For the addressed agent it
// handles, in order: "/done" ends the conversation; "/<tool> <input>" runs
// one of the agent's tools and returns the output to the sender; "@Name"
// forwards the rest of the message to that agent; anything else is
// answered to the human.
type Advancer struct {
	logger *slog.Logger
}

// New creates a relay Advancer.
func New(logger *slog.Logger) *Advancer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Advancer{logger: logger.With("component", "relay")}
}

// Advance implements conversation.Advancer.
func (a *Advancer) Advance(ctx context.Context, turn conversation.Turn) (*conversation.Message, error) {
	agent := turn.Recipient
	content := strings.TrimSpace(turn.Message.Content)

	logger := a.logger.With(
		"conversation_id", turn.ConversationID,
		"agent", agent.Name(),
	)

	if content == DoneCommand {
		logger.Debug("conversation ended by command")
		return nil, nil
	}

	if strings.HasPrefix(content, "/") {
		return a.runTool(ctx, logger, turn, content)
	}

	if target, rest, ok := findMention(turn, content); ok {
		logger.Debug("forwarding", "to", target)
		return reply(agent.Name(), target, rest), nil
	}

	return reply(agent.Name(), conversation.HumanName,
		fmt.Sprintf("%s received: %s", agent.Name(), content)), nil
}

// runTool executes "/<tool> <input>" and sends the result back to the sender.
func (a *Advancer) runTool(ctx context.Context, logger *slog.Logger, turn conversation.Turn, content string) (*conversation.Message, error) {
	agent := turn.Recipient
	name, input, _ := strings.Cut(strings.TrimPrefix(content, "/"), " ")
	input = strings.TrimSpace(input)
	sender := turn.Message.Sender

	if !turn.ToolUseEnabled {
		return reply(agent.Name(), sender, "Tool use is disabled in this conversation."), nil
	}

	tool, ok := agent.Tool(name)
	if !ok {
		return reply(agent.Name(), sender, fmt.Sprintf("%s has no tool named %q.", agent.Name(), name)), nil
	}

	out, err := tool.Invoke(ctx, input)
	if err != nil {
		// Tool failures are reported to the sender, not raised.
		logger.Warn("tool failed", "tool", name, "error", err)
		return reply(agent.Name(), sender, fmt.Sprintf("Tool failed: %v", err)), nil
	}

	logger.Debug("tool invoked", "tool", name)
	return reply(agent.Name(), sender, out), nil
}

// findMention returns the first mentioned agent other than the recipient,
// with the mention removed from the content.
func findMention(turn conversation.Turn, content string) (target, rest string, ok bool) {
	for _, m := range mentionPattern.FindAllStringSubmatchIndex(content, -1) {
		name := content[m[2]:m[3]]
		if name == turn.Recipient.Name() {
			continue
		}
		for _, p := range turn.Participants {
			if p.Kind() == conversation.KindAgent && p.Name() == name {
				rest = strings.TrimSpace(content[:m[0]] + content[m[1]:])
				rest = strings.Join(strings.Fields(rest), " ")
				return name, rest, true
			}
		}
	}
	return "", "", false
}

func reply(sender, recipient, content string) *conversation.Message {
	msg := conversation.NewMessage(sender, recipient, content)
	return &msg
}
