// ABOUTME: chat subcommand: the human end of one conversation over a websocket
// ABOUTME: Sends the kickoff, prints agent questions, and routes typed answers back

package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"net/url"
	"os"
	"regexp"
	"strings"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/spf13/cobra"

	"github.com/2389/parley-gateway/internal/protocol"
)

const chatLongDesc string = `Join a conversation as the human participant.

The first line you type starts the conversation and goes to the recipient
agent. After that, each question an agent asks is printed; answer it with
plain text to reply to the asking agent, or "Name: text" to address a
different agent. Lines typed before a question arrives are queued.

Type /exit or press Ctrl+D to leave. Leaving does not stop the
conversation; reconnect to keep answering.

Examples:
  parley-client chat 5f0c... --recipient Writer
  parley-client chat team-1 --gateway http://parley.example.ts.net`

// answerPattern matches "Name: text".
var answerPattern = regexp.MustCompile(`^([A-Za-z0-9_.-]+):\s*(.*)$`)

// serverFrame is any frame the gateway sends to the client.
type serverFrame struct {
	ClassName           string                       `json:"class_name"`
	ConversationMessage protocol.ConversationMessage `json:"conversation_message"`
	Message             string                       `json:"message"`
	RequestID           string                       `json:"request_id"`
}

type chatCommander struct {
	gatewayURL string
	recipient  string

	in  io.Reader
	out io.Writer
}

func newChatCmd(opts *rootOptions) *cobra.Command {
	cmder := &chatCommander{}

	cmd := &cobra.Command{
		Use:   "chat <conversation-id>",
		Short: "Chat in a conversation as the human",
		Long:  chatLongDesc,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cmder.gatewayURL = opts.cfg.Gateway.URL
			if !cmd.Flags().Changed("recipient") {
				cmder.recipient = opts.cfg.Chat.Recipient
			}
			cmder.in = os.Stdin
			cmder.out = cmd.OutOrStdout()
			return cmder.run(cmd.Context(), args[0])
		},
	}

	cmd.Flags().StringVarP(&cmder.recipient, "recipient", "r", "", "Agent that receives the first message")
	return cmd
}

// socketURL maps the gateway base URL to the conversation's websocket URL.
func socketURL(base, conversationID string) (string, error) {
	u, err := url.Parse(base)
	if err != nil {
		return "", fmt.Errorf("parsing gateway url: %w", err)
	}
	switch u.Scheme {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	case "ws", "wss":
	default:
		return "", fmt.Errorf("unsupported gateway url scheme %q", u.Scheme)
	}
	u.Path = strings.TrimSuffix(u.Path, "/") + "/c2/" + url.PathEscape(conversationID)
	return u.String(), nil
}

// parseAnswer splits "Name: text" into a participant and content. Lines
// without a name prefix go to fallback.
func parseAnswer(line, fallback string) (participant, content string) {
	if m := answerPattern.FindStringSubmatch(line); m != nil {
		return m[1], m[2]
	}
	return fallback, line
}

// chatSession is the state of one chat: whether the kickoff was sent, the
// question awaiting an answer, and typed-ahead lines.
type chatSession struct {
	ws             *websocket.Conn
	conversationID string
	out            io.Writer

	started   bool
	pendingID string
	lastAsker string
	queued    []string
}

func (c *chatCommander) run(ctx context.Context, conversationID string) error {
	if c.recipient == "" {
		return errors.New("no recipient: pass --recipient or set chat.recipient in the client config")
	}

	target, err := socketURL(c.gatewayURL, conversationID)
	if err != nil {
		return err
	}

	ws, _, err := websocket.Dial(ctx, target, nil)
	if err != nil {
		return fmt.Errorf("connecting to %s: %w", target, err)
	}
	defer ws.CloseNow()

	fmt.Fprintf(c.out, "\n  %s Connected to %s\n", successMark, agentStyle.Render(conversationID))
	fmt.Fprintf(c.out, "  %s\n\n", dimStyle.Render("Type /exit or press Ctrl+D to leave."))

	s := &chatSession{ws: ws, conversationID: conversationID, out: c.out}

	lines := make(chan string)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(c.in)
		for scanner.Scan() {
			select {
			case lines <- scanner.Text():
			case <-ctx.Done():
				return
			}
		}
	}()

	frames := make(chan serverFrame)
	readErr := make(chan error, 1)
	go func() {
		for {
			var f serverFrame
			if err := wsjson.Read(ctx, ws, &f); err != nil {
				readErr <- err
				return
			}
			select {
			case frames <- f:
			case <-ctx.Done():
				return
			}
		}
	}()

	fmt.Fprint(c.out, humanPrompt)
	for {
		select {
		case <-ctx.Done():
			return ws.Close(websocket.StatusNormalClosure, "bye")

		case line, ok := <-lines:
			if !ok {
				if len(s.queued) == 0 {
					return ws.Close(websocket.StatusNormalClosure, "bye")
				}
				lines = nil
				continue
			}
			line = strings.TrimSpace(line)
			if line == "/exit" {
				return ws.Close(websocket.StatusNormalClosure, "bye")
			}
			if line == "" {
				continue
			}
			if err := s.handleLine(ctx, line, c.recipient); err != nil {
				return err
			}

		case f := <-frames:
			if err := s.handleFrame(ctx, f); err != nil {
				return err
			}
			if lines == nil && len(s.queued) == 0 {
				return ws.Close(websocket.StatusNormalClosure, "bye")
			}

		case err := <-readErr:
			return closedError(c.out, err)
		}
	}
}

// handleLine sends the kickoff, answers the pending question, or queues the
// line until a question arrives.
func (s *chatSession) handleLine(ctx context.Context, line, recipient string) error {
	if !s.started {
		s.started = true
		return wsjson.Write(ctx, s.ws, protocol.Inbound{
			ConversationID: s.conversationID,
			Message:        line,
			Recipient:      recipient,
		})
	}

	if s.pendingID == "" {
		s.queued = append(s.queued, line)
		fmt.Fprintf(s.out, "  %s\n", dimStyle.Render("(queued until an agent asks)"))
		return nil
	}
	return s.answer(ctx, line)
}

func (s *chatSession) answer(ctx context.Context, line string) error {
	participant, content := parseAnswer(line, s.lastAsker)
	requestID := s.pendingID
	s.pendingID = ""

	return wsjson.Write(ctx, s.ws, protocol.Inbound{
		ConversationID:  s.conversationID,
		Message:         content,
		RequestID:       requestID,
		ParticipantName: participant,
	})
}

// handleFrame prints a question or a routing error and makes it the
// pending request. A queued line answers it immediately.
func (s *chatSession) handleFrame(ctx context.Context, f serverFrame) error {
	switch f.ClassName {
	case protocol.ClassNewMessageForHuman:
		s.lastAsker = f.ConversationMessage.Sender
		fmt.Fprintf(s.out, "\n%s %s\n", agentStyle.Render(f.ConversationMessage.Sender+">"), f.ConversationMessage.Content)
	case protocol.ClassRecipientNotFound:
		fmt.Fprintf(s.out, "\n  %s\n", warnStyle.Render(f.Message+"; answer again"))
	default:
		return nil
	}
	s.pendingID = f.RequestID

	if len(s.queued) > 0 {
		line := s.queued[0]
		s.queued = s.queued[1:]
		return s.answer(ctx, line)
	}
	fmt.Fprint(s.out, humanPrompt)
	return nil
}

// closedError reports how the gateway ended the connection.
func closedError(out io.Writer, err error) error {
	switch status := websocket.CloseStatus(err); status {
	case websocket.StatusNormalClosure, websocket.StatusGoingAway:
		fmt.Fprintf(out, "\n  %s\n", dimStyle.Render("Conversation closed by the gateway."))
		return nil
	case websocket.StatusPolicyViolation:
		return errors.New("another client took over this conversation")
	case websocket.StatusCode(protocol.CodeUnprocessable):
		var ce websocket.CloseError
		if errors.As(err, &ce) {
			return fmt.Errorf("gateway rejected a message: %s", ce.Reason)
		}
		return errors.New("gateway rejected a message")
	case -1:
		return fmt.Errorf("connection lost: %w", err)
	default:
		return fmt.Errorf("connection closed with status %d", status)
	}
}
