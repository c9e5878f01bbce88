// ABOUTME: Single entry point for inbound client frames
// ABOUTME: Routes a frame to a conversation kickoff or to the correlator as an answer

package dispatch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/2389/parley-gateway/internal/conversation"
	"github.com/2389/parley-gateway/internal/correlate"
	"github.com/2389/parley-gateway/internal/metrics"
	"github.com/2389/parley-gateway/internal/protocol"
)

// Conversations looks up live sessions.
type Conversations interface {
	Lookup(id string) (*conversation.Session, bool)
}

// Resolver delivers answers to pending requests.
type Resolver interface {
	Resolve(requestID string, answer *protocol.Inbound) correlate.Resolution
}

// Dispatcher routes inbound frames.
type Dispatcher struct {
	conversations Conversations
	resolver      Resolver
	logger        *slog.Logger
}

// New creates a Dispatcher.
func New(conversations Conversations, resolver Resolver, logger *slog.Logger) *Dispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Dispatcher{
		conversations: conversations,
		resolver:      resolver,
		logger:        logger.With("component", "dispatcher"),
	}
}

// HandleFrame decodes a raw client frame and dispatches it.
func (d *Dispatcher) HandleFrame(ctx context.Context, data []byte) error {
	in, err := protocol.DecodeInbound(data)
	if err != nil {
		countProtocolError(err)
		return err
	}
	return d.Handle(ctx, in)
}

// Handle dispatches one inbound frame. Frames for unknown conversations are
// logged and dropped. A *protocol.Error is returned for frames that violate
// the protocol; the conversation itself is never affected by them.
func (d *Dispatcher) Handle(_ context.Context, in *protocol.Inbound) error {
	logger := d.logger.With("conversation_id", in.ConversationID)

	session, ok := d.conversations.Lookup(in.ConversationID)
	if !ok {
		logger.Warn("dropping frame for unknown conversation")
		return nil
	}

	if in.Message == "" {
		err := protocol.NewError(protocol.ErrEmptyMessage, "message is required")
		countProtocolError(err)
		return err
	}

	if !session.Started() {
		return d.kickoff(logger, session, in)
	}

	resolution := d.resolver.Resolve(in.RequestID, in)
	logger.Debug("answer dispatched",
		"request_id", in.RequestID,
		"participant", in.ParticipantName,
		"resolution", resolution.String(),
	)
	return nil
}

// kickoff starts a not-yet-started conversation with the human's first message.
func (d *Dispatcher) kickoff(logger *slog.Logger, session *conversation.Session, in *protocol.Inbound) error {
	if _, ok := session.FindAgent(in.Recipient); !ok {
		err := protocol.NewError(protocol.ErrUnknownRecipient, fmt.Sprintf("no agent named %q", in.Recipient))
		countProtocolError(err)
		logger.Warn("kickoff for unknown recipient", "recipient", in.Recipient)
		return err
	}

	if err := session.StartAsHuman(in.Recipient, in.Message); err != nil {
		return fmt.Errorf("starting conversation %s: %w", session.ID(), err)
	}

	logger.Info("conversation kicked off", "recipient", in.Recipient)
	return nil
}

func countProtocolError(err error) {
	reason := "other"
	switch {
	case errors.Is(err, protocol.ErrEmptyMessage):
		reason = "empty_message"
	case errors.Is(err, protocol.ErrMalformedPayload):
		reason = "malformed_payload"
	case errors.Is(err, protocol.ErrUnknownRecipient):
		reason = "unknown_recipient"
	}
	metrics.ProtocolErrors.WithLabelValues(reason).Inc()
}
