// ABOUTME: Pending request table correlating human answers to outbound questions
// ABOUTME: Resolves each request exactly once: answered, timed out, or cancelled

package correlate

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/2389/parley-gateway/internal/metrics"
	"github.com/2389/parley-gateway/internal/protocol"
	"github.com/2389/parley-gateway/internal/transport"
)

// DefaultTimeout applies when SendAndAwait is given a non-positive timeout.
const DefaultTimeout = 30 * time.Second

const (
	finishedTTL     = 5 * time.Minute
	finishedMaxSize = 10_000
)

var (
	// ErrRequestTimedOut indicates no answer arrived before the deadline.
	ErrRequestTimedOut = errors.New("request timed out")

	// ErrCancelled indicates the pending request was cancelled before an answer arrived.
	ErrCancelled = errors.New("request cancelled")

	// ErrRequestInFlight indicates the conversation already has an outstanding question.
	ErrRequestInFlight = errors.New("conversation already has a pending request")
)

// Resolution reports what Resolve did with an answer.
type Resolution int

const (
	// Delivered means the answer reached its waiting caller.
	Delivered Resolution = iota
	// Late means the request had already finished; the answer was dropped.
	Late
	// Unknown means the request id was never issued or is long gone; the answer was dropped.
	Unknown
	// Rejected means the request's Check refused the answer; the request is still pending.
	Rejected
)

func (r Resolution) String() string {
	switch r {
	case Delivered:
		return "delivered"
	case Late:
		return "late"
	case Rejected:
		return "rejected"
	default:
		return "unknown"
	}
}

// Sender delivers payloads over a conversation's connection.
type Sender interface {
	Has(conversationID string) bool
	Send(ctx context.Context, conversationID string, payload any) error
}

// Check inspects an answer before it is delivered. A nil reply accepts the
// answer. A non-nil reply rejects it: the reply is sent to the client under
// the same request id and the request keeps waiting until its original
// deadline.
type Check = func(answer *protocol.Inbound) protocol.Request

// outcome is the single terminal result of a pending request.
type outcome struct {
	answer *protocol.Inbound
	err    error
}

// pendingRequest tracks a question awaiting an answer.
type pendingRequest struct {
	conversationID string
	deadline       time.Time
	check          Check
	done           chan outcome // buffer of 1, written exactly once
}

// PendingInfo describes an outstanding request.
type PendingInfo struct {
	RequestID      string
	ConversationID string
	Deadline       time.Time
}

// Table is the pending request table.
type Table struct {
	mu             sync.Mutex
	pending        map[string]*pendingRequest // requestID -> pending request
	byConversation map[string]string          // conversationID -> requestID
	finished       *finishedSet
	sender         Sender
	logger         *slog.Logger
}

// New creates a Table that sends questions through sender.
func New(sender Sender, logger *slog.Logger) *Table {
	if logger == nil {
		logger = slog.Default()
	}
	return &Table{
		pending:        make(map[string]*pendingRequest),
		byConversation: make(map[string]string),
		finished:       newFinishedSet(finishedTTL, finishedMaxSize),
		sender:         sender,
		logger:         logger.With("component", "correlator"),
	}
}

// SendAndAwait sends req to the conversation's client and blocks until the
// correlated answer arrives, the timeout elapses, or the request is cancelled
// (explicitly or through ctx). A non-nil check filters answers; rejected
// answers do not end the request or move its deadline.
func (t *Table) SendAndAwait(ctx context.Context, conversationID string, req protocol.Request, timeout time.Duration, check Check) (*protocol.Inbound, error) {
	// Fail fast without creating state that could never be answered.
	if !t.sender.Has(conversationID) {
		return nil, fmt.Errorf("%w for conversation %s", transport.ErrNoActiveConnection, conversationID)
	}

	if timeout <= 0 {
		timeout = DefaultTimeout
	}

	requestID := uuid.New().String()
	req.SetRequestID(requestID)

	pr := &pendingRequest{
		conversationID: conversationID,
		deadline:       time.Now().Add(timeout),
		check:          check,
		done:           make(chan outcome, 1),
	}

	if err := t.register(requestID, pr); err != nil {
		return nil, err
	}
	defer t.remove(requestID)

	if err := t.sender.Send(ctx, conversationID, req); err != nil {
		return nil, fmt.Errorf("sending request %s: %w", requestID, err)
	}

	t.logger.Debug("request sent",
		"conversation_id", conversationID,
		"request_id", requestID,
		"timeout", timeout,
	)

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case out := <-pr.done:
		return out.answer, out.err

	case <-timer.C:
		if t.finish(requestID, outcome{err: ErrRequestTimedOut}, metrics.OutcomeTimedOut) {
			t.logger.Warn("request timed out",
				"conversation_id", conversationID,
				"request_id", requestID,
			)
		}
		// Whichever outcome won the race is in the channel.
		out := <-pr.done
		return out.answer, out.err

	case <-ctx.Done():
		t.finish(requestID, outcome{err: fmt.Errorf("%w: %w", ErrCancelled, ctx.Err())}, metrics.OutcomeCancelled)
		out := <-pr.done
		return out.answer, out.err
	}
}

// Resolve delivers answer to the request it was issued under. Answers for
// absent request ids are dropped.
func (t *Table) Resolve(requestID string, answer *protocol.Inbound) Resolution {
	if requestID != "" && t.reject(requestID, answer) {
		return Rejected
	}

	if requestID != "" && t.finish(requestID, outcome{answer: answer}, metrics.OutcomeAnswered) {
		t.logger.Debug("request answered", "request_id", requestID)
		return Delivered
	}

	if requestID != "" && t.finished.Seen(requestID) {
		metrics.RequestsResolved.WithLabelValues(metrics.OutcomeLate).Inc()
		t.logger.Info("dropping late answer", "request_id", requestID)
		return Late
	}

	metrics.RequestsResolved.WithLabelValues(metrics.OutcomeUnknown).Inc()
	t.logger.Warn("dropping answer for unknown request", "request_id", requestID)
	return Unknown
}

// reject runs the request's check and, when it refuses the answer, sends the
// reply under the same request id. Reports whether the answer was refused.
func (t *Table) reject(requestID string, answer *protocol.Inbound) bool {
	t.mu.Lock()
	pr, ok := t.pending[requestID]
	t.mu.Unlock()

	if !ok || pr.check == nil {
		return false
	}

	reply := pr.check(answer)
	if reply == nil {
		return false
	}

	metrics.RequestsResolved.WithLabelValues(metrics.OutcomeRejected).Inc()
	t.logger.Info("answer rejected",
		"conversation_id", pr.conversationID,
		"request_id", requestID,
		"participant", answer.ParticipantName,
	)

	reply.SetRequestID(requestID)
	if err := t.sender.Send(context.Background(), pr.conversationID, reply); err != nil {
		t.logger.Warn("failed to send rejection",
			"conversation_id", pr.conversationID,
			"request_id", requestID,
			"error", err,
		)
	}
	return true
}

// Cancel fails a pending request with ErrCancelled. Reports whether a
// pending request was cancelled.
func (t *Table) Cancel(requestID string) bool {
	return t.finish(requestID, outcome{err: ErrCancelled}, metrics.OutcomeCancelled)
}

// CancelConversation cancels the conversation's outstanding request, if any.
func (t *Table) CancelConversation(conversationID string) bool {
	t.mu.Lock()
	requestID, ok := t.byConversation[conversationID]
	t.mu.Unlock()

	if !ok {
		return false
	}
	return t.Cancel(requestID)
}

// Len returns the number of outstanding requests.
func (t *Table) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()

	return len(t.pending)
}

// Pending returns the conversation's outstanding request, if any.
func (t *Table) Pending(conversationID string) (PendingInfo, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	requestID, ok := t.byConversation[conversationID]
	if !ok {
		return PendingInfo{}, false
	}
	pr := t.pending[requestID]
	return PendingInfo{
		RequestID:      requestID,
		ConversationID: pr.conversationID,
		Deadline:       pr.deadline,
	}, true
}

// Close cancels every outstanding request and stops background cleanup.
func (t *Table) Close() {
	t.mu.Lock()
	ids := make([]string, 0, len(t.pending))
	for id := range t.pending {
		ids = append(ids, id)
	}
	t.mu.Unlock()

	for _, id := range ids {
		t.Cancel(id)
	}
	t.finished.Close()
}

// register adds a pending request, enforcing one per conversation.
func (t *Table) register(requestID string, pr *pendingRequest) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if existing, ok := t.byConversation[pr.conversationID]; ok {
		return fmt.Errorf("%w: conversation %s is waiting on %s", ErrRequestInFlight, pr.conversationID, existing)
	}

	t.pending[requestID] = pr
	t.byConversation[pr.conversationID] = requestID
	metrics.PendingRequests.Set(float64(len(t.pending)))
	return nil
}

// finish claims the request and delivers its one terminal outcome.
// Returns false if the request was already finished or never existed.
func (t *Table) finish(requestID string, out outcome, label string) bool {
	t.mu.Lock()
	pr, ok := t.pending[requestID]
	if ok {
		t.deleteLocked(requestID, pr)
	}
	t.mu.Unlock()

	if !ok {
		return false
	}

	t.finished.Mark(requestID)
	metrics.RequestsResolved.WithLabelValues(label).Inc()

	// Buffer of 1 and a single winner, so this never blocks.
	pr.done <- out
	return true
}

// remove drops the request without delivering an outcome. Used on exit
// paths where the waiter has already returned.
func (t *Table) remove(requestID string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if pr, ok := t.pending[requestID]; ok {
		t.deleteLocked(requestID, pr)
		t.finished.Mark(requestID)
	}
}

// deleteLocked removes a request from both indexes. Must be called with mu held.
func (t *Table) deleteLocked(requestID string, pr *pendingRequest) {
	delete(t.pending, requestID)
	if t.byConversation[pr.conversationID] == requestID {
		delete(t.byConversation, pr.conversationID)
	}
	metrics.PendingRequests.Set(float64(len(t.pending)))
}
