// ABOUTME: Protocol-level errors that reject a client frame
// ABOUTME: Carries a websocket close code alongside the sentinel cause

package protocol

import (
	"errors"
	"fmt"
)

// CodeUnprocessable is the websocket close code for a rejected frame.
// Application close codes live in 4000-4999; 4422 mirrors HTTP 422.
const CodeUnprocessable = 4422

var (
	// ErrEmptyMessage indicates a frame without message content.
	ErrEmptyMessage = errors.New("message cannot be empty")

	// ErrMalformedPayload indicates a frame that is not a JSON object.
	ErrMalformedPayload = errors.New("malformed payload")

	// ErrUnknownRecipient indicates a kickoff addressed to a participant
	// that is not part of the conversation.
	ErrUnknownRecipient = errors.New("recipient not found")
)

// Error is a protocol violation. It is connection-level, never fatal to the
// conversation it was addressed to.
type Error struct {
	Code   int
	Reason string
	Err    error
}

// NewError wraps a sentinel cause with a human-readable reason.
func NewError(cause error, reason string) *Error {
	return &Error{
		Code:   CodeUnprocessable,
		Reason: reason,
		Err:    cause,
	}
}

func (e *Error) Error() string {
	if e.Err == nil {
		return e.Reason
	}
	return fmt.Sprintf("%s: %s", e.Err, e.Reason)
}

func (e *Error) Unwrap() error { return e.Err }
