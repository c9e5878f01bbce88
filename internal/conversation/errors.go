// ABOUTME: Sentinel errors for conversation sessions and the registry
// ABOUTME: Callers match these with errors.Is

package conversation

import "errors"

var (
	// ErrUnknownConversation indicates no live conversation has the id.
	ErrUnknownConversation = errors.New("unknown conversation")

	// ErrConversationExists indicates a live conversation already has the id.
	ErrConversationExists = errors.New("conversation already exists")

	// ErrAlreadyStarted indicates a kickoff for a conversation that has history.
	ErrAlreadyStarted = errors.New("conversation already started")

	// ErrUnknownParticipant indicates a name that matches no participant of the required kind.
	ErrUnknownParticipant = errors.New("unknown participant")

	// ErrInvalidSpec indicates a conversation spec that cannot be built.
	ErrInvalidSpec = errors.New("invalid conversation spec")

	// ErrStopped indicates the conversation was removed.
	ErrStopped = errors.New("conversation stopped")
)
