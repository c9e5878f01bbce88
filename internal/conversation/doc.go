// Package conversation owns live multi-party conversations.
//
// # Sessions
//
// A Session is one conversation: a fixed participant set (one Human named
// "human" plus agents), an ordered history, and at most one unprocessed
// message. Its lifecycle:
//
//	NOT_STARTED --StartAsHuman--> RUNNING <--answer-- AWAITING_HUMAN
//	                                 |  \--human-directed message--^
//	                                 \--no unprocessed message / error--> TERMINATED
//
// While RUNNING the turn loop hands agent-addressed messages to an injected
// Advancer. A message addressed to the human suspends the loop on the Asker
// (the correlator) until the human answers, the question times out, or the
// session is stopped. An answer naming an unknown participant is met with a
// RecipientNotFound notice carrying the same request_id, and the question
// stays open until its original deadline.
//
// Every message that enters history is appended to the store (best effort)
// and published on the Broadcaster.
//
// # Registry
//
// The Registry is the sole owner of session lifetime:
//
//	id, err := reg.Create(ctx, conversation.Spec{Name: "team", Agents: agents})
//	session, ok := reg.Lookup(id)
//	err = reg.Remove(id)
//
// Turn loops run on a conc.WaitGroup so Close can wait for all of them.
package conversation
