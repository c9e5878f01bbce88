// Package correlate matches asynchronously delivered answers to the exact
// question that asked for them.
//
// # Request/Response Correlation
//
// SendAndAwait:
//
//  1. Fails fast with transport.ErrNoActiveConnection if the conversation has
//     no client, before any state is created
//  2. Generates a fresh request_id and stamps it on the outbound envelope
//  3. Registers a pending entry, sends, and waits for exactly one of:
//     an answer (Resolve), the deadline (ErrRequestTimedOut), or
//     cancellation (ErrCancelled)
//  4. Removes the entry on every exit path
//
// Resolve delivers an answer by request_id. Unknown, already answered and
// expired identifiers are dropped; correctness never depends on the client
// echoing honest identifiers.
//
// A request may carry a Check. An answer the check refuses is met with the
// check's reply, sent under the same request_id, and the request keeps
// waiting on its original deadline. A corrected answer echoes that id.
//
// At most one question may be outstanding per conversation. A second
// concurrent SendAndAwait for the same conversation fails with
// ErrRequestInFlight.
package correlate
