// Package dispatch decides what an inbound client frame means.
//
// For a live conversation that has no history yet, the frame is a kickoff
// and its recipient must name an agent. Once the conversation has started,
// every frame is an answer and is handed to the correlator by its
// request_id, never by conversation id.
package dispatch
