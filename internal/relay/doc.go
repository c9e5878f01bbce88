// Package relay is a deterministic conversation.Advancer.
//
// It stands in for model-backed agent logic so the gateway can run
// conversations end to end: agents run tools on "/tool input", forward to
// "@Name", end the conversation on "/done", and otherwise answer the human.
package relay
