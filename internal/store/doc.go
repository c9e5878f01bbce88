// Package store persists conversation transcripts.
//
// # Model
//
// A transcript is an append-only, ordered log of messages per conversation.
// Appends are best effort from the caller's point of view: the conversation
// layer logs failures and carries on.
//
// # Drivers
//
//   - FileStore: one JSON file per conversation at
//     <dir>/<id>/conversations/<id>_messages.json, read whole and rewritten
//     whole (via a temp file and rename) on every append
//   - SQLiteStore: a messages table in a modernc.org/sqlite database
//   - MemoryStore: process-local, for tests and throwaway gateways
//
// Open selects a driver by name.
package store
