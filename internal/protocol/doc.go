// Package protocol defines the JSON envelopes exchanged with human clients
// over a conversation's websocket, and the protocol-level errors that close
// a connection.
//
// # Inbound
//
// Clients send one shape for both kickoffs and answers:
//
//	{"conversation_id": "...", "message": "hi", "recipient": "Bot"}
//	{"conversation_id": "...", "request_id": "...", "participant_name": "Bot", "message": "ok"}
//
// Unknown fields are ignored. A missing conversation_id is replaced with a
// fresh random identifier so a malformed submission can never address an
// existing conversation.
//
// # Outbound
//
// Questions for the human carry a server-generated request_id that the
// answer must echo back:
//
//	{"class_name": "NewMessageForHuman", "conversation_message": {...}, "request_id": "..."}
//	{"class_name": "RecipientNotFound", "message": "...", "request_id": "..."}
package protocol
