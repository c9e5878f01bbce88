// Package tools holds the catalog of named tools that agents may invoke.
//
// Agent specs reference tools by name. The catalog resolves those names when
// a conversation is created; names it does not know are skipped rather than
// failing the conversation.
package tools
