// Package types defines the shared types used across the voice-chat-app
// packages.
//
// These types form the lingua franca between the capture layer, the session
// controller, the exchange backends, and the persistence stores. Packages
// define their own domain types; only cross-cutting data structures live
// here, to avoid circular imports.
package types

import "time"

// Message roles. Only user and assistant messages appear in a session's
// history; the system role exists for prompts sent to completion backends.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Message is a single entry in a conversation history. Messages are
// immutable once appended to a session; ordering is append order.
type Message struct {
	// Role is one of "user", "assistant", or "system".
	Role string `json:"role"`

	// Content is the text content of the message.
	Content string `json:"content"`

	// Timestamp is when the message was appended.
	Timestamp time.Time `json:"timestamp"`

	// Metadata carries the captured visitor identity at the time of the
	// utterance. Nil for messages without metadata.
	Metadata *MessageMetadata `json:"metadata,omitempty"`
}

// MessageMetadata records what was known about the speaker when a message
// was appended.
type MessageMetadata struct {
	// Name is the visitor's name, or "AI" for assistant messages.
	Name string `json:"name,omitempty"`

	// Job is the visitor's job title, if known.
	Job string `json:"job,omitempty"`
}

// Document is a static, keyword-gated content unit. Documents are
// process-wide constant data; sessions reference them by Name only.
type Document struct {
	// Name is the stable identifier, restricted to [A-Za-z0-9-]+.
	Name string `json:"name"`

	// Label is the human-readable display name.
	Label string `json:"label"`

	// Icon is the presentation glyph shown in the sidebar.
	Icon string `json:"icon"`

	// Content is the markdown body.
	Content string `json:"content"`

	// Rule decides when the document becomes visible.
	Rule UnlockRule `json:"rule"`
}

// UnlockRule is the condition under which a gated document becomes visible:
// either always unlocked, or any trigger keyword appearing as a
// case-insensitive substring of the conversation text.
type UnlockRule struct {
	// AlwaysUnlocked marks the document as visible from session start.
	AlwaysUnlocked bool `json:"alwaysUnlocked"`

	// Keywords are the case-insensitive trigger substrings.
	Keywords []string `json:"keywords,omitempty"`
}

// ContextDoc is the name+content pair sent to the completion backend as
// conversation context.
type ContextDoc struct {
	Name    string `json:"name"`
	Content string `json:"content"`
}

// Extraction is the best-effort structured guess returned by the exchange
// backend in extraction mode. Nil fields mean unknown, never an error.
type Extraction struct {
	UserName *string `json:"userName"`
	JobTitle *string `json:"jobTitle"`
}
