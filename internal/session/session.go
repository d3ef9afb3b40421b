package session

import (
	"time"

	"github.com/google/uuid"

	"github.com/jjrasche/voice-chat-app/internal/clientstate"
	"github.com/jjrasche/voice-chat-app/internal/docs"
	"github.com/jjrasche/voice-chat-app/pkg/types"
)

// Session is the per-visitor conversation state. It is not safe for
// concurrent use on its own; the Controller guards it with its mutex.
type Session struct {
	// ChatID is the opaque session token, a UUIDv4 string.
	ChatID string

	// Messages is the append-only conversation history.
	Messages []types.Message

	// unlocked is the grow-only set of unlocked document names, with
	// unlockOrder preserving insertion order.
	unlocked    map[string]bool
	unlockOrder []string

	// ActiveDoc is the document currently on display.
	ActiveDoc string

	// Visitor identity, filled by extraction or by the visitor directly.
	UserName string
	JobTitle string
	Email    string

	// EmailOffered records that the email-capture prompt has been shown.
	// It is never cleared within a session.
	EmailOffered bool
}

// NewSession creates a fresh session with a new chat ID, the library's
// always-unlocked documents unlocked, and the default document active.
func NewSession(lib *docs.Library) *Session {
	s := &Session{
		ChatID:   uuid.NewString(),
		unlocked: make(map[string]bool),
	}
	for _, name := range lib.AlwaysUnlocked() {
		s.unlocked[name] = true
		s.unlockOrder = append(s.unlockOrder, name)
	}
	s.ActiveDoc = lib.Default()
	return s
}

// AppendUser appends a user message stamped now, carrying the current
// identity fields as metadata.
func (s *Session) AppendUser(content string) types.Message {
	msg := types.Message{
		Role:      types.RoleUser,
		Content:   content,
		Timestamp: time.Now().UTC(),
		Metadata:  &types.MessageMetadata{Name: s.UserName, Job: s.JobTitle},
	}
	s.Messages = append(s.Messages, msg)
	return msg
}

// AppendAssistant appends an assistant message stamped now.
func (s *Session) AppendAssistant(content string) types.Message {
	msg := types.Message{
		Role:      types.RoleAssistant,
		Content:   content,
		Timestamp: time.Now().UTC(),
		Metadata:  &types.MessageMetadata{Name: "AI"},
	}
	s.Messages = append(s.Messages, msg)
	return msg
}

// Unlock adds name to the unlocked set and makes it the active document.
// It reports whether the document was newly unlocked.
func (s *Session) Unlock(name string) bool {
	if s.unlocked[name] {
		return false
	}
	s.unlocked[name] = true
	s.unlockOrder = append(s.unlockOrder, name)
	s.ActiveDoc = name
	return true
}

// IsUnlocked reports whether name is unlocked.
func (s *Session) IsUnlocked(name string) bool { return s.unlocked[name] }

// UnlockedDocs returns the unlocked document names in unlock order.
func (s *Session) UnlockedDocs() []string {
	out := make([]string, len(s.unlockOrder))
	copy(out, s.unlockOrder)
	return out
}

// UnlockedSet returns a snapshot of the unlocked set for evaluation.
func (s *Session) UnlockedSet() map[string]bool {
	out := make(map[string]bool, len(s.unlocked))
	for name := range s.unlocked {
		out[name] = true
	}
	return out
}

// State converts the session into its client-persisted form.
func (s *Session) State() clientstate.State {
	return clientstate.State{
		ChatID:       s.ChatID,
		ChatHistory:  s.Messages,
		UnlockedDocs: s.UnlockedDocs(),
		ActiveDoc:    s.ActiveDoc,
		UserName:     s.UserName,
		JobTitle:     s.JobTitle,
		UserEmail:    s.Email,
		EmailOffered: s.EmailOffered,
	}
}

// RestoreSession rebuilds a session from client-persisted state. The
// library's always-unlocked documents are unlocked regardless of what
// the saved state claims; the saved active doc is honored only when it
// is actually unlocked. A saved email implies the capture prompt was
// already answered, so it is never offered again.
func RestoreSession(lib *docs.Library, st clientstate.State) *Session {
	s := &Session{
		ChatID:       st.ChatID,
		Messages:     st.ChatHistory,
		unlocked:     make(map[string]bool),
		UserName:     st.UserName,
		JobTitle:     st.JobTitle,
		Email:        st.UserEmail,
		EmailOffered: st.EmailOffered,
	}
	if s.ChatID == "" {
		s.ChatID = uuid.NewString()
	}
	for _, name := range lib.AlwaysUnlocked() {
		if !s.unlocked[name] {
			s.unlocked[name] = true
			s.unlockOrder = append(s.unlockOrder, name)
		}
	}
	for _, name := range st.UnlockedDocs {
		if !s.unlocked[name] {
			s.unlocked[name] = true
			s.unlockOrder = append(s.unlockOrder, name)
		}
	}
	s.ActiveDoc = lib.Default()
	if st.ActiveDoc != "" && s.unlocked[st.ActiveDoc] {
		s.ActiveDoc = st.ActiveDoc
	}
	if s.Email != "" {
		s.EmailOffered = true
	}
	return s
}
