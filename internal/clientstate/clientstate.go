// Package clientstate persists per-chat widget state between page loads.
//
// Each chat gets one JSON file in a local directory holding its history
// snapshot, unlock set, and captured identity fields. This mirrors what the
// browser widget keeps locally, so a returning visitor can be restored
// server-side. The volume is small (one file per visitor), so a file store
// is sufficient; swap in a database-backed implementation if that changes.
package clientstate

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sync"
	"time"

	"github.com/jjrasche/voice-chat-app/pkg/types"
)

// ErrInvalidChatID is returned when a chat ID contains characters that are
// not safe as a file name.
var ErrInvalidChatID = errors.New("clientstate: invalid chat id")

// validChatID keeps chat IDs filesystem-safe. UUIDs and the widget's
// "chat_<ts>_<rand>" IDs both fit.
var validChatID = regexp.MustCompile(`^[a-zA-Z0-9_-]+$`)

// State is everything the widget remembers about one chat.
type State struct {
	ChatID       string          `json:"chatId"`
	ChatHistory  []types.Message `json:"chatHistory,omitempty"`
	UnlockedDocs []string        `json:"unlockedDocs,omitempty"`
	ActiveDoc    string          `json:"activeDoc,omitempty"`
	UserName     string          `json:"userName,omitempty"`
	JobTitle     string          `json:"jobTitle,omitempty"`
	UserEmail    string          `json:"userEmail,omitempty"`

	// EmailOffered records that the one-time email capture offer was made,
	// so it is never repeated for this chat.
	EmailOffered bool `json:"emailOffered,omitempty"`

	UpdatedAt time.Time `json:"updatedAt"`
}

// FileStore persists one JSON file per chat in a local directory.
// Thread-safe for concurrent use.
type FileStore struct {
	mu  sync.Mutex
	dir string
}

// NewFileStore creates a FileStore rooted at dir, creating the directory if
// it does not exist.
func NewFileStore(dir string) (*FileStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("clientstate: create dir %q: %w", dir, err)
	}
	return &FileStore{dir: dir}, nil
}

// Load returns the stored state for chatID. When no state exists yet, it
// returns a zero State carrying the chat ID, not an error.
func (fs *FileStore) Load(chatID string) (State, error) {
	path, err := fs.path(chatID)
	if err != nil {
		return State{}, err
	}

	fs.mu.Lock()
	defer fs.mu.Unlock()

	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return State{ChatID: chatID}, nil
	}
	if err != nil {
		return State{}, fmt.Errorf("clientstate: read %q: %w", chatID, err)
	}

	var st State
	if err := json.Unmarshal(data, &st); err != nil {
		return State{}, fmt.Errorf("clientstate: decode %q: %w", chatID, err)
	}
	st.ChatID = chatID
	return st, nil
}

// Save writes st under its chat ID, replacing any previous state. The write
// goes through a temp file and rename so readers never see partial JSON.
func (fs *FileStore) Save(st State) error {
	path, err := fs.path(st.ChatID)
	if err != nil {
		return err
	}
	st.UpdatedAt = time.Now().UTC()

	data, err := json.Marshal(st)
	if err != nil {
		return fmt.Errorf("clientstate: marshal %q: %w", st.ChatID, err)
	}

	fs.mu.Lock()
	defer fs.mu.Unlock()

	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("clientstate: write %q: %w", st.ChatID, err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("clientstate: rename %q: %w", st.ChatID, err)
	}
	return nil
}

// Clear removes all stored state for chatID. Clearing a chat that was never
// saved is not an error.
func (fs *FileStore) Clear(chatID string) error {
	path, err := fs.path(chatID)
	if err != nil {
		return err
	}

	fs.mu.Lock()
	defer fs.mu.Unlock()

	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("clientstate: remove %q: %w", chatID, err)
	}
	return nil
}

// path validates chatID and returns its file path.
func (fs *FileStore) path(chatID string) (string, error) {
	if !validChatID.MatchString(chatID) {
		return "", fmt.Errorf("%w: %q", ErrInvalidChatID, chatID)
	}
	return filepath.Join(fs.dir, chatID+".json"), nil
}
