// Package docs holds the document library and the keyword unlock engine.
//
// Documents are static markdown content units gated behind keyword rules.
// A [Library] is built from the embedded built-in set and may be overridden
// or extended from a directory of markdown files. The [Engine] evaluates
// visitor transcripts against the unlock rules.
package docs

import (
	"embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"unicode"

	"github.com/jjrasche/voice-chat-app/pkg/types"
)

//go:embed builtin/*.md
var builtinFS embed.FS

// ErrNotFound is returned by [Library.Get] for unknown document names.
var ErrNotFound = errors.New("docs: document not found")

// ErrInvalidName is returned by [Library.Get] when the requested name
// contains characters outside [A-Za-z0-9-].
var ErrInvalidName = errors.New("docs: invalid document name")

// validName restricts document names to filesystem- and URL-safe tokens.
var validName = regexp.MustCompile(`^[a-zA-Z0-9-]+$`)

// builtinDef declares the rule metadata for one embedded document. The body
// lives in builtin/<name>.md.
type builtinDef struct {
	name     string
	label    string
	icon     string
	always   bool
	keywords []string
}

// builtinDefs is the built-in document set, in sidebar display order.
var builtinDefs = []builtinDef{
	{name: "beliefs", label: "Beliefs", icon: "📚", always: true},
	{name: "ai-native", label: "AI Native", icon: "🤖", keywords: []string{"ai native", "ai tools", "productivity", "workflow"}},
	{name: "community", label: "Community", icon: "👥", keywords: []string{"community", "collaboration", "consensus", "collective"}},
	{name: "flow-graph", label: "Flow Graph", icon: "🧠", keywords: []string{"knowledge", "graph", "flow", "thinking"}},
	{name: "contribute", label: "Contribute", icon: "🔨", keywords: []string{"contribute", "build", "help", "join"}},
	{name: "platform", label: "Platform", icon: "⚡", keywords: []string{"platform", "technical", "browser", "open source"}},
}

// DefaultDoc is the document shown before any unlock happens.
const DefaultDoc = "beliefs"

// Library is an immutable, ordered collection of documents. Safe for
// concurrent use after construction.
type Library struct {
	byName     map[string]types.Document
	order      []string
	defaultDoc string
}

// NewLibrary builds a Library from the embedded built-in documents.
func NewLibrary() (*Library, error) {
	lib := &Library{
		byName:     make(map[string]types.Document, len(builtinDefs)),
		defaultDoc: DefaultDoc,
	}
	for _, def := range builtinDefs {
		body, err := builtinFS.ReadFile("builtin/" + def.name + ".md")
		if err != nil {
			return nil, fmt.Errorf("docs: read builtin %q: %w", def.name, err)
		}
		lib.byName[def.name] = types.Document{
			Name:    def.name,
			Label:   def.label,
			Icon:    def.icon,
			Content: string(body),
			Rule: types.UnlockRule{
				AlwaysUnlocked: def.always,
				Keywords:       def.keywords,
			},
		}
		lib.order = append(lib.order, def.name)
	}
	return lib, nil
}

// LoadDir overlays markdown files from dir onto the library. A file whose
// base name matches an existing document replaces that document's content;
// other files become new documents with no unlock keywords (they stay locked
// until a rule is added). Non-markdown files are ignored.
func (l *Library) LoadDir(dir string) error {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return fmt.Errorf("docs: read dir %q: %w", dir, err)
	}

	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".md") {
			continue
		}
		name := strings.TrimSuffix(entry.Name(), ".md")
		if !validName.MatchString(name) {
			return fmt.Errorf("%w: %q", ErrInvalidName, name)
		}

		body, err := os.ReadFile(filepath.Join(dir, entry.Name()))
		if err != nil {
			return fmt.Errorf("docs: read %q: %w", entry.Name(), err)
		}

		if doc, ok := l.byName[name]; ok {
			doc.Content = string(body)
			l.byName[name] = doc
			continue
		}
		l.byName[name] = types.Document{
			Name:    name,
			Label:   Title(name, string(body)),
			Icon:    "📄",
			Content: string(body),
		}
		l.order = append(l.order, name)
	}
	return nil
}

// SetDefault changes the document shown before any unlock. The name must
// refer to an existing document.
func (l *Library) SetDefault(name string) error {
	if _, ok := l.byName[name]; !ok {
		return fmt.Errorf("%w: %q", ErrNotFound, name)
	}
	l.defaultDoc = name
	return nil
}

// Default returns the name of the document shown before any unlock.
func (l *Library) Default() string { return l.defaultDoc }

// Get returns the document with the given name. The name is validated
// before lookup so path-like input never reaches the library.
func (l *Library) Get(name string) (types.Document, error) {
	if !validName.MatchString(name) {
		return types.Document{}, fmt.Errorf("%w: %q", ErrInvalidName, name)
	}
	doc, ok := l.byName[name]
	if !ok {
		return types.Document{}, fmt.Errorf("%w: %q", ErrNotFound, name)
	}
	return doc, nil
}

// List returns all documents in display order.
func (l *Library) List() []types.Document {
	out := make([]types.Document, 0, len(l.order))
	for _, name := range l.order {
		out = append(out, l.byName[name])
	}
	return out
}

// AlwaysUnlocked returns the names of documents that need no keyword match.
func (l *Library) AlwaysUnlocked() []string {
	var out []string
	for _, name := range l.order {
		if l.byName[name].Rule.AlwaysUnlocked {
			out = append(out, name)
		}
	}
	return out
}

// Title derives a display title for a document: the text of the first
// level-one markdown heading, or the capitalized name when no heading exists.
func Title(name, content string) string {
	for _, line := range strings.Split(content, "\n") {
		if rest, ok := strings.CutPrefix(line, "# "); ok {
			if t := strings.TrimSpace(rest); t != "" {
				return t
			}
		}
	}
	return capitalize(name)
}

// capitalize upper-cases the first rune of s.
func capitalize(s string) string {
	if s == "" {
		return s
	}
	r := []rune(s)
	r[0] = unicode.ToUpper(r[0])
	return string(r)
}
