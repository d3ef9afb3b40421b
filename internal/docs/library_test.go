package docs_test

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/jjrasche/voice-chat-app/internal/docs"
)

func TestNewLibrary_Builtins(t *testing.T) {
	t.Parallel()

	lib, err := docs.NewLibrary()
	if err != nil {
		t.Fatalf("NewLibrary: %v", err)
	}

	list := lib.List()
	wantOrder := []string{"beliefs", "ai-native", "community", "flow-graph", "contribute", "platform"}
	if len(list) != len(wantOrder) {
		t.Fatalf("List() returned %d docs, want %d", len(list), len(wantOrder))
	}
	for i, name := range wantOrder {
		if list[i].Name != name {
			t.Errorf("List()[%d].Name = %q, want %q", i, list[i].Name, name)
		}
	}

	beliefs, err := lib.Get("beliefs")
	if err != nil {
		t.Fatalf("Get(beliefs): %v", err)
	}
	if !beliefs.Rule.AlwaysUnlocked {
		t.Error("beliefs should be always unlocked")
	}
	if !strings.HasPrefix(beliefs.Content, "# BELIEFS") {
		t.Errorf("beliefs content should start with heading, got %q", beliefs.Content[:20])
	}

	if got := lib.Default(); got != "beliefs" {
		t.Errorf("Default() = %q, want beliefs", got)
	}
	if got := lib.AlwaysUnlocked(); len(got) != 1 || got[0] != "beliefs" {
		t.Errorf("AlwaysUnlocked() = %v, want [beliefs]", got)
	}
}

func TestLibrary_Get_Validation(t *testing.T) {
	t.Parallel()

	lib, err := docs.NewLibrary()
	if err != nil {
		t.Fatalf("NewLibrary: %v", err)
	}

	if _, err := lib.Get("../etc/passwd"); !errors.Is(err, docs.ErrInvalidName) {
		t.Errorf("Get(path traversal) err = %v, want ErrInvalidName", err)
	}
	if _, err := lib.Get("unknown-doc"); !errors.Is(err, docs.ErrNotFound) {
		t.Errorf("Get(unknown) err = %v, want ErrNotFound", err)
	}
}

func TestLibrary_LoadDir(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	override := "# REPLACED\nnew beliefs body\n"
	if err := os.WriteFile(filepath.Join(dir, "beliefs.md"), []byte(override), 0o644); err != nil {
		t.Fatal(err)
	}
	extra := "# Roadmap\nwhat comes next\n"
	if err := os.WriteFile(filepath.Join(dir, "roadmap.md"), []byte(extra), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("ignored"), 0o644); err != nil {
		t.Fatal(err)
	}

	lib, err := docs.NewLibrary()
	if err != nil {
		t.Fatalf("NewLibrary: %v", err)
	}
	if err := lib.LoadDir(dir); err != nil {
		t.Fatalf("LoadDir: %v", err)
	}

	beliefs, err := lib.Get("beliefs")
	if err != nil {
		t.Fatalf("Get(beliefs): %v", err)
	}
	if beliefs.Content != override {
		t.Errorf("beliefs content not overridden, got %q", beliefs.Content)
	}
	// Rule metadata survives a content override.
	if !beliefs.Rule.AlwaysUnlocked {
		t.Error("beliefs rule lost after override")
	}

	roadmap, err := lib.Get("roadmap")
	if err != nil {
		t.Fatalf("Get(roadmap): %v", err)
	}
	if roadmap.Label != "Roadmap" {
		t.Errorf("roadmap label = %q, want Roadmap", roadmap.Label)
	}
	if len(roadmap.Rule.Keywords) != 0 || roadmap.Rule.AlwaysUnlocked {
		t.Error("new docs should start locked with no keywords")
	}

	if _, err := lib.Get("notes"); !errors.Is(err, docs.ErrNotFound) {
		t.Error("non-markdown files should not become documents")
	}
}

func TestTitle(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name    string
		docName string
		content string
		want    string
	}{
		{"from heading", "beliefs", "# BELIEFS\nbody", "BELIEFS"},
		{"heading with spaces", "x", "#   Flow Graph  \nbody", "Flow Graph"},
		{"no heading", "platform", "just text", "Platform"},
		{"heading later in file", "x", "intro\n# Later\n", "Later"},
		{"empty content", "ai-native", "", "Ai-native"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			if got := docs.Title(tc.docName, tc.content); got != tc.want {
				t.Errorf("Title(%q, %q) = %q, want %q", tc.docName, tc.content, got, tc.want)
			}
		})
	}
}
