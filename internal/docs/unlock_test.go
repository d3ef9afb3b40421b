package docs_test

import (
	"testing"

	"github.com/jjrasche/voice-chat-app/internal/docs"
)

func newEngine(t *testing.T, opts ...docs.EngineOption) *docs.Engine {
	t.Helper()
	lib, err := docs.NewLibrary()
	if err != nil {
		t.Fatalf("NewLibrary: %v", err)
	}
	return docs.NewEngine(lib, opts...)
}

func TestEngine_SubstringMatch(t *testing.T) {
	t.Parallel()
	e := newEngine(t)

	got := e.Evaluate("I care a lot about Community and open source", nil)
	if len(got) != 2 {
		t.Fatalf("Evaluate returned %d unlocks, want 2: %+v", len(got), got)
	}
	if got[0].Doc != "community" || got[0].Keyword != "community" {
		t.Errorf("got[0] = %+v, want community via community", got[0])
	}
	if got[1].Doc != "platform" || got[1].Keyword != "open source" {
		t.Errorf("got[1] = %+v, want platform via open source", got[1])
	}
}

func TestEngine_MatchesInsideWords(t *testing.T) {
	t.Parallel()
	e := newEngine(t)

	// "workflows" contains "workflow" and "flow"; both docs unlock.
	got := e.Evaluate("my workflows are a mess", nil)
	if len(got) != 2 {
		t.Fatalf("Evaluate returned %d unlocks, want 2: %+v", len(got), got)
	}
	if got[0].Doc != "ai-native" {
		t.Errorf("got[0].Doc = %q, want ai-native", got[0].Doc)
	}
	if got[1].Doc != "flow-graph" {
		t.Errorf("got[1].Doc = %q, want flow-graph", got[1].Doc)
	}
}

func TestEngine_SkipsUnlockedAndAlways(t *testing.T) {
	t.Parallel()
	e := newEngine(t)

	unlocked := map[string]bool{"community": true}
	got := e.Evaluate("community beliefs collaboration", unlocked)
	if len(got) != 0 {
		t.Errorf("Evaluate returned %+v, want none (community already unlocked, beliefs always unlocked)", got)
	}
}

func TestEngine_NoMatch(t *testing.T) {
	t.Parallel()
	e := newEngine(t)

	if got := e.Evaluate("the weather is nice today", nil); len(got) != 0 {
		t.Errorf("Evaluate returned %+v, want none", got)
	}
}

func TestEngine_CaseInsensitive(t *testing.T) {
	t.Parallel()
	e := newEngine(t)

	got := e.Evaluate("PRODUCTIVITY matters", nil)
	if len(got) != 1 || got[0].Doc != "ai-native" {
		t.Fatalf("Evaluate = %+v, want ai-native", got)
	}
}

func TestEngine_PhoneticFallback(t *testing.T) {
	t.Parallel()
	e := newEngine(t, docs.WithMatcher(docs.NewMatcher()))

	// Speech recognition often produces "colaboration" style misspellings
	// that never match a literal substring.
	got := e.Evaluate("I value colaboration with my team", nil)
	if len(got) != 1 {
		t.Fatalf("Evaluate returned %d unlocks, want 1: %+v", len(got), got)
	}
	if got[0].Doc != "community" || !got[0].Phonetic {
		t.Errorf("got[0] = %+v, want phonetic community unlock", got[0])
	}
}

func TestEngine_PhoneticOffByDefault(t *testing.T) {
	t.Parallel()
	e := newEngine(t)

	if got := e.Evaluate("I value colaboration with my team", nil); len(got) != 0 {
		t.Errorf("Evaluate = %+v, want none without a matcher", got)
	}
}
