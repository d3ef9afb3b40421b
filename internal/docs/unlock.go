package docs

import "strings"

// Unlock records one document unlock and the keyword that triggered it.
type Unlock struct {
	// Doc is the unlocked document name.
	Doc string

	// Keyword is the rule keyword that matched.
	Keyword string

	// Phonetic is true when the match came from the sound-alike matcher
	// rather than a literal substring.
	Phonetic bool
}

// EngineOption is a functional option for configuring an [Engine].
type EngineOption func(*Engine)

// WithMatcher enables sound-alike keyword matching using the given matcher.
// Without it, only literal case-insensitive substring matches unlock
// documents.
func WithMatcher(m *Matcher) EngineOption {
	return func(e *Engine) {
		e.matcher = m
	}
}

// Engine evaluates visitor transcripts against the library's unlock rules.
// It holds no per-session state: callers pass the set of already-unlocked
// names and receive only the newly unlocked documents. Safe for concurrent
// use.
type Engine struct {
	lib     *Library
	matcher *Matcher
}

// NewEngine returns an Engine over the given library.
func NewEngine(lib *Library, opts ...EngineOption) *Engine {
	e := &Engine{lib: lib}
	for _, o := range opts {
		o(e)
	}
	return e
}

// Evaluate returns the documents newly unlocked by transcript, in library
// display order. Documents already present in unlocked and always-unlocked
// documents are never returned. Matching is case-insensitive; keywords match
// anywhere in the transcript, including inside longer words.
func (e *Engine) Evaluate(transcript string, unlocked map[string]bool) []Unlock {
	lower := strings.ToLower(transcript)
	var tokens []string
	if e.matcher != nil {
		tokens = strings.Fields(lower)
	}

	var out []Unlock
	for _, doc := range e.lib.List() {
		if doc.Rule.AlwaysUnlocked || unlocked[doc.Name] || len(doc.Rule.Keywords) == 0 {
			continue
		}
		if u, ok := e.match(lower, tokens, doc.Name, doc.Rule.Keywords); ok {
			out = append(out, u)
		}
	}
	return out
}

// match tests one document's keywords against the transcript. Substring
// matches win over phonetic ones.
func (e *Engine) match(lower string, tokens []string, doc string, keywords []string) (Unlock, bool) {
	for _, kw := range keywords {
		if strings.Contains(lower, strings.ToLower(kw)) {
			return Unlock{Doc: doc, Keyword: kw}, true
		}
	}

	if e.matcher == nil {
		return Unlock{}, false
	}

	for _, kw := range keywords {
		width := len(strings.Fields(kw))
		if width == 0 {
			continue
		}
		for i := 0; i+width <= len(tokens); i++ {
			phrase := strings.Join(tokens[i:i+width], " ")
			if _, _, ok := e.matcher.Match(phrase, []string{kw}); ok {
				return Unlock{Doc: doc, Keyword: kw, Phonetic: true}, true
			}
		}
	}
	return Unlock{}, false
}
