package docs

import (
	"strings"

	"github.com/antzucaro/matchr"
)

const (
	defaultPhoneticThreshold = 0.70
	defaultFuzzyThreshold    = 0.85
)

// MatcherOption is a functional option for configuring a [Matcher].
type MatcherOption func(*Matcher)

// WithPhoneticThreshold sets the minimum Jaro-Winkler score required for a
// phonetically-matched keyword to be accepted. Default: 0.70.
func WithPhoneticThreshold(threshold float64) MatcherOption {
	return func(m *Matcher) {
		m.phoneticThreshold = threshold
	}
}

// WithFuzzyThreshold sets the minimum Jaro-Winkler score required when no
// phonetic match is found and the matcher falls back to pure string
// similarity. Default: 0.85.
func WithFuzzyThreshold(threshold float64) MatcherOption {
	return func(m *Matcher) {
		m.fuzzyThreshold = threshold
	}
}

// Matcher matches spoken phrases against unlock keywords by sound rather
// than spelling, compensating for speech recognition errors ("flo graf" for
// "flow graph"). It combines Double Metaphone candidate filtering with
// Jaro-Winkler ranking:
//
//  1. Double Metaphone codes are computed for each token of the phrase and
//     each token of the keyword. Any code overlap makes the keyword a
//     phonetic candidate.
//  2. Candidates are ranked by Jaro-Winkler similarity on the original
//     strings (case-insensitive) and accepted above the phonetic threshold.
//     When no phonetic candidate exists, a pure similarity pass with a
//     stricter threshold catches near-spellings.
//
// Multi-word keywords ("open source") are supported; the matcher considers
// full-string, concatenated, and best pairwise token scores.
//
// All methods are safe for concurrent use. The Matcher is read-only after
// construction.
type Matcher struct {
	phoneticThreshold float64
	fuzzyThreshold    float64
}

// NewMatcher returns a [Matcher] configured with the supplied options.
func NewMatcher(opts ...MatcherOption) *Matcher {
	m := &Matcher{
		phoneticThreshold: defaultPhoneticThreshold,
		fuzzyThreshold:    defaultFuzzyThreshold,
	}
	for _, o := range opts {
		o(m)
	}
	return m
}

// Match reports whether phrase sounds like any of the keywords. When matched
// is true, keyword holds the winning keyword and confidence its score. When
// matched is false, keyword is empty and confidence is 0.
func (m *Matcher) Match(phrase string, keywords []string) (keyword string, confidence float64, matched bool) {
	if len(keywords) == 0 || strings.TrimSpace(phrase) == "" {
		return "", 0, false
	}

	phraseLower := strings.ToLower(strings.TrimSpace(phrase))
	phraseTokens := strings.Fields(phraseLower)
	phraseCodes := codesForTokens(phraseTokens)

	type candidate struct {
		keyword  string
		score    float64
		phonetic bool
	}
	var best candidate

	for _, kw := range keywords {
		kwLower := strings.ToLower(strings.TrimSpace(kw))
		if kwLower == "" {
			continue
		}
		kwTokens := strings.Fields(kwLower)

		phoneticMatch := codesOverlap(phraseCodes, codesForTokens(kwTokens))
		score := bestSimilarity(phraseTokens, kwTokens, phraseLower, kwLower)

		if phoneticMatch {
			if score >= m.phoneticThreshold {
				if !best.phonetic || score > best.score {
					best = candidate{keyword: kw, score: score, phonetic: true}
				}
			}
		} else if !best.phonetic {
			if score >= m.fuzzyThreshold && score > best.score {
				best = candidate{keyword: kw, score: score}
			}
		}
	}

	if best.keyword != "" {
		return best.keyword, best.score, true
	}
	return "", 0, false
}

// codesForTokens returns the union of all Double Metaphone codes for the
// given tokens. Empty codes are excluded.
func codesForTokens(tokens []string) map[string]struct{} {
	codes := make(map[string]struct{}, len(tokens)*2)
	for _, t := range tokens {
		p, s := matchr.DoubleMetaphone(t)
		if p != "" {
			codes[p] = struct{}{}
		}
		if s != "" {
			codes[s] = struct{}{}
		}
	}
	return codes
}

// codesOverlap reports whether the two code sets share at least one code.
func codesOverlap(a, b map[string]struct{}) bool {
	if len(a) > len(b) {
		a, b = b, a
	}
	for code := range a {
		if _, ok := b[code]; ok {
			return true
		}
	}
	return false
}

// bestSimilarity computes the highest Jaro-Winkler similarity between the
// phrase and the keyword, comparing full strings, space-stripped strings,
// and every token pair.
func bestSimilarity(phraseTokens, kwTokens []string, phraseFull, kwFull string) float64 {
	score := matchr.JaroWinkler(phraseFull, kwFull, false)

	if len(phraseTokens) > 1 || len(kwTokens) > 1 {
		c1 := strings.Join(phraseTokens, "")
		c2 := strings.Join(kwTokens, "")
		if s := matchr.JaroWinkler(c1, c2, false); s > score {
			score = s
		}
	}

	for _, pt := range phraseTokens {
		for _, kt := range kwTokens {
			if s := matchr.JaroWinkler(pt, kt, false); s > score {
				score = s
			}
		}
	}

	return score
}
