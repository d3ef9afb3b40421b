// Package session implements the per-visitor conversation core: the
// transcript accumulator, the pause detector, the progressive engagement
// script, the session entity, and the controller that ties them to the
// speech capture, chat, unlock, and persistence layers.
package session

import (
	"sort"
	"strings"
	"sync"

	"github.com/jjrasche/voice-chat-app/pkg/capture"
)

// Accumulator collects recognition result events into a single utterance.
//
// Recognizers report results from a start index onward, so consecutive
// events cover overlapping index ranges. Finalized segments are keyed by
// absolute index and recorded once; a final segment re-reported at an
// already-consumed index is ignored. Interim text is provisional and
// replaced wholesale by each event that carries any.
//
// Safe for concurrent use.
type Accumulator struct {
	mu      sync.Mutex
	finals  map[int]string
	interim string
	base    int
	maxIdx  int
}

// NewAccumulator creates an empty Accumulator.
func NewAccumulator() *Accumulator {
	return &Accumulator{finals: make(map[int]string), maxIdx: -1}
}

// Rebase marks a recognizer session boundary. Result indices restart
// from zero in each new session, so subsequent events are shifted past
// everything already consumed instead of colliding with it. Pending
// interim text from the ended session is dropped.
func (a *Accumulator) Rebase() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.base = a.maxIdx + 1
	a.interim = ""
}

// Ingest merges one result event. It returns the current live text
// (finalized text followed by the latest interim text) and whether the
// event carried any interim segment.
func (a *Accumulator) Ingest(ev capture.ResultEvent) (live string, hasInterim bool) {
	a.mu.Lock()
	defer a.mu.Unlock()

	var interim strings.Builder
	for i, seg := range ev.Segments {
		idx := a.base + ev.Index + i
		if idx > a.maxIdx {
			a.maxIdx = idx
		}
		if seg.Final {
			if _, seen := a.finals[idx]; !seen {
				a.finals[idx] = seg.Text
			}
			continue
		}
		interim.WriteString(seg.Text)
		hasInterim = true
	}
	a.interim = interim.String()
	return a.finalText() + a.interim, hasInterim
}

// Text returns the current live text without consuming it.
func (a *Accumulator) Text() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.finalText() + a.interim
}

// Flush returns the trimmed finalized transcript and clears the buffer.
// Interim text is discarded: a segment that never finalized was never
// confirmed by the recognizer.
func (a *Accumulator) Flush() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	text := strings.TrimSpace(a.finalText())
	a.finals = make(map[int]string)
	a.interim = ""
	a.base = 0
	a.maxIdx = -1
	return text
}

// Empty reports whether no finalized text has accumulated.
func (a *Accumulator) Empty() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.finals) == 0
}

// finalText joins finalized segments in index order. Callers hold a.mu.
func (a *Accumulator) finalText() string {
	if len(a.finals) == 0 {
		return ""
	}
	idxs := make([]int, 0, len(a.finals))
	for idx := range a.finals {
		idxs = append(idxs, idx)
	}
	sort.Ints(idxs)
	var b strings.Builder
	for _, idx := range idxs {
		b.WriteString(a.finals[idx])
	}
	return b.String()
}
