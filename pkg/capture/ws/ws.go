// Package ws bridges a browser's SpeechRecognition surface to the capture
// Provider interface over a single WebSocket connection.
//
// The browser owns the actual recognizer; this adapter only moves events.
// The server drives the recognizer with control frames:
//
//	{"type":"start","language":"en-US","interim":true}
//	{"type":"stop"}
//
// and the browser reports back with event frames:
//
//	{"type":"result","index":0,"segments":[{"text":"hi","final":true}]}
//	{"type":"end"}
//	{"type":"error","code":"no-speech"}
//
// Error codes follow the Web Speech API error names and are mapped onto the
// capture package's sentinel errors so the session controller can classify
// terminations without knowing about this transport.
package ws

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"

	"github.com/coder/websocket"

	"github.com/jjrasche/voice-chat-app/pkg/capture"
)

// frame is the wire format for both directions.
type frame struct {
	Type     string         `json:"type"`
	Language string         `json:"language,omitempty"`
	Interim  bool           `json:"interim,omitempty"`
	Index    int            `json:"index,omitempty"`
	Segments []frameSegment `json:"segments,omitempty"`
	Code     string         `json:"code,omitempty"`
}

type frameSegment struct {
	Text  string `json:"text"`
	Final bool   `json:"final"`
}

// Platform is a capture.Provider backed by one browser connection. Each
// Start call corresponds to one recognizer session in the browser; the
// browser's spontaneous session ends arrive as "end" frames and terminate
// the current SessionHandle, after which the controller may Start again.
//
// Safe for concurrent use.
type Platform struct {
	conn *websocket.Conn

	mu      sync.Mutex
	current *session
	stale   int
	closed  bool
}

// Compile-time interface check.
var _ capture.Provider = (*Platform)(nil)

// Accept upgrades the HTTP request to a WebSocket connection and returns a
// Platform serving it. The caller must run [Platform.Run] to pump events
// and Close the platform when the client disconnects.
func Accept(w http.ResponseWriter, r *http.Request) (*Platform, error) {
	conn, err := websocket.Accept(w, r, nil)
	if err != nil {
		return nil, fmt.Errorf("capture ws: accept: %w", err)
	}
	return NewPlatform(conn), nil
}

// NewPlatform wraps an already-accepted connection. Use this when the
// caller multiplexes its own frames on the same connection and feeds
// recognizer events in through [Platform.DispatchMessage] instead of
// handing the read side to [Platform.Run].
func NewPlatform(conn *websocket.Conn) *Platform {
	return &Platform{conn: conn}
}

// Start implements capture.Provider. It instructs the browser to start a
// recognizer session and returns the handle that will receive its events.
func (p *Platform) Start(ctx context.Context, cfg capture.Config) (capture.SessionHandle, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return nil, fmt.Errorf("capture ws: platform is closed")
	}
	if p.current != nil {
		// A lingering previous session means the browser never reported its
		// end; treat it as aborted so its consumer unblocks.
		p.current.end(capture.ErrAborted)
	}

	start := frame{Type: "start", Language: cfg.Language, Interim: cfg.InterimResults}
	if err := p.write(ctx, start); err != nil {
		return nil, fmt.Errorf("capture ws: send start: %w", err)
	}

	s := &session{
		platform: p,
		results:  make(chan capture.ResultEvent, 16),
	}
	p.current = s
	return s, nil
}

// Run reads event frames from the browser until the connection fails or ctx
// is cancelled, dispatching them to the current session. Always returns a
// non-nil error; a client disconnect surfaces as the read error.
func (p *Platform) Run(ctx context.Context) error {
	defer p.Close()

	for {
		_, msg, err := p.conn.Read(ctx)
		if err != nil {
			return fmt.Errorf("capture ws: read: %w", err)
		}

		var f frame
		if err := json.Unmarshal(msg, &f); err != nil {
			// Malformed frames are dropped; the browser side is best-effort.
			continue
		}
		p.dispatch(f)
	}
}

// DispatchMessage decodes one raw frame and, when it is a recognizer
// event ("result", "end", "error"), routes it to the current session. It
// reports whether the frame was consumed, so a caller multiplexing other
// frame types on the connection knows when to handle one itself.
func (p *Platform) DispatchMessage(msg []byte) bool {
	var f frame
	if err := json.Unmarshal(msg, &f); err != nil {
		return false
	}
	switch f.Type {
	case "result", "end", "error":
		p.dispatch(f)
		return true
	}
	return false
}

// Close ends the current session (if any) and closes the connection.
func (p *Platform) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return nil
	}
	p.closed = true
	if p.current != nil {
		p.current.end(nil)
		p.current = nil
	}
	return p.conn.Close(websocket.StatusNormalClosure, "platform closed")
}

// dispatch routes one decoded frame to the current session. Frames from a
// recognizer session that was closed locally are dropped until the browser
// confirms the stop with its terminal frame, so a stale "end" cannot kill a
// session started afterwards.
func (p *Platform) dispatch(f frame) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.stale > 0 {
		if f.Type == "end" || f.Type == "error" {
			p.stale--
		}
		return
	}
	if p.current == nil {
		return
	}

	switch f.Type {
	case "result":
		segs := make([]capture.Segment, len(f.Segments))
		for i, s := range f.Segments {
			segs[i] = capture.Segment{Text: s.Text, Final: s.Final}
		}
		p.current.deliver(capture.ResultEvent{Index: f.Index, Segments: segs})
	case "end":
		p.current.end(nil)
		p.current = nil
	case "error":
		p.current.end(mapErrorCode(f.Code))
		p.current = nil
	}
}

// write sends a control frame to the browser.
func (p *Platform) write(ctx context.Context, f frame) error {
	data, err := json.Marshal(f)
	if err != nil {
		return err
	}
	return p.conn.Write(ctx, websocket.MessageText, data)
}

// mapErrorCode translates Web Speech API error names into capture sentinels.
// Unknown codes are treated as aborted so the restart loop gets a chance.
func mapErrorCode(code string) error {
	switch code {
	case "no-speech":
		return capture.ErrNoSpeech
	case "aborted", "audio-capture":
		return capture.ErrAborted
	case "not-allowed", "service-not-allowed":
		return capture.ErrPermissionDenied
	case "network":
		return capture.ErrNetwork
	default:
		return capture.ErrAborted
	}
}

// session is one browser recognizer session. Implements capture.SessionHandle.
type session struct {
	platform *Platform

	mu      sync.Mutex
	results chan capture.ResultEvent
	err     error
	done    bool
}

// Results implements capture.SessionHandle.
func (s *session) Results() <-chan capture.ResultEvent { return s.results }

// Close implements capture.SessionHandle. It tells the browser to stop the
// recognizer and ends the session locally right away. Waiting for the
// browser's "end" frame would wedge a caller that is itself the
// connection's read goroutine; the confirmation arrives later and is
// dropped as stale by the platform.
func (s *session) Close() error {
	p := s.platform
	p.mu.Lock()
	if p.current == s {
		p.current = nil
		if !p.closed {
			p.stale++
		}
	}
	p.mu.Unlock()

	if err := p.write(context.Background(), frame{Type: "stop"}); err != nil {
		// Connection gone, no confirmation will come.
		p.mu.Lock()
		if p.stale > 0 {
			p.stale--
		}
		p.mu.Unlock()
	}
	s.end(nil)
	return nil
}

// Err implements capture.SessionHandle.
func (s *session) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.done {
		return nil
	}
	return s.err
}

// deliver hands a result event to the consumer, dropping it if the consumer
// is not keeping up; interim events are superseded by later ones anyway.
func (s *session) deliver(ev capture.ResultEvent) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.done {
		return
	}
	select {
	case s.results <- ev:
	default:
	}
}

// end terminates the session with the given terminal error. Idempotent.
func (s *session) end(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.done {
		return
	}
	s.done = true
	s.err = err
	close(s.results)
}
