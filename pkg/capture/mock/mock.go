// Package mock provides test doubles for the capture package interfaces.
//
// Use Provider to verify that the caller starts sessions with the expected
// Config and to script what each successive session delivers. Use Session
// to feed controlled ResultEvent values and terminal errors.
//
// Example:
//
//	sess := mock.NewSession()
//	p := &mock.Provider{Sessions: []*mock.Session{sess}}
//	handle, _ := p.Start(ctx, cfg)
//	sess.Emit(capture.ResultEvent{Segments: []capture.Segment{{Text: "hi", Final: true}}})
//	sess.End(nil)
package mock

import (
	"context"
	"sync"

	"github.com/jjrasche/voice-chat-app/pkg/capture"
)

// StartCall records a single invocation of Provider.Start.
type StartCall struct {
	// Ctx is the context passed to Start.
	Ctx context.Context
	// Cfg is the Config passed to Start.
	Cfg capture.Config
}

// Provider is a mock implementation of capture.Provider. Each Start call
// consumes the next entry from Sessions; when Sessions is exhausted, Start
// returns a fresh default Session.
type Provider struct {
	mu sync.Mutex

	// Sessions are returned from successive Start calls, in order.
	Sessions []*Session

	// StartErr, if non-nil, is returned as the error from every Start.
	StartErr error

	// StartCalls records every call to Start.
	StartCalls []StartCall

	next int
}

// Start records the call and returns the next scripted session.
func (p *Provider) Start(ctx context.Context, cfg capture.Config) (capture.SessionHandle, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.StartCalls = append(p.StartCalls, StartCall{Ctx: ctx, Cfg: cfg})
	if p.StartErr != nil {
		return nil, p.StartErr
	}
	if p.next < len(p.Sessions) {
		s := p.Sessions[p.next]
		p.next++
		return s, nil
	}
	return NewSession(), nil
}

// Starts returns how many times Start has been called. Thread-safe.
func (p *Provider) Starts() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.StartCalls)
}

// Compile-time interface checks.
var (
	_ capture.Provider      = (*Provider)(nil)
	_ capture.SessionHandle = (*Session)(nil)
)

// Session is a mock implementation of capture.SessionHandle driven by the
// test via Emit and End.
type Session struct {
	mu      sync.Mutex
	results chan capture.ResultEvent
	err     error
	done    bool

	// Closed reports whether Close was called on this session.
	Closed bool
}

// NewSession creates a Session ready to deliver events.
func NewSession() *Session {
	return &Session{results: make(chan capture.ResultEvent, 16)}
}

// Emit delivers a result event to the consumer. Calling Emit after End
// panics, matching a real session that never reports past its end.
func (s *Session) Emit(ev capture.ResultEvent) {
	s.results <- ev
}

// End terminates the session with the given terminal error (nil for a
// spontaneous/clean end). Safe to call once.
func (s *Session) End(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.done {
		return
	}
	s.done = true
	s.err = err
	close(s.results)
}

// Results implements capture.SessionHandle.
func (s *Session) Results() <-chan capture.ResultEvent { return s.results }

// Close implements capture.SessionHandle. It marks the session closed and
// ends it cleanly.
func (s *Session) Close() error {
	s.mu.Lock()
	s.Closed = true
	s.mu.Unlock()
	s.End(nil)
	return nil
}

// Err implements capture.SessionHandle.
func (s *Session) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.done {
		return nil
	}
	return s.err
}
