// Package capture defines the Provider interface for speech-capture
// backends.
//
// A capture provider wraps whatever actually performs speech recognition
// for a connected visitor. In production a browser's SpeechRecognition
// surface bridged over WebSocket, in tests a scripted mock. The central
// abstraction is SessionHandle: once started, a session emits a stream of
// ResultEvent values and ends either on request (Close) or spontaneously,
// in which case Err reports why.
//
// Recognizer sessions are short-lived by nature: many platforms end them
// arbitrarily during natural pauses. A single logical "listening" intent
// therefore spans many underlying sessions; the session controller
// restarts transient terminations and surfaces fatal ones. IsTransient
// encodes that distinction.
package capture

import (
	"context"
	"errors"
)

// Sentinel errors describing why a capture session ended. Adapters must map
// their platform's error codes onto these so callers can classify
// terminations with errors.Is.
var (
	// ErrNoSpeech indicates the recognizer gave up without hearing speech.
	// Transient: restart while the listening intent holds.
	ErrNoSpeech = errors.New("capture: no speech detected")

	// ErrAborted indicates the recognizer session was cut off spontaneously
	// while listening. Transient.
	ErrAborted = errors.New("capture: recognition aborted")

	// ErrPermissionDenied indicates microphone access was refused. Fatal.
	ErrPermissionDenied = errors.New("capture: permission denied")

	// ErrNetwork indicates the recognizer lost network connectivity. Fatal.
	ErrNetwork = errors.New("capture: network unavailable")
)

// IsTransient reports whether err describes a capture termination that the
// caller should retry by starting a new session. A nil error (the session
// simply ended) counts as transient: spontaneous session end during active
// listening is the normal platform behavior that auto-restart exists for.
func IsTransient(err error) bool {
	if err == nil {
		return true
	}
	if errors.Is(err, ErrPermissionDenied) || errors.Is(err, ErrNetwork) {
		return false
	}
	return errors.Is(err, ErrNoSpeech) || errors.Is(err, ErrAborted)
}

// Config describes recognition hints for a new capture session.
type Config struct {
	// Language is the BCP-47 language tag for recognition (e.g., "en-US").
	// Empty lets the platform pick its default.
	Language string

	// InterimResults requests provisional segments in addition to final
	// ones. The pause detector depends on interim signals, so controllers
	// always set this.
	InterimResults bool
}

// SessionHandle represents one open recognition session. It is an interface
// so that test code can provide deterministic scripted implementations.
//
// The Results channel is closed when the session ends, whether by Close or
// spontaneously. After the channel closes, Err reports the terminal error:
// nil for a clean or spontaneous end, a sentinel from this package
// otherwise.
type SessionHandle interface {
	// Results returns the channel delivering recognition result events.
	// Closed when the session ends.
	Results() <-chan ResultEvent

	// Close stops the session. Safe to call more than once.
	Close() error

	// Err returns the terminal error after Results has closed. Calling it
	// before the channel closes returns nil.
	Err() error
}

// Provider is the abstraction over any speech-capture backend.
//
// Implementations must be safe for concurrent use; the restart loop may
// start a replacement session immediately after the previous one ends.
type Provider interface {
	// Start opens a new recognition session. The returned handle is
	// delivering events immediately. Returns an error if the session
	// cannot be established (ctx cancelled, capability missing).
	Start(ctx context.Context, cfg Config) (SessionHandle, error)
}
