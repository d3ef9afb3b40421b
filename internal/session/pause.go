package session

import (
	"sync"
	"time"
)

// PauseState is the state of a Detector.
type PauseState int

// Detector states, in lifecycle order.
const (
	// PauseIdle means no speech activity has been observed yet.
	PauseIdle PauseState = iota

	// PauseWatching means speech is arriving; the silence timer is armed.
	PauseWatching

	// PauseCountingDown means silence exceeded the threshold and the
	// submission countdown is running.
	PauseCountingDown

	// PauseComplete means the countdown expired or the detector was
	// stopped explicitly. The detector must be reset before reuse.
	PauseComplete
)

// String implements fmt.Stringer.
func (s PauseState) String() string {
	switch s {
	case PauseIdle:
		return "idle"
	case PauseWatching:
		return "watching"
	case PauseCountingDown:
		return "counting_down"
	case PauseComplete:
		return "complete"
	default:
		return "unknown"
	}
}

// DetectorConfig configures a Detector.
type DetectorConfig struct {
	// SilenceThreshold is how long activity must lapse before the
	// countdown starts.
	SilenceThreshold time.Duration

	// Countdown is how long the countdown runs before completion.
	Countdown time.Duration

	// OnCountdownStart, if set, is called when the countdown begins, with
	// its duration. Called from a timer goroutine.
	OnCountdownStart func(d time.Duration)

	// OnComplete, if set, is called exactly once when the detector reaches
	// PauseComplete, whether by countdown expiry or Stop. Called from a
	// timer goroutine on expiry, from the caller's goroutine on Stop.
	OnComplete func()
}

// Detector watches speech activity and decides when a pause is long
// enough to count as end of utterance. Each Activity call cancels any
// pending timers and re-arms the silence timer; once silence lasts past
// the threshold a countdown starts, and its expiry completes the
// detector.
//
// Timers are generation-checked: a timer that fires after a later
// Activity, Reset, or Stop call is a no-op.
type Detector struct {
	mu    sync.Mutex
	cfg   DetectorConfig
	state PauseState
	gen   uint64

	silenceTimer   *time.Timer
	countdownTimer *time.Timer
}

// NewDetector creates a Detector in PauseIdle.
func NewDetector(cfg DetectorConfig) *Detector {
	return &Detector{cfg: cfg}
}

// State returns the current state.
func (d *Detector) State() PauseState {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.state
}

// Activity records a speech signal. It cancels any pending countdown,
// moves to PauseWatching, and re-arms the silence timer. Ignored once
// the detector is PauseComplete.
func (d *Detector) Activity() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.state == PauseComplete {
		return
	}
	d.cancelTimersLocked()
	d.state = PauseWatching
	gen := d.gen
	d.silenceTimer = time.AfterFunc(d.cfg.SilenceThreshold, func() {
		d.silenceElapsed(gen)
	})
}

// Stop short-circuits the detector to PauseComplete, firing OnComplete.
// A detector already complete stays complete and does not fire again.
func (d *Detector) Stop() {
	d.mu.Lock()
	if d.state == PauseComplete {
		d.mu.Unlock()
		return
	}
	d.cancelTimersLocked()
	d.state = PauseComplete
	done := d.cfg.OnComplete
	d.mu.Unlock()
	if done != nil {
		done()
	}
}

// Reset returns the detector to PauseIdle, cancelling pending timers
// without firing OnComplete.
func (d *Detector) Reset() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.cancelTimersLocked()
	d.state = PauseIdle
}

func (d *Detector) silenceElapsed(gen uint64) {
	d.mu.Lock()
	if gen != d.gen || d.state != PauseWatching {
		d.mu.Unlock()
		return
	}
	d.state = PauseCountingDown
	started := d.cfg.OnCountdownStart
	countdown := d.cfg.Countdown
	d.countdownTimer = time.AfterFunc(countdown, func() {
		d.countdownElapsed(gen)
	})
	d.mu.Unlock()
	if started != nil {
		started(countdown)
	}
}

func (d *Detector) countdownElapsed(gen uint64) {
	d.mu.Lock()
	if gen != d.gen || d.state != PauseCountingDown {
		d.mu.Unlock()
		return
	}
	d.state = PauseComplete
	done := d.cfg.OnComplete
	d.mu.Unlock()
	if done != nil {
		done()
	}
}

// cancelTimersLocked invalidates outstanding timers. Callers hold d.mu.
func (d *Detector) cancelTimersLocked() {
	d.gen++
	if d.silenceTimer != nil {
		d.silenceTimer.Stop()
		d.silenceTimer = nil
	}
	if d.countdownTimer != nil {
		d.countdownTimer.Stop()
		d.countdownTimer = nil
	}
}
