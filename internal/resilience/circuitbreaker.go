// Package resilience protects completion backends from cascading failures.
//
// [Breaker] is a three-state circuit breaker (closed, open, half-open) that
// rejects calls to a backend that keeps failing, giving it time to recover.
// [Chain] layers ordered failover on top: each backend gets its own breaker,
// and a tripped or failing primary is bypassed in favour of the next healthy
// entry. The chat service wraps its configured LLM providers in a [Chain] so
// a single provider outage does not take the widget down.
//
// All types are safe for concurrent use.
package resilience

import (
	"errors"
	"log/slog"
	"sync"
	"time"
)

// ErrBreakerOpen is returned by [Breaker.Do] while the breaker is open and the
// cooldown has not yet elapsed.
var ErrBreakerOpen = errors.New("resilience: breaker open")

// BreakerState is the operating mode of a [Breaker].
type BreakerState int

const (
	// BreakerClosed forwards every call. This is the initial state.
	BreakerClosed BreakerState = iota

	// BreakerOpen rejects every call with [ErrBreakerOpen] until the
	// cooldown elapses.
	BreakerOpen

	// BreakerHalfOpen lets a bounded number of probe calls through. Enough
	// successes close the breaker; a single failure re-opens it.
	BreakerHalfOpen
)

// String returns the lower-case state name.
func (s BreakerState) String() string {
	switch s {
	case BreakerClosed:
		return "closed"
	case BreakerOpen:
		return "open"
	case BreakerHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// BreakerConfig tunes a [Breaker]. Zero fields take defaults.
type BreakerConfig struct {
	// Name labels the breaker in log output, usually the provider name.
	Name string

	// TripAfter is the number of consecutive failures that opens the
	// breaker. Default 5.
	TripAfter int

	// Cooldown is how long the breaker stays open before probing the
	// backend again. Default 30s.
	Cooldown time.Duration

	// ProbeQuota is how many calls the half-open state admits before the
	// breaker decides to close or re-open. Default 3.
	ProbeQuota int

	// Logger receives state-transition records. Defaults to
	// [slog.Default].
	Logger *slog.Logger
}

func (cfg *BreakerConfig) applyDefaults() {
	if cfg.TripAfter <= 0 {
		cfg.TripAfter = 5
	}
	if cfg.Cooldown <= 0 {
		cfg.Cooldown = 30 * time.Second
	}
	if cfg.ProbeQuota <= 0 {
		cfg.ProbeQuota = 3
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
}

// Breaker is a three-state circuit breaker. The zero value is not usable;
// construct with [NewBreaker].
type Breaker struct {
	cfg BreakerConfig

	mu         sync.Mutex
	state      BreakerState
	failStreak int
	openedAt   time.Time
	probes     int
	probeFails int
}

// NewBreaker creates a closed [Breaker] with the supplied configuration.
func NewBreaker(cfg BreakerConfig) *Breaker {
	cfg.applyDefaults()
	return &Breaker{cfg: cfg, state: BreakerClosed}
}

// Do runs fn if the breaker admits the call. In the open state it returns
// [ErrBreakerOpen] without invoking fn. Half-open admits at most ProbeQuota
// concurrent-or-sequential probes.
func (b *Breaker) Do(fn func() error) error {
	b.mu.Lock()
	switch b.state {
	case BreakerOpen:
		if time.Since(b.openedAt) < b.cfg.Cooldown {
			b.mu.Unlock()
			return ErrBreakerOpen
		}
		b.state = BreakerHalfOpen
		b.probes = 0
		b.probeFails = 0
		b.cfg.Logger.Info("breaker half-open, probing backend", "breaker", b.cfg.Name)

	case BreakerHalfOpen:
		if b.probes >= b.cfg.ProbeQuota {
			b.mu.Unlock()
			return ErrBreakerOpen
		}
	}

	probing := b.state == BreakerHalfOpen
	if probing {
		b.probes++
	}
	b.mu.Unlock()

	err := fn()

	b.mu.Lock()
	defer b.mu.Unlock()
	if err != nil {
		b.onFailure(probing)
	} else {
		b.onSuccess(probing)
	}
	return err
}

// onFailure updates failure accounting. Caller holds b.mu.
func (b *Breaker) onFailure(probing bool) {
	b.openedAt = time.Now()

	if probing {
		// One failed probe is enough evidence the backend is still down.
		b.probeFails++
		b.state = BreakerOpen
		b.failStreak = b.cfg.TripAfter
		b.cfg.Logger.Warn("breaker re-opened after failed probe", "breaker", b.cfg.Name)
		return
	}

	b.failStreak++
	if b.failStreak >= b.cfg.TripAfter {
		b.state = BreakerOpen
		b.cfg.Logger.Warn("breaker opened",
			"breaker", b.cfg.Name,
			"consecutive_failures", b.failStreak)
	}
}

// onSuccess updates success accounting. Caller holds b.mu.
func (b *Breaker) onSuccess(probing bool) {
	if probing {
		if b.probes-b.probeFails >= b.cfg.ProbeQuota {
			b.state = BreakerClosed
			b.failStreak = 0
			b.probes = 0
			b.probeFails = 0
			b.cfg.Logger.Info("breaker closed after successful probes", "breaker", b.cfg.Name)
		}
		return
	}
	b.failStreak = 0
}

// State reports the effective state. An open breaker whose cooldown has
// elapsed reports [BreakerHalfOpen] even though the transition itself happens
// on the next [Breaker.Do].
func (b *Breaker) State() BreakerState {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.state == BreakerOpen && time.Since(b.openedAt) >= b.cfg.Cooldown {
		return BreakerHalfOpen
	}
	return b.state
}

// Reset forces the breaker back to [BreakerClosed] and clears all counters.
func (b *Breaker) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.state = BreakerClosed
	b.failStreak = 0
	b.probes = 0
	b.probeFails = 0
	b.cfg.Logger.Info("breaker reset", "breaker", b.cfg.Name)
}
