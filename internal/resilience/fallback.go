package resilience

import (
	"errors"
	"fmt"
	"log/slog"
)

// ErrAllBackendsFailed is returned when every entry in a [Chain] either failed
// or had an open breaker.
var ErrAllBackendsFailed = errors.New("resilience: all backends failed")

// ChainConfig configures a [Chain]. Every entry gets its own breaker built
// from Breaker, with the entry name filled in.
type ChainConfig struct {
	Breaker BreakerConfig
	Logger  *slog.Logger
}

// chainEntry pairs a backend with its dedicated breaker.
type chainEntry[T any] struct {
	name    string
	backend T
	breaker *Breaker
}

// Chain holds a primary backend and zero or more fallbacks of the same type.
// Calls go to the first entry whose breaker admits them and that succeeds;
// failures and open breakers move on to the next entry in registration order.
//
// Chain is safe for concurrent use once assembled. Add is not safe to call
// concurrently with Run.
type Chain[T any] struct {
	entries []chainEntry[T]
	cfg     ChainConfig
	logger  *slog.Logger
}

// NewChain creates a [Chain] with primary as its first entry.
func NewChain[T any](name string, primary T, cfg ChainConfig) *Chain[T] {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	c := &Chain[T]{cfg: cfg, logger: cfg.Logger}
	c.Add(name, primary)
	return c
}

// Add appends a fallback backend. Fallbacks are tried in the order added.
func (c *Chain[T]) Add(name string, backend T) {
	bcfg := c.cfg.Breaker
	bcfg.Name = name
	if bcfg.Logger == nil {
		bcfg.Logger = c.logger
	}
	c.entries = append(c.entries, chainEntry[T]{
		name:    name,
		backend: backend,
		breaker: NewBreaker(bcfg),
	})
}

// Names returns the entry names in try order.
func (c *Chain[T]) Names() []string {
	names := make([]string, len(c.entries))
	for i, e := range c.entries {
		names[i] = e.name
	}
	return names
}

// Run executes fn against each entry in order until one succeeds. Entries
// with open breakers are skipped. If every entry fails the last error is
// wrapped in [ErrAllBackendsFailed].
func Run[T any, R any](c *Chain[T], fn func(T) (R, error)) (R, error) {
	var (
		lastErr error
		zero    R
	)
	for i := range c.entries {
		entry := &c.entries[i]
		var out R
		err := entry.breaker.Do(func() error {
			var callErr error
			out, callErr = fn(entry.backend)
			return callErr
		})
		if err == nil {
			return out, nil
		}
		lastErr = err
		if errors.Is(err, ErrBreakerOpen) {
			c.logger.Debug("skipping backend, breaker open", "backend", entry.name)
		} else {
			c.logger.Warn("backend failed, trying next",
				"backend", entry.name, "error", err)
		}
	}
	return zero, fmt.Errorf("%w: %v", ErrAllBackendsFailed, lastErr)
}
