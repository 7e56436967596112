package circuitbreaker

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
)

// ErrOpen is returned without calling the guarded function while the
// breaker is open.
var ErrOpen = errors.New("circuit breaker is open")

// State represents the circuit breaker state
type State int

const (
	StateClosed   State = iota // calls pass through
	StateOpen                  // calls fail fast
	StateHalfOpen              // a limited number of trial calls pass
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

type Config struct {
	FailureThreshold int           // consecutive failures that open the breaker
	SuccessThreshold int           // half-open successes that close it again
	Timeout          time.Duration // open period before probing
	HalfOpenTrials   int
}

func DefaultConfig() Config {
	return Config{
		FailureThreshold: 3,
		SuccessThreshold: 1,
		Timeout:          30 * time.Second,
		HalfOpenTrials:   1,
	}
}

// Breaker guards calls to a remote dependency. Context cancellation of the
// caller is not counted as a failure.
type Breaker struct {
	cfg   Config
	clock clock.Clock

	mu        sync.Mutex
	state     State
	failures  int
	successes int
	trials    int
	openedAt  time.Time

	onStateChange func(from, to State)
}

func New(cfg Config) *Breaker {
	return NewWithClock(cfg, clock.New())
}

func NewWithClock(cfg Config, clk clock.Clock) *Breaker {
	return &Breaker{cfg: cfg, clock: clk}
}

// OnStateChange registers fn, called synchronously on every transition.
func (b *Breaker) OnStateChange(fn func(from, to State)) {
	b.mu.Lock()
	b.onStateChange = fn
	b.mu.Unlock()
}

// Execute runs fn through the breaker.
func Execute[T any](ctx context.Context, b *Breaker, fn func(ctx context.Context) (T, error)) (T, error) {
	var zero T
	if !b.allow() {
		return zero, ErrOpen
	}

	result, err := fn(ctx)
	switch {
	case err == nil:
		b.onSuccess()
	case ctx.Err() != nil:
		b.release()
	default:
		b.onFailure()
	}
	return result, err
}

func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// Reset closes the breaker.
func (b *Breaker) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.transition(StateClosed)
}

func (b *Breaker) allow() bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case StateOpen:
		if b.clock.Since(b.openedAt) < b.cfg.Timeout {
			return false
		}
		b.transition(StateHalfOpen)
		fallthrough
	case StateHalfOpen:
		if b.trials >= b.cfg.HalfOpenTrials {
			return false
		}
		b.trials++
		return true
	default:
		return true
	}
}

func (b *Breaker) release() {
	b.mu.Lock()
	if b.state == StateHalfOpen && b.trials > 0 {
		b.trials--
	}
	b.mu.Unlock()
}

func (b *Breaker) onFailure() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.successes = 0
	b.failures++
	if b.state == StateHalfOpen || b.failures >= b.cfg.FailureThreshold {
		b.transition(StateOpen)
	}
}

func (b *Breaker) onSuccess() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.failures = 0
	if b.state != StateHalfOpen {
		return
	}
	b.successes++
	b.trials--
	if b.successes >= b.cfg.SuccessThreshold {
		b.transition(StateClosed)
	}
}

// transition must be called with mu held.
func (b *Breaker) transition(to State) {
	if b.state == to {
		return
	}
	from := b.state
	b.state = to
	b.failures, b.successes, b.trials = 0, 0, 0
	if to == StateOpen {
		b.openedAt = b.clock.Now()
	}
	if b.onStateChange != nil {
		b.onStateChange(from, to)
	}
}
