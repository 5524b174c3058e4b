// Package circuit implements a small failure-counting circuit breaker. The
// weather monitor wraps provider calls with one so a dead provider degrades to
// source-unavailable captures instead of hammering the endpoint every tick.
package circuit

import "sync"

// State of the breaker.
type State string

const (
	StateClosed State = "closed"
	StateOpen   State = "open"
)

// StateChange reports a transition caused by RecordFailure/RecordSuccess so
// callers can log or alert exactly once per transition.
type StateChange struct {
	Opened bool
	Closed bool
}

// Breaker counts consecutive failures and opens after a threshold. While open,
// consecutive successes (from probe calls) close it again.
type Breaker struct {
	mu               sync.Mutex
	name             string
	state            State
	failureCount     int
	successCount     int
	failureThreshold int
	successThreshold int
}

// Option configures a Breaker.
type Option func(*Breaker)

// WithFailureThreshold sets how many consecutive failures open the breaker.
func WithFailureThreshold(n int) Option {
	return func(b *Breaker) { b.failureThreshold = n }
}

// WithSuccessThreshold sets how many consecutive successes close an open breaker.
func WithSuccessThreshold(n int) Option {
	return func(b *Breaker) { b.successThreshold = n }
}

// New creates a closed breaker. Defaults: 5 failures to open, 1 success to close.
func New(name string, opts ...Option) *Breaker {
	b := &Breaker{
		name:             name,
		state:            StateClosed,
		failureThreshold: 5,
		successThreshold: 1,
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Name returns the breaker's name.
func (b *Breaker) Name() string { return b.name }

// State returns the current state.
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// IsOpen reports whether calls should use the fallback path.
func (b *Breaker) IsOpen() bool {
	return b.State() == StateOpen
}

// RecordFailure notes a failed call. It returns whether the caller should now
// use the fallback, and any state transition that occurred.
func (b *Breaker) RecordFailure() (useFallback bool, change StateChange) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.successCount = 0
	if b.state == StateOpen {
		return true, StateChange{}
	}

	b.failureCount++
	if b.failureCount >= b.failureThreshold {
		b.state = StateOpen
		b.failureCount = 0
		return true, StateChange{Opened: true}
	}
	return false, StateChange{}
}

// RecordSuccess notes a successful call. It returns whether the caller should
// now use the primary path, and any state transition that occurred.
func (b *Breaker) RecordSuccess() (usePrimary bool, change StateChange) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.failureCount = 0
	if b.state == StateClosed {
		return true, StateChange{}
	}

	b.successCount++
	if b.successCount >= b.successThreshold {
		b.state = StateClosed
		b.successCount = 0
		return true, StateChange{Closed: true}
	}
	return false, StateChange{}
}

// Reset forces the breaker closed and clears all counters.
func (b *Breaker) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.state = StateClosed
	b.failureCount = 0
	b.successCount = 0
}
