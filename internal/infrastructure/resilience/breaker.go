package resilience

import (
	"context"
	"errors"
	"sync"
	"time"
)

var (
	// ErrCircuitOpen is returned while the breaker rejects calls.
	ErrCircuitOpen = errors.New("circuit breaker is open")
	// ErrProbeInFlight is returned in half-open state when the probe budget is spent.
	ErrProbeInFlight = errors.New("circuit breaker probe in flight")
)

// State represents the circuit breaker state
type State int

const (
	StateClosed State = iota
	StateHalfOpen
	StateOpen
)

// String returns the string representation of the state
func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateHalfOpen:
		return "half-open"
	case StateOpen:
		return "open"
	default:
		return "unknown"
	}
}

// Settings configures the circuit breaker behavior
type Settings struct {
	// Threshold is the number of consecutive failures that opens the breaker.
	Threshold uint32
	// Cooldown is how long the breaker stays open before letting a probe through.
	Cooldown time.Duration
	// Probes is the number of consecutive half-open successes needed to close.
	Probes uint32
	// IsFailure decides whether an error counts against the breaker.
	// Context cancellation never counts by default.
	IsFailure func(err error) bool
	// OnStateChange is called, with the lock released, whenever the state changes.
	OnStateChange func(name string, from, to State)
}

// Breaker guards an unreliable operation, failing fast once it keeps failing.
type Breaker struct {
	name     string
	settings Settings
	now      func() time.Time

	mu        sync.Mutex
	state     State
	failures  uint32
	successes uint32
	inFlight  uint32
	openedAt  time.Time
}

// New creates a new circuit breaker with the given settings
func New(name string, settings Settings) *Breaker {
	if settings.Threshold == 0 {
		settings.Threshold = 5
	}
	if settings.Cooldown <= 0 {
		settings.Cooldown = 30 * time.Second
	}
	if settings.Probes == 0 {
		settings.Probes = 1
	}
	if settings.IsFailure == nil {
		settings.IsFailure = defaultIsFailure
	}
	return &Breaker{
		name:     name,
		settings: settings,
		now:      time.Now,
	}
}

func defaultIsFailure(err error) bool {
	return err != nil && !errors.Is(err, context.Canceled)
}

// Name returns the name of the circuit breaker
func (b *Breaker) Name() string {
	return b.name
}

// State returns the current state, promoting open to half-open once the
// cooldown has elapsed.
func (b *Breaker) State() State {
	b.mu.Lock()
	from, to := b.advanceLocked()
	state := b.state
	b.mu.Unlock()
	b.notify(from, to)
	return state
}

// Do runs fn if the breaker accepts the call and records its outcome.
func (b *Breaker) Do(fn func() error) error {
	if err := b.acquire(); err != nil {
		return err
	}
	err := fn()
	b.release(err)
	return err
}

func (b *Breaker) acquire() error {
	b.mu.Lock()
	from, to := b.advanceLocked()
	var err error
	switch b.state {
	case StateOpen:
		err = ErrCircuitOpen
	case StateHalfOpen:
		if b.inFlight >= b.settings.Probes {
			err = ErrProbeInFlight
		}
	}
	if err == nil {
		b.inFlight++
	}
	b.mu.Unlock()
	b.notify(from, to)
	return err
}

func (b *Breaker) release(err error) {
	b.mu.Lock()
	b.inFlight--
	var from, to State
	switch {
	case !b.settings.IsFailure(err):
		b.failures = 0
		if b.state == StateHalfOpen {
			b.successes++
			if b.successes >= b.settings.Probes {
				from, to = b.setStateLocked(StateClosed)
			}
		}
	case b.state == StateHalfOpen:
		from, to = b.setStateLocked(StateOpen)
	default:
		b.failures++
		if b.state == StateClosed && b.failures >= b.settings.Threshold {
			from, to = b.setStateLocked(StateOpen)
		}
	}
	b.mu.Unlock()
	b.notify(from, to)
}

func (b *Breaker) advanceLocked() (State, State) {
	if b.state == StateOpen && !b.now().Before(b.openedAt.Add(b.settings.Cooldown)) {
		return b.setStateLocked(StateHalfOpen)
	}
	return b.state, b.state
}

func (b *Breaker) setStateLocked(state State) (State, State) {
	prev := b.state
	b.state = state
	b.failures = 0
	b.successes = 0
	if state == StateOpen {
		b.openedAt = b.now()
	}
	return prev, state
}

func (b *Breaker) notify(from, to State) {
	if from != to && b.settings.OnStateChange != nil {
		b.settings.OnStateChange(b.name, from, to)
	}
}
