package service

import (
	"sync"
	"time"

	"github.com/pkg/errors"
)

// ErrDeviceUnavailable is returned while the breaker is open after repeated
// runtime failures of the executor's device.
var ErrDeviceUnavailable = errors.New("device unavailable")

// BreakerState is the state of a Breaker.
type BreakerState int

const (
	BreakerClosed BreakerState = iota
	BreakerOpen
	BreakerHalfOpen
)

func (s BreakerState) String() string {
	switch s {
	case BreakerClosed:
		return "closed"
	case BreakerOpen:
		return "open"
	default:
		return "half-open"
	}
}

// Breaker stops admitting calls after maxFailures consecutive runtime
// failures. Once cooldown has passed a single trial call is let through; its
// outcome closes or reopens the breaker. Other callers are rejected while the
// trial call is in flight.
type Breaker struct {
	mu          sync.Mutex
	state       BreakerState
	trialing    bool
	failures    int
	maxFailures int
	cooldown    time.Duration
	lastFailure time.Time
}

func NewBreaker(maxFailures int, cooldown time.Duration) *Breaker {
	return &Breaker{
		state:       BreakerClosed,
		maxFailures: maxFailures,
		cooldown:    cooldown,
	}
}

// Allow reports whether a call may proceed.
func (b *Breaker) Allow() bool {
	ok, _ := b.admit()
	return ok
}

// admit is Allow that also reports whether the admitted call is the
// half-open trial call.
func (b *Breaker) admit() (ok, trial bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case BreakerClosed:
		return true, false
	case BreakerOpen:
		if time.Since(b.lastFailure) > b.cooldown {
			b.state = BreakerHalfOpen
			b.trialing = true
			return true, true
		}
		return false, false
	default:
		if b.trialing {
			return false, false
		}
		b.trialing = true
		return true, true
	}
}

// Abort gives up an admitted call that will report neither Success nor
// Failure. A pending trial slot is freed for the next caller.
func (b *Breaker) Abort() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.trialing = false
}

func (b *Breaker) Success() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.state = BreakerClosed
	b.trialing = false
	b.failures = 0
}

func (b *Breaker) Failure() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.trialing = false
	b.failures++
	b.lastFailure = time.Now()
	switch b.state {
	case BreakerClosed:
		if b.failures >= b.maxFailures {
			b.state = BreakerOpen
			breakerTrips.Inc()
		}
	case BreakerHalfOpen:
		b.state = BreakerOpen
		breakerTrips.Inc()
	}
}

func (b *Breaker) State() BreakerState {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}
