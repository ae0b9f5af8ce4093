// Package resilience guards upstream calls with per-key circuit breakers.
package resilience

import (
	"errors"
	"sync"
	"time"
)

// ErrCircuitOpen is returned while a breaker rejects calls.
var ErrCircuitOpen = errors.New("circuit breaker is open")

type state int

const (
	stateClosed state = iota
	stateOpen
	stateHalfOpen
)

func (s state) String() string {
	switch s {
	case stateOpen:
		return "open"
	case stateHalfOpen:
		return "half_open"
	default:
		return "closed"
	}
}

// Breaker opens after maxFailures consecutive failures and lets a single trial call
// through once cooldown has elapsed.
type Breaker struct {
	mu          sync.Mutex
	state       state
	failures    int
	maxFailures int
	cooldown    time.Duration
	openedAt    time.Time
	probing     bool
	now         func() time.Time
}

// NewBreaker creates a closed breaker. maxFailures < 1 disables it.
func NewBreaker(maxFailures int, cooldown time.Duration) *Breaker {
	return &Breaker{maxFailures: maxFailures, cooldown: cooldown, now: time.Now}
}

// Execute runs fn unless the breaker is open.
func (b *Breaker) Execute(fn func() error) error {
	if !b.allow() {
		return ErrCircuitOpen
	}

	err := fn()

	b.mu.Lock()
	defer b.mu.Unlock()
	b.probing = false
	if err != nil {
		b.failures++
		if b.state == stateHalfOpen || (b.maxFailures > 0 && b.failures >= b.maxFailures) {
			b.state = stateOpen
			b.openedAt = b.now()
		}
		return err
	}
	b.failures = 0
	b.state = stateClosed
	return nil
}

// State returns "closed", "open" or "half_open".
func (b *Breaker) State() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state.String()
}

func (b *Breaker) allow() bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case stateOpen:
		if b.now().Sub(b.openedAt) < b.cooldown {
			return false
		}
		b.state = stateHalfOpen
		b.probing = true
		return true
	case stateHalfOpen:
		if b.probing {
			return false
		}
		b.probing = true
		return true
	default:
		return true
	}
}

// Group hands out one Breaker per key, created on first use.
type Group struct {
	mu          sync.Mutex
	breakers    map[string]*Breaker
	maxFailures int
	cooldown    time.Duration
	now         func() time.Time
}

// NewGroup creates a Group whose breakers share the same thresholds.
func NewGroup(maxFailures int, cooldown time.Duration) *Group {
	return &Group{
		breakers:    make(map[string]*Breaker),
		maxFailures: maxFailures,
		cooldown:    cooldown,
		now:         time.Now,
	}
}

// Get returns the breaker for key.
func (g *Group) Get(key string) *Breaker {
	g.mu.Lock()
	defer g.mu.Unlock()
	b, ok := g.breakers[key]
	if !ok {
		b = NewBreaker(g.maxFailures, g.cooldown)
		b.now = g.now
		g.breakers[key] = b
	}
	return b
}

// States returns the state of every breaker created so far, keyed like Get.
func (g *Group) States() map[string]string {
	g.mu.Lock()
	defer g.mu.Unlock()
	states := make(map[string]string, len(g.breakers))
	for key, b := range g.breakers {
		states[key] = b.State()
	}
	return states
}
