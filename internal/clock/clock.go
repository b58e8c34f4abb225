// Package clock lets the service and the sweeper read time through an interface.
package clock

import (
	"sync"
	"time"
)

// Clock reports the current wall-clock time in UTC.
type Clock interface {
	Now() time.Time
}

type system struct{}

// System returns a clock backed by time.Now.
func System() Clock { return system{} }

func (system) Now() time.Time { return time.Now().UTC() }

// Manual is a settable clock for tests and replay tooling.
type Manual struct {
	mu  sync.Mutex
	now time.Time
}

// NewManual returns a clock stopped at t.
func NewManual(t time.Time) *Manual { return &Manual{now: t.UTC()} }

// Now returns the current reading.
func (m *Manual) Now() time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.now
}

// Advance moves the clock forward by d.
func (m *Manual) Advance(d time.Duration) {
	m.mu.Lock()
	m.now = m.now.Add(d)
	m.mu.Unlock()
}

// Set jumps to t.
func (m *Manual) Set(t time.Time) {
	m.mu.Lock()
	m.now = t.UTC()
	m.mu.Unlock()
}
