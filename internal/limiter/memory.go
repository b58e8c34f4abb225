package limiter

import (
	"context"
	"sync"
	"time"

	"github.com/autobooknft/egi-reservations/internal/clock"
)

// Memory is an in-process limiter with the same semantics as PG.
type Memory struct {
	mu       sync.Mutex
	entries  map[string]*memEntry
	window   time.Duration
	maxFails int
	blockFor time.Duration
	clock    clock.Clock
}

type memEntry struct {
	fails        int
	blockedUntil time.Time
	updatedAt    time.Time
}

// NewMemory constructs an in-process limiter.
func NewMemory(window time.Duration, maxFails int, blockFor time.Duration, c clock.Clock) *Memory {
	if c == nil {
		c = clock.System()
	}
	return &Memory{
		entries:  make(map[string]*memEntry),
		window:   window,
		maxFails: maxFails,
		blockFor: blockFor,
		clock:    c,
	}
}

func (m *Memory) Allow(_ context.Context, key []byte) (bool, time.Duration, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.entries[string(key)]
	if !ok {
		return true, 0, nil
	}
	if now := m.clock.Now(); e.blockedUntil.After(now) {
		return false, e.blockedUntil.Sub(now), nil
	}
	return true, 0, nil
}

func (m *Memory) Success(_ context.Context, key []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.entries, string(key))
	return nil
}

func (m *Memory) Failure(_ context.Context, key []byte) (bool, time.Duration, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := m.clock.Now()
	e, ok := m.entries[string(key)]
	if !ok {
		e = &memEntry{}
		m.entries[string(key)] = e
	}
	if now.Sub(e.updatedAt) > m.window {
		e.fails = 0
	}
	e.fails++
	e.updatedAt = now
	if e.fails < m.maxFails {
		return false, 0, nil
	}
	e.blockedUntil = now.Add(m.blockFor)
	return true, m.blockFor, nil
}
