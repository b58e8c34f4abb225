// Package egilock serializes work per EGI inside one process.
//
// Each key owns a one-slot channel; waiters queue on the send in arrival order.
// Slots are reference counted and dropped once nobody holds or waits on them,
// so the map only grows with the number of EGIs currently in use.
package egilock

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/autobooknft/egi-reservations/internal/errs"
)

// Locker hands out per-key exclusive sections. There is no global lock:
// different keys never wait on each other beyond the map bookkeeping.
type Locker struct {
	mu      sync.Mutex
	slots   map[string]*slot
	timeout time.Duration
}

type slot struct {
	ch   chan struct{}
	refs int
}

// New returns a Locker. timeout bounds how long Acquire waits; zero means
// only the context bounds it.
func New(timeout time.Duration) *Locker {
	return &Locker{slots: make(map[string]*slot), timeout: timeout}
}

// Acquire enters the section for key. It fails with errs.ErrBusy when the
// timeout or the context deadline passes first, and with the context error
// when the context is cancelled. The returned release func is idempotent.
func (l *Locker) Acquire(ctx context.Context, key string) (func(), error) {
	s := l.ref(key)

	var timeout <-chan time.Time
	if l.timeout > 0 {
		t := time.NewTimer(l.timeout)
		defer t.Stop()
		timeout = t.C
	}

	select {
	case s.ch <- struct{}{}:
		var once sync.Once
		return func() {
			once.Do(func() {
				<-s.ch
				l.unref(key, s)
			})
		}, nil
	case <-timeout:
		l.unref(key, s)
		return nil, errs.ErrBusy
	case <-ctx.Done():
		l.unref(key, s)
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return nil, errs.ErrBusy
		}
		return nil, ctx.Err()
	}
}

// Len returns the number of keys with holders or waiters. Primarily for testing.
func (l *Locker) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.slots)
}

func (l *Locker) ref(key string) *slot {
	l.mu.Lock()
	defer l.mu.Unlock()
	s, ok := l.slots[key]
	if !ok {
		s = &slot{ch: make(chan struct{}, 1)}
		l.slots[key] = s
	}
	s.refs++
	return s
}

func (l *Locker) unref(key string, s *slot) {
	l.mu.Lock()
	defer l.mu.Unlock()
	s.refs--
	if s.refs == 0 {
		delete(l.slots, key)
	}
}
