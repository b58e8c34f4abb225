package rates

import (
	"context"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/autobooknft/egi-reservations/internal/clock"
)

// Cache keeps rates from src for ttl. Failed lookups are not cached.
type Cache struct {
	src   Source
	ttl   time.Duration
	clock clock.Clock

	mu      sync.Mutex
	entries map[string]cacheEntry
}

type cacheEntry struct {
	rate    decimal.Decimal
	fetched time.Time
}

// NewCache wraps src. A nil clock means the system clock.
func NewCache(src Source, ttl time.Duration, c clock.Clock) *Cache {
	if c == nil {
		c = clock.System()
	}
	return &Cache{src: src, ttl: ttl, clock: c, entries: make(map[string]cacheEntry)}
}

// Rate returns a cached rate younger than ttl, else asks src.
func (c *Cache) Rate(ctx context.Context, from, to string) (decimal.Decimal, error) {
	key := from + "/" + to
	now := c.clock.Now()

	c.mu.Lock()
	e, ok := c.entries[key]
	c.mu.Unlock()
	if ok && now.Sub(e.fetched) < c.ttl {
		return e.rate, nil
	}

	r, err := c.src.Rate(ctx, from, to)
	if err != nil {
		return decimal.Zero, err
	}
	c.mu.Lock()
	c.entries[key] = cacheEntry{rate: r, fetched: now}
	c.mu.Unlock()
	return r, nil
}
