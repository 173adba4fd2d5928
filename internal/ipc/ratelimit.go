package ipc

import (
	"sync"
	"time"
)

// tokenBucket is a minimal token-bucket limiter. golang.org/x/time/rate is
// not in the teacher's or pack's require list (confirmed: it appears only
// as an indirect dependency nothing in the pack imports directly), so this
// ~20-line primitive stands in rather than pulling in a library for a
// single small concern — see DESIGN.md.
type tokenBucket struct {
	mu         sync.Mutex
	tokens     float64
	capacity   float64
	refillRate float64 // tokens per second
	last       time.Time
}

func newTokenBucket(ratePerSec float64) *tokenBucket {
	if ratePerSec <= 0 {
		ratePerSec = 1
	}
	return &tokenBucket{
		tokens:     ratePerSec,
		capacity:   ratePerSec,
		refillRate: ratePerSec,
		last:       time.Now(),
	}
}

// Allow reports whether a single unit of work may proceed now, consuming
// a token if so.
func (b *tokenBucket) Allow() bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	now := time.Now()
	elapsed := now.Sub(b.last).Seconds()
	b.last = now

	b.tokens += elapsed * b.refillRate
	if b.tokens > b.capacity {
		b.tokens = b.capacity
	}
	if b.tokens < 1 {
		return false
	}
	b.tokens--
	return true
}

// connLimiters tracks one bucket per source address (new-connection
// quota); the per-connection RPC bucket lives on each connection. Address
// entries are never evicted — this is a daemon-lifetime process, not a
// multi-tenant server, so an unbounded map is an acceptable tradeoff at
// the scale spec §5 describes (tens of connections, not thousands).
type connLimiters struct {
	mu      sync.Mutex
	perAddr map[string]*tokenBucket
	rate    float64
}

func newConnLimiters(ratePerMin float64) *connLimiters {
	return &connLimiters{perAddr: make(map[string]*tokenBucket), rate: ratePerMin / 60}
}

func (c *connLimiters) Allow(addr string) bool {
	c.mu.Lock()
	b, ok := c.perAddr[addr]
	if !ok {
		b = newTokenBucket(c.rate)
		c.perAddr[addr] = b
	}
	c.mu.Unlock()
	return b.Allow()
}
