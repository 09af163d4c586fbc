package ratelimit

import (
	"sync"
	"time"

	"golang.org/x/time/rate"
)

const (
	staleAfter = 5 * time.Minute
	sweepEvery = 3 * time.Minute
)

// Limiter is a per-IP token bucket rate limiter. Buckets for callers not
// seen recently are swept by a background goroutine.
type Limiter struct {
	mu      sync.Mutex
	clients map[string]*client
	rps     rate.Limit
	burst   int
}

type client struct {
	bucket   *rate.Limiter
	lastSeen time.Time
}

// NewLimiter allows rps requests per second per IP with the given burst.
func NewLimiter(rps float64, burst int) *Limiter {
	l := &Limiter{
		clients: make(map[string]*client),
		rps:     rate.Limit(rps),
		burst:   burst,
	}
	go l.sweep()
	return l
}

// Allow reports whether a request from the given IP should be permitted,
// creating the bucket on first sight.
func (l *Limiter) Allow(ip string) bool {
	l.mu.Lock()
	c, ok := l.clients[ip]
	if !ok {
		c = &client{bucket: rate.NewLimiter(l.rps, l.burst)}
		l.clients[ip] = c
	}
	c.lastSeen = time.Now()
	l.mu.Unlock()

	return c.bucket.Allow()
}

func (l *Limiter) sweep() {
	ticker := time.NewTicker(sweepEvery)
	defer ticker.Stop()

	for range ticker.C {
		l.mu.Lock()
		for ip, c := range l.clients {
			if time.Since(c.lastSeen) >= staleAfter {
				delete(l.clients, ip)
			}
		}
		l.mu.Unlock()
	}
}
