package router

import (
	"sync"

	"golang.org/x/time/rate"
)

// RateLimiter holds one token bucket per connection.
type RateLimiter struct {
	limit rate.Limit
	burst int

	mu      sync.Mutex
	clients map[string]*rate.Limiter
}

// NewRateLimiter allows perSecond frames per connection with the given burst.
// A non-positive perSecond disables limiting.
func NewRateLimiter(perSecond float64, burst int) *RateLimiter {
	limit := rate.Limit(perSecond)
	if perSecond <= 0 {
		limit = rate.Inf
	}
	if burst <= 0 {
		burst = 1
	}
	return &RateLimiter{
		limit:   limit,
		burst:   burst,
		clients: make(map[string]*rate.Limiter),
	}
}

// Allow reports whether connID may send another frame now.
func (rl *RateLimiter) Allow(connID string) bool {
	rl.mu.Lock()
	limiter, exists := rl.clients[connID]
	if !exists {
		limiter = rate.NewLimiter(rl.limit, rl.burst)
		rl.clients[connID] = limiter
	}
	rl.mu.Unlock()

	return limiter.Allow()
}

// Forget drops connID's bucket.
func (rl *RateLimiter) Forget(connID string) {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	delete(rl.clients, connID)
}

// Len returns the number of tracked connections.
func (rl *RateLimiter) Len() int {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	return len(rl.clients)
}
