// Package ratelimit provides a keyed token-bucket limiter. The fetch client
// keys it by vendor host so each chart site is throttled independently.
package ratelimit

import (
	"context"
	"net/url"
	"sync"

	"golang.org/x/time/rate"
)

// KeyedRateLimiter manages per-key rate limiting.
type KeyedRateLimiter struct {
	mu        sync.Mutex
	limiters  map[string]*rate.Limiter
	overrides map[string]rate.Limit
	limit     rate.Limit
	burst     int
}

// New creates a keyed limiter allowing rps requests per second per key with
// the given burst.
func New(rps float64, burst int) *KeyedRateLimiter {
	if burst < 1 {
		burst = 1
	}
	return &KeyedRateLimiter{
		limiters:  make(map[string]*rate.Limiter),
		overrides: make(map[string]rate.Limit),
		limit:     rate.Limit(rps),
		burst:     burst,
	}
}

// Allow reports whether a request for key may proceed now.
func (krl *KeyedRateLimiter) Allow(key string) bool {
	return krl.getLimiter(key).Allow()
}

// Wait blocks until a request for key is allowed or ctx is done.
func (krl *KeyedRateLimiter) Wait(ctx context.Context, key string) error {
	return krl.getLimiter(key).Wait(ctx)
}

// SetLimit overrides the rate for one key. Existing limiters are adjusted in place.
func (krl *KeyedRateLimiter) SetLimit(key string, rps float64) {
	krl.mu.Lock()
	defer krl.mu.Unlock()
	krl.overrides[key] = rate.Limit(rps)
	if l, ok := krl.limiters[key]; ok {
		l.SetLimit(rate.Limit(rps))
	}
}

// Len returns the number of keys seen so far.
func (krl *KeyedRateLimiter) Len() int {
	krl.mu.Lock()
	defer krl.mu.Unlock()
	return len(krl.limiters)
}

func (krl *KeyedRateLimiter) getLimiter(key string) *rate.Limiter {
	krl.mu.Lock()
	defer krl.mu.Unlock()

	if l, ok := krl.limiters[key]; ok {
		return l
	}
	limit := krl.limit
	if o, ok := krl.overrides[key]; ok {
		limit = o
	}
	l := rate.NewLimiter(limit, krl.burst)
	krl.limiters[key] = l
	return l
}

// HostKey returns the host of rawURL, or rawURL itself when it does not parse.
func HostKey(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil || u.Host == "" {
		return rawURL
	}
	return u.Host
}
