package services

import (
	"fmt"
	"sync"
	"time"
)

// RateLimiter admits or rejects a request for a client key. Implementations
// own their backing store; the pipeline only sees this interface.
type RateLimiter interface {
	Admit(clientKey string) error
}

type rateLimitEntry struct {
	windowStart  time.Time
	requestCount int
	blockedUntil time.Time
}

type memoryRateLimiter struct {
	mu            sync.Mutex
	entries       map[string]*rateLimitEntry
	maxRequests   int
	window        time.Duration
	blockDuration time.Duration
	now           func() time.Time
}

func NewMemoryRateLimiter(maxRequests int, window, blockDuration time.Duration) RateLimiter {
	return newMemoryRateLimiter(maxRequests, window, blockDuration, time.Now)
}

func newMemoryRateLimiter(maxRequests int, window, blockDuration time.Duration, now func() time.Time) *memoryRateLimiter {
	return &memoryRateLimiter{
		entries:       make(map[string]*rateLimitEntry),
		maxRequests:   maxRequests,
		window:        window,
		blockDuration: blockDuration,
		now:           now,
	}
}

// Admit applies a fixed-window counter with temporary block escalation.
// A block is never extended by further attempts inside it.
func (l *memoryRateLimiter) Admit(clientKey string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	l.evictExpired(now)

	entry, ok := l.entries[clientKey]
	if !ok {
		l.entries[clientKey] = &rateLimitEntry{windowStart: now, requestCount: 1}
		return nil
	}

	if entry.blockedUntil.After(now) {
		return l.rejection(entry.blockedUntil, now)
	}

	if now.Sub(entry.windowStart) >= l.window {
		entry.windowStart = now
		entry.requestCount = 1
		entry.blockedUntil = time.Time{}
		return nil
	}

	entry.requestCount++
	if entry.requestCount > l.maxRequests {
		entry.blockedUntil = now.Add(l.blockDuration)
		return l.rejection(entry.blockedUntil, now)
	}

	return nil
}

func (l *memoryRateLimiter) rejection(blockedUntil, now time.Time) error {
	retryAfter := int((blockedUntil.Sub(now) + time.Second - 1) / time.Second)
	return &PipelineError{
		Kind:       KindRateLimited,
		Message:    fmt.Sprintf("Too many requests. Try again in %d seconds.", retryAfter),
		RetryAfter: retryAfter,
	}
}

// evictExpired drops entries whose window has passed and which carry no
// pending block. Runs under the lock on every call; O(n) over live clients.
func (l *memoryRateLimiter) evictExpired(now time.Time) {
	for key, entry := range l.entries {
		if entry.blockedUntil.After(now) {
			continue
		}
		if now.Sub(entry.windowStart) >= l.window {
			delete(l.entries, key)
		}
	}
}
