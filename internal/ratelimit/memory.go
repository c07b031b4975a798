package ratelimit

import (
	"context"
	"sync"
	"time"
)

// MemoryLimiter keeps all counters in process memory. State is lost on
// restart, which is acceptable for abuse damping.
type MemoryLimiter struct {
	mu        sync.Mutex
	lastAdmit map[string]time.Time
	origins   map[string]*originWindow

	now func() time.Time
}

// originWindow is a fixed counting window anchored at its first request
type originWindow struct {
	windowStart time.Time
	count       int
}

// NewMemoryLimiter creates an in-memory limiter
func NewMemoryLimiter() *MemoryLimiter {
	return &MemoryLimiter{
		lastAdmit: make(map[string]time.Time),
		origins:   make(map[string]*originWindow),
		now:       time.Now,
	}
}

// AdmitIdentity allows one admission per identity per window and reports the
// remaining wait on denial
func (m *MemoryLimiter) AdmitIdentity(_ context.Context, identity string, window time.Duration) (Decision, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	if last, ok := m.lastAdmit[identity]; ok {
		if elapsed := now.Sub(last); elapsed < window {
			return Decision{RetryAfter: window - elapsed}, nil
		}
	}
	m.lastAdmit[identity] = now
	return Decision{Allowed: true}, nil
}

// AdmitOrigin counts requests per origin in a fixed window, resetting the
// window once it has fully elapsed
func (m *MemoryLimiter) AdmitOrigin(_ context.Context, origin string, window time.Duration, maxPerWindow int) (Decision, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	rec, ok := m.origins[origin]
	if !ok || now.Sub(rec.windowStart) > window {
		m.origins[origin] = &originWindow{windowStart: now, count: 1}
		return Decision{Allowed: true}, nil
	}

	rec.count++
	if rec.count > maxPerWindow {
		return Decision{RetryAfter: window - now.Sub(rec.windowStart)}, nil
	}
	return Decision{Allowed: true}, nil
}
