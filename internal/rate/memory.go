// Package rate is a process-local fixed-window limiter for HTTP routes.
package rate

import (
	"sync"
	"time"
)

type window struct {
	count int
	start time.Time
}

type Limiter struct {
	mu      sync.Mutex
	now     func() time.Time
	windows map[string]window
	lastGC  time.Time
}

func NewLimiter() *Limiter {
	return newLimiter(time.Now)
}

func newLimiter(now func() time.Time) *Limiter {
	return &Limiter{now: now, windows: map[string]window{}, lastGC: now().UTC()}
}

// Allow counts one hit for key and reports whether it fits in the current
// window of the given length.
func (l *Limiter) Allow(key string, limit int, length time.Duration) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	now := l.now().UTC()
	if now.Sub(l.lastGC) > time.Minute {
		for k, w := range l.windows {
			if now.Sub(w.start) > 3*length {
				delete(l.windows, k)
			}
		}
		l.lastGC = now
	}
	w, ok := l.windows[key]
	if !ok || now.Sub(w.start) >= length {
		l.windows[key] = window{count: 1, start: now}
		return true
	}
	if w.count >= limit {
		return false
	}
	w.count++
	l.windows[key] = w
	return true
}

// Reset forgets key, e.g. after a successful sign-in.
func (l *Limiter) Reset(key string) {
	l.mu.Lock()
	delete(l.windows, key)
	l.mu.Unlock()
}
