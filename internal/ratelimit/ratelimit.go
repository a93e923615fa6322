// Package ratelimit gates how often an identity may trigger expensive
// commands. Each identity gets its own token bucket; idle buckets are
// evicted so the number of tracked identities stays bounded.
package ratelimit

import (
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"
)

const (
	// DefaultWindow is the period over which MaxEvents are allowed.
	DefaultWindow = time.Minute
	// DefaultMaxEvents is the number of admitted events per window.
	DefaultMaxEvents = 10
	// DefaultMaxTrackedKeys caps the number of identities kept in memory.
	DefaultMaxTrackedKeys = 4096
)

// Config holds the limiter settings.
type Config struct {
	Window         time.Duration
	MaxEvents      int
	MaxTrackedKeys int
}

type entry struct {
	limiter  *rate.Limiter
	lastSeen atomic.Int64 // unix nanoseconds
}

// Limiter is a per-identity rate limiter. Safe for concurrent use;
// identities never contend with each other except during eviction.
type Limiter struct {
	cfg     Config
	entries sync.Map // int -> *entry
	size    atomic.Int64
	evictMu sync.Mutex
}

// New creates a Limiter. Zero fields in cfg fall back to the defaults.
func New(cfg Config) *Limiter {
	if cfg.Window <= 0 {
		cfg.Window = DefaultWindow
	}
	if cfg.MaxEvents <= 0 {
		cfg.MaxEvents = DefaultMaxEvents
	}
	if cfg.MaxTrackedKeys <= 0 {
		cfg.MaxTrackedKeys = DefaultMaxTrackedKeys
	}
	return &Limiter{cfg: cfg}
}

// Admit reports whether identity may trigger another event at now.
// A burst of MaxEvents is allowed, refilled evenly over Window.
func (l *Limiter) Admit(identity int, now time.Time) bool {
	e := l.entryFor(identity, now)
	e.lastSeen.Store(now.UnixNano())
	return e.limiter.AllowN(now, 1)
}

func (l *Limiter) entryFor(identity int, now time.Time) *entry {
	if v, ok := l.entries.Load(identity); ok {
		return v.(*entry)
	}

	if int(l.size.Load()) >= l.cfg.MaxTrackedKeys {
		l.Evict(now)
		l.enforceCap()
	}

	fresh := &entry{
		limiter: rate.NewLimiter(rate.Every(l.cfg.Window/time.Duration(l.cfg.MaxEvents)), l.cfg.MaxEvents),
	}
	fresh.lastSeen.Store(now.UnixNano())
	v, loaded := l.entries.LoadOrStore(identity, fresh)
	if !loaded {
		l.size.Add(1)
	}
	return v.(*entry)
}

// Evict drops identities that have been idle for at least one window.
// Their bucket would be full again anyway, so forgetting them is lossless.
// It returns the number of evicted identities.
func (l *Limiter) Evict(now time.Time) int {
	l.evictMu.Lock()
	defer l.evictMu.Unlock()

	cutoff := now.Add(-l.cfg.Window).UnixNano()
	evicted := 0
	l.entries.Range(func(key, value any) bool {
		if value.(*entry).lastSeen.Load() <= cutoff {
			if l.entries.CompareAndDelete(key, value) {
				l.size.Add(-1)
				evicted++
			}
		}
		return true
	})
	return evicted
}

// enforceCap drops arbitrary identities while the cap is still reached
// after eviction of idle ones.
func (l *Limiter) enforceCap() {
	l.evictMu.Lock()
	defer l.evictMu.Unlock()

	l.entries.Range(func(key, value any) bool {
		if int(l.size.Load()) < l.cfg.MaxTrackedKeys {
			return false
		}
		if l.entries.CompareAndDelete(key, value) {
			l.size.Add(-1)
		}
		return true
	})
}

// Tracked returns the number of identities currently tracked.
func (l *Limiter) Tracked() int {
	return int(l.size.Load())
}
