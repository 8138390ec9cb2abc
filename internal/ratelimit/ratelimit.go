// Package ratelimit implements sliding-window rate limiting at the
// dispatcher boundary. Grounded on the teacher's
// coreengine/kernel/rate_limiter.go (SlidingWindow + RateLimiter),
// generalized from a per-user/per-endpoint key to a per-capability
// request-serving core's natural key: (callerID, capability, action).
package ratelimit

import (
	"sync"
	"time"
)

// Config declares the thresholds a Limiter enforces. A zero PerMinute
// or PerHour disables that window. BurstSize is carried in the config
// but Limiter does not enforce it.
type Config struct {
	PerMinute int
	PerHour   int
	BurstSize int
}

// DefaultConfig mirrors the teacher's DefaultRateLimitConfig values.
func DefaultConfig() Config {
	return Config{PerMinute: 60, PerHour: 1000, BurstSize: 10}
}

// Result is the outcome of a single rate-limit check.
type Result struct {
	Allowed    bool
	LimitType  string
	Current    int
	Limit      int
	Remaining  int
	RetryAfter time.Duration
}

// slidingWindow buckets request timestamps into bucketCount
// sub-buckets spanning windowSeconds, so the window slides smoothly
// instead of resetting at fixed boundaries.
type slidingWindow struct {
	mu            sync.Mutex
	windowSeconds int
	bucketCount   int
	buckets       map[int64]int
}

func newSlidingWindow(windowSeconds int) *slidingWindow {
	return &slidingWindow{windowSeconds: windowSeconds, bucketCount: 10, buckets: make(map[int64]int)}
}

func (w *slidingWindow) bucketSize() float64 {
	return float64(w.windowSeconds) / float64(w.bucketCount)
}

func (w *slidingWindow) record(now time.Time) int {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.evictLocked(now)
	current := int64(float64(now.UnixNano()) / 1e9 / w.bucketSize())
	w.buckets[current]++
	return w.countLocked(now)
}

func (w *slidingWindow) count(now time.Time) int {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.evictLocked(now)
	return w.countLocked(now)
}

func (w *slidingWindow) countLocked(now time.Time) int {
	total := 0
	for _, c := range w.buckets {
		total += c
	}
	return total
}

func (w *slidingWindow) evictLocked(now time.Time) {
	current := int64(float64(now.UnixNano()) / 1e9 / w.bucketSize())
	min := current - int64(w.bucketCount)
	for b := range w.buckets {
		if b < min {
			delete(w.buckets, b)
		}
	}
}

// key identifies one rate-limited stream.
type key struct {
	callerID   string
	capability string
	action     string
}

// Limiter enforces per-minute and per-hour sliding-window limits per
// caller/capability/action, with capability-level overrides taking
// precedence over a process-wide default — mirroring the teacher's
// "endpoint config overrides user config overrides default" lookup
// chain.
type Limiter struct {
	mu                sync.RWMutex
	defaultConfig     Config
	capabilityConfigs map[string]Config
	windows           map[key]struct{ minute, hour *slidingWindow }
}

// NewLimiter creates a Limiter using cfg as the process-wide default.
func NewLimiter(cfg Config) *Limiter {
	return &Limiter{
		defaultConfig:     cfg,
		capabilityConfigs: make(map[string]Config),
		windows:           make(map[key]struct{ minute, hour *slidingWindow }),
	}
}

// SetCapabilityLimits overrides the default config for one capability.
func (l *Limiter) SetCapabilityLimits(capability string, cfg Config) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.capabilityConfigs[capability] = cfg
}

func (l *Limiter) configFor(capability string) Config {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if cfg, ok := l.capabilityConfigs[capability]; ok {
		return cfg
	}
	return l.defaultConfig
}

// Check records a request (if allowed) and reports whether it fits
// within the caller/capability/action's configured limits. The first
// exceeded window determines the result.
func (l *Limiter) Check(callerID, capability, action string) Result {
	cfg := l.configFor(capability)
	now := time.Now()
	k := key{callerID: callerID, capability: capability, action: action}

	l.mu.Lock()
	w, ok := l.windows[k]
	if !ok {
		w = struct{ minute, hour *slidingWindow }{
			minute: newSlidingWindow(60),
			hour:   newSlidingWindow(3600),
		}
		l.windows[k] = w
	}
	l.mu.Unlock()

	if cfg.PerMinute > 0 {
		if current := w.minute.count(now); current >= cfg.PerMinute {
			return Result{Allowed: false, LimitType: "minute", Current: current, Limit: cfg.PerMinute, RetryAfter: time.Minute}
		}
	}
	if cfg.PerHour > 0 {
		if current := w.hour.count(now); current >= cfg.PerHour {
			return Result{Allowed: false, LimitType: "hour", Current: current, Limit: cfg.PerHour, RetryAfter: time.Hour}
		}
	}

	var minuteCount, hourCount int
	if cfg.PerMinute > 0 {
		minuteCount = w.minute.record(now)
	}
	if cfg.PerHour > 0 {
		hourCount = w.hour.record(now)
	}

	remaining := -1
	if cfg.PerMinute > 0 {
		remaining = cfg.PerMinute - minuteCount
	}
	if cfg.PerHour > 0 {
		if hr := cfg.PerHour - hourCount; remaining < 0 || hr < remaining {
			remaining = hr
		}
	}
	return Result{Allowed: true, Remaining: remaining}
}
