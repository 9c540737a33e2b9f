// Package ratelimit provides per-key token bucket rate limiting for MCP tools.
package ratelimit

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/coder/quartz"
)

// ErrLimited is wrapped by CheckLimit when a call is rejected.
var ErrLimited = errors.New("rate limit exceeded")

// Limiter is a token bucket limiter keyed by caller-supplied strings.
// Every key starts with a full bucket. Safe for concurrent use.
type Limiter struct {
	mu      sync.Mutex
	buckets map[string]*bucket
	rate    float64 // tokens per second
	burst   int
	clock   quartz.Clock
}

type bucket struct {
	tokens float64
	seen   time.Time
}

// NewLimiter creates a limiter refilling at rate tokens/sec up to burst.
func NewLimiter(rate float64, burst int) *Limiter {
	return NewLimiterWithClock(rate, burst, quartz.NewReal())
}

// NewLimiterWithClock is NewLimiter with an explicit clock.
func NewLimiterWithClock(rate float64, burst int, clock quartz.Clock) *Limiter {
	return &Limiter{
		buckets: make(map[string]*bucket),
		rate:    rate,
		burst:   burst,
		clock:   clock,
	}
}

// Allow takes one token from key's bucket, reporting whether one was there.
func (l *Limiter) Allow(key string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.clock.Now("ratelimit", "allow")
	b, ok := l.buckets[key]
	if !ok {
		b = &bucket{tokens: float64(l.burst), seen: now}
		l.buckets[key] = b
	}

	if elapsed := now.Sub(b.seen).Seconds(); elapsed > 0 {
		b.tokens = min(b.tokens+l.rate*elapsed, float64(l.burst))
		b.seen = now
	}

	if b.tokens < 1 {
		return false
	}
	b.tokens--
	return true
}

// ToolLimiters maps tool names to their rate limiters.
type ToolLimiters map[string]*Limiter

// Tool and resource keys with a configured limit.
const (
	ToolSources   = "dbmon_sources"
	ToolHistory   = "dbmon_history"
	ResourceReads = "dbmon_resources"
)

// NewToolLimiters creates the default per-tool limits. Reads are cheap, so
// the limits only guard against runaway clients.
func NewToolLimiters(clock quartz.Clock) ToolLimiters {
	if clock == nil {
		clock = quartz.NewReal()
	}
	return ToolLimiters{
		ToolSources:   NewLimiterWithClock(1.0, 10, clock), // 60/minute, burst 10
		ToolHistory:   NewLimiterWithClock(2.0, 20, clock), // 120/minute, burst 20
		ResourceReads: NewLimiterWithClock(1.0, 10, clock), // 60/minute, burst 10
	}
}

// CheckLimit returns an error wrapping ErrLimited if name is over its limit.
// Names without a limiter are always allowed.
func CheckLimit(limiters ToolLimiters, name string) error {
	limiter, ok := limiters[name]
	if !ok {
		return nil
	}
	if !limiter.Allow(name) {
		return fmt.Errorf("%w for %s, please try again shortly", ErrLimited, name)
	}
	return nil
}
