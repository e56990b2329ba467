package ratelimit

import (
	"fmt"
	"sync"
	"time"

	"github.com/skillsmith/skillsmith/internal/config"
)

// Registry holds one Limiter per named preset (strict, standard, relaxed,
// generous, high_throughput, or any custom preset declared in config).
type Registry struct {
	mu       sync.RWMutex
	limiters map[string]*Limiter
	presets  map[string]config.RateLimitConfig
}

// NewRegistry builds a Registry from the rate-limit presets in cfg.
func NewRegistry(presets map[string]config.RateLimitConfig) *Registry {
	r := &Registry{
		limiters: make(map[string]*Limiter, len(presets)),
		presets:  make(map[string]config.RateLimitConfig, len(presets)),
	}
	for name, p := range presets {
		mode := FailOpen
		if p.FailMode == string(FailClosed) {
			mode = FailClosed
		}
		r.limiters[name] = New(p.MaxTokens, p.RefillRate, mode)
		r.presets[name] = p
	}
	return r
}

// Reload replaces every preset's limiter wholesale from a freshly loaded
// config, for the daemon's config-watcher hot-reload path. Existing
// limiters for presets absent from the new set are dropped; in-flight
// Wait callers holding a reference to a dropped limiter keep running
// against their original bucket until they return.
func (r *Registry) Reload(presets map[string]config.RateLimitConfig) {
	limiters := make(map[string]*Limiter, len(presets))
	snapshot := make(map[string]config.RateLimitConfig, len(presets))
	for name, p := range presets {
		mode := FailOpen
		if p.FailMode == string(FailClosed) {
			mode = FailClosed
		}
		limiters[name] = New(p.MaxTokens, p.RefillRate, mode)
		snapshot[name] = p
	}

	r.mu.Lock()
	r.limiters = limiters
	r.presets = snapshot
	r.mu.Unlock()
}

// Get returns the named limiter, or an error if no such preset exists.
func (r *Registry) Get(preset string) (*Limiter, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	l, ok := r.limiters[preset]
	if !ok {
		return nil, fmt.Errorf("ratelimit: unknown preset %q", preset)
	}
	return l, nil
}

// QueueParams returns the queue capacity and wait timeout configured for
// preset. A zero queueCap means the preset doesn't queue: callers should
// use Check rather than Wait's FIFO path.
func (r *Registry) QueueParams(preset string) (queueCap int, timeout time.Duration) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.presets[preset]
	if !ok {
		return 0, 0
	}
	return p.QueueCap, time.Duration(p.WaitTimeoutMS) * time.Millisecond
}
