// Package ratelimit implements the sliding-window request limiter of
// spec §4.5 (C5): a fixed-duration window, per-peer or global, with atomic
// counters guarded by a mutex around the window boundary.
package ratelimit

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/hyperfan-project/hyperfand/internal/protocol"
)

// DefaultWindow is the fixed window duration (spec §4.5: "10 s").
const DefaultWindow = 10 * time.Second

// Limiter is a single sliding-window token counter. Zero value is not
// usable; construct with New.
type Limiter struct {
	quota  uint32 // atomic
	window time.Duration

	mu          sync.Mutex
	windowStart time.Time
	count       uint32
}

// New creates a Limiter with the given quota (requests per window) and
// window duration. quota is clamped to [protocol.MinRateLimit, protocol.MaxRateLimit].
func New(quota uint32, window time.Duration) *Limiter {
	if quota < protocol.MinRateLimit {
		quota = protocol.MinRateLimit
	}
	if quota > protocol.MaxRateLimit {
		quota = protocol.MaxRateLimit
	}
	if window <= 0 {
		window = DefaultWindow
	}
	l := &Limiter{window: window, windowStart: time.Now()}
	atomic.StoreUint32(&l.quota, quota)
	return l
}

// SetQuota atomically updates the accepted requests-per-window quota,
// clamped to the valid range. Takes effect on the next Check.
func (l *Limiter) SetQuota(quota uint32) {
	if quota < protocol.MinRateLimit {
		quota = protocol.MinRateLimit
	}
	if quota > protocol.MaxRateLimit {
		quota = protocol.MaxRateLimit
	}
	atomic.StoreUint32(&l.quota, quota)
}

// Quota returns the current quota.
func (l *Limiter) Quota() uint32 { return atomic.LoadUint32(&l.quota) }

// Check consumes one token if the window has remaining quota. On breach it
// returns an error whose message begins with "Rate limit" and includes a
// human-readable wait hint, without mutating state further (spec §4.5/§6).
func (l *Limiter) Check() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := time.Now()
	if now.Sub(l.windowStart) >= l.window {
		l.windowStart = now
		l.count = 0
	}

	quota := atomic.LoadUint32(&l.quota)
	if l.count >= quota {
		remaining := l.window - now.Sub(l.windowStart)
		if remaining < 0 {
			remaining = 0
		}
		return fmt.Errorf("Rate limit exceeded, retry in %.1fs", remaining.Seconds())
	}
	l.count++
	return nil
}

// Registry tracks one Limiter per peer identity plus one global limiter,
// matching spec §4.5 ("Maintains a per-process counter... Applied both
// daemon-side (authoritative) and client-side (soft)").
type Registry struct {
	mu       sync.Mutex
	quota    uint32
	window   time.Duration
	global   *Limiter
	perPeer  map[string]*Limiter
}

// NewRegistry creates a Registry with the given default quota/window applied
// to the global limiter and to each newly seen peer.
func NewRegistry(quota uint32, window time.Duration) *Registry {
	return &Registry{
		quota:   quota,
		window:  window,
		global:  New(quota, window),
		perPeer: make(map[string]*Limiter),
	}
}

// Check enforces both the global and the named peer's limiter; the peer's
// limiter is created lazily on first use.
func (r *Registry) Check(peer string) error {
	if err := r.global.Check(); err != nil {
		return err
	}
	r.mu.Lock()
	l, ok := r.perPeer[peer]
	if !ok {
		l = New(r.quota, r.window)
		r.perPeer[peer] = l
	}
	r.mu.Unlock()
	return l.Check()
}

// SetQuota updates the quota applied to the global limiter and to all
// currently tracked peer limiters (and future ones).
func (r *Registry) SetQuota(quota uint32) {
	r.mu.Lock()
	r.quota = quota
	for _, l := range r.perPeer {
		l.SetQuota(quota)
	}
	r.mu.Unlock()
	r.global.SetQuota(quota)
}
