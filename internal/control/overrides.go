// Package control implements the fan control tick loop (C9): read a
// hardware snapshot, evaluate each CurveGroup's curve, apply
// hysteresis/min-delta write suppression, and honor TTL-bounded manual
// overrides.
package control

import (
	"time"

	cache "github.com/patrickmn/go-cache"
)

// OverrideTable is the shared TTL-bounded PWM override map (spec §3
// "Override... TTL-bounded manual PWM value that the control loop must
// respect until expiry or explicit clear"). Backed by patrickmn/go-cache,
// whose own expiry sweep matches the "expires_at" semantics the spec
// describes exactly, so the control loop only has to ask "is there a live
// override for this PWM" each tick rather than track expiry itself.
type OverrideTable struct {
	c *cache.Cache
}

// NewOverrideTable creates an override table whose entries have no default
// expiry (callers always pass an explicit TTL via Set) and a janitor sweep
// every 30s to reclaim expired entries promptly.
func NewOverrideTable() *OverrideTable {
	return &OverrideTable{c: cache.New(cache.NoExpiration, 30*time.Second)}
}

// Set installs an override for pwmPath with the given raw value and TTL
// (spec §6 "SetPwmOverride{path, value, ttl_ms}").
func (t *OverrideTable) Set(pwmPath string, raw uint8, ttl time.Duration) {
	t.c.Set(pwmPath, raw, ttl)
}

// Get returns the live override value for pwmPath, if any (spec §4.9 step
// 3d.i "If unexpired override exists for M: write the override's raw
// value").
func (t *OverrideTable) Get(pwmPath string) (uint8, bool) {
	v, ok := t.c.Get(pwmPath)
	if !ok {
		return 0, false
	}
	return v.(uint8), true
}

// Clear removes an override (spec §6 "ClearPwmOverride{path}" -- idempotent,
// a missing entry is not an error).
func (t *OverrideTable) Clear(pwmPath string) {
	t.c.Delete(pwmPath)
}
