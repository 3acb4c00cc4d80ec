package control

import (
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/hyperfan-project/hyperfand/internal/configstore"
	"github.com/hyperfan-project/hyperfand/internal/hwmon"
)

// ConfigSnapshot is the copy-on-write config view the loop samples once per
// tick (spec §5 "Config snapshot is copy-on-write: handlers swap a new
// Arc-like reference; the control loop samples it once per tick").
type ConfigSnapshot struct {
	Curves  *configstore.CurvesDocument
	Stepped bool
	Pairings []configstore.Pairing
}

// Loop is the single long-running control-loop worker (C9).
type Loop struct {
	log       *zap.Logger
	overrides *OverrideTable
	period    time.Duration

	mu       sync.RWMutex
	cfg      ConfigSnapshot
	lastPct  map[string]uint8
	lastRaw  map[string]uint8
	warned   map[string]bool

	stop chan struct{}
	done chan struct{}
}

func New(log *zap.Logger, overrides *OverrideTable, period time.Duration) *Loop {
	return &Loop{
		log:       log,
		overrides: overrides,
		period:    period,
		lastPct:   map[string]uint8{},
		lastRaw:   map[string]uint8{},
		warned:    map[string]bool{},
		stop:      make(chan struct{}),
		done:      make(chan struct{}),
	}
}

// SetConfig atomically swaps the active config snapshot (spec §6
// "ReloadConfig -- atomically swap active config snapshot from disk").
func (l *Loop) SetConfig(cfg ConfigSnapshot) {
	l.mu.Lock()
	l.cfg = cfg
	l.mu.Unlock()
}

func (l *Loop) config() ConfigSnapshot {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.cfg
}

// Run blocks, ticking every l.period until Stop is called (spec §4.9 "Single
// long-running worker with a configurable tick period").
func (l *Loop) Run() {
	defer close(l.done)
	ticker := time.NewTicker(l.period)
	defer ticker.Stop()
	for {
		select {
		case <-l.stop:
			return
		case start := <-ticker.C:
			l.tick()
			if elapsed := time.Since(start); elapsed > l.period {
				l.log.Warn("control tick exceeded period", zap.Duration("elapsed", elapsed), zap.Duration("period", l.period))
			}
		}
	}
}

// Stop requests the loop goroutine to exit and waits for it to do so.
func (l *Loop) Stop() {
	close(l.stop)
	<-l.done
}

func (l *Loop) tick() {
	snap, err := hwmon.Scan()
	if err != nil {
		l.log.Error("control tick: hwmon scan failed", zap.Error(err))
		return
	}

	cfg := l.config()
	if cfg.Curves != nil && len(cfg.Curves.Groups) > 0 {
		for _, g := range cfg.Curves.Groups {
			l.applyGroup(snap, g, cfg.Stepped)
		}
		return
	}
	if len(cfg.Pairings) > 0 {
		l.applyLegacy(snap, cfg.Pairings)
	}
}

func (l *Loop) applyGroup(snap hwmon.Snapshot, g configstore.CurveGroup, stepped bool) {
	temp, ok := resolveTempSource(snap, g.TempSource)
	if !ok {
		if !l.warned[g.Name] {
			l.log.Warn("control tick: temp_source unavailable, skipping group", zap.String("group", g.Name), zap.String("temp_source", g.TempSource))
			l.warned[g.Name] = true
		}
		return
	}
	delete(l.warned, g.Name)

	var pct uint8
	if stepped {
		pct = configstore.InterpStepped(g.Curve.Points, temp)
	} else {
		pct = configstore.InterpLinear(g.Curve.Points, temp)
	}
	pct = configstore.ClampAndFloor(g.Curve, pct)

	for _, member := range g.Members {
		path, ok := resolveMember(snap, member)
		if !ok {
			continue
		}
		l.writeMember(path, pct, g.Curve.HysteresisPct, g.Curve.WriteMinDelta)
	}
}

func (l *Loop) applyLegacy(snap hwmon.Snapshot, pairings []configstore.Pairing) {
	curve := configstore.DefaultLegacyCurve()
	for _, p := range pairings {
		if p.PwmPath == "" {
			continue
		}
		temp, ok := legacyTempForMember(snap, p.PwmPath)
		if !ok {
			continue
		}
		pct := configstore.InterpLinear(curve.Points, temp)
		pct = configstore.ClampAndFloor(curve, pct)
		l.writeMember(p.PwmPath, pct, 5, 5)
	}
}

func (l *Loop) writeMember(path string, pct uint8, hysteresisPct, writeMinDelta uint8) {
	if raw, ok := l.overrides.Get(path); ok {
		// Re-assert the override every tick to defeat driver auto-mode
		// regression; the "last written" cache is deliberately not
		// updated (spec §4.9 step 3d.i).
		hwmon.WriteMutex.Lock()
		hwmon.WritePwmAtPath(path, raw)
		hwmon.WriteMutex.Unlock()
		return
	}

	l.mu.Lock()
	lastPct, hadPct := l.lastPct[path]
	lastRaw, hadRaw := l.lastRaw[path]
	l.mu.Unlock()

	if hadPct && absU8(pct, lastPct) < hysteresisPct {
		return
	}
	raw := uint8(uint32(pct) * 255 / 100)
	if hadRaw && absU8(raw, lastRaw) < writeMinDelta {
		return
	}

	hwmon.WriteMutex.Lock()
	_, err := hwmon.WritePwmAtPath(path, raw)
	hwmon.WriteMutex.Unlock()
	if err != nil {
		l.log.Error("control tick: pwm write failed", zap.String("path", path), zap.Error(err))
		return
	}

	l.mu.Lock()
	l.lastPct[path] = pct
	l.lastRaw[path] = raw
	l.mu.Unlock()
}

func absU8(a, b uint8) uint8 {
	if a > b {
		return a - b
	}
	return b - a
}
