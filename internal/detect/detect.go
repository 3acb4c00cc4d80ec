// Package detect implements the auto-pairing detection engine (C8): ramp
// every PWM, pulse each one in turn, and observe which fan's RPM responds to
// identify PWM-to-fan pairings without user intervention.
package detect

import (
	"sync/atomic"
	"time"

	"github.com/cskr/pubsub"

	"github.com/hyperfan-project/hyperfand/internal/hwmon"
)

// Candidate is one proposed PWM-to-fan pairing with its confidence score.
type Candidate struct {
	PwmPath    string
	FanPath    string
	Confidence float64
}

// ProgressTopic is the pubsub topic progress updates are published on
// (spec §4.8 "Progress is published as a monotonic float in [0,1]").
const ProgressTopic = "detect.progress"

const (
	primaryDropRatio    = 0.20
	primaryMinDeltaRpm  = 200
	fallbackDropRatio   = 0.10
	fallbackMinDeltaRpm = 100
	secondaryDropRatio  = 0.08
	secondaryMinDeltaRpm = 80
	assignmentThreshold = 0.25
	confidenceFloor     = 0.80
)

// Detector runs one detection pass at a time. Cancel is a cooperative flag
// polled at every dwell boundary (spec §5 "Cancellation is cooperative via a
// shared flag... polled at every dwell boundary and inner loop step").
type Detector struct {
	bus    *pubsub.PubSub
	cancel atomic.Bool
}

func New(bus *pubsub.PubSub) *Detector {
	return &Detector{bus: bus}
}

// Cancel requests cooperative early termination of an in-flight Run.
func (d *Detector) Cancel() { d.cancel.Store(true) }

func (d *Detector) cancelled() bool { return d.cancel.Load() }

func (d *Detector) publish(progress float64) {
	if d.bus != nil {
		d.bus.TryPub(progress, ProgressTopic)
	}
}

type pwmState struct {
	path string
	prev hwmon.PrevState
}

// Run executes the full detection algorithm (spec §4.8, steps 1-8) against
// snap and returns the strongest confident pairing per PWM. Every PWM is
// restored to its pre-detection state before returning, on every exit path
// including cancellation.
func (d *Detector) Run(snap hwmon.Snapshot) ([]Candidate, error) {
	d.cancel.Store(false)
	defer d.publish(1.0)

	var pwms []hwmon.PwmControl
	var fans []hwmon.FanSensor
	maxInterval := time.Duration(0)
	for _, chip := range snap.Chips {
		pwms = append(pwms, chip.Pwms...)
		fans = append(fans, chip.Fans...)
		if chip.UpdateInterval > maxInterval {
			maxInterval = chip.UpdateInterval
		}
	}
	if len(pwms) == 0 || len(fans) == 0 {
		return nil, nil
	}

	dwell := clampDwell(maxInterval * 2)

	// Step 1-2: snapshot prior state, ramp every PWM to 255.
	hwmon.WriteMutex.Lock()
	states := make([]pwmState, 0, len(pwms))
	for _, p := range pwms {
		prev, err := hwmon.WritePwmAtPath(p.Path, 255)
		states = append(states, pwmState{path: p.Path, prev: prev})
		_ = err // best-effort; detection proceeds even if one PWM refuses the ramp
	}
	hwmon.WriteMutex.Unlock()

	defer d.restoreAll(states)

	if d.sleepOrCancel(dwell) {
		return nil, nil
	}

	// Step 3: baseline.
	baseline := readFanRpms(fans)
	d.publish(0.1)

	candidates := d.primaryPass(pwms, fans, baseline, dwell)
	if len(candidates) == 0 && !d.cancelled() {
		candidates = d.fallbackPass(pwms, fans, baseline, dwell)
	}

	assigned, usedPwm, usedFan := assign(candidates)
	if !d.cancelled() {
		assigned = append(assigned, d.secondaryPass(pwms, fans, baseline, dwell, usedPwm, usedFan)...)
	}
	return assigned, nil
}

func (d *Detector) restoreAll(states []pwmState) {
	hwmon.WriteMutex.Lock()
	defer hwmon.WriteMutex.Unlock()
	for _, s := range states {
		_ = hwmon.RestorePwmAtPath(s.prev)
	}
}

// sleepOrCancel sleeps in small increments so cancellation is observed
// promptly rather than only at dwell boundaries. Returns true if cancelled.
func (d *Detector) sleepOrCancel(d2 time.Duration) bool {
	const step = 50 * time.Millisecond
	elapsed := time.Duration(0)
	for elapsed < d2 {
		if d.cancelled() {
			return true
		}
		s := step
		if remaining := d2 - elapsed; remaining < s {
			s = remaining
		}
		time.Sleep(s)
		elapsed += s
	}
	return d.cancelled()
}

func clampDwell(d time.Duration) time.Duration {
	const minDwell = 800 * time.Millisecond
	const maxDwell = 4000 * time.Millisecond
	if d < minDwell {
		return minDwell
	}
	if d > maxDwell {
		return maxDwell
	}
	return d
}

func readFanRpms(fans []hwmon.FanSensor) map[string]float64 {
	out := make(map[string]float64, len(fans))
	for _, f := range fans {
		rpm, err := hwmon.ReadFanRpm(f.Path)
		if err != nil {
			continue
		}
		out[f.Path] = float64(rpm)
	}
	return out
}

func (d *Detector) primaryPass(pwms []hwmon.PwmControl, fans []hwmon.FanSensor, baseline map[string]float64, dwell time.Duration) []Candidate {
	var candidates []Candidate
	total := len(pwms)
	for i, p := range pwms {
		if d.cancelled() {
			return candidates
		}
		hwmon.WriteMutex.Lock()
		hwmon.WritePwmAtPath(p.Path, 0)
		hwmon.WriteMutex.Unlock()

		if d.sleepOrCancel(maxDuration(dwell, 3*time.Second)) {
			hwmon.WriteMutex.Lock()
			hwmon.WritePwmAtPath(p.Path, 255)
			hwmon.WriteMutex.Unlock()
			return candidates
		}

		current := readFanRpms(fans)
		best, bestConf := bestResponder(p, fans, baseline, current, primaryDropRatio, primaryMinDeltaRpm)
		if best != "" && bestConf < confidenceFloor {
			if !d.sleepOrCancel(dwell) {
				current2 := readFanRpms(fans)
				best2, conf2 := bestResponder(p, fans, baseline, current2, primaryDropRatio, primaryMinDeltaRpm)
				if conf2 > bestConf {
					best, bestConf = best2, conf2
				}
			}
		}
		if best != "" {
			candidates = append(candidates, Candidate{PwmPath: p.Path, FanPath: best, Confidence: bestConf})
		}

		hwmon.WriteMutex.Lock()
		hwmon.WritePwmAtPath(p.Path, 255)
		hwmon.WriteMutex.Unlock()

		d.publish(0.1 + 0.7*float64(i+1)/float64(total))
	}
	return candidates
}

func (d *Detector) fallbackPass(pwms []hwmon.PwmControl, fans []hwmon.FanSensor, baseline map[string]float64, dwell time.Duration) []Candidate {
	var candidates []Candidate
	for _, p := range pwms {
		if d.cancelled() {
			return candidates
		}
		hwmon.WriteMutex.Lock()
		hwmon.WritePwmAtPath(p.Path, 0)
		hwmon.WriteMutex.Unlock()
		if d.sleepOrCancel(dwell) {
			hwmon.WriteMutex.Lock()
			hwmon.WritePwmAtPath(p.Path, 255)
			hwmon.WriteMutex.Unlock()
			return candidates
		}
		low := readFanRpms(fans)

		hwmon.WriteMutex.Lock()
		hwmon.WritePwmAtPath(p.Path, 255)
		hwmon.WriteMutex.Unlock()
		if d.sleepOrCancel(dwell) {
			return candidates
		}
		high := readFanRpms(fans)

		hwmon.WriteMutex.Lock()
		hwmon.WritePwmAtPath(p.Path, 0)
		hwmon.WriteMutex.Unlock()
		if d.sleepOrCancel(dwell) {
			hwmon.WriteMutex.Lock()
			hwmon.WritePwmAtPath(p.Path, 255)
			hwmon.WriteMutex.Unlock()
			return candidates
		}
		low2 := readFanRpms(fans)

		hwmon.WriteMutex.Lock()
		hwmon.WritePwmAtPath(p.Path, 255)
		hwmon.WriteMutex.Unlock()

		if best, conf := bestResponderCrossVerified(p, fans, baseline, low, high, low2, fallbackDropRatio, fallbackMinDeltaRpm); best != "" {
			candidates = append(candidates, Candidate{PwmPath: p.Path, FanPath: best, Confidence: conf})
		}
	}
	return candidates
}

func (d *Detector) secondaryPass(pwms []hwmon.PwmControl, fans []hwmon.FanSensor, baseline map[string]float64, dwell time.Duration, usedPwm, usedFan map[string]bool) []Candidate {
	var out []Candidate
	for _, p := range pwms {
		if usedPwm[p.Path] || d.cancelled() {
			continue
		}
		hwmon.WriteMutex.Lock()
		hwmon.WritePwmAtPath(p.Path, 0)
		hwmon.WriteMutex.Unlock()
		if d.sleepOrCancel(dwell) {
			break
		}
		low := readFanRpms(fans)

		hwmon.WriteMutex.Lock()
		hwmon.WritePwmAtPath(p.Path, 255)
		hwmon.WriteMutex.Unlock()
		if d.sleepOrCancel(dwell) {
			break
		}
		high := readFanRpms(fans)

		var best string
		var bestConf float64
		for _, f := range fans {
			if usedFan[f.Path] {
				continue
			}
			b, ok := baseline[f.Path]
			l, lok := low[f.Path]
			h, hok := high[f.Path]
			if !ok || !lok || !hok || b <= 0 {
				continue
			}
			dropRatio := (h - l) / maxFloat(b, 1)
			delta := h - l
			if dropRatio >= secondaryDropRatio && absFloat(delta) >= secondaryMinDeltaRpm {
				conf := minFloat(1.0, dropRatio*1.2)
				if conf > bestConf {
					best, bestConf = f.Path, conf
				}
			}
		}
		if best != "" {
			out = append(out, Candidate{PwmPath: p.Path, FanPath: best, Confidence: bestConf})
			usedFan[best] = true
			usedPwm[p.Path] = true
		}
	}
	return out
}

func bestResponder(p hwmon.PwmControl, fans []hwmon.FanSensor, baseline, current map[string]float64, dropThreshold, deltaThreshold float64) (string, float64) {
	var best string
	var bestConf float64
	for _, f := range fans {
		b, ok := baseline[f.Path]
		c, cok := current[f.Path]
		if !ok || !cok || b <= 0 {
			continue
		}
		dropRatio := (b - c) / b
		delta := b - c
		if dropRatio >= dropThreshold && absFloat(delta) >= deltaThreshold {
			conf := minFloat(1.0, dropRatio*1.5)
			if sameChip(p.ChipSelector, f.ChipSelector) {
				conf = minFloat(1.0, conf+0.05)
			}
			if conf > bestConf {
				best, bestConf = f.Path, conf
			}
		}
	}
	return best, bestConf
}

func bestResponderCrossVerified(p hwmon.PwmControl, fans []hwmon.FanSensor, baseline, low, high, low2 map[string]float64, dropThreshold, deltaThreshold float64) (string, float64) {
	var best string
	var bestConf float64
	for _, f := range fans {
		b, ok := baseline[f.Path]
		lv, lok := low[f.Path]
		hv, hok := high[f.Path]
		l2, l2ok := low2[f.Path]
		if !ok || !lok || !hok || !l2ok || b <= 0 {
			continue
		}
		dropRatio := (b - lv) / b
		delta := b - lv
		recovered := hv > lv
		dropsAgain := l2 < hv
		if dropRatio >= dropThreshold && absFloat(delta) >= deltaThreshold && recovered && dropsAgain {
			conf := minFloat(1.0, dropRatio*1.3)
			if conf > bestConf {
				best, bestConf = f.Path, conf
			}
		}
	}
	return best, bestConf
}

// assign greedily sorts candidates by confidence descending and assigns
// one-to-one, each PWM and each fan used at most once (spec §4.8 step 6).
func assign(candidates []Candidate) ([]Candidate, map[string]bool, map[string]bool) {
	sorted := append([]Candidate(nil), candidates...)
	for i := 1; i < len(sorted); i++ {
		for j := i; j > 0 && sorted[j-1].Confidence < sorted[j].Confidence; j-- {
			sorted[j-1], sorted[j] = sorted[j], sorted[j-1]
		}
	}
	usedPwm := map[string]bool{}
	usedFan := map[string]bool{}
	var out []Candidate
	for _, c := range sorted {
		if c.Confidence <= assignmentThreshold {
			continue
		}
		if usedPwm[c.PwmPath] || usedFan[c.FanPath] {
			continue
		}
		usedPwm[c.PwmPath] = true
		usedFan[c.FanPath] = true
		out = append(out, c)
	}
	return out, usedPwm, usedFan
}

func sameChip(a, b string) bool { return a == b }

func absFloat(v float64) float64 {
	if v < 0 {
		return -v
	}
	return v
}

func minFloat(a, b float64) float64 {
	if a < b {
		return a
	}
	return b
}

func maxFloat(a, b float64) float64 {
	if a > b {
		return a
	}
	return b
}

func maxDuration(a, b time.Duration) time.Duration {
	if a > b {
		return a
	}
	return b
}
