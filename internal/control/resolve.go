package control

import (
	"strings"

	"github.com/hyperfan-project/hyperfand/internal/hwmon"
)

// resolveMember converts a CurveGroup member ("chip@hwmonN:label" or a raw
// sysfs path) to the PWM's current sysfs path, against a freshly taken
// snapshot (spec SPEC_FULL.md §3 "chip@hwmonN:label addressing, resolved to
// a path at write time").
func resolveMember(snap hwmon.Snapshot, member string) (string, bool) {
	if strings.HasPrefix(member, "/") || hwmon.IsGPIOFanPath(member) {
		return member, true
	}
	chipSel, label, ok := strings.Cut(member, ":")
	if !ok {
		return "", false
	}
	for _, c := range snap.Chips {
		if c.Selector() != chipSel {
			continue
		}
		for _, p := range c.Pwms {
			if p.Label == label {
				return p.Path, true
			}
		}
	}
	return "", false
}

// resolveTempSource converts a CurveGroup's temp_source to a live
// temperature reading.
func resolveTempSource(snap hwmon.Snapshot, source string) (float32, bool) {
	chipSel, label, ok := strings.Cut(source, ":")
	if !ok {
		return 0, false
	}
	for _, c := range snap.Chips {
		if c.Selector() != chipSel {
			continue
		}
		for _, t := range c.Temps {
			if t.Label == label {
				return t.Celsius(), true
			}
		}
	}
	return 0, false
}

// legacyTempForMember picks a mapping's temperature the way spec §4.9
// describes for legacy mode: same-chip temp if present, else first
// available temp globally.
func legacyTempForMember(snap hwmon.Snapshot, pwmPath string) (float32, bool) {
	var pwmChip string
	for _, c := range snap.Chips {
		for _, p := range c.Pwms {
			if p.Path == pwmPath {
				pwmChip = c.Selector()
			}
		}
	}
	for _, c := range snap.Chips {
		if c.Selector() == pwmChip {
			for _, t := range c.Temps {
				return t.Celsius(), true
			}
		}
	}
	for _, c := range snap.Chips {
		for _, t := range c.Temps {
			return t.Celsius(), true
		}
	}
	return 0, false
}
