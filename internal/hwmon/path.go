package hwmon

import (
	"path/filepath"
	"strconv"
	"strings"
)

// indexFromPwmPath extracts N from a ".../pwmN" path.
func indexFromPwmPath(path string) (int, bool) {
	base := filepath.Base(path)
	m := pwmRe.FindStringSubmatch(base)
	if m == nil {
		return 0, false
	}
	idx, err := strconv.Atoi(m[1])
	return idx, err == nil
}

// WritePwmAtPath is the path-addressed counterpart of WritePwm, used by the
// IPC SetPwm/SetPwmOverride handlers and the control loop, which both carry
// a raw sysfs path (or a GPIOFanPrefix-synthetic path) rather than a
// chip-selector+index pair. Caller must hold WriteMutex.
func WritePwmAtPath(path string, value uint8) (PrevState, error) {
	if IsGPIOFanPath(path) {
		return PrevState{ChipDir: path, Index: -1}, WriteGPIOFan(path, value)
	}
	idx, ok := indexFromPwmPath(path)
	if !ok {
		return PrevState{}, ErrInvalidData
	}
	dir := filepath.Dir(path)
	return writePwmInDir(dir, idx, value)
}

// RestorePwmAtPath restores a PrevState captured by WritePwmAtPath.
func RestorePwmAtPath(prev PrevState) error {
	if prev.Index == -1 {
		// GPIO fans have no enable-mode concept; simply reassert raw.
		return WriteGPIOFan(prev.ChipDir, prev.RawBefore)
	}
	return RestorePwm(prev)
}

// ReadPwmAtPath reads a pwmN value (sysfs or GPIO-synthetic path).
func ReadPwmAtPath(path string) (uint8, error) {
	if IsGPIOFanPath(path) {
		return ReadGPIOFan(path)
	}
	return ReadPwm(path)
}

// SelectorAndIndexForPath resolves both the owning chip's selector and the
// channel index for a ".../pwmN" path, for handlers that need to call
// SetEnableMode (which addresses by selector+index rather than by path).
func SelectorAndIndexForPath(path string) (string, int, error) {
	idx, ok := indexFromPwmPath(path)
	if !ok {
		return "", 0, ErrInvalidData
	}
	sel, err := ChipSelectorForPath(path)
	if err != nil {
		return "", 0, err
	}
	return sel, idx, nil
}

// ChipSelectorForPath resolves the owning chip's "name@tag" selector for a
// sysfs channel path, by reading that directory's name file directly
// (cheaper than a full Scan when only the selector is needed).
func ChipSelectorForPath(path string) (string, error) {
	dir := filepath.Dir(path)
	name, err := readTrimmed(filepath.Join(dir, "name"))
	if err != nil {
		return "", ErrNotFound
	}
	tag := filepath.Base(dir)
	return name + "@" + tag, nil
}

func writePwmInDir(dir string, index int, value uint8) (PrevState, error) {
	sel, err := selectorForDir(dir)
	if err != nil {
		return PrevState{}, err
	}
	return WritePwm(sel, index, value)
}

func selectorForDir(dir string) (string, error) {
	name, err := readTrimmed(filepath.Join(dir, "name"))
	if err != nil {
		return "", ErrNotFound
	}
	return name + "@" + strings.TrimSuffix(filepath.Base(dir), "/"), nil
}
