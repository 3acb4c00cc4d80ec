package hwmon

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"sync"
)

// WriteMutex serializes every PWM write sequence across the whole daemon
// (spec §3 invariant "No two concurrent IPC handlers hold the PWM mutation
// lock simultaneously"; §5 "Hardware mutex guards all PWM write sequences").
// Read-only operations never take it.
var WriteMutex sync.Mutex

// PrevState captures a PWM channel's value and enable-mode before a mutating
// write, for later Restore (spec §4.1 "Return PrevState{raw_before,
// enable_before} for restoration semantics").
type PrevState struct {
	ChipDir      string
	Index        int
	RawBefore    uint8
	EnableBefore *int
}

// WritePwm clamps value to [0,255], scales it against pwmN_max if present,
// forces manual mode if the driver is currently in automatic mode, and
// atomically writes the result (spec §4.1 "Write operation: write_pwm").
// Caller must hold WriteMutex (ipcserver.handlers and control.Loop always
// acquire it around this call per the fixed lock order in spec §5).
func WritePwm(chipSelector string, index int, value uint8) (PrevState, error) {
	dir, err := ResolveChipDir(chipSelector)
	if err != nil {
		return PrevState{}, ErrNotFound
	}

	pwmPath := filepath.Join(dir, fmt.Sprintf("pwm%d", index))
	enablePath := filepath.Join(dir, fmt.Sprintf("pwm%d_enable", index))
	maxPath := filepath.Join(dir, fmt.Sprintf("pwm%d_max", index))

	prev := PrevState{ChipDir: dir, Index: index}
	if raw, err := readUint(pwmPath); err == nil {
		prev.RawBefore = uint8(raw)
	}

	var modeChanged bool
	if enableBefore, err := readInt(enablePath); err == nil {
		eb := enableBefore
		prev.EnableBefore = &eb
		if enableBefore == 2 {
			if err := writeASCII(enablePath, 1); err != nil {
				return prev, classifyWriteErr(err)
			}
			modeChanged = true
		}
	}
	_ = modeChanged

	scaled := uint64(value)
	if maxVal, err := readUint(maxPath); err == nil && maxVal > 0 {
		scaled = uint64(value) * maxVal / 255
	}

	if err := writeASCII(pwmPath, int(scaled)); err != nil {
		return prev, classifyWriteErr(err)
	}
	return prev, nil
}

// RestorePwm restores a previously captured PrevState. If restoring to
// automatic mode (EnableBefore == 2), the raw value is written first while
// still in manual mode, then enable is set to 2 last -- the ordering spec
// §4.1 calls out ("Guarantees fans never stall unexpectedly during mode
// transitions"). Otherwise enable is written first, then the value.
func RestorePwm(prev PrevState) error {
	pwmPath := filepath.Join(prev.ChipDir, fmt.Sprintf("pwm%d", prev.Index))
	enablePath := filepath.Join(prev.ChipDir, fmt.Sprintf("pwm%d_enable", prev.Index))

	if prev.EnableBefore == nil {
		return writeASCII(pwmPath, int(prev.RawBefore))
	}

	if *prev.EnableBefore == 2 {
		if err := writeASCII(pwmPath, int(prev.RawBefore)); err != nil {
			return classifyWriteErr(err)
		}
		return writeASCII(enablePath, 2)
	}
	if err := writeASCII(enablePath, *prev.EnableBefore); err != nil {
		return classifyWriteErr(err)
	}
	return writeASCII(pwmPath, int(prev.RawBefore))
}

// SetEnableMode writes pwmN_enable directly (spec §6 EnableManualPwm/
// DisableManualPwm: "writes pwm*_enable to 1 or 2").
func SetEnableMode(chipSelector string, index int, mode int) error {
	dir, err := ResolveChipDir(chipSelector)
	if err != nil {
		return ErrNotFound
	}
	path := filepath.Join(dir, fmt.Sprintf("pwm%d_enable", index))
	if err := writeASCII(path, mode); err != nil {
		return classifyWriteErr(err)
	}
	return nil
}

func writeASCII(path string, v int) error {
	return os.WriteFile(path, []byte(strconv.Itoa(v)), 0644)
}

func classifyWriteErr(err error) error {
	if os.IsNotExist(err) {
		return ErrNotFound
	}
	if os.IsPermission(err) {
		return ErrPermissionDenied
	}
	return err
}
