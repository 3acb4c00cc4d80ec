// Package hwmon implements the sysfs hardware abstraction layer (C1):
// enumeration, reads, and PWM writes against the Linux kernel's
// hardware-monitoring sysfs tree at /sys/class/hwmon.
package hwmon

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/hyperfan-project/hyperfand/internal/identity"
)

// Root is the sysfs hwmon directory. A package-level var (not a const) so
// tests can point it at a fixture tree.
var Root = "/sys/class/hwmon"

// Error classifications (spec §4.1 "Failures", §7 taxonomy).
var (
	ErrNotFound        = errors.New("NotFound")
	ErrPermissionDenied = errors.New("Permission: write denied")
	ErrInvalidData     = errors.New("InvalidData: failed to parse sysfs value")
)

// Chip is one hwmon device directory: a stable driver Name plus a transient
// enumeration Tag (e.g. "hwmon3"), identified uniquely by its canonical
// sysfs directory Path (spec §3 "Chip").
type Chip struct {
	Name           string
	Tag            string
	Path           string
	UpdateInterval time.Duration // 0 if the chip does not expose update_interval
	Temps          []TempSensor
	Fans           []FanSensor
	Pwms           []PwmControl
}

// Selector returns the "name@tag" selector used to address this chip.
func (c Chip) Selector() string { return fmt.Sprintf("%s@%s", c.Name, c.Tag) }

type TempSensor struct {
	ChipSelector string
	Index        int
	Label        string
	Path         string
	MilliDegreeC int
}

// Celsius converts the raw millidegree reading to degrees Celsius.
func (t TempSensor) Celsius() float32 { return float32(t.MilliDegreeC) / 1000.0 }

type FanSensor struct {
	UUID         string
	ChipSelector string
	Index        int
	Label        string
	Path         string
	Rpm          uint32
}

type PwmControl struct {
	UUID         string
	ChipSelector string
	Index        int
	Label        string
	Path         string
	RawValue     uint8
	EnableMode   *int // nil if pwmN_enable does not exist
	MaxScale     *int // nil if pwmN_max does not exist or is 0
}

// Snapshot is a full hwmon enumeration taken at one point in time.
type Snapshot struct {
	Chips     []Chip
	Timestamp time.Time
}

var (
	fanInputRe = regexp.MustCompile(`^fan(\d+)_input$`)
	tempInputRe = regexp.MustCompile(`^temp(\d+)_input$`)
	pwmRe       = regexp.MustCompile(`^pwm(\d+)$`)
)

// Scan enumerates every chip under Root, canonicalizing symlinks, and reads
// each chip's temperature/fan/PWM channels (spec §4.1 "Enumerates...").
// A chip that cannot be read is skipped, and a channel whose value cannot be
// read is kept with a zero value, rather than aborting the whole scan, matching the control loop's availability-over-completeness
// posture (spec §4.9 "Failure semantics").
func Scan() (Snapshot, error) {
	entries, err := os.ReadDir(Root)
	if err != nil {
		if os.IsNotExist(err) {
			return Snapshot{Timestamp: time.Now()}, nil
		}
		return Snapshot{}, err
	}

	chips := make([]Chip, 0, len(entries))
	for _, ent := range entries {
		dir := filepath.Join(Root, ent.Name())
		canon, err := filepath.EvalSymlinks(dir)
		if err != nil {
			continue
		}
		chip, err := scanChip(canon, ent.Name())
		if err != nil {
			continue
		}
		chips = append(chips, chip)
	}
	sort.Slice(chips, func(i, j int) bool { return chips[i].Selector() < chips[j].Selector() })
	return Snapshot{Chips: chips, Timestamp: time.Now()}, nil
}

func scanChip(dir, tag string) (Chip, error) {
	name, err := readTrimmed(filepath.Join(dir, "name"))
	if err != nil {
		name = "unknown"
	}
	chip := Chip{Name: name, Tag: tag, Path: dir}
	chip.UpdateInterval = readUpdateInterval(dir)

	// The fingerprint uses the underlying device's path, which does not
	// change when the hwmonN directory is renumbered.
	devPath, err := filepath.EvalSymlinks(filepath.Join(dir, "device"))
	if err != nil {
		devPath = dir
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		return Chip{}, err
	}
	for _, ent := range entries {
		fn := ent.Name()
		switch {
		case fanInputRe.MatchString(fn):
			idx := mustIndex(fanInputRe, fn)
			path := filepath.Join(dir, fn)
			label, _ := readTrimmed(filepath.Join(dir, fmt.Sprintf("fan%d_label", idx)))
			rpm, _ := readUint(path)
			sel := chip.Selector()
			fp := identity.Fingerprint{DriverName: name, DevicePath: devPath, ChannelKind: "fan", ChannelIndex: idx}
			chip.Fans = append(chip.Fans, FanSensor{
				UUID: fp.String(), ChipSelector: sel, Index: idx, Label: label, Path: path, Rpm: uint32(rpm),
			})
		case tempInputRe.MatchString(fn):
			idx := mustIndex(tempInputRe, fn)
			path := filepath.Join(dir, fn)
			label, _ := readTrimmed(filepath.Join(dir, fmt.Sprintf("temp%d_label", idx)))
			milli, _ := readInt(path)
			chip.Temps = append(chip.Temps, TempSensor{
				ChipSelector: chip.Selector(), Index: idx, Label: label, Path: path, MilliDegreeC: milli,
			})
		case pwmRe.MatchString(fn) && !strings.Contains(fn, "_"):
			idx := mustIndex(pwmRe, fn)
			path := filepath.Join(dir, fn)
			label, _ := readTrimmed(filepath.Join(dir, fmt.Sprintf("pwm%d_label", idx)))
			raw, _ := readUint(path)

			var enableMode *int
			if em, err := readInt(filepath.Join(dir, fmt.Sprintf("pwm%d_enable", idx))); err == nil {
				enableMode = &em
			}
			var maxScale *int
			if mv, err := readInt(filepath.Join(dir, fmt.Sprintf("pwm%d_max", idx))); err == nil && mv > 0 {
				maxScale = &mv
			}

			sel := chip.Selector()
			fp := identity.Fingerprint{DriverName: name, DevicePath: devPath, ChannelKind: "pwm", ChannelIndex: idx}
			chip.Pwms = append(chip.Pwms, PwmControl{
				UUID: fp.String(), ChipSelector: sel, Index: idx, Label: label, Path: path,
				RawValue: uint8(raw), EnableMode: enableMode, MaxScale: maxScale,
			})
		}
	}
	return chip, nil
}

func mustIndex(re *regexp.Regexp, fn string) int {
	m := re.FindStringSubmatch(fn)
	idx, _ := strconv.Atoi(m[1])
	return idx
}

func readUpdateInterval(dir string) time.Duration {
	for _, p := range []string{filepath.Join(dir, "update_interval"), filepath.Join(dir, "device", "update_interval")} {
		if v, err := readUint(p); err == nil {
			return time.Duration(v) * time.Millisecond
		}
	}
	return 0
}

func readTrimmed(path string) (string, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(b)), nil
}

func readInt(path string) (int, error) {
	s, err := readTrimmed(path)
	if err != nil {
		return 0, err
	}
	v, err := strconv.Atoi(s)
	if err != nil {
		return 0, ErrInvalidData
	}
	return v, nil
}

func readUint(path string) (uint64, error) {
	s, err := readTrimmed(path)
	if err != nil {
		return 0, err
	}
	v, err := strconv.ParseUint(s, 10, 64)
	if err != nil {
		return 0, ErrInvalidData
	}
	return v, nil
}

// ResolveChipDir resolves a "name@tag" or plain "name" selector to its
// sysfs directory, re-scanning Root each call (spec §4.1 step 1: "Resolve
// chip dir (by name@hwmonN selector, else by name fallback)").
func ResolveChipDir(selector string) (string, error) {
	wantName, wantTag, hasTag := strings.Cut(selector, "@")
	entries, err := os.ReadDir(Root)
	if err != nil {
		return "", ErrNotFound
	}
	var fallback string
	for _, ent := range entries {
		dir := filepath.Join(Root, ent.Name())
		canon, err := filepath.EvalSymlinks(dir)
		if err != nil {
			continue
		}
		name, err := readTrimmed(filepath.Join(canon, "name"))
		if err != nil || name != wantName {
			continue
		}
		if hasTag {
			if ent.Name() == wantTag {
				return canon, nil
			}
			continue
		}
		if fallback == "" {
			fallback = canon
		}
	}
	if fallback != "" {
		return fallback, nil
	}
	return "", ErrNotFound
}

// ReadTemp parses path as millidegrees Celsius and returns degrees Celsius
// (spec §4.1 "read_temp").
func ReadTemp(path string) (float32, error) {
	milli, err := readInt(path)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, ErrNotFound
		}
		return 0, err
	}
	return float32(milli) / 1000.0, nil
}

// ReadFanRpm reads a fan*_input file (spec §4.1 "read_fan_rpm").
func ReadFanRpm(path string) (uint32, error) {
	v, err := readUint(path)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, ErrNotFound
		}
		return 0, err
	}
	return uint32(v), nil
}

// ReadPwm reads a pwmN file's raw 0..=255 value (spec §4.1 "read_pwm").
func ReadPwm(path string) (uint8, error) {
	v, err := readUint(path)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, ErrNotFound
		}
		return 0, err
	}
	if v > 255 {
		v = 255
	}
	return uint8(v), nil
}
