package hwmon

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// writeFile creates path's parent dirs and writes contents, matching the
// layout a real /sys/class/hwmon tree presents (flat directory of files).
func writeFile(t *testing.T, path, contents string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0755))
	require.NoError(t, os.WriteFile(path, []byte(contents), 0644))
}

// newFixture builds a two-chip fixture tree rooted at a temp dir and points
// Root at it for the duration of the test.
func newFixture(t *testing.T) string {
	t.Helper()
	root := t.TempDir()
	orig := Root
	Root = root
	t.Cleanup(func() { Root = orig })

	chip0 := filepath.Join(root, "hwmon0")
	writeFile(t, filepath.Join(chip0, "name"), "nct6798\n")
	writeFile(t, filepath.Join(chip0, "update_interval"), "1000\n")
	writeFile(t, filepath.Join(chip0, "temp1_input"), "45000\n")
	writeFile(t, filepath.Join(chip0, "temp1_label"), "CPU\n")
	writeFile(t, filepath.Join(chip0, "fan1_input"), "1234\n")
	writeFile(t, filepath.Join(chip0, "pwm1"), "128\n")
	writeFile(t, filepath.Join(chip0, "pwm1_enable"), "1\n")
	writeFile(t, filepath.Join(chip0, "pwm1_max"), "255\n")

	chip1 := filepath.Join(root, "hwmon1")
	writeFile(t, filepath.Join(chip1, "name"), "k10temp\n")
	writeFile(t, filepath.Join(chip1, "temp1_input"), "52000\n")

	return root
}

func TestScanEnumeratesChipsSortedBySelector(t *testing.T) {
	newFixture(t)
	snap, err := Scan()
	require.NoError(t, err)
	require.Len(t, snap.Chips, 2)
	assert.Equal(t, "k10temp@hwmon1", snap.Chips[0].Selector())
	assert.Equal(t, "nct6798@hwmon0", snap.Chips[1].Selector())
}

func TestScanReadsChannels(t *testing.T) {
	newFixture(t)
	snap, err := Scan()
	require.NoError(t, err)

	var chip Chip
	for _, c := range snap.Chips {
		if c.Name == "nct6798" {
			chip = c
		}
	}
	require.NotEmpty(t, chip.Name)
	require.Len(t, chip.Temps, 1)
	assert.Equal(t, "CPU", chip.Temps[0].Label)
	assert.InDelta(t, 45.0, chip.Temps[0].Celsius(), 0.001)

	require.Len(t, chip.Fans, 1)
	assert.Equal(t, uint32(1234), chip.Fans[0].Rpm)
	assert.NotEmpty(t, chip.Fans[0].UUID)

	require.Len(t, chip.Pwms, 1)
	assert.Equal(t, uint8(128), chip.Pwms[0].RawValue)
	require.NotNil(t, chip.Pwms[0].EnableMode)
	assert.Equal(t, 1, *chip.Pwms[0].EnableMode)
	require.NotNil(t, chip.Pwms[0].MaxScale)
	assert.Equal(t, 255, *chip.Pwms[0].MaxScale)
}

func TestScanReadsUpdateInterval(t *testing.T) {
	newFixture(t)
	snap, err := Scan()
	require.NoError(t, err)
	for _, c := range snap.Chips {
		if c.Name == "nct6798" {
			assert.Equal(t, int64(1_000_000_000), c.UpdateInterval.Nanoseconds())
		}
		if c.Name == "k10temp" {
			assert.Equal(t, int64(0), c.UpdateInterval.Nanoseconds())
		}
	}
}

func TestResolveChipDirBySelectorAndNameFallback(t *testing.T) {
	root := newFixture(t)
	dir, err := ResolveChipDir("nct6798@hwmon0")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(root, "hwmon0"), dir)

	dir, err = ResolveChipDir("nct6798")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(root, "hwmon0"), dir)

	_, err = ResolveChipDir("nonexistent")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestReadTempFanPwm(t *testing.T) {
	root := newFixture(t)
	c, err := ReadTemp(filepath.Join(root, "hwmon0", "temp1_input"))
	require.NoError(t, err)
	assert.InDelta(t, 45.0, c, 0.001)

	rpm, err := ReadFanRpm(filepath.Join(root, "hwmon0", "fan1_input"))
	require.NoError(t, err)
	assert.Equal(t, uint32(1234), rpm)

	pwm, err := ReadPwm(filepath.Join(root, "hwmon0", "pwm1"))
	require.NoError(t, err)
	assert.Equal(t, uint8(128), pwm)

	_, err = ReadTemp(filepath.Join(root, "hwmon0", "temp99_input"))
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestWritePwmForcesManualModeAndScales(t *testing.T) {
	root := newFixture(t)
	writeFile(t, filepath.Join(root, "hwmon0", "pwm1_enable"), "2\n")

	prev, err := WritePwm("nct6798@hwmon0", 1, 200)
	require.NoError(t, err)
	assert.Equal(t, uint8(128), prev.RawBefore)
	require.NotNil(t, prev.EnableBefore)
	assert.Equal(t, 2, *prev.EnableBefore)

	mode, err := readInt(filepath.Join(root, "hwmon0", "pwm1_enable"))
	require.NoError(t, err)
	assert.Equal(t, 1, mode, "must be forced to manual before writing pwm value")

	raw, err := readUint(filepath.Join(root, "hwmon0", "pwm1"))
	require.NoError(t, err)
	assert.Equal(t, uint64(200), raw, "pwm1_max=255 means no scaling applied")
}

func TestWritePwmScalesAgainstNonStandardMax(t *testing.T) {
	root := newFixture(t)
	writeFile(t, filepath.Join(root, "hwmon0", "pwm1_max"), "100\n")

	_, err := WritePwm("nct6798@hwmon0", 1, 255)
	require.NoError(t, err)

	raw, err := readUint(filepath.Join(root, "hwmon0", "pwm1"))
	require.NoError(t, err)
	assert.Equal(t, uint64(100), raw)
}

func TestRestorePwmToAutoWritesValueBeforeEnable(t *testing.T) {
	root := newFixture(t)
	eb := 2
	prev := PrevState{ChipDir: filepath.Join(root, "hwmon0"), Index: 1, RawBefore: 77, EnableBefore: &eb}

	require.NoError(t, RestorePwm(prev))

	raw, err := readUint(filepath.Join(root, "hwmon0", "pwm1"))
	require.NoError(t, err)
	assert.Equal(t, uint64(77), raw)

	mode, err := readInt(filepath.Join(root, "hwmon0", "pwm1_enable"))
	require.NoError(t, err)
	assert.Equal(t, 2, mode)
}

func TestRestorePwmToManualWritesEnableBeforeValue(t *testing.T) {
	root := newFixture(t)
	eb := 1
	prev := PrevState{ChipDir: filepath.Join(root, "hwmon0"), Index: 1, RawBefore: 50, EnableBefore: &eb}

	require.NoError(t, RestorePwm(prev))

	raw, err := readUint(filepath.Join(root, "hwmon0", "pwm1"))
	require.NoError(t, err)
	assert.Equal(t, uint64(50), raw)
}

func TestWritePwmAtPathResolvesDirAndIndex(t *testing.T) {
	root := newFixture(t)
	path := filepath.Join(root, "hwmon0", "pwm1")

	prev, err := WritePwmAtPath(path, 222)
	require.NoError(t, err)
	assert.Equal(t, 1, prev.Index)

	got, err := ReadPwmAtPath(path)
	require.NoError(t, err)
	assert.Equal(t, uint8(222), got)
}

func TestChipSelectorForPath(t *testing.T) {
	root := newFixture(t)
	sel, err := ChipSelectorForPath(filepath.Join(root, "hwmon0", "pwm1"))
	require.NoError(t, err)
	assert.Equal(t, "nct6798@hwmon0", sel)
}
