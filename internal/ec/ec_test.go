package ec

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hyperfan-project/hyperfand/internal/hwmon"
)

func fixtureIo(t *testing.T, contents []byte) string {
	t.Helper()
	dir := filepath.Join(t.TempDir(), "ec0")
	require.NoError(t, os.MkdirAll(dir, 0755))
	path := filepath.Join(dir, "io")
	require.NoError(t, os.WriteFile(path, contents, 0644))
	return path
}

func TestReadRegister(t *testing.T) {
	path := fixtureIo(t, []byte{0x00, 0x01, 0x02, 0xFF})
	v, err := ReadRegister(path, 2)
	require.NoError(t, err)
	assert.Equal(t, byte(0x02), v)
}

func TestReadRegisterRange(t *testing.T) {
	path := fixtureIo(t, []byte{10, 11, 12, 13, 14})
	vals, err := ReadRegisterRange(path, 1, 3)
	require.NoError(t, err)
	assert.Equal(t, []byte{11, 12, 13}, vals)
}

func TestReadRegisterRangeOutOfBounds(t *testing.T) {
	path := fixtureIo(t, make([]byte, 4))
	_, err := ReadRegisterRange(path, 250, 100)
	assert.ErrorIs(t, err, ErrRegisterOutOfRange)
}

func TestReadRegisterMissingChip(t *testing.T) {
	_, err := ReadRegister(filepath.Join(t.TempDir(), "nope", "io"), 0)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestWriteRegister(t *testing.T) {
	path := fixtureIo(t, []byte{0, 0, 0, 0})
	require.NoError(t, WriteRegister(path, 1, 0x42))
	v, err := ReadRegister(path, 1)
	require.NoError(t, err)
	assert.Equal(t, byte(0x42), v)
}

func TestListChipsEnumeratesOnlyDirsWithIo(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(root, "ec0"), 0755))
	require.NoError(t, os.WriteFile(filepath.Join(root, "ec0", "io"), []byte{0}, 0644))
	require.NoError(t, os.MkdirAll(filepath.Join(root, "not-a-chip"), 0755))

	orig := DebugfsRoot
	DebugfsRoot = root
	defer func() { DebugfsRoot = orig }()

	chips, err := ListChips()
	require.NoError(t, err)
	require.Len(t, chips, 1)
	assert.Equal(t, "ec0", chips[0].Name)
}

func TestListChipsMissingRoot(t *testing.T) {
	orig := DebugfsRoot
	DebugfsRoot = filepath.Join(t.TempDir(), "does-not-exist")
	defer func() { DebugfsRoot = orig }()

	chips, err := ListChips()
	require.NoError(t, err)
	assert.Empty(t, chips)
}

func TestSanitizeName(t *testing.T) {
	assert.Equal(t, "test123", sanitizeName("test123"))
	assert.Equal(t, "test-chip", sanitizeName("test-chip"))
	assert.Equal(t, "test_chip", sanitizeName("test chip"))
	assert.Equal(t, "testchip", sanitizeName("test@chip"))
	assert.Equal(t, "ec", sanitizeName(""))
	assert.Equal(t, "ec", sanitizeName("@#$"))
}

func TestDumpProfileWritesJSON(t *testing.T) {
	root := t.TempDir()
	origHwmon := hwmon.Root
	hwmon.Root = root
	defer func() { hwmon.Root = origHwmon }()

	chipDir := filepath.Join(root, "hwmon0")
	require.NoError(t, os.MkdirAll(chipDir, 0755))
	require.NoError(t, os.WriteFile(filepath.Join(chipDir, "name"), []byte("nct6798\n"), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(chipDir, "temp1_input"), []byte("40000\n"), 0644))

	dir := t.TempDir()
	origProfiles := ProfilesDir
	ProfilesDir = dir
	defer func() { ProfilesDir = origProfiles }()

	path, err := DumpProfile("Test Motherboard", "Test CPU")
	require.NoError(t, err)
	assert.FileExists(t, path)
}
