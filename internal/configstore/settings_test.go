package configstore

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadSettingsReturnsDefaultsWhenMissing(t *testing.T) {
	dir := t.TempDir()
	s := New(filepath.Join(dir, "settings.json"), filepath.Join(dir, "curves.json"))
	got, err := s.LoadSettings()
	require.NoError(t, err)
	assert.Equal(t, DefaultSettings(), got)
}

func TestSaveThenLoadSettingsRoundTrips(t *testing.T) {
	dir := t.TempDir()
	s := New(filepath.Join(dir, "settings.json"), filepath.Join(dir, "curves.json"))
	want := DefaultSettings()
	want.General.PollIntervalMs = 2500
	want.PwmFanPairings = []Pairing{{PwmUUID: "abc", PwmPath: "/sys/class/hwmon/hwmon0/pwm1"}}

	require.NoError(t, s.SaveSettings(want))
	got, err := s.LoadSettings()
	require.NoError(t, err)
	assert.Equal(t, want, got)
}

func TestLoadSettingsRejectsUnknownField(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "settings.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"general":{},"bogus_field":1}`), 0644))

	s := New(path, filepath.Join(dir, "curves.json"))
	got, err := s.LoadSettings()
	assert.Error(t, err)
	assert.Equal(t, DefaultSettings(), got)
}

func TestSaveSettingsWritesAtomically(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "settings.json")
	s := New(path, filepath.Join(dir, "curves.json"))
	require.NoError(t, s.SaveSettings(DefaultSettings()))

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	for _, e := range entries {
		assert.NotContains(t, e.Name(), ".tmp-", "temp file must not survive a successful save")
	}
}

func TestLoadCurvesReturnsNilWhenMissing(t *testing.T) {
	dir := t.TempDir()
	s := New(filepath.Join(dir, "settings.json"), filepath.Join(dir, "curves.json"))
	doc, err := s.LoadCurves()
	require.NoError(t, err)
	assert.Nil(t, doc)
}

func TestSaveThenLoadCurvesRoundTrips(t *testing.T) {
	dir := t.TempDir()
	s := New(filepath.Join(dir, "settings.json"), filepath.Join(dir, "curves.json"))
	doc := CurvesDocument{Version: 1, Groups: []CurveGroup{{
		Name: "cpu", TempSource: "chip:temp1", Members: []string{"chip:pwm1"}, Curve: DefaultLegacyCurve(),
	}}}
	require.NoError(t, s.SaveCurves(doc))
	got, err := s.LoadCurves()
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, doc, *got)
}

func TestSaveCurvesRejectsInvalidDocument(t *testing.T) {
	dir := t.TempDir()
	s := New(filepath.Join(dir, "settings.json"), filepath.Join(dir, "curves.json"))
	err := s.SaveCurves(CurvesDocument{Version: 0})
	assert.Error(t, err)
	_, statErr := os.Stat(s.CurvesPath)
	assert.True(t, os.IsNotExist(statErr), "invalid document must not be written")
}

func TestValidateImportRejectsOversized(t *testing.T) {
	big := make([]byte, ImportMaxSize+1)
	_, err := ValidateImport(big)
	assert.ErrorIs(t, err, ErrTooLarge)
}

func TestValidateImportRejectsUnknownTopLevelKey(t *testing.T) {
	_, err := ValidateImport([]byte(`{"general":{},"evil_key":true}`))
	assert.ErrorIs(t, err, ErrUnknownField)
}

func TestValidateImportRejectsBadEmbeddedPath(t *testing.T) {
	doc := `{"general":{},"pwm_fan_pairings":[{"pwm_uuid":"x","pwm_path":"../../etc/passwd"}]}`
	_, err := ValidateImport([]byte(doc))
	assert.Error(t, err)
}

func TestValidateImportAcceptsWellFormed(t *testing.T) {
	doc := `{"general":{"poll_interval_ms":1000},"pwm_fan_pairings":[{"pwm_uuid":"x","pwm_path":"/sys/class/hwmon/hwmon0/pwm1"}]}`
	got, err := ValidateImport([]byte(doc))
	require.NoError(t, err)
	assert.Equal(t, uint32(1000), got.General.PollIntervalMs)
}
