package configstore

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadLegacyProfileParsesSections(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "rockpi-penta.conf")
	contents := "[fan]\nlv0 = 36\nlv1 = 41\nlv2 = 46\nlv3 = 55\n\n[slider]\nauto = false\n\n[oled]\nrotate = true\n"
	require.NoError(t, os.WriteFile(path, []byte(contents), 0644))

	p, err := LoadLegacyProfile(path)
	require.NoError(t, err)
	assert.Equal(t, 36.0, p.FanLv0)
	assert.Equal(t, 55.0, p.FanLv3)
	assert.False(t, p.SliderAuto)
	assert.True(t, p.OledRotate)
}

func TestLoadLegacyProfileMissingFileIsNotFound(t *testing.T) {
	_, err := LoadLegacyProfile(filepath.Join(t.TempDir(), "nope.conf"))
	assert.Error(t, err)
}

func TestMigrateLegacyToCurveProducesValidGroup(t *testing.T) {
	p := LegacyProfile{FanLv0: 35, FanLv1: 40, FanLv2: 45, FanLv3: 50}
	g := MigrateLegacyToCurve(p, "legacy", "chip:temp1", []string{"chip:pwm1"})

	doc := CurvesDocument{Version: 1, Groups: []CurveGroup{g}}
	assert.NoError(t, ValidateCurves(doc))
	assert.Equal(t, float32(35), g.Curve.Points[0].TempC)
	assert.Equal(t, uint8(100), g.Curve.Points[3].PwmPct)
}
