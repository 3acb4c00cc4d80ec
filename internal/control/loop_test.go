package control

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/hyperfan-project/hyperfand/internal/configstore"
	"github.com/hyperfan-project/hyperfand/internal/hwmon"
)

func writeFile(t *testing.T, path, contents string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0755))
	require.NoError(t, os.WriteFile(path, []byte(contents), 0644))
}

func newFixture(t *testing.T) string {
	t.Helper()
	root := t.TempDir()
	orig := hwmon.Root
	hwmon.Root = root
	t.Cleanup(func() { hwmon.Root = orig })

	chip := filepath.Join(root, "hwmon0")
	writeFile(t, filepath.Join(chip, "name"), "nct6798\n")
	writeFile(t, filepath.Join(chip, "temp1_input"), "40000\n")
	writeFile(t, filepath.Join(chip, "temp1_label"), "CPU\n")
	writeFile(t, filepath.Join(chip, "pwm1"), "0\n")
	writeFile(t, filepath.Join(chip, "pwm1_label"), "CPUFan\n")
	writeFile(t, filepath.Join(chip, "pwm1_enable"), "1\n")
	return root
}

func testLoop() *Loop {
	return New(zap.NewNop(), NewOverrideTable(), time.Second)
}

func TestApplyGroupWritesInterpolatedPercent(t *testing.T) {
	root := newFixture(t)
	l := testLoop()
	snap, err := hwmon.Scan()
	require.NoError(t, err)

	group := configstore.CurveGroup{
		Name: "cpu", TempSource: "nct6798@hwmon0:CPU", Members: []string{"nct6798@hwmon0:CPUFan"},
		Curve: configstore.Curve{
			Points: []configstore.CurvePoint{{TempC: 30, PwmPct: 20}, {TempC: 50, PwmPct: 60}},
			MinPct: 0, MaxPct: 100,
		},
	}
	l.applyGroup(snap, group, false)

	raw, err := os.ReadFile(filepath.Join(root, "hwmon0", "pwm1"))
	require.NoError(t, err)
	// 40C is halfway between 30/20% and 50/60% -> 40% -> raw 40*255/100=102
	assert.Equal(t, "102", string(raw))
}

func TestApplyGroupSkipsWhenTempSourceMissing(t *testing.T) {
	newFixture(t)
	l := testLoop()
	snap, err := hwmon.Scan()
	require.NoError(t, err)

	group := configstore.CurveGroup{
		Name: "cpu", TempSource: "nct6798@hwmon0:Missing", Members: []string{"nct6798@hwmon0:CPUFan"},
		Curve: configstore.Curve{Points: []configstore.CurvePoint{{TempC: 30, PwmPct: 20}, {TempC: 50, PwmPct: 60}}, MaxPct: 100},
	}
	// Must not panic and must leave the pwm file untouched.
	l.applyGroup(snap, group, false)
	assert.True(t, l.warned["cpu"])
}

func TestWriteMemberHysteresisSuppressesSmallChange(t *testing.T) {
	root := newFixture(t)
	l := testLoop()
	path := filepath.Join(root, "hwmon0", "pwm1")

	l.writeMember(path, 50, 10, 1)
	raw1, _ := os.ReadFile(path)

	l.writeMember(path, 52, 10, 1) // 2% change, hysteresis is 10
	raw2, _ := os.ReadFile(path)
	assert.Equal(t, string(raw1), string(raw2))
}

func TestWriteMemberHonorsLiveOverride(t *testing.T) {
	root := newFixture(t)
	l := testLoop()
	path := filepath.Join(root, "hwmon0", "pwm1")
	l.overrides.Set(path, 77, time.Minute)

	l.writeMember(path, 10, 0, 0)

	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "77", string(raw))
	_, hadPct := l.lastPct[path]
	assert.False(t, hadPct, "override writes must not update the hysteresis cache")
}

func TestApplyLegacyUsesDefaultCurve(t *testing.T) {
	root := newFixture(t)
	l := testLoop()
	snap, err := hwmon.Scan()
	require.NoError(t, err)

	pairings := []configstore.Pairing{{PwmPath: filepath.Join(root, "hwmon0", "pwm1")}}
	l.applyLegacy(snap, pairings)

	raw, err := os.ReadFile(filepath.Join(root, "hwmon0", "pwm1"))
	require.NoError(t, err)
	assert.NotEqual(t, "0", string(raw))
}

func TestOverrideTableSetGetClear(t *testing.T) {
	ot := NewOverrideTable()
	_, ok := ot.Get("pwm1")
	assert.False(t, ok)

	ot.Set("pwm1", 200, time.Minute)
	v, ok := ot.Get("pwm1")
	require.True(t, ok)
	assert.Equal(t, uint8(200), v)

	ot.Clear("pwm1")
	_, ok = ot.Get("pwm1")
	assert.False(t, ok)
}

func TestOverrideTableExpires(t *testing.T) {
	ot := NewOverrideTable()
	ot.Set("pwm1", 1, 10*time.Millisecond)
	time.Sleep(50 * time.Millisecond)
	_, ok := ot.Get("pwm1")
	assert.False(t, ok)
}
