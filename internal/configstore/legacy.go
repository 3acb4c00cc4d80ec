package configstore

import (
	"fmt"

	"gopkg.in/ini.v1"
)

// LegacyProfile is the pre-hyperfan INI configuration format (grounded on
// GuilhermeVozniak-rockpi-penta-golang/pkg/config/config.go's [fan]/[key]/
// [time]/[slider]/[oled] sections, which this daemon's installer-provided
// migration path may still encounter on first run after an upgrade).
type LegacyProfile struct {
	FanLv0, FanLv1, FanLv2, FanLv3 float64
	SliderAuto                    bool
	OledRotate, OledFTemp         bool
}

// LoadLegacyProfile parses a legacy rockpi-penta-style INI file using
// gopkg.in/ini.v1 rather than the teacher's own hand-rolled line scanner,
// since this package already depends on an ecosystem INI library for
// reading -- the teacher's own parser predates that dependency choice and
// is not reused here.
func LoadLegacyProfile(path string) (LegacyProfile, error) {
	cfg, err := ini.Load(path)
	if err != nil {
		return LegacyProfile{}, fmt.Errorf("NotFound: %w", err)
	}

	var p LegacyProfile
	fan := cfg.Section("fan")
	p.FanLv0 = fan.Key("lv0").MustFloat64(35)
	p.FanLv1 = fan.Key("lv1").MustFloat64(40)
	p.FanLv2 = fan.Key("lv2").MustFloat64(45)
	p.FanLv3 = fan.Key("lv3").MustFloat64(50)

	slider := cfg.Section("slider")
	p.SliderAuto = slider.Key("auto").MustBool(true)

	oled := cfg.Section("oled")
	p.OledRotate = oled.Key("rotate").MustBool(false)
	p.OledFTemp = oled.Key("ftemp").MustBool(false)

	return p, nil
}

// MigrateLegacyToCurve converts a legacy four-level fan config into a
// single four-point CurveGroup, since the daemon's curve model has no
// notion of discrete "levels" (spec §4.9's curve is continuous
// piecewise-linear). Levels become curve points at evenly spaced PWM
// percents, preserving the legacy thresholds as temperatures.
func MigrateLegacyToCurve(p LegacyProfile, groupName, tempSource string, members []string) CurveGroup {
	return CurveGroup{
		Name:       groupName,
		Members:    members,
		TempSource: tempSource,
		Curve: Curve{
			Points: []CurvePoint{
				{TempC: float32(p.FanLv0), PwmPct: 25},
				{TempC: float32(p.FanLv1), PwmPct: 50},
				{TempC: float32(p.FanLv2), PwmPct: 75},
				{TempC: float32(p.FanLv3), PwmPct: 100},
			},
			MinPct:        0,
			MaxPct:        100,
			HysteresisPct: 5,
			WriteMinDelta: 5,
		},
	}
}
