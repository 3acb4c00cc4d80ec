package ec

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/hyperfan-project/hyperfand/internal/detect"
	"github.com/hyperfan-project/hyperfand/internal/hwmon"
)

// ChipProfile is one hwmon chip's channel inventory as recorded in a dumped
// EC profile (grounded on original_source/src/ec.rs's EcChip).
type ChipProfile struct {
	Name  string         `json:"name"`
	Hwmon string         `json:"hwmon"`
	Fans  []LabeledIndex `json:"fans"`
	Pwms  []LabeledIndex `json:"pwms"`
	Temps []LabeledIndex `json:"temps"`
}

type LabeledIndex struct {
	Index int    `json:"index"`
	Label string `json:"label"`
}

// MappingProfile records one auto-detected pairing, enriching the profile
// (original's EcMappingProfile).
type MappingProfile struct {
	Fan        string  `json:"fan"`
	Pwm        string  `json:"pwm"`
	Temp       string  `json:"temp"`
	Confidence float64 `json:"confidence"`
}

// Profile is the full dumped EC configuration (original's EcProfile).
type Profile struct {
	EcName      string           `json:"ec_name"`
	Motherboard string           `json:"motherboard"`
	CPU         string           `json:"cpu"`
	Chips       []ChipProfile    `json:"chips"`
	Mappings    []MappingProfile `json:"mappings"`
}

// ProfilesDir is where dumped profiles are written.
var ProfilesDir = "/etc/hyperfan/profiles"

// DumpProfile enumerates every hwmon chip, attempts an auto-detect pass to
// enrich it with PWM/fan/temp mappings, and writes the result as a
// human-inspectable JSON profile (spec SPEC_FULL.md "EC profile dump",
// CLI `--dump-ec`).
func DumpProfile(motherboard, cpu string) (string, error) {
	snap, err := hwmon.Scan()
	if err != nil {
		return "", err
	}

	chips := make([]ChipProfile, 0, len(snap.Chips))
	for _, c := range snap.Chips {
		cp := ChipProfile{Name: c.Name, Hwmon: c.Tag}
		for _, f := range c.Fans {
			label := f.Label
			if label == "" {
				label = fanLabelFallback(f.Index)
			}
			cp.Fans = append(cp.Fans, LabeledIndex{Index: f.Index, Label: label})
		}
		for _, p := range c.Pwms {
			label := p.Label
			if label == "" {
				label = pwmLabelFallback(p.Index)
			}
			cp.Pwms = append(cp.Pwms, LabeledIndex{Index: p.Index, Label: label})
		}
		for _, t := range c.Temps {
			label := t.Label
			if label == "" {
				label = tempLabelFallback(t.Index)
			}
			cp.Temps = append(cp.Temps, LabeledIndex{Index: t.Index, Label: label})
		}
		chips = append(chips, cp)
	}

	var mappings []MappingProfile
	d := detect.New(nil)
	if candidates, err := d.Run(snap); err == nil {
		for _, c := range candidates {
			mappings = append(mappings, MappingProfile{
				Fan: c.FanPath, Pwm: c.PwmPath, Temp: "temp1", Confidence: c.Confidence,
			})
		}
	}

	ecName := detectEcName(snap, motherboard)
	profile := Profile{
		EcName:      sanitizeName(ecName),
		Motherboard: motherboard,
		CPU:         cpu,
		Chips:       chips,
		Mappings:    mappings,
	}

	if err := os.MkdirAll(ProfilesDir, 0755); err != nil {
		return "", err
	}
	outPath := filepath.Join(ProfilesDir, profile.EcName+".json")
	data, err := json.MarshalIndent(profile, "", "  ")
	if err != nil {
		return "", err
	}
	tmp := outPath + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return "", err
	}
	if err := os.Rename(tmp, outPath); err != nil {
		return "", err
	}
	return outPath, nil
}

func detectEcName(snap hwmon.Snapshot, motherboard string) string {
	for _, c := range snap.Chips {
		lname := strings.ToLower(c.Name)
		if strings.Contains(lname, "ec") || strings.Contains(lname, "embedded") {
			return c.Name
		}
	}
	if motherboard != "" {
		return motherboard
	}
	return "unknown-ec"
}

// sanitizeName keeps only alphanumerics, '-', '_', '.'; replaces each space,
// tab, CR or LF with '_'; drops remaining special characters outright.
func sanitizeName(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for _, c := range s {
		switch {
		case isAlnum(c) || c == '-' || c == '_' || c == '.':
			b.WriteRune(c)
		case c == ' ' || c == '\t' || c == '\n' || c == '\r':
			b.WriteRune('_')
		}
	}
	out := b.String()
	if out == "" {
		return "ec"
	}
	return out
}

func isAlnum(c rune) bool {
	return (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z') || (c >= '0' && c <= '9')
}

func fanLabelFallback(idx int) string  { return labelFallback("fan", idx) }
func pwmLabelFallback(idx int) string  { return labelFallback("pwm", idx) }
func tempLabelFallback(idx int) string { return labelFallback("temp", idx) }

func labelFallback(prefix string, idx int) string {
	return prefix + strconv.Itoa(idx)
}
