package gpu

import (
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

// intelBackend mirrors amdBackend's DRM/hwmon walk, filtered to Intel's PCI
// vendor ID. Intel Arc discrete GPUs expose fan1_input/pwm1 the same way AMD
// does; integrated GPUs expose neither and simply enumerate with no fans.
type intelBackend struct {
	drmRoot string
}

func newIntelBackend() *intelBackend {
	return &intelBackend{drmRoot: "/sys/class/drm"}
}

func (b *intelBackend) cardHwmonDirs() map[int]string {
	out := map[int]string{}
	entries, err := os.ReadDir(b.drmRoot)
	if err != nil {
		return out
	}
	for _, ent := range entries {
		m := cardRe.FindStringSubmatch(ent.Name())
		if m == nil {
			continue
		}
		cardNum, _ := strconv.Atoi(m[1])
		vendorPath := filepath.Join(b.drmRoot, ent.Name(), "device", "vendor")
		vendor, err := os.ReadFile(vendorPath)
		if err != nil || strings.TrimSpace(string(vendor)) != "0x8086" {
			continue
		}
		hwmonParent := filepath.Join(b.drmRoot, ent.Name(), "device", "hwmon")
		hwmonEntries, err := os.ReadDir(hwmonParent)
		if err != nil || len(hwmonEntries) == 0 {
			continue
		}
		out[cardNum] = filepath.Join(hwmonParent, hwmonEntries[0].Name())
	}
	return out
}

func (b *intelBackend) Enumerate() ([]Info, error) {
	dirs := b.cardHwmonDirs()
	infos := make([]Info, 0, len(dirs))
	cards := sortedKeys(dirs)
	for i, card := range cards {
		dir := dirs[card]
		temps := map[string]float32{}
		if v, err := readUint(filepath.Join(dir, "temp1_input")); err == nil {
			temps["gpu"] = float32(v) / 1000.0
		}

		var fans []Fan
		if rpm, err := readUint(filepath.Join(dir, "fan1_input")); err == nil {
			r := uint32(rpm)
			fans = append(fans, Fan{Index: 0, Rpm: &r})
		}
		infos = append(infos, Info{Index: i, Vendor: "Intel", Name: "card" + strconv.Itoa(card), Temps: temps, Fans: fans})
	}
	return infos, nil
}

func (b *intelBackend) dirForIndex(index int) (string, bool) {
	dirs := b.cardHwmonDirs()
	cards := sortedKeys(dirs)
	if index < 0 || index >= len(cards) {
		return "", false
	}
	return dirs[cards[index]], true
}

func (b *intelBackend) SetFan(index int, fanIndex *int, percent float32) error {
	dir, ok := b.dirForIndex(index)
	if !ok {
		return ErrNotFound
	}
	pwmPath := filepath.Join(dir, "pwm1")
	if _, err := os.Stat(pwmPath); err != nil {
		return ErrUnsupported
	}
	raw := int(percent * 255.0 / 100.0)
	return os.WriteFile(pwmPath, []byte(strconv.Itoa(raw)), 0644)
}

func (b *intelBackend) ResetFanAuto(index int) error {
	dir, ok := b.dirForIndex(index)
	if !ok {
		return ErrNotFound
	}
	enablePath := filepath.Join(dir, "pwm1_enable")
	if _, err := os.Stat(enablePath); err != nil {
		return ErrUnsupported
	}
	return os.WriteFile(enablePath, []byte("2"), 0644)
}
