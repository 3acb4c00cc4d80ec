package gpu

import (
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
)

// amdBackend reads AMD GPU fan/temp state through /sys/class/drm/cardN, the
// same hwmon-style sysfs convention C1 reads for CPU chips (spec §4.2 "AMD
// (hwmon + drm)"), but keeps its own minimal reader rather than importing
// internal/hwmon: AMD GPU hwmon directories nest one level deeper (under
// device/hwmon/hwmonM) and are keyed by DRM card number, not chip name, so
// sharing that package's Chip/Selector model would not fit cleanly. No pack
// library targets AMD GPU sysfs specifically, so this adapter is plain
// os/filepath (DESIGN.md stdlib justification).
type amdBackend struct {
	drmRoot string
}

func newAMDBackend() *amdBackend {
	return &amdBackend{drmRoot: "/sys/class/drm"}
}

var cardRe = regexp.MustCompile(`^card(\d+)$`)

func (b *amdBackend) cardHwmonDirs() map[int]string {
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
		if err != nil || strings.TrimSpace(string(vendor)) != "0x1002" {
			continue // not an AMD PCI vendor ID
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

func (b *amdBackend) Enumerate() ([]Info, error) {
	dirs := b.cardHwmonDirs()
	infos := make([]Info, 0, len(dirs))
	cards := sortedKeys(dirs)
	for i, card := range cards {
		dir := dirs[card]
		temps := map[string]float32{}
		if v, err := readUint(filepath.Join(dir, "temp1_input")); err == nil {
			temps["edge"] = float32(v) / 1000.0
		}

		var fans []Fan
		if rpm, err := readUint(filepath.Join(dir, "fan1_input")); err == nil {
			r := uint32(rpm)
			var percent *float32
			if pwm, err := readUint(filepath.Join(dir, "pwm1")); err == nil {
				p := float32(pwm) * 100.0 / 255.0
				percent = &p
			}
			fans = append(fans, Fan{Index: 0, Rpm: &r, Percent: percent})
		}

		infos = append(infos, Info{Index: i, Vendor: "AMD", Name: "card" + strconv.Itoa(card), Temps: temps, Fans: fans})
	}
	return infos, nil
}

func (b *amdBackend) dirForIndex(index int) (string, bool) {
	dirs := b.cardHwmonDirs()
	cards := sortedKeys(dirs)
	if index < 0 || index >= len(cards) {
		return "", false
	}
	return dirs[cards[index]], true
}

func (b *amdBackend) SetFan(index int, fanIndex *int, percent float32) error {
	dir, ok := b.dirForIndex(index)
	if !ok {
		return ErrNotFound
	}
	if err := os.WriteFile(filepath.Join(dir, "pwm1_enable"), []byte("1"), 0644); err != nil {
		return err
	}
	raw := int(percent * 255.0 / 100.0)
	return os.WriteFile(filepath.Join(dir, "pwm1"), []byte(strconv.Itoa(raw)), 0644)
}

func (b *amdBackend) ResetFanAuto(index int) error {
	dir, ok := b.dirForIndex(index)
	if !ok {
		return ErrNotFound
	}
	return os.WriteFile(filepath.Join(dir, "pwm1_enable"), []byte("2"), 0644)
}

func readUint(path string) (uint64, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return 0, err
	}
	return strconv.ParseUint(strings.TrimSpace(string(b)), 10, 64)
}

func sortedKeys(m map[int]string) []int {
	keys := make([]int, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	for i := 1; i < len(keys); i++ {
		for j := i; j > 0 && keys[j-1] > keys[j]; j-- {
			keys[j-1], keys[j] = keys[j], keys[j-1]
		}
	}
	return keys
}
