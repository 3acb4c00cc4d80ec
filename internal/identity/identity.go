// Package identity derives stable hardware UUIDs from a fingerprint tuple
// (spec §3 "HardwareIdentity", §4.3). The same physical channel must hash to
// the same UUID across reboots, driver re-probes, and hwmon renumbering.
package identity

import (
	"fmt"
	"sort"
	"strings"

	"github.com/google/uuid"
	"golang.org/x/crypto/blake2b"
)

// Namespace is an arbitrary fixed UUID mixed into every fingerprint digest so
// hyperfan's identity UUIDs never collide with UUIDs minted by unrelated
// systems that happen to hash similar byte strings.
var Namespace = uuid.MustParse("b2f1b6d0-2f8a-4e3a-9f55-8f6a2a1c9d40")

// Fingerprint is the normalized, hashable description of a single PWM or fan
// channel (spec §3: "{driver_name, device_path, pwm_index | fan_index,
// pci_address?, pci_vendor_id?, pci_device_id?, modalias?,
// drm_card_number?, gpu_vendor/index/fan_index?}").
type Fingerprint struct {
	DriverName    string
	DevicePath    string
	ChannelKind   string // "pwm" or "fan"
	ChannelIndex  int
	PCIAddress    string
	PCIVendorID   string
	PCIDeviceID   string
	Modalias      string
	DRMCardNumber string
	GPUVendor     string
	GPUIndex      int
	GPUFanIndex   int
	IsGPU         bool
}

// normalize renders the fingerprint as a deterministic, order-independent
// string: sorted "key=value" pairs joined by '\n'. Two Fingerprint values
// with the same fields in different struct-literal order still normalize
// identically because the fields are addressed by name, not position.
func (f Fingerprint) normalize() string {
	fields := map[string]string{
		"driver":       f.DriverName,
		"device_path":  f.DevicePath,
		"kind":         f.ChannelKind,
		"index":        fmt.Sprintf("%d", f.ChannelIndex),
		"pci_addr":     f.PCIAddress,
		"pci_vendor":   f.PCIVendorID,
		"pci_device":   f.PCIDeviceID,
		"modalias":     f.Modalias,
		"drm_card":     f.DRMCardNumber,
		"gpu_vendor":   f.GPUVendor,
		"gpu_index":    fmt.Sprintf("%d", f.GPUIndex),
		"gpu_fan":      fmt.Sprintf("%d", f.GPUFanIndex),
		"is_gpu":       fmt.Sprintf("%t", f.IsGPU),
	}
	keys := make([]string, 0, len(fields))
	for k := range fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	var b strings.Builder
	for _, k := range keys {
		b.WriteString(k)
		b.WriteByte('=')
		b.WriteString(fields[k])
		b.WriteByte('\n')
	}
	return b.String()
}

// UUID derives a deterministic, reboot-stable UUID from the fingerprint: a
// BLAKE2b-128 digest of the normalized fingerprint (mixed with Namespace)
// becomes the 16 raw bytes of a uuid.UUID. Two fingerprints that normalize
// to the same string always produce equal UUIDs; this is the invariant
// spec §3/§8 require ("Two physical channels produce equal UUIDs iff their
// fingerprints coincide").
func (f Fingerprint) UUID() uuid.UUID {
	h, err := blake2b.New(16, nil)
	if err != nil {
		// blake2b.New only errors on an invalid key or out-of-range size;
		// both are compile-time constants here.
		panic(err)
	}
	h.Write(Namespace[:])
	h.Write([]byte(f.normalize()))
	sum := h.Sum(nil)

	var id uuid.UUID
	copy(id[:], sum)
	id[6] = (id[6] & 0x0f) | 0x80 // mark as a hyperfan-derived (non-standard-version) UUID
	id[8] = (id[8] & 0x3f) | 0x80 // RFC 4122 variant bits, for well-formedness
	return id
}

// String is a convenience for UUID().String().
func (f Fingerprint) String() string { return f.UUID().String() }
