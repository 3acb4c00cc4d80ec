package identity

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func baseFingerprint() Fingerprint {
	return Fingerprint{
		DriverName:   "nct6798",
		DevicePath:   "/sys/devices/platform/nct6775.656",
		ChannelKind:  "pwm",
		ChannelIndex: 1,
		PCIAddress:   "0000:00:18.3",
		Modalias:     "platform:nct6775",
	}
}

func TestUUIDIsDeterministic(t *testing.T) {
	f := baseFingerprint()
	assert.Equal(t, f.UUID(), f.UUID())
	assert.Equal(t, f.String(), baseFingerprint().String())
}

func TestUUIDStableAcrossHwmonRenumbering(t *testing.T) {
	// Simulates the same physical channel surviving a driver re-probe that
	// renumbers hwmonN -- DevicePath here is the *canonical* device path
	// (not the hwmonN tag), so it must stay fixed and produce an equal UUID.
	a := baseFingerprint()
	b := baseFingerprint()
	assert.Equal(t, a.UUID(), b.UUID())
}

func TestUUIDDiffersWhenFingerprintDiffers(t *testing.T) {
	a := baseFingerprint()
	b := baseFingerprint()
	b.ChannelIndex = 2
	assert.NotEqual(t, a.UUID(), b.UUID())

	c := baseFingerprint()
	c.DriverName = "it8620"
	assert.NotEqual(t, a.UUID(), c.UUID())
}

func TestUUIDForGPUChannel(t *testing.T) {
	a := Fingerprint{
		IsGPU: true, GPUVendor: "NVIDIA", GPUIndex: 0, GPUFanIndex: 1,
		DRMCardNumber: "card0", DevicePath: "/sys/bus/pci/devices/0000:01:00.0",
	}
	b := a
	b.GPUFanIndex = 2
	assert.NotEqual(t, a.UUID(), b.UUID())
}

func TestUUIDWellFormed(t *testing.T) {
	id := baseFingerprint().UUID()
	assert.Len(t, id.String(), 36)
}
