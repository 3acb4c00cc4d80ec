package gpu

import (
	"fmt"

	"github.com/NVIDIA/go-nvml/pkg/nvml"
)

// nvidiaBackend wraps NVML (spec SPEC_FULL.md domain stack: "NVIDIA/go-nvml
// backs the GPU Backend's NVIDIA adapter"). NVML initialization fails
// cleanly on hosts without an NVIDIA driver, which newNvidiaBackend treats
// as "not present" rather than propagating an error to the daemon.
type nvidiaBackend struct{}

func newNvidiaBackend() (*nvidiaBackend, error) {
	if ret := nvml.Init(); ret != nvml.SUCCESS {
		return nil, fmt.Errorf("nvml init: %v", nvml.ErrorString(ret))
	}
	return &nvidiaBackend{}, nil
}

func (b *nvidiaBackend) Enumerate() ([]Info, error) {
	count, ret := nvml.DeviceGetCount()
	if ret != nvml.SUCCESS {
		return nil, fmt.Errorf("nvml device count: %v", nvml.ErrorString(ret))
	}

	infos := make([]Info, 0, count)
	for i := 0; i < count; i++ {
		dev, ret := nvml.DeviceGetHandleByIndex(i)
		if ret != nvml.SUCCESS {
			continue
		}
		name, _ := dev.GetName()

		temps := map[string]float32{}
		if t, ret := dev.GetTemperature(nvml.TEMPERATURE_GPU); ret == nvml.SUCCESS {
			temps["gpu"] = float32(t)
		}

		var fans []Fan
		if fanCount, ret := dev.GetNumFans(); ret == nvml.SUCCESS && fanCount > 0 {
			for f := 0; f < fanCount; f++ {
				fan := Fan{Index: f}
				if pct, ret := dev.GetFanSpeed_v2(f); ret == nvml.SUCCESS {
					p := float32(pct)
					fan.Percent = &p
				}
				fans = append(fans, fan)
			}
		} else if pct, ret := dev.GetFanSpeed(); ret == nvml.SUCCESS {
			p := float32(pct)
			fans = append(fans, Fan{Index: 0, Percent: &p})
		}

		infos = append(infos, Info{Index: i, Vendor: "NVIDIA", Name: name, Temps: temps, Fans: fans})
	}
	return infos, nil
}

func (b *nvidiaBackend) SetFan(index int, fanIndex *int, percent float32) error {
	dev, ret := nvml.DeviceGetHandleByIndex(index)
	if ret != nvml.SUCCESS {
		return ErrNotFound
	}
	fans := []int{0}
	if fanIndex != nil {
		fans = []int{*fanIndex}
	} else if fanCount, ret := dev.GetNumFans(); ret == nvml.SUCCESS && fanCount > 1 {
		fans = make([]int, fanCount)
		for f := range fans {
			fans[f] = f
		}
	}
	for _, fi := range fans {
		if ret := dev.SetFanSpeed_v2(fi, int(percent)); ret != nvml.SUCCESS {
			return fmt.Errorf("nvml set fan speed: %v", nvml.ErrorString(ret))
		}
	}
	return nil
}

func (b *nvidiaBackend) ResetFanAuto(index int) error {
	dev, ret := nvml.DeviceGetHandleByIndex(index)
	if ret != nvml.SUCCESS {
		return ErrNotFound
	}
	if fanCount, ret := dev.GetNumFans(); ret == nvml.SUCCESS {
		for f := 0; f < fanCount; f++ {
			if ret := dev.SetDefaultFanSpeed_v2(f); ret != nvml.SUCCESS {
				return fmt.Errorf("nvml reset fan: %v", nvml.ErrorString(ret))
			}
		}
		return nil
	}
	return ErrUnsupported
}
