// Package gpu implements the vendor-polymorphic GPU fan backend (C2):
// enumeration of GPU temperature/fan state and fan-percent mutation across
// NVIDIA, AMD, and Intel adapters. Adapters that cannot initialize (missing
// driver, no such vendor present) report an empty enumeration rather than an
// error, matching the teacher's graceful-degradation posture for optional
// hardware.
package gpu

import "errors"

var (
	ErrNotFound    = errors.New("NotFound")
	ErrUnsupported = errors.New("NotFound: fan control unsupported on this GPU")
)

// Fan is one GPU fan channel's live state.
type Fan struct {
	Index   int
	Rpm     *uint32
	Percent *float32
}

// Info is one GPU's enumerated state, vendor-agnostic.
type Info struct {
	Index  int
	Vendor string // "NVIDIA", "AMD", "Intel"
	Name   string
	Temps  map[string]float32
	Fans   []Fan
}

// Backend is implemented once per vendor (spec §4.2 "Each vendor adapter
// exposes enumerate()/set_fan()/reset_fan_auto()"). Adapters are composed
// by Manager rather than selected globally, since a host can carry GPUs
// from more than one vendor simultaneously.
type Backend interface {
	// Enumerate returns this vendor's GPUs, or an empty slice if the
	// vendor's driver/library is unavailable. Never returns an error for
	// "not present" -- only for an unexpected failure after the backend
	// already proved itself available.
	Enumerate() ([]Info, error)
	// SetFan sets a GPU's fan (or all fans if fanIndex is nil) to percent.
	SetFan(index int, fanIndex *int, percent float32) error
	// ResetFanAuto restores vendor-automatic fan control for a GPU.
	ResetFanAuto(index int) error
}

// Manager fans out across every available vendor backend, merging results
// into one flat GPU list indexed by enumeration order within each vendor.
type Manager struct {
	backends []Backend
}

// NewManager probes every known vendor backend, keeping only those that
// initialize successfully. Safe to call once at daemon startup.
func NewManager() *Manager {
	m := &Manager{}
	if b, err := newNvidiaBackend(); err == nil {
		m.backends = append(m.backends, b)
	}
	m.backends = append(m.backends, newAMDBackend())
	m.backends = append(m.backends, newIntelBackend())
	return m
}

// Enumerate merges every backend's GPUs. A single backend's failure is
// logged by the caller and skipped rather than aborting the whole list
// (spec §4.2 "absence is reported as an empty enumeration, not a failure").
func (m *Manager) Enumerate() ([]Info, []error) {
	var all []Info
	var errs []error
	for _, b := range m.backends {
		infos, err := b.Enumerate()
		if err != nil {
			errs = append(errs, err)
			continue
		}
		all = append(all, infos...)
	}
	return all, errs
}

// SetFan dispatches to whichever backend owns index, in enumeration order.
func (m *Manager) SetFan(index int, fanIndex *int, percent float32) error {
	return m.dispatch(index, func(b Backend, localIdx int) error {
		return b.SetFan(localIdx, fanIndex, percent)
	})
}

// ResetFanAuto dispatches ResetFanAuto to whichever backend owns index.
func (m *Manager) ResetFanAuto(index int) error {
	return m.dispatch(index, func(b Backend, localIdx int) error {
		return b.ResetFanAuto(localIdx)
	})
}

func (m *Manager) dispatch(index int, fn func(b Backend, localIdx int) error) error {
	base := 0
	for _, b := range m.backends {
		infos, err := b.Enumerate()
		if err != nil {
			continue
		}
		if index < base+len(infos) {
			return fn(b, index-base)
		}
		base += len(infos)
	}
	return ErrNotFound
}
