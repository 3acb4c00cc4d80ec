package ipcserver

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/hyperfan-project/hyperfand/internal/configstore"
	"github.com/hyperfan-project/hyperfand/internal/control"
	"github.com/hyperfan-project/hyperfand/internal/detect"
	"github.com/hyperfan-project/hyperfand/internal/ec"
	"github.com/hyperfan-project/hyperfand/internal/gpu"
	"github.com/hyperfan-project/hyperfand/internal/hwmon"
	"github.com/hyperfan-project/hyperfand/internal/protocol"
	"github.com/hyperfan-project/hyperfand/internal/ratelimit"
)

// Version is the daemon's reported protocol/build identity (KindVersion).
const Version = "hyperfand/0.1.0"

// Daemon implements Handler, wiring every request kind to its owning
// subsystem. Locks follow the fixed order of spec §5: config mutex (mu),
// then the override table, then hwmon.WriteMutex -- a handler that needs
// more than one never acquires them out of this order.
type Daemon struct {
	Log       *zap.Logger
	GPU       *gpu.Manager
	Store     *configstore.Store
	Overrides *control.OverrideTable
	Loop      *control.Loop
	Detector  *detect.Detector
	RateLimit *ratelimit.Registry

	mu       sync.Mutex
	settings configstore.Settings
	curves   *configstore.CurvesDocument
}

// NewDaemon loads the on-disk config once and wires it into the control
// loop, leaving the Daemon ready to serve requests.
func NewDaemon(log *zap.Logger, gpuMgr *gpu.Manager, store *configstore.Store, overrides *control.OverrideTable, loop *control.Loop, detector *detect.Detector, rl *ratelimit.Registry) (*Daemon, error) {
	d := &Daemon{Log: log, GPU: gpuMgr, Store: store, Overrides: overrides, Loop: loop, Detector: detector, RateLimit: rl}
	if err := d.reload(); err != nil {
		return nil, err
	}
	return d, nil
}

// Reload re-reads settings.json and curves.json from disk and pushes the
// result into the control loop, exactly as the ReloadConfig request does
// (exported for the config-file watcher, which has no request envelope to
// build).
func (d *Daemon) Reload() error { return d.reload() }

func (d *Daemon) reload() error {
	settings, err := d.Store.LoadSettings()
	if err != nil {
		d.Log.Warn("config: settings failed to validate, using defaults", zap.Error(err))
	}
	curves, err := d.Store.LoadCurves()
	if err != nil {
		d.Log.Warn("config: curves failed to validate, ignoring", zap.Error(err))
		curves = nil
	}

	d.mu.Lock()
	d.settings = settings
	d.curves = curves
	d.mu.Unlock()

	cfg := control.ConfigSnapshot{Stepped: settings.Stepped, Pairings: settings.PwmFanPairings}
	if curves != nil {
		cfg.Curves = curves
	}
	d.Loop.SetConfig(cfg)
	if settings.General.RateLimitQuota > 0 {
		d.RateLimit.SetQuota(settings.General.RateLimitQuota)
	}
	return nil
}

func (d *Daemon) settingsSnapshot() configstore.Settings {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.settings
}

// Handle dispatches a validated request to its owning subsystem (spec §4.6
// "Per-request pipeline" final stage).
func (d *Daemon) Handle(ctx context.Context, req protocol.Request, creds PeerCreds) protocol.Response {
	switch req.Kind {
	case protocol.KindPing:
		v := "pong"
		return protocol.OkResponse(&protocol.ResponseData{Value: &v})
	case protocol.KindVersion:
		v := Version
		return protocol.OkResponse(&protocol.ResponseData{Value: &v})
	case protocol.KindListHardware:
		return d.listHardware()
	case protocol.KindListAll:
		return d.listAll()
	case protocol.KindReadTemperature:
		return d.readTemperature(req.Path)
	case protocol.KindReadFanRpm:
		return d.readFanRpm(req.Path)
	case protocol.KindReadPwm:
		return d.readPwm(req.Path)
	case protocol.KindListGpus:
		return d.listGpus()
	case protocol.KindGetManualPairings:
		return d.getManualPairings()
	case protocol.KindListEcChips:
		return d.listEcChips()
	case protocol.KindReadEcRegister:
		return d.readEcRegister(req.ChipPath, byte(*req.Register))
	case protocol.KindReadEcRegisterRange:
		return d.readEcRegisterRange(req.ChipPath, byte(*req.StartRegister), int(*req.Count))

	case protocol.KindSetPwm:
		return d.setPwm(req.Path, uint8(*req.Value))
	case protocol.KindEnableManualPwm:
		return d.setEnableMode(req.Path, 1)
	case protocol.KindDisableManualPwm:
		return d.setEnableMode(req.Path, 2)
	case protocol.KindSetPwmOverride:
		return d.setPwmOverride(req.Path, uint8(*req.Value), time.Duration(*req.TTLMillis)*time.Millisecond)
	case protocol.KindClearPwmOverride:
		d.Overrides.Clear(req.Path)
		return protocol.OkResponse(&protocol.ResponseData{})
	case protocol.KindSetGpuFan:
		return d.setGpuFan(req)
	case protocol.KindResetGpuFanAuto:
		return d.resetGpuFanAuto(int(*req.GPUIndex))
	case protocol.KindDetectFanMappings:
		return d.detectFanMappings()
	case protocol.KindSetManualPairing:
		return d.setManualPairing(req)
	case protocol.KindDeleteManualPairing:
		return d.deleteManualPairing(req.PwmPath)
	case protocol.KindWriteEcRegister:
		return d.writeEcRegister(req.ChipPath, byte(*req.Register), byte(*req.Value))
	case protocol.KindReloadConfig:
		if err := d.reload(); err != nil {
			return protocol.ErrResponse(fmt.Sprintf("Validation: %v", err))
		}
		return protocol.OkResponse(&protocol.ResponseData{})
	default:
		return protocol.ErrResponse(fmt.Sprintf("Validation: unhandled request kind %q", req.Kind))
	}
}

func toWireChips(chips []hwmon.Chip) []protocol.HwmonChip {
	out := make([]protocol.HwmonChip, 0, len(chips))
	for _, c := range chips {
		wc := protocol.HwmonChip{Name: c.Name, Tag: c.Tag, Path: c.Path}
		for _, t := range c.Temps {
			wc.Temps = append(wc.Temps, protocol.TempSensor{
				Index: t.Index, Label: t.Label, Path: t.Path,
				MilliDegreeC: t.MilliDegreeC, CelsiusValue: t.Celsius(),
			})
		}
		for _, f := range c.Fans {
			wc.Fans = append(wc.Fans, protocol.FanSensor{
				UUID: f.UUID, Index: f.Index, Label: f.Label, Path: f.Path, Rpm: f.Rpm,
			})
		}
		for _, p := range c.Pwms {
			wc.Pwms = append(wc.Pwms, protocol.PwmControl{
				UUID: p.UUID, Index: p.Index, Label: p.Label, Path: p.Path,
				RawValue: p.RawValue, EnableMode: p.EnableMode, MaxScale: p.MaxScale,
			})
		}
		out = append(out, wc)
	}
	return out
}

func toWireGpus(infos []gpu.Info) []protocol.GpuInfo {
	out := make([]protocol.GpuInfo, 0, len(infos))
	for _, g := range infos {
		wg := protocol.GpuInfo{Index: g.Index, Vendor: g.Vendor, Name: g.Name, Temps: g.Temps}
		for _, f := range g.Fans {
			wg.Fans = append(wg.Fans, protocol.GpuFan{Index: f.Index, Rpm: f.Rpm, Percent: f.Percent})
		}
		out = append(out, wg)
	}
	return out
}

func (d *Daemon) listHardware() protocol.Response {
	snap, err := hwmon.Scan()
	if err != nil {
		return protocol.ErrResponse(fmt.Sprintf("NotFound: %v", err))
	}
	hw := &protocol.HardwareInfo{Chips: toWireChips(snap.Chips), Timestamp: snap.Timestamp.UnixMilli()}
	return protocol.OkResponse(&protocol.ResponseData{Hardware: hw})
}

func (d *Daemon) listAll() protocol.Response {
	snap, err := hwmon.Scan()
	if err != nil {
		return protocol.ErrResponse(fmt.Sprintf("NotFound: %v", err))
	}
	gpus, errs := d.GPU.Enumerate()
	for _, e := range errs {
		d.Log.Warn("gpu enumeration partial failure", zap.Error(e))
	}
	all := &protocol.AllHardware{Chips: toWireChips(snap.Chips), Gpus: toWireGpus(gpus)}
	return protocol.OkResponse(&protocol.ResponseData{AllData: all})
}

func (d *Daemon) readTemperature(path string) protocol.Response {
	snap, err := hwmon.Scan()
	if err != nil {
		return protocol.ErrResponse(fmt.Sprintf("NotFound: %v", err))
	}
	for _, c := range snap.Chips {
		for _, t := range c.Temps {
			if t.Path == path {
				v := t.Celsius()
				return protocol.OkResponse(&protocol.ResponseData{Celsius: &v})
			}
		}
	}
	return protocol.ErrResponse("NotFound: no temperature sensor at that path")
}

func (d *Daemon) readFanRpm(path string) protocol.Response {
	snap, err := hwmon.Scan()
	if err != nil {
		return protocol.ErrResponse(fmt.Sprintf("NotFound: %v", err))
	}
	for _, c := range snap.Chips {
		for _, f := range c.Fans {
			if f.Path == path {
				v := f.Rpm
				return protocol.OkResponse(&protocol.ResponseData{Rpm: &v})
			}
		}
	}
	return protocol.ErrResponse("NotFound: no fan sensor at that path")
}

func (d *Daemon) readPwm(path string) protocol.Response {
	v, err := hwmon.ReadPwmAtPath(path)
	if err != nil {
		return protocol.ErrResponse(classify(err))
	}
	return protocol.OkResponse(&protocol.ResponseData{Pwm: &v})
}

func (d *Daemon) listGpus() protocol.Response {
	gpus, errs := d.GPU.Enumerate()
	for _, e := range errs {
		d.Log.Warn("gpu enumeration partial failure", zap.Error(e))
	}
	return protocol.OkResponse(&protocol.ResponseData{Gpus: toWireGpus(gpus)})
}

func (d *Daemon) getManualPairings() protocol.Response {
	s := d.settingsSnapshot()
	out := make([]protocol.Pairing, 0, len(s.PwmFanPairings))
	for _, p := range s.PwmFanPairings {
		out = append(out, protocol.Pairing{
			PwmUUID: p.PwmUUID, PwmPath: p.PwmPath, FanUUID: p.FanUUID,
			FanPath: p.FanPath, FriendlyName: p.FriendlyName,
		})
	}
	return protocol.OkResponse(&protocol.ResponseData{ManualPairings: out})
}

func (d *Daemon) listEcChips() protocol.Response {
	chips, err := ec.ListChips()
	if err != nil {
		return protocol.ErrResponse(fmt.Sprintf("NotFound: %v", err))
	}
	out := make([]protocol.EcChipInfo, 0, len(chips))
	for _, c := range chips {
		out = append(out, protocol.EcChipInfo{Name: c.Name, Path: c.Path, Size: 256})
	}
	return protocol.OkResponse(&protocol.ResponseData{EcChips: out})
}

func (d *Daemon) readEcRegister(chipPath string, register byte) protocol.Response {
	v, err := ec.ReadRegister(chipPath, register)
	if err != nil {
		return protocol.ErrResponse(classify(err))
	}
	return protocol.OkResponse(&protocol.ResponseData{EcRegister: &v})
}

func (d *Daemon) readEcRegisterRange(chipPath string, start byte, count int) protocol.Response {
	v, err := ec.ReadRegisterRange(chipPath, start, count)
	if err != nil {
		return protocol.ErrResponse(classify(err))
	}
	return protocol.OkResponse(&protocol.ResponseData{EcRegisters: v})
}

func (d *Daemon) setPwm(path string, value uint8) protocol.Response {
	hwmon.WriteMutex.Lock()
	_, err := hwmon.WritePwmAtPath(path, value)
	hwmon.WriteMutex.Unlock()
	if err != nil {
		return protocol.ErrResponse(classify(err))
	}
	return protocol.OkResponse(&protocol.ResponseData{})
}

func (d *Daemon) setEnableMode(path string, mode int) protocol.Response {
	sel, idx, err := hwmon.SelectorAndIndexForPath(path)
	if err != nil {
		return protocol.ErrResponse(classify(err))
	}
	hwmon.WriteMutex.Lock()
	err = hwmon.SetEnableMode(sel, idx, mode)
	hwmon.WriteMutex.Unlock()
	if err != nil {
		return protocol.ErrResponse(classify(err))
	}
	return protocol.OkResponse(&protocol.ResponseData{})
}

// setPwmOverride registers a TTL-bounded override (re-asserted every
// control-loop tick) and performs one immediate write so the effect is
// visible before the next tick (spec §4.9 "SetPwmOverride never touches the
// hysteresis/min-delta cache").
func (d *Daemon) setPwmOverride(path string, value uint8, ttl time.Duration) protocol.Response {
	hwmon.WriteMutex.Lock()
	_, err := hwmon.WritePwmAtPath(path, value)
	hwmon.WriteMutex.Unlock()
	if err != nil {
		return protocol.ErrResponse(classify(err))
	}
	d.Overrides.Set(path, value, ttl)
	return protocol.OkResponse(&protocol.ResponseData{})
}

func (d *Daemon) setGpuFan(req protocol.Request) protocol.Response {
	var fanIdx *int
	if req.FanIndex != nil {
		v := int(*req.FanIndex)
		fanIdx = &v
	}
	if err := d.GPU.SetFan(int(*req.GPUIndex), fanIdx, float32(*req.Percent)); err != nil {
		return protocol.ErrResponse(classify(err))
	}
	return protocol.OkResponse(&protocol.ResponseData{})
}

func (d *Daemon) resetGpuFanAuto(index int) protocol.Response {
	if err := d.GPU.ResetFanAuto(index); err != nil {
		return protocol.ErrResponse(classify(err))
	}
	return protocol.OkResponse(&protocol.ResponseData{})
}

// detectFanMappings runs one detection pass (it ramps and pulses every PWM
// directly, spec §4.8); the detector takes the hardware write mutex around
// each of its PWM writes.
func (d *Daemon) detectFanMappings() protocol.Response {
	snap, err := hwmon.Scan()
	if err != nil {
		return protocol.ErrResponse(fmt.Sprintf("NotFound: %v", err))
	}
	candidates, err := d.Detector.Run(snap)
	if err != nil {
		return protocol.ErrResponse(fmt.Sprintf("Validation: %v", err))
	}
	out := make([]protocol.FanMapping, 0, len(candidates))
	for _, c := range candidates {
		out = append(out, protocol.FanMapping{PwmPath: c.PwmPath, FanPath: c.FanPath, Confidence: c.Confidence})
	}
	return protocol.OkResponse(&protocol.ResponseData{FanMappings: out})
}

func (d *Daemon) setManualPairing(req protocol.Request) protocol.Response {
	d.mu.Lock()
	defer d.mu.Unlock()

	pairing := configstore.Pairing{
		PwmUUID: req.PwmUUID, PwmPath: req.PwmPath, FanUUID: req.FanUUID,
		FanPath: req.FanPath, FriendlyName: req.FriendlyName,
	}
	replaced := false
	for i, p := range d.settings.PwmFanPairings {
		if p.PwmPath == pairing.PwmPath {
			d.settings.PwmFanPairings[i] = pairing
			replaced = true
			break
		}
	}
	if !replaced {
		d.settings.PwmFanPairings = append(d.settings.PwmFanPairings, pairing)
	}
	if err := d.Store.SaveSettings(d.settings); err != nil {
		return protocol.ErrResponse(fmt.Sprintf("Validation: %v", err))
	}
	d.Loop.SetConfig(control.ConfigSnapshot{Stepped: d.settings.Stepped, Pairings: d.settings.PwmFanPairings, Curves: d.curves})
	return protocol.OkResponse(&protocol.ResponseData{})
}

func (d *Daemon) deleteManualPairing(pwmPath string) protocol.Response {
	d.mu.Lock()
	defer d.mu.Unlock()

	kept := d.settings.PwmFanPairings[:0]
	for _, p := range d.settings.PwmFanPairings {
		if p.PwmPath != pwmPath {
			kept = append(kept, p)
		}
	}
	d.settings.PwmFanPairings = kept
	if err := d.Store.SaveSettings(d.settings); err != nil {
		return protocol.ErrResponse(fmt.Sprintf("Validation: %v", err))
	}
	d.Loop.SetConfig(control.ConfigSnapshot{Stepped: d.settings.Stepped, Pairings: d.settings.PwmFanPairings, Curves: d.curves})
	return protocol.OkResponse(&protocol.ResponseData{})
}

func (d *Daemon) writeEcRegister(chipPath string, register, value byte) protocol.Response {
	if !d.settingsSnapshot().General.EcAckAdvanced {
		return protocol.ErrResponse("Permission: advanced EC writes are disabled in settings")
	}
	if err := ec.WriteRegister(chipPath, register, value); err != nil {
		return protocol.ErrResponse(classify(err))
	}
	return protocol.OkResponse(&protocol.ResponseData{})
}

// classify renders a domain error as its own message. Errors that already
// begin with a taxonomy prefix (spec §7) keep it; no prefix is added and no
// generic fallback message is substituted.
func classify(err error) string {
	return err.Error()
}
