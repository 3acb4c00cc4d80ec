// Package protocol implements the hyperfand wire protocol: line-framed JSON
// request/response envelopes exchanged over the daemon's Unix domain socket.
package protocol

import (
	"fmt"
	"strings"
	"sync/atomic"
)

// MaxMessageSize bounds a single framed record, terminator included. Frames
// larger than this are rejected by both client and server.
const MaxMessageSize = 256 * 1024

// MinRateLimit and MaxRateLimit bound the requests-per-window quota accepted
// by SetRateLimit-style configuration knobs.
const (
	MinRateLimit = 1
	MaxRateLimit = 100000
)

var requestIDCounter uint64

// NextRequestID returns a process-unique, monotonically increasing request
// id suitable for a RequestEnvelope. Safe for concurrent use.
func NextRequestID() uint64 {
	return atomic.AddUint64(&requestIDCounter, 1)
}

// RequestEnvelope wraps a Request with a client-generated id that the
// corresponding ResponseEnvelope must echo.
type RequestEnvelope struct {
	ID      uint64  `json:"id"`
	Request Request `json:"request"`
}

// ResponseEnvelope wraps a Response with the id of the request that
// triggered it.
type ResponseEnvelope struct {
	ID       uint64   `json:"id"`
	Response Response `json:"response"`
}

// Request is the tagged union of every request kind the daemon accepts.
// Kind selects which of the optional fields below are meaningful; Validate
// enforces that only the fields appropriate to Kind are read downstream.
type Request struct {
	Kind RequestKind `json:"kind"`

	Path          string  `json:"path,omitempty"`
	ChipPath      string  `json:"chip_path,omitempty"`
	Value         *uint16 `json:"value,omitempty"`
	TTLMillis     *uint32 `json:"ttl_ms,omitempty"`
	Register      *uint16 `json:"register,omitempty"`
	StartRegister *uint16 `json:"start_register,omitempty"`
	Count         *uint16 `json:"count,omitempty"`
	GPUIndex      *uint32 `json:"index,omitempty"`
	FanIndex      *uint32 `json:"fan_index,omitempty"`
	Percent       *uint8  `json:"percent,omitempty"`
	PwmUUID       string  `json:"pwm_uuid,omitempty"`
	PwmPath       string  `json:"pwm_path,omitempty"`
	FanUUID       string  `json:"fan_uuid,omitempty"`
	FanPath       string  `json:"fan_path,omitempty"`
	FriendlyName  string  `json:"friendly_name,omitempty"`
	AckAdvanced   bool    `json:"ack_advanced,omitempty"`
}

// RequestKind enumerates the exhaustive request variants of spec §6.
type RequestKind string

const (
	KindPing                  RequestKind = "Ping"
	KindVersion               RequestKind = "Version"
	KindListHardware          RequestKind = "ListHardware"
	KindListAll               RequestKind = "ListAll"
	KindReadTemperature       RequestKind = "ReadTemperature"
	KindReadFanRpm            RequestKind = "ReadFanRpm"
	KindReadPwm               RequestKind = "ReadPwm"
	KindListGpus              RequestKind = "ListGpus"
	KindGetManualPairings     RequestKind = "GetManualPairings"
	KindListEcChips           RequestKind = "ListEcChips"
	KindReadEcRegister        RequestKind = "ReadEcRegister"
	KindReadEcRegisterRange   RequestKind = "ReadEcRegisterRange"
	KindSetPwm                RequestKind = "SetPwm"
	KindEnableManualPwm       RequestKind = "EnableManualPwm"
	KindDisableManualPwm      RequestKind = "DisableManualPwm"
	KindSetPwmOverride        RequestKind = "SetPwmOverride"
	KindClearPwmOverride      RequestKind = "ClearPwmOverride"
	KindSetGpuFan             RequestKind = "SetGpuFan"
	KindResetGpuFanAuto       RequestKind = "ResetGpuFanAuto"
	KindDetectFanMappings     RequestKind = "DetectFanMappings"
	KindSetManualPairing      RequestKind = "SetManualPairing"
	KindDeleteManualPairing   RequestKind = "DeleteManualPairing"
	KindWriteEcRegister       RequestKind = "WriteEcRegister"
	KindReloadConfig          RequestKind = "ReloadConfig"
)

// readOnlyKinds never require the privileged group.
var readOnlyKinds = map[RequestKind]bool{
	KindPing: true, KindVersion: true, KindListHardware: true, KindListAll: true,
	KindReadTemperature: true, KindReadFanRpm: true, KindReadPwm: true,
	KindListGpus: true, KindGetManualPairings: true, KindListEcChips: true,
	KindReadEcRegister: true, KindReadEcRegisterRange: true,
}

// IsReadOnly reports whether a request kind may be served to any local
// peer without privilege checks (spec §4.6 step 4).
func (k RequestKind) IsReadOnly() bool { return readOnlyKinds[k] }

// idempotentKinds lists request kinds whose repeated observable effect is
// last-write-wins or no-op-on-repeat, per spec §4.6's idempotence contract.
var idempotentKinds = map[RequestKind]bool{
	KindSetPwm: true, KindSetPwmOverride: true, KindEnableManualPwm: true,
	KindDisableManualPwm: true, KindSetManualPairing: true, KindClearPwmOverride: true,
	KindDeleteManualPairing: true, KindReloadConfig: true, KindSetGpuFan: true,
}

// IsIdempotent reports whether the request kind may be safely retried.
func (k RequestKind) IsIdempotent() bool { return idempotentKinds[k] }

// maxPathLen bounds any path-shaped string field (spec §3 invariants).
const maxPathLen = 1024

// ValidationError classifies a request that failed protocol-level validation.
type ValidationError struct{ Msg string }

func (e *ValidationError) Error() string { return "Validation: " + e.Msg }

func validationErrorf(format string, args ...any) error {
	return &ValidationError{Msg: fmt.Sprintf(format, args...)}
}

// ValidatePath rejects paths containing "..", NUL, newline, shell
// metacharacters, or exceeding maxPathLen bytes (spec §3 invariants, §7).
func ValidatePath(p string) error {
	if p == "" {
		return validationErrorf("path must not be empty")
	}
	if len(p) > maxPathLen {
		return validationErrorf("path exceeds %d bytes", maxPathLen)
	}
	if strings.Contains(p, "..") {
		return validationErrorf("path must not contain '..'")
	}
	if strings.ContainsAny(p, "\x00\n\r") {
		return validationErrorf("path must not contain NUL or newline")
	}
	const metachars = "|&;$><`\\!*?[]{}()'\""
	if strings.ContainsAny(p, metachars) {
		return validationErrorf("path must not contain shell metacharacters")
	}
	return nil
}

func validateLabel(s string, field string) error {
	if s == "" || len(s) > 128 {
		return validationErrorf("%s has invalid length", field)
	}
	for _, c := range s {
		ok := (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z') || (c >= '0' && c <= '9') ||
			c == ':' || c == '_' || c == '-' || c == '.' || c == ' ' || c == '@'
		if !ok {
			return validationErrorf("%s contains invalid character %q", field, c)
		}
	}
	return nil
}

// Validate enforces path length/charset, numeric ranges, and enum
// well-formedness for the given request kind (spec §4.4).
func (r Request) Validate() error {
	switch r.Kind {
	case KindPing, KindVersion, KindListHardware, KindListAll, KindListGpus,
		KindGetManualPairings, KindListEcChips, KindDetectFanMappings, KindReloadConfig:
		return nil

	case KindReadTemperature, KindReadFanRpm, KindReadPwm:
		return ValidatePath(r.Path)

	case KindSetPwm:
		if err := ValidatePath(r.Path); err != nil {
			return err
		}
		return requireByteValue(r.Value, "value")

	case KindEnableManualPwm, KindDisableManualPwm, KindClearPwmOverride:
		return ValidatePath(r.Path)

	case KindSetPwmOverride:
		if err := ValidatePath(r.Path); err != nil {
			return err
		}
		if err := requireByteValue(r.Value, "value"); err != nil {
			return err
		}
		if r.TTLMillis == nil {
			return validationErrorf("ttl_ms is required")
		}
		if *r.TTLMillis == 0 || *r.TTLMillis > 24*60*60*1000 {
			return validationErrorf("ttl_ms out of range")
		}
		return nil

	case KindSetGpuFan:
		if r.GPUIndex == nil {
			return validationErrorf("index is required")
		}
		return requirePercent(r.Percent)

	case KindResetGpuFanAuto:
		if r.GPUIndex == nil {
			return validationErrorf("index is required")
		}
		return nil

	case KindSetManualPairing:
		if err := validateLabel(r.PwmUUID, "pwm_uuid"); r.PwmUUID != "" && err != nil {
			return err
		}
		return ValidatePath(r.PwmPath)

	case KindDeleteManualPairing:
		return ValidatePath(r.PwmPath)

	case KindReadEcRegister:
		if err := ValidatePath(r.ChipPath); err != nil {
			return err
		}
		return requireRegister(r.Register)

	case KindReadEcRegisterRange:
		if err := ValidatePath(r.ChipPath); err != nil {
			return err
		}
		if err := requireRegister(r.StartRegister); err != nil {
			return err
		}
		if r.Count == nil || *r.Count < 1 || *r.Count > 256 {
			return validationErrorf("count must be in 1..=256")
		}
		return nil

	case KindWriteEcRegister:
		if err := ValidatePath(r.ChipPath); err != nil {
			return err
		}
		if err := requireRegister(r.Register); err != nil {
			return err
		}
		if !r.AckAdvanced {
			return validationErrorf("write requires explicit advanced-flag acknowledgement")
		}
		return requireByteValue(r.Value, "value")

	default:
		return validationErrorf("unknown request kind %q", r.Kind)
	}
}

func requireByteValue(v *uint16, field string) error {
	if v == nil {
		return validationErrorf("%s is required", field)
	}
	if *v > 255 {
		return validationErrorf("%s must be in 0..=255", field)
	}
	return nil
}

func requirePercent(v *uint8) error {
	if v == nil {
		return validationErrorf("percent is required")
	}
	if *v > 100 {
		return validationErrorf("percent must be in 0..=100")
	}
	return nil
}

func requireRegister(v *uint16) error {
	if v == nil {
		return validationErrorf("register is required")
	}
	if *v > 255 {
		return validationErrorf("register must be in 0..=255")
	}
	return nil
}

// RequiresPrivilege reports whether the request must be rejected for peers
// that are neither root nor a member of the configured privileged group.
func (r Request) RequiresPrivilege() bool { return !r.Kind.IsReadOnly() }
