package configstore

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/dustin/go-humanize"

	"github.com/hyperfan-project/hyperfand/internal/protocol"
)

// Pairing is a user-confirmed PWM/fan association (spec §3 "Pairing").
type Pairing struct {
	PwmUUID      string `json:"pwm_uuid"`
	PwmPath      string `json:"pwm_path"`
	FanUUID      string `json:"fan_uuid,omitempty"`
	FanPath      string `json:"fan_path,omitempty"`
	FriendlyName string `json:"friendly_name,omitempty"`
}

// GeneralSettings mirrors the daemon-relevant subset of settings.json's
// "general" object (spec §6 "settings.json (flat object: general,
// display, active_pairs, pwm_fan_pairings)").
type GeneralSettings struct {
	PollIntervalMs  uint32 `json:"poll_interval_ms"`
	RateLimitWindow uint32 `json:"rate_limit_window_s"`
	RateLimitQuota  uint32 `json:"rate_limit_quota"`
	EcAckAdvanced   bool   `json:"ec_ack_advanced"`
}

// Settings is the full settings.json document. Display round-trips
// opaquely: the daemon core has no use for display preferences beyond the
// "stepped" curve-mode flag, but must preserve the rest for the (out of
// scope) UI layer that also reads this file.
type Settings struct {
	General         GeneralSettings   `json:"general"`
	Display         json.RawMessage   `json:"display,omitempty"`
	Stepped         bool              `json:"stepped"`
	ActivePairs     []string          `json:"active_pairs,omitempty"`
	PwmFanPairings  []Pairing         `json:"pwm_fan_pairings"`
}

func DefaultSettings() Settings {
	return Settings{
		General: GeneralSettings{
			PollIntervalMs:  1000,
			RateLimitWindow: 10,
			RateLimitQuota:  1000,
		},
	}
}

const (
	// ImportMaxSize bounds external config imports (spec §4.7 "file size <= 1 MiB").
	ImportMaxSize = 1 << 20
)

var (
	ErrTooLarge     = errors.New("Validation: import exceeds maximum size")
	ErrUnknownField = errors.New("Validation: unknown field in config document")
)

// Store owns load/save of settings.json and curves.json with atomic writes
// and strict unknown-key rejection (spec §4.7).
type Store struct {
	SettingsPath string
	CurvesPath   string
}

func New(settingsPath, curvesPath string) *Store {
	return &Store{SettingsPath: settingsPath, CurvesPath: curvesPath}
}

// LoadSettings reads and strictly validates settings.json. On parse or
// validation failure it logs (via the returned error, which the caller
// logs) and returns defaults, never aborting startup (spec §4.7 "On parse
// or validation failure, log and return defaults; never crash the daemon").
func (s *Store) LoadSettings() (Settings, error) {
	data, err := os.ReadFile(s.SettingsPath)
	if err != nil {
		if os.IsNotExist(err) {
			return DefaultSettings(), nil
		}
		return DefaultSettings(), err
	}
	var out Settings
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&out); err != nil {
		return DefaultSettings(), fmt.Errorf("Validation: %w", err)
	}
	return out, nil
}

// SaveSettings writes to a temp file in the same directory, fsyncs, then
// renames over the destination (spec §4.7 "Save").
func (s *Store) SaveSettings(settings Settings) error {
	data, err := json.MarshalIndent(settings, "", "  ")
	if err != nil {
		return err
	}
	return atomicWrite(s.SettingsPath, data, 0644)
}

// LoadCurves reads and validates curves.json, returning (nil, nil) if
// absent (the control loop's legacy-mode fallback then applies).
func (s *Store) LoadCurves() (*CurvesDocument, error) {
	data, err := os.ReadFile(s.CurvesPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	var doc CurvesDocument
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&doc); err != nil {
		return nil, fmt.Errorf("Validation: %w", err)
	}
	if err := ValidateCurves(doc); err != nil {
		return nil, err
	}
	return &doc, nil
}

func (s *Store) SaveCurves(doc CurvesDocument) error {
	if err := ValidateCurves(doc); err != nil {
		return err
	}
	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return err
	}
	return atomicWrite(s.CurvesPath, data, 0644)
}

func atomicWrite(path string, data []byte, mode os.FileMode) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(dir, ".tmp-*")
	if err != nil {
		return err
	}
	tmpPath := tmp.Name()
	defer os.Remove(tmpPath)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	if err := os.Chmod(tmpPath, mode); err != nil {
		return err
	}
	return os.Rename(tmpPath, path)
}

// importWhitelist are the only top-level keys an external settings import
// may carry (spec §4.7 "Import validation... only whitelisted top-level
// keys").
var importWhitelist = map[string]bool{
	"general": true, "display": true, "stepped": true,
	"active_pairs": true, "pwm_fan_pairings": true,
}

// ValidateImport runs the superset-of-load validation spec §4.7 requires
// for externally supplied config documents: size cap, key whitelist, and
// embedded-path validation for any pwm_path/fan_path fields.
func ValidateImport(data []byte) (Settings, error) {
	if len(data) > ImportMaxSize {
		return Settings{}, fmt.Errorf("%w: %s > %s", ErrTooLarge,
			humanize.Bytes(uint64(len(data))), humanize.Bytes(ImportMaxSize))
	}

	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return Settings{}, fmt.Errorf("Validation: %w", err)
	}
	for key := range raw {
		if !importWhitelist[key] {
			return Settings{}, fmt.Errorf("%w: %q", ErrUnknownField, key)
		}
	}

	var out Settings
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&out); err != nil {
		return Settings{}, fmt.Errorf("Validation: %w", err)
	}

	for _, p := range out.PwmFanPairings {
		if p.PwmPath != "" {
			if err := protocol.ValidatePath(p.PwmPath); err != nil {
				return Settings{}, err
			}
		}
		if p.FanPath != "" {
			if err := protocol.ValidatePath(p.FanPath); err != nil {
				return Settings{}, err
			}
		}
	}
	return out, nil
}
