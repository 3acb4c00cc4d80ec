package protocol

// Response is either Ok(ResponseData) or Error{message}. Exactly one of Data
// or ErrorMessage is meaningful, selected by Ok.
type Response struct {
	Ok           bool          `json:"ok"`
	Data         *ResponseData `json:"data,omitempty"`
	ErrorMessage string        `json:"error,omitempty"`
}

// OkResponse builds a successful Response carrying data.
func OkResponse(data *ResponseData) Response {
	return Response{Ok: true, Data: data}
}

// ErrResponse builds an error Response. Callers should prefix msg with one
// of the taxonomy classes in spec §6 ("Rate limit", "Validation",
// "NotFound", "Permission", "IpcProtocol", "MessageTooLarge") when useful.
func ErrResponse(msg string) Response {
	return Response{Ok: false, ErrorMessage: msg}
}

// ResponseData is a flat record; each request kind declares exactly which
// field must be populated (named by RequiredField and checked on the client
// side by daemonclient.verifyResponseType).
type ResponseData struct {
	Value          *string         `json:"value,omitempty"`
	Hardware       *HardwareInfo   `json:"hardware,omitempty"`
	AllData        *AllHardware    `json:"all_data,omitempty"`
	Celsius        *float32        `json:"celsius,omitempty"`
	Rpm            *uint32         `json:"rpm,omitempty"`
	Pwm            *uint8          `json:"pwm,omitempty"`
	Gpus           []GpuInfo       `json:"gpus,omitempty"`
	FanMappings    []FanMapping    `json:"fan_mappings,omitempty"`
	ManualPairings []Pairing       `json:"manual_pairings,omitempty"`
	EcChips        []EcChipInfo    `json:"ec_chips,omitempty"`
	EcRegister     *uint8          `json:"ec_register,omitempty"`
	EcRegisters    []uint8         `json:"ec_registers,omitempty"`
}

// RequiredField names the ResponseData field a successful response to the
// given request kind must populate, or "" if an empty Ok response suffices.
func RequiredField(k RequestKind) string {
	switch k {
	case KindPing, KindVersion:
		return "value"
	case KindListHardware:
		return "hardware"
	case KindListAll:
		return "all_data"
	case KindReadTemperature:
		return "celsius"
	case KindReadFanRpm:
		return "rpm"
	case KindReadPwm:
		return "pwm"
	case KindListGpus:
		return "gpus"
	case KindDetectFanMappings:
		return "fan_mappings"
	case KindGetManualPairings:
		return "manual_pairings"
	case KindListEcChips:
		return "ec_chips"
	case KindReadEcRegister:
		return "ec_register"
	case KindReadEcRegisterRange:
		return "ec_registers"
	default:
		return ""
	}
}

// HardwareInfo is the wire shape of a full hwmon enumeration (C1).
type HardwareInfo struct {
	Chips     []HwmonChip `json:"chips"`
	Timestamp int64       `json:"timestamp_unix_ms"`
}

// HwmonChip mirrors hwmon.Chip for the wire.
type HwmonChip struct {
	Name  string       `json:"name"`
	Tag   string        `json:"tag"`
	Path  string        `json:"path"`
	Temps []TempSensor  `json:"temps"`
	Fans  []FanSensor   `json:"fans"`
	Pwms  []PwmControl  `json:"pwms"`
}

type TempSensor struct {
	Index        int     `json:"index"`
	Label        string  `json:"label,omitempty"`
	Path         string  `json:"path"`
	MilliDegreeC int     `json:"millideg_c"`
	CelsiusValue float32 `json:"celsius"`
}

type FanSensor struct {
	UUID  string `json:"uuid"`
	Index int    `json:"index"`
	Label string `json:"label,omitempty"`
	Path  string `json:"path"`
	Rpm   uint32 `json:"rpm"`
}

type PwmControl struct {
	UUID       string `json:"uuid"`
	Index      int    `json:"index"`
	Label      string `json:"label,omitempty"`
	Path       string `json:"path"`
	RawValue   uint8  `json:"raw_value"`
	EnableMode *int   `json:"enable_mode,omitempty"`
	MaxScale   *int   `json:"max_scale,omitempty"`
}

// AllHardware aggregates hwmon chips and GPUs for the ListAll request.
type AllHardware struct {
	Chips []HwmonChip `json:"chips"`
	Gpus  []GpuInfo   `json:"gpus"`
}

type GpuFan struct {
	Index   int      `json:"index"`
	Rpm     *uint32  `json:"rpm,omitempty"`
	Percent *float32 `json:"percent,omitempty"`
}

type GpuInfo struct {
	Index  int                `json:"index"`
	Vendor string             `json:"vendor"`
	Name   string             `json:"name"`
	Temps  map[string]float32 `json:"temps"`
	Fans   []GpuFan           `json:"fans"`
}

// FanMapping is one result of a detection pass (C8).
type FanMapping struct {
	PwmPath    string  `json:"pwm_path"`
	FanPath    string  `json:"fan_path"`
	Confidence float64 `json:"confidence"`
}

// Pairing is a user-confirmed PWM/fan binding (C3/C7).
type Pairing struct {
	PwmUUID      string `json:"pwm_uuid"`
	PwmPath      string `json:"pwm_path"`
	FanUUID      string `json:"fan_uuid,omitempty"`
	FanPath      string `json:"fan_path,omitempty"`
	FriendlyName string `json:"friendly_name,omitempty"`
	Unvalidated  bool   `json:"unvalidated_this_session,omitempty"`
}

type EcChipInfo struct {
	Name string `json:"name"`
	Path string `json:"path"`
	Size int    `json:"size"`
}
