package protocol

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func u16(v uint16) *uint16 { return &v }
func u8(v uint8) *uint8    { return &v }

func TestValidatePathRejectsDangerousPaths(t *testing.T) {
	cases := []string{
		"/sys/class/hwmon/../../etc/passwd",
		"/sys/class/hwmon/hwmon0/pwm1\x00",
		"/sys/class/hwmon/hwmon0/pwm1\nrm -rf /",
		"/sys/class/hwmon/hwmon0/pwm1; rm -rf /",
		strings.Repeat("a", 1025),
		"",
	}
	for _, c := range cases {
		assert.Error(t, ValidatePath(c), "expected rejection of %q", c)
	}
}

func TestValidatePathAcceptsNormalPaths(t *testing.T) {
	assert.NoError(t, ValidatePath("/sys/class/hwmon/hwmon0/pwm1"))
}

func TestRequestValidateSetPwmBoundaries(t *testing.T) {
	req := Request{Kind: KindSetPwm, Path: "/sys/class/hwmon/hwmon0/pwm1", Value: u16(0)}
	assert.NoError(t, req.Validate(), "value=0 must never be rejected")

	req.Value = u16(255)
	assert.NoError(t, req.Validate(), "value=255 must never be rejected")

	req.Value = u16(256)
	assert.Error(t, req.Validate())
}

func TestRequestValidateSetPwmOverrideRequiresTTL(t *testing.T) {
	req := Request{Kind: KindSetPwmOverride, Path: "/p", Value: u16(10)}
	require.Error(t, req.Validate())

	ttl := uint32(5000)
	req.TTLMillis = &ttl
	assert.NoError(t, req.Validate())
}

func TestRequestValidateWriteEcRegisterRequiresAck(t *testing.T) {
	req := Request{Kind: KindWriteEcRegister, ChipPath: "/sys/kernel/debug/ec/ec0/io", Register: u16(10), Value: u16(1)}
	assert.Error(t, req.Validate(), "must require ack_advanced")
	req.AckAdvanced = true
	assert.NoError(t, req.Validate())
}

func TestRequestValidateReadEcRegisterRange(t *testing.T) {
	count := uint16(0)
	req := Request{Kind: KindReadEcRegisterRange, ChipPath: "/ec0", StartRegister: u16(0), Count: &count}
	assert.Error(t, req.Validate())
	count = 256
	assert.NoError(t, req.Validate())
	count = 257
	assert.Error(t, req.Validate())
}

func TestIsReadOnlyAndIdempotent(t *testing.T) {
	assert.True(t, KindPing.IsReadOnly())
	assert.False(t, KindSetPwm.IsReadOnly())
	assert.True(t, KindSetPwm.IsIdempotent())
	assert.True(t, KindDeleteManualPairing.IsIdempotent())
	assert.False(t, KindDetectFanMappings.IsIdempotent())
}

func TestEncodeDecodeRoundTrip(t *testing.T) {
	env := RequestEnvelope{ID: 42, Request: Request{Kind: KindPing}}
	frame, err := EncodeFrame(env)
	require.NoError(t, err)
	require.True(t, frame[len(frame)-1] == '\n')

	decoded, err := DecodeRequestEnvelope(frame[:len(frame)-1])
	require.NoError(t, err)
	assert.Equal(t, uint64(42), decoded.ID)
	assert.Equal(t, KindPing, decoded.Request.Kind)
}

func TestEncodeFrameTooLarge(t *testing.T) {
	huge := strings.Repeat("a", MaxMessageSize+10)
	_, err := EncodeFrame(ResponseData{Value: &huge})
	assert.ErrorIs(t, err, ErrMessageTooLarge)
}

func TestRequiredFieldPerKind(t *testing.T) {
	assert.Equal(t, "celsius", RequiredField(KindReadTemperature))
	assert.Equal(t, "", RequiredField(KindSetPwm))
}
