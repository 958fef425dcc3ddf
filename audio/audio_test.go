package audio

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sineBuffer(n int) *Buffer {
	samples := make([]float32, n)
	for i := range samples {
		samples[i] = float32(0.5 * math.Sin(float64(i)*0.1))
	}
	return &Buffer{Samples: samples}
}

func TestValidate_RejectsTooFewSamples(t *testing.T) {
	buf := sineBuffer(50)
	result := Validate(buf)
	assert.True(t, result.Rejected)
	assert.Contains(t, result.RejectReason, "sample count")
}

func TestValidate_RejectsAllZero(t *testing.T) {
	buf := &Buffer{Samples: make([]float32, 200)}
	result := Validate(buf)
	assert.True(t, result.Rejected)
	assert.Contains(t, result.RejectReason, "all samples are zero")
}

func TestValidate_SanitizesNaNAndInf(t *testing.T) {
	buf := sineBuffer(200)
	buf.Samples[10] = float32(math.NaN())
	buf.Samples[20] = float32(math.Inf(1))
	buf.Samples[30] = float32(math.Inf(-1))

	result := Validate(buf)
	require.False(t, result.Rejected)
	assert.Equal(t, 3, result.SanitizedCount)
	assert.Equal(t, float32(0), buf.Samples[10])
	assert.Equal(t, float32(0), buf.Samples[20])
	assert.Equal(t, float32(0), buf.Samples[30])
}

func TestValidate_WarnsOnLowRMS(t *testing.T) {
	buf := &Buffer{Samples: make([]float32, 200)}
	buf.Samples[0] = 1e-6 // non-zero but far below the silence floor
	result := Validate(buf)
	require.False(t, result.Rejected)
	assert.True(t, result.SilentWarning)
}

func TestValidate_PassesHealthySignal(t *testing.T) {
	buf := sineBuffer(1000)
	result := Validate(buf)
	assert.False(t, result.Rejected)
	assert.Equal(t, 0, result.SanitizedCount)
	assert.False(t, result.SilentWarning)
}

func TestWAVHeader_HasExpectedLayout(t *testing.T) {
	h := WAVHeader(1000)
	require.Len(t, h, 44)
	assert.Equal(t, "RIFF", string(h[0:4]))
	assert.Equal(t, "WAVE", string(h[8:12]))
	assert.Equal(t, "fmt ", string(h[12:16]))
	assert.Equal(t, "data", string(h[36:40]))
}

func TestToPCM16_ClampsOutOfRangeSamples(t *testing.T) {
	buf := &Buffer{Samples: []float32{2.0, -2.0, 0.0}}
	out := ToPCM16(buf)
	require.Len(t, out, 6)
	// 2.0 clamps to 1.0 -> 32767 -> little-endian 0xFF 0x7F
	assert.Equal(t, byte(0xFF), out[0])
	assert.Equal(t, byte(0x7F), out[1])
}

func TestSilencePad_ReturnsZeroedSamples(t *testing.T) {
	pad := SilencePad(50)
	expectedSamples := SampleRate * 50 / 1000
	assert.Len(t, pad, expectedSamples*2)
	for _, b := range pad {
		assert.Equal(t, byte(0), b)
	}
}

func TestWAVEncoder_ProducesHeaderThenData(t *testing.T) {
	buf := sineBuffer(200)
	enc := WAVEncoder{}
	out, err := enc.Encode(buf)
	require.NoError(t, err)
	assert.Equal(t, "RIFF", string(out[0:4]))
	assert.Len(t, out, 44+200*2)
}

func TestPCMEncoder_ProducesRawSamples(t *testing.T) {
	buf := sineBuffer(200)
	enc := PCMEncoder{}
	out, err := enc.Encode(buf)
	require.NoError(t, err)
	assert.Len(t, out, 200*2)
}
