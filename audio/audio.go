// Package audio implements the AudioBuffer entity (§3), the corruption
// detection rules a buffer must pass before caching or emission (§4.11),
// and WAV container framing for the streaming response path (§6.1).
//
// MP3 and FLAC encoding are out of scope (§1): they are external
// collaborators reached through the Encoder interface, which this package
// only defines and satisfies for WAV/PCM.
package audio

import (
	"encoding/binary"
	"fmt"
	"math"
)

// SampleRate is the fixed output sample rate for all synthesized audio.
const SampleRate = 24000

// Channels is fixed: all synthesized audio is mono.
const Channels = 1

// MinValidSamples is the minimum sample count for a buffer to be
// considered structurally valid (§4.11).
const MinValidSamples = 100

// SilenceFloor is the minimum RMS amplitude below which a non-silent
// buffer is flagged with a warning rather than rejected.
const SilenceFloor = 1e-4

// ZeroTolerance is the amplitude below which a sample is treated as zero
// when checking whether every sample in a buffer is silent.
const ZeroTolerance = 1e-7

// Buffer is an AudioBuffer: f32 mono PCM at a fixed sample rate.
type Buffer struct {
	Samples []float32
}

// ValidationResult reports the outcome of running corruption checks over a
// Buffer. A buffer with Rejected true must not be cached or emitted.
type ValidationResult struct {
	Rejected       bool
	RejectReason   string
	SanitizedCount int  // number of NaN/Inf samples replaced with 0
	SilentWarning  bool // RMS below SilenceFloor but not all-zero
}

// Validate runs the §4.11 corruption checks over buf, sanitizing NaN/Inf
// samples in place. A buffer is rejected outright only for too few samples
// or for being entirely zero; everything else is sanitized and allowed
// through, possibly with a warning.
func Validate(buf *Buffer) ValidationResult {
	var result ValidationResult

	if len(buf.Samples) <= MinValidSamples {
		result.Rejected = true
		result.RejectReason = fmt.Sprintf("sample count %d is not greater than the minimum %d", len(buf.Samples), MinValidSamples)
		return result
	}

	allZero := true
	for i, s := range buf.Samples {
		if math.IsNaN(float64(s)) || math.IsInf(float64(s), 0) {
			buf.Samples[i] = 0
			result.SanitizedCount++
			continue
		}
		if float64(s) < -ZeroTolerance || float64(s) > ZeroTolerance {
			allZero = false
		}
	}

	if allZero {
		result.Rejected = true
		result.RejectReason = "all samples are zero"
		return result
	}

	if rms(buf.Samples) < SilenceFloor {
		result.SilentWarning = true
	}

	return result
}

// rms computes the root-mean-square amplitude of samples.
func rms(samples []float32) float64 {
	if len(samples) == 0 {
		return 0
	}
	var sum float64
	for _, s := range samples {
		v := float64(s)
		sum += v * v
	}
	return math.Sqrt(sum / float64(len(samples)))
}

// WAVHeader returns the 44-byte RIFF/WAVE header for dataLen bytes of
// 16-bit PCM audio at the fixed SampleRate/Channels. This is the header
// the Streaming Engine emits before the first chunk of a streaming WAV
// response (§6.1).
func WAVHeader(dataLen int) []byte {
	const bitsPerSample = 16
	byteRate := SampleRate * Channels * bitsPerSample / 8
	blockAlign := Channels * bitsPerSample / 8

	h := make([]byte, 44)
	copy(h[0:4], "RIFF")
	binary.LittleEndian.PutUint32(h[4:8], uint32(36+dataLen))
	copy(h[8:12], "WAVE")
	copy(h[12:16], "fmt ")
	binary.LittleEndian.PutUint32(h[16:20], 16) // fmt chunk size
	binary.LittleEndian.PutUint16(h[20:22], 1)  // PCM
	binary.LittleEndian.PutUint16(h[22:24], Channels)
	binary.LittleEndian.PutUint32(h[24:28], SampleRate)
	binary.LittleEndian.PutUint32(h[28:32], uint32(byteRate))
	binary.LittleEndian.PutUint16(h[32:34], uint16(blockAlign))
	binary.LittleEndian.PutUint16(h[34:36], bitsPerSample)
	copy(h[36:40], "data")
	binary.LittleEndian.PutUint32(h[40:44], uint32(dataLen))
	return h
}

// ToPCM16 converts a float32 buffer to little-endian s16le bytes, clamping
// samples outside [-1, 1] rather than wrapping.
func ToPCM16(buf *Buffer) []byte {
	out := make([]byte, len(buf.Samples)*2)
	for i, s := range buf.Samples {
		f := float64(s)
		if f > 1 {
			f = 1
		}
		if f < -1 {
			f = -1
		}
		v := int16(f * 32767)
		binary.LittleEndian.PutUint16(out[i*2:], uint16(v))
	}
	return out
}

// SilencePad returns a PCM16 silence buffer of the given duration in
// milliseconds, used as the ≈50ms pad emitted after a primer cache hit's
// header (§4.10).
func SilencePad(ms int) []byte {
	n := SampleRate * ms / 1000
	return make([]byte, n*2)
}

// Encoder renders an AudioBuffer into the bytes of a requested container
// format. WAV/PCM are implemented directly; MP3/FLAC are external
// collaborators (§1) this package only defines the seam for.
type Encoder interface {
	// Encode returns the framed bytes for buf. For streaming formats,
	// repeated calls produce independent frames; callers are responsible
	// for emitting a container header first where the format requires one.
	Encode(buf *Buffer) ([]byte, error)
}

// PCMEncoder implements Encoder for the raw pcm format: no framing, just
// s16le samples.
type PCMEncoder struct{}

func (PCMEncoder) Encode(buf *Buffer) ([]byte, error) {
	return ToPCM16(buf), nil
}

// WAVEncoder implements Encoder for the wav format in non-streaming mode:
// a single call returns header+data for the complete buffer. Streaming WAV
// responses instead call WAVHeader and ToPCM16 directly (§4.10 step 3).
type WAVEncoder struct{}

func (WAVEncoder) Encode(buf *Buffer) ([]byte, error) {
	data := ToPCM16(buf)
	out := make([]byte, 0, len(data)+44)
	out = append(out, WAVHeader(len(data))...)
	out = append(out, data...)
	return out, nil
}
