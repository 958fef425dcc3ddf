package streaming

import "github.com/kestrelvox/kestrel/audio"

// DefaultChunkTargetMs is the §4.14 streaming.chunk_target_ms default: the
// midpoint of the §4.10 steady-cadence range (100-300ms of audio per chunk).
const DefaultChunkTargetMs = 200

const bytesPerSamplePCM16 = 2

// bytesPerChunk returns the byte count of one chunk_target_ms slice of
// s16le mono PCM at audio.SampleRate.
func bytesPerChunk(chunkTargetMs int) int {
	if chunkTargetMs <= 0 {
		chunkTargetMs = DefaultChunkTargetMs
	}
	n := audio.SampleRate * chunkTargetMs / 1000 * bytesPerSamplePCM16
	if n < bytesPerSamplePCM16 {
		n = bytesPerSamplePCM16
	}
	// Round down to an even sample boundary so no chunk splits a sample.
	return n - n%bytesPerSamplePCM16
}

// splitIntoChunks slices pcm (s16le bytes) into chunkSize-sized pieces,
// preserving order; the final piece may be shorter.
func splitIntoChunks(pcm []byte, chunkSize int) [][]byte {
	if chunkSize <= 0 {
		chunkSize = bytesPerChunk(DefaultChunkTargetMs)
	}
	var chunks [][]byte
	for start := 0; start < len(pcm); start += chunkSize {
		end := start + chunkSize
		if end > len(pcm) {
			end = len(pcm)
		}
		chunks = append(chunks, pcm[start:end])
	}
	return chunks
}
