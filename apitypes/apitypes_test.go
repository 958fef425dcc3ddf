package apitypes

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestResponseFormat_ContentType(t *testing.T) {
	assert.Equal(t, "audio/wav", FormatWAV.ContentType())
	assert.Equal(t, "audio/mpeg", FormatMP3.ContentType())
	assert.Equal(t, "audio/flac", FormatFLAC.ContentType())
	assert.Equal(t, "application/octet-stream", FormatPCM.ContentType())
	assert.Equal(t, "application/octet-stream", ResponseFormat("bogus").ContentType())
}

func TestResponseFormat_Valid(t *testing.T) {
	assert.True(t, FormatWAV.Valid())
	assert.True(t, FormatMP3.Valid())
	assert.True(t, FormatFLAC.Valid())
	assert.True(t, FormatPCM.Valid())
	assert.False(t, ResponseFormat("ogg").Valid())
	assert.False(t, ResponseFormat("").Valid())
}

func TestSpeechRequest_ApplyDefaults(t *testing.T) {
	r := SpeechRequest{Input: "hello", Voice: "af_heart"}
	r.ApplyDefaults()
	assert.Equal(t, 1.0, r.Speed)
	assert.Equal(t, FormatWAV, r.ResponseFormat)
	assert.Equal(t, "en", r.Language)
}

func TestSpeechRequest_ApplyDefaults_PreservesSetValues(t *testing.T) {
	r := SpeechRequest{
		Input:          "hello",
		Speed:          1.5,
		ResponseFormat: FormatMP3,
		Language:       "es",
	}
	r.ApplyDefaults()
	assert.Equal(t, 1.5, r.Speed)
	assert.Equal(t, FormatMP3, r.ResponseFormat)
	assert.Equal(t, "es", r.Language)
}
