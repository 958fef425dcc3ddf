// Package apitypes defines the request and response shapes exposed at the
// HTTP boundary (§6.1), independent of the transport framework that decodes
// and encodes them.
package apitypes

// ResponseFormat is the audio container requested for a synthesis call.
type ResponseFormat string

const (
	FormatWAV  ResponseFormat = "wav"
	FormatMP3  ResponseFormat = "mp3"
	FormatFLAC ResponseFormat = "flac"
	FormatPCM  ResponseFormat = "pcm"
)

// ContentType returns the MIME type this format is served under.
func (f ResponseFormat) ContentType() string {
	switch f {
	case FormatWAV:
		return "audio/wav"
	case FormatMP3:
		return "audio/mpeg"
	case FormatFLAC:
		return "audio/flac"
	case FormatPCM:
		return "application/octet-stream"
	default:
		return "application/octet-stream"
	}
}

// Valid reports whether f is one of the recognized formats.
func (f ResponseFormat) Valid() bool {
	switch f {
	case FormatWAV, FormatMP3, FormatFLAC, FormatPCM:
		return true
	default:
		return false
	}
}

// SpeechRequest is the decoded body of POST /v1/audio/speech.
type SpeechRequest struct {
	Model          string         `json:"model"`
	Input          string         `json:"input"`
	Voice          string         `json:"voice"`
	ResponseFormat ResponseFormat `json:"response_format"`
	Speed          float64        `json:"speed"`
	Stream         bool           `json:"stream"`
	Language       string         `json:"language"`
}

const (
	MinSpeed = 0.5
	MaxSpeed = 2.0
)

// ApplyDefaults fills zero-value fields with their documented defaults.
// Speed 0 means "unspecified", not "invalid"; format "" defaults to wav.
func (r *SpeechRequest) ApplyDefaults() {
	if r.Speed == 0 {
		r.Speed = 1.0
	}
	if r.ResponseFormat == "" {
		r.ResponseFormat = FormatWAV
	}
	if r.Language == "" {
		r.Language = "en"
	}
}

// HealthStatus is the body of GET /health.
type HealthStatus struct {
	Status string `json:"status"` // "ok" | "degraded"
	Ready  bool   `json:"ready"`
}

// BackendStateSnapshot describes one backend's reported state for GET /status.
type BackendStateSnapshot struct {
	BackendID string `json:"backend_id"`
	State     string `json:"state"`
}

// CacheSnapshot reports occupancy for one of the two cache tiers.
type CacheSnapshot struct {
	Name     string `json:"name"`
	Entries  int    `json:"entries"`
	Capacity int    `json:"capacity"`
}

// CapabilitySnapshot mirrors capability.Capabilities for JSON exposure
// without apitypes depending on the capability package.
type CapabilitySnapshot struct {
	HasANE        bool   `json:"has_ane"`
	HasGPU        bool   `json:"has_gpu"`
	CPUCores      int    `json:"cpu_cores"`
	TotalRAMBytes uint64 `json:"total_ram_bytes"`
}

// StatusResponse is the body of GET /status.
type StatusResponse struct {
	Backends   []BackendStateSnapshot `json:"backends"`
	Caches     []CacheSnapshot        `json:"caches"`
	Capability CapabilitySnapshot     `json:"capability"`
	Counters   map[string]int64       `json:"counters"`
}

// VoicesResponse is the body of GET /voices.
type VoicesResponse struct {
	Voices []string `json:"voices"`
}

// ErrorResponse is the JSON body returned alongside any non-2xx response.
type ErrorResponse struct {
	Error      string `json:"error"`
	Code       string `json:"code"`
	RetryAfter int    `json:"retry_after_seconds,omitempty"`
}
