package streaming

import (
	"github.com/kestrelvox/kestrel/apitypes"
	"github.com/kestrelvox/kestrel/core"
	"github.com/kestrelvox/kestrel/g2p"
)

// DefaultMaxTextLen is the §6.1 413 threshold when no explicit
// max_text_len is configured.
const DefaultMaxTextLen = 5000

// Request is the §3 TTSRequest entity: a canonicalized, validated,
// immutable view of a SpeechRequest. request_id is assigned separately when
// the Streaming Engine opens the request's RequestTimeline (§4.10 step 1);
// Request itself is never mutated after NewRequest returns.
type Request struct {
	Text      string
	Voice     string
	Speed     float64
	Language  string
	Format    apitypes.ResponseFormat
	Streaming bool
}

// ValidationError reports a rejected SpeechRequest. TooLong distinguishes
// the §6.1 413 case (text exceeds max_text_len) from the generic 400 case
// (empty text, empty or unknown voice, unknown format, out-of-range speed).
type ValidationError struct {
	*core.Error
	TooLong bool
}

func invalidRequest(msg string) error {
	return &ValidationError{Error: core.NewError("streaming.NewRequest", core.ErrInvalidInput, msg, nil)}
}

// NewRequest validates and canonicalizes a decoded SpeechRequest into a
// Request. voices is the recognized voice-identifier set (§3); a nil or
// empty set disables voice validation.
func NewRequest(r apitypes.SpeechRequest, voices map[string]bool, maxTextLen int) (*Request, error) {
	r.ApplyDefaults()

	if r.Input == "" {
		return nil, invalidRequest("text must not be empty")
	}
	if maxTextLen <= 0 {
		maxTextLen = DefaultMaxTextLen
	}
	if len(r.Input) > maxTextLen {
		return nil, &ValidationError{
			Error:   core.NewError("streaming.NewRequest", core.ErrInvalidInput, "text exceeds max_text_len", nil),
			TooLong: true,
		}
	}
	if r.Speed < apitypes.MinSpeed || r.Speed > apitypes.MaxSpeed {
		return nil, invalidRequest("speed out of range")
	}
	if !r.ResponseFormat.Valid() {
		return nil, invalidRequest("unrecognized response_format")
	}
	if r.Voice == "" {
		return nil, invalidRequest("voice must not be empty")
	}
	if len(voices) > 0 && !voices[r.Voice] {
		return nil, invalidRequest("unrecognized voice")
	}

	return &Request{
		Text:      r.Input,
		Voice:     r.Voice,
		Speed:     r.Speed,
		Language:  g2p.CanonicalizeLanguage(r.Language),
		Format:    r.ResponseFormat,
		Streaming: r.Stream,
	}, nil
}
