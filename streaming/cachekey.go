package streaming

import (
	"crypto/sha256"
	"fmt"

	"github.com/kestrelvox/kestrel/apitypes"
	"github.com/kestrelvox/kestrel/g2p"
)

// primerKey produces the §3 CacheKey(Primer) fingerprint: a deterministic
// hash of (primer_text, voice, speed, lang).
func primerKey(text, voice string, speed float64, lang string) string {
	h := sha256.New()
	fmt.Fprintf(h, "text=%s\nvoice=%s\nspeed=%f\nlang=%s\n", text, voice, speed, lang)
	return fmt.Sprintf("%x", h.Sum(nil))
}

// inferenceKey produces the §3 CacheKey(Inference) fingerprint: a
// deterministic hash of (segment_text, voice, speed, lang, phoneme_origin,
// format). origin is included so a fallback-origin result never masks a
// primary-origin one for the same text.
func inferenceKey(text, voice string, speed float64, lang string, origin g2p.Origin, format apitypes.ResponseFormat) string {
	h := sha256.New()
	fmt.Fprintf(h, "text=%s\nvoice=%s\nspeed=%f\nlang=%s\norigin=%s\nformat=%s\n", text, voice, speed, lang, origin, format)
	return fmt.Sprintf("%x", h.Sum(nil))
}
