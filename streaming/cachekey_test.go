package streaming

import (
	"testing"

	"github.com/kestrelvox/kestrel/apitypes"
	"github.com/kestrelvox/kestrel/g2p"
	"github.com/stretchr/testify/assert"
)

func TestPrimerKey_DeterministicForSameInputs(t *testing.T) {
	a := primerKey("hello", "af_heart", 1.0, "en-us")
	b := primerKey("hello", "af_heart", 1.0, "en-us")
	assert.Equal(t, a, b)
}

func TestPrimerKey_DiffersOnAnyField(t *testing.T) {
	base := primerKey("hello", "af_heart", 1.0, "en-us")
	assert.NotEqual(t, base, primerKey("goodbye", "af_heart", 1.0, "en-us"))
	assert.NotEqual(t, base, primerKey("hello", "bf_other", 1.0, "en-us"))
	assert.NotEqual(t, base, primerKey("hello", "af_heart", 1.2, "en-us"))
	assert.NotEqual(t, base, primerKey("hello", "af_heart", 1.0, "fr-fr"))
}

func TestInferenceKey_DeterministicForSameInputs(t *testing.T) {
	a := inferenceKey("hello", "af_heart", 1.0, "en-us", g2p.OriginPrimary, apitypes.FormatWAV)
	b := inferenceKey("hello", "af_heart", 1.0, "en-us", g2p.OriginPrimary, apitypes.FormatWAV)
	assert.Equal(t, a, b)
}

func TestInferenceKey_DiffersOnOriginOrFormat(t *testing.T) {
	base := inferenceKey("hello", "af_heart", 1.0, "en-us", g2p.OriginPrimary, apitypes.FormatWAV)
	assert.NotEqual(t, base, inferenceKey("hello", "af_heart", 1.0, "en-us", g2p.OriginFallback, apitypes.FormatWAV))
	assert.NotEqual(t, base, inferenceKey("hello", "af_heart", 1.0, "en-us", g2p.OriginPrimary, apitypes.FormatPCM))
}

func TestInferenceKey_DiffersFromPrimerKeyEvenWithSameBaseFields(t *testing.T) {
	p := primerKey("hello", "af_heart", 1.0, "en-us")
	i := inferenceKey("hello", "af_heart", 1.0, "en-us", g2p.OriginPrimary, apitypes.FormatWAV)
	assert.NotEqual(t, p, i)
}
