package segment

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSplit_ShortTextIsSinglePrimerSegment(t *testing.T) {
	s := NewSegmenter()
	segs := s.Split("Hello, world. This is short.")
	require.Len(t, segs, 1)
	assert.True(t, segs[0].IsPrimer)
	assert.Equal(t, 0, segs[0].Index)
}

func TestSplit_ExactlyAtShortThresholdIsSinglePrimer(t *testing.T) {
	s := NewSegmenter()
	text := strings.Repeat("a", s.shortThreshold())
	segs := s.Split(text)
	require.Len(t, segs, 1)
	assert.True(t, segs[0].IsPrimer)
}

func TestSplit_LongTextProducesPrimerAndRemainder(t *testing.T) {
	s := NewSegmenter()
	sentence := "This is a reasonably long sentence that adds some bulk. "
	text := strings.Repeat(sentence, 20)

	segs := s.Split(text)
	require.True(t, len(segs) > 1)
	assert.True(t, segs[0].IsPrimer)
	for i, seg := range segs[1:] {
		assert.False(t, seg.IsPrimer, "segment %d should not be primer", i+1)
	}

	// indexes are contiguous starting at 0
	for i, seg := range segs {
		assert.Equal(t, i, seg.Index)
	}
}

func TestSplit_PrimerRespectsMaxChars(t *testing.T) {
	s := NewSegmenter()
	s.PrimerMaxChars = 50
	text := strings.Repeat("word ", 200) // 1000 chars, no sentence terminators
	segs := s.Split(text)
	require.True(t, len(segs) > 1)
	assert.LessOrEqual(t, segs[0].CharCount, 51) // cap + possible word-safe cut slack
}

func TestSplit_NeverBreaksInsideWord(t *testing.T) {
	s := NewSegmenter()
	s.SegmentMaxChars = 20
	s.ShortThreshold = 5
	text := "alpha beta gamma delta epsilon zeta eta theta iota kappa"
	segs := s.Split(text)
	words := strings.Fields(text)
	for _, seg := range segs {
		trimmed := strings.TrimSpace(seg.SourceText)
		assert.False(t, strings.HasPrefix(trimmed, " "))
		// no segment boundary should split a word: every word in a
		// segment is a whole word of the original text.
		for _, w := range strings.Fields(seg.SourceText) {
			assert.Contains(t, words, w)
		}
	}
	var rebuilt strings.Builder
	for _, seg := range segs {
		rebuilt.WriteString(seg.SourceText)
	}
	assert.Equal(t, text, rebuilt.String())
}

func TestSplit_PreservesFullTextWhenConcatenated(t *testing.T) {
	s := NewSegmenter()
	sentence := "Sentence number one. Sentence number two! Sentence number three? "
	text := strings.Repeat(sentence, 15)
	segs := s.Split(text)

	var rebuilt strings.Builder
	for _, seg := range segs {
		rebuilt.WriteString(seg.SourceText)
	}
	assert.Equal(t, text, rebuilt.String())
}

func TestSplit_RemainderRespectsSegmentMaxChars(t *testing.T) {
	s := NewSegmenter()
	s.SegmentMaxChars = 30
	text := strings.Repeat("no terminators here just words ", 30)
	segs := s.Split(text)
	for _, seg := range segs[1:] {
		assert.LessOrEqual(t, seg.CharCount, 31)
	}
}

func TestNormalize_CollapsesWhitespace(t *testing.T) {
	assert.Equal(t, "a b", Normalize("a    b"))
}

func TestNormalize_PreservesParagraphBreaks(t *testing.T) {
	assert.Equal(t, "a\nb", Normalize("a\n\nb\n\n"))
}

func TestNormalize_TrimsOuterWhitespace(t *testing.T) {
	assert.Equal(t, "a", Normalize("   a   "))
}
