// Package segment implements the Text Segmenter (§4.7): normalized text is
// split into a primer segment (for fast first-chunk emission) and a series
// of remainder segments packed greedily to a character cap, never
// breaking inside a word.
package segment

import (
	"math"
	"strings"
	"unicode"
)

// Defaults for the §4.7/§4.14 thresholds.
const (
	DefaultShortThreshold = 150
	DefaultPrimerMaxChars = 700
	DefaultSegmentMaxChars = 500
)

// primerFraction is the fixed fraction of text used to size the primer
// segment when the text isn't short enough to be a single primer segment
// outright (midpoint of the documented 10-15% range).
const primerFraction = 0.12

var sentenceTerminators = map[rune]bool{
	'.': true, '!': true, '?': true, '\n': true,
}

// Segment is one unit of text the Streaming Engine routes and synthesizes
// independently.
type Segment struct {
	Index      int
	SourceText string
	IsPrimer   bool
	CharCount  int
}

// Segmenter splits normalized text into Segments per §4.7.
type Segmenter struct {
	ShortThreshold  int
	PrimerMaxChars  int
	SegmentMaxChars int
}

// NewSegmenter builds a Segmenter with the §4.14 defaults.
func NewSegmenter() *Segmenter {
	return &Segmenter{
		ShortThreshold:  DefaultShortThreshold,
		PrimerMaxChars:  DefaultPrimerMaxChars,
		SegmentMaxChars: DefaultSegmentMaxChars,
	}
}

// Split applies the §4.7 rules, top-down, first match wins, and returns
// zero-indexed Segments in order.
func (s *Segmenter) Split(text string) []Segment {
	runes := []rune(text)
	shortThreshold := s.shortThreshold()

	if len(runes) <= shortThreshold {
		return []Segment{{
			Index:      0,
			SourceText: text,
			IsPrimer:   true,
			CharCount:  len(runes),
		}}
	}

	primerEnd := s.primerCut(runes)
	primerText := string(runes[:primerEnd])
	remainder := runes[primerEnd:]

	segments := []Segment{{
		Index:      0,
		SourceText: primerText,
		IsPrimer:   true,
		CharCount:  len([]rune(primerText)),
	}}

	for _, part := range s.packRemainder(remainder) {
		segments = append(segments, Segment{
			Index:      len(segments),
			SourceText: part,
			IsPrimer:   false,
			CharCount:  len([]rune(part)),
		})
	}

	return segments
}

func (s *Segmenter) shortThreshold() int {
	if s.ShortThreshold <= 0 {
		return DefaultShortThreshold
	}
	return s.ShortThreshold
}

func (s *Segmenter) primerMaxChars() int {
	if s.PrimerMaxChars <= 0 {
		return DefaultPrimerMaxChars
	}
	return s.PrimerMaxChars
}

func (s *Segmenter) segmentMaxChars() int {
	if s.SegmentMaxChars <= 0 {
		return DefaultSegmentMaxChars
	}
	return s.SegmentMaxChars
}

// primerCut computes the primer segment's end index per Open Question 2:
// min(ceil(0.12*len(text)), primer_max_chars), then walks back to the
// nearest sentence boundary at or before that cut. If no boundary exists
// before the cut, the raw cut is used (never breaking mid-word is still
// honored by packRemainder for everything after it).
func (s *Segmenter) primerCut(runes []rune) int {
	cutAt := int(math.Ceil(float64(len(runes)) * primerFraction))
	if cutAt > s.primerMaxChars() {
		cutAt = s.primerMaxChars()
	}
	if cutAt >= len(runes) {
		return len(runes)
	}
	if cutAt < 1 {
		cutAt = 1
	}

	for i := cutAt; i >= 0; i-- {
		if sentenceTerminators[runes[i]] {
			return i + 1
		}
	}

	return wordSafeCut(runes, cutAt)
}

// packRemainder segments the text after the primer on sentence
// terminators, greedily packing until the next boundary would exceed
// segmentMaxChars, never breaking inside a word.
func (s *Segmenter) packRemainder(runes []rune) []string {
	if len(runes) == 0 {
		return nil
	}

	maxChars := s.segmentMaxChars()
	var parts []string
	start := 0

	for start < len(runes) {
		end := findNextBoundary(runes, start, maxChars)
		parts = append(parts, string(runes[start:end]))
		start = end
	}

	return parts
}

// findNextBoundary returns the exclusive end index of the next segment
// starting at start, preferring the furthest sentence terminator that
// keeps the segment within maxChars, and otherwise the furthest word
// boundary within maxChars.
func findNextBoundary(runes []rune, start, maxChars int) int {
	limit := start + maxChars
	if limit >= len(runes) {
		return len(runes)
	}

	lastTerminator := -1
	for i := start; i < limit; i++ {
		if sentenceTerminators[runes[i]] {
			lastTerminator = i
		}
	}
	if lastTerminator >= 0 {
		return lastTerminator + 1
	}

	return wordSafeCut(runes[start:], limit-start) + start
}

// wordSafeCut returns the largest index <= maxIdx that doesn't split a
// word, searching backward from maxIdx for whitespace. If no whitespace
// exists before maxIdx, it hard-cuts at maxIdx rather than emitting an
// unbounded segment.
func wordSafeCut(runes []rune, maxIdx int) int {
	if maxIdx >= len(runes) {
		return len(runes)
	}
	for i := maxIdx; i > 0; i-- {
		if unicode.IsSpace(runes[i]) {
			return i
		}
	}
	return maxIdx
}

// Normalize performs the text normalization referenced by §3/§4.7 ahead of
// segmentation: collapsing internal whitespace runs to single spaces,
// trimming the result, while preserving paragraph breaks as single \n.
func Normalize(text string) string {
	text = strings.ReplaceAll(text, "\r\n", "\n")
	text = strings.ReplaceAll(text, "\r", "\n")

	var b strings.Builder
	inRun := false
	runHasNewline := false
	flushRun := func() {
		if !inRun {
			return
		}
		if runHasNewline {
			b.WriteRune('\n')
		} else {
			b.WriteRune(' ')
		}
		inRun = false
		runHasNewline = false
	}

	for _, r := range text {
		if unicode.IsSpace(r) {
			inRun = true
			if r == '\n' {
				runHasNewline = true
			}
			continue
		}
		flushRun()
		b.WriteRune(r)
	}
	flushRun()

	return strings.TrimSpace(b.String())
}
