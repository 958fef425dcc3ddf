// Package g2p implements the grapheme-to-phoneme stage (§4.6): text
// sanitization, a primary backend with a bounded budget, a fallback
// backend, and a character-tokenization last resort, with phoneme-length
// truncation and fallback-origin metrics.
//
// No phonemizer, G2P, or grapheme library appears anywhere in the
// retrieved reference pack, so this package ships no phonemizer backend of
// its own: Primary and Fallback are supplied by the caller, and a Stage
// with neither set always ends in character tokenization.
package g2p

import (
	"context"
	"regexp"
	"strings"
	"time"
	"unicode"

	"github.com/kestrelvox/kestrel/o11y"
	"github.com/kestrelvox/kestrel/resilience"
)

// Origin identifies which tier of the G2P chain produced a Phonemes value.
type Origin string

const (
	OriginPrimary           Origin = "primary"
	OriginFallback          Origin = "fallback"
	OriginCharacterFallback Origin = "character_fallback"
)

// Phonemes is the output of phonemizing one segment of text.
type Phonemes struct {
	Tokens         []string
	WordBoundaries []int // exclusive end index of each word, ascending
	Origin         Origin
	Truncated      bool
}

// Backend converts sanitized, canonicalized text into per-word phoneme
// token groups. A word with no recognized phonemes returns an empty token
// slice for that word, not an error.
type Backend interface {
	Phonemize(ctx context.Context, text, lang string) ([][]string, error)
}

// BackendFunc adapts a plain function to the Backend interface.
type BackendFunc func(ctx context.Context, text, lang string) ([][]string, error)

func (f BackendFunc) Phonemize(ctx context.Context, text, lang string) ([][]string, error) {
	return f(ctx, text, lang)
}

// Cache is the minimal interface the phoneme micro-cache must satisfy;
// cache.Cache (with `any` values) implements it directly.
type Cache interface {
	Get(ctx context.Context, key string) (any, bool, error)
	Set(ctx context.Context, key string, value any, ttl time.Duration) error
}

// Stage runs the full G2P algorithm described in §4.6.
type Stage struct {
	Primary          Backend
	Fallback         Backend
	Cache            Cache // optional; nil disables the micro-cache
	CacheTTL         time.Duration
	PrimaryBudget    time.Duration // bounded wall-clock budget for the primary backend
	MaxPhonemeLength int

	// PrimaryBreaker, if set, short-circuits straight to Fallback while
	// open instead of paying PrimaryBudget's full timeout on every call
	// against a primary backend that's known to be down.
	PrimaryBreaker *resilience.CircuitBreaker
}

// NewStage builds a Stage with the §4.14 defaults applied for zero fields.
func NewStage(primary, fallback Backend) *Stage {
	return &Stage{
		Primary:          primary,
		Fallback:         fallback,
		PrimaryBudget:    2 * time.Second,
		MaxPhonemeLength: 512,
	}
}

// Phonemize runs the sanitize -> cache -> primary -> fallback ->
// character-fallback chain. It never returns an error: failure degenerates
// to character tokenization rather than surfacing to the caller.
func (s *Stage) Phonemize(ctx context.Context, text, lang string) Phonemes {
	sanitized := Sanitize(text)
	canonicalLang := CanonicalizeLanguage(lang)

	key := cacheKey(sanitized, canonicalLang)
	if s.Cache != nil {
		if v, ok, err := s.Cache.Get(ctx, key); err == nil && ok {
			if p, ok := v.(Phonemes); ok {
				return p
			}
		}
	}

	var words [][]string
	var origin Origin
	var err error

	if s.Primary != nil && !s.primaryBreakerOpen() {
		words, err = s.runWithBudget(ctx, s.Primary, sanitized, canonicalLang)
		s.reportPrimaryResult(err)
		if err == nil {
			origin = OriginPrimary
		}
	} else {
		err = errNoBackend
	}

	if err != nil && s.Fallback != nil {
		words, err = s.runWithBudget(ctx, s.Fallback, sanitized, canonicalLang)
		if err == nil {
			origin = OriginFallback
		}
	}

	var phonemes Phonemes
	if err != nil {
		words = characterFallbackWords(sanitized)
		origin = OriginCharacterFallback
	}

	phonemes = flatten(words, origin)
	phonemes = truncate(phonemes, s.maxPhonemeLength())

	if origin != OriginPrimary {
		o11y.FallbackCounts(ctx, 1, 0)
	}

	if s.Cache != nil {
		_ = s.Cache.Set(ctx, key, phonemes, s.CacheTTL)
	}

	return phonemes
}

func (s *Stage) primaryBreakerOpen() bool {
	return s.PrimaryBreaker != nil && s.PrimaryBreaker.State() == resilience.StateOpen
}

// reportPrimaryResult feeds the primary backend's outcome back into
// PrimaryBreaker so a run of failures trips it and spares later calls the
// full PrimaryBudget wait.
func (s *Stage) reportPrimaryResult(err error) {
	if s.PrimaryBreaker == nil {
		return
	}
	_, _ = s.PrimaryBreaker.Execute(context.Background(), func(context.Context) (any, error) {
		return nil, err
	})
}

func (s *Stage) maxPhonemeLength() int {
	if s.MaxPhonemeLength <= 0 {
		return 512
	}
	return s.MaxPhonemeLength
}

// runWithBudget calls backend.Phonemize bounded by PrimaryBudget, treating
// both a returned error and budget exhaustion as failure.
func (s *Stage) runWithBudget(ctx context.Context, backend Backend, text, lang string) ([][]string, error) {
	budget := s.PrimaryBudget
	if budget <= 0 {
		return backend.Phonemize(ctx, text, lang)
	}

	budgetCtx, cancel := context.WithTimeout(ctx, budget)
	defer cancel()

	type res struct {
		words [][]string
		err   error
	}
	done := make(chan res, 1)
	go func() {
		words, err := backend.Phonemize(budgetCtx, text, lang)
		done <- res{words, err}
	}()

	select {
	case r := <-done:
		return r.words, r.err
	case <-budgetCtx.Done():
		return nil, budgetCtx.Err()
	}
}

var errNoBackend = &noBackendError{}

type noBackendError struct{}

func (*noBackendError) Error() string { return "g2p: no backend configured" }

var multiNewline = regexp.MustCompile(`\n{2,}`)

// Sanitize normalizes line endings to \n, collapses runs of 2+ newlines
// into one, and strips code points outside the printable+whitespace set.
// Sanitize is idempotent: Sanitize(Sanitize(s)) == Sanitize(s).
func Sanitize(text string) string {
	text = strings.ReplaceAll(text, "\r\n", "\n")
	text = strings.ReplaceAll(text, "\r", "\n")
	text = multiNewline.ReplaceAllString(text, "\n")

	var b strings.Builder
	b.Grow(len(text))
	for _, r := range text {
		if unicode.IsPrint(r) || r == '\n' || r == '\t' {
			b.WriteRune(r)
		}
	}
	return b.String()
}

// languageDefaults maps a bare primary-subtag to its canonical region tag.
var languageDefaults = map[string]string{
	"en": "en-us",
	"es": "es-es",
	"fr": "fr-fr",
	"de": "de-de",
	"it": "it-it",
	"pt": "pt-br",
	"ja": "ja-jp",
	"zh": "zh-cn",
}

// CanonicalizeLanguage maps a bare language subtag to its canonical
// region-qualified tag (e.g. "en" -> "en-us"). Tags that already carry a
// region, or tags with no known default, pass through lowercased.
func CanonicalizeLanguage(lang string) string {
	lang = strings.ToLower(strings.TrimSpace(lang))
	if lang == "" {
		return "en-us"
	}
	if strings.Contains(lang, "-") {
		return lang
	}
	if canonical, ok := languageDefaults[lang]; ok {
		return canonical
	}
	return lang
}

func cacheKey(text, lang string) string {
	return lang + "\x1f" + text
}

// characterFallbackWords tokenizes text into one "word" per rune, treating
// whitespace runs as word separators, for the last-resort character
// tokenization path.
func characterFallbackWords(text string) [][]string {
	var words [][]string
	var current []string
	for _, r := range text {
		if unicode.IsSpace(r) {
			if len(current) > 0 {
				words = append(words, current)
				current = nil
			}
			continue
		}
		current = append(current, string(r))
	}
	if len(current) > 0 {
		words = append(words, current)
	}
	return words
}

// flatten concatenates per-word token groups into a single Phonemes value
// with cumulative word boundaries.
func flatten(words [][]string, origin Origin) Phonemes {
	var p Phonemes
	p.Origin = origin
	cursor := 0
	for _, word := range words {
		p.Tokens = append(p.Tokens, word...)
		cursor += len(word)
		p.WordBoundaries = append(p.WordBoundaries, cursor)
	}
	return p
}

// truncate enforces max_phoneme_length, cutting only at a word boundary
// that falls within the last 15% of the cap. If no such boundary exists,
// it hard-truncates at the cap.
func truncate(p Phonemes, maxLen int) Phonemes {
	if len(p.Tokens) <= maxLen {
		return p
	}

	windowStart := maxLen - (maxLen*15)/100

	cut := -1
	for _, b := range p.WordBoundaries {
		if b > maxLen {
			break
		}
		if b >= windowStart {
			cut = b
		}
	}

	if cut < 0 {
		cut = maxLen
	}

	p.Tokens = p.Tokens[:cut]
	newBoundaries := make([]int, 0, len(p.WordBoundaries))
	for _, b := range p.WordBoundaries {
		if b <= cut {
			newBoundaries = append(newBoundaries, b)
		}
	}
	p.WordBoundaries = newBoundaries
	p.Truncated = true
	return p
}
