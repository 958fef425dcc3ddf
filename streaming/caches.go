package streaming

import (
	"context"
	"time"

	"github.com/kestrelvox/kestrel/apitypes"
	"github.com/kestrelvox/kestrel/audio"
	"github.com/kestrelvox/kestrel/cache"
	"github.com/kestrelvox/kestrel/g2p"

	_ "github.com/kestrelvox/kestrel/cache/providers/inmemory"
)

// DefaultPrimerCacheCapacity is the §4.8 default entry count.
const DefaultPrimerCacheCapacity = 64

// DefaultInferenceCacheCapacity is the §4.9 default entry count.
const DefaultInferenceCacheCapacity = 1024

// DefaultInferenceCacheTTL is the §4.9 default entry lifetime.
const DefaultInferenceCacheTTL = time.Hour

// PrimerCache is the §4.8 Primer Micro-Cache: raw PCM bytes for a fully
// encoded primer segment, keyed by (primer_text, voice, speed, lang). A hit
// lets the Streaming Engine emit audio before any G2P or inference work
// begins.
type PrimerCache struct {
	backend  cache.Cache
	capacity int
}

// NewPrimerCache builds a PrimerCache backed by the inmemory LRU provider
// with the given entry capacity and no TTL (primer audio for a given text
// never goes stale the way a model-dependent inference result might, so
// entries are only evicted by LRU pressure).
func NewPrimerCache(capacity int) (*PrimerCache, error) {
	if capacity <= 0 {
		capacity = DefaultPrimerCacheCapacity
	}
	c, err := cache.New("inmemory", cache.Config{MaxSize: capacity})
	if err != nil {
		return nil, err
	}
	return &PrimerCache{backend: c, capacity: capacity}, nil
}

// Stats reports this cache's current occupancy for GET /status. entries is
// 0 if the underlying provider doesn't expose a length.
func (p *PrimerCache) Stats() (entries, capacity int) {
	return cacheLen(p.backend), p.capacity
}

// Get returns the cached PCM bytes for (text, voice, speed, lang), if present.
func (p *PrimerCache) Get(ctx context.Context, text, voice string, speed float64, lang string) ([]byte, bool) {
	v, ok, err := p.backend.Get(ctx, primerKey(text, voice, speed, lang))
	if err != nil || !ok {
		return nil, false
	}
	b, ok := v.([]byte)
	return b, ok
}

// Put stores pcm under (text, voice, speed, lang).
func (p *PrimerCache) Put(ctx context.Context, text, voice string, speed float64, lang string, pcm []byte) {
	_ = p.backend.Set(ctx, primerKey(text, voice, speed, lang), pcm, 0)
}

// InferenceCache is the §4.9 Inference Cache: complete, already-validated
// AudioBuffers keyed per §3's CacheKey(Inference), bounded by entry count
// and TTL.
type InferenceCache struct {
	backend  cache.Cache
	ttl      time.Duration
	capacity int
}

// NewInferenceCache builds an InferenceCache backed by the inmemory LRU
// provider with the given capacity and TTL. Zero values fall back to the
// §4.9 defaults.
func NewInferenceCache(capacity int, ttl time.Duration) (*InferenceCache, error) {
	if capacity <= 0 {
		capacity = DefaultInferenceCacheCapacity
	}
	if ttl <= 0 {
		ttl = DefaultInferenceCacheTTL
	}
	c, err := cache.New("inmemory", cache.Config{MaxSize: capacity, TTL: ttl})
	if err != nil {
		return nil, err
	}
	return &InferenceCache{backend: c, ttl: ttl, capacity: capacity}, nil
}

// Stats reports this cache's current occupancy for GET /status. entries is
// 0 if the underlying provider doesn't expose a length.
func (c *InferenceCache) Stats() (entries, capacity int) {
	return cacheLen(c.backend), c.capacity
}

// Get returns the cached AudioBuffer for the given segment parameters, if
// present. origin must match the resolved G2P origin of the current
// request so a fallback-origin result never masks a primary-origin one
// (§3 invariant 2).
func (c *InferenceCache) Get(ctx context.Context, text, voice string, speed float64, lang string, origin g2p.Origin, format apitypes.ResponseFormat) (*audio.Buffer, bool) {
	v, ok, err := c.backend.Get(ctx, inferenceKey(text, voice, speed, lang, origin, format))
	if err != nil || !ok {
		return nil, false
	}
	buf, ok := v.(*audio.Buffer)
	return buf, ok
}

// Put stores buf for the given segment parameters, keyed with its origin.
// The Streaming Engine must only call this after buf has passed
// audio.Validate without rejection (§4.9 invariant: never returns audio
// deemed corrupt).
func (c *InferenceCache) Put(ctx context.Context, text, voice string, speed float64, lang string, origin g2p.Origin, format apitypes.ResponseFormat, buf *audio.Buffer) {
	_ = c.backend.Set(ctx, inferenceKey(text, voice, speed, lang, origin, format), buf, c.ttl)
}

// lenner is satisfied by cache providers that track their own size, such as
// the inmemory LRU provider. Providers that don't implement it report 0
// entries rather than forcing a Stats error.
type lenner interface {
	Len() int
}

func cacheLen(c cache.Cache) int {
	if l, ok := c.(lenner); ok {
		return l.Len()
	}
	return 0
}
