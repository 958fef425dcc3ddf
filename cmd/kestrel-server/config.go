package main

import (
	"time"
)

// Config is the process-level configuration for kestrel-server (§4.14,
// §6.4). It is loaded with config.LoadFromEnv under the KESTREL_ prefix,
// or from a JSON file via -config, and validated before any component is
// constructed.
type Config struct {
	ListenAddr string `json:"listen_addr" default:"0.0.0.0:8080" required:"true"`

	ModelDirANE string `json:"model_dir_ane" default:""`
	ModelDirGPU string `json:"model_dir_gpu" default:""`
	ModelDirCPU string `json:"model_dir_cpu" default:"./models/cpu.onnx" required:"true"`

	ShortThreshold                 int `json:"short_threshold" default:"150" min:"1"`
	MaxConcurrentANE               int `json:"max_concurrent_ane" default:"1" min:"1"`
	MaxConcurrentGPU               int `json:"max_concurrent_gpu" default:"1" min:"1"`
	MaxConcurrentCPU               int `json:"max_concurrent_cpu" default:"4" min:"1"`
	TransientRetriesBeforeDegraded int `json:"transient_retries_before_degraded" default:"1" min:"1"`

	PrimerMaxChars   int `json:"primer_max_chars" default:"700" min:"1"`
	SegmentMaxChars  int `json:"segment_max_chars" default:"500" min:"1"`
	MaxPhonemeLength int `json:"max_phoneme_length" default:"512" min:"1"`

	// PrimaryG2PBudgetMs bounds the primary G2P backend's wall-clock
	// budget before falling back (§4.6, §4.14).
	PrimaryG2PBudgetMs int `json:"primary_g2p_budget_ms" default:"2000" min:"1"`
	G2PCacheCapacity   int `json:"g2p_cache_capacity" default:"256" min:"0"`
	G2PCacheTTLMs      int `json:"g2p_cache_ttl_ms" default:"3600000" min:"0"`

	PrimerCacheCapacity    int `json:"primer_cache_capacity" default:"64" min:"0"`
	InferenceCacheCapacity int `json:"inference_cache_capacity" default:"1024" min:"0"`
	InferenceCacheTTLMs    int `json:"inference_cache_ttl_ms" default:"3600000" min:"0"`

	ChunkTargetMs int `json:"chunk_target_ms" default:"200" min:"1"`
	MaxTextLen    int `json:"max_text_len" default:"5000" min:"1"`

	KeepAliveEnabled          bool `json:"keep_alive_enabled" default:"true"`
	KeepAliveIntervalSec      int  `json:"keep_alive_interval_sec" default:"300" min:"1"`
	KeepAliveIdleThresholdSec int  `json:"keep_alive_idle_threshold_sec" default:"120" min:"1"`

	RequestTimeoutSec     int `json:"request_timeout_sec" default:"60" min:"1"`
	MaxConcurrentRequests int `json:"max_concurrent_requests" default:"32" min:"0"`

	LogLevel string `json:"log_level" default:"info"`
	LogJSON  bool   `json:"log_json" default:"false"`

	// Voices only loads from a JSON config file; config.LoadFromEnv has no
	// slice conversion, so a KESTREL_VOICES env var would fail to merge.
	// Leave unset (or "" effectively) to disable voice-set validation.
	Voices []string `json:"voices"`
}

func (c *Config) requestTimeout() time.Duration {
	return time.Duration(c.RequestTimeoutSec) * time.Second
}

func (c *Config) keepAliveInterval() time.Duration {
	return time.Duration(c.KeepAliveIntervalSec) * time.Second
}

func (c *Config) keepAliveIdleThreshold() time.Duration {
	return time.Duration(c.KeepAliveIdleThresholdSec) * time.Second
}

func (c *Config) inferenceCacheTTL() time.Duration {
	return time.Duration(c.InferenceCacheTTLMs) * time.Millisecond
}

func (c *Config) g2pCacheTTL() time.Duration {
	return time.Duration(c.G2PCacheTTLMs) * time.Millisecond
}
