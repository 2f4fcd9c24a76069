// Package config provides the configuration schema and loader for the
// AdaTutor voice tutoring server.
package config

import "time"

// LogLevel controls log verbosity for the server.
type LogLevel string

const (
	LogDebug LogLevel = "debug"
	LogInfo  LogLevel = "info"
	LogWarn  LogLevel = "warn"
	LogError LogLevel = "error"
)

// IsValid reports whether l is a recognised log level.
func (l LogLevel) IsValid() bool {
	switch l {
	case LogDebug, LogInfo, LogWarn, LogError:
		return true
	}
	return false
}

// Config is the root configuration structure for the server.
// It is typically loaded from a YAML file using [Load] or [LoadFromReader],
// then overlaid with environment variables via [ApplyEnv].
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Providers ProvidersConfig `yaml:"providers"`
	Tutor     TutorConfig     `yaml:"tutor"`
	Board     BoardConfig     `yaml:"board"`
	Timing    TimingConfig    `yaml:"timing"`
	Latex     LatexConfig     `yaml:"latex"`
}

// ServerConfig holds network and logging settings.
type ServerConfig struct {
	// ListenAddr is the TCP address the server listens on (e.g., ":8000").
	ListenAddr string `yaml:"listen_addr"`

	// LogLevel controls verbosity.
	LogLevel LogLevel `yaml:"log_level"`

	// AllowedOrigins lists origins permitted for CORS and WebSocket
	// upgrades. Empty allows any origin (development default).
	AllowedOrigins []string `yaml:"allowed_origins"`

	// TLS configures TLS for the server. When nil, the server runs plain HTTP.
	TLS *TLSConfig `yaml:"tls"`
}

// TLSConfig holds TLS certificate paths for enabling HTTPS.
type TLSConfig struct {
	// CertFile is the path to the PEM-encoded TLS certificate.
	CertFile string `yaml:"cert_file"`

	// KeyFile is the path to the PEM-encoded TLS private key.
	KeyFile string `yaml:"key_file"`
}

// ProvidersConfig declares which provider implementation to use for each
// pipeline stage.
type ProvidersConfig struct {
	LLM ProviderEntry `yaml:"llm"`
	STT ProviderEntry `yaml:"stt"`
	TTS ProviderEntry `yaml:"tts"`
}

// ProviderEntry is the common configuration block shared by all provider
// kinds.
type ProviderEntry struct {
	// Name selects the provider implementation (e.g., "anthropic", "deepgram").
	Name string `yaml:"name"`

	// APIKey is the authentication key for the provider's API if any.
	// Usually injected from the environment rather than the YAML file.
	APIKey string `yaml:"api_key"`

	// BaseURL overrides the provider's default API endpoint.
	BaseURL string `yaml:"base_url"`

	// Model selects a specific model within the provider
	// (e.g., "claude-sonnet-4-5", "nova-2", "eleven_flash_v2_5").
	Model string `yaml:"model"`
}

// TutorConfig describes the tutor persona and generation parameters.
type TutorConfig struct {
	// Name is the tutor's display name used in the system prompt.
	Name string `yaml:"name"`

	// VoiceID is the TTS voice identifier.
	VoiceID string `yaml:"voice_id"`

	// Temperature is passed to the LLM. Zero uses the provider default.
	Temperature float64 `yaml:"temperature"`

	// MaxTokens caps the LLM response length. Zero uses the provider default.
	MaxTokens int `yaml:"max_tokens"`
}

// BoardConfig holds whiteboard layout settings.
type BoardConfig struct {
	// WriteX, when positive, forces all tutor writes to this x-coordinate.
	WriteX float64 `yaml:"write_x"`
}

// TimingConfig holds the barge-in, echo-gating, and proactive-scheduler
// windows. All values are in seconds; zero means "use the default".
type TimingConfig struct {
	// EchoCooldownSec is the self-transcription suppression window after
	// TTS ends.
	EchoCooldownSec float64 `yaml:"echo_cooldown_sec"`

	// AutoBargeDebounceSec is the minimum interval between auto-barges.
	AutoBargeDebounceSec float64 `yaml:"auto_barge_debounce_sec"`

	// BargeStartGuardSec suppresses SpeechStarted right after TTS begins.
	BargeStartGuardSec float64 `yaml:"barge_start_guard_sec"`

	// AutoBargeConfirmWindowSec is the maximum delay for an interim
	// transcript to confirm a SpeechStarted event.
	AutoBargeConfirmWindowSec float64 `yaml:"auto_barge_confirm_window_sec"`

	// STTMergeWindowSec coalesces consecutive final transcripts arriving
	// within this window into one utterance.
	STTMergeWindowSec float64 `yaml:"stt_merge_window_sec"`

	// SilenceThresholdSec is how long both parties must be silent before a
	// proactive board check may fire.
	SilenceThresholdSec float64 `yaml:"silence_threshold_sec"`

	// MinProactiveIntervalSec is the minimum spacing between proactive
	// checks.
	MinProactiveIntervalSec float64 `yaml:"min_proactive_interval_sec"`
}

// LatexConfig holds LaTeX rendering settings.
type LatexConfig struct {
	// RenderURL is the MathJax microservice endpoint.
	RenderURL string `yaml:"render_url"`

	// TargetHeightPx is the base equation height for adaptive sizing.
	TargetHeightPx float64 `yaml:"target_height_px"`

	// TargetHeightMinPx and TargetHeightMaxPx bound the adaptive height.
	TargetHeightMinPx float64 `yaml:"target_height_min_px"`
	TargetHeightMaxPx float64 `yaml:"target_height_max_px"`
}

// Defaults mirrored by [ApplyDefaults].
const (
	DefaultListenAddr = ":8000"

	DefaultEchoCooldownSec           = 1.2
	DefaultAutoBargeDebounceSec      = 0.5
	DefaultBargeStartGuardSec        = 0.25
	DefaultAutoBargeConfirmWindowSec = 1.5
	DefaultSTTMergeWindowSec         = 0.8
	DefaultSilenceThresholdSec       = 6.0
	DefaultMinProactiveIntervalSec   = 15.0

	DefaultLatexRenderURL        = "http://localhost:3001/mathjax"
	DefaultLatexTargetHeightPx   = 34.0
	DefaultLatexTargetHeightMin  = 28.0
	DefaultLatexTargetHeightMax  = 44.0
)

// ApplyDefaults fills zero-valued fields with their defaults.
func (c *Config) ApplyDefaults() {
	if c.Server.ListenAddr == "" {
		c.Server.ListenAddr = DefaultListenAddr
	}
	if c.Server.LogLevel == "" {
		c.Server.LogLevel = LogInfo
	}
	if c.Providers.LLM.Name == "" {
		c.Providers.LLM.Name = "anthropic"
	}
	if c.Providers.STT.Name == "" {
		c.Providers.STT.Name = "deepgram"
	}
	if c.Providers.TTS.Name == "" {
		c.Providers.TTS.Name = "elevenlabs"
	}
	if c.Timing.EchoCooldownSec == 0 {
		c.Timing.EchoCooldownSec = DefaultEchoCooldownSec
	}
	if c.Timing.AutoBargeDebounceSec == 0 {
		c.Timing.AutoBargeDebounceSec = DefaultAutoBargeDebounceSec
	}
	if c.Timing.BargeStartGuardSec == 0 {
		c.Timing.BargeStartGuardSec = DefaultBargeStartGuardSec
	}
	if c.Timing.AutoBargeConfirmWindowSec == 0 {
		c.Timing.AutoBargeConfirmWindowSec = DefaultAutoBargeConfirmWindowSec
	}
	if c.Timing.STTMergeWindowSec == 0 {
		c.Timing.STTMergeWindowSec = DefaultSTTMergeWindowSec
	}
	if c.Timing.SilenceThresholdSec == 0 {
		c.Timing.SilenceThresholdSec = DefaultSilenceThresholdSec
	}
	if c.Timing.MinProactiveIntervalSec == 0 {
		c.Timing.MinProactiveIntervalSec = DefaultMinProactiveIntervalSec
	}
	if c.Latex.RenderURL == "" {
		c.Latex.RenderURL = DefaultLatexRenderURL
	}
	if c.Latex.TargetHeightPx == 0 {
		c.Latex.TargetHeightPx = DefaultLatexTargetHeightPx
	}
	if c.Latex.TargetHeightMinPx == 0 {
		c.Latex.TargetHeightMinPx = DefaultLatexTargetHeightMin
	}
	if c.Latex.TargetHeightMaxPx == 0 {
		c.Latex.TargetHeightMaxPx = DefaultLatexTargetHeightMax
	}
}

// Duration helpers for the timing windows.

func (t TimingConfig) EchoCooldown() time.Duration {
	return secDuration(t.EchoCooldownSec)
}

func (t TimingConfig) AutoBargeDebounce() time.Duration {
	return secDuration(t.AutoBargeDebounceSec)
}

func (t TimingConfig) BargeStartGuard() time.Duration {
	return secDuration(t.BargeStartGuardSec)
}

func (t TimingConfig) AutoBargeConfirmWindow() time.Duration {
	return secDuration(t.AutoBargeConfirmWindowSec)
}

func (t TimingConfig) STTMergeWindow() time.Duration {
	return secDuration(t.STTMergeWindowSec)
}

func (t TimingConfig) SilenceThreshold() time.Duration {
	return secDuration(t.SilenceThresholdSec)
}

func (t TimingConfig) MinProactiveInterval() time.Duration {
	return secDuration(t.MinProactiveIntervalSec)
}

func secDuration(sec float64) time.Duration {
	return time.Duration(sec * float64(time.Second))
}
