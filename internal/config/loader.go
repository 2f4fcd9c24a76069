package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"slices"
	"strconv"

	"gopkg.in/yaml.v3"
)

// ValidProviderNames lists known provider names per provider kind.
// Used by [Validate] to warn about unrecognised provider names.
var ValidProviderNames = map[string][]string{
	"llm": {"anthropic", "openai", "ollama", "gemini", "deepseek", "mistral", "groq", "llamacpp", "llamafile"},
	"stt": {"deepgram"},
	"tts": {"elevenlabs"},
}

// Load reads the YAML configuration file at path and returns a validated
// [Config] with defaults and environment overrides applied.
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}
	defer f.Close()

	cfg, err := LoadFromReader(f)
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}

// LoadFromReader decodes a YAML config from r, applies defaults and
// environment overrides, and validates the result. Useful in tests where
// configs are constructed from string literals.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := &Config{}
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	cfg.ApplyDefaults()
	cfg.ApplyEnv()
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Default returns a config built purely from defaults and the environment,
// for deployments that run without a YAML file.
func Default() (*Config, error) {
	cfg := &Config{}
	cfg.ApplyDefaults()
	cfg.ApplyEnv()
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ApplyEnv overlays environment variables onto the config. Environment
// values win over YAML values so deployments can be tuned without editing
// files.
func (c *Config) ApplyEnv() {
	setString(&c.Server.ListenAddr, "LISTEN_ADDR")

	setString(&c.Providers.LLM.Name, "LLM_PROVIDER")
	setString(&c.Providers.LLM.Model, "LLM_MODEL")
	setString(&c.Providers.LLM.BaseURL, "LLM_BASE_URL")
	setString(&c.Providers.LLM.APIKey, "ANTHROPIC_API_KEY", "OPENAI_API_KEY", "LLM_API_KEY")
	setString(&c.Providers.STT.APIKey, "DEEPGRAM_API_KEY")
	setString(&c.Providers.STT.Model, "DEEPGRAM_MODEL")
	setString(&c.Providers.TTS.APIKey, "ELEVENLABS_API_KEY")
	setString(&c.Providers.TTS.Model, "ELEVENLABS_MODEL")

	setString(&c.Tutor.VoiceID, "ELEVENLABS_VOICE_ID")

	setFloat(&c.Board.WriteX, "BOARD_WRITE_X")

	setFloat(&c.Timing.EchoCooldownSec, "ECHO_COOLDOWN_SEC")
	setFloat(&c.Timing.AutoBargeDebounceSec, "AUTO_BARGE_DEBOUNCE_SEC")
	setFloat(&c.Timing.BargeStartGuardSec, "BARGE_START_GUARD_SEC")
	setFloat(&c.Timing.AutoBargeConfirmWindowSec, "AUTO_BARGE_CONFIRM_WINDOW_SEC")
	setFloat(&c.Timing.STTMergeWindowSec, "STT_MERGE_WINDOW_SEC")
	setFloat(&c.Timing.SilenceThresholdSec, "SILENCE_THRESHOLD_SEC")
	setFloat(&c.Timing.MinProactiveIntervalSec, "MIN_PROACTIVE_INTERVAL_SEC")

	setString(&c.Latex.RenderURL, "LATEX_RENDER_URL")
	setFloat(&c.Latex.TargetHeightPx, "LATEX_TARGET_HEIGHT_PX")
	setFloat(&c.Latex.TargetHeightMinPx, "LATEX_TARGET_HEIGHT_MIN_PX")
	setFloat(&c.Latex.TargetHeightMaxPx, "LATEX_TARGET_HEIGHT_MAX_PX")
}

// setString assigns the first non-empty environment value among keys.
func setString(dst *string, keys ...string) {
	for _, key := range keys {
		if v := os.Getenv(key); v != "" {
			*dst = v
			return
		}
	}
}

// setFloat assigns the environment value at key when it parses as a float.
func setFloat(dst *float64, key string) {
	v := os.Getenv(key)
	if v == "" {
		return
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		slog.Warn("ignoring unparsable numeric environment variable",
			"key", key, "value", v)
		return
	}
	*dst = f
}

// Validate checks that cfg contains a coherent set of values.
// It returns a joined error listing all validation failures found.
func Validate(cfg *Config) error {
	var errs []error

	if cfg.Server.LogLevel != "" && !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}
	if cfg.Server.TLS != nil {
		if cfg.Server.TLS.CertFile == "" || cfg.Server.TLS.KeyFile == "" {
			errs = append(errs, errors.New("server.tls requires both cert_file and key_file"))
		}
	}

	validateProviderName("llm", cfg.Providers.LLM.Name)
	validateProviderName("stt", cfg.Providers.STT.Name)
	validateProviderName("tts", cfg.Providers.TTS.Name)

	if cfg.Providers.LLM.APIKey == "" && cfg.Providers.LLM.Name != "ollama" {
		slog.Warn("no LLM API key configured; the tutor will not be able to respond",
			"provider", cfg.Providers.LLM.Name)
	}
	if cfg.Providers.STT.APIKey == "" {
		slog.Warn("no STT API key configured; voice input will be unavailable")
	}
	if cfg.Providers.TTS.APIKey == "" {
		slog.Warn("no TTS API key configured; the tutor will be silent")
	}
	if cfg.Tutor.VoiceID == "" {
		slog.Warn("tutor.voice_id is empty; set ELEVENLABS_VOICE_ID to pick a voice")
	}

	if cfg.Tutor.Temperature < 0 || cfg.Tutor.Temperature > 2 {
		errs = append(errs, fmt.Errorf("tutor.temperature %.2f is out of range [0, 2]", cfg.Tutor.Temperature))
	}
	if cfg.Tutor.MaxTokens < 0 {
		errs = append(errs, fmt.Errorf("tutor.max_tokens %d must not be negative", cfg.Tutor.MaxTokens))
	}
	if cfg.Board.WriteX < 0 {
		errs = append(errs, fmt.Errorf("board.write_x %.1f must not be negative", cfg.Board.WriteX))
	}

	for _, window := range []struct {
		name string
		val  float64
	}{
		{"timing.echo_cooldown_sec", cfg.Timing.EchoCooldownSec},
		{"timing.auto_barge_debounce_sec", cfg.Timing.AutoBargeDebounceSec},
		{"timing.barge_start_guard_sec", cfg.Timing.BargeStartGuardSec},
		{"timing.auto_barge_confirm_window_sec", cfg.Timing.AutoBargeConfirmWindowSec},
		{"timing.stt_merge_window_sec", cfg.Timing.STTMergeWindowSec},
		{"timing.silence_threshold_sec", cfg.Timing.SilenceThresholdSec},
		{"timing.min_proactive_interval_sec", cfg.Timing.MinProactiveIntervalSec},
	} {
		if window.val < 0 {
			errs = append(errs, fmt.Errorf("%s %.2f must not be negative", window.name, window.val))
		}
	}

	if cfg.Latex.TargetHeightMinPx > cfg.Latex.TargetHeightMaxPx {
		errs = append(errs, fmt.Errorf("latex.target_height_min_px %.1f exceeds latex.target_height_max_px %.1f",
			cfg.Latex.TargetHeightMinPx, cfg.Latex.TargetHeightMaxPx))
	}

	return errors.Join(errs...)
}

// validateProviderName logs a warning if name is non-empty and not found in
// the [ValidProviderNames] list for the given kind.
func validateProviderName(kind, name string) {
	if name == "" {
		return
	}
	known, ok := ValidProviderNames[kind]
	if !ok {
		return
	}
	if slices.Contains(known, name) {
		return
	}
	slog.Warn("unknown provider name — may be a typo or third-party provider",
		"kind", kind,
		"name", name,
		"known", known,
	)
}
