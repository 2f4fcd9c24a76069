package config

import (
	"strings"
	"testing"
	"time"
)

func TestLoadFromReaderDefaults(t *testing.T) {
	cfg, err := LoadFromReader(strings.NewReader(""))
	if err != nil {
		t.Fatalf("LoadFromReader: %v", err)
	}
	if cfg.Server.ListenAddr != DefaultListenAddr {
		t.Errorf("listen_addr = %q, want %q", cfg.Server.ListenAddr, DefaultListenAddr)
	}
	if cfg.Providers.LLM.Name != "anthropic" {
		t.Errorf("llm provider = %q, want anthropic", cfg.Providers.LLM.Name)
	}
	if cfg.Timing.EchoCooldownSec != DefaultEchoCooldownSec {
		t.Errorf("echo cooldown = %v, want %v", cfg.Timing.EchoCooldownSec, DefaultEchoCooldownSec)
	}
	if cfg.Latex.RenderURL != DefaultLatexRenderURL {
		t.Errorf("render url = %q, want %q", cfg.Latex.RenderURL, DefaultLatexRenderURL)
	}
}

func TestLoadFromReaderFullConfig(t *testing.T) {
	yaml := `
server:
  listen_addr: ":9000"
  log_level: debug
providers:
  llm:
    name: openai
    model: gpt-4o
  stt:
    name: deepgram
    model: nova-3
  tts:
    name: elevenlabs
tutor:
  name: Ada
  voice_id: voice123
  temperature: 0.7
  max_tokens: 1024
board:
  write_x: 80
timing:
  echo_cooldown_sec: 2.0
  silence_threshold_sec: 10
latex:
  render_url: http://mathjax:3001/mathjax
`
	cfg, err := LoadFromReader(strings.NewReader(yaml))
	if err != nil {
		t.Fatalf("LoadFromReader: %v", err)
	}
	if cfg.Server.ListenAddr != ":9000" {
		t.Errorf("listen_addr = %q", cfg.Server.ListenAddr)
	}
	if cfg.Providers.LLM.Model != "gpt-4o" {
		t.Errorf("llm model = %q", cfg.Providers.LLM.Model)
	}
	if cfg.Tutor.VoiceID != "voice123" {
		t.Errorf("voice_id = %q", cfg.Tutor.VoiceID)
	}
	if cfg.Timing.EchoCooldownSec != 2.0 {
		t.Errorf("echo cooldown = %v", cfg.Timing.EchoCooldownSec)
	}
	// Unset timing fields still get defaults.
	if cfg.Timing.STTMergeWindowSec != DefaultSTTMergeWindowSec {
		t.Errorf("merge window = %v, want default", cfg.Timing.STTMergeWindowSec)
	}
}

func TestLoadFromReaderUnknownField(t *testing.T) {
	_, err := LoadFromReader(strings.NewReader("server:\n  bogus_field: 1\n"))
	if err == nil {
		t.Fatal("expected error for unknown field")
	}
}

func TestValidateCollectsAllErrors(t *testing.T) {
	cfg := &Config{}
	cfg.ApplyDefaults()
	cfg.Server.LogLevel = "loud"
	cfg.Tutor.Temperature = 3.5
	cfg.Timing.EchoCooldownSec = -1
	cfg.Latex.TargetHeightMinPx = 50
	cfg.Latex.TargetHeightMaxPx = 40

	err := Validate(cfg)
	if err == nil {
		t.Fatal("expected validation errors")
	}
	msg := err.Error()
	for _, want := range []string{"log_level", "temperature", "echo_cooldown", "target_height_min_px"} {
		if !strings.Contains(msg, want) {
			t.Errorf("error missing %q: %s", want, msg)
		}
	}
}

func TestValidateTLSRequiresBothFiles(t *testing.T) {
	cfg := &Config{}
	cfg.ApplyDefaults()
	cfg.Server.TLS = &TLSConfig{CertFile: "cert.pem"}

	if err := Validate(cfg); err == nil {
		t.Fatal("expected error for TLS without key file")
	}
}

func TestApplyEnvOverrides(t *testing.T) {
	t.Setenv("LLM_MODEL", "claude-opus-4")
	t.Setenv("ELEVENLABS_VOICE_ID", "env-voice")
	t.Setenv("ECHO_COOLDOWN_SEC", "3.5")
	t.Setenv("BOARD_WRITE_X", "120")
	t.Setenv("LATEX_RENDER_URL", "http://envjax:3001/mathjax")

	cfg := &Config{}
	cfg.ApplyDefaults()
	cfg.Providers.LLM.Model = "from-yaml"
	cfg.ApplyEnv()

	if cfg.Providers.LLM.Model != "claude-opus-4" {
		t.Errorf("llm model = %q, env should win", cfg.Providers.LLM.Model)
	}
	if cfg.Tutor.VoiceID != "env-voice" {
		t.Errorf("voice_id = %q", cfg.Tutor.VoiceID)
	}
	if cfg.Timing.EchoCooldownSec != 3.5 {
		t.Errorf("echo cooldown = %v", cfg.Timing.EchoCooldownSec)
	}
	if cfg.Board.WriteX != 120 {
		t.Errorf("write_x = %v", cfg.Board.WriteX)
	}
	if cfg.Latex.RenderURL != "http://envjax:3001/mathjax" {
		t.Errorf("render url = %q", cfg.Latex.RenderURL)
	}
}

func TestApplyEnvIgnoresUnparsableFloat(t *testing.T) {
	t.Setenv("ECHO_COOLDOWN_SEC", "soon")

	cfg := &Config{}
	cfg.ApplyDefaults()
	cfg.ApplyEnv()

	if cfg.Timing.EchoCooldownSec != DefaultEchoCooldownSec {
		t.Errorf("echo cooldown = %v, want default kept", cfg.Timing.EchoCooldownSec)
	}
}

func TestTimingDurations(t *testing.T) {
	tc := TimingConfig{
		EchoCooldownSec:    1.2,
		BargeStartGuardSec: 0.25,
	}
	if got := tc.EchoCooldown(); got != 1200*time.Millisecond {
		t.Errorf("EchoCooldown = %v", got)
	}
	if got := tc.BargeStartGuard(); got != 250*time.Millisecond {
		t.Errorf("BargeStartGuard = %v", got)
	}
}
