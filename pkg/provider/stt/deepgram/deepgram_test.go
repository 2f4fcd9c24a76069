package deepgram

import (
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/MrWong99/adatutor/pkg/provider/stt"
)

func TestNewRequiresAPIKey(t *testing.T) {
	t.Parallel()

	if _, err := New(""); err == nil {
		t.Fatal("expected error for empty API key")
	}
}

func TestBuildURLWebmOpus(t *testing.T) {
	t.Parallel()

	p, err := New("key", WithModel("nova-3"), WithLanguage("en-GB"))
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	raw, err := p.buildURL(stt.StreamConfig{
		Encoding:    "opus",
		Container:   "webm",
		VADEvents:   true,
		Endpointing: 800 * time.Millisecond,
	})
	if err != nil {
		t.Fatalf("buildURL: %v", err)
	}

	u, err := url.Parse(raw)
	if err != nil {
		t.Fatalf("parse built URL: %v", err)
	}
	q := u.Query()

	for key, want := range map[string]string{
		"model":           "nova-3",
		"language":        "en-GB",
		"encoding":        "opus",
		"container":       "webm",
		"vad_events":      "true",
		"endpointing":     "800",
		"interim_results": "true",
		"punctuate":       "true",
		"smart_format":    "true",
	} {
		if got := q.Get(key); got != want {
			t.Errorf("query %q = %q, want %q", key, got, want)
		}
	}

	// Containerised audio carries its own rate.
	if q.Has("sample_rate") {
		t.Errorf("sample_rate should be omitted for containerised audio, got %q", q.Get("sample_rate"))
	}
}

func TestBuildURLRawPCM(t *testing.T) {
	t.Parallel()

	p, err := New("key")
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	raw, err := p.buildURL(stt.StreamConfig{
		Encoding:   "linear16",
		SampleRate: 48000,
		Channels:   2,
	})
	if err != nil {
		t.Fatalf("buildURL: %v", err)
	}

	if !strings.Contains(raw, "sample_rate=48000") {
		t.Errorf("missing sample_rate: %s", raw)
	}
	if !strings.Contains(raw, "channels=2") {
		t.Errorf("missing channels: %s", raw)
	}
	if strings.Contains(raw, "vad_events") {
		t.Errorf("vad_events should be omitted when not requested: %s", raw)
	}
}

func TestParseDeepgramResponse(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		input    string
		wantKind messageKind
		wantText string
	}{
		{
			name:     "final transcript",
			input:    `{"type":"Results","is_final":true,"start":1.5,"duration":2.0,"channel":{"alternatives":[{"transcript":"hello world","confidence":0.97}]}}`,
			wantKind: msgFinal,
			wantText: "hello world",
		},
		{
			name:     "partial transcript",
			input:    `{"type":"Results","is_final":false,"channel":{"alternatives":[{"transcript":"hel","confidence":0.4}]}}`,
			wantKind: msgPartial,
			wantText: "hel",
		},
		{
			name:     "empty transcript ignored",
			input:    `{"type":"Results","is_final":true,"channel":{"alternatives":[{"transcript":"","confidence":0}]}}`,
			wantKind: msgIgnore,
		},
		{
			name:     "no alternatives ignored",
			input:    `{"type":"Results","is_final":true,"channel":{"alternatives":[]}}`,
			wantKind: msgIgnore,
		},
		{
			name:     "speech started",
			input:    `{"type":"SpeechStarted","timestamp":3.25}`,
			wantKind: msgEvent,
		},
		{
			name:     "utterance end",
			input:    `{"type":"UtteranceEnd","timestamp":5.0}`,
			wantKind: msgEvent,
		},
		{
			name:     "metadata ignored",
			input:    `{"type":"Metadata","request_id":"abc"}`,
			wantKind: msgIgnore,
		},
		{
			name:     "invalid JSON ignored",
			input:    `garbage`,
			wantKind: msgIgnore,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			tr, _, kind := parseDeepgramResponse([]byte(tt.input))
			if kind != tt.wantKind {
				t.Fatalf("kind = %d, want %d", kind, tt.wantKind)
			}
			if tt.wantText != "" && tr.Text != tt.wantText {
				t.Errorf("text = %q, want %q", tr.Text, tt.wantText)
			}
		})
	}
}

func TestParseDeepgramResponseEventTiming(t *testing.T) {
	t.Parallel()

	_, ev, kind := parseDeepgramResponse([]byte(`{"type":"SpeechStarted","timestamp":3.25}`))
	if kind != msgEvent {
		t.Fatalf("kind = %d, want msgEvent", kind)
	}
	if ev.Type != stt.EventSpeechStarted {
		t.Errorf("event type = %d, want EventSpeechStarted", ev.Type)
	}
	if ev.Timestamp != 3250*time.Millisecond {
		t.Errorf("timestamp = %v, want 3.25s", ev.Timestamp)
	}
}

func TestParseDeepgramResponseFinalFields(t *testing.T) {
	t.Parallel()

	input := `{"type":"Results","is_final":true,"start":1.5,"duration":2.0,"channel":{"alternatives":[{"transcript":"what is a derivative","confidence":0.92}]}}`
	tr, _, kind := parseDeepgramResponse([]byte(input))
	if kind != msgFinal {
		t.Fatalf("kind = %d, want msgFinal", kind)
	}
	if !tr.IsFinal {
		t.Error("IsFinal = false, want true")
	}
	if tr.Confidence != 0.92 {
		t.Errorf("confidence = %v, want 0.92", tr.Confidence)
	}
	if tr.Timestamp != 1500*time.Millisecond {
		t.Errorf("timestamp = %v, want 1.5s", tr.Timestamp)
	}
	if tr.Duration != 2*time.Second {
		t.Errorf("duration = %v, want 2s", tr.Duration)
	}
}
