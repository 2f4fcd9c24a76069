package sttpipe

import (
	"strings"
	"sync"
	"time"
	"unicode"

	"github.com/antzucaro/matchr"

	"github.com/MrWong99/adatutor/internal/config"
)

// echoSimilarityThreshold is the Jaro-Winkler score above which a transcript
// is considered a re-transcription of the tutor's own voice.
const echoSimilarityThreshold = 0.8

// EchoGate decides whether speech detected while the tutor is talking is the
// student interrupting or the microphone picking up the tutor's own TTS
// output.
//
// The gate applies four windows:
//
//   - start guard: SpeechStarted events fired immediately after TTS playback
//     begins are the tutor's own audio ramping up and are ignored.
//   - confirm window: a surviving SpeechStarted only becomes an auto barge-in
//     once an interim transcript arrives within this window, proving there
//     are actual words behind the voice activity.
//   - debounce: minimum spacing between auto barge-ins.
//   - echo cooldown: final transcripts arriving during playback or shortly
//     after it that closely match the tutor's last utterance are discarded.
//
// Safe for concurrent use.
type EchoGate struct {
	startGuard    time.Duration
	debounce      time.Duration
	confirmWindow time.Duration
	echoCooldown  time.Duration

	now func() time.Time

	mu            sync.Mutex
	speaking      bool
	speakStart    time.Time
	speakEnd      time.Time
	lastUtterance string
	pending       bool
	pendingSince  time.Time
	lastAutoBarge time.Time
}

// NewEchoGate creates a gate with windows taken from the timing config.
func NewEchoGate(t config.TimingConfig) *EchoGate {
	return &EchoGate{
		startGuard:    t.BargeStartGuard(),
		debounce:      t.AutoBargeDebounce(),
		confirmWindow: t.AutoBargeConfirmWindow(),
		echoCooldown:  t.EchoCooldown(),
		now:           time.Now,
	}
}

// TutorSpeaking marks the start of TTS playback for the given utterance.
// Any pending barge-in confirmation from a previous turn is discarded.
func (g *EchoGate) TutorSpeaking(utterance string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.speaking = true
	g.speakStart = g.now()
	g.lastUtterance = utterance
	g.pending = false
}

// TutorStopped marks the end of TTS playback, starting the echo cooldown.
func (g *EchoGate) TutorStopped() {
	g.mu.Lock()
	defer g.mu.Unlock()
	if !g.speaking {
		return
	}
	g.speaking = false
	g.speakEnd = g.now()
	g.pending = false
}

// SpeechStarted handles a voice-activity event. While the tutor is speaking
// and the event survives the start guard and debounce, the gate arms a
// pending barge-in that [ConfirmInterim] may later confirm. Events while the
// tutor is silent need no gating and are ignored.
func (g *EchoGate) SpeechStarted() {
	g.mu.Lock()
	defer g.mu.Unlock()
	if !g.speaking {
		return
	}
	now := g.now()
	if now.Sub(g.speakStart) < g.startGuard {
		// Playback just started; this is almost certainly our own audio.
		return
	}
	if !g.lastAutoBarge.IsZero() && now.Sub(g.lastAutoBarge) < g.debounce {
		return
	}
	g.pending = true
	g.pendingSince = now
}

// ConfirmInterim reports whether the interim transcript confirms a pending
// auto barge-in. Interims that merely re-transcribe the tutor's own words do
// not confirm.
func (g *EchoGate) ConfirmInterim(text string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	if !g.pending {
		return false
	}
	now := g.now()
	if now.Sub(g.pendingSince) > g.confirmWindow {
		g.pending = false
		return false
	}
	if strings.TrimSpace(text) == "" {
		return false
	}
	if nearDuplicate(text, g.lastUtterance) {
		return false
	}
	g.pending = false
	g.lastAutoBarge = now
	return true
}

// IsEcho reports whether a final transcript is likely the tutor's own voice:
// it arrived during playback or within the echo cooldown after it and closely
// matches the last spoken utterance.
func (g *EchoGate) IsEcho(text string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.lastUtterance == "" {
		return false
	}
	inCooldown := g.speaking ||
		(!g.speakEnd.IsZero() && g.now().Sub(g.speakEnd) < g.echoCooldown)
	if !inCooldown {
		return false
	}
	return nearDuplicate(text, g.lastUtterance)
}

// nearDuplicate reports whether candidate is effectively a fragment or
// re-transcription of reference.
func nearDuplicate(candidate, reference string) bool {
	c := normalizeUtterance(candidate)
	r := normalizeUtterance(reference)
	if c == "" || r == "" {
		return false
	}
	// The mic usually catches only a fragment of the tutor's line.
	if len(c) >= 8 && strings.Contains(r, c) {
		return true
	}
	return matchr.JaroWinkler(c, r, false) >= echoSimilarityThreshold
}

// normalizeUtterance lowercases, strips punctuation, and collapses
// whitespace so that transcription artifacts don't defeat the comparison.
func normalizeUtterance(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	lastSpace := true
	for _, r := range strings.ToLower(s) {
		switch {
		case unicode.IsLetter(r) || unicode.IsDigit(r):
			b.WriteRune(r)
			lastSpace = false
		case unicode.IsSpace(r):
			if !lastSpace {
				b.WriteByte(' ')
				lastSpace = true
			}
		}
	}
	return strings.TrimSpace(b.String())
}
