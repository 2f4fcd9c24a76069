// Package ttspipe streams tutor speech through the TTS provider.
//
// Each tutor turn opens one synthesis stream; PCM chunks coming back are
// base64-encoded and handed to the caller's emit function, which tags them
// with the turn epoch and enqueues them on the gateway. Cancelling the turn
// context (barge-in) closes the upstream stream promptly and stops emission.
package ttspipe

import (
	"context"
	"encoding/base64"
	"fmt"
	"log/slog"
	"time"

	"github.com/MrWong99/adatutor/internal/resilience"
	"github.com/MrWong99/adatutor/pkg/provider/tts"
)

// openBackoff is the pause before the single reopen attempt when the
// provider rejects a new stream.
const openBackoff = 500 * time.Millisecond

// Pipeline synthesizes speech for tutor turns. Safe for concurrent use; each
// Stream call is independent.
type Pipeline struct {
	provider tts.Provider
	voice    tts.VoiceProfile
	logger   *slog.Logger
	backoff  time.Duration
}

// Option is a functional option for the Pipeline.
type Option func(*Pipeline)

// WithLogger sets the pipeline's logger. Defaults to slog.Default.
func WithLogger(l *slog.Logger) Option {
	return func(p *Pipeline) {
		p.logger = l
	}
}

// New creates a Pipeline bound to one voice.
func New(provider tts.Provider, voice tts.VoiceProfile, opts ...Option) *Pipeline {
	p := &Pipeline{
		provider: provider,
		voice:    voice,
		logger:   slog.Default(),
		backoff:  openBackoff,
	}
	for _, o := range opts {
		o(p)
	}
	return p
}

// Voice returns the voice profile the pipeline synthesizes with.
func (p *Pipeline) Voice() tts.VoiceProfile {
	return p.voice
}

// Stream opens a synthesis stream fed by text fragments and calls emit with
// each base64-encoded PCM chunk. It blocks until the stream finishes, emit
// fails, or ctx is cancelled. Opening the stream gets one retry; everything
// after that is a single-shot best effort — a turn interrupted mid-stream is
// not resumed.
//
// With no provider configured the stream completes immediately: the tutor
// still produces text, just no audio.
func (p *Pipeline) Stream(ctx context.Context, text <-chan string, emit func(dataB64 string) error) error {
	if p.provider == nil {
		return nil
	}

	var audio <-chan []byte
	err := resilience.Retry(ctx, 2, p.backoff, func() error {
		ch, err := p.provider.SynthesizeStream(ctx, text, p.voice)
		if err == nil {
			audio = ch
		}
		return err
	})
	if err != nil {
		return fmt.Errorf("ttspipe: open synthesis stream: %w", err)
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case chunk, ok := <-audio:
			if !ok {
				return nil
			}
			if len(chunk) == 0 {
				continue
			}
			if err := emit(base64.StdEncoding.EncodeToString(chunk)); err != nil {
				return fmt.Errorf("ttspipe: emit audio chunk: %w", err)
			}
		}
	}
}

// Speak synthesizes a single complete utterance. Convenience wrapper around
// [Stream] for callers that have the full text up front.
func (p *Pipeline) Speak(ctx context.Context, text string, emit func(dataB64 string) error) error {
	if text == "" {
		return nil
	}
	ch := make(chan string, 1)
	ch <- text
	close(ch)
	return p.Stream(ctx, ch, emit)
}
