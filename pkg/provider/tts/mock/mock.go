// Package mock provides a test double for the tts.Provider interface.
//
// SynthesizeStream drains the incoming text channel, records the fragments,
// and emits the configured audio chunks. Tests can inspect SynthesizedText
// after the stream completes to verify what reached the synthesiser.
package mock

import (
	"context"
	"sync"

	"github.com/MrWong99/adatutor/pkg/provider/tts"
)

// SynthesizeCall records a single invocation of SynthesizeStream.
type SynthesizeCall struct {
	// Ctx is the context passed to SynthesizeStream.
	Ctx context.Context
	// Voice is the VoiceProfile passed to SynthesizeStream.
	Voice tts.VoiceProfile
}

// Provider is a mock implementation of tts.Provider.
type Provider struct {
	mu sync.Mutex

	// AudioChunks is the sequence of PCM chunks emitted per stream after the
	// text channel closes. Defaults to a single non-empty chunk so callers
	// that wait for audio do not hang.
	AudioChunks [][]byte

	// Err, if non-nil, is returned from SynthesizeStream. Set ErrOnce to
	// make only the first call fail (exercises the retry path).
	Err     error
	ErrOnce bool

	// ListVoicesResult is returned by ListVoices.
	ListVoicesResult []tts.VoiceProfile

	// ListVoicesErr, if non-nil, is returned from ListVoices.
	ListVoicesErr error

	// SynthesizeCalls records every invocation of SynthesizeStream in order.
	SynthesizeCalls []SynthesizeCall

	// SynthesizedText records, per call, the text fragments drained from the
	// input channel. Indexed in call order; populated as fragments arrive.
	SynthesizedText [][]string
}

// SynthesizeStream records the call, drains the text channel, and emits
// AudioChunks once the text channel closes (or ctx is cancelled).
func (p *Provider) SynthesizeStream(ctx context.Context, text <-chan string, voice tts.VoiceProfile) (<-chan []byte, error) {
	p.mu.Lock()
	p.SynthesizeCalls = append(p.SynthesizeCalls, SynthesizeCall{Ctx: ctx, Voice: voice})
	if p.Err != nil {
		err := p.Err
		if p.ErrOnce {
			p.Err = nil
		}
		p.mu.Unlock()
		return nil, err
	}
	idx := len(p.SynthesizedText)
	p.SynthesizedText = append(p.SynthesizedText, nil)
	chunks := p.AudioChunks
	if chunks == nil {
		chunks = [][]byte{{0x00, 0x01, 0x02, 0x03}}
	}
	p.mu.Unlock()

	audioCh := make(chan []byte, len(chunks)+1)
	go func() {
		defer close(audioCh)
		for {
			select {
			case fragment, ok := <-text:
				if !ok {
					for _, c := range chunks {
						select {
						case audioCh <- c:
						case <-ctx.Done():
							return
						}
					}
					return
				}
				p.mu.Lock()
				p.SynthesizedText[idx] = append(p.SynthesizedText[idx], fragment)
				p.mu.Unlock()
			case <-ctx.Done():
				return
			}
		}
	}()
	return audioCh, nil
}

// ListVoices returns ListVoicesResult, ListVoicesErr.
func (p *Provider) ListVoices(_ context.Context) ([]tts.VoiceProfile, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.ListVoicesResult, p.ListVoicesErr
}

// SynthesizeCallCount returns the number of SynthesizeStream invocations so
// far. Thread-safe.
func (p *Provider) SynthesizeCallCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.SynthesizeCalls)
}

// TextForCall returns a copy of the fragments drained during call i, or nil
// if i is out of range. Thread-safe.
func (p *Provider) TextForCall(i int) []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	if i < 0 || i >= len(p.SynthesizedText) {
		return nil
	}
	out := make([]string, len(p.SynthesizedText[i]))
	copy(out, p.SynthesizedText[i])
	return out
}

var _ tts.Provider = (*Provider)(nil)
