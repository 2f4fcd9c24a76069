// Package sttpipe connects the client's microphone stream to the STT
// provider and turns raw recognition output into clean student utterances.
//
// The pipeline owns the provider session lifecycle (open on audio_start,
// close on audio_stop, one reconnect on upstream loss), buffers incoming
// audio in a bounded drop-oldest queue, coalesces consecutive final
// transcripts inside a short merge window, filters low-confidence noise, and
// routes voice-activity events and interim transcripts through the
// [EchoGate] so the tutor's own TTS playback never interrupts itself.
package sttpipe

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/MrWong99/adatutor/internal/config"
	"github.com/MrWong99/adatutor/internal/resilience"
	"github.com/MrWong99/adatutor/pkg/provider/stt"
)

const (
	// audioQueueSize bounds the microphone frame queue. Opus frames are
	// small; 256 covers several seconds of backlog.
	audioQueueSize = 256

	// reconnectBackoff is the pause before the single reconnect attempt.
	reconnectBackoff = time.Second

	// defaultEndpointing is the trailing-silence window the provider uses to
	// finalise an utterance.
	defaultEndpointing = 300 * time.Millisecond

	// minConfidence is the floor below which short transcripts are treated
	// as noise rather than speech.
	minConfidence = 0.60

	// noiseMaxWords: a low-confidence transcript this short is almost always
	// a cough, keyboard clatter, or breath.
	noiseMaxWords = 3
)

// ErrDisabled is returned by [Pipeline.Start] after the pipeline gave up on
// the STT upstream for the remainder of the session.
var ErrDisabled = errors.New("sttpipe: stt disabled after repeated failures")

// Sink receives the pipeline's output. Implementations must not block for
// long; all methods are called from the pipeline's consume goroutine.
type Sink interface {
	// OnUtterance delivers a cleaned, merged final student utterance.
	OnUtterance(text string)

	// OnInterim delivers a low-latency partial transcript for live captions.
	OnInterim(text string)

	// OnAutoBarge fires when confirmed student speech should interrupt the
	// tutor's in-flight output.
	OnAutoBarge()

	// OnSTTError reports that STT is permanently unavailable for this
	// session.
	OnSTTError(err error)
}

// Pipeline manages the STT stream for one tutoring session.
type Pipeline struct {
	provider stt.Provider
	gate     *EchoGate
	sink     Sink
	timing   config.TimingConfig
	logger   *slog.Logger

	audioQ  chan []byte
	backoff time.Duration

	mu         sync.Mutex
	handle     stt.SessionHandle
	stopCh     chan struct{}
	stopping   bool
	disabled   bool
	reconnects int
	wg         sync.WaitGroup
}

// Option is a functional option for the Pipeline.
type Option func(*Pipeline)

// WithLogger sets the pipeline's logger. Defaults to slog.Default.
func WithLogger(l *slog.Logger) Option {
	return func(p *Pipeline) {
		p.logger = l
	}
}

// New creates a Pipeline. The gate must be shared with the component that
// reports TTS playback state (the orchestrator).
func New(provider stt.Provider, gate *EchoGate, sink Sink, timing config.TimingConfig, opts ...Option) *Pipeline {
	p := &Pipeline{
		provider: provider,
		gate:     gate,
		sink:     sink,
		timing:   timing,
		logger:   slog.Default(),
		audioQ:   make(chan []byte, audioQueueSize),
		backoff:  reconnectBackoff,
	}
	for _, o := range opts {
		o(p)
	}
	return p
}

// Start opens the upstream STT session. Calling Start while a session is
// already open is a no-op. Returns [ErrDisabled] once the pipeline has given
// up on the upstream.
func (p *Pipeline) Start(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.disabled {
		return ErrDisabled
	}
	if p.handle != nil {
		return nil
	}
	p.reconnects = 0
	return p.startLocked(ctx)
}

// startLocked opens the session with one retry. Must be called with p.mu
// held.
func (p *Pipeline) startLocked(ctx context.Context) error {
	cfg := stt.StreamConfig{
		Encoding:    "opus",
		Container:   "webm",
		Channels:    1,
		Endpointing: defaultEndpointing,
		VADEvents:   true,
	}

	var handle stt.SessionHandle
	err := resilience.Retry(ctx, 2, p.backoff, func() error {
		h, err := p.provider.StartStream(ctx, cfg)
		if err == nil {
			handle = h
		}
		return err
	})
	if err != nil {
		p.disabled = true
		p.logger.Error("stt upstream unavailable, disabling for session",
			slog.String("error", err.Error()))
		p.sink.OnSTTError(fmt.Errorf("sttpipe: open stream: %w", err))
		return ErrDisabled
	}

	p.handle = handle
	p.stopping = false
	p.stopCh = make(chan struct{})
	p.wg.Add(2)
	go p.feedLoop(handle, p.stopCh)
	go p.consumeLoop(ctx, handle)
	return nil
}

// PushAudio enqueues a microphone frame for the upstream. Frames arriving
// while no session is open are dropped, as are the oldest frames when the
// queue is full — stale audio has no value for live recognition.
func (p *Pipeline) PushAudio(chunk []byte) {
	p.mu.Lock()
	running := p.handle != nil
	p.mu.Unlock()
	if !running || len(chunk) == 0 {
		return
	}
	select {
	case p.audioQ <- chunk:
	default:
		select {
		case <-p.audioQ:
		default:
		}
		select {
		case p.audioQ <- chunk:
		default:
		}
	}
}

// Stop closes the upstream session. Trailing finals already committed by the
// provider are still delivered before the consume loop exits.
func (p *Pipeline) Stop() {
	p.mu.Lock()
	if p.handle == nil {
		p.mu.Unlock()
		return
	}
	p.stopping = true
	close(p.stopCh)
	h := p.handle
	p.handle = nil
	p.mu.Unlock()

	if err := h.Close(); err != nil {
		p.logger.Warn("closing stt session", slog.String("error", err.Error()))
	}
}

// Shutdown stops the pipeline and waits for its goroutines to exit.
func (p *Pipeline) Shutdown() {
	p.Stop()
	p.wg.Wait()
}

// Disabled reports whether the pipeline has given up on the STT upstream.
func (p *Pipeline) Disabled() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.disabled
}

// feedLoop forwards queued audio frames to the provider until the session
// stops or the provider rejects a frame.
func (p *Pipeline) feedLoop(h stt.SessionHandle, stopCh chan struct{}) {
	defer p.wg.Done()
	for {
		select {
		case <-stopCh:
			return
		case chunk := <-p.audioQ:
			if err := h.SendAudio(chunk); err != nil {
				select {
				case <-stopCh:
				default:
					p.logger.Warn("sending audio to stt", slog.String("error", err.Error()))
				}
				return
			}
		}
	}
}

// consumeLoop drains the session's transcript and event channels, merging
// finals and applying the noise and echo filters. It exits when the finals
// channel closes; if the close was not a deliberate Stop, it attempts one
// reconnect.
func (p *Pipeline) consumeLoop(ctx context.Context, h stt.SessionHandle) {
	defer p.wg.Done()

	partials := h.Partials()
	finals := h.Finals()
	events := h.Events()

	var (
		mergeBuf  []string
		mergeConf = 1.0
	)
	mergeTimer := time.NewTimer(0)
	if !mergeTimer.Stop() {
		<-mergeTimer.C
	}
	defer mergeTimer.Stop()
	timerArmed := false

	flush := func() {
		timerArmed = false
		if len(mergeBuf) == 0 {
			return
		}
		text := strings.TrimSpace(strings.Join(mergeBuf, " "))
		conf := mergeConf
		mergeBuf = nil
		mergeConf = 1.0
		if text == "" {
			return
		}
		if isNoise(text, conf) {
			p.logger.Debug("dropping low-confidence transcript",
				slog.String("text", text), slog.Float64("confidence", conf))
			return
		}
		if p.gate.IsEcho(text) {
			p.logger.Debug("dropping echoed transcript", slog.String("text", text))
			return
		}
		p.sink.OnUtterance(text)
	}

	for {
		select {
		case t, ok := <-partials:
			if !ok {
				partials = nil
				continue
			}
			if strings.TrimSpace(t.Text) == "" {
				continue
			}
			p.sink.OnInterim(t.Text)
			if p.gate.ConfirmInterim(t.Text) {
				p.sink.OnAutoBarge()
			}

		case ev, ok := <-events:
			if !ok {
				events = nil
				continue
			}
			switch ev.Type {
			case stt.EventSpeechStarted:
				p.gate.SpeechStarted()
			case stt.EventUtteranceEnd:
				// The speaker is done; no point waiting out the window.
				if timerArmed && !mergeTimer.Stop() {
					<-mergeTimer.C
				}
				flush()
			}

		case t, ok := <-finals:
			if !ok {
				if timerArmed && !mergeTimer.Stop() {
					select {
					case <-mergeTimer.C:
					default:
					}
				}
				flush()
				p.onUpstreamClosed(ctx, h)
				return
			}
			if strings.TrimSpace(t.Text) == "" {
				continue
			}
			mergeBuf = append(mergeBuf, strings.TrimSpace(t.Text))
			if t.Confidence > 0 && t.Confidence < mergeConf {
				mergeConf = t.Confidence
			}
			if timerArmed && !mergeTimer.Stop() {
				<-mergeTimer.C
			}
			mergeTimer.Reset(p.timing.STTMergeWindow())
			timerArmed = true

		case <-mergeTimer.C:
			flush()
		}
	}
}

// onUpstreamClosed handles the finals channel closing for the session h the
// calling consume loop owns. A deliberate Stop needs nothing — and h may by
// now be a session that Stop already replaced, in which case the loop must
// not touch the current one. The first genuine upstream loss gets one
// reconnect via startLocked, a second loss disables STT for the remainder of
// the session.
func (p *Pipeline) onUpstreamClosed(ctx context.Context, h stt.SessionHandle) {
	p.mu.Lock()
	if p.stopping || p.handle != h {
		p.mu.Unlock()
		return
	}
	close(p.stopCh)
	old := p.handle
	p.handle = nil
	lostForGood := p.reconnects >= 1
	if lostForGood {
		p.disabled = true
	} else {
		p.reconnects++
	}
	p.mu.Unlock()

	_ = old.Close()

	if lostForGood {
		p.logger.Error("stt stream lost repeatedly, disabling for session")
		p.sink.OnSTTError(errors.New("sttpipe: stt stream lost repeatedly"))
		return
	}
	p.logger.Warn("stt upstream closed unexpectedly, reconnecting")
	if ctx.Err() != nil {
		return
	}
	p.mu.Lock()
	_ = p.startLocked(ctx)
	p.mu.Unlock()
}

// isNoise reports whether a transcript is likely non-speech: low provider
// confidence combined with very few words.
func isNoise(text string, confidence float64) bool {
	if confidence <= 0 || confidence >= minConfidence {
		return false
	}
	return len(strings.Fields(text)) < noiseMaxWords
}
