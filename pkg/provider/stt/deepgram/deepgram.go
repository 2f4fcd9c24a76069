// Package deepgram provides a Deepgram-backed STT provider using the Deepgram
// streaming WebSocket API. It implements the stt.Provider interface.
//
// The provider is tuned for browser microphone input: opus frames in a webm
// container are forwarded verbatim, and vad_events=true is requested so that
// SpeechStarted notifications reach the barge-in controller before the first
// transcript is ready.
package deepgram

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"sync"
	"time"

	"github.com/coder/websocket"

	"github.com/MrWong99/adatutor/pkg/provider/stt"
)

const (
	deepgramEndpoint  = "wss://api.deepgram.com/v1/listen"
	defaultModel      = "nova-2"
	defaultLanguage   = "en-US"
	defaultSampleRate = 16000

	// keepAliveInterval is how often a KeepAlive message is sent while no
	// audio is flowing. Deepgram closes idle streams after ~10 s.
	keepAliveInterval = 5 * time.Second
)

// Option is a functional option for configuring the Deepgram Provider.
type Option func(*Provider)

// WithModel sets the Deepgram model to use (e.g., "nova-2", "nova-3").
func WithModel(model string) Option {
	return func(p *Provider) {
		p.model = model
	}
}

// WithLanguage sets the BCP-47 language code for recognition (e.g., "en-US").
func WithLanguage(language string) Option {
	return func(p *Provider) {
		p.language = language
	}
}

// WithSampleRate sets the audio sample rate in Hz for the provider-level
// default. Ignored for containerised codecs.
func WithSampleRate(rate int) Option {
	return func(p *Provider) {
		p.sampleRate = rate
	}
}

// Provider implements stt.Provider backed by the Deepgram streaming API.
type Provider struct {
	apiKey     string
	model      string
	language   string
	sampleRate int
}

// New creates a new Deepgram Provider. apiKey must be non-empty.
func New(apiKey string, opts ...Option) (*Provider, error) {
	if apiKey == "" {
		return nil, errors.New("deepgram: apiKey must not be empty")
	}
	p := &Provider{
		apiKey:     apiKey,
		model:      defaultModel,
		language:   defaultLanguage,
		sampleRate: defaultSampleRate,
	}
	for _, o := range opts {
		o(p)
	}
	return p, nil
}

// StartStream opens a streaming transcription session with Deepgram.
func (p *Provider) StartStream(ctx context.Context, cfg stt.StreamConfig) (stt.SessionHandle, error) {
	wsURL, err := p.buildURL(cfg)
	if err != nil {
		return nil, fmt.Errorf("deepgram: build URL: %w", err)
	}

	headers := http.Header{}
	headers.Set("Authorization", "Token "+p.apiKey)

	conn, _, err := websocket.Dial(ctx, wsURL, &websocket.DialOptions{
		HTTPHeader: headers,
	})
	if err != nil {
		return nil, fmt.Errorf("deepgram: dial: %w", err)
	}

	sess := &session{
		conn:     conn,
		partials: make(chan stt.Transcript, 64),
		finals:   make(chan stt.Transcript, 64),
		events:   make(chan stt.Event, 16),
		audio:    make(chan []byte, 256),
		done:     make(chan struct{}),
	}

	sess.wg.Add(2)
	go sess.readLoop(ctx)
	go sess.writeLoop(ctx)

	return sess, nil
}

// buildURL constructs the Deepgram streaming endpoint URL for the given config.
func (p *Provider) buildURL(cfg stt.StreamConfig) (string, error) {
	u, err := url.Parse(deepgramEndpoint)
	if err != nil {
		return "", err
	}

	lang := cfg.Language
	if lang == "" {
		lang = p.language
	}

	q := u.Query()
	q.Set("model", p.model)
	q.Set("language", lang)
	q.Set("punctuate", "true")
	q.Set("smart_format", "true")
	q.Set("interim_results", "true")

	if cfg.Encoding != "" {
		q.Set("encoding", cfg.Encoding)
	}
	if cfg.Container != "" {
		q.Set("container", cfg.Container)
	}
	// Raw PCM needs explicit format parameters; containers carry their own.
	if cfg.Container == "" {
		sr := cfg.SampleRate
		if sr == 0 {
			sr = p.sampleRate
		}
		q.Set("sample_rate", strconv.Itoa(sr))
		if cfg.Channels > 0 {
			q.Set("channels", strconv.Itoa(cfg.Channels))
		}
	}
	if cfg.VADEvents {
		q.Set("vad_events", "true")
	}
	if cfg.Endpointing > 0 {
		q.Set("endpointing", strconv.Itoa(int(cfg.Endpointing.Milliseconds())))
	}

	u.RawQuery = q.Encode()
	return u.String(), nil
}

// ---- session ----

// deepgramResponse is the JSON structure returned by Deepgram. Results events
// carry transcripts; SpeechStarted and UtteranceEnd carry only timing.
type deepgramResponse struct {
	Type     string  `json:"type"`
	IsFinal  bool    `json:"is_final"`
	Start    float64 `json:"start"`
	Duration float64 `json:"duration"`
	// SpeechStarted events report the detection time here.
	DetectedTimestamp float64 `json:"timestamp"`
	Channel           struct {
		Alternatives []struct {
			Transcript string  `json:"transcript"`
			Confidence float64 `json:"confidence"`
		} `json:"alternatives"`
	} `json:"channel"`
}

// session is a live Deepgram streaming session. It implements stt.SessionHandle.
type session struct {
	conn     *websocket.Conn
	partials chan stt.Transcript
	finals   chan stt.Transcript
	events   chan stt.Event
	audio    chan []byte

	done chan struct{}
	once sync.Once
	wg   sync.WaitGroup
}

// SendAudio queues an encoded audio chunk for delivery to Deepgram.
func (s *session) SendAudio(chunk []byte) error {
	select {
	case <-s.done:
		return errors.New("deepgram: session is closed")
	default:
	}
	select {
	case s.audio <- chunk:
		return nil
	case <-s.done:
		return errors.New("deepgram: session is closed")
	}
}

// Partials returns the channel of interim transcripts.
func (s *session) Partials() <-chan stt.Transcript { return s.partials }

// Finals returns the channel of final transcripts.
func (s *session) Finals() <-chan stt.Transcript { return s.finals }

// Events returns the channel of voice-activity events.
func (s *session) Events() <-chan stt.Event { return s.events }

// Close terminates the session cleanly.
func (s *session) Close() error {
	s.once.Do(func() {
		close(s.done)
		// Ask Deepgram to flush pending audio before the socket drops.
		_ = s.conn.Write(context.Background(), websocket.MessageText, []byte(`{"type":"CloseStream"}`))
		s.wg.Wait()
		s.conn.Close(websocket.StatusNormalClosure, "session closed")
	})
	return nil
}

// writeLoop reads from the audio channel and sends binary messages to
// Deepgram, interleaving KeepAlive messages while the microphone is silent.
func (s *session) writeLoop(ctx context.Context) {
	defer s.wg.Done()

	keepalive := time.NewTicker(keepAliveInterval)
	defer keepalive.Stop()

	for {
		select {
		case chunk, ok := <-s.audio:
			if !ok {
				return
			}
			if err := s.conn.Write(ctx, websocket.MessageBinary, chunk); err != nil {
				return
			}
			keepalive.Reset(keepAliveInterval)
		case <-keepalive.C:
			if err := s.conn.Write(ctx, websocket.MessageText, []byte(`{"type":"KeepAlive"}`)); err != nil {
				return
			}
		case <-s.done:
			// Drain buffered audio before exiting so the final utterance is
			// not cut off.
			for {
				select {
				case chunk, ok := <-s.audio:
					if !ok {
						return
					}
					_ = s.conn.Write(ctx, websocket.MessageBinary, chunk)
				default:
					return
				}
			}
		}
	}
}

// readLoop receives JSON messages from Deepgram and dispatches them to the
// partials, finals, and events channels.
func (s *session) readLoop(ctx context.Context) {
	defer s.wg.Done()
	defer close(s.partials)
	defer close(s.finals)
	defer close(s.events)

	for {
		_, msg, err := s.conn.Read(ctx)
		if err != nil {
			// Normal close or context cancellation — exit gracefully.
			return
		}

		t, ev, kind := parseDeepgramResponse(msg)
		switch kind {
		case msgFinal:
			select {
			case s.finals <- t:
			case <-s.done:
			}
		case msgPartial:
			select {
			case s.partials <- t:
			case <-s.done:
			}
		case msgEvent:
			select {
			case s.events <- ev:
			case <-s.done:
			default:
				// Events are advisory; never block the read loop on them.
			}
		}
	}
}

// messageKind classifies a parsed Deepgram message.
type messageKind int

const (
	msgIgnore messageKind = iota
	msgPartial
	msgFinal
	msgEvent
)

// parseDeepgramResponse parses a raw Deepgram WebSocket message. Exactly one
// of the returned values is meaningful, selected by the messageKind.
func parseDeepgramResponse(data []byte) (stt.Transcript, stt.Event, messageKind) {
	var resp deepgramResponse
	if err := json.Unmarshal(data, &resp); err != nil {
		return stt.Transcript{}, stt.Event{}, msgIgnore
	}

	switch resp.Type {
	case "SpeechStarted":
		return stt.Transcript{}, stt.Event{
			Type:      stt.EventSpeechStarted,
			Timestamp: time.Duration(resp.DetectedTimestamp * float64(time.Second)),
		}, msgEvent

	case "UtteranceEnd":
		return stt.Transcript{}, stt.Event{
			Type:      stt.EventUtteranceEnd,
			Timestamp: time.Duration(resp.DetectedTimestamp * float64(time.Second)),
		}, msgEvent

	case "Results":
		if len(resp.Channel.Alternatives) == 0 {
			return stt.Transcript{}, stt.Event{}, msgIgnore
		}
		alt := resp.Channel.Alternatives[0]
		if alt.Transcript == "" {
			return stt.Transcript{}, stt.Event{}, msgIgnore
		}
		t := stt.Transcript{
			Text:       alt.Transcript,
			IsFinal:    resp.IsFinal,
			Confidence: alt.Confidence,
			Timestamp:  time.Duration(resp.Start * float64(time.Second)),
			Duration:   time.Duration(resp.Duration * float64(time.Second)),
		}
		if t.IsFinal {
			return t, stt.Event{}, msgFinal
		}
		return t, stt.Event{}, msgPartial
	}

	return stt.Transcript{}, stt.Event{}, msgIgnore
}
