// Package mock provides test doubles for the stt.Provider and
// stt.SessionHandle interfaces.
//
// The Session exposes its channels as plain fields so tests can push
// transcripts and voice-activity events at precisely controlled moments:
//
//	sess := mock.NewSession()
//	p := &mock.Provider{Session: sess}
//	// ... start the pipeline under test ...
//	sess.FinalsCh <- stt.Transcript{Text: "what is a derivative", IsFinal: true, Confidence: 0.95}
package mock

import (
	"context"
	"errors"
	"sync"

	"github.com/MrWong99/adatutor/pkg/provider/stt"
)

// StartStreamCall records a single invocation of StartStream.
type StartStreamCall struct {
	// Ctx is the context passed to StartStream.
	Ctx context.Context
	// Cfg is the StreamConfig passed to StartStream.
	Cfg stt.StreamConfig
}

// Provider is a mock implementation of stt.Provider.
type Provider struct {
	mu sync.Mutex

	// Session is returned by StartStream. If nil, a fresh NewSession() is
	// created per call and appended to Sessions.
	Session *Session

	// Err, if non-nil, is returned from StartStream instead of a session.
	// Set ErrOnce to make only the first call fail (exercises the
	// reconnect path).
	Err     error
	ErrOnce bool

	// StartStreamCalls records every invocation in order.
	StartStreamCalls []StartStreamCall

	// Sessions records every session handed out when Session is nil.
	Sessions []*Session
}

// StartStream records the call and returns the configured Session or Err.
func (p *Provider) StartStream(ctx context.Context, cfg stt.StreamConfig) (stt.SessionHandle, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.StartStreamCalls = append(p.StartStreamCalls, StartStreamCall{Ctx: ctx, Cfg: cfg})

	if p.Err != nil {
		err := p.Err
		if p.ErrOnce {
			p.Err = nil
		}
		return nil, err
	}
	if p.Session != nil {
		return p.Session, nil
	}
	sess := NewSession()
	p.Sessions = append(p.Sessions, sess)
	return sess, nil
}

// StartStreamCount returns the number of StartStream invocations so far.
// Thread-safe.
func (p *Provider) StartStreamCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.StartStreamCalls)
}

// Session is a mock implementation of stt.SessionHandle. Tests drive the
// pipeline under test by sending on PartialsCh, FinalsCh, and EventsCh.
type Session struct {
	mu sync.Mutex

	// PartialsCh, FinalsCh, and EventsCh are the channels returned by the
	// accessor methods. Tests send on them directly.
	PartialsCh chan stt.Transcript
	FinalsCh   chan stt.Transcript
	EventsCh   chan stt.Event

	// SendAudioErr, if non-nil, is returned from SendAudio.
	SendAudioErr error

	// SentAudio records every chunk passed to SendAudio.
	SentAudio [][]byte

	closed bool
}

// NewSession creates a Session with buffered channels ready for test use.
func NewSession() *Session {
	return &Session{
		PartialsCh: make(chan stt.Transcript, 16),
		FinalsCh:   make(chan stt.Transcript, 16),
		EventsCh:   make(chan stt.Event, 16),
	}
}

// SendAudio records the chunk. Returns SendAudioErr if set, or an error
// after Close.
func (s *Session) SendAudio(chunk []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return errors.New("mock: session is closed")
	}
	if s.SendAudioErr != nil {
		return s.SendAudioErr
	}
	cp := make([]byte, len(chunk))
	copy(cp, chunk)
	s.SentAudio = append(s.SentAudio, cp)
	return nil
}

// Partials returns PartialsCh.
func (s *Session) Partials() <-chan stt.Transcript { return s.PartialsCh }

// Finals returns FinalsCh.
func (s *Session) Finals() <-chan stt.Transcript { return s.FinalsCh }

// Events returns EventsCh.
func (s *Session) Events() <-chan stt.Event { return s.EventsCh }

// Close marks the session closed and closes all channels. Safe to call
// more than once.
func (s *Session) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	close(s.PartialsCh)
	close(s.FinalsCh)
	close(s.EventsCh)
	return nil
}

// Closed reports whether Close has been called. Thread-safe.
func (s *Session) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// SentAudioCount returns the number of chunks recorded so far. Thread-safe.
func (s *Session) SentAudioCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.SentAudio)
}

// Compile-time interface checks.
var (
	_ stt.Provider      = (*Provider)(nil)
	_ stt.SessionHandle = (*Session)(nil)
)
