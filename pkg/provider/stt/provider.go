// Package stt defines the Provider interface for Speech-to-Text backends.
//
// An STT provider wraps a real-time transcription service (e.g., Deepgram or
// Google Speech-to-Text) and exposes a uniform streaming interface. The
// central abstraction is SessionHandle: once opened, a session accepts audio
// chunks and emits two streams of Transcript values — low-latency partials
// for responsiveness and authoritative finals for the conversation log — plus
// a stream of voice-activity events that fire the instant speech is detected,
// before any transcript is ready. The barge-in controller relies on those
// events to cut the tutor's audio with minimal latency.
//
// Implementations must be safe for concurrent use. Audio input and transcript
// output channels are goroutine-safe by construction.
package stt

import (
	"context"
	"time"
)

// StreamConfig describes the audio format and recognition hints for a new STT
// session. All fields must be compatible with what the underlying provider
// supports; see each provider's documentation for valid ranges.
type StreamConfig struct {
	// Encoding is the audio codec of the chunks passed to SendAudio (e.g.,
	// "opus", "linear16"). Empty lets the provider sniff the container.
	Encoding string

	// Container is the wrapping format, if any (e.g., "webm" for opus frames
	// captured by a browser MediaRecorder).
	Container string

	// SampleRate is the audio sample rate in Hz. Ignored for containerised
	// codecs that carry their own rate.
	SampleRate int

	// Channels is the number of audio channels. 1 = mono.
	Channels int

	// Language is the BCP-47 language tag for recognition (e.g., "en-US").
	// An empty string lets the provider auto-detect, if supported.
	Language string

	// Endpointing is the trailing-silence duration after which the provider
	// finalises an utterance. Longer values reduce false triggers from brief
	// noises. Zero uses the provider default.
	Endpointing time.Duration

	// VADEvents requests voice-activity events on the session's Events
	// channel. Providers without VAD support silently ignore this.
	VADEvents bool
}

// EventType enumerates voice-activity event kinds.
type EventType int

const (
	// EventSpeechStarted fires the instant the provider detects voice,
	// before any transcript is available.
	EventSpeechStarted EventType = iota

	// EventUtteranceEnd fires when the provider decides the speaker has
	// finished an utterance.
	EventUtteranceEnd
)

// Event is a voice-activity notification from the provider.
type Event struct {
	Type EventType

	// Timestamp marks when the event occurred, relative to session start.
	// May be zero if the provider does not report timing.
	Timestamp time.Duration
}

// Transcript represents a speech-to-text result from an STT provider.
// Both partial (interim) and final transcripts use this type.
type Transcript struct {
	// Text is the transcribed speech content.
	Text string

	// IsFinal indicates whether this is a final (authoritative) or partial
	// (interim) transcript.
	IsFinal bool

	// Confidence is the overall confidence score (0.0–1.0). May be zero if
	// the provider does not report confidence.
	Confidence float64

	// Timestamp marks when the utterance started, relative to session start.
	Timestamp time.Duration

	// Duration is the length of the utterance.
	Duration time.Duration
}

// SessionHandle represents an open STT streaming session. It is an interface
// so that test code can provide mock implementations without a live provider
// connection.
//
// Callers must call Close when the session is no longer needed. Failing to do
// so may leak goroutines and network connections inside the provider
// implementation. All methods must be safe for concurrent use.
type SessionHandle interface {
	// SendAudio delivers a chunk of encoded audio bytes to the provider for
	// transcription. The chunk must match the Encoding and Container agreed
	// in StreamConfig. Calling SendAudio after Close returns an error.
	SendAudio(chunk []byte) error

	// Partials returns a read-only channel that emits low-latency interim
	// Transcript values. These drive UI indicators and barge-in confirmation
	// but must not be written to the conversation log. The channel is closed
	// when the session ends.
	Partials() <-chan Transcript

	// Finals returns a read-only channel that emits authoritative Transcript
	// values once the provider has committed to a recognition result. These
	// are the values that trigger tutoring turns. The channel is closed when
	// the session ends.
	Finals() <-chan Transcript

	// Events returns a read-only channel that emits voice-activity events
	// when StreamConfig.VADEvents was set. The channel is closed when the
	// session ends; it never emits for providers without VAD support.
	Events() <-chan Event

	// Close terminates the session, flushes any pending audio, and releases
	// all associated resources. After Close returns, the Partials, Finals,
	// and Events channels will be closed. Calling Close more than once is
	// safe and returns nil.
	Close() error
}

// Provider is the abstraction over any STT backend.
//
// Implementations must be safe for concurrent use. Multiple sessions may be
// open simultaneously (one per tutoring session).
type Provider interface {
	// StartStream opens a new streaming transcription session with the given
	// audio format and recognition configuration. The returned SessionHandle
	// is ready to accept audio immediately.
	//
	// Returns an error if the provider cannot establish the session (e.g.,
	// authentication failure, unsupported configuration, or ctx already
	// cancelled). The caller owns the SessionHandle and must call Close.
	StartStream(ctx context.Context, cfg StreamConfig) (SessionHandle, error)
}
