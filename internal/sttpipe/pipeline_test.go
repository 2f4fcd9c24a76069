package sttpipe

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/MrWong99/adatutor/internal/config"
	"github.com/MrWong99/adatutor/pkg/provider/stt"
	"github.com/MrWong99/adatutor/pkg/provider/stt/mock"
)

// recordSink collects pipeline output for assertions.
type recordSink struct {
	mu         sync.Mutex
	utterances []string
	interims   []string
	autoBarges int
	errs       []error
}

func (s *recordSink) OnUtterance(text string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.utterances = append(s.utterances, text)
}

func (s *recordSink) OnInterim(text string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.interims = append(s.interims, text)
}

func (s *recordSink) OnAutoBarge() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.autoBarges++
}

func (s *recordSink) OnSTTError(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.errs = append(s.errs, err)
}

func (s *recordSink) utteranceCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.utterances)
}

func (s *recordSink) lastUtterance() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.utterances) == 0 {
		return ""
	}
	return s.utterances[len(s.utterances)-1]
}

func (s *recordSink) bargeCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.autoBarges
}

func (s *recordSink) errCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.errs)
}

// testTiming uses windows short enough to keep the tests fast but long
// enough to be deterministic under scheduler jitter.
func testTiming() config.TimingConfig {
	return config.TimingConfig{
		EchoCooldownSec:           0.3,
		AutoBargeDebounceSec:      0.05,
		BargeStartGuardSec:        0.02,
		AutoBargeConfirmWindowSec: 1.0,
		STTMergeWindowSec:         0.06,
		SilenceThresholdSec:       6,
		MinProactiveIntervalSec:   15,
	}
}

func waitFor(t *testing.T, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal(msg)
}

func newTestPipeline(t *testing.T, provider *mock.Provider) (*Pipeline, *recordSink, *EchoGate) {
	t.Helper()
	sink := &recordSink{}
	gate := NewEchoGate(testTiming())
	p := New(provider, gate, sink, testTiming())
	p.backoff = time.Millisecond
	t.Cleanup(p.Shutdown)
	return p, sink, gate
}

func TestStart_StreamConfig(t *testing.T) {
	t.Parallel()
	provider := &mock.Provider{Session: mock.NewSession()}
	p, _, _ := newTestPipeline(t, provider)

	if err := p.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}

	cfg := provider.StartStreamCalls[0].Cfg
	if cfg.Encoding != "opus" || cfg.Container != "webm" {
		t.Errorf("encoding/container = %q/%q, want opus/webm", cfg.Encoding, cfg.Container)
	}
	if !cfg.VADEvents {
		t.Error("VADEvents not requested")
	}
	if cfg.Endpointing != defaultEndpointing {
		t.Errorf("endpointing = %v, want %v", cfg.Endpointing, defaultEndpointing)
	}
	if cfg.Channels != 1 {
		t.Errorf("channels = %d, want 1", cfg.Channels)
	}
}

func TestStart_Idempotent(t *testing.T) {
	t.Parallel()
	provider := &mock.Provider{Session: mock.NewSession()}
	p, _, _ := newTestPipeline(t, provider)

	if err := p.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if err := p.Start(context.Background()); err != nil {
		t.Fatalf("second Start: %v", err)
	}
	if got := provider.StartStreamCount(); got != 1 {
		t.Errorf("StartStream calls = %d, want 1", got)
	}
}

func TestPushAudio_ForwardedToProvider(t *testing.T) {
	t.Parallel()
	sess := mock.NewSession()
	provider := &mock.Provider{Session: sess}
	p, _, _ := newTestPipeline(t, provider)

	if err := p.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	p.PushAudio([]byte{1, 2, 3})
	p.PushAudio([]byte{4, 5})

	waitFor(t, func() bool { return sess.SentAudioCount() == 2 },
		"audio chunks not forwarded")
}

func TestPushAudio_DroppedWhenNotRunning(t *testing.T) {
	t.Parallel()
	sess := mock.NewSession()
	provider := &mock.Provider{Session: sess}
	p, _, _ := newTestPipeline(t, provider)

	p.PushAudio([]byte{1, 2, 3})
	time.Sleep(20 * time.Millisecond)
	if got := sess.SentAudioCount(); got != 0 {
		t.Errorf("chunks forwarded before Start = %d, want 0", got)
	}
}

func TestFinals_MergedWithinWindow(t *testing.T) {
	t.Parallel()
	sess := mock.NewSession()
	provider := &mock.Provider{Session: sess}
	p, sink, _ := newTestPipeline(t, provider)

	if err := p.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}

	sess.FinalsCh <- stt.Transcript{Text: "what is the derivative", IsFinal: true, Confidence: 0.95}
	sess.FinalsCh <- stt.Transcript{Text: "of x squared", IsFinal: true, Confidence: 0.93}

	waitFor(t, func() bool { return sink.utteranceCount() == 1 },
		"merged utterance not delivered")
	if got := sink.lastUtterance(); got != "what is the derivative of x squared" {
		t.Errorf("utterance = %q", got)
	}
}

func TestUtteranceEnd_FlushesImmediately(t *testing.T) {
	t.Parallel()
	sess := mock.NewSession()
	provider := &mock.Provider{Session: sess}
	p, sink, _ := newTestPipeline(t, provider)

	if err := p.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}

	sess.FinalsCh <- stt.Transcript{Text: "hello", IsFinal: true, Confidence: 0.9}
	sess.EventsCh <- stt.Event{Type: stt.EventUtteranceEnd}

	waitFor(t, func() bool { return sink.utteranceCount() == 1 },
		"utterance not flushed on UtteranceEnd")
}

func TestFinals_NoiseDropped(t *testing.T) {
	t.Parallel()
	sess := mock.NewSession()
	provider := &mock.Provider{Session: sess}
	p, sink, _ := newTestPipeline(t, provider)

	if err := p.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}

	sess.FinalsCh <- stt.Transcript{Text: "uh", IsFinal: true, Confidence: 0.3}
	sess.EventsCh <- stt.Event{Type: stt.EventUtteranceEnd}
	// A real utterance afterwards proves the pipeline is still flowing.
	sess.FinalsCh <- stt.Transcript{Text: "can you explain that again", IsFinal: true, Confidence: 0.92}
	sess.EventsCh <- stt.Event{Type: stt.EventUtteranceEnd}

	waitFor(t, func() bool { return sink.utteranceCount() == 1 },
		"real utterance not delivered")
	if got := sink.lastUtterance(); got != "can you explain that again" {
		t.Errorf("utterance = %q (noise leaked?)", got)
	}
}

func TestFinals_EchoDropped(t *testing.T) {
	t.Parallel()
	sess := mock.NewSession()
	provider := &mock.Provider{Session: sess}
	p, sink, gate := newTestPipeline(t, provider)

	if err := p.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}

	gate.TutorSpeaking("the answer is four")
	sess.FinalsCh <- stt.Transcript{Text: "The answer is four.", IsFinal: true, Confidence: 0.97}
	sess.EventsCh <- stt.Event{Type: stt.EventUtteranceEnd}

	time.Sleep(150 * time.Millisecond)
	if got := sink.utteranceCount(); got != 0 {
		t.Errorf("echoed utterance delivered: %q", sink.lastUtterance())
	}
}

func TestAutoBarge_EndToEnd(t *testing.T) {
	t.Parallel()
	sess := mock.NewSession()
	provider := &mock.Provider{Session: sess}
	p, sink, gate := newTestPipeline(t, provider)

	if err := p.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}

	gate.TutorSpeaking("a long explanation about limits")
	time.Sleep(50 * time.Millisecond) // past the 20ms start guard

	sess.EventsCh <- stt.Event{Type: stt.EventSpeechStarted}
	// The confirm window is open; an interim with real words confirms.
	waitFor(t, func() bool {
		sess.PartialsCh <- stt.Transcript{Text: "wait, stop there"}
		return sink.bargeCount() >= 1
	}, "auto barge not raised")
}

func TestSpeechStarted_WithoutInterim_NoBarge(t *testing.T) {
	t.Parallel()
	sess := mock.NewSession()
	provider := &mock.Provider{Session: sess}
	p, sink, gate := newTestPipeline(t, provider)

	if err := p.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}

	gate.TutorSpeaking("explaining")
	time.Sleep(50 * time.Millisecond)
	sess.EventsCh <- stt.Event{Type: stt.EventSpeechStarted}

	time.Sleep(150 * time.Millisecond)
	if got := sink.bargeCount(); got != 0 {
		t.Errorf("barge raised without a confirming interim: %d", got)
	}
}

func TestStart_RetriesOnce(t *testing.T) {
	t.Parallel()
	provider := &mock.Provider{Err: errors.New("dial refused"), ErrOnce: true}
	p, _, _ := newTestPipeline(t, provider)

	if err := p.Start(context.Background()); err != nil {
		t.Fatalf("Start after retry: %v", err)
	}
	if got := provider.StartStreamCount(); got != 2 {
		t.Errorf("StartStream calls = %d, want 2", got)
	}
}

func TestStart_PersistentFailureDisables(t *testing.T) {
	t.Parallel()
	provider := &mock.Provider{Err: errors.New("dial refused")}
	p, sink, _ := newTestPipeline(t, provider)

	if err := p.Start(context.Background()); !errors.Is(err, ErrDisabled) {
		t.Fatalf("Start = %v, want ErrDisabled", err)
	}
	if sink.errCount() != 1 {
		t.Errorf("OnSTTError calls = %d, want 1", sink.errCount())
	}
	if !p.Disabled() {
		t.Error("pipeline not disabled")
	}
	if err := p.Start(context.Background()); !errors.Is(err, ErrDisabled) {
		t.Errorf("second Start = %v, want ErrDisabled", err)
	}
}

func TestUpstreamLoss_ReconnectsThenDisables(t *testing.T) {
	t.Parallel()
	provider := &mock.Provider{} // fresh session per call
	p, sink, _ := newTestPipeline(t, provider)

	if err := p.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}

	// First loss: reconnect.
	_ = provider.Sessions[0].Close()
	waitFor(t, func() bool { return provider.StartStreamCount() == 2 },
		"pipeline did not reconnect after upstream loss")

	// Second loss: give up.
	waitFor(t, func() bool { return len(provider.Sessions) == 2 }, "second session missing")
	_ = provider.Sessions[1].Close()
	waitFor(t, func() bool { return sink.errCount() == 1 },
		"OnSTTError not raised after repeated loss")
	if !p.Disabled() {
		t.Error("pipeline not disabled after repeated loss")
	}
}

func TestStop_FlushesTrailingFinal(t *testing.T) {
	t.Parallel()
	sess := mock.NewSession()
	provider := &mock.Provider{Session: sess}
	p, sink, _ := newTestPipeline(t, provider)

	if err := p.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}

	sess.FinalsCh <- stt.Transcript{Text: "one last thing", IsFinal: true, Confidence: 0.9}
	p.Stop()

	waitFor(t, func() bool { return sink.utteranceCount() == 1 },
		"trailing final lost on Stop")
	if !sess.Closed() {
		t.Error("session not closed by Stop")
	}
}

func TestStopThenStartAgain(t *testing.T) {
	t.Parallel()
	provider := &mock.Provider{}
	p, _, _ := newTestPipeline(t, provider)

	if err := p.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	p.Stop()
	if err := p.Start(context.Background()); err != nil {
		t.Fatalf("restart: %v", err)
	}
	if got := provider.StartStreamCount(); got != 2 {
		t.Errorf("StartStream calls = %d, want 2", got)
	}
}

// blockingSink parks OnUtterance until released, letting a test hold a
// consume loop mid-delivery.
type blockingSink struct {
	recordSink
	release chan struct{}
	once    sync.Once

	blockMu sync.Mutex
	parked  bool
}

func (s *blockingSink) OnUtterance(text string) {
	s.blockMu.Lock()
	s.parked = true
	s.blockMu.Unlock()
	<-s.release
	s.recordSink.OnUtterance(text)
}

func (s *blockingSink) isParked() bool {
	s.blockMu.Lock()
	defer s.blockMu.Unlock()
	return s.parked
}

func (s *blockingSink) releaseAll() {
	s.once.Do(func() { close(s.release) })
}

func TestStaleConsumeLoopLeavesReplacementSessionAlone(t *testing.T) {
	t.Parallel()
	provider := &mock.Provider{} // fresh session per call
	sink := &blockingSink{release: make(chan struct{})}
	p := New(provider, NewEchoGate(testTiming()), sink, testTiming())
	p.backoff = time.Millisecond
	t.Cleanup(p.Shutdown)
	t.Cleanup(sink.releaseAll)

	if err := p.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	provider.Sessions[0].FinalsCh <- stt.Transcript{Text: "is that the right answer", IsFinal: true, Confidence: 0.9}
	provider.Sessions[0].EventsCh <- stt.Event{Type: stt.EventUtteranceEnd}
	waitFor(t, sink.isParked, "consume loop never reached the sink")

	// The first session's consume loop is still inside the sink callback
	// while the pipeline moves on to a fresh session.
	p.Stop()
	if err := p.Start(context.Background()); err != nil {
		t.Fatalf("restart: %v", err)
	}
	if got := provider.StartStreamCount(); got != 2 {
		t.Fatalf("StartStream calls = %d, want 2", got)
	}

	// Released, the first loop observes its own closed finals channel. That
	// must not tear down the replacement session or burn the reconnect.
	sink.releaseAll()
	waitFor(t, func() bool { return sink.utteranceCount() == 1 },
		"parked utterance lost")

	time.Sleep(100 * time.Millisecond)
	if got := provider.StartStreamCount(); got != 2 {
		t.Errorf("StartStream calls = %d after first loop exited, want 2", got)
	}
	if provider.Sessions[1].Closed() {
		t.Error("replacement session closed by the first session's consume loop")
	}
	if p.Disabled() {
		t.Error("pipeline disabled by the first session's consume loop")
	}
}

func TestIsNoise(t *testing.T) {
	t.Parallel()

	tests := []struct {
		text string
		conf float64
		want bool
	}{
		{"uh", 0.3, true},
		{"uh huh", 0.5, true},
		{"what is a derivative", 0.3, false}, // enough words
		{"uh", 0.9, false},                   // confident
		{"uh", 0, false},                     // confidence unreported
	}
	for _, tc := range tests {
		if got := isNoise(tc.text, tc.conf); got != tc.want {
			t.Errorf("isNoise(%q, %v) = %v, want %v", tc.text, tc.conf, got, tc.want)
		}
	}
}
