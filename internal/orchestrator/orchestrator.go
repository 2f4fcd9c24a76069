// Package orchestrator runs the conversational state machine for one
// tutoring session.
//
// It is the only code path that issues LLM requests. Triggers (the greeting,
// final student transcripts, proactive board checks) are multiplexed into one
// FIFO queue and consumed by a single turn loop, so turns are strictly
// serialized and at most one LLM call is ever in flight per session. Barge-in
// bypasses the queue: it cancels the running turn's context and advances the
// turn epoch so output already produced by the superseded turn is dropped at
// the gateway instead of reaching the client.
package orchestrator

import (
	"context"
	"encoding/base64"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/MrWong99/adatutor/internal/board"
	"github.com/MrWong99/adatutor/internal/config"
	"github.com/MrWong99/adatutor/internal/gateway"
	"github.com/MrWong99/adatutor/internal/observe"
	"github.com/MrWong99/adatutor/internal/session"
	"github.com/MrWong99/adatutor/internal/strokes"
	"github.com/MrWong99/adatutor/internal/sttpipe"
	"github.com/MrWong99/adatutor/internal/ttspipe"
	"github.com/MrWong99/adatutor/pkg/provider/llm"
	"github.com/MrWong99/adatutor/pkg/provider/stt"
	"github.com/MrWong99/adatutor/pkg/provider/tts"
	"github.com/MrWong99/adatutor/pkg/types"
)

const (
	// proactiveNote is the synthetic student turn representing a pause for the
	// tutor to review the board. Removed from history when the review yields
	// nothing.
	proactiveNote = "[checking my work on the board]"

	// llmTimeout is the hard per-turn deadline for the LLM call. A timed-out
	// call is treated as an empty response.
	llmTimeout = 30 * time.Second

	// triggerQueueSize bounds the turn trigger queue. Triggers arrive at
	// human conversation pace; the queue only fills if the LLM stalls.
	triggerQueueSize = 64

	// schedulerTick is the coarse interval at which the proactive scheduler
	// re-evaluates its conditions.
	schedulerTick = time.Second
)

// Emitter is the outbound side of the client connection as the orchestrator
// sees it. *gateway.Conn satisfies it; tests substitute a recorder.
type Emitter interface {
	// Send enqueues payload tagged with the given turn epoch.
	Send(epoch uint64, payload any) error

	// SendError sends an epoch-independent error message.
	SendError(message string) error

	// SetActiveEpoch advances the newest turn epoch; older tagged messages
	// are discarded.
	SetActiveEpoch(epoch uint64)
}

var _ Emitter = (*gateway.Conn)(nil)

// triggerKind names the sources that can start a turn.
type triggerKind string

const (
	triggerGreeting   triggerKind = "greeting"
	triggerTranscript triggerKind = "transcript"
	triggerProactive  triggerKind = "proactive_check"
)

// trigger is one queued turn request.
type trigger struct {
	kind triggerKind
	text string
}

// Providers bundles the upstream AI backends for one session. STT may be nil;
// the session then runs on manually supplied transcripts only.
type Providers struct {
	LLM llm.Provider
	STT stt.Provider
	TTS tts.Provider
}

// Config carries the tutor persona, generation parameters, board origin, and
// timing windows for one session.
type Config struct {
	TutorName   string
	Voice       tts.VoiceProfile
	Temperature float64
	MaxTokens   int

	// WriteX, when positive, forces all tutor writes to this x-coordinate.
	WriteX float64

	Timing config.TimingConfig
}

// Orchestrator drives one tutoring session.
type Orchestrator struct {
	conn Emitter
	sess *session.Session

	llm    llm.Provider
	tts    *ttspipe.Pipeline
	stt    *sttpipe.Pipeline
	gate   *sttpipe.EchoGate
	layout *board.Layout
	synth  *strokes.Synthesizer
	latex  *strokes.Renderer

	metrics *observe.Metrics
	logger  *slog.Logger

	tutorName   string
	temperature float64
	maxTokens   int
	timing      config.TimingConfig

	triggers chan trigger
	epoch    atomic.Uint64

	mu         sync.Mutex
	cancelTurn context.CancelFunc
}

// Option is a functional option for the Orchestrator.
type Option func(*Orchestrator)

// WithLogger sets the orchestrator's logger. Defaults to slog.Default.
func WithLogger(l *slog.Logger) Option {
	return func(o *Orchestrator) {
		o.logger = l
	}
}

// WithMetrics sets the metrics sink. Defaults to [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(o *Orchestrator) {
		o.metrics = m
	}
}

// WithLatexRenderer sets the LaTeX stroke renderer. Without one, latex writes
// are synthesized as plain handwriting.
func WithLatexRenderer(r *strokes.Renderer) Option {
	return func(o *Orchestrator) {
		o.latex = r
	}
}

// New creates an Orchestrator for one session. The returned value is inert
// until [Orchestrator.Run] is called.
func New(conn Emitter, sess *session.Session, providers Providers, cfg Config, opts ...Option) (*Orchestrator, error) {
	synth, err := strokes.NewSynthesizer()
	if err != nil {
		return nil, err
	}

	o := &Orchestrator{
		conn:        conn,
		sess:        sess,
		llm:         providers.LLM,
		gate:        sttpipe.NewEchoGate(cfg.Timing),
		layout:      board.NewLayout(cfg.WriteX),
		synth:       synth,
		logger:      slog.Default(),
		tutorName:   cfg.TutorName,
		temperature: cfg.Temperature,
		maxTokens:   cfg.MaxTokens,
		timing:      cfg.Timing,
		triggers:    make(chan trigger, triggerQueueSize),
	}
	for _, opt := range opts {
		opt(o)
	}
	if o.metrics == nil {
		o.metrics = observe.DefaultMetrics()
	}
	// Epoch zero is reserved for epoch-independent messages; turn output
	// starts at one so barge-in can supersede it.
	o.epoch.Store(1)

	o.tts = ttspipe.New(providers.TTS, cfg.Voice, ttspipe.WithLogger(o.logger))
	if providers.STT != nil {
		o.stt = sttpipe.New(providers.STT, o.gate, o, cfg.Timing, sttpipe.WithLogger(o.logger))
	}
	return o, nil
}

// Run processes inbound client messages until the channel closes or ctx is
// cancelled. It owns the turn loop and the proactive scheduler; both stop
// before Run returns.
func (o *Orchestrator) Run(ctx context.Context, inbound <-chan gateway.Inbound) error {
	if err := o.conn.Send(0, gateway.NewConnected(o.sess.ID, connectBanner(o.tutorName))); err != nil {
		return err
	}

	loopCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		o.turnLoop(loopCtx)
	}()
	go func() {
		defer wg.Done()
		o.schedulerLoop(loopCtx)
	}()

	err := o.inboundLoop(ctx, inbound)

	cancel()
	if o.stt != nil {
		o.stt.Shutdown()
	}
	wg.Wait()
	return err
}

// inboundLoop dispatches decoded client messages. Barge-in is applied
// immediately; everything else either mutates session state or queues a turn.
func (o *Orchestrator) inboundLoop(ctx context.Context, inbound <-chan gateway.Inbound) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg, ok := <-inbound:
			if !ok {
				return nil
			}
			o.handleInbound(ctx, msg)
		}
	}
}

func (o *Orchestrator) handleInbound(ctx context.Context, msg gateway.Inbound) {
	switch msg.Type {
	case gateway.TypeSessionStart:
		o.sess.SetSubject(msg.Subject)
		o.enqueue(trigger{kind: triggerGreeting})

	case gateway.TypeTranscript:
		text := strings.TrimSpace(msg.Text)
		if text == "" {
			return
		}
		o.enqueue(trigger{kind: triggerTranscript, text: text})

	case gateway.TypeBoardSnapshot:
		o.handleSnapshot(msg)

	case gateway.TypeAudioStart:
		if o.stt == nil {
			o.logger.Debug("audio_start ignored, no stt provider configured")
			return
		}
		if err := o.stt.Start(ctx); err != nil && !errors.Is(err, sttpipe.ErrDisabled) {
			o.logger.Warn("starting stt pipeline", slog.String("error", err.Error()))
		}

	case gateway.TypeAudioData:
		if o.stt == nil {
			return
		}
		frame := msg.Binary
		if frame == nil && msg.Data != "" {
			decoded, err := base64.StdEncoding.DecodeString(msg.Data)
			if err != nil {
				o.logger.Warn("undecodable audio frame", slog.String("error", err.Error()))
				return
			}
			frame = decoded
		}
		o.stt.PushAudio(frame)

	case gateway.TypeAudioStop:
		if o.stt != nil {
			o.stt.Stop()
		}

	case gateway.TypeBargeIn:
		o.bargeIn("manual")

	default:
		_ = o.conn.SendError("unknown message type: " + msg.Type)
	}
}

// handleSnapshot stores the latest board image. Snapshots never interrupt a
// running turn; the next turn picks the stored image up.
func (o *Orchestrator) handleSnapshot(msg gateway.Inbound) {
	if msg.ImageBase64 == "" {
		return
	}
	snap := types.Snapshot{
		ImageBase64: msg.ImageBase64,
		StudentMaxY: msg.StudentMaxY,
	}
	// Implausibly small dimensions are a client glitch; keep the known size.
	if msg.Width > 200 {
		snap.Width = int(msg.Width)
	}
	if msg.Height > 200 {
		snap.Height = int(msg.Height)
	}
	count := o.sess.SetSnapshot(snap)
	_ = o.conn.Send(0, gateway.NewSnapshotReceived(count))
	o.logger.Debug("board snapshot stored", slog.Int("count", count))
}

// enqueue adds a turn trigger to the FIFO queue. A full queue means the LLM
// has stalled far behind the conversation; dropping is the lesser evil.
func (o *Orchestrator) enqueue(t trigger) {
	select {
	case o.triggers <- t:
	default:
		o.logger.Warn("trigger queue full, dropping", slog.String("kind", string(t.kind)))
	}
}

// turnLoop consumes triggers one at a time, serializing turns.
func (o *Orchestrator) turnLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case t := <-o.triggers:
			o.runTurn(ctx, t)
		}
	}
}

// ─── stt sink ───────────────────────────────────────────────────────────────

var _ sttpipe.Sink = (*Orchestrator)(nil)

// OnUtterance queues a student turn for a cleaned final transcript, echoing
// it to the client first so captions update before the tutor answers.
func (o *Orchestrator) OnUtterance(text string) {
	_ = o.conn.Send(0, gateway.NewTranscriptInterim(text))
	o.enqueue(trigger{kind: triggerTranscript, text: text})
}

// OnInterim forwards a partial transcript for live captions.
func (o *Orchestrator) OnInterim(text string) {
	_ = o.conn.Send(0, gateway.NewTranscriptInterim(text))
}

// OnAutoBarge interrupts the tutor for confirmed student speech.
func (o *Orchestrator) OnAutoBarge() {
	o.bargeIn("auto")
}

// OnSTTError surfaces a permanent STT failure to the client. The session
// stays open; the student can still type transcripts.
func (o *Orchestrator) OnSTTError(err error) {
	o.logger.Error("stt unavailable", slog.String("error", err.Error()))
	_ = o.conn.SendError("speech recognition is unavailable for the rest of this session")
}
