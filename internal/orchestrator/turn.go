package orchestrator

import (
	"context"
	"errors"
	"log/slog"
	"math"
	"strings"
	"time"
	"unicode/utf8"

	"go.opentelemetry.io/otel/metric"

	"github.com/MrWong99/adatutor/internal/board"
	"github.com/MrWong99/adatutor/internal/gateway"
	"github.com/MrWong99/adatutor/internal/observe"
	"github.com/MrWong99/adatutor/pkg/provider/llm"
	"github.com/MrWong99/adatutor/pkg/types"
)

const (
	// speechWordsPerSec is the assumed speaking rate used to stretch stroke
	// animation over the tutor's speech.
	speechWordsPerSec = 2.4

	// minSpeechDuration floors the estimated speech time for very short
	// utterances.
	minSpeechDuration = 1.5

	// animationFPS and pointsPerFrame describe the client's stroke animation
	// loop: at 60 fps it draws animation_speed points twice per frame.
	animationFPS    = 60.0
	pointsPerFrame  = 2.0
)

// pendingMsg is one outbound board message waiting for dispatch, paired with
// the action it renders so the cursor can track what was actually sent.
type pendingMsg struct {
	payload any
	action  types.BoardAction
	batch   *types.StrokeBatch
}

// runTurn executes one conversational turn: commit the triggering utterance,
// call the LLM, lay out and synthesize board content, and stream speech and
// strokes to the client. Everything emitted is tagged with the current epoch;
// only a barge-in advances it, so output of a completed turn still sitting in
// the outbound queue is never discarded when the next turn starts.
func (o *Orchestrator) runTurn(ctx context.Context, trig trigger) {
	start := time.Now()
	epoch := o.epoch.Load()

	turnCtx, cancel := context.WithCancel(ctx)
	o.mu.Lock()
	o.cancelTurn = cancel
	o.mu.Unlock()
	defer func() {
		o.mu.Lock()
		o.cancelTurn = nil
		o.mu.Unlock()
		cancel()
	}()

	var synthetic string
	switch trig.kind {
	case triggerTranscript:
		o.sess.AddStudentTurn(trig.text)
	case triggerProactive:
		synthetic = proactiveNote
		o.sess.AddStudentTurn(synthetic)
	}

	retract := func() {
		if synthetic != "" {
			o.sess.RemoveLastTurnIf(types.RoleStudent, synthetic)
		}
	}

	st := o.sess.BoardState()
	req := o.buildRequest(trig)

	llmCtx, cancelLLM := context.WithTimeout(turnCtx, llmTimeout)
	defer cancelLLM()

	llmStart := time.Now()
	stream, err := o.llm.StreamCompletion(llmCtx, req)
	if err != nil {
		o.metrics.RecordProviderError(ctx, "llm", "stream")
		o.logger.Error("llm call failed", slog.String("error", err.Error()))
		retract()
		return
	}

	// speak commits the tutor turn and starts TTS. Fired as soon as the
	// speech field completes in the stream so audio starts while board
	// actions are still being generated.
	var (
		spoken  string
		ttsDone chan error
	)
	speak := func(text string) {
		spoken = text
		o.sess.AddTutorTurn(text)
		if err := o.conn.Send(epoch, gateway.NewSpeechText(text)); err != nil {
			return
		}
		o.gate.TutorSpeaking(text)
		ttsDone = make(chan error, 1)
		go func() {
			ttsStart := time.Now()
			err := o.tts.Speak(turnCtx, text, func(data string) error {
				return o.conn.Send(epoch, gateway.NewAudioChunk(data))
			})
			o.metrics.TTSDuration.Record(ctx, time.Since(ttsStart).Seconds())
			ttsDone <- err
		}()
	}

	var buf strings.Builder
	for chunk := range stream {
		buf.WriteString(chunk.Text)
		if chunk.FinishReason == "error" {
			o.metrics.RecordProviderError(ctx, "llm", "stream")
		}
		if spoken == "" {
			if s, ok := extractSpeech(buf.String()); ok && s != "" {
				speak(s)
			}
		}
	}
	o.metrics.LLMDuration.Record(ctx, time.Since(llmStart).Seconds())

	result, perr := Parse(buf.String())
	if perr != nil {
		if spoken == "" {
			if llmCtx.Err() == nil {
				o.logger.Warn("llm response unparseable",
					slog.String("raw", truncate(buf.String(), 200)))
			}
			retract()
			return
		}
		// The speech already went out; salvage the turn without board work.
		result = &types.LLMResult{Speech: spoken, TutorState: types.ModeListening}
	}
	if result.Speech == "" && spoken == "" {
		// Nothing to say. Empty speech means no outputs at all.
		retract()
		return
	}
	if spoken == "" {
		speak(result.Speech)
	}

	// Layout: wrap to board width, then shift below existing content.
	actions := o.layout.Rebase(o.layout.Normalize(result.BoardActions, st), st)
	pending := o.synthesizePending(turnCtx, ctx, actions, st)
	calibrateAnimation(pending, result.Speech)

	// Strokes interleave with audio; the client draws and plays in parallel.
	var sent []types.BoardAction
	for _, m := range pending {
		if turnCtx.Err() != nil {
			break
		}
		if err := o.conn.Send(epoch, m.payload); err != nil {
			break
		}
		sent = append(sent, m.action)
	}

	cursor := o.layout.AdvanceCursor(st.CursorY, sent)
	o.sess.SetBoardCursor(cursor)
	if delta := board.ScrollDelta(cursor, o.sess.ViewportY(), st.Height); delta > 0 && turnCtx.Err() == nil {
		if o.conn.Send(epoch, gateway.NewScrollBoard(int(math.Round(delta)))) == nil {
			o.sess.AdvanceViewport(delta)
		}
	}

	if ttsDone != nil {
		if err := <-ttsDone; err != nil && !errors.Is(err, context.Canceled) {
			o.metrics.RecordProviderError(ctx, "tts", "stream")
			o.logger.Warn("tts stream failed", slog.String("error", err.Error()))
		}
		o.gate.TutorStopped()
	}

	mode := result.TutorState
	if !mode.IsValid() {
		mode = types.ModeListening
	}
	o.sess.SetMode(mode)
	o.sess.SetWaitForStudent(result.WaitForStudent)
	if turnCtx.Err() == nil {
		_ = o.conn.Send(epoch, gateway.NewStateUpdate(string(mode), result.WaitForStudent))
	}

	o.metrics.RecordTurn(ctx, string(trig.kind))
	o.metrics.TurnDuration.Record(ctx, time.Since(start).Seconds(),
		metric.WithAttributes(observe.Attr("trigger", string(trig.kind))))
}

// buildRequest assembles the LLM request: persisted history, an ephemeral
// greeting prompt when opening the session, the board-state note on the last
// user message, and the latest snapshot when the model can see it.
func (o *Orchestrator) buildRequest(trig trigger) llm.CompletionRequest {
	history := o.sess.History()
	msgs := make([]llm.Message, 0, len(history)+1)
	for _, t := range history {
		role := "user"
		if t.Role == types.RoleTutor {
			role = "assistant"
		}
		msgs = append(msgs, llm.Message{Role: role, Content: t.Content})
	}
	if trig.kind == triggerGreeting {
		msgs = append(msgs, llm.Message{Role: "user", Content: greetingPrompt(o.sess.Subject())})
	}

	if note := o.sess.BoardStateContext(); note != "" {
		for i := len(msgs) - 1; i >= 0; i-- {
			if msgs[i].Role == "user" {
				msgs[i].Content += "\n" + note
				break
			}
		}
	}

	if trig.kind != triggerGreeting && o.llm.Capabilities().SupportsVision {
		if snap := o.sess.Snapshot(); snap != nil && snap.ImageBase64 != "" {
			for i := len(msgs) - 1; i >= 0; i-- {
				if msgs[i].Role == "user" {
					msgs[i].Images = append(msgs[i].Images, llm.ImageAttachment{
						MediaType:  "image/png",
						Base64Data: snap.ImageBase64,
					})
					break
				}
			}
		}
	}

	return llm.CompletionRequest{
		SystemPrompt: systemPrompt(o.tutorName),
		Messages:     msgs,
		Temperature:  o.temperature,
		MaxTokens:    o.maxTokens,
	}
}

// synthesizePending renders each rebased action into its outbound message:
// writes become stroke batches, everything else passes through as a
// board_action. A write whose synthesis fails is skipped rather than failing
// the turn.
func (o *Orchestrator) synthesizePending(turnCtx, ctx context.Context, actions []types.BoardAction, st board.State) []pendingMsg {
	if len(actions) == 0 {
		return nil
	}
	strokeStart := time.Now()
	pending := make([]pendingMsg, 0, len(actions))
	for _, a := range actions {
		if a.Type != types.ActionWrite {
			pending = append(pending, pendingMsg{payload: gateway.NewBoardAction(a), action: a})
			continue
		}
		pos := types.Position{X: 80, Y: 140}
		if a.Position != nil {
			pos = *a.Position
		}

		var (
			batch *types.StrokeBatch
			err   error
		)
		if a.Format == types.FormatLatex && o.latex != nil {
			batch, err = o.latex.Convert(turnCtx, a.Content, a.Color, pos, board.MaxLatexWidth(st.Width))
		} else {
			batch, err = o.synth.Synthesize(a.Content, a.Color, pos)
		}
		if err != nil {
			o.logger.Warn("stroke synthesis failed",
				slog.String("content", truncate(a.Content, 80)),
				slog.String("error", err.Error()))
			continue
		}
		pending = append(pending, pendingMsg{payload: gateway.NewStrokes(batch), action: a, batch: batch})
	}
	o.metrics.StrokeSynthesisDuration.Record(ctx, time.Since(strokeStart).Seconds())
	return pending
}

// calibrateAnimation paces stroke drawing so all writing finishes at roughly
// the same moment as the tutor's speech, the way a professor talks while
// writing. The available time is the estimated speech duration split evenly
// across the turn's stroke batches.
func calibrateAnimation(pending []pendingMsg, speech string) {
	var batches []*types.StrokeBatch
	for _, m := range pending {
		if m.batch != nil {
			batches = append(batches, m.batch)
		}
	}
	if len(batches) == 0 || speech == "" {
		return
	}

	dur := float64(len(strings.Fields(speech))) / speechWordsPerSec
	if dur < minSpeechDuration {
		dur = minSpeechDuration
	}
	perBatch := dur / float64(len(batches))

	for _, b := range batches {
		total := 0
		for _, s := range b.Strokes {
			total += len(s.Points)
		}
		if total == 0 {
			continue
		}
		speed := float64(total) / (perBatch * animationFPS * pointsPerFrame)
		if speed < 1 {
			speed = 1
		}
		b.AnimationSpeed = math.Round(speed*100) / 100
	}
}

// truncate shortens s to at most n bytes for logging, backing up to a rune
// boundary so multi-byte characters are never split.
func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n] + "…"
}
