package orchestrator

import (
	"context"
	"log/slog"

	"github.com/MrWong99/adatutor/internal/gateway"
)

// bargeIn interrupts the tutor: the running turn's context is cancelled
// (aborting the LLM call, the TTS stream, and any remaining stroke emission),
// the turn epoch advances so queued output of the superseded turn is dropped
// at the gateway, and the client is told to cut playback.
//
// History is never rolled back — a tutor turn already committed stays; only
// pending output is suppressed. Calling bargeIn with no turn in flight still
// advances the epoch, which is harmless, so back-to-back barges converge on
// the same state as one.
func (o *Orchestrator) bargeIn(source string) {
	o.mu.Lock()
	cancel := o.cancelTurn
	o.mu.Unlock()
	if cancel != nil {
		cancel()
	}

	next := o.epoch.Add(1)
	o.conn.SetActiveEpoch(next)
	_ = o.conn.Send(0, gateway.NewBargeInNotice())

	o.metrics.RecordBargeIn(context.Background(), source)
	o.logger.Info("barge-in", slog.String("source", source), slog.Uint64("epoch", next))
}
