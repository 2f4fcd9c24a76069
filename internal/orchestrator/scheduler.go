package orchestrator

import (
	"context"
	"time"
)

// schedulerLoop is the proactive board-review tick. When the student has been
// drawing silently, a synthetic turn asks the tutor to look over the board
// unprompted.
func (o *Orchestrator) schedulerLoop(ctx context.Context) {
	ticker := time.NewTicker(schedulerTick)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			if o.proactiveDue(now) {
				o.sess.MarkProactiveCheck()
				o.enqueue(trigger{kind: triggerProactive})
			}
		}
	}
}

// proactiveDue reports whether an unprompted board review should run: a
// snapshot arrived since the last check, neither party has spoken for the
// silence threshold, and checks are spaced by the minimum interval.
func (o *Orchestrator) proactiveDue(now time.Time) bool {
	studentSpoke, tutorSpoke, proactive, snapshot := o.sess.Times()
	if snapshot.IsZero() || !snapshot.After(proactive) {
		return false
	}

	lastActivity := o.sess.StartedAt()
	if studentSpoke.After(lastActivity) {
		lastActivity = studentSpoke
	}
	if tutorSpoke.After(lastActivity) {
		lastActivity = tutorSpoke
	}
	if now.Sub(lastActivity) <= o.timing.SilenceThreshold() {
		return false
	}
	if !proactive.IsZero() && now.Sub(proactive) <= o.timing.MinProactiveInterval() {
		return false
	}
	return true
}
