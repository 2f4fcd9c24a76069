// Package session holds the per-student tutoring session state: conversation
// history, tutor mode, board geometry, and the timing signals the proactive
// scheduler reads.
//
// A Session is shared between the gateway reader, the turn orchestrator, and
// the scheduler; every accessor takes the session mutex for a short critical
// section and never holds it across I/O.
package session

import (
	"sync"
	"time"

	"github.com/MrWong99/adatutor/internal/board"
	"github.com/MrWong99/adatutor/pkg/types"
)

const (
	defaultBoardWidth  = 1200
	defaultBoardHeight = 700

	// nearlyFullThreshold is the remaining vertical space below which the
	// board-state note warns the LLM about an imminent auto-clear.
	nearlyFullThreshold = 150
)

// Session is the state of one live tutoring session.
type Session struct {
	// ID is the session identifier, immutable after creation.
	ID string

	mu sync.Mutex

	subject string
	mode    types.TutorMode
	history []types.Turn

	// waitForStudent is set when the tutor explicitly asked the student to
	// work on the board; it arms the proactive scheduler.
	waitForStudent bool

	lastSnapshot  *types.Snapshot
	boardWidth    int
	boardHeight   int
	boardCursorY  float64
	viewportY     float64
	snapshotCount int

	lastStudentSpokeAt time.Time
	lastTutorSpokeAt   time.Time
	lastProactiveAt    time.Time
	lastSnapshotAt     time.Time
	startedAt          time.Time
}

// New creates a Session with the given id and subject.
func New(id, subject string) *Session {
	return &Session{
		ID:          id,
		subject:     subject,
		mode:        types.ModeListening,
		boardWidth:  defaultBoardWidth,
		boardHeight: defaultBoardHeight,
		startedAt:   time.Now(),
	}
}

// Subject returns the session's subject.
func (s *Session) Subject() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.subject
}

// SetSubject updates the session's subject.
func (s *Session) SetSubject(subject string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.subject = subject
}

// Mode returns the current tutor mode.
func (s *Session) Mode() types.TutorMode {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.mode
}

// SetMode updates the tutor mode. Invalid values are ignored.
func (s *Session) SetMode(mode types.TutorMode) {
	if !mode.IsValid() {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.mode = mode
}

// WaitForStudent reports whether the tutor asked the student to work on the
// board.
func (s *Session) WaitForStudent() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.waitForStudent
}

// SetWaitForStudent records whether the tutor is waiting on board work.
func (s *Session) SetWaitForStudent(v bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.waitForStudent = v
}

// ─── history ────────────────────────────────────────────────────────────────

// AddStudentTurn appends a student utterance to the history and stamps the
// speech timer.
func (s *Session) AddStudentTurn(content string) {
	now := time.Now()
	s.mu.Lock()
	defer s.mu.Unlock()
	s.history = append(s.history, types.Turn{Role: types.RoleStudent, Content: content, Timestamp: now})
	s.lastStudentSpokeAt = now
	// Student spoke — stop watching the board.
	s.waitForStudent = false
}

// AddTutorTurn appends a tutor utterance to the history and stamps the speech
// timer.
func (s *Session) AddTutorTurn(content string) {
	now := time.Now()
	s.mu.Lock()
	defer s.mu.Unlock()
	s.history = append(s.history, types.Turn{Role: types.RoleTutor, Content: content, Timestamp: now})
	s.lastTutorSpokeAt = now
}

// RemoveLastTurnIf drops the newest history entry when it matches role and
// content. Used to retract the synthetic proactive-check note when the LLM
// had nothing to say.
func (s *Session) RemoveLastTurnIf(role types.Role, content string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := len(s.history)
	if n == 0 {
		return false
	}
	last := s.history[n-1]
	if last.Role != role || last.Content != content {
		return false
	}
	s.history = s.history[:n-1]
	return true
}

// History returns a copy of the conversation history.
func (s *Session) History() []types.Turn {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]types.Turn, len(s.history))
	copy(out, s.history)
	return out
}

// LastTutorUtterance returns the content of the most recent tutor turn, or ""
// if the tutor has not spoken.
func (s *Session) LastTutorUtterance() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := len(s.history) - 1; i >= 0; i-- {
		if s.history[i].Role == types.RoleTutor {
			return s.history[i].Content
		}
	}
	return ""
}

// ─── board state ────────────────────────────────────────────────────────────

// SetSnapshot stores the latest board snapshot, replacing any previous one,
// and returns the running snapshot count. Non-positive dimensions leave the
// stored board size unchanged.
func (s *Session) SetSnapshot(snap types.Snapshot) int {
	now := time.Now()
	s.mu.Lock()
	defer s.mu.Unlock()
	if snap.Width > 0 {
		s.boardWidth = snap.Width
	}
	if snap.Height > 0 {
		s.boardHeight = snap.Height
	}
	snap.TakenAt = now
	s.lastSnapshot = &snap
	s.lastSnapshotAt = now
	s.snapshotCount++
	return s.snapshotCount
}

// Snapshot returns the latest board snapshot, or nil if none was received.
func (s *Session) Snapshot() *types.Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.lastSnapshot == nil {
		return nil
	}
	snap := *s.lastSnapshot
	return &snap
}

// BoardState returns the geometry snapshot the layout pass operates on.
func (s *Session) BoardState() board.State {
	s.mu.Lock()
	defer s.mu.Unlock()
	st := board.State{
		Width:   s.boardWidth,
		Height:  s.boardHeight,
		CursorY: s.boardCursorY,
	}
	if s.lastSnapshot != nil {
		st.StudentMaxY = s.lastSnapshot.StudentMaxY
	}
	return st
}

// SetBoardCursor records where free space starts below the tutor's writing.
func (s *Session) SetBoardCursor(y float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.boardCursorY = y
	if y == 0 {
		// A cleared board starts at the top of the viewport again.
		s.viewportY = 0
	}
}

// ViewportY returns the world y-coordinate of the top of the client's
// visible viewport.
func (s *Session) ViewportY() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.viewportY
}

// AdvanceViewport records that the client was asked to pan down by delta.
func (s *Session) AdvanceViewport(delta float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.viewportY += delta
}

// BoardStateContext returns a short note describing the whiteboard state for
// the LLM, or "" when the board is blank. Vertical placement is handled by
// the rebase pass, so the note always directs the LLM to its fixed origin.
func (s *Session) BoardStateContext() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	effectiveY := s.boardCursorY - s.viewportY
	if effectiveY <= 0 {
		return ""
	}
	if float64(s.boardHeight)-effectiveY < nearlyFullThreshold {
		return "[Whiteboard: nearly full — board will auto-scroll on your next write. " +
			"Write at your normal starting position x=80, y=140.]"
	}
	return "[Whiteboard: has existing content. Your writing will be placed below it " +
		"automatically — always use x=80, y=140 as your starting position.]"
}

// ─── timing ─────────────────────────────────────────────────────────────────

// Times returns the timestamps the proactive scheduler evaluates.
func (s *Session) Times() (studentSpoke, tutorSpoke, proactive, snapshot time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastStudentSpokeAt, s.lastTutorSpokeAt, s.lastProactiveAt, s.lastSnapshotAt
}

// MarkProactiveCheck stamps the proactive-check timer.
func (s *Session) MarkProactiveCheck() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastProactiveAt = time.Now()
}

// StartedAt returns when the session was created.
func (s *Session) StartedAt() time.Time {
	return s.startedAt
}
