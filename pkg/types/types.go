// Package types defines the shared types used across all Adatutor packages.
//
// These types form the lingua franca between the connection gateway, the turn
// orchestrator, the board layout engine, and the stroke synthesizer. They are
// intentionally minimal — each package defines its own domain types, but
// cross-cutting data structures live here to avoid circular imports.
package types

import "time"

// TutorMode is the tutor's conversational stance, chosen by the LLM on every
// turn and mirrored to the client via state_update messages.
type TutorMode string

const (
	// ModeListening means the tutor is waiting for the student to speak.
	ModeListening TutorMode = "listening"

	// ModeGuiding means the tutor is asking Socratic questions.
	ModeGuiding TutorMode = "guiding"

	// ModeDemonstrating means the tutor is actively working on the board.
	ModeDemonstrating TutorMode = "demonstrating"

	// ModeEvaluating means the tutor is reviewing the student's board work.
	ModeEvaluating TutorMode = "evaluating"
)

// IsValid reports whether m is a recognised tutor mode.
func (m TutorMode) IsValid() bool {
	switch m {
	case ModeListening, ModeGuiding, ModeDemonstrating, ModeEvaluating:
		return true
	}
	return false
}

// Role identifies the author of a conversation turn.
type Role string

const (
	// RoleStudent marks turns spoken (or typed) by the student.
	RoleStudent Role = "student"

	// RoleTutor marks turns generated by the LLM and spoken via TTS.
	RoleTutor Role = "tutor"
)

// Turn is one entry in a session's conversation history. History is
// append-only for the lifetime of the session and never rewritten.
type Turn struct {
	Role      Role
	Content   string
	Timestamp time.Time
}

// Position is a point on the whiteboard in world (page) coordinates.
// Y grows downward; the canvas extends indefinitely below the origin.
type Position struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// Area is an axis-aligned rectangle on the whiteboard, used by underline
// actions to mark a region of existing content.
type Area struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
	W float64 `json:"w"`
	H float64 `json:"h"`
}

// ActionType discriminates the board action variants produced by the LLM.
type ActionType string

const (
	// ActionWrite places handwritten text or a rendered LaTeX expression.
	ActionWrite ActionType = "write"

	// ActionUnderline draws attention to an area of existing content.
	ActionUnderline ActionType = "underline"

	// ActionClear wipes the board and resets the tutor's writing cursor.
	ActionClear ActionType = "clear"
)

// WriteFormat selects the synthesis path for a write action.
type WriteFormat string

const (
	// FormatText renders content through the handwriting font synthesizer.
	FormatText WriteFormat = "text"

	// FormatLatex renders content through the LaTeX-to-SVG microservice.
	FormatLatex WriteFormat = "latex"
)

// BoardAction is one board mutation proposed by the LLM. Exactly one variant
// is active, selected by Type; the remaining fields are variant-specific.
type BoardAction struct {
	Type ActionType `json:"type"`

	// Write fields.
	Content  string      `json:"content,omitempty"`
	Format   WriteFormat `json:"format,omitempty"`
	Position *Position   `json:"position,omitempty"`

	// Underline field.
	Area *Area `json:"area,omitempty"`

	// Color is a hex color string such as "#000000". Applies to write and
	// underline actions.
	Color string `json:"color,omitempty"`
}

// StrokePoint is a single sampled point of a handwriting stroke.
type StrokePoint struct {
	X        float64 `json:"x"`
	Y        float64 `json:"y"`
	Pressure float64 `json:"pressure"`
}

// Stroke is one continuous pen-down polyline.
type Stroke struct {
	Points []StrokePoint `json:"points"`
	Color  string        `json:"color"`
	Width  float64       `json:"width"`
}

// StrokeBatch bundles the strokes of one write action together with the
// animation pacing the client should use when drawing them.
type StrokeBatch struct {
	Strokes  []Stroke `json:"strokes"`
	Position Position `json:"position"`

	// AnimationSpeed is the number of points the client advances per frame
	// pair at 60 fps. Calibrated so writing finishes roughly when the
	// tutor's speech does.
	AnimationSpeed float64 `json:"animation_speed"`
}

// Snapshot is the most recent whiteboard image received from the client.
// It is overwritten on every board_snapshot message, never queued, and is
// immutable after publish — readers copy the struct under the session lock
// and release it before processing.
type Snapshot struct {
	ImageBase64 string
	Width       int
	Height      int

	// StudentMaxY is the bottommost world y-coordinate of student-drawn
	// content, as reported by the client. Zero when unknown.
	StudentMaxY float64

	TakenAt time.Time
}

// LLMResult is the structured document returned by one LLM turn. The JSON
// field names match the response schema the model is prompted to produce.
type LLMResult struct {
	Speech         string        `json:"speech"`
	BoardActions   []BoardAction `json:"board_actions"`
	TutorState     TutorMode     `json:"tutor_state"`
	WaitForStudent bool          `json:"wait_for_student"`
}
