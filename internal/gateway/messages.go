package gateway

import "github.com/MrWong99/adatutor/pkg/types"

// Client → server message types.
const (
	TypeSessionStart  = "session_start"
	TypeAudioStart    = "audio_start"
	TypeAudioData     = "audio_data"
	TypeAudioStop     = "audio_stop"
	TypeTranscript    = "transcript"
	TypeBoardSnapshot = "board_snapshot"
	TypeBargeIn       = "barge_in"
)

// Server → client message types.
const (
	TypeConnected         = "connected"
	TypeSpeechText        = "speech_text"
	TypeAudioChunk        = "audio_chunk"
	TypeStrokes           = "strokes"
	TypeBoardAction       = "board_action"
	TypeTranscriptInterim = "transcript_interim"
	TypeStateUpdate       = "state_update"
	TypeScrollBoard       = "scroll_board"
	TypeSnapshotReceived  = "snapshot_received"
	TypeError             = "error"
)

// Inbound is the decoded client→server envelope. The client multiplexes all
// message kinds over one flat JSON object; fields not used by a given type
// stay at their zero value.
type Inbound struct {
	Type string `json:"type"`

	// session_start
	Subject string `json:"subject,omitempty"`

	// audio_data: base64-encoded opus-in-webm. Binary WebSocket frames skip
	// the base64 round trip and arrive in Binary instead.
	Data   string `json:"data,omitempty"`
	Binary []byte `json:"-"`

	// transcript
	Text string `json:"text,omitempty"`

	// board_snapshot
	ImageBase64 string  `json:"image_base64,omitempty"`
	Width       float64 `json:"width,omitempty"`
	Height      float64 `json:"height,omitempty"`
	StudentMaxY float64 `json:"student_max_y,omitempty"`
}

// Connected is the handshake acknowledgement, sent exactly once per
// connection before any other outbound message.
type Connected struct {
	Type      string `json:"type"`
	SessionID string `json:"session_id"`
	Message   string `json:"message"`
}

// NewConnected builds the handshake message.
func NewConnected(sessionID, message string) Connected {
	return Connected{Type: TypeConnected, SessionID: sessionID, Message: message}
}

// SpeechText carries the tutor's spoken text for a turn. It always precedes
// the first audio chunk of the same turn.
type SpeechText struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

// NewSpeechText builds a speech_text message.
func NewSpeechText(text string) SpeechText {
	return SpeechText{Type: TypeSpeechText, Text: text}
}

// AudioChunk carries base64-encoded pcm16le@22050Hz mono audio.
type AudioChunk struct {
	Type string `json:"type"`
	Data string `json:"data"`
}

// NewAudioChunk builds an audio_chunk message.
func NewAudioChunk(data string) AudioChunk {
	return AudioChunk{Type: TypeAudioChunk, Data: data}
}

// Strokes carries one synthesized handwriting batch for the client to
// animate.
type Strokes struct {
	Type    string             `json:"type"`
	Strokes *types.StrokeBatch `json:"strokes"`
}

// NewStrokes builds a strokes message.
func NewStrokes(batch *types.StrokeBatch) Strokes {
	return Strokes{Type: TypeStrokes, Strokes: batch}
}

// BoardActionMsg carries a non-stroke board mutation (underline, clear).
type BoardActionMsg struct {
	Type   string            `json:"type"`
	Action types.BoardAction `json:"action"`
}

// NewBoardAction builds a board_action message.
func NewBoardAction(action types.BoardAction) BoardActionMsg {
	return BoardActionMsg{Type: TypeBoardAction, Action: action}
}

// TranscriptInterim echoes the last recognized student phrase so the client
// can show live captions.
type TranscriptInterim struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

// NewTranscriptInterim builds a transcript_interim message.
func NewTranscriptInterim(text string) TranscriptInterim {
	return TranscriptInterim{Type: TypeTranscriptInterim, Text: text}
}

// StateUpdate reports the tutor's mode after a turn completes.
type StateUpdate struct {
	Type           string `json:"type"`
	TutorState     string `json:"tutor_state"`
	WaitForStudent bool   `json:"wait_for_student"`
}

// NewStateUpdate builds a state_update message.
func NewStateUpdate(tutorState string, waitForStudent bool) StateUpdate {
	return StateUpdate{Type: TypeStateUpdate, TutorState: tutorState, WaitForStudent: waitForStudent}
}

// ScrollBoard asks the client to pan its viewport down by scroll_by pixels so
// the tutor's cursor stays visible.
type ScrollBoard struct {
	Type     string `json:"type"`
	ScrollBy int    `json:"scroll_by"`
}

// NewScrollBoard builds a scroll_board message.
func NewScrollBoard(scrollBy int) ScrollBoard {
	return ScrollBoard{Type: TypeScrollBoard, ScrollBy: scrollBy}
}

// BargeInNotice tells the client the tutor's output was interrupted: stop
// audio playback and stroke animation immediately.
type BargeInNotice struct {
	Type string `json:"type"`
}

// NewBargeInNotice builds an outbound barge_in message.
func NewBargeInNotice() BargeInNotice {
	return BargeInNotice{Type: TypeBargeIn}
}

// SnapshotReceived acknowledges a stored board snapshot with the running
// count for this session.
type SnapshotReceived struct {
	Type  string `json:"type"`
	Count int    `json:"count"`
}

// NewSnapshotReceived builds a snapshot_received acknowledgement.
func NewSnapshotReceived(count int) SnapshotReceived {
	return SnapshotReceived{Type: TypeSnapshotReceived, Count: count}
}

// ErrorMessage reports a non-fatal error. The session stays open.
type ErrorMessage struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

// NewError builds an error message.
func NewError(message string) ErrorMessage {
	return ErrorMessage{Type: TypeError, Message: message}
}
