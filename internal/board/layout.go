// Package board tracks whiteboard geometry for a tutoring session and keeps
// the tutor's writing from colliding with what is already on the canvas.
//
// The LLM is prompted to write at a fixed origin and has no reliable sense of
// board state, so every turn's board actions pass through three steps here:
// normalization (wrap long content into line-sized writes), rebasing (shift
// the block below existing content, clearing the board when it would not
// fit), and cursor advancement (record where free space starts for the next
// turn).
package board

import (
	"strings"

	"github.com/MrWong99/adatutor/pkg/types"
)

const (
	// lineStep is the vertical distance between wrapped handwriting lines.
	lineStep = 52.0

	// cursorPad accounts for ~26 px cap height plus line spacing below a
	// write's origin when advancing the cursor.
	cursorPad = 50.0

	// rebaseGap is left between existing content and a new block.
	rebaseGap = 20.0

	// marginBelowStudent keeps tutor writing clear of the student's lowest
	// drawing when a snapshot reports it.
	marginBelowStudent = 20.0

	defaultWriteX = 80.0
	defaultWriteY = 140.0
)

// State is the board geometry snapshot a layout pass operates on.
type State struct {
	// Width and Height are the client canvas dimensions in pixels. Zero
	// means the client has not reported them yet.
	Width  int
	Height int

	// CursorY is where free space starts below the tutor's own writing.
	// Zero means the board is empty of tutor content.
	CursorY float64

	// StudentMaxY is the lowest y-coordinate of student drawing, as reported
	// by the latest snapshot. Zero when unknown.
	StudentMaxY float64
}

// Layout normalizes, rebases, and tracks tutor board actions.
type Layout struct {
	// writeXOverride, when positive, forces all write actions to this
	// x-coordinate.
	writeXOverride float64
}

// NewLayout creates a Layout. writeXOverride <= 0 leaves x-coordinates as the
// LLM placed them (clamped to the visible board).
func NewLayout(writeXOverride float64) *Layout {
	return &Layout{writeXOverride: writeXOverride}
}

// Normalize splits write actions into drawable lines that fit the board
// width, dropping empty writes and passing other action types through. Long
// content is wrapped to avoid right-edge clipping; embedded newlines become
// separate line actions. LaTeX writes are never wrapped — the renderer scales
// them to fit instead.
func (l *Layout) Normalize(actions []types.BoardAction, st State) []types.BoardAction {
	if len(actions) == 0 {
		return nil
	}

	usableWidth := 360.0
	if w := float64(st.Width) - 160; w > usableWidth {
		usableWidth = w
	}
	// Handwriting averages roughly 12-14 px per character.
	charsPerLine := int(usableWidth / 13)
	if charsPerLine < 18 {
		charsPerLine = 18
	} else if charsPerLine > 80 {
		charsPerLine = 80
	}

	var out []types.BoardAction
	for _, action := range actions {
		if action.Type != types.ActionWrite {
			out = append(out, action)
			continue
		}
		content := strings.TrimSpace(action.Content)
		if content == "" {
			continue
		}

		baseX, baseY := defaultWriteX, defaultWriteY
		if action.Position != nil {
			baseX = action.Position.X
			baseY = action.Position.Y
		}
		baseX = l.clampX(baseX, st)

		if action.Format == types.FormatLatex {
			a := action
			a.Content = content
			a.Position = &types.Position{X: baseX, Y: baseY}
			out = append(out, a)
			continue
		}

		var lines []string
		for _, logical := range strings.Split(content, "\n") {
			logical = strings.TrimSpace(logical)
			if logical == "" {
				continue
			}
			lines = append(lines, wrapLine(logical, charsPerLine)...)
		}
		if len(lines) == 0 {
			lines = []string{content}
		}

		for i, line := range lines {
			out = append(out, types.BoardAction{
				Type:     types.ActionWrite,
				Content:  line,
				Format:   action.Format,
				Position: &types.Position{X: baseX, Y: baseY + float64(i)*lineStep},
				Color:    action.Color,
			})
		}
	}
	return out
}

// clampX keeps an x-coordinate within the visible board, honouring the
// configured override.
func (l *Layout) clampX(x float64, st State) float64 {
	if l.writeXOverride > 0 {
		return l.writeXOverride
	}
	maxX := 80.0
	if w := float64(st.Width) - 220; w > maxX {
		maxX = w
	}
	if x < 20 {
		x = 20
	}
	if x > maxX {
		x = maxX
	}
	return x
}

// Rebase shifts write-action y-coordinates so new content starts below
// everything already on the board, regardless of what coordinates the LLM
// picked. When the remaining canvas cannot fit the block, a clear action is
// prepended and the block keeps its original coordinates on the fresh board.
// Underline actions are shifted by the same delta as the writes around them.
func (l *Layout) Rebase(actions []types.BoardAction, st State) []types.BoardAction {
	minY, maxY, haveWrites := writeYBounds(actions)
	if !haveWrites {
		return actions
	}

	yBase := st.CursorY
	if s := st.StudentMaxY + marginBelowStudent; st.StudentMaxY > 0 && s > yBase {
		yBase = s
	}
	if yBase == 0 {
		return actions
	}
	targetY := yBase + rebaseGap

	// LLM already placed the block below existing content.
	if minY >= targetY {
		return actions
	}

	contentHeight := maxY - minY
	boardLimitY := worldLimit(st.Height)

	// Canvas can't fit the new block — auto-clear and start fresh.
	if targetY+contentHeight > boardLimitY {
		out := make([]types.BoardAction, 0, len(actions)+1)
		out = append(out, types.BoardAction{Type: types.ActionClear})
		return append(out, actions...)
	}

	offset := targetY - minY
	out := make([]types.BoardAction, len(actions))
	for i, action := range actions {
		switch action.Type {
		case types.ActionWrite:
			if action.Position != nil {
				action.Position = &types.Position{X: action.Position.X, Y: action.Position.Y + offset}
			}
		case types.ActionUnderline:
			if action.Area != nil {
				area := *action.Area
				area.Y += offset
				action.Area = &area
			}
		}
		out[i] = action
	}
	return out
}

// AdvanceCursor returns the cursor position after the given actions were
// drawn. A clear resets the cursor before later writes are scanned, so a
// clear-then-write sequence lands the cursor below the fresh content.
func (l *Layout) AdvanceCursor(cursorY float64, actions []types.BoardAction) float64 {
	maxY := cursorY
	for _, action := range actions {
		switch action.Type {
		case types.ActionClear:
			maxY = 0
		case types.ActionWrite:
			if action.Position != nil && action.Position.Y+cursorPad > maxY {
				maxY = action.Position.Y + cursorPad
			}
		}
	}
	return maxY
}

// worldLimit is the y-coordinate past which the canvas is considered full.
// The world canvas extends one screenful below the visible viewport; the
// client pans down via scroll_board until the world limit forces a clear.
func worldLimit(height int) float64 {
	limit := 280.0
	if h := 2*float64(height) - 20; h > limit {
		limit = h
	}
	return limit
}

// ScrollDelta returns how far the client should pan down so the write cursor
// stays visible, given the current viewport top. Zero means no pan is needed.
func ScrollDelta(cursorY, viewportY float64, height int) float64 {
	if height <= 0 {
		return 0
	}
	visibleBottom := viewportY + float64(height) - 60
	if cursorY > visibleBottom {
		return cursorY - visibleBottom
	}
	return 0
}

// MaxLatexWidth returns the width budget for a rendered equation on a board
// of the given pixel width.
func MaxLatexWidth(boardWidth int) float64 {
	w := float64(boardWidth) - 180
	if w < 240 {
		return 240
	}
	return w
}

// writeYBounds returns the min and max y of write actions with positions.
func writeYBounds(actions []types.BoardAction) (minY, maxY float64, ok bool) {
	for _, a := range actions {
		if a.Type != types.ActionWrite || a.Position == nil {
			continue
		}
		y := a.Position.Y
		if !ok {
			minY, maxY, ok = y, y, true
			continue
		}
		if y < minY {
			minY = y
		}
		if y > maxY {
			maxY = y
		}
	}
	return minY, maxY, ok
}

// wrapLine breaks a line into chunks of at most width characters without
// splitting words. A single word longer than width stays on its own line.
func wrapLine(line string, width int) []string {
	words := strings.Fields(line)
	if len(words) == 0 {
		return nil
	}

	var (
		out []string
		cur strings.Builder
	)
	for _, word := range words {
		if cur.Len() == 0 {
			cur.WriteString(word)
			continue
		}
		if cur.Len()+1+len(word) > width {
			out = append(out, cur.String())
			cur.Reset()
			cur.WriteString(word)
			continue
		}
		cur.WriteByte(' ')
		cur.WriteString(word)
	}
	if cur.Len() > 0 {
		out = append(out, cur.String())
	}
	return out
}
