// Package strokes converts tutor board content into handwriting stroke
// coordinates that the client animates onto the whiteboard.
//
// Plain text is rendered from real glyph outlines with per-point jitter so the
// result reads as handwriting rather than a font stamp. LaTeX goes through a
// MathJax rendering service and the resulting SVG outlines are sampled into
// strokes; when the renderer is unavailable the expression degrades to a
// plain-text approximation so the tutor never stalls on a formula.
package strokes

import (
	"fmt"
	"hash/fnv"
	"math"
	"math/rand"
	"sync"

	"golang.org/x/image/font"
	"golang.org/x/image/font/gofont/goitalic"
	"golang.org/x/image/font/sfnt"
	"golang.org/x/image/math/fixed"

	"github.com/MrWong99/adatutor/pkg/types"
)

const (
	// defaultFontSize is the glyph em size in pixels. Sized so a line of
	// handwriting sits comfortably inside the board's 52 px line step.
	defaultFontSize = 32

	// jitterAmplitude is the maximum per-point displacement in pixels.
	jitterAmplitude = 1.0

	// spaceAdvanceFactor widens word gaps slightly beyond the font's own
	// space advance; handwriting spreads more than print.
	spaceAdvanceFactor = 1.15

	defaultStrokeWidth = 2.0
	defaultLineStep    = 52.0
)

// Synthesizer converts plain text to handwriting strokes using glyph outlines
// from an embedded italic font, perturbed with deterministic jitter.
//
// Safe for concurrent use.
type Synthesizer struct {
	mu   sync.Mutex
	font *sfnt.Font
	buf  sfnt.Buffer

	fontSize float64
	lineStep float64
	seed     int64
	seeded   bool
}

// SynthOption is a functional option for the Synthesizer.
type SynthOption func(*Synthesizer)

// WithFontSize sets the glyph em size in pixels.
func WithFontSize(px float64) SynthOption {
	return func(s *Synthesizer) {
		s.fontSize = px
	}
}

// WithLineStep sets the vertical distance between wrapped lines in pixels.
func WithLineStep(px float64) SynthOption {
	return func(s *Synthesizer) {
		s.lineStep = px
	}
}

// WithSeed fixes the jitter seed for all renderings. Without it the seed is
// derived from the text, so identical text always produces identical strokes.
func WithSeed(seed int64) SynthOption {
	return func(s *Synthesizer) {
		s.seed = seed
		s.seeded = true
	}
}

// NewSynthesizer creates a Synthesizer backed by the embedded Go Italic font.
func NewSynthesizer(opts ...SynthOption) (*Synthesizer, error) {
	f, err := sfnt.Parse(goitalic.TTF)
	if err != nil {
		return nil, fmt.Errorf("strokes: parse embedded font: %w", err)
	}
	s := &Synthesizer{
		font:     f,
		fontSize: defaultFontSize,
		lineStep: defaultLineStep,
	}
	for _, o := range opts {
		o(s)
	}
	return s, nil
}

// Synthesize renders text as handwriting strokes anchored at position.
// Newlines in text start a new line below the previous one.
func (s *Synthesizer) Synthesize(text, color string, position types.Position) (*types.StrokeBatch, error) {
	if color == "" {
		color = "#000000"
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	ppem := fixed.Int26_6(s.fontSize * 64)
	metrics, err := s.font.Metrics(&s.buf, ppem, font.HintingNone)
	if err != nil {
		return nil, fmt.Errorf("strokes: font metrics: %w", err)
	}
	ascent := fixedToFloat(metrics.Ascent)

	rng := rand.New(rand.NewSource(s.seedFor(text)))

	var (
		out     []types.Stroke
		penX    float64
		penY    float64
		spaceAd = s.spaceAdvance(ppem)
	)

	for _, r := range text {
		switch r {
		case '\n':
			penX = 0
			penY += s.lineStep
			continue
		case ' ', '\t':
			penX += spaceAd
			continue
		}

		gi, err := s.font.GlyphIndex(&s.buf, r)
		if err != nil || gi == 0 {
			// Unknown rune: leave a gap rather than draw .notdef boxes.
			penX += spaceAd
			continue
		}

		segs, err := s.font.LoadGlyph(&s.buf, gi, ppem, nil)
		if err != nil {
			penX += spaceAd
			continue
		}

		origin := point{X: position.X + penX, Y: position.Y + penY + ascent}
		for _, contour := range flattenGlyph(segs) {
			st := contourToStroke(contour, origin, color, rng)
			if len(st.Points) >= 2 {
				out = append(out, st)
			}
		}

		adv, err := s.font.GlyphAdvance(&s.buf, gi, ppem, font.HintingNone)
		if err != nil {
			adv = ppem / 2
		}
		penX += fixedToFloat(adv)
	}

	return &types.StrokeBatch{
		Strokes:        out,
		Position:       position,
		AnimationSpeed: 1.0,
	}, nil
}

// seedFor derives a deterministic jitter seed from the text unless an
// explicit seed was configured.
func (s *Synthesizer) seedFor(text string) int64 {
	if s.seeded {
		return s.seed
	}
	h := fnv.New64a()
	_, _ = h.Write([]byte(text))
	return int64(h.Sum64())
}

// spaceAdvance returns the horizontal advance for a space at the given size.
func (s *Synthesizer) spaceAdvance(ppem fixed.Int26_6) float64 {
	gi, err := s.font.GlyphIndex(&s.buf, ' ')
	if err == nil && gi != 0 {
		if adv, err := s.font.GlyphAdvance(&s.buf, gi, ppem, font.HintingNone); err == nil {
			return fixedToFloat(adv) * spaceAdvanceFactor
		}
	}
	return fixedToFloat(ppem) / 3
}

// flattenGlyph converts glyph outline segments into contours of points in
// glyph space (origin on the baseline, y down).
func flattenGlyph(segs sfnt.Segments) [][]point {
	var (
		contours [][]point
		cur      []point
		pos      point
	)
	flush := func() {
		if len(cur) >= 2 {
			contours = append(contours, cur)
		}
		cur = nil
	}

	for _, seg := range segs {
		switch seg.Op {
		case sfnt.SegmentOpMoveTo:
			flush()
			pos = fixedPoint(seg.Args[0])
			cur = append(cur, pos)
		case sfnt.SegmentOpLineTo:
			p := fixedPoint(seg.Args[0])
			cur = append(cur, p)
			pos = p
		case sfnt.SegmentOpQuadTo:
			c := fixedPoint(seg.Args[0])
			end := fixedPoint(seg.Args[1])
			for i := 1; i <= quadSteps; i++ {
				t := float64(i) / quadSteps
				cur = append(cur, quadAt(pos, c, end, t))
			}
			pos = end
		case sfnt.SegmentOpCubeTo:
			c1 := fixedPoint(seg.Args[0])
			c2 := fixedPoint(seg.Args[1])
			end := fixedPoint(seg.Args[2])
			for i := 1; i <= cubicSteps; i++ {
				t := float64(i) / cubicSteps
				cur = append(cur, cubicAt(pos, c1, c2, end, t))
			}
			pos = end
		}
	}
	flush()
	return contours
}

// contourToStroke offsets a glyph contour to board coordinates, applies
// jitter, and shapes a pressure envelope that rises toward the middle of the
// stroke the way a pen does.
func contourToStroke(contour []point, origin point, color string, rng *rand.Rand) types.Stroke {
	pts := make([]types.StrokePoint, 0, len(contour))
	n := len(contour)
	for i, p := range contour {
		t := 0.0
		if n > 1 {
			t = float64(i) / float64(n-1)
		}
		pressure := 0.6 + 0.25*math.Sin(math.Pi*t) + (rng.Float64()-0.5)*0.06
		pts = append(pts, types.StrokePoint{
			X:        origin.X + p.X + (rng.Float64()*2-1)*jitterAmplitude,
			Y:        origin.Y + p.Y + (rng.Float64()*2-1)*jitterAmplitude,
			Pressure: clamp(pressure, 0.3, 1.0),
		})
	}
	return types.Stroke{Points: pts, Color: color, Width: defaultStrokeWidth}
}

func fixedPoint(p fixed.Point26_6) point {
	return point{X: fixedToFloat(p.X), Y: fixedToFloat(p.Y)}
}

func fixedToFloat(v fixed.Int26_6) float64 {
	return float64(v) / 64
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
