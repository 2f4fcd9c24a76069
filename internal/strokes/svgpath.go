package strokes

import (
	"fmt"
	"math"
	"strconv"
	"strings"
)

// point is a 2D coordinate in SVG user space.
type point struct {
	X, Y float64
}

// affine is a 2D affine transform in SVG matrix order (a b c d e f):
//
//	x' = a*x + c*y + e
//	y' = b*x + d*y + f
type affine [6]float64

// identityAffine is the no-op transform.
var identityAffine = affine{1, 0, 0, 1, 0, 0}

// mul composes two transforms: applying the result is equivalent to applying
// b first, then a.
func (a affine) mul(b affine) affine {
	return affine{
		a[0]*b[0] + a[2]*b[1],
		a[1]*b[0] + a[3]*b[1],
		a[0]*b[2] + a[2]*b[3],
		a[1]*b[2] + a[3]*b[3],
		a[0]*b[4] + a[2]*b[5] + a[4],
		a[1]*b[4] + a[3]*b[5] + a[5],
	}
}

// apply transforms a point.
func (a affine) apply(p point) point {
	return point{
		X: a[0]*p.X + a[2]*p.Y + a[4],
		Y: a[1]*p.X + a[3]*p.Y + a[5],
	}
}

// parseTransform parses an SVG transform attribute. Only matrix, translate,
// and scale are honoured; MathJax output uses nothing else. Unknown functions
// are skipped.
func parseTransform(s string) affine {
	current := identityAffine
	rest := s
	for {
		open := strings.IndexByte(rest, '(')
		if open < 0 {
			break
		}
		fn := strings.TrimSpace(rest[:open])
		// The function name is the trailing identifier before the paren.
		if i := strings.LastIndexAny(fn, " \t\n,)"); i >= 0 {
			fn = fn[i+1:]
		}
		closeIdx := strings.IndexByte(rest[open:], ')')
		if closeIdx < 0 {
			break
		}
		args := splitFloats(rest[open+1 : open+closeIdx])
		rest = rest[open+closeIdx+1:]

		var m affine
		switch {
		case fn == "matrix" && len(args) == 6:
			m = affine{args[0], args[1], args[2], args[3], args[4], args[5]}
		case fn == "translate" && len(args) >= 1:
			ty := 0.0
			if len(args) >= 2 {
				ty = args[1]
			}
			m = affine{1, 0, 0, 1, args[0], ty}
		case fn == "scale" && len(args) >= 1:
			sy := args[0]
			if len(args) >= 2 {
				sy = args[1]
			}
			m = affine{args[0], 0, 0, sy, 0, 0}
		default:
			continue
		}
		current = current.mul(m)
	}
	return current
}

// splitFloats parses a comma/whitespace separated list of numbers, ignoring
// anything unparsable.
func splitFloats(s string) []float64 {
	fields := strings.FieldsFunc(s, func(r rune) bool {
		return r == ',' || r == ' ' || r == '\t' || r == '\n' || r == '\r'
	})
	out := make([]float64, 0, len(fields))
	for _, f := range fields {
		v, err := strconv.ParseFloat(f, 64)
		if err != nil {
			continue
		}
		out = append(out, v)
	}
	return out
}

// ─── path parsing ───────────────────────────────────────────────────────────

// curve flattening resolution. Glyph outlines are small; a fixed subdivision
// keeps the error well under a pixel at whiteboard scale.
const (
	quadSteps  = 8
	cubicSteps = 12
	arcStepDeg = 15.0
)

// samplePath parses an SVG path "d" attribute, flattens it to a polyline, and
// returns points resampled evenly by arc length. The sample count scales with
// path length, clamped to [12, 220]. Returns nil on a malformed path.
func samplePath(d string) []point {
	poly, err := flattenPath(d)
	if err != nil || len(poly) < 2 {
		return nil
	}

	total := polylineLength(poly)
	if total <= 0 {
		return nil
	}
	n := int(total / 3.0)
	if n < 12 {
		n = 12
	}
	if n > 220 {
		n = 220
	}
	return resampleByLength(poly, n+1)
}

// pathScanner tokenises an SVG path data string.
type pathScanner struct {
	data string
	pos  int
}

func (s *pathScanner) skipSeparators() {
	for s.pos < len(s.data) {
		c := s.data[s.pos]
		if c == ' ' || c == ',' || c == '\t' || c == '\n' || c == '\r' {
			s.pos++
			continue
		}
		return
	}
}

// peekCommand returns the next command letter without consuming it, or 0.
func (s *pathScanner) peekCommand() byte {
	s.skipSeparators()
	if s.pos >= len(s.data) {
		return 0
	}
	c := s.data[s.pos]
	if (c >= 'A' && c <= 'Z') || (c >= 'a' && c <= 'z') {
		return c
	}
	return 0
}

func (s *pathScanner) nextCommand() byte {
	c := s.peekCommand()
	if c != 0 {
		s.pos++
	}
	return c
}

// number consumes one float, including exponent notation and leading signs.
func (s *pathScanner) number() (float64, error) {
	s.skipSeparators()
	start := s.pos
	if s.pos < len(s.data) && (s.data[s.pos] == '+' || s.data[s.pos] == '-') {
		s.pos++
	}
	seenDot := false
	for s.pos < len(s.data) {
		c := s.data[s.pos]
		if c >= '0' && c <= '9' {
			s.pos++
			continue
		}
		if c == '.' && !seenDot {
			seenDot = true
			s.pos++
			continue
		}
		if (c == 'e' || c == 'E') && s.pos > start {
			s.pos++
			if s.pos < len(s.data) && (s.data[s.pos] == '+' || s.data[s.pos] == '-') {
				s.pos++
			}
			continue
		}
		break
	}
	if s.pos == start {
		return 0, fmt.Errorf("strokes: expected number at offset %d", start)
	}
	return strconv.ParseFloat(s.data[start:s.pos], 64)
}

// hasMoreArgs reports whether another numeric argument follows before the next
// command letter.
func (s *pathScanner) hasMoreArgs() bool {
	s.skipSeparators()
	if s.pos >= len(s.data) {
		return false
	}
	c := s.data[s.pos]
	return (c >= '0' && c <= '9') || c == '-' || c == '+' || c == '.'
}

// flattenPath converts path data into a single polyline. Subpaths are
// concatenated; MoveTo breaks are preserved as direct jumps, matching how the
// sampled contour is rendered as one continuous stroke.
func flattenPath(d string) ([]point, error) {
	sc := &pathScanner{data: d}
	var (
		out       []point
		cur       point
		start     point
		prevCtrl  point
		prevCmd   byte
		haveStart bool
	)

	emit := func(p point) {
		out = append(out, p)
		cur = p
	}

	for {
		cmd := sc.nextCommand()
		if cmd == 0 {
			break
		}
		rel := cmd >= 'a'
		upper := cmd
		if rel {
			upper = cmd - 'a' + 'A'
		}

		for first := true; first || sc.hasMoreArgs(); first = false {
			switch upper {
			case 'M':
				x, err := sc.number()
				if err != nil {
					return nil, err
				}
				y, err := sc.number()
				if err != nil {
					return nil, err
				}
				p := point{x, y}
				if rel {
					p = point{cur.X + x, cur.Y + y}
				}
				emit(p)
				start = p
				haveStart = true
				// Subsequent pairs are implicit LineTo.
				upper = 'L'

			case 'L':
				x, err := sc.number()
				if err != nil {
					return nil, err
				}
				y, err := sc.number()
				if err != nil {
					return nil, err
				}
				p := point{x, y}
				if rel {
					p = point{cur.X + x, cur.Y + y}
				}
				emit(p)

			case 'H':
				x, err := sc.number()
				if err != nil {
					return nil, err
				}
				if rel {
					x += cur.X
				}
				emit(point{x, cur.Y})

			case 'V':
				y, err := sc.number()
				if err != nil {
					return nil, err
				}
				if rel {
					y += cur.Y
				}
				emit(point{cur.X, y})

			case 'C', 'S':
				var c1 point
				if upper == 'S' {
					c1 = cur
					if prevCmd == 'C' || prevCmd == 'S' {
						c1 = point{2*cur.X - prevCtrl.X, 2*cur.Y - prevCtrl.Y}
					}
				} else {
					x, err := sc.number()
					if err != nil {
						return nil, err
					}
					y, err := sc.number()
					if err != nil {
						return nil, err
					}
					c1 = point{x, y}
					if rel {
						c1 = point{cur.X + x, cur.Y + y}
					}
				}
				x2, err := sc.number()
				if err != nil {
					return nil, err
				}
				y2, err := sc.number()
				if err != nil {
					return nil, err
				}
				x3, err := sc.number()
				if err != nil {
					return nil, err
				}
				y3, err := sc.number()
				if err != nil {
					return nil, err
				}
				c2 := point{x2, y2}
				end := point{x3, y3}
				if rel {
					c2 = point{cur.X + x2, cur.Y + y2}
					end = point{cur.X + x3, cur.Y + y3}
				}
				p0 := cur
				for i := 1; i <= cubicSteps; i++ {
					t := float64(i) / cubicSteps
					emit(cubicAt(p0, c1, c2, end, t))
				}
				prevCtrl = c2

			case 'Q', 'T':
				var c1 point
				if upper == 'T' {
					c1 = cur
					if prevCmd == 'Q' || prevCmd == 'T' {
						c1 = point{2*cur.X - prevCtrl.X, 2*cur.Y - prevCtrl.Y}
					}
				} else {
					x, err := sc.number()
					if err != nil {
						return nil, err
					}
					y, err := sc.number()
					if err != nil {
						return nil, err
					}
					c1 = point{x, y}
					if rel {
						c1 = point{cur.X + x, cur.Y + y}
					}
				}
				x2, err := sc.number()
				if err != nil {
					return nil, err
				}
				y2, err := sc.number()
				if err != nil {
					return nil, err
				}
				end := point{x2, y2}
				if rel {
					end = point{cur.X + x2, cur.Y + y2}
				}
				p0 := cur
				for i := 1; i <= quadSteps; i++ {
					t := float64(i) / quadSteps
					emit(quadAt(p0, c1, end, t))
				}
				prevCtrl = c1

			case 'A':
				rx, err := sc.number()
				if err != nil {
					return nil, err
				}
				ry, err := sc.number()
				if err != nil {
					return nil, err
				}
				rot, err := sc.number()
				if err != nil {
					return nil, err
				}
				largeArc, err := sc.number()
				if err != nil {
					return nil, err
				}
				sweep, err := sc.number()
				if err != nil {
					return nil, err
				}
				x, err := sc.number()
				if err != nil {
					return nil, err
				}
				y, err := sc.number()
				if err != nil {
					return nil, err
				}
				end := point{x, y}
				if rel {
					end = point{cur.X + x, cur.Y + y}
				}
				for _, p := range flattenArc(cur, rx, ry, rot, largeArc != 0, sweep != 0, end) {
					emit(p)
				}

			case 'Z':
				if haveStart {
					emit(start)
				}
				// Z takes no arguments; break the repeat loop.
				first = false
			default:
				return nil, fmt.Errorf("strokes: unknown path command %q", cmd)
			}

			if upper == 'Z' {
				break
			}
			prevCmd = upper
		}
	}
	return out, nil
}

// quadAt evaluates a quadratic Bézier at t.
func quadAt(p0, c, p1 point, t float64) point {
	u := 1 - t
	return point{
		X: u*u*p0.X + 2*u*t*c.X + t*t*p1.X,
		Y: u*u*p0.Y + 2*u*t*c.Y + t*t*p1.Y,
	}
}

// cubicAt evaluates a cubic Bézier at t.
func cubicAt(p0, c1, c2, p1 point, t float64) point {
	u := 1 - t
	return point{
		X: u*u*u*p0.X + 3*u*u*t*c1.X + 3*u*t*t*c2.X + t*t*t*p1.X,
		Y: u*u*u*p0.Y + 3*u*u*t*c1.Y + 3*u*t*t*c2.Y + t*t*t*p1.Y,
	}
}

// flattenArc converts an SVG elliptical arc to line segments using the
// center parameterization from the SVG spec (appendix B.2.4).
func flattenArc(from point, rx, ry, rotDeg float64, largeArc, sweep bool, to point) []point {
	if rx == 0 || ry == 0 {
		return []point{to}
	}
	rx, ry = math.Abs(rx), math.Abs(ry)

	phi := rotDeg * math.Pi / 180
	cosPhi, sinPhi := math.Cos(phi), math.Sin(phi)

	dx2 := (from.X - to.X) / 2
	dy2 := (from.Y - to.Y) / 2
	x1p := cosPhi*dx2 + sinPhi*dy2
	y1p := -sinPhi*dx2 + cosPhi*dy2

	// Scale radii up if the endpoints are too far apart.
	lambda := (x1p*x1p)/(rx*rx) + (y1p*y1p)/(ry*ry)
	if lambda > 1 {
		s := math.Sqrt(lambda)
		rx *= s
		ry *= s
	}

	num := rx*rx*ry*ry - rx*rx*y1p*y1p - ry*ry*x1p*x1p
	den := rx*rx*y1p*y1p + ry*ry*x1p*x1p
	var coef float64
	if den != 0 && num > 0 {
		coef = math.Sqrt(num / den)
	}
	if largeArc == sweep {
		coef = -coef
	}
	cxp := coef * rx * y1p / ry
	cyp := -coef * ry * x1p / rx

	cx := cosPhi*cxp - sinPhi*cyp + (from.X+to.X)/2
	cy := sinPhi*cxp + cosPhi*cyp + (from.Y+to.Y)/2

	theta1 := math.Atan2((y1p-cyp)/ry, (x1p-cxp)/rx)
	theta2 := math.Atan2((-y1p-cyp)/ry, (-x1p-cxp)/rx)
	delta := theta2 - theta1
	if sweep && delta < 0 {
		delta += 2 * math.Pi
	} else if !sweep && delta > 0 {
		delta -= 2 * math.Pi
	}

	steps := int(math.Ceil(math.Abs(delta) / (arcStepDeg * math.Pi / 180)))
	if steps < 1 {
		steps = 1
	}
	out := make([]point, 0, steps)
	for i := 1; i <= steps; i++ {
		theta := theta1 + delta*float64(i)/float64(steps)
		x := cx + rx*math.Cos(theta)*cosPhi - ry*math.Sin(theta)*sinPhi
		y := cy + rx*math.Cos(theta)*sinPhi + ry*math.Sin(theta)*cosPhi
		out = append(out, point{x, y})
	}
	return out
}

// polylineLength returns the total length of a polyline.
func polylineLength(pts []point) float64 {
	var total float64
	for i := 1; i < len(pts); i++ {
		total += math.Hypot(pts[i].X-pts[i-1].X, pts[i].Y-pts[i-1].Y)
	}
	return total
}

// resampleByLength returns n points evenly spaced by arc length along pts.
// The first and last input points are always included.
func resampleByLength(pts []point, n int) []point {
	if n < 2 || len(pts) < 2 {
		return pts
	}
	total := polylineLength(pts)
	if total <= 0 {
		return pts[:1]
	}

	out := make([]point, 0, n)
	out = append(out, pts[0])
	step := total / float64(n-1)
	target := step
	var walked float64

	for i := 1; i < len(pts) && len(out) < n-1; i++ {
		seg := math.Hypot(pts[i].X-pts[i-1].X, pts[i].Y-pts[i-1].Y)
		for walked+seg >= target && len(out) < n-1 {
			t := (target - walked) / seg
			out = append(out, point{
				X: pts[i-1].X + (pts[i].X-pts[i-1].X)*t,
				Y: pts[i-1].Y + (pts[i].Y-pts[i-1].Y)*t,
			})
			target += step
		}
		walked += seg
	}
	out = append(out, pts[len(pts)-1])
	return out
}
