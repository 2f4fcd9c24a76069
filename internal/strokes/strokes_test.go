package strokes

import (
	"context"
	"math"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/MrWong99/adatutor/pkg/types"
)

func TestSynthesizeProducesStrokes(t *testing.T) {
	t.Parallel()

	s, err := NewSynthesizer()
	if err != nil {
		t.Fatalf("NewSynthesizer: %v", err)
	}

	batch, err := s.Synthesize("hi", "#1a1a2e", types.Position{X: 100, Y: 200})
	if err != nil {
		t.Fatalf("Synthesize: %v", err)
	}
	if len(batch.Strokes) == 0 {
		t.Fatal("expected strokes for non-empty text")
	}
	for _, st := range batch.Strokes {
		if len(st.Points) < 2 {
			t.Errorf("stroke with %d points", len(st.Points))
		}
		if st.Color != "#1a1a2e" {
			t.Errorf("color = %q", st.Color)
		}
		for _, p := range st.Points {
			if p.X < 90 {
				t.Errorf("point x=%v left of origin", p.X)
			}
			if p.Pressure < 0.3 || p.Pressure > 1.0 {
				t.Errorf("pressure %v out of range", p.Pressure)
			}
		}
	}
}

func TestSynthesizeDeterministic(t *testing.T) {
	t.Parallel()

	s, err := NewSynthesizer()
	if err != nil {
		t.Fatalf("NewSynthesizer: %v", err)
	}

	a, err := s.Synthesize("derivative", "#000000", types.Position{X: 50, Y: 50})
	if err != nil {
		t.Fatalf("Synthesize: %v", err)
	}
	b, err := s.Synthesize("derivative", "#000000", types.Position{X: 50, Y: 50})
	if err != nil {
		t.Fatalf("Synthesize: %v", err)
	}

	if len(a.Strokes) != len(b.Strokes) {
		t.Fatalf("stroke counts differ: %d vs %d", len(a.Strokes), len(b.Strokes))
	}
	for i := range a.Strokes {
		for j := range a.Strokes[i].Points {
			if a.Strokes[i].Points[j] != b.Strokes[i].Points[j] {
				t.Fatalf("stroke %d point %d differs: %+v vs %+v",
					i, j, a.Strokes[i].Points[j], b.Strokes[i].Points[j])
			}
		}
	}
}

func TestSynthesizeNewlineAdvancesLine(t *testing.T) {
	t.Parallel()

	s, err := NewSynthesizer()
	if err != nil {
		t.Fatalf("NewSynthesizer: %v", err)
	}

	one, err := s.Synthesize("a", "#000000", types.Position{})
	if err != nil {
		t.Fatalf("Synthesize: %v", err)
	}
	two, err := s.Synthesize("a\na", "#000000", types.Position{})
	if err != nil {
		t.Fatalf("Synthesize: %v", err)
	}

	if len(two.Strokes) <= len(one.Strokes) {
		t.Fatalf("two lines should have more strokes: %d vs %d", len(two.Strokes), len(one.Strokes))
	}

	maxYOne := maxStrokeY(one.Strokes)
	maxYTwo := maxStrokeY(two.Strokes)
	if maxYTwo < maxYOne+defaultLineStep-5 {
		t.Errorf("second line not advanced: maxY %v vs %v", maxYTwo, maxYOne)
	}
}

func maxStrokeY(strokes []types.Stroke) float64 {
	max := math.Inf(-1)
	for _, st := range strokes {
		for _, p := range st.Points {
			if p.Y > max {
				max = p.Y
			}
		}
	}
	return max
}

func TestSamplePath(t *testing.T) {
	t.Parallel()

	t.Run("straight line", func(t *testing.T) {
		t.Parallel()
		pts := samplePath("M 0 0 L 100 0")
		if len(pts) < 12 {
			t.Fatalf("got %d points, want >= 12", len(pts))
		}
		first, last := pts[0], pts[len(pts)-1]
		if first.X != 0 || first.Y != 0 {
			t.Errorf("first point = %+v", first)
		}
		if math.Abs(last.X-100) > 0.01 || math.Abs(last.Y) > 0.01 {
			t.Errorf("last point = %+v", last)
		}
	})

	t.Run("relative and shorthand commands", func(t *testing.T) {
		t.Parallel()
		pts := samplePath("m 10 10 l 20 0 h 10 v 10 z")
		if len(pts) < 12 {
			t.Fatalf("got %d points, want >= 12", len(pts))
		}
	})

	t.Run("cubic curve", func(t *testing.T) {
		t.Parallel()
		pts := samplePath("M 0 0 C 0 50 100 50 100 0")
		if len(pts) < 12 {
			t.Fatalf("got %d points", len(pts))
		}
		// Curve must dip below the endpoints (y grows down in SVG space).
		var maxY float64
		for _, p := range pts {
			maxY = math.Max(maxY, p.Y)
		}
		if maxY < 20 {
			t.Errorf("curve did not bow out: maxY = %v", maxY)
		}
	})

	t.Run("quadratic curve", func(t *testing.T) {
		t.Parallel()
		if pts := samplePath("M 0 0 Q 50 80 100 0"); len(pts) < 12 {
			t.Fatalf("got %d points", len(pts))
		}
	})

	t.Run("arc", func(t *testing.T) {
		t.Parallel()
		if pts := samplePath("M 0 0 A 50 50 0 0 1 100 0"); len(pts) < 12 {
			t.Fatalf("got %d points", len(pts))
		}
	})

	t.Run("malformed", func(t *testing.T) {
		t.Parallel()
		if pts := samplePath("M x y"); pts != nil {
			t.Errorf("expected nil for malformed path, got %d points", len(pts))
		}
	})

	t.Run("empty", func(t *testing.T) {
		t.Parallel()
		if pts := samplePath(""); pts != nil {
			t.Errorf("expected nil for empty path, got %d points", len(pts))
		}
	})
}

func TestParseTransform(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name  string
		input string
		pt    point
		want  point
	}{
		{"identity", "", point{3, 4}, point{3, 4}},
		{"translate", "translate(10, 20)", point{1, 1}, point{11, 21}},
		{"translate single arg", "translate(5)", point{0, 0}, point{5, 0}},
		{"scale", "scale(2)", point{3, 4}, point{6, 8}},
		{"scale xy", "scale(2, 3)", point{1, 1}, point{2, 3}},
		{"matrix", "matrix(1 0 0 -1 0 100)", point{10, 30}, point{10, 70}},
		{"composed", "translate(10, 0) scale(2)", point{1, 0}, point{12, 0}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got := parseTransform(tt.input).apply(tt.pt)
			if math.Abs(got.X-tt.want.X) > 1e-9 || math.Abs(got.Y-tt.want.Y) > 1e-9 {
				t.Errorf("apply = %+v, want %+v", got, tt.want)
			}
		})
	}
}

func TestResampleByLength(t *testing.T) {
	t.Parallel()

	in := []point{{0, 0}, {10, 0}, {10, 10}}
	out := resampleByLength(in, 5)
	if len(out) != 5 {
		t.Fatalf("got %d points, want 5", len(out))
	}
	if out[0] != (point{0, 0}) {
		t.Errorf("first = %+v", out[0])
	}
	if out[4] != (point{10, 10}) {
		t.Errorf("last = %+v", out[4])
	}
	// Midpoint of a 20-long path is at the corner.
	if math.Abs(out[2].X-10) > 0.01 || math.Abs(out[2].Y) > 0.01 {
		t.Errorf("mid = %+v, want corner {10 0}", out[2])
	}
}

// minimal MathJax-like SVG with one square path.
const squareSVG = `<svg xmlns="http://www.w3.org/2000/svg" viewBox="0 0 100 100">
  <g transform="translate(10, 10)">
    <path d="M 0 0 L 80 0 L 80 80 L 0 80 Z"/>
  </g>
</svg>`

func TestRendererConvert(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("method = %s", r.Method)
		}
		w.Header().Set("Content-Type", "image/svg+xml")
		_, _ = w.Write([]byte(squareSVG))
	}))
	t.Cleanup(srv.Close)

	fallback, err := NewSynthesizer()
	if err != nil {
		t.Fatalf("NewSynthesizer: %v", err)
	}
	r, err := NewRenderer(srv.URL, fallback)
	if err != nil {
		t.Fatalf("NewRenderer: %v", err)
	}

	batch, err := r.Convert(context.Background(), `\frac{1}{2}`, "#000000", types.Position{X: 100, Y: 300}, 0)
	if err != nil {
		t.Fatalf("Convert: %v", err)
	}
	if len(batch.Strokes) == 0 {
		t.Fatal("expected strokes")
	}

	var minX, minY, maxY = math.Inf(1), math.Inf(1), math.Inf(-1)
	for _, st := range batch.Strokes {
		for _, p := range st.Points {
			minX = math.Min(minX, p.X)
			minY = math.Min(minY, p.Y)
			maxY = math.Max(maxY, p.Y)
		}
	}
	if math.Abs(minX-100) > 0.5 || math.Abs(minY-300) > 0.5 {
		t.Errorf("origin = (%v, %v), want (100, 300)", minX, minY)
	}
	// \frac bumps the adaptive height above the base.
	height := maxY - minY
	if height < defaultTargetHeightMin-1 || height > defaultTargetHeightMax+1 {
		t.Errorf("equation height = %v, want within [%v, %v]",
			height, defaultTargetHeightMin, defaultTargetHeightMax)
	}
}

func TestRendererConvertJSONResponse(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"svg": "` + `<svg><path d=\"M 0 0 L 50 50\"/></svg>` + `"}`))
	}))
	t.Cleanup(srv.Close)

	fallback, err := NewSynthesizer()
	if err != nil {
		t.Fatalf("NewSynthesizer: %v", err)
	}
	r, err := NewRenderer(srv.URL, fallback)
	if err != nil {
		t.Fatalf("NewRenderer: %v", err)
	}

	batch, err := r.Convert(context.Background(), "x", "#000000", types.Position{}, 0)
	if err != nil {
		t.Fatalf("Convert: %v", err)
	}
	if len(batch.Strokes) == 0 {
		t.Fatal("expected strokes from JSON-wrapped SVG")
	}
}

func TestRendererFallbackOnServiceError(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	t.Cleanup(srv.Close)

	fallback, err := NewSynthesizer()
	if err != nil {
		t.Fatalf("NewSynthesizer: %v", err)
	}
	r, err := NewRenderer(srv.URL, fallback)
	if err != nil {
		t.Fatalf("NewRenderer: %v", err)
	}

	batch, err := r.Convert(context.Background(), `\frac{1}{2}`, "#000000", types.Position{}, 0)
	if err != nil {
		t.Fatalf("Convert should degrade, not fail: %v", err)
	}
	if len(batch.Strokes) == 0 {
		t.Fatal("fallback should still produce strokes")
	}
}

func TestRendererMaxWidthClamp(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		// A very wide path: 1000 x 10 units.
		_, _ = w.Write([]byte(`<svg><path d="M 0 0 L 1000 0 L 1000 10 L 0 10 Z"/></svg>`))
	}))
	t.Cleanup(srv.Close)

	fallback, err := NewSynthesizer()
	if err != nil {
		t.Fatalf("NewSynthesizer: %v", err)
	}
	r, err := NewRenderer(srv.URL, fallback)
	if err != nil {
		t.Fatalf("NewRenderer: %v", err)
	}

	batch, err := r.Convert(context.Background(), "x+y", "#000000", types.Position{}, 200)
	if err != nil {
		t.Fatalf("Convert: %v", err)
	}

	var maxX float64
	for _, st := range batch.Strokes {
		for _, p := range st.Points {
			maxX = math.Max(maxX, p.X)
		}
	}
	if maxX > 201 {
		t.Errorf("maxX = %v, want <= 200", maxX)
	}
}

func TestEstimateTargetHeight(t *testing.T) {
	t.Parallel()

	fallback, err := NewSynthesizer()
	if err != nil {
		t.Fatalf("NewSynthesizer: %v", err)
	}
	r, err := NewRenderer("http://localhost:1", fallback)
	if err != nil {
		t.Fatalf("NewRenderer: %v", err)
	}

	simple := r.estimateTargetHeight("x+1")
	dense := r.estimateTargetHeight(`\int_0^1 \frac{\sqrt{x}}{2} dx`)
	if simple >= dense {
		t.Errorf("simple (%v) should be shorter than dense (%v)", simple, dense)
	}
	if simple < defaultTargetHeightMin || dense > defaultTargetHeightMax {
		t.Errorf("heights out of bounds: %v, %v", simple, dense)
	}
}

func TestLatexToPlain(t *testing.T) {
	t.Parallel()

	tests := []struct {
		in, want string
	}{
		{`\frac{1}{2}`, "(1)/(2)"},
		{`\sqrt{x+1}`, "sqrt(x+1)"},
		{`x^2 + y_1`, "x ^ 2 + y _ 1"},
		{`\alpha + \beta`, "alpha + beta"},
		{``, "math"},
	}
	for _, tt := range tests {
		if got := latexToPlain(tt.in); got != tt.want {
			t.Errorf("latexToPlain(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
