package strokes

import (
	"bytes"
	"context"
	"encoding/json"
	"encoding/xml"
	"fmt"
	"io"
	"log/slog"
	"math"
	"net/http"
	"regexp"
	"strings"
	"time"

	"github.com/MrWong99/adatutor/internal/resilience"
	"github.com/MrWong99/adatutor/pkg/types"
)

const (
	defaultRenderTimeout = 8 * time.Second

	defaultTargetHeight    = 34.0
	defaultTargetHeightMin = 28.0
	defaultTargetHeightMax = 44.0

	latexPressure = 0.75
)

// Renderer converts LaTeX expressions to stroke data.
//
// Pipeline: LaTeX → MathJax server-side SVG → extract <path d="..."> with
// accumulated transforms → sample evenly along each path → scale to an
// adaptive target height → StrokeBatch. When the rendering service is down or
// returns unusable SVG, the expression falls back to a plain-text
// approximation drawn by the handwriting Synthesizer.
//
// Safe for concurrent use.
type Renderer struct {
	url        string
	httpClient *http.Client
	fallback   *Synthesizer
	logger     *slog.Logger
	breaker    *resilience.CircuitBreaker

	targetHeight    float64
	targetHeightMin float64
	targetHeightMax float64
}

// RendererOption is a functional option for the Renderer.
type RendererOption func(*Renderer)

// WithHTTPClient overrides the HTTP client used to reach the render service.
func WithHTTPClient(c *http.Client) RendererOption {
	return func(r *Renderer) {
		r.httpClient = c
	}
}

// WithTargetHeights sets the base, minimum, and maximum equation heights in
// pixels for adaptive sizing.
func WithTargetHeights(base, min, max float64) RendererOption {
	return func(r *Renderer) {
		if base > 0 {
			r.targetHeight = base
		}
		if min > 0 {
			r.targetHeightMin = min
		}
		if max > 0 {
			r.targetHeightMax = max
		}
	}
}

// WithLogger sets the logger for render failures. Defaults to slog.Default.
func WithLogger(l *slog.Logger) RendererOption {
	return func(r *Renderer) {
		r.logger = l
	}
}

// NewRenderer creates a Renderer that posts to the given MathJax service URL.
// fallback must be non-nil; it draws the plain-text approximation when
// rendering fails.
func NewRenderer(url string, fallback *Synthesizer, opts ...RendererOption) (*Renderer, error) {
	if url == "" {
		return nil, fmt.Errorf("strokes: render URL must not be empty")
	}
	if fallback == nil {
		return nil, fmt.Errorf("strokes: fallback synthesizer must not be nil")
	}
	r := &Renderer{
		url:        url,
		httpClient: &http.Client{Timeout: defaultRenderTimeout},
		fallback:   fallback,
		logger:     slog.Default(),
		// A dead render service should degrade instantly, not cost every
		// equation a full HTTP timeout.
		breaker: resilience.NewCircuitBreaker(resilience.CircuitBreakerConfig{
			Name:         "latex-renderer",
			MaxFailures:  3,
			ResetTimeout: 30 * time.Second,
		}),
		targetHeight:    defaultTargetHeight,
		targetHeightMin: defaultTargetHeightMin,
		targetHeightMax: defaultTargetHeightMax,
	}
	for _, o := range opts {
		o(r)
	}
	return r, nil
}

// Convert renders a LaTeX expression as stroke data anchored at position.
// maxWidth, when positive, clamps the scaled equation to the available board
// width. Convert degrades to the plain-text fallback rather than failing.
func (r *Renderer) Convert(ctx context.Context, latex, color string, position types.Position, maxWidth float64) (*types.StrokeBatch, error) {
	if color == "" {
		color = "#000000"
	}

	var svg string
	err := r.breaker.Execute(func() error {
		var renderErr error
		svg, renderErr = r.renderSVG(ctx, latex)
		return renderErr
	})
	if err != nil {
		r.logger.Warn("latex render failed, using plain-text fallback",
			slog.String("error", err.Error()))
		return r.fallbackBatch(latex, color, position)
	}

	strokes := r.svgToStrokes(svg, latex, color, position, maxWidth)
	if len(strokes) == 0 {
		r.logger.Warn("latex svg produced no strokes, using plain-text fallback")
		return r.fallbackBatch(latex, color, position)
	}

	return &types.StrokeBatch{
		Strokes:        strokes,
		Position:       position,
		AnimationSpeed: 1.0,
	}, nil
}

// renderRequest is the JSON payload sent to the MathJax service.
type renderRequest struct {
	Latex   string `json:"latex"`
	Display bool   `json:"display"`
}

// renderSVG posts the expression to the render service and returns the SVG
// document. The service may answer with raw SVG or with {"svg": "..."}.
func (r *Renderer) renderSVG(ctx context.Context, latex string) (string, error) {
	body, _ := json.Marshal(renderRequest{Latex: latex, Display: true})

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.url, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("strokes: build render request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := r.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("strokes: render request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("strokes: render service returned status %d", resp.StatusCode)
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return "", fmt.Errorf("strokes: read render response: %w", err)
	}

	if strings.Contains(strings.ToLower(resp.Header.Get("Content-Type")), "application/json") {
		var payload struct {
			SVG string `json:"svg"`
		}
		if err := json.Unmarshal(data, &payload); err == nil && payload.SVG != "" {
			return payload.SVG, nil
		}
	}
	return string(data), nil
}

// svgElement is a recursively-parsed SVG node carrying only what stroke
// extraction needs.
type svgElement struct {
	XMLName   xml.Name
	Transform string       `xml:"transform,attr"`
	D         string       `xml:"d,attr"`
	Children  []svgElement `xml:",any"`
}

// pathEntry is a path's data string plus its accumulated transform.
type pathEntry struct {
	d  string
	tf affine
}

// svgToStrokes extracts, samples, and scales all paths in the SVG document.
func (r *Renderer) svgToStrokes(svgText, latex, color string, position types.Position, maxWidth float64) []types.Stroke {
	var root svgElement
	if err := xml.Unmarshal([]byte(svgText), &root); err != nil {
		r.logger.Warn("latex svg parse failed", slog.String("error", err.Error()))
		return nil
	}

	var entries []pathEntry
	collectPaths(root, identityAffine, &entries)
	if len(entries) == 0 {
		return nil
	}

	var (
		sampled          [][]point
		minX, minY       = math.Inf(1), math.Inf(1)
		maxX, maxY       = math.Inf(-1), math.Inf(-1)
	)
	for _, e := range entries {
		pts := samplePath(e.d)
		if len(pts) < 2 {
			continue
		}
		contour := make([]point, len(pts))
		for i, p := range pts {
			tp := e.tf.apply(p)
			contour[i] = tp
			minX = math.Min(minX, tp.X)
			minY = math.Min(minY, tp.Y)
			maxX = math.Max(maxX, tp.X)
			maxY = math.Max(maxY, tp.Y)
		}
		sampled = append(sampled, contour)
	}
	if len(sampled) == 0 || math.IsInf(minX, 1) || math.IsInf(maxY, -1) {
		return nil
	}

	srcW := math.Max(1, maxX-minX)
	srcH := math.Max(1, maxY-minY)

	// Primary normalization: adaptive equation height by expression
	// complexity. Secondary clamp keeps long equations inside the board.
	scale := r.estimateTargetHeight(latex) / srcH
	if maxWidth > 40 {
		if scaledW := srcW * scale; scaledW > maxWidth {
			scale *= maxWidth / scaledW
		}
	}

	out := make([]types.Stroke, 0, len(sampled))
	for _, contour := range sampled {
		pts := make([]types.StrokePoint, 0, len(contour))
		for _, p := range contour {
			pts = append(pts, types.StrokePoint{
				X:        position.X + (p.X-minX)*scale,
				Y:        position.Y + (p.Y-minY)*scale,
				Pressure: latexPressure,
			})
		}
		if len(pts) >= 2 {
			out = append(out, types.Stroke{Points: pts, Color: color, Width: defaultStrokeWidth})
		}
	}
	return out
}

// collectPaths walks the SVG tree accumulating transforms and collecting
// every path's data string.
func collectPaths(node svgElement, tf affine, out *[]pathEntry) {
	current := tf
	if node.Transform != "" {
		current = tf.mul(parseTransform(node.Transform))
	}
	if node.XMLName.Local == "path" && node.D != "" {
		*out = append(*out, pathEntry{d: node.D, tf: current})
	}
	for _, child := range node.Children {
		collectPaths(child, current, out)
	}
}

// Structural LaTeX commands weighted by visual density for adaptive sizing.
var latexComplexityTokens = []struct {
	re     *regexp.Regexp
	weight float64
}{
	{regexp.MustCompile(`\\frac`), 2.0},
	{regexp.MustCompile(`\\dfrac`), 2.0},
	{regexp.MustCompile(`\\tfrac`), 1.5},
	{regexp.MustCompile(`\\sqrt`), 1.4},
	{regexp.MustCompile(`\\int`), 1.8},
	{regexp.MustCompile(`\\sum`), 1.8},
	{regexp.MustCompile(`\\prod`), 1.8},
	{regexp.MustCompile(`\\lim`), 1.2},
	{regexp.MustCompile(`\\begin\{matrix\}`), 2.4},
	{regexp.MustCompile(`\\begin\{pmatrix\}`), 2.4},
	{regexp.MustCompile(`\\begin\{bmatrix\}`), 2.4},
	{regexp.MustCompile(`\\left`), 1.0},
	{regexp.MustCompile(`\\right`), 1.0},
}

// estimateTargetHeight maps expression complexity to an equation height:
// simple inline expressions stay compact while fractions, roots, integrals,
// and matrices expand so they remain legible without zoom.
func (r *Renderer) estimateTargetHeight(latex string) float64 {
	var complexity float64
	for _, tok := range latexComplexityTokens {
		complexity += float64(len(tok.re.FindAllString(latex, -1))) * tok.weight
	}
	complexity += float64(strings.Count(latex, "^")) * 0.45
	complexity += float64(strings.Count(latex, "_")) * 0.45

	// Very long expressions get a small readability bump.
	complexity += math.Min(2.0, math.Max(0.0, float64(len(latex)-24)/40.0))

	height := r.targetHeight + complexity*2.2 - 4.0
	return math.Min(r.targetHeightMax, math.Max(r.targetHeightMin, height))
}

// fallbackBatch draws a plain-text approximation of the expression.
func (r *Renderer) fallbackBatch(latex, color string, position types.Position) (*types.StrokeBatch, error) {
	return r.fallback.Synthesize(latexToPlain(latex), color, position)
}

var (
	fracRe    = regexp.MustCompile(`\\frac\s*\{([^{}]+)\}\s*\{([^{}]+)\}`)
	sqrtRe    = regexp.MustCompile(`\\sqrt\s*\{([^{}]+)\}`)
	commandRe = regexp.MustCompile(`\\([a-zA-Z]+)`)
	spaceRe   = regexp.MustCompile(`\s+`)
)

// latexToPlain rewrites a LaTeX expression into a readable plain-text
// approximation for the handwriting fallback.
func latexToPlain(text string) string {
	out := strings.TrimSpace(text)
	out = fracRe.ReplaceAllString(out, "($1)/($2)")
	out = sqrtRe.ReplaceAllString(out, "sqrt($1)")
	out = commandRe.ReplaceAllString(out, "$1")
	out = strings.NewReplacer("{", "(", "}", ")", "^", " ^ ", "_", " _ ").Replace(out)
	out = strings.TrimSpace(spaceRe.ReplaceAllString(out, " "))
	if out == "" {
		return "math"
	}
	return out
}
