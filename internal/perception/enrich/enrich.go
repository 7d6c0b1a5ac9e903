// Package enrich attaches spatial context and a functional role to fused
// elements so the grounding model sees a single descriptive line per element.
package enrich

import (
	"fmt"
	"image"
	"math"
	"regexp"
	"sort"
	"strings"

	"go.uber.org/zap"

	"github.com/xkilldash9x/scalpel-pilot/api/schemas"
	"github.com/xkilldash9x/scalpel-pilot/internal/config"
	"github.com/xkilldash9x/scalpel-pilot/internal/geometry"
)

const (
	defaultMaxOCRDistance = 50.0
	contextBrowser        = "browser"
	visualSnippetLen      = 80
)

var (
	leadingArticle = regexp.MustCompile(`(?i)^(a|an|the)\s+`)
	whitespaceRun  = regexp.MustCompile(`\s+`)
)

// Enricher is stateless apart from its settings. Output is a pure function
// of the inputs.
type Enricher struct {
	logger         *zap.Logger
	maxOCRDistance float64
	context        string
}

// New creates an Enricher.
func New(cfg config.EnrichmentConfig, logger *zap.Logger) *Enricher {
	if logger == nil {
		logger = zap.NewNop()
	}
	dist := cfg.MaxOCRDistance
	if dist <= 0 {
		dist = defaultMaxOCRDistance
	}
	ctx := cfg.Context
	if ctx == "" {
		ctx = contextBrowser
	}
	return &Enricher{
		logger:         logger.Named("enrich"),
		maxOCRDistance: dist,
		context:        ctx,
	}
}

// Enrich labels every element. size is the frame size in pixels; a zero
// size means unknown and disables the positional heuristics.
func (e *Enricher) Enrich(elements []schemas.FusedElement, ocr []schemas.RawDetection, size image.Point) []schemas.EnrichedElement {
	out := make([]schemas.EnrichedElement, 0, len(elements))
	for _, el := range elements {
		out = append(out, e.enrichOne(el, ocr, size))
	}
	e.logger.Debug("Enriched elements", zap.Int("count", len(out)))
	return out
}

func (e *Enricher) enrichOne(el schemas.FusedElement, ocr []schemas.RawDetection, size image.Point) schemas.EnrichedElement {
	raw := el.Caption
	if raw == "" {
		raw = el.Description
	}
	visual := NormalizeVisual(raw)
	nearby := e.nearbyText(el, ocr)
	spatial := SpatialContext(el.Center, size, e.context)
	ftype, function := Classify(visual)

	known := size.X > 0 && size.Y > 0
	if known && strings.Contains(strings.ToLower(visual), "arrow") &&
		(function == FunctionUnknown || function == "navigation" || function == "direction") &&
		strings.Contains(spatial, "browser") {
		switch {
		case el.Center.X < float64(size.X)*0.25:
			function, ftype = "back", schemas.ElementButton
		case el.Center.X > float64(size.X)*0.75:
			function, ftype = "forward", schemas.ElementButton
		}
	}

	if (function == "search" || function == "search_or_zoom") && nearby != "" &&
		containsAny(strings.ToLower(nearby), SearchHintKeywords...) {
		ftype = schemas.ElementInput
	}

	enriched := Describe(visual, nearby, ftype, function, spatial)

	label := nearby
	if label == "" {
		label = visual
	}
	if label == "" {
		label = el.Label
	}

	fused := el
	fused.Label = label
	return schemas.EnrichedElement{
		FusedElement:        fused,
		VisualDescription:   visual,
		OCRNearby:           nearby,
		FunctionalType:      ftype,
		Function:            function,
		SpatialContext:      spatial,
		EnrichedDescription: enriched,
	}
}

// nearbyText joins OCR texts centered inside the element, ordered by center
// y as fusion orders them.
// Failing that it returns the closest OCR text within the distance cap.
func (e *Enricher) nearbyText(el schemas.FusedElement, ocr []schemas.RawDetection) string {
	type hit struct {
		y    float64
		text string
	}
	var inside []hit
	for _, o := range ocr {
		text := strings.TrimSpace(o.Text)
		if text == "" {
			continue
		}
		if geometry.ContainsCenter(el.BBox, o.BBox) {
			inside = append(inside, hit{y: o.BBox.Center().Y, text: text})
		}
	}
	if len(inside) > 0 {
		sort.SliceStable(inside, func(i, j int) bool { return inside[i].y < inside[j].y })
		texts := make([]string, len(inside))
		for i, h := range inside {
			texts[i] = h.text
		}
		return strings.Join(texts, " ")
	}

	best := ""
	bestDist := math.Inf(1)
	for _, o := range ocr {
		text := strings.TrimSpace(o.Text)
		if text == "" {
			continue
		}
		d := geometry.Distance(el.Center, o.BBox.Center())
		if d < bestDist && d < e.maxOCRDistance {
			bestDist = d
			best = text
		}
	}
	return best
}

// NormalizeVisual turns a detector caption into a short visual description.
func NormalizeVisual(caption string) string {
	text := strings.TrimSpace(caption)
	if text == "" {
		return "UI element"
	}
	lower := strings.ToLower(text)
	for _, r := range VisualRules {
		if r.matches(lower) {
			return r.Result
		}
	}
	return leadingArticle.ReplaceAllString(text, "")
}

// Classify returns the functional type and function for a visual description.
func Classify(visual string) (schemas.ElementType, string) {
	lower := strings.ToLower(visual)
	ftype := schemas.ElementGeneric
	function := FunctionUnknown

	for _, p := range FunctionPatterns {
		if !strings.Contains(lower, p.Pattern) {
			continue
		}
		function = p.Functions[0]
		switch {
		case containsAny(lower, "button", "icon", "click"):
			ftype = schemas.ElementButton
		case hasFunction(p.Functions, "logo") || hasFunction(p.Functions, "branding"):
			ftype = schemas.ElementLogo
		case containsAny(lower, "field", "input", "bar", "box"):
			ftype = schemas.ElementInput
		case containsAny(lower, "link", "text"):
			ftype = schemas.ElementLink
		default:
			ftype = schemas.ElementButton
		}
		break
	}

	if containsAny(lower, "search", "recherch") {
		function = "search"
		if containsAny(lower, "bar", "field", "box", "input") {
			ftype = schemas.ElementInput
		} else {
			ftype = schemas.ElementButton
		}
	}
	if containsAny(lower, "close", "fermer") {
		function = "close"
		ftype = schemas.ElementButton
	}
	return ftype, function
}

func hasFunction(fns []string, name string) bool {
	for _, f := range fns {
		if f == name {
			return true
		}
	}
	return false
}

// SpatialContext names the layout zone containing center. In browser context
// zones get browser vocabulary; otherwise the raw zone name is returned.
func SpatialContext(center schemas.Point, size image.Point, context string) string {
	if size.X <= 0 || size.Y <= 0 {
		return "unknown"
	}
	w, h := float64(size.X), float64(size.Y)

	var zone string
	switch {
	case center.Y < h*0.15:
		switch {
		case center.X < w*0.25:
			zone = "top-left"
		case center.X > w*0.75:
			zone = "top-right"
		default:
			zone = "top-center"
		}
	case center.Y > h*0.85:
		zone = "bottom"
	default:
		zone = "center"
	}

	if context == contextBrowser {
		if name, ok := BrowserZones[zone]; ok {
			return name
		}
	}
	return zone
}

// Describe builds the enriched description: role phrase, visual snippet when
// not already present, nearby text, then spatial context.
func Describe(visual, nearby string, ftype schemas.ElementType, function, spatial string) string {
	var role string
	fn := strings.ToLower(function)

	switch {
	case fn == "search" || fn == "search_or_zoom":
		role = "Search"
		if fn == "search_or_zoom" {
			role = "Search/Zoom"
		}
		if ftype == schemas.ElementInput {
			role += " input field"
		} else {
			role += " button"
		}
	case fn == "close":
		role = "Close button"
		if strings.Contains(spatial, "browser controls") {
			role += " (closes current tab or window)"
		}
	case fn == "back" || fn == "previous":
		role = "Back navigation button"
	case fn == "forward" || fn == "next":
		role = "Forward navigation button"
	case ftype == schemas.ElementLogo:
		if visual != "" {
			role = visual + " (branding element, not interactive)"
		} else {
			role = "Branding/logo element"
		}
	case function != FunctionUnknown:
		name := capitalize(function)
		switch ftype {
		case schemas.ElementInput:
			role = name + " input field"
		case schemas.ElementButton:
			role = name + " button"
		case schemas.ElementLink:
			role = name + " link"
		default:
			role = fmt.Sprintf("%s %s", name, ftype)
		}
	case visual != "":
		role = visual
	default:
		role = capitalize(string(ftype))
	}

	parts := []string{role}
	if visual != "" && !strings.Contains(role, visual) {
		parts = append(parts, "("+truncate(visual, visualSnippetLen)+")")
	}
	if nearby != "" {
		parts = append(parts, "with text: "+nearby)
	}
	if spatial != "" && spatial != "unknown" {
		parts = append(parts, "in "+spatial)
	}
	return strings.TrimSpace(whitespaceRun.ReplaceAllString(strings.Join(parts, " "), " "))
}

// capitalize upper-cases the first letter and lower-cases the rest.
func capitalize(s string) string {
	if s == "" {
		return s
	}
	r := []rune(strings.ToLower(s))
	r[0] = []rune(strings.ToUpper(string(r[0])))[0]
	return string(r)
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}

// FormatForLLM renders enriched elements for the grounding prompt.
func FormatForLLM(elements []schemas.EnrichedElement, limit int) string {
	if len(elements) == 0 {
		return "No clickable elements detected."
	}
	if limit <= 0 || limit > len(elements) {
		limit = len(elements)
	}
	var sb strings.Builder
	sb.WriteString("CLICKABLE ELEMENTS:\n")
	for i, el := range elements[:limit] {
		fmt.Fprintf(&sb, "  ID %d: %s | Position: (%d, %d) | Confidence: %.2f\n",
			i, el.EnrichedDescription, int(el.Center.X), int(el.Center.Y), el.Confidence)
	}
	if rest := len(elements) - limit; rest > 0 {
		fmt.Fprintf(&sb, "  ... and %d more elements\n", rest)
	}
	return strings.TrimRight(sb.String(), "\n")
}
