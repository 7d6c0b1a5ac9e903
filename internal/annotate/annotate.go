// Package annotate draws numbered element boxes onto a frame for the
// grounding model. Label N always refers to list position N.
package annotate

import (
	"bytes"
	"fmt"
	"image"
	"image/color"
	"image/draw"
	"image/png"
	"strconv"

	"go.uber.org/zap"
	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"

	"github.com/xkilldash9x/scalpel-pilot/api/schemas"
	"github.com/xkilldash9x/scalpel-pilot/internal/geometry"
)

// Palette is the rotating box and label color set, dark enough for a white
// numeral to stay legible.
var Palette = []color.RGBA{
	{150, 30, 150, 255},
	{150, 70, 0, 255},
	{30, 70, 150, 255},
	{30, 100, 30, 255},
	{150, 30, 70, 255},
	{0, 100, 100, 255},
	{100, 100, 0, 255},
	{100, 0, 100, 255},
	{150, 100, 50, 255},
	{100, 50, 150, 255},
}

const (
	collisionTolerance = 2
	fillPadding        = 2
	outlinePadding     = fillPadding + 1
	edgeMargin         = 2
)

// Position names where a label was placed relative to its box.
type Position string

const (
	Above Position = "above"
	Below Position = "below"
	Left  Position = "left"
	Right Position = "right"
)

// Placement is the chosen label location for one element.
type Placement struct {
	Index    int
	Position Position
	// Rect is the candidate label rectangle used for collision checks.
	Rect schemas.BoundingBox
	// Baseline is the clamped text origin.
	Baseline image.Point
}

var (
	white = color.RGBA{255, 255, 255, 255}
	black = color.RGBA{0, 0, 0, 255}
)

// Annotator renders labels with a fixed bitmap face.
type Annotator struct {
	face   font.Face
	logger *zap.Logger
}

// New creates an Annotator.
func New(logger *zap.Logger) *Annotator {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Annotator{face: basicfont.Face7x13, logger: logger.Named("annotate")}
}

func (a *Annotator) textSize(s string) (w, h, descent int) {
	m := a.face.Metrics()
	return font.MeasureString(a.face, s).Ceil(), m.Ascent.Ceil(), m.Descent.Ceil()
}

// Placements computes label positions without drawing. Labels are placed in
// index order and a candidate must also clear the labels placed before it.
func (a *Annotator) Placements(size image.Point, elements []schemas.EnrichedElement) []Placement {
	out := make([]Placement, len(elements))
	for i, el := range elements {
		out[i] = a.place(size, i, el.BBox, elements, out[:i])
	}
	return out
}

func (a *Annotator) place(size image.Point, idx int, b schemas.BoundingBox, all []schemas.EnrichedElement, placed []Placement) Placement {
	tw, th, _ := a.textSize(strconv.Itoa(idx))
	candidates := []struct {
		pos  Position
		x, y int
	}{
		{Above, b.X + (b.W-tw)/2, b.Y - 5 - th},
		{Below, b.X + (b.W-tw)/2, b.Bottom() + 2},
		{Left, b.X - tw - 2, b.Y + (b.H-th)/2},
		{Right, b.Right() + 2, b.Y + (b.H-th)/2},
	}

	chosen := Placement{
		Index:    idx,
		Position: Above,
		Rect:     schemas.BoundingBox{X: candidates[0].x, Y: candidates[0].y, W: tw, H: th + 5},
	}
	baseX, baseY := b.X+(b.W-tw)/2, b.Y-5

	for _, c := range candidates {
		rect := schemas.BoundingBox{X: c.x, Y: c.y, W: tw, H: th + 5}
		if !inside(rect, size) || collides(rect, idx, all) || hitsLabel(rect, placed) {
			continue
		}
		chosen.Position = c.pos
		chosen.Rect = rect
		baseX, baseY = c.x, c.y+th
		break
	}

	baseX = max(edgeMargin, min(baseX, size.X-tw-edgeMargin))
	baseY = max(th+edgeMargin, min(baseY, size.Y-edgeMargin))
	chosen.Baseline = image.Pt(baseX, baseY)
	return chosen
}

func inside(r schemas.BoundingBox, size image.Point) bool {
	return r.X >= 0 && r.Y >= 0 && r.Right() <= size.X && r.Bottom() <= size.Y
}

func collides(rect schemas.BoundingBox, self int, all []schemas.EnrichedElement) bool {
	for j, other := range all {
		if j != self && geometry.Overlaps(rect, other.BBox, collisionTolerance) {
			return true
		}
	}
	return false
}

func hitsLabel(rect schemas.BoundingBox, placed []Placement) bool {
	for _, p := range placed {
		if geometry.Overlaps(rect, p.Rect, 0) {
			return true
		}
	}
	return false
}

// Annotate returns a new image with boxes and labels drawn, plus the element
// list unchanged. img is not modified.
func (a *Annotator) Annotate(img image.Image, elements []schemas.EnrichedElement) (*image.RGBA, []schemas.EnrichedElement) {
	b := img.Bounds()
	dst := image.NewRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))
	draw.Draw(dst, dst.Bounds(), img, b.Min, draw.Src)

	size := dst.Bounds().Size()
	for i, el := range elements {
		c := Palette[i%len(Palette)]
		strokeRect(dst, geometry.Clamp(el.BBox, size.X, size.Y), c)
	}
	for _, p := range a.Placements(size, elements) {
		a.drawLabel(dst, p, Palette[p.Index%len(Palette)])
	}

	a.logger.Debug("Annotated frame", zap.Int("elements", len(elements)))
	return dst, elements
}

func (a *Annotator) drawLabel(dst *image.RGBA, p Placement, fill color.RGBA) {
	text := strconv.Itoa(p.Index)
	tw, th, descent := a.textSize(text)
	x, y := p.Baseline.X, p.Baseline.Y

	fillRect(dst, image.Rect(x-outlinePadding, y-th-outlinePadding, x+tw+outlinePadding, y+descent+outlinePadding), white)
	fillRect(dst, image.Rect(x-fillPadding, y-th-fillPadding, x+tw+fillPadding, y+descent+fillPadding), fill)

	for dx := -1; dx <= 1; dx++ {
		for dy := -1; dy <= 1; dy++ {
			if dx != 0 || dy != 0 {
				a.drawText(dst, text, x+dx, y+dy, black)
			}
		}
	}
	a.drawText(dst, text, x, y, white)
}

func (a *Annotator) drawText(dst *image.RGBA, text string, x, y int, c color.Color) {
	d := font.Drawer{
		Dst:  dst,
		Src:  image.NewUniform(c),
		Face: a.face,
		Dot:  fixed.P(x, y),
	}
	d.DrawString(text)
}

func fillRect(dst *image.RGBA, r image.Rectangle, c color.Color) {
	draw.Draw(dst, r.Intersect(dst.Bounds()), image.NewUniform(c), image.Point{}, draw.Src)
}

// strokeRect draws a one pixel outline.
func strokeRect(dst *image.RGBA, b schemas.BoundingBox, c color.RGBA) {
	if b.W <= 0 || b.H <= 0 {
		return
	}
	x0, y0, x1, y1 := b.X, b.Y, b.Right()-1, b.Bottom()-1
	for x := x0; x <= x1; x++ {
		dst.SetRGBA(x, y0, c)
		dst.SetRGBA(x, y1, c)
	}
	for y := y0; y <= y1; y++ {
		dst.SetRGBA(x0, y, c)
		dst.SetRGBA(x1, y, c)
	}
}

// EncodePNG serializes an annotated frame for the grounding oracle.
func EncodePNG(img image.Image) ([]byte, error) {
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return nil, fmt.Errorf("failed to encode annotated frame: %w", err)
	}
	return buf.Bytes(), nil
}

// Zone names a horizontal band the planner can ask the grounding step to
// focus on.
type Zone string

const (
	ZoneFull    Zone = "full"
	ZoneToolbar Zone = "browser_toolbar"
	ZoneContent Zone = "content"
	ZoneFooter  Zone = "footer"
)

// CropZone returns the sub-image for zone and its offset in the full frame.
// Unknown zones return the whole image.
func CropZone(img *image.RGBA, zone Zone) (*image.RGBA, image.Point) {
	b := img.Bounds()
	h := b.Dy()
	var r image.Rectangle
	switch zone {
	case ZoneToolbar:
		r = image.Rect(b.Min.X, b.Min.Y, b.Max.X, b.Min.Y+h*15/100)
	case ZoneContent:
		r = image.Rect(b.Min.X, b.Min.Y+h*10/100, b.Max.X, b.Min.Y+h*90/100)
	case ZoneFooter:
		r = image.Rect(b.Min.X, b.Min.Y+h*90/100, b.Max.X, b.Max.Y)
	default:
		return img, image.Point{}
	}
	if r.Empty() {
		return img, image.Point{}
	}
	sub := img.SubImage(r).(*image.RGBA)
	return sub, r.Min.Sub(b.Min)
}
