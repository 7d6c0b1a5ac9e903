package schemas

import "fmt"

// -- Perception Schemas --

// BoundingBox is an integer pixel rectangle in a single image coordinate frame.
// W and H are never negative.
type BoundingBox struct {
	X int `json:"x" yaml:"x"`
	Y int `json:"y" yaml:"y"`
	W int `json:"w" yaml:"w"`
	H int `json:"h" yaml:"h"`
}

// NewBoundingBox builds a box, clamping negative dimensions to zero.
func NewBoundingBox(x, y, w, h int) BoundingBox {
	if w < 0 {
		w = 0
	}
	if h < 0 {
		h = 0
	}
	return BoundingBox{X: x, Y: y, W: w, H: h}
}

// Center returns the geometric center of the box.
func (b BoundingBox) Center() Point {
	return Point{X: float64(b.X) + float64(b.W)/2, Y: float64(b.Y) + float64(b.H)/2}
}

// Area returns w*h.
func (b BoundingBox) Area() int { return b.W * b.H }

// Right returns the exclusive right edge.
func (b BoundingBox) Right() int { return b.X + b.W }

// Bottom returns the exclusive bottom edge.
func (b BoundingBox) Bottom() int { return b.Y + b.H }

// String renders the box as [x,y,w,h].
func (b BoundingBox) String() string {
	return fmt.Sprintf("[%d,%d,%d,%d]", b.X, b.Y, b.W, b.H)
}

// Point is a sub-pixel position.
type Point struct {
	X float64 `json:"x" yaml:"x"`
	Y float64 `json:"y" yaml:"y"`
}

// DetectionSource identifies which perception adapter produced a detection.
type DetectionSource string

const (
	SourceOCR        DetectionSource = "ocr"
	SourceUIDetector DetectionSource = "ui_detector"
)

// RawDetection is the output of one perception source. It is treated as
// immutable once produced.
type RawDetection struct {
	Text       string          `json:"text,omitempty"`
	BBox       BoundingBox     `json:"bbox"`
	Confidence float64         `json:"confidence"`
	Source     DetectionSource `json:"source"`
	Caption    string          `json:"caption,omitempty"`
}

// ElementType is the coarse kind of a fused element.
type ElementType string

const (
	ElementText    ElementType = "text"
	ElementUI      ElementType = "ui_element"
	ElementInput   ElementType = "input"
	ElementButton  ElementType = "button"
	ElementLink    ElementType = "link"
	ElementLogo    ElementType = "logo"
	ElementGeneric ElementType = "element"
)

// FusedElement is one addressable element after fusion. IDs are dense and
// 0-based within a single perception cycle and carry no meaning across cycles.
type FusedElement struct {
	ID          int         `json:"id"`
	Label       string      `json:"label"`
	Description string      `json:"description"`
	BBox        BoundingBox `json:"bbox"`
	Center      Point       `json:"center"`
	Confidence  float64     `json:"confidence"`
	Type        ElementType `json:"type"`
	HasText     bool        `json:"has_text"`
	// Caption is the raw detector caption, carried through for enrichment.
	Caption   string `json:"caption,omitempty"`
	SourceIDs []int  `json:"source_ids,omitempty"`
}

// EnrichedElement adds semantic labels to a FusedElement.
type EnrichedElement struct {
	FusedElement
	VisualDescription   string      `json:"visual_description"`
	OCRNearby           string      `json:"ocr_nearby,omitempty"`
	FunctionalType      ElementType `json:"functional_type"`
	Function            string      `json:"function"`
	SpatialContext      string      `json:"spatial_context"`
	EnrichedDescription string      `json:"enriched_description"`
}

// ChangeType classifies the difference between two consecutive frames.
type ChangeType string

const (
	ChangeNone        ChangeType = "none"
	ChangePopup       ChangeType = "popup"
	ChangeStateChange ChangeType = "state_change"
	ChangeNewWindow   ChangeType = "new_window"
	ChangeMinor       ChangeType = "minor"
)

// ChangeReport is derived from exactly two consecutive frames.
type ChangeReport struct {
	Changed       bool          `json:"changed"`
	ChangePercent float64       `json:"change_percent"`
	ChangeType    ChangeType    `json:"change_type"`
	ChangeAreas   []BoundingBox `json:"change_areas"`
}
