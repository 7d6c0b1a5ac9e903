// Package perception turns one captured frame into a ranked, labelled list of
// addressable elements: preprocess, detect, fuse, enrich.
package perception

import (
	"context"
	"fmt"
	"image"
	"strings"
	"unicode"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/xkilldash9x/scalpel-pilot/api/schemas"
	"github.com/xkilldash9x/scalpel-pilot/internal/config"
	"github.com/xkilldash9x/scalpel-pilot/internal/perception/enrich"
	"github.com/xkilldash9x/scalpel-pilot/internal/perception/fusion"
	"github.com/xkilldash9x/scalpel-pilot/internal/perception/preprocess"
)

// TextDetector finds text regions in an image.
type TextDetector interface {
	DetectText(ctx context.Context, img image.Image) ([]schemas.RawDetection, error)
}

// UIDetector finds interactive UI regions in an image.
type UIDetector interface {
	DetectUI(ctx context.Context, img image.Image) ([]schemas.RawDetection, error)
}

// Perception is the outcome of one cycle. Element ids equal list positions
// and are only meaningful for this frame.
type Perception struct {
	Frame    preprocess.Result
	OCR      []schemas.RawDetection
	UI       []schemas.RawDetection
	Elements []schemas.EnrichedElement
}

// Symbols the UI detector already covers; OCR copies of them add noise.
var commonSymbols = map[string]bool{
	"×": true, "+": true, "−": true, "—": true, "←": true, "→": true,
	"↑": true, "↓": true, "☰": true, "⋮": true, "•": true, "*": true,
	".": true, ",": true, "!": true, "?": true, "x": true, "X": true,
}

// Perceiver runs the full perception pipeline. Detector failures degrade to
// empty detection lists; Perceive only fails when ctx is done.
type Perceiver struct {
	logger    *zap.Logger
	pre       *preprocess.Preprocessor
	text      TextDetector
	ui        UIDetector
	fuser     *fusion.Fuser
	enricher  *enrich.Enricher
	minOCR    float64
	minUI     float64
	appendOCR bool
}

// New creates a Perceiver. Either detector may be nil.
func New(cfg config.Interface, text TextDetector, ui UIDetector, logger *zap.Logger) *Perceiver {
	if logger == nil {
		logger = zap.NewNop()
	}
	pc := cfg.Perception()
	return &Perceiver{
		logger:    logger.Named("perception"),
		pre:       preprocess.New(pc),
		text:      text,
		ui:        ui,
		fuser:     fusion.New(cfg.Fusion(), logger),
		enricher:  enrich.New(cfg.Enrichment(), logger),
		minOCR:    pc.OCRMinConfidence,
		minUI:     pc.UIMinConfidence,
		appendOCR: pc.AppendOCRElements,
	}
}

// Perceive processes one frame.
func (p *Perceiver) Perceive(ctx context.Context, frame image.Image) (Perception, error) {
	if err := ctx.Err(); err != nil {
		return Perception{}, err
	}
	res := p.pre.Process(frame)

	var ocr, ui []schemas.RawDetection
	g, gctx := errgroup.WithContext(ctx)
	if p.text != nil {
		g.Go(func() error {
			dets, err := p.text.DetectText(gctx, res.Image)
			if err != nil {
				p.logger.Warn("Text detection failed, continuing without OCR", zap.Error(err))
				return nil
			}
			ocr = filterConfidence(dets, p.minOCR)
			return nil
		})
	}
	if p.ui != nil {
		g.Go(func() error {
			dets, err := p.ui.DetectUI(gctx, res.Image)
			if err != nil {
				p.logger.Warn("UI detection failed, continuing without UI elements", zap.Error(err))
				return nil
			}
			ui = filterConfidence(dets, p.minUI)
			return nil
		})
	}
	_ = g.Wait()
	if err := ctx.Err(); err != nil {
		return Perception{}, fmt.Errorf("perception interrupted: %w", err)
	}

	fused := p.fuser.Fuse(ocr, ui)
	elements := p.enricher.Enrich(fused, ocr, res.Size())
	if p.appendOCR {
		elements = appendOCRText(elements, ocr)
	}
	for i := range elements {
		elements[i].ID = i
	}

	p.logger.Debug("Perception complete",
		zap.Int("ocr", len(ocr)),
		zap.Int("ui", len(ui)),
		zap.Int("elements", len(elements)),
		zap.Float64("scale_x", res.ScaleX),
		zap.Float64("scale_y", res.ScaleY),
	)
	return Perception{Frame: res, OCR: ocr, UI: ui, Elements: elements}, nil
}

func filterConfidence(dets []schemas.RawDetection, min float64) []schemas.RawDetection {
	out := make([]schemas.RawDetection, 0, len(dets))
	for _, d := range dets {
		if d.Confidence >= min {
			out = append(out, d)
		}
	}
	return out
}

// appendOCRText adds every OCR text that is not already a standalone element
// as its own "Text:" element, so the grounding model can target text inside
// a larger detected region precisely.
func appendOCRText(elements []schemas.EnrichedElement, ocr []schemas.RawDetection) []schemas.EnrichedElement {
	standalone := make(map[schemas.BoundingBox]bool)
	for _, el := range elements {
		if el.Type == schemas.ElementText {
			standalone[el.BBox] = true
		}
	}
	for _, o := range ocr {
		text := strings.TrimSpace(o.Text)
		if !keepOCRText(text) || standalone[o.BBox] {
			continue
		}
		desc := "Text: " + text
		elements = append(elements, schemas.EnrichedElement{
			FusedElement: schemas.FusedElement{
				Label:       text,
				Description: desc,
				BBox:        o.BBox,
				Center:      o.BBox.Center(),
				Confidence:  o.Confidence,
				Type:        schemas.ElementText,
				HasText:     true,
			},
			VisualDescription:   "Text element",
			OCRNearby:           text,
			FunctionalType:      schemas.ElementText,
			Function:            "text",
			SpatialContext:      "main content",
			EnrichedDescription: desc,
		})
	}
	return elements
}

func keepOCRText(text string) bool {
	if text == "" || commonSymbols[text] {
		return false
	}
	r := []rune(text)
	return len(r) > 1 || unicode.IsDigit(r[0])
}
