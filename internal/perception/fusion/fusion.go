// Package fusion merges OCR text boxes and UI detector boxes into a single
// deduplicated, confidence ranked element list with dense ids.
package fusion

import (
	"fmt"
	"sort"
	"strings"

	"go.uber.org/zap"

	"github.com/xkilldash9x/scalpel-pilot/api/schemas"
	"github.com/xkilldash9x/scalpel-pilot/internal/config"
	"github.com/xkilldash9x/scalpel-pilot/internal/geometry"
)

// Fuser combines raw detections from independent perception sources.
// It holds no per-frame state and is safe to reuse across iterations.
type Fuser struct {
	logger       *zap.Logger
	nmsThreshold float64
}

// New creates a Fuser from the fusion configuration.
func New(cfg config.FusionConfig, logger *zap.Logger) *Fuser {
	if logger == nil {
		logger = zap.NewNop()
	}
	threshold := cfg.NMSThreshold
	if threshold <= 0 {
		threshold = config.DefaultNMSThreshold
	}
	return &Fuser{
		logger:       logger.Named("fusion"),
		nmsThreshold: threshold,
	}
}

// candidate adapts a FusedElement to geometry.Scored for suppression.
type candidate struct {
	el schemas.FusedElement
}

func (c candidate) Box() schemas.BoundingBox { return c.el.BBox }
func (c candidate) Score() float64           { return c.el.Confidence }

// Fuse runs the full pipeline: attach contained OCR text to UI boxes, keep
// unconsumed OCR as standalone text, suppress duplicates, rank by confidence
// and assign ids. Empty inputs yield an empty list.
func (f *Fuser) Fuse(ocr, ui []schemas.RawDetection) []schemas.FusedElement {
	uiElements, consumed := f.attachText(ui, ocr)

	all := make([]candidate, 0, len(ocr)+len(uiElements))
	for i, o := range ocr {
		if consumed[i] {
			continue
		}
		all = append(all, candidate{el: standaloneText(i, o)})
	}
	for _, el := range uiElements {
		all = append(all, candidate{el: el})
	}
	if len(all) == 0 {
		return []schemas.FusedElement{}
	}

	kept := geometry.NMS(all, f.nmsThreshold)
	geometry.SortByScore(kept)

	out := make([]schemas.FusedElement, len(kept))
	for i, c := range kept {
		el := c.el
		el.ID = i
		out[i] = el
	}

	f.logger.Debug("Fused detections",
		zap.Int("ocr", len(ocr)),
		zap.Int("ui", len(ui)),
		zap.Int("consumed_ocr", len(consumed)),
		zap.Int("suppressed", len(all)-len(kept)),
		zap.Int("elements", len(out)),
	)
	return out
}

// attachText builds one element per UI detection, labelling it with the OCR
// text whose centers it contains, and reports which OCR indices were used.
func (f *Fuser) attachText(ui, ocr []schemas.RawDetection) ([]schemas.FusedElement, map[int]bool) {
	consumed := make(map[int]bool)
	out := make([]schemas.FusedElement, 0, len(ui))

	for uiIdx, u := range ui {
		var inside []int
		for ocrIdx, o := range ocr {
			if strings.TrimSpace(o.Text) == "" {
				continue
			}
			if geometry.ContainsCenter(u.BBox, o.BBox) {
				inside = append(inside, ocrIdx)
			}
		}
		sort.SliceStable(inside, func(i, j int) bool {
			return ocr[inside[i]].BBox.Center().Y < ocr[inside[j]].BBox.Center().Y
		})

		el := schemas.FusedElement{
			BBox:       u.BBox,
			Center:     u.BBox.Center(),
			Confidence: u.Confidence,
			Type:       schemas.ElementUI,
			Caption:    u.Caption,
			SourceIDs:  inside,
		}

		if len(inside) > 0 {
			texts := make([]string, 0, len(inside))
			for _, idx := range inside {
				texts = append(texts, strings.TrimSpace(ocr[idx].Text))
				consumed[idx] = true
			}
			combined := strings.Join(texts, " ")
			el.Label = combined
			el.Description = fmt.Sprintf("%s: %s", textShapeName(u.BBox), combined)
			el.HasText = true
		} else {
			name := bareShapeName(u.BBox)
			el.Label = fmt.Sprintf("%s_%d", strings.ReplaceAll(name, " ", "_"), uiIdx)
			el.Description = fmt.Sprintf("%s %dx%dpx", name, u.BBox.W, u.BBox.H)
		}
		out = append(out, el)
	}
	return out, consumed
}

func standaloneText(idx int, o schemas.RawDetection) schemas.FusedElement {
	text := strings.TrimSpace(o.Text)
	return schemas.FusedElement{
		Label:       text,
		Description: text,
		BBox:        o.BBox,
		Center:      o.BBox.Center(),
		Confidence:  o.Confidence,
		Type:        schemas.ElementText,
		HasText:     true,
		SourceIDs:   []int{idx},
	}
}

// textShapeName names a UI box that carries text.
func textShapeName(b schemas.BoundingBox) string {
	area := b.Area()
	switch {
	case b.W < b.H*2 && area < 10000:
		return "Button"
	case b.W > b.H*3:
		return "Bar"
	case area > 50000:
		return "Panel"
	}
	return "Element"
}

// bareShapeName names a UI box with no text by aspect ratio and area.
func bareShapeName(b schemas.BoundingBox) string {
	ratio := 1.0
	if b.H > 0 {
		ratio = float64(b.W) / float64(b.H)
	}
	area := b.Area()
	switch {
	case ratio > 3:
		return "horizontal bar"
	case ratio < 0.33:
		return "vertical bar"
	case ratio > 0.8 && ratio < 1.2 && area < 5000:
		return "icon"
	case area < 2000:
		return "small button"
	case area < 10000:
		return "button"
	case area < 50000:
		return "UI zone"
	}
	return "large panel"
}
