package fusion

import (
	"fmt"
	"strings"

	"github.com/xkilldash9x/scalpel-pilot/api/schemas"
	"github.com/xkilldash9x/scalpel-pilot/internal/geometry"
)

// FindByText returns elements whose label or description contains text,
// case-insensitively, in list order.
func FindByText(elements []schemas.FusedElement, text string) []schemas.FusedElement {
	needle := strings.ToLower(strings.TrimSpace(text))
	if needle == "" {
		return nil
	}
	var out []schemas.FusedElement
	for _, el := range elements {
		if strings.Contains(strings.ToLower(el.Label), needle) ||
			strings.Contains(strings.ToLower(el.Description), needle) {
			out = append(out, el)
		}
	}
	return out
}

// FindInRegion returns elements whose center lies inside region.
func FindInRegion(elements []schemas.FusedElement, region schemas.BoundingBox) []schemas.FusedElement {
	var out []schemas.FusedElement
	for _, el := range elements {
		if geometry.ContainsPoint(region, el.Center) {
			out = append(out, el)
		}
	}
	return out
}

// GetByID looks an element up by its per-frame id.
func GetByID(elements []schemas.FusedElement, id int) (schemas.FusedElement, bool) {
	for _, el := range elements {
		if el.ID == id {
			return el, true
		}
	}
	return schemas.FusedElement{}, false
}

// FormatForLLM renders up to limit elements, one per line.
func FormatForLLM(elements []schemas.FusedElement, limit int) string {
	if len(elements) == 0 {
		return "No clickable elements detected."
	}
	if limit <= 0 || limit > len(elements) {
		limit = len(elements)
	}
	var sb strings.Builder
	sb.WriteString("DETECTED ELEMENTS:\n")
	for _, el := range elements[:limit] {
		desc := el.Description
		if desc == "" {
			desc = el.Label
		}
		fmt.Fprintf(&sb, "[%d] %s: %s (conf %.2f) at (%d,%d)\n",
			el.ID, el.Type, desc, el.Confidence, int(el.Center.X), int(el.Center.Y))
	}
	if rest := len(elements) - limit; rest > 0 {
		fmt.Fprintf(&sb, "... and %d more elements\n", rest)
	}
	return strings.TrimRight(sb.String(), "\n")
}
